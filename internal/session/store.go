// Package session persists per-conversation relay state: activation mode,
// last reply route, last activity, and connection heartbeat snapshots.
package session

import (
	"context"
	"strings"
	"time"

	"github.com/roelfdiedericks/clawrelay/internal/types"
)

// MemoryPath selects the in-memory store.
const MemoryPath = ":memory:"

// Store is the interface for session storage backends.
// Implementations: SQLiteStore (primary), MemoryStore (tests, ":memory:").
// Writes are last-writer-wins.
type Store interface {
	// Activation mode per conversation ("" when never set)
	GetActivation(ctx context.Context, key string) (string, error)
	SetActivation(ctx context.Context, key, mode string) error

	// Where the last reply in a conversation went
	GetLastRoute(ctx context.Context, key string) (*Route, error)
	SetLastRoute(ctx context.Context, key string, route Route) error

	// Last inbound activity
	Touch(ctx context.Context, key string, at time.Time) error

	// Connection health snapshots, latest per surface
	RecordHeartbeat(ctx context.Context, hb Heartbeat) error
	LastHeartbeat(ctx context.Context, surface string) (*Heartbeat, error)

	ListSessions(ctx context.Context) ([]Info, error)

	// Prune removes sessions with no activity since before
	Prune(ctx context.Context, before time.Time) (int, error)

	Close() error
}

// Route is the destination of the last delivered reply.
type Route struct {
	Surface        string    `json:"surface"`
	To             string    `json:"to"`
	ConversationID string    `json:"conversationId,omitempty"`
	MessageID      string    `json:"messageId,omitempty"`
	At             time.Time `json:"at"`
}

// Heartbeat is a connection health snapshot.
type Heartbeat struct {
	Surface           string    `json:"surface"`
	Connected         bool      `json:"connected"`
	Uptime            int64     `json:"uptimeSeconds"`
	MessagesHandled   int64     `json:"messagesHandled"`
	ReconnectAttempts int       `json:"reconnectAttempts"`
	LastMessageAt     time.Time `json:"lastMessageAt,omitempty"`
	At                time.Time `json:"at"`
}

// Info is a session summary for listing.
type Info struct {
	Key           string
	Activation    string
	LastMessageAt time.Time
	UpdatedAt     time.Time
	LastRoute     *Route
}

// Key builds the session key for a conversation:
// "<surface>:group:<conversation>" or "<surface>:dm:<peer>".
func Key(surface string, chatType types.ChatType, conversationID string) string {
	kind := "dm"
	if chatType == types.ChatGroup {
		kind = "group"
	}
	return strings.ToLower(surface) + ":" + kind + ":" + conversationID
}

// Open returns the store for path; MemoryPath selects the in-memory store.
func Open(path string) (Store, error) {
	if path == MemoryPath {
		return NewMemoryStore(), nil
	}
	return NewSQLiteStore(path)
}
