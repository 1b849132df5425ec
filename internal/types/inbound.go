// Package types contains shared types used across multiple packages.
package types

import (
	"time"
)

// ChatType distinguishes one-to-one chats from group conversations.
type ChatType string

const (
	ChatDirect ChatType = "direct"
	ChatGroup  ChatType = "group"
)

// InboundMessage is one received message, normalized across surfaces.
// Listener adapters build it once per received frame; it is passed by value
// and never mutated afterwards.
type InboundMessage struct {
	// === Identity ===
	ID        string    // Platform message id
	Surface   string    // "whatsapp", "telegram", "clichat"
	Timestamp time.Time // When the platform says the message was sent

	// === Routing ===
	From           string   // Conversation/sender identifier replies go to
	To             string   // Recipient identity (our own address)
	ChatType       ChatType // direct or group
	ConversationID string   // Stable id of the conversation (group jid, chat id)
	GroupSubject   string   // Group name, when known

	// === Sender ===
	SenderE164 string // Sender phone number in E.164, when known
	SenderName string // Display name
	SenderJID  string // Platform-native sender address
	SenderUser string // Handle without "@", on surfaces that have one
	FromMe     bool   // Sent by our own account (self-chat)

	// === Content ===
	Body         string
	MentionedIDs []string // Platform identities tagged in the message

	// === Quoted message context ===
	ReplyToID     string
	ReplyToBody   string
	ReplyToSender string

	// === Media ===
	MediaType string // MIME type of the downloaded attachment
	MediaPath string // Local path of the downloaded attachment
}

// IsGroup reports whether the message arrived in a group conversation.
func (m InboundMessage) IsGroup() bool {
	return m.ChatType == ChatGroup
}

// SenderLabel returns the best human-readable sender description.
func (m InboundMessage) SenderLabel() string {
	switch {
	case m.SenderName != "" && m.SenderE164 != "":
		return m.SenderName + " (" + m.SenderE164 + ")"
	case m.SenderName != "":
		return m.SenderName
	case m.SenderE164 != "":
		return m.SenderE164
	case m.SenderJID != "":
		return m.SenderJID
	default:
		return m.From
	}
}

// Identity is our own address on a surface, learned after connecting.
type Identity struct {
	E164 string // Own phone number, when the surface has one
	JID  string // Platform-native address (jid, bot username, account id)
	Name string // Display name (bot username, push name)
}

// Envelope is the normalized representation of an inbound turn plus routing
// metadata, passed to the reply resolver.
type Envelope struct {
	ID             string // Unique id for this turn
	Surface        string
	SessionKey     string // "whatsapp:group:<jid>", "telegram:dm:<id>", ...
	ConversationID string
	ChatType       ChatType
	From           string
	Text           string // Fully composed prompt text (header, context, body)
	Message        InboundMessage
	ReceivedAt     time.Time
}
