// Package grouphistory buffers group messages that did not trigger a reply,
// so the next reply can catch up on what was said in between.
package grouphistory

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// DefaultLimit is the per-conversation cap.
const DefaultLimit = 50

// Context block headers.
const (
	ContextHeader = "[Chat messages since your last reply - for context]"
	CurrentHeader = "[Current message - respond to this]"
)

// Entry is one buffered message.
type Entry struct {
	Seq       uint64
	Sender    string
	Body      string
	Timestamp time.Time
}

// Buffer holds bounded per-conversation histories.
type Buffer struct {
	mu    sync.Mutex
	limit int
	seq   uint64
	convs map[string][]Entry
}

// New returns a Buffer capped at limit entries per conversation
// (DefaultLimit if limit <= 0).
func New(limit int) *Buffer {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Buffer{limit: limit, convs: make(map[string][]Entry)}
}

// Append adds e to the conversation, evicting the oldest entries past the
// cap, and returns the sequence number assigned to it.
func (b *Buffer) Append(conv string, e Entry) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	e.Seq = b.seq
	entries := append(b.convs[conv], e)
	if over := len(entries) - b.limit; over > 0 {
		entries = append([]Entry(nil), entries[over:]...)
	}
	b.convs[conv] = entries
	return e.Seq
}

// Snapshot returns a copy of the conversation's entries, oldest first.
func (b *Buffer) Snapshot(conv string) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Entry(nil), b.convs[conv]...)
}

// ClearThrough drops entries with Seq <= seq. Entries appended after the
// snapshot a reply was built from survive.
func (b *Buffer) ClearThrough(conv string, seq uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.convs[conv]
	keep := entries[:0]
	for _, e := range entries {
		if e.Seq > seq {
			keep = append(keep, e)
		}
	}
	if len(keep) == 0 {
		delete(b.convs, conv)
		return
	}
	b.convs[conv] = keep
}

// Len returns the number of buffered entries for a conversation.
func (b *Buffer) Len(conv string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.convs[conv])
}

// Render formats the catch-up block for prior entries. Empty when there are none.
func Render(entries []Entry) string {
	if len(entries) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(ContextHeader)
	sb.WriteString("\n")
	for _, e := range entries {
		sb.WriteString(formatLine(e))
		sb.WriteString("\n")
	}
	return sb.String()
}

// Compose joins the catch-up block and the current message.
// With no prior entries the current message is returned unchanged.
func Compose(prior []Entry, current string) string {
	block := Render(prior)
	if block == "" {
		return current
	}
	return block + "\n" + CurrentHeader + "\n" + current
}

func formatLine(e Entry) string {
	if e.Timestamp.IsZero() {
		return fmt.Sprintf("%s: %s", e.Sender, e.Body)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Timestamp.Format("15:04"), e.Sender, e.Body)
}

// TrimToBudget keeps the newest entries whose rendered lines fit within
// budget as measured by count. A budget of zero or less keeps everything.
func TrimToBudget(entries []Entry, budget int, count func(string) int) []Entry {
	if budget <= 0 || count == nil {
		return entries
	}
	used := count(ContextHeader)
	start := len(entries)
	for i := len(entries) - 1; i >= 0; i-- {
		n := count(formatLine(entries[i]))
		if used+n > budget {
			break
		}
		used += n
		start = i
	}
	return entries[start:]
}
