// Package delivery sends resolver replies back to a chat surface: chunking,
// media with captions, retry on transient failures, and echo recording.
package delivery

import (
	"context"

	"github.com/roelfdiedericks/clawrelay/internal/media"
)

// SendOptions carries per-send metadata.
type SendOptions struct {
	ReplyToID string // Platform message id to quote, if supported
}

// Sender is the outbound side of a surface.
type Sender interface {
	// SendText sends one text message and returns the platform message id.
	SendText(ctx context.Context, to, text string, opts SendOptions) (string, error)
	// SendMedia uploads and sends one attachment with an optional caption.
	SendMedia(ctx context.Context, to string, m *media.Loaded, caption string, opts SendOptions) (string, error)
}

// Presence is implemented by senders that can show a typing indicator.
type Presence interface {
	SendComposing(ctx context.Context, to string) error
}

// MediaLoader resolves a media reference into bytes.
type MediaLoader interface {
	Load(ctx context.Context, ref string) (*media.Loaded, error)
}

// WireFormatter is implemented by senders that rewrite text before sending
// it. The engine records the rewritten form, which is what comes back as an
// echo.
type WireFormatter interface {
	WireText(text string) string
}

// Recorder remembers bodies we sent so their echoes can be dropped.
type Recorder interface {
	RecordSent(body string)
}

// SendComposing shows a typing indicator if s supports it.
func SendComposing(ctx context.Context, s Sender, to string) error {
	if p, ok := s.(Presence); ok {
		return p.SendComposing(ctx, to)
	}
	return nil
}
