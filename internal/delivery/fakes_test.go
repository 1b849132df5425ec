package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/roelfdiedericks/clawrelay/internal/media"
)

type sentMsg struct {
	kind    string // "text" or "media"
	to      string
	body    string // text or caption
	ref     string
	replyTo string
}

// fakeSender records sends and fails according to a script of errors
// consumed in order (nil entries succeed).
type fakeSender struct {
	mu        sync.Mutex
	sent      []sentMsg
	textErrs  []error
	mediaErrs []error
	calls     int
}

func (f *fakeSender) SendText(ctx context.Context, to, text string, opts SendOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.textErrs) > 0 {
		err := f.textErrs[0]
		f.textErrs = f.textErrs[1:]
		if err != nil {
			return "", err
		}
	}
	f.sent = append(f.sent, sentMsg{kind: "text", to: to, body: text, replyTo: opts.ReplyToID})
	return fmt.Sprintf("id-%d", len(f.sent)), nil
}

func (f *fakeSender) SendMedia(ctx context.Context, to string, m *media.Loaded, caption string, opts SendOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.mediaErrs) > 0 {
		err := f.mediaErrs[0]
		f.mediaErrs = f.mediaErrs[1:]
		if err != nil {
			return "", err
		}
	}
	f.sent = append(f.sent, sentMsg{kind: "media", to: to, body: caption, ref: m.Source, replyTo: opts.ReplyToID})
	return fmt.Sprintf("id-%d", len(f.sent)), nil
}

// markdownSender rewrites **bold** to *bold* like a web messaging surface.
type markdownSender struct {
	fakeSender
}

func (m *markdownSender) WireText(text string) string {
	return strings.ReplaceAll(text, "**", "*")
}

type fakeLoader struct {
	fail map[string]bool
}

func (l *fakeLoader) Load(ctx context.Context, ref string) (*media.Loaded, error) {
	if l.fail[ref] {
		return nil, errors.New("404 not found")
	}
	return &media.Loaded{Data: []byte("x"), MimeType: "image/png", Kind: media.KindImage, Source: ref, FileName: "x.png"}, nil
}

type recorder struct {
	bodies []string
}

func (r *recorder) RecordSent(body string) { r.bodies = append(r.bodies, body) }
