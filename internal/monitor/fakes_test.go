package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/roelfdiedericks/clawrelay/internal/delivery"
	"github.com/roelfdiedericks/clawrelay/internal/media"
	"github.com/roelfdiedericks/clawrelay/internal/resolver"
	"github.com/roelfdiedericks/clawrelay/internal/types"
)

var testSelf = types.Identity{E164: "+15550001111", JID: "15550001111@s.whatsapp.net"}

type fakeListener struct {
	self      types.Identity
	closed    chan DisconnectReason
	closeOnce sync.Once
	sent      chan string

	mu         sync.Mutex
	texts      []string
	signalled  []DisconnectReason
	closeCalls int
}

func newFakeListener(self types.Identity) *fakeListener {
	return &fakeListener{
		self:   self,
		closed: make(chan DisconnectReason, 1),
		sent:   make(chan string, 64),
	}
}

func (l *fakeListener) SendText(ctx context.Context, to, text string, opts delivery.SendOptions) (string, error) {
	l.mu.Lock()
	l.texts = append(l.texts, text)
	l.mu.Unlock()
	l.sent <- text
	return "out-1", nil
}

func (l *fakeListener) SendMedia(ctx context.Context, to string, m *media.Loaded, caption string, opts delivery.SendOptions) (string, error) {
	return "", errors.New("media not supported by fake")
}

func (l *fakeListener) Identity() types.Identity { return l.self }

func (l *fakeListener) Closed() <-chan DisconnectReason { return l.closed }

func (l *fakeListener) fire(r DisconnectReason) {
	l.closeOnce.Do(func() { l.closed <- r })
}

func (l *fakeListener) SignalClose(r DisconnectReason) {
	l.mu.Lock()
	l.signalled = append(l.signalled, r)
	l.mu.Unlock()
	l.fire(r)
}

func (l *fakeListener) Close() error {
	l.mu.Lock()
	l.closeCalls++
	l.mu.Unlock()
	return nil
}

func (l *fakeListener) Texts() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.texts...)
}

// fakeFactory hands out fakeListeners. The first closeFirst listeners
// close immediately with closeReason; closeAfter closes every listener
// after a delay instead.
type fakeFactory struct {
	closeFirst  int
	closeReason DisconnectReason
	closeAfter  time.Duration
	err         error

	mu        sync.Mutex
	calls     int
	listeners []*fakeListener
	handler   MessageHandler
	connected chan *fakeListener
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		closeReason: DisconnectReason{Status: 500, Error: "stream closed"},
		connected:   make(chan *fakeListener, 64),
	}
}

func (f *fakeFactory) factory(ctx context.Context, onMessage MessageHandler) (Listener, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	l := newFakeListener(testSelf)
	f.listeners = append(f.listeners, l)
	f.handler = onMessage
	if f.calls <= f.closeFirst {
		l.fire(f.closeReason)
	} else if f.closeAfter > 0 {
		time.AfterFunc(f.closeAfter, func() { l.fire(f.closeReason) })
	}
	select {
	case f.connected <- l:
	default:
	}
	return l, nil
}

func (f *fakeFactory) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeFactory) Listener(i int) *fakeListener {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listeners[i]
}

func (f *fakeFactory) Handler() MessageHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handler
}

type fakeResolver struct {
	mu    sync.Mutex
	envs  []types.Envelope
	reply func(ctx context.Context, env types.Envelope, hooks resolver.Hooks) ([]types.ReplyPayload, error)
}

func (r *fakeResolver) Name() string { return "fake" }

func (r *fakeResolver) Resolve(ctx context.Context, env types.Envelope, hooks resolver.Hooks) ([]types.ReplyPayload, error) {
	r.mu.Lock()
	r.envs = append(r.envs, env)
	reply := r.reply
	r.mu.Unlock()
	if reply == nil {
		return []types.ReplyPayload{{Text: "reply to " + env.Message.Body}}, nil
	}
	return reply(ctx, env, hooks)
}

func (r *fakeResolver) Envelopes() []types.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.Envelope(nil), r.envs...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func receive(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a send")
		return ""
	}
}
