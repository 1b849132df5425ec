package resolver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/roelfdiedericks/clawrelay/internal/config"
	"github.com/roelfdiedericks/clawrelay/internal/types"
)

func envelope(body string) types.Envelope {
	return types.Envelope{
		ID:         "env-1",
		Surface:    "whatsapp",
		SessionKey: "whatsapp:dm:+15550001111",
		Text:       body,
		Message:    types.InboundMessage{ID: "m1", Body: body},
		ReceivedAt: time.Now(),
	}
}

func TestPayloadsFromText(t *testing.T) {
	if got := PayloadsFromText("   "); got != nil {
		t.Errorf("blank output = %+v", got)
	}
	got := PayloadsFromText("Here you go\nMEDIA: https://example.com/cat.png")
	if len(got) != 1 || got[0].Text != "Here you go" {
		t.Fatalf("payloads = %+v", got)
	}
	if media := got[0].Media(); len(media) != 1 || media[0] != "https://example.com/cat.png" {
		t.Errorf("media = %v", media)
	}
}

func TestEcho(t *testing.T) {
	started := false
	hooks := Hooks{OnReplyStart: func(context.Context) { started = true }}
	got, err := Echo{}.Resolve(context.Background(), envelope("hello"), hooks)
	if err != nil {
		t.Fatal(err)
	}
	if !started {
		t.Error("OnReplyStart not called")
	}
	if len(got) != 1 || got[0].Text != "echo: hello" || got[0].ReplyToID != "m1" {
		t.Errorf("payloads = %+v", got)
	}
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "resolver.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0700); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCommandStreamsToolResultsAndFinals(t *testing.T) {
	script := writeScript(t, `cat > /dev/null
echo '{"kind":"tool","text":"looking it up"}'
echo '{"text":"final answer","replyToId":"m1"}'
echo 'plain tail'
`)
	c, err := NewCommand(script, nil)
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var tools []types.ReplyPayload
	hooks := Hooks{OnToolResult: func(_ context.Context, p types.ReplyPayload) {
		mu.Lock()
		tools = append(tools, p)
		mu.Unlock()
	}}

	finals, err := c.Resolve(context.Background(), envelope("q"), hooks)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(tools) != 1 || tools[0].Text != "looking it up" {
		t.Errorf("tool results = %+v", tools)
	}
	if len(finals) != 2 || finals[0].Text != "final answer" || finals[1].Text != "plain tail" {
		t.Errorf("finals = %+v", finals)
	}
}

func TestCommandReceivesEnvelope(t *testing.T) {
	script := writeScript(t, `cat`)
	c, _ := NewCommand(script, nil)
	finals, err := c.Resolve(context.Background(), envelope("ping"), Hooks{})
	if err != nil {
		t.Fatal(err)
	}
	// The envelope object echoes back as a final payload whose text field
	// is the envelope text.
	if len(finals) != 1 || finals[0].Text != "ping" {
		t.Errorf("finals = %+v", finals)
	}
}

func TestCommandFailure(t *testing.T) {
	script := writeScript(t, "cat > /dev/null\necho boom >&2\nexit 3\n")
	c, _ := NewCommand(script, nil)
	_, err := c.Resolve(context.Background(), envelope("x"), Hooks{})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestNewProviders(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("XAI_API_KEY", "")

	tests := []struct {
		cfg     config.ResolverConfig
		wantErr bool
		name    string
	}{
		{config.ResolverConfig{Provider: "echo"}, false, "echo"},
		{config.ResolverConfig{Provider: ""}, false, "echo"},
		{config.ResolverConfig{Provider: "anthropic"}, true, ""},
		{config.ResolverConfig{Provider: "anthropic", APIKey: "sk-test"}, false, "anthropic"},
		{config.ResolverConfig{Provider: "openai"}, true, ""},
		{config.ResolverConfig{Provider: "openai", BaseURL: "http://127.0.0.1:1234/v1"}, false, "openai"},
		{config.ResolverConfig{Provider: "xai"}, true, ""},
		{config.ResolverConfig{Provider: "command"}, true, ""},
		{config.ResolverConfig{Provider: "command", Command: "/bin/true"}, false, "command"},
		{config.ResolverConfig{Provider: "oracle"}, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.cfg.Provider, func(t *testing.T) {
			r, err := New(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %+v", tt.cfg)
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if r.Name() != tt.name {
				t.Errorf("Name = %q, want %q", r.Name(), tt.name)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorType
	}{
		{context.DeadlineExceeded, ErrorTypeTimeout},
		{fmt.Errorf("wrapped: %w", context.Canceled), ErrorTypeCanceled},
		{errors.New("429 Too Many Requests"), ErrorTypeRateLimit},
		{errors.New("overloaded_error"), ErrorTypeOverloaded},
		{errors.New("401 Unauthorized"), ErrorTypeAuth},
		{errors.New("your credit balance is too low"), ErrorTypeBilling},
		{errors.New("something odd"), ErrorTypeUnknown},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestTimeoutWrapper(t *testing.T) {
	r := &instrumented{inner: slow{}, timeout: 20 * time.Millisecond}
	_, err := r.Resolve(context.Background(), envelope("x"), Hooks{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

type slow struct{}

func (slow) Name() string { return "slow" }

func (slow) Resolve(ctx context.Context, env types.Envelope, hooks Hooks) ([]types.ReplyPayload, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
