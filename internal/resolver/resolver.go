// Package resolver turns an inbound envelope into reply payloads by calling
// an agent backend: an LLM provider, an external command, or a local echo.
package resolver

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/roelfdiedericks/clawrelay/internal/config"
	. "github.com/roelfdiedericks/clawrelay/internal/logging"
	"github.com/roelfdiedericks/clawrelay/internal/media"
	. "github.com/roelfdiedericks/clawrelay/internal/metrics"
	"github.com/roelfdiedericks/clawrelay/internal/types"
)

// DefaultSystemPrompt is used when none is configured.
const DefaultSystemPrompt = "You are a helpful assistant replying in a chat app. " +
	"Keep replies short and conversational. Reply with NO_REPLY when nothing needs saying."

// maxInlineImage caps images attached to LLM requests.
const maxInlineImage = 5 * 1024 * 1024

// Resolver produces the replies for one envelope.
type Resolver interface {
	// Resolve returns the final payloads. Intermediate payloads may be
	// streamed through hooks.OnToolResult before it returns.
	Resolve(ctx context.Context, env types.Envelope, hooks Hooks) ([]types.ReplyPayload, error)
	Name() string
}

// Hooks are optional callbacks invoked while resolving.
type Hooks struct {
	OnReplyStart func(ctx context.Context)                        // e.g. typing indicator
	OnToolResult func(ctx context.Context, p types.ReplyPayload) // delivered immediately
}

// ReplyStart calls OnReplyStart if set.
func (h Hooks) ReplyStart(ctx context.Context) {
	if h.OnReplyStart != nil {
		h.OnReplyStart(ctx)
	}
}

// ToolResult calls OnToolResult if set.
func (h Hooks) ToolResult(ctx context.Context, p types.ReplyPayload) {
	if h.OnToolResult != nil {
		h.OnToolResult(ctx, p)
	}
}

// New builds the resolver selected by cfg.Provider, wrapped with the
// configured timeout and metrics.
func New(cfg config.ResolverConfig) (Resolver, error) {
	var (
		r   Resolver
		err error
	)
	switch cfg.Provider {
	case "anthropic":
		r, err = NewAnthropic(cfg)
	case "openai":
		r, err = NewOpenAI(cfg)
	case "xai":
		r, err = NewXAI(cfg)
	case "command":
		r, err = NewCommand(cfg.Command, cfg.Args)
	case "echo", "":
		r = Echo{}
	default:
		return nil, fmt.Errorf("unknown resolver provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	L_debug("resolver: created", "provider", r.Name(), "model", cfg.Model, "timeout", timeout)
	return &instrumented{inner: r, timeout: timeout}, nil
}

// instrumented bounds each call and records metrics.
type instrumented struct {
	inner   Resolver
	timeout time.Duration
}

func (i *instrumented) Name() string {
	return i.inner.Name()
}

func (i *instrumented) Resolve(ctx context.Context, env types.Envelope, hooks Hooks) ([]types.ReplyPayload, error) {
	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	start := time.Now()
	payloads, err := i.inner.Resolve(ctx, env, hooks)
	MetricSince("resolver", i.inner.Name(), start)
	if err != nil {
		MetricFailWithReason("resolver", "resolve", string(Classify(err)))
		return nil, err
	}
	MetricSuccess("resolver", "resolve")
	L_debug("resolver: resolved", "provider", i.inner.Name(), "envelope", env.ID, "payloads", len(payloads), "elapsed", time.Since(start))
	return payloads, nil
}

// PayloadsFromText converts raw resolver text into payloads, lifting
// MEDIA: lines into media references. Empty output yields no payloads.
func PayloadsFromText(raw string) []types.ReplyPayload {
	text, refs := media.SplitMediaFromOutput(raw)
	if text == "" && len(refs) == 0 {
		return nil
	}
	return []types.ReplyPayload{{Text: text, MediaURLs: refs}}
}

func systemPrompt(cfg config.ResolverConfig) string {
	if strings.TrimSpace(cfg.SystemPrompt) != "" {
		return cfg.SystemPrompt
	}
	return DefaultSystemPrompt
}

func apiKey(configured, envVar string) string {
	if configured != "" {
		return configured
	}
	return os.Getenv(envVar)
}

// inlineImage returns the inbound image of env as base64, if there is one
// small enough to attach.
func inlineImage(env types.Envelope) (mimeType, data string, ok bool) {
	msg := env.Message
	if msg.MediaPath == "" || media.KindFromMIME(msg.MediaType) != media.KindImage {
		return "", "", false
	}
	info, err := os.Stat(msg.MediaPath)
	if err != nil || info.Size() > maxInlineImage {
		return "", "", false
	}
	raw, err := os.ReadFile(msg.MediaPath)
	if err != nil {
		L_warn("resolver: failed to read inbound image", "path", msg.MediaPath, "error", err)
		return "", "", false
	}
	return msg.MediaType, base64.StdEncoding.EncodeToString(raw), true
}
