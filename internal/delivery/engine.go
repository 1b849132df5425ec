package delivery

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/roelfdiedericks/clawrelay/internal/backoff"
	. "github.com/roelfdiedericks/clawrelay/internal/logging"
	. "github.com/roelfdiedericks/clawrelay/internal/metrics"
	"github.com/roelfdiedericks/clawrelay/internal/types"
)

const (
	DefaultCaptionLimit  = 1024
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = 500 * time.Millisecond

	// MediaFailedNotice is appended to the caption when the first attachment fails.
	MediaFailedNotice = "⚠️ Media failed."
)

// ErrMediaFailed is returned when an attachment and its text fallback both fail.
var ErrMediaFailed = errors.New("media delivery failed")

var transientRE = regexp.MustCompile(`(?i)closed|reset|timed? ?out|broken pipe|eof|disconnect`)

// IsTransient reports whether a send error is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return transientRE.MatchString(err.Error())
}

// Options tune an Engine. Zero values take the defaults.
type Options struct {
	Surface       string // For logs and metrics
	TextLimit     int
	CaptionLimit  int
	RetryAttempts int
	RetryDelay    time.Duration
}

// Engine delivers payloads through one Sender.
type Engine struct {
	sender Sender
	loader MediaLoader
	echo   Recorder
	opts   Options
}

// New returns an Engine. loader and echo may be nil.
func New(sender Sender, loader MediaLoader, echo Recorder, opts Options) *Engine {
	if opts.TextLimit <= 0 {
		opts.TextLimit = DefaultTextLimit
	}
	if opts.CaptionLimit <= 0 {
		opts.CaptionLimit = DefaultCaptionLimit
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = DefaultRetryAttempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.Surface == "" {
		opts.Surface = "unknown"
	}
	return &Engine{sender: sender, loader: loader, echo: echo, opts: opts}
}

// Sender returns the underlying sender.
func (e *Engine) Sender() Sender {
	return e.sender
}

// Deliver sends one payload to target and returns how many platform
// messages were sent. Special tokens are honoured: a silent reply sends
// nothing and a bare heartbeat acknowledgement is dropped.
func (e *Engine) Deliver(ctx context.Context, payload types.ReplyPayload, target string) (int, error) {
	text := types.StripHeartbeatToken(payload.Text)
	if types.IsSilentReply(text) {
		L_debug("delivery: silent reply suppressed", "to", target)
		MetricInc("delivery", "suppressed")
		return 0, nil
	}
	if strings.TrimSpace(text) == "" {
		text = ""
	}

	opts := SendOptions{ReplyToID: payload.ReplyToID}
	refs := payload.Media()
	if len(refs) == 0 {
		return e.sendChunks(ctx, target, ChunkText(text, e.opts.TextLimit), &opts)
	}

	caption, rest := splitCaption(text, e.opts.CaptionLimit, e.opts.TextLimit)
	sent := 0
	for i, ref := range refs {
		itemCaption := ""
		if i == 0 {
			itemCaption = strings.TrimSpace(caption)
		}

		err := e.sendMedia(ctx, target, ref, itemCaption, opts)
		if err == nil {
			sent++
			opts.ReplyToID = ""
			continue
		}
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}

		MetricFailWithReason("delivery", "media", "send")
		if i > 0 {
			L_warn("delivery: media item failed", "to", target, "ref", ref, "index", i, "error", err)
			continue
		}

		L_warn("delivery: first media item failed, sending text fallback", "to", target, "ref", ref, "error", err)
		fallback := MediaFailedNotice
		if itemCaption != "" {
			fallback = itemCaption + "\n" + MediaFailedNotice
		}
		if _, ferr := e.sendText(ctx, target, fallback, opts); ferr != nil {
			return sent, errors.Join(fmt.Errorf("%w: %v", ErrMediaFailed, err), ferr)
		}
		sent++
		opts.ReplyToID = ""
	}

	n, err := e.sendChunks(ctx, target, rest, &opts)
	return sent + n, err
}

// DeliverAll delivers payloads in order. A failing payload does not stop
// the rest; all errors are joined.
func (e *Engine) DeliverAll(ctx context.Context, payloads []types.ReplyPayload, target string) (int, error) {
	sent := 0
	var errs []error
	for i, p := range payloads {
		n, err := e.Deliver(ctx, p, target)
		sent += n
		if err != nil {
			errs = append(errs, fmt.Errorf("payload %d: %w", i, err))
			if ctx.Err() != nil {
				break
			}
		}
	}
	return sent, errors.Join(errs...)
}

func (e *Engine) sendChunks(ctx context.Context, target string, chunks []string, opts *SendOptions) (int, error) {
	sent := 0
	for i, chunk := range chunks {
		body := strings.TrimSpace(chunk)
		if body == "" {
			continue
		}
		if _, err := e.sendText(ctx, target, body, *opts); err != nil {
			return sent, fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		sent++
		opts.ReplyToID = ""
	}
	return sent, nil
}

func (e *Engine) sendText(ctx context.Context, target, body string, opts SendOptions) (string, error) {
	start := time.Now()
	id, err := e.withRetry(ctx, "text", func() (string, error) {
		return e.sender.SendText(ctx, target, body, opts)
	})
	if err != nil {
		MetricFail("delivery", "text")
		return "", err
	}
	e.record(body)
	e.logSent(target, "text", len(body), start)
	MetricSuccess("delivery", "text")
	return id, nil
}

func (e *Engine) sendMedia(ctx context.Context, target, ref, caption string, opts SendOptions) error {
	if e.loader == nil {
		return fmt.Errorf("no media loader configured")
	}
	start := time.Now()
	loaded, err := e.loader.Load(ctx, ref)
	if err != nil {
		return fmt.Errorf("load %s: %w", ref, err)
	}
	_, err = e.withRetry(ctx, "media", func() (string, error) {
		return e.sender.SendMedia(ctx, target, loaded, caption, opts)
	})
	if err != nil {
		return err
	}
	if caption != "" {
		e.record(caption)
	}
	e.logSent(target, string(loaded.Kind), loaded.Size(), start)
	MetricSuccess("delivery", "media")
	return nil
}

// withRetry retries transient failures with linear backoff (attempt x RetryDelay).
func (e *Engine) withRetry(ctx context.Context, kind string, fn func() (string, error)) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= e.opts.RetryAttempts; attempt++ {
		id, err := fn()
		if err == nil {
			return id, nil
		}
		lastErr = err
		if !IsTransient(err) || attempt == e.opts.RetryAttempts {
			break
		}
		delay := time.Duration(attempt) * e.opts.RetryDelay
		L_warn("delivery: transient send failure, retrying",
			"surface", e.opts.Surface, "kind", kind, "attempt", attempt, "delay", delay, "error", err)
		MetricInc("delivery", "retries")
		if err := backoff.Sleep(ctx, delay); err != nil {
			return "", err
		}
	}
	return "", lastErr
}

func (e *Engine) record(body string) {
	if e.echo == nil {
		return
	}
	if f, ok := e.sender.(WireFormatter); ok {
		body = f.WireText(body)
	}
	e.echo.RecordSent(body)
}

func (e *Engine) logSent(target, kind string, size int, start time.Time) {
	elapsed := time.Since(start)
	L_info("delivery: sent", "surface", e.opts.Surface, "to", target, "kind", kind, "bytes", size, "durationMs", elapsed.Milliseconds())
	MetricInc("delivery", "sent_"+kind)
	MetricDuration("delivery", "send_latency", elapsed)
}
