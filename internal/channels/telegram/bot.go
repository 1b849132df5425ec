// Package telegram runs a Bot API bot as a relay surface.
package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/roelfdiedericks/clawrelay/internal/delivery"
	. "github.com/roelfdiedericks/clawrelay/internal/logging"
	"github.com/roelfdiedericks/clawrelay/internal/media"
	"github.com/roelfdiedericks/clawrelay/internal/monitor"
	"github.com/roelfdiedericks/clawrelay/internal/types"
)

// Surface is the surface name used in session keys and metrics.
const Surface = "telegram"

// Bot API limits.
const (
	TextLimit    = 4000
	CaptionLimit = 1024
)

const (
	defaultPollTimeout = 10 * time.Second
	downloadTimeout    = 60 * time.Second
	maxPollFailures    = 5
	statusUnauthorized = 401
)

// Options configure the Telegram listener factory.
type Options struct {
	Token       string
	AllowFrom   []string      // DM allowlist: user ids or handles, "*" for anyone
	PollTimeout time.Duration // Long poll timeout
	Media       *media.Store  // Inbound attachment store; attachments are skipped without it
	URL         string        // Bot API base URL; empty for the public API
}

// NewListenerFactory returns a factory that starts a long-polling bot.
func NewListenerFactory(opts Options) monitor.ListenerFactory {
	return func(ctx context.Context, onMessage monitor.MessageHandler) (monitor.Listener, error) {
		return connect(ctx, opts, onMessage)
	}
}

// Listener is one running bot poller.
type Listener struct {
	opts      Options
	bot       *tele.Bot
	onMessage monitor.MessageHandler
	self      types.Identity

	ctx    context.Context // cancelled on Close
	cancel context.CancelFunc

	closed     chan monitor.DisconnectReason
	signalOnce sync.Once
	closeOnce  sync.Once
}

func connect(ctx context.Context, opts Options, onMessage monitor.MessageHandler) (*Listener, error) {
	if opts.Token == "" {
		return nil, fmt.Errorf("%w: telegram bot token not configured", monitor.ErrLoggedOut)
	}
	timeout := opts.PollTimeout
	if timeout <= 0 {
		timeout = defaultPollTimeout
	}

	lctx, cancel := context.WithCancel(context.Background())
	l := &Listener{
		opts:      opts,
		onMessage: onMessage,
		ctx:       lctx,
		cancel:    cancel,
		closed:    make(chan monitor.DisconnectReason, 1),
	}

	p := &poller{timeout: timeout, onError: l.pollFailed}
	bot, err := tele.NewBot(tele.Settings{
		URL:     opts.URL,
		Token:   opts.Token,
		Poller:  p,
		OnError: l.handlerFailed,
	})
	if err != nil {
		cancel()
		if errors.Is(err, tele.ErrUnauthorized) {
			return nil, fmt.Errorf("%w: telegram rejected the bot token", monitor.ErrLoggedOut)
		}
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	if ctx.Err() != nil {
		cancel()
		return nil, ctx.Err()
	}

	l.bot = bot
	l.self = types.Identity{JID: selfHandle(bot.Me), Name: bot.Me.FirstName}

	for _, endpoint := range []string{tele.OnText, tele.OnPhoto, tele.OnVideo, tele.OnVoice, tele.OnAudio, tele.OnDocument} {
		bot.Handle(endpoint, l.handle)
	}

	L_info("telegram: connected",
		"bot", l.self.JID,
		"name", bot.Me.FirstName,
		"id", bot.Me.ID,
		"canJoinGroups", bot.Me.CanJoinGroups,
	)
	go bot.Start()
	return l, nil
}

func (l *Listener) handle(c tele.Context) error {
	m := c.Message()
	msg, ok := toInbound(m, l.bot.Me)
	if !ok || msg.FromMe {
		return nil
	}
	if !allowed(l.opts.AllowFrom, msg) {
		L_debug("telegram: sender not in allowFrom, ignored", "userID", msg.SenderJID, "username", msg.SenderUser)
		return nil
	}

	if file, _ := attachmentOf(m); file != nil {
		path, err := l.download(file, msg.MediaType)
		if err != nil {
			L_warn("telegram: media download failed", "id", msg.ID, "error", err)
			msg.MediaType = ""
			if msg.Body == "" {
				return nil
			}
		} else {
			msg.MediaPath = path
		}
	}

	l.onMessage(l.ctx, msg)
	return nil
}

func (l *Listener) download(file *tele.File, mimeType string) (string, error) {
	if l.opts.Media == nil {
		return "", errors.New("no media store configured")
	}
	rc, err := l.bot.File(file)
	if err != nil {
		return "", fmt.Errorf("download failed: %w", err)
	}
	defer rc.Close()

	// Telebot readers ignore context; bound the copy instead
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-done:
		case <-time.After(downloadTimeout):
			rc.Close()
		}
	}()

	data, err := io.ReadAll(io.LimitReader(rc, media.DefaultMaxBytes*4))
	if err != nil {
		return "", fmt.Errorf("download failed: %w", err)
	}
	L_debug("telegram: media downloaded", "size", len(data), "mime", mimeType)
	return l.opts.Media.SaveInbound(data, Surface, mimeType)
}

// pollFailed counts consecutive getUpdates failures; a revoked token or
// too many failures in a row close the listener.
func (l *Listener) pollFailed(err error, consecutive int) {
	if errors.Is(err, tele.ErrUnauthorized) {
		L_error("telegram: bot token rejected", "error", err)
		l.SignalClose(monitor.DisconnectReason{Status: statusUnauthorized, Error: err.Error(), LoggedOut: true})
		return
	}
	L_warn("telegram: poll failed", "error", err, "consecutive", consecutive)
	if consecutive >= maxPollFailures {
		l.SignalClose(monitor.DisconnectReason{Error: fmt.Sprintf("polling failed %d times: %v", consecutive, err)})
	}
}

func (l *Listener) handlerFailed(err error, c tele.Context) {
	L_warn("telegram: handler error", "error", err)
}

func recipient(to string) (tele.ChatID, error) {
	id, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id %q: %w", to, err)
	}
	return tele.ChatID(id), nil
}

func sendOptions(chat tele.ChatID, replyTo string, html bool) *tele.SendOptions {
	opts := &tele.SendOptions{}
	if html {
		opts.ParseMode = tele.ModeHTML
	}
	if id, err := strconv.Atoi(replyTo); err == nil && id > 0 {
		opts.ReplyTo = &tele.Message{ID: id, Chat: &tele.Chat{ID: int64(chat)}}
		opts.AllowWithoutReply = true
	}
	return opts
}

// SendText sends one message as HTML, falling back to plain text when
// Telegram rejects the markup.
func (l *Listener) SendText(ctx context.Context, to, text string, opts delivery.SendOptions) (string, error) {
	chat, err := recipient(to)
	if err != nil {
		return "", err
	}
	if formatted, ok := FormatMessage(text); ok {
		msg, err := l.bot.Send(chat, formatted, sendOptions(chat, opts.ReplyToID, true))
		if err == nil {
			return strconv.Itoa(msg.ID), nil
		}
		L_debug("telegram: HTML send failed, falling back to plain text", "error", err)
	}
	msg, err := l.bot.Send(chat, text, sendOptions(chat, opts.ReplyToID, false))
	if err != nil {
		return "", err
	}
	return strconv.Itoa(msg.ID), nil
}

// SendMedia uploads one attachment with the matching Bot API method.
func (l *Listener) SendMedia(ctx context.Context, to string, m *media.Loaded, caption string, opts delivery.SendOptions) (string, error) {
	chat, err := recipient(to)
	if err != nil {
		return "", err
	}

	formatted, ok := FormatMessage(caption)
	if ok && len(formatted) <= CaptionLimit {
		msg, err := l.bot.Send(chat, sendable(m, formatted), sendOptions(chat, opts.ReplyToID, true))
		if err == nil {
			return strconv.Itoa(msg.ID), nil
		}
		L_debug("telegram: HTML caption failed, trying plain text", "error", err)
	}
	msg, err := l.bot.Send(chat, sendable(m, caption), sendOptions(chat, opts.ReplyToID, false))
	if err != nil {
		return "", err
	}
	return strconv.Itoa(msg.ID), nil
}

// sendable wraps loaded media in the telebot type for its kind. The reader
// is fresh per call so a retry can resend it.
func sendable(m *media.Loaded, caption string) tele.Sendable {
	file := tele.FromReader(bytes.NewReader(m.Data))
	name := m.FileName
	if name == "" {
		name = "file" + media.ExtensionFor(m.MimeType)
	}

	switch media.KindFromMIME(m.MimeType) {
	case media.KindImage:
		if m.MimeType == "image/gif" {
			return &tele.Animation{File: file, Caption: caption, FileName: name, MIME: m.MimeType}
		}
		return &tele.Photo{File: file, Caption: caption}
	case media.KindVideo:
		return &tele.Video{File: file, Caption: caption, FileName: name, MIME: m.MimeType}
	case media.KindAudio:
		if m.MimeType == "audio/ogg" {
			return &tele.Voice{File: file, Caption: caption, MIME: m.MimeType}
		}
		return &tele.Audio{File: file, Caption: caption, FileName: name, MIME: m.MimeType}
	default:
		return &tele.Document{File: file, Caption: caption, FileName: name, MIME: m.MimeType}
	}
}

// SendComposing shows the typing indicator.
func (l *Listener) SendComposing(ctx context.Context, to string) error {
	chat, err := recipient(to)
	if err != nil {
		return err
	}
	return l.bot.Notify(chat, tele.Typing)
}

// Identity returns the bot's own handle.
func (l *Listener) Identity() types.Identity {
	return l.self
}

// Closed fires once when polling gives up.
func (l *Listener) Closed() <-chan monitor.DisconnectReason {
	return l.closed
}

// SignalClose records reason and fires Closed. Only the first reason counts.
func (l *Listener) SignalClose(reason monitor.DisconnectReason) {
	l.signalOnce.Do(func() {
		l.closed <- reason
	})
}

// Close stops polling.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		l.SignalClose(monitor.DisconnectReason{Error: "closed"})
		l.cancel()
		l.bot.Stop()
		L_debug("telegram: listener closed")
	})
	return nil
}
