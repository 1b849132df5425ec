// Package whatsapp connects a paired WhatsApp Web device as a relay surface.
package whatsapp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	watypes "go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/roelfdiedericks/clawrelay/internal/activation"
	"github.com/roelfdiedericks/clawrelay/internal/delivery"
	. "github.com/roelfdiedericks/clawrelay/internal/logging"
	"github.com/roelfdiedericks/clawrelay/internal/media"
	"github.com/roelfdiedericks/clawrelay/internal/monitor"
	"github.com/roelfdiedericks/clawrelay/internal/types"
)

// Surface is the surface name used in session keys and metrics.
const Surface = "whatsapp"

const (
	connectTimeout    = 30 * time.Second
	downloadTimeout   = 60 * time.Second
	keepAliveFailures = 3
	statusLoggedOut   = 401
	maxQuotes         = 256
)

// Options configure the WhatsApp listener factory.
type Options struct {
	StorePath string       // whatsmeow device database
	AllowFrom []string     // DM allowlist, E.164 numbers or "*"
	Media     *media.Store // Inbound attachment store; attachments are skipped without it
}

// quote is what we need to quote an inbound message in a reply.
type quote struct {
	participant string
	body        string
}

// NewListenerFactory returns a factory that connects the paired device.
// Every call opens a fresh client; the monitor owns reconnects, so
// whatsmeow's own auto-reconnect is disabled.
func NewListenerFactory(opts Options) monitor.ListenerFactory {
	return func(ctx context.Context, onMessage monitor.MessageHandler) (monitor.Listener, error) {
		return connect(ctx, opts, onMessage)
	}
}

// Listener is one live WhatsApp Web connection.
type Listener struct {
	opts      Options
	client    *whatsmeow.Client
	db        *sql.DB
	onMessage monitor.MessageHandler
	own       ownIDs
	self      types.Identity

	ctx    context.Context // cancelled on Close
	cancel context.CancelFunc

	connected     chan struct{}
	connectedOnce sync.Once
	closed        chan monitor.DisconnectReason
	done          chan struct{}
	signalOnce    sync.Once
	closeOnce     sync.Once

	mu         sync.Mutex
	quotes     map[string]quote
	quoteOrder []string
	subjects   map[string]string
}

func connect(ctx context.Context, opts Options, onMessage monitor.MessageHandler) (*Listener, error) {
	db, device, err := openDevice(ctx, opts.StorePath)
	if err != nil {
		return nil, err
	}

	client := whatsmeow.NewClient(device, &waLogger{module: "client"})
	client.EnableAutoReconnect = false

	lctx, cancel := context.WithCancel(context.Background())
	l := &Listener{
		opts:      opts,
		client:    client,
		db:        db,
		onMessage: onMessage,
		own:       newOwnIDs(*device.ID, device.LID),
		ctx:       lctx,
		cancel:    cancel,
		connected: make(chan struct{}),
		closed:    make(chan monitor.DisconnectReason, 1),
		done:      make(chan struct{}),
		quotes:    make(map[string]quote),
		subjects:  make(map[string]string),
	}
	l.self = types.Identity{E164: l.own.e164, JID: l.own.jid, Name: device.PushName}

	client.AddEventHandler(l.handleEvent)
	if err := client.Connect(); err != nil {
		l.Close()
		return nil, fmt.Errorf("whatsapp: failed to connect: %w", err)
	}

	timer := time.NewTimer(connectTimeout)
	defer timer.Stop()
	select {
	case <-l.connected:
		L_info("whatsapp: connected", "jid", l.self.JID)
	case <-l.done:
		// Closed during login; the monitor reads the reason from Closed()
	case <-timer.C:
		l.Close()
		return nil, errors.New("whatsapp: timed out waiting for login")
	case <-ctx.Done():
		l.Close()
		return nil, ctx.Err()
	}
	return l, nil
}

// handleEvent is the whatsmeow event handler
func (l *Listener) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		l.handleMessage(v)
	case *events.Connected:
		l.connectedOnce.Do(func() { close(l.connected) })
	case *events.Disconnected:
		L_warn("whatsapp: disconnected from server")
		l.SignalClose(monitor.DisconnectReason{Error: "disconnected"})
	case *events.StreamReplaced:
		L_warn("whatsapp: stream replaced by another client")
		l.SignalClose(monitor.DisconnectReason{Error: "stream replaced"})
	case *events.KeepAliveTimeout:
		L_debug("whatsapp: keepalive timeout", "errors", v.ErrorCount)
		if v.ErrorCount >= keepAliveFailures {
			l.SignalClose(monitor.DisconnectReason{Error: fmt.Sprintf("keepalive failed %d times", v.ErrorCount)})
		}
	case *events.LoggedOut:
		L_error("whatsapp: logged out, re-pair the device", "reason", v.Reason)
		l.SignalClose(monitor.DisconnectReason{
			Status:    statusLoggedOut,
			Error:     fmt.Sprintf("logged out: %v", v.Reason),
			LoggedOut: true,
		})
	}
}

func (l *Listener) handleMessage(evt *events.Message) {
	msg, att, ok := toInbound(evt, l.own)
	if !ok {
		return
	}
	if !allowed(l.opts.AllowFrom, msg) {
		L_debug("whatsapp: sender not in allowFrom, ignored", "sender", msg.SenderE164, "jid", msg.SenderJID)
		return
	}

	if att != nil {
		path, err := l.download(att)
		if err != nil {
			L_warn("whatsapp: media download failed", "id", msg.ID, "error", err)
			msg.MediaType = ""
			if msg.Body == "" {
				return
			}
		} else {
			msg.MediaPath = path
		}
	}
	if msg.IsGroup() {
		msg.GroupSubject = l.groupSubject(evt.Info.Chat)
	}

	l.rememberQuote(msg.ID, quote{participant: evt.Info.Sender.ToNonAD().String(), body: msg.Body})
	l.onMessage(l.ctx, msg)
}

// download fetches an attachment into the media store.
func (l *Listener) download(att *attachment) (string, error) {
	if l.opts.Media == nil {
		return "", errors.New("no media store configured")
	}
	ctx, cancel := context.WithTimeout(l.ctx, downloadTimeout)
	defer cancel()

	data, err := l.client.Download(ctx, att.msg)
	if err != nil {
		return "", fmt.Errorf("download failed: %w", err)
	}
	L_debug("whatsapp: media downloaded", "size", len(data), "mime", att.mimeType)
	return l.opts.Media.SaveInbound(data, Surface, att.mimeType)
}

// groupSubject returns the cached group name, fetching it once.
func (l *Listener) groupSubject(chat watypes.JID) string {
	key := chat.String()
	l.mu.Lock()
	subject, ok := l.subjects[key]
	l.mu.Unlock()
	if ok {
		return subject
	}

	info, err := l.client.GetGroupInfo(l.ctx, chat)
	if err != nil {
		L_debug("whatsapp: group info unavailable", "group", key, "error", err)
		return ""
	}
	l.mu.Lock()
	l.subjects[key] = info.Name
	l.mu.Unlock()
	return info.Name
}

func (l *Listener) rememberQuote(id string, q quote) {
	if id == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.quotes[id]; !ok {
		l.quoteOrder = append(l.quoteOrder, id)
	}
	l.quotes[id] = q
	for len(l.quoteOrder) > maxQuotes {
		delete(l.quotes, l.quoteOrder[0])
		l.quoteOrder = l.quoteOrder[1:]
	}
}

// contextFor builds the ContextInfo quoting replyTo, or nil when we never
// saw that message.
func (l *Listener) contextFor(replyTo string) *waE2E.ContextInfo {
	if replyTo == "" {
		return nil
	}
	l.mu.Lock()
	q, ok := l.quotes[replyTo]
	l.mu.Unlock()
	if !ok {
		return nil
	}
	return &waE2E.ContextInfo{
		StanzaID:      proto.String(replyTo),
		Participant:   proto.String(q.participant),
		QuotedMessage: &waE2E.Message{Conversation: proto.String(q.body)},
	}
}

// WireText returns text as SendText puts it on the wire.
func (l *Listener) WireText(text string) string {
	return FormatMessage(text)
}

// SendText sends one formatted text message.
func (l *Listener) SendText(ctx context.Context, to, text string, opts delivery.SendOptions) (string, error) {
	jid, err := parseRecipient(to)
	if err != nil {
		return "", err
	}
	formatted := l.WireText(text)

	msg := &waE2E.Message{Conversation: proto.String(formatted)}
	if ci := l.contextFor(opts.ReplyToID); ci != nil {
		msg = &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text:        proto.String(formatted),
			ContextInfo: ci,
		}}
	}

	resp, err := l.client.SendMessage(ctx, jid, msg)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

// SendMedia uploads and sends one attachment.
func (l *Listener) SendMedia(ctx context.Context, to string, m *media.Loaded, caption string, opts delivery.SendOptions) (string, error) {
	jid, err := parseRecipient(to)
	if err != nil {
		return "", err
	}

	resp, err := l.client.Upload(ctx, m.Data, mimeToMediaType(m.MimeType))
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	msg := buildMediaMessage(m, &resp, FormatMessage(caption), l.contextFor(opts.ReplyToID))

	sent, err := l.client.SendMessage(ctx, jid, msg)
	if err != nil {
		return "", err
	}
	if msg.AudioMessage != nil && caption != "" {
		// Voice notes have no caption field
		if _, err := l.client.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(FormatMessage(caption))}); err != nil {
			L_warn("whatsapp: audio caption not sent", "error", err)
		}
	}
	return sent.ID, nil
}

// SendComposing shows the typing indicator.
func (l *Listener) SendComposing(ctx context.Context, to string) error {
	jid, err := parseRecipient(to)
	if err != nil {
		return err
	}
	return l.client.SendChatPresence(ctx, jid, watypes.ChatPresenceComposing, watypes.ChatPresenceMediaText)
}

// Identity returns our own account address.
func (l *Listener) Identity() types.Identity {
	return l.self
}

// Closed fires once when the connection drops.
func (l *Listener) Closed() <-chan monitor.DisconnectReason {
	return l.closed
}

// SignalClose records reason and fires Closed. Only the first reason counts.
func (l *Listener) SignalClose(reason monitor.DisconnectReason) {
	l.signalOnce.Do(func() {
		l.closed <- reason
		close(l.done)
	})
}

// Close disconnects and releases the device database.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.SignalClose(monitor.DisconnectReason{Error: "closed"})
		l.cancel()
		l.client.Disconnect()
		err = l.db.Close()
		L_debug("whatsapp: listener closed")
	})
	return err
}

// parseRecipient accepts a full jid or a bare phone number.
func parseRecipient(to string) (watypes.JID, error) {
	if !strings.Contains(to, "@") {
		return phoneToJID(to), nil
	}
	jid, err := watypes.ParseJID(to)
	if err != nil {
		return watypes.JID{}, fmt.Errorf("invalid recipient %q: %w", to, err)
	}
	return jid, nil
}

// phoneToJID converts a phone number string to a WhatsApp JID
func phoneToJID(phone string) watypes.JID {
	return watypes.NewJID(strings.TrimPrefix(activation.NormalizeE164(phone), "+"), watypes.DefaultUserServer)
}
