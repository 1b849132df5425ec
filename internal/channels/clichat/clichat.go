// Package clichat runs a local command as a relay surface. The command
// writes one JSON object per inbound message to stdout and reads replies as
// JSON lines on stdin.
package clichat

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roelfdiedericks/clawrelay/internal/activation"
	"github.com/roelfdiedericks/clawrelay/internal/delivery"
	. "github.com/roelfdiedericks/clawrelay/internal/logging"
	"github.com/roelfdiedericks/clawrelay/internal/media"
	"github.com/roelfdiedericks/clawrelay/internal/monitor"
	"github.com/roelfdiedericks/clawrelay/internal/types"
)

// Surface is the surface name used in session keys and metrics.
const Surface = "clichat"

const maxLineBytes = 1024 * 1024

// Options configure the subprocess.
type Options struct {
	Command string
	Args    []string
	Dir     string
	Self    string       // Our own address on this surface
	Media   *media.Store // Where outbound media without a local path is written
}

// Inbound is one message line on the command's stdout.
type Inbound struct {
	ID             string   `json:"id"`
	From           string   `json:"from"`             // Conversation replies go to
	Sender         string   `json:"sender,omitempty"` // Group member who wrote it; defaults to from
	To             string   `json:"to,omitempty"`
	Body           string   `json:"body"`
	Timestamp      int64    `json:"timestamp,omitempty"` // unix milliseconds
	Group          bool     `json:"group,omitempty"`
	ConversationID string   `json:"conversationId,omitempty"`
	GroupSubject   string   `json:"groupSubject,omitempty"`
	SenderName     string   `json:"senderName,omitempty"`
	SenderE164     string   `json:"senderE164,omitempty"`
	FromMe         bool     `json:"fromMe,omitempty"`
	Mentions       []string `json:"mentions,omitempty"`
	ReplyToID      string   `json:"replyToId,omitempty"`
	ReplyToBody    string   `json:"replyToBody,omitempty"`
	ReplyToSender  string   `json:"replyToSender,omitempty"`
	MediaPath      string   `json:"mediaPath,omitempty"`
	MediaType      string   `json:"mediaType,omitempty"`
}

// Outbound is one line written to the command's stdin.
type Outbound struct {
	Kind      string `json:"kind"` // "message" or "typing"
	ID        string `json:"id,omitempty"`
	To        string `json:"to"`
	Text      string `json:"text,omitempty"`
	MediaPath string `json:"mediaPath,omitempty"`
	MediaType string `json:"mediaType,omitempty"`
	ReplyTo   string `json:"replyTo,omitempty"`
}

// NewListenerFactory returns a factory that starts the command. A process
// exit closes the listener, so the monitor restarts it with backoff.
func NewListenerFactory(opts Options) monitor.ListenerFactory {
	return func(ctx context.Context, onMessage monitor.MessageHandler) (monitor.Listener, error) {
		return start(ctx, opts, onMessage)
	}
}

// Listener is one running command.
type Listener struct {
	opts      Options
	cmd       *exec.Cmd
	onMessage monitor.MessageHandler
	self      types.Identity

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex
	stdin   io.WriteCloser
	enc     *json.Encoder

	closed     chan monitor.DisconnectReason
	signalOnce sync.Once
	closeOnce  sync.Once
}

func start(ctx context.Context, opts Options, onMessage monitor.MessageHandler) (*Listener, error) {
	if opts.Command == "" {
		return nil, errors.New("clichat: no command configured")
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	lctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(lctx, opts.Command, opts.Args...)
	cmd.Dir = opts.Dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("clichat: stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("clichat: stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("clichat: stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("clichat: start %s: %w", opts.Command, err)
	}

	l := &Listener{
		opts:      opts,
		cmd:       cmd,
		onMessage: onMessage,
		self:      selfIdentity(opts.Self),
		ctx:       lctx,
		cancel:    cancel,
		stdin:     stdin,
		enc:       json.NewEncoder(stdin),
		closed:    make(chan monitor.DisconnectReason, 1),
	}
	L_info("clichat: started", "command", opts.Command, "pid", cmd.Process.Pid)

	go l.logStderr(stderr)
	go l.readLoop(stdout)
	return l, nil
}

func selfIdentity(self string) types.Identity {
	id := types.Identity{JID: self, Name: self}
	if e164 := activation.NormalizeE164(self); e164 != "" && strings.TrimLeft(self, "+0123456789 -()") == "" {
		id.E164 = e164
	}
	return id
}

// readLoop decodes stdout until EOF, then reaps the process and closes.
func (l *Listener) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var in Inbound
		if err := json.Unmarshal([]byte(line), &in); err != nil {
			L_warn("clichat: ignoring malformed line", "error", err)
			continue
		}
		msg, ok := toInbound(in, l.self)
		if !ok {
			L_debug("clichat: ignoring line without from/body")
			continue
		}
		l.onMessage(l.ctx, msg)
	}
	if err := scanner.Err(); err != nil {
		L_warn("clichat: stdout read failed", "error", err)
	}

	err := l.cmd.Wait()
	reason := monitor.DisconnectReason{Error: "process exited"}
	if err != nil {
		reason.Error = fmt.Sprintf("process exited: %v", err)
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			reason.Status = exitErr.ExitCode()
		}
	}
	L_info("clichat: process ended", "reason", reason.Error)
	l.SignalClose(reason)
}

func (l *Listener) logStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		L_debug("clichat: stderr", "line", scanner.Text())
	}
}

func toInbound(in Inbound, self types.Identity) (types.InboundMessage, bool) {
	if in.From == "" || (strings.TrimSpace(in.Body) == "" && in.MediaPath == "") {
		return types.InboundMessage{}, false
	}
	ts := time.Now()
	if in.Timestamp > 0 {
		ts = time.UnixMilli(in.Timestamp)
	}
	msg := types.InboundMessage{
		ID:             in.ID,
		Surface:        Surface,
		Timestamp:      ts,
		From:           in.From,
		To:             in.To,
		ChatType:       types.ChatDirect,
		ConversationID: in.ConversationID,
		GroupSubject:   in.GroupSubject,
		SenderE164:     in.SenderE164,
		SenderName:     in.SenderName,
		SenderJID:      in.From,
		FromMe:         in.FromMe,
		Body:           in.Body,
		MentionedIDs:   in.Mentions,
		ReplyToID:      in.ReplyToID,
		ReplyToBody:    in.ReplyToBody,
		ReplyToSender:  in.ReplyToSender,
		MediaPath:      in.MediaPath,
		MediaType:      in.MediaType,
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.To == "" {
		msg.To = self.JID
	}
	if in.Group {
		msg.ChatType = types.ChatGroup
		if msg.ConversationID == "" {
			msg.ConversationID = in.From
		}
	}
	if in.Sender != "" {
		msg.SenderJID = in.Sender
	}
	if msg.ConversationID == "" {
		msg.ConversationID = in.From
	}
	return msg, true
}

func (l *Listener) write(out Outbound) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if err := l.enc.Encode(out); err != nil {
		return fmt.Errorf("clichat: write: %w", err)
	}
	return nil
}

// SendText writes one message line.
func (l *Listener) SendText(ctx context.Context, to, text string, opts delivery.SendOptions) (string, error) {
	out := Outbound{Kind: "message", ID: uuid.NewString(), To: to, Text: text, ReplyTo: opts.ReplyToID}
	if err := l.write(out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// SendMedia writes a message line pointing at a local copy of the media.
func (l *Listener) SendMedia(ctx context.Context, to string, m *media.Loaded, caption string, opts delivery.SendOptions) (string, error) {
	path, err := l.localPath(m)
	if err != nil {
		return "", err
	}
	out := Outbound{
		Kind:      "message",
		ID:        uuid.NewString(),
		To:        to,
		Text:      caption,
		MediaPath: path,
		MediaType: m.MimeType,
		ReplyTo:   opts.ReplyToID,
	}
	if err := l.write(out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// localPath reuses a local source file, otherwise stores the bytes.
func (l *Listener) localPath(m *media.Loaded) (string, error) {
	if m.Source != "" && !strings.HasPrefix(m.Source, "http://") && !strings.HasPrefix(m.Source, "https://") {
		return m.Source, nil
	}
	if l.opts.Media == nil {
		return "", errors.New("clichat: no media store for remote media")
	}
	return l.opts.Media.SaveInbound(m.Data, Surface, m.MimeType)
}

// SendComposing writes a typing line.
func (l *Listener) SendComposing(ctx context.Context, to string) error {
	return l.write(Outbound{Kind: "typing", To: to})
}

// Identity returns the configured self address.
func (l *Listener) Identity() types.Identity {
	return l.self
}

// Closed fires once the process exits.
func (l *Listener) Closed() <-chan monitor.DisconnectReason {
	return l.closed
}

// SignalClose records reason and fires Closed. Only the first reason counts.
func (l *Listener) SignalClose(reason monitor.DisconnectReason) {
	l.signalOnce.Do(func() {
		l.closed <- reason
	})
}

// Close closes stdin and kills the process if it is still running.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		l.writeMu.Lock()
		l.stdin.Close()
		l.writeMu.Unlock()
		l.cancel()
		L_debug("clichat: listener closed")
	})
	return nil
}
