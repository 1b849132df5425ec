package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roelfdiedericks/clawrelay/internal/activation"
	"github.com/roelfdiedericks/clawrelay/internal/delivery"
	"github.com/roelfdiedericks/clawrelay/internal/grouphistory"
	. "github.com/roelfdiedericks/clawrelay/internal/logging"
	. "github.com/roelfdiedericks/clawrelay/internal/metrics"
	"github.com/roelfdiedericks/clawrelay/internal/resolver"
	"github.com/roelfdiedericks/clawrelay/internal/session"
	"github.com/roelfdiedericks/clawrelay/internal/types"
)

// turn is one accepted message waiting for its reply.
type turn struct {
	conn *connection
	msg  types.InboundMessage
	env  types.Envelope
	conv string
	seq  uint64 // history sequence of the triggering message, 0 for DMs
}

// accept runs the synchronous part of the pipeline: echo filtering,
// activation and history bookkeeping. Anything that waits on the network
// runs afterwards as a tracked turn.
func (m *Monitor) accept(ctx context.Context, conn *connection, msg types.InboundMessage) {
	surface := m.opts.Surface
	now := time.Now()
	m.handled.Add(1)
	m.update(func(s *Status) { s.LastMessageAt = now })
	MetricInc(surface, "messages_received")

	if m.echo.ShouldSuppress(msg.Body) {
		L_debug("monitor: dropped echo of our own reply", "surface", surface, "from", msg.From)
		MetricInc(surface, "echoes_dropped")
		return
	}

	conv := msg.ConversationID
	if conv == "" {
		conv = msg.From
	}
	key := session.Key(surface, msg.ChatType, conv)

	mode := m.activationMode(ctx, key, conv)
	decision := m.opts.Activation.Decide(msg, conn.self, mode)

	L_trace("monitor: activation decision",
		"surface", surface,
		"conversation", conv,
		"mode", mode,
		"respond", decision.Respond,
		"reason", decision.Reason,
		"via", decision.Via,
	)

	switch {
	case decision.Drop:
		L_debug("monitor: dropped message", "surface", surface, "conversation", conv, "reason", decision.Reason)
		return
	case decision.Command != nil:
		cmd := *decision.Command
		m.turns.Go("command "+cmd.Name, func() error {
			m.runCommand(ctx, conn, msg, key, conv, cmd)
			return nil
		})
		return
	}

	m.touch(ctx, key, now)

	var (
		seq   uint64
		prior []grouphistory.Entry
	)
	if msg.IsGroup() {
		seq = m.history.Append(conv, grouphistory.Entry{
			Sender:    msg.SenderLabel(),
			Body:      historyBody(msg),
			Timestamp: msg.Timestamp,
		})
		if !decision.Respond {
			L_debug("monitor: no mention, archived into history",
				"surface", surface, "conversation", conv, "buffered", m.history.Len(conv))
			MetricInc(surface, "messages_archived")
			return
		}
		for _, e := range m.history.Snapshot(conv) {
			if e.Seq < seq {
				prior = append(prior, e)
			}
		}
		prior = grouphistory.TrimToBudget(prior, m.opts.HistoryMaxTokens, m.opts.TokenCounter)
	} else if !decision.Respond {
		return
	}

	env := buildEnvelope(surface, key, conv, msg, prior, now)
	if m.echo.ShouldSuppress(env.Text) {
		L_debug("monitor: dropped echo of composed envelope", "surface", surface, "conversation", conv)
		MetricInc(surface, "echoes_dropped")
		return
	}

	t := turn{conn: conn, msg: msg, env: env, conv: conv, seq: seq}
	m.turns.Go("reply "+env.ID, func() error {
		m.runTurn(ctx, t)
		return nil
	})
}

// runTurn calls the resolver and delivers what it returns.
func (m *Monitor) runTurn(ctx context.Context, t turn) {
	surface := m.opts.Surface
	target := t.msg.From
	engine := t.conn.engine
	start := time.Now()

	var (
		sentMu sync.Mutex
		sent   int
	)
	hooks := resolver.Hooks{
		OnReplyStart: func(hctx context.Context) {
			if err := delivery.SendComposing(hctx, engine.Sender(), target); err != nil {
				L_trace("monitor: composing presence failed", "surface", surface, "error", err)
			}
		},
		OnToolResult: func(hctx context.Context, p types.ReplyPayload) {
			n, err := engine.Deliver(hctx, p, target)
			sentMu.Lock()
			sent += n
			sentMu.Unlock()
			if err != nil {
				L_warn("monitor: tool result delivery failed", "surface", surface, "to", target, "error", err)
			}
		},
	}

	payloads, err := m.opts.Resolver.Resolve(ctx, t.env, hooks)
	if err != nil {
		// History stays so the next turn still has the context
		L_error("monitor: resolver failed, turn dropped",
			"surface", surface,
			"envelope", t.env.ID,
			"conversation", t.conv,
			"type", resolver.Classify(err),
			"error", err,
		)
		MetricFailWithReason(surface, "turn", "resolver")
		return
	}

	n, err := engine.DeliverAll(ctx, payloads, target)
	sentMu.Lock()
	sent += n
	total := sent
	sentMu.Unlock()
	if err != nil {
		L_warn("monitor: reply delivery had failures", "surface", surface, "to", target, "sent", total, "error", err)
	}

	if total == 0 {
		L_debug("monitor: no reply sent", "surface", surface, "envelope", t.env.ID, "payloads", len(payloads))
		MetricFailWithReason(surface, "turn", "empty")
		return
	}

	if t.msg.IsGroup() {
		m.history.ClearThrough(t.conv, t.seq)
	}
	MetricSince(surface, "turn", start)
	MetricSuccess(surface, "turn")

	if m.opts.Store != nil {
		route := session.Route{
			Surface:        surface,
			To:             target,
			ConversationID: t.conv,
			MessageID:      t.msg.ID,
			At:             time.Now(),
		}
		key := t.env.SessionKey
		m.writes.Go("last route", func() error {
			return m.opts.Store.SetLastRoute(context.WithoutCancel(ctx), key, route)
		})
	}
}

// runCommand answers an owner command locally.
func (m *Monitor) runCommand(ctx context.Context, conn *connection, msg types.InboundMessage, key, conv string, cmd activation.Command) {
	surface := m.opts.Surface
	var reply string

	switch cmd.Name {
	case activation.CommandActivation:
		if cmd.Arg == "" {
			reply = fmt.Sprintf("Activation: %s", m.activationMode(ctx, key, conv))
			break
		}
		mode, ok := cmd.Mode()
		if !ok {
			reply = "Usage: /activation mention|always"
			break
		}
		if m.opts.Store != nil {
			if err := m.opts.Store.SetActivation(ctx, key, string(mode)); err != nil {
				L_error("monitor: failed to save activation", "surface", surface, "session", key, "error", err)
				reply = "⚠️ Could not save activation mode."
				break
			}
		}
		L_info("monitor: activation changed", "surface", surface, "session", key, "mode", mode)
		reply = fmt.Sprintf("Activation set to %s.", mode)
	case activation.CommandStatus:
		reply = m.Status().Summary() + fmt.Sprintf("\nActivation: %s", m.activationMode(ctx, key, conv))
	default:
		return
	}

	payload := types.ReplyPayload{Text: reply, ReplyToID: msg.ID}
	if _, err := conn.engine.Deliver(ctx, payload, msg.From); err != nil {
		L_warn("monitor: command reply failed", "surface", surface, "command", cmd.Name, "error", err)
	}
}

// activationMode reads the persisted mode, falling back to config.
func (m *Monitor) activationMode(ctx context.Context, key, conv string) activation.Mode {
	if m.opts.Store != nil {
		stored, err := m.opts.Store.GetActivation(ctx, key)
		if err != nil {
			L_warn("monitor: activation lookup failed, using default", "session", key, "error", err)
		} else if mode, ok := activation.ParseMode(stored); ok {
			return mode
		}
	}
	return activation.DefaultMode(m.opts.RequireMention(conv))
}

func (m *Monitor) touch(ctx context.Context, key string, at time.Time) {
	if m.opts.Store == nil {
		return
	}
	m.writes.Go("touch session", func() error {
		return m.opts.Store.Touch(context.WithoutCancel(ctx), key, at)
	})
}

// buildEnvelope composes the resolver input for one message.
func buildEnvelope(surface, key, conv string, msg types.InboundMessage, prior []grouphistory.Entry, now time.Time) types.Envelope {
	body := messageText(msg)
	if msg.IsGroup() {
		body = msg.SenderLabel() + ": " + body
	}
	text := grouphistory.Compose(prior, body)
	if msg.IsGroup() && msg.GroupSubject != "" {
		text = fmt.Sprintf("[Group: %s]\n%s", msg.GroupSubject, text)
	}

	return types.Envelope{
		ID:             uuid.NewString(),
		Surface:        surface,
		SessionKey:     key,
		ConversationID: conv,
		ChatType:       msg.ChatType,
		From:           msg.From,
		Text:           text,
		Message:        msg,
		ReceivedAt:     now,
	}
}

// messageText renders the body with quoted context and attachment notes.
func messageText(msg types.InboundMessage) string {
	var sb strings.Builder
	sb.WriteString(msg.Body)
	if msg.MediaPath != "" {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "[media attached: %s (%s)]", msg.MediaPath, msg.MediaType)
	}
	if msg.ReplyToBody != "" {
		sender := msg.ReplyToSender
		if sender == "" {
			sender = "unknown"
		}
		fmt.Fprintf(&sb, "\n\n[Replying to %s: %s]", sender, msg.ReplyToBody)
	}
	return sb.String()
}

// historyBody is the one-line form kept in group history.
func historyBody(msg types.InboundMessage) string {
	body := strings.TrimSpace(msg.Body)
	if msg.MediaPath != "" {
		note := "<media:" + msg.MediaType + ">"
		if body == "" {
			return note
		}
		return body + " " + note
	}
	return body
}
