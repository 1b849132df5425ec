package resolver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	. "github.com/roelfdiedericks/clawrelay/internal/logging"
	"github.com/roelfdiedericks/clawrelay/internal/types"
)

// Command resolves replies by running an external program.
//
// The envelope is written to stdin as one JSON object. Each stdout line is
// one of:
//   - {"kind":"tool", "text":..., "mediaUrls":[...]}: streamed immediately
//   - {"text":..., "mediaUrl":..., "replyToId":...}: a final payload
//   - [ {...}, {...} ]: several final payloads
//   - anything else: plain text, joined into one final payload
type Command struct {
	path string
	args []string
}

// NewCommand creates a command resolver.
func NewCommand(path string, args []string) (*Command, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("resolver command not configured")
	}
	return &Command{path: path, args: args}, nil
}

func (c *Command) Name() string {
	return "command"
}

// CommandRequest is the JSON written to the command's stdin.
type CommandRequest struct {
	ID             string    `json:"id"`
	Surface        string    `json:"surface"`
	SessionKey     string    `json:"sessionKey"`
	ConversationID string    `json:"conversationId"`
	ChatType       string    `json:"chatType"`
	From           string    `json:"from"`
	SenderName     string    `json:"senderName,omitempty"`
	SenderE164     string    `json:"senderE164,omitempty"`
	Text           string    `json:"text"`
	Body           string    `json:"body"`
	MessageID      string    `json:"messageId,omitempty"`
	MediaPath      string    `json:"mediaPath,omitempty"`
	MediaType      string    `json:"mediaType,omitempty"`
	ReceivedAt     time.Time `json:"receivedAt"`
}

// commandLine is one structured stdout line.
type commandLine struct {
	Kind      string   `json:"kind,omitempty"`
	Text      string   `json:"text,omitempty"`
	MediaURL  string   `json:"mediaUrl,omitempty"`
	MediaURLs []string `json:"mediaUrls,omitempty"`
	ReplyToID string   `json:"replyToId,omitempty"`
}

func (l commandLine) payload() types.ReplyPayload {
	return types.ReplyPayload{Text: l.Text, MediaURL: l.MediaURL, MediaURLs: l.MediaURLs, ReplyToID: l.ReplyToID}
}

func newCommandRequest(env types.Envelope) CommandRequest {
	return CommandRequest{
		ID:             env.ID,
		Surface:        env.Surface,
		SessionKey:     env.SessionKey,
		ConversationID: env.ConversationID,
		ChatType:       string(env.ChatType),
		From:           env.From,
		SenderName:     env.Message.SenderName,
		SenderE164:     env.Message.SenderE164,
		Text:           env.Text,
		Body:           env.Message.Body,
		MessageID:      env.Message.ID,
		MediaPath:      env.Message.MediaPath,
		MediaType:      env.Message.MediaType,
		ReceivedAt:     env.ReceivedAt,
	}
}

func (c *Command) Resolve(ctx context.Context, env types.Envelope, hooks Hooks) ([]types.ReplyPayload, error) {
	input, err := json.Marshal(newCommandRequest(env))
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}

	cmd := exec.CommandContext(ctx, c.path, c.args...)
	cmd.Stdin = bytes.NewReader(append(input, '\n'))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	hooks.ReplyStart(ctx)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", c.path, err)
	}

	var (
		finals []types.ReplyPayload
		plain  []string
	)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(trimmed, "{"):
			var cl commandLine
			if err := json.Unmarshal([]byte(trimmed), &cl); err == nil {
				if cl.Kind == "tool" {
					hooks.ToolResult(ctx, cl.payload())
				} else {
					finals = append(finals, cl.payload())
				}
				continue
			}
		case strings.HasPrefix(trimmed, "["):
			var cls []commandLine
			if err := json.Unmarshal([]byte(trimmed), &cls); err == nil {
				for _, cl := range cls {
					finals = append(finals, cl.payload())
				}
				continue
			}
		}
		plain = append(plain, line)
	}
	scanErr := scanner.Err()

	if err := cmd.Wait(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			L_debug("resolver: command stderr", "stderr", msg)
			return nil, fmt.Errorf("command %s: %w: %s", c.path, err, msg)
		}
		return nil, fmt.Errorf("command %s: %w", c.path, err)
	}
	if scanErr != nil {
		return nil, fmt.Errorf("read command output: %w", scanErr)
	}

	if text := strings.TrimSpace(strings.Join(plain, "\n")); text != "" {
		finals = append(finals, PayloadsFromText(text)...)
	}
	return finals, nil
}
