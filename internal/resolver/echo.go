package resolver

import (
	"context"
	"strings"

	"github.com/roelfdiedericks/clawrelay/internal/types"
)

// Echo replies with the sender's own message. Useful for checking a
// surface end to end without a backend.
type Echo struct{}

func (Echo) Name() string {
	return "echo"
}

func (Echo) Resolve(ctx context.Context, env types.Envelope, hooks Hooks) ([]types.ReplyPayload, error) {
	hooks.ReplyStart(ctx)
	body := strings.TrimSpace(env.Message.Body)
	if body == "" {
		return nil, nil
	}
	return []types.ReplyPayload{{Text: "echo: " + body, ReplyToID: env.Message.ID}}, nil
}
