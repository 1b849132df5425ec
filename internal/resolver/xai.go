package resolver

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/roelfdiedericks/xai-go"

	"github.com/roelfdiedericks/clawrelay/internal/config"
	. "github.com/roelfdiedericks/clawrelay/internal/logging"
	. "github.com/roelfdiedericks/clawrelay/internal/metrics"
	"github.com/roelfdiedericks/clawrelay/internal/types"
)

// DefaultXAIModel is used when no model is configured.
const DefaultXAIModel = "grok-4-fast"

// XAI resolves replies with xAI's gRPC chat API.
type XAI struct {
	apiKey    string
	model     string
	maxTokens int
	timeout   time.Duration
	system    string

	clientMu sync.Mutex
	client   *xai.Client
}

// NewXAI creates an xAI resolver. The API key falls back to XAI_API_KEY.
// The client is connected lazily on first use.
func NewXAI(cfg config.ResolverConfig) (*XAI, error) {
	key := apiKey(cfg.APIKey, "XAI_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("xai API key not configured")
	}
	model := cfg.Model
	if model == "" {
		model = DefaultXAIModel
	}
	return &XAI{
		apiKey:    key,
		model:     model,
		maxTokens: cfg.MaxTokens,
		timeout:   time.Duration(cfg.TimeoutSeconds) * time.Second,
		system:    systemPrompt(cfg),
	}, nil
}

func (x *XAI) Name() string {
	return "xai"
}

// getClient returns the xAI client, creating it lazily on first call.
func (x *XAI) getClient() (*xai.Client, error) {
	x.clientMu.Lock()
	defer x.clientMu.Unlock()

	if x.client != nil {
		return x.client, nil
	}

	cfg := xai.Config{
		APIKey: xai.NewSecureString(x.apiKey),
	}
	if x.timeout > 0 {
		cfg.Timeout = x.timeout
	}

	client, err := xai.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create xai client: %w", err)
	}
	x.client = client
	L_debug("xai client: initialized", "model", x.model)
	return x.client, nil
}

func (x *XAI) Resolve(ctx context.Context, env types.Envelope, hooks Hooks) ([]types.ReplyPayload, error) {
	client, err := x.getClient()
	if err != nil {
		return nil, err
	}
	hooks.ReplyStart(ctx)

	req := xai.NewChatRequest().
		WithModel(x.model).
		WithMaxTokens(safeInt32(x.maxTokens))
	req.SystemMessage(xai.SystemContent{Text: x.system})
	req.UserMessage(xai.UserContent{Text: env.Text})

	resp, err := client.CompleteChat(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("xai: %w", err)
	}

	L_debug("xai: reply completed",
		"inputTokens", resp.Usage.PromptTokens,
		"outputTokens", resp.Usage.CompletionTokens,
		"responseLen", len(resp.Content),
	)
	MetricAdd("xai", "input_tokens", int64(resp.Usage.PromptTokens))
	MetricAdd("xai", "output_tokens", int64(resp.Usage.CompletionTokens))

	return PayloadsFromText(resp.Content), nil
}

// safeInt32 converts int to int32 with bounds checking to prevent overflow.
func safeInt32(n int) int32 {
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	if n < math.MinInt32 {
		return math.MinInt32
	}
	return int32(n)
}
