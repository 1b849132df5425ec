package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/roelfdiedericks/clawrelay/internal/config"
	. "github.com/roelfdiedericks/clawrelay/internal/logging"
	. "github.com/roelfdiedericks/clawrelay/internal/metrics"
	"github.com/roelfdiedericks/clawrelay/internal/types"
)

// DefaultAnthropicModel is used when no model is configured.
const DefaultAnthropicModel = "claude-sonnet-4-5"

// Anthropic resolves replies with the Messages API.
// Supports custom BaseURL for Anthropic-compatible APIs.
type Anthropic struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	system    string
}

// NewAnthropic creates an Anthropic resolver. The API key falls back to
// ANTHROPIC_API_KEY.
func NewAnthropic(cfg config.ResolverConfig) (*Anthropic, error) {
	key := apiKey(cfg.APIKey, "ANTHROPIC_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("anthropic API key not configured")
	}

	opts := []option.RequestOption{option.WithAPIKey(key)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = DefaultAnthropicModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "(default)"
	}
	L_debug("anthropic resolver created", "model", model, "baseURL", baseURL, "maxTokens", maxTokens)

	return &Anthropic{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: int64(maxTokens),
		system:    systemPrompt(cfg),
	}, nil
}

func (a *Anthropic) Name() string {
	return "anthropic"
}

func (a *Anthropic) Resolve(ctx context.Context, env types.Envelope, hooks Hooks) ([]types.ReplyPayload, error) {
	hooks.ReplyStart(ctx)

	blocks := []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(env.Text)}
	if mimeType, data, ok := inlineImage(env); ok {
		blocks = append(blocks, anthropic.NewImageBlockBase64(mimeType, data))
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: a.system}},
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
	}

	message, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	var text strings.Builder
	for _, block := range message.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(variant.Text)
		}
	}

	L_debug("response received",
		"stopReason", message.StopReason,
		"inputTokens", message.Usage.InputTokens,
		"outputTokens", message.Usage.OutputTokens,
	)
	MetricAdd("anthropic", "input_tokens", message.Usage.InputTokens)
	MetricAdd("anthropic", "output_tokens", message.Usage.OutputTokens)

	return PayloadsFromText(text.String()), nil
}
