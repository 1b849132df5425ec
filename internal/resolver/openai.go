package resolver

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/roelfdiedericks/clawrelay/internal/config"
	. "github.com/roelfdiedericks/clawrelay/internal/logging"
	. "github.com/roelfdiedericks/clawrelay/internal/metrics"
	"github.com/roelfdiedericks/clawrelay/internal/types"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAI resolves replies with any OpenAI-compatible chat completions API
// (OpenAI, LM Studio, Ollama, OpenRouter, ...).
type OpenAI struct {
	client    *openai.Client
	model     string
	maxTokens int
	system    string
}

// NewOpenAI creates an OpenAI-compatible resolver. The API key falls back
// to OPENAI_API_KEY; local servers usually accept any key.
func NewOpenAI(cfg config.ResolverConfig) (*OpenAI, error) {
	key := apiKey(cfg.APIKey, "OPENAI_API_KEY")
	if key == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("openai API key not configured")
	}
	if key == "" {
		key = "not-needed"
	}

	clientConfig := openai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}

	L_debug("openai resolver created", "model", model, "baseURL", clientConfig.BaseURL, "maxTokens", cfg.MaxTokens)

	return &OpenAI{
		client:    openai.NewClientWithConfig(clientConfig),
		model:     model,
		maxTokens: cfg.MaxTokens,
		system:    systemPrompt(cfg),
	}, nil
}

func (o *OpenAI) Name() string {
	return "openai"
}

func (o *OpenAI) Resolve(ctx context.Context, env types.Envelope, hooks Hooks) ([]types.ReplyPayload, error) {
	hooks.ReplyStart(ctx)

	user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: env.Text}
	if mimeType, data, ok := inlineImage(env); ok {
		user = openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: env.Text},
				{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    "data:" + mimeType + ";base64," + data,
						Detail: openai.ImageURLDetailAuto,
					},
				},
			},
		}
	}

	req := openai.ChatCompletionRequest{
		Model:     o.model,
		MaxTokens: o.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: o.system},
			user,
		},
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: response has no choices")
	}

	L_debug("response received",
		"finishReason", resp.Choices[0].FinishReason,
		"inputTokens", resp.Usage.PromptTokens,
		"outputTokens", resp.Usage.CompletionTokens,
	)
	MetricAdd("openai", "input_tokens", int64(resp.Usage.PromptTokens))
	MetricAdd("openai", "output_tokens", int64(resp.Usage.CompletionTokens))

	return PayloadsFromText(resp.Choices[0].Message.Content), nil
}
