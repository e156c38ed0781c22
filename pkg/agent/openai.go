package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/zeromicro/go-zero/core/logx"
)

// OpenAIClient speaks to any OpenAI-compatible chat-completions API. The
// provider's base URL selects the vendor; the call shape is identical.
type OpenAIClient struct {
	provider *ProviderConfig
	client   *openai.Client
	retry    *retryHandler
}

// OpenAIOption customises the client.
type OpenAIOption func(*OpenAIClient)

// WithOpenAIClient injects a pre-configured SDK client (primarily for tests).
func WithOpenAIClient(client *openai.Client) OpenAIOption {
	return func(c *OpenAIClient) {
		if client != nil {
			c.client = client
		}
	}
}

// NewOpenAIClient constructs a client for one provider target.
func NewOpenAIClient(provider *ProviderConfig, opts ...OpenAIOption) (*OpenAIClient, error) {
	if provider == nil {
		return nil, errors.New("agent: provider config is required")
	}
	c := &OpenAIClient{
		provider: provider,
		retry:    newRetryHandler(provider.MaxRetries),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		sdkOpts := []option.RequestOption{option.WithAPIKey(provider.APIKey)}
		if provider.BaseURL != "" {
			sdkOpts = append(sdkOpts, option.WithBaseURL(provider.BaseURL))
		}
		if provider.Timeout > 0 {
			sdkOpts = append(sdkOpts, option.WithRequestTimeout(provider.Timeout))
		}
		client := openai.NewClient(sdkOpts...)
		c.client = &client
	}
	return c, nil
}

// Invoke sends the system prompt and user payload and returns the reply text
// with token usage.
func (c *OpenAIClient) Invoke(ctx context.Context, system, user string, cfg InvokeConfig) (*Reply, error) {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = c.provider.DefaultModel
	}
	if model == "" {
		return nil, errors.New("agent: model is required")
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	}
	if cfg.Temperature != nil {
		params.Temperature = openai.Float(*cfg.Temperature)
	}
	if cfg.MaxTokens != nil {
		params.MaxCompletionTokens = openai.Int(int64(*cfg.MaxTokens))
	}

	var completion *openai.ChatCompletion
	err := c.retry.do(ctx, func() error {
		resp, callErr := c.client.Chat.Completions.New(ctx, params)
		if callErr != nil {
			logx.WithContext(ctx).Errorf("agent: chat completion failed model=%s error=%v", model, callErr)
			return callErr
		}
		completion = resp
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("agent: invoke model %s: %w", model, err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("agent: invoke model %s: empty completion", model)
	}

	return &Reply{
		Text:             completion.Choices[0].Message.Content,
		PromptTokens:     int(completion.Usage.PromptTokens),
		CompletionTokens: int(completion.Usage.CompletionTokens),
	}, nil
}
