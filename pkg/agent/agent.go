// Package agent abstracts the transport to the decision-making agents: given
// a system prompt and a user payload, produce a text reply plus token usage.
// The runtime depends only on the Client capability; concrete variants cover
// hosted OpenAI-compatible vendor APIs and self-hosted HTTP endpoints.
package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Reply is the transport-level result of one agent call.
type Reply struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// InvokeConfig carries per-participant call settings. An empty Model falls
// back to the provider's default model; the rest falls back to provider
// defaults.
type InvokeConfig struct {
	Model       string
	Temperature *float64
	MaxTokens   *int
}

// Client produces a text reply for a system prompt and user payload.
type Client interface {
	Invoke(ctx context.Context, system, user string, cfg InvokeConfig) (*Reply, error)
}

// Registry resolves participants' provider tags to transport clients.
type Registry struct {
	cfg     *Config
	clients map[string]Client
}

// NewRegistry builds one client per configured provider.
func NewRegistry(cfg *Config) (*Registry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("agent: config is required")
	}
	clients := make(map[string]Client, len(cfg.Providers))
	for tag, provider := range cfg.Providers {
		switch provider.Kind {
		case ProviderKindOpenAI:
			client, err := NewOpenAIClient(provider)
			if err != nil {
				return nil, fmt.Errorf("agent: provider %s: %w", tag, err)
			}
			clients[tag] = client
		case ProviderKindEndpoint:
			client, err := NewEndpointClient(provider)
			if err != nil {
				return nil, fmt.Errorf("agent: provider %s: %w", tag, err)
			}
			clients[tag] = client
		default:
			return nil, fmt.Errorf("agent: provider %s: unknown kind %q", tag, provider.Kind)
		}
	}
	return &Registry{cfg: cfg, clients: clients}, nil
}

// Client returns the transport for a provider tag.
func (r *Registry) Client(provider string) (Client, error) {
	client, ok := r.clients[strings.TrimSpace(provider)]
	if !ok {
		return nil, fmt.Errorf("agent: unsupported provider %q", provider)
	}
	return client, nil
}

// EstimateCost prices one call from the configured per-model rates. Unpriced
// models cost zero.
func (r *Registry) EstimateCost(model string, promptTokens, completionTokens int) decimal.Decimal {
	pricing, ok := r.cfg.Pricing[model]
	if !ok {
		return decimal.Zero
	}
	perThousand := decimal.NewFromInt(1000)
	in := pricing.InputPer1K.Mul(decimal.NewFromInt(int64(promptTokens))).Div(perThousand)
	out := pricing.OutputPer1K.Mul(decimal.NewFromInt(int64(completionTokens))).Div(perThousand)
	return in.Add(out)
}
