package agent

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Provider kinds.
const (
	// ProviderKindOpenAI covers every OpenAI-compatible chat-completions API
	// (OpenAI, DeepSeek, Qwen, Azure-style gateways) differing only in base
	// URL and key.
	ProviderKindOpenAI = "openai"
	// ProviderKindEndpoint is a self-hosted HTTP endpoint speaking the
	// {system, user, config} -> {text, tokens} contract.
	ProviderKindEndpoint = "endpoint"
)

const (
	defaultCallTimeout = 30 * time.Second
	defaultMaxRetries  = 2
)

// ProviderConfig describes one transport target.
type ProviderConfig struct {
	Kind         string        `yaml:"kind"`
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	APIKeyEnv    string        `yaml:"api_key_env"`
	DefaultModel string        `yaml:"default_model"`
	MaxRetries   int           `yaml:"max_retries"`
	Timeout      time.Duration `yaml:"-"`

	TimeoutRaw string `yaml:"timeout"`
}

// ModelPricing prices a model per 1000 tokens. The raw fields hold the YAML
// strings; the decimals are derived during normalization.
type ModelPricing struct {
	InputPer1K  decimal.Decimal `yaml:"-"`
	OutputPer1K decimal.Decimal `yaml:"-"`

	InputPer1KRaw  string `yaml:"input_per_1k"`
	OutputPer1KRaw string `yaml:"output_per_1k"`
}

// Config is the agent transport configuration: provider targets keyed by the
// tag participants carry, plus an optional pricing table for cost estimates.
type Config struct {
	Providers map[string]*ProviderConfig `yaml:"providers"`
	Pricing   map[string]ModelPricing    `yaml:"pricing"`
}

// LoadConfig reads an agent transport YAML file and applies defaults plus
// environment-sourced keys.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("agent: read config %s: %w", path, err)
	}
	raw = []byte(os.ExpandEnv(string(raw)))
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("agent: parse config %s: %w", path, err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("agent: config declares no providers")
	}
	for tag, provider := range c.Providers {
		if provider == nil {
			return fmt.Errorf("agent: provider %s: empty block", tag)
		}
		if provider.Kind == "" {
			provider.Kind = ProviderKindOpenAI
		}
		if provider.APIKey == "" && provider.APIKeyEnv != "" {
			provider.APIKey = strings.TrimSpace(os.Getenv(provider.APIKeyEnv))
		}
		if provider.MaxRetries <= 0 {
			provider.MaxRetries = defaultMaxRetries
		}
		timeout, err := parseTimeout(provider.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("agent: provider %s: invalid timeout %q: %w", tag, provider.TimeoutRaw, err)
		}
		provider.Timeout = timeout

		switch provider.Kind {
		case ProviderKindOpenAI:
			if provider.APIKey == "" {
				return fmt.Errorf("agent: provider %s: api key missing (set api_key or api_key_env)", tag)
			}
		case ProviderKindEndpoint:
			if strings.TrimSpace(provider.BaseURL) == "" {
				return fmt.Errorf("agent: provider %s: base_url required for endpoint kind", tag)
			}
		}
	}

	for model, pricing := range c.Pricing {
		if raw := strings.TrimSpace(pricing.InputPer1KRaw); raw != "" {
			value, err := decimal.NewFromString(raw)
			if err != nil {
				return fmt.Errorf("agent: pricing %s: input_per_1k: %w", model, err)
			}
			pricing.InputPer1K = value
		}
		if raw := strings.TrimSpace(pricing.OutputPer1KRaw); raw != "" {
			value, err := decimal.NewFromString(raw)
			if err != nil {
				return fmt.Errorf("agent: pricing %s: output_per_1k: %w", model, err)
			}
			pricing.OutputPer1K = value
		}
		c.Pricing[model] = pricing
	}
	return nil
}

func parseTimeout(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultCallTimeout, nil
	}
	return time.ParseDuration(raw)
}
