package market

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultBaseURL       = "https://api.binance.com"
	defaultTimeout       = 8 * time.Second
	defaultPriceCacheTTL = 60 * time.Second

	envBaseURL = "BINANCE_BASE_URL"
)

// Config holds market data provider settings.
type Config struct {
	BaseURL       string        `yaml:"base_url"`
	Symbols       []string      `yaml:"symbols"`
	Timeout       time.Duration `yaml:"-"`
	PriceCacheTTL time.Duration `yaml:"-"`

	TimeoutRaw       string `yaml:"timeout"`
	PriceCacheTTLRaw string `yaml:"price_cache_ttl"`
}

// LoadConfig reads a market configuration YAML file and applies defaults and
// environment overrides.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("market: read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("market: parse config %s: %w", path, err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	if env := strings.TrimSpace(os.Getenv(envBaseURL)); env != "" {
		c.BaseURL = env
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = defaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")

	var err error
	if c.Timeout, err = parseDurationDefault(c.TimeoutRaw, defaultTimeout); err != nil {
		return fmt.Errorf("market: invalid timeout %q: %w", c.TimeoutRaw, err)
	}
	if c.PriceCacheTTL, err = parseDurationDefault(c.PriceCacheTTLRaw, defaultPriceCacheTTL); err != nil {
		return fmt.Errorf("market: invalid price_cache_ttl %q: %w", c.PriceCacheTTLRaw, err)
	}
	if len(c.Symbols) == 0 {
		c.Symbols = []string{"BTCUSDT", "ETHUSDT", "BNBUSDT", "SOLUSDT"}
	}
	return nil
}

func parseDurationDefault(raw string, fallback time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	return time.ParseDuration(raw)
}
