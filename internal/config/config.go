// Package config loads the application configuration: the main YAML plus
// file-referenced sections for the agent transport and the market provider.
// A .env file is folded into the environment once, before anything reads it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/zeromicro/go-zero/core/conf"
)

var dotenvOnce sync.Once

// PostgresConf carries database settings. DSN falls back to the DATABASE_URL
// environment variable.
type PostgresConf struct {
	DSN string `json:",optional"`
}

// SchedulerConf tunes the two clocks and the decision fan-out width.
type SchedulerConf struct {
	MarkToMarketIntervalMinutes int `json:",default=1"`
	DecisionIntervalMinutes     int `json:",default=5"`
	MaxConcurrentInvocations    int `json:",default=4"`
}

// Config is the main application configuration.
type Config struct {
	Env       string        `json:",default=dev"`
	Postgres  PostgresConf  `json:",optional"`
	Scheduler SchedulerConf `json:",optional"`

	// Section files, resolved relative to the main config file.
	AgentsFile string `json:",default=agents.yaml"`
	MarketFile string `json:",default=market.yaml"`

	baseDir string
}

// Load reads the main configuration file with environment expansion.
func Load(path string) (*Config, error) {
	LoadDotenvOnce()

	var cfg Config
	if err := conf.Load(path, &cfg, conf.UseEnv()); err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	cfg.baseDir = filepath.Dir(path)

	if cfg.Postgres.DSN == "" {
		cfg.Postgres.DSN = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	}
	return &cfg, nil
}

// ResolvePath resolves a section file path relative to the main config file,
// expanding environment variables first.
func (c *Config) ResolvePath(file string) string {
	file = os.ExpandEnv(file)
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(c.baseDir, file)
}

// LoadDotenvOnce folds a .env file into the process environment. Existing
// variables win; set NO_DOTENV=1 to skip entirely.
func LoadDotenvOnce() {
	dotenvOnce.Do(func() {
		if os.Getenv("NO_DOTENV") == "1" {
			return
		}
		if envFile := os.Getenv("ENV_FILE"); envFile != "" {
			_ = godotenv.Load(envFile)
			return
		}
		_ = godotenv.Load()
	})
}
