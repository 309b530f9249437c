// Package config loads the process-level knobs the orchestrator needs:
// defaults, overridden by an optional YAML file, overridden by environment
// variables — the same layering the teacher's top-level config package
// uses, scaled down to what this engine actually has to configure.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sykli/engine/pkg/logger"
)

// CacheConfig controls the content-addressed cache.
type CacheConfig struct {
	Dir         string        `json:"dir" yaml:"dir" env:"SYKLI_CACHE_DIR"`
	GCMaxAge    time.Duration `json:"gc_max_age" yaml:"gc_max_age" env:"SYKLI_CACHE_GC_MAX_AGE"`
	GCSchedule  string        `json:"gc_schedule" yaml:"gc_schedule" env:"SYKLI_CACHE_GC_SCHEDULE"`
}

// ServeConfig controls the long-running daemon mode (sykli serve).
type ServeConfig struct {
	Addr string `json:"addr" yaml:"addr" env:"SYKLI_SERVE_ADDR"`
}

// OrchestratorConfig controls the execution engine's defaults and limits.
type OrchestratorConfig struct {
	DefaultTimeout     time.Duration `json:"default_timeout" yaml:"default_timeout" env:"SYKLI_DEFAULT_TIMEOUT"`
	MaxRunDuration     time.Duration `json:"max_run_duration" yaml:"max_run_duration" env:"SYKLI_MAX_RUN_DURATION"`
	DispatchRatePerSec float64       `json:"dispatch_rate_per_sec" yaml:"dispatch_rate_per_sec" env:"SYKLI_DISPATCH_RATE"`
	RetryBaseDelay     time.Duration `json:"retry_base_delay" yaml:"retry_base_delay" env:"SYKLI_RETRY_BASE_DELAY"`
	RetryMaxDelay      time.Duration `json:"retry_max_delay" yaml:"retry_max_delay" env:"SYKLI_RETRY_MAX_DELAY"`
}

// EventBusConfig controls the optional HTTP/WS event surface.
type EventBusConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" env:"SYKLI_EVENTBUS_ENABLED"`
	Addr    string `json:"addr" yaml:"addr" env:"SYKLI_EVENTBUS_ADDR"`
}

// WebhookGateConfig controls the webhook gate approval receiver.
type WebhookGateConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" env:"SYKLI_WEBHOOK_ENABLED"`
	Addr    string `json:"addr" yaml:"addr" env:"SYKLI_WEBHOOK_ADDR"`
	Secret  string `json:"secret" yaml:"secret" env:"SYKLI_WEBHOOK_SECRET"`
}

// Config is the top-level configuration structure.
type Config struct {
	Cache        CacheConfig        `json:"cache" yaml:"cache"`
	Orchestrator OrchestratorConfig `json:"orchestrator" yaml:"orchestrator"`
	Logging      logger.Config      `json:"logging" yaml:"logging"`
	EventBus     EventBusConfig     `json:"event_bus" yaml:"event_bus"`
	Webhook      WebhookGateConfig  `json:"webhook" yaml:"webhook"`
	Serve        ServeConfig        `json:"serve" yaml:"serve"`
}

// New returns a Config populated with defaults.
func New() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		Cache: CacheConfig{
			Dir:        home + "/.sykli/cache",
			GCMaxAge:   7 * 24 * time.Hour,
			GCSchedule: "0 */6 * * *",
		},
		Orchestrator: OrchestratorConfig{
			DefaultTimeout:     300 * time.Second,
			MaxRunDuration:     10 * time.Minute,
			DispatchRatePerSec: 50,
			RetryBaseDelay:     1 * time.Second,
			RetryMaxDelay:      30 * time.Second,
		},
		Logging: logger.DefaultConfig(),
		EventBus: EventBusConfig{
			Enabled: false,
			Addr:    ":7777",
		},
		Webhook: WebhookGateConfig{
			Enabled: false,
			Addr:    ":7778",
		},
		Serve: ServeConfig{
			Addr: ":7779",
		},
	}
}

// Load builds a Config from defaults, an optional YAML file at path (skipped
// if path is empty or the file does not exist), a .env file in the working
// directory if present, and then environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := New()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	_ = godotenv.Load()

	if err := envdecode.Decode(cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return nil, fmt.Errorf("config: decode env: %w", err)
	}
	return cfg, nil
}
