// Package config loads the single Config value the cirrusflow binary wires
// up at boot: store location, pool sizing, deadlines, and the bearer tokens
// an external API layer would authenticate requests against. It is a plain
// value, not a process-wide singleton.
package config

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"cirrusflow/internal/engine"
)

// Config is everything cmd/cirrusflow needs to construct an Engine.
type Config struct {
	DBRoot string `yaml:"db_root"`

	WorkerPoolSize  int           `yaml:"worker_pool_size"`
	PerHostPoolSize int           `yaml:"per_host_pool_size"`
	StartDeadline   time.Duration `yaml:"start_deadline"`
	UpdateDeadline  time.Duration `yaml:"update_deadline"`
	PerHostSessions int           `yaml:"per_host_sessions"`

	BackoffBase   time.Duration `yaml:"backoff_base"`
	BackoffFactor float64       `yaml:"backoff_factor"`
	BackoffCap    time.Duration `yaml:"backoff_cap"`
	BackoffJitter float64       `yaml:"backoff_jitter"`

	SubmitRatePerSecond float64 `yaml:"submit_rate_per_second"`
	SubmitBurst         int     `yaml:"submit_burst"`

	HousekeepingCron string `yaml:"housekeeping_cron"`

	// AuthTokens is the bearer token allowlist an external API layer would
	// check against; the core never reads it itself, but it is carried here
	// since it is part of the same boot-time value.
	AuthTokens []string `yaml:"auth_tokens"`

	LogPath string `yaml:"log_path"`
}

// Default returns a Config with every tunable set to the defaults named
// across the concurrency model and engine config.
func Default() Config {
	ec := engine.DefaultConfig()
	return Config{
		DBRoot:              "./cirrusflow-data",
		WorkerPoolSize:      ec.WorkerPoolSize,
		PerHostPoolSize:     ec.PerHostPoolSize,
		StartDeadline:       ec.StartDeadline,
		UpdateDeadline:      ec.UpdateDeadline,
		PerHostSessions:     ec.PerHostSessions,
		BackoffBase:         ec.BackoffBase,
		BackoffFactor:       ec.BackoffFactor,
		BackoffCap:          ec.BackoffCap,
		BackoffJitter:       ec.BackoffJitter,
		SubmitRatePerSecond: float64(ec.SubmitRate),
		SubmitBurst:         ec.SubmitBurst,
		HousekeepingCron:    "@every 1h",
		LogPath:             "cirrusflow.log",
	}
}

// Load reads and parses a YAML config file at path, layering it over
// Default() so a partial file only needs to name the fields it overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// EngineConfig projects the subset of Config the engine package itself
// understands.
func (c Config) EngineConfig() engine.Config {
	return engine.Config{
		WorkerPoolSize:  c.WorkerPoolSize,
		PerHostPoolSize: c.PerHostPoolSize,
		StartDeadline:   c.StartDeadline,
		UpdateDeadline:  c.UpdateDeadline,
		PerHostSessions: c.PerHostSessions,
		BackoffBase:     c.BackoffBase,
		BackoffFactor:   c.BackoffFactor,
		BackoffCap:      c.BackoffCap,
		BackoffJitter:   c.BackoffJitter,
		SubmitRate:      rate.Limit(c.SubmitRatePerSecond),
		SubmitBurst:     c.SubmitBurst,
	}
}
