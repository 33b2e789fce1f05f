// Praetor - Detector and Approval Governance Engine
// Copyright 2026 Praetor Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/praetor-io/praetor

// Package config provides layered configuration for Praetor using Koanf v2:
// built-in defaults, then an optional YAML file, then environment variables.
// Configuration is loaded once at startup and immutable afterwards; detector
// threshold changes require re-registration, so there is no hot-reload.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/praetor-io/praetor/internal/detection"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig     `koanf:"server"`
	Logging   LoggingConfig    `koanf:"logging"`
	Audit     AuditConfig      `koanf:"audit"`
	Engine    EngineConfig     `koanf:"engine"`
	Ingest    IngestConfig     `koanf:"ingest"`
	Detectors []DetectorConfig `koanf:"detectors" validate:"dive"`
}

// ServerConfig configures the HTTP approval/export surface.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout time.Duration `koanf:"timeout"`

	// RateLimitPerMinute caps requests per client IP on the API routes.
	RateLimitPerMinute int `koanf:"rate_limit_per_minute" validate:"min=1"`
}

// LoggingConfig configures the zerolog output.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// AuditConfig selects and configures the audit log backend.
type AuditConfig struct {
	// Backend is "memory" (development, capped) or "badger" (durable).
	Backend string `koanf:"backend" validate:"oneof=memory badger"`

	// Path is the badger store directory. Required for the badger backend.
	Path string `koanf:"path"`

	// MaxEntries caps the memory backend.
	MaxEntries int `koanf:"max_entries" validate:"min=1"`
}

// EngineConfig bundles manager and gate timeouts.
type EngineConfig struct {
	// ActionTimeout bounds each action execution call.
	ActionTimeout time.Duration `koanf:"action_timeout"`
}

// IngestConfig configures the in-process event feed bridge.
type IngestConfig struct {
	Enabled bool `koanf:"enabled"`

	// Topic is the pub/sub topic carrying observed events.
	Topic string `koanf:"topic"`

	// BufferSize is the channel buffer between publisher and consumer.
	BufferSize int `koanf:"buffer_size" validate:"min=0"`
}

// DetectorConfig declares one detector instance: its type, the engine-level
// thresholds shared by all detector types, and type-specific options.
type DetectorConfig struct {
	ID   string `koanf:"id" validate:"required"`
	Type string `koanf:"type" validate:"required,oneof=anomaly rate_threshold pattern_match"`

	MinSupport          int           `koanf:"min_support"`
	ConfidenceThreshold float64       `koanf:"confidence_threshold" validate:"min=0,max=1"`
	MinVotes            int           `koanf:"min_votes"`
	DebounceWindow      time.Duration `koanf:"debounce_window"`

	Anomaly  detection.AnomalyOptions       `koanf:"anomaly"`
	Rate     detection.RateThresholdOptions `koanf:"rate"`
	Patterns []detection.PatternSpec        `koanf:"patterns"`
}

// EngineSettings converts the shared threshold block into the engine's
// detector config, filling unset values with engine defaults.
func (d DetectorConfig) EngineSettings() detection.Config {
	cfg := detection.DefaultConfig()
	if d.MinSupport > 0 {
		cfg.MinSupport = d.MinSupport
	}
	if d.ConfidenceThreshold > 0 {
		cfg.ConfidenceThreshold = d.ConfidenceThreshold
	}
	if d.MinVotes > 0 {
		cfg.MinVotes = d.MinVotes
	}
	if d.DebounceWindow > 0 {
		cfg.DebounceWindow = d.DebounceWindow
	}
	return cfg
}

// defaultConfig returns a Config with every default applied. Defaults are
// loaded first, then overridden by the config file and environment.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8632,
			Timeout:            30 * time.Second,
			RateLimitPerMinute: 300,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Audit: AuditConfig{
			Backend:    "memory",
			Path:       "/data/praetor/audit",
			MaxEntries: 100000,
		},
		Engine: EngineConfig{
			ActionTimeout: 10 * time.Second,
		},
		Ingest: IngestConfig{
			Enabled:    true,
			Topic:      "events.observed",
			BufferSize: 256,
		},
	}
}

// Validate checks the loaded configuration. Returns the first violation.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Audit.Backend == "badger" && c.Audit.Path == "" {
		return fmt.Errorf("audit.path is required for the badger backend")
	}

	seen := make(map[string]struct{}, len(c.Detectors))
	for _, d := range c.Detectors {
		if _, dup := seen[d.ID]; dup {
			return fmt.Errorf("duplicate detector id in config: %s", d.ID)
		}
		seen[d.ID] = struct{}{}

		if d.Type == "pattern_match" && len(d.Patterns) == 0 {
			return fmt.Errorf("detector %s: pattern_match needs at least one pattern", d.ID)
		}
	}

	return nil
}
