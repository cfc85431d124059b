// Vicinity - Civic Incident Reporting and Neighborhood Chat
// Copyright 2026 The Vicinity Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vicinity-app/chatsync

// Package config loads the chatsync agent configuration from layered
// sources with clear precedence: environment variables over an optional
// YAML file over built-in defaults.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the full agent configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server" validate:"required"`
	API      APIConfig      `koanf:"api" validate:"required"`
	Stream   StreamConfig   `koanf:"stream" validate:"required"`
	Identity IdentityConfig `koanf:"identity"`
	Outbox   OutboxConfig   `koanf:"outbox" validate:"required"`
	Bus      BusConfig      `koanf:"bus"`
	Presence PresenceConfig `koanf:"presence"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig configures the local ops HTTP server (health, metrics,
// control endpoints).
type ServerConfig struct {
	Host        string        `koanf:"host" validate:"required"`
	Port        int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout     time.Duration `koanf:"timeout" validate:"min=1s"`
	CORSOrigins []string      `koanf:"cors_origins"`

	RateLimitReqs   int           `koanf:"rate_limit_requests" validate:"min=0"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// APIConfig configures the chat backend REST client.
type APIConfig struct {
	BaseURL        string        `koanf:"base_url" validate:"required,url"`
	RequestTimeout time.Duration `koanf:"request_timeout" validate:"min=1s"`
	RateLimit      float64       `koanf:"rate_limit" validate:"gt=0"`
	RateBurst      int           `koanf:"rate_burst" validate:"min=1"`
}

// StreamConfig configures the websocket event streams.
type StreamConfig struct {
	BaseURL         string        `koanf:"base_url" validate:"required"`
	ResyncThreshold time.Duration `koanf:"resync_threshold" validate:"min=1s"`
}

// IdentityConfig carries the session credential. The token doubles as
// the bearer credential for the API and stream connections; its subject
// claim resolves the actor id.
type IdentityConfig struct {
	SessionToken string `koanf:"session_token"`
	// TokenSecret verifies the session token signature.
	TokenSecret string `koanf:"token_secret"`
}

// OutboxConfig configures the durable pending store.
type OutboxConfig struct {
	Path       string `koanf:"path" validate:"required"`
	SyncWrites bool   `koanf:"sync_writes"`
}

// BusConfig configures the sibling-instance bus.
type BusConfig struct {
	Enabled bool `koanf:"enabled"`
	// URL of an external NATS server. Empty with Embedded set means
	// this instance hosts the loopback broker.
	URL      string `koanf:"url"`
	Embedded bool   `koanf:"embedded"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port" validate:"min=0,max=65535"`

	MaxReconnects int           `koanf:"max_reconnects"`
	ReconnectWait time.Duration `koanf:"reconnect_wait"`
}

// PresenceConfig tunes presence tracking.
type PresenceConfig struct {
	TypingTTL time.Duration `koanf:"typing_ttl" validate:"min=1s"`
}

// LoggingConfig configures zerolog output.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal panic"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns the built-in defaults, applied before file and
// environment layers.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            7350,
			Timeout:         30 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		API: APIConfig{
			BaseURL:        "https://api.vicinity.app",
			RequestTimeout: 15 * time.Second,
			RateLimit:      10,
			RateBurst:      20,
		},
		Stream: StreamConfig{
			BaseURL:         "wss://api.vicinity.app",
			ResyncThreshold: 2 * time.Minute,
		},
		Outbox: OutboxConfig{
			Path:       "/data/chatsync/outbox",
			SyncWrites: true,
		},
		Bus: BusConfig{
			Enabled:       true,
			Embedded:      true,
			Host:          "127.0.0.1",
			Port:          4222,
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Presence: PresenceConfig{
			TypingTTL: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration against its struct constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	if c.Bus.Enabled && !c.Bus.Embedded && c.Bus.URL == "" {
		return fmt.Errorf("config validation: bus.url required when the bus is enabled without the embedded server")
	}
	return nil
}
