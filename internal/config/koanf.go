// Vicinity - Civic Incident Reporting and Neighborhood Chat
// Copyright 2026 The Vicinity Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vicinity-app/chatsync

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where the config file is searched, first
// match wins.
var DefaultConfigPaths = []string{
	"chatsync.yaml",
	"chatsync.yml",
	"/etc/chatsync/config.yaml",
	"/etc/chatsync/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CHATSYNC_CONFIG"

// Load builds the configuration from layered sources:
//  1. built-in defaults
//  2. optional YAML config file
//  3. environment variables (highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are parsed from comma-separated env strings.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to config paths.
// Unmapped variables are skipped so unrelated environment noise never
// leaks into the configuration.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		"chatsync_host":                "server.host",
		"chatsync_port":                "server.port",
		"chatsync_http_timeout":        "server.timeout",
		"chatsync_cors_origins":        "server.cors_origins",
		"chatsync_rate_limit_requests": "server.rate_limit_requests",
		"chatsync_rate_limit_window":   "server.rate_limit_window",

		"vicinity_api_url":         "api.base_url",
		"vicinity_api_timeout":     "api.request_timeout",
		"vicinity_api_rate_limit":  "api.rate_limit",
		"vicinity_api_rate_burst":  "api.rate_burst",
		"vicinity_stream_url":      "stream.base_url",
		"stream_resync_threshold":  "stream.resync_threshold",
		"vicinity_session_token":   "identity.session_token",
		"vicinity_token_secret":    "identity.token_secret",
		"outbox_path":              "outbox.path",
		"outbox_sync_writes":       "outbox.sync_writes",
		"bus_enabled":              "bus.enabled",
		"bus_url":                  "bus.url",
		"bus_embedded":             "bus.embedded",
		"bus_host":                 "bus.host",
		"bus_port":                 "bus.port",
		"bus_max_reconnects":       "bus.max_reconnects",
		"bus_reconnect_wait":       "bus.reconnect_wait",
		"presence_typing_ttl":      "presence.typing_ttl",
		"log_level":                "logging.level",
		"log_format":               "logging.format",
		"log_caller":               "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
