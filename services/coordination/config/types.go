// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import "time"

// Config is the full coordinator configuration.
type Config struct {
	// Store: shared key-value store connection
	Store StoreConfig `yaml:"store"`

	// TTL: lifetimes of shared-store entries, in seconds
	TTL TTLConfig `yaml:"ttl"`

	// Failover: breaker thresholds for provider candidates
	Failover FailoverConfig `yaml:"failover"`

	// Alerting: operator channel for breaker-open notifications
	Alerting AlertingConfig `yaml:"alerting"`

	// Origin: authoritative snapshot store
	Origin OriginConfig `yaml:"origin"`

	// Providers: ordered upstream candidates, first is preferred
	Providers []ProviderConfig `yaml:"providers" validate:"dive"`

	// HTTP: operator surface
	HTTP HTTPConfig `yaml:"http"`

	// Log: level and format
	Log LogConfig `yaml:"log"`
}

type StoreConfig struct {
	URL                        string `yaml:"url" validate:"required"`          // e.g. redis://localhost:6379/0
	Username                   string `yaml:"username,omitempty"`
	Password                   string `yaml:"password,omitempty"`
	TLS                        bool   `yaml:"tls"`
	PoolSize                   int    `yaml:"pool_size" validate:"gte=1"`
	DialTimeoutMs              int    `yaml:"dial_timeout_ms" validate:"gte=1"`
	ReadTimeoutMs              int    `yaml:"read_timeout_ms" validate:"gte=1"`
	WriteTimeoutMs             int    `yaml:"write_timeout_ms" validate:"gte=1"`
	HealthCheckIntervalSeconds int    `yaml:"health_check_interval_seconds" validate:"gte=1"`
	KeyPrefix                  string `yaml:"key_prefix" validate:"required"`
}

type TTLConfig struct {
	DraftSeconds     int `yaml:"draft_seconds" validate:"gte=1"`
	TelemetrySeconds int `yaml:"telemetry_seconds" validate:"gte=1"`
	LockSeconds      int `yaml:"lock_seconds" validate:"gte=1"`
}

type FailoverConfig struct {
	FailureThreshold         int `yaml:"failure_threshold" validate:"gte=1"`
	CooldownSeconds          int `yaml:"cooldown_seconds" validate:"gte=1"`
	RateLimitCooldownSeconds int `yaml:"rate_limit_cooldown_seconds" validate:"gte=1"`
}

type AlertingConfig struct {
	TelegramToken  string `yaml:"telegram_token,omitempty"`
	ChatID         string `yaml:"chat_id,omitempty"`
	APIBaseURL     string `yaml:"api_base_url,omitempty"`
	QueueSize      int    `yaml:"queue_size" validate:"gte=1"`
	SendsPerMinute int    `yaml:"sends_per_minute" validate:"gte=1"`
}

// Enabled reports whether both the token and the recipient are configured.
func (a AlertingConfig) Enabled() bool {
	return a.TelegramToken != "" && a.ChatID != ""
}

type OriginConfig struct {
	// Driver is "postgres" or "badger".
	Driver             string `yaml:"driver" validate:"oneof=postgres badger"`
	DSN                string `yaml:"dsn,omitempty" validate:"required_if=Driver postgres"`
	SchemaName         string `yaml:"schema_name,omitempty"`
	SkipSchemaCreation bool   `yaml:"skip_schema_creation"`
	BadgerDir          string `yaml:"badger_dir,omitempty"` // empty means in-memory
}

type ProviderConfig struct {
	Name               string `yaml:"name" validate:"required"`
	BaseURL            string `yaml:"base_url,omitempty" validate:"omitempty,url"`
	APIKeyEnv          string `yaml:"api_key_env" validate:"required"`
	TranscriptionModel string `yaml:"transcription_model,omitempty"`
	ChatModel          string `yaml:"chat_model,omitempty"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr" validate:"required"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  *bool  `yaml:"json,omitempty"`
}

// DefaultConfig returns the configuration used for any field left unset.
func DefaultConfig() Config {
	return Config{
		Store: StoreConfig{
			URL:                        "redis://localhost:6379/0",
			PoolSize:                   10,
			DialTimeoutMs:              2000,
			ReadTimeoutMs:              1000,
			WriteTimeoutMs:             1000,
			HealthCheckIntervalSeconds: 15,
			KeyPrefix:                  "coord",
		},
		TTL: TTLConfig{
			DraftSeconds:     24 * 60 * 60,
			TelemetrySeconds: 30 * 24 * 60 * 60,
			LockSeconds:      30,
		},
		Failover: FailoverConfig{
			FailureThreshold:         3,
			CooldownSeconds:          60,
			RateLimitCooldownSeconds: 180,
		},
		Alerting: AlertingConfig{
			APIBaseURL:     "https://api.telegram.org",
			QueueSize:      64,
			SendsPerMinute: 20,
		},
		Origin: OriginConfig{
			Driver:     "badger",
			SchemaName: "coordination",
		},
		HTTP: HTTPConfig{Addr: ":8090"},
		Log:  LogConfig{Level: "info"},
	}
}

// Durations derived from the integer-second settings.

func (s StoreConfig) DialTimeout() time.Duration {
	return time.Duration(s.DialTimeoutMs) * time.Millisecond
}

func (s StoreConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutMs) * time.Millisecond
}

func (s StoreConfig) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutMs) * time.Millisecond
}

func (s StoreConfig) HealthCheckInterval() time.Duration {
	return time.Duration(s.HealthCheckIntervalSeconds) * time.Second
}

func (t TTLConfig) Draft() time.Duration     { return time.Duration(t.DraftSeconds) * time.Second }
func (t TTLConfig) Telemetry() time.Duration { return time.Duration(t.TelemetrySeconds) * time.Second }
func (t TTLConfig) Lock() time.Duration      { return time.Duration(t.LockSeconds) * time.Second }
