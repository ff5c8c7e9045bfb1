// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads coordinator configuration.
//
// Precedence, lowest first: DefaultConfig, the YAML file (optional),
// COORD_* environment variables. The merged result is validated before it
// is returned.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file settings.
const (
	EnvRedisURL       = "COORD_REDIS_URL"
	EnvRedisPassword  = "COORD_REDIS_PASSWORD"
	EnvKeyPrefix      = "COORD_KEY_PREFIX"
	EnvTelegramToken  = "COORD_ALERT_TELEGRAM_TOKEN"
	EnvTelegramChatID = "COORD_ALERT_CHAT_ID"
	EnvOriginDSN      = "COORD_ORIGIN_DSN"
	EnvHTTPAddr       = "COORD_HTTP_ADDR"
	EnvLogLevel       = "COORD_LOG_LEVEL"
	EnvLockTTL        = "COORD_LOCK_TTL_SECONDS"
	EnvTelemetryTTL   = "COORD_TELEMETRY_TTL_SECONDS"
	EnvDraftTTL       = "COORD_DRAFT_TTL_SECONDS"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads path (if non-empty), applies environment overrides from the
// process environment and validates the result.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment lookup, used by tests.
func LoadWithEnv(path string, lookup LookupFunc) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read the config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse the config file %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks struct constraints.
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid config: %s failed %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config, lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("environment variable %s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str(EnvRedisURL, &cfg.Store.URL)
	str(EnvRedisPassword, &cfg.Store.Password)
	str(EnvKeyPrefix, &cfg.Store.KeyPrefix)
	str(EnvTelegramToken, &cfg.Alerting.TelegramToken)
	str(EnvTelegramChatID, &cfg.Alerting.ChatID)
	str(EnvHTTPAddr, &cfg.HTTP.Addr)
	str(EnvLogLevel, &cfg.Log.Level)
	if v, ok := lookup(EnvOriginDSN); ok && v != "" {
		cfg.Origin.DSN = v
		cfg.Origin.Driver = "postgres"
	}

	for key, dst := range map[string]*int{
		EnvLockTTL:      &cfg.TTL.LockSeconds,
		EnvTelemetryTTL: &cfg.TTL.TelemetrySeconds,
		EnvDraftTTL:     &cfg.TTL.DraftSeconds,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}
	return nil
}
