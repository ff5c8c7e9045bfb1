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

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "coordinator.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_DefaultsAreValid(t *testing.T) {
	cfg, err := LoadWithEnv("", envMap(nil))
	require.NoError(t, err)

	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, 30*time.Second, cfg.TTL.Lock())
	assert.Equal(t, 2*time.Second, cfg.Store.DialTimeout())
	assert.False(t, cfg.Alerting.Enabled())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
store:
  url: redis://cache:6380/2
  key_prefix: interviews
ttl:
  lock_seconds: 45
failover:
  failure_threshold: 5
providers:
  - name: primary
    base_url: https://api.openai.com/v1
    api_key_env: OPENAI_API_KEY
    transcription_model: whisper-1
`)

	cfg, err := LoadWithEnv(path, envMap(nil))
	require.NoError(t, err)

	assert.Equal(t, "redis://cache:6380/2", cfg.Store.URL)
	assert.Equal(t, "interviews", cfg.Store.KeyPrefix)
	assert.Equal(t, 45, cfg.TTL.LockSeconds)
	assert.Equal(t, 5, cfg.Failover.FailureThreshold)
	// Untouched fields keep defaults.
	assert.Equal(t, 10, cfg.Store.PoolSize)
	assert.Equal(t, 180, cfg.Failover.RateLimitCooldownSeconds)
	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "whisper-1", cfg.Providers[0].TranscriptionModel)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "store:\n  url: redis://file:6379/0\n")

	cfg, err := LoadWithEnv(path, envMap(map[string]string{
		EnvRedisURL:       "rediss://env:6379/1",
		EnvTelegramToken:  "token",
		EnvTelegramChatID: "1234",
		EnvOriginDSN:      "postgres://u:p@db/coord?sslmode=disable",
		EnvLockTTL:        "12",
	}))
	require.NoError(t, err)

	assert.Equal(t, "rediss://env:6379/1", cfg.Store.URL)
	assert.True(t, cfg.Alerting.Enabled())
	assert.Equal(t, "postgres", cfg.Origin.Driver)
	assert.Equal(t, 12, cfg.TTL.LockSeconds)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadWithEnv(filepath.Join(t.TempDir(), "absent.yaml"), envMap(nil))
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := LoadWithEnv(writeConfig(t, "store: [unclosed"), envMap(nil))
		assert.Error(t, err)
	})

	t.Run("bad numeric env", func(t *testing.T) {
		_, err := LoadWithEnv("", envMap(map[string]string{EnvLockTTL: "soon"}))
		assert.ErrorContains(t, err, EnvLockTTL)
	})

	t.Run("validation failure", func(t *testing.T) {
		_, err := LoadWithEnv(writeConfig(t, "ttl:\n  lock_seconds: 0\n"), envMap(nil))
		assert.ErrorContains(t, err, "LockSeconds")
	})

	t.Run("postgres without dsn", func(t *testing.T) {
		_, err := LoadWithEnv(writeConfig(t, "origin:\n  driver: postgres\n"), envMap(nil))
		assert.ErrorContains(t, err, "DSN")
	})

	t.Run("provider without name", func(t *testing.T) {
		_, err := LoadWithEnv(writeConfig(t, "providers:\n  - api_key_env: K\n"), envMap(nil))
		assert.ErrorContains(t, err, "Name")
	})
}
