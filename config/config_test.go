package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func mapLookup(env map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, zerolog.InfoLevel, cfg.Level())
	assert.Equal(t, "shadow", cfg.DuplicatePolicy)
	assert.False(t, cfg.RateLimit.Enabled)
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "linerpc.yaml", `
log_level: debug
max_line_bytes: 4096
duplicate_policy: reject
rate_limit:
  enabled: true
  rps: 5
state:
  path: /var/lib/linerpc/state
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, 4096, cfg.MaxLineBytes)
	assert.Equal(t, "reject", cfg.DuplicatePolicy)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 5.0, cfg.RateLimit.RPS)
	assert.Equal(t, 10, cfg.RateLimit.Burst)
	assert.Equal(t, "/var/lib/linerpc/state", cfg.State.Path)
	assert.Equal(t, "default", cfg.State.KeyID)
	require.NoError(t, cfg.Validate())
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeFile(t, "empty.yaml", ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "typo.yaml", "log_levle: debug\n"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "bad.yaml", "max_line_bytes: [1\n"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(mapLookup(map[string]string{
		"LINERPC_LOG_FORMAT":         "json",
		"LINERPC_MAX_LINE_BYTES":     "100",
		"LINERPC_RATE_LIMIT_ENABLED": "true",
		"LINERPC_RATE_LIMIT_RPS":     "2.5",
		"LINERPC_RATE_LIMIT_BURST":   "3",
		"LINERPC_METRICS_ADDR":       "127.0.0.1:9100",
		"LINERPC_STATE_PATH":         "state.bin",
		"LINERPC_LOG_LEVEL":          "",
		"LOG_LEVEL":                  "error",
	}))
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 100, cfg.MaxLineBytes)
	assert.Equal(t, RateLimitConfig{Enabled: true, RPS: 2.5, Burst: 3}, cfg.RateLimit)
	assert.Equal(t, "127.0.0.1:9100", cfg.MetricsAddr)
	assert.Equal(t, "state.bin", cfg.State.Path)
}

func TestApplyEnvInvalidNumber(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(mapLookup(map[string]string{"LINERPC_MAX_LINE_BYTES": "lots"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LINERPC_MAX_LINE_BYTES")
}

func TestLoadEnvFile(t *testing.T) {
	path := writeFile(t, ".env", "LINERPC_TEST_FROM_FILE=file\nLINERPC_TEST_PRESET=file\n")
	t.Setenv("LINERPC_TEST_PRESET", "process")
	t.Cleanup(func() { os.Unsetenv("LINERPC_TEST_FROM_FILE") })

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "file", os.Getenv("LINERPC_TEST_FROM_FILE"))
	assert.Equal(t, "process", os.Getenv("LINERPC_TEST_PRESET"))

	require.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")))
}

func TestValidate(t *testing.T) {
	key := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"zero line size", func(c *Config) { c.MaxLineBytes = 0 }, "max_line_bytes"},
		{"bad policy", func(c *Config) { c.DuplicatePolicy = "replace" }, "duplicate_policy"},
		{"zero rps", func(c *Config) { c.RateLimit = RateLimitConfig{Enabled: true, Burst: 1} }, "rate_limit.rps"},
		{"zero burst", func(c *Config) { c.RateLimit = RateLimitConfig{Enabled: true, RPS: 1} }, "rate_limit.burst"},
		{"disabled limit ignored", func(c *Config) { c.RateLimit = RateLimitConfig{} }, ""},
		{"key not base64", func(c *Config) { c.State.Key = "%%%" }, "state.key"},
		{"short key", func(c *Config) { c.State.Key = base64.StdEncoding.EncodeToString([]byte("short")) }, "32 bytes"},
		{"dotted key id", func(c *Config) { c.State.Key = key; c.State.KeyID = "a.b" }, "state.key_id"},
		{"valid key", func(c *Config) { c.State.Key = key }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestStateKey(t *testing.T) {
	cfg := Default()
	key, err := cfg.StateKey()
	require.NoError(t, err)
	assert.Nil(t, key)

	raw := []byte(strings.Repeat("z", 32))
	cfg.State.Key = base64.StdEncoding.EncodeToString(raw)
	key, err = cfg.StateKey()
	require.NoError(t, err)
	assert.Equal(t, raw, key)
}
