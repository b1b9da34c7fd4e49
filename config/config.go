// Package config loads linerpcd settings.
//
// Settings are applied in layers, each overriding the previous one:
// built-in defaults, a YAML file, a .env file, LINERPC_* environment
// variables and finally command-line flags (handled by the caller).
package config

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/mnehpets/linerpc/jsonrpc"
	"github.com/mnehpets/linerpc/state"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "LINERPC_"

type Config struct {
	LogLevel        string          `yaml:"log_level"`
	LogFormat       string          `yaml:"log_format"`
	MaxLineBytes    int             `yaml:"max_line_bytes"`
	DuplicatePolicy string          `yaml:"duplicate_policy"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	MetricsAddr     string          `yaml:"metrics_addr"`
	State           StateConfig     `yaml:"state"`
}

// RateLimitConfig throttles request processing to RPS requests per second
// with bursts of up to Burst requests.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

// StateConfig locates the shared state snapshot. When Key is set the
// snapshot is sealed; Key is the base64 encoding of a 32 byte key.
type StateConfig struct {
	Path  string `yaml:"path"`
	KeyID string `yaml:"key_id"`
	Key   string `yaml:"key"`
}

func Default() *Config {
	return &Config{
		LogLevel:        "info",
		LogFormat:       "console",
		MaxLineBytes:    jsonrpc.DefaultMaxLineBytes,
		DuplicatePolicy: jsonrpc.Shadow.String(),
		RateLimit: RateLimitConfig{
			RPS:   100,
			Burst: 10,
		},
		State: StateConfig{
			KeyID: "default",
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path. An empty
// path yields the defaults. Unknown keys in the file are an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadEnvFile adds the variables of a .env file to the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

type envVar struct {
	name string
	set  func(c *Config, v string) error
}

var envVars = []envVar{
	{"LOG_LEVEL", func(c *Config, v string) error { c.LogLevel = v; return nil }},
	{"LOG_FORMAT", func(c *Config, v string) error { c.LogFormat = v; return nil }},
	{"MAX_LINE_BYTES", func(c *Config, v string) error { return parseInt(v, &c.MaxLineBytes) }},
	{"DUPLICATE_POLICY", func(c *Config, v string) error { c.DuplicatePolicy = v; return nil }},
	{"RATE_LIMIT_ENABLED", func(c *Config, v string) error { return parseBool(v, &c.RateLimit.Enabled) }},
	{"RATE_LIMIT_RPS", func(c *Config, v string) error { return parseFloat(v, &c.RateLimit.RPS) }},
	{"RATE_LIMIT_BURST", func(c *Config, v string) error { return parseInt(v, &c.RateLimit.Burst) }},
	{"METRICS_ADDR", func(c *Config, v string) error { c.MetricsAddr = v; return nil }},
	{"STATE_PATH", func(c *Config, v string) error { c.State.Path = v; return nil }},
	{"STATE_KEY_ID", func(c *Config, v string) error { c.State.KeyID = v; return nil }},
	{"STATE_KEY", func(c *Config, v string) error { c.State.Key = v; return nil }},
}

// ApplyEnv overrides fields from LINERPC_* variables found by lookup.
// A nil lookup reads the process environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	for _, ev := range envVars {
		name := EnvPrefix + ev.name
		v, ok := lookup(name)
		if !ok || v == "" {
			continue
		}
		if err := ev.set(c, v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func parseInt(v string, dst *int) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func parseFloat(v string, dst *float64) error {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return err
	}
	*dst = f
	return nil
}

func parseBool(v string, dst *bool) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("log_format must be console or json, got %q", c.LogFormat)
	}
	if c.MaxLineBytes <= 0 {
		return fmt.Errorf("max_line_bytes must be positive")
	}
	if _, err := jsonrpc.ParseDuplicatePolicy(c.DuplicatePolicy); err != nil {
		return fmt.Errorf("duplicate_policy: %w", err)
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.RPS <= 0 {
			return fmt.Errorf("rate_limit.rps must be positive")
		}
		if c.RateLimit.Burst < 1 {
			return fmt.Errorf("rate_limit.burst must be at least 1")
		}
	}
	if c.State.Key != "" {
		if c.State.KeyID == "" || strings.Contains(c.State.KeyID, ".") {
			return fmt.Errorf("state.key_id must be non-empty and must not contain '.'")
		}
		if _, err := c.StateKey(); err != nil {
			return err
		}
	}
	return nil
}

// Level returns the parsed log level, or info if it does not parse.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// StateKey decodes State.Key. It returns nil when no key is configured.
func (c *Config) StateKey() ([]byte, error) {
	if c.State.Key == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(c.State.Key)
	if err != nil {
		return nil, fmt.Errorf("state.key: %w", err)
	}
	if len(key) != state.KeySize {
		return nil, fmt.Errorf("state.key must decode to %d bytes, got %d", state.KeySize, len(key))
	}
	return key, nil
}
