// Package config loads service configuration from an optional YAML file with
// environment variable overrides. Secrets (the Anthropic API key) come from
// the environment only and never from the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	SQLitePath string `yaml:"sqlite_path"`
	LogMode    string `yaml:"log_mode"`

	Anthropic AnthropicConfig `yaml:"anthropic"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

type AnthropicConfig struct {
	Model       string  `yaml:"model"`
	MaxTokens   int64   `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
	Environment string  `yaml:"environment"`
}

func Default() Config {
	return Config{
		ListenAddr: ":8080",
		SQLitePath: "psychobrio.db",
		LogMode:    "dev",
		Anthropic: AnthropicConfig{
			Model:       "claude-sonnet-4-20250514",
			MaxTokens:   800,
			Temperature: 0.3,
		},
		Tracing: TracingConfig{
			SampleRatio: 0.1,
			Environment: "dev",
		},
	}
}

// Load reads path when it exists, then applies environment overrides. An
// empty path skips the file entirely.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	overrideString(&c.ListenAddr, "PSYCHOBRIO_LISTEN_ADDR")
	overrideString(&c.SQLitePath, "PSYCHOBRIO_SQLITE_PATH")
	overrideString(&c.LogMode, "PSYCHOBRIO_LOG_MODE")
	overrideString(&c.Anthropic.Model, "PSYCHOBRIO_MODEL")
	overrideInt64(&c.Anthropic.MaxTokens, "PSYCHOBRIO_MAX_TOKENS")
	overrideFloat(&c.Anthropic.Temperature, "PSYCHOBRIO_TEMPERATURE")
	overrideString(&c.Tracing.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	overrideBool(&c.Tracing.Insecure, "OTEL_EXPORTER_OTLP_INSECURE")
	overrideFloat(&c.Tracing.SampleRatio, "OTEL_SAMPLER_RATIO")
	overrideString(&c.Tracing.Environment, "PSYCHOBRIO_ENV")
}

// APIKey returns the Anthropic key from the environment.
func (c *Config) APIKey() string {
	return strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
}

func overrideString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func overrideInt64(dst *int64, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func overrideFloat(dst *float64, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func overrideBool(dst *bool, key string) {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return
	}
	*dst = v == "1" || v == "true" || v == "yes" || v == "on"
}
