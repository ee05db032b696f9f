package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/tailscale/hujson"
)

var envTemplateRe = regexp.MustCompile(`\$\{\{\s*\.Env\.(\w+)\s*\}\}`)

// Load reads a JSONC config file, strips comments, expands ${{ .Env.VAR }} templates,
// unmarshals it into Config, and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variable templates (before stripping, since templates are in strings)
	expanded := expandEnvTemplates(string(data))

	// Strip JSONC comments and trailing commas, then unmarshal
	std, err := hujson.Standardize([]byte(expanded))
	if err != nil {
		return nil, fmt.Errorf("standardize config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(std, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns a config with every default applied, for running without
// a config file.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// expandEnvTemplates replaces ${{ .Env.VAR }} with the env var value.
func expandEnvTemplates(s string) string {
	return envTemplateRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envTemplateRe.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		return os.Getenv(parts[1])
	})
}

// applyDefaults fills in zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = "127.0.0.1"
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 18620
	}
	if cfg.Gateway.Auth.Mode == "" {
		if cfg.Gateway.Auth.ServiceURL != "" {
			cfg.Gateway.Auth.Mode = "remote"
		} else {
			cfg.Gateway.Auth.Mode = "static"
		}
	}
	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = 1024
	}
	if cfg.Session.Timeout == 0 {
		cfg.Session.Timeout = Duration(30 * time.Minute)
	}
	if cfg.Session.ConfirmTimeout == 0 {
		cfg.Session.ConfirmTimeout = Duration(5 * time.Minute)
	}
	if cfg.Session.SweepSpec == "" {
		cfg.Session.SweepSpec = "*/5 * * * *"
	}
	if cfg.Executor.MaxConcurrent <= 0 {
		cfg.Executor.MaxConcurrent = 4
	}
	if cfg.Executor.RetryBackoff == 0 {
		cfg.Executor.RetryBackoff = Duration(250 * time.Millisecond)
	}
	if cfg.Tools.CallTimeout == 0 {
		cfg.Tools.CallTimeout = Duration(30 * time.Second)
	}
	if cfg.Tools.DummyToken == "" {
		cfg.Tools.DummyToken = "dummy-token"
	}
	if cfg.Tools.Default == "" {
		cfg.Tools.Default = "local"
	}
	if cfg.Tools.WebSearch.MaxResults <= 0 {
		cfg.Tools.WebSearch.MaxResults = 5
	}
}
