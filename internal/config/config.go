// Package config loads amictl's connection and logging settings.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is amictl's top-level configuration.
type Config struct {
	AMI      AMIConfig `koanf:"ami"`
	LogLevel string    `koanf:"log_level"`
}

// AMIConfig holds the settings needed to open and authenticate an AMI
// session.
type AMIConfig struct {
	Host     string        `koanf:"host"`
	Port     int           `koanf:"port"`
	Username string        `koanf:"username"`
	Secret   string        `koanf:"secret"`
	Events   string        `koanf:"events"`
	Timeout  time.Duration `koanf:"timeout"`
}

// Load reads configuration from a YAML file at path, layers AMICTL_-prefixed
// environment variable overrides on top, and returns a fully populated
// Config. An empty path skips the file and env vars and defaults still
// apply; a non-empty path that cannot be loaded is an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		AMI: AMIConfig{
			Port:    5038,
			Events:  "off",
			Timeout: 10 * time.Second,
		},
		LogLevel: "info",
	}

	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %q: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("AMICTL_", ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, "AMICTL_")),
			"_", ".",
		)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if cfg.AMI.Host == "" {
		return nil, fmt.Errorf("ami.host is required")
	}
	if cfg.AMI.Username == "" {
		return nil, fmt.Errorf("ami.username is required")
	}

	return &cfg, nil
}
