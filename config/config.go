// Package config loads the service configuration from a YAML or JSON file
// with K_ prefixed environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/depannage/core/audit"
	"github.com/kilianp07/depannage/core/dispatch"
	"github.com/kilianp07/depannage/core/geo"
	"github.com/kilianp07/depannage/core/metrics"
	"github.com/kilianp07/depannage/infra/mqtt"
)

type Config struct {
	HTTP     HTTPConfig      `json:"http"`
	MQTT     mqtt.Config     `json:"mqtt"`
	Dispatch dispatch.Config `json:"dispatch"`
	Geo      geo.Config      `json:"geo"`
	Store    StoreConfig     `json:"store"`
	Audit    audit.Config    `json:"audit"`
	Metrics  metrics.Config  `json:"metrics"`
	Sentry   SentryConfig    `json:"sentry"`
	Logging  LoggingConfig   `json:"logging"`
}

// Default returns a configuration with every section defaulted, used when
// no file is given.
func Default() *Config {
	var cfg Config
	cfg.SetDefaults()
	return &cfg
}

// SetDefaults applies the defaults of every section.
func (c *Config) SetDefaults() {
	c.HTTP.SetDefaults()
	c.MQTT.SetDefaults()
	c.Dispatch.SetDefaults()
	c.Geo.SetDefaults()
	c.Store.SetDefaults()
	c.Audit.SetDefaults()
	c.Metrics.SetDefaults()
	c.Sentry.SetDefaults()
	c.Logging.SetDefaults()
}

// Validate checks every section.
func (c Config) Validate() error {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"http", c.HTTP.Validate},
		{"mqtt", c.MQTT.Validate},
		{"dispatch", c.Dispatch.Validate},
		{"geo", c.Geo.Validate},
		{"store", c.Store.Validate},
		{"audit", c.Audit.Validate},
		{"sentry", c.Sentry.Validate},
		{"logging", c.Logging.Validate},
	}
	for _, chk := range checks {
		if err := chk.fn(); err != nil {
			return fmt.Errorf("%s: %w", chk.name, err)
		}
	}
	return nil
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("K_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
