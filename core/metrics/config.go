package metrics

import (
	"time"

	"github.com/kilianp07/depannage/core/factory"
)

// Config defines settings for metrics sinks.
type Config struct {
	Sinks []factory.ModuleConfig `json:"sinks"`
	// Path is where the HTTP server exposes the Prometheus registry.
	Path string `json:"path"`
	// FleetIntervalSeconds is how often technician counts are recorded.
	FleetIntervalSeconds int `json:"fleet_interval_seconds"`
}

// SetDefaults fills the metrics endpoint path and fleet interval.
func (c *Config) SetDefaults() {
	if c.Path == "" {
		c.Path = "/metrics"
	}
	if c.FleetIntervalSeconds <= 0 {
		c.FleetIntervalSeconds = 30
	}
}

// FleetInterval returns the fleet status recording period.
func (c Config) FleetInterval() time.Duration {
	return time.Duration(c.FleetIntervalSeconds) * time.Second
}
