package geo

import (
	"fmt"
	"time"
)

// Config defines spatial index settings.
type Config struct {
	// CellSizeDeg is the grid cell edge in degrees.
	CellSizeDeg float64 `json:"cell_size_deg"`
	// StaleAfterSeconds excludes technicians whose last position is older.
	StaleAfterSeconds int     `json:"stale_after_seconds"`
	AverageSpeedKmh   float64 `json:"average_speed_kmh"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.CellSizeDeg <= 0 {
		c.CellSizeDeg = 0.1
	}
	if c.StaleAfterSeconds <= 0 {
		c.StaleAfterSeconds = 300
	}
	if c.AverageSpeedKmh <= 0 {
		c.AverageSpeedKmh = DefaultSpeedKmh
	}
}

// Validate checks the settings.
func (c Config) Validate() error {
	if c.CellSizeDeg > 10 {
		return fmt.Errorf("cell_size_deg too large: %f", c.CellSizeDeg)
	}
	return nil
}

// StaleAfter returns the freshness threshold.
func (c Config) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterSeconds) * time.Second
}
