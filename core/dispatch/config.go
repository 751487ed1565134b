package dispatch

import (
	"fmt"
	"time"
)

// Config defines the candidate search and re-dispatch settings.
type Config struct {
	InitialRadiusKm        float64 `json:"initial_radius_km"`
	RadiusStepKm           float64 `json:"radius_step_km"`
	MaxRadiusKm            float64 `json:"max_radius_km"`
	MinCandidates          int     `json:"min_candidates"`
	RedispatchAfterSeconds int     `json:"redispatch_after_seconds"`
	SweepIntervalSeconds   int     `json:"sweep_interval_seconds"`
	// MaxRedispatchAttempts bounds sweeper re-dispatches before the demande
	// is cancelled by the system.
	MaxRedispatchAttempts int `json:"max_redispatch_attempts"`
	// NotifyTimeoutSeconds bounds the acceptance notification sent while
	// the demande is locked.
	NotifyTimeoutSeconds int `json:"notify_timeout_seconds"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.InitialRadiusKm == 0 {
		c.InitialRadiusKm = 10
	}
	if c.RadiusStepKm == 0 {
		c.RadiusStepKm = 10
	}
	if c.MaxRadiusKm == 0 {
		c.MaxRadiusKm = 50
	}
	if c.MinCandidates == 0 {
		c.MinCandidates = 3
	}
	if c.RedispatchAfterSeconds == 0 {
		c.RedispatchAfterSeconds = 120
	}
	if c.SweepIntervalSeconds == 0 {
		c.SweepIntervalSeconds = 15
	}
	if c.MaxRedispatchAttempts == 0 {
		c.MaxRedispatchAttempts = 5
	}
	if c.NotifyTimeoutSeconds == 0 {
		c.NotifyTimeoutSeconds = 5
	}
}

// Validate checks the radius bounds.
func (c Config) Validate() error {
	if c.InitialRadiusKm <= 0 || c.RadiusStepKm <= 0 {
		return fmt.Errorf("dispatch: radius and step must be positive")
	}
	if c.MaxRadiusKm < c.InitialRadiusKm {
		return fmt.Errorf("dispatch: max_radius_km %.1f below initial_radius_km %.1f", c.MaxRadiusKm, c.InitialRadiusKm)
	}
	if c.MinCandidates < 1 {
		return fmt.Errorf("dispatch: min_candidates must be at least 1")
	}
	if c.NotifyTimeoutSeconds < 0 {
		return fmt.Errorf("dispatch: notify_timeout_seconds must not be negative")
	}
	if c.MaxRedispatchAttempts < 0 {
		return fmt.Errorf("dispatch: max_redispatch_attempts must not be negative")
	}
	return nil
}

func (c Config) redispatchAfter() time.Duration {
	return time.Duration(c.RedispatchAfterSeconds) * time.Second
}

// NotifyTimeout returns NotifyTimeoutSeconds as a duration.
func (c Config) NotifyTimeout() time.Duration {
	return time.Duration(c.NotifyTimeoutSeconds) * time.Second
}

func (c Config) sweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}
