package config

import "fmt"

// StoreConfig selects where demandes are persisted.
type StoreConfig struct {
	// Backend is "memory" or "postgres".
	Backend string `json:"backend"`
	// DSN is the PostgreSQL connection string.
	DSN   string `json:"dsn"`
	Table string `json:"table"`
}

// SetDefaults applies sane defaults.
func (c *StoreConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "memory"
	}
	if c.Table == "" {
		c.Table = "demandes"
	}
}

// Validate checks mandatory fields.
func (c StoreConfig) Validate() error {
	switch c.Backend {
	case "memory":
	case "postgres":
		if c.DSN == "" {
			return fmt.Errorf("dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown store backend %s", c.Backend)
	}
	return nil
}
