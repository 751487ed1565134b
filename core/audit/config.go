package audit

import "fmt"

// Config defines settings for the transition journal and its rotation.
type Config struct {
	// Backend selects the store type: "jsonl", "sqlite", "memory" or "none".
	Backend string `json:"backend"`
	// Path is the file location of the journal.
	Path string `json:"path"`
	// MaxSizeMB triggers rotation when the file exceeds this size in megabytes.
	MaxSizeMB int `json:"max_size_mb"`
	// MaxBackups limits the number of rotated files to keep.
	MaxBackups int `json:"max_backups"`
	// MaxAgeDays removes rotated files older than this number of days.
	MaxAgeDays int `json:"max_age_days"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "jsonl"
	}
	if c.Path == "" {
		c.Path = "transitions.jsonl"
	}
	if c.MaxSizeMB <= 0 {
		c.MaxSizeMB = 50
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	switch c.Backend {
	case "jsonl", "sqlite", "memory", "none":
	default:
		return fmt.Errorf("unknown audit backend %s", c.Backend)
	}
	if (c.Backend == "jsonl" || c.Backend == "sqlite") && c.Path == "" {
		return fmt.Errorf("audit path is required")
	}
	return nil
}

// Open builds the configured store.
func Open(c Config) (Store, error) {
	switch c.Backend {
	case "none":
		return NopStore{}, nil
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(c.Path)
	case "jsonl", "":
		return NewRotatingJSONLStore(c.Path, c.MaxSizeMB, c.MaxBackups, c.MaxAgeDays)
	default:
		return nil, fmt.Errorf("unknown audit backend %s", c.Backend)
	}
}
