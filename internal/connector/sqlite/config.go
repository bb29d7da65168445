package sqlite

import (
	"fmt"

	"data-engine/internal/schema"
)

// Config holds the SQLite connector options. Models supplies the table
// layout for migration and scanning; Path accepts ":memory:" for
// throwaway databases.
type Config struct {
	Path   string
	Models *schema.Registry
}

func (c *Config) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Models == nil {
		return fmt.Errorf("schema registry is required")
	}
	return nil
}

func (c *Config) GetType() string {
	return "sqlite"
}

func DefaultConfig() *Config {
	return &Config{
		Path: "engine.db",
	}
}
