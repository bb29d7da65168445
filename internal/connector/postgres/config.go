package postgres

import (
	"fmt"

	"data-engine/internal/schema"
)

// Config holds the PostgreSQL connector options. The DSN accepts both
// keyword and URL form, whatever pgx parses.
type Config struct {
	DSN    string
	Models *schema.Registry
}

func (c *Config) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("connection string is required")
	}
	if c.Models == nil {
		return fmt.Errorf("schema registry is required")
	}
	return nil
}

func (c *Config) GetType() string {
	return "postgres"
}

func DefaultConfig() *Config {
	return &Config{
		DSN: "postgres://postgres@localhost:5432/engine?sslmode=prefer",
	}
}
