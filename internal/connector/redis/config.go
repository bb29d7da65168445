package redis

import (
	"fmt"

	"data-engine/internal/schema"
)

// Config holds the Redis connector options. Models supplies the field
// types used to rehydrate stored documents; KeyPrefix namespaces all keys
// so several engines can share one instance.
type Config struct {
	Addr      string
	Password  string
	DB        int
	PoolSize  int
	KeyPrefix string
	Models    *schema.Registry
}

func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("redis address is required")
	}
	if c.Models == nil {
		return fmt.Errorf("schema registry is required")
	}
	return nil
}

func (c *Config) GetType() string {
	return "redis"
}

func DefaultConfig() *Config {
	return &Config{
		Addr:      "localhost:6379",
		PoolSize:  10,
		KeyPrefix: "engine",
	}
}
