package cache

import (
	"time"

	"github.com/go-redis/redis/v8"

	"data-engine/internal/common/errors"
)

// Type selects the cache backend
type Type string

const (
	TypeLocal Type = "local"
	TypeRedis Type = "redis"
)

// Config holds result-cache configuration
type Config struct {
	Type            Type          `json:"type"`
	TTL             time.Duration `json:"ttl"`
	CleanupInterval time.Duration `json:"cleanup_interval,omitempty"`
	KeyPrefix       string        `json:"key_prefix,omitempty"`
	RedisClient     *redis.Client `json:"-"`
}

func DefaultConfig() Config {
	return Config{
		Type:            TypeLocal,
		TTL:             30 * time.Second,
		CleanupInterval: 5 * time.Minute,
		KeyPrefix:       "engine:",
	}
}

// New builds the configured store wrapped in the result-cache keying layer.
func New(config Config) (*Results, error) {
	if config.TTL <= 0 {
		return nil, errors.ConfigurationError("cache ttl must be positive")
	}

	switch config.Type {
	case TypeLocal:
		return NewResults(NewLocalStore(config.TTL, config.CleanupInterval), config.TTL), nil

	case TypeRedis:
		if config.RedisClient == nil {
			return nil, errors.ConfigurationError("redis client required for redis cache")
		}
		return NewResults(NewRedisStore(config.RedisClient, config.KeyPrefix), config.TTL), nil

	default:
		return nil, errors.ConfigurationErrorf("unknown cache type: %s", config.Type)
	}
}
