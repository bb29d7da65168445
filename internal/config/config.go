// Package config loads engine configuration from environment variables
// with sensible defaults and validates it before anything starts.
//
// Environment Variables:
//
// Query limits:
//   - ENGINE_DEFAULT_PAGE_SIZE: page size applied when a query has no take (default: 50)
//   - ENGINE_MAX_PAGE_SIZE: hard ceiling a take is clamped to (default: 100)
//
// Resilience:
//   - ENGINE_RETRY_MAX_ATTEMPTS: attempts per backend call, including the first (default: 3)
//   - ENGINE_RETRY_BASE_DELAY: delay before the first retry (default: 50ms)
//   - ENGINE_RETRY_MAX_DELAY: cap on the backoff growth (default: 2s)
//   - ENGINE_BREAKER_THRESHOLD: consecutive failures that open a backend's circuit (default: 5)
//   - ENGINE_BREAKER_COOLDOWN: how long an open circuit waits before probing (default: 30s)
//
// Result cache:
//   - ENGINE_CACHE_ENABLED: enable the read-through result cache (default: false)
//   - ENGINE_CACHE_BACKEND: "local" or "redis" (default: local)
//   - ENGINE_CACHE_TTL: entry lifetime (default: 30s)
//
// Change events:
//   - ENGINE_EVENTS_ENABLED: emit change events after committed writes (default: false)
//   - ENGINE_EVENTS_EMITTER: "amqp", "kafka" or "redis" (default: amqp)
//
// Backends:
//   - ENGINE_SCHEMA_PATH: schema description file (default: ./schema.json)
//   - ENGINE_SQLITE_PATH: SQLite database file (default: ./engine.db)
//   - ENGINE_POSTGRES_DSN: PostgreSQL connection string
//   - ENGINE_REDIS_ADDR: Redis server address (default: localhost:6379)
//   - ENGINE_REDIS_PASSWORD: Redis password
//   - ENGINE_REDIS_DB: Redis database number 0-15 (default: 0)
//   - ENGINE_AMQP_URL: AMQP connection URL
//   - ENGINE_AMQP_EXCHANGE: exchange change events publish to (default: engine.events)
//   - ENGINE_KAFKA_BROKERS: Kafka bootstrap servers
//   - ENGINE_KAFKA_TOPIC: topic change events produce to (default: engine.events)
//
// Logging:
//   - LOG_LEVEL: debug, info, warn or error (default: info)
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"data-engine/internal/common/validation"
)

// Config holds every tunable of an engine process. Load fills it from the
// environment; Validate must pass before the values are used.
type Config struct {
	LogLevel   string
	SchemaPath string

	// Query limits
	DefaultPageSize int
	MaxPageSize     int

	// Retry and circuit breaker settings for backend calls
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration

	// Result cache
	CacheEnabled bool
	CacheBackend string
	CacheTTL     time.Duration

	// Change events
	EventsEnabled bool
	EventsEmitter string

	// Backend connections
	SQLitePath    string
	PostgresDSN   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	AMQPURL       string
	AMQPExchange  string
	KafkaBrokers  string
	KafkaTopic    string
}

// Load creates a Config from the environment. Unset variables fall back to
// their defaults; call Validate before using the result.
func Load() *Config {
	return &Config{
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		SchemaPath: getEnv("ENGINE_SCHEMA_PATH", "./schema.json"),

		DefaultPageSize: getIntEnv("ENGINE_DEFAULT_PAGE_SIZE", 50),
		MaxPageSize:     getIntEnv("ENGINE_MAX_PAGE_SIZE", 100),

		RetryMaxAttempts: getIntEnv("ENGINE_RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:   getDurationEnv("ENGINE_RETRY_BASE_DELAY", 50*time.Millisecond),
		RetryMaxDelay:    getDurationEnv("ENGINE_RETRY_MAX_DELAY", 2*time.Second),
		BreakerThreshold: getIntEnv("ENGINE_BREAKER_THRESHOLD", 5),
		BreakerCooldown:  getDurationEnv("ENGINE_BREAKER_COOLDOWN", 30*time.Second),

		CacheEnabled: getBoolEnv("ENGINE_CACHE_ENABLED", false),
		CacheBackend: getEnv("ENGINE_CACHE_BACKEND", "local"),
		CacheTTL:     getDurationEnv("ENGINE_CACHE_TTL", 30*time.Second),

		EventsEnabled: getBoolEnv("ENGINE_EVENTS_ENABLED", false),
		EventsEmitter: getEnv("ENGINE_EVENTS_EMITTER", "amqp"),

		SQLitePath:    getEnv("ENGINE_SQLITE_PATH", "./engine.db"),
		PostgresDSN:   getEnv("ENGINE_POSTGRES_DSN", ""),
		RedisAddr:     getEnv("ENGINE_REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("ENGINE_REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("ENGINE_REDIS_DB", 0),
		AMQPURL:       getEnv("ENGINE_AMQP_URL", ""),
		AMQPExchange:  getEnv("ENGINE_AMQP_EXCHANGE", "engine.events"),
		KafkaBrokers:  getEnv("ENGINE_KAFKA_BROKERS", ""),
		KafkaTopic:    getEnv("ENGINE_KAFKA_TOPIC", "engine.events"),
	}
}

// Validate checks value ranges and the cross-field requirements of the
// enabled subsystems.
func (c *Config) Validate() error {
	v := validation.NewValidatorWithPrefix("config").
		RequireOneOf(c.LogLevel, []string{"debug", "info", "warn", "error"}, "LOG_LEVEL").
		RequirePositive(c.DefaultPageSize, "ENGINE_DEFAULT_PAGE_SIZE").
		RequirePositive(c.MaxPageSize, "ENGINE_MAX_PAGE_SIZE").
		RequirePositive(c.RetryMaxAttempts, "ENGINE_RETRY_MAX_ATTEMPTS").
		RequirePositiveDuration(c.RetryBaseDelay, "ENGINE_RETRY_BASE_DELAY").
		RequirePositiveDuration(c.RetryMaxDelay, "ENGINE_RETRY_MAX_DELAY").
		RequirePositive(c.BreakerThreshold, "ENGINE_BREAKER_THRESHOLD").
		RequirePositiveDuration(c.BreakerCooldown, "ENGINE_BREAKER_COOLDOWN").
		RequireRange(c.RedisDB, 0, 15, "ENGINE_REDIS_DB").
		Validate(func() error {
			if c.DefaultPageSize > c.MaxPageSize {
				return fmt.Errorf("ENGINE_DEFAULT_PAGE_SIZE must not exceed ENGINE_MAX_PAGE_SIZE")
			}
			return nil
		}).
		Validate(func() error {
			if c.RetryBaseDelay > c.RetryMaxDelay {
				return fmt.Errorf("ENGINE_RETRY_BASE_DELAY must not exceed ENGINE_RETRY_MAX_DELAY")
			}
			return nil
		})

	if c.CacheEnabled {
		v.RequireOneOf(c.CacheBackend, []string{"local", "redis"}, "ENGINE_CACHE_BACKEND").
			RequirePositiveDuration(c.CacheTTL, "ENGINE_CACHE_TTL").
			ValidateIf(c.CacheBackend == "redis", func() error {
				if c.RedisAddr == "" {
					return fmt.Errorf("ENGINE_REDIS_ADDR is required for the redis cache backend")
				}
				return nil
			})
	}

	if c.EventsEnabled {
		v.RequireOneOf(c.EventsEmitter, []string{"amqp", "kafka", "redis"}, "ENGINE_EVENTS_EMITTER").
			ValidateIf(c.EventsEmitter == "amqp", func() error {
				if c.AMQPURL == "" {
					return fmt.Errorf("ENGINE_AMQP_URL is required for the amqp emitter")
				}
				return nil
			}).
			ValidateIf(c.EventsEmitter == "kafka", func() error {
				if c.KafkaBrokers == "" {
					return fmt.Errorf("ENGINE_KAFKA_BROKERS is required for the kafka emitter")
				}
				return nil
			}).
			ValidateIf(c.EventsEmitter == "redis", func() error {
				if c.RedisAddr == "" {
					return fmt.Errorf("ENGINE_REDIS_ADDR is required for the redis emitter")
				}
				return nil
			})
	}

	return v.Error()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
