// Package redis emits change events over Redis pub/sub. Subscribers see
// events only while connected; the engine treats that as acceptable for a
// fire-and-forget change feed.
package redis

import (
	"context"

	"github.com/go-redis/redis/v8"

	"data-engine/internal/common/errors"
	"data-engine/internal/common/factory"
	"data-engine/internal/common/validation"
	"data-engine/internal/events"
)

// Config holds the Redis pub/sub emitter settings
type Config struct {
	Address  string
	Password string
	DB       int
	PoolSize int
	Channel  string
}

func (c *Config) Validate() error {
	if c.Channel == "" {
		c.Channel = "engine.changes"
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 5
	}
	return validation.NewValidatorWithPrefix("redis emitter").
		RequireString(c.Address, "address").
		RequireNonNegative(c.DB, "db").
		Error()
}

// Emitter publishes serialized events to a Redis channel
type Emitter struct {
	client  *redis.Client
	channel string
}

func NewEmitter(config *Config) (*Emitter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, errors.ConnectorError("redis-events", err)
	}

	return &Emitter{client: client, channel: config.Channel}, nil
}

// NewEmitterWithClient wraps an existing client, used by tests and by
// callers sharing one Redis connection pool across engine components.
func NewEmitterWithClient(client *redis.Client, channel string) *Emitter {
	if channel == "" {
		channel = "engine.changes"
	}
	return &Emitter{client: client, channel: channel}
}

func (e *Emitter) Name() string {
	return "redis"
}

func (e *Emitter) Emit(ctx context.Context, topic string, payload []byte) error {
	if topic == "" {
		topic = e.channel
	}
	if err := e.client.Publish(ctx, topic, payload).Err(); err != nil {
		return errors.TransientConnectorError("redis-events", err)
	}
	return nil
}

func (e *Emitter) Health(ctx context.Context) error {
	if err := e.client.Ping(ctx).Err(); err != nil {
		return errors.TransientConnectorError("redis-events", err)
	}
	return nil
}

func (e *Emitter) Close() error {
	return e.client.Close()
}

func init() {
	if err := events.Register(factory.NewFactory("redis", func(config *Config) (events.Emitter, error) {
		return NewEmitter(config)
	})); err != nil {
		panic(err)
	}
}
