// Package amqp emits change events to an AMQP topic exchange. The
// exchange is declared durable at startup; events are published persistent
// with the event topic as routing key so consumers bind what they need.
package amqp

import (
	"context"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"data-engine/internal/common/errors"
	"data-engine/internal/common/factory"
	"data-engine/internal/common/validation"
	"data-engine/internal/events"
)

// Config holds the AMQP emitter settings
type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
}

func (c *Config) Validate() error {
	if c.Exchange == "" {
		c.Exchange = "engine.events"
	}
	if c.RoutingKey == "" {
		c.RoutingKey = "engine.changes"
	}
	return validation.NewValidatorWithPrefix("amqp emitter").
		RequireURL(c.URL, "url").
		Error()
}

// Emitter publishes serialized events to one AMQP exchange. Channels are
// not safe for concurrent publish, so a mutex serializes access.
type Emitter struct {
	config *Config
	conn   *amqp.Connection
	mu     sync.Mutex
	ch     *amqp.Channel
}

func NewEmitter(config *Config) (*Emitter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	conn, err := amqp.Dial(config.URL)
	if err != nil {
		return nil, errors.ConnectorError("amqp-events", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, errors.ConnectorError("amqp-events", err)
	}

	if err := ch.ExchangeDeclare(config.Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, errors.ConnectorError("amqp-events", err)
	}

	return &Emitter{config: config, conn: conn, ch: ch}, nil
}

func (e *Emitter) Name() string {
	return "amqp"
}

func (e *Emitter) Emit(ctx context.Context, topic string, payload []byte) error {
	if topic == "" {
		topic = e.config.RoutingKey
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	err := e.ch.Publish(e.config.Exchange, topic, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Body:         payload,
		Timestamp:    time.Now(),
	})
	if err != nil {
		return errors.TransientConnectorError("amqp-events", err)
	}
	return nil
}

func (e *Emitter) Health(ctx context.Context) error {
	if e.conn == nil || e.conn.IsClosed() {
		return errors.TransientConnectorError("amqp-events", amqp.ErrClosed)
	}
	return nil
}

func (e *Emitter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ch != nil {
		e.ch.Close()
	}
	if e.conn != nil {
		return e.conn.Close()
	}
	return nil
}

func init() {
	if err := events.Register(factory.NewFactory("amqp", func(config *Config) (events.Emitter, error) {
		return NewEmitter(config)
	})); err != nil {
		panic(err)
	}
}
