// Package events carries change notifications out of the engine. After a
// transaction commits, the engine hands the bus one ChangeEvent per write;
// the bus serializes and forwards them to the configured emitter without
// ever affecting the response. Rolled-back writes emit nothing.
package events

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/sync/errgroup"

	"data-engine/internal/common/logging"
)

// Op names the committed write a ChangeEvent describes
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// ChangeEvent is the wire shape of one committed write
type ChangeEvent struct {
	Model string      `json:"model"`
	Op    Op          `json:"op"`
	ID    interface{} `json:"id"`
	At    time.Time   `json:"at"`
}

// Emitter delivers serialized events to one transport. An empty topic
// means the emitter's configured default destination.
type Emitter interface {
	Name() string
	Emit(ctx context.Context, topic string, payload []byte) error
	Health(ctx context.Context) error
	Close() error
}

// Bus fans change events out to an emitter. Change notifications are
// fire-and-forget: they run on a bounded worker pool, failures are logged
// and over-capacity events are dropped rather than stalling the caller.
type Bus struct {
	emitter Emitter
	group   *errgroup.Group
	timeout time.Duration
	logger  logging.Logger
}

// BusConfig tunes the bus worker pool
type BusConfig struct {
	Workers     int
	EmitTimeout time.Duration
}

func DefaultBusConfig() BusConfig {
	return BusConfig{
		Workers:     16,
		EmitTimeout: 5 * time.Second,
	}
}

func NewBus(emitter Emitter, config BusConfig) *Bus {
	if config.Workers <= 0 {
		config.Workers = DefaultBusConfig().Workers
	}
	if config.EmitTimeout <= 0 {
		config.EmitTimeout = DefaultBusConfig().EmitTimeout
	}

	group := &errgroup.Group{}
	group.SetLimit(config.Workers)

	return &Bus{
		emitter: emitter,
		group:   group,
		timeout: config.EmitTimeout,
		logger:  logging.Component("events"),
	}
}

// Changed queues one committed write for delivery. Safe on a nil bus so
// callers without an emitter configured need no guard.
func (b *Bus) Changed(event ChangeEvent) {
	if b == nil || b.emitter == nil {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("failed to encode change event", err,
			logging.String("model", event.Model))
		return
	}

	queued := b.group.TryGo(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()
		if err := b.emitter.Emit(ctx, "", payload); err != nil {
			b.logger.Warn("change event emit failed",
				logging.String("model", event.Model),
				logging.String("op", string(event.Op)),
				logging.String("emitter", b.emitter.Name()),
				logging.Err(err))
		}
		return nil
	})
	if !queued {
		b.logger.Warn("change event dropped, emitter backlog full",
			logging.String("model", event.Model),
			logging.String("op", string(event.Op)))
	}
}

// Publish delivers a pipeline payload to a topic synchronously; the
// publish step surfaces the error to its chain's onError policy.
func (b *Bus) Publish(ctx context.Context, topic string, payload map[string]interface{}) error {
	if b == nil || b.emitter == nil {
		return nil
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return b.emitter.Emit(ctx, topic, encoded)
}

// Close drains queued events and shuts the emitter down.
func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	b.group.Wait()
	if b.emitter == nil {
		return nil
	}
	return b.emitter.Close()
}
