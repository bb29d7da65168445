package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"data-engine/internal/events"
)

func testEmitter(t *testing.T) (*Emitter, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewEmitterWithClient(client, "engine.changes"), client
}

func TestEmitter_PublishesToDefaultChannel(t *testing.T) {
	emitter, client := testEmitter(t)
	ctx := context.Background()

	sub := client.Subscribe(ctx, "engine.changes")
	t.Cleanup(func() { sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, emitter.Emit(ctx, "", []byte(`{"model":"User","op":"create"}`)))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, "engine.changes", msg.Channel)
		assert.JSONEq(t, `{"model":"User","op":"create"}`, msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestEmitter_TopicOverridesChannel(t *testing.T) {
	emitter, client := testEmitter(t)
	ctx := context.Background()

	sub := client.Subscribe(ctx, "user.created")
	t.Cleanup(func() { sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, emitter.Emit(ctx, "user.created", []byte(`{"id":"u1"}`)))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, "user.created", msg.Channel)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestEmitter_Health(t *testing.T) {
	emitter, client := testEmitter(t)
	require.NoError(t, emitter.Health(context.Background()))

	client.Close()
	assert.Error(t, emitter.Health(context.Background()))
}

func TestConfig_Validate(t *testing.T) {
	config := &Config{Address: "localhost:6379"}
	require.NoError(t, config.Validate())
	assert.Equal(t, "engine.changes", config.Channel)
	assert.Equal(t, 5, config.PoolSize)

	err := (&Config{}).Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address is required")
}

func TestFactory_Registered(t *testing.T) {
	assert.Contains(t, events.Types(), "redis")

	_, err := events.Create("redis", &Config{})
	require.Error(t, err)
}
