package circuitbreaker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"data-engine/internal/common/errors"
)

func testConfig() Config {
	return Config{
		MaxFailures:           3,
		Timeout:               50 * time.Millisecond,
		MaxConcurrentRequests: 1,
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker("memory", testConfig(), nil)
	ctx := context.Background()

	boom := fmt.Errorf("backend down")
	for i := 0; i < 3; i++ {
		err := b.Execute(ctx, func() error { return boom })
		assert.ErrorIs(t, err, boom)
	}

	assert.True(t, b.IsOpen())

	err := b.Execute(ctx, func() error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), `circuit breaker "memory" is open`)
}

func TestBreaker_RequestErrorsDoNotTrip(t *testing.T) {
	b := NewBreaker("memory", testConfig(), nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_ = b.Execute(ctx, func() error {
			return errors.ValidationError("bad filter")
		})
	}

	assert.False(t, b.IsOpen())
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_RecoversAfterTimeout(t *testing.T) {
	b := NewBreaker("memory", testConfig(), nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, func() error { return fmt.Errorf("down") })
	}
	require.True(t, b.IsOpen())

	time.Sleep(80 * time.Millisecond)

	err := b.Execute(ctx, func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed.String(), b.State().String())
}

func TestBreaker_ContextCancelled(t *testing.T) {
	b := NewBreaker("memory", testConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Execute(ctx, func() error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBreaker_InvalidConfigFallsBack(t *testing.T) {
	b := NewBreaker("memory", Config{}, nil)
	require.NoError(t, b.Execute(context.Background(), func() error { return nil }))
}

func TestManager(t *testing.T) {
	m := NewManager(testConfig(), nil)
	ctx := context.Background()

	require.NoError(t, m.Execute(ctx, "sqlite", func() error { return nil }))
	assert.False(t, m.IsOpen("sqlite"))
	assert.False(t, m.IsOpen("never-seen"))

	same := m.GetOrCreate("sqlite")
	assert.Same(t, same, m.GetOrCreate("sqlite"))

	for i := 0; i < 3; i++ {
		_ = m.Execute(ctx, "redis", func() error { return fmt.Errorf("down") })
	}
	assert.True(t, m.IsOpen("redis"))

	stats := m.AllStats()
	assert.Len(t, stats, 2)
}
