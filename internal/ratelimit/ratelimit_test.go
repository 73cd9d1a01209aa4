package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryAllowWithinWindow(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	now := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		d := m.Allow(ctx, "user:1", 3, time.Minute)
		require.True(t, d.Allowed, "request %d", i)
		assert.Equal(t, 3-i, d.Remaining)
	}

	d := m.Allow(ctx, "user:1", 3, time.Minute)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, now.Add(time.Minute), d.WindowEnd)

	assert.True(t, m.Allow(ctx, "user:2", 3, time.Minute).Allowed, "keys are independent")

	now = now.Add(time.Minute)
	assert.True(t, m.Allow(ctx, "user:1", 3, time.Minute).Allowed, "new window")
}

func TestMemoryZeroLimitDisables(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	for i := 0; i < 10; i++ {
		assert.True(t, m.Allow(context.Background(), "k", 0, time.Second).Allowed)
	}
}

func TestMemoryCleanup(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	now := time.Now()
	m.now = func() time.Time { return now }

	m.Allow(context.Background(), "k", 1, time.Second)
	m.cleanup(now.Add(2 * time.Second))

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Empty(t, m.entries)
}

func TestMemoryCloseIdempotent(t *testing.T) {
	m := NewMemory()
	m.Close()
	m.Close()
}

func TestNewRedisUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := NewRedis(ctx, "127.0.0.1:1", "", 0, zap.NewNop())
	assert.Error(t, err)
}
