package sentinel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryExpiry(t *testing.T) {
	t.Parallel()

	clk := &stepClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	cache := NewMemory(WithNow(clk.Now))
	ctx := context.Background()

	require.False(t, cache.GetBool(ctx, "daily_quote"))
	require.NoError(t, cache.Set(ctx, "daily_quote", true, 12*time.Hour))
	require.True(t, cache.GetBool(ctx, "daily_quote"))

	clk.advance(12*time.Hour - time.Second)
	require.True(t, cache.GetBool(ctx, "daily_quote"))

	clk.advance(time.Second)
	require.False(t, cache.GetBool(ctx, "daily_quote"))
}

func TestMemoryFalseValueAndTTL(t *testing.T) {
	t.Parallel()

	cache := NewMemory()
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", false, time.Hour))
	require.False(t, cache.GetBool(ctx, "k"))
	require.ErrorIs(t, cache.Set(ctx, "k", true, 0), ErrInvalidTTL)
}

func TestCacheImplementations(t *testing.T) {
	t.Parallel()

	var _ Cache = NewMemory()
	var _ Cache = (*Redis)(nil)
}
