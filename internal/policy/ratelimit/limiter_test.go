package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterWaitPacesSameHost(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://mops.twse.com.tw/a"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://MOPS.twse.com.tw/b"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterDifferentHostsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.example/1"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.example/1"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterHostOverride(t *testing.T) {
	t.Parallel()

	l := New(Config{
		DefaultRPS:   0.1,
		DefaultBurst: 1,
		Hosts:        map[string]HostLimit{"Fast.Example": {RPS: 0, Burst: 1}},
	})
	ctx := context.Background()

	start := time.Now()
	for range 5 {
		require.NoError(t, l.Wait(ctx, "https://fast.example/x"))
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterContextCanceled(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.01, DefaultBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://slow.example"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://slow.example"))
}

func TestNilLimiterNeverWaits(t *testing.T) {
	t.Parallel()

	var l *Limiter
	require.NoError(t, l.Wait(context.Background(), "https://example.com"))
}
