package sentinel

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedis(client, "stockcrawler:", zap.NewNop())
}

func TestRedisSetAndGet(t *testing.T) {
	t.Parallel()

	mr, cache := newTestRedis(t)
	ctx := context.Background()

	require.False(t, cache.GetBool(ctx, "financial_statement::yahoo"))
	require.NoError(t, cache.Set(ctx, "financial_statement::yahoo", true, 7*24*time.Hour))
	require.True(t, cache.GetBool(ctx, "financial_statement::yahoo"))

	got, err := mr.Get("stockcrawler:financial_statement::yahoo")
	require.NoError(t, err)
	require.Equal(t, "1", got)
	require.Equal(t, 7*24*time.Hour, mr.TTL("stockcrawler:financial_statement::yahoo"))
}

func TestRedisExpiry(t *testing.T) {
	t.Parallel()

	mr, cache := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "daily_quote", true, time.Hour))
	mr.FastForward(time.Hour + time.Second)
	require.False(t, cache.GetBool(ctx, "daily_quote"))
}

func TestRedisFalseValue(t *testing.T) {
	t.Parallel()

	mr, cache := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", false, time.Minute))
	require.False(t, cache.GetBool(ctx, "k"))

	require.NoError(t, mr.Set("stockcrawler:garbage", "yes"))
	require.False(t, cache.GetBool(ctx, "garbage"))
}

func TestRedisBackendFailureReadsFalse(t *testing.T) {
	t.Parallel()

	mr, cache := newTestRedis(t)
	ctx := context.Background()
	require.NoError(t, cache.Set(ctx, "k", true, time.Minute))

	mr.Close()
	require.False(t, cache.GetBool(ctx, "k"))
	require.Error(t, cache.Set(ctx, "k", true, time.Minute))
}

func TestRedisRejectsNonPositiveTTL(t *testing.T) {
	t.Parallel()

	_, cache := newTestRedis(t)
	require.ErrorIs(t, cache.Set(context.Background(), "k", true, 0), ErrInvalidTTL)
}

func TestDialRedis(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client, err := DialRedis(context.Background(), RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	require.NoError(t, client.Close())

	_, err = DialRedis(context.Background(), RedisConfig{})
	require.Error(t, err)
}
