package sentinel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig holds connection settings for DialRedis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// DialRedis connects to Redis and verifies the connection with PING.
func DialRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// Redis stores markers as "1"/"0" strings with a native key TTL.
type Redis struct {
	client redis.Cmdable
	prefix string
	logger *zap.Logger
}

// NewRedis wraps client. Every key is prefixed with prefix.
func NewRedis(client redis.Cmdable, prefix string, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{client: client, prefix: prefix, logger: logger.Named("sentinel")}
}

// GetBool reads key. Missing keys and backend errors both read as false.
func (r *Redis) GetBool(ctx context.Context, key string) bool {
	v, err := r.client.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		r.logger.Warn("sentinel read failed, treating as absent", zap.String("key", key), zap.Error(err))
		return false
	}
	return v == "1"
}

// Set writes key with an expiry of ttl.
func (r *Redis) Set(ctx context.Context, key string, value bool, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	v := "0"
	if value {
		v = "1"
	}
	if err := r.client.Set(ctx, r.prefix+key, v, ttl).Err(); err != nil {
		return fmt.Errorf("set sentinel %s: %w", key, err)
	}
	return nil
}
