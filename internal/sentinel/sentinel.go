// Package sentinel stores short-lived "already ran" markers keyed by task.
package sentinel

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidTTL is returned when a marker would never expire.
var ErrInvalidTTL = errors.New("sentinel ttl must be > 0")

// Cache is a key/TTL store of boolean markers. GetBool never fails: a backend
// error reads as false so the caller runs rather than silently skipping.
type Cache interface {
	GetBool(ctx context.Context, key string) bool
	Set(ctx context.Context, key string, value bool, ttl time.Duration) error
}
