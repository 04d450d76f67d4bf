package lockout

import (
	"context"
	"time"
)

// CounterStore is the atomic key/value capability the tracker needs.
// Incr must be atomic at the store level; the tracker adds no locking.
type CounterStore interface {
	// Incr increments key by one, creating it at zero first
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// Get returns the integer value of key, or 0 when absent
	Get(ctx context.Context, key string) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}
