package ports

import (
	"context"
	"time"
)

type Cache interface {
	// Get returns found=false on a miss.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// RunLock is a named mutual-exclusion lease. Acquire returns
// domain.ErrRunInProgress when another holder owns the name.
type RunLock interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(context.Context) error, err error)
}
