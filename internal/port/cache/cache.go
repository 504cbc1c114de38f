// Package cache defines the port for an in-process byte cache.
package cache

import (
	"context"
	"time"
)

// Cache stores serialized values with a TTL. Implementations are safe for
// concurrent use.
type Cache interface {
	// Get retrieves a value. ok is false on a miss.
	Get(ctx context.Context, key string) (data []byte, ok bool, err error)

	// Set stores a value with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value.
	Delete(ctx context.Context, key string) error
}
