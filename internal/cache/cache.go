// Package cache holds computed view results keyed by view, as-of date and
// cache generation. Ingestion bumps the generation, which invalidates every
// entry at once.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/deal-health/internal/config"
)

// Cache stores serialized view results.
type Cache interface {
	// Get returns the value for key. ok is false on a miss.
	Get(ctx context.Context, key string) (val []byte, ok bool, err error)
	// Set stores val under key for the configured TTL.
	Set(ctx context.Context, key string, val []byte) error
	// Generation returns the current cache generation.
	Generation(ctx context.Context) (uint64, error)
	// Invalidate drops every entry and returns the new generation.
	Invalidate(ctx context.Context) (uint64, error)
	Close() error
}

// Key builds the cache key of a view result.
func Key(view string, asOf time.Time, generation uint64) string {
	return fmt.Sprintf("%s:%s:g%d", view, asOf.UTC().Format(time.DateOnly), generation)
}

// New creates the cache selected by cfg.Driver.
func New(ctx context.Context, cfg config.CacheConfig) (Cache, error) {
	ttl := time.Duration(cfg.TTLMinutes) * time.Minute
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(ttl), nil
	case "redis":
		return NewRedis(ctx, cfg.RedisURL, cfg.KeyPrefix, ttl)
	default:
		return nil, eris.Errorf("cache: unknown driver %q", cfg.Driver)
	}
}
