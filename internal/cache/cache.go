// Package cache is the pull-through read cache in front of the store. It is
// derived state only: writes clear it, reads repopulate it.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

const (
	KeySummary       = "disasters:summary"
	KeyDefaultList   = "disasters:list:default"
	KeyRecentHistory = "disasters:history:recent"
	KeyCountries     = "disasters:countries"
)

const (
	TTLSummary       = 60 * time.Second
	TTLDefaultList   = 120 * time.Second
	TTLRecentHistory = 300 * time.Second
	TTLCountries     = time.Hour
)

// WriteKeys are cleared after any disaster write.
var WriteKeys = []string{KeySummary, KeyDefaultList, KeyRecentHistory, KeyCountries}

type Cache interface {
	// Get reports ok=false on a miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Nop never stores anything; used when no Redis URL is configured.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, bool, error)       { return nil, false, nil }
func (Nop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Nop) Del(context.Context, ...string) error                     { return nil }

// GetOrLoad serves key from c when present, otherwise calls load and stores
// the JSON result for ttl. Cache failures degrade to a direct load.
func GetOrLoad[T any](ctx context.Context, c Cache, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	raw, ok, err := c.Get(ctx, key)
	if err != nil {
		slog.Warn("cache get failed", "key", key, "error", err)
	}
	if ok {
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			return v, nil
		}
		slog.Warn("discarding undecodable cache entry", "key", key)
	}

	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	if raw, err := json.Marshal(v); err == nil {
		if err := c.Set(ctx, key, raw, ttl); err != nil {
			slog.Warn("cache set failed", "key", key, "error", err)
		}
	}
	return v, nil
}

// Invalidate clears WriteKeys. Errors are logged and dropped: entries expire
// by TTL regardless.
func Invalidate(ctx context.Context, c Cache) {
	if err := c.Del(ctx, WriteKeys...); err != nil {
		slog.Warn("cache invalidation failed", "error", err)
	}
}
