package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/openclave/controlplane/internal/domain/systemconfig"
	"github.com/openclave/controlplane/internal/port/cache"
	"github.com/openclave/controlplane/internal/port/database"
)

// sharedConfigCacheKey is the single L2 cache entry every replica's
// ConfigCache reads and writes through, so an admin write on one
// replica is visible to the others before their own local TTL would
// otherwise have expired.
const sharedConfigCacheKey = "systemconfig:snapshot"

// ConfigCache is the 60s-TTL cache over systemconfig rows. It holds a process-local copy
// for the fast path and, when shared is set, falls through to a
// replica-shared cache.Cache (tiered ristretto/NATS KV) before hitting
// Postgres, so a cold replica still avoids the database on every miss.
type ConfigCache struct {
	store  database.Store
	shared cache.Cache

	mu   sync.RWMutex
	snap systemconfig.Snapshot
}

func NewConfigCache(store database.Store) *ConfigCache {
	return &ConfigCache{store: store, snap: systemconfig.Defaults()}
}

// WithSharedCache attaches a replica-shared backing cache and returns c
// for chaining at construction time.
func (c *ConfigCache) WithSharedCache(shared cache.Cache) *ConfigCache {
	c.shared = shared
	return c
}

// Snapshot returns the cached config, refreshing from the shared cache
// or the store when the local TTL has elapsed.
func (c *ConfigCache) Snapshot(ctx context.Context) (systemconfig.Snapshot, error) {
	c.mu.RLock()
	snap := c.snap
	c.mu.RUnlock()
	if !snap.Expired(time.Now()) {
		return snap, nil
	}

	if c.shared != nil {
		if data, ok, err := c.shared.Get(ctx, sharedConfigCacheKey); err == nil && ok {
			var fresh systemconfig.Snapshot
			if json.Unmarshal(data, &fresh) == nil && !fresh.Expired(time.Now()) {
				c.mu.Lock()
				c.snap = fresh
				c.mu.Unlock()
				return fresh, nil
			}
		}
	}

	rows, err := c.store.ListSystemConfig(ctx)
	if err != nil {
		return snap, nil // serve the stale snapshot rather than fail the caller
	}

	fresh := systemconfig.Defaults()
	for _, row := range rows {
		n, err := parseMinutes(row.Value)
		if err != nil {
			continue
		}
		switch row.Key {
		case systemconfig.KeyIdleTimeoutMinutes:
			fresh.IdleTimeoutMinutes = n
		case systemconfig.KeyFreeTierDailyMinutes:
			fresh.FreeTierDailyMinutes = n
		}
	}
	fresh.CachedAt = time.Now()

	c.mu.Lock()
	c.snap = fresh
	c.mu.Unlock()

	if c.shared != nil {
		if data, err := json.Marshal(fresh); err == nil {
			_ = c.shared.Set(ctx, sharedConfigCacheKey, data, 60*time.Second)
		}
	}
	return fresh, nil
}

// Invalidate forces the next Snapshot call to re-read the shared cache
// or store, following an admin write.
func (c *ConfigCache) Invalidate() {
	c.mu.Lock()
	c.snap.CachedAt = time.Time{}
	c.mu.Unlock()
	if c.shared != nil {
		_ = c.shared.Delete(context.Background(), sharedConfigCacheKey)
	}
}
