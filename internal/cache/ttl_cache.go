package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// entry is a cached value with its expiration time
type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLCache is a thread-safe cache whose entries expire after a fixed TTL.
// Concurrent loads of the same missing key are coalesced into one call.
type TTLCache[V any] struct {
	items  map[string]entry[V]
	mutex  sync.RWMutex
	ttl    time.Duration
	group  singleflight.Group
	now    func() time.Time
	logger *slog.Logger

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	stopOnce      sync.Once
}

// Stats describes the cache contents
type Stats struct {
	TotalEntries   int    `json:"total_entries"`
	ActiveEntries  int    `json:"active_entries"`
	ExpiredEntries int    `json:"expired_entries"`
	TTL            string `json:"ttl_duration"`
}

// NewTTLCache creates a cache with the given TTL. A positive cleanupInterval
// starts a goroutine that evicts expired entries until Stop is called.
func NewTTLCache[V any](name string, ttl, cleanupInterval time.Duration) *TTLCache[V] {
	c := &TTLCache[V]{
		items:       make(map[string]entry[V]),
		ttl:         ttl,
		now:         time.Now,
		logger:      slog.Default().With("component", "cache", "cache", name),
		stopCleanup: make(chan struct{}),
	}

	if cleanupInterval > 0 {
		c.cleanupTicker = time.NewTicker(cleanupInterval)
		go c.cleanupExpiredEntries()
	}

	c.logger.Info("TTL cache initialized",
		"ttl", ttl.String(),
		"cleanup_interval", cleanupInterval.String())

	return c
}

// Set stores a value under key
func (c *TTLCache[V]) Set(key string, value V) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	expiresAt := c.now().Add(c.ttl)
	c.items[key] = entry[V]{value: value, expiresAt: expiresAt}

	c.logger.Debug("Cache entry set",
		"key", key,
		"expires_at", expiresAt.Format(time.RFC3339))
}

// Get returns the value under key if it exists and has not expired
func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var zero V
	e, exists := c.items[key]
	if !exists {
		return zero, false
	}
	if c.now().After(e.expiresAt) {
		c.logger.Debug("Cache entry expired", "key", key)
		return zero, false
	}
	return e.value, true
}

// GetOrLoad returns the cached value or calls load once for all concurrent
// callers missing the same key. Load errors are not cached.
func (c *TTLCache[V]) GetOrLoad(ctx context.Context, key string, load func(ctx context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	res, err, shared := c.group.Do(key, func() (any, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := load(ctx)
		if err != nil {
			return v, err
		}
		c.Set(key, v)
		return v, nil
	})
	if shared {
		c.logger.Debug("Cache load shared", "key", key)
	}
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

// Delete removes key
func (c *TTLCache[V]) Delete(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.items, key)
}

// Clear removes every entry
func (c *TTLCache[V]) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	removed := len(c.items)
	c.items = make(map[string]entry[V])
	c.logger.Info("Cache cleared", "removed_items", removed)
}

// Stop ends the cleanup goroutine. It is safe to call more than once.
func (c *TTLCache[V]) Stop() {
	c.stopOnce.Do(func() {
		if c.cleanupTicker != nil {
			c.cleanupTicker.Stop()
		}
		close(c.stopCleanup)
	})
}

// GetStats counts active and expired entries
func (c *TTLCache[V]) GetStats() Stats {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	now := c.now()
	stats := Stats{TotalEntries: len(c.items), TTL: c.ttl.String()}
	for _, e := range c.items {
		if now.After(e.expiresAt) {
			stats.ExpiredEntries++
		} else {
			stats.ActiveEntries++
		}
	}
	return stats
}

func (c *TTLCache[V]) cleanupExpiredEntries() {
	for {
		select {
		case <-c.cleanupTicker.C:
			c.performCleanup()
		case <-c.stopCleanup:
			return
		}
	}
}

func (c *TTLCache[V]) performCleanup() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	expired := 0
	for key, e := range c.items {
		if now.After(e.expiresAt) {
			delete(c.items, key)
			expired++
		}
	}

	if expired > 0 {
		c.logger.Debug("Cache cleanup completed",
			"expired_entries", expired,
			"remaining_entries", len(c.items))
	}
}
