// Package storage is the agent's persistent key/value "local storage".
//
// Several agents may share one backend. Each Store instance has an origin
// id, and Watch delivers changes made by other origins only, the same way a
// browser storage event never fires in the tab that wrote the key. There is
// no conflict resolution: the last writer wins.
package storage

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/go-faster/errors"
)

// Persisted keys
const (
	KeyCart           = "cart"
	KeySyncCache      = "sync_cache"
	KeyProductsCache  = "products_cache"
	KeyCompaniesCache = "companies_cache"
	KeyFavorites      = "favorites"
	KeyFavoriteStores = "favoriteStores"
	KeyUser           = "user"
	KeyToken          = "token"
)

// ErrNotFound is returned by Get when the key holds no value
var ErrNotFound = errors.New("storage: key not found")

// Change describes a write made by another store instance
type Change struct {
	Key     string `json:"key"`
	Origin  string `json:"origin"`
	Deleted bool   `json:"deleted,omitempty"`
}

// Store is a key/value store with an external-change feed
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, keys ...string) error
	// Watch registers fn for changes made by other origins.
	// The returned function unregisters it.
	Watch(fn func(Change)) (cancel func())
	Close() error
}

// GetJSON reads key and decodes it into v
func GetJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.Wrapf(err, "decode %q", key)
	}
	return nil
}

// SetJSON encodes v and writes it under key
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %q", key)
	}
	return s.Set(ctx, key, raw)
}

// watchers is the observer list shared by every Store implementation
type watchers struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(Change)
}

func (w *watchers) add(fn func(Change)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.fns == nil {
		w.fns = make(map[int]func(Change))
	}
	id := w.next
	w.next++
	w.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			delete(w.fns, id)
			w.mu.Unlock()
		})
	}
}

func (w *watchers) notify(c Change) {
	w.mu.Lock()
	fns := make([]func(Change), 0, len(w.fns))
	for _, fn := range w.fns {
		fns = append(fns, fn)
	}
	w.mu.Unlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("Panic in storage watcher", "key", c.Key, "panic", r)
				}
			}()
			fn(c)
		}()
	}
}

func (w *watchers) clear() {
	w.mu.Lock()
	w.fns = nil
	w.mu.Unlock()
}
