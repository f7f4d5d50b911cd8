// Package favorites keeps the shopper's favorite products and stores
package favorites

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"marketplace-storefront/internal/events"
	"marketplace-storefront/internal/models"
	"marketplace-storefront/internal/storage"
)

const persistTimeout = 5 * time.Second

// Service holds two ordered id lists, each persisted under its own key.
// Ids are kept in the order they were first favorited.
type Service struct {
	mu       sync.Mutex
	products []string
	stores   []string
	// revs counts changes per key; reloads counts adopted external changes
	revs    map[string]uint64
	reloads uint64

	// persistMu serializes writes; mu is never held across one
	persistMu sync.Mutex

	store   storage.Store
	bus     *events.Bus
	logger  *slog.Logger
	unwatch func()
}

// NewService loads both lists and follows changes other agents make to them
func NewService(ctx context.Context, store storage.Store, bus *events.Bus) *Service {
	s := &Service{
		store:  store,
		bus:    bus,
		revs:   make(map[string]uint64),
		logger: slog.Default().With("component", "favorites"),
	}

	s.mu.Lock()
	s.products = s.load(ctx, storage.KeyFavorites)
	s.stores = s.load(ctx, storage.KeyFavoriteStores)
	s.mu.Unlock()

	s.unwatch = store.Watch(func(c storage.Change) {
		if c.Key != storage.KeyFavorites && c.Key != storage.KeyFavoriteStores {
			return
		}
		s.logger.Debug("Favorites changed by another agent, reloading", "key", c.Key)
		s.Reload(context.Background())
	})
	return s
}

// ToggleFavorite adds or removes a product and returns whether it is now a favorite
func (s *Service) ToggleFavorite(productID string) bool {
	return s.toggle(storage.KeyFavorites, &s.products, productID)
}

// IsFavorite reports whether productID is a favorite
func (s *Service) IsFavorite(productID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.products, productID)
}

// Favorites returns the favorite product ids
func (s *Service) Favorites() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.products)
}

// ToggleFavoriteStore adds or removes a company and returns whether it is now a favorite
func (s *Service) ToggleFavoriteStore(companyID string) bool {
	return s.toggle(storage.KeyFavoriteStores, &s.stores, companyID)
}

// IsFavoriteStore reports whether companyID is a favorite store
func (s *Service) IsFavoriteStore(companyID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.stores, companyID)
}

// FavoriteStores returns the favorite company ids
func (s *Service) FavoriteStores() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.stores)
}

// Reload re-reads both lists and broadcasts when either differs
func (s *Service) Reload(ctx context.Context) {
	s.mu.Lock()
	products := s.load(ctx, storage.KeyFavorites)
	stores := s.load(ctx, storage.KeyFavoriteStores)
	if slices.Equal(products, s.products) && slices.Equal(stores, s.stores) {
		s.mu.Unlock()
		return
	}
	s.products, s.stores = products, stores
	s.revs[storage.KeyFavorites]++
	s.revs[storage.KeyFavoriteStores]++
	s.reloads++
	payload := s.payloadLocked()
	s.mu.Unlock()

	s.publish(payload)
}

// Close stops following external changes
func (s *Service) Close() {
	if s.unwatch != nil {
		s.unwatch()
	}
}

func (s *Service) toggle(key string, list *[]string, id string) bool {
	if id == "" {
		return false
	}

	s.mu.Lock()
	idx := slices.Index(*list, id)
	added := idx < 0
	if added {
		*list = append(*list, id)
	} else {
		*list = slices.Delete(*list, idx, idx+1)
	}
	s.revs[key]++
	rev := s.revs[key]
	ids := slices.Clone(*list)
	payload := s.payloadLocked()
	s.mu.Unlock()

	s.persist(key, rev, ids)
	s.logger.Debug("Favorite toggled", "key", key, "id", id, "favorite", added)
	s.publish(payload)
	return added
}

// persist writes ids under key unless the list changed again after they were
// staged, then re-reads the store if another agent wrote in the meantime
func (s *Service) persist(key string, rev uint64, ids []string) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	superseded := rev != s.revs[key]
	reloads := s.reloads
	s.mu.Unlock()
	if superseded {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := storage.SetJSON(ctx, s.store, key, ids); err != nil {
		s.logger.Error("Failed to persist favorites", "key", key, "error", err)
		return
	}

	s.mu.Lock()
	raced := s.reloads != reloads
	s.mu.Unlock()
	if raced {
		s.Reload(ctx)
	}
}

func (s *Service) load(ctx context.Context, key string) []string {
	var ids []string
	if err := storage.GetJSON(ctx, s.store, key, &ids); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("Ignoring unreadable favorites", "key", key, "error", err)
		}
		return []string{}
	}

	// Drop blanks and duplicates a hand-edited file might carry
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func (s *Service) payloadLocked() models.FavoritesUpdated {
	return models.FavoritesUpdated{
		Favorites:      slices.Clone(s.products),
		FavoriteStores: slices.Clone(s.stores),
	}
}

func (s *Service) publish(payload models.FavoritesUpdated) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.TopicFavoritesUpdated, payload)
}
