package catalog

import (
	"context"
	"log/slog"
	"time"

	"marketplace-storefront/internal/cache"
	"marketplace-storefront/internal/models"
)

const categoriesKey = "categories"

// CategorySource lists categories from the backend
type CategorySource interface {
	ListCategories(ctx context.Context) ([]models.Category, error)
}

// Snapshot returns the current product snapshot
type Snapshot func(ctx context.Context) []models.Product

// CategoryService serves the category list from a TTL cache in front of the
// backend, falling back to the categories present in the product snapshot
type CategoryService struct {
	source   CategorySource
	snapshot Snapshot
	cache    *cache.TTLCache[[]models.Category]
	logger   *slog.Logger
}

// NewCategoryService creates the service. Call Stop to release the cache.
func NewCategoryService(source CategorySource, snapshot Snapshot, ttl time.Duration) *CategoryService {
	return &CategoryService{
		source:   source,
		snapshot: snapshot,
		cache:    cache.NewTTLCache[[]models.Category]("categories", ttl, ttl),
		logger:   slog.Default().With("component", "catalog"),
	}
}

// List returns the categories. It never fails: when the backend is
// unreachable the snapshot-derived list is returned and not cached.
func (s *CategoryService) List(ctx context.Context) []models.Category {
	categories, err := s.cache.GetOrLoad(ctx, categoriesKey, s.source.ListCategories)
	if err == nil && len(categories) > 0 {
		return categories
	}
	if err != nil {
		s.logger.Warn("Category list unavailable, deriving from snapshot", "error", err)
	}

	names := Categories(s.snapshot(ctx))
	derived := make([]models.Category, 0, len(names))
	for _, name := range names {
		derived = append(derived, models.Category{ID: name, Name: name})
	}
	return derived
}

// Invalidate drops the cached list, typically after a sync
func (s *CategoryService) Invalidate() {
	s.cache.Delete(categoriesKey)
}

// Stop releases the cache cleanup goroutine
func (s *CategoryService) Stop() {
	s.cache.Stop()
}
