// Package cart owns the shopping cart: validated mutations, persistence,
// change broadcast, and reconciliation against the product snapshot.
package cart

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"marketplace-storefront/internal/events"
	"marketplace-storefront/internal/models"
	"marketplace-storefront/internal/storage"
	"marketplace-storefront/internal/telemetry"
)

const persistTimeout = 5 * time.Second

// Service is the cart of one agent. Agents sharing a store converge on the
// last written cart; concurrent writers are not merged.
type Service struct {
	mu    sync.Mutex
	items []models.CartItem
	// rev counts local changes and adopted reloads; reloads counts reloads only
	rev     uint64
	reloads uint64

	// persistMu serializes writes to the store. mu is never held across a
	// write because the store notifies other agents' carts synchronously.
	persistMu sync.Mutex

	store   storage.Store
	bus     *events.Bus
	pricing Pricing
	metrics *telemetry.StorefrontTelemetry
	now     func() time.Time
	logger  *slog.Logger
	unwatch func()
}

// Option configures a Service
type Option func(*Service)

// WithTelemetry records cart mutations on t
func WithTelemetry(t *telemetry.StorefrontTelemetry) Option {
	return func(s *Service) { s.metrics = t }
}

// WithClock replaces time.Now for AddedAt stamps
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService loads the persisted cart and starts following changes other
// agents make to it
func NewService(ctx context.Context, store storage.Store, bus *events.Bus, pricing Pricing, opts ...Option) *Service {
	s := &Service{
		items:   []models.CartItem{},
		store:   store,
		bus:     bus,
		pricing: pricing,
		now:     time.Now,
		logger:  slog.Default().With("component", "cart"),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mu.Lock()
	s.items = s.load(ctx)
	s.mu.Unlock()

	s.unwatch = store.Watch(func(c storage.Change) {
		if c.Key != storage.KeyCart {
			return
		}
		s.logger.Debug("Cart changed by another agent, reloading", "origin", c.Origin)
		s.Reload(context.Background())
	})

	s.logger.Info("Cart loaded", "items", len(s.items))
	return s
}

// AddToCart adds quantity units of product under the (id, color, size)
// key. Quantities accumulate on an existing line and are clamped to the
// product's stock. It returns false for invalid input and never panics.
func (s *Service) AddToCart(product *models.Product, quantity int, color, size string) bool {
	ok := s.addToCart(product, quantity, color, size)
	s.metrics.RecordCartMutation(context.Background(), "add", ok)
	return ok
}

func (s *Service) addToCart(product *models.Product, quantity int, color, size string) bool {
	switch {
	case product == nil || product.ID == "":
		s.logger.Debug("Rejected add to cart: missing product")
		return false
	case quantity <= 0:
		s.logger.Debug("Rejected add to cart: invalid quantity", "product_id", product.ID, "quantity", quantity)
		return false
	case product.Price.IsNegative():
		s.logger.Debug("Rejected add to cart: invalid price", "product_id", product.ID, "price", product.Price)
		return false
	case product.StockQuantity <= 0:
		s.logger.Debug("Rejected add to cart: out of stock", "product_id", product.ID)
		return false
	}

	key := models.CartKey{ProductID: product.ID, Color: color, Size: size}

	s.mu.Lock()
	idx := s.indexOf(key)
	if idx >= 0 {
		item := &s.items[idx]
		item.Quantity = min(item.Quantity+quantity, product.StockQuantity)
		applyProduct(item, *product)
	} else {
		item := models.CartItem{
			ID:            product.ID,
			Quantity:      min(quantity, product.StockQuantity),
			SelectedColor: color,
			SelectedSize:  size,
			AddedAt:       s.now().UTC(),
		}
		applyProduct(&item, *product)
		s.items = append(s.items, item)
	}
	rev, snapshot := s.stageLocked()
	s.mu.Unlock()

	s.persist(rev, snapshot)

	s.publish(snapshot)
	return true
}

// UpdateQuantity sets the quantity of every line of itemID. A quantity of
// zero or less removes the lines. It returns whether the item was found.
func (s *Service) UpdateQuantity(itemID string, quantity int) bool {
	if quantity <= 0 {
		found := s.removeFromCart(itemID)
		s.metrics.RecordCartMutation(context.Background(), "update", found)
		return found
	}

	s.mu.Lock()
	found := false
	for i := range s.items {
		if s.items[i].ID != itemID {
			continue
		}
		found = true
		// TODO: clamp against the live snapshot stock instead of the stock
		// embedded at insertion or last reconciliation, once product decides
		// whether updates must re-check availability the way adds do.
		limit := s.items[i].Product.StockQuantity
		if limit <= 0 {
			limit = s.items[i].Quantity
		}
		s.items[i].Quantity = max(1, min(quantity, limit))
	}
	if !found {
		s.mu.Unlock()
		s.metrics.RecordCartMutation(context.Background(), "update", false)
		return false
	}
	rev, snapshot := s.stageLocked()
	s.mu.Unlock()

	s.persist(rev, snapshot)

	s.publish(snapshot)
	s.metrics.RecordCartMutation(context.Background(), "update", true)
	return true
}

// RemoveFromCart removes every line of itemID and reports whether anything
// was removed
func (s *Service) RemoveFromCart(itemID string) bool {
	removed := s.removeFromCart(itemID)
	s.metrics.RecordCartMutation(context.Background(), "remove", removed)
	return removed
}

func (s *Service) removeFromCart(itemID string) bool {
	s.mu.Lock()
	kept := s.items[:0:0]
	for _, item := range s.items {
		if item.ID != itemID {
			kept = append(kept, item)
		}
	}
	if len(kept) == len(s.items) {
		s.mu.Unlock()
		return false
	}
	s.items = kept
	rev, snapshot := s.stageLocked()
	s.mu.Unlock()

	s.persist(rev, snapshot)

	s.publish(snapshot)
	return true
}

// ClearCart empties the cart unconditionally
func (s *Service) ClearCart() {
	s.mu.Lock()
	s.items = []models.CartItem{}
	rev, snapshot := s.stageLocked()
	s.mu.Unlock()

	s.persist(rev, snapshot)

	s.publish(snapshot)
	s.metrics.RecordCartMutation(context.Background(), "clear", true)
}

// RemoveOrdered takes ordered lines out of the cart by composite key.
// Units added to a line after it was ordered stay in the cart, as do lines
// that were not part of the order.
func (s *Service) RemoveOrdered(ordered []models.CartItem) {
	byKey := make(map[models.CartKey]int, len(ordered))
	for _, item := range ordered {
		byKey[item.Key()] += item.Quantity
	}

	s.mu.Lock()
	changed := false
	kept := make([]models.CartItem, 0, len(s.items))
	for _, item := range s.items {
		if qty, ok := byKey[item.Key()]; ok {
			changed = true
			item.Quantity -= qty
			if item.Quantity <= 0 {
				continue
			}
		}
		kept = append(kept, item)
	}
	if !changed {
		s.mu.Unlock()
		return
	}
	s.items = kept
	rev, snapshot := s.stageLocked()
	s.mu.Unlock()

	s.persist(rev, snapshot)
	s.publish(snapshot)
	s.metrics.RecordCartMutation(context.Background(), "checkout", true)
}

// IsInCart reports whether a line with the composite key exists
func (s *Service) IsInCart(productID, color, size string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indexOf(models.CartKey{ProductID: productID, Color: color, Size: size}) >= 0
}

// GetItemQuantity returns the quantity of the line with the composite key,
// or zero
func (s *Service) GetItemQuantity(productID, color, size string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.indexOf(models.CartKey{ProductID: productID, Color: color, Size: size}); idx >= 0 {
		return s.items[idx].Quantity
	}
	return 0
}

// SyncWithCatalog refreshes every line from the matching product and drops
// lines whose product is absent from products. Quantities are left as they
// are. Calling it twice with the same products is a no-op the second time.
func (s *Service) SyncWithCatalog(products []models.Product) {
	byID := make(map[string]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	s.mu.Lock()
	before := encodeItems(s.items)

	reconciled := make([]models.CartItem, 0, len(s.items))
	for _, item := range s.items {
		p, ok := byID[item.ID]
		if !ok {
			s.logger.Info("Dropping discontinued product from cart", "product_id", item.ID)
			continue
		}
		applyProduct(&item, p)
		reconciled = append(reconciled, item)
	}

	if bytes.Equal(before, encodeItems(reconciled)) {
		s.mu.Unlock()
		return
	}
	s.items = reconciled
	rev, snapshot := s.stageLocked()
	s.mu.Unlock()

	s.persist(rev, snapshot)

	s.logger.Debug("Cart reconciled with catalog", "items", len(snapshot))
	s.publish(snapshot)
}

// GetCartSummary derives the summary of the current cart
func (s *Service) GetCartSummary() models.CartSummary {
	return Summarize(s.Items(), s.pricing)
}

// Pricing returns the shipping rule the cart applies
func (s *Service) Pricing() Pricing {
	return s.pricing
}

// Items returns a copy of the cart lines
func (s *Service) Items() []models.CartItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneItems(s.items)
}

// Reload replaces the in-memory cart with the persisted one and broadcasts
// when it differs
func (s *Service) Reload(ctx context.Context) {
	s.mu.Lock()
	loaded := s.load(ctx)
	if bytes.Equal(encodeItems(s.items), encodeItems(loaded)) {
		s.mu.Unlock()
		return
	}
	s.items = loaded
	s.rev++
	s.reloads++
	snapshot := cloneItems(s.items)
	s.mu.Unlock()

	s.publish(snapshot)
}

// Close stops following external changes
func (s *Service) Close() {
	if s.unwatch != nil {
		s.unwatch()
	}
}

// load reads the persisted cart. Missing or unreadable carts load as empty.
func (s *Service) load(ctx context.Context) []models.CartItem {
	var items []models.CartItem
	if err := storage.GetJSON(ctx, s.store, storage.KeyCart, &items); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Error("Failed to load cart, starting empty", "error", err)
		}
		return []models.CartItem{}
	}

	valid := make([]models.CartItem, 0, len(items))
	for _, item := range items {
		if item.ID == "" || item.Quantity <= 0 {
			s.logger.Warn("Skipping invalid persisted cart line", "product_id", item.ID, "quantity", item.Quantity)
			continue
		}
		valid = append(valid, item)
	}
	return valid
}

// stageLocked numbers the current cart and returns a copy to persist and
// broadcast once mu is released
func (s *Service) stageLocked() (uint64, []models.CartItem) {
	s.rev++
	return s.rev, cloneItems(s.items)
}

// persist writes items unless the cart changed again after they were
// staged. If another agent's write was adopted while this one was in
// flight, the cart re-reads the store so both agents end on the same value.
// Persistence failures are logged; the in-memory cart stays authoritative.
func (s *Service) persist(rev uint64, items []models.CartItem) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	superseded := rev != s.rev
	reloads := s.reloads
	s.mu.Unlock()
	if superseded {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := storage.SetJSON(ctx, s.store, storage.KeyCart, items); err != nil {
		s.logger.Error("Failed to persist cart", "error", err)
		return
	}

	s.mu.Lock()
	raced := s.reloads != reloads
	s.mu.Unlock()
	if raced {
		s.Reload(ctx)
	}
}

func (s *Service) publish(items []models.CartItem) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.TopicCartUpdated, models.CartUpdated{
		Items:   items,
		Summary: Summarize(items, s.pricing),
	})
}

func (s *Service) indexOf(key models.CartKey) int {
	for i, item := range s.items {
		if item.Key() == key {
			return i
		}
	}
	return -1
}

func applyProduct(item *models.CartItem, p models.Product) {
	item.Product = p
	item.UnitPrice = p.Price
	item.OriginalUnitPrice = nil
	if p.OriginalPrice != nil {
		original := *p.OriginalPrice
		item.OriginalUnitPrice = &original
	}
}

func cloneItems(items []models.CartItem) []models.CartItem {
	out := make([]models.CartItem, len(items))
	copy(out, items)
	return out
}

func encodeItems(items []models.CartItem) []byte {
	raw, _ := json.Marshal(items)
	return raw
}
