package views

import (
	"log/slog"
	"sync"

	"marketplace-storefront/internal/events"
	"marketplace-storefront/internal/models"
)

// CartSource is the part of the cart a CartView reads
type CartSource interface {
	Items() []models.CartItem
	GetCartSummary() models.CartSummary
}

// CartView mirrors the cart lines and summary
type CartView struct {
	mu      sync.RWMutex
	items   []models.CartItem
	summary models.CartSummary

	listeners *listeners[models.CartUpdated]
	unsub     func()
}

// NewCartView reads the current cart and follows cartUpdated
func NewCartView(source CartSource, bus *events.Bus) *CartView {
	v := &CartView{
		items:     source.Items(),
		summary:   source.GetCartSummary(),
		listeners: newListeners[models.CartUpdated](slog.Default().With("component", "views", "view", "cart")),
	}
	v.unsub = bus.Subscribe(events.TopicCartUpdated, func(e events.Event) {
		update, ok := e.Data.(models.CartUpdated)
		if !ok {
			update = models.CartUpdated{Items: source.Items(), Summary: source.GetCartSummary()}
		}
		v.mu.Lock()
		v.items, v.summary = update.Items, update.Summary
		v.mu.Unlock()
		v.listeners.emit(update)
	})
	return v
}

// Items returns the mirrored cart lines
func (v *CartView) Items() []models.CartItem {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.items
}

// Summary returns the mirrored cart summary
func (v *CartView) Summary() models.CartSummary {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.summary
}

// ItemCount returns the number of units in the cart
func (v *CartView) ItemCount() int {
	return v.Summary().TotalItems
}

// OnChange registers fn for every cart change and returns its remover
func (v *CartView) OnChange(fn func(models.CartUpdated)) func() {
	return v.listeners.add(fn)
}

// Close stops following events. No listener runs after Close returns.
func (v *CartView) Close() {
	v.unsub()
	v.listeners.close()
}
