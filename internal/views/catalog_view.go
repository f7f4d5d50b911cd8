package views

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"marketplace-storefront/internal/catalog"
	"marketplace-storefront/internal/models"
)

// CatalogState is the filtered listing and the query that produced it
type CatalogState struct {
	Query      catalog.Query    `json:"-"`
	Products   []models.Product `json:"products"`
	Categories []string         `json:"categories"`
}

// CatalogView re-derives the listing whenever the snapshot or the query
// changes. Search text is debounced; every other input applies at once.
type CatalogView struct {
	sync *SyncView

	mu            sync.Mutex
	query         catalog.Query
	pendingSearch string
	state         CatalogState

	debouncer *catalog.Debouncer
	listeners *listeners[CatalogState]
	unsub     func()
}

// NewCatalogView derives the listing from syncView's snapshot
func NewCatalogView(syncView *SyncView, debounce time.Duration) *CatalogView {
	v := &CatalogView{
		sync:      syncView,
		listeners: newListeners[CatalogState](slog.Default().With("component", "views", "view", "catalog")),
	}
	v.debouncer = catalog.NewDebouncer(debounce, v.applySearch)
	v.recompute()
	v.unsub = syncView.OnChange(func(SyncState) { v.recompute() })
	return v
}

// Snapshot returns the current listing
func (v *CatalogView) Snapshot() CatalogState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Query returns the applied query
func (v *CatalogView) Query() catalog.Query {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.query
}

// SetSearch schedules a search once typing pauses
func (v *CatalogView) SetSearch(text string) {
	v.mu.Lock()
	v.pendingSearch = text
	v.mu.Unlock()
	v.debouncer.Trigger()
}

// FlushSearch applies a pending search now
func (v *CatalogView) FlushSearch() {
	v.debouncer.Flush()
}

// SetCategory filters by category; empty or "all" clears the filter
func (v *CatalogView) SetCategory(category string) {
	v.update(func(q *catalog.Query) { q.Category = category })
}

// SetCompany filters by company id; empty clears the filter
func (v *CatalogView) SetCompany(companyID string) {
	v.update(func(q *catalog.Query) { q.CompanyID = companyID })
}

// SetPriceRange filters by price; nil bounds are open
func (v *CatalogView) SetPriceRange(minPrice, maxPrice *decimal.Decimal) {
	v.update(func(q *catalog.Query) { q.MinPrice, q.MaxPrice = minPrice, maxPrice })
}

// SetSort changes the order of the listing
func (v *CatalogView) SetSort(key catalog.SortKey) {
	v.update(func(q *catalog.Query) { q.Sort = key })
}

// OnChange registers fn for every listing change and returns its remover
func (v *CatalogView) OnChange(fn func(CatalogState)) func() {
	return v.listeners.add(fn)
}

// Close drops any pending search and stops following the snapshot. No
// listener runs after Close returns.
func (v *CatalogView) Close() {
	v.debouncer.Stop()
	v.unsub()
	v.listeners.close()
}

func (v *CatalogView) applySearch() {
	v.update(func(q *catalog.Query) { q.Search = v.pendingSearch })
}

func (v *CatalogView) update(fn func(q *catalog.Query)) {
	v.mu.Lock()
	fn(&v.query)
	v.mu.Unlock()
	v.recompute()
}

func (v *CatalogView) recompute() {
	if v.listeners.isClosed() {
		return
	}
	products := v.sync.Products()

	v.mu.Lock()
	v.state = CatalogState{
		Query:      v.query,
		Products:   catalog.Apply(products, v.query),
		Categories: catalog.Categories(products),
	}
	state := v.state
	v.mu.Unlock()

	v.listeners.emit(state)
}
