package views

import (
	"context"
	"log/slog"
	"sync"

	"marketplace-storefront/internal/events"
	"marketplace-storefront/internal/models"
)

// SyncSource is the part of the sync manager a SyncView reads
type SyncSource interface {
	GetSyncStatus() models.SyncStatus
	GetCachedProducts(ctx context.Context) []models.Product
	GetCachedCompanies(ctx context.Context) []models.Company
	SyncData(ctx context.Context) error
	ForceSync(ctx context.Context) error
}

// SyncState is what a SyncView exposes
type SyncState struct {
	Status    models.SyncStatus `json:"status"`
	Products  []models.Product  `json:"products"`
	Companies []models.Company  `json:"companies"`
}

// SyncView mirrors the snapshot and sync status. It does not schedule syncs
// of its own; the manager's schedule is the only one.
type SyncView struct {
	source SyncSource
	mu     sync.RWMutex
	state  SyncState

	listeners *listeners[SyncState]
	unsub     []func()
}

// NewSyncView reads the current state and follows dataSynced and syncStatus
func NewSyncView(source SyncSource, bus *events.Bus) *SyncView {
	v := &SyncView{
		source:    source,
		listeners: newListeners[SyncState](slog.Default().With("component", "views", "view", "sync")),
	}
	v.refresh()

	v.unsub = append(v.unsub,
		bus.Subscribe(events.TopicDataSynced, func(events.Event) { v.refreshAndEmit() }),
		bus.Subscribe(events.TopicSyncStatus, func(e events.Event) {
			status, ok := e.Data.(models.SyncStatus)
			if !ok {
				return
			}
			v.mu.Lock()
			v.state.Status = status
			state := v.state
			v.mu.Unlock()
			v.listeners.emit(state)
		}),
	)
	return v
}

// Snapshot returns the mirrored state
func (v *SyncView) Snapshot() SyncState {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state
}

// Status returns the mirrored sync status
func (v *SyncView) Status() models.SyncStatus {
	return v.Snapshot().Status
}

// Products returns the mirrored product snapshot
func (v *SyncView) Products() []models.Product {
	return v.Snapshot().Products
}

// SyncData asks the manager for a run
func (v *SyncView) SyncData(ctx context.Context) error {
	return v.source.SyncData(ctx)
}

// ForceSync asks the manager for a forced run
func (v *SyncView) ForceSync(ctx context.Context) error {
	return v.source.ForceSync(ctx)
}

// OnChange registers fn for every state change and returns its remover
func (v *SyncView) OnChange(fn func(SyncState)) func() {
	return v.listeners.add(fn)
}

// Close stops following events. No listener runs after Close returns.
func (v *SyncView) Close() {
	for _, unsub := range v.unsub {
		unsub()
	}
	v.listeners.close()
}

func (v *SyncView) refresh() SyncState {
	ctx := context.Background()
	products := v.source.GetCachedProducts(ctx)
	companies := v.source.GetCachedCompanies(ctx)
	status := v.source.GetSyncStatus()

	v.mu.Lock()
	defer v.mu.Unlock()
	v.state = SyncState{Status: status, Products: products, Companies: companies}
	return v.state
}

func (v *SyncView) refreshAndEmit() {
	if v.listeners.isClosed() {
		return
	}
	v.listeners.emit(v.refresh())
}
