// Package datasync keeps a local snapshot of the marketplace catalog
// eventually consistent with the backend.
package datasync

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"marketplace-storefront/internal/events"
	"marketplace-storefront/internal/models"
	"marketplace-storefront/internal/normalize"
	"marketplace-storefront/internal/storage"
	"marketplace-storefront/internal/telemetry"
)

// ErrUnauthenticated is returned when a sync is attempted without a session token
var ErrUnauthenticated = errors.New("unauthenticated")

// Source is the part of the backend client the manager reads from
type Source interface {
	ListProducts(ctx context.Context) ([]normalize.Record, error)
	ListCompanies(ctx context.Context) ([]normalize.Record, error)
	ListUsers(ctx context.Context) ([]normalize.Record, error)
}

// Session tells whether a usable token is present
type Session interface {
	IsAuthenticated(ctx context.Context) bool
}

// Reconciler receives every fresh product snapshot
type Reconciler interface {
	SyncWithCatalog(products []models.Product)
}

// Config holds the scheduling settings
type Config struct {
	Interval     time.Duration
	InitialDelay time.Duration
	StaleAfter   time.Duration
}

// Manager fetches, normalizes and persists the snapshot and broadcasts the
// outcome. Runs are not coalesced: overlapping runs each write a whole
// snapshot and the last one to finish wins.
type Manager struct {
	source     Source
	session    Session
	store      storage.Store
	bus        *events.Bus
	reconciler Reconciler
	cfg        Config
	metrics    *telemetry.StorefrontTelemetry
	logger     *slog.Logger
	now        func() time.Time

	status      models.SyncStatus
	statusMutex sync.RWMutex
	version     atomic.Int64

	runMutex sync.Mutex
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// Option configures a Manager
type Option func(*Manager)

// WithTelemetry records runs on t
func WithTelemetry(t *telemetry.StorefrontTelemetry) Option {
	return func(m *Manager) { m.metrics = t }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a manager. reconciler may be nil.
func NewManager(source Source, session Session, store storage.Store, bus *events.Bus, reconciler Reconciler, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		source:     source,
		session:    session,
		store:      store,
		bus:        bus,
		reconciler: reconciler,
		cfg:        cfg,
		logger:     slog.Default().With("component", "datasync"),
		now:        time.Now,
		status:     models.SyncStatus{State: models.SyncIdle},
	}
	for _, opt := range opts {
		opt(m)
	}

	if cache, err := m.readCache(context.Background()); err == nil {
		m.version.Store(int64(cache.Version))
		ts := cache.Timestamp
		m.status.LastSyncTime = &ts
		m.status.Counts = models.SyncCounts{
			Products:  len(cache.Products),
			Companies: len(cache.Companies),
			Users:     len(cache.Users),
		}
	}
	return m
}

// SyncData runs one synchronization
func (m *Manager) SyncData(ctx context.Context) error {
	return m.run(ctx, SignalManual)
}

// ForceSync drops the persisted snapshot and synchronizes
func (m *Manager) ForceSync(ctx context.Context) error {
	m.logger.Info("Force sync requested")
	if err := m.store.Delete(ctx, storage.KeySyncCache, storage.KeyProductsCache, storage.KeyCompaniesCache); err != nil {
		m.logger.Warn("Failed to clear cached snapshot", "error", err)
	}
	return m.run(ctx, SignalForce)
}

func (m *Manager) run(ctx context.Context, trigger Signal) (err error) {
	start := m.now()
	defer func() {
		m.metrics.RecordSync(ctx, string(trigger), m.now().Sub(start), err)
	}()

	if !m.session.IsAuthenticated(ctx) {
		m.logger.Debug("Skipping sync without session token", "trigger", trigger)
		m.fail(ErrUnauthenticated)
		return ErrUnauthenticated
	}

	m.setSyncing()
	m.logger.Debug("Sync started", "trigger", trigger)

	var productRecs, companyRecs, userRecs []normalize.Record
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		recs, err := m.source.ListProducts(gctx)
		if err != nil {
			return errors.Wrap(err, "fetch products")
		}
		productRecs = recs
		return nil
	})
	g.Go(func() error {
		recs, err := m.source.ListCompanies(gctx)
		if err != nil {
			return errors.Wrap(err, "fetch companies")
		}
		companyRecs = recs
		return nil
	})
	g.Go(func() error {
		// Users are admin-only upstream; a refusal must not fail the sync
		recs, err := m.source.ListUsers(gctx)
		if err != nil {
			m.logger.Debug("User list unavailable", "error", err)
			return nil
		}
		userRecs = recs
		return nil
	})
	if err := g.Wait(); err != nil {
		m.logger.Error("Sync failed", "trigger", trigger, "error", err)
		m.fail(err)
		return err
	}

	products := normalize.Products(productRecs)
	companies := normalize.Companies(companyRecs)
	users := normalize.Users(userRecs)

	syncTime := m.now().UTC()
	cache := models.SyncCache{
		Products:  products,
		Companies: companies,
		Users:     users,
		Timestamp: syncTime,
		Version:   int(m.version.Add(1)),
		SyncID:    uuid.NewString(),
	}
	if err := m.persist(ctx, cache); err != nil {
		m.logger.Error("Failed to persist snapshot", "error", err)
		m.fail(err)
		return err
	}

	counts := models.SyncCounts{Products: len(products), Companies: len(companies), Users: len(users)}
	m.succeed(syncTime, counts)
	m.metrics.RecordSnapshot(ctx, counts.Products, counts.Companies, counts.Users)

	if m.reconciler != nil {
		m.reconciler.SyncWithCatalog(products)
	}
	if m.bus != nil {
		m.bus.Publish(events.TopicDataSynced, models.DataSynced{
			Products:  products,
			Companies: companies,
			Users:     users,
		})
	}

	m.logger.Info("Sync completed",
		"trigger", trigger,
		"products", counts.Products,
		"companies", counts.Companies,
		"users", counts.Users,
		"version", cache.Version,
		"duration", m.now().Sub(start),
	)
	return nil
}

func (m *Manager) persist(ctx context.Context, cache models.SyncCache) error {
	if err := storage.SetJSON(ctx, m.store, storage.KeySyncCache, cache); err != nil {
		return err
	}
	if err := storage.SetJSON(ctx, m.store, storage.KeyProductsCache, cache.Products); err != nil {
		return err
	}
	return storage.SetJSON(ctx, m.store, storage.KeyCompaniesCache, cache.Companies)
}

// CheckDataConsistency reports whether a snapshot exists and is no older
// than the staleness threshold. It never touches the network.
func (m *Manager) CheckDataConsistency(ctx context.Context) bool {
	cache, err := m.readCache(ctx)
	if err != nil {
		return false
	}
	return m.now().Sub(cache.Timestamp) <= m.cfg.StaleAfter
}

// GetCachedProducts returns the persisted product snapshot, or an empty list
func (m *Manager) GetCachedProducts(ctx context.Context) []models.Product {
	var products []models.Product
	if !m.readList(ctx, storage.KeyProductsCache, &products) {
		if cache, err := m.readCache(ctx); err == nil {
			products = cache.Products
		}
	}
	if products == nil {
		return []models.Product{}
	}
	return products
}

// GetCachedCompanies returns the persisted company snapshot, or an empty list
func (m *Manager) GetCachedCompanies(ctx context.Context) []models.Company {
	var companies []models.Company
	if !m.readList(ctx, storage.KeyCompaniesCache, &companies) {
		if cache, err := m.readCache(ctx); err == nil {
			companies = cache.Companies
		}
	}
	if companies == nil {
		return []models.Company{}
	}
	return companies
}

// GetCachedUsers returns the persisted user snapshot, or an empty list
func (m *Manager) GetCachedUsers(ctx context.Context) []models.User {
	cache, err := m.readCache(ctx)
	if err != nil || cache.Users == nil {
		return []models.User{}
	}
	return cache.Users
}

// readList decodes key into v. Parse failures are logged and swallowed.
func (m *Manager) readList(ctx context.Context, key string, v any) bool {
	if err := storage.GetJSON(ctx, m.store, key, v); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			m.logger.Warn("Ignoring unreadable cache", "key", key, "error", err)
		}
		return false
	}
	return true
}

func (m *Manager) readCache(ctx context.Context) (*models.SyncCache, error) {
	var cache models.SyncCache
	if err := storage.GetJSON(ctx, m.store, storage.KeySyncCache, &cache); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			m.logger.Warn("Ignoring unreadable sync cache", "error", err)
		}
		return nil, err
	}
	return &cache, nil
}

// GetSyncStatus returns a copy of the current status
func (m *Manager) GetSyncStatus() models.SyncStatus {
	m.statusMutex.RLock()
	defer m.statusMutex.RUnlock()
	return copyStatus(m.status)
}

func (m *Manager) setSyncing() {
	m.updateStatus(func(s *models.SyncStatus) {
		s.State = models.SyncSyncing
		s.Error = ""
	})
}

func (m *Manager) succeed(syncTime time.Time, counts models.SyncCounts) {
	m.updateStatus(func(s *models.SyncStatus) {
		s.State = models.SyncSuccess
		s.Error = ""
		s.LastSyncTime = &syncTime
		s.Counts = counts
	})
}

func (m *Manager) fail(err error) {
	m.updateStatus(func(s *models.SyncStatus) {
		s.State = models.SyncError
		s.Error = err.Error()
	})
}

// updateStatus applies fn and broadcasts the result
func (m *Manager) updateStatus(fn func(s *models.SyncStatus)) {
	m.statusMutex.Lock()
	fn(&m.status)
	status := copyStatus(m.status)
	m.statusMutex.Unlock()

	if m.bus != nil {
		m.bus.Publish(events.TopicSyncStatus, status)
	}
}

func copyStatus(s models.SyncStatus) models.SyncStatus {
	out := s
	if s.LastSyncTime != nil {
		t := *s.LastSyncTime
		out.LastSyncTime = &t
	}
	return out
}
