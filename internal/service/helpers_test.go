package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/stocksync/internal/cache"
	"github.com/utafrali/stocksync/internal/domain"
	"github.com/utafrali/stocksync/internal/repository"
	"github.com/utafrali/stocksync/internal/repository/memory"
	apperrors "github.com/utafrali/stocksync/pkg/errors"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ============================================================================
// Fakes
// ============================================================================

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.InventoryEvent
	err    error
}

func (p *recordingPublisher) PublishInventoryEvent(_ context.Context, e *domain.InventoryEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, *e)
	return nil
}

func (p *recordingPublisher) published() []domain.InventoryEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.InventoryEvent(nil), p.events...)
}

// mapCache is an in-process AvailabilityCache that counts lookups.
type mapCache struct {
	mu       sync.Mutex
	values   map[string]int
	versions map[string]int64
	hits     int
	misses   int
}

var _ cache.AvailabilityCache = (*mapCache)(nil)

func newMapCache() *mapCache {
	return &mapCache{values: make(map[string]int), versions: make(map[string]int64)}
}

func (c *mapCache) get(key string) (int, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return v, ok, nil
}

func (c *mapCache) set(key string, v int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = v
	return nil
}

func (c *mapCache) GetStore(_ context.Context, sku, storeID string) (int, bool, error) {
	return c.get(cache.StoreKey(sku, storeID))
}

func (c *mapCache) SetStore(_ context.Context, sku, storeID string, available int, version int64) error {
	key := cache.StoreKey(sku, storeID)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.values[key]; ok && c.versions[key] >= version {
		return nil
	}
	c.values[key] = available
	c.versions[key] = version
	return nil
}

func (c *mapCache) GetCentral(_ context.Context, sku string) (int, bool, error) {
	return c.get(cache.CentralKey(sku))
}

func (c *mapCache) SetCentral(_ context.Context, sku string, available int) error {
	return c.set(cache.CentralKey(sku), available)
}

func (c *mapCache) InvalidateCentral(_ context.Context, skus ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sku := range skus {
		delete(c.values, cache.CentralKey(sku))
	}
	return nil
}

func (c *mapCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.values[key]
	return ok
}

// faultyStore wraps the memory store and lets tests swap repositories inside
// units of work.
type faultyStore struct {
	*memory.Store
	wrap func(r repository.Repositories) repository.Repositories
}

func (f *faultyStore) WithinTx(ctx context.Context, fn func(r repository.Repositories) error) error {
	return f.Store.WithinTx(ctx, func(r repository.Repositories) error {
		return fn(f.wrap(r))
	})
}

var errCentralDown = errors.New("central table unavailable")

type brokenCentral struct {
	repository.CentralRepository
}

func (brokenCentral) ApplyDelta(context.Context, string, int, int, time.Time) error {
	return errCentralDown
}

type conflictingProducts struct {
	repository.ProductRepository
}

func (conflictingProducts) UpdateState(context.Context, *domain.Product, int64) error {
	return domain.ErrVersionConflict
}

// ============================================================================
// Harness
// ============================================================================

type harness struct {
	store        repository.Store
	clock        *fakeClock
	cache        *mapCache
	publisher    *recordingPublisher
	journal      *EventJournal
	reservations *ReservationStore
	aggregator   *CentralAggregator
	registry     *StoreInventoryRegistry
	central      *CentralInventoryService
}

type harnessOption func(*harnessSettings)

type harnessSettings struct {
	store  repository.Store
	policy domain.UpdatePolicy
}

func withStore(s repository.Store) harnessOption {
	return func(h *harnessSettings) { h.store = s }
}

func withPolicy(p domain.UpdatePolicy) harnessOption {
	return func(h *harnessSettings) { h.policy = p }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	settings := harnessSettings{store: memory.NewStore(), policy: domain.PolicyPermissive}
	for _, opt := range opts {
		opt(&settings)
	}

	logger := testLogger()
	clock := &fakeClock{t: testNow}
	c := newMapCache()
	pub := &recordingPublisher{}

	journal := NewEventJournal(settings.store.Repositories().Events, JournalConfig{
		MaxAttempts: 3,
		BaseBackoff: time.Second,
		MaxBackoff:  time.Minute,
	}, logger)
	journal.now = clock.Now

	reservations := NewReservationStore(settings.store, journal, pub, c, ReservationConfig{
		Policy:      settings.policy,
		MaxAttempts: 5,
		RetryPause:  time.Millisecond,
	}, logger)
	reservations.now = clock.Now
	t.Cleanup(reservations.Drain)

	aggregator := NewCentralAggregator(settings.store, journal, c, AggregatorConfig{
		SweepBatch: 100,
		SweepGrace: 30 * time.Second,
		SweepRate:  1000,
		SweepBurst: 100,
	}, logger)
	aggregator.now = clock.Now

	registry := NewStoreInventoryRegistry(settings.store, c, logger)
	registry.now = clock.Now

	central := NewCentralInventoryService(settings.store, c, logger)
	central.now = clock.Now

	return &harness{
		store:        settings.store,
		clock:        clock,
		cache:        c,
		publisher:    pub,
		journal:      journal,
		reservations: reservations,
		aggregator:   aggregator,
		registry:     registry,
		central:      central,
	}
}

func (h *harness) createProduct(t *testing.T, sku, storeID string, quantity int) *domain.Product {
	t.Helper()
	p, err := h.reservations.Create(context.Background(), CreateProductInput{
		SKU:      sku,
		StoreID:  storeID,
		Name:     "Product " + sku,
		Quantity: quantity,
	})
	require.NoError(t, err)
	return p
}

// pendingEvents returns every non-terminal event in sweep order.
func (h *harness) pendingEvents(t *testing.T) []domain.InventoryEvent {
	t.Helper()
	events, err := h.journal.FindDue(context.Background(), h.clock.Now().Add(24*time.Hour), 0)
	require.NoError(t, err)
	return events
}

// applyPending applies every pending event and requires each to be applied.
func (h *harness) applyPending(t *testing.T) {
	t.Helper()
	for _, e := range h.pendingEvents(t) {
		e := e
		outcome, err := h.aggregator.Apply(context.Background(), &e)
		require.NoError(t, err)
		require.Equal(t, OutcomeApplied, outcome, "event %s seq %d", e.EventID, e.Sequence)
	}
}

func (h *harness) event(t *testing.T, id string) *domain.InventoryEvent {
	t.Helper()
	e, err := h.journal.Get(context.Background(), id)
	require.NoError(t, err)
	return e
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, code, appErr.Code)
}
