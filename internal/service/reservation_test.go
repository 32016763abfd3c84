package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/stocksync/internal/cache"
	"github.com/utafrali/stocksync/internal/domain"
	"github.com/utafrali/stocksync/internal/repository"
	"github.com/utafrali/stocksync/internal/repository/memory"
	"github.com/utafrali/stocksync/pkg/breaker"
	"github.com/utafrali/stocksync/pkg/pagination"
)

// ============================================================================
// Create / Find
// ============================================================================

func TestReservationStore_Create(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p, err := h.reservations.Create(ctx, CreateProductInput{
		SKU:       "SKU-1",
		StoreID:   "store-1",
		Name:      "Espresso beans",
		UnitPrice: decimal.RequireFromString("12.50"),
		Quantity:  40,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.Version)
	assert.True(t, p.Active)
	assert.Equal(t, 40, p.AvailableQuantity())

	events := h.pendingEvents(t)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventRestock, events[0].EventType)
	assert.Equal(t, 0, events[0].PreviousQuantity)
	assert.Equal(t, 40, events[0].NewQuantity)
	assert.Equal(t, int64(1), events[0].Sequence)
	assert.Equal(t, "Espresso beans", events[0].ProductName)
	assert.Equal(t, domain.StatusPending, events[0].ProcessingStatus)

	assert.True(t, h.cache.has(cache.StoreKey("SKU-1", "store-1")))
}

func TestReservationStore_Create_Rejects(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.createProduct(t, "SKU-1", "store-1", 5)

	_, err := h.reservations.Create(ctx, CreateProductInput{SKU: "SKU-1", StoreID: "store-1", Quantity: 1})
	assertCode(t, err, "PRODUCT_ALREADY_EXISTS")

	_, err = h.reservations.Create(ctx, CreateProductInput{SKU: " ", StoreID: "store-1"})
	assertCode(t, err, "INVALID_INPUT")

	_, err = h.reservations.Create(ctx, CreateProductInput{SKU: "SKU-2", StoreID: "store-1", Quantity: -1})
	assertCode(t, err, "INVALID_QUANTITY")

	assert.Len(t, h.pendingEvents(t), 1, "failed creates leave no event behind")
}

func TestReservationStore_FindBySkuAndStore_NotFound(t *testing.T) {
	h := newHarness(t)

	_, err := h.reservations.FindBySkuAndStore(context.Background(), "SKU-404", "store-1")
	assertCode(t, err, "PRODUCT_NOT_FOUND")
	assert.ErrorIs(t, err, domain.ErrProductNotFound)

	_, err = h.reservations.Reserve(context.Background(), "SKU-404", "store-1", 1)
	assertCode(t, err, "PRODUCT_NOT_FOUND")
}

// ============================================================================
// Reserve / Commit / Cancel
// ============================================================================

func TestReservationStore_Lifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.createProduct(t, "SKU-1", "store-1", 100)

	p, err := h.reservations.Reserve(ctx, "SKU-1", "store-1", 30)
	require.NoError(t, err)
	assert.Equal(t, 30, p.ReservedQuantity)
	assert.Equal(t, 70, p.AvailableQuantity())

	p, err = h.reservations.CommitReserved(ctx, "SKU-1", "store-1", 20)
	require.NoError(t, err)
	assert.Equal(t, 80, p.Quantity)
	assert.Equal(t, 10, p.ReservedQuantity)

	p, err = h.reservations.CancelReservation(ctx, "SKU-1", "store-1", 10)
	require.NoError(t, err)
	assert.Equal(t, 80, p.Quantity)
	assert.Equal(t, 0, p.ReservedQuantity)
	assert.Equal(t, 80, p.AvailableQuantity())
	assert.Equal(t, int64(4), p.Version)

	events := h.pendingEvents(t)
	require.Len(t, events, 4)
	types := []domain.EventType{domain.EventRestock, domain.EventReserve, domain.EventCommit, domain.EventCancel}
	for i, e := range events {
		assert.Equal(t, types[i], e.EventType)
		assert.Equal(t, int64(i+1), e.Sequence)
	}
	assert.Equal(t, 100, events[2].PreviousQuantity)
	assert.Equal(t, 80, events[2].NewQuantity)
	assert.Equal(t, -20, events[2].QuantityDifference())
}

func TestReservationStore_CommitMoreThanReserved(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.createProduct(t, "SKU-1", "store-1", 10)
	_, err := h.reservations.Reserve(ctx, "SKU-1", "store-1", 3)
	require.NoError(t, err)

	_, err = h.reservations.CommitReserved(ctx, "SKU-1", "store-1", 4)
	assertCode(t, err, "INSUFFICIENT_RESERVED_QUANTITY")
	assert.ErrorIs(t, err, domain.ErrInsufficientReservedQuantity)

	p, err := h.reservations.FindBySkuAndStore(ctx, "SKU-1", "store-1")
	require.NoError(t, err)
	assert.Equal(t, 10, p.Quantity)
	assert.Equal(t, 3, p.ReservedQuantity)
	assert.Equal(t, int64(2), p.Version)
	assert.Len(t, h.pendingEvents(t), 2)
}

func TestReservationStore_ReserveRejects(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.createProduct(t, "SKU-1", "store-1", 5)

	_, err := h.reservations.Reserve(ctx, "SKU-1", "store-1", 0)
	assertCode(t, err, "INVALID_QUANTITY")

	_, err = h.reservations.Reserve(ctx, "SKU-1", "store-1", 6)
	assertCode(t, err, "INSUFFICIENT_STOCK")

	_, err = h.reservations.CancelReservation(ctx, "SKU-1", "store-1", 1)
	assertCode(t, err, "INSUFFICIENT_RESERVED_QUANTITY")
}

func TestReservationStore_ConcurrentReservesNeverOversell(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.createProduct(t, "SKU-1", "store-1", 1)

	const workers = 50
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		successes    int
		insufficient int
		other        []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.reservations.Reserve(ctx, "SKU-1", "store-1", 1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, domain.ErrInsufficientStock):
				insufficient++
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, insufficient)
	assert.Empty(t, other)

	available, err := h.reservations.GetAvailableQuantity(ctx, "SKU-1", "store-1")
	require.NoError(t, err)
	assert.Equal(t, 0, available)
	assert.Len(t, h.pendingEvents(t), 2)
}

func TestReservationStore_GivesUpAfterRepeatedConflicts(t *testing.T) {
	store := &faultyStore{
		Store: memory.NewStore(),
		wrap: func(r repository.Repositories) repository.Repositories {
			r.Products = conflictingProducts{r.Products}
			return r
		},
	}
	h := newHarness(t, withStore(store))
	ctx := context.Background()

	p, err := domain.NewProduct("SKU-1", "store-1", "", "", decimal.Zero, 5, testNow)
	require.NoError(t, err)
	require.NoError(t, store.Repositories().Products.Create(ctx, p))

	_, err = h.reservations.Reserve(ctx, "SKU-1", "store-1", 1)
	assertCode(t, err, "CONCURRENT_MODIFICATION")
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)
	assert.Empty(t, h.pendingEvents(t))
}

// ============================================================================
// UpdateQuantity / SetActive
// ============================================================================

func TestReservationStore_UpdateQuantity_EventTypes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.createProduct(t, "SKU-1", "store-1", 10)

	_, err := h.reservations.UpdateQuantity(ctx, "SKU-1", "store-1", 25)
	require.NoError(t, err)
	_, err = h.reservations.UpdateQuantity(ctx, "SKU-1", "store-1", 20)
	require.NoError(t, err)

	events := h.pendingEvents(t)
	require.Len(t, events, 3)
	assert.Equal(t, domain.EventRestock, events[1].EventType)
	assert.Equal(t, 15, events[1].QuantityDifference())
	assert.Equal(t, domain.EventUpdate, events[2].EventType)
	assert.Equal(t, -5, events[2].QuantityDifference())

	_, err = h.reservations.UpdateQuantity(ctx, "SKU-1", "store-1", -1)
	assertCode(t, err, "INVALID_QUANTITY")
}

func TestReservationStore_UpdateQuantity_Policies(t *testing.T) {
	t.Run("permissive allows negative availability", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		h.createProduct(t, "SKU-1", "store-1", 10)
		_, err := h.reservations.Reserve(ctx, "SKU-1", "store-1", 8)
		require.NoError(t, err)

		p, err := h.reservations.UpdateQuantity(ctx, "SKU-1", "store-1", 5)
		require.NoError(t, err)
		assert.Equal(t, -3, p.AvailableQuantity())
	})

	t.Run("strict rejects quantity below reserved", func(t *testing.T) {
		h := newHarness(t, withPolicy(domain.PolicyStrict))
		ctx := context.Background()
		h.createProduct(t, "SKU-1", "store-1", 10)
		_, err := h.reservations.Reserve(ctx, "SKU-1", "store-1", 8)
		require.NoError(t, err)

		_, err = h.reservations.UpdateQuantity(ctx, "SKU-1", "store-1", 5)
		assertCode(t, err, "QUANTITY_BELOW_RESERVED")

		p, err := h.reservations.UpdateQuantity(ctx, "SKU-1", "store-1", 8)
		require.NoError(t, err)
		assert.Equal(t, 0, p.AvailableQuantity())
	})
}

func TestReservationStore_SetActive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.createProduct(t, "SKU-1", "store-1", 10)
	_, err := h.reservations.Reserve(ctx, "SKU-1", "store-1", 4)
	require.NoError(t, err)

	p, err := h.reservations.SetActive(ctx, "SKU-1", "store-1", false)
	require.NoError(t, err)
	assert.False(t, p.Active)

	_, err = h.reservations.Reserve(ctx, "SKU-1", "store-1", 1)
	assertCode(t, err, "PRODUCT_INACTIVE")

	p, err = h.reservations.CommitReserved(ctx, "SKU-1", "store-1", 4)
	require.NoError(t, err, "reservations can be settled on an inactive product")
	assert.Equal(t, 6, p.Quantity)

	_, err = h.reservations.SetActive(ctx, "SKU-1", "store-1", true)
	require.NoError(t, err)
	_, err = h.reservations.Reserve(ctx, "SKU-1", "store-1", 1)
	require.NoError(t, err)

	events := h.pendingEvents(t)
	assert.Equal(t, domain.EventUpdate, events[2].EventType)
	assert.Equal(t, 0, events[2].QuantityDifference())
}

// ============================================================================
// Queries and cache
// ============================================================================

func TestReservationStore_GetAvailableQuantity_ReadsThroughCache(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p, err := domain.NewProduct("SKU-1", "store-1", "", "", decimal.Zero, 9, testNow)
	require.NoError(t, err)
	require.NoError(t, h.store.Repositories().Products.Create(ctx, p))

	v, err := h.reservations.GetAvailableQuantity(ctx, "SKU-1", "store-1")
	require.NoError(t, err)
	assert.Equal(t, 9, v)
	assert.Equal(t, 1, h.cache.misses)

	v, err = h.reservations.GetAvailableQuantity(ctx, "SKU-1", "store-1")
	require.NoError(t, err)
	assert.Equal(t, 9, v)
	assert.Equal(t, 1, h.cache.hits)

	_, err = h.reservations.Reserve(ctx, "SKU-1", "store-1", 2)
	require.NoError(t, err)
	v, err = h.reservations.GetAvailableQuantity(ctx, "SKU-1", "store-1")
	require.NoError(t, err)
	assert.Equal(t, 7, v, "mutations write through to the cache")
}

func TestReservationStore_StaleCacheWriteIsDropped(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	availability := cache.NewRedisCache(client, time.Minute, breaker.DefaultConfig(t.Name()), testLogger())

	st := memory.NewStore()
	journal := NewEventJournal(st.Repositories().Events, DefaultJournalConfig(), testLogger())
	reservations := NewReservationStore(st, journal, nil, availability, DefaultReservationConfig(), testLogger())
	ctx := context.Background()

	_, err := reservations.Create(ctx, CreateProductInput{SKU: "SKU-1", StoreID: "store-1", Name: "Mug", Quantity: 10})
	require.NoError(t, err)
	first, err := reservations.Reserve(ctx, "SKU-1", "store-1", 2)
	require.NoError(t, err)
	stale := *first
	_, err = reservations.Reserve(ctx, "SKU-1", "store-1", 3)
	require.NoError(t, err)

	// The first commit's cache write lands after the second one.
	reservations.cacheAvailability(ctx, &stale)

	v, err := reservations.GetAvailableQuantity(ctx, "SKU-1", "store-1")
	require.NoError(t, err)
	assert.Equal(t, 5, v)
}

func TestReservationStore_FindAvailableAndSearch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, in := range []CreateProductInput{
		{SKU: "SKU-1", StoreID: "store-1", Name: "Blue Mug", Quantity: 3},
		{SKU: "SKU-2", StoreID: "store-1", Name: "Red Mug", Quantity: 0},
		{SKU: "SKU-3", StoreID: "store-2", Name: "Blue Plate", Quantity: 4},
	} {
		_, err := h.reservations.Create(ctx, in)
		require.NoError(t, err)
	}

	avail, err := h.reservations.FindAvailableProducts(ctx, "store-1", pagination.DefaultParams())
	require.NoError(t, err)
	require.Len(t, avail.Data, 1)
	assert.Equal(t, "SKU-1", avail.Data[0].SKU)

	all, err := h.reservations.FindAvailableProducts(ctx, "", pagination.DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, 2, all.TotalCount)

	found, err := h.reservations.SearchByName(ctx, "blue", "", pagination.DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, 2, found.TotalCount)

	_, err = h.reservations.SearchByName(ctx, "  ", "", pagination.DefaultParams())
	assertCode(t, err, "INVALID_INPUT")
}

// ============================================================================
// Delivery
// ============================================================================

func TestReservationStore_PublishesCommittedEvents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.createProduct(t, "SKU-1", "store-1", 10)
	_, err := h.reservations.Reserve(ctx, "SKU-1", "store-1", 2)
	require.NoError(t, err)
	h.reservations.Drain()

	published := h.publisher.published()
	require.Len(t, published, 2)
	ids := map[string]bool{}
	for _, e := range h.pendingEvents(t) {
		ids[e.EventID] = true
	}
	for _, e := range published {
		assert.True(t, ids[e.EventID], "published event %s is journaled", e.EventID)
	}
}

func TestReservationStore_PublishFailureLeavesEventPending(t *testing.T) {
	h := newHarness(t)
	h.publisher.err = errors.New("broker unreachable")
	ctx := context.Background()

	h.createProduct(t, "SKU-1", "store-1", 10)
	h.reservations.Drain()

	events := h.pendingEvents(t)
	require.Len(t, events, 1)
	assert.Equal(t, domain.StatusPending, events[0].ProcessingStatus)

	h.clock.Advance(time.Minute)
	result, err := h.aggregator.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Applied)

	c, err := h.central.GetCentralInventory(ctx, "SKU-1")
	require.NoError(t, err)
	assert.Equal(t, 10, c.TotalQuantity)
}
