package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/stocksync/internal/cache"
	"github.com/utafrali/stocksync/internal/domain"
)

func TestStoreInventoryRegistry_ReconcileWithoutDrift(t *testing.T) {
	h := newHarness(t)
	h.createProduct(t, "SKU-1", "store-A", 10)
	h.createProduct(t, "SKU-1", "store-B", 5)
	h.applyPending(t)

	d, err := h.registry.Reconcile(context.Background(), "SKU-1")
	require.NoError(t, err)
	assert.False(t, d.HasDrift())
	assert.False(t, d.Corrected)
	assert.Equal(t, 15, d.RegistryQuantity)
}

func TestStoreInventoryRegistry_ReconcileCorrectsDrift(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.createProduct(t, "SKU-1", "store-A", 10)
	h.createProduct(t, "SKU-1", "store-B", 5)
	h.applyPending(t)

	require.NoError(t, h.store.Repositories().Central.ApplyDelta(ctx, "SKU-1", 7, 2, testNow))
	_, err := h.central.GetGlobalAvailable(ctx, "SKU-1")
	require.NoError(t, err)

	d, err := h.registry.Reconcile(ctx, "SKU-1")
	require.NoError(t, err)
	assert.True(t, d.Corrected)
	assert.Equal(t, domain.Drift{
		ProductSKU:       "SKU-1",
		CentralQuantity:  22,
		CentralReserved:  2,
		RegistryQuantity: 15,
		RegistryReserved: 0,
		Corrected:        true,
	}, d)

	c := h.centralRow(t, "SKU-1")
	assert.Equal(t, 15, c.TotalQuantity)
	assert.Equal(t, 0, c.TotalReservedQuantity)
	assert.False(t, h.cache.has(cache.CentralKey("SKU-1")))

	again, err := h.registry.Reconcile(ctx, "SKU-1")
	require.NoError(t, err)
	assert.False(t, again.HasDrift())
}

func TestStoreInventoryRegistry_ReconcileUnknownSku(t *testing.T) {
	h := newHarness(t)

	_, err := h.registry.Reconcile(context.Background(), "SKU-404")
	assertCode(t, err, "CENTRAL_INVENTORY_NOT_FOUND")
}

func TestStoreInventoryRegistry_ReconcileAll(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.createProduct(t, "SKU-1", "store-A", 10)
	h.createProduct(t, "SKU-2", "store-A", 3)
	h.applyPending(t)

	require.NoError(t, h.store.Repositories().Central.ApplyDelta(ctx, "SKU-2", -1, 0, testNow))

	drifts, err := h.registry.ReconcileAll(ctx)
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	assert.Equal(t, "SKU-2", drifts[0].ProductSKU)
	assert.True(t, drifts[0].Corrected)
	assert.Equal(t, 3, h.centralRow(t, "SKU-2").TotalQuantity)
}

func TestStoreInventoryRegistry_Rebuild(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.createProduct(t, "SKU-1", "store-A", 10)
	h.createProduct(t, "SKU-1", "store-B", 5)
	h.createProduct(t, "SKU-2", "store-A", 8)
	_, err := h.reservations.Reserve(ctx, "SKU-1", "store-A", 4)
	require.NoError(t, err)
	h.applyPending(t)

	_, err = h.registry.UpdateStoreDetails(ctx, domain.StoreDetails{StoreID: "store-A", Name: "Downtown", Location: "Main St 1"})
	require.NoError(t, err)

	repos := h.store.Repositories()
	require.NoError(t, repos.Registry.DeleteAll(ctx))
	require.NoError(t, repos.Central.ApplyDelta(ctx, "SKU-1", 100, 100, testNow))

	result, err := h.registry.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, RebuildResult{Stores: 3, SKUs: 2}, result)

	row, err := h.registry.Get(ctx, "SKU-1", "store-A")
	require.NoError(t, err)
	assert.Equal(t, 10, row.Quantity)
	assert.Equal(t, 4, row.Reserved)
	assert.Equal(t, int64(2), row.LastSequence)
	assert.Equal(t, "Downtown", row.StoreName)
	assert.Equal(t, "Main St 1", row.StoreLocation)

	c := h.centralRow(t, "SKU-1")
	assert.Equal(t, 15, c.TotalQuantity)
	assert.Equal(t, 4, c.TotalReservedQuantity)
	assert.Equal(t, 8, h.centralRow(t, "SKU-2").TotalQuantity)

	d, err := h.registry.Reconcile(ctx, "SKU-1")
	require.NoError(t, err)
	assert.False(t, d.HasDrift())
}

func TestStoreInventoryRegistry_RebuildSurvivesRetention(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.createProduct(t, "SKU-1", "store-A", 10)
	_, err := h.reservations.UpdateQuantity(ctx, "SKU-1", "store-A", 12)
	require.NoError(t, err)
	h.applyPending(t)

	n, err := h.journal.DeleteOlderThan(ctx, testNow.Add(1))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = h.registry.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12, h.centralRow(t, "SKU-1").TotalQuantity)
}

func TestStoreInventoryRegistry_UpdateStoreDetails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.createProduct(t, "SKU-1", "store-A", 1)
	h.createProduct(t, "SKU-2", "store-A", 1)
	h.applyPending(t)

	n, err := h.registry.UpdateStoreDetails(ctx, domain.StoreDetails{StoreID: "store-A", Name: "Airport", Location: "Terminal 2"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	row, err := h.registry.Get(ctx, "SKU-2", "store-A")
	require.NoError(t, err)
	assert.Equal(t, "Airport", row.StoreName)

	_, err = h.registry.UpdateStoreDetails(ctx, domain.StoreDetails{Name: "Nowhere"})
	assertCode(t, err, "INVALID_INPUT")
}
