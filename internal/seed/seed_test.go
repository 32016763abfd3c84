package seed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/stocksync/internal/client"
	"github.com/utafrali/stocksync/internal/domain"
	apperrors "github.com/utafrali/stocksync/pkg/errors"
)

// fakeAPI keeps per-product stock in memory and mimics the store's error codes.
type fakeAPI struct {
	mu       sync.Mutex
	products map[string]*domain.Product
	sweeps   int
	failOn   string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{products: make(map[string]*domain.Product)}
}

func key(sku, storeID string) string { return sku + "@" + storeID }

func (f *fakeAPI) CreateProduct(_ context.Context, p client.NewProduct) (*domain.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn == "create" {
		return nil, errors.New("connection refused")
	}
	k := key(p.SKU, p.StoreID)
	if _, ok := f.products[k]; ok {
		return nil, apperrors.Conflict("PRODUCT_ALREADY_EXISTS", "exists", nil)
	}
	prod := &domain.Product{SKU: p.SKU, StoreID: p.StoreID, Name: p.Name, Quantity: p.Quantity, Active: true}
	f.products[k] = prod
	return prod, nil
}

func (f *fakeAPI) Reserve(_ context.Context, sku, storeID string, q int) (*client.OperationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.products[key(sku, storeID)]
	if p.Quantity-p.ReservedQuantity < q {
		return nil, apperrors.Conflict("INSUFFICIENT_STOCK", "not enough stock available", nil)
	}
	p.ReservedQuantity += q
	return &client.OperationResult{Success: true}, nil
}

func (f *fakeAPI) Commit(_ context.Context, sku, storeID string, q int) (*client.OperationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.products[key(sku, storeID)]
	if p.ReservedQuantity < q {
		return nil, apperrors.Conflict("INSUFFICIENT_RESERVED_QUANTITY", "not enough reserved stock", nil)
	}
	p.ReservedQuantity -= q
	p.Quantity -= q
	return &client.OperationResult{Success: true}, nil
}

func (f *fakeAPI) Cancel(_ context.Context, sku, storeID string, q int) (*client.OperationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.products[key(sku, storeID)]
	if p.ReservedQuantity < q {
		return nil, apperrors.Conflict("INSUFFICIENT_RESERVED_QUANTITY", "not enough reserved stock", nil)
	}
	p.ReservedQuantity -= q
	return &client.OperationResult{Success: true}, nil
}

func (f *fakeAPI) Sweep(_ context.Context) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	return map[string]int{"applied": len(f.products)}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCatalogue_ValidSKUs(t *testing.T) {
	skuPattern := regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)
	items := Catalogue(70)

	seen := make(map[string]bool)
	for _, item := range items {
		assert.Regexp(t, skuPattern, item.SKU)
		assert.False(t, seen[item.SKU], "duplicate sku %s", item.SKU)
		seen[item.SKU] = true
		assert.True(t, item.Price.IsPositive())
	}
	assert.Equal(t, "CERAMIC-MUG-0001", items[0].SKU)
	assert.Equal(t, "CREME-MUG-0002", items[1].SKU)
}

func TestStoreIDs(t *testing.T) {
	assert.Equal(t, []string{"store-01", "store-02"}, StoreIDs(2))
}

func TestRunner_Run(t *testing.T) {
	api := newFakeAPI()
	r := NewRunner(api, Config{
		Products:        5,
		Stores:          2,
		InitialQuantity: 3,
		Operations:      200,
		Concurrency:     4,
		RandomSeed:      7,
	}, testLogger())

	rep, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 10, rep.Created)
	assert.Equal(t, 200, rep.Reserved+rep.Rejected)
	assert.Equal(t, rep.Reserved, rep.Committed+rep.Cancelled)
	assert.Positive(t, rep.Rejected, "three units per product cannot absorb 200 operations")
	assert.Equal(t, 1, api.sweeps)
	assert.Equal(t, 10, rep.Sweep["applied"])

	committed := 0
	for _, p := range api.products {
		assert.Zero(t, p.ReservedQuantity)
		assert.GreaterOrEqual(t, p.Quantity, 0)
		committed += 3 - p.Quantity
	}
	assert.Positive(t, committed)
}

func TestRunner_RerunCountsExisting(t *testing.T) {
	api := newFakeAPI()
	cfg := Config{Products: 2, Stores: 2, InitialQuantity: 1, Concurrency: 2, SkipSweep: true}

	_, err := NewRunner(api, cfg, testLogger()).Run(context.Background())
	require.NoError(t, err)

	rep, err := NewRunner(api, cfg, testLogger()).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, rep.Created)
	assert.Equal(t, 4, rep.Existing)
	assert.Zero(t, api.sweeps)
}

func TestRunner_CreateFailureAborts(t *testing.T) {
	api := newFakeAPI()
	api.failOn = "create"

	_, err := NewRunner(api, Config{Products: 1, Stores: 1, Concurrency: 1}, testLogger()).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "INSUFFICIENT_STOCK", errorCode(apperrors.New("INSUFFICIENT_STOCK", "x", http.StatusConflict, nil)))
	assert.Empty(t, errorCode(errors.New("plain")))
}
