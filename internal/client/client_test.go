package client

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	handler "github.com/utafrali/stocksync/internal/handler/http"
	"github.com/utafrali/stocksync/internal/repository/memory"
	"github.com/utafrali/stocksync/internal/service"
	apperrors "github.com/utafrali/stocksync/pkg/errors"
	"github.com/utafrali/stocksync/pkg/health"
	"github.com/utafrali/stocksync/pkg/httpclient"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memory.NewStore()

	journal := service.NewEventJournal(st.Repositories().Events, service.DefaultJournalConfig(), logger)
	reservations := service.NewReservationStore(st, journal, nil, nil, service.DefaultReservationConfig(), logger)
	aggCfg := service.DefaultAggregatorConfig()
	aggCfg.SweepGrace = 0
	aggregator := service.NewCentralAggregator(st, journal, nil, aggCfg, logger)
	registry := service.NewStoreInventoryRegistry(st, nil, logger)
	central := service.NewCentralInventoryService(st, nil, logger)

	hh := health.NewHandler()
	storeSrv := httptest.NewServer(handler.NewStoreRouter(handler.NewStoreHandler(reservations, journal, logger), hh, logger))
	t.Cleanup(storeSrv.Close)
	centralSrv := httptest.NewServer(handler.NewCentralRouter(handler.NewCentralHandler(central, registry, aggregator, journal, logger), hh, logger))
	t.Cleanup(centralSrv.Close)

	cfg := httpclient.DefaultConfig(t.Name())
	cfg.Timeout = 5 * time.Second
	cfg.MaxRetries = 0
	return New(storeSrv.URL, centralSrv.URL, cfg, logger)
}

func TestClient_ReservationLifecycle(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	p, err := c.CreateProduct(ctx, NewProduct{
		SKU:       "MUG-1",
		StoreID:   "s1",
		Name:      "Mug",
		UnitPrice: decimal.RequireFromString("4.50"),
		Quantity:  10,
	})
	require.NoError(t, err)
	assert.Equal(t, "MUG-1", p.SKU)
	assert.Equal(t, "s1", p.StoreID)
	assert.Equal(t, 10, p.Quantity)
	assert.True(t, p.Active)
	assert.True(t, p.UnitPrice.Equal(decimal.RequireFromString("4.50")))

	res, err := c.Reserve(ctx, "MUG-1", "s1", 4)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 4, res.Product.ReservedQuantity)

	res, err = c.Commit(ctx, "MUG-1", "s1", 3)
	require.NoError(t, err)
	assert.Equal(t, 7, res.Product.Quantity)
	assert.Equal(t, 1, res.Product.ReservedQuantity)

	_, err = c.Cancel(ctx, "MUG-1", "s1", 1)
	require.NoError(t, err)

	got, err := c.GetProduct(ctx, "MUG-1", "s1")
	require.NoError(t, err)
	assert.Equal(t, 7, got.Quantity)
	assert.Equal(t, 0, got.ReservedQuantity)
}

func TestClient_ErrorsCarryRemoteCode(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.GetProduct(ctx, "NOPE", "s1")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = c.CreateProduct(ctx, NewProduct{SKU: "A", StoreID: "s1", Name: "A", Quantity: 1})
	require.NoError(t, err)

	_, err = c.Reserve(ctx, "A", "s1", 5)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "INSUFFICIENT_STOCK", appErr.Code)
}

func TestClient_SweepAndCentral(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	for _, store := range []string{"s1", "s2"} {
		_, err := c.CreateProduct(ctx, NewProduct{SKU: "A", StoreID: store, Name: "A", Quantity: 5})
		require.NoError(t, err)
	}

	result, err := c.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result["applied"])

	inv, err := c.Central(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 10, inv.TotalQuantity)
	assert.Equal(t, 10, inv.AvailableQuantity)
}

func TestClient_CentralNotConfigured(t *testing.T) {
	c := New("http://localhost:1", "", httpclient.DefaultConfig(t.Name()), slog.Default())
	_, err := c.Central(context.Background(), "A")
	assert.Error(t, err)
}
