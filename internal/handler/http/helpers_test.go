package http

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/utafrali/stocksync/internal/repository/memory"
	"github.com/utafrali/stocksync/internal/service"
	"github.com/utafrali/stocksync/pkg/health"
	"github.com/utafrali/stocksync/pkg/httputil"
)

// ============================================================================
// Test environment
// ============================================================================

// testEnv wires both services to one in-memory store, the way a shared
// journal database connects them in production.
type testEnv struct {
	db      *memory.Store
	journal *service.EventJournal
	store   http.Handler
	central http.Handler
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := testLogger()
	st := memory.NewStore()

	journal := service.NewEventJournal(st.Repositories().Events, service.DefaultJournalConfig(), logger)
	reservations := service.NewReservationStore(st, journal, nil, nil, service.DefaultReservationConfig(), logger)
	aggCfg := service.DefaultAggregatorConfig()
	aggCfg.SweepGrace = 0
	aggregator := service.NewCentralAggregator(st, journal, nil, aggCfg, logger)
	registry := service.NewStoreInventoryRegistry(st, nil, logger)
	central := service.NewCentralInventoryService(st, nil, logger)

	hh := health.NewHandler()
	hh.RegisterCritical("storage", st.Ping)

	return &testEnv{
		db:      st,
		journal: journal,
		store:   NewStoreRouter(NewStoreHandler(reservations, journal, logger), hh, logger),
		central: NewCentralRouter(NewCentralHandler(central, registry, aggregator, journal, logger), hh, logger),
	}
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			reader = bytes.NewReader([]byte(b))
		default:
			raw, err := json.Marshal(b)
			require.NoError(t, err)
			reader = bytes.NewReader(raw)
		}
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) httputil.Response {
	t.Helper()
	var resp httputil.Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

// decodeData decodes the data member of the envelope into dst.
func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var resp struct {
		Data  json.RawMessage         `json:"data"`
		Error *httputil.ErrorResponse `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Nil(t, resp.Error)
	require.NoError(t, json.Unmarshal(resp.Data, dst))
}

func (e *testEnv) createProduct(t *testing.T, sku, storeID string, quantity int) {
	t.Helper()
	rec := doRequest(t, e.store, http.MethodPost, "/api/v1/products", map[string]any{
		"sku":        sku,
		"store_id":   storeID,
		"name":       "Widget " + sku,
		"unit_price": "9.99",
		"quantity":   quantity,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func doRequestWithType(t *testing.T, h http.Handler, path, body, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}
