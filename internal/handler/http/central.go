package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/utafrali/stocksync/internal/domain"
	"github.com/utafrali/stocksync/internal/service"
	"github.com/utafrali/stocksync/pkg/httputil"
	"github.com/utafrali/stocksync/pkg/pagination"
	"github.com/utafrali/stocksync/pkg/validator"
)

// CentralHandler serves the network-wide inventory endpoints and the
// operational endpoints of the aggregator.
type CentralHandler struct {
	central    *service.CentralInventoryService
	registry   *service.StoreInventoryRegistry
	aggregator *service.CentralAggregator
	journal    *service.EventJournal
	logger     *slog.Logger
}

// NewCentralHandler creates a new central HTTP handler.
func NewCentralHandler(
	central *service.CentralInventoryService,
	registry *service.StoreInventoryRegistry,
	aggregator *service.CentralAggregator,
	journal *service.EventJournal,
	logger *slog.Logger,
) *CentralHandler {
	return &CentralHandler{
		central:    central,
		registry:   registry,
		aggregator: aggregator,
		journal:    journal,
		logger:     logger,
	}
}

// UpsertCatalogRequest is the JSON request body for setting catalog fields.
type UpsertCatalogRequest struct {
	ProductName string          `json:"product_name" validate:"required,max=255"`
	Description string          `json:"description" validate:"max=2000"`
	Category    string          `json:"category" validate:"max=100"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Active      *bool           `json:"active"`
}

// UpdateStoreRequest is the JSON request body for naming and locating a store.
type UpdateStoreRequest struct {
	Name     string `json:"name" validate:"required,max=255"`
	Location string `json:"location" validate:"max=255"`
}

// ReconcileResponse lists the SKUs whose totals were corrected.
type ReconcileResponse struct {
	Drifts []domain.Drift `json:"drifts"`
}

// ListCentral handles GET /api/v1/central
func (h *CentralHandler) ListCentral(w http.ResponseWriter, r *http.Request) {
	result, err := h.central.ListCentralInventory(r.Context(), pagination.FromRequest(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, result)
}

// GetCentral handles GET /api/v1/central/{sku}
func (h *CentralHandler) GetCentral(w http.ResponseWriter, r *http.Request) {
	sku, ok := pathSKU(w, r)
	if !ok {
		return
	}

	c, err := h.central.GetCentralInventory(r.Context(), sku)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, c)
}

// GetGlobal handles GET /api/v1/global/{sku}
func (h *CentralHandler) GetGlobal(w http.ResponseWriter, r *http.Request) {
	sku, ok := pathSKU(w, r)
	if !ok {
		return
	}

	g, err := h.central.GetGlobalInventory(r.Context(), sku)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, g)
}

// GetAvailable handles GET /api/v1/central/{sku}/available
func (h *CentralHandler) GetAvailable(w http.ResponseWriter, r *http.Request) {
	sku, ok := pathSKU(w, r)
	if !ok {
		return
	}

	available, err := h.central.GetGlobalAvailable(r.Context(), sku)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, map[string]any{
		"sku":                sku,
		"available_quantity": available,
	})
}

// UpsertCatalog handles PUT /api/v1/central/{sku}/catalog
func (h *CentralHandler) UpsertCatalog(w http.ResponseWriter, r *http.Request) {
	sku, ok := pathSKU(w, r)
	if !ok {
		return
	}

	var req UpsertCatalogRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	c, err := h.central.UpsertCatalog(r.Context(), sku, domain.CatalogUpdate{
		ProductName: req.ProductName,
		Description: req.Description,
		Category:    req.Category,
		UnitPrice:   req.UnitPrice,
		Active:      active,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, c)
}

// ListStores handles GET /api/v1/central/{sku}/stores
func (h *CentralHandler) ListStores(w http.ResponseWriter, r *http.Request) {
	sku, ok := pathSKU(w, r)
	if !ok {
		return
	}

	rows, err := h.registry.ListBySku(r.Context(), sku)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	if rows == nil {
		rows = []domain.StoreInventory{}
	}

	httputil.WriteData(w, http.StatusOK, rows)
}

// Reconcile handles POST /api/v1/central/{sku}/reconcile
func (h *CentralHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	sku, ok := pathSKU(w, r)
	if !ok {
		return
	}

	d, err := h.registry.Reconcile(r.Context(), sku)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, d)
}

// ReconcileAll handles POST /api/v1/central/reconcile
func (h *CentralHandler) ReconcileAll(w http.ResponseWriter, r *http.Request) {
	drifts, err := h.registry.ReconcileAll(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	if drifts == nil {
		drifts = []domain.Drift{}
	}

	httputil.WriteData(w, http.StatusOK, ReconcileResponse{Drifts: drifts})
}

// Rebuild handles POST /api/v1/central/rebuild
func (h *CentralHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	result, err := h.registry.Rebuild(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, result)
}

// UpdateStore handles PUT /api/v1/stores/{storeId}
func (h *CentralHandler) UpdateStore(w http.ResponseWriter, r *http.Request) {
	storeID, ok := pathStoreID(w, r)
	if !ok {
		return
	}

	var req UpdateStoreRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	details := domain.StoreDetails{StoreID: storeID, Name: req.Name, Location: req.Location}
	n, err := h.registry.UpdateStoreDetails(r.Context(), details)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, map[string]any{
		"store":        details,
		"rows_updated": n,
	})
}

// ListFailedEvents handles GET /api/v1/events/failed
func (h *CentralHandler) ListFailedEvents(w http.ResponseWriter, r *http.Request) {
	result, err := h.journal.FindFailed(r.Context(), pagination.FromRequest(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, result)
}

// ListEvents handles GET /api/v1/events on the central side.
func (h *CentralHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	filter, ok := eventFilter(w, r)
	if !ok {
		return
	}

	result, err := h.journal.Find(r.Context(), filter, pagination.FromRequest(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, result)
}

// RetryEvent handles POST /api/v1/events/{eventId}/retry. The event is made
// due again and applied immediately.
func (h *CentralHandler) RetryEvent(w http.ResponseWriter, r *http.Request) {
	eventID, ok := httputil.ParseUUID(w, chi.URLParam(r, "eventId"))
	if !ok {
		return
	}
	ctx := r.Context()

	if err := h.journal.Retry(ctx, eventID.String()); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	e, err := h.journal.Get(ctx, eventID.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	outcome, err := h.aggregator.Apply(ctx, e)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, map[string]any{
		"event_id": e.EventID,
		"outcome":  outcome,
	})
}

// Sweep handles POST /api/v1/events/sweep
func (h *CentralHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.aggregator.Sweep(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, result)
}
