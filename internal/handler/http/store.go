package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/utafrali/stocksync/internal/domain"
	"github.com/utafrali/stocksync/internal/service"
	"github.com/utafrali/stocksync/pkg/httputil"
	"github.com/utafrali/stocksync/pkg/pagination"
	"github.com/utafrali/stocksync/pkg/validator"
)

// StoreHandler serves the store-side product and journal endpoints.
type StoreHandler struct {
	reservations *service.ReservationStore
	journal      *service.EventJournal
	logger       *slog.Logger
}

// NewStoreHandler creates a new store HTTP handler.
func NewStoreHandler(reservations *service.ReservationStore, journal *service.EventJournal, logger *slog.Logger) *StoreHandler {
	return &StoreHandler{
		reservations: reservations,
		journal:      journal,
		logger:       logger,
	}
}

// --- Request DTOs ---

// CreateProductRequest is the JSON request body for registering a product at a store.
type CreateProductRequest struct {
	SKU         string          `json:"sku" validate:"required,sku"`
	StoreID     string          `json:"store_id" validate:"required,storeid"`
	Name        string          `json:"name" validate:"required,max=255"`
	Description string          `json:"description" validate:"max=2000"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    *int            `json:"quantity" validate:"required"`
}

// QuantityRequest is the JSON request body of reserve, commit and cancel.
// The amount itself is checked by the ledger.
type QuantityRequest struct {
	Quantity *int `json:"quantity" validate:"required"`
}

// UpdateQuantityRequest is the JSON request body for setting the on-hand quantity.
type UpdateQuantityRequest struct {
	Quantity *int `json:"quantity" validate:"required"`
}

// SetActiveRequest is the JSON request body for activating or deactivating a product.
type SetActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

// OperationResult is returned by every stock mutation.
type OperationResult struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Product *domain.Product `json:"product,omitempty"`
}

// AvailableQuantityResponse is returned by the available-quantity endpoint.
type AvailableQuantityResponse struct {
	SKU               string `json:"sku"`
	StoreID           string `json:"store_id"`
	AvailableQuantity int    `json:"available_quantity"`
}

// --- Handlers ---

// CreateProduct handles POST /api/v1/products
func (h *StoreHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	p, err := h.reservations.Create(r.Context(), service.CreateProductInput{
		SKU:         req.SKU,
		StoreID:     req.StoreID,
		Name:        req.Name,
		Description: req.Description,
		UnitPrice:   req.UnitPrice,
		Quantity:    *req.Quantity,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusCreated, OperationResult{Success: true, Message: "product created", Product: p})
}

// GetProduct handles GET /api/v1/products/{sku}/stores/{storeId}
func (h *StoreHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	sku, storeID, ok := pathProductKey(w, r)
	if !ok {
		return
	}

	p, err := h.reservations.FindBySkuAndStore(r.Context(), sku, storeID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, p)
}

// GetAvailableQuantity handles GET /api/v1/products/{sku}/stores/{storeId}/available-quantity
func (h *StoreHandler) GetAvailableQuantity(w http.ResponseWriter, r *http.Request) {
	sku, storeID, ok := pathProductKey(w, r)
	if !ok {
		return
	}

	available, err := h.reservations.GetAvailableQuantity(r.Context(), sku, storeID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, AvailableQuantityResponse{
		SKU:               sku,
		StoreID:           storeID,
		AvailableQuantity: available,
	})
}

// ListAvailable handles GET /api/v1/products/available?store_id=
func (h *StoreHandler) ListAvailable(w http.ResponseWriter, r *http.Request) {
	result, err := h.reservations.FindAvailableProducts(r.Context(), r.URL.Query().Get("store_id"), pagination.FromRequest(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, result)
}

// Search handles GET /api/v1/products/search?name=&store_id=
func (h *StoreHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result, err := h.reservations.SearchByName(r.Context(), q.Get("name"), q.Get("store_id"), pagination.FromRequest(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, result)
}

// Reserve handles POST /api/v1/products/{sku}/stores/{storeId}/reserve
func (h *StoreHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	h.quantityOperation(w, r, "reserved", h.reservations.Reserve)
}

// Commit handles POST /api/v1/products/{sku}/stores/{storeId}/commit
func (h *StoreHandler) Commit(w http.ResponseWriter, r *http.Request) {
	h.quantityOperation(w, r, "committed", h.reservations.CommitReserved)
}

// Cancel handles POST /api/v1/products/{sku}/stores/{storeId}/cancel
func (h *StoreHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.quantityOperation(w, r, "reservation cancelled", h.reservations.CancelReservation)
}

// UpdateQuantity handles PUT /api/v1/products/{sku}/stores/{storeId}/quantity
func (h *StoreHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	sku, storeID, ok := pathProductKey(w, r)
	if !ok {
		return
	}

	var req UpdateQuantityRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	p, err := h.reservations.UpdateQuantity(r.Context(), sku, storeID, *req.Quantity)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, OperationResult{Success: true, Message: "quantity updated", Product: p})
}

// SetActive handles PUT /api/v1/products/{sku}/stores/{storeId}/active
func (h *StoreHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	sku, storeID, ok := pathProductKey(w, r)
	if !ok {
		return
	}

	var req SetActiveRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	p, err := h.reservations.SetActive(r.Context(), sku, storeID, *req.Active)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	message := "product deactivated"
	if *req.Active {
		message = "product activated"
	}
	httputil.WriteData(w, http.StatusOK, OperationResult{Success: true, Message: message, Product: p})
}

// ListEvents handles GET /api/v1/events?sku=&store_id=&status=&from=&to=
func (h *StoreHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
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

// CountEvents handles GET /api/v1/events/count?sku=&store_id=&from=&to=
func (h *StoreHandler) CountEvents(w http.ResponseWriter, r *http.Request) {
	from, to, ok := queryTimeRange(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	n, err := h.journal.CountBySkuOrStoreAndTimeRange(r.Context(), q.Get("sku"), q.Get("store_id"), from, to)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, map[string]int{"count": n})
}

type quantityFunc func(ctx context.Context, sku, storeID string, quantity int) (*domain.Product, error)

func (h *StoreHandler) quantityOperation(w http.ResponseWriter, r *http.Request, done string, op quantityFunc) {
	sku, storeID, ok := pathProductKey(w, r)
	if !ok {
		return
	}

	var req QuantityRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	p, err := op(r.Context(), sku, storeID, *req.Quantity)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, OperationResult{
		Success: true,
		Message: fmt.Sprintf("%d units %s", *req.Quantity, done),
		Product: p,
	})
}

// eventFilter builds a journal filter from the query string.
func eventFilter(w http.ResponseWriter, r *http.Request) (domain.EventFilter, bool) {
	from, to, ok := queryTimeRange(w, r)
	if !ok {
		return domain.EventFilter{}, false
	}
	q := r.URL.Query()
	filter := domain.EventFilter{
		SKU:     q.Get("sku"),
		StoreID: q.Get("store_id"),
		Status:  domain.ProcessingStatus(q.Get("status")),
		From:    from,
		To:      to,
	}
	if filter.Status != "" && !filter.Status.Valid() {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_PARAMETER", Message: "status must be one of PENDING, PROCESSED, FAILED, IGNORED"},
		})
		return domain.EventFilter{}, false
	}
	return filter, true
}
