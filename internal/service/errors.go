package service

import (
	"errors"
	"net/http"

	"github.com/utafrali/stocksync/internal/domain"
	apperrors "github.com/utafrali/stocksync/pkg/errors"
)

// mapError converts domain errors into AppErrors. The domain error stays the
// cause so callers can still match it with errors.Is. Unknown errors become
// INTERNAL_ERROR and keep their cause for logging only.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}

	switch {
	case errors.Is(err, domain.ErrProductNotFound):
		return apperrors.New("PRODUCT_NOT_FOUND", "product not found", http.StatusNotFound, err)
	case errors.Is(err, domain.ErrProductInactive):
		return apperrors.Conflict("PRODUCT_INACTIVE", "product is inactive", err)
	case errors.Is(err, domain.ErrInvalidQuantity):
		return apperrors.New("INVALID_QUANTITY", "quantity is not valid for this operation", http.StatusBadRequest, err)
	case errors.Is(err, domain.ErrInsufficientStock):
		return apperrors.Conflict("INSUFFICIENT_STOCK", "not enough stock available", err)
	case errors.Is(err, domain.ErrInsufficientReservedQuantity):
		return apperrors.Conflict("INSUFFICIENT_RESERVED_QUANTITY", "not enough reserved stock", err)
	case errors.Is(err, domain.ErrConcurrentModification):
		return apperrors.Conflict("CONCURRENT_MODIFICATION", "product was modified concurrently, retry later", err)
	case errors.Is(err, domain.ErrQuantityBelowReserved):
		return apperrors.Conflict("QUANTITY_BELOW_RESERVED", "quantity cannot drop below the reserved quantity", err)
	case errors.Is(err, domain.ErrProductExists):
		return apperrors.Conflict("PRODUCT_ALREADY_EXISTS", "product already exists at this store", err)
	case errors.Is(err, domain.ErrInvalidProduct):
		return apperrors.New("INVALID_INPUT", err.Error(), http.StatusBadRequest, err)
	case errors.Is(err, domain.ErrEventNotFound):
		return apperrors.New("EVENT_NOT_FOUND", "inventory event not found", http.StatusNotFound, err)
	case errors.Is(err, domain.ErrEventNotRetryable):
		return apperrors.Conflict("EVENT_NOT_RETRYABLE", err.Error(), err)
	case errors.Is(err, domain.ErrCentralInventoryNotFound):
		return apperrors.New("CENTRAL_INVENTORY_NOT_FOUND", "central inventory not found", http.StatusNotFound, err)
	case errors.Is(err, domain.ErrStoreInventoryNotFound):
		return apperrors.New("STORE_INVENTORY_NOT_FOUND", "store inventory not found", http.StatusNotFound, err)
	default:
		return apperrors.Internal(err)
	}
}

// errorCode returns the code a mapped error carries, for metric labels.
func errorCode(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return "INTERNAL_ERROR"
}
