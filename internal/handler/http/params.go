package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/stocksync/pkg/httputil"
	"github.com/utafrali/stocksync/pkg/validator"
)

// pathSKU reads and validates the {sku} URL parameter.
func pathSKU(w http.ResponseWriter, r *http.Request) (string, bool) {
	sku := chi.URLParam(r, "sku")
	if err := validator.ValidateVar("sku", sku, "required,sku"); err != nil {
		httputil.WriteValidationError(w, r, err)
		return "", false
	}
	return sku, true
}

// pathStoreID reads and validates the {storeId} URL parameter.
func pathStoreID(w http.ResponseWriter, r *http.Request) (string, bool) {
	storeID := chi.URLParam(r, "storeId")
	if err := validator.ValidateVar("store_id", storeID, "required,storeid"); err != nil {
		httputil.WriteValidationError(w, r, err)
		return "", false
	}
	return storeID, true
}

func pathProductKey(w http.ResponseWriter, r *http.Request) (sku, storeID string, ok bool) {
	if sku, ok = pathSKU(w, r); !ok {
		return "", "", false
	}
	if storeID, ok = pathStoreID(w, r); !ok {
		return "", "", false
	}
	return sku, storeID, true
}

// queryTime parses an optional RFC 3339 query parameter.
func queryTime(r *http.Request, name string) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be an RFC 3339 timestamp", name)
	}
	return t, nil
}

// queryTimeRange reads ?from= and ?to= and writes a 400 when either is
// malformed or the range is inverted.
func queryTimeRange(w http.ResponseWriter, r *http.Request) (from, to time.Time, ok bool) {
	from, err := queryTime(r, "from")
	if err == nil {
		to, err = queryTime(r, "to")
	}
	if err == nil && !from.IsZero() && !to.IsZero() && to.Before(from) {
		err = fmt.Errorf("to must not be before from")
	}
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_PARAMETER", Message: err.Error()},
		})
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}
