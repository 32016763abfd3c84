package middleware

import (
	"log/slog"
	"net/http"

	"github.com/utafrali/stocksync/pkg/logger"
)

// StoreIDHeader lets callers tag requests with the store they act for.
const StoreIDHeader = "X-Store-ID"

// RequestLogger stores a logger enriched with correlation_id, store_id,
// trace_id and span_id in the request context. Mount it after RequestLogging
// and Tracing.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if storeID := r.Header.Get(StoreIDHeader); storeID != "" {
				ctx = logger.WithStoreID(ctx, storeID)
			}
			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
