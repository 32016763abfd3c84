package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/stocksync/pkg/health"
	"github.com/utafrali/stocksync/pkg/middleware"
)

// Service names used for metrics and tracing.
const (
	StoreServiceName   = "stocksync-store"
	CentralServiceName = "stocksync-central"
)

func newBaseRouter(serviceName string, healthHandler *health.Handler, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(CORS)
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing(serviceName))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics(serviceName))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// NewStoreRouter creates a chi router with the store service routes registered.
func NewStoreRouter(h *StoreHandler, healthHandler *health.Handler, logger *slog.Logger) http.Handler {
	r := newBaseRouter(StoreServiceName, healthHandler, logger)

	r.Route("/api/v1/products", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Post("/", h.CreateProduct)
		r.Get("/available", h.ListAvailable)
		r.Get("/search", h.Search)

		r.Route("/{sku}/stores/{storeId}", func(r chi.Router) {
			r.Get("/", h.GetProduct)
			r.Get("/available-quantity", h.GetAvailableQuantity)

			// Reservation lifecycle
			r.Post("/reserve", h.Reserve)
			r.Post("/commit", h.Commit)
			r.Post("/cancel", h.Cancel)

			// Stock administration
			r.Put("/quantity", h.UpdateQuantity)
			r.Put("/active", h.SetActive)
		})
	})

	r.Route("/api/v1/events", func(r chi.Router) {
		r.Get("/", h.ListEvents)
		r.Get("/count", h.CountEvents)
	})

	return r
}

// NewCentralRouter creates a chi router with the central service routes registered.
func NewCentralRouter(h *CentralHandler, healthHandler *health.Handler, logger *slog.Logger) http.Handler {
	r := newBaseRouter(CentralServiceName, healthHandler, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		// Network-wide view
		r.Get("/central", h.ListCentral)
		r.Post("/central/reconcile", h.ReconcileAll)
		r.Post("/central/rebuild", h.Rebuild)
		r.Get("/central/{sku}", h.GetCentral)
		r.Get("/central/{sku}/available", h.GetAvailable)
		r.Put("/central/{sku}/catalog", h.UpsertCatalog)
		r.Get("/central/{sku}/stores", h.ListStores)
		r.Post("/central/{sku}/reconcile", h.Reconcile)
		r.Get("/global/{sku}", h.GetGlobal)

		r.Put("/stores/{storeId}", h.UpdateStore)

		// Journal operations
		r.Get("/events", h.ListEvents)
		r.Get("/events/failed", h.ListFailedEvents)
		r.Post("/events/{eventId}/retry", h.RetryEvent)
		r.Post("/events/sweep", h.Sweep)
	})

	return r
}
