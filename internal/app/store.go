package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/utafrali/stocksync/internal/config"
	"github.com/utafrali/stocksync/internal/event"
	handler "github.com/utafrali/stocksync/internal/handler/http"
	"github.com/utafrali/stocksync/internal/service"
	pkgkafka "github.com/utafrali/stocksync/pkg/kafka"
)

// StoreApp wires together all dependencies and runs the store service.
type StoreApp struct {
	cfg          *config.StoreConfig
	logger       *slog.Logger
	infra        *infra
	producer     *pkgkafka.Producer
	reservations *service.ReservationStore
	httpServer   *http.Server
}

// NewStoreApp creates the store service, initializing all dependencies.
func NewStoreApp(cfg *config.StoreConfig, logger *slog.Logger) (*StoreApp, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	in, err := openInfra(ctx, &cfg.Common, handler.StoreServiceName, logger)
	if err != nil {
		return nil, err
	}

	// Events go to Kafka after commit. Without a producer they wait in the
	// journal for the central sweep.
	var (
		producer  *pkgkafka.Producer
		publisher service.EventPublisher
	)
	if cfg.KafkaEnabled {
		if err := pingKafkaWithRetry(ctx, cfg.KafkaBrokers, logger); err != nil {
			logger.Warn("kafka ping failed after retries, continuing in degraded mode",
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
		}
		producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		publisher = event.NewProducer(producer, logger)
		brokers := cfg.KafkaBrokers
		in.health.Register("kafka", func(ctx context.Context) error {
			return pkgkafka.PingBrokers(ctx, brokers)
		})
	}

	// Build the dependency graph.
	journal := service.NewEventJournal(in.store.Repositories().Events, service.JournalConfig{
		MaxAttempts: cfg.AggregatorMaxAttempts,
		BaseBackoff: cfg.RetryBaseBackoff,
		MaxBackoff:  cfg.RetryMaxBackoff,
	}, logger)
	reservations := service.NewReservationStore(in.store, journal, publisher, in.cache, service.ReservationConfig{
		Policy:         cfg.UpdatePolicy(),
		MaxAttempts:    cfg.CASMaxAttempts,
		RetryPause:     cfg.CASRetryPause,
		PublishTimeout: cfg.PublishTimeout,
	}, logger)

	// HTTP router.
	router := handler.NewStoreRouter(handler.NewStoreHandler(reservations, journal, logger), in.health, logger)

	return &StoreApp{
		cfg:          cfg,
		logger:       logger,
		infra:        in,
		producer:     producer,
		reservations: reservations,
		httpServer:   newHTTPServer(cfg.HTTPPort, router),
	}, nil
}

// Handler returns the HTTP handler of the service.
func (a *StoreApp) Handler() http.Handler {
	return a.httpServer.Handler
}

// Run starts the HTTP server, then blocks until the context is canceled.
func (a *StoreApp) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go serveHTTP(a.httpServer, errCh, a.logger)

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		_ = a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. In-flight event publishes
// 3. Kafka producer
// 4. Tracer, Redis and PostgreSQL
func (a *StoreApp) Shutdown() error {
	a.logger.Info("shutting down store service...")

	var errs []error

	if err := shutdownHTTP(a.httpServer, a.cfg.ShutdownTimeout, a.logger); err != nil {
		errs = append(errs, err)
	}

	a.reservations.Drain()

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("close producer: %w", err))
		}
	}

	errs = append(errs, a.infra.close(context.Background(), a.logger)...)

	a.logger.Info("store service shutdown complete")
	return errors.Join(errs...)
}
