package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/utafrali/stocksync/internal/config"
	"github.com/utafrali/stocksync/internal/event"
	handler "github.com/utafrali/stocksync/internal/handler/http"
	"github.com/utafrali/stocksync/internal/service"
	pkgkafka "github.com/utafrali/stocksync/pkg/kafka"
)

// CentralApp wires together all dependencies and runs the central service.
type CentralApp struct {
	cfg        *config.CentralConfig
	logger     *slog.Logger
	infra      *infra
	consumer   *pkgkafka.Consumer
	dlq        *pkgkafka.DLQProducer
	journal    *service.EventJournal
	aggregator *service.CentralAggregator
	registry   *service.StoreInventoryRegistry
	httpServer *http.Server
	now        func() time.Time
}

// NewCentralApp creates the central service, initializing all dependencies.
func NewCentralApp(cfg *config.CentralConfig, logger *slog.Logger) (*CentralApp, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	in, err := openInfra(ctx, &cfg.Common, handler.CentralServiceName, logger)
	if err != nil {
		return nil, err
	}

	// Build the dependency graph.
	journal := service.NewEventJournal(in.store.Repositories().Events, service.JournalConfig{
		MaxAttempts: cfg.AggregatorMaxAttempts,
		BaseBackoff: cfg.RetryBaseBackoff,
		MaxBackoff:  cfg.RetryMaxBackoff,
	}, logger)
	aggregator := service.NewCentralAggregator(in.store, journal, in.cache, service.AggregatorConfig{
		SweepBatch: cfg.SweepBatch,
		SweepGrace: cfg.SweepGrace,
		SweepRate:  rate.Limit(cfg.SweepRatePerSec),
		SweepBurst: int(cfg.SweepRatePerSec),
	}, logger)
	registry := service.NewStoreInventoryRegistry(in.store, in.cache, logger)
	central := service.NewCentralInventoryService(in.store, in.cache, logger)

	a := &CentralApp{
		cfg:        cfg,
		logger:     logger,
		infra:      in,
		journal:    journal,
		aggregator: aggregator,
		registry:   registry,
		now:        time.Now,
	}

	if cfg.KafkaEnabled {
		a.openConsumer(ctx, aggregator)
	}

	// HTTP router.
	router := handler.NewCentralRouter(handler.NewCentralHandler(central, registry, aggregator, journal, logger), in.health, logger)
	a.httpServer = newHTTPServer(cfg.HTTPPort, router)

	return a, nil
}

// openConsumer subscribes the aggregator to the inventory topic. Envelope ids
// already handled are skipped through Redis when it is available.
func (a *CentralApp) openConsumer(ctx context.Context, aggregator *service.CentralAggregator) {
	cfg := a.cfg
	if err := pingKafkaWithRetry(ctx, cfg.KafkaBrokers, a.logger); err != nil {
		a.logger.Warn("kafka ping failed after retries, the sweep covers delivery until it recovers",
			slog.String("error", err.Error()),
		)
	}

	var idempotency pkgkafka.IdempotencyStore = pkgkafka.NewMemoryIdempotencyStore(cfg.IdempotencyTTL)
	if a.infra.redis != nil {
		idempotency = pkgkafka.NewRedisIdempotencyStore(a.infra.redis, "stocksync:central:seen:", cfg.IdempotencyTTL)
	}

	eventConsumer := event.NewConsumer(aggregator, a.logger)
	topic := event.TopicInventoryEvents
	a.dlq = pkgkafka.NewDLQProducer(cfg.KafkaBrokers, a.logger)
	a.consumer = pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
		Brokers:    cfg.KafkaBrokers,
		GroupID:    cfg.ConsumerGroup,
		Topic:      topic,
		MinBytes:   1,
		MaxBytes:   10e6,
		MaxRetries: cfg.ConsumerRetries,
	}, pkgkafka.IdempotentHandler(idempotency, topic, cfg.ConsumerGroup, eventConsumer.HandleInventoryEvent, a.logger), a.logger).
		WithDLQ(a.dlq)

	brokers := cfg.KafkaBrokers
	a.infra.health.Register("kafka", func(ctx context.Context) error {
		return pkgkafka.PingBrokers(ctx, brokers)
	})
}

// Handler returns the HTTP handler of the service.
func (a *CentralApp) Handler() http.Handler {
	return a.httpServer.Handler
}

// Run starts the HTTP server, the Kafka consumer and the background jobs,
// then blocks until the context is canceled.
func (a *CentralApp) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go serveHTTP(a.httpServer, errCh, a.logger)

	if a.consumer != nil {
		go func() {
			if err := a.consumer.Start(ctx); err != nil {
				errCh <- fmt.Errorf("inventory event consumer: %w", err)
			}
		}()
	}

	// Background jobs.
	go every(ctx, a.cfg.SweepInterval, a.sweep)
	go every(ctx, a.cfg.ReconcileInterval, a.reconcile)
	go every(ctx, a.cfg.RetentionInterval, a.purge)

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		_ = a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// sweep applies events the consumer never saw or that wait for a retry.
func (a *CentralApp) sweep(ctx context.Context) {
	if _, err := a.aggregator.Sweep(ctx); err != nil && ctx.Err() == nil {
		a.logger.Error("inventory event sweep error", slog.String("error", err.Error()))
	}
}

// reconcile corrects central totals that drifted from the registry.
func (a *CentralApp) reconcile(ctx context.Context) {
	drifts, err := a.registry.ReconcileAll(ctx)
	if err != nil && ctx.Err() == nil {
		a.logger.Error("reconciliation error", slog.String("error", err.Error()))
	}
	if len(drifts) > 0 {
		a.logger.Warn("reconciliation corrected drift", slog.Int("skus", len(drifts)))
	}
}

// purge deletes journal entries older than the retention period.
func (a *CentralApp) purge(ctx context.Context) {
	cutoff := a.now().Add(-a.cfg.EventRetention)
	if _, err := a.journal.DeleteOlderThan(ctx, cutoff); err != nil && ctx.Err() == nil {
		a.logger.Error("journal retention error", slog.String("error", err.Error()))
	}
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Kafka consumer and DLQ producer
// 3. Tracer, Redis and PostgreSQL
func (a *CentralApp) Shutdown() error {
	a.logger.Info("shutting down central service...")

	var errs []error

	if err := shutdownHTTP(a.httpServer, a.cfg.ShutdownTimeout, a.logger); err != nil {
		errs = append(errs, err)
	}

	if a.consumer != nil {
		if err := a.consumer.Close(); err != nil {
			a.logger.Error("kafka consumer close error", slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("close consumer: %w", err))
		}
	}
	if a.dlq != nil {
		if err := a.dlq.Close(); err != nil {
			a.logger.Error("dlq producer close error", slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("close dlq producer: %w", err))
		}
	}

	errs = append(errs, a.infra.close(context.Background(), a.logger)...)

	a.logger.Info("central service shutdown complete")
	return errors.Join(errs...)
}
