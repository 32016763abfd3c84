package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/utafrali/stocksync/internal/cache"
	"github.com/utafrali/stocksync/internal/config"
	"github.com/utafrali/stocksync/internal/repository"
	"github.com/utafrali/stocksync/internal/repository/memory"
	"github.com/utafrali/stocksync/internal/repository/postgres"
	"github.com/utafrali/stocksync/migrations"
	"github.com/utafrali/stocksync/pkg/database"
	"github.com/utafrali/stocksync/pkg/health"
	pkgkafka "github.com/utafrali/stocksync/pkg/kafka"
	"github.com/utafrali/stocksync/pkg/tracing"
)

const serviceVersion = "0.1.0"

// infra holds the connections shared by both services.
type infra struct {
	store          repository.Store
	pool           *pgxpool.Pool
	redis          *redis.Client
	cache          cache.AvailabilityCache
	health         *health.Handler
	tracerShutdown func(context.Context) error
}

// openInfra initializes tracing, storage and the availability cache.
func openInfra(ctx context.Context, cfg *config.Common, serviceName string, logger *slog.Logger) (*infra, error) {
	in := &infra{health: health.NewHandler()}

	// Initialize OpenTelemetry tracing.
	tc := cfg.Tracing(serviceName)
	tc.ServiceVersion = serviceVersion
	tracerShutdown, err := tracing.InitTracer(ctx, tc)
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	in.tracerShutdown = tracerShutdown

	if err := in.openStorage(ctx, cfg, serviceName, logger); err != nil {
		_ = in.tracerShutdown(ctx)
		return nil, err
	}
	in.health.RegisterCritical("storage", in.store.Ping)

	in.openCache(ctx, cfg, logger)
	return in, nil
}

func (in *infra) openStorage(ctx context.Context, cfg *config.Common, serviceName string, logger *slog.Logger) error {
	if cfg.StorageDriver == config.StorageMemory {
		in.store = memory.NewStore()
		logger.Warn("using in-memory storage, state is lost on restart")
		return nil
	}

	// Initialize PostgreSQL connection pool.
	pgCfg := cfg.Postgres()
	pool, err := database.NewPostgresPool(ctx, &pgCfg, logger)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, serviceName); err != nil {
		logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
	}

	// Run database migrations.
	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	// Configure slow query logging.
	if cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(cfg.SlowQueryThreshold(), logger)
	}

	in.pool = pool
	in.store = postgres.NewStore(pool)
	return nil
}

// openCache connects to Redis when enabled. An unreachable Redis degrades to
// uncached reads instead of failing startup.
func (in *infra) openCache(ctx context.Context, cfg *config.Common, logger *slog.Logger) {
	in.cache = cache.Noop{}
	if !cfg.RedisEnabled {
		return
	}

	client, err := database.NewRedisClient(ctx, cfg.Redis())
	if err != nil {
		logger.Warn("redis unavailable, availability cache disabled",
			slog.String("addr", cfg.RedisAddr),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.Info("connected to Redis", slog.String("addr", cfg.RedisAddr))

	in.redis = client
	in.cache = cache.NewRedisCache(client, cfg.CacheTTL, cfg.CacheBreaker("availability-cache"), logger)
	in.health.Register("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
}

// close releases the connections in reverse order of opening.
func (in *infra) close(ctx context.Context, logger *slog.Logger) []error {
	var errs []error

	// Flush pending spans.
	if in.tracerShutdown != nil {
		tracerCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := in.tracerShutdown(tracerCtx); err != nil {
			logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if in.redis != nil {
		if err := in.redis.Close(); err != nil {
			logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if in.pool != nil {
		in.pool.Close()
	}
	return errs
}

func newHTTPServer(port int, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// serveHTTP runs srv until it is shut down and reports other failures on errCh.
func serveHTTP(srv *http.Server, errCh chan<- error, logger *slog.Logger) {
	logger.Info("starting HTTP server", slog.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("http server: %w", err)
	}
}

// shutdownHTTP drains in-flight requests within budget.
func shutdownHTTP(srv *http.Server, budget time.Duration, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("http server shutdown error", slog.String("error", err.Error()))
		return err
	}
	return nil
}

// every runs job on each tick of interval until ctx is canceled.
func every(ctx context.Context, interval time.Duration, job func(ctx context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job(ctx)
		}
	}
}

// pingKafkaWithRetry pings the brokers with exponential backoff (3 attempts,
// 1s/2s with ±25% jitter between them).
func pingKafkaWithRetry(ctx context.Context, brokers []string, logger *slog.Logger) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if err := pkgkafka.PingBrokers(ctx, brokers); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if attempt < 2 {
			base := time.Duration(1<<uint(attempt)) * time.Second
			jitter := time.Duration(float64(base) * 0.25 * (2*rand.Float64() - 1)) // #nosec G404 -- non-cryptographic jitter for retry backoff
			wait := base + jitter
			logger.Warn("kafka ping failed, retrying",
				slog.Int("attempt", attempt+1),
				slog.Int("max_attempts", 3),
				slog.Duration("backoff", wait),
				slog.String("error", lastErr.Error()),
			)
			select {
			case <-ctx.Done():
				return fmt.Errorf("kafka ping: context canceled during retry: %w", ctx.Err())
			case <-time.After(wait):
			}
		}
	}
	return fmt.Errorf("kafka ping failed after 3 attempts: %w", lastErr)
}
