package config

import (
	"fmt"
	"time"

	"github.com/utafrali/stocksync/internal/domain"
	"github.com/utafrali/stocksync/pkg/breaker"
	pkgconfig "github.com/utafrali/stocksync/pkg/config"
	"github.com/utafrali/stocksync/pkg/database"
	"github.com/utafrali/stocksync/pkg/tracing"
)

// Storage drivers.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Common holds the settings shared by the store and central services.
type Common struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Storage
	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"postgres"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"stocksync"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"stocksync_secret"`
	PostgresDB   string `env:"POSTGRES_DB" envDefault:"stocksync"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Database pool
	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"5"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`

	// Kafka
	KafkaEnabled bool     `env:"KAFKA_ENABLED" envDefault:"true"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// Redis availability cache
	RedisEnabled         bool          `env:"REDIS_ENABLED" envDefault:"false"`
	RedisAddr            string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword        string        `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB              int           `env:"REDIS_DB" envDefault:"0"`
	CacheTTL             time.Duration `env:"CACHE_TTL" envDefault:"30s"`
	CacheBreakerTimeout  time.Duration `env:"CACHE_BREAKER_TIMEOUT" envDefault:"30s"`
	CacheBreakerFailures uint32        `env:"CACHE_BREAKER_MIN_REQUESTS" envDefault:"5"`

	// Event retry policy
	AggregatorMaxAttempts int           `env:"AGGREGATOR_MAX_ATTEMPTS" envDefault:"10"`
	RetryBaseBackoff      time.Duration `env:"AGGREGATOR_RETRY_BASE_BACKOFF" envDefault:"1s"`
	RetryMaxBackoff       time.Duration `env:"AGGREGATOR_RETRY_MAX_BACKOFF" envDefault:"5m"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Slow query logging
	SlowQueryThresholdMs int `env:"LOG_SLOW_QUERY_MS" envDefault:"500"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// StoreConfig configures the store service.
type StoreConfig struct {
	Common

	HTTPPort int `env:"STORE_HTTP_PORT" envDefault:"8010"`

	QuantityUpdatePolicy string        `env:"QUANTITY_UPDATE_POLICY" envDefault:"permissive"`
	CASMaxAttempts       int           `env:"CAS_MAX_ATTEMPTS" envDefault:"5"`
	CASRetryPause        time.Duration `env:"CAS_RETRY_PAUSE" envDefault:"10ms"`
	PublishTimeout       time.Duration `env:"PUBLISH_TIMEOUT" envDefault:"5s"`
}

// CentralConfig configures the central service.
type CentralConfig struct {
	Common

	HTTPPort int `env:"CENTRAL_HTTP_PORT" envDefault:"8011"`

	ConsumerGroup     string        `env:"KAFKA_CONSUMER_GROUP" envDefault:"stocksync-central"`
	ConsumerRetries   int           `env:"KAFKA_CONSUMER_RETRIES" envDefault:"3"`
	IdempotencyTTL    time.Duration `env:"KAFKA_IDEMPOTENCY_TTL" envDefault:"24h"`
	SweepInterval     time.Duration `env:"SWEEP_INTERVAL" envDefault:"30s"`
	SweepBatch        int           `env:"SWEEP_BATCH" envDefault:"500"`
	SweepGrace        time.Duration `env:"SWEEP_GRACE" envDefault:"30s"`
	SweepRatePerSec   float64       `env:"SWEEP_RATE_PER_SECOND" envDefault:"200"`
	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL" envDefault:"5m"`
	RetentionInterval time.Duration `env:"RETENTION_INTERVAL" envDefault:"1h"`
	EventRetention    time.Duration `env:"EVENT_RETENTION" envDefault:"720h"`
}

// LoadStore reads the store service configuration from the environment.
func LoadStore() (*StoreConfig, error) {
	cfg := &StoreConfig{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load store config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadCentral reads the central service configuration from the environment.
func LoadCentral() (*CentralConfig, error) {
	cfg := &CentralConfig{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load central config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SeedConfig configures the seed and load tool.
type SeedConfig struct {
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	StoreURL        string        `env:"SEED_STORE_URL" envDefault:"http://localhost:8010"`
	CentralURL      string        `env:"SEED_CENTRAL_URL" envDefault:"http://localhost:8011"`
	Products        int           `env:"SEED_PRODUCTS" envDefault:"50"`
	Stores          int           `env:"SEED_STORES" envDefault:"3"`
	InitialQuantity int           `env:"SEED_INITIAL_QUANTITY" envDefault:"100"`
	Operations      int           `env:"SEED_OPERATIONS" envDefault:"500"`
	Concurrency     int           `env:"SEED_CONCURRENCY" envDefault:"8"`
	RandomSeed      uint64        `env:"SEED_RANDOM_SEED" envDefault:"1"`
	RequestTimeout  time.Duration `env:"SEED_REQUEST_TIMEOUT" envDefault:"10s"`
}

// LoadSeed reads the seed tool configuration from the environment.
func LoadSeed() (*SeedConfig, error) {
	cfg := &SeedConfig{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load seed config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *SeedConfig) validate() error {
	if c.StoreURL == "" {
		return fmt.Errorf("SEED_STORE_URL is required")
	}
	if c.Products <= 0 || c.Stores <= 0 || c.Concurrency <= 0 {
		return fmt.Errorf("SEED_PRODUCTS, SEED_STORES and SEED_CONCURRENCY must be > 0")
	}
	if c.InitialQuantity < 0 || c.Operations < 0 {
		return fmt.Errorf("SEED_INITIAL_QUANTITY and SEED_OPERATIONS must be >= 0")
	}
	return nil
}

func validPort(p int) bool {
	return p >= 1 && p <= 65535
}

// validate checks the shared invariants.
func (c *Common) validate() error {
	switch c.StorageDriver {
	case StorageMemory:
	case StoragePostgres:
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required")
		}
	default:
		return fmt.Errorf("STORAGE_DRIVER must be %q or %q, got %q", StorageMemory, StoragePostgres, c.StorageDriver)
	}
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED is true")
	}
	if c.RedisEnabled && c.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR is required when REDIS_ENABLED is true")
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	if c.AggregatorMaxAttempts <= 0 {
		return fmt.Errorf("AGGREGATOR_MAX_ATTEMPTS must be > 0, got %d", c.AggregatorMaxAttempts)
	}
	if c.RetryBaseBackoff <= 0 || c.RetryMaxBackoff < c.RetryBaseBackoff {
		return fmt.Errorf("retry backoff must satisfy 0 < base <= max, got %s and %s", c.RetryBaseBackoff, c.RetryMaxBackoff)
	}
	return nil
}

func (c *StoreConfig) validate() error {
	if !validPort(c.HTTPPort) {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if _, err := domain.ParseUpdatePolicy(c.QuantityUpdatePolicy); err != nil {
		return fmt.Errorf("QUANTITY_UPDATE_POLICY: %w", err)
	}
	if c.CASMaxAttempts <= 0 {
		return fmt.Errorf("CAS_MAX_ATTEMPTS must be > 0, got %d", c.CASMaxAttempts)
	}
	return c.Common.validate()
}

func (c *CentralConfig) validate() error {
	if !validPort(c.HTTPPort) {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.KafkaEnabled && c.ConsumerGroup == "" {
		return fmt.Errorf("KAFKA_CONSUMER_GROUP is required")
	}
	if c.SweepInterval <= 0 || c.ReconcileInterval <= 0 || c.RetentionInterval <= 0 {
		return fmt.Errorf("job intervals must be positive")
	}
	if c.SweepRatePerSec <= 0 {
		return fmt.Errorf("SWEEP_RATE_PER_SECOND must be > 0, got %f", c.SweepRatePerSec)
	}
	if c.EventRetention <= 0 {
		return fmt.Errorf("EVENT_RETENTION must be > 0, got %s", c.EventRetention)
	}
	return c.Common.validate()
}

// UpdatePolicy returns the parsed quantity update policy.
func (c *StoreConfig) UpdatePolicy() domain.UpdatePolicy {
	p, _ := domain.ParseUpdatePolicy(c.QuantityUpdatePolicy)
	return p
}

// Postgres returns the pool configuration.
func (c *Common) Postgres() database.PostgresConfig {
	return database.PostgresConfig{
		Host:            c.PostgresHost,
		Port:            c.PostgresPort,
		User:            c.PostgresUser,
		Password:        c.PostgresPass,
		DBName:          c.PostgresDB,
		SSLMode:         c.PostgresSSL,
		MaxConns:        c.DBMaxConns,
		MinConns:        c.DBMinConns,
		MaxConnLifetime: time.Duration(c.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(c.DBMaxConnIdleTimeMins) * time.Minute,
	}
}

// Redis returns the Redis client configuration.
func (c *Common) Redis() database.RedisConfig {
	cfg := database.DefaultRedisConfig()
	cfg.Addr = c.RedisAddr
	cfg.Password = c.RedisPassword
	cfg.DB = c.RedisDB
	return cfg
}

// CacheBreaker returns the circuit breaker guarding the cache.
func (c *Common) CacheBreaker(name string) breaker.Config {
	cfg := breaker.DefaultConfig(name)
	cfg.Timeout = c.CacheBreakerTimeout
	cfg.MinRequests = c.CacheBreakerFailures
	return cfg
}

// Tracing returns the tracer configuration for serviceName.
func (c *Common) Tracing(serviceName string) tracing.Config {
	cfg := tracing.DefaultConfig(serviceName)
	cfg.Environment = c.Environment
	cfg.OTLPEndpoint = c.OTELEndpoint
	cfg.SampleRate = c.OTELSampleRate
	cfg.Enabled = c.OTELEnabled
	return cfg
}

// SlowQueryThreshold returns LOG_SLOW_QUERY_MS as a duration.
func (c *Common) SlowQueryThreshold() time.Duration {
	return time.Duration(c.SlowQueryThresholdMs) * time.Millisecond
}
