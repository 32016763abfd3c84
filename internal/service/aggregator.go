package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/utafrali/stocksync/internal/cache"
	"github.com/utafrali/stocksync/internal/domain"
	"github.com/utafrali/stocksync/internal/repository"
)

// Outcome is what Apply did with an event.
type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeIgnored  Outcome = "ignored"
	OutcomeRequeued Outcome = "requeued"
	OutcomeFailed   Outcome = "failed"
)

// errNotApplied rolls back a unit of work whose event is stale or early.
var errNotApplied = errors.New("event not applied")

// AggregatorConfig tunes the sweep.
type AggregatorConfig struct {
	// SweepBatch caps the events picked up per sweep.
	SweepBatch int
	// SweepGrace leaves fresh events to the consumer for this long.
	SweepGrace time.Duration
	// SweepRate and SweepBurst throttle event application during a sweep.
	SweepRate  rate.Limit
	SweepBurst int
}

// DefaultAggregatorConfig returns the sweep defaults.
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		SweepBatch: 500,
		SweepGrace: 30 * time.Second,
		SweepRate:  200,
		SweepBurst: 50,
	}
}

// SweepResult tallies one sweep.
type SweepResult struct {
	Scanned  int `json:"scanned"`
	Applied  int `json:"applied"`
	Ignored  int `json:"ignored"`
	Requeued int `json:"requeued"`
	Failed   int `json:"failed"`
}

func (r *SweepResult) add(o Outcome) {
	switch o {
	case OutcomeApplied:
		r.Applied++
	case OutcomeIgnored:
		r.Ignored++
	case OutcomeRequeued:
		r.Requeued++
	case OutcomeFailed:
		r.Failed++
	}
}

// CentralAggregator folds per-store inventory events into the registry and
// the central totals. Applying an event is idempotent.
type CentralAggregator struct {
	store   repository.Store
	journal *EventJournal
	cache   cache.AvailabilityCache
	cfg     AggregatorConfig
	limiter *rate.Limiter
	logger  *slog.Logger
	now     func() time.Time
}

// NewCentralAggregator creates an aggregator. journal must write through the
// non-transactional repositories of store.
func NewCentralAggregator(
	store repository.Store,
	journal *EventJournal,
	availability cache.AvailabilityCache,
	cfg AggregatorConfig,
	logger *slog.Logger,
) *CentralAggregator {
	def := DefaultAggregatorConfig()
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = def.SweepBatch
	}
	if cfg.SweepRate <= 0 {
		cfg.SweepRate = def.SweepRate
	}
	if cfg.SweepBurst <= 0 {
		cfg.SweepBurst = def.SweepBurst
	}
	if availability == nil {
		availability = cache.Noop{}
	}
	return &CentralAggregator{
		store:   store,
		journal: journal,
		cache:   availability,
		cfg:     cfg,
		limiter: rate.NewLimiter(cfg.SweepRate, cfg.SweepBurst),
		logger:  logger,
		now:     time.Now,
	}
}

// Apply processes one event. A returned error means the outcome could not be
// recorded in the journal and the caller should retry delivery.
func (a *CentralAggregator) Apply(ctx context.Context, e *domain.InventoryEvent) (Outcome, error) {
	start := time.Now()
	defer func() {
		aggregatorApplyDuration.Observe(time.Since(start).Seconds())
	}()

	outcome, err := a.apply(ctx, e)
	aggregatorOutcomes.WithLabelValues(string(outcome)).Inc()
	return outcome, err
}

func (a *CentralAggregator) apply(ctx context.Context, e *domain.InventoryEvent) (Outcome, error) {
	if !e.Valid() {
		return a.ignoreInvalid(ctx, e)
	}

	if _, err := a.journal.Ingest(ctx, e); err != nil {
		return OutcomeFailed, err
	}

	var (
		ordering  domain.Ordering
		duplicate bool
	)
	err := a.store.WithinTx(ctx, func(r repository.Repositories) error {
		claimed, err := a.journal.With(r.Events).MarkProcessed(ctx, e.EventID)
		if err != nil {
			return err
		}
		if !claimed {
			duplicate = true
			return nil
		}

		now := a.now()
		row, err := r.Registry.GetForUpdate(ctx, e.ProductSKU, e.StoreID)
		switch {
		case errors.Is(err, domain.ErrStoreInventoryNotFound):
			row = domain.NewStoreInventory(e.Key())
		case err != nil:
			return err
		}

		ordering = row.Order(e)
		if ordering != domain.InOrder {
			return errNotApplied
		}

		dq, dr := row.Apply(e, now)
		if err := r.Registry.Upsert(ctx, row); err != nil {
			return err
		}
		if err := r.Central.EnsureExists(ctx, e.ProductSKU, e.ProductName, now); err != nil {
			return err
		}
		return r.Central.ApplyDelta(ctx, e.ProductSKU, dq, dr, now)
	})

	switch {
	case err == nil && duplicate:
		if _, err := a.journal.MarkIgnored(ctx, e.EventID, domain.ErrDuplicateEvent.Error()); err != nil {
			return OutcomeFailed, err
		}
		a.logger.DebugContext(ctx, "duplicate inventory event ignored", slog.String("event_id", e.EventID))
		return OutcomeIgnored, nil
	case err == nil:
		a.invalidate(ctx, e.ProductSKU)
		return OutcomeApplied, nil
	case errors.Is(err, errNotApplied):
		return a.notApplied(ctx, e, ordering)
	default:
		return a.failed(ctx, e, err)
	}
}

func (a *CentralAggregator) ignoreInvalid(ctx context.Context, e *domain.InventoryEvent) (Outcome, error) {
	a.logger.WarnContext(ctx, "invalid inventory event ignored",
		slog.String("event_id", e.EventID),
		slog.String("sku", e.ProductSKU),
		slog.String("store_id", e.StoreID),
		slog.String("event_type", string(e.EventType)),
	)
	if e.EventID == "" {
		return OutcomeIgnored, nil
	}
	_, err := a.journal.MarkIgnored(ctx, e.EventID, domain.ErrInvalidEvent.Error())
	if err != nil && !errors.Is(err, domain.ErrEventNotFound) {
		return OutcomeFailed, err
	}
	return OutcomeIgnored, nil
}

func (a *CentralAggregator) notApplied(ctx context.Context, e *domain.InventoryEvent, ordering domain.Ordering) (Outcome, error) {
	if ordering == domain.Stale {
		reason := fmt.Sprintf("stale event: sequence %d already applied", e.Sequence)
		if _, err := a.journal.MarkIgnored(ctx, e.EventID, reason); err != nil {
			return OutcomeFailed, err
		}
		a.logger.DebugContext(ctx, "stale inventory event ignored",
			slog.String("event_id", e.EventID),
			slog.Int64("sequence", e.Sequence),
		)
		return OutcomeIgnored, nil
	}

	stored, err := a.journal.Get(ctx, e.EventID)
	if err != nil {
		return OutcomeFailed, err
	}
	delay := a.journal.Backoff(stored.Attempts)
	if _, err := a.journal.Requeue(ctx, e.EventID, domain.ErrOutOfOrderEvent.Error(), delay); err != nil {
		return OutcomeFailed, err
	}
	if err := a.store.Repositories().Registry.MarkUnsynchronized(ctx, e.ProductSKU, e.StoreID, a.now()); err != nil {
		a.logger.WarnContext(ctx, "failed to flag store inventory as unsynchronized",
			slog.String("sku", e.ProductSKU),
			slog.String("store_id", e.StoreID),
			slog.String("error", err.Error()),
		)
	}
	a.logger.InfoContext(ctx, "out of order inventory event requeued",
		slog.String("event_id", e.EventID),
		slog.String("sku", e.ProductSKU),
		slog.String("store_id", e.StoreID),
		slog.Int64("sequence", e.Sequence),
		slog.Duration("delay", delay),
	)
	return OutcomeRequeued, nil
}

func (a *CentralAggregator) failed(ctx context.Context, e *domain.InventoryEvent, cause error) (Outcome, error) {
	a.logger.ErrorContext(ctx, "failed to apply inventory event",
		slog.String("event_id", e.EventID),
		slog.String("sku", e.ProductSKU),
		slog.String("store_id", e.StoreID),
		slog.String("error", cause.Error()),
	)
	if _, err := a.journal.MarkFailed(ctx, e.EventID, cause.Error()); err != nil {
		return OutcomeFailed, errors.Join(cause, err)
	}
	return OutcomeFailed, nil
}

func (a *CentralAggregator) invalidate(ctx context.Context, skus ...string) {
	if err := a.cache.InvalidateCentral(ctx, skus...); err != nil {
		a.logger.WarnContext(ctx, "central availability cache invalidation failed",
			slog.Any("skus", skus),
			slog.String("error", err.Error()),
		)
	}
}

// Sweep applies events that are still PENDING or FAILED and due, in per-key
// sequence order. It covers publishes that never reached the bus and events
// waiting on a predecessor.
func (a *CentralAggregator) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	due, err := a.journal.FindDue(ctx, a.now().Add(-a.cfg.SweepGrace), a.cfg.SweepBatch)
	if err != nil {
		return result, err
	}

	for i := range due {
		if err := a.limiter.Wait(ctx); err != nil {
			return result, err
		}
		result.Scanned++
		outcome, err := a.Apply(ctx, &due[i])
		if err != nil {
			a.logger.ErrorContext(ctx, "sweep could not record event outcome",
				slog.String("event_id", due[i].EventID),
				slog.String("error", err.Error()),
			)
		}
		result.add(outcome)
	}

	if result.Scanned > 0 {
		a.logger.InfoContext(ctx, "inventory event sweep finished",
			slog.Int("scanned", result.Scanned),
			slog.Int("applied", result.Applied),
			slog.Int("ignored", result.Ignored),
			slog.Int("requeued", result.Requeued),
			slog.Int("failed", result.Failed),
		)
	}
	return result, nil
}
