package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/stocksync/internal/domain"
	"github.com/utafrali/stocksync/internal/repository"
	"github.com/utafrali/stocksync/pkg/pagination"
)

// JournalConfig controls how failed events are retried.
type JournalConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultJournalConfig returns the retry defaults.
func DefaultJournalConfig() JournalConfig {
	return JournalConfig{
		MaxAttempts: 10,
		BaseBackoff: time.Second,
		MaxBackoff:  5 * time.Minute,
	}
}

// EventJournal is the append-only log of stock mutations and the processing
// lifecycle of each entry.
type EventJournal struct {
	events repository.EventRepository
	cfg    JournalConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewEventJournal creates a journal over events.
func NewEventJournal(events repository.EventRepository, cfg JournalConfig, logger *slog.Logger) *EventJournal {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultJournalConfig().MaxAttempts
	}
	return &EventJournal{
		events: events,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// With returns a journal writing through events, typically the event
// repository of an open unit of work.
func (j *EventJournal) With(events repository.EventRepository) *EventJournal {
	bound := *j
	bound.events = events
	return &bound
}

// MaxAttempts is the number of attempts after which an event is no longer swept.
func (j *EventJournal) MaxAttempts() int {
	return j.cfg.MaxAttempts
}

// Append stores a new PENDING event. The event id and timestamp are filled
// in when absent.
func (j *EventJournal) Append(ctx context.Context, e *domain.InventoryEvent) error {
	j.prepare(e)
	if err := j.events.Insert(ctx, e); err != nil {
		return fmt.Errorf("append inventory event: %w", err)
	}
	return nil
}

// Ingest stores an event received from another process unless its id is
// already known. It reports whether the event was new.
func (j *EventJournal) Ingest(ctx context.Context, e *domain.InventoryEvent) (bool, error) {
	j.prepare(e)
	inserted, err := j.events.InsertIfAbsent(ctx, e)
	if err != nil {
		return false, fmt.Errorf("ingest inventory event %s: %w", e.EventID, err)
	}
	return inserted, nil
}

func (j *EventJournal) prepare(e *domain.InventoryEvent) {
	if e.EventID == "" {
		e.EventID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = j.now().UTC()
	}
	e.ProcessingStatus = domain.StatusPending
	e.ProcessedAt = nil
	e.ErrorMessage = ""
	e.Attempts = 0
	e.NextAttemptAt = e.Timestamp
}

// Get returns one event.
func (j *EventJournal) Get(ctx context.Context, eventID string) (*domain.InventoryEvent, error) {
	e, err := j.events.Get(ctx, eventID)
	if err != nil {
		return nil, mapError(err)
	}
	return e, nil
}

// MarkProcessed moves a PENDING or FAILED event to PROCESSED. It reports
// false when the event was already terminal.
func (j *EventJournal) MarkProcessed(ctx context.Context, eventID string) (bool, error) {
	ok, err := j.events.Claim(ctx, eventID, j.now())
	if err != nil {
		return false, fmt.Errorf("mark event %s processed: %w", eventID, err)
	}
	return ok, nil
}

// MarkIgnored moves a non-terminal event to IGNORED.
func (j *EventJournal) MarkIgnored(ctx context.Context, eventID, reason string) (bool, error) {
	ok, err := j.events.Resolve(ctx, eventID, domain.StatusIgnored, reason, j.now())
	if err != nil {
		return false, fmt.Errorf("mark event %s ignored: %w", eventID, err)
	}
	return ok, nil
}

// MarkFailed records a failed attempt and schedules the next one with
// exponential backoff.
func (j *EventJournal) MarkFailed(ctx context.Context, eventID, reason string) (bool, error) {
	e, err := j.events.Get(ctx, eventID)
	if err != nil {
		return false, fmt.Errorf("mark event %s failed: %w", eventID, err)
	}
	next := j.now().Add(j.Backoff(e.Attempts))
	ok, err := j.events.Reschedule(ctx, eventID, domain.StatusFailed, reason, next)
	if err != nil {
		return false, fmt.Errorf("mark event %s failed: %w", eventID, err)
	}
	if ok && e.Attempts+1 >= j.cfg.MaxAttempts {
		j.logger.WarnContext(ctx, "inventory event exhausted its attempts",
			slog.String("event_id", eventID),
			slog.Int("attempts", e.Attempts+1),
			slog.String("reason", reason),
		)
	}
	return ok, nil
}

// Requeue keeps an event waiting and retries it after delay. An event that
// runs out of attempts is parked as FAILED instead.
func (j *EventJournal) Requeue(ctx context.Context, eventID, reason string, delay time.Duration) (bool, error) {
	e, err := j.events.Get(ctx, eventID)
	if err != nil {
		return false, fmt.Errorf("requeue event %s: %w", eventID, err)
	}
	status := domain.StatusPending
	if e.Attempts+1 >= j.cfg.MaxAttempts {
		status = domain.StatusFailed
	}
	ok, err := j.events.Reschedule(ctx, eventID, status, reason, j.now().Add(delay))
	if err != nil {
		return false, fmt.Errorf("requeue event %s: %w", eventID, err)
	}
	return ok, nil
}

// Retry puts a FAILED event back to PENDING with its attempts cleared.
func (j *EventJournal) Retry(ctx context.Context, eventID string) error {
	ok, err := j.events.Reset(ctx, eventID, j.now())
	if err != nil {
		return mapError(err)
	}
	if !ok {
		return mapError(domain.ErrEventNotRetryable)
	}
	j.logger.InfoContext(ctx, "inventory event reset for retry", slog.String("event_id", eventID))
	return nil
}

// Backoff returns the delay before the attempt following attempts failed
// ones. The delay doubles per attempt up to MaxBackoff, with up to half of it
// randomised.
func (j *EventJournal) Backoff(attempts int) time.Duration {
	d := j.cfg.BaseBackoff
	for i := 0; i < attempts && d < j.cfg.MaxBackoff; i++ {
		d *= 2
	}
	if j.cfg.MaxBackoff > 0 && d > j.cfg.MaxBackoff {
		d = j.cfg.MaxBackoff
	}
	if d <= 0 {
		return 0
	}
	half := d / 2
	return half + time.Duration(rand.Int64N(int64(half)+1))
}

// Find returns a page of events matching filter, newest first.
func (j *EventJournal) Find(ctx context.Context, filter domain.EventFilter, page pagination.Params) (pagination.Result[domain.InventoryEvent], error) {
	events, total, err := j.events.Find(ctx, filter, page)
	if err != nil {
		return pagination.Result[domain.InventoryEvent]{}, mapError(err)
	}
	return pagination.NewResult(events, total, page), nil
}

// FindByStatus returns events in status.
func (j *EventJournal) FindByStatus(ctx context.Context, status domain.ProcessingStatus, page pagination.Params) (pagination.Result[domain.InventoryEvent], error) {
	return j.Find(ctx, domain.EventFilter{Status: status}, page)
}

func (j *EventJournal) FindPending(ctx context.Context, page pagination.Params) (pagination.Result[domain.InventoryEvent], error) {
	return j.FindByStatus(ctx, domain.StatusPending, page)
}

func (j *EventJournal) FindFailed(ctx context.Context, page pagination.Params) (pagination.Result[domain.InventoryEvent], error) {
	return j.FindByStatus(ctx, domain.StatusFailed, page)
}

// FindBySkuOrStore filters by sku, storeID or both. Empty values match everything.
func (j *EventJournal) FindBySkuOrStore(ctx context.Context, sku, storeID string, page pagination.Params) (pagination.Result[domain.InventoryEvent], error) {
	return j.Find(ctx, domain.EventFilter{SKU: sku, StoreID: storeID}, page)
}

// FindByTimeRange returns events with from <= timestamp < to.
func (j *EventJournal) FindByTimeRange(ctx context.Context, from, to time.Time, page pagination.Params) (pagination.Result[domain.InventoryEvent], error) {
	return j.Find(ctx, domain.EventFilter{From: from, To: to}, page)
}

func (j *EventJournal) CountBySkuOrStoreAndTimeRange(ctx context.Context, sku, storeID string, from, to time.Time) (int, error) {
	n, err := j.events.Count(ctx, domain.EventFilter{SKU: sku, StoreID: storeID, From: from, To: to})
	if err != nil {
		return 0, mapError(err)
	}
	return n, nil
}

// FindDue returns events the sweep should apply at now.
func (j *EventJournal) FindDue(ctx context.Context, now time.Time, limit int) ([]domain.InventoryEvent, error) {
	events, err := j.events.FindDue(ctx, now, j.cfg.MaxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("find due events: %w", err)
	}
	return events, nil
}

// DeleteOlderThan purges PROCESSED and IGNORED events older than cutoff. The
// latest processed event of every key is kept for rebuilds.
func (j *EventJournal) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := j.events.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge inventory events: %w", err)
	}
	journalPurged.Add(float64(n))
	if n > 0 {
		j.logger.InfoContext(ctx, "inventory events purged",
			slog.Int64("deleted", n),
			slog.Time("cutoff", cutoff),
		)
	}
	return n, nil
}
