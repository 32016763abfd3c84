package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/utafrali/stocksync/internal/domain"
	"github.com/utafrali/stocksync/pkg/database"
	"github.com/utafrali/stocksync/pkg/pagination"
)

const eventColumns = `event_id::text, sku, store_id, product_name, event_type, previous_quantity, new_quantity,
	reserved_quantity, sequence, details, event_timestamp, processing_status, processed_at, error_message,
	attempts, next_attempt_at`

// nonTerminal matches events that still take transitions.
const nonTerminal = `processing_status IN ('PENDING', 'FAILED')`

// latestProcessedSQL picks the highest-sequence processed event per key. Events
// without a sequence fall back to the newest timestamp.
const latestProcessedSQL = `
		SELECT DISTINCT ON (sku, store_id) ` + eventColumns + `
		FROM inventory_events
		WHERE processing_status = 'PROCESSED'
		ORDER BY sku, store_id, sequence DESC, event_timestamp DESC`

// EventRepository implements repository.EventRepository using PostgreSQL.
type EventRepository struct {
	db database.DBTX
}

// NewEventRepository creates a new PostgreSQL-backed event journal.
func NewEventRepository(db database.DBTX) *EventRepository {
	return &EventRepository{db: db}
}

func scanEvent(row pgx.Row, extra ...any) (*domain.InventoryEvent, error) {
	var e domain.InventoryEvent
	var eventType, status string
	dest := append([]any{
		&e.EventID, &e.ProductSKU, &e.StoreID, &e.ProductName, &eventType, &e.PreviousQuantity, &e.NewQuantity,
		&e.ReservedQuantity, &e.Sequence, &e.Details, &e.Timestamp, &status, &e.ProcessedAt, &e.ErrorMessage,
		&e.Attempts, &e.NextAttemptAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	e.EventType = domain.EventType(eventType)
	e.ProcessingStatus = domain.ProcessingStatus(status)
	return &e, nil
}

func collectEvents(rows pgx.Rows, extra ...any) ([]domain.InventoryEvent, error) {
	defer rows.Close()

	events := []domain.InventoryEvent{}
	for rows.Next() {
		e, err := scanEvent(rows, extra...)
		if err != nil {
			return nil, fmt.Errorf("scan inventory event: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inventory events: %w", err)
	}
	return events, nil
}

const insertEventSQL = `
		INSERT INTO inventory_events (event_id, sku, store_id, product_name, event_type, previous_quantity,
			new_quantity, reserved_quantity, sequence, details, event_timestamp, processing_status,
			processed_at, error_message, attempts, next_attempt_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

func insertArgs(e *domain.InventoryEvent) []any {
	return []any{
		e.EventID, e.ProductSKU, e.StoreID, e.ProductName, string(e.EventType), e.PreviousQuantity,
		e.NewQuantity, e.ReservedQuantity, e.Sequence, e.Details, e.Timestamp, string(e.ProcessingStatus),
		e.ProcessedAt, e.ErrorMessage, e.Attempts, e.NextAttemptAt,
	}
}

// Insert appends an event to the journal.
func (r *EventRepository) Insert(ctx context.Context, e *domain.InventoryEvent) error {
	if _, err := r.db.Exec(ctx, insertEventSQL, insertArgs(e)...); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateEvent
		}
		return fmt.Errorf("insert inventory event: %w", err)
	}
	return nil
}

// InsertIfAbsent appends an event unless its id is already journaled.
func (r *EventRepository) InsertIfAbsent(ctx context.Context, e *domain.InventoryEvent) (bool, error) {
	tag, err := r.db.Exec(ctx, insertEventSQL+` ON CONFLICT (event_id) DO NOTHING`, insertArgs(e)...)
	if err != nil {
		return false, fmt.Errorf("ingest inventory event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Get retrieves an event by id.
func (r *EventRepository) Get(ctx context.Context, eventID string) (*domain.InventoryEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM inventory_events WHERE event_id = $1`

	e, err := scanEvent(r.db.QueryRow(ctx, query, eventID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrEventNotFound
		}
		return nil, fmt.Errorf("get inventory event: %w", err)
	}
	return e, nil
}

// changed reports whether a guarded UPDATE hit the row, telling a missing
// event apart from one whose status did not allow the transition.
func (r *EventRepository) changed(ctx context.Context, tag pgconn.CommandTag, eventID string) (bool, error) {
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM inventory_events WHERE event_id = $1)`
	if err := r.db.QueryRow(ctx, query, eventID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check inventory event exists: %w", err)
	}
	if !exists {
		return false, domain.ErrEventNotFound
	}
	return false, nil
}

const claimEventSQL = `
		UPDATE inventory_events
		SET processing_status = 'PROCESSED', processed_at = $2, error_message = ''
		WHERE event_id = $1 AND ` + nonTerminal

// Claim marks a pending or failed event processed.
func (r *EventRepository) Claim(ctx context.Context, eventID string, now time.Time) (claimed bool, err error) {
	ctx, end := database.TraceQuery(ctx, "inventory_events.Claim", claimEventSQL)
	defer func() { end(err) }()

	tag, err := r.db.Exec(ctx, claimEventSQL, eventID, now)
	if err != nil {
		return false, fmt.Errorf("claim inventory event: %w", err)
	}
	return r.changed(ctx, tag, eventID)
}

// Resolve moves a non-terminal event to status.
func (r *EventRepository) Resolve(ctx context.Context, eventID string, status domain.ProcessingStatus, reason string, now time.Time) (bool, error) {
	query := `
		UPDATE inventory_events
		SET processing_status = $2, processed_at = $3, error_message = $4
		WHERE event_id = $1 AND ` + nonTerminal

	tag, err := r.db.Exec(ctx, query, eventID, string(status), now, reason)
	if err != nil {
		return false, fmt.Errorf("resolve inventory event: %w", err)
	}
	return r.changed(ctx, tag, eventID)
}

// Reschedule records a failed attempt and the time of the next one.
func (r *EventRepository) Reschedule(ctx context.Context, eventID string, status domain.ProcessingStatus, reason string, next time.Time) (bool, error) {
	query := `
		UPDATE inventory_events
		SET processing_status = $2, error_message = $3, attempts = attempts + 1, next_attempt_at = $4
		WHERE event_id = $1 AND ` + nonTerminal

	tag, err := r.db.Exec(ctx, query, eventID, string(status), reason, next)
	if err != nil {
		return false, fmt.Errorf("reschedule inventory event: %w", err)
	}
	return r.changed(ctx, tag, eventID)
}

// Reset makes a failed event due again with a fresh attempt budget.
func (r *EventRepository) Reset(ctx context.Context, eventID string, now time.Time) (bool, error) {
	query := `
		UPDATE inventory_events
		SET processing_status = 'PENDING', attempts = 0, next_attempt_at = $2
		WHERE event_id = $1 AND processing_status = 'FAILED'`

	tag, err := r.db.Exec(ctx, query, eventID, now)
	if err != nil {
		return false, fmt.Errorf("reset inventory event: %w", err)
	}
	return r.changed(ctx, tag, eventID)
}

// eventWhere renders filter as a WHERE clause with positional arguments.
func eventWhere(f domain.EventFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.SKU != "" {
		add("sku = $%d", f.SKU)
	}
	if f.StoreID != "" {
		add("store_id = $%d", f.StoreID)
	}
	if f.Status != "" {
		add("processing_status = $%d", string(f.Status))
	}
	if !f.From.IsZero() {
		add("event_timestamp >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("event_timestamp < $%d", f.To)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Find lists matching events, newest first.
func (r *EventRepository) Find(ctx context.Context, filter domain.EventFilter, params pagination.Params) ([]domain.InventoryEvent, int, error) {
	where, args := eventWhere(filter)
	args = append(args, params.PerPage, params.Offset)
	query := fmt.Sprintf(`SELECT %s, count(*) OVER() AS total_count FROM inventory_events%s
		ORDER BY event_timestamp DESC LIMIT $%d OFFSET $%d`, eventColumns, where, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("find inventory events: %w", err)
	}
	var total int
	events, err := collectEvents(rows, &total)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// Count counts matching events.
func (r *EventRepository) Count(ctx context.Context, filter domain.EventFilter) (int, error) {
	where, args := eventWhere(filter)
	var n int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM inventory_events`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count inventory events: %w", err)
	}
	return n, nil
}

// FindDue returns events the aggregator sweep should retry. A zero limit
// returns every due event.
func (r *EventRepository) FindDue(ctx context.Context, now time.Time, maxAttempts, limit int) ([]domain.InventoryEvent, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM inventory_events
		WHERE ` + nonTerminal + ` AND attempts < $2 AND next_attempt_at <= $1
		ORDER BY sku, store_id, sequence
		LIMIT NULLIF($3, 0)`

	rows, err := r.db.Query(ctx, query, now, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("find due inventory events: %w", err)
	}
	return collectEvents(rows)
}

// LatestProcessed returns the latest processed event for every key.
func (r *EventRepository) LatestProcessed(ctx context.Context) ([]domain.InventoryEvent, error) {
	rows, err := r.db.Query(ctx, latestProcessedSQL)
	if err != nil {
		return nil, fmt.Errorf("latest processed inventory events: %w", err)
	}
	return collectEvents(rows)
}

// DeleteTerminalBefore purges old processed and ignored events but keeps the
// latest processed event of each key so the registry stays rebuildable.
func (r *EventRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM inventory_events
		WHERE processing_status IN ('PROCESSED', 'IGNORED')
		  AND event_timestamp < $1
		  AND event_id NOT IN (
			SELECT DISTINCT ON (sku, store_id) event_id
			FROM inventory_events
			WHERE processing_status = 'PROCESSED'
			ORDER BY sku, store_id, sequence DESC, event_timestamp DESC
		  )`

	tag, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old inventory events: %w", err)
	}
	return tag.RowsAffected(), nil
}
