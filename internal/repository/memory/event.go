package memory

import (
	"context"
	"sort"
	"time"

	"github.com/utafrali/stocksync/internal/domain"
	"github.com/utafrali/stocksync/pkg/pagination"
)

// EventRepository keeps the journal in memory, in insertion order.
type EventRepository struct {
	s *session
}

func (r *EventRepository) Insert(_ context.Context, e *domain.InventoryEvent) error {
	return r.s.write(func(d *data) error {
		if _, ok := d.events[e.EventID]; ok {
			return domain.ErrDuplicateEvent
		}
		d.events[e.EventID] = *e
		d.order = append(d.order, e.EventID)
		return nil
	})
}

func (r *EventRepository) InsertIfAbsent(_ context.Context, e *domain.InventoryEvent) (bool, error) {
	inserted := false
	err := r.s.write(func(d *data) error {
		if _, ok := d.events[e.EventID]; ok {
			return nil
		}
		d.events[e.EventID] = *e
		d.order = append(d.order, e.EventID)
		inserted = true
		return nil
	})
	return inserted, err
}

func (r *EventRepository) Get(_ context.Context, eventID string) (*domain.InventoryEvent, error) {
	var out domain.InventoryEvent
	err := r.s.read(func(d *data) error {
		e, ok := d.events[eventID]
		if !ok {
			return domain.ErrEventNotFound
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// transition applies fn to a non-terminal event and reports whether it did.
func (r *EventRepository) transition(eventID string, fn func(e *domain.InventoryEvent)) (bool, error) {
	changed := false
	err := r.s.write(func(d *data) error {
		e, ok := d.events[eventID]
		if !ok {
			return domain.ErrEventNotFound
		}
		if e.ProcessingStatus.Terminal() {
			return nil
		}
		fn(&e)
		d.events[eventID] = e
		changed = true
		return nil
	})
	return changed, err
}

func (r *EventRepository) Claim(_ context.Context, eventID string, now time.Time) (bool, error) {
	return r.transition(eventID, func(e *domain.InventoryEvent) {
		at := now.UTC()
		e.ProcessingStatus = domain.StatusProcessed
		e.ProcessedAt = &at
		e.ErrorMessage = ""
	})
}

func (r *EventRepository) Resolve(_ context.Context, eventID string, status domain.ProcessingStatus, reason string, now time.Time) (bool, error) {
	return r.transition(eventID, func(e *domain.InventoryEvent) {
		at := now.UTC()
		e.ProcessingStatus = status
		e.ProcessedAt = &at
		e.ErrorMessage = reason
	})
}

func (r *EventRepository) Reschedule(_ context.Context, eventID string, status domain.ProcessingStatus, reason string, next time.Time) (bool, error) {
	return r.transition(eventID, func(e *domain.InventoryEvent) {
		e.ProcessingStatus = status
		e.ErrorMessage = reason
		e.Attempts++
		e.NextAttemptAt = next.UTC()
	})
}

func (r *EventRepository) Reset(_ context.Context, eventID string, now time.Time) (bool, error) {
	changed := false
	err := r.s.write(func(d *data) error {
		e, ok := d.events[eventID]
		if !ok {
			return domain.ErrEventNotFound
		}
		if e.ProcessingStatus != domain.StatusFailed {
			return nil
		}
		e.ProcessingStatus = domain.StatusPending
		e.Attempts = 0
		e.NextAttemptAt = now.UTC()
		d.events[eventID] = e
		changed = true
		return nil
	})
	return changed, err
}

func (r *EventRepository) matching(filter domain.EventFilter) []domain.InventoryEvent {
	var out []domain.InventoryEvent
	_ = r.s.read(func(d *data) error {
		for _, id := range d.order {
			e := d.events[id]
			if filter.Matches(&e) {
				out = append(out, e)
			}
		}
		return nil
	})
	return out
}

func (r *EventRepository) Find(_ context.Context, filter domain.EventFilter, params pagination.Params) ([]domain.InventoryEvent, int, error) {
	matched := r.matching(filter)
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	return page(matched, params.Offset, params.PerPage), len(matched), nil
}

func (r *EventRepository) Count(_ context.Context, filter domain.EventFilter) (int, error) {
	return len(r.matching(filter)), nil
}

func (r *EventRepository) FindDue(_ context.Context, now time.Time, maxAttempts, limit int) ([]domain.InventoryEvent, error) {
	var due []domain.InventoryEvent
	_ = r.s.read(func(d *data) error {
		for _, id := range d.order {
			e := d.events[id]
			if e.ProcessingStatus.Terminal() || e.Attempts >= maxAttempts || e.NextAttemptAt.After(now) {
				continue
			}
			due = append(due, e)
		}
		return nil
	})

	sort.SliceStable(due, func(i, j int) bool {
		a, b := due[i], due[j]
		if a.ProductSKU != b.ProductSKU {
			return a.ProductSKU < b.ProductSKU
		}
		if a.StoreID != b.StoreID {
			return a.StoreID < b.StoreID
		}
		return a.Sequence < b.Sequence
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *EventRepository) LatestProcessed(_ context.Context) ([]domain.InventoryEvent, error) {
	latest := make(map[domain.ProductKey]domain.InventoryEvent)
	_ = r.s.read(func(d *data) error {
		for _, id := range d.order {
			e := d.events[id]
			if e.ProcessingStatus != domain.StatusProcessed {
				continue
			}
			if cur, ok := latest[e.Key()]; !ok || newerThan(e, cur) {
				latest[e.Key()] = e
			}
		}
		return nil
	})

	out := make([]domain.InventoryEvent, 0, len(latest))
	for _, e := range latest {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key().String() < out[j].Key().String()
	})
	return out, nil
}

// newerThan orders events of one key by sequence, then by timestamp.
func newerThan(a, b domain.InventoryEvent) bool {
	if a.Sequence != b.Sequence {
		return a.Sequence > b.Sequence
	}
	return a.Timestamp.After(b.Timestamp)
}

// DeleteTerminalBefore keeps the latest processed event of every key so the
// registry can still be rebuilt from the journal.
func (r *EventRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	latest, err := r.LatestProcessed(ctx)
	if err != nil {
		return 0, err
	}
	keep := make(map[string]struct{}, len(latest))
	for _, e := range latest {
		keep[e.EventID] = struct{}{}
	}

	var deleted int64
	err = r.s.write(func(d *data) error {
		kept := d.order[:0:0]
		for _, id := range d.order {
			e := d.events[id]
			_, pinned := keep[id]
			if !pinned && e.ProcessingStatus.Terminal() && e.Timestamp.Before(cutoff) {
				delete(d.events, id)
				deleted++
				continue
			}
			kept = append(kept, id)
		}
		d.order = kept
		return nil
	})
	return deleted, err
}
