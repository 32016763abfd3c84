package domain

import (
	"strings"
	"time"
)

// EventType is the kind of stock mutation an InventoryEvent records.
type EventType string

const (
	EventReserve EventType = "RESERVE"
	EventCommit  EventType = "COMMIT"
	EventCancel  EventType = "CANCEL"
	EventUpdate  EventType = "UPDATE"
	EventRestock EventType = "RESTOCK"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventReserve, EventCommit, EventCancel, EventUpdate, EventRestock:
		return true
	default:
		return false
	}
}

// ProcessingStatus tracks an event through central aggregation.
type ProcessingStatus string

const (
	StatusPending   ProcessingStatus = "PENDING"
	StatusProcessed ProcessingStatus = "PROCESSED"
	StatusFailed    ProcessingStatus = "FAILED"
	StatusIgnored   ProcessingStatus = "IGNORED"
)

// Valid reports whether s is one of the known statuses.
func (s ProcessingStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessed, StatusFailed, StatusIgnored:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is allowed from s.
// FAILED is not terminal: it can be retried.
func (s ProcessingStatus) Terminal() bool {
	switch s {
	case StatusProcessed, StatusIgnored:
		return true
	case StatusPending, StatusFailed:
		return false
	default:
		return false
	}
}

// InventoryEvent is one entry of the append-only stock journal.
type InventoryEvent struct {
	EventID          string           `json:"event_id"`
	ProductSKU       string           `json:"sku"`
	StoreID          string           `json:"store_id"`
	ProductName      string           `json:"product_name,omitempty"`
	EventType        EventType        `json:"event_type"`
	PreviousQuantity int              `json:"previous_quantity"`
	NewQuantity      int              `json:"new_quantity"`
	ReservedQuantity int              `json:"reserved_quantity"`
	Sequence         int64            `json:"sequence"`
	Details          string           `json:"details,omitempty"`
	Timestamp        time.Time        `json:"timestamp"`
	ProcessingStatus ProcessingStatus `json:"processing_status"`
	ProcessedAt      *time.Time       `json:"processed_at,omitempty"`
	ErrorMessage     string           `json:"error_message,omitempty"`
	Attempts         int              `json:"attempts"`
	NextAttemptAt    time.Time        `json:"next_attempt_at"`
}

// NewInventoryEvent records the transition of p from previousQuantity to its
// current state. The event sequence is the product version the mutation produced.
func NewInventoryEvent(p *Product, eventType EventType, previousQuantity int, details string) *InventoryEvent {
	return &InventoryEvent{
		ProductSKU:       p.SKU,
		StoreID:          p.StoreID,
		ProductName:      p.Name,
		EventType:        eventType,
		PreviousQuantity: previousQuantity,
		NewQuantity:      p.Quantity,
		ReservedQuantity: p.ReservedQuantity,
		Sequence:         p.Version,
		Details:          details,
		Timestamp:        p.LastUpdated,
	}
}

// Key returns the (sku, store) the event belongs to.
func (e *InventoryEvent) Key() ProductKey {
	return ProductKey{SKU: e.ProductSKU, StoreID: e.StoreID}
}

// Valid reports whether the event can be aggregated.
func (e *InventoryEvent) Valid() bool {
	return e.EventID != "" &&
		strings.TrimSpace(e.ProductSKU) != "" &&
		strings.TrimSpace(e.StoreID) != "" &&
		e.EventType.Valid()
}

// QuantityDifference returns NewQuantity - PreviousQuantity.
func (e *InventoryEvent) QuantityDifference() int {
	return e.NewQuantity - e.PreviousQuantity
}

// EventFilter selects journal entries. Zero fields do not filter.
type EventFilter struct {
	SKU     string
	StoreID string
	Status  ProcessingStatus
	From    time.Time
	To      time.Time
}

// Matches reports whether e passes the filter. From is inclusive, To exclusive.
func (f EventFilter) Matches(e *InventoryEvent) bool {
	if f.SKU != "" && e.ProductSKU != f.SKU {
		return false
	}
	if f.StoreID != "" && e.StoreID != f.StoreID {
		return false
	}
	if f.Status != "" && e.ProcessingStatus != f.Status {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.Timestamp.Before(f.To) {
		return false
	}
	return true
}
