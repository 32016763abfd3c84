package domain

import "time"

// StoreInventory is the central registry's copy of one store's stock for a SKU.
type StoreInventory struct {
	ProductSKU     string    `json:"sku"`
	StoreID        string    `json:"store_id"`
	StoreName      string    `json:"store_name"`
	StoreLocation  string    `json:"store_location"`
	Quantity       int       `json:"quantity"`
	Reserved       int       `json:"reserved"`
	Available      int       `json:"available"`
	LastUpdated    time.Time `json:"last_updated"`
	LastSyncTime   time.Time `json:"last_sync_time"`
	IsSynchronized bool      `json:"is_synchronized"`
	LastSequence   int64     `json:"last_sequence"`
}

// Key returns the registry row's (sku, store).
func (s *StoreInventory) Key() ProductKey {
	return ProductKey{SKU: s.ProductSKU, StoreID: s.StoreID}
}

// Ordering is the result of checking an event against a registry row.
type Ordering int

const (
	// InOrder means the event is the next one for the key.
	InOrder Ordering = iota
	// Stale means the event was already reflected in the row.
	Stale
	// Gap means earlier events for the key have not been applied yet.
	Gap
)

func (o Ordering) String() string {
	switch o {
	case InOrder:
		return "in_order"
	case Stale:
		return "stale"
	case Gap:
		return "gap"
	default:
		return "unknown"
	}
}

// Order places e relative to the row. Events carrying a sequence are compared
// with LastSequence; events without one must start from the recorded quantity.
func (s *StoreInventory) Order(e *InventoryEvent) Ordering {
	if e.Sequence > 0 {
		switch {
		case e.Sequence <= s.LastSequence:
			return Stale
		case e.Sequence > s.LastSequence+1:
			return Gap
		default:
			return InOrder
		}
	}
	if e.PreviousQuantity != s.Quantity {
		return Gap
	}
	return InOrder
}

// Apply moves the row to the event's quantities and returns the deltas the
// central totals must move by.
func (s *StoreInventory) Apply(e *InventoryEvent, now time.Time) (quantityDelta, reservedDelta int) {
	quantityDelta = e.NewQuantity - s.Quantity
	reservedDelta = e.ReservedQuantity - s.Reserved

	s.Quantity = e.NewQuantity
	s.Reserved = e.ReservedQuantity
	s.Available = e.NewQuantity - e.ReservedQuantity
	if e.Sequence > s.LastSequence {
		s.LastSequence = e.Sequence
	}
	s.LastUpdated = e.Timestamp.UTC()
	s.LastSyncTime = now.UTC()
	s.IsSynchronized = true
	return quantityDelta, reservedDelta
}

// NewStoreInventory returns an empty registry row for key.
func NewStoreInventory(key ProductKey) *StoreInventory {
	return &StoreInventory{
		ProductSKU: key.SKU,
		StoreID:    key.StoreID,
	}
}

// StoreDetails names and locates a store.
type StoreDetails struct {
	StoreID  string `json:"store_id"`
	Name     string `json:"name"`
	Location string `json:"location"`
}
