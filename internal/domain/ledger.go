package domain

import "fmt"

// StockState is the part of a product the quantity ledger reads and writes.
type StockState struct {
	Quantity int
	Reserved int
	Active   bool
}

// Available returns Quantity - Reserved.
func (s StockState) Available() int {
	return s.Quantity - s.Reserved
}

// UpdatePolicy decides how UpdateQuantity treats a quantity below the
// currently reserved amount.
type UpdatePolicy string

const (
	// PolicyPermissive replaces the quantity unconditionally. Availability may
	// go negative until reservations are committed or cancelled.
	PolicyPermissive UpdatePolicy = "permissive"
	// PolicyStrict rejects a quantity below the reserved amount.
	PolicyStrict UpdatePolicy = "strict"
)

// ParseUpdatePolicy parses a configured policy name.
func ParseUpdatePolicy(s string) (UpdatePolicy, error) {
	switch UpdatePolicy(s) {
	case PolicyPermissive, "":
		return PolicyPermissive, nil
	case PolicyStrict:
		return PolicyStrict, nil
	default:
		return "", fmt.Errorf("unknown quantity update policy %q", s)
	}
}

// Reserve holds n units for a pending purchase.
func Reserve(s StockState, n int) (StockState, error) {
	if n <= 0 {
		return s, ErrInvalidQuantity
	}
	if !s.Active {
		return s, ErrProductInactive
	}
	if n > s.Available() {
		return s, ErrInsufficientStock
	}
	s.Reserved += n
	return s, nil
}

// Commit converts n reserved units into a sale.
func Commit(s StockState, n int) (StockState, error) {
	if n <= 0 {
		return s, ErrInvalidQuantity
	}
	if n > s.Reserved {
		return s, ErrInsufficientReservedQuantity
	}
	s.Quantity -= n
	s.Reserved -= n
	return s, nil
}

// Cancel releases n reserved units.
func Cancel(s StockState, n int) (StockState, error) {
	if n <= 0 {
		return s, ErrInvalidQuantity
	}
	if n > s.Reserved {
		return s, ErrInsufficientReservedQuantity
	}
	s.Reserved -= n
	return s, nil
}

// UpdateQuantity replaces the on-hand quantity. Reservations are untouched.
func UpdateQuantity(s StockState, q int, policy UpdatePolicy) (StockState, error) {
	if q < 0 {
		return s, ErrInvalidQuantity
	}
	if policy == PolicyStrict && q < s.Reserved {
		return s, ErrQuantityBelowReserved
	}
	s.Quantity = q
	return s, nil
}
