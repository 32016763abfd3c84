package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ProductKey identifies a product at one store location.
type ProductKey struct {
	SKU     string
	StoreID string
}

// String renders the key as "sku|store". It is used as the Kafka message key.
func (k ProductKey) String() string {
	return k.SKU + "|" + k.StoreID
}

// Product is the stock record of one SKU at one store.
type Product struct {
	SKU              string          `json:"sku"`
	StoreID          string          `json:"store_id"`
	Name             string          `json:"name"`
	Description      string          `json:"description"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	Quantity         int             `json:"quantity"`
	ReservedQuantity int             `json:"reserved_quantity"`
	Active           bool            `json:"active"`
	LastUpdated      time.Time       `json:"last_updated"`
	Version          int64           `json:"version"`
}

// NewProduct builds an active product with nothing reserved at version 1.
func NewProduct(sku, storeID, name, description string, unitPrice decimal.Decimal, quantity int, now time.Time) (*Product, error) {
	if strings.TrimSpace(sku) == "" || strings.TrimSpace(storeID) == "" {
		return nil, ErrInvalidProduct
	}
	if quantity < 0 {
		return nil, ErrInvalidQuantity
	}
	return &Product{
		SKU:         sku,
		StoreID:     storeID,
		Name:        name,
		Description: description,
		UnitPrice:   unitPrice,
		Quantity:    quantity,
		Active:      true,
		LastUpdated: now.UTC(),
		Version:     1,
	}, nil
}

// Key returns the product's (sku, store) identity.
func (p *Product) Key() ProductKey {
	return ProductKey{SKU: p.SKU, StoreID: p.StoreID}
}

// AvailableQuantity returns Quantity - ReservedQuantity. It can be negative
// when the quantity was lowered under the permissive update policy.
func (p *Product) AvailableQuantity() int {
	return p.Quantity - p.ReservedQuantity
}

// State returns the fields the ledger operates on.
func (p *Product) State() StockState {
	return StockState{
		Quantity: p.Quantity,
		Reserved: p.ReservedQuantity,
		Active:   p.Active,
	}
}

// WithState returns a copy of p carrying s, stamped with now and the next version.
func (p *Product) WithState(s StockState, now time.Time) *Product {
	next := *p
	next.Quantity = s.Quantity
	next.ReservedQuantity = s.Reserved
	next.Active = s.Active
	next.LastUpdated = now.UTC()
	next.Version = p.Version + 1
	return &next
}
