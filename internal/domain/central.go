package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CentralInventory is the network-wide stock view of one SKU.
type CentralInventory struct {
	ProductSKU            string          `json:"sku"`
	ProductName           string          `json:"product_name"`
	Description           string          `json:"description"`
	Category              string          `json:"category"`
	UnitPrice             decimal.Decimal `json:"unit_price"`
	TotalQuantity         int             `json:"total_quantity"`
	TotalReservedQuantity int             `json:"total_reserved_quantity"`
	AvailableQuantity     int             `json:"available_quantity"`
	LastUpdated           time.Time       `json:"last_updated"`
	Version               int64           `json:"version"`
	Active                bool            `json:"active"`
}

// GlobalInventory is the name the read API exposes the central view under.
type GlobalInventory = CentralInventory

// NewCentralInventory bootstraps an empty, active central row for sku.
func NewCentralInventory(sku, name string, now time.Time) *CentralInventory {
	return &CentralInventory{
		ProductSKU:  sku,
		ProductName: name,
		UnitPrice:   decimal.Zero,
		LastUpdated: now.UTC(),
		Version:     1,
		Active:      true,
	}
}

// ApplyDelta moves the totals by the given amounts.
func (c *CentralInventory) ApplyDelta(quantity, reserved int, now time.Time) {
	c.TotalQuantity += quantity
	c.TotalReservedQuantity += reserved
	c.AvailableQuantity = c.TotalQuantity - c.TotalReservedQuantity
	c.LastUpdated = now.UTC()
	c.Version++
}

// SetTotals overwrites the totals, as reconciliation does.
func (c *CentralInventory) SetTotals(quantity, reserved int, now time.Time) {
	c.TotalQuantity = quantity
	c.TotalReservedQuantity = reserved
	c.AvailableQuantity = quantity - reserved
	c.LastUpdated = now.UTC()
	c.Version++
}

// CatalogUpdate carries the descriptive fields of a central row.
type CatalogUpdate struct {
	ProductName string
	Description string
	Category    string
	UnitPrice   decimal.Decimal
	Active      bool
}

// Drift describes a difference between central totals and registry sums.
type Drift struct {
	ProductSKU       string `json:"sku"`
	CentralQuantity  int    `json:"central_quantity"`
	CentralReserved  int    `json:"central_reserved"`
	RegistryQuantity int    `json:"registry_quantity"`
	RegistryReserved int    `json:"registry_reserved"`
	Corrected        bool   `json:"corrected"`
}

// HasDrift reports whether the two sides disagree.
func (d Drift) HasDrift() bool {
	return d.CentralQuantity != d.RegistryQuantity || d.CentralReserved != d.RegistryReserved
}
