package memory

import (
	"context"
	"sort"
	"time"

	"github.com/utafrali/stocksync/internal/domain"
	"github.com/utafrali/stocksync/pkg/pagination"
)

// CentralRepository keeps central rows in memory.
type CentralRepository struct {
	s *session
}

func (r *CentralRepository) Get(_ context.Context, sku string) (*domain.CentralInventory, error) {
	var out domain.CentralInventory
	err := r.s.read(func(d *data) error {
		c, ok := d.central[sku]
		if !ok {
			return domain.ErrCentralInventoryNotFound
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *CentralRepository) EnsureExists(_ context.Context, sku, name string, now time.Time) error {
	return r.s.write(func(d *data) error {
		c, ok := d.central[sku]
		if !ok {
			d.central[sku] = *domain.NewCentralInventory(sku, name, now)
			return nil
		}
		if c.ProductName == "" && name != "" {
			c.ProductName = name
			d.central[sku] = c
		}
		return nil
	})
}

func (r *CentralRepository) ApplyDelta(_ context.Context, sku string, quantity, reserved int, now time.Time) error {
	return r.s.write(func(d *data) error {
		c, ok := d.central[sku]
		if !ok {
			return domain.ErrCentralInventoryNotFound
		}
		c.ApplyDelta(quantity, reserved, now)
		d.central[sku] = c
		return nil
	})
}

func (r *CentralRepository) SetTotals(_ context.Context, sku string, quantity, reserved int, expectedVersion int64, now time.Time) error {
	return r.s.write(func(d *data) error {
		c, ok := d.central[sku]
		if !ok {
			return domain.ErrCentralInventoryNotFound
		}
		if c.Version != expectedVersion {
			return domain.ErrVersionConflict
		}
		c.SetTotals(quantity, reserved, now)
		d.central[sku] = c
		return nil
	})
}

func (r *CentralRepository) UpsertCatalog(_ context.Context, sku string, update domain.CatalogUpdate, now time.Time) (*domain.CentralInventory, error) {
	var out domain.CentralInventory
	err := r.s.write(func(d *data) error {
		c, ok := d.central[sku]
		if !ok {
			c = *domain.NewCentralInventory(sku, update.ProductName, now)
		} else {
			c.Version++
		}
		c.ProductName = update.ProductName
		c.Description = update.Description
		c.Category = update.Category
		c.UnitPrice = update.UnitPrice
		c.Active = update.Active
		c.LastUpdated = now.UTC()
		d.central[sku] = c
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *CentralRepository) List(_ context.Context, params pagination.Params) ([]domain.CentralInventory, int, error) {
	var all []domain.CentralInventory
	_ = r.s.read(func(d *data) error {
		for _, c := range d.central {
			all = append(all, c)
		}
		return nil
	})
	sort.Slice(all, func(i, j int) bool { return all[i].ProductSKU < all[j].ProductSKU })
	return page(all, params.Offset, params.PerPage), len(all), nil
}

func (r *CentralRepository) ListSKUs(_ context.Context) ([]string, error) {
	skus := []string{}
	_ = r.s.read(func(d *data) error {
		for sku := range d.central {
			skus = append(skus, sku)
		}
		return nil
	})
	sort.Strings(skus)
	return skus, nil
}
