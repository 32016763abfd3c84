package memory

import (
	"context"
	"sort"
	"time"

	"github.com/utafrali/stocksync/internal/domain"
)

// RegistryRepository keeps per-store registry rows in memory.
type RegistryRepository struct {
	s *session
}

func (r *RegistryRepository) Get(_ context.Context, sku, storeID string) (*domain.StoreInventory, error) {
	var out domain.StoreInventory
	err := r.s.read(func(d *data) error {
		row, ok := d.registry[domain.ProductKey{SKU: sku, StoreID: storeID}]
		if !ok {
			return domain.ErrStoreInventoryNotFound
		}
		out = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetForUpdate is Get; units of work are already serialised.
func (r *RegistryRepository) GetForUpdate(ctx context.Context, sku, storeID string) (*domain.StoreInventory, error) {
	return r.Get(ctx, sku, storeID)
}

func (r *RegistryRepository) Upsert(_ context.Context, s *domain.StoreInventory) error {
	return r.s.write(func(d *data) error {
		row := *s
		if details, ok := d.stores[row.StoreID]; ok {
			if row.StoreName == "" {
				row.StoreName = details.Name
			}
			if row.StoreLocation == "" {
				row.StoreLocation = details.Location
			}
		}
		d.registry[row.Key()] = row
		return nil
	})
}

func (r *RegistryRepository) MarkUnsynchronized(_ context.Context, sku, storeID string, now time.Time) error {
	return r.s.write(func(d *data) error {
		key := domain.ProductKey{SKU: sku, StoreID: storeID}
		row, ok := d.registry[key]
		if !ok {
			row = *domain.NewStoreInventory(key)
			if details, ok := d.stores[storeID]; ok {
				row.StoreName, row.StoreLocation = details.Name, details.Location
			}
		}
		row.IsSynchronized = false
		row.LastUpdated = now.UTC()
		d.registry[key] = row
		return nil
	})
}

func (r *RegistryRepository) ListBySku(_ context.Context, sku string) ([]domain.StoreInventory, error) {
	rows := []domain.StoreInventory{}
	_ = r.s.read(func(d *data) error {
		for _, row := range d.registry {
			if row.ProductSKU == sku {
				rows = append(rows, row)
			}
		}
		return nil
	})
	sort.Slice(rows, func(i, j int) bool { return rows[i].StoreID < rows[j].StoreID })
	return rows, nil
}

func (r *RegistryRepository) SumBySku(_ context.Context, sku string) (int, int, error) {
	var quantity, reserved int
	_ = r.s.read(func(d *data) error {
		for _, row := range d.registry {
			if row.ProductSKU == sku {
				quantity += row.Quantity
				reserved += row.Reserved
			}
		}
		return nil
	})
	return quantity, reserved, nil
}

func (r *RegistryRepository) UpdateStoreDetails(_ context.Context, details domain.StoreDetails) (int64, error) {
	var updated int64
	err := r.s.write(func(d *data) error {
		d.stores[details.StoreID] = details
		for key, row := range d.registry {
			if row.StoreID != details.StoreID {
				continue
			}
			row.StoreName = details.Name
			row.StoreLocation = details.Location
			d.registry[key] = row
			updated++
		}
		return nil
	})
	return updated, err
}

func (r *RegistryRepository) DeleteAll(_ context.Context) error {
	return r.s.write(func(d *data) error {
		d.registry = make(map[domain.ProductKey]domain.StoreInventory)
		return nil
	})
}
