package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/utafrali/stocksync/internal/domain"
	"github.com/utafrali/stocksync/pkg/pagination"
)

// ProductRepository keeps products in memory.
type ProductRepository struct {
	s *session
}

func (r *ProductRepository) Create(_ context.Context, p *domain.Product) error {
	return r.s.write(func(d *data) error {
		if _, ok := d.products[p.Key()]; ok {
			return domain.ErrProductExists
		}
		d.products[p.Key()] = *p
		return nil
	})
}

func (r *ProductRepository) Get(_ context.Context, sku, storeID string) (*domain.Product, error) {
	var out domain.Product
	err := r.s.read(func(d *data) error {
		p, ok := d.products[domain.ProductKey{SKU: sku, StoreID: storeID}]
		if !ok {
			return domain.ErrProductNotFound
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *ProductRepository) UpdateState(_ context.Context, p *domain.Product, expectedVersion int64) error {
	return r.s.write(func(d *data) error {
		current, ok := d.products[p.Key()]
		if !ok {
			return domain.ErrProductNotFound
		}
		if current.Version != expectedVersion {
			return domain.ErrVersionConflict
		}
		current.Quantity = p.Quantity
		current.ReservedQuantity = p.ReservedQuantity
		current.Active = p.Active
		current.LastUpdated = p.LastUpdated
		current.Version = expectedVersion + 1
		d.products[p.Key()] = current
		p.Version = current.Version
		return nil
	})
}

func (r *ProductRepository) ListAvailable(_ context.Context, storeID string, params pagination.Params) ([]domain.Product, int, error) {
	return r.list(storeID, params, func(p domain.Product) bool {
		return p.Active && p.AvailableQuantity() > 0
	})
}

func (r *ProductRepository) SearchByName(_ context.Context, name, storeID string, params pagination.Params) ([]domain.Product, int, error) {
	needle := strings.ToLower(name)
	return r.list(storeID, params, func(p domain.Product) bool {
		return strings.Contains(strings.ToLower(p.Name), needle)
	})
}

func (r *ProductRepository) list(storeID string, params pagination.Params, keep func(domain.Product) bool) ([]domain.Product, int, error) {
	var matched []domain.Product
	_ = r.s.read(func(d *data) error {
		for _, p := range d.products {
			if storeID != "" && p.StoreID != storeID {
				continue
			}
			if keep(p) {
				matched = append(matched, p)
			}
		}
		return nil
	})

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].SKU != matched[j].SKU {
			return matched[i].SKU < matched[j].SKU
		}
		return matched[i].StoreID < matched[j].StoreID
	})
	return page(matched, params.Offset, params.PerPage), len(matched), nil
}
