package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/utafrali/stocksync/internal/cache"
	"github.com/utafrali/stocksync/internal/domain"
	"github.com/utafrali/stocksync/internal/repository"
	apperrors "github.com/utafrali/stocksync/pkg/errors"
)

const reconcileAttempts = 3

// RebuildResult summarises a registry rebuild.
type RebuildResult struct {
	Stores int `json:"stores"`
	SKUs   int `json:"skus"`
}

// StoreInventoryRegistry is the central copy of every store's stock, with the
// jobs that keep the central totals consistent with it.
type StoreInventoryRegistry struct {
	store  repository.Store
	cache  cache.AvailabilityCache
	logger *slog.Logger
	now    func() time.Time
}

// NewStoreInventoryRegistry creates a registry service.
func NewStoreInventoryRegistry(store repository.Store, availability cache.AvailabilityCache, logger *slog.Logger) *StoreInventoryRegistry {
	if availability == nil {
		availability = cache.Noop{}
	}
	return &StoreInventoryRegistry{
		store:  store,
		cache:  availability,
		logger: logger,
		now:    time.Now,
	}
}

// Get returns one store's row for sku.
func (g *StoreInventoryRegistry) Get(ctx context.Context, sku, storeID string) (*domain.StoreInventory, error) {
	row, err := g.store.Repositories().Registry.Get(ctx, sku, storeID)
	if err != nil {
		return nil, mapError(err)
	}
	return row, nil
}

// ListBySku returns every store's row for sku, ordered by store.
func (g *StoreInventoryRegistry) ListBySku(ctx context.Context, sku string) ([]domain.StoreInventory, error) {
	rows, err := g.store.Repositories().Registry.ListBySku(ctx, sku)
	if err != nil {
		return nil, mapError(err)
	}
	return rows, nil
}

func (g *StoreInventoryRegistry) SumQuantityBySku(ctx context.Context, sku string) (int, error) {
	q, _, err := g.store.Repositories().Registry.SumBySku(ctx, sku)
	if err != nil {
		return 0, mapError(err)
	}
	return q, nil
}

func (g *StoreInventoryRegistry) SumReservedBySku(ctx context.Context, sku string) (int, error) {
	_, r, err := g.store.Repositories().Registry.SumBySku(ctx, sku)
	if err != nil {
		return 0, mapError(err)
	}
	return r, nil
}

// UpdateStoreDetails sets a store's name and location on every row of that
// store and on rows created later. It returns the number of rows touched.
func (g *StoreInventoryRegistry) UpdateStoreDetails(ctx context.Context, details domain.StoreDetails) (int64, error) {
	if strings.TrimSpace(details.StoreID) == "" {
		return 0, apperrors.InvalidInput("store_id is required")
	}
	n, err := g.store.Repositories().Registry.UpdateStoreDetails(ctx, details)
	if err != nil {
		return 0, mapError(err)
	}
	g.logger.InfoContext(ctx, "store details updated",
		slog.String("store_id", details.StoreID),
		slog.Int64("rows", n),
	)
	return n, nil
}

// Reconcile compares the central totals of sku with the registry sums and
// overwrites the totals when they differ. The write is version-checked and
// retried when an event lands in between.
func (g *StoreInventoryRegistry) Reconcile(ctx context.Context, sku string) (domain.Drift, error) {
	repos := g.store.Repositories()

	for attempt := 1; attempt <= reconcileAttempts; attempt++ {
		central, err := repos.Central.Get(ctx, sku)
		if err != nil {
			return domain.Drift{}, mapError(err)
		}
		q, r, err := repos.Registry.SumBySku(ctx, sku)
		if err != nil {
			return domain.Drift{}, mapError(err)
		}

		drift := domain.Drift{
			ProductSKU:       sku,
			CentralQuantity:  central.TotalQuantity,
			CentralReserved:  central.TotalReservedQuantity,
			RegistryQuantity: q,
			RegistryReserved: r,
		}
		if !drift.HasDrift() {
			return drift, nil
		}

		err = repos.Central.SetTotals(ctx, sku, q, r, central.Version, g.now())
		if errors.Is(err, domain.ErrVersionConflict) {
			casRetries.WithLabelValues("reconcile").Inc()
			continue
		}
		if err != nil {
			return drift, mapError(err)
		}

		drift.Corrected = true
		reconciliationDrift.Inc()
		g.invalidate(ctx, sku)
		g.logger.WarnContext(ctx, "central inventory drift corrected",
			slog.String("sku", sku),
			slog.Int("central_quantity", drift.CentralQuantity),
			slog.Int("registry_quantity", drift.RegistryQuantity),
			slog.Int("central_reserved", drift.CentralReserved),
			slog.Int("registry_reserved", drift.RegistryReserved),
		)
		return drift, nil
	}
	return domain.Drift{}, mapError(domain.ErrConcurrentModification)
}

// ReconcileAll reconciles every central SKU and returns the drifts found.
// One failing SKU does not stop the others.
func (g *StoreInventoryRegistry) ReconcileAll(ctx context.Context) ([]domain.Drift, error) {
	skus, err := g.store.Repositories().Central.ListSKUs(ctx)
	if err != nil {
		return nil, mapError(err)
	}

	var (
		drifts []domain.Drift
		errs   []error
	)
	for _, sku := range skus {
		if err := ctx.Err(); err != nil {
			return drifts, err
		}
		d, err := g.Reconcile(ctx, sku)
		if err != nil {
			g.logger.ErrorContext(ctx, "reconciliation failed",
				slog.String("sku", sku),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("reconcile %s: %w", sku, err))
			continue
		}
		if d.HasDrift() {
			drifts = append(drifts, d)
		}
	}
	return drifts, errors.Join(errs...)
}

// Rebuild recreates the registry from the latest processed event of every
// (sku, store) and resets the central totals to the rebuilt sums. It runs in
// one unit of work.
func (g *StoreInventoryRegistry) Rebuild(ctx context.Context) (RebuildResult, error) {
	type totals struct {
		name     string
		quantity int
		reserved int
	}
	var (
		result  RebuildResult
		touched []string
	)

	err := g.store.WithinTx(ctx, func(r repository.Repositories) error {
		latest, err := r.Events.LatestProcessed(ctx)
		if err != nil {
			return err
		}
		existing, err := r.Central.ListSKUs(ctx)
		if err != nil {
			return err
		}
		if err := r.Registry.DeleteAll(ctx); err != nil {
			return err
		}

		now := g.now()
		bySku := make(map[string]*totals)
		for _, sku := range existing {
			bySku[sku] = &totals{}
		}
		for i := range latest {
			e := &latest[i]
			row := domain.NewStoreInventory(e.Key())
			row.Apply(e, now)
			if err := r.Registry.Upsert(ctx, row); err != nil {
				return err
			}
			t, ok := bySku[e.ProductSKU]
			if !ok {
				t = &totals{}
				bySku[e.ProductSKU] = t
			}
			if t.name == "" {
				t.name = e.ProductName
			}
			t.quantity += row.Quantity
			t.reserved += row.Reserved
		}

		for sku, t := range bySku {
			if err := r.Central.EnsureExists(ctx, sku, t.name, now); err != nil {
				return err
			}
			c, err := r.Central.Get(ctx, sku)
			if err != nil {
				return err
			}
			if err := r.Central.SetTotals(ctx, sku, t.quantity, t.reserved, c.Version, now); err != nil {
				return err
			}
			touched = append(touched, sku)
		}

		result = RebuildResult{Stores: len(latest), SKUs: len(bySku)}
		return nil
	})
	if err != nil {
		return RebuildResult{}, mapError(err)
	}

	sort.Strings(touched)
	g.invalidate(ctx, touched...)
	g.logger.InfoContext(ctx, "store inventory registry rebuilt",
		slog.Int("stores", result.Stores),
		slog.Int("skus", result.SKUs),
	)
	return result, nil
}

func (g *StoreInventoryRegistry) invalidate(ctx context.Context, skus ...string) {
	if err := g.cache.InvalidateCentral(ctx, skus...); err != nil {
		g.logger.WarnContext(ctx, "central availability cache invalidation failed",
			slog.Any("skus", skus),
			slog.String("error", err.Error()),
		)
	}
}
