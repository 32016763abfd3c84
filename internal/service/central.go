package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/utafrali/stocksync/internal/cache"
	"github.com/utafrali/stocksync/internal/domain"
	"github.com/utafrali/stocksync/internal/repository"
	apperrors "github.com/utafrali/stocksync/pkg/errors"
	"github.com/utafrali/stocksync/pkg/pagination"
)

// CentralInventoryService serves the network-wide stock view.
type CentralInventoryService struct {
	store  repository.Store
	cache  cache.AvailabilityCache
	logger *slog.Logger
	now    func() time.Time
}

// NewCentralInventoryService creates the central read service.
func NewCentralInventoryService(store repository.Store, availability cache.AvailabilityCache, logger *slog.Logger) *CentralInventoryService {
	if availability == nil {
		availability = cache.Noop{}
	}
	return &CentralInventoryService{
		store:  store,
		cache:  availability,
		logger: logger,
		now:    time.Now,
	}
}

func (s *CentralInventoryService) GetCentralInventory(ctx context.Context, sku string) (*domain.CentralInventory, error) {
	c, err := s.store.Repositories().Central.Get(ctx, sku)
	if err != nil {
		return nil, mapError(err)
	}
	return c, nil
}

// GetGlobalInventory is GetCentralInventory under the global name.
func (s *CentralInventoryService) GetGlobalInventory(ctx context.Context, sku string) (*domain.GlobalInventory, error) {
	return s.GetCentralInventory(ctx, sku)
}

func (s *CentralInventoryService) ListCentralInventory(ctx context.Context, page pagination.Params) (pagination.Result[domain.CentralInventory], error) {
	rows, total, err := s.store.Repositories().Central.List(ctx, page)
	if err != nil {
		return pagination.Result[domain.CentralInventory]{}, mapError(err)
	}
	return pagination.NewResult(rows, total, page), nil
}

// GetGlobalAvailable returns total minus reserved across all stores, read
// through the cache.
func (s *CentralInventoryService) GetGlobalAvailable(ctx context.Context, sku string) (int, error) {
	if v, ok, err := s.cache.GetCentral(ctx, sku); err != nil {
		s.logger.WarnContext(ctx, "central availability cache read failed",
			slog.String("sku", sku),
			slog.String("error", err.Error()),
		)
	} else if ok {
		return v, nil
	}

	c, err := s.GetCentralInventory(ctx, sku)
	if err != nil {
		return 0, err
	}
	if err := s.cache.SetCentral(ctx, sku, c.AvailableQuantity); err != nil {
		s.logger.WarnContext(ctx, "central availability cache write failed",
			slog.String("sku", sku),
			slog.String("error", err.Error()),
		)
	}
	return c.AvailableQuantity, nil
}

// UpsertCatalog sets the descriptive fields of a central row, creating the
// row when the SKU has not been seen yet. Totals are never touched.
func (s *CentralInventoryService) UpsertCatalog(ctx context.Context, sku string, update domain.CatalogUpdate) (*domain.CentralInventory, error) {
	if strings.TrimSpace(sku) == "" {
		return nil, apperrors.InvalidInput("sku is required")
	}
	if update.UnitPrice.IsNegative() {
		return nil, apperrors.InvalidInput("unit_price must not be negative")
	}
	c, err := s.store.Repositories().Central.UpsertCatalog(ctx, sku, update, s.now())
	if err != nil {
		return nil, mapError(err)
	}
	if err := s.cache.InvalidateCentral(ctx, sku); err != nil {
		s.logger.WarnContext(ctx, "central availability cache invalidation failed",
			slog.String("sku", sku),
			slog.String("error", err.Error()),
		)
	}
	s.logger.InfoContext(ctx, "central catalog updated", slog.String("sku", sku))
	return c, nil
}
