package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/utafrali/stocksync/internal/cache"
	"github.com/utafrali/stocksync/internal/domain"
	"github.com/utafrali/stocksync/internal/repository"
	apperrors "github.com/utafrali/stocksync/pkg/errors"
	"github.com/utafrali/stocksync/pkg/pagination"
)

// EventPublisher delivers committed inventory events to the central side.
type EventPublisher interface {
	PublishInventoryEvent(ctx context.Context, e *domain.InventoryEvent) error
}

// ReservationConfig tunes the optimistic concurrency loop and delivery.
type ReservationConfig struct {
	Policy         domain.UpdatePolicy
	MaxAttempts    int
	RetryPause     time.Duration
	PublishTimeout time.Duration
}

// DefaultReservationConfig returns the defaults.
func DefaultReservationConfig() ReservationConfig {
	return ReservationConfig{
		Policy:         domain.PolicyPermissive,
		MaxAttempts:    5,
		RetryPause:     10 * time.Millisecond,
		PublishTimeout: 5 * time.Second,
	}
}

// CreateProductInput carries the fields of a new store product.
type CreateProductInput struct {
	SKU         string
	StoreID     string
	Name        string
	Description string
	UnitPrice   decimal.Decimal
	Quantity    int
}

// ReservationStore owns the per-store product records. Every mutation is a
// version-checked write committed together with its journal entry.
type ReservationStore struct {
	store     repository.Store
	journal   *EventJournal
	publisher EventPublisher
	cache     cache.AvailabilityCache
	cfg       ReservationConfig
	logger    *slog.Logger
	now       func() time.Time

	inflight sync.WaitGroup
}

// NewReservationStore creates a ReservationStore. publisher may be nil, in
// which case events wait in the journal for the central sweep.
func NewReservationStore(
	store repository.Store,
	journal *EventJournal,
	publisher EventPublisher,
	availability cache.AvailabilityCache,
	cfg ReservationConfig,
	logger *slog.Logger,
) *ReservationStore {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultReservationConfig().MaxAttempts
	}
	if cfg.Policy == "" {
		cfg.Policy = domain.PolicyPermissive
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultReservationConfig().PublishTimeout
	}
	if availability == nil {
		availability = cache.Noop{}
	}
	return &ReservationStore{
		store:     store,
		journal:   journal,
		publisher: publisher,
		cache:     availability,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Create registers a new product at a store and records its opening stock.
func (s *ReservationStore) Create(ctx context.Context, in CreateProductInput) (*domain.Product, error) {
	p, err := domain.NewProduct(in.SKU, in.StoreID, in.Name, in.Description, in.UnitPrice, in.Quantity, s.now())
	if err != nil {
		return nil, s.fail(ctx, "create", err)
	}
	e := domain.NewInventoryEvent(p, domain.EventRestock, 0, "product created")

	err = s.store.WithinTx(ctx, func(r repository.Repositories) error {
		if err := r.Products.Create(ctx, p); err != nil {
			return err
		}
		return s.journal.With(r.Events).Append(ctx, e)
	})
	if err != nil {
		return nil, s.fail(ctx, "create", err)
	}

	s.afterCommit(ctx, p, e)
	reservationOperations.WithLabelValues("create", "success").Inc()
	s.logger.InfoContext(ctx, "product created",
		slog.String("sku", p.SKU),
		slog.String("store_id", p.StoreID),
		slog.Int("quantity", p.Quantity),
	)
	return p, nil
}

// FindBySkuAndStore returns the product record.
func (s *ReservationStore) FindBySkuAndStore(ctx context.Context, sku, storeID string) (*domain.Product, error) {
	p, err := s.store.Repositories().Products.Get(ctx, sku, storeID)
	if err != nil {
		return nil, mapError(err)
	}
	return p, nil
}

// GetAvailableQuantity returns quantity minus reserved, served from the cache
// when possible.
func (s *ReservationStore) GetAvailableQuantity(ctx context.Context, sku, storeID string) (int, error) {
	if v, ok, err := s.cache.GetStore(ctx, sku, storeID); err != nil {
		s.logger.WarnContext(ctx, "availability cache read failed",
			slog.String("sku", sku),
			slog.String("store_id", storeID),
			slog.String("error", err.Error()),
		)
	} else if ok {
		return v, nil
	}

	p, err := s.FindBySkuAndStore(ctx, sku, storeID)
	if err != nil {
		return 0, err
	}
	s.cacheAvailability(ctx, p)
	return p.AvailableQuantity(), nil
}

// FindAvailableProducts lists active products with stock left. An empty
// storeID lists every store.
func (s *ReservationStore) FindAvailableProducts(ctx context.Context, storeID string, page pagination.Params) (pagination.Result[domain.Product], error) {
	products, total, err := s.store.Repositories().Products.ListAvailable(ctx, storeID, page)
	if err != nil {
		return pagination.Result[domain.Product]{}, mapError(err)
	}
	return pagination.NewResult(products, total, page), nil
}

// SearchByName finds products whose name contains name, case-insensitively.
func (s *ReservationStore) SearchByName(ctx context.Context, name, storeID string, page pagination.Params) (pagination.Result[domain.Product], error) {
	if strings.TrimSpace(name) == "" {
		return pagination.Result[domain.Product]{}, apperrors.InvalidInput("name is required")
	}
	products, total, err := s.store.Repositories().Products.SearchByName(ctx, name, storeID, page)
	if err != nil {
		return pagination.Result[domain.Product]{}, mapError(err)
	}
	return pagination.NewResult(products, total, page), nil
}

// Reserve holds quantity units for a pending purchase.
func (s *ReservationStore) Reserve(ctx context.Context, sku, storeID string, quantity int) (*domain.Product, error) {
	return s.mutate(ctx, "reserve", sku, storeID, func(p *domain.Product) (domain.StockState, domain.EventType, string, error) {
		state, err := domain.Reserve(p.State(), quantity)
		return state, domain.EventReserve, fmt.Sprintf("reserved %d", quantity), err
	})
}

// CommitReserved turns quantity reserved units into a sale.
func (s *ReservationStore) CommitReserved(ctx context.Context, sku, storeID string, quantity int) (*domain.Product, error) {
	return s.mutate(ctx, "commit", sku, storeID, func(p *domain.Product) (domain.StockState, domain.EventType, string, error) {
		state, err := domain.Commit(p.State(), quantity)
		return state, domain.EventCommit, fmt.Sprintf("committed %d", quantity), err
	})
}

// CancelReservation releases quantity reserved units.
func (s *ReservationStore) CancelReservation(ctx context.Context, sku, storeID string, quantity int) (*domain.Product, error) {
	return s.mutate(ctx, "cancel", sku, storeID, func(p *domain.Product) (domain.StockState, domain.EventType, string, error) {
		state, err := domain.Cancel(p.State(), quantity)
		return state, domain.EventCancel, fmt.Sprintf("cancelled %d", quantity), err
	})
}

// UpdateQuantity sets the on-hand quantity. Growth is recorded as a restock.
func (s *ReservationStore) UpdateQuantity(ctx context.Context, sku, storeID string, quantity int) (*domain.Product, error) {
	return s.mutate(ctx, "update_quantity", sku, storeID, func(p *domain.Product) (domain.StockState, domain.EventType, string, error) {
		state, err := domain.UpdateQuantity(p.State(), quantity, s.cfg.Policy)
		eventType := domain.EventUpdate
		if quantity > p.Quantity {
			eventType = domain.EventRestock
		}
		return state, eventType, fmt.Sprintf("quantity set to %d", quantity), err
	})
}

// SetActive activates or deactivates a product. Inactive products cannot be
// reserved; existing reservations can still be committed or cancelled.
func (s *ReservationStore) SetActive(ctx context.Context, sku, storeID string, active bool) (*domain.Product, error) {
	return s.mutate(ctx, "set_active", sku, storeID, func(p *domain.Product) (domain.StockState, domain.EventType, string, error) {
		state := p.State()
		state.Active = active
		details := "deactivated"
		if active {
			details = "activated"
		}
		return state, domain.EventUpdate, details, nil
	})
}

// Drain waits for in-flight event publishes.
func (s *ReservationStore) Drain() {
	s.inflight.Wait()
}

type mutation func(p *domain.Product) (domain.StockState, domain.EventType, string, error)

// mutate runs the read, validate, compare-and-swap cycle. A version conflict
// re-reads the product and tries again up to MaxAttempts times.
func (s *ReservationStore) mutate(ctx context.Context, op, sku, storeID string, fn mutation) (*domain.Product, error) {
	products := s.store.Repositories().Products

	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		current, err := products.Get(ctx, sku, storeID)
		if err != nil {
			return nil, s.fail(ctx, op, err)
		}

		state, eventType, details, err := fn(current)
		if err != nil {
			return nil, s.fail(ctx, op, err)
		}

		next := current.WithState(state, s.now())
		e := domain.NewInventoryEvent(next, eventType, current.Quantity, details)

		err = s.store.WithinTx(ctx, func(r repository.Repositories) error {
			if err := r.Products.UpdateState(ctx, next, current.Version); err != nil {
				return err
			}
			return s.journal.With(r.Events).Append(ctx, e)
		})
		if errors.Is(err, domain.ErrVersionConflict) {
			casRetries.WithLabelValues(op).Inc()
			if err := s.pause(ctx); err != nil {
				return nil, s.fail(ctx, op, err)
			}
			continue
		}
		if err != nil {
			return nil, s.fail(ctx, op, err)
		}

		s.afterCommit(ctx, next, e)
		reservationOperations.WithLabelValues(op, "success").Inc()
		s.logger.DebugContext(ctx, "stock mutated",
			slog.String("operation", op),
			slog.String("sku", sku),
			slog.String("store_id", storeID),
			slog.Int("quantity", next.Quantity),
			slog.Int("reserved", next.ReservedQuantity),
			slog.Int64("version", next.Version),
		)
		return next, nil
	}

	s.logger.WarnContext(ctx, "giving up after repeated version conflicts",
		slog.String("operation", op),
		slog.String("sku", sku),
		slog.String("store_id", storeID),
		slog.Int("attempts", s.cfg.MaxAttempts),
	)
	return nil, s.fail(ctx, op, domain.ErrConcurrentModification)
}

func (s *ReservationStore) pause(ctx context.Context) error {
	if s.cfg.RetryPause <= 0 {
		return ctx.Err()
	}
	d := time.Duration(rand.Int64N(int64(s.cfg.RetryPause))) + 1
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *ReservationStore) fail(ctx context.Context, op string, err error) error {
	mapped := mapError(err)
	code := errorCode(mapped)
	reservationOperations.WithLabelValues(op, code).Inc()
	if code == "INTERNAL_ERROR" {
		s.logger.ErrorContext(ctx, "stock operation failed",
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
	}
	return mapped
}

// afterCommit refreshes the cache and hands the event to the publisher. Both
// are best effort: the journal already holds the event as PENDING.
func (s *ReservationStore) afterCommit(ctx context.Context, p *domain.Product, e *domain.InventoryEvent) {
	s.cacheAvailability(ctx, p)

	if s.publisher == nil {
		return
	}
	event := *e
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PublishTimeout)
		defer cancel()
		if err := s.publisher.PublishInventoryEvent(pubCtx, &event); err != nil {
			s.logger.WarnContext(pubCtx, "inventory event publish failed, left for sweep",
				slog.String("event_id", event.EventID),
				slog.String("sku", event.ProductSKU),
				slog.String("store_id", event.StoreID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

func (s *ReservationStore) cacheAvailability(ctx context.Context, p *domain.Product) {
	if err := s.cache.SetStore(ctx, p.SKU, p.StoreID, p.AvailableQuantity(), p.Version); err != nil {
		s.logger.WarnContext(ctx, "availability cache write failed",
			slog.String("sku", p.SKU),
			slog.String("store_id", p.StoreID),
			slog.String("error", err.Error()),
		)
	}
}
