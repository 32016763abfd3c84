package repository

import (
	"context"
	"time"

	"github.com/utafrali/stocksync/internal/domain"
	"github.com/utafrali/stocksync/pkg/pagination"
)

// ProductRepository persists per-store product stock.
type ProductRepository interface {
	// Create inserts a new product. domain.ErrProductExists is returned when
	// the (sku, store) pair is already taken.
	Create(ctx context.Context, p *domain.Product) error
	// Get returns domain.ErrProductNotFound when the product does not exist.
	Get(ctx context.Context, sku, storeID string) (*domain.Product, error)
	// UpdateState writes quantity, reservation and active flag of p when the
	// stored version still equals expectedVersion, and returns
	// domain.ErrVersionConflict otherwise.
	UpdateState(ctx context.Context, p *domain.Product, expectedVersion int64) error
	ListAvailable(ctx context.Context, storeID string, page pagination.Params) ([]domain.Product, int, error)
	SearchByName(ctx context.Context, name, storeID string, page pagination.Params) ([]domain.Product, int, error)
}

// EventRepository is the inventory event journal.
type EventRepository interface {
	Insert(ctx context.Context, e *domain.InventoryEvent) error
	// InsertIfAbsent inserts e unless an event with the same id exists.
	InsertIfAbsent(ctx context.Context, e *domain.InventoryEvent) (bool, error)
	Get(ctx context.Context, eventID string) (*domain.InventoryEvent, error)
	// Claim moves a PENDING or FAILED event to PROCESSED. It reports false
	// when the event is already terminal.
	Claim(ctx context.Context, eventID string, now time.Time) (bool, error)
	// Resolve sets a terminal status on a non-terminal event.
	Resolve(ctx context.Context, eventID string, status domain.ProcessingStatus, reason string, now time.Time) (bool, error)
	// Reschedule records a failed attempt on a non-terminal event and sets
	// its status and next attempt time.
	Reschedule(ctx context.Context, eventID string, status domain.ProcessingStatus, reason string, next time.Time) (bool, error)
	// Reset puts a FAILED event back to PENDING with zero attempts.
	Reset(ctx context.Context, eventID string, now time.Time) (bool, error)
	Find(ctx context.Context, filter domain.EventFilter, page pagination.Params) ([]domain.InventoryEvent, int, error)
	Count(ctx context.Context, filter domain.EventFilter) (int, error)
	// FindDue returns non-terminal events due at now with fewer than
	// maxAttempts attempts, ordered by sku, store and sequence.
	FindDue(ctx context.Context, now time.Time, maxAttempts, limit int) ([]domain.InventoryEvent, error)
	// LatestProcessed returns the highest-sequence PROCESSED event of every
	// (sku, store) pair.
	LatestProcessed(ctx context.Context) ([]domain.InventoryEvent, error)
	// DeleteTerminalBefore removes PROCESSED and IGNORED events older than cutoff.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CentralRepository persists the network-wide view per SKU.
type CentralRepository interface {
	Get(ctx context.Context, sku string) (*domain.CentralInventory, error)
	// EnsureExists inserts an empty central row for sku if none exists.
	EnsureExists(ctx context.Context, sku, name string, now time.Time) error
	// ApplyDelta moves the totals atomically.
	ApplyDelta(ctx context.Context, sku string, quantity, reserved int, now time.Time) error
	// SetTotals overwrites the totals when the row is still at expectedVersion.
	SetTotals(ctx context.Context, sku string, quantity, reserved int, expectedVersion int64, now time.Time) error
	UpsertCatalog(ctx context.Context, sku string, update domain.CatalogUpdate, now time.Time) (*domain.CentralInventory, error)
	List(ctx context.Context, page pagination.Params) ([]domain.CentralInventory, int, error)
	ListSKUs(ctx context.Context) ([]string, error)
}

// RegistryRepository persists per-store rows of the central registry.
type RegistryRepository interface {
	Get(ctx context.Context, sku, storeID string) (*domain.StoreInventory, error)
	// GetForUpdate is Get with a row lock held until the transaction ends.
	GetForUpdate(ctx context.Context, sku, storeID string) (*domain.StoreInventory, error)
	Upsert(ctx context.Context, s *domain.StoreInventory) error
	MarkUnsynchronized(ctx context.Context, sku, storeID string, now time.Time) error
	ListBySku(ctx context.Context, sku string) ([]domain.StoreInventory, error)
	SumBySku(ctx context.Context, sku string) (quantity, reserved int, err error)
	UpdateStoreDetails(ctx context.Context, details domain.StoreDetails) (int64, error)
	DeleteAll(ctx context.Context) error
}

// Repositories groups the repositories that share one unit of work.
type Repositories struct {
	Products ProductRepository
	Events   EventRepository
	Central  CentralRepository
	Registry RegistryRepository
}

// Store hands out repositories and runs units of work over them.
type Store interface {
	Repositories() Repositories
	// WithinTx runs fn with repositories bound to one transaction. Returning
	// an error from fn rolls every write back.
	WithinTx(ctx context.Context, fn func(r Repositories) error) error
	Ping(ctx context.Context) error
}
