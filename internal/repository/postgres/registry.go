package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/stocksync/internal/domain"
	"github.com/utafrali/stocksync/pkg/database"
)

const registryColumns = `sku, store_id, store_name, store_location, quantity, reserved, available,
	last_updated, last_sync_time, is_synchronized, last_sequence`

// RegistryRepository implements repository.RegistryRepository using PostgreSQL.
type RegistryRepository struct {
	db database.DBTX
}

// NewRegistryRepository creates a new PostgreSQL-backed registry repository.
func NewRegistryRepository(db database.DBTX) *RegistryRepository {
	return &RegistryRepository{db: db}
}

func scanStoreInventory(row pgx.Row) (*domain.StoreInventory, error) {
	var s domain.StoreInventory
	err := row.Scan(
		&s.ProductSKU, &s.StoreID, &s.StoreName, &s.StoreLocation, &s.Quantity, &s.Reserved, &s.Available,
		&s.LastUpdated, &s.LastSyncTime, &s.IsSynchronized, &s.LastSequence,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *RegistryRepository) get(ctx context.Context, query, sku, storeID string) (*domain.StoreInventory, error) {
	s, err := scanStoreInventory(r.db.QueryRow(ctx, query, sku, storeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrStoreInventoryNotFound
		}
		return nil, fmt.Errorf("get store inventory: %w", err)
	}
	return s, nil
}

// Get retrieves the registry row for sku at storeID.
func (r *RegistryRepository) Get(ctx context.Context, sku, storeID string) (*domain.StoreInventory, error) {
	query := `SELECT ` + registryColumns + ` FROM store_inventory WHERE sku = $1 AND store_id = $2`
	return r.get(ctx, query, sku, storeID)
}

// GetForUpdate retrieves and locks the registry row for sku at storeID.
func (r *RegistryRepository) GetForUpdate(ctx context.Context, sku, storeID string) (*domain.StoreInventory, error) {
	query := `SELECT ` + registryColumns + ` FROM store_inventory WHERE sku = $1 AND store_id = $2 FOR UPDATE`
	return r.get(ctx, query, sku, storeID)
}

// Upsert writes a registry row. Blank store details are taken from the stores table.
func (r *RegistryRepository) Upsert(ctx context.Context, s *domain.StoreInventory) error {
	query := `
		INSERT INTO store_inventory (sku, store_id, store_name, store_location, quantity, reserved, available,
			last_updated, last_sync_time, is_synchronized, last_sequence)
		VALUES ($1, $2,
			COALESCE(NULLIF($3, ''), (SELECT name FROM stores WHERE store_id = $2), ''),
			COALESCE(NULLIF($4, ''), (SELECT location FROM stores WHERE store_id = $2), ''),
			$5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (sku, store_id) DO UPDATE SET
			store_name = EXCLUDED.store_name,
			store_location = EXCLUDED.store_location,
			quantity = EXCLUDED.quantity,
			reserved = EXCLUDED.reserved,
			available = EXCLUDED.available,
			last_updated = EXCLUDED.last_updated,
			last_sync_time = EXCLUDED.last_sync_time,
			is_synchronized = EXCLUDED.is_synchronized,
			last_sequence = EXCLUDED.last_sequence`

	_, err := r.db.Exec(ctx, query,
		s.ProductSKU, s.StoreID, s.StoreName, s.StoreLocation, s.Quantity, s.Reserved, s.Available,
		s.LastUpdated, s.LastSyncTime, s.IsSynchronized, s.LastSequence,
	)
	if err != nil {
		return fmt.Errorf("upsert store inventory: %w", err)
	}
	return nil
}

// MarkUnsynchronized flags the row for sku at storeID, creating it if needed.
func (r *RegistryRepository) MarkUnsynchronized(ctx context.Context, sku, storeID string, now time.Time) error {
	query := `
		INSERT INTO store_inventory (sku, store_id, store_name, store_location, is_synchronized, last_updated)
		VALUES ($1, $2,
			COALESCE((SELECT name FROM stores WHERE store_id = $2), ''),
			COALESCE((SELECT location FROM stores WHERE store_id = $2), ''),
			FALSE, $3)
		ON CONFLICT (sku, store_id) DO UPDATE SET is_synchronized = FALSE, last_updated = EXCLUDED.last_updated`

	if _, err := r.db.Exec(ctx, query, sku, storeID, now); err != nil {
		return fmt.Errorf("mark store inventory unsynchronized: %w", err)
	}
	return nil
}

// ListBySku returns every store's row for sku.
func (r *RegistryRepository) ListBySku(ctx context.Context, sku string) ([]domain.StoreInventory, error) {
	query := `SELECT ` + registryColumns + ` FROM store_inventory WHERE sku = $1 ORDER BY store_id`

	rows, err := r.db.Query(ctx, query, sku)
	if err != nil {
		return nil, fmt.Errorf("list store inventory: %w", err)
	}
	defer rows.Close()

	items := []domain.StoreInventory{}
	for rows.Next() {
		s, err := scanStoreInventory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan store inventory: %w", err)
		}
		items = append(items, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate store inventory: %w", err)
	}
	return items, nil
}

// SumBySku totals quantity and reserved over every store for sku.
func (r *RegistryRepository) SumBySku(ctx context.Context, sku string) (quantity, reserved int, err error) {
	query := `
		SELECT COALESCE(SUM(quantity), 0)::int, COALESCE(SUM(reserved), 0)::int
		FROM store_inventory
		WHERE sku = $1`

	if err := r.db.QueryRow(ctx, query, sku).Scan(&quantity, &reserved); err != nil {
		return 0, 0, fmt.Errorf("sum store inventory: %w", err)
	}
	return quantity, reserved, nil
}

// UpdateStoreDetails records a store's name and location and copies them to
// its registry rows. It returns the number of rows updated.
func (r *RegistryRepository) UpdateStoreDetails(ctx context.Context, details domain.StoreDetails) (int64, error) {
	upsertStore := `
		INSERT INTO stores (store_id, name, location)
		VALUES ($1, $2, $3)
		ON CONFLICT (store_id) DO UPDATE SET name = EXCLUDED.name, location = EXCLUDED.location`

	if _, err := r.db.Exec(ctx, upsertStore, details.StoreID, details.Name, details.Location); err != nil {
		return 0, fmt.Errorf("upsert store: %w", err)
	}

	updateRows := `UPDATE store_inventory SET store_name = $2, store_location = $3 WHERE store_id = $1`
	tag, err := r.db.Exec(ctx, updateRows, details.StoreID, details.Name, details.Location)
	if err != nil {
		return 0, fmt.Errorf("update store inventory details: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteAll empties the registry ahead of a rebuild.
func (r *RegistryRepository) DeleteAll(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM store_inventory`); err != nil {
		return fmt.Errorf("delete store inventory: %w", err)
	}
	return nil
}
