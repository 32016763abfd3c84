package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/utafrali/stocksync/internal/domain"
	"github.com/utafrali/stocksync/pkg/database"
	"github.com/utafrali/stocksync/pkg/pagination"
)

const centralColumns = `sku, product_name, description, category, unit_price::text, total_quantity,
	total_reserved_quantity, available_quantity, last_updated, version, active`

// CentralRepository implements repository.CentralRepository using PostgreSQL.
type CentralRepository struct {
	db database.DBTX
}

// NewCentralRepository creates a new PostgreSQL-backed central repository.
func NewCentralRepository(db database.DBTX) *CentralRepository {
	return &CentralRepository{db: db}
}

func scanCentral(row pgx.Row, extra ...any) (*domain.CentralInventory, error) {
	var c domain.CentralInventory
	var price string
	dest := append([]any{
		&c.ProductSKU, &c.ProductName, &c.Description, &c.Category, &price, &c.TotalQuantity,
		&c.TotalReservedQuantity, &c.AvailableQuantity, &c.LastUpdated, &c.Version, &c.Active,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	unitPrice, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("parse unit price %q: %w", price, err)
	}
	c.UnitPrice = unitPrice
	return &c, nil
}

// Get retrieves the central row of sku.
func (r *CentralRepository) Get(ctx context.Context, sku string) (*domain.CentralInventory, error) {
	query := `SELECT ` + centralColumns + ` FROM central_inventory WHERE sku = $1`

	c, err := scanCentral(r.db.QueryRow(ctx, query, sku))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCentralInventoryNotFound
		}
		return nil, fmt.Errorf("get central inventory: %w", err)
	}
	return c, nil
}

// EnsureExists bootstraps the central row of sku. An existing row only has
// its name filled in when it had none.
func (r *CentralRepository) EnsureExists(ctx context.Context, sku, name string, now time.Time) error {
	query := `
		INSERT INTO central_inventory (sku, product_name, last_updated)
		VALUES ($1, $2, $3)
		ON CONFLICT (sku) DO UPDATE SET product_name = EXCLUDED.product_name
		WHERE central_inventory.product_name = '' AND EXCLUDED.product_name <> ''`

	if _, err := r.db.Exec(ctx, query, sku, name, now); err != nil {
		return fmt.Errorf("ensure central inventory: %w", err)
	}
	return nil
}

const applyDeltaSQL = `
		UPDATE central_inventory
		SET total_quantity = total_quantity + $2,
		    total_reserved_quantity = total_reserved_quantity + $3,
		    available_quantity = (total_quantity + $2) - (total_reserved_quantity + $3),
		    last_updated = $4,
		    version = version + 1
		WHERE sku = $1`

// ApplyDelta moves the totals of sku in a single statement.
func (r *CentralRepository) ApplyDelta(ctx context.Context, sku string, quantity, reserved int, now time.Time) (err error) {
	ctx, end := database.TraceQuery(ctx, "central_inventory.ApplyDelta", applyDeltaSQL)
	defer func() { end(err) }()

	tag, err := r.db.Exec(ctx, applyDeltaSQL, sku, quantity, reserved, now)
	if err != nil {
		return fmt.Errorf("apply central delta: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCentralInventoryNotFound
	}
	return nil
}

// SetTotals overwrites the totals of sku if the row is still at expectedVersion.
func (r *CentralRepository) SetTotals(ctx context.Context, sku string, quantity, reserved int, expectedVersion int64, now time.Time) error {
	query := `
		UPDATE central_inventory
		SET total_quantity = $2, total_reserved_quantity = $3, available_quantity = $2::int - $3::int,
		    last_updated = $4, version = version + 1
		WHERE sku = $1 AND version = $5`

	tag, err := r.db.Exec(ctx, query, sku, quantity, reserved, now, expectedVersion)
	if err != nil {
		return fmt.Errorf("set central totals: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, sku); err != nil {
			return err
		}
		return domain.ErrVersionConflict
	}
	return nil
}

// UpsertCatalog writes the descriptive fields of sku, creating the row if needed.
func (r *CentralRepository) UpsertCatalog(ctx context.Context, sku string, update domain.CatalogUpdate, now time.Time) (*domain.CentralInventory, error) {
	query := `
		INSERT INTO central_inventory (sku, product_name, description, category, unit_price, active, last_updated)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7)
		ON CONFLICT (sku) DO UPDATE SET
			product_name = EXCLUDED.product_name,
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			unit_price = EXCLUDED.unit_price,
			active = EXCLUDED.active,
			last_updated = EXCLUDED.last_updated,
			version = central_inventory.version + 1
		RETURNING ` + centralColumns

	c, err := scanCentral(r.db.QueryRow(ctx, query,
		sku, update.ProductName, update.Description, update.Category, update.UnitPrice.String(), update.Active, now,
	))
	if err != nil {
		return nil, fmt.Errorf("upsert central catalog: %w", err)
	}
	return c, nil
}

// List returns a page of central rows ordered by sku.
func (r *CentralRepository) List(ctx context.Context, params pagination.Params) ([]domain.CentralInventory, int, error) {
	query := `
		SELECT ` + centralColumns + `, count(*) OVER() AS total_count
		FROM central_inventory
		ORDER BY sku
		LIMIT $1 OFFSET $2`

	rows, err := r.db.Query(ctx, query, params.PerPage, params.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list central inventory: %w", err)
	}
	defer rows.Close()

	items := []domain.CentralInventory{}
	var total int
	for rows.Next() {
		c, err := scanCentral(rows, &total)
		if err != nil {
			return nil, 0, fmt.Errorf("scan central inventory: %w", err)
		}
		items = append(items, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate central inventory: %w", err)
	}
	return items, total, nil
}

// ListSKUs returns every sku with a central row.
func (r *CentralRepository) ListSKUs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT sku FROM central_inventory ORDER BY sku`)
	if err != nil {
		return nil, fmt.Errorf("list central skus: %w", err)
	}
	defer rows.Close()

	skus := []string{}
	for rows.Next() {
		var sku string
		if err := rows.Scan(&sku); err != nil {
			return nil, fmt.Errorf("scan central sku: %w", err)
		}
		skus = append(skus, sku)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate central skus: %w", err)
	}
	return skus, nil
}
