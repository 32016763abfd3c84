package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/utafrali/stocksync/internal/domain"
	"github.com/utafrali/stocksync/pkg/database"
	"github.com/utafrali/stocksync/pkg/pagination"
)

const productColumns = `sku, store_id, name, description, unit_price::text, quantity, reserved_quantity,
	active, last_updated, version`

// ProductRepository implements repository.ProductRepository using PostgreSQL.
type ProductRepository struct {
	db database.DBTX
}

// NewProductRepository creates a new PostgreSQL-backed product repository.
func NewProductRepository(db database.DBTX) *ProductRepository {
	return &ProductRepository{db: db}
}

func scanProduct(row pgx.Row, extra ...any) (*domain.Product, error) {
	var p domain.Product
	var price string
	dest := append([]any{
		&p.SKU, &p.StoreID, &p.Name, &p.Description, &price, &p.Quantity, &p.ReservedQuantity,
		&p.Active, &p.LastUpdated, &p.Version,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	unitPrice, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("parse unit price %q: %w", price, err)
	}
	p.UnitPrice = unitPrice
	return &p, nil
}

// Create inserts a new product row.
func (r *ProductRepository) Create(ctx context.Context, p *domain.Product) error {
	query := `
		INSERT INTO products (sku, store_id, name, description, unit_price, quantity, reserved_quantity,
			active, last_updated, version)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10)`

	_, err := r.db.Exec(ctx, query,
		p.SKU, p.StoreID, p.Name, p.Description, p.UnitPrice.String(), p.Quantity, p.ReservedQuantity,
		p.Active, p.LastUpdated, p.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrProductExists
		}
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

// Get retrieves a product by sku and store.
func (r *ProductRepository) Get(ctx context.Context, sku, storeID string) (*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE sku = $1 AND store_id = $2`

	p, err := scanProduct(r.db.QueryRow(ctx, query, sku, storeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

const updateStateSQL = `
		UPDATE products
		SET quantity = $3, reserved_quantity = $4, active = $5, last_updated = $6, version = version + 1
		WHERE sku = $1 AND store_id = $2 AND version = $7`

// UpdateState writes the ledger fields of p if the row is still at expectedVersion.
func (r *ProductRepository) UpdateState(ctx context.Context, p *domain.Product, expectedVersion int64) (err error) {
	ctx, end := database.TraceQuery(ctx, "products.UpdateState", updateStateSQL)
	defer func() { end(err) }()

	tag, err := r.db.Exec(ctx, updateStateSQL,
		p.SKU, p.StoreID, p.Quantity, p.ReservedQuantity, p.Active, p.LastUpdated, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update product state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		existsQuery := `SELECT EXISTS(SELECT 1 FROM products WHERE sku = $1 AND store_id = $2)`
		if err := r.db.QueryRow(ctx, existsQuery, p.SKU, p.StoreID).Scan(&exists); err != nil {
			return fmt.Errorf("check product exists: %w", err)
		}
		if !exists {
			return domain.ErrProductNotFound
		}
		return domain.ErrVersionConflict
	}

	p.Version = expectedVersion + 1
	return nil
}

// ListAvailable returns active products with stock left, optionally for one store.
func (r *ProductRepository) ListAvailable(ctx context.Context, storeID string, params pagination.Params) ([]domain.Product, int, error) {
	query := `
		SELECT ` + productColumns + `, count(*) OVER() AS total_count
		FROM products
		WHERE active AND quantity > reserved_quantity AND ($1 = '' OR store_id = $1)
		ORDER BY sku, store_id
		LIMIT $2 OFFSET $3`

	return r.list(ctx, "list available products", query, storeID, params.PerPage, params.Offset)
}

// SearchByName matches product names case-insensitively, optionally for one store.
func (r *ProductRepository) SearchByName(ctx context.Context, name, storeID string, params pagination.Params) ([]domain.Product, int, error) {
	query := `
		SELECT ` + productColumns + `, count(*) OVER() AS total_count
		FROM products
		WHERE name ILIKE '%' || $1 || '%' AND ($2 = '' OR store_id = $2)
		ORDER BY sku, store_id
		LIMIT $3 OFFSET $4`

	return r.list(ctx, "search products", query, name, storeID, params.PerPage, params.Offset)
}

func (r *ProductRepository) list(ctx context.Context, what, query string, args ...any) ([]domain.Product, int, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", what, err)
	}
	defer rows.Close()

	products := []domain.Product{}
	var total int
	for rows.Next() {
		p, err := scanProduct(rows, &total)
		if err != nil {
			return nil, 0, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate products: %w", err)
	}
	return products, total, nil
}
