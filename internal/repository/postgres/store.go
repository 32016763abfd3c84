package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/utafrali/stocksync/internal/repository"
	"github.com/utafrali/stocksync/pkg/database"
)

// uniqueViolation is the PostgreSQL error code for a duplicate key.
const uniqueViolation = "23505"

// Store is a repository.Store backed by PostgreSQL.
type Store struct {
	db database.DBTX
}

var _ repository.Store = (*Store)(nil)

// NewStore creates a store over a pool, or anything else implementing DBTX.
func NewStore(db database.DBTX) *Store {
	return &Store{db: db}
}

// Repositories returns repositories that run each statement on the pool.
func (s *Store) Repositories() repository.Repositories {
	return newRepositories(s.db)
}

// WithinTx runs fn with repositories bound to a single transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(r repository.Repositories) error) error {
	return database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		return fn(newRepositories(tx))
	})
}

// Ping runs a trivial query.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

func newRepositories(db database.DBTX) repository.Repositories {
	return repository.Repositories{
		Products: NewProductRepository(db),
		Events:   NewEventRepository(db),
		Central:  NewCentralRepository(db),
		Registry: NewRegistryRepository(db),
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
