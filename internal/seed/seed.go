// Package seed populates a running store service with products and drives
// reservation traffic against it.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/utafrali/stocksync/internal/client"
	"github.com/utafrali/stocksync/internal/domain"
	apperrors "github.com/utafrali/stocksync/pkg/errors"
	"github.com/utafrali/stocksync/pkg/slug"
)

// API is the subset of the store and central APIs the runner needs.
type API interface {
	CreateProduct(ctx context.Context, p client.NewProduct) (*domain.Product, error)
	Reserve(ctx context.Context, sku, storeID string, quantity int) (*client.OperationResult, error)
	Commit(ctx context.Context, sku, storeID string, quantity int) (*client.OperationResult, error)
	Cancel(ctx context.Context, sku, storeID string, quantity int) (*client.OperationResult, error)
	Sweep(ctx context.Context) (map[string]int, error)
}

// Config controls how much data and traffic the runner generates.
type Config struct {
	Products        int
	Stores          int
	InitialQuantity int
	Operations      int
	Concurrency     int
	RandomSeed      uint64
	// SkipSweep leaves pending events to the central service's own sweep.
	SkipSweep bool
}

// Report counts what a run did.
type Report struct {
	Created   int            `json:"created"`
	Existing  int            `json:"existing"`
	Reserved  int            `json:"reserved"`
	Committed int            `json:"committed"`
	Cancelled int            `json:"cancelled"`
	Rejected  int            `json:"rejected"`
	Sweep     map[string]int `json:"sweep,omitempty"`
}

// Runner seeds products then replays random reserve/commit/cancel cycles.
type Runner struct {
	api    API
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	report Report
}

// NewRunner creates a runner.
func NewRunner(api API, cfg Config, logger *slog.Logger) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Runner{api: api, cfg: cfg, logger: logger}
}

var (
	adjectives = []string{"Ceramic", "Crème", "Stainless", "Organic", "Çelik", "Wooden", "Glass", "Linen"}
	nouns      = []string{"Mug", "Brûlée Ramekin", "Water Bottle", "Tea Towel", "Çaydanlık", "Cutting Board", "Carafe", "Apron"}
)

// Item is one catalogue entry the runner creates at every store.
type Item struct {
	SKU   string
	Name  string
	Price decimal.Decimal
}

// Catalogue returns n deterministic items with SKUs derived from their names.
func Catalogue(n int) []Item {
	items := make([]Item, n)
	for i := range items {
		name := fmt.Sprintf("%s %s", adjectives[i%len(adjectives)], nouns[(i/len(adjectives))%len(nouns)])
		items[i] = Item{
			SKU:   fmt.Sprintf("%s-%04d", slug.Identifier(name, 40), i+1),
			Name:  name,
			Price: decimal.New(int64(199+i*25), -2),
		}
	}
	return items
}

// StoreIDs returns n store identifiers.
func StoreIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("store-%02d", i+1)
	}
	return ids
}

// Run creates the catalogue at every store, drives the configured number of
// operations and finally triggers a central sweep.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	items := Catalogue(r.cfg.Products)
	stores := StoreIDs(r.cfg.Stores)

	if err := r.createProducts(ctx, items, stores); err != nil {
		return nil, err
	}
	r.logger.InfoContext(ctx, "products seeded",
		slog.Int("created", r.report.Created),
		slog.Int("existing", r.report.Existing),
	)

	if err := r.drive(ctx, items, stores); err != nil {
		return nil, err
	}

	if !r.cfg.SkipSweep {
		res, err := r.api.Sweep(ctx)
		if err != nil {
			return nil, fmt.Errorf("sweep: %w", err)
		}
		r.report.Sweep = res
	}

	out := r.report
	return &out, nil
}

func (r *Runner) createProducts(ctx context.Context, items []Item, stores []string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)

	for _, item := range items {
		for _, storeID := range stores {
			g.Go(func() error {
				_, err := r.api.CreateProduct(ctx, client.NewProduct{
					SKU:       item.SKU,
					StoreID:   storeID,
					Name:      item.Name,
					UnitPrice: item.Price,
					Quantity:  r.cfg.InitialQuantity,
				})
				switch {
				case err == nil:
					r.count(func(rep *Report) { rep.Created++ })
				case errorCode(err) == "PRODUCT_ALREADY_EXISTS":
					r.count(func(rep *Report) { rep.Existing++ })
				default:
					return fmt.Errorf("create %s at %s: %w", item.SKU, storeID, err)
				}
				return nil
			})
		}
	}
	return g.Wait()
}

func (r *Runner) drive(ctx context.Context, items []Item, stores []string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)

	for i := 0; i < r.cfg.Operations; i++ {
		rng := rand.New(rand.NewPCG(r.cfg.RandomSeed, uint64(i)))
		sku := items[rng.IntN(len(items))].SKU
		storeID := stores[rng.IntN(len(stores))]
		qty := 1 + rng.IntN(3)
		commit := rng.IntN(4) != 0

		g.Go(func() error {
			return r.cycle(ctx, sku, storeID, qty, commit)
		})
	}
	return g.Wait()
}

// cycle reserves qty units and then commits or cancels them. Running out of
// stock is expected under load and only counted.
func (r *Runner) cycle(ctx context.Context, sku, storeID string, qty int, commit bool) error {
	if _, err := r.api.Reserve(ctx, sku, storeID, qty); err != nil {
		if errorCode(err) == "INSUFFICIENT_STOCK" {
			r.count(func(rep *Report) { rep.Rejected++ })
			return nil
		}
		return fmt.Errorf("reserve %s at %s: %w", sku, storeID, err)
	}
	r.count(func(rep *Report) { rep.Reserved++ })

	if commit {
		if _, err := r.api.Commit(ctx, sku, storeID, qty); err != nil {
			return fmt.Errorf("commit %s at %s: %w", sku, storeID, err)
		}
		r.count(func(rep *Report) { rep.Committed++ })
		return nil
	}

	if _, err := r.api.Cancel(ctx, sku, storeID, qty); err != nil {
		return fmt.Errorf("cancel %s at %s: %w", sku, storeID, err)
	}
	r.count(func(rep *Report) { rep.Cancelled++ })
	return nil
}

func (r *Runner) count(fn func(*Report)) {
	r.mu.Lock()
	fn(&r.report)
	r.mu.Unlock()
}

func errorCode(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
