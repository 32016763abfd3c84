package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/utafrali/stocksync/internal/client"
	"github.com/utafrali/stocksync/internal/config"
	"github.com/utafrali/stocksync/internal/seed"
	pkgconfig "github.com/utafrali/stocksync/pkg/config"
	"github.com/utafrali/stocksync/pkg/httpclient"
	"github.com/utafrali/stocksync/pkg/logger"
)

func main() {
	if err := pkgconfig.LoadDotenv(); err != nil {
		slog.Error("failed to load .env", slog.String("error", err.Error()))
		os.Exit(1)
	}

	cfg, err := config.LoadSeed()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log := logger.New("stocksync-seed", cfg.LogLevel)

	httpCfg := httpclient.DefaultConfig("stocksync-seed")
	httpCfg.Timeout = cfg.RequestTimeout
	httpCfg.MaxConnsPerHost = cfg.Concurrency
	api := client.New(cfg.StoreURL, cfg.CentralURL, httpCfg, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("seeding",
		slog.String("store_url", cfg.StoreURL),
		slog.Int("products", cfg.Products),
		slog.Int("stores", cfg.Stores),
		slog.Int("operations", cfg.Operations),
	)

	runner := seed.NewRunner(api, seed.Config{
		Products:        cfg.Products,
		Stores:          cfg.Stores,
		InitialQuantity: cfg.InitialQuantity,
		Operations:      cfg.Operations,
		Concurrency:     cfg.Concurrency,
		RandomSeed:      cfg.RandomSeed,
		SkipSweep:       cfg.CentralURL == "",
	}, log)

	report, err := runner.Run(ctx)
	if err != nil {
		log.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log.Info("seed complete",
		slog.Int("created", report.Created),
		slog.Int("existing", report.Existing),
		slog.Int("reserved", report.Reserved),
		slog.Int("committed", report.Committed),
		slog.Int("cancelled", report.Cancelled),
		slog.Int("rejected", report.Rejected),
		slog.Any("sweep", report.Sweep),
	)
}
