package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"custodychain/internal/config"
	"custodychain/internal/db"
	"custodychain/internal/ledger"
	"custodychain/internal/log"
	"custodychain/internal/orders"
	"custodychain/internal/processor"
	"custodychain/internal/remote"
)

// app is the wired ledger, miner and order service for one process.
type app struct {
	cfg    *config.Config
	log    *slog.Logger
	ledger *ledger.Ledger
	miner  *processor.Miner
	orders *orders.Service
	db     *db.DB
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger := log.NewLogger(&cfg.Log)
	a := &app{cfg: cfg, log: logger}

	var (
		stateStore ledger.StateStore
		orderStore orders.Store
		indexer    processor.BlockIndexer
	)
	switch cfg.Storage.Type {
	case "duckdb":
		database, err := db.NewDB(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		a.db = database
		stateStore, orderStore, indexer = database, database, database
	case "remote":
		client := remote.NewClient(cfg.Storage.RemoteURL, cfg.Storage.RemoteTimeout)
		stateStore, orderStore = client, client
	default:
		stateStore, orderStore = &ledger.MemoryStateStore{}, orders.NewMemoryStore()
	}
	logger.Info("storage ready", slog.String("type", cfg.Storage.Type))

	l, err := ledger.Open(ctx, stateStore, logger,
		ledger.WithDifficulty(cfg.Ledger.Difficulty),
		ledger.WithMaxNonce(cfg.Ledger.MaxNonce))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.ledger = l

	opts := []processor.Option{
		processor.WithStateStore(stateStore),
		processor.WithLogger(logger),
		processor.WithSealTimeout(cfg.Ledger.SealTimeout),
	}
	if indexer != nil {
		opts = append(opts, processor.WithIndexer(indexer))
	}
	a.miner = processor.NewMiner(l, opts...)
	if _, err := a.miner.Backfill(ctx); err != nil {
		logger.Warn("block index backfill failed", slog.String("error", err.Error()))
	}

	a.orders = orders.NewService(orderStore,
		orders.WithSubmitter(a.miner),
		orders.WithLogger(logger))
	return a, nil
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
}
