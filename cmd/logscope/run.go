package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"logScope/internal/cache"
	"logScope/internal/chain"
	"logScope/internal/config"
	"logScope/internal/hub"
	"logScope/internal/server"
	"logScope/internal/store"
	"logScope/internal/syncer"
)

func runService(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	contracts, err := config.LoadContracts(cfg.ContractsPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checkpoints, err := cache.New(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer checkpoints.Close()

	logStore, err := store.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer logStore.Close()

	chainClient, err := chain.Dial(ctx, cfg.HTTPRPCURL, cfg.WSRPCURL, cfg.RPCTimeout)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	// Serving traffic against an unreachable or mismatched chain is fatal.
	if err := chainClient.Ready(ctx, cfg.ChainID); err != nil {
		return err
	}
	logger.Info("chain provider ready", zap.Uint64("chain_id", chainClient.ChainID()))

	logHub := hub.New(hub.Config{
		Listen: func(ctx context.Context) (hub.Listener, error) {
			return logStore.Listen(ctx)
		},
		Fetcher: logStore,
		Logger:  logger,
	})
	defer logHub.Close()

	engine := syncer.NewEngine(syncer.Config{
		BatchSize:    cfg.BatchSize,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}, chainClient, logStore, checkpoints, logger)

	if err := engine.Start(ctx, contracts); err != nil {
		return err
	}

	logger.Info("syncer started",
		zap.Int("contracts", len(contracts)),
		zap.Uint64("batch_size", cfg.BatchSize),
	)

	srv := server.New(contracts, logStore, checkpoints, chainClient, logHub, logger)
	serveErr := srv.Run(ctx, cfg.ServerHost, cfg.ServerPort)

	if err := engine.Stop(); err != nil {
		logger.Error("syncer stopped with error", zap.Error(err))
	}

	return serveErr
}
