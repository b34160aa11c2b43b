package main

import (
	"context"
	"fmt"
	"time"

	"github.com/crypto-temple/internal/adapter"
	"github.com/crypto-temple/internal/config"
	"github.com/crypto-temple/internal/service"
	"github.com/crypto-temple/internal/storage"
)

// newWalletService builds an uncached wallet service from cfg. The
// returned func releases the RPC connection.
func newWalletService(cfg *config.Config) (*service.WalletService, func(), error) {
	endpoints, err := adapter.NewRPCEndpoints(cfg.Chain.RPCPrimary, cfg.Chain.RPCSecondary, cfg.Chain.FailBackAfter)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to configure RPC endpoints: %w", err)
	}
	chain, err := adapter.NewEthereumClient(endpoints, cfg.Chain.RequestTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Ethereum client: %w", err)
	}

	firstTx := adapter.NewFirstTxResolver(
		adapter.NewExplorerClient(adapter.ExplorerConfig{
			Name:              "etherscan",
			BaseURL:           cfg.Explorer.EtherscanURL,
			APIKey:            cfg.Explorer.EtherscanAPIKey,
			ChainID:           cfg.Chain.ChainID,
			RequiresKey:       true,
			RequestsPerSecond: cfg.Explorer.RequestsPerSecond,
			Timeout:           cfg.Explorer.Timeout,
		}),
		adapter.NewExplorerClient(adapter.ExplorerConfig{
			Name:              "blockscout",
			BaseURL:           cfg.Explorer.BlockscoutURL,
			RequestsPerSecond: cfg.Explorer.RequestsPerSecond,
			Timeout:           cfg.Explorer.Timeout,
		}),
		nil,
	)

	return service.NewWalletService(chain, firstTx, nil), chain.Close, nil
}

// openHistory opens the configured history backend. A memory backend is
// empty on every run, so the CLI refuses it.
func openHistory(cfg *config.Config) (*service.HistoryService, func(), error) {
	var (
		redis    *storage.RedisCache
		postgres *storage.PostgresDB
		err      error
	)
	cleanup := func() {
		if redis != nil {
			_ = redis.Close()
		}
		if postgres != nil {
			postgres.Close()
		}
	}

	switch cfg.History.Backend {
	case "redis":
		redis, err = storage.NewRedisCache(&cfg.Database.Redis)
	case "postgres":
		postgres, err = storage.NewPostgresDB(&cfg.Database.Postgres)
	default:
		return nil, nil, fmt.Errorf("history backend %q is not persistent; set HISTORY_BACKEND to redis or postgres", cfg.History.Backend)
	}
	if err != nil {
		return nil, nil, err
	}
	if postgres != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = postgres.CheckSchema(ctx)
		cancel()
		if err != nil {
			cleanup()
			return nil, nil, err
		}
	}

	store, err := storage.NewHistoryStore(cfg.History.Backend, cfg.History.Key, redis, postgres)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return service.NewHistoryService(store, time.Now), cleanup, nil
}
