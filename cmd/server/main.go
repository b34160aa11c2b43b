// Package main provides the API server entry point for the crypto temple service.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/crypto-temple/internal/adapter"
	"github.com/crypto-temple/internal/api"
	"github.com/crypto-temple/internal/config"
	"github.com/crypto-temple/internal/llm"
	"github.com/crypto-temple/internal/logging"
	"github.com/crypto-temple/internal/metrics"
	"github.com/crypto-temple/internal/notify"
	"github.com/crypto-temple/internal/retry"
	"github.com/crypto-temple/internal/service"
	"github.com/crypto-temple/internal/storage"
)

func main() {
	fmt.Println("Crypto Temple API Server")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logging
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New(cfg.Metrics.Enabled)

	// Initialize database connections. Each backend is only dialed when
	// the configuration selects it.
	var redis *storage.RedisCache
	if cfg.Cache.Backend == "redis" || cfg.History.Backend == "redis" {
		err := retry.Do(ctx, nil, func(context.Context, int) error {
			var err error
			redis, err = storage.NewRedisCache(&cfg.Database.Redis)
			return err
		})
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer redis.Close()
	}

	var postgres *storage.PostgresDB
	if cfg.History.Backend == "postgres" {
		err := retry.Do(ctx, nil, func(context.Context, int) error {
			var err error
			postgres, err = storage.NewPostgresDB(&cfg.Database.Postgres)
			return err
		})
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Postgres")
		}
		defer postgres.Close()

		if err := storage.RunMigrations(cfg.Database.Postgres.DSN(), cfg.Database.Postgres.MigrationsPath); err != nil {
			logger.WithError(err).Fatal("Failed to run Postgres migrations")
		}
		if err := postgres.CheckSchema(ctx); err != nil {
			logger.WithError(err).Fatal("Postgres schema check failed")
		}
	}

	var ledger storage.Ledger = storage.NoopLedger{}
	if cfg.Database.ClickHouse.Enabled {
		var clickhouse *storage.ClickHouseDB
		err := retry.Do(ctx, nil, func(context.Context, int) error {
			var err error
			clickhouse, err = storage.NewClickHouseDB(&cfg.Database.ClickHouse)
			return err
		})
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to ClickHouse")
		}
		defer clickhouse.Close()

		if err := storage.RunClickHouseMigrations(ctx, clickhouse, cfg.Database.ClickHouse.MigrationsPath); err != nil {
			logger.WithError(err).Fatal("Failed to run ClickHouse migrations")
		}
		if err := clickhouse.CheckSchema(ctx); err != nil {
			logger.WithError(err).Fatal("ClickHouse schema check failed")
		}
		ledger = storage.NewClickHouseLedger(clickhouse)
	}

	// Chain and explorer adapters
	endpoints, err := adapter.NewRPCEndpoints(cfg.Chain.RPCPrimary, cfg.Chain.RPCSecondary, cfg.Chain.FailBackAfter)
	if err != nil {
		logger.WithError(err).Fatal("Failed to configure RPC endpoints")
	}
	chain, err := adapter.NewEthereumClient(endpoints, cfg.Chain.RequestTimeout)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create Ethereum client")
	}
	defer chain.Close()

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

	// Storage
	cache, err := storage.NewSnapshotCache(cfg.Cache.Backend, cfg.Cache.SizeMB, cfg.Cache.TTL, redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create snapshot cache")
	}
	historyStore, err := storage.NewHistoryStore(cfg.History.Backend, cfg.History.Key, redis, postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create history store")
	}

	oracle, err := llm.New(ctx, cfg.LLM)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create LLM client")
	}

	// Notification fan-out: log always, websocket and RabbitMQ when enabled
	publishers := []notify.Publisher{notify.NewLogPublisher()}
	var hub *notify.Hub
	var hubHandler http.Handler
	if cfg.Notification.WebSocket {
		hub = notify.NewHub(cfg.Server.CORSOrigins)
		hubHandler = hub
		publishers = append(publishers, hub)
	}
	if cfg.Notification.AMQPURL != "" {
		var amqp *notify.AMQPPublisher
		err := retry.Do(ctx, nil, func(context.Context, int) error {
			var err error
			amqp, err = notify.NewAMQPPublisher(cfg.Notification.AMQPURL, cfg.Notification.Exchange)
			return err
		})
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to RabbitMQ")
		}
		defer amqp.Close()
		publishers = append(publishers, amqp)
	}
	publisher := notify.NewMultiPublisher(publishers...)

	// Initialize services
	logger.Info("Initializing services...")

	wallets := service.NewWalletService(chain, firstTx, storage.NewInstrumentedSnapshotCache(cache, m))
	sessions := service.NewSessionManager(wallets, 0)
	history := service.NewHistoryService(historyStore, time.Now)
	divinations := service.NewDivinationService(wallets, oracle, history,
		service.WithDivinationDelay(cfg.LLM.Delay),
		service.WithLedger(ledger),
		service.WithDivinationMetrics(m),
	)

	var signer adapter.Wallet
	if cfg.Payment.SignerKey != "" {
		w, err := adapter.NewEthereumWallet(chain, cfg.Payment.SignerKey, cfg.Chain.ChainID, cfg.Payment.ReceiptPollInterval)
		if err != nil {
			logger.WithError(err).Fatal("Failed to load signer wallet")
		}
		signer = w
	} else {
		logger.Warn("No signer key configured, donations are disabled")
	}
	payments := service.NewPaymentService(signer, cfg.Payment, publisher,
		service.WithPaymentLedger(ledger),
		service.WithPaymentMetrics(m),
	)

	scanner := notify.NewScanner(history, publisher, notify.ScannerConfig{
		Enabled:   cfg.Notification.Enabled,
		Interval:  cfg.Notification.Interval,
		Freshness: cfg.Notification.Freshness,
		Metrics:   m,
	})
	if err := scanner.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start notification scanner")
	}

	m.GaugeFunc("sessions_open", "Open wallet sessions", func() float64 {
		return float64(sessions.Count())
	})
	m.GaugeFunc("donation_in_flight", "1 while a donation awaits its receipt", func() float64 {
		if payments.Status().Paying {
			return 1
		}
		return 0
	})
	if hub != nil {
		m.GaugeFunc("notification_clients", "Connected websocket clients", func() float64 {
			return float64(hub.Clients())
		})
	}

	logger.Info("Services initialized")

	server := api.NewServer(&api.ServerConfig{
		Address:           cfg.Server.Address(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		CORSOrigins:       cfg.Server.CORSOrigins,
		TrustedProxies:    cfg.Server.TrustedProxies,
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
		MetricsPath:       cfg.Metrics.Path,
	}, api.Services{
		Wallets:       wallets,
		Sessions:      sessions,
		Divinations:   divinations,
		History:       history,
		Notifications: scanner,
		Payments:      payments,
		Hub:           hubHandler,
		Chain:         chain,
	}, m)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	logger.WithFields(map[string]interface{}{
		"address": cfg.Server.Address(),
		"oracle":  oracleName(oracle),
	}).Info("Server started successfully")

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			logger.WithError(err).Error("Server stopped unexpectedly")
		}
	}

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	scanner.Stop()
	sessions.Close()
	payments.Close()
	if hub != nil {
		hub.Close()
	}

	logger.Info("Server exited")
}

func oracleName(c llm.Completer) string {
	if c == nil {
		return "placeholder"
	}
	return c.Name()
}
