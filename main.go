package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os/signal"
	"syscall"

	"cryptoLedgerBot/config"
	"cryptoLedgerBot/internal/adapters/binanceclient"
	"cryptoLedgerBot/internal/adapters/logger"
	"cryptoLedgerBot/internal/adapters/sqlite"
	"cryptoLedgerBot/internal/app"
	"cryptoLedgerBot/internal/ports"
	signalsrc "cryptoLedgerBot/internal/signal"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()
	appLogger.Info(context.Background(), "Database repository initialized")

	// 4. Initialize Exchange Client (Binance Adapter)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}
	appLogger.Info(context.Background(), "Binance client initialized")

	// 5. Initialize Signal Sources
	var sources []ports.SignalSource
	if cfg.StrategyOwner != "" {
		src, err := signalsrc.NewConfiguredStrategy(cfg.StrategyOwner, cfg.BuyBelow, cfg.SellAbove)
		if err != nil {
			appLogger.Error(context.Background(), err, "FATAL: Failed to initialize threshold strategy")
			log.Fatalf("FATAL: Failed to initialize threshold strategy: %v", err)
		}
		sources = append(sources, src)
		appLogger.Info(context.Background(), "Threshold strategy initialized", map[string]interface{}{"owner": cfg.StrategyOwner})
	}
	if cfg.CrossoverOwner != "" {
		src, err := signalsrc.NewCrossoverStrategy(cfg.CrossoverOwner, cfg.CrossoverFast, cfg.CrossoverSlow)
		if err != nil {
			appLogger.Error(context.Background(), err, "FATAL: Failed to initialize crossover strategy")
			log.Fatalf("FATAL: Failed to initialize crossover strategy: %v", err)
		}
		sources = append(sources, src)
		appLogger.Info(context.Background(), "Crossover strategy initialized", map[string]interface{}{
			"owner": cfg.CrossoverOwner, "fast": cfg.CrossoverFast, "slow": cfg.CrossoverSlow,
		})
	}

	// 6. Initialize the Engine
	engine, err := app.New(cfg, appLogger, binanceClient, binanceClient, repo, sources)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize ledger engine")
		log.Fatalf("FATAL: Failed to initialize ledger engine: %v", err)
	}
	appLogger.Info(context.Background(), "Ledger engine initialized")

	// 7. Run until interrupted
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := engine.Start(ctx); err != nil {
		appLogger.Error(context.Background(), err, "Ledger engine exited with error")
		log.Fatalf("FATAL: Ledger engine exited with error: %v", err)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}
