package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"crt-trading-engine/config"
	"crt-trading-engine/internal/api"
	"crt-trading-engine/internal/auth"
	"crt-trading-engine/internal/binance"
	"crt-trading-engine/internal/events"
	"crt-trading-engine/internal/logging"
	"crt-trading-engine/internal/session"
	sig "crt-trading-engine/internal/signal"
	"crt-trading-engine/internal/state"
	"crt-trading-engine/internal/vault"
	"crt-trading-engine/internal/workers"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logCfg := cfg.LoggingConfig
	logCfg.Component = "main"
	logger := logging.New(&logCfg)
	logging.SetDefault(logger)
	logger.Info("Structured logging initialized", "level", logCfg.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := resolveCredentials(ctx, cfg, logger); err != nil {
		logger.Fatal("Failed to resolve exchange credentials", "error", err.Error())
	}

	// Market data always comes from the live stream; orders go to the
	// exchange or to the paper gateway.
	streamCfg := binance.DefaultStreamConfig()
	if cfg.BinanceConfig.TestNet {
		streamCfg.BaseURL = binance.FuturesTestnetStreamURL
	}
	if cfg.BinanceConfig.StreamURL != "" {
		streamCfg.BaseURL = cfg.BinanceConfig.StreamURL
	}
	futures := binance.NewFuturesGateway(binance.FuturesConfig{
		APIKey:    cfg.BinanceConfig.APIKey,
		SecretKey: cfg.BinanceConfig.SecretKey,
		Testnet:   cfg.BinanceConfig.TestNet,
		Timeout:   cfg.BinanceConfig.Timeout(),
	})
	market := binance.NewLive(binance.NewKlineStream(streamCfg), futures)

	eventBus := events.NewEventBus()
	pool := workers.NewPool(cfg.WorkerConfig.PoolSize, cfg.WorkerConfig.QueueSize)
	scorer := sig.NewOutcomeScorer(cfg.ScorerConfig.Alpha, cfg.ScorerConfig.MinSamples)
	feedback := sig.NewFeedbackLoop(scorer, cfg.ScorerConfig.QueueSize)
	logger.Info("Analysis pool initialized", "workers", pool.Size())

	manager := session.NewManager()
	var mirrors []*state.RedisMirror
	for i, sc := range cfg.Sessions {
		var gateway binance.OrderGateway
		var balance float64
		if cfg.BinanceConfig.Paper {
			// each session gets its own simulated account
			gateway = binance.NewPaperGateway(cfg.BinanceConfig.PaperBalance)
			balance = cfg.BinanceConfig.PaperBalance
		} else {
			gateway = futures
			balance, err = fetchBalance(ctx, futures)
			if err != nil {
				logger.Fatal("Failed to fetch account balance", "error", err.Error())
			}
		}

		deps := session.Deps{
			Market:   market,
			Gateway:  gateway,
			Pool:     pool,
			Scorer:   scorer,
			Feedback: feedback,
			Bus:      eventBus,
		}
		var store state.Store = state.NewFileStore(cfg.StateConfig.Dir, sc.Name)
		if cfg.RedisConfig.Enabled {
			mirror := state.NewRedisMirror(store, sc.Name, state.RedisOptions{
				Address:  cfg.RedisConfig.Address,
				Password: cfg.RedisConfig.Password,
				DB:       cfg.RedisConfig.DB,
				PoolSize: cfg.RedisConfig.PoolSize,
			})
			mirrors = append(mirrors, mirror)
			store = mirror
			deps.Cache = mirror
		}
		deps.Store = store

		// daily counters are restored when the session starts running
		s := session.New(sc.Name, cfg.Session(i), balance, deps)
		s.Lifecycle().SetAutoTrading(sc.AutoTrading)
		if err := manager.Add(s); err != nil {
			logger.Fatal("Failed to register session", "session", sc.Name, "error", err.Error())
		}
		logger.Info("Session initialized",
			"session", sc.Name,
			"pair", s.Pair(),
			"interval", s.Interval(),
			"mode", sc.Mode,
			"paper", cfg.BinanceConfig.Paper,
			"autoTrading", sc.AutoTrading)
	}
	defer func() {
		for _, m := range mirrors {
			m.Close()
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(gctx) })
	g.Go(func() error { return feedback.Run(gctx) })
	g.Go(func() error { return manager.Run(gctx) })

	if cfg.ServerConfig.Enabled {
		tokens := auth.NewTokenManager(cfg.AuthConfig.JWTSecret, time.Duration(cfg.AuthConfig.TokenTTLHours)*time.Hour)
		if !tokens.Enabled() {
			logger.Warn("AUTH_JWT_SECRET not set, commands are accepted without a token")
		}
		server := api.NewServer(api.ServerConfig{
			Host:           cfg.ServerConfig.Host,
			Port:           cfg.ServerConfig.Port,
			ProductionMode: cfg.ServerConfig.ProductionMode,
			AllowedOrigins: cfg.ServerConfig.AllowedOrigins,
			CommandRate:    cfg.ServerConfig.CommandRatePerMinute,
			CommandTimeout: time.Duration(cfg.ServerConfig.CommandTimeoutSeconds) * time.Second,
		}, manager, eventBus, tokens)
		g.Go(func() error { return server.Run(gctx) })
	}

	logger.Info("Engine started", "sessions", len(cfg.Sessions))
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Engine stopped with error", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("Shutdown complete")
}

// resolveCredentials prefers Vault when enabled and falls back to the environment
func resolveCredentials(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	if cfg.VaultConfig.Enabled {
		client, err := vault.NewClient(cfg.VaultConfig)
		if err != nil {
			return err
		}
		vctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		creds, err := client.Get(vctx, "binance", cfg.BinanceConfig.TestNet)
		switch {
		case err == nil:
			cfg.BinanceConfig.APIKey = creds.APIKey
			cfg.BinanceConfig.SecretKey = creds.SecretKey
			logger.Info("Exchange credentials loaded from Vault", "testnet", cfg.BinanceConfig.TestNet)
		case errors.Is(err, vault.ErrNotFound):
			logger.Warn("No credentials in Vault, using environment", "testnet", cfg.BinanceConfig.TestNet)
		default:
			return err
		}
	}
	if !cfg.BinanceConfig.Paper && (cfg.BinanceConfig.APIKey == "" || cfg.BinanceConfig.SecretKey == "") {
		return errors.New("BINANCE_API_KEY and BINANCE_SECRET_KEY are required for live trading")
	}
	return nil
}

func fetchBalance(ctx context.Context, gw *binance.FuturesGateway) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	return gw.Balance(ctx)
}
