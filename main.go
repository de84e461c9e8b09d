package main

import (
	"context"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"pyramid-trading-bot/config"
	"pyramid-trading-bot/internal/api"
	"pyramid-trading-bot/internal/auth"
	"pyramid-trading-bot/internal/circuit"
	"pyramid-trading-bot/internal/database"
	"pyramid-trading-bot/internal/events"
	"pyramid-trading-bot/internal/live"
	"pyramid-trading-bot/internal/logging"
	"pyramid-trading-bot/internal/swingstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log := logging.Default()
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger := logging.New(cfg.Logging("main"))
	logging.SetDefault(logger)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}
	logger.Info().Str("level", cfg.LoggingConfig.Level).Msg("Structured logging initialized")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eventBus := events.NewEventBus()

	deps := api.Dependencies{
		EventBus: eventBus,
		Backtest: api.BacktestDefaults{
			StartingCapital: cfg.BacktestConfig.StartingCapital,
			Pyramid:         cfg.Pyramid(),
			Market:          cfg.MarketParams(),
		},
	}

	// Database
	var repo *database.Repository
	if cfg.DatabaseConfig.Enabled {
		db, err := database.NewDB(cfg.Database(), logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()
		if err := db.RunMigrations(ctx); err != nil {
			logger.Fatal().Err(err).Msg("Failed to run migrations")
		}
		repo = database.NewRepository(db)
		deps.Repo = repo
	} else {
		logger.Warn().Msg("Database disabled, closed trades are only published on the event bus")
	}

	// Swing source for API backtests
	switch {
	case cfg.ClickHouseConfig.Enabled:
		ch, err := swingstore.NewClickHouseSource(ctx, cfg.ClickHouse(), logger)
		if err != nil {
			logger.Error().Err(err).Msg("ClickHouse unavailable, backtests need inline events")
		} else {
			defer ch.Close()
			deps.Source = ch
		}
	case cfg.BacktestConfig.EventsFile != "":
		deps.Source = swingstore.NewFileSource(cfg.BacktestConfig.EventsFile)
	}

	if cfg.AuthConfig.Enabled {
		deps.JWTManager = auth.NewJWTManager(cfg.AuthConfig.JWTSecret, cfg.AuthConfig.AccessTokenDuration)
		deps.Accounts, _ = cfg.Accounts() // checked by Validate
		logger.Info().Int("accounts", len(deps.Accounts)).Msg("Operator auth enabled")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	deps.Metrics = promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})

	// Live engine
	var engine *live.Engine
	if cfg.LiveConfig.Enabled {
		engine, deps.Breaker = buildEngine(ctx, cfg, repo, eventBus, registry, logger)
		deps.Engine = engine
	}

	server := api.NewServer(api.ServerConfig{
		Port:           cfg.ServerConfig.Port,
		Host:           cfg.ServerConfig.Host,
		AllowedOrigins: splitOrigins(cfg.ServerConfig.AllowedOrigins),
		ReadTimeout:    time.Duration(cfg.ServerConfig.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.ServerConfig.WriteTimeout) * time.Second,
		ProductionMode: cfg.LoggingConfig.JSONFormat,
	}, deps, logger)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutting down...")
	case err := <-serverErr:
		if err != nil {
			logger.Error().Err(err).Msg("HTTP server stopped")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error shutting down web server")
	}
	// positions stay open and persisted; the next start restores them
	if engine != nil {
		engine.Stop()
	}

	logger.Info().Msg("Shutdown complete")
}

func buildEngine(ctx context.Context, cfg *config.Config, repo *database.Repository, bus *events.EventBus, reg prometheus.Registerer, logger zerolog.Logger) (*live.Engine, *circuit.Breaker) {
	if !cfg.LiveConfig.DryRun {
		logger.Fatal().Msg("No exchange executor is built in; set LIVE_DRY_RUN=true to run the paper executor")
	}

	engine, err := live.NewEngine(live.Config{
		EngineID:        cfg.LiveConfig.EngineID,
		Symbols:         cfg.LiveConfig.Symbols,
		StartingCapital: cfg.LiveConfig.StartingCapital,
		MailboxSize:     cfg.LiveConfig.MailboxSize,
		Pyramid:         cfg.Pyramid(),
		Market:          cfg.MarketParams(),
	}, live.NewPaperExecutor(logger), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create live engine")
	}
	engine.SetEventBus(bus)
	engine.SetMetrics(live.NewMetrics(reg, engine.EngineID()))

	// Position snapshots: Redis when enabled, otherwise the repository's
	// in-memory cache so restarts within a process still reconcile
	var client *redis.Client
	if cfg.RedisConfig.Enabled {
		client = database.NewRedisClient(cfg.RedisConfig.Address, cfg.RedisConfig.Password, cfg.RedisConfig.DB, cfg.RedisConfig.PoolSize)
	}
	store := database.NewRedisPositionStateRepository(client, logger)
	engine.SetPositionStore(store)
	if client != nil {
		go watchRedis(ctx, store, logger)
	}

	if repo != nil {
		engine.SetTradeSink(repo)
	}

	breaker := circuit.New(cfg.CircuitBreaker())
	breaker.OnTrip(func(reason string) {
		logger.Warn().Str("reason", reason).Msg("Circuit breaker tripped, new entries paused")
		bus.PublishCircuitBreaker(string(circuit.StateOpen), reason)
	})
	breaker.OnReset(func() {
		logger.Info().Msg("Circuit breaker reset")
		bus.PublishCircuitBreaker(string(circuit.StateClosed), "reset")
	})
	engine.SetCircuitBreaker(breaker)

	if err := engine.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start live engine")
	}
	return engine, breaker
}

// watchRedis pings Redis until ctx ends; positions cached while it was down
// are pushed back on recovery
func watchRedis(ctx context.Context, store *database.RedisPositionStateRepository, logger zerolog.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.CheckRedisConnection(ctx); err != nil {
				logger.Warn().Err(err).Int("cached", store.GetStats().InMemoryCacheSize).Msg("Redis unavailable, positions held in memory")
			}
		}
	}
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
