package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
}

// NewDB creates a new database connection
func NewDB(cfg Config, logger zerolog.Logger) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logger = logger.With().Str("component", "database").Logger()
	logger.Info().Str("database", cfg.Database).Msg("Connected to PostgreSQL")

	return &DB{Pool: pool, logger: logger}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info().Msg("Database connection closed")
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info().Msg("Running database migrations")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS backtest_runs (
			id UUID PRIMARY KEY,
			symbol VARCHAR(30) NOT NULL,
			first_event TIMESTAMPTZ,
			last_event TIMESTAMPTZ,
			starting_capital NUMERIC(24, 8) NOT NULL,
			final_capital NUMERIC(24, 8) NOT NULL,
			peak_capital NUMERIC(24, 8) NOT NULL,
			max_drawdown NUMERIC(24, 8) NOT NULL DEFAULT 0,
			max_drawdown_percent NUMERIC(10, 4) NOT NULL DEFAULT 0,
			total_trades INT NOT NULL DEFAULT 0,
			winning_trades INT NOT NULL DEFAULT 0,
			losing_trades INT NOT NULL DEFAULT 0,
			win_rate NUMERIC(10, 4) NOT NULL DEFAULT 0,
			profit_factor NUMERIC(10, 4) NOT NULL DEFAULT 0,
			roi NUMERIC(14, 4) NOT NULL DEFAULT 0,
			sharpe_ratio NUMERIC(14, 6) NOT NULL DEFAULT 0,
			position_open BOOLEAN NOT NULL DEFAULT FALSE,
			config JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_backtest_runs_symbol ON backtest_runs(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_backtest_runs_created ON backtest_runs(created_at)`,

		`CREATE TABLE IF NOT EXISTS pyramid_trades (
			id BIGSERIAL PRIMARY KEY,
			trade_id UUID NOT NULL,
			run_id UUID REFERENCES backtest_runs(id) ON DELETE CASCADE,
			source VARCHAR(16) NOT NULL,
			symbol VARCHAR(30) NOT NULL,
			side VARCHAR(5) NOT NULL,
			level_count INT NOT NULL,
			avg_entry_price NUMERIC(24, 8) NOT NULL,
			exit_price NUMERIC(24, 8) NOT NULL,
			total_margin NUMERIC(24, 8) NOT NULL,
			total_size NUMERIC(24, 8) NOT NULL,
			leverage NUMERIC(10, 2) NOT NULL,
			entry_time TIMESTAMPTZ NOT NULL,
			exit_time TIMESTAMPTZ NOT NULL,
			gross_pnl NUMERIC(24, 8) NOT NULL,
			pnl NUMERIC(24, 8) NOT NULL,
			pnl_percent NUMERIC(14, 4) NOT NULL,
			funding_paid NUMERIC(24, 8) NOT NULL DEFAULT 0,
			fees_paid NUMERIC(24, 8) NOT NULL DEFAULT 0,
			peak_confluence INT NOT NULL DEFAULT 0,
			exit_reason VARCHAR(20) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_pyramid_trades_live ON pyramid_trades(trade_id) WHERE run_id IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_pyramid_trades_run ON pyramid_trades(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_pyramid_trades_symbol ON pyramid_trades(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_pyramid_trades_exit_time ON pyramid_trades(exit_time)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.logger.Info().Int("statements", len(migrations)).Msg("Database migrations completed")
	return nil
}

// HealthCheck performs a database health check
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
