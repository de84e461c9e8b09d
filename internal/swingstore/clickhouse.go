package swingstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/rs/zerolog"

	"pyramid-trading-bot/internal/swing"
)

// ClickHouseConfig locates the swing event table
type ClickHouseConfig struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

// ClickHouseSource reads swing events written by the detection pipeline.
// Features are stored as a JSON string column.
type ClickHouseSource struct {
	conn   clickhouse.Conn
	cfg    ClickHouseConfig
	logger zerolog.Logger
}

// NewClickHouseSource opens and pings a connection
func NewClickHouseSource(ctx context.Context, cfg ClickHouseConfig, logger zerolog.Logger) (*ClickHouseSource, error) {
	if cfg.Table == "" {
		cfg.Table = "swing_events"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	return &ClickHouseSource{
		conn:   conn,
		cfg:    cfg,
		logger: logger.With().Str("component", "swingstore").Str("table", cfg.Table).Logger(),
	}, nil
}

// EnsureSchema creates the swing event table if missing
func (cs *ClickHouseSource) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.%s (
			id String,
			symbol LowCardinality(String),
			side LowCardinality(String),
			open_time DateTime64(3, 'UTC'),
			price Float64,
			features String
		)
		ENGINE = ReplacingMergeTree
		ORDER BY (symbol, open_time, id)
	`, cs.cfg.Database, cs.cfg.Table)
	if err := cs.conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create swing table: %w", err)
	}
	return nil
}

// Load queries events for symbol ordered by open time. Rows whose features
// fail to decode are kept with an empty snapshot so scoring treats them as
// factor-free.
func (cs *ClickHouseSource) Load(ctx context.Context, symbol string, from, to time.Time) ([]swing.Event, error) {
	var (
		conds = []string{"symbol = ?"}
		args  = []any{symbol}
	)
	if !from.IsZero() {
		conds = append(conds, "open_time >= ?")
		args = append(args, from)
	}
	if !to.IsZero() {
		conds = append(conds, "open_time < ?")
		args = append(args, to)
	}
	q := fmt.Sprintf(
		"SELECT id, symbol, side, open_time, price, features FROM %s.%s WHERE %s ORDER BY open_time, id",
		cs.cfg.Database, cs.cfg.Table, strings.Join(conds, " AND "),
	)

	rows, err := cs.conn.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query swings: %w", err)
	}
	defer rows.Close()

	events := make([]swing.Event, 0, 1024)
	badFeatures := 0
	for rows.Next() {
		var (
			ev       swing.Event
			side     string
			features string
		)
		if err := rows.Scan(&ev.ID, &ev.Symbol, &side, &ev.OpenTime, &ev.Price, &features); err != nil {
			return nil, fmt.Errorf("scan swing: %w", err)
		}
		ev.Side = swing.Side(side)
		if features != "" {
			if err := json.Unmarshal([]byte(features), &ev.Features); err != nil {
				badFeatures++
				ev.Features = swing.Snapshot{}
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate swings: %w", err)
	}

	if badFeatures > 0 {
		cs.logger.Warn().Int("rows", badFeatures).Str("symbol", symbol).Msg("Undecodable feature snapshots")
	}
	cs.logger.Info().Int("events", len(events)).Str("symbol", symbol).Msg("Loaded swing events")
	return events, nil
}

// Insert writes events in one batch
func (cs *ClickHouseSource) Insert(ctx context.Context, events []swing.Event) error {
	batch, err := cs.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s.%s", cs.cfg.Database, cs.cfg.Table))
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	for _, ev := range events {
		features, err := json.Marshal(ev.Features)
		if err != nil {
			return fmt.Errorf("encode features %s: %w", ev.ID, err)
		}
		if err := batch.Append(ev.ID, ev.Symbol, string(ev.Side), ev.OpenTime, ev.Price, string(features)); err != nil {
			return fmt.Errorf("append %s: %w", ev.ID, err)
		}
	}
	return batch.Send()
}

func (cs *ClickHouseSource) Close() error {
	return cs.conn.Close()
}
