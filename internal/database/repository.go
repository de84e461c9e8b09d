package database

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"pyramid-trading-bot/internal/pyramid"
)

// Repository provides data access methods
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

const insertTradeSQL = `
	INSERT INTO pyramid_trades (
		trade_id, run_id, source, symbol, side, level_count,
		avg_entry_price, exit_price, total_margin, total_size, leverage,
		entry_time, exit_time, gross_pnl, pnl, pnl_percent,
		funding_paid, fees_paid, peak_confluence, exit_reason
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
`

func tradeArgs(t pyramid.ClosedTrade, source string, runID *string) []any {
	return []any{
		t.ID, runID, source, t.Symbol, string(t.Side), t.LevelCount,
		num(t.AvgEntryPrice), num(t.ExitPrice), num(t.TotalMargin), num(t.TotalSize), num(t.Leverage),
		t.EntryTime, t.ExitTime, num(t.GrossPnL), num(t.PnL), num(t.PnLPercent),
		num(t.FundingPaid), num(t.FeesPaid), t.PeakConfluence, string(t.ExitReason),
	}
}

// SaveClosedTrade records a live trade. Saving the same trade twice is a no-op.
func (r *Repository) SaveClosedTrade(ctx context.Context, t pyramid.ClosedTrade) error {
	query := insertTradeSQL + ` ON CONFLICT (trade_id) WHERE run_id IS NULL DO NOTHING`
	if _, err := r.db.Pool.Exec(ctx, query, tradeArgs(t, SourceLive, nil)...); err != nil {
		return fmt.Errorf("failed to insert trade %s: %w", t.ID, err)
	}
	return nil
}

// ListClosedTrades returns trades newest first
func (r *Repository) ListClosedTrades(ctx context.Context, f TradeFilter) ([]StoredTrade, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Symbol != "" {
		add("symbol = $%d", f.Symbol)
	}
	if f.Source != "" {
		add("source = $%d", f.Source)
	}
	if f.RunID != "" {
		add("run_id = $%d", f.RunID)
	}
	if !f.Since.IsZero() {
		add("exit_time >= $%d", f.Since)
	}

	query := `
		SELECT id, trade_id::text, COALESCE(run_id::text, ''), source, symbol, side, level_count,
			avg_entry_price, exit_price, total_margin, total_size, leverage,
			entry_time, exit_time, gross_pnl, pnl, pnl_percent,
			funding_paid, fees_paid, peak_confluence, exit_reason, created_at
		FROM pyramid_trades`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY exit_time DESC, id DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	trades := make([]StoredTrade, 0)
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func scanTrade(row pgx.Row) (StoredTrade, error) {
	var (
		t                                      StoredTrade
		side, reason                           string
		avgEntry, exit, margin, size, leverage decimal.Decimal
		gross, pnl, pnlPct, funding, fees      decimal.Decimal
	)
	err := row.Scan(
		&t.RowID, &t.ID, &t.RunID, &t.Source, &t.Symbol, &side, &t.LevelCount,
		&avgEntry, &exit, &margin, &size, &leverage,
		&t.EntryTime, &t.ExitTime, &gross, &pnl, &pnlPct,
		&funding, &fees, &t.PeakConfluence, &reason, &t.CreatedAt,
	)
	if err != nil {
		return StoredTrade{}, fmt.Errorf("failed to scan trade: %w", err)
	}
	t.Side = pyramid.Side(side)
	t.ExitReason = pyramid.ExitReason(reason)
	t.AvgEntryPrice = avgEntry.InexactFloat64()
	t.ExitPrice = exit.InexactFloat64()
	t.TotalMargin = margin.InexactFloat64()
	t.TotalSize = size.InexactFloat64()
	t.Leverage = leverage.InexactFloat64()
	t.GrossPnL = gross.InexactFloat64()
	t.PnL = pnl.InexactFloat64()
	t.PnLPercent = pnlPct.InexactFloat64()
	t.FundingPaid = funding.InexactFloat64()
	t.FeesPaid = fees.InexactFloat64()
	return t, nil
}

// num converts a float to an exact NUMERIC argument rounded to 8 places.
// Non-finite values are stored as zero.
func num(x float64) decimal.Decimal {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(x).Round(8)
}
