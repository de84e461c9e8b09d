package database

import (
	"context"
	"fmt"

	"pyramid-trading-bot/internal/pyramid"
)

// SaveBacktestRun saves a run summary and its trades in a transaction
func (r *Repository) SaveBacktestRun(ctx context.Context, run *BacktestRun, trades []pyramid.ClosedTrade) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO backtest_runs (
			id, symbol, first_event, last_event,
			starting_capital, final_capital, peak_capital, max_drawdown, max_drawdown_percent,
			total_trades, winning_trades, losing_trades,
			win_rate, profit_factor, roi, sharpe_ratio, position_open, config
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING created_at
	`
	err = tx.QueryRow(ctx, query,
		run.ID, run.Symbol, nullTime(run.FirstEvent), nullTime(run.LastEvent),
		num(run.StartingCapital), num(run.FinalCapital), num(run.PeakCapital), num(run.MaxDrawdown), num(run.MaxDrawdownPercent),
		run.TotalTrades, run.WinningTrades, run.LosingTrades,
		num(run.WinRate), num(run.ProfitFactor), num(run.ROI), num(run.SharpeRatio), run.PositionOpen, nullJSON(run.Config),
	).Scan(&run.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert backtest run: %w", err)
	}

	for _, t := range trades {
		if _, err := tx.Exec(ctx, insertTradeSQL, tradeArgs(t, SourceBacktest, &run.ID)...); err != nil {
			return fmt.Errorf("failed to insert backtest trade %s: %w", t.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListBacktestRuns returns the newest runs, optionally for one symbol
func (r *Repository) ListBacktestRuns(ctx context.Context, symbol string, limit int) ([]BacktestRun, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id::text, symbol, COALESCE(first_event, 'epoch'), COALESCE(last_event, 'epoch'),
			starting_capital::float8, final_capital::float8, peak_capital::float8,
			max_drawdown::float8, max_drawdown_percent::float8,
			total_trades, winning_trades, losing_trades,
			win_rate::float8, profit_factor::float8, roi::float8, sharpe_ratio::float8,
			position_open, COALESCE(config, 'null'::jsonb), created_at
		FROM backtest_runs
		WHERE ($1 = '' OR symbol = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query backtest runs: %w", err)
	}
	defer rows.Close()

	runs := make([]BacktestRun, 0)
	for rows.Next() {
		var run BacktestRun
		var cfg []byte
		if err := rows.Scan(
			&run.ID, &run.Symbol, &run.FirstEvent, &run.LastEvent,
			&run.StartingCapital, &run.FinalCapital, &run.PeakCapital,
			&run.MaxDrawdown, &run.MaxDrawdownPercent,
			&run.TotalTrades, &run.WinningTrades, &run.LosingTrades,
			&run.WinRate, &run.ProfitFactor, &run.ROI, &run.SharpeRatio,
			&run.PositionOpen, &cfg, &run.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan backtest run: %w", err)
		}
		run.Config = cfg
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
