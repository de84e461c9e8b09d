package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pyramid-trading-bot/internal/database"
	"pyramid-trading-bot/internal/logging"
	"pyramid-trading-bot/internal/pyramid"
	"pyramid-trading-bot/internal/swingstore"
)

// ErrNoEvents is returned when the source has nothing to replay
var ErrNoEvents = errors.New("no swing events")

// RunRepository persists finished runs
type RunRepository interface {
	SaveBacktestRun(ctx context.Context, run *database.BacktestRun, trades []pyramid.ClosedTrade) error
}

// Backtest loads swing events from a source, simulates them and optionally
// saves the run
type Backtest struct {
	source swingstore.Source
	repo   RunRepository
	logger zerolog.Logger
}

// Config holds one run's inputs
type Config struct {
	Symbol          string
	From            time.Time
	To              time.Time
	StartingCapital float64
	Pyramid         pyramid.Config
	Market          pyramid.MarketParams
}

// Report is a finished run with its persisted identity
type Report struct {
	RunID  string  `json:"run_id"`
	Saved  bool    `json:"saved"`
	Result *Result `json:"result"`
}

// NewBacktest creates a runner. repo may be nil to skip persistence.
func NewBacktest(source swingstore.Source, repo RunRepository, logger zerolog.Logger) *Backtest {
	return &Backtest{source: source, repo: repo, logger: logger}
}

// Run executes the backtest
func (b *Backtest) Run(ctx context.Context, cfg Config) (*Report, error) {
	events, err := b.source.Load(ctx, cfg.Symbol, cfg.From, cfg.To)
	if err != nil {
		return nil, fmt.Errorf("failed to load swing events: %w", err)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoEvents, cfg.Symbol)
	}

	log := logging.BacktestContext(b.logger.With().Str("component", "backtest").Logger(), cfg.Symbol, cfg.From, cfg.To)
	log.Debug().Int("events", len(events)).Msg("Swing events loaded")

	sim, err := NewSimulator(cfg.Pyramid, cfg.Market, cfg.StartingCapital, b.logger)
	if err != nil {
		return nil, err
	}
	result, err := sim.Run(cfg.Symbol, events)
	if err != nil {
		return nil, err
	}

	report := &Report{RunID: uuid.NewString(), Result: result}
	if b.repo == nil {
		return report, nil
	}

	run := RunRecord(report.RunID, cfg, result)
	if err := b.repo.SaveBacktestRun(ctx, run, result.Trades); err != nil {
		return report, fmt.Errorf("failed to save backtest run: %w", err)
	}
	report.Saved = true
	log.Info().Str("run_id", report.RunID).Int("trades", len(result.Trades)).Msg("Backtest run saved")
	return report, nil
}

// RunRecord converts a result into its database summary row
func RunRecord(runID string, cfg Config, r *Result) *database.BacktestRun {
	run := &database.BacktestRun{
		ID:                 runID,
		Symbol:             r.Symbol,
		StartingCapital:    r.StartingCapital,
		FinalCapital:       r.FinalCapital,
		PeakCapital:        r.PeakCapital,
		MaxDrawdown:        r.MaxDrawdown,
		MaxDrawdownPercent: r.MaxDrawdownPercent,
		TotalTrades:        r.Stats.TotalTrades,
		WinningTrades:      r.Stats.WinningTrades,
		LosingTrades:       r.Stats.LosingTrades,
		WinRate:            r.Stats.WinRate,
		ProfitFactor:       r.Stats.ProfitFactor,
		ROI:                r.Stats.ROI,
		SharpeRatio:        r.Stats.SharpeRatio,
		PositionOpen:       r.OpenPosition != nil,
		FirstEvent:         r.FirstEvent,
		LastEvent:          r.LastEvent,
	}
	if data, err := json.Marshal(struct {
		Pyramid pyramid.Config       `json:"pyramid"`
		Market  pyramid.MarketParams `json:"market"`
	}{cfg.Pyramid, cfg.Market}); err == nil {
		run.Config = data
	}
	return run
}
