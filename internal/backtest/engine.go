package backtest

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"pyramid-trading-bot/internal/pyramid"
	"pyramid-trading-bot/internal/risk"
	"pyramid-trading-bot/internal/signal"
	"pyramid-trading-bot/internal/swing"
)

// Simulator replays swing events through the evaluator and position machine.
// A run is single-threaded and deterministic: the same events and config
// always produce the same result.
type Simulator struct {
	cfg             pyramid.Config
	market          pyramid.MarketParams
	startingCapital float64
	logger          zerolog.Logger
}

// Result of one simulated run
type Result struct {
	Symbol             string                `json:"symbol"`
	StartingCapital    float64               `json:"starting_capital"`
	FinalCapital       float64               `json:"final_capital"`
	PeakCapital        float64               `json:"peak_capital"`
	MaxDrawdown        float64               `json:"max_drawdown"`
	MaxDrawdownPercent float64               `json:"max_drawdown_percent"`
	Trades             []pyramid.ClosedTrade `json:"trades"`
	EquityCurve        []EquityPoint         `json:"equity_curve"`
	OpenPosition       *pyramid.Position     `json:"open_position,omitempty"`
	OpenUnrealizedPnL  float64               `json:"open_unrealized_pnl,omitempty"` // marked at the last event price
	EventsProcessed    int                   `json:"events_processed"`
	EventsSkipped      int                   `json:"events_skipped"`
	FirstEvent         time.Time             `json:"first_event"`
	LastEvent          time.Time             `json:"last_event"`
	Stats              Stats                 `json:"stats"`
}

// EquityPoint is capital after a close
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}

// NewSimulator validates the configuration up front so Run only fails on
// contract violations
func NewSimulator(cfg pyramid.Config, market pyramid.MarketParams, startingCapital float64, logger zerolog.Logger) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := market.Validate(cfg.Leverage); err != nil {
		return nil, err
	}
	if !(startingCapital > 0) {
		return nil, fmt.Errorf("%w: starting capital must be > 0, got %v", pyramid.ErrInvalidConfig, startingCapital)
	}
	return &Simulator{
		cfg:             cfg.Clone(),
		market:          market,
		startingCapital: startingCapital,
		logger:          logger.With().Str("component", "backtest").Logger(),
	}, nil
}

// Run replays events for symbol. Events are sorted by open time first.
// Invalid events and events for other symbols are skipped without touching
// any state. A position still open at the end is returned as OpenPosition,
// not force-closed.
func (s *Simulator) Run(symbol string, events []swing.Event) (*Result, error) {
	ledger := risk.NewLedger(s.startingCapital)
	evaluator, err := signal.NewEvaluator(s.cfg, s.market, ledger.RiskAmount(s.cfg.BaseRiskPercent))
	if err != nil {
		return nil, err
	}
	machine, err := pyramid.NewMachine(symbol, s.cfg, s.market)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Symbol:          symbol,
		StartingCapital: s.startingCapital,
		Trades:          make([]pyramid.ClosedTrade, 0),
		EquityCurve:     make([]EquityPoint, 0),
	}

	var lastPrice float64
	log := s.logger.With().Str("symbol", symbol).Logger()
	log.Info().Int("events", len(events)).Float64("capital", s.startingCapital).Msg("Backtest started")

	for _, ev := range swing.SortByOpenTime(events) {
		if !ev.Valid() || (ev.Symbol != "" && ev.Symbol != symbol) {
			result.EventsSkipped++
			continue
		}
		if len(result.EquityCurve) == 0 {
			result.FirstEvent = ev.OpenTime
			result.EquityCurve = append(result.EquityCurve, EquityPoint{Timestamp: ev.OpenTime, Equity: s.startingCapital})
		}
		result.LastEvent = ev.OpenTime
		result.EventsProcessed++
		lastPrice = ev.Price

		pos := machine.Position()
		acct := signal.Account{Capital: ledger.Capital(), Available: ledger.Available()}
		eval := evaluator.Evaluate(ev, pos, acct)
		if pos != nil {
			machine.ObserveConfluence(eval.Confluence.Score)
		}

		for _, d := range eval.Decisions {
			trade, err := s.apply(machine, ledger, d)
			if err != nil {
				return nil, fmt.Errorf("event %s at %s: %w", ev.ID, ev.OpenTime.Format(time.RFC3339), err)
			}
			if trade == nil {
				continue
			}
			capital := ledger.Capital()
			result.Trades = append(result.Trades, *trade)
			result.EquityCurve = append(result.EquityCurve, EquityPoint{Timestamp: trade.ExitTime, Equity: capital})
			log.Debug().
				Str("reason", string(trade.ExitReason)).
				Int("levels", trade.LevelCount).
				Float64("pnl", trade.PnL).
				Float64("capital", capital).
				Msg("Position closed")
		}
	}

	st := ledger.Snapshot()
	result.FinalCapital = st.Capital
	result.PeakCapital = st.PeakCapital
	result.MaxDrawdown = st.MaxDrawdown
	result.MaxDrawdownPercent = st.MaxDrawdownPercent
	result.OpenPosition = machine.Position()
	if result.OpenPosition != nil {
		result.OpenUnrealizedPnL = result.OpenPosition.UnrealizedPnL(lastPrice)
	}
	result.Stats = Aggregate(result.Trades, result.EquityCurve, s.startingCapital)

	log.Info().
		Int("trades", len(result.Trades)).
		Float64("final_capital", result.FinalCapital).
		Float64("win_rate", result.Stats.WinRate).
		Bool("position_open", result.OpenPosition != nil).
		Msg("Backtest finished")

	return result, nil
}

// apply reserves margin for entries, performs the transition, and settles
// the ledger on close
func (s *Simulator) apply(m *pyramid.Machine, ledger *risk.Ledger, d signal.Decision) (*pyramid.ClosedTrade, error) {
	if d.Action == signal.ActionOpen || d.Action == signal.ActionAdd {
		if err := ledger.Reserve(d.Margin); err != nil {
			return nil, err
		}
	}

	trade, err := signal.ApplyDecision(m, d)
	if err != nil {
		return nil, err
	}
	if trade != nil {
		ledger.Release(trade.TotalMargin)
		ledger.Settle(trade.PnL)
	}
	return trade, nil
}
