package signal

import (
	"fmt"
	"time"

	"pyramid-trading-bot/internal/confluence"
	"pyramid-trading-bot/internal/pyramid"
	"pyramid-trading-bot/internal/risk"
	"pyramid-trading-bot/internal/swing"
)

// Action is what a decision asks the position machine to do
type Action string

const (
	ActionOpen  Action = "open"
	ActionAdd   Action = "add_level"
	ActionTrail Action = "trail"
	ActionClose Action = "close"
)

// Fixed evaluator constants
const (
	// EntryCapitalMultiple: available capital must cover this many risk amounts
	EntryCapitalMultiple = 2.0
	// AddMinMovePercent is the favourable move from avg entry needed to add
	AddMinMovePercent = 0.5
	// AddMaxCapitalFraction caps a single add's margin relative to capital
	AddMaxCapitalFraction = 0.20
	// TrailProfitBufferPercent is the profit needed before trailing
	TrailProfitBufferPercent = 0.5
)

// Reasons an entry was declined. These are steady-state outcomes, not errors.
const (
	RejectInvalidEvent      = "invalid_event"
	RejectLowConfluence     = "low_confluence"
	RejectInsufficientFunds = "insufficient_capital"
	RejectLiquidationBuffer = "liquidation_too_close"
	RejectFundingRate       = "funding_against_side"
	RejectZeroSize          = "zero_size"
)

// Decision is a desired transition handed to the execution collaborator
type Decision struct {
	Action     Action             `json:"action"`
	Symbol     string             `json:"symbol"`
	Side       pyramid.Side       `json:"side"`
	Price      float64            `json:"price"`
	Size       float64            `json:"size,omitempty"`
	Margin     float64            `json:"margin,omitempty"`
	StopPrice  float64            `json:"stop_price,omitempty"`
	ExitReason pyramid.ExitReason `json:"exit_reason,omitempty"`
	Confluence int                `json:"confluence"`
	Factors    []string           `json:"factors,omitempty"`
	EventID    string             `json:"event_id"`
	Time       time.Time          `json:"time"`
}

// Level converts an open or add decision into a pyramid level
func (d Decision) Level() pyramid.Level {
	return pyramid.Level{
		EntryPrice: d.Price,
		Size:       d.Size,
		Margin:     d.Margin,
		Time:       d.Time,
		Confluence: d.Confluence,
		Factors:    append([]string(nil), d.Factors...),
	}
}

func (d Decision) String() string {
	switch d.Action {
	case ActionClose:
		return fmt.Sprintf("%s %s %s @ %.8f (%s)", d.Action, d.Symbol, d.Side, d.Price, d.ExitReason)
	case ActionTrail:
		return fmt.Sprintf("%s %s %s stop %.8f", d.Action, d.Symbol, d.Side, d.StopPrice)
	default:
		return fmt.Sprintf("%s %s %s @ %.8f margin %.4f", d.Action, d.Symbol, d.Side, d.Price, d.Margin)
	}
}

// Account is the capital view the evaluator sizes against
type Account struct {
	Capital   float64
	Available float64
}

// Evaluation is the outcome of one swing event
type Evaluation struct {
	EventID    string            `json:"event_id"`
	Symbol     string            `json:"symbol"`
	Confluence confluence.Result `json:"confluence"`
	Decisions  []Decision        `json:"decisions"`
	Rejection  string            `json:"rejection,omitempty"`
}

// Evaluator turns swing events into decisions. It holds no mutable state
// and is safe for concurrent use.
type Evaluator struct {
	cfg        pyramid.Config
	market     pyramid.MarketParams
	scorer     *confluence.Scorer
	riskAmount float64
}

// NewEvaluator validates the run configuration. riskAmount is the fixed
// per-trade risk for the run.
func NewEvaluator(cfg pyramid.Config, market pyramid.MarketParams, riskAmount float64) (*Evaluator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := market.Validate(cfg.Leverage); err != nil {
		return nil, err
	}
	if !(riskAmount > 0) {
		return nil, fmt.Errorf("%w: risk amount must be > 0, got %v", pyramid.ErrInvalidConfig, riskAmount)
	}
	return &Evaluator{
		cfg:        cfg.Clone(),
		market:     market,
		scorer:     confluence.NewScorer(),
		riskAmount: riskAmount,
	}, nil
}

// RiskAmount returns the fixed per-trade risk
func (e *Evaluator) RiskAmount() float64 { return e.riskAmount }

// Evaluate scores ev and decides what to do given the current position
// (nil when flat). Decisions are ordered and must be applied in order.
func (e *Evaluator) Evaluate(ev swing.Event, pos *pyramid.Position, acct Account) Evaluation {
	out := Evaluation{EventID: ev.ID, Symbol: ev.Symbol}
	if !ev.Valid() {
		out.Rejection = RejectInvalidEvent
		return out
	}
	out.Confluence = e.scorer.Score(ev.Features)

	if pos == nil {
		d, reason := e.entry(ev, out.Confluence, acct)
		if reason != "" {
			out.Rejection = reason
			return out
		}
		out.Decisions = append(out.Decisions, d)
		return out
	}

	if d, ok := e.exit(ev, out.Confluence, pos); ok {
		out.Decisions = append(out.Decisions, d)
		return out
	}
	if d, ok := e.add(ev, out.Confluence, pos, acct); ok {
		out.Decisions = append(out.Decisions, d)
	}
	if d, ok := e.trail(ev, out.Confluence, pos); ok {
		out.Decisions = append(out.Decisions, d)
	}
	return out
}

func (e *Evaluator) entry(ev swing.Event, res confluence.Result, acct Account) (Decision, string) {
	side := pyramid.SideForSwing(ev.Side)

	if res.Score < e.cfg.MinConfluenceToEnter {
		return Decision{}, RejectLowConfluence
	}
	if acct.Available < EntryCapitalMultiple*e.riskAmount {
		return Decision{}, RejectInsufficientFunds
	}

	liq := risk.LiquidationPrice(side, ev.Price, e.cfg.Leverage, e.market.MaintenanceMarginRate)
	if risk.LiquidationDistancePercent(ev.Price, liq) <= e.cfg.LiquidationBufferPercent {
		return Decision{}, RejectLiquidationBuffer
	}

	if fr, ok := ev.Features.Number(swing.FundingRate); ok {
		if (side == pyramid.Long && fr > e.cfg.FundingRateThreshold) ||
			(side == pyramid.Short && fr < -e.cfg.FundingRateThreshold) {
			return Decision{}, RejectFundingRate
		}
	}

	margin := e.riskAmount * e.cfg.MultiplierForLevel(0)
	sizing := risk.SafePositionSize(acct.Available, ev.Price, e.cfg.Leverage, e.cfg.BaseRiskPercent, e.cfg.InitialStopPercent)
	if sizing.Margin < margin {
		margin = sizing.Margin
	}
	if margin <= 0 {
		return Decision{}, RejectZeroSize
	}

	return e.decision(ActionOpen, ev, side, res, func(d *Decision) {
		d.Margin = margin
		d.Size = margin * e.cfg.Leverage / ev.Price
	}), ""
}

// exit checks liquidation, stop, target and reversal in that order
func (e *Evaluator) exit(ev swing.Event, res confluence.Result, pos *pyramid.Position) (Decision, bool) {
	exitAt := func(price float64, reason pyramid.ExitReason) (Decision, bool) {
		return e.decision(ActionClose, ev, pos.Side, res, func(d *Decision) {
			d.Price = price
			d.ExitReason = reason
		}), true
	}

	if !pos.StopClearOfLiquidation() && risk.StopHit(pos.Side, pos.LiquidationPrice, ev.Price) {
		return exitAt(pos.LiquidationPrice, pyramid.ExitLiquidation)
	}
	if risk.StopHit(pos.Side, pos.StopPrice, ev.Price) {
		return exitAt(pos.StopPrice, pyramid.ExitStop)
	}
	tp := pos.TakeProfitPrice(e.cfg.TakeProfitPercent)
	if (pos.Side == pyramid.Long && ev.Price >= tp) || (pos.Side == pyramid.Short && ev.Price <= tp) {
		return exitAt(tp, pyramid.ExitTarget)
	}
	if pyramid.SideForSwing(ev.Side) != pos.Side && res.Score >= e.cfg.MinConfluenceToEnter {
		return exitAt(ev.Price, pyramid.ExitSignalReversal)
	}
	return Decision{}, false
}

func (e *Evaluator) add(ev swing.Event, res confluence.Result, pos *pyramid.Position, acct Account) (Decision, bool) {
	existing := len(pos.Levels)
	if existing >= e.cfg.MaxPyramidLevels {
		return Decision{}, false
	}
	if res.Score < e.cfg.MinConfluenceToAdd || res.Score < e.cfg.ThresholdForLevel(existing) {
		return Decision{}, false
	}
	if risk.FavourableMovePercent(pos.Side, pos.AvgEntryPrice, ev.Price) < AddMinMovePercent {
		return Decision{}, false
	}

	margin := e.riskAmount * e.cfg.MultiplierForLevel(existing)
	if margin > AddMaxCapitalFraction*acct.Capital || margin > acct.Available {
		return Decision{}, false
	}

	return e.decision(ActionAdd, ev, pos.Side, res, func(d *Decision) {
		d.Margin = margin
		d.Size = margin * e.cfg.Leverage / ev.Price
	}), true
}

func (e *Evaluator) trail(ev swing.Event, res confluence.Result, pos *pyramid.Position) (Decision, bool) {
	if !risk.InProfitBeyond(pos.Side, pos.AvgEntryPrice, ev.Price, TrailProfitBufferPercent) {
		return Decision{}, false
	}
	candidate := risk.TrailCandidate(pos.Side, ev.Price, e.cfg.TrailingStopPercent)
	if !risk.IsTighter(pos.Side, pos.StopPrice, candidate) {
		return Decision{}, false
	}
	return e.decision(ActionTrail, ev, pos.Side, res, func(d *Decision) {
		d.StopPrice = candidate
	}), true
}

func (e *Evaluator) decision(action Action, ev swing.Event, side pyramid.Side, res confluence.Result, fill func(*Decision)) Decision {
	d := Decision{
		Action:     action,
		Symbol:     ev.Symbol,
		Side:       side,
		Price:      ev.Price,
		Confluence: res.Score,
		Factors:    append([]string(nil), res.Factors...),
		EventID:    ev.ID,
		Time:       ev.OpenTime,
	}
	fill(&d)
	return d
}
