package pyramid

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"pyramid-trading-bot/internal/risk"
)

// MaxProfitMultiple bounds reported net PnL at this multiple of total margin
const MaxProfitMultiple = 50

var (
	ErrPositionExists = errors.New("position already open")
	ErrNoPosition     = errors.New("no open position")
	ErrMaxLevels      = errors.New("max pyramid levels reached")
	ErrInvalidPrice   = errors.New("invalid price")
)

// State of a symbol's machine
type State string

const (
	StateFlat State = "FLAT"
	StateOpen State = "OPEN"
)

// ExitReason records why a position closed
type ExitReason string

const (
	ExitStop           ExitReason = "stop"
	ExitTarget         ExitReason = "target"
	ExitSignalReversal ExitReason = "signal_reversal"
	ExitLiquidation    ExitReason = "liquidation"
	ExitEmergency      ExitReason = "emergency"
)

// ClosedTrade is emitted exactly once per position close
type ClosedTrade struct {
	ID             string     `json:"id"`
	Symbol         string     `json:"symbol"`
	Side           Side       `json:"side"`
	LevelCount     int        `json:"level_count"`
	AvgEntryPrice  float64    `json:"avg_entry_price"`
	ExitPrice      float64    `json:"exit_price"`
	TotalMargin    float64    `json:"total_margin"`
	TotalSize      float64    `json:"total_size"`
	Leverage       float64    `json:"leverage"`
	EntryTime      time.Time  `json:"entry_time"`
	ExitTime       time.Time  `json:"exit_time"`
	GrossPnL       float64    `json:"gross_pnl"`
	PnL            float64    `json:"pnl"`
	PnLPercent     float64    `json:"pnl_percent"`
	FundingPaid    float64    `json:"funding_paid"`
	FeesPaid       float64    `json:"fees_paid"`
	PeakConfluence int        `json:"peak_confluence"`
	ExitReason     ExitReason `json:"exit_reason"`
}

// IsWin reports whether the trade made money after costs
func (t ClosedTrade) IsWin() bool { return t.PnL > 0 }

// IsLoss reports whether the trade lost money after costs. A trade with
// zero net pnl is neither a win nor a loss.
func (t ClosedTrade) IsLoss() bool { return t.PnL < 0 }

// HoldDuration is the time between first entry and exit
func (t ClosedTrade) HoldDuration() time.Duration { return t.ExitTime.Sub(t.EntryTime) }

// Machine holds zero or one position for a symbol. It is not safe for
// concurrent use; callers serialize access per symbol.
type Machine struct {
	symbol string
	cfg    Config
	market MarketParams
	pos    *Position
}

// NewMachine validates the configuration and returns a flat machine
func NewMachine(symbol string, cfg Config, market MarketParams) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := market.Validate(cfg.Leverage); err != nil {
		return nil, err
	}
	return &Machine{symbol: symbol, cfg: cfg.Clone(), market: market}, nil
}

// Symbol returns the symbol the machine trades
func (m *Machine) Symbol() string { return m.symbol }

// Config returns a copy of the pyramid configuration
func (m *Machine) Config() Config { return m.cfg.Clone() }

// Market returns the fee, funding and margin parameters
func (m *Machine) Market() MarketParams { return m.market }

// State returns FLAT or OPEN
func (m *Machine) State() State {
	if m.pos == nil {
		return StateFlat
	}
	return StateOpen
}

// Position returns a copy of the open position, or nil when flat
func (m *Machine) Position() *Position {
	return m.pos.Clone()
}

// Open creates a position from its first level
func (m *Machine) Open(side Side, first Level) error {
	if m.pos != nil {
		return ErrPositionExists
	}
	p, err := NewPosition(m.symbol, side, first, m.cfg, m.market)
	if err != nil {
		return err
	}
	m.pos = p
	return nil
}

// AddLevel appends a scale-in, recomputes aggregates and liquidation, then
// tightens the stop by the trailing percent from the new entry price. If the
// new liquidation price overtakes the stop, the stop is tightened to the
// liquidation guard.
func (m *Machine) AddLevel(l Level) error {
	if m.pos == nil {
		return ErrNoPosition
	}
	if len(m.pos.Levels) >= m.cfg.MaxPyramidLevels {
		return fmt.Errorf("%w: %d", ErrMaxLevels, m.cfg.MaxPyramidLevels)
	}
	if err := l.validate(); err != nil {
		return err
	}

	p := m.pos
	p.appendLevel(l, m.cfg.Leverage, m.market.MaintenanceMarginRate)

	candidate := risk.TrailCandidate(p.Side, l.EntryPrice, m.cfg.TrailingStopPercent)
	p.StopPrice = risk.Tighten(p.Side, p.StopPrice, candidate)

	if !p.StopClearOfLiquidation() {
		guard := InitialStop(p.Side, p.AvgEntryPrice, p.LiquidationPrice, m.cfg.InitialStopPercent)
		p.StopPrice = risk.Tighten(p.Side, p.StopPrice, guard)
	}
	return nil
}

// Trail replaces the stop only if stop is strictly tighter. It reports
// whether the stop moved.
func (m *Machine) Trail(stop float64) (bool, error) {
	if m.pos == nil {
		return false, ErrNoPosition
	}
	if !finite(stop) || stop <= 0 {
		return false, fmt.Errorf("%w: stop %v", ErrInvalidPrice, stop)
	}
	if !risk.IsTighter(m.pos.Side, m.pos.StopPrice, stop) {
		return false, nil
	}
	m.pos.StopPrice = stop
	return true, nil
}

// ObserveConfluence records a score seen while the position is open
func (m *Machine) ObserveConfluence(score int) {
	if m.pos != nil && score > m.pos.PeakConfluence {
		m.pos.PeakConfluence = score
	}
}

// Close realizes the position at exitPrice and returns the machine to FLAT
func (m *Machine) Close(exitPrice float64, reason ExitReason, at time.Time) (ClosedTrade, error) {
	if m.pos == nil {
		return ClosedTrade{}, ErrNoPosition
	}
	if !finite(exitPrice) || exitPrice <= 0 {
		return ClosedTrade{}, fmt.Errorf("%w: exit %v", ErrInvalidPrice, exitPrice)
	}

	trade := Settle(m.pos, exitPrice, reason, at, m.market)
	m.pos = nil
	return trade, nil
}

// Restore loads a previously persisted position into a flat machine
func (m *Machine) Restore(p *Position) error {
	if m.pos != nil {
		return ErrPositionExists
	}
	if p == nil || len(p.Levels) == 0 {
		return ErrNoPosition
	}
	if p.Symbol != m.symbol {
		return fmt.Errorf("restore %s into %s machine", p.Symbol, m.symbol)
	}
	if !p.StopClearOfLiquidation() {
		return ErrUnsafeStop
	}
	m.pos = p.Clone()
	return nil
}

// Settle computes the closed trade for p exiting at exitPrice
func Settle(p *Position, exitPrice float64, reason ExitReason, at time.Time, market MarketParams) ClosedTrade {
	move := priceMove(p.Side, p.AvgEntryPrice, exitPrice)
	gross := p.TotalMargin * p.Leverage * move

	holdHours := at.Sub(p.OpenedAt).Hours()
	if holdHours < 0 {
		holdHours = 0
	}
	periods := math.Floor(holdHours / market.FundingIntervalHours)
	funding := p.TotalMargin * market.FundingRateAvg * periods
	fees := p.TotalMargin * market.FeeRate * 2

	net := clamp(gross-funding-fees, -p.TotalMargin, p.TotalMargin*MaxProfitMultiple)

	return ClosedTrade{
		ID:             tradeID(p, at, reason),
		Symbol:         p.Symbol,
		Side:           p.Side,
		LevelCount:     len(p.Levels),
		AvgEntryPrice:  p.AvgEntryPrice,
		ExitPrice:      exitPrice,
		TotalMargin:    p.TotalMargin,
		TotalSize:      p.TotalSize,
		Leverage:       p.Leverage,
		EntryTime:      p.OpenedAt,
		ExitTime:       at,
		GrossPnL:       gross,
		PnL:            net,
		PnLPercent:     net / p.TotalMargin * 100,
		FundingPaid:    funding,
		FeesPaid:       fees,
		PeakConfluence: p.PeakConfluence,
		ExitReason:     reason,
	}
}

// tradeID is a name-based UUID so replays produce identical ledgers
func tradeID(p *Position, exit time.Time, reason ExitReason) string {
	name := fmt.Sprintf("%s|%s|%d|%d|%d|%s", p.Symbol, p.Side, p.OpenedAt.UnixNano(), exit.UnixNano(), len(p.Levels), reason)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

func clamp(x, lo, hi float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
