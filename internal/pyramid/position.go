package pyramid

import (
	"errors"
	"fmt"
	"time"

	"pyramid-trading-bot/internal/risk"
	"pyramid-trading-bot/internal/swing"
)

// Side aliases risk.Side so callers need only one import
type Side = risk.Side

const (
	Long  = risk.Long
	Short = risk.Short
)

// SideForSwing maps a swing pivot to the position it suggests: a low is a
// long candidate, a high a short candidate
func SideForSwing(s swing.Side) Side {
	if s == swing.High {
		return Short
	}
	return Long
}

// LiquidationGuardFraction places the liquidation-derived stop candidate
// this far from liquidation toward entry
const LiquidationGuardFraction = 0.35

var (
	ErrUnsafeStop   = errors.New("stop does not sit between entry and liquidation")
	ErrInvalidLevel = errors.New("invalid pyramid level")
)

// Level is one scale-in entry. Levels are immutable once added.
type Level struct {
	Index      int       `json:"index"`
	EntryPrice float64   `json:"entry_price"`
	Size       float64   `json:"size"`
	Margin     float64   `json:"margin"`
	Time       time.Time `json:"time"`
	Confluence int       `json:"confluence"`
	Factors    []string  `json:"factors,omitempty"`
}

func (l Level) validate() error {
	if !finite(l.EntryPrice) || l.EntryPrice <= 0 {
		return fmt.Errorf("%w: entry price %v", ErrInvalidLevel, l.EntryPrice)
	}
	if !finite(l.Margin) || l.Margin <= 0 {
		return fmt.Errorf("%w: margin %v", ErrInvalidLevel, l.Margin)
	}
	if !finite(l.Size) || l.Size <= 0 {
		return fmt.Errorf("%w: size %v", ErrInvalidLevel, l.Size)
	}
	return nil
}

func (l Level) clone() Level {
	l.Factors = append([]string(nil), l.Factors...)
	return l
}

// Position is an open pyramided position for one symbol
type Position struct {
	Symbol           string    `json:"symbol"`
	Side             Side      `json:"side"`
	Levels           []Level   `json:"levels"`
	AvgEntryPrice    float64   `json:"avg_entry_price"`
	TotalSize        float64   `json:"total_size"`
	TotalMargin      float64   `json:"total_margin"`
	StopPrice        float64   `json:"stop_price"`
	LiquidationPrice float64   `json:"liquidation_price"`
	Leverage         float64   `json:"leverage"`
	OpenedAt         time.Time `json:"opened_at"`
	PeakConfluence   int       `json:"peak_confluence"`
}

// InitialStop returns the safer of the fixed-percent stop and the
// liquidation guard, which is the one nearer entry
func InitialStop(side Side, entry, liquidation, stopPercent float64) float64 {
	fixed := risk.TrailCandidate(side, entry, stopPercent)
	var guard float64
	if side == Short {
		guard = liquidation - LiquidationGuardFraction*(liquidation-entry)
		if fixed < guard {
			return fixed
		}
		return guard
	}
	guard = liquidation + LiquidationGuardFraction*(entry-liquidation)
	if fixed > guard {
		return fixed
	}
	return guard
}

// NewPosition opens a position with a single level. Construction fails
// unless the stop lies strictly between liquidation and entry.
func NewPosition(symbol string, side Side, first Level, cfg Config, market MarketParams) (*Position, error) {
	if !side.Valid() {
		return nil, fmt.Errorf("unknown side %q", side)
	}
	if err := first.validate(); err != nil {
		return nil, err
	}

	first = first.clone()
	first.Index = 1
	liq := risk.LiquidationPrice(side, first.EntryPrice, cfg.Leverage, market.MaintenanceMarginRate)
	stop := InitialStop(side, first.EntryPrice, liq, cfg.InitialStopPercent)

	p := &Position{
		Symbol:           symbol,
		Side:             side,
		Levels:           []Level{first},
		AvgEntryPrice:    first.EntryPrice,
		TotalSize:        first.Size,
		TotalMargin:      first.Margin,
		StopPrice:        stop,
		LiquidationPrice: liq,
		Leverage:         cfg.Leverage,
		OpenedAt:         first.Time,
		PeakConfluence:   first.Confluence,
	}
	if !p.stopBetween(first.EntryPrice) {
		return nil, fmt.Errorf("%w: entry %.8f stop %.8f liquidation %.8f", ErrUnsafeStop, first.EntryPrice, stop, liq)
	}
	return p, nil
}

func (p *Position) stopBetween(entry float64) bool {
	if p.Side == Short {
		return entry < p.StopPrice && p.StopPrice < p.LiquidationPrice
	}
	return p.LiquidationPrice < p.StopPrice && p.StopPrice < entry
}

// StopClearOfLiquidation reports whether the stop triggers before the
// liquidation price can be reached
func (p *Position) StopClearOfLiquidation() bool {
	if p.Side == Short {
		return p.StopPrice < p.LiquidationPrice
	}
	return p.StopPrice > p.LiquidationPrice
}

// TakeProfitPrice is avg entry moved takeProfitPercent in the position's favour
func (p *Position) TakeProfitPrice(takeProfitPercent float64) float64 {
	if p.Side == Short {
		return p.AvgEntryPrice * (1 - takeProfitPercent/100)
	}
	return p.AvgEntryPrice * (1 + takeProfitPercent/100)
}

// LevelCount is the number of scale-ins including the first entry
func (p *Position) LevelCount() int { return len(p.Levels) }

// appendLevel adds a level and recomputes aggregates. The stop is left to
// the caller.
func (p *Position) appendLevel(l Level, leverage, mmr float64) {
	l = l.clone()
	l.Index = len(p.Levels) + 1
	p.Levels = append(p.Levels, l)

	var weighted, margin, size float64
	for _, lv := range p.Levels {
		weighted += lv.EntryPrice * lv.Margin
		margin += lv.Margin
		size += lv.Size
	}
	p.TotalMargin = margin
	p.TotalSize = size
	p.AvgEntryPrice = weighted / margin
	p.LiquidationPrice = risk.LiquidationPrice(p.Side, p.AvgEntryPrice, leverage, mmr)
	if l.Confluence > p.PeakConfluence {
		p.PeakConfluence = l.Confluence
	}
}

// Clone returns a deep copy
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	out := *p
	out.Levels = make([]Level, len(p.Levels))
	for i, l := range p.Levels {
		out.Levels[i] = l.clone()
	}
	return &out
}

// UnrealizedPnL is the gross PnL if closed at price, before costs
func (p *Position) UnrealizedPnL(price float64) float64 {
	if p.AvgEntryPrice <= 0 {
		return 0
	}
	return p.TotalMargin * p.Leverage * priceMove(p.Side, p.AvgEntryPrice, price)
}

func priceMove(side Side, avgEntry, exit float64) float64 {
	if side == Short {
		return (avgEntry - exit) / avgEntry
	}
	return (exit - avgEntry) / avgEntry
}
