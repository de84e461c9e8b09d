package risk

import "math"

// Side is the direction of a leveraged position
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// Valid reports whether the side is long or short
func (s Side) Valid() bool { return s == Long || s == Short }

// Opposite returns the other side
func (s Side) Opposite() Side {
	if s == Long {
		return Short
	}
	return Long
}

// MarginCeilingFraction caps the margin of a single sizing at 90% of capital
const MarginCeilingFraction = 0.90

// LiquidationPrice returns the isolated-margin liquidation price of a
// position opened at avgEntry. Invalid inputs return 0; finite positive
// inputs with leverage >= 1 always yield a finite, non-negative price.
func LiquidationPrice(side Side, avgEntry, leverage, maintenanceMarginRate float64) float64 {
	if !finitePositive(avgEntry) || !(leverage >= 1) || math.IsInf(leverage, 0) ||
		math.IsNaN(maintenanceMarginRate) || math.IsInf(maintenanceMarginRate, 0) {
		return 0
	}

	var liq float64
	switch side {
	case Long:
		liq = avgEntry * (1 - 1/leverage + maintenanceMarginRate)
	case Short:
		liq = avgEntry * (1 + 1/leverage - maintenanceMarginRate)
	default:
		return 0
	}
	if liq < 0 {
		return 0
	}
	return liq
}

// LiquidationDistancePercent is the distance from entry to liquidation as a
// percent of entry
func LiquidationDistancePercent(entry, liquidation float64) float64 {
	if !finitePositive(entry) {
		return 0
	}
	return math.Abs(entry-liquidation) / entry * 100
}

// Sizing is the output of SafePositionSize
type Sizing struct {
	RiskAmount float64 `json:"risk_amount"`
	Notional   float64 `json:"notional"`
	Size       float64 `json:"size"`
	Margin     float64 `json:"margin"`
	Clamped    bool    `json:"clamped"`
}

// SafePositionSize sizes a position so that hitting the stop loses
// riskPercent of capital, then clamps margin to MarginCeilingFraction of
// capital. Any invalid input yields a zero Sizing.
func SafePositionSize(capital, entryPrice, leverage, riskPercent, stopLossPercent float64) Sizing {
	if !finitePositive(capital) || !finitePositive(entryPrice) || !(leverage >= 1) ||
		!finitePositive(riskPercent) || !finitePositive(stopLossPercent) || math.IsInf(leverage, 0) {
		return Sizing{}
	}

	riskAmount := capital * riskPercent / 100
	notional := riskAmount / (stopLossPercent / 100)
	s := Sizing{
		RiskAmount: riskAmount,
		Notional:   notional,
		Size:       notional / entryPrice,
		Margin:     notional / leverage,
	}

	ceiling := capital * MarginCeilingFraction
	if s.Margin > ceiling {
		s.Margin = ceiling
		s.Notional = ceiling * leverage
		s.Size = s.Notional / entryPrice
		s.Clamped = true
	}
	return s
}

func finitePositive(x float64) bool {
	return x > 0 && !math.IsInf(x, 0) && !math.IsNaN(x)
}
