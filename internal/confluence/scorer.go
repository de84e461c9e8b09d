package confluence

import (
	"pyramid-trading-bot/internal/swing"
)

// Result is the strength of the signals agreeing at a swing
type Result struct {
	Score   int      `json:"score"`
	Factors []string `json:"factors"`
}

// Has reports whether a factor label fired
func (r Result) Has(label string) bool {
	for _, f := range r.Factors {
		if f == label {
			return true
		}
	}
	return false
}

type rule struct {
	label  string
	weight int
	match  func(s swing.Snapshot) bool
}

// family is an exclusive chain: at most one rule fires, the first match wins.
// Rules are ordered from most to least extreme so one indicator is never
// counted twice.
type family struct {
	name  string
	rules []rule
}

// Scorer evaluates the fixed confluence catalogue. It has no mutable state.
type Scorer struct {
	families []family
}

// NewScorer creates a scorer over the default catalogue
func NewScorer() *Scorer {
	return &Scorer{families: catalogue}
}

// Score sums the weights of every fired predicate. Absent or wrongly typed
// readings never fire.
func (cs *Scorer) Score(s swing.Snapshot) Result {
	result := Result{Factors: make([]string, 0, 8)}
	for _, fam := range cs.families {
		for _, r := range fam.rules {
			if r.match(s) {
				result.Score += r.weight
				result.Factors = append(result.Factors, r.label)
				break
			}
		}
	}
	return result
}

// MaxScore is the best achievable score: the heaviest rule of each family
func (cs *Scorer) MaxScore() int {
	total := 0
	for _, fam := range cs.families {
		best := 0
		for _, r := range fam.rules {
			if r.weight > best {
				best = r.weight
			}
		}
		total += best
	}
	return total
}

var defaultScorer = NewScorer()

// Score runs the default catalogue
func Score(s swing.Snapshot) Result {
	return defaultScorer.Score(s)
}

func below(ind swing.Indicator, threshold float64) func(swing.Snapshot) bool {
	return func(s swing.Snapshot) bool {
		v, ok := s.Number(ind)
		return ok && v < threshold
	}
}

func above(ind swing.Indicator, threshold float64) func(swing.Snapshot) bool {
	return func(s swing.Snapshot) bool {
		v, ok := s.Number(ind)
		return ok && v > threshold
	}
}

func atLeast(ind swing.Indicator, threshold float64) func(swing.Snapshot) bool {
	return func(s swing.Snapshot) bool {
		v, ok := s.Number(ind)
		return ok && v >= threshold
	}
}

func flag(ind swing.Indicator) func(swing.Snapshot) bool {
	return func(s swing.Snapshot) bool {
		return s.Flag(ind)
	}
}

func enumIs(ind swing.Indicator, values ...string) func(swing.Snapshot) bool {
	return func(s swing.Snapshot) bool {
		v, ok := s.Enum(ind)
		if !ok {
			return false
		}
		for _, want := range values {
			if v == want {
				return true
			}
		}
		return false
	}
}

// Labels are part of the reported output; keep them stable.
const (
	FactorRSI14Below25      = "RSI14 < 25"
	FactorRSI14Below30      = "RSI14 < 30"
	FactorRSI14Above75      = "RSI14 > 75"
	FactorRSI14Above70      = "RSI14 > 70"
	FactorRSI7Below15       = "RSI7 < 15"
	FactorRSI7Above85       = "RSI7 > 85"
	FactorRSI7Below20       = "RSI7 < 20"
	FactorRSI7Above80       = "RSI7 > 80"
	FactorStochBelow10      = "Stoch %K < 10"
	FactorStochAbove90      = "Stoch %K > 90"
	FactorStochBelow20      = "Stoch %K < 20"
	FactorStochAbove80      = "Stoch %K > 80"
	FactorEMA6AboveEMA50    = "EMA6 > EMA50"
	FactorEMA50AboveEMA200  = "EMA50 > EMA200"
	FactorBelowLowerBB      = "Price below lower Bollinger band"
	FactorAboveUpperBB      = "Price above upper Bollinger band"
	FactorMACDCrossUp       = "MACD bullish cross"
	FactorMACDCrossDown     = "MACD bearish cross"
	FactorRSIDivergence     = "RSI divergence"
	FactorVolumeSpike3x     = "Volume >= 3x average"
	FactorVolumeSpike2x     = "Volume >= 2x average"
	FactorATRExpansion      = "ATR expansion"
	FactorRangeRegime       = "Range regime"
	FactorLondonOpen        = "London open"
	FactorNYOpen            = "New York open"
	FactorLondonNYOverlap   = "London/New York overlap"
	FactorAsiaOpen          = "Asia open"
	FactorFullMoon          = "Full moon"
	FactorNewMoon           = "New moon"
	FactorQuarterMoon       = "Quarter moon"
	FactorQuarterEnd        = "Quarter end"
	FactorMonthEnd          = "Month end"
	FactorWeekend           = "Weekend"
)

var catalogue = []family{
	{name: "rsi14", rules: []rule{
		{FactorRSI14Below25, 12, below(swing.RSI14, 25)},
		{FactorRSI14Above75, 12, above(swing.RSI14, 75)},
		{FactorRSI14Below30, 8, below(swing.RSI14, 30)},
		{FactorRSI14Above70, 8, above(swing.RSI14, 70)},
	}},
	{name: "rsi7", rules: []rule{
		{FactorRSI7Below15, 6, below(swing.RSI7, 15)},
		{FactorRSI7Above85, 6, above(swing.RSI7, 85)},
		{FactorRSI7Below20, 4, below(swing.RSI7, 20)},
		{FactorRSI7Above80, 4, above(swing.RSI7, 80)},
	}},
	{name: "stochastic", rules: []rule{
		{FactorStochBelow10, 6, below(swing.StochK, 10)},
		{FactorStochAbove90, 6, above(swing.StochK, 90)},
		{FactorStochBelow20, 4, below(swing.StochK, 20)},
		{FactorStochAbove80, 4, above(swing.StochK, 80)},
	}},
	{name: "ema_fast", rules: []rule{
		{FactorEMA6AboveEMA50, 7, flag(swing.EMA6AboveEMA50)},
	}},
	{name: "ema_slow", rules: []rule{
		{FactorEMA50AboveEMA200, 5, flag(swing.EMA50AboveEMA200)},
	}},
	{name: "bollinger", rules: []rule{
		{FactorBelowLowerBB, 10, flag(swing.BelowLowerBB)},
		{FactorAboveUpperBB, 10, flag(swing.AboveUpperBB)},
	}},
	{name: "macd", rules: []rule{
		{FactorMACDCrossUp, 6, flag(swing.MACDCrossUp)},
		{FactorMACDCrossDown, 6, flag(swing.MACDCrossDown)},
	}},
	{name: "divergence", rules: []rule{
		{FactorRSIDivergence, 9, flag(swing.RSIDivergence)},
	}},
	{name: "volume", rules: []rule{
		{FactorVolumeSpike3x, 8, atLeast(swing.VolumeRatio, 3)},
		{FactorVolumeSpike2x, 5, atLeast(swing.VolumeRatio, 2)},
	}},
	{name: "volatility", rules: []rule{
		{FactorATRExpansion, 4, atLeast(swing.ATRPercent, 3)},
	}},
	{name: "regime", rules: []rule{
		{FactorRangeRegime, 3, enumIs(swing.TrendRegime, "range")},
	}},
	{name: "london_open", rules: []rule{
		{FactorLondonOpen, 5, flag(swing.LondonOpen)},
	}},
	{name: "ny_open", rules: []rule{
		{FactorNYOpen, 5, flag(swing.NYOpen)},
	}},
	{name: "overlap", rules: []rule{
		{FactorLondonNYOverlap, 4, flag(swing.LondonNYOverlap)},
	}},
	{name: "asia_open", rules: []rule{
		{FactorAsiaOpen, 3, flag(swing.AsiaOpen)},
	}},
	{name: "lunar", rules: []rule{
		{FactorFullMoon, 4, enumIs(swing.MoonPhase, "full")},
		{FactorNewMoon, 4, enumIs(swing.MoonPhase, "new")},
		{FactorQuarterMoon, 2, enumIs(swing.MoonPhase, "first_quarter", "last_quarter")},
	}},
	{name: "period_end", rules: []rule{
		{FactorQuarterEnd, 4, flag(swing.QuarterEnd)},
		{FactorMonthEnd, 3, flag(swing.MonthEnd)},
	}},
	{name: "weekend", rules: []rule{
		{FactorWeekend, 2, flag(swing.Weekend)},
	}},
}
