package pyramid

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidConfig is returned when a run configuration cannot be used
var ErrInvalidConfig = errors.New("invalid pyramid config")

// Config is the immutable per-run trading configuration. The engine never
// fills in defaults; the config loader owns them.
type Config struct {
	Leverage                 float64   `json:"leverage"`
	BaseRiskPercent          float64   `json:"base_risk_percent"`
	MaxPyramidLevels         int       `json:"max_pyramid_levels"`
	ConfluenceThresholds     []int     `json:"confluence_thresholds"`
	SizeMultipliers          []float64 `json:"size_multipliers"`
	InitialStopPercent       float64   `json:"initial_stop_percent"`
	TrailingStopPercent      float64   `json:"trailing_stop_percent"`
	TakeProfitPercent        float64   `json:"take_profit_percent"`
	MinConfluenceToEnter     int       `json:"min_confluence_to_enter"`
	MinConfluenceToAdd       int       `json:"min_confluence_to_add"`
	FundingRateThreshold     float64   `json:"funding_rate_threshold"`
	LiquidationBufferPercent float64   `json:"liquidation_buffer_percent"`
}

// Validate rejects missing or out-of-range fields
func (c Config) Validate() error {
	switch {
	case !finite(c.Leverage) || c.Leverage < 1:
		return fmt.Errorf("%w: leverage must be >= 1, got %v", ErrInvalidConfig, c.Leverage)
	case !finite(c.BaseRiskPercent) || c.BaseRiskPercent <= 0 || c.BaseRiskPercent > 100:
		return fmt.Errorf("%w: base_risk_percent must be in (0, 100], got %v", ErrInvalidConfig, c.BaseRiskPercent)
	case c.MaxPyramidLevels < 1:
		return fmt.Errorf("%w: max_pyramid_levels must be >= 1, got %d", ErrInvalidConfig, c.MaxPyramidLevels)
	case len(c.ConfluenceThresholds) == 0:
		return fmt.Errorf("%w: confluence_thresholds is empty", ErrInvalidConfig)
	case len(c.SizeMultipliers) == 0:
		return fmt.Errorf("%w: size_multipliers is empty", ErrInvalidConfig)
	case !finite(c.InitialStopPercent) || c.InitialStopPercent <= 0 || c.InitialStopPercent >= 100:
		return fmt.Errorf("%w: initial_stop_percent must be in (0, 100), got %v", ErrInvalidConfig, c.InitialStopPercent)
	case !finite(c.TrailingStopPercent) || c.TrailingStopPercent <= 0 || c.TrailingStopPercent >= 100:
		return fmt.Errorf("%w: trailing_stop_percent must be in (0, 100), got %v", ErrInvalidConfig, c.TrailingStopPercent)
	case !finite(c.TakeProfitPercent) || c.TakeProfitPercent <= 0:
		return fmt.Errorf("%w: take_profit_percent must be > 0, got %v", ErrInvalidConfig, c.TakeProfitPercent)
	case c.MinConfluenceToEnter < 0 || c.MinConfluenceToAdd < 0:
		return fmt.Errorf("%w: confluence minimums must be >= 0", ErrInvalidConfig)
	case !finite(c.FundingRateThreshold) || c.FundingRateThreshold <= 0:
		return fmt.Errorf("%w: funding_rate_threshold must be > 0, got %v", ErrInvalidConfig, c.FundingRateThreshold)
	case !finite(c.LiquidationBufferPercent) || c.LiquidationBufferPercent < 0:
		return fmt.Errorf("%w: liquidation_buffer_percent must be >= 0, got %v", ErrInvalidConfig, c.LiquidationBufferPercent)
	}
	for i, m := range c.SizeMultipliers {
		if !finite(m) || m <= 0 {
			return fmt.Errorf("%w: size_multipliers[%d] must be > 0, got %v", ErrInvalidConfig, i, m)
		}
	}
	for i, th := range c.ConfluenceThresholds {
		if th < 0 {
			return fmt.Errorf("%w: confluence_thresholds[%d] must be >= 0, got %d", ErrInvalidConfig, i, th)
		}
	}
	return nil
}

// Clone returns a copy that shares no slices with c
func (c Config) Clone() Config {
	out := c
	out.ConfluenceThresholds = append([]int(nil), c.ConfluenceThresholds...)
	out.SizeMultipliers = append([]float64(nil), c.SizeMultipliers...)
	return out
}

// FallbackSizeMultiplier applies to levels beyond the multiplier table
const FallbackSizeMultiplier = 0.25

// ThresholdForLevel returns the confluence needed to add level index
// (0-based count of existing levels), falling back to the last entry
func (c Config) ThresholdForLevel(existing int) int {
	if existing < 0 {
		existing = 0
	}
	if existing >= len(c.ConfluenceThresholds) {
		return c.ConfluenceThresholds[len(c.ConfluenceThresholds)-1]
	}
	return c.ConfluenceThresholds[existing]
}

// MultiplierForLevel returns the size multiplier for a level index,
// falling back to FallbackSizeMultiplier
func (c Config) MultiplierForLevel(existing int) float64 {
	if existing < 0 || existing >= len(c.SizeMultipliers) {
		return FallbackSizeMultiplier
	}
	return c.SizeMultipliers[existing]
}

// MarketParams are the venue constants used for liquidation and cost math
type MarketParams struct {
	MaintenanceMarginRate float64 `json:"maintenance_margin_rate"`
	FeeRate               float64 `json:"fee_rate"`
	FundingRateAvg        float64 `json:"funding_rate_avg"`
	FundingIntervalHours  float64 `json:"funding_interval_hours"`
}

// Validate checks the market parameters against the leverage they will be
// used with. A maintenance margin at or above 1/leverage leaves no room for
// a stop before liquidation.
func (m MarketParams) Validate(leverage float64) error {
	switch {
	case !finite(m.MaintenanceMarginRate) || m.MaintenanceMarginRate < 0:
		return fmt.Errorf("%w: maintenance_margin_rate must be >= 0, got %v", ErrInvalidConfig, m.MaintenanceMarginRate)
	case leverage >= 1 && m.MaintenanceMarginRate >= 1/leverage:
		return fmt.Errorf("%w: maintenance_margin_rate %v leaves no margin at %vx", ErrInvalidConfig, m.MaintenanceMarginRate, leverage)
	case !finite(m.FeeRate) || m.FeeRate < 0:
		return fmt.Errorf("%w: fee_rate must be >= 0, got %v", ErrInvalidConfig, m.FeeRate)
	case !finite(m.FundingRateAvg):
		return fmt.Errorf("%w: funding_rate_avg must be finite", ErrInvalidConfig)
	case !finite(m.FundingIntervalHours) || m.FundingIntervalHours <= 0:
		return fmt.Errorf("%w: funding_interval_hours must be > 0, got %v", ErrInvalidConfig, m.FundingIntervalHours)
	}
	return nil
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
