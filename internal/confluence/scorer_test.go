package confluence

import (
	"reflect"
	"testing"

	"pyramid-trading-bot/internal/swing"
)

func TestScoreExclusiveRSIChain(t *testing.T) {
	tests := []struct {
		name      string
		rsi       float64
		wantScore int
		wantLabel string
	}{
		{"deeply oversold", 22, 12, FactorRSI14Below25},
		{"oversold", 27, 8, FactorRSI14Below30},
		{"neutral", 50, 0, ""},
		{"overbought", 72, 8, FactorRSI14Above70},
		{"deeply overbought", 80, 12, FactorRSI14Above75},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Score(swing.Snapshot{swing.RSI14: swing.Number(tt.rsi)})
			if r.Score != tt.wantScore {
				t.Errorf("Expected score %d, got %d", tt.wantScore, r.Score)
			}
			if tt.wantLabel == "" {
				if len(r.Factors) != 0 {
					t.Errorf("Expected no factors, got %v", r.Factors)
				}
				return
			}
			if len(r.Factors) != 1 || r.Factors[0] != tt.wantLabel {
				t.Errorf("Expected only %q, got %v", tt.wantLabel, r.Factors)
			}
		})
	}
}

func TestScoreScenarioLongEntry(t *testing.T) {
	s := swing.Snapshot{
		swing.RSI14:          swing.Number(22),
		swing.EMA6AboveEMA50: swing.Bool(true),
		swing.LondonOpen:     swing.Bool(true),
	}
	r := Score(s)

	if r.Score != 24 {
		t.Errorf("Expected score 24, got %d", r.Score)
	}
	want := []string{FactorRSI14Below25, FactorEMA6AboveEMA50, FactorLondonOpen}
	if !reflect.DeepEqual(r.Factors, want) {
		t.Errorf("Expected factors %v, got %v", want, r.Factors)
	}
}

func TestScoreIgnoresWrongTypes(t *testing.T) {
	s := swing.Snapshot{
		swing.RSI14:        swing.Bool(true),
		swing.LondonOpen:   swing.Number(1),
		swing.MoonPhase:    swing.Bool(true),
		swing.VolumeRatio:  swing.Enum("high"),
		swing.BelowLowerBB: swing.Bool(false),
		"unknown":          swing.Bool(true),
	}
	r := Score(s)
	if r.Score != 0 || len(r.Factors) != 0 {
		t.Errorf("Expected empty result, got %+v", r)
	}
}

func TestScoreEmptyAndNil(t *testing.T) {
	if r := Score(nil); r.Score != 0 || r.Factors == nil {
		t.Errorf("nil snapshot: expected zero score and non-nil factors, got %+v", r)
	}
	if r := Score(swing.Snapshot{}); r.Score != 0 {
		t.Errorf("empty snapshot: expected 0, got %d", r.Score)
	}
}

func TestScoreIdempotent(t *testing.T) {
	s := swing.Snapshot{
		swing.RSI14:         swing.Number(18),
		swing.RSI7:          swing.Number(12),
		swing.StochK:        swing.Number(5),
		swing.BelowLowerBB:  swing.Bool(true),
		swing.VolumeRatio:   swing.Number(3.5),
		swing.MoonPhase:     swing.Enum("full"),
		swing.QuarterEnd:    swing.Bool(true),
		swing.MonthEnd:      swing.Bool(true),
		swing.RSIDivergence: swing.Bool(true),
	}
	first := Score(s)
	second := Score(s)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Score not idempotent: %+v vs %+v", first, second)
	}
	// quarter end and month end share a family
	if first.Has(FactorMonthEnd) {
		t.Error("month end must not fire alongside quarter end")
	}
	if !first.Has(FactorQuarterEnd) {
		t.Error("quarter end should fire")
	}
}

func TestScoreVolumeChain(t *testing.T) {
	tests := []struct {
		ratio float64
		want  int
	}{
		{1.5, 0},
		{2, 5},
		{2.9, 5},
		{3, 8},
		{10, 8},
	}
	for _, tt := range tests {
		r := Score(swing.Snapshot{swing.VolumeRatio: swing.Number(tt.ratio)})
		if r.Score != tt.want {
			t.Errorf("ratio %.1f: expected %d, got %d", tt.ratio, tt.want, r.Score)
		}
	}
}

func TestMaxScore(t *testing.T) {
	sc := NewScorer()
	all := swing.Snapshot{
		swing.RSI14:            swing.Number(10),
		swing.RSI7:             swing.Number(10),
		swing.StochK:           swing.Number(5),
		swing.EMA6AboveEMA50:   swing.Bool(true),
		swing.EMA50AboveEMA200: swing.Bool(true),
		swing.BelowLowerBB:     swing.Bool(true),
		swing.MACDCrossUp:      swing.Bool(true),
		swing.RSIDivergence:    swing.Bool(true),
		swing.VolumeRatio:      swing.Number(4),
		swing.ATRPercent:       swing.Number(5),
		swing.TrendRegime:      swing.Enum("range"),
		swing.LondonOpen:       swing.Bool(true),
		swing.NYOpen:           swing.Bool(true),
		swing.LondonNYOverlap:  swing.Bool(true),
		swing.AsiaOpen:         swing.Bool(true),
		swing.MoonPhase:        swing.Enum("new"),
		swing.QuarterEnd:       swing.Bool(true),
		swing.Weekend:          swing.Bool(true),
	}
	if got := sc.Score(all).Score; got != sc.MaxScore() {
		t.Errorf("Expected every family at its max (%d), got %d", sc.MaxScore(), got)
	}
}
