// Package swing holds the featurized swing events consumed by the position engine.
package swing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// Kind tags the variant held by a Value
type Kind uint8

const (
	KindAbsent Kind = iota
	KindNumber
	KindBool
	KindEnum
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindEnum:
		return "enum"
	default:
		return "absent"
	}
}

// Value is a single indicator reading. The zero Value is absent.
type Value struct {
	kind Kind
	num  float64
	flag bool
	enum string
}

// Number returns a numeric value. Non-finite inputs yield an absent value.
func Number(v float64) Value {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Value{}
	}
	return Value{kind: KindNumber, num: v}
}

// Bool returns a boolean value
func Bool(v bool) Value {
	return Value{kind: KindBool, flag: v}
}

// Enum returns an enumerated string value. Empty strings are absent.
func Enum(v string) Value {
	if v == "" {
		return Value{}
	}
	return Value{kind: KindEnum, enum: v}
}

// Kind reports which variant the value holds
func (v Value) Kind() Kind { return v.kind }

// IsAbsent reports whether the value carries nothing
func (v Value) IsAbsent() bool { return v.kind == KindAbsent }

// AsNumber returns the numeric reading, ok=false for any other kind
func (v Value) AsNumber() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.num, true
}

// AsBool returns the boolean reading, ok=false for any other kind
func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.flag, true
}

// AsEnum returns the enumerated reading, ok=false for any other kind
func (v Value) AsEnum() (string, bool) {
	if v.kind != KindEnum {
		return "", false
	}
	return v.enum, true
}

func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return fmt.Sprintf("%g", v.num)
	case KindBool:
		return fmt.Sprintf("%t", v.flag)
	case KindEnum:
		return v.enum
	default:
		return "<absent>"
	}
}

// MarshalJSON encodes the value as a plain JSON scalar, absent as null
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.flag)
	case KindEnum:
		return json.Marshal(v.enum)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts null, numbers, booleans and strings. Anything else
// (objects, arrays) decodes as absent rather than failing the whole event.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*v = Value{}
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	switch data[0] {
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return fmt.Errorf("invalid bool feature: %w", err)
		}
		*v = Bool(b)
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("invalid enum feature: %w", err)
		}
		*v = Enum(s)
	case '{', '[':
		// not a scalar
	default:
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("invalid numeric feature: %w", err)
		}
		*v = Number(f)
	}
	return nil
}

// Indicator names a feature the confluence catalogue knows how to read
type Indicator string

const (
	RSI14            Indicator = "rsi14"
	RSI7             Indicator = "rsi7"
	StochK           Indicator = "stoch_k"
	EMA6AboveEMA50   Indicator = "ema6_above_ema50"
	EMA50AboveEMA200 Indicator = "ema50_above_ema200"
	BelowLowerBB     Indicator = "below_lower_bb"
	AboveUpperBB     Indicator = "above_upper_bb"
	MACDCrossUp      Indicator = "macd_cross_up"
	MACDCrossDown    Indicator = "macd_cross_down"
	RSIDivergence    Indicator = "rsi_divergence"
	VolumeRatio      Indicator = "volume_ratio"
	ATRPercent       Indicator = "atr_percent"
	TrendRegime      Indicator = "trend_regime" // uptrend | downtrend | range
	LondonOpen       Indicator = "london_open"
	NYOpen           Indicator = "ny_open"
	AsiaOpen         Indicator = "asia_open"
	LondonNYOverlap  Indicator = "london_ny_overlap"
	MoonPhase        Indicator = "moon_phase" // new | full | first_quarter | last_quarter
	Weekend          Indicator = "weekend"
	MonthEnd         Indicator = "month_end"
	QuarterEnd       Indicator = "quarter_end"
	FundingRate      Indicator = "funding_rate" // fraction per funding interval
)

// Indicators lists every known indicator in catalogue order
var Indicators = []Indicator{
	RSI14, RSI7, StochK, EMA6AboveEMA50, EMA50AboveEMA200, BelowLowerBB, AboveUpperBB,
	MACDCrossUp, MACDCrossDown, RSIDivergence, VolumeRatio, ATRPercent, TrendRegime,
	LondonOpen, NYOpen, AsiaOpen, LondonNYOverlap, MoonPhase, Weekend, MonthEnd,
	QuarterEnd, FundingRate,
}

var knownIndicators = func() map[Indicator]Kind {
	m := map[Indicator]Kind{
		RSI14: KindNumber, RSI7: KindNumber, StochK: KindNumber,
		VolumeRatio: KindNumber, ATRPercent: KindNumber, FundingRate: KindNumber,
		TrendRegime: KindEnum, MoonPhase: KindEnum,
	}
	for _, ind := range Indicators {
		if _, ok := m[ind]; !ok {
			m[ind] = KindBool
		}
	}
	return m
}()

// Known reports whether the indicator is part of the closed set
func (i Indicator) Known() bool {
	_, ok := knownIndicators[i]
	return ok
}

// ExpectedKind returns the value kind the indicator is read as
func (i Indicator) ExpectedKind() Kind {
	return knownIndicators[i]
}

// Snapshot maps indicators to readings. It is treated as immutable once it
// is attached to an Event; use Clone before modifying a shared snapshot.
type Snapshot map[Indicator]Value

// Get returns the reading for an indicator, absent when missing
func (s Snapshot) Get(i Indicator) Value {
	if s == nil {
		return Value{}
	}
	return s[i]
}

// Number is a shorthand for Get(i).AsNumber()
func (s Snapshot) Number(i Indicator) (float64, bool) { return s.Get(i).AsNumber() }

// Flag returns true only when the indicator holds boolean true
func (s Snapshot) Flag(i Indicator) bool {
	b, ok := s.Get(i).AsBool()
	return ok && b
}

// Enum is a shorthand for Get(i).AsEnum()
func (s Snapshot) Enum(i Indicator) (string, bool) { return s.Get(i).AsEnum() }

// Clone returns an independent copy
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Unknown lists indicator names outside the closed set. They are kept for
// round-tripping but never scored.
func (s Snapshot) Unknown() []Indicator {
	var out []Indicator
	for k := range s {
		if !k.Known() {
			out = append(out, k)
		}
	}
	return out
}
