package swing

import (
	"encoding/json"
	"math"
	"testing"
	"time"
)

func TestValueConstructors(t *testing.T) {
	if v := Number(math.NaN()); !v.IsAbsent() {
		t.Errorf("NaN should be absent, got kind %s", v.Kind())
	}
	if v := Number(math.Inf(1)); !v.IsAbsent() {
		t.Errorf("+Inf should be absent, got kind %s", v.Kind())
	}
	if v := Enum(""); !v.IsAbsent() {
		t.Error("empty enum should be absent")
	}

	n := Number(22.5)
	if f, ok := n.AsNumber(); !ok || f != 22.5 {
		t.Errorf("Expected 22.5, got %v (ok=%v)", f, ok)
	}
	if _, ok := n.AsBool(); ok {
		t.Error("number must not read as bool")
	}
	if _, ok := Bool(true).AsNumber(); ok {
		t.Error("bool must not read as number")
	}
}

func TestSnapshotUnmarshal(t *testing.T) {
	raw := `{"rsi14": 22, "london_open": true, "moon_phase": "full", "ema6_above_ema50": null, "custom_thing": 4, "nested": {"a": 1}}`

	var s Snapshot
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if f, ok := s.Number(RSI14); !ok || f != 22 {
		t.Errorf("Expected rsi14=22, got %v (ok=%v)", f, ok)
	}
	if !s.Flag(LondonOpen) {
		t.Error("Expected london_open true")
	}
	if e, ok := s.Enum(MoonPhase); !ok || e != "full" {
		t.Errorf("Expected moon_phase=full, got %q", e)
	}
	if !s.Get(EMA6AboveEMA50).IsAbsent() {
		t.Error("null should decode as absent")
	}
	if !s.Get("nested").IsAbsent() {
		t.Error("object should decode as absent")
	}
	if got := len(s.Unknown()); got != 2 {
		t.Errorf("Expected 2 unknown indicators, got %d", got)
	}
}

func TestSnapshotMarshalRoundTrip(t *testing.T) {
	s := Snapshot{RSI14: Number(30), NYOpen: Bool(false), TrendRegime: Enum("range"), Weekend: Value{}}
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var back Snapshot
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	for k, v := range s {
		if back.Get(k) != v {
			t.Errorf("%s: expected %v, got %v", k, v, back.Get(k))
		}
	}
}

func TestSnapshotNilSafe(t *testing.T) {
	var s Snapshot
	if !s.Get(RSI14).IsAbsent() {
		t.Error("nil snapshot should read absent")
	}
	if s.Flag(LondonOpen) {
		t.Error("nil snapshot flag should be false")
	}
	if s.Clone() != nil {
		t.Error("clone of nil should be nil")
	}
}

func TestIndicatorKinds(t *testing.T) {
	tests := []struct {
		ind  Indicator
		kind Kind
	}{
		{RSI14, KindNumber},
		{LondonOpen, KindBool},
		{MoonPhase, KindEnum},
		{FundingRate, KindNumber},
	}
	for _, tt := range tests {
		t.Run(string(tt.ind), func(t *testing.T) {
			if !tt.ind.Known() {
				t.Fatalf("%s should be known", tt.ind)
			}
			if tt.ind.ExpectedKind() != tt.kind {
				t.Errorf("Expected %s, got %s", tt.kind, tt.ind.ExpectedKind())
			}
		})
	}
	if Indicator("bogus").Known() {
		t.Error("bogus indicator should be unknown")
	}
}

func TestEventValid(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name  string
		event Event
		want  bool
	}{
		{"valid low", Event{Side: Low, Price: 100, OpenTime: now}, true},
		{"valid high", Event{Side: High, Price: 0.5, OpenTime: now}, true},
		{"zero price", Event{Side: Low, Price: 0}, false},
		{"negative price", Event{Side: High, Price: -1}, false},
		{"NaN price", Event{Side: Low, Price: math.NaN()}, false},
		{"Inf price", Event{Side: Low, Price: math.Inf(1)}, false},
		{"unknown side", Event{Side: "middle", Price: 100}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.event.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSortByOpenTimeStable(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	in := []Event{
		{ID: "c", OpenTime: base.Add(2 * time.Hour)},
		{ID: "a1", OpenTime: base},
		{ID: "b", OpenTime: base.Add(time.Hour)},
		{ID: "a2", OpenTime: base},
	}

	out := SortByOpenTime(in)
	want := []string{"a1", "a2", "b", "c"}
	for i, id := range want {
		if out[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, out[i].ID)
		}
	}
	if in[0].ID != "c" {
		t.Error("input slice must not be reordered")
	}
}
