package circuit

import (
	"math"
	"strings"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg *Config) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	return newBreaker(cfg, clock.now), clock
}

// pnl against 100 of capital reads directly as percent
const capital = 100.0

func TestTripsOnConsecutiveLosses(t *testing.T) {
	b, clock := newTestBreaker(&Config{
		Enabled:              true,
		MaxLossPerHour:       100,
		MaxConsecutiveLosses: 3,
		CooldownMinutes:      30,
		MaxEntriesPerMinute:  100,
		MaxDailyLoss:         100,
		MaxDailyEntries:      100,
	})

	b.RecordClose(-0.1, capital)
	b.RecordClose(-0.1, capital)
	if ok, _ := b.AllowEntry(); !ok {
		t.Fatal("Expected entries allowed after 2 losses")
	}
	b.RecordClose(-0.1, capital)
	if b.State() != StateOpen {
		t.Fatalf("Expected open, got %s", b.State())
	}
	ok, reason := b.AllowEntry()
	if ok || !strings.Contains(reason, "paused") {
		t.Errorf("Expected cooldown rejection, got %v %q", ok, reason)
	}

	clock.advance(31 * time.Minute)
	if ok, reason := b.AllowEntry(); !ok {
		t.Fatalf("Expected half-open trial after cooldown, got %q", reason)
	}
	if b.State() != StateHalfOpen {
		t.Errorf("Expected half_open, got %s", b.State())
	}

	b.RecordClose(0.2, capital)
	if b.State() != StateClosed {
		t.Errorf("Expected closed after a win, got %s", b.State())
	}
}

func TestLossDuringRecoveryTripsAgain(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConsecutiveLosses = 1
	b, clock := newTestBreaker(cfg)

	b.RecordClose(-0.5, capital)
	clock.advance(time.Duration(cfg.CooldownMinutes+1) * time.Minute)
	b.AllowEntry()
	b.RecordClose(-0.1, capital)
	if b.State() != StateOpen {
		t.Errorf("Expected re-trip, got %s", b.State())
	}
}

func TestLossLimits(t *testing.T) {
	tests := []struct {
		name   string
		losses []float64
		want   string
	}{
		{"hourly", []float64{-2, -1.5}, "hourly loss"},
		{"under limits", []float64{-1, -1}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _ := newTestBreaker(nil)
			for _, l := range tt.losses {
				b.RecordClose(l, capital)
			}
			ok, reason := b.AllowEntry()
			if tt.want == "" {
				if !ok {
					t.Errorf("Expected allowed, got %q", reason)
				}
				return
			}
			if ok || !strings.Contains(reason, "paused") {
				t.Errorf("Expected breaker open, got %v %q", ok, reason)
			}
			st := b.Stats()
			if !strings.Contains(st.TripReason, tt.want) || st.TrippedAt == nil {
				t.Errorf("Expected trip reason %q, got %+v", tt.want, st)
			}
		})
	}
}

func TestLossIsRelativeToCapital(t *testing.T) {
	b, _ := newTestBreaker(nil)
	b.RecordClose(-50, 200)
	if got := b.Stats().DailyLoss; got != 25 {
		t.Errorf("Expected 25%% daily loss, got %v", got)
	}
}

func TestWindowsRoll(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxLossPerHour = 10
	b, clock := newTestBreaker(cfg)
	b.RecordClose(-2, capital)
	clock.advance(61 * time.Minute)
	b.AllowEntry()
	st := b.Stats()
	if st.HourlyLoss != 0 {
		t.Errorf("Expected hourly loss reset, got %v", st.HourlyLoss)
	}
	if st.DailyLoss != 2 {
		t.Errorf("Expected daily loss kept, got %v", st.DailyLoss)
	}

	// 10:00 start, daily window rolls after midnight UTC
	clock.advance(13 * time.Hour)
	b.AllowEntry()
	if got := b.Stats().DailyLoss; got != 0 {
		t.Errorf("Expected daily loss reset after midnight, got %v", got)
	}
}

func TestEntryRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEntriesPerMinute = 2
	b, clock := newTestBreaker(cfg)
	b.RecordEntry()
	b.RecordEntry()
	if ok, _ := b.AllowEntry(); ok {
		t.Error("Expected rate limit")
	}
	clock.advance(2 * time.Minute)
	if ok, reason := b.AllowEntry(); !ok {
		t.Errorf("Expected limit reset, got %q", reason)
	}
	if got := b.Stats().DailyEntries; got != 2 {
		t.Errorf("Expected 2 daily entries, got %d", got)
	}
}

func TestDisabledAndInvalidInput(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	b, _ := newTestBreaker(cfg)
	for i := 0; i < 20; i++ {
		b.RecordClose(-5, capital)
	}
	if ok, _ := b.AllowEntry(); !ok {
		t.Error("disabled breaker must allow entries")
	}

	b, _ = newTestBreaker(nil)
	b.RecordClose(math.Inf(-1), capital)
	b.RecordClose(-1, 0)
	if b.State() != StateClosed || b.Stats().DailyLoss != 0 {
		t.Error("non-finite pnl and empty capital must be ignored")
	}
}

func TestReset(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConsecutiveLosses = 1
	b, _ := newTestBreaker(cfg)
	reset := make(chan struct{}, 1)
	b.OnReset(func() { reset <- struct{}{} })

	b.RecordClose(-0.1, capital)
	b.Reset()
	if ok, reason := b.AllowEntry(); !ok {
		t.Errorf("Expected entries after reset, got %q", reason)
	}
	select {
	case <-reset:
	case <-time.After(time.Second):
		t.Error("OnReset not called")
	}
}
