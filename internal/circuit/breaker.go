package circuit

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// State of the entry gate
type State string

const (
	StateClosed   State = "closed"    // entries allowed
	StateOpen     State = "open"      // entries paused until cooldown ends
	StateHalfOpen State = "half_open" // one losing close re-opens
)

// Config holds the entry gate limits. Loss limits are percent of the
// capital held just before each close.
type Config struct {
	Enabled              bool    `json:"enabled"`
	MaxLossPerHour       float64 `json:"max_loss_per_hour"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`
	CooldownMinutes      int     `json:"cooldown_minutes"`
	MaxEntriesPerMinute  int     `json:"max_entries_per_minute"`
	MaxDailyLoss         float64 `json:"max_daily_loss"`
	MaxDailyEntries      int     `json:"max_daily_entries"`
}

// DefaultConfig returns the limits used when none are configured
func DefaultConfig() *Config {
	return &Config{
		Enabled:              true,
		MaxLossPerHour:       3.0,
		MaxConsecutiveLosses: 5,
		CooldownMinutes:      30,
		MaxEntriesPerMinute:  10,
		MaxDailyLoss:         5.0,
		MaxDailyEntries:      100,
	}
}

// Stats is the breaker's state as served to operators
type Stats struct {
	Enabled           bool       `json:"enabled"`
	State             State      `json:"state"`
	ConsecutiveLosses int        `json:"consecutive_losses"`
	HourlyLoss        float64    `json:"hourly_loss"`
	DailyLoss         float64    `json:"daily_loss"`
	EntriesLastMinute int        `json:"entries_last_minute"`
	DailyEntries      int        `json:"daily_entries"`
	TripReason        string     `json:"trip_reason,omitempty"`
	TrippedAt         *time.Time `json:"tripped_at,omitempty"`
}

// window accumulates losses and entries until it rolls over
type window struct {
	loss    float64
	entries int
	resetAt time.Time
	next    func(now time.Time) time.Time
}

func newWindow(now time.Time, next func(time.Time) time.Time) window {
	return window{resetAt: next(now), next: next}
}

func (w *window) roll(now time.Time) {
	if now.After(w.resetAt) {
		w.loss = 0
		w.entries = 0
		w.resetAt = w.next(now)
	}
}

func after(d time.Duration) func(time.Time) time.Time {
	return func(now time.Time) time.Time { return now.Add(d) }
}

// daily windows roll at UTC midnight
func nextMidnight(now time.Time) time.Time {
	return now.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
}

// Breaker pauses new pyramid entries after losing closes pile up. Adds,
// trails and exits are never gated.
type Breaker struct {
	mu        sync.Mutex
	cfg       Config
	state     State
	streak    int
	minute    window
	hour      window
	day       window
	trippedAt time.Time
	reason    string
	onTrip    func(reason string)
	onReset   func()
	now       func() time.Time
}

// New creates a breaker; a nil config uses DefaultConfig
func New(cfg *Config) *Breaker {
	return newBreaker(cfg, time.Now)
}

func newBreaker(cfg *Config, clock func() time.Time) *Breaker {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	now := clock()
	return &Breaker{
		cfg:    *cfg,
		state:  StateClosed,
		minute: newWindow(now, after(time.Minute)),
		hour:   newWindow(now, after(time.Hour)),
		day:    newWindow(now, nextMidnight),
		now:    clock,
	}
}

// OnTrip registers a callback run (in its own goroutine) when entries pause
func (b *Breaker) OnTrip(handler func(reason string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTrip = handler
}

// OnReset registers a callback run when entries resume
func (b *Breaker) OnReset(handler func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onReset = handler
}

// AllowEntry reports whether a new position may be opened, with the
// reason when it may not
func (b *Breaker) AllowEntry() (bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.cfg.Enabled {
		return true, ""
	}
	now := b.roll()

	if b.state == StateOpen {
		cooldown := time.Duration(b.cfg.CooldownMinutes) * time.Minute
		if left := cooldown - now.Sub(b.trippedAt); left > 0 {
			return false, fmt.Sprintf("entries paused for %v (%s)", left.Round(time.Second), b.reason)
		}
		// cooldown over: the next close decides
		b.state = StateHalfOpen
		b.streak = 0
	}

	if reason := b.lossLimit(); reason != "" {
		return false, reason
	}
	switch {
	case b.minute.entries >= b.cfg.MaxEntriesPerMinute:
		return false, fmt.Sprintf("entry rate %d/minute reached", b.minute.entries)
	case b.day.entries >= b.cfg.MaxDailyEntries:
		return false, fmt.Sprintf("daily entry limit %d reached", b.day.entries)
	}
	return true, ""
}

// RecordEntry counts an opened position against the entry limits
func (b *Breaker) RecordEntry() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.cfg.Enabled {
		return
	}
	b.roll()
	b.minute.entries++
	b.day.entries++
}

// RecordClose records a closed position's pnl against the capital held
// before it settled
func (b *Breaker) RecordClose(pnl, capitalBefore float64) {
	pct := pnl / capitalBefore * 100
	if capitalBefore <= 0 || math.IsNaN(pct) || math.IsInf(pct, 0) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.cfg.Enabled {
		return
	}
	b.roll()

	if pct < 0 {
		b.streak++
		b.hour.loss -= pct
		b.day.loss -= pct
	} else {
		b.streak = 0
		if b.state == StateHalfOpen {
			b.state = StateClosed
			b.notifyReset()
		}
	}

	if b.state == StateOpen {
		return
	}
	reason := b.lossLimit()
	if reason == "" && b.state == StateHalfOpen && b.streak > 0 {
		reason = "loss during recovery"
	}
	if reason != "" {
		b.state = StateOpen
		b.trippedAt = b.now()
		b.reason = reason
		if b.onTrip != nil {
			go b.onTrip(reason)
		}
	}
}

// Reset resumes entries immediately and clears the loss counters
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.streak = 0
	b.hour.loss = 0
	b.day.loss = 0
	b.reason = ""
	b.notifyReset()
}

// State returns the current gate state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a snapshot of the counters
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := Stats{
		Enabled:           b.cfg.Enabled,
		State:             b.state,
		ConsecutiveLosses: b.streak,
		HourlyLoss:        b.hour.loss,
		DailyLoss:         b.day.loss,
		EntriesLastMinute: b.minute.entries,
		DailyEntries:      b.day.entries,
		TripReason:        b.reason,
	}
	if !b.trippedAt.IsZero() {
		t := b.trippedAt
		st.TrippedAt = &t
	}
	return st
}

func (b *Breaker) lossLimit() string {
	switch {
	case b.streak >= b.cfg.MaxConsecutiveLosses:
		return fmt.Sprintf("%d consecutive losing closes", b.streak)
	case b.hour.loss >= b.cfg.MaxLossPerHour:
		return fmt.Sprintf("hourly loss %.2f%% of capital", b.hour.loss)
	case b.day.loss >= b.cfg.MaxDailyLoss:
		return fmt.Sprintf("daily loss %.2f%% of capital", b.day.loss)
	}
	return ""
}

func (b *Breaker) roll() time.Time {
	now := b.now()
	b.minute.roll(now)
	b.hour.roll(now)
	b.day.roll(now)
	return now
}

func (b *Breaker) notifyReset() {
	if b.onReset != nil {
		go b.onReset()
	}
}
