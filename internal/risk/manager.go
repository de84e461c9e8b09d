package risk

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInsufficientCapital is returned when margin cannot be reserved
var ErrInsufficientCapital = errors.New("insufficient available capital")

// Ledger is the capital account shared by every position of a run. It has
// its own lock, distinct from any per-symbol position state.
type Ledger struct {
	mu                 sync.RWMutex
	starting           float64
	capital            float64
	peak               float64
	maxDrawdown        float64
	maxDrawdownPercent float64
	locked             float64
	closedTrades       int
}

// LedgerState is a point-in-time copy of the ledger
type LedgerState struct {
	StartingCapital    float64 `json:"starting_capital"`
	Capital            float64 `json:"capital"`
	PeakCapital        float64 `json:"peak_capital"`
	MaxDrawdown        float64 `json:"max_drawdown"`
	MaxDrawdownPercent float64 `json:"max_drawdown_percent"`
	LockedMargin       float64 `json:"locked_margin"`
	Available          float64 `json:"available"`
	ClosedTrades       int     `json:"closed_trades"`
}

// NewLedger creates a ledger holding startingCapital. Negative input is
// treated as zero.
func NewLedger(startingCapital float64) *Ledger {
	if startingCapital < 0 {
		startingCapital = 0
	}
	return &Ledger{
		starting: startingCapital,
		capital:  startingCapital,
		peak:     startingCapital,
	}
}

// RiskAmount is the fixed per-trade risk for a run: starting capital times
// baseRiskPercent
func (l *Ledger) RiskAmount(baseRiskPercent float64) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.starting * baseRiskPercent / 100
}

// Capital returns the current capital
func (l *Ledger) Capital() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.capital
}

// Available returns capital not locked as margin
func (l *Ledger) Available() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.available()
}

func (l *Ledger) available() float64 {
	a := l.capital - l.locked
	if a < 0 {
		return 0
	}
	return a
}

// Reserve locks margin for an open position
func (l *Ledger) Reserve(margin float64) error {
	if margin <= 0 {
		return fmt.Errorf("invalid margin %.8f", margin)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if margin > l.available() {
		return fmt.Errorf("reserve %.2f with %.2f available: %w", margin, l.available(), ErrInsufficientCapital)
	}
	l.locked += margin
	return nil
}

// Release unlocks margin previously reserved
func (l *Ledger) Release(margin float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locked -= margin
	if l.locked < 1e-9 {
		l.locked = 0
	}
}

// Settle books the net PnL of a closed trade. Capital never goes below zero.
// It returns the capital after settlement.
func (l *Ledger) Settle(pnl float64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.capital += pnl
	if l.capital < 0 {
		l.capital = 0
	}
	l.closedTrades++

	if l.capital > l.peak {
		l.peak = l.capital
	}
	dd := l.peak - l.capital
	if dd > l.maxDrawdown {
		l.maxDrawdown = dd
	}
	if l.peak > 0 {
		if pct := dd / l.peak * 100; pct > l.maxDrawdownPercent {
			l.maxDrawdownPercent = pct
		}
	}
	return l.capital
}

// Snapshot returns a copy of the ledger state
func (l *Ledger) Snapshot() LedgerState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return LedgerState{
		StartingCapital:    l.starting,
		Capital:            l.capital,
		PeakCapital:        l.peak,
		MaxDrawdown:        l.maxDrawdown,
		MaxDrawdownPercent: l.maxDrawdownPercent,
		LockedMargin:       l.locked,
		Available:          l.available(),
		ClosedTrades:       l.closedTrades,
	}
}
