package signal

import (
	"fmt"

	"pyramid-trading-bot/internal/pyramid"
	"pyramid-trading-bot/internal/risk"
)

// ApplyDecision performs the transition d describes on m. A close returns
// the realized trade. A trail that is no longer tighter, for example after
// an add in the same event already moved the stop, is a no-op.
func ApplyDecision(m *pyramid.Machine, d Decision) (*pyramid.ClosedTrade, error) {
	switch d.Action {
	case ActionOpen:
		if err := m.Open(d.Side, d.Level()); err != nil {
			return nil, fmt.Errorf("open %s: %w", m.Symbol(), err)
		}
	case ActionAdd:
		if err := m.AddLevel(d.Level()); err != nil {
			return nil, fmt.Errorf("add level %s: %w", m.Symbol(), err)
		}
	case ActionTrail:
		if _, err := m.Trail(d.StopPrice); err != nil {
			return nil, fmt.Errorf("trail %s: %w", m.Symbol(), err)
		}
	case ActionClose:
		trade, err := m.Close(d.Price, d.ExitReason, d.Time)
		if err != nil {
			return nil, fmt.Errorf("close %s: %w", m.Symbol(), err)
		}
		return &trade, nil
	default:
		return nil, fmt.Errorf("unknown action %q", d.Action)
	}
	return nil, nil
}

// StillApplies reports whether d would change m. Drivers use it to skip
// sending a stale trail to the executor.
func StillApplies(m *pyramid.Machine, d Decision) bool {
	if d.Action != ActionTrail {
		return true
	}
	pos := m.Position()
	return pos != nil && risk.IsTighter(pos.Side, pos.StopPrice, d.StopPrice)
}
