// Package swingstore loads featurized swing events for replay.
package swingstore

import (
	"context"
	"time"

	"pyramid-trading-bot/internal/swing"
)

// Source yields swing events for a symbol in [from, to). Zero times leave
// the range open on that side.
type Source interface {
	Load(ctx context.Context, symbol string, from, to time.Time) ([]swing.Event, error)
}

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}

// Static serves events held in memory
type Static []swing.Event

// Load filters the held events by symbol and range
func (s Static) Load(ctx context.Context, symbol string, from, to time.Time) ([]swing.Event, error) {
	return Filter(s, symbol, from, to), nil
}
