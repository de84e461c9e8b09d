package swing

import (
	"math"
	"sort"
	"time"
)

// Side of a swing pivot
type Side string

const (
	High Side = "high"
	Low  Side = "low"
)

// Event is a detected local high or low with its feature snapshot
type Event struct {
	ID       string    `json:"id"`
	Symbol   string    `json:"symbol,omitempty"`
	Side     Side      `json:"side"`
	OpenTime time.Time `json:"open_time"`
	Price    float64   `json:"price"`
	Features Snapshot  `json:"features,omitempty"`
}

// Valid reports whether the event may be fed to the engine. Events with a
// non-finite or non-positive price, or an unknown side, must be skipped.
func (e Event) Valid() bool {
	if math.IsNaN(e.Price) || math.IsInf(e.Price, 0) || e.Price <= 0 {
		return false
	}
	return e.Side == High || e.Side == Low
}

// SortByOpenTime returns a copy of events ordered ascending by OpenTime.
// Ties keep their input order so replays stay deterministic.
func SortByOpenTime(events []Event) []Event {
	out := make([]Event, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OpenTime.Before(out[j].OpenTime)
	})
	return out
}
