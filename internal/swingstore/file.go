package swingstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"pyramid-trading-bot/internal/swing"
)

// FileSource reads a JSON array of swing events from disk
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Load reads the whole file. Events without a symbol are attributed to the
// requested symbol; events for other symbols are dropped.
func (fs *FileSource) Load(ctx context.Context, symbol string, from, to time.Time) ([]swing.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(fs.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read swing file: %w", err)
	}
	events, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fs.path, err)
	}
	return Filter(events, symbol, from, to), nil
}

// Decode parses a JSON array of events
func Decode(data []byte) ([]swing.Event, error) {
	var events []swing.Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("failed to decode swing events: %w", err)
	}
	return events, nil
}

// Filter keeps events for symbol inside [from, to) in input order
func Filter(events []swing.Event, symbol string, from, to time.Time) []swing.Event {
	out := make([]swing.Event, 0, len(events))
	for _, ev := range events {
		if ev.Symbol == "" {
			ev.Symbol = symbol
		}
		if symbol != "" && ev.Symbol != symbol {
			continue
		}
		if !inRange(ev.OpenTime, from, to) {
			continue
		}
		out = append(out, ev)
	}
	return out
}
