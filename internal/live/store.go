package live

import (
	"context"

	"pyramid-trading-bot/internal/pyramid"
)

// PositionStore keeps the last known position per symbol so a restarted
// engine, or an operator, can reconcile against the exchange
type PositionStore interface {
	SavePosition(ctx context.Context, engineID string, pos *pyramid.Position) error
	LoadAllPositions(ctx context.Context, engineID string) (map[string]*pyramid.Position, error)
	DeletePosition(ctx context.Context, engineID, symbol string) error
}

// TradeSink records closed trades
type TradeSink interface {
	SaveClosedTrade(ctx context.Context, t pyramid.ClosedTrade) error
}
