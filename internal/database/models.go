package database

import (
	"encoding/json"
	"time"

	"pyramid-trading-bot/internal/pyramid"
)

// Trade sources
const (
	SourceLive     = "live"
	SourceBacktest = "backtest"
)

// StoredTrade is a closed trade as persisted in pyramid_trades
type StoredTrade struct {
	pyramid.ClosedTrade
	RowID     int64     `json:"row_id"`
	Source    string    `json:"source"`
	RunID     string    `json:"run_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TradeFilter narrows ListClosedTrades. Zero fields are ignored.
type TradeFilter struct {
	Symbol string
	Source string
	RunID  string
	Since  time.Time
	Limit  int
}

// BacktestRun is the summary row of one simulated run
type BacktestRun struct {
	ID                 string          `json:"id"`
	Symbol             string          `json:"symbol"`
	FirstEvent         time.Time       `json:"first_event"`
	LastEvent          time.Time       `json:"last_event"`
	StartingCapital    float64         `json:"starting_capital"`
	FinalCapital       float64         `json:"final_capital"`
	PeakCapital        float64         `json:"peak_capital"`
	MaxDrawdown        float64         `json:"max_drawdown"`
	MaxDrawdownPercent float64         `json:"max_drawdown_percent"`
	TotalTrades        int             `json:"total_trades"`
	WinningTrades      int             `json:"winning_trades"`
	LosingTrades       int             `json:"losing_trades"`
	WinRate            float64         `json:"win_rate"`
	ProfitFactor       float64         `json:"profit_factor"`
	ROI                float64         `json:"roi"`
	SharpeRatio        float64         `json:"sharpe_ratio"`
	PositionOpen       bool            `json:"position_open"`
	Config             json.RawMessage `json:"config,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}
