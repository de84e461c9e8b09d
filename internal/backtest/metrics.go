package backtest

import (
	"math"

	"pyramid-trading-bot/internal/pyramid"
)

// MaxProfitFactor is reported when there are wins but no losses
const MaxProfitFactor = 99

// Stats aggregates a trade ledger. Every float is finite.
type Stats struct {
	TotalTrades         int                        `json:"total_trades"`
	WinningTrades       int                        `json:"winning_trades"`
	LosingTrades        int                        `json:"losing_trades"`
	BreakevenTrades     int                        `json:"breakeven_trades"`
	WinRate             float64                    `json:"win_rate"`
	TotalProfit         float64                    `json:"total_profit"`
	TotalLoss           float64                    `json:"total_loss"`
	NetProfit           float64                    `json:"net_profit"`
	AverageWin          float64                    `json:"average_win"`
	AverageLoss         float64                    `json:"average_loss"`
	ProfitFactor        float64                    `json:"profit_factor"`
	ROI                 float64                    `json:"roi"`
	MaxDrawdownPercent  float64                    `json:"max_drawdown_percent"`
	SharpeRatio         float64                    `json:"sharpe_ratio"`
	AveragePyramidDepth float64                    `json:"average_pyramid_depth"`
	LargestWin          float64                    `json:"largest_win"`
	LargestLoss         float64                    `json:"largest_loss"`
	TotalFees           float64                    `json:"total_fees"`
	TotalFunding        float64                    `json:"total_funding"`
	AverageHoldHours    float64                    `json:"average_hold_hours"`
	ExitsByReason       map[pyramid.ExitReason]int `json:"exits_by_reason"`
	TradesBySide        map[pyramid.Side]int       `json:"trades_by_side"`
}

// Aggregate computes statistics over closed trades and the capital curve.
// Final capital is the last curve point, or startingCapital if the curve
// is empty.
func Aggregate(trades []pyramid.ClosedTrade, curve []EquityPoint, startingCapital float64) Stats {
	st := Stats{
		TotalTrades:   len(trades),
		ExitsByReason: make(map[pyramid.ExitReason]int),
		TradesBySide:  make(map[pyramid.Side]int),
	}

	var depth, holdHours float64
	for _, t := range trades {
		switch {
		case t.IsWin():
			st.WinningTrades++
			st.TotalProfit += t.PnL
			st.LargestWin = math.Max(st.LargestWin, t.PnL)
		case t.IsLoss():
			st.LosingTrades++
			st.TotalLoss += math.Abs(t.PnL)
			st.LargestLoss = math.Min(st.LargestLoss, t.PnL)
		default:
			// counted in the win rate denominator only
			st.BreakevenTrades++
		}
		st.ExitsByReason[t.ExitReason]++
		st.TradesBySide[t.Side]++
		st.TotalFees += t.FeesPaid
		st.TotalFunding += t.FundingPaid
		depth += float64(t.LevelCount)
		holdHours += t.HoldDuration().Hours()
	}

	if st.TotalTrades > 0 {
		n := float64(st.TotalTrades)
		st.WinRate = float64(st.WinningTrades) / n * 100
		st.AveragePyramidDepth = depth / n
		st.AverageHoldHours = holdHours / n
	}
	if st.WinningTrades > 0 {
		st.AverageWin = st.TotalProfit / float64(st.WinningTrades)
	}
	if st.LosingTrades > 0 {
		st.AverageLoss = st.TotalLoss / float64(st.LosingTrades)
	}
	st.ProfitFactor = profitFactor(st.AverageWin, st.AverageLoss)

	finalCapital := startingCapital
	if len(curve) > 0 {
		finalCapital = curve[len(curve)-1].Equity
	}
	st.NetProfit = finalCapital - startingCapital
	if startingCapital > 0 {
		st.ROI = st.NetProfit / startingCapital * 100
	}
	st.MaxDrawdownPercent = maxDrawdownPercent(curve, startingCapital)
	st.SharpeRatio = sharpeRatio(trades)

	st.sanitize()
	return st
}

func profitFactor(avgWin, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgWin > 0 {
			return MaxProfitFactor
		}
		return 0
	}
	return math.Min(avgWin/avgLoss, MaxProfitFactor)
}

// maxDrawdownPercent walks the curve tracking the high-water mark
func maxDrawdownPercent(curve []EquityPoint, startingCapital float64) float64 {
	peak := startingCapital
	maxDD := 0.0
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - p.Equity) / peak * 100; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// sharpeRatio is mean over population standard deviation of per-trade
// percent returns, with a zero risk-free rate
func sharpeRatio(trades []pyramid.ClosedTrade) float64 {
	if len(trades) < 2 {
		return 0
	}
	var sum float64
	for _, t := range trades {
		sum += t.PnLPercent
	}
	mean := sum / float64(len(trades))

	var variance float64
	for _, t := range trades {
		d := t.PnLPercent - mean
		variance += d * d
	}
	stdDev := math.Sqrt(variance / float64(len(trades)))
	if stdDev == 0 {
		return 0
	}
	return mean / stdDev
}

func (st *Stats) sanitize() {
	for _, f := range []*float64{
		&st.WinRate, &st.TotalProfit, &st.TotalLoss, &st.NetProfit,
		&st.AverageWin, &st.AverageLoss, &st.ProfitFactor, &st.ROI,
		&st.MaxDrawdownPercent, &st.SharpeRatio, &st.AveragePyramidDepth,
		&st.LargestWin, &st.LargestLoss, &st.TotalFees, &st.TotalFunding,
		&st.AverageHoldHours,
	} {
		if math.IsNaN(*f) || math.IsInf(*f, 0) {
			*f = 0
		}
	}
}
