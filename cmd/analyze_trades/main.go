package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pyramid-trading-bot/config"
	"pyramid-trading-bot/internal/backtest"
	"pyramid-trading-bot/internal/database"
	"pyramid-trading-bot/internal/logging"
	"pyramid-trading-bot/internal/pyramid"
)

type symbolReport struct {
	Symbol string
	Stats  backtest.Stats
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("❌ Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	source := flag.String("source", database.SourceLive, "trade source: live or backtest (empty for both)")
	runID := flag.String("run", "", "restrict to one backtest run")
	symbol := flag.String("symbol", "", "restrict to one symbol")
	days := flag.Int("days", 0, "only trades closed in the last N days")
	capital := flag.Float64("capital", cfg.LiveConfig.StartingCapital, "capital the ROI and drawdown are measured against")
	flag.Parse()

	logger := logging.New(cfg.Logging("analyze_trades"))
	db, err := database.NewDB(cfg.Database(), logger)
	if err != nil {
		fmt.Printf("❌ Database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()
	repo := database.NewRepository(db)

	filter := database.TradeFilter{Symbol: *symbol, Source: *source, RunID: *runID}
	if *days > 0 {
		filter.Since = time.Now().AddDate(0, 0, -*days)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	stored, err := repo.ListClosedTrades(ctx, filter)
	if err != nil {
		fmt.Printf("❌ Failed to load trades: %v\n", err)
		os.Exit(1)
	}

	line := strings.Repeat("=", 80)
	fmt.Println(line)
	fmt.Println("📊 PYRAMID TRADE LEDGER ANALYSIS")
	fmt.Println(line)

	if len(stored) == 0 {
		fmt.Println("\n❌ No closed trades found")
		return
	}

	// the ledger is newest first; statistics want chronological order
	bySymbol := make(map[string][]pyramid.ClosedTrade)
	all := make([]pyramid.ClosedTrade, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		t := stored[i].ClosedTrade
		bySymbol[t.Symbol] = append(bySymbol[t.Symbol], t)
		all = append(all, t)
	}

	reports := make([]symbolReport, 0, len(bySymbol))
	for sym, trades := range bySymbol {
		reports = append(reports, symbolReport{Symbol: sym, Stats: aggregate(trades, *capital)})
	}
	sort.Slice(reports, func(i, j int) bool {
		return reports[i].Stats.NetProfit > reports[j].Stats.NetProfit
	})

	fmt.Println("┌──────────────┬────────┬─────────┬─────────┬──────────────┬──────────┬──────────┬────────┐")
	fmt.Println("│ Symbol       │ Trades │ Winners │ Losers  │ Net PnL      │ Win Rate │ PF       │ Depth  │")
	fmt.Println("├──────────────┼────────┼─────────┼─────────┼──────────────┼──────────┼──────────┼────────┤")
	for _, r := range reports {
		emoji := "🟢"
		if r.Stats.NetProfit < 0 {
			emoji = "🔴"
		}
		printRow(emoji+" "+truncate(r.Symbol, 10), r.Stats)
	}
	fmt.Println("├──────────────┼────────┼─────────┼─────────┼──────────────┼──────────┼──────────┼────────┤")
	total := aggregate(all, *capital)
	printRow("📊 TOTAL    ", total)
	fmt.Println("└──────────────┴────────┴─────────┴─────────┴──────────────┴──────────┴──────────┴────────┘")

	fmt.Printf("\n💸 Fees paid:      $%s\n", decimal.NewFromFloat(total.TotalFees).StringFixed(2))
	fmt.Printf("⏱️  Funding paid:   $%s\n", decimal.NewFromFloat(total.TotalFunding).StringFixed(2))
	fmt.Printf("📉 Max drawdown:   %s%%\n", decimal.NewFromFloat(total.MaxDrawdownPercent).StringFixed(2))
	fmt.Printf("📈 ROI:            %s%%\n", decimal.NewFromFloat(total.ROI).StringFixed(2))

	reasons := make([]string, 0, len(total.ExitsByReason))
	for reason, n := range total.ExitsByReason {
		reasons = append(reasons, fmt.Sprintf("%s=%d", reason, n))
	}
	sort.Strings(reasons)
	fmt.Printf("🚪 Exits:          %s\n", strings.Join(reasons, " "))
}

// aggregate rebuilds the capital curve from the trades in order
func aggregate(trades []pyramid.ClosedTrade, capital float64) backtest.Stats {
	curve := make([]backtest.EquityPoint, 0, len(trades))
	equity := capital
	for _, t := range trades {
		equity += t.PnL
		if equity < 0 {
			equity = 0
		}
		curve = append(curve, backtest.EquityPoint{Timestamp: t.ExitTime, Equity: equity})
	}
	return backtest.Aggregate(trades, curve, capital)
}

func printRow(label string, st backtest.Stats) {
	fmt.Printf("│ %-12s │ %6d │ %7d │ %7d │ %12s │ %7s%% │ %8s │ %6s │\n",
		label, st.TotalTrades, st.WinningTrades, st.LosingTrades,
		money(st.NetProfit),
		decimal.NewFromFloat(st.WinRate).StringFixed(1),
		decimal.NewFromFloat(st.ProfitFactor).StringFixed(2),
		decimal.NewFromFloat(st.AveragePyramidDepth).StringFixed(2))
}

func money(x float64) string {
	d := decimal.NewFromFloat(x).Round(2)
	if d.IsPositive() {
		return "+" + d.StringFixed(2)
	}
	return d.StringFixed(2)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
