package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"pyramid-trading-bot/config"
	"pyramid-trading-bot/internal/backtest"
	"pyramid-trading-bot/internal/database"
	"pyramid-trading-bot/internal/logging"
	"pyramid-trading-bot/internal/swingstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	bt := cfg.BacktestConfig
	symbol := flag.String("symbol", bt.Symbol, "symbol to replay")
	source := flag.String("source", bt.Source, "swing source: file or clickhouse")
	eventsFile := flag.String("events", bt.EventsFile, "JSON swing events file (file source)")
	from := flag.String("from", "", "first day to include, YYYY-MM-DD")
	to := flag.String("to", "", "day to stop before, YYYY-MM-DD")
	capital := flag.Float64("capital", bt.StartingCapital, "starting capital")
	save := flag.Bool("save", bt.SaveRuns, "save the run to PostgreSQL")
	asJSON := flag.Bool("json", false, "print the full report as JSON")
	showTrades := flag.Bool("trades", false, "list every closed trade")
	flag.Parse()

	logger := logging.New(cfg.Logging("backtest"))

	start, err := parseDay(*from)
	if err != nil {
		fail("invalid -from: %v", err)
	}
	end, err := parseDay(*to)
	if err != nil {
		fail("invalid -to: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var src swingstore.Source
	switch *source {
	case "file", "":
		if *eventsFile == "" {
			fail("-events is required for the file source")
		}
		src = swingstore.NewFileSource(*eventsFile)
	case "clickhouse":
		ch, err := swingstore.NewClickHouseSource(ctx, cfg.ClickHouse(), logger)
		if err != nil {
			fail("clickhouse: %v", err)
		}
		defer ch.Close()
		src = ch
	default:
		fail("unknown source %q", *source)
	}

	var repo backtest.RunRepository
	if *save {
		db, err := database.NewDB(cfg.Database(), logger)
		if err != nil {
			fail("database: %v", err)
		}
		defer db.Close()
		if err := db.RunMigrations(ctx); err != nil {
			fail("migrations: %v", err)
		}
		repo = database.NewRepository(db)
	}

	report, err := backtest.NewBacktest(src, repo, logger).Run(ctx, backtest.Config{
		Symbol:          *symbol,
		From:            start,
		To:              end,
		StartingCapital: *capital,
		Pyramid:         cfg.Pyramid(),
		Market:          cfg.MarketParams(),
	})
	if report == nil {
		fail("backtest: %v", err)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  %v\n", err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			fail("encode: %v", err)
		}
		return
	}
	printReport(report, *showTrades)
}

func parseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", s)
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "❌ "+format+"\n", args...)
	os.Exit(1)
}

// money rounds for display only; the simulation itself runs in float64
func money(x float64) string {
	return decimal.NewFromFloat(x).Round(2).StringFixed(2)
}

func pct(x float64) string {
	return decimal.NewFromFloat(x).Round(2).StringFixed(2) + "%"
}

func printReport(report *backtest.Report, showTrades bool) {
	r := report.Result
	st := r.Stats
	line := strings.Repeat("=", 80)

	fmt.Println(line)
	fmt.Printf("📊 PYRAMID BACKTEST %s\n", r.Symbol)
	fmt.Println(line)
	fmt.Printf("Run ID:            %s (saved: %v)\n", report.RunID, report.Saved)
	fmt.Printf("Events:            %d processed, %d skipped\n", r.EventsProcessed, r.EventsSkipped)
	if !r.FirstEvent.IsZero() {
		fmt.Printf("Period:            %s → %s\n", r.FirstEvent.Format(time.RFC3339), r.LastEvent.Format(time.RFC3339))
	}
	fmt.Printf("Capital:           $%s → $%s (peak $%s)\n", money(r.StartingCapital), money(r.FinalCapital), money(r.PeakCapital))
	fmt.Printf("ROI:               %s\n", pct(st.ROI))
	fmt.Printf("Max drawdown:      $%s (%s)\n", money(r.MaxDrawdown), pct(r.MaxDrawdownPercent))

	fmt.Println("\n" + line)
	fmt.Println("📈 TRADES")
	fmt.Println(line)
	fmt.Printf("Total:             %d (%d won, %d lost, %d flat, win rate %s)\n", st.TotalTrades, st.WinningTrades, st.LosingTrades, st.BreakevenTrades, pct(st.WinRate))
	fmt.Printf("Net profit:        $%s\n", money(st.NetProfit))
	fmt.Printf("Average win/loss:  $%s / $%s\n", money(st.AverageWin), money(st.AverageLoss))
	fmt.Printf("Largest win/loss:  $%s / $%s\n", money(st.LargestWin), money(st.LargestLoss))
	fmt.Printf("Profit factor:     %s\n", decimal.NewFromFloat(st.ProfitFactor).StringFixed(2))
	fmt.Printf("Sharpe-like ratio: %s\n", decimal.NewFromFloat(st.SharpeRatio).StringFixed(2))
	fmt.Printf("Avg pyramid depth: %s levels\n", decimal.NewFromFloat(st.AveragePyramidDepth).StringFixed(2))
	fmt.Printf("Avg hold:          %sh\n", decimal.NewFromFloat(st.AverageHoldHours).StringFixed(1))
	fmt.Printf("Fees / funding:    $%s / $%s\n", money(st.TotalFees), money(st.TotalFunding))

	if len(st.ExitsByReason) > 0 {
		reasons := make([]string, 0, len(st.ExitsByReason))
		for reason, n := range st.ExitsByReason {
			reasons = append(reasons, fmt.Sprintf("%s=%d", reason, n))
		}
		sort.Strings(reasons)
		fmt.Printf("Exits:             %s\n", strings.Join(reasons, " "))
	}

	if r.OpenPosition != nil {
		p := r.OpenPosition
		fmt.Printf("\n⚠️  Still open: %s %s, %d levels, avg $%s, stop $%s, unrealized $%s\n",
			p.Symbol, p.Side, p.LevelCount(), money(p.AvgEntryPrice), money(p.StopPrice), money(r.OpenUnrealizedPnL))
	}

	if !showTrades || len(r.Trades) == 0 {
		return
	}
	fmt.Println("\n" + line)
	fmt.Printf("%-20s %-5s %6s %12s %12s %12s %-16s\n", "Exit time", "Side", "Levels", "Avg entry", "Exit", "PnL", "Reason")
	for _, t := range r.Trades {
		emoji := "⚪"
		switch {
		case t.IsWin():
			emoji = "🟢"
		case t.IsLoss():
			emoji = "🔴"
		}
		fmt.Printf("%-20s %-5s %6d %12s %12s %12s %-16s %s\n",
			t.ExitTime.Format("2006-01-02 15:04"), t.Side, t.LevelCount,
			money(t.AvgEntryPrice), money(t.ExitPrice), money(t.PnL), t.ExitReason, emoji)
	}
}
