package backtest

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pyramid-trading-bot/internal/database"
	"pyramid-trading-bot/internal/pyramid"
	"pyramid-trading-bot/internal/swing"
)

var t0 = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

func testConfig() pyramid.Config {
	return pyramid.Config{
		Leverage:                 10,
		BaseRiskPercent:          0.3,
		MaxPyramidLevels:         4,
		ConfluenceThresholds:     []int{15, 20, 25, 30},
		SizeMultipliers:          []float64{1.0, 0.75, 0.5, 0.35},
		InitialStopPercent:       2,
		TrailingStopPercent:      1.5,
		TakeProfitPercent:        6,
		MinConfluenceToEnter:     15,
		MinConfluenceToAdd:       20,
		FundingRateThreshold:     0.0005,
		LiquidationBufferPercent: 3,
	}
}

func testMarket() pyramid.MarketParams {
	return pyramid.MarketParams{
		MaintenanceMarginRate: 0.005,
		FeeRate:               0.0004,
		FundingRateAvg:        0.0001,
		FundingIntervalHours:  8,
	}
}

func strong() swing.Snapshot {
	return swing.Snapshot{
		swing.RSI14:          swing.Number(22),
		swing.EMA6AboveEMA50: swing.Bool(true),
		swing.LondonOpen:     swing.Bool(true),
	}
}

func ev(id string, side swing.Side, price float64, hours int, f swing.Snapshot) swing.Event {
	return swing.Event{ID: id, Symbol: "BTCUSDT", Side: side, OpenTime: t0.Add(time.Duration(hours) * time.Hour), Price: price, Features: f}
}

// script mixes wins, losses, pyramiding adds, a reversal and a trailing exit
func script() []swing.Event {
	return []swing.Event{
		ev("1", swing.Low, 100, 0, strong()),
		ev("2", swing.High, 107, 3, nil), // target at 106
		ev("3", swing.Low, 100, 10, strong()),
		ev("4", swing.Low, 96, 12, nil), // stop at 98
		ev("5", swing.High, 200, 20, strong()),
		ev("6", swing.High, 196, 22, strong()), // add to the short
		ev("7", swing.Low, 197, 30, strong()),  // reversal
		ev("8", swing.Low, 50, 40, strong()),
		ev("9", swing.Low, 51, 41, strong()),
		ev("10", swing.High, 52.5, 49, nil),
		ev("11", swing.Low, 51, 60, nil), // trailed stop
	}
}

func newSim(t *testing.T, cfg pyramid.Config, capital float64) *Simulator {
	t.Helper()
	sim, err := NewSimulator(cfg, testMarket(), capital, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewSimulator: %v", err)
	}
	return sim
}

func TestSimulatorSingleWin(t *testing.T) {
	sim := newSim(t, testConfig(), 10000)
	res, err := sim.Run("BTCUSDT", script()[:2])
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Trades) != 1 {
		t.Fatalf("Expected 1 trade, got %d", len(res.Trades))
	}
	tr := res.Trades[0]
	if tr.ExitReason != pyramid.ExitTarget || math.Abs(tr.ExitPrice-106) > 1e-9 {
		t.Errorf("Expected target exit at 106, got %s @ %v", tr.ExitReason, tr.ExitPrice)
	}
	if math.Abs(tr.PnL-17.976) > 1e-9 {
		t.Errorf("Expected pnl 17.976, got %v", tr.PnL)
	}
	if math.Abs(res.FinalCapital-10017.976) > 1e-9 {
		t.Errorf("Expected final capital 10017.976, got %v", res.FinalCapital)
	}
	if len(res.EquityCurve) != 2 || res.EquityCurve[0].Equity != 10000 {
		t.Errorf("unexpected equity curve %+v", res.EquityCurve)
	}
}

func TestSimulatorScript(t *testing.T) {
	sim := newSim(t, testConfig(), 10000)
	res, err := sim.Run("BTCUSDT", script())
	if err != nil {
		t.Fatal(err)
	}

	want := []pyramid.ExitReason{pyramid.ExitTarget, pyramid.ExitStop, pyramid.ExitSignalReversal, pyramid.ExitStop}
	if len(res.Trades) != len(want) {
		t.Fatalf("Expected %d trades, got %d: %+v", len(want), len(res.Trades), res.Trades)
	}
	for i, w := range want {
		if res.Trades[i].ExitReason != w {
			t.Errorf("trade %d: expected %s, got %s", i, w, res.Trades[i].ExitReason)
		}
	}
	if res.Trades[2].Side != pyramid.Short || res.Trades[2].LevelCount != 2 {
		t.Errorf("Expected a 2-level short, got %+v", res.Trades[2])
	}
	if res.Trades[3].LevelCount != 2 || res.Trades[3].PnL <= 0 {
		t.Errorf("Expected a profitable 2-level long stopped by the trail, got %+v", res.Trades[3])
	}
	if res.OpenPosition != nil {
		t.Errorf("Expected flat at end, got %+v", res.OpenPosition)
	}
	if res.Stats.TotalTrades != 4 || res.Stats.ExitsByReason[pyramid.ExitStop] != 2 {
		t.Errorf("unexpected stats %+v", res.Stats)
	}
	if math.Abs(res.Stats.AveragePyramidDepth-1.5) > 1e-9 {
		t.Errorf("Expected average depth 1.5, got %v", res.Stats.AveragePyramidDepth)
	}
}

func TestSimulatorDeterministic(t *testing.T) {
	a, err := newSim(t, testConfig(), 10000).Run("BTCUSDT", script())
	if err != nil {
		t.Fatal(err)
	}
	b, err := newSim(t, testConfig(), 10000).Run("BTCUSDT", script())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Error("identical inputs produced different results")
	}
}

func TestSimulatorSkipsInvalidEvents(t *testing.T) {
	base := script()
	noisy := make([]swing.Event, 0, len(base)+3)
	noisy = append(noisy, base[:3]...)
	noisy = append(noisy,
		ev("zero", swing.Low, 0, 11, strong()),
		ev("nan", swing.High, math.NaN(), 11, strong()),
		swing.Event{ID: "other", Symbol: "ETHUSDT", Side: swing.Low, OpenTime: t0.Add(11 * time.Hour), Price: 5, Features: strong()},
	)
	noisy = append(noisy, base[3:]...)

	clean, err := newSim(t, testConfig(), 10000).Run("BTCUSDT", base)
	if err != nil {
		t.Fatal(err)
	}
	dirty, err := newSim(t, testConfig(), 10000).Run("BTCUSDT", noisy)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(clean.Trades, dirty.Trades) {
		t.Error("invalid events changed the trade ledger")
	}
	if clean.FinalCapital != dirty.FinalCapital || !reflect.DeepEqual(clean.EquityCurve, dirty.EquityCurve) {
		t.Error("invalid events changed capital")
	}
	if dirty.EventsSkipped != 3 {
		t.Errorf("Expected 3 skipped events, got %d", dirty.EventsSkipped)
	}
}

func TestSimulatorSortsInput(t *testing.T) {
	sorted := script()
	reversed := make([]swing.Event, len(sorted))
	for i, e := range sorted {
		reversed[len(sorted)-1-i] = e
	}
	a, _ := newSim(t, testConfig(), 10000).Run("BTCUSDT", sorted)
	b, _ := newSim(t, testConfig(), 10000).Run("BTCUSDT", reversed)
	if !reflect.DeepEqual(a.Trades, b.Trades) {
		t.Error("input order changed the result")
	}
}

func TestSimulatorLeavesOpenPosition(t *testing.T) {
	res, err := newSim(t, testConfig(), 10000).Run("BTCUSDT", script()[:1])
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Trades) != 0 || res.OpenPosition == nil {
		t.Fatalf("Expected an open position and no trades, got %+v", res)
	}
	if res.FinalCapital != 10000 {
		t.Errorf("open position must not touch capital, got %v", res.FinalCapital)
	}
	if res.OpenUnrealizedPnL != 0 {
		t.Errorf("Expected flat mark at the entry event, got %v", res.OpenUnrealizedPnL)
	}
}

func TestSimulatorCapitalNeverNegative(t *testing.T) {
	cfg := testConfig()
	cfg.BaseRiskPercent = 40
	var events []swing.Event
	for i := 0; i < 40; i++ {
		events = append(events,
			ev("in", swing.Low, 100, 2*i, strong()),
			ev("out", swing.Low, 50, 2*i+1, nil),
		)
	}
	res, err := newSim(t, cfg, 1000).Run("BTCUSDT", events)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Trades) == 0 {
		t.Fatal("Expected some losing trades")
	}
	for _, p := range res.EquityCurve {
		if p.Equity < 0 {
			t.Fatalf("negative equity %v", p.Equity)
		}
	}
	// three stopped-out losses take capital below twice the fixed risk
	if len(res.Trades) != 3 {
		t.Fatalf("Expected 3 trades before entries stop, got %d", len(res.Trades))
	}
	risk := 1000 * cfg.BaseRiskPercent / 100
	if res.FinalCapital >= 2*risk {
		t.Errorf("Expected capital below %v, got %v", 2*risk, res.FinalCapital)
	}
	for i := 1; i < len(res.EquityCurve)-1; i++ {
		if res.EquityCurve[i].Equity < 2*risk {
			t.Errorf("a trade opened with capital %v below %v", res.EquityCurve[i].Equity, 2*risk)
		}
	}
}

func TestNewSimulatorValidates(t *testing.T) {
	if _, err := NewSimulator(testConfig(), testMarket(), 0, zerolog.Nop()); !errors.Is(err, pyramid.ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got %v", err)
	}
	cfg := testConfig()
	cfg.SizeMultipliers = nil
	if _, err := NewSimulator(cfg, testMarket(), 1000, zerolog.Nop()); !errors.Is(err, pyramid.ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got %v", err)
	}
}

type memSource struct{ events []swing.Event }

func (m memSource) Load(ctx context.Context, symbol string, from, to time.Time) ([]swing.Event, error) {
	return m.events, nil
}

type memRepo struct {
	runs   []*database.BacktestRun
	trades int
	err    error
}

func (m *memRepo) SaveBacktestRun(ctx context.Context, run *database.BacktestRun, trades []pyramid.ClosedTrade) error {
	if m.err != nil {
		return m.err
	}
	m.runs = append(m.runs, run)
	m.trades += len(trades)
	return nil
}

func TestBacktestRunSaves(t *testing.T) {
	repo := &memRepo{}
	bt := NewBacktest(memSource{script()}, repo, zerolog.Nop())
	report, err := bt.Run(context.Background(), Config{
		Symbol:          "BTCUSDT",
		StartingCapital: 10000,
		Pyramid:         testConfig(),
		Market:          testMarket(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !report.Saved || len(repo.runs) != 1 || repo.trades != len(report.Result.Trades) {
		t.Fatalf("Expected run saved with trades, got %+v", repo)
	}
	run := repo.runs[0]
	if run.ID != report.RunID || run.TotalTrades != 4 || len(run.Config) == 0 {
		t.Errorf("unexpected run record %+v", run)
	}
	if !run.FirstEvent.Equal(t0) {
		t.Errorf("Expected first event %v, got %v", t0, run.FirstEvent)
	}

	if _, err := NewBacktest(memSource{}, nil, zerolog.Nop()).Run(context.Background(), Config{Symbol: "BTCUSDT"}); err == nil {
		t.Error("Expected error for empty source")
	}

	failing := NewBacktest(memSource{script()}, &memRepo{err: errors.New("db down")}, zerolog.Nop())
	report, err = failing.Run(context.Background(), Config{Symbol: "BTCUSDT", StartingCapital: 10000, Pyramid: testConfig(), Market: testMarket()})
	if err == nil || report == nil || report.Saved {
		t.Errorf("Expected unsaved report with error, got %+v %v", report, err)
	}
}
