package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"pyramid-trading-bot/config"
	"pyramid-trading-bot/internal/logging"
	"pyramid-trading-bot/internal/swing"
	"pyramid-trading-bot/internal/swingstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	eventsFile := flag.String("events", cfg.BacktestConfig.EventsFile, "JSON swing events file to import")
	symbol := flag.String("symbol", "", "symbol for events that carry none")
	batchSize := flag.Int("batch", 5000, "rows per insert batch")
	flag.Parse()

	if *eventsFile == "" {
		fail("-events is required")
	}
	if *batchSize <= 0 {
		*batchSize = 5000
	}

	data, err := os.ReadFile(*eventsFile)
	if err != nil {
		fail("read %s: %v", *eventsFile, err)
	}
	decoded, err := swingstore.Decode(data)
	if err != nil {
		fail("decode %s: %v", *eventsFile, err)
	}

	events := make([]swing.Event, 0, len(decoded))
	skipped := 0
	for _, ev := range decoded {
		if ev.Symbol == "" {
			ev.Symbol = *symbol
		}
		if !ev.Valid() || ev.Symbol == "" {
			skipped++
			continue
		}
		events = append(events, ev)
	}
	events = swing.SortByOpenTime(events)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := logging.New(cfg.Logging("load_swings"))
	store, err := swingstore.NewClickHouseSource(ctx, cfg.ClickHouse(), logger)
	if err != nil {
		fail("clickhouse: %v", err)
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		fail("schema: %v", err)
	}

	for start := 0; start < len(events); start += *batchSize {
		end := start + *batchSize
		if end > len(events) {
			end = len(events)
		}
		if err := store.Insert(ctx, events[start:end]); err != nil {
			fail("insert rows %d-%d: %v", start, end, err)
		}
		fmt.Printf("📥 %d/%d events written\n", end, len(events))
	}

	fmt.Printf("✅ Imported %d swing events into %s (%d skipped)\n", len(events), cfg.ClickHouseConfig.Table, skipped)
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "❌ "+format+"\n", args...)
	os.Exit(1)
}
