package live

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"pyramid-trading-bot/internal/circuit"
	"pyramid-trading-bot/internal/events"
	"pyramid-trading-bot/internal/pyramid"
	"pyramid-trading-bot/internal/risk"
	"pyramid-trading-bot/internal/signal"
	"pyramid-trading-bot/internal/swing"
)

var (
	ErrSymbolNotFound    = errors.New("symbol not managed by engine")
	ErrEngineStopped     = errors.New("engine stopped")
	ErrEngineRunning     = errors.New("engine already running")
	ErrExecutionFailed   = errors.New("execution failed")
	ErrInsufficientFunds = errors.New("insufficient capital for decision")
)

// Config holds live engine configuration
type Config struct {
	EngineID        string
	Symbols         []string
	StartingCapital float64
	MailboxSize     int
	Pyramid         pyramid.Config
	Market          pyramid.MarketParams
}

// Outcome reports what one command did
type Outcome struct {
	Evaluation signal.Evaluation    `json:"evaluation"`
	Applied    []signal.Decision    `json:"applied"`
	Blocked    string               `json:"blocked,omitempty"`
	Trade      *pyramid.ClosedTrade `json:"trade,omitempty"`
}

// Engine drives one position machine per symbol from an asynchronous feed.
// Each symbol has a single writer goroutine; symbols share only the
// capital ledger.
type Engine struct {
	cfg       Config
	ledger    *risk.Ledger
	evaluator *signal.Evaluator
	executor  Executor
	store     PositionStore
	trades    TradeSink
	breaker   *circuit.Breaker
	bus       *events.EventBus
	metrics   *Metrics
	logger    zerolog.Logger

	mu       sync.RWMutex
	workers  map[string]*symbolWorker
	running  bool
	started  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewEngine validates the configuration and builds one flat machine per
// symbol. Collaborators other than the executor are optional and set with
// the Set* methods before Start.
func NewEngine(cfg Config, executor Executor, logger zerolog.Logger) (*Engine, error) {
	if executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("%w: no symbols configured", pyramid.ErrInvalidConfig)
	}
	if !(cfg.StartingCapital > 0) {
		return nil, fmt.Errorf("%w: starting capital must be > 0, got %v", pyramid.ErrInvalidConfig, cfg.StartingCapital)
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = 64
	}
	if cfg.EngineID == "" {
		cfg.EngineID = "default"
	}

	ledger := risk.NewLedger(cfg.StartingCapital)
	evaluator, err := signal.NewEvaluator(cfg.Pyramid, cfg.Market, ledger.RiskAmount(cfg.Pyramid.BaseRiskPercent))
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:       cfg,
		ledger:    ledger,
		evaluator: evaluator,
		executor:  executor,
		logger:    logger.With().Str("component", "live_engine").Str("engine_id", cfg.EngineID).Logger(),
		workers:   make(map[string]*symbolWorker, len(cfg.Symbols)),
	}
	for _, symbol := range cfg.Symbols {
		if _, dup := e.workers[symbol]; dup {
			continue
		}
		m, err := pyramid.NewMachine(symbol, cfg.Pyramid, cfg.Market)
		if err != nil {
			return nil, err
		}
		e.workers[symbol] = newSymbolWorker(e, m)
	}
	return e, nil
}

// SetPositionStore sets where position snapshots are persisted
func (e *Engine) SetPositionStore(s PositionStore) { e.store = s }

// SetTradeSink sets where closed trades are recorded
func (e *Engine) SetTradeSink(s TradeSink) { e.trades = s }

// SetCircuitBreaker gates new entries
func (e *Engine) SetCircuitBreaker(cb *circuit.Breaker) { e.breaker = cb }

// SetEventBus sets the bus engine events are published on
func (e *Engine) SetEventBus(bus *events.EventBus) { e.bus = bus }

// SetMetrics sets the Prometheus collectors decisions are counted on
func (e *Engine) SetMetrics(m *Metrics) { e.metrics = m }

// EngineID returns the identifier positions are persisted under
func (e *Engine) EngineID() string { return e.cfg.EngineID }

// Start restores persisted positions and launches one worker per symbol
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrEngineRunning
	}
	e.running = true
	stop := make(chan struct{})
	e.stopChan = stop
	first := !e.started
	e.started = true
	e.mu.Unlock()

	// a restart keeps the in-memory state, which is newer than the store
	if first {
		e.restore(ctx)
	}

	for _, w := range e.workers {
		e.wg.Add(1)
		go w.run(stop, &e.wg)
	}

	e.logger.Info().Strs("symbols", e.Symbols()).Float64("capital", e.ledger.Capital()).Msg("Live engine started")
	if e.bus != nil {
		e.bus.Publish(events.Event{Type: events.EventEngineStarted, Data: map[string]interface{}{
			"engine_id": e.cfg.EngineID,
			"symbols":   e.Symbols(),
		}})
	}
	return nil
}

// Stop halts the workers after their current command. Open positions are
// left exactly as they are, both in memory and in the position store; use
// EmergencyClose to flatten a symbol.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopChan)
	e.mu.Unlock()

	e.wg.Wait()

	// commands still queued were never looked at
	rejected := 0
	for _, w := range e.workers {
		rejected += w.rejectQueued(ErrEngineStopped)
	}
	if rejected > 0 {
		e.logger.Warn().Int("commands", rejected).Msg("Queued commands rejected on stop")
	}

	open := 0
	for _, w := range e.workers {
		if w.position() != nil {
			open++
		}
	}
	e.logger.Info().Int("open_positions", open).Msg("Live engine stopped")
	if e.bus != nil {
		e.bus.Publish(events.Event{Type: events.EventEngineStopped, Data: map[string]interface{}{
			"engine_id":      e.cfg.EngineID,
			"open_positions": open,
		}})
	}
}

// Running reports whether workers are accepting commands
func (e *Engine) Running() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Submit queues a swing event on its symbol's mailbox and waits for the
// result. Events for one symbol are processed strictly in arrival order.
func (e *Engine) Submit(ctx context.Context, ev swing.Event) (Outcome, error) {
	return e.send(ctx, ev.Symbol, command{ctx: ctx, event: ev})
}

// EmergencyClose flattens symbol's position at price with reason emergency.
// It is never triggered implicitly.
func (e *Engine) EmergencyClose(ctx context.Context, symbol string, price float64) (*pyramid.ClosedTrade, error) {
	out, err := e.send(ctx, symbol, command{ctx: ctx, emergency: true, price: price})
	return out.Trade, err
}

// send hands cmd to the symbol's worker and waits for its reply. Once a
// command is queued it is answered exactly once: by the worker, or by Stop
// with ErrEngineStopped if the worker never dequeued it. The wait is not
// cut short by ctx or Stop, so the reply always reflects what the worker
// actually executed and applied.
func (e *Engine) send(ctx context.Context, symbol string, cmd command) (Outcome, error) {
	w, ok := e.workers[symbol]
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %q", ErrSymbolNotFound, symbol)
	}
	cmd.reply = make(chan reply, 1)

	// enqueue under the read lock so Stop cannot drain the mailbox between
	// the running check and the enqueue
	e.mu.RLock()
	if !e.running {
		e.mu.RUnlock()
		return Outcome{}, ErrEngineStopped
	}
	select {
	case w.mailbox <- cmd:
	case <-ctx.Done():
		e.mu.RUnlock()
		return Outcome{}, ctx.Err()
	}
	e.mu.RUnlock()

	r := <-cmd.reply
	return r.outcome, r.err
}

// Position returns a copy of symbol's open position, or nil when flat
func (e *Engine) Position(symbol string) (*pyramid.Position, error) {
	w, ok := e.workers[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSymbolNotFound, symbol)
	}
	return w.position(), nil
}

// Positions returns every open position keyed by symbol
func (e *Engine) Positions() map[string]*pyramid.Position {
	out := make(map[string]*pyramid.Position)
	for symbol, w := range e.workers {
		if p := w.position(); p != nil {
			out[symbol] = p
		}
	}
	return out
}

// Ledger returns the shared capital account
func (e *Engine) Ledger() risk.LedgerState {
	return e.ledger.Snapshot()
}

// Symbols returns the managed symbols in sorted order
func (e *Engine) Symbols() []string {
	out := make([]string, 0, len(e.workers))
	for s := range e.workers {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// restore loads persisted positions into their machines. Margin is
// reserved against the ledger so new entries see the right capital.
func (e *Engine) restore(ctx context.Context) {
	if e.store == nil {
		return
	}
	saved, err := e.store.LoadAllPositions(ctx, e.cfg.EngineID)
	if err != nil {
		e.logger.Error().Err(err).Msg("Failed to load persisted positions, starting flat")
		if e.bus != nil {
			e.bus.PublishError("live_engine", "persisted positions not restored", err)
		}
		return
	}

	for symbol, pos := range saved {
		w, ok := e.workers[symbol]
		if !ok {
			e.logger.Warn().Str("symbol", symbol).Msg("Persisted position for unmanaged symbol ignored")
			continue
		}
		if err := w.machine.Restore(pos); err != nil {
			e.logger.Error().Err(err).Str("symbol", symbol).Msg("Failed to restore position")
			if e.bus != nil {
				e.bus.PublishError("live_engine", "position for "+symbol+" not restored", err)
			}
			continue
		}
		if err := e.ledger.Reserve(pos.TotalMargin); err != nil {
			e.logger.Warn().Err(err).Str("symbol", symbol).Msg("Restored position margin exceeds available capital")
		}
		w.refresh()
		e.logger.Info().
			Str("symbol", symbol).
			Str("side", string(pos.Side)).
			Int("levels", pos.LevelCount()).
			Float64("stop", pos.StopPrice).
			Msg("Position restored")
	}
}
