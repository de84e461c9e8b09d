package live

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pyramid-trading-bot/internal/logging"
	"pyramid-trading-bot/internal/pyramid"
	"pyramid-trading-bot/internal/signal"
	"pyramid-trading-bot/internal/swing"
)

// Reasons a decision was skipped by the live driver
const (
	BlockedCircuitBreaker = "circuit_breaker"
	BlockedCapital        = "insufficient_capital"
)

type command struct {
	ctx       context.Context
	event     swing.Event
	emergency bool
	price     float64
	reply     chan reply
}

type reply struct {
	outcome Outcome
	err     error
}

// symbolWorker is the only goroutine that mutates its machine
type symbolWorker struct {
	engine  *Engine
	machine *pyramid.Machine
	mailbox chan command
	logger  zerolog.Logger

	mu       sync.RWMutex
	snapshot *pyramid.Position
}

func newSymbolWorker(e *Engine, m *pyramid.Machine) *symbolWorker {
	return &symbolWorker{
		engine:  e,
		machine: m,
		mailbox: make(chan command, e.cfg.MailboxSize),
		logger:  e.logger.With().Str("symbol", m.Symbol()).Logger(),
	}
}

func (w *symbolWorker) run(stop <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		// stop wins over a non-empty mailbox
		select {
		case <-stop:
			return
		default:
		}
		select {
		case <-stop:
			return
		case cmd := <-w.mailbox:
			var r reply
			switch {
			case cmd.ctx.Err() != nil:
				// the caller gave up while the command was queued
				r = reply{err: cmd.ctx.Err()}
			case cmd.emergency:
				r = w.emergencyClose(cmd)
			default:
				r = w.handleEvent(cmd)
			}
			w.refresh()
			cmd.reply <- r
		}
	}
}

// rejectQueued answers every command left in the mailbox with err. Only
// called once the worker goroutine has exited.
func (w *symbolWorker) rejectQueued(err error) int {
	n := 0
	for {
		select {
		case cmd := <-w.mailbox:
			cmd.reply <- reply{err: err}
			n++
		default:
			return n
		}
	}
}

func (w *symbolWorker) position() *pyramid.Position {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.snapshot.Clone()
}

func (w *symbolWorker) refresh() {
	p := w.machine.Position()
	w.mu.Lock()
	w.snapshot = p
	w.mu.Unlock()
}

func (w *symbolWorker) levels() int {
	if p := w.machine.Position(); p != nil {
		return p.LevelCount()
	}
	return 0
}

func (w *symbolWorker) handleEvent(cmd command) reply {
	e := w.engine
	ev := cmd.event

	pos := w.machine.Position()
	acct := signal.Account{Capital: e.ledger.Capital(), Available: e.ledger.Available()}
	eval := e.evaluator.Evaluate(ev, pos, acct)
	if pos != nil {
		w.machine.ObserveConfluence(eval.Confluence.Score)
	}

	e.metrics.observeEvent(ev.Symbol, eval.Confluence.Score)

	out := Outcome{Evaluation: eval}
	var err error
	for _, d := range eval.Decisions {
		if d.Action == signal.ActionOpen && e.breaker != nil {
			if ok, reason := e.breaker.AllowEntry(); !ok {
				log := logging.SignalContext(e.logger, w.machine.Symbol(), ev.ID, eval.Confluence.Score)
				log.Warn().
					Str("reason", reason).
					Msg("Entry blocked by circuit breaker")
				out.Blocked = BlockedCircuitBreaker
				break
			}
		}
		if !signal.StillApplies(w.machine, d) {
			continue
		}

		var trade *pyramid.ClosedTrade
		trade, err = w.execute(cmd.ctx, d)
		if err != nil {
			if errors.Is(err, ErrInsufficientFunds) {
				out.Blocked = BlockedCapital
				err = nil
			}
			break
		}
		out.Applied = append(out.Applied, d)
		e.metrics.observeApplied(d, w.levels())
		if trade != nil {
			out.Trade = trade
		}
	}
	e.metrics.observeBlocked(ev.Symbol, out.Blocked)
	if len(out.Applied) > 0 {
		e.metrics.observeLedger(e.ledger.Snapshot())
	}

	if e.bus != nil {
		actions := make([]string, 0, len(out.Applied))
		for _, d := range out.Applied {
			actions = append(actions, string(d.Action))
		}
		e.bus.PublishSignalEvaluated(ev.Symbol, ev.ID, eval.Confluence.Score, eval.Confluence.Factors, actions, eval.Rejection)
	}
	return reply{outcome: out, err: err}
}

func (w *symbolWorker) emergencyClose(cmd command) reply {
	pos := w.machine.Position()
	if pos == nil {
		return reply{err: pyramid.ErrNoPosition}
	}
	if math.IsNaN(cmd.price) || math.IsInf(cmd.price, 0) || cmd.price <= 0 {
		return reply{err: fmt.Errorf("%w: %v", pyramid.ErrInvalidPrice, cmd.price)}
	}

	d := signal.Decision{
		Action:     signal.ActionClose,
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		Price:      cmd.price,
		ExitReason: pyramid.ExitEmergency,
		Time:       time.Now().UTC(),
	}
	w.logger.Warn().Float64("price", cmd.price).Int("levels", pos.LevelCount()).Msg("Emergency close requested")

	trade, err := w.execute(cmd.ctx, d)
	out := Outcome{Trade: trade}
	if err == nil {
		out.Applied = []signal.Decision{d}
		w.engine.metrics.observeApplied(d, 0)
	}
	return reply{outcome: out, err: err}
}

// execute runs one decision: reserve capital, hand it to the executor, and
// only then apply it to the machine, settle and persist
func (w *symbolWorker) execute(ctx context.Context, d signal.Decision) (*pyramid.ClosedTrade, error) {
	e := w.engine

	reserved := 0.0
	if d.Action == signal.ActionOpen || d.Action == signal.ActionAdd {
		if err := e.ledger.Reserve(d.Margin); err != nil {
			w.logger.Warn().Err(err).Str("action", string(d.Action)).Msg("Decision skipped")
			return nil, ErrInsufficientFunds
		}
		reserved = d.Margin
	}

	if err := e.executor.Execute(ctx, d); err != nil {
		e.ledger.Release(reserved)
		e.metrics.observeFailure(d)
		w.logger.Error().Err(err).Str("decision", d.String()).Msg("Execution failed, position unchanged")
		if e.bus != nil {
			e.bus.PublishExecutionFailed(d.Symbol, string(d.Action), err)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrExecutionFailed, d.Action, err)
	}

	before := w.machine.Position()
	trade, err := signal.ApplyDecision(w.machine, d)
	if err != nil {
		// the exchange accepted something our state machine rejects
		e.ledger.Release(reserved)
		w.logger.Error().Err(err).Str("decision", d.String()).Msg("Executed decision could not be applied")
		return nil, err
	}

	// the transition happened; bookkeeping must not be cut short by the caller
	ctx = context.WithoutCancel(ctx)

	after := w.machine.Position()
	switch d.Action {
	case signal.ActionOpen:
		if e.breaker != nil {
			e.breaker.RecordEntry()
		}
		log := logging.PositionContext(e.logger, d.Symbol, string(after.Side))
		log.Info().
			Float64("entry", d.Price).
			Float64("margin", d.Margin).
			Float64("stop", after.StopPrice).
			Float64("liquidation", after.LiquidationPrice).
			Int("confluence", d.Confluence).
			Msg("Position opened")
		if e.bus != nil {
			e.bus.PublishPositionOpened(d.Symbol, string(after.Side), d.Price, d.Margin, after.StopPrice, after.LiquidationPrice, d.Confluence)
		}
	case signal.ActionAdd:
		w.logger.Info().
			Int("level", after.LevelCount()).
			Float64("entry", d.Price).
			Float64("avg_entry", after.AvgEntryPrice).
			Float64("stop", after.StopPrice).
			Msg("Pyramid level added")
		if e.bus != nil {
			e.bus.PublishLevelAdded(d.Symbol, after.LevelCount(), d.Price, after.AvgEntryPrice, d.Margin, after.StopPrice, d.Confluence)
		}
	case signal.ActionTrail:
		w.logger.Debug().Float64("old_stop", before.StopPrice).Float64("new_stop", after.StopPrice).Msg("Stop trailed")
		if e.bus != nil {
			e.bus.PublishStopTrailed(d.Symbol, before.StopPrice, after.StopPrice)
		}
	case signal.ActionClose:
		w.settle(ctx, trade)
	}

	w.persist(ctx, after)
	return trade, nil
}

func (w *symbolWorker) settle(ctx context.Context, t *pyramid.ClosedTrade) {
	e := w.engine

	capitalBefore := e.ledger.Capital()
	e.ledger.Release(t.TotalMargin)
	capital := e.ledger.Settle(t.PnL)

	if e.breaker != nil {
		e.breaker.RecordClose(t.PnL, capitalBefore)
	}
	e.metrics.observeClose(t)
	e.metrics.observeLedger(e.ledger.Snapshot())

	log := logging.PositionContext(e.logger, t.Symbol, string(t.Side))
	log.Info().
		Str("reason", string(t.ExitReason)).
		Int("levels", t.LevelCount).
		Float64("exit", t.ExitPrice).
		Float64("pnl", t.PnL).
		Float64("capital", capital).
		Msg("Position closed")

	if e.trades != nil {
		if err := e.trades.SaveClosedTrade(ctx, *t); err != nil {
			w.logger.Error().Err(err).Str("trade_id", t.ID).Msg("Failed to record closed trade")
		}
	}
	if e.bus != nil {
		st := e.ledger.Snapshot()
		e.bus.PublishPositionClosed(t.Symbol, string(t.Side), string(t.ExitReason), t.LevelCount, t.AvgEntryPrice, t.ExitPrice, t.PnL, t.PnLPercent)
		e.bus.PublishBalanceUpdate(st.Capital, st.Available, st.LockedMargin)
	}
}

// persist writes the position after a transition, or removes it when flat.
// Store failures are logged; the in-memory state stays authoritative.
func (w *symbolWorker) persist(ctx context.Context, pos *pyramid.Position) {
	e := w.engine
	if e.store == nil {
		return
	}
	var err error
	if pos == nil {
		err = e.store.DeletePosition(ctx, e.cfg.EngineID, w.machine.Symbol())
	} else {
		err = e.store.SavePosition(ctx, e.cfg.EngineID, pos)
	}
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to persist position state")
	}
}
