package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventPositionOpened   EventType = "POSITION_OPENED"
	EventLevelAdded       EventType = "LEVEL_ADDED"
	EventStopTrailed      EventType = "STOP_TRAILED"
	EventPositionClosed   EventType = "POSITION_CLOSED"
	EventExecutionFailed  EventType = "EXECUTION_FAILED"
	EventSignalEvaluated  EventType = "SIGNAL_EVALUATED"
	EventCircuitBreaker   EventType = "CIRCUIT_BREAKER"
	EventBalanceUpdate    EventType = "BALANCE_UPDATE"
	EventEngineStarted    EventType = "ENGINE_STARTED"
	EventEngineStopped    EventType = "ENGINE_STOPPED"
	EventBacktestFinished EventType = "BACKTEST_FINISHED"
	EventError            EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers. Subscribers run in their own
// goroutines and must not assume ordering between events.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event)
		}
	}
	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishPositionOpened publishes a new position's first level
func (eb *EventBus) PublishPositionOpened(symbol, side string, entryPrice, margin, stop, liquidation float64, confluence int) {
	eb.Publish(Event{
		Type: EventPositionOpened,
		Data: map[string]interface{}{
			"symbol":            symbol,
			"side":              side,
			"entry_price":       entryPrice,
			"margin":            margin,
			"stop_price":        stop,
			"liquidation_price": liquidation,
			"confluence":        confluence,
		},
	})
}

// PublishLevelAdded publishes a pyramid scale-in
func (eb *EventBus) PublishLevelAdded(symbol string, level int, entryPrice, avgEntry, margin, stop float64, confluence int) {
	eb.Publish(Event{
		Type: EventLevelAdded,
		Data: map[string]interface{}{
			"symbol":          symbol,
			"level":           level,
			"entry_price":     entryPrice,
			"avg_entry_price": avgEntry,
			"margin":          margin,
			"stop_price":      stop,
			"confluence":      confluence,
		},
	})
}

// PublishStopTrailed publishes a stop tightening
func (eb *EventBus) PublishStopTrailed(symbol string, oldStop, newStop float64) {
	eb.Publish(Event{
		Type: EventStopTrailed,
		Data: map[string]interface{}{
			"symbol":   symbol,
			"old_stop": oldStop,
			"new_stop": newStop,
		},
	})
}

// PublishPositionClosed publishes a realized trade
func (eb *EventBus) PublishPositionClosed(symbol, side, reason string, levels int, avgEntry, exitPrice, pnl, pnlPercent float64) {
	eb.Publish(Event{
		Type: EventPositionClosed,
		Data: map[string]interface{}{
			"symbol":          symbol,
			"side":            side,
			"exit_reason":     reason,
			"levels":          levels,
			"avg_entry_price": avgEntry,
			"exit_price":      exitPrice,
			"pnl":             pnl,
			"pnl_percent":     pnlPercent,
		},
	})
}

// PublishExecutionFailed publishes a rejected transition. The position
// state was left unchanged.
func (eb *EventBus) PublishExecutionFailed(symbol, action string, err error) {
	data := map[string]interface{}{
		"symbol": symbol,
		"action": action,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{Type: EventExecutionFailed, Data: data})
}

// PublishSignalEvaluated publishes the outcome of one swing event
func (eb *EventBus) PublishSignalEvaluated(symbol, eventID string, score int, factors []string, actions []string, rejection string) {
	eb.Publish(Event{
		Type: EventSignalEvaluated,
		Data: map[string]interface{}{
			"symbol":     symbol,
			"event_id":   eventID,
			"confluence": score,
			"factors":    factors,
			"actions":    actions,
			"rejection":  rejection,
		},
	})
}

// PublishCircuitBreaker publishes a breaker state change
func (eb *EventBus) PublishCircuitBreaker(state, reason string) {
	eb.Publish(Event{
		Type: EventCircuitBreaker,
		Data: map[string]interface{}{
			"state":  state,
			"reason": reason,
		},
	})
}

// PublishBalanceUpdate publishes the ledger after a settlement
func (eb *EventBus) PublishBalanceUpdate(capital, available, lockedMargin float64) {
	eb.Publish(Event{
		Type: EventBalanceUpdate,
		Data: map[string]interface{}{
			"capital":       capital,
			"available":     available,
			"locked_margin": lockedMargin,
		},
	})
}

// PublishBacktestFinished publishes the summary of a finished run
func (eb *EventBus) PublishBacktestFinished(runID, symbol string, trades int, finalCapital, roi float64) {
	eb.Publish(Event{
		Type: EventBacktestFinished,
		Data: map[string]interface{}{
			"run_id":        runID,
			"symbol":        symbol,
			"total_trades":  trades,
			"final_capital": finalCapital,
			"roi":           roi,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{
		Type: EventError,
		Data: data,
	})
}
