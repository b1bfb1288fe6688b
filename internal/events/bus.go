// Package events provides the in-process bus each tenant uses to fan
// trade, status and progress events out to the dashboard, the notifier
// and the metrics layer. Every tenant owns its own Bus; nothing here is
// process-global.
package events

import (
	"sync"
	"time"
)

// Type identifies a bus event. The wire names match the frames the
// dashboard WebSocket pushes.
type Type string

const (
	EventStatus         Type = "status"
	EventLog            Type = "log"
	EventTradeEvent     Type = "trade_event"
	EventLearningStatus Type = "learning_status"
	EventBacktestStatus Type = "backtest_status"

	EventOrderPlaced    Type = "order_placed"
	EventOrderFilled    Type = "order_filled"
	EventPositionOpened Type = "position_opened"
	EventPositionClosed Type = "position_closed"
	EventDCAFilled      Type = "dca_filled"
	EventError          Type = "error"
)

// Event is one bus message.
type Event struct {
	Type      Type                   `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber handles events. Subscribers run on their own goroutine per
// event and must not assume ordering across events.
type Subscriber func(Event)

// Bus fans events out to subscribers.
type Bus struct {
	mu      sync.RWMutex
	subs    map[Type][]Subscriber
	allSubs []Subscriber
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Type][]Subscriber)}
}

// Subscribe registers a subscriber for one event type.
func (b *Bus) Subscribe(t Type, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[t] = append(b.subs[t], sub)
}

// SubscribeAll registers a subscriber for every event type.
func (b *Bus) SubscribeAll(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, sub)
}

// Publish delivers the event to subscribers without blocking the caller.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[event.Type] {
		go sub(event)
	}
	for _, sub := range b.allSubs {
		go sub(event)
	}
}

// PublishTradeEvent reports a fill the dashboard and notifier care about.
// Side is "BUY" or "SELL"; reason carries the originating rule text.
func (b *Bus) PublishTradeEvent(side, symbol string, price, volume, amount float64, reason string, pnlPct, pnlAmount float64) {
	b.Publish(Event{
		Type: EventTradeEvent,
		Data: map[string]interface{}{
			"side":       side,
			"symbol":     symbol,
			"price":      price,
			"volume":     volume,
			"amount":     amount,
			"reason":     reason,
			"pnl_pct":    pnlPct,
			"pnl_amount": pnlAmount,
		},
	})
}

// PublishLearningStatus reports learning pass progress.
func (b *Bus) PublishLearningStatus(stage string, progress float64, detail string) {
	b.Publish(Event{
		Type: EventLearningStatus,
		Data: map[string]interface{}{
			"stage":    stage,
			"progress": progress,
			"detail":   detail,
		},
	})
}

// PublishBacktestStatus reports backtest progress and, when finished,
// the result summary.
func (b *Bus) PublishBacktestStatus(stage string, progress float64, result interface{}) {
	data := map[string]interface{}{
		"stage":    stage,
		"progress": progress,
	}
	if result != nil {
		data["result"] = result
	}
	b.Publish(Event{Type: EventBacktestStatus, Data: data})
}

// PublishError reports a component failure.
func (b *Bus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	b.Publish(Event{Type: EventError, Data: data})
}
