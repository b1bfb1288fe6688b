package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(ch chan Event, d time.Duration) (Event, bool) {
	select {
	case ev := <-ch:
		return ev, true
	case <-time.After(d):
		return Event{}, false
	}
}

func TestSubscribeByType(t *testing.T) {
	bus := NewBus()
	got := make(chan Event, 2)
	bus.Subscribe(EventPositionOpened, func(ev Event) { got <- ev })

	bus.Publish(Event{Type: EventPositionOpened, Data: map[string]interface{}{"symbol": "KRW-BTC"}})
	bus.Publish(Event{Type: EventPositionClosed})

	ev, ok := collect(got, time.Second)
	require.True(t, ok)
	assert.Equal(t, EventPositionOpened, ev.Type)
	assert.Equal(t, "KRW-BTC", ev.Data["symbol"])
	assert.False(t, ev.Timestamp.IsZero(), "publish stamps events")

	_, ok = collect(got, 50*time.Millisecond)
	assert.False(t, ok, "other types must not reach a typed subscriber")
}

func TestSubscribeAllSeesEverything(t *testing.T) {
	bus := NewBus()
	var mu sync.Mutex
	seen := make(map[Type]int)
	done := make(chan struct{}, 3)
	bus.SubscribeAll(func(ev Event) {
		mu.Lock()
		seen[ev.Type]++
		mu.Unlock()
		done <- struct{}{}
	})

	bus.Publish(Event{Type: EventStatus})
	bus.PublishError("scanner", "candle fetch failed", nil)
	bus.PublishLearningStatus("analyzing", 0.5, "")

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("subscriber never ran")
		}
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, seen[EventStatus])
	assert.Equal(t, 1, seen[EventError])
	assert.Equal(t, 1, seen[EventLearningStatus])
}

func TestPublishTradeEventShape(t *testing.T) {
	bus := NewBus()
	got := make(chan Event, 1)
	bus.Subscribe(EventTradeEvent, func(ev Event) { got <- ev })

	bus.PublishTradeEvent("SELL", "KRW-ETH", 4_200_000, 0.5, 2_100_000, "take profit", 3.2, 65_000.0)

	ev, ok := collect(got, time.Second)
	require.True(t, ok)
	assert.Equal(t, "SELL", ev.Data["side"])
	assert.Equal(t, "take profit", ev.Data["reason"])
	assert.Equal(t, 3.2, ev.Data["pnl_pct"])
}

func TestPublishDoesNotBlockOnSlowSubscriber(t *testing.T) {
	bus := NewBus()
	release := make(chan struct{})
	bus.Subscribe(EventStatus, func(Event) { <-release })

	start := time.Now()
	for i := 0; i < 10; i++ {
		bus.Publish(Event{Type: EventStatus})
	}
	assert.Less(t, time.Since(start), time.Second)
	close(release)
}
