package logging

import (
	"encoding/json"
	"sync"
	"time"
)

// DefaultTailSize is how many log entries a Recorder retains.
const DefaultTailSize = 500

// Entry is one recorded log event in the form the dashboard serves.
type Entry struct {
	Time      time.Time `json:"time"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Tenant    string    `json:"tenant,omitempty"`
	Component string    `json:"component,omitempty"`
	Symbol    string    `json:"symbol,omitempty"`
}

// Recorder is an io.Writer for zerolog that keeps a bounded ring of
// recent entries and fans each entry out to subscribers. Slow
// subscribers lose events rather than block the logger.
type Recorder struct {
	mu     sync.RWMutex
	ring   []Entry
	head   int
	filled bool

	nextSub int
	subs    map[int]chan Entry
}

// NewRecorder returns a Recorder retaining up to size entries.
// size <= 0 falls back to DefaultTailSize.
func NewRecorder(size int) *Recorder {
	if size <= 0 {
		size = DefaultTailSize
	}
	return &Recorder{
		ring: make([]Entry, size),
		subs: make(map[int]chan Entry),
	}
}

// Write parses one zerolog JSON line and records it. Non-JSON input is
// ignored so the Recorder can sit behind any writer arrangement.
func (r *Recorder) Write(p []byte) (int, error) {
	var raw struct {
		Level     string    `json:"level"`
		Time      time.Time `json:"time"`
		Message   string    `json:"message"`
		Tenant    string    `json:"tenant"`
		Component string    `json:"component"`
		Symbol    string    `json:"symbol"`
	}
	if err := json.Unmarshal(p, &raw); err != nil {
		return len(p), nil
	}
	e := Entry{
		Time:      raw.Time,
		Level:     raw.Level,
		Message:   raw.Message,
		Tenant:    raw.Tenant,
		Component: raw.Component,
		Symbol:    raw.Symbol,
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	r.mu.Lock()
	r.ring[r.head] = e
	r.head = (r.head + 1) % len(r.ring)
	if r.head == 0 {
		r.filled = true
	}
	for _, ch := range r.subs {
		select {
		case ch <- e:
		default:
		}
	}
	r.mu.Unlock()
	return len(p), nil
}

// Recent returns up to n entries, oldest first.
func (r *Recorder) Recent(n int) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	size := r.head
	if r.filled {
		size = len(r.ring)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]Entry, 0, n)
	start := r.head - n
	if start < 0 {
		start += len(r.ring)
	}
	for i := 0; i < n; i++ {
		out = append(out, r.ring[(start+i)%len(r.ring)])
	}
	return out
}

// Subscribe registers a listener. The returned cancel function must be
// called to release the subscription.
func (r *Recorder) Subscribe(buffer int) (<-chan Entry, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Entry, buffer)

	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		if sub, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(sub)
		}
		r.mu.Unlock()
	}
	return ch, cancel
}
