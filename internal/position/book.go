package position

import (
	"sort"
	"sync"
	"time"
)

// DayStats summarizes realized results for the current calendar day.
type DayStats struct {
	PnlKRW    float64 `json:"pnl_krw"`
	Buys      int     `json:"buys"`
	Sells     int     `json:"sells"`
	Wins      int     `json:"wins"`
	Losses    int     `json:"losses"`
	BestPct   float64 `json:"best_pct"`
	WorstPct  float64 `json:"worst_pct"`
	VolumeKRW float64 `json:"volume_krw"`
}

// WinRate returns today's win rate over closed sells.
func (d DayStats) WinRate() float64 {
	if d.Sells == 0 {
		return 0
	}
	return float64(d.Wins) / float64(d.Sells)
}

// Book owns every open position for one tenant plus the rolling risk
// counters the governor and adaptive filter read. Single writer (the
// trading loop); snapshot reads for everyone else.
type Book struct {
	mu        sync.RWMutex
	positions map[string]*Position
	protected map[string]bool

	day        DayStats
	dayKey     string // YYYY-MM-DD the counters belong to
	consecLoss int
	totalPnl   float64
	totalSells int
	totalWins  int

	buyTimes   []time.Time
	lastSell   map[string]time.Time
	lastLossAt time.Time

	initialBalance float64
	now            func() time.Time
}

// NewBook creates an empty book.
func NewBook() *Book {
	return &Book{
		positions: make(map[string]*Position),
		protected: make(map[string]bool),
		lastSell:  make(map[string]time.Time),
		now:       time.Now,
	}
}

// SetInitialBalance records the balance the percent-based daily loss
// limit is measured against.
func (b *Book) SetInitialBalance(v float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.initialBalance == 0 {
		b.initialBalance = v
	}
}

// Get returns the open position for symbol, nil when flat.
func (b *Book) Get(symbol string) *Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.positions[symbol]
}

// Has reports whether symbol holds a position.
func (b *Book) Has(symbol string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.positions[symbol]
	return ok
}

// Set installs or replaces a position.
func (b *Book) Set(p *Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions[p.Symbol] = p
}

// Remove drops a position from the book.
func (b *Book) Remove(symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.positions, symbol)
}

// Count returns the number of open positions.
func (b *Book) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.positions)
}

// Symbols lists held symbols, sorted for deterministic iteration.
func (b *Book) Symbols() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.positions))
	for s := range b.positions {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Snapshot copies every open position.
func (b *Book) Snapshot() []Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Restore replaces the book contents from a persisted snapshot.
func (b *Book) Restore(positions []Position, day DayStats, dayKey string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions = make(map[string]*Position, len(positions))
	for i := range positions {
		p := positions[i]
		b.positions[p.Symbol] = &p
	}
	b.day = day
	b.dayKey = dayKey
}

// Protect marks a symbol as exempt from all sell logic.
func (b *Book) Protect(symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.protected[symbol] = true
}

// IsProtected reports whether symbol is on the protected list.
func (b *Book) IsProtected(symbol string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.protected[symbol]
}

// ProtectedList copies the protected symbols, sorted.
func (b *Book) ProtectedList() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.protected))
	for s := range b.protected {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// RestoreProtected loads the persisted protected-coin list.
func (b *Book) RestoreProtected(symbols []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range symbols {
		b.protected[s] = true
	}
}

// RecordBuy notes a buy for the hourly rate limit.
func (b *Book) RecordBuy(t time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollDay(t)
	b.day.Buys++
	b.buyTimes = append(b.buyTimes, t)
	b.pruneBuys(t)
}

// RecordSell folds one realized exit into the day and lifetime
// counters. pnlKRW may be zero for synthetic rows.
func (b *Book) RecordSell(symbol string, t time.Time, pnlPct, pnlKRW, amount float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollDay(t)

	b.day.Sells++
	b.day.PnlKRW += pnlKRW
	b.day.VolumeKRW += amount
	switch {
	case pnlPct > 0:
		b.day.Wins++
		b.totalWins++
		b.consecLoss = 0
	case pnlPct < 0:
		b.day.Losses++
		b.consecLoss++
		b.lastLossAt = t
	}
	// A flat exit is neither: it leaves the loss streak untouched.
	if pnlPct > b.day.BestPct {
		b.day.BestPct = pnlPct
	}
	if pnlPct < b.day.WorstPct {
		b.day.WorstPct = pnlPct
	}
	b.totalPnl += pnlKRW
	b.totalSells++
	b.lastSell[symbol] = t
}

// rollDay resets the day counters at midnight. Callers hold the lock.
func (b *Book) rollDay(t time.Time) {
	key := t.Format("2006-01-02")
	if b.dayKey != key {
		b.dayKey = key
		b.day = DayStats{}
		b.buyTimes = nil
	}
}

// pruneBuys drops hour-old buy timestamps. Callers hold the lock.
func (b *Book) pruneBuys(now time.Time) {
	cutoff := now.Add(-time.Hour)
	i := 0
	for ; i < len(b.buyTimes); i++ {
		if b.buyTimes[i].After(cutoff) {
			break
		}
	}
	b.buyTimes = b.buyTimes[i:]
}

// Day returns today's realized stats.
func (b *Book) Day() DayStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.day
}

// DayKey returns the calendar day the counters belong to.
func (b *Book) DayKey() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dayKey
}

// Totals returns lifetime realized pnl, sells and wins.
func (b *Book) Totals() (pnlKRW float64, sells, wins int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.totalPnl, b.totalSells, b.totalWins
}

// ConsecutiveLosses returns the current losing streak.
func (b *Book) ConsecutiveLosses() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.consecLoss
}

// LastLossAt returns when the streak's latest loss landed.
func (b *Book) LastLossAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastLossAt
}

// BuysInLastHour counts buys inside the rolling hour.
func (b *Book) BuysInLastHour(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneBuys(now)
	return len(b.buyTimes)
}

// LastSellAt returns the most recent sell time for symbol.
func (b *Book) LastSellAt(symbol string) (time.Time, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.lastSell[symbol]
	return t, ok
}

// InitialBalance returns the balance recorded at first startup.
func (b *Book) InitialBalance() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.initialBalance
}
