package signal

import (
	"sync"
)

const (
	comboRecentKeep   = 20
	comboMinTrades    = 3
	comboBlockTrades  = 5
	comboBlockWinrate = 0.25
)

// ComboStats is the running record for one reason combination.
type ComboStats struct {
	Trades      int       `json:"trades"`
	Wins        int       `json:"wins"`
	Losses      int       `json:"losses"`
	TotalPnlPct float64   `json:"total_pnl_pct"`
	AvgBuyScore float64   `json:"avg_buy_score"`
	RecentPnls  []float64 `json:"recent_pnls"`
}

// WinRate returns wins over trades, 0 when empty.
func (s ComboStats) WinRate() float64 {
	if s.Trades == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Trades)
}

// AvgPnl returns mean realized percent per trade.
func (s ComboStats) AvgPnl() float64 {
	if s.Trades == 0 {
		return 0
	}
	return s.TotalPnlPct / float64(s.Trades)
}

// ComboTracker learns how each reason combination performs. It updates
// online on every SELL and is consulted on every BUY evaluation.
type ComboTracker struct {
	mu    sync.RWMutex
	stats map[string]*ComboStats
}

func NewComboTracker() *ComboTracker {
	return &ComboTracker{stats: make(map[string]*ComboStats)}
}

// Record folds one realized trade into the combo keyed by the buy's
// reason set.
func (t *ComboTracker) Record(reasons ReasonSet, pnlPct, buyScore float64) {
	key := reasons.String()
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.stats[key]
	if !ok {
		s = &ComboStats{}
		t.stats[key] = s
	}
	s.Trades++
	if pnlPct > 0 {
		s.Wins++
	} else {
		s.Losses++
	}
	s.TotalPnlPct += pnlPct
	s.AvgBuyScore += (buyScore - s.AvgBuyScore) / float64(s.Trades)
	s.RecentPnls = append(s.RecentPnls, pnlPct)
	if len(s.RecentPnls) > comboRecentKeep {
		s.RecentPnls = s.RecentPnls[len(s.RecentPnls)-comboRecentKeep:]
	}
}

// Lookup returns the score adjustment for a candidate reason set and
// whether the combo is blocked outright.
func (t *ComboTracker) Lookup(reasons ReasonSet) (adjustment float64, block bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.stats[reasons.String()]
	if !ok || s.Trades < comboMinTrades {
		return 0, false
	}

	win := s.WinRate()
	if s.Trades >= comboBlockTrades && win < comboBlockWinrate {
		return 0, true
	}

	adj := (win-0.5)*2 + s.AvgPnl()*0.3
	if adj > 1 {
		adj = 1
	} else if adj < -1 {
		adj = -1
	}
	return adj, false
}

// Snapshot copies the stats map for persistence and dashboards.
func (t *ComboTracker) Snapshot() map[string]ComboStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]ComboStats, len(t.stats))
	for k, v := range t.stats {
		cp := *v
		cp.RecentPnls = append([]float64(nil), v.RecentPnls...)
		out[k] = cp
	}
	return out
}

// Restore replaces the tracker contents, used at boot from the ledger.
func (t *ComboTracker) Restore(stats map[string]ComboStats) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats = make(map[string]*ComboStats, len(stats))
	for k, v := range stats {
		cp := v
		cp.RecentPnls = append([]float64(nil), v.RecentPnls...)
		t.stats[k] = &cp
	}
}
