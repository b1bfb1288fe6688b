package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Journal actions.
const (
	ActionBuy         = "BUY"
	ActionDCA         = "DCA"
	ActionSell        = "SELL"
	ActionPartialSell = "PARTIAL_SELL"
	ActionForceRemove = "FORCE_REMOVE"
)

// Entry is one trade journal row. Exits always carry explicit pnl
// figures; replay never estimates them. OrderID is the idempotency key
// for restart recovery.
type Entry struct {
	Ts        int64                  `json:"ts_ms"`
	Symbol    string                 `json:"symbol"`
	Action    string                 `json:"action"`
	Price     float64                `json:"price"`
	Quantity  float64                `json:"quantity"`
	Amount    float64                `json:"amount"`
	Reason    string                 `json:"reason"`
	PnlPct    *float64               `json:"pnl_pct,omitempty"`
	PnlAmount *float64               `json:"pnl_amount,omitempty"`
	Snapshot  map[string]interface{} `json:"snapshot,omitempty"`
	Regime    string                 `json:"regime,omitempty"`
	UserID    string                 `json:"user_id,omitempty"`
	OrderID   string                 `json:"order_id,omitempty"`
	BuyScore  float64                `json:"buy_score,omitempty"`
	Reasons   uint8                  `json:"reasons,omitempty"` // signal.ReasonSet bits at buy time
}

// Time returns the entry timestamp.
func (e Entry) Time() time.Time { return time.UnixMilli(e.Ts) }

// IsExit reports whether the row realizes P&L.
func (e Entry) IsExit() bool {
	return e.Action == ActionSell || e.Action == ActionPartialSell
}

// Journal is the append-only per-tenant trade log: one JSON object per
// line, never rewritten in place.
type Journal struct {
	mu   sync.Mutex
	path string
}

// NewJournal opens (or names) the journal file.
func NewJournal(path string) *Journal {
	return &Journal{path: path}
}

// Append writes one row with a trailing newline.
func (j *Journal) Append(e Entry) error {
	if e.Ts == 0 {
		e.Ts = time.Now().UnixMilli()
	}
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal journal row: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append journal: %w", err)
	}
	return nil
}

// ReadAll parses every row. Unparseable lines are skipped, never fatal.
// A missing file yields an empty slice.
func (j *Journal) ReadAll() ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	var out []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, sc.Err()
}

// Tail returns the last n rows, newest first.
func (j *Journal) Tail(n int) ([]Entry, error) {
	all, err := j.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(all) > n {
		all = all[len(all)-n:]
	}
	// reverse chronological
	for i, k := 0, len(all)-1; i < k; i, k = i+1, k-1 {
		all[i], all[k] = all[k], all[i]
	}
	return all, nil
}

// DayReplay is the state reconstructed from today's journal rows.
type DayReplay struct {
	PnlKRW   float64
	Buys     int
	Sells    int
	Wins     int
	Losses   int
	BestPct  float64
	WorstPct float64
	SeenIDs  map[string]bool // order ids already journaled, for idempotent recovery
}

// ReplayDay folds the given day's rows into daily P&L and today stats.
// Only explicit pnl_amount values count; synthetic sells with null pnl
// contribute nothing.
func (j *Journal) ReplayDay(day time.Time) (DayReplay, error) {
	rep := DayReplay{SeenIDs: make(map[string]bool)}
	all, err := j.ReadAll()
	if err != nil {
		return rep, err
	}

	y, m, d := day.Date()
	for _, e := range all {
		et := e.Time().In(day.Location())
		ey, em, ed := et.Date()
		if ey != y || em != m || ed != d {
			continue
		}
		if e.OrderID != "" {
			rep.SeenIDs[e.OrderID] = true
		}
		switch e.Action {
		case ActionBuy, ActionDCA:
			rep.Buys++
		case ActionSell, ActionPartialSell:
			rep.Sells++
			if e.PnlAmount != nil {
				rep.PnlKRW += *e.PnlAmount
			}
			if e.PnlPct != nil {
				if *e.PnlPct > 0 {
					rep.Wins++
				} else {
					rep.Losses++
				}
				if *e.PnlPct > rep.BestPct {
					rep.BestPct = *e.PnlPct
				}
				if *e.PnlPct < rep.WorstPct {
					rep.WorstPct = *e.PnlPct
				}
			}
		}
	}
	return rep, nil
}
