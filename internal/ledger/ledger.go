// Package ledger is the per-tenant durable state: the append-only
// trade journal, atomic JSON snapshots of positions and learned stores,
// the protected-coin list and the rolling P&L series. Files are the
// only channel between the online trading loop and the offline
// learning pass.
package ledger

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/rmsfid11-commits/trading-bot-sub000/internal/position"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/signal"
)

// File names under the tenant directory.
const (
	fileTrades     = "trades.jsonl"
	filePositions  = "positions.json"
	fileCombos     = "combo-stats.json"
	fileLossRules  = "loss-patterns.json"
	fileLearned    = "learned-params.json"
	fileProtected  = "protected-coins.json"
	filePnlMinutes = "pnl-minutes.json"
	fileBlacklist  = "blacklist.json"
)

// LearnedParams is the bounded-delta override record the learning pass
// writes and the strategy loader merges at the next boot or hot reload.
type LearnedParams struct {
	Params         map[string]float64 `json:"params"`
	Confidence     float64            `json:"confidence"`
	Blacklist      []string           `json:"blacklist"`
	PreferredHours []int              `json:"preferred_hours"`
	AvoidHours     []int              `json:"avoid_hours"`
	SymbolScores   map[string]float64 `json:"symbol_scores"`
	UpdatedTs      int64              `json:"updated_ts"`
}

// PositionsSnapshot is the persisted form of the open book.
type PositionsSnapshot struct {
	Positions []position.Position `json:"positions"`
	Day       position.DayStats   `json:"day"`
	DayKey    string              `json:"day_key"`
	UpdatedTs int64               `json:"updated_ts"`
}

// Ledger owns one tenant's files. Write failures are logged and leave
// in-memory state authoritative; the next mutation retries.
type Ledger struct {
	dir     string
	log     zerolog.Logger
	journal *Journal
	pnl     *PnlSeries
	black   *Blacklist
}

// Open prepares the tenant directory and its journal.
func Open(dir string, log zerolog.Logger) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	l := &Ledger{
		dir:     dir,
		log:     log.With().Str("component", "ledger").Logger(),
		journal: NewJournal(filepath.Join(dir, fileTrades)),
		pnl:     NewPnlSeries(),
		black:   NewBlacklist(),
	}
	l.loadPnl()
	l.loadBlacklist()
	return l, nil
}

// Dir returns the tenant directory.
func (l *Ledger) Dir() string { return l.dir }

// Journal exposes the trade journal.
func (l *Ledger) Journal() *Journal { return l.journal }

// Pnl exposes the rolling P&L series.
func (l *Ledger) Pnl() *PnlSeries { return l.pnl }

// Blacklist exposes the symbol blacklist.
func (l *Ledger) Blacklist() *Blacklist { return l.black }

func (l *Ledger) path(name string) string { return filepath.Join(l.dir, name) }

// save logs write failures instead of propagating them; in-memory
// state stays authoritative and the next mutation retries.
func (l *Ledger) save(name string, v interface{}) {
	if err := saveJSON(l.path(name), v); err != nil {
		l.log.Error().Err(err).Str("file", name).Msg("persist failed")
	}
}

// SavePositions snapshots the open book.
func (l *Ledger) SavePositions(book *position.Book) {
	l.save(filePositions, PositionsSnapshot{
		Positions: book.Snapshot(),
		Day:       book.Day(),
		DayKey:    book.DayKey(),
		UpdatedTs: time.Now().UnixMilli(),
	})
}

// LoadPositions restores the book from disk. Returns false on first
// boot.
func (l *Ledger) LoadPositions(book *position.Book) bool {
	var snap PositionsSnapshot
	if err := loadJSON(l.path(filePositions), &snap); err != nil {
		if !os.IsNotExist(err) {
			l.log.Warn().Err(err).Msg("positions snapshot unreadable")
		}
		return false
	}
	book.Restore(snap.Positions, snap.Day, snap.DayKey)
	return true
}

// SaveCombos persists the combo tracker.
func (l *Ledger) SaveCombos(t *signal.ComboTracker) {
	l.save(fileCombos, t.Snapshot())
}

// LoadCombos restores the combo tracker.
func (l *Ledger) LoadCombos(t *signal.ComboTracker) {
	var stats map[string]signal.ComboStats
	if err := loadJSON(l.path(fileCombos), &stats); err != nil {
		return
	}
	t.Restore(stats)
}

// SaveLossRules persists the loss-pattern rule set.
func (l *Ledger) SaveLossRules(rules []signal.LossRule) {
	l.save(fileLossRules, rules)
}

// LoadLossRules restores the loss-pattern store.
func (l *Ledger) LoadLossRules(lp *signal.LossPatterns) {
	var rules []signal.LossRule
	if err := loadJSON(l.path(fileLossRules), &rules); err != nil {
		return
	}
	lp.Replace(rules)
}

// SaveLearned persists the learned-parameter record.
func (l *Ledger) SaveLearned(p LearnedParams) {
	l.save(fileLearned, p)
}

// LoadLearned returns the learned record, nil when absent.
func (l *Ledger) LoadLearned() *LearnedParams {
	var p LearnedParams
	if err := loadJSON(l.path(fileLearned), &p); err != nil {
		return nil
	}
	return &p
}

// SaveProtected persists the protected-coin list.
func (l *Ledger) SaveProtected(symbols []string) {
	l.save(fileProtected, symbols)
}

// LoadProtected returns the protected-coin list and whether the file
// existed. Absence marks first tenant startup.
func (l *Ledger) LoadProtected() ([]string, bool) {
	var symbols []string
	if err := loadJSON(l.path(fileProtected), &symbols); err != nil {
		return nil, false
	}
	return symbols, true
}

// SavePnl persists the minute P&L series.
func (l *Ledger) SavePnl() {
	l.save(filePnlMinutes, l.pnl.Samples())
}

func (l *Ledger) loadPnl() {
	var samples []PnlSample
	if err := loadJSON(l.path(filePnlMinutes), &samples); err != nil {
		return
	}
	l.pnl.Restore(samples)
}

// SaveBlacklist persists the symbol blacklist.
func (l *Ledger) SaveBlacklist() {
	l.save(fileBlacklist, blacklistState{Symbols: l.black.Symbols(), Mode: l.black.Mode()})
}

func (l *Ledger) loadBlacklist() {
	var st blacklistState
	if err := loadJSON(l.path(fileBlacklist), &st); err != nil {
		return
	}
	l.black.restore(st)
}
