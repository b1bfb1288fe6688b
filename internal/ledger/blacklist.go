package ledger

import (
	"sort"
	"sync"
)

// Blacklist modes.
const (
	BlacklistManual = "manual" // only operator edits
	BlacklistAuto   = "auto"   // learning pass may add symbols
)

// Blacklist is the set of symbols the loop refuses to buy. The learning
// pass feeds it in auto mode; the dashboard edits it in either mode.
type Blacklist struct {
	mu      sync.RWMutex
	symbols map[string]bool
	mode    string
}

// NewBlacklist creates an empty blacklist in auto mode.
func NewBlacklist() *Blacklist {
	return &Blacklist{symbols: make(map[string]bool), mode: BlacklistAuto}
}

// Contains reports whether symbol is blocked.
func (b *Blacklist) Contains(symbol string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.symbols[symbol]
}

// Add blocks a symbol.
func (b *Blacklist) Add(symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.symbols[symbol] = true
}

// Remove unblocks a symbol.
func (b *Blacklist) Remove(symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.symbols, symbol)
}

// SetMode switches between manual and auto.
func (b *Blacklist) SetMode(mode string) {
	if mode != BlacklistManual && mode != BlacklistAuto {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mode = mode
}

// Mode returns the active mode.
func (b *Blacklist) Mode() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.mode
}

// MergeLearned adds learning-pass symbols when in auto mode.
func (b *Blacklist) MergeLearned(symbols []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mode != BlacklistAuto {
		return
	}
	for _, s := range symbols {
		b.symbols[s] = true
	}
}

// blacklistState is the persisted form.
type blacklistState struct {
	Symbols []string `json:"symbols"`
	Mode    string   `json:"mode"`
}

// Symbols lists blocked symbols, sorted.
func (b *Blacklist) Symbols() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.symbols))
	for s := range b.symbols {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Restore replaces the blacklist from its persisted form.
func (b *Blacklist) restore(st blacklistState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.symbols = make(map[string]bool, len(st.Symbols))
	for _, s := range st.Symbols {
		b.symbols[s] = true
	}
	if st.Mode != "" {
		b.mode = st.Mode
	}
}
