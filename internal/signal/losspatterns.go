package signal

import (
	"fmt"
	"sync"
)

// Loss-pattern rule actions.
const (
	LossActionBlock = "block"
	LossActionWarn  = "warn"
)

// LossRule marks a market fingerprint that has repeatedly lost money.
// Rules are produced by the learning pass and consulted before every BUY.
type LossRule struct {
	RSIBand  string  `json:"rsi_band"`           // "30-40"
	BBBand   string  `json:"bb_band"`            // low | mid | high
	Hour     int     `json:"hour"`               // -1 matches any hour
	Regime   string  `json:"regime,omitempty"`   // empty matches any
	Symbol   string  `json:"symbol,omitempty"`   // empty matches any
	Action   string  `json:"action"`
	LossRate float64 `json:"loss_rate"`
	Trades   int     `json:"trades"`
}

// RSIBandOf buckets an RSI value into its 10-point band key.
func RSIBandOf(rsi float64) string {
	b := int(rsi/10) * 10
	if b < 0 {
		b = 0
	}
	if b > 90 {
		b = 90
	}
	return fmt.Sprintf("%d-%d", b, b+10)
}

// BBBandOf buckets a Bollinger price position.
func BBBandOf(pos float64) string {
	switch {
	case pos < 0.33:
		return "low"
	case pos < 0.66:
		return "mid"
	}
	return "high"
}

// Fingerprint is the buy-time context a rule matches against.
type Fingerprint struct {
	RSI        float64
	BBPosition float64
	Hour       int
	Regime     string
	Symbol     string
}

// LossPatterns holds the active rule set.
type LossPatterns struct {
	mu    sync.RWMutex
	rules []LossRule
}

func NewLossPatterns() *LossPatterns {
	return &LossPatterns{}
}

// Match returns the strongest matching rule: block beats warn.
func (l *LossPatterns) Match(fp Fingerprint) (LossRule, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rsiBand := RSIBandOf(fp.RSI)
	bbBand := BBBandOf(fp.BBPosition)

	var found LossRule
	var ok bool
	for _, r := range l.rules {
		if r.RSIBand != "" && r.RSIBand != rsiBand {
			continue
		}
		if r.BBBand != "" && r.BBBand != bbBand {
			continue
		}
		if r.Hour >= 0 && r.Hour != fp.Hour {
			continue
		}
		if r.Regime != "" && r.Regime != fp.Regime {
			continue
		}
		if r.Symbol != "" && r.Symbol != fp.Symbol {
			continue
		}
		if !ok || (found.Action == LossActionWarn && r.Action == LossActionBlock) {
			found, ok = r, true
		}
		if found.Action == LossActionBlock {
			break
		}
	}
	return found, ok
}

// Replace swaps in a freshly learned rule set.
func (l *LossPatterns) Replace(rules []LossRule) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rules = append([]LossRule(nil), rules...)
}

// Rules copies the active rule set.
func (l *LossPatterns) Rules() []LossRule {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]LossRule(nil), l.rules...)
}
