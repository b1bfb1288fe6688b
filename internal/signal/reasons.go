// Package signal turns an indicator bundle and market-context fragments
// into one scored BUY/SELL/HOLD decision, gated by learned combo stats
// and loss-pattern rules. Scoring is pure: it reads the stores but never
// writes them and never touches the exchange.
package signal

import "strings"

// ReasonSet is a bitset of signal families that contributed to a buy
// decision. It keys the combo tracker; the human-readable string is
// derived from it, never parsed back.
type ReasonSet uint8

const (
	ReasonRSI ReasonSet = 1 << iota
	ReasonBB
	ReasonVOL
	ReasonMACD
	ReasonMTF
	ReasonSENT
	ReasonPAT
	ReasonCHART
)

var reasonNames = []struct {
	bit  ReasonSet
	name string
}{
	{ReasonRSI, "RSI"},
	{ReasonBB, "BB"},
	{ReasonVOL, "VOL"},
	{ReasonMACD, "MACD"},
	{ReasonMTF, "MTF"},
	{ReasonSENT, "SENT"},
	{ReasonPAT, "PAT"},
	{ReasonCHART, "CHART"},
}

// Add returns the set with the family included.
func (r ReasonSet) Add(f ReasonSet) ReasonSet { return r | f }

// Has reports whether the family contributed.
func (r ReasonSet) Has(f ReasonSet) bool { return r&f != 0 }

// Count returns the number of contributing families.
func (r ReasonSet) Count() int {
	n := 0
	for _, rn := range reasonNames {
		if r.Has(rn.bit) {
			n++
		}
	}
	return n
}

// Families lists contributing family names in canonical order.
func (r ReasonSet) Families() []string {
	var out []string
	for _, rn := range reasonNames {
		if r.Has(rn.bit) {
			out = append(out, rn.name)
		}
	}
	return out
}

// String renders the canonical combo key, e.g. "RSI+BB+VOL".
func (r ReasonSet) String() string {
	fams := r.Families()
	if len(fams) == 0 {
		return "NONE"
	}
	return strings.Join(fams, "+")
}

// ParseReasonSet rebuilds a set from its canonical key. Unknown names
// are ignored.
func ParseReasonSet(key string) ReasonSet {
	var r ReasonSet
	for _, part := range strings.Split(key, "+") {
		for _, rn := range reasonNames {
			if part == rn.name {
				r = r.Add(rn.bit)
			}
		}
	}
	return r
}
