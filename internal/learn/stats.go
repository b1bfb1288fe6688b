package learn

import (
	"sort"
	"time"
)

// Bucket is an aggregated slice of pairs.
type Bucket struct {
	Key      string  `json:"key"`
	Trades   int     `json:"trades"`
	Wins     int     `json:"wins"`
	AvgPnl   float64 `json:"avg_pnl"`
	TotalPnl float64 `json:"total_pnl"`
}

// WinRate returns wins over trades.
func (b Bucket) WinRate() float64 {
	if b.Trades == 0 {
		return 0
	}
	return float64(b.Wins) / float64(b.Trades)
}

// Stats groups pair performance along the axes the report and the
// blocklist builder read.
type Stats struct {
	PerSymbol  map[string]*Bucket `json:"per_symbol"`
	PerHour    map[int]*Bucket    `json:"per_hour"`
	PerWeekday map[int]*Bucket    `json:"per_weekday"`
	PerReason  map[string]*Bucket `json:"per_reason"`
	PerHold    map[string]*Bucket `json:"per_hold"`
}

// holdBucketOf labels a hold duration.
func holdBucketOf(d time.Duration) string {
	switch {
	case d < 30*time.Minute:
		return "<30m"
	case d < 2*time.Hour:
		return "30m-2h"
	case d < 6*time.Hour:
		return "2h-6h"
	case d < 24*time.Hour:
		return "6h-24h"
	}
	return ">24h"
}

func fold(b *Bucket, pnl float64) {
	b.Trades++
	if pnl > 0 {
		b.Wins++
	}
	b.TotalPnl += pnl
	b.AvgPnl = b.TotalPnl / float64(b.Trades)
}

// Collect computes all groupings in one pass.
func Collect(pairs []Pair) Stats {
	s := Stats{
		PerSymbol:  make(map[string]*Bucket),
		PerHour:    make(map[int]*Bucket),
		PerWeekday: make(map[int]*Bucket),
		PerReason:  make(map[string]*Bucket),
		PerHold:    make(map[string]*Bucket),
	}
	get := func(m map[string]*Bucket, key string) *Bucket {
		b, ok := m[key]
		if !ok {
			b = &Bucket{Key: key}
			m[key] = b
		}
		return b
	}
	getInt := func(m map[int]*Bucket, key int) *Bucket {
		b, ok := m[key]
		if !ok {
			b = &Bucket{}
			m[key] = b
		}
		return b
	}

	for _, p := range pairs {
		bt := time.UnixMilli(p.BuyTs)
		fold(get(s.PerSymbol, p.Symbol), p.PnlPct)
		fold(getInt(s.PerHour, bt.Hour()), p.PnlPct)
		fold(getInt(s.PerWeekday, int(bt.Weekday())), p.PnlPct)
		if p.Reason != "" {
			fold(get(s.PerReason, p.Reason), p.PnlPct)
		}
		fold(get(s.PerHold, holdBucketOf(time.Duration(p.HoldMs)*time.Millisecond)), p.PnlPct)
	}
	return s
}

// hoursRanked returns hours sorted by average pnl, best first, only
// hours with enough trades.
func hoursRanked(perHour map[int]*Bucket, minTrades int) []int {
	var hours []int
	for h, b := range perHour {
		if b.Trades >= minTrades {
			hours = append(hours, h)
		}
	}
	sort.Slice(hours, func(i, j int) bool {
		return perHour[hours[i]].AvgPnl > perHour[hours[j]].AvgPnl
	})
	return hours
}
