package indicators

import (
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/upbit"
)

// Squeeze reports whether Bollinger bandwidth is unusually tight, which
// often precedes a directional expansion.
type Squeeze struct {
	On         bool    `json:"on"`
	WidthPct   float64 `json:"width_pct"`
	Percentile float64 `json:"percentile"` // rank of the current width among recent windows
}

// BBSqueeze ranks the current 20-bar bandwidth against up to the last
// 50 rolling windows.
func BBSqueeze(candles []upbit.Candle) *Squeeze {
	const (
		period  = 20
		history = 50
	)
	if len(candles) < period+10 {
		return nil
	}

	windows := len(candles) - period + 1
	if windows > history {
		windows = history
	}
	widths := make([]float64, 0, windows)
	for w := 0; w < windows; w++ {
		end := len(candles) - w
		bb := Bollinger(candles[:end], period, 2)
		if bb == nil {
			break
		}
		widths = append(widths, bb.BandwidthPct)
	}
	if len(widths) < 10 {
		return nil
	}

	current := widths[0]
	below := 0
	for _, w := range widths[1:] {
		if w < current {
			below++
		}
	}
	pct := float64(below) / float64(len(widths)-1)
	return &Squeeze{
		On:         pct <= 0.2 && current < 5,
		WidthPct:   current,
		Percentile: pct,
	}
}

// Breakout is the volatility-breakout check: the current bar triggers
// when it trades above its open plus k times the previous bar's range.
type Breakout struct {
	Target    float64 `json:"target"`
	Triggered bool    `json:"triggered"`
}

// VolatilityBreakout computes the k-range breakout target on the last
// two bars of the series.
func VolatilityBreakout(candles []upbit.Candle, k float64) *Breakout {
	if len(candles) < 2 || k <= 0 {
		return nil
	}
	prev := candles[len(candles)-2]
	cur := candles[len(candles)-1]
	target := cur.Open + (prev.High-prev.Low)*k
	return &Breakout{
		Target:    target,
		Triggered: cur.High >= target && target > cur.Open,
	}
}
