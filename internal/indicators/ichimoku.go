package indicators

import (
	"math"

	"github.com/rmsfid11-commits/trading-bot-sub000/internal/upbit"
)

// IchimokuResult reduces the cloud to the signals the compositor uses:
// price vs cloud, the tenkan/kijun cross, and the lagging-span check.
type IchimokuResult struct {
	Tenkan        float64 `json:"tenkan"`
	Kijun         float64 `json:"kijun"`
	SpanA         float64 `json:"span_a"`
	SpanB         float64 `json:"span_b"`
	AboveCloud    bool    `json:"above_cloud"`
	BelowCloud    bool    `json:"below_cloud"`
	TKCross       string  `json:"tk_cross"` // "bullish", "bearish" or "none"
	ChikouBullish bool    `json:"chikou_bullish"`
}

// Ichimoku computes the standard 9/26/52 system. The cloud under the
// current bar is the span pair projected from 26 bars back.
func Ichimoku(candles []upbit.Candle) *IchimokuResult {
	const (
		tenkanP = 9
		kijunP  = 26
		spanBP  = 52
		shift   = 26
	)
	n := len(candles)
	if n < spanBP+shift {
		return nil
	}

	res := &IchimokuResult{TKCross: "none"}
	res.Tenkan = midpoint(candles, tenkanP)
	res.Kijun = midpoint(candles, kijunP)

	shifted := candles[:n-shift]
	res.SpanA = (midpoint(shifted, tenkanP) + midpoint(shifted, kijunP)) / 2
	res.SpanB = midpoint(shifted, spanBP)

	last := candles[n-1].Close
	top := math.Max(res.SpanA, res.SpanB)
	bottom := math.Min(res.SpanA, res.SpanB)
	res.AboveCloud = last > top
	res.BelowCloud = last < bottom

	prev := candles[:n-1]
	prevTenkan := midpoint(prev, tenkanP)
	prevKijun := midpoint(prev, kijunP)
	switch {
	case prevTenkan <= prevKijun && res.Tenkan > res.Kijun:
		res.TKCross = "bullish"
	case prevTenkan >= prevKijun && res.Tenkan < res.Kijun:
		res.TKCross = "bearish"
	}

	res.ChikouBullish = last > candles[n-1-shift].Close
	return res
}

// midpoint is (highest high + lowest low) / 2 over the last period bars.
func midpoint(candles []upbit.Candle, period int) float64 {
	window := candles[len(candles)-period:]
	hi, lo := window[0].High, window[0].Low
	for _, c := range window[1:] {
		hi = math.Max(hi, c.High)
		lo = math.Min(lo, c.Low)
	}
	return (hi + lo) / 2
}
