package patterns

import (
	"math"

	"github.com/rmsfid11-commits/trading-bot-sub000/internal/upbit"
)

// Chart pattern types.
const (
	DoubleTop           Type = "double_top"
	DoubleBottom        Type = "double_bottom"
	AscendingTriangle   Type = "ascending_triangle"
	DescendingTriangle  Type = "descending_triangle"
	SupportBounce       Type = "support_bounce"
	ResistanceRejection Type = "resistance_rejection"
)

const (
	chartLookback  = 60
	levelTolerance = 0.01 // two levels within 1% count as the same
	proximityPct   = 0.005
)

// ChartPattern is a multi-bar formation visible at the end of the series.
type ChartPattern struct {
	Type      Type    `json:"type"`
	Direction string  `json:"direction"`
	Strength  float64 `json:"strength"`
	Level     float64 `json:"level"` // the price level that defines the pattern
}

type swing struct {
	index int
	price float64
}

// DetectChartPatterns scans the last chartLookback bars for formations
// that are live on the final bar.
func DetectChartPatterns(candles []upbit.Candle) []ChartPattern {
	var out []ChartPattern
	if len(candles) < 20 {
		return out
	}
	window := candles
	if len(window) > chartLookback {
		window = window[len(window)-chartLookback:]
	}

	highs := swingHighs(window)
	lows := swingLows(window)
	last := window[len(window)-1]

	if p, ok := doubleTop(window, highs, lows); ok {
		out = append(out, p)
	}
	if p, ok := doubleBottom(window, highs, lows); ok {
		out = append(out, p)
	}
	if p, ok := ascendingTriangle(highs, lows, last); ok {
		out = append(out, p)
	}
	if p, ok := descendingTriangle(highs, lows, last); ok {
		out = append(out, p)
	}
	if p, ok := supportBounce(lows, last); ok {
		out = append(out, p)
	}
	if p, ok := resistanceRejection(highs, last); ok {
		out = append(out, p)
	}
	return out
}

// swingHighs returns local highs confirmed by two lower highs on each side.
func swingHighs(candles []upbit.Candle) []swing {
	var out []swing
	for i := 2; i < len(candles)-2; i++ {
		h := candles[i].High
		if h > candles[i-1].High && h > candles[i-2].High &&
			h > candles[i+1].High && h > candles[i+2].High {
			out = append(out, swing{i, h})
		}
	}
	return out
}

func swingLows(candles []upbit.Candle) []swing {
	var out []swing
	for i := 2; i < len(candles)-2; i++ {
		l := candles[i].Low
		if l < candles[i-1].Low && l < candles[i-2].Low &&
			l < candles[i+1].Low && l < candles[i+2].Low {
			out = append(out, swing{i, l})
		}
	}
	return out
}

func sameLevel(a, b float64) bool {
	if a == 0 {
		return false
	}
	return math.Abs(a-b)/a <= levelTolerance
}

func doubleTop(candles []upbit.Candle, highs, lows []swing) (ChartPattern, bool) {
	if len(highs) < 2 {
		return ChartPattern{}, false
	}
	a, b := highs[len(highs)-2], highs[len(highs)-1]
	if !sameLevel(a.price, b.price) {
		return ChartPattern{}, false
	}
	neck, ok := lowestBetween(lows, a.index, b.index)
	if !ok {
		return ChartPattern{}, false
	}
	// Confirmed once price closes below the neckline.
	if candles[len(candles)-1].Close >= neck {
		return ChartPattern{}, false
	}
	level := (a.price + b.price) / 2
	return ChartPattern{DoubleTop, Bearish, 0.75, level}, true
}

func doubleBottom(candles []upbit.Candle, highs, lows []swing) (ChartPattern, bool) {
	if len(lows) < 2 {
		return ChartPattern{}, false
	}
	a, b := lows[len(lows)-2], lows[len(lows)-1]
	if !sameLevel(a.price, b.price) {
		return ChartPattern{}, false
	}
	neck, ok := highestBetween(highs, a.index, b.index)
	if !ok {
		return ChartPattern{}, false
	}
	if candles[len(candles)-1].Close <= neck {
		return ChartPattern{}, false
	}
	level := (a.price + b.price) / 2
	return ChartPattern{DoubleBottom, Bullish, 0.75, level}, true
}

func lowestBetween(lows []swing, from, to int) (float64, bool) {
	best := math.MaxFloat64
	found := false
	for _, s := range lows {
		if s.index > from && s.index < to && s.price < best {
			best = s.price
			found = true
		}
	}
	return best, found
}

func highestBetween(highs []swing, from, to int) (float64, bool) {
	best := 0.0
	found := false
	for _, s := range highs {
		if s.index > from && s.index < to && s.price > best {
			best = s.price
			found = true
		}
	}
	return best, found
}

func ascendingTriangle(highs, lows []swing, last upbit.Candle) (ChartPattern, bool) {
	if len(highs) < 2 || len(lows) < 2 {
		return ChartPattern{}, false
	}
	h1, h2 := highs[len(highs)-2], highs[len(highs)-1]
	l1, l2 := lows[len(lows)-2], lows[len(lows)-1]
	if !sameLevel(h1.price, h2.price) {
		return ChartPattern{}, false
	}
	if l2.price <= l1.price*(1+levelTolerance/2) {
		return ChartPattern{}, false
	}
	resistance := (h1.price + h2.price) / 2
	// Price must still be coiling under the flat top.
	if last.Close > resistance*(1+levelTolerance) {
		return ChartPattern{}, false
	}
	return ChartPattern{AscendingTriangle, Bullish, 0.65, resistance}, true
}

func descendingTriangle(highs, lows []swing, last upbit.Candle) (ChartPattern, bool) {
	if len(highs) < 2 || len(lows) < 2 {
		return ChartPattern{}, false
	}
	h1, h2 := highs[len(highs)-2], highs[len(highs)-1]
	l1, l2 := lows[len(lows)-2], lows[len(lows)-1]
	if !sameLevel(l1.price, l2.price) {
		return ChartPattern{}, false
	}
	if h2.price >= h1.price*(1-levelTolerance/2) {
		return ChartPattern{}, false
	}
	support := (l1.price + l2.price) / 2
	if last.Close < support*(1-levelTolerance) {
		return ChartPattern{}, false
	}
	return ChartPattern{DescendingTriangle, Bearish, 0.65, support}, true
}

// supportBounce fires when the last bar dips to a prior swing low and
// closes back up.
func supportBounce(lows []swing, last upbit.Candle) (ChartPattern, bool) {
	if !isBull(last) {
		return ChartPattern{}, false
	}
	for i := len(lows) - 1; i >= 0; i-- {
		level := lows[i].price
		if level == 0 {
			continue
		}
		if math.Abs(last.Low-level)/level <= proximityPct && last.Close > level {
			return ChartPattern{SupportBounce, Bullish, 0.55, level}, true
		}
	}
	return ChartPattern{}, false
}

func resistanceRejection(highs []swing, last upbit.Candle) (ChartPattern, bool) {
	if !isBear(last) {
		return ChartPattern{}, false
	}
	for i := len(highs) - 1; i >= 0; i-- {
		level := highs[i].price
		if level == 0 {
			continue
		}
		if math.Abs(last.High-level)/level <= proximityPct && last.Close < level {
			return ChartPattern{ResistanceRejection, Bearish, 0.55, level}, true
		}
	}
	return ChartPattern{}, false
}
