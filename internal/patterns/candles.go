// Package patterns detects candlestick and chart formations at the tail
// of a candle sequence. The signal engine scores only patterns that
// complete on the most recent bar, so every detector here looks at the
// end of the series.
package patterns

import (
	"math"

	"github.com/rmsfid11-commits/trading-bot-sub000/internal/upbit"
)

// Type identifies a candlestick pattern.
type Type string

const (
	Hammer             Type = "hammer"
	InvertedHammer     Type = "inverted_hammer"
	BullishEngulfing   Type = "bullish_engulfing"
	BearishEngulfing   Type = "bearish_engulfing"
	BullishHarami      Type = "bullish_harami"
	BearishHarami      Type = "bearish_harami"
	MorningStar        Type = "morning_star"
	EveningStar        Type = "evening_star"
	ThreeWhiteSoldiers Type = "three_white_soldiers"
	ThreeBlackCrows    Type = "three_black_crows"
	Doji               Type = "doji"
	DragonflyDoji      Type = "dragonfly_doji"
	GravestoneDoji     Type = "gravestone_doji"
)

// Direction labels which way a pattern leans.
const (
	Bullish = "bullish"
	Bearish = "bearish"
	Neutral = "neutral"
)

// Detected is one pattern completing on the last bar.
type Detected struct {
	Type      Type    `json:"type"`
	Direction string  `json:"direction"`
	Strength  float64 `json:"strength"` // 0..1
}

// DetectCandlesticks returns every candlestick pattern that completes
// on the final bar of the series.
func DetectCandlesticks(candles []upbit.Candle) []Detected {
	var out []Detected
	n := len(candles)
	if n == 0 {
		return out
	}

	last := candles[n-1]
	var prev, third *upbit.Candle
	if n >= 2 {
		prev = &candles[n-2]
	}
	if n >= 3 {
		third = &candles[n-3]
	}
	downtrend := trendBefore(candles, 5) < 0
	uptrend := trendBefore(candles, 5) > 0

	if isHammer(last) && downtrend {
		out = append(out, Detected{Hammer, Bullish, hammerStrength(last)})
	}
	if isInvertedHammer(last) && downtrend {
		out = append(out, Detected{InvertedHammer, Bullish, 0.55})
	}

	if prev != nil {
		if isBullishEngulfing(*prev, last) {
			out = append(out, Detected{BullishEngulfing, Bullish, 0.75})
		}
		if isBearishEngulfing(*prev, last) {
			out = append(out, Detected{BearishEngulfing, Bearish, 0.75})
		}
		if isBullishHarami(*prev, last) {
			out = append(out, Detected{BullishHarami, Bullish, 0.6})
		}
		if isBearishHarami(*prev, last) {
			out = append(out, Detected{BearishHarami, Bearish, 0.6})
		}
	}

	if third != nil && prev != nil {
		if isMorningStar(*third, *prev, last) {
			out = append(out, Detected{MorningStar, Bullish, 0.85})
		}
		if isEveningStar(*third, *prev, last) {
			out = append(out, Detected{EveningStar, Bearish, 0.85})
		}
		if isThreeWhiteSoldiers(*third, *prev, last) {
			out = append(out, Detected{ThreeWhiteSoldiers, Bullish, 0.8})
		}
		if isThreeBlackCrows(*third, *prev, last) {
			out = append(out, Detected{ThreeBlackCrows, Bearish, 0.8})
		}
	}

	switch {
	case isDragonflyDoji(last):
		out = append(out, Detected{DragonflyDoji, Bullish, 0.62})
	case isGravestoneDoji(last):
		out = append(out, Detected{GravestoneDoji, Bearish, 0.62})
	case isDoji(last):
		dir := Neutral
		if uptrend || downtrend {
			// A doji after a directional run reads as exhaustion.
			dir = Bullish
			if uptrend {
				dir = Bearish
			}
		}
		out = append(out, Detected{Doji, dir, 0.5})
	}

	return out
}

// trendBefore measures the percent drift of closes over the k bars
// preceding the final bar. Values inside ±0.5% read as flat.
func trendBefore(candles []upbit.Candle, k int) int {
	n := len(candles)
	if n < k+2 {
		return 0
	}
	from := candles[n-2-k].Close
	to := candles[n-2].Close
	if from == 0 {
		return 0
	}
	drift := (to - from) / from * 100
	if drift > 0.5 {
		return 1
	}
	if drift < -0.5 {
		return -1
	}
	return 0
}

func body(c upbit.Candle) float64      { return math.Abs(c.Close - c.Open) }
func upperWick(c upbit.Candle) float64 { return c.High - math.Max(c.Open, c.Close) }
func lowerWick(c upbit.Candle) float64 { return math.Min(c.Open, c.Close) - c.Low }
func isBull(c upbit.Candle) bool       { return c.Close > c.Open }
func isBear(c upbit.Candle) bool       { return c.Close < c.Open }

func isHammer(c upbit.Candle) bool {
	b := body(c)
	if b == 0 {
		return false
	}
	return lowerWick(c) >= 2*b && upperWick(c) <= 0.3*b
}

func hammerStrength(c upbit.Candle) float64 {
	span := c.High - c.Low
	if span == 0 {
		return 0.5
	}
	return clamp01(0.4 + lowerWick(c)/span*0.6)
}

func isInvertedHammer(c upbit.Candle) bool {
	b := body(c)
	if b == 0 {
		return false
	}
	return upperWick(c) >= 2*b && lowerWick(c) <= 0.3*b
}

func isBullishEngulfing(c1, c2 upbit.Candle) bool {
	return isBear(c1) && isBull(c2) && c2.Open <= c1.Close && c2.Close >= c1.Open
}

func isBearishEngulfing(c1, c2 upbit.Candle) bool {
	return isBull(c1) && isBear(c2) && c2.Open >= c1.Close && c2.Close <= c1.Open
}

func isBullishHarami(c1, c2 upbit.Candle) bool {
	if !isBear(c1) || !isBull(c2) {
		return false
	}
	span1 := c1.High - c1.Low
	if span1 == 0 || body(c1) < span1*0.6 {
		return false
	}
	return c2.Open >= c1.Close && c2.Close <= c1.Open && body(c2) <= body(c1)*0.5
}

func isBearishHarami(c1, c2 upbit.Candle) bool {
	if !isBull(c1) || !isBear(c2) {
		return false
	}
	span1 := c1.High - c1.Low
	if span1 == 0 || body(c1) < span1*0.6 {
		return false
	}
	return c2.Open <= c1.Close && c2.Close >= c1.Open && body(c2) <= body(c1)*0.5
}

func isDoji(c upbit.Candle) bool {
	span := c.High - c.Low
	if span == 0 {
		return false
	}
	return body(c)/span < 0.1
}

func isDragonflyDoji(c upbit.Candle) bool {
	if !isDoji(c) {
		return false
	}
	span := c.High - c.Low
	return lowerWick(c) >= span*0.6 && upperWick(c) <= span*0.15
}

func isGravestoneDoji(c upbit.Candle) bool {
	if !isDoji(c) {
		return false
	}
	span := c.High - c.Low
	return upperWick(c) >= span*0.6 && lowerWick(c) <= span*0.15
}

func isMorningStar(c1, c2, c3 upbit.Candle) bool {
	if !isBear(c1) || !isBull(c3) {
		return false
	}
	span1 := c1.High - c1.Low
	if span1 == 0 || body(c1) < span1*0.5 {
		return false
	}
	// Middle bar is a small body below the first body.
	if body(c2) > body(c1)*0.4 {
		return false
	}
	if math.Max(c2.Open, c2.Close) > c1.Close {
		return false
	}
	// Third bar recovers past the midpoint of the first body.
	return c3.Close > (c1.Open+c1.Close)/2
}

func isEveningStar(c1, c2, c3 upbit.Candle) bool {
	if !isBull(c1) || !isBear(c3) {
		return false
	}
	span1 := c1.High - c1.Low
	if span1 == 0 || body(c1) < span1*0.5 {
		return false
	}
	if body(c2) > body(c1)*0.4 {
		return false
	}
	if math.Min(c2.Open, c2.Close) < c1.Close {
		return false
	}
	return c3.Close < (c1.Open+c1.Close)/2
}

func isThreeWhiteSoldiers(c1, c2, c3 upbit.Candle) bool {
	if !isBull(c1) || !isBull(c2) || !isBull(c3) {
		return false
	}
	if c2.Close <= c1.Close || c3.Close <= c2.Close {
		return false
	}
	// Each opens inside the prior body.
	return c2.Open >= c1.Open && c2.Open <= c1.Close &&
		c3.Open >= c2.Open && c3.Open <= c2.Close
}

func isThreeBlackCrows(c1, c2, c3 upbit.Candle) bool {
	if !isBear(c1) || !isBear(c2) || !isBear(c3) {
		return false
	}
	if c2.Close >= c1.Close || c3.Close >= c2.Close {
		return false
	}
	return c2.Open <= c1.Open && c2.Open >= c1.Close &&
		c3.Open <= c2.Open && c3.Open >= c2.Close
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
