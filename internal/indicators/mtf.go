package indicators

import (
	"math"

	"github.com/rmsfid11-commits/trading-bot-sub000/internal/upbit"
)

// Trend direction labels for one timeframe.
const (
	TrendUp      = "up"
	TrendDown    = "down"
	TrendNeutral = "neutral"
)

// TimeframeTrend is one timeframe's vote.
type TimeframeTrend struct {
	Trend    string  `json:"trend"`
	Strength float64 `json:"strength"` // 0..1
}

// MTFResult aggregates the 5m/1h/4h votes into one bounded boost.
type MTFResult struct {
	TF5m         TimeframeTrend `json:"tf_5m"`
	TF1h         TimeframeTrend `json:"tf_1h"`
	TF4h         TimeframeTrend `json:"tf_4h"`
	Boost        float64        `json:"boost"` // in [-1.5, +1.5]
	Contradicted bool           `json:"contradicted"`
}

// TrendOf votes a single timeframe from RSI, MACD posture, SMA slope
// and Bollinger position. Missing pieces abstain rather than veto.
func TrendOf(candles []upbit.Candle) TimeframeTrend {
	score := 0.0
	if rsi, ok := RSI(candles, 14); ok {
		if rsi > 55 {
			score++
		} else if rsi < 45 {
			score--
		}
	}
	if m := MACD(candles, 12, 26, 9); m != nil {
		if m.Trend == "UP" {
			score++
		} else {
			score--
		}
	}
	if slope := smaSlope(Closes(candles), 20, 10); slope > 0.1 {
		score++
	} else if slope < -0.1 {
		score--
	}
	if bb := Bollinger(candles, 20, 2); bb != nil {
		if bb.PricePosition > 0.6 {
			score++
		} else if bb.PricePosition < 0.4 {
			score--
		}
	}

	t := TimeframeTrend{Trend: TrendNeutral, Strength: math.Min(1, math.Abs(score)/4)}
	if score >= 2 {
		t.Trend = TrendUp
	} else if score <= -2 {
		t.Trend = TrendDown
	}
	return t
}

// MultiTimeframe aggregates three candle series into a single boost.
// Alignment across all three is worth 1.5, two of three 0.8, a lone
// direction 0.3; a 4h trend opposing the 5m trend damps the whole
// boost to 30%.
func MultiTimeframe(c5m, c1h, c4h []upbit.Candle) *MTFResult {
	res := &MTFResult{
		TF5m: TrendOf(c5m),
		TF1h: TrendOf(c1h),
		TF4h: TrendOf(c4h),
	}

	dir := func(t TimeframeTrend) int {
		switch t.Trend {
		case TrendUp:
			return 1
		case TrendDown:
			return -1
		}
		return 0
	}
	d5, d1, d4 := dir(res.TF5m), dir(res.TF1h), dir(res.TF4h)
	ups, downs := 0, 0
	for _, d := range []int{d5, d1, d4} {
		if d > 0 {
			ups++
		} else if d < 0 {
			downs++
		}
	}

	major := 0
	switch {
	case ups > downs:
		major = 1
	case downs > ups:
		major = -1
	default:
		major = d5 // tie defers to the trading timeframe
	}
	if major == 0 {
		return res
	}

	agreeing := 0
	for _, d := range []int{d5, d1, d4} {
		if d == major {
			agreeing++
		}
	}
	switch agreeing {
	case 3:
		res.Boost = 1.5
	case 2:
		res.Boost = 0.8
	case 1:
		res.Boost = 0.3
	}
	res.Boost *= float64(major)

	if d4 != 0 && d5 != 0 && d4 != d5 {
		res.Boost *= 0.3
		res.Contradicted = true
	}
	res.Boost = clamp(res.Boost, -1.5, 1.5)
	return res
}
