package indicators

import (
	"math"

	"github.com/rmsfid11-commits/trading-bot-sub000/internal/upbit"
)

// RegimeLabel is the coarse market-state classification.
type RegimeLabel string

const (
	RegimeTrending RegimeLabel = "trending"
	RegimeRanging  RegimeLabel = "ranging"
	RegimeVolatile RegimeLabel = "volatile"
)

// Regime carries the label, classifier confidence, the multiplicative
// parameter adjustments the strategy applies under it, and the raw
// metrics that produced the decision.
type Regime struct {
	Label      RegimeLabel `json:"label"`
	Confidence float64     `json:"confidence"`

	ThresholdMult  float64 `json:"threshold_mult"`
	StopLossMult   float64 `json:"stop_loss_mult"`
	TakeProfitMult float64 `json:"take_profit_mult"`
	SizeMult       float64 `json:"size_mult"`

	ADX          float64 `json:"adx"`
	ATRPct       float64 `json:"atr_pct"`
	ATRChangePct float64 `json:"atr_change_pct"`
	BBWidthPct   float64 `json:"bb_width_pct"`
	SMASlopePct  float64 `json:"sma_slope_pct"`
}

// ClassifyRegime labels the market over the last 30+ candles.
// Volatility wins over trendedness: a violently moving market is
// volatile even when directional.
func ClassifyRegime(candles []upbit.Candle) *Regime {
	if len(candles) < 30 {
		return nil
	}

	r := &Regime{}
	if a := ATR(candles, 14); a != nil {
		r.ATRPct = a.ATRPct
		if prev := ATR(candles[:len(candles)-10], 14); prev != nil && prev.ATR > 0 {
			r.ATRChangePct = (a.ATR - prev.ATR) / prev.ATR * 100
		}
	}
	if adx, ok := ADX(candles, 14); ok {
		r.ADX = adx
	}
	if bb := Bollinger(candles, 20, 2); bb != nil {
		r.BBWidthPct = bb.BandwidthPct
	}
	r.SMASlopePct = smaSlope(Closes(candles), 20, 5)

	switch {
	case r.ATRChangePct > 50 || r.ATRPct > 3:
		r.Label = RegimeVolatile
		r.Confidence = clamp(0.6+r.ATRPct/20, 0.5, 0.95)
	case r.ADX > 25 && math.Abs(r.SMASlopePct) > 0.3:
		r.Label = RegimeTrending
		r.Confidence = clamp(0.5+(r.ADX-25)/50+math.Min(0.2, math.Abs(r.SMASlopePct)/3), 0.5, 0.95)
	case r.ADX < 20 && r.BBWidthPct < 3:
		r.Label = RegimeRanging
		r.Confidence = clamp(0.5+(20-r.ADX)/40, 0.5, 0.95)
	default:
		// Nearest by ADX to the trending/ranging boundary pair.
		if r.ADX >= 22.5 {
			r.Label = RegimeTrending
		} else {
			r.Label = RegimeRanging
		}
		r.Confidence = 0.4
	}

	switch r.Label {
	case RegimeTrending:
		r.ThresholdMult, r.StopLossMult, r.TakeProfitMult, r.SizeMult = 0.9, 1.1, 1.3, 1.1
	case RegimeRanging:
		r.ThresholdMult, r.StopLossMult, r.TakeProfitMult, r.SizeMult = 1.1, 0.9, 0.8, 0.9
	case RegimeVolatile:
		r.ThresholdMult, r.StopLossMult, r.TakeProfitMult, r.SizeMult = 1.25, 1.3, 1.2, 0.7
	}
	return r
}

// smaSlope is the percent change of the period-SMA over the last span bars.
func smaSlope(closes []float64, period, span int) float64 {
	if len(closes) < period+span {
		return 0
	}
	now, _ := SMA(closes, period)
	then, ok := SMA(closes[:len(closes)-span], period)
	if !ok || then == 0 {
		return 0
	}
	return (now - then) / then * 100
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
