// Package indicators holds the pure indicator math the signal engine
// runs over candle sequences. Every function tolerates short input by
// returning a nil result or ok=false; callers treat absence as zero
// contribution and never see an error.
package indicators

import (
	"math"

	"github.com/rmsfid11-commits/trading-bot-sub000/internal/upbit"
)

// Closes extracts the close series, oldest first.
func Closes(candles []upbit.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// ============================================================================
// MOVING AVERAGES
// ============================================================================

// SMA is the simple average of the last period values.
func SMA(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period), true
}

// EMASeries seeds with the SMA of the first period values and smooths
// forward. out[i] corresponds to values[period-1+i].
func EMASeries(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	out := make([]float64, 0, len(values)-period+1)
	seed := 0.0
	for _, v := range values[:period] {
		seed += v
	}
	seed /= float64(period)
	out = append(out, seed)
	k := 2.0 / float64(period+1)
	ema := seed
	for _, v := range values[period:] {
		ema = v*k + ema*(1-k)
		out = append(out, ema)
	}
	return out
}

// EMA returns the latest exponential moving average value.
func EMA(values []float64, period int) (float64, bool) {
	series := EMASeries(values, period)
	if len(series) == 0 {
		return 0, false
	}
	return series[len(series)-1], true
}

// ============================================================================
// RSI
// ============================================================================

// RSISeries computes Wilder-smoothed RSI values. out[i] corresponds to
// values[period+i]; the series is empty when input is too short.
func RSISeries(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period+1 {
		return nil
	}
	gains, losses := 0.0, 0.0
	for i := 1; i <= period; i++ {
		delta := values[i] - values[i-1]
		if delta > 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	out := make([]float64, 0, len(values)-period)
	out = append(out, rsiFrom(avgGain, avgLoss))
	for i := period + 1; i < len(values); i++ {
		delta := values[i] - values[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out = append(out, rsiFrom(avgGain, avgLoss))
	}
	return out
}

func rsiFrom(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// RSI returns the latest Wilder RSI over candle closes.
func RSI(candles []upbit.Candle, period int) (float64, bool) {
	series := RSISeries(Closes(candles), period)
	if len(series) == 0 {
		return 0, false
	}
	return series[len(series)-1], true
}

// ============================================================================
// BOLLINGER BANDS
// ============================================================================

// BollingerBands carries the band levels plus the width and the close's
// relative position inside the band, both used for scoring.
type BollingerBands struct {
	Upper         float64 `json:"upper"`
	Middle        float64 `json:"middle"`
	Lower         float64 `json:"lower"`
	BandwidthPct  float64 `json:"bandwidth_pct"`
	PricePosition float64 `json:"price_position"` // 0 at lower band, 1 at upper
}

// Bollinger computes period/k bands over closes.
func Bollinger(candles []upbit.Candle, period int, k float64) *BollingerBands {
	if period <= 0 || len(candles) < period {
		return nil
	}
	closes := Closes(candles)
	mid, _ := SMA(closes, period)
	variance := 0.0
	for _, v := range closes[len(closes)-period:] {
		d := v - mid
		variance += d * d
	}
	sigma := math.Sqrt(variance / float64(period))

	bb := &BollingerBands{
		Upper:  mid + k*sigma,
		Middle: mid,
		Lower:  mid - k*sigma,
	}
	if mid != 0 {
		bb.BandwidthPct = (bb.Upper - bb.Lower) / mid * 100
	}
	last := closes[len(closes)-1]
	if span := bb.Upper - bb.Lower; span > 0 {
		bb.PricePosition = math.Max(0, math.Min(1, (last-bb.Lower)/span))
	} else {
		bb.PricePosition = 0.5
	}
	return bb
}

// ============================================================================
// ATR
// ============================================================================

// ATRResult is the smoothed true range in price and as percent of the
// last close. The percent form drives dynamic stop distances.
type ATRResult struct {
	ATR    float64 `json:"atr"`
	ATRPct float64 `json:"atr_pct"`
}

// ATR computes Wilder-smoothed average true range.
func ATR(candles []upbit.Candle, period int) *ATRResult {
	trs := trueRanges(candles)
	if period <= 0 || len(trs) < period {
		return nil
	}
	atr := 0.0
	for _, tr := range trs[:period] {
		atr += tr
	}
	atr /= float64(period)
	for _, tr := range trs[period:] {
		atr = (atr*float64(period-1) + tr) / float64(period)
	}
	res := &ATRResult{ATR: atr}
	if last := candles[len(candles)-1].Close; last > 0 {
		res.ATRPct = atr / last * 100
	}
	return res
}

func trueRanges(candles []upbit.Candle) []float64 {
	if len(candles) < 2 {
		return nil
	}
	out := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		h, l, pc := candles[i].High, candles[i].Low, candles[i-1].Close
		tr := math.Max(h-l, math.Max(math.Abs(h-pc), math.Abs(l-pc)))
		out = append(out, tr)
	}
	return out
}

// StopDistances derives stop-loss and take-profit percentages from the
// ATR, each clamped to the given bounds. Multipliers follow the usual
// 1.5x/2.5x ATR spacing.
func (a *ATRResult) StopDistances(minSL, maxSL, minTP, maxTP float64) (slPct, tpPct float64) {
	slPct = math.Max(minSL, math.Min(maxSL, a.ATRPct*1.5))
	tpPct = math.Max(minTP, math.Min(maxTP, a.ATRPct*2.5))
	return slPct, tpPct
}

// ============================================================================
// STOCHASTIC RSI
// ============================================================================

// StochRSIResult is the smoothed %K/%D pair over the RSI series.
type StochRSIResult struct {
	K float64 `json:"k"`
	D float64 `json:"d"`
}

// StochRSI computes StochRSI(rsiPeriod, stochPeriod) smoothed by
// kSmooth and dSmooth bars.
func StochRSI(candles []upbit.Candle, rsiPeriod, stochPeriod, kSmooth, dSmooth int) *StochRSIResult {
	rsis := RSISeries(Closes(candles), rsiPeriod)
	if stochPeriod <= 0 || len(rsis) < stochPeriod {
		return nil
	}
	stoch := make([]float64, 0, len(rsis)-stochPeriod+1)
	for i := stochPeriod - 1; i < len(rsis); i++ {
		window := rsis[i-stochPeriod+1 : i+1]
		lo, hi := window[0], window[0]
		for _, v := range window {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		if hi == lo {
			stoch = append(stoch, 50)
		} else {
			stoch = append(stoch, (rsis[i]-lo)/(hi-lo)*100)
		}
	}
	if len(stoch) < kSmooth {
		return nil
	}
	kSeries := smaSeries(stoch, kSmooth)
	if len(kSeries) < dSmooth {
		return nil
	}
	d, _ := SMA(kSeries, dSmooth)
	// Smoothing accumulates float error past the endpoints.
	return &StochRSIResult{
		K: clamp(kSeries[len(kSeries)-1], 0, 100),
		D: clamp(d, 0, 100),
	}
}

func smaSeries(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	out := make([]float64, 0, len(values)-period+1)
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out = append(out, sum/float64(period))
		}
	}
	return out
}

// ============================================================================
// VOLUME
// ============================================================================

// VWAP is the volume-weighted average price over the given window.
func VWAP(candles []upbit.Candle) (float64, bool) {
	if len(candles) == 0 {
		return 0, false
	}
	var pv, vol float64
	for _, c := range candles {
		typical := (c.High + c.Low + c.Close) / 3
		pv += typical * c.Volume
		vol += c.Volume
	}
	if vol == 0 {
		return 0, false
	}
	return pv / vol, true
}

// VolumeRatio compares the last bar's volume against the average of the
// preceding lookback bars.
func VolumeRatio(candles []upbit.Candle, lookback int) (float64, bool) {
	if lookback <= 0 || len(candles) < lookback+1 {
		return 0, false
	}
	sum := 0.0
	for _, c := range candles[len(candles)-lookback-1 : len(candles)-1] {
		sum += c.Volume
	}
	avg := sum / float64(lookback)
	if avg == 0 {
		return 0, false
	}
	return candles[len(candles)-1].Volume / avg, true
}

// ============================================================================
// ADX
// ============================================================================

// ADX computes Wilder's average directional index.
func ADX(candles []upbit.Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < 2*period+1 {
		return 0, false
	}
	n := len(candles)
	plusDM := make([]float64, n-1)
	minusDM := make([]float64, n-1)
	trs := trueRanges(candles)
	for i := 1; i < n; i++ {
		up := candles[i].High - candles[i-1].High
		down := candles[i-1].Low - candles[i].Low
		if up > down && up > 0 {
			plusDM[i-1] = up
		}
		if down > up && down > 0 {
			minusDM[i-1] = down
		}
	}

	smooth := func(values []float64) []float64 {
		out := make([]float64, 0, len(values)-period+1)
		sum := 0.0
		for _, v := range values[:period] {
			sum += v
		}
		out = append(out, sum)
		for _, v := range values[period:] {
			sum = sum - sum/float64(period) + v
			out = append(out, sum)
		}
		return out
	}

	sTR := smooth(trs)
	sPlus := smooth(plusDM)
	sMinus := smooth(minusDM)

	dxs := make([]float64, 0, len(sTR))
	for i := range sTR {
		if sTR[i] == 0 {
			dxs = append(dxs, 0)
			continue
		}
		diPlus := 100 * sPlus[i] / sTR[i]
		diMinus := 100 * sMinus[i] / sTR[i]
		if diPlus+diMinus == 0 {
			dxs = append(dxs, 0)
			continue
		}
		dxs = append(dxs, 100*math.Abs(diPlus-diMinus)/(diPlus+diMinus))
	}
	if len(dxs) < period {
		return 0, false
	}
	adx := 0.0
	for _, dx := range dxs[:period] {
		adx += dx
	}
	adx /= float64(period)
	for _, dx := range dxs[period:] {
		adx = (adx*float64(period-1) + dx) / float64(period)
	}
	return adx, true
}
