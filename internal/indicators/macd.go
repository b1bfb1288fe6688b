package indicators

import (
	"math"

	"github.com/rmsfid11-commits/trading-bot-sub000/internal/upbit"
)

// Divergence labels for MACD-vs-price swing comparison.
const (
	DivergenceNone    = "none"
	DivergenceBullish = "bullish"
	DivergenceBearish = "bearish"
)

// MACDResult carries the line values plus the cross and divergence
// signals the compositor scores.
type MACDResult struct {
	MACD         float64 `json:"macd"`
	Signal       float64 `json:"signal"`
	Histogram    float64 `json:"histogram"`
	BullishCross bool    `json:"bullish_cross"`
	BearishCross bool    `json:"bearish_cross"`
	Trend        string  `json:"trend"` // "UP" or "DOWN"
	Divergence   string  `json:"divergence"`
}

// MACD computes MACD(fast, slow, signalPeriod) with the signal line as
// a true EMA over the MACD history, plus swing divergence against price
// over the last 20 closes.
func MACD(candles []upbit.Candle, fast, slow, signalPeriod int) *MACDResult {
	closes := Closes(candles)
	n := len(closes)
	// Two signal points are needed to detect a cross.
	if fast <= 0 || slow <= fast || n < slow+signalPeriod {
		return nil
	}

	emaFast := EMASeries(closes, fast)
	emaSlow := EMASeries(closes, slow)
	// macdSeries[j] corresponds to closes[slow-1+j].
	macdSeries := make([]float64, 0, n-slow+1)
	for j := 0; j < len(emaSlow); j++ {
		i := slow - 1 + j
		macdSeries = append(macdSeries, emaFast[i-(fast-1)]-emaSlow[j])
	}
	signalSeries := EMASeries(macdSeries, signalPeriod)
	if len(signalSeries) < 2 {
		return nil
	}

	macd := macdSeries[len(macdSeries)-1]
	sig := signalSeries[len(signalSeries)-1]
	prevMACD := macdSeries[len(macdSeries)-2]
	prevSig := signalSeries[len(signalSeries)-2]

	// On a steady trend the two lines converge to within machine epsilon
	// and the raw comparison flips on float noise.
	tol := 1e-9 * math.Max(math.Abs(macd), 1)
	res := &MACDResult{
		MACD:         macd,
		Signal:       sig,
		Histogram:    macd - sig,
		BullishCross: prevMACD <= prevSig+tol && macd > sig+tol,
		BearishCross: prevMACD >= prevSig-tol && macd < sig-tol,
		Divergence:   DivergenceNone,
	}
	switch {
	case macd > sig+tol:
		res.Trend = "UP"
	case macd < sig-tol:
		res.Trend = "DOWN"
	case macd >= prevMACD:
		res.Trend = "UP"
	default:
		res.Trend = "DOWN"
	}

	macdAt := func(closeIdx int) (float64, bool) {
		j := closeIdx - (slow - 1)
		if j < 0 || j >= len(macdSeries) {
			return 0, false
		}
		return macdSeries[j], true
	}
	res.Divergence = detectDivergence(closes, macdAt)
	return res
}

// detectDivergence compares the two most recent price swing lows and
// swing highs inside the last 20 closes against the MACD value at the
// same bars. A swing is a local extremum with two confirming bars on
// each side.
func detectDivergence(closes []float64, macdAt func(int) (float64, bool)) string {
	n := len(closes)
	start := n - 20
	if start < 2 {
		start = 2
	}

	var lows, highs []int
	for i := start; i <= n-3; i++ {
		c := closes[i]
		if c < closes[i-1] && c < closes[i-2] && c < closes[i+1] && c < closes[i+2] {
			lows = append(lows, i)
		}
		if c > closes[i-1] && c > closes[i-2] && c > closes[i+1] && c > closes[i+2] {
			highs = append(highs, i)
		}
	}

	if len(lows) >= 2 {
		a, b := lows[len(lows)-2], lows[len(lows)-1]
		ma, okA := macdAt(a)
		mb, okB := macdAt(b)
		if okA && okB && closes[b] < closes[a] && mb > ma {
			return DivergenceBullish
		}
	}
	if len(highs) >= 2 {
		a, b := highs[len(highs)-2], highs[len(highs)-1]
		ma, okA := macdAt(a)
		mb, okB := macdAt(b)
		if okA && okB && closes[b] > closes[a] && mb < ma {
			return DivergenceBearish
		}
	}
	return DivergenceNone
}
