package indicators

import (
	"math"
	"testing"
)

func TestMACDShapes(t *testing.T) {
	if MACD(mkCandles(ramp(100, 1, 30), 0.1), 12, 26, 9) != nil {
		t.Error("MACD should return nil below slow+signal bars")
	}

	m := MACD(mkCandles(ramp(100, 1, 60), 0.1), 12, 26, 9)
	if m == nil {
		t.Fatal("MACD returned nil on sufficient input")
	}
	if m.Trend != "UP" {
		t.Errorf("trend = %q in a steady uptrend, want UP", m.Trend)
	}
	if m.MACD <= 0 {
		t.Errorf("macd = %v in an uptrend, want positive", m.MACD)
	}
	if math.Abs(m.Histogram-(m.MACD-m.Signal)) > 1e-12 {
		t.Errorf("histogram %v != macd-signal %v", m.Histogram, m.MACD-m.Signal)
	}
	if m.Divergence != DivergenceNone {
		t.Errorf("monotone series has no swings, divergence = %q", m.Divergence)
	}
}

func TestMACDCrossDetection(t *testing.T) {
	// Long decline then a sharp rally: the fast EMA overtakes the slow
	// one and the MACD line crosses up through its signal.
	closes := append(ramp(200, -1, 60), ramp(140, 4, 12)...)
	m := MACD(mkCandles(closes, 0.1), 12, 26, 9)
	if m == nil {
		t.Fatal("MACD returned nil")
	}
	if m.Trend != "UP" {
		t.Errorf("trend after sharp rally = %q, want UP", m.Trend)
	}
	if m.BearishCross {
		t.Error("rally must not report a bearish cross")
	}
}

// Divergence detection is driven through the swing scanner directly so
// the MACD values at the swing bars are fully controlled.
func TestDetectDivergence(t *testing.T) {
	// Two V-shaped swing lows inside the last 20 bars: indices 8 and 14
	// (0-based) with 2 confirming bars each side.
	lowerLows := []float64{
		100, 99, 98, 97, 96, 95, 94, 91, 90, 93, 95, 94, 92, 90.5, 89.5, 91, 93, 94, 95, 96,
	}
	// Mirror for swing highs.
	higherHighs := []float64{
		100, 101, 102, 103, 104, 105, 106, 109, 110, 107, 105, 106, 108, 109.5, 110.5, 109, 107, 106, 105, 104,
	}

	tests := []struct {
		name   string
		closes []float64
		macd   map[int]float64
		want   string
	}{
		{
			"bullish on lower low with higher macd",
			lowerLows,
			map[int]float64{8: -5.0, 14: -2.0},
			DivergenceBullish,
		},
		{
			"none when macd confirms the lower low",
			lowerLows,
			map[int]float64{8: -2.0, 14: -5.0},
			DivergenceNone,
		},
		{
			"bearish on higher high with lower macd",
			higherHighs,
			map[int]float64{8: 5.0, 14: 2.0},
			DivergenceBearish,
		},
		{
			"none when macd confirms the higher high",
			higherHighs,
			map[int]float64{8: 2.0, 14: 5.0},
			DivergenceNone,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			macdAt := func(i int) (float64, bool) {
				v, ok := tt.macd[i]
				return v, ok
			}
			if got := detectDivergence(tt.closes, macdAt); got != tt.want {
				t.Errorf("detectDivergence = %q, want %q", got, tt.want)
			}
		})
	}
}
