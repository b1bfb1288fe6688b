package indicators

import (
	"math"
	"testing"

	"github.com/rmsfid11-commits/trading-bot-sub000/internal/upbit"
)

func alternating(base, amp float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = base + amp
		} else {
			out[i] = base - amp
		}
	}
	return out
}

func TestClassifyRegime(t *testing.T) {
	if ClassifyRegime(mkCandles(ramp(100, 1, 20), 0.2)) != nil {
		t.Error("regime needs 30 candles")
	}

	tests := []struct {
		name    string
		candles []upbit.Candle
		want    RegimeLabel
	}{
		{
			// 10% bar ranges push ATR percent far over the 3% gate.
			"wide ranges classify volatile",
			mkCandles(alternating(100, 1, 40), 5),
			RegimeVolatile,
		},
		{
			// Steady slope, tight ranges: high ADX, low ATR.
			"steady climb classifies trending",
			mkCandles(ramp(100, 1, 40), 0.2),
			RegimeTrending,
		},
		{
			// Tiny oscillation: low ADX, narrow bands.
			"flat chop classifies ranging",
			mkCandles(alternating(100, 0.1, 40), 0.05),
			RegimeRanging,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ClassifyRegime(tt.candles)
			if r == nil {
				t.Fatal("ClassifyRegime returned nil")
			}
			if r.Label != tt.want {
				t.Errorf("label = %q, want %q (metrics %+v)", r.Label, tt.want, r)
			}
			if r.Confidence < 0.3 || r.Confidence > 1 {
				t.Errorf("confidence = %v out of range", r.Confidence)
			}
			if r.ThresholdMult <= 0 || r.SizeMult <= 0 {
				t.Errorf("multipliers not populated: %+v", r)
			}
		})
	}
}

func TestRegimeMultiplierProfiles(t *testing.T) {
	r := ClassifyRegime(mkCandles(alternating(100, 1, 40), 5))
	if r == nil || r.Label != RegimeVolatile {
		t.Fatalf("setup: expected volatile, got %+v", r)
	}
	if r.SizeMult >= 1 {
		t.Errorf("volatile size multiplier = %v, want < 1", r.SizeMult)
	}
	if r.ThresholdMult <= 1 {
		t.Errorf("volatile threshold multiplier = %v, want > 1", r.ThresholdMult)
	}
}

func TestTrendOfDirections(t *testing.T) {
	up := TrendOf(mkCandles(ramp(100, 1, 80), 0.2))
	if up.Trend != TrendUp {
		t.Errorf("uptrend voted %q", up.Trend)
	}
	if up.Strength < 0.5 {
		t.Errorf("uptrend strength = %v, want >= 0.5", up.Strength)
	}

	down := TrendOf(mkCandles(ramp(300, -1, 80), 0.2))
	if down.Trend != TrendDown {
		t.Errorf("downtrend voted %q", down.Trend)
	}

	short := TrendOf(mkCandles(ramp(100, 1, 5), 0.2))
	if short.Trend != TrendNeutral {
		t.Errorf("short input voted %q, want neutral", short.Trend)
	}
}

func TestMultiTimeframeAggregation(t *testing.T) {
	up := mkCandles(ramp(100, 1, 80), 0.2)
	down := mkCandles(ramp(300, -1, 80), 0.2)

	t.Run("full alignment", func(t *testing.T) {
		res := MultiTimeframe(up, up, up)
		if math.Abs(res.Boost-1.5) > 1e-9 {
			t.Errorf("boost = %v, want 1.5", res.Boost)
		}
		if res.Contradicted {
			t.Error("aligned frames must not contradict")
		}
	})

	t.Run("4h contradiction damps", func(t *testing.T) {
		res := MultiTimeframe(up, up, down)
		if !res.Contradicted {
			t.Fatal("expected contradiction flag")
		}
		if math.Abs(res.Boost-0.8*0.3) > 1e-9 {
			t.Errorf("boost = %v, want %v", res.Boost, 0.8*0.3)
		}
	})

	t.Run("bearish alignment", func(t *testing.T) {
		res := MultiTimeframe(down, down, down)
		if math.Abs(res.Boost-(-1.5)) > 1e-9 {
			t.Errorf("boost = %v, want -1.5", res.Boost)
		}
	})

	t.Run("bounded", func(t *testing.T) {
		res := MultiTimeframe(up, down, up)
		if res.Boost < -1.5 || res.Boost > 1.5 {
			t.Errorf("boost %v out of bounds", res.Boost)
		}
	})
}
