package indicators

import (
	"math"
	"testing"

	"github.com/rmsfid11-commits/trading-bot-sub000/internal/upbit"
)

// mkCandles builds a series with the given closes, a fixed half-spread
// around each close and unit volume.
func mkCandles(closes []float64, spread float64) []upbit.Candle {
	out := make([]upbit.Candle, len(closes))
	for i, c := range closes {
		open := c
		if i > 0 {
			open = closes[i-1]
		}
		out[i] = upbit.Candle{
			Timestamp: int64(i) * 300_000,
			Open:      open,
			High:      c + spread,
			Low:       c - spread,
			Close:     c,
			Volume:    1,
		}
	}
	return out
}

func ramp(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func TestSMAAndEMA(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}

	if got, ok := SMA(values, 3); !ok || got != 4 {
		t.Errorf("SMA = %v ok=%v, want 4", got, ok)
	}
	if _, ok := SMA(values, 6); ok {
		t.Error("SMA should report not-ok on short input")
	}

	ema := EMASeries(values, 3)
	want := []float64{2, 3, 4} // seed 2, k=0.5
	if len(ema) != len(want) {
		t.Fatalf("EMASeries length = %d, want %d", len(ema), len(want))
	}
	for i := range want {
		if math.Abs(ema[i]-want[i]) > 1e-12 {
			t.Errorf("EMASeries[%d] = %v, want %v", i, ema[i], want[i])
		}
	}
}

func TestRSIExtremes(t *testing.T) {
	tests := []struct {
		name   string
		closes []float64
		want   float64
	}{
		{"all gains", ramp(100, 1, 20), 100},
		{"all losses", ramp(100, -1, 20), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := RSI(mkCandles(tt.closes, 0.1), 14)
			if !ok {
				t.Fatal("RSI not ok")
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("RSI = %v, want %v", got, tt.want)
			}
		})
	}

	if _, ok := RSI(mkCandles(ramp(100, 1, 10), 0.1), 14); ok {
		t.Error("RSI should report not-ok with fewer than period+1 closes")
	}

	series := RSISeries(ramp(100, 0.5, 40), 14)
	if len(series) != 40-14 {
		t.Errorf("RSISeries length = %d, want %d", len(series), 40-14)
	}
	for i, v := range series {
		if v < 0 || v > 100 {
			t.Errorf("RSISeries[%d] = %v out of [0,100]", i, v)
		}
	}
}

func TestBollingerFlatSeries(t *testing.T) {
	closes := make([]float64, 25)
	for i := range closes {
		closes[i] = 100
	}
	bb := Bollinger(mkCandles(closes, 0), 20, 2)
	if bb == nil {
		t.Fatal("Bollinger returned nil")
	}
	if bb.Upper != 100 || bb.Middle != 100 || bb.Lower != 100 {
		t.Errorf("flat series bands = %+v, want all 100", bb)
	}
	if bb.BandwidthPct != 0 {
		t.Errorf("flat series bandwidth = %v, want 0", bb.BandwidthPct)
	}
	if bb.PricePosition != 0.5 {
		t.Errorf("degenerate band position = %v, want 0.5", bb.PricePosition)
	}

	if Bollinger(mkCandles(closes[:10], 0), 20, 2) != nil {
		t.Error("Bollinger should return nil on short input")
	}
}

func TestATRConstantRange(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 10
	}
	// every bar spans 9..11 around a constant close of 10
	a := ATR(mkCandles(closes, 1), 14)
	if a == nil {
		t.Fatal("ATR returned nil")
	}
	if math.Abs(a.ATR-2) > 1e-9 {
		t.Errorf("ATR = %v, want 2", a.ATR)
	}
	if math.Abs(a.ATRPct-20) > 1e-9 {
		t.Errorf("ATRPct = %v, want 20", a.ATRPct)
	}

	sl, tp := a.StopDistances(1, 10, 2, 15)
	if sl != 10 {
		t.Errorf("stop distance = %v, want clamped 10", sl)
	}
	if tp != 15 {
		t.Errorf("take profit distance = %v, want clamped 15", tp)
	}

	if ATR(mkCandles(closes[:10], 1), 14) != nil {
		t.Error("ATR should return nil on short input")
	}
}

func TestStochRSIBounds(t *testing.T) {
	if StochRSI(mkCandles(ramp(100, 1, 20), 0.1), 14, 14, 3, 3) != nil {
		t.Error("StochRSI should return nil on short input")
	}

	closes := make([]float64, 0, 80)
	for i := 0; i < 80; i++ {
		closes = append(closes, 100+5*math.Sin(float64(i)/4))
	}
	s := StochRSI(mkCandles(closes, 0.2), 14, 14, 3, 3)
	if s == nil {
		t.Fatal("StochRSI returned nil on sufficient input")
	}
	if s.K < 0 || s.K > 100 || s.D < 0 || s.D > 100 {
		t.Errorf("StochRSI out of range: %+v", s)
	}
}

func TestVWAPAndVolumeRatio(t *testing.T) {
	closes := make([]float64, 25)
	for i := range closes {
		closes[i] = 100
	}
	candles := mkCandles(closes, 0)
	vwap, ok := VWAP(candles)
	if !ok || math.Abs(vwap-100) > 1e-9 {
		t.Errorf("VWAP = %v ok=%v, want 100", vwap, ok)
	}

	candles[len(candles)-1].Volume = 3
	ratio, ok := VolumeRatio(candles, 20)
	if !ok || math.Abs(ratio-3) > 1e-9 {
		t.Errorf("VolumeRatio = %v ok=%v, want 3", ratio, ok)
	}

	if _, ok := VolumeRatio(candles[:5], 20); ok {
		t.Error("VolumeRatio should report not-ok on short input")
	}
}

func TestADXStrongTrend(t *testing.T) {
	adx, ok := ADX(mkCandles(ramp(100, 1, 40), 0.5), 14)
	if !ok {
		t.Fatal("ADX not ok")
	}
	if adx < 90 {
		t.Errorf("ADX = %v for a one-way trend, want > 90", adx)
	}

	if _, ok := ADX(mkCandles(ramp(100, 1, 20), 0.5), 14); ok {
		t.Error("ADX should report not-ok on short input")
	}
}

func TestIchimokuUptrend(t *testing.T) {
	if Ichimoku(mkCandles(ramp(100, 1, 50), 0.5)) != nil {
		t.Error("Ichimoku should return nil below 78 candles")
	}

	ich := Ichimoku(mkCandles(ramp(100, 1, 100), 0.5))
	if ich == nil {
		t.Fatal("Ichimoku returned nil")
	}
	if !ich.AboveCloud || ich.BelowCloud {
		t.Errorf("steady uptrend should sit above the cloud: %+v", ich)
	}
	if !ich.ChikouBullish {
		t.Error("lagging span should be bullish in an uptrend")
	}
}

func TestVolatilityBreakout(t *testing.T) {
	candles := []upbit.Candle{
		{Open: 100, High: 110, Low: 100, Close: 105, Volume: 1},
		{Open: 100, High: 106, Low: 99, Close: 104, Volume: 1},
	}
	b := VolatilityBreakout(candles, 0.5)
	if b == nil {
		t.Fatal("VolatilityBreakout returned nil")
	}
	if b.Target != 105 { // open 100 + range 10 * 0.5
		t.Errorf("target = %v, want 105", b.Target)
	}
	if !b.Triggered {
		t.Error("high 106 over target 105 should trigger")
	}

	if VolatilityBreakout(candles[:1], 0.5) != nil {
		t.Error("breakout needs two bars")
	}
}

func TestBBSqueezeAfterCompression(t *testing.T) {
	closes := make([]float64, 0, 80)
	for i := 0; i < 60; i++ {
		if i%2 == 0 {
			closes = append(closes, 105)
		} else {
			closes = append(closes, 95)
		}
	}
	for i := 0; i < 20; i++ {
		if i%2 == 0 {
			closes = append(closes, 100.1)
		} else {
			closes = append(closes, 99.9)
		}
	}
	s := BBSqueeze(mkCandles(closes, 0.05))
	if s == nil {
		t.Fatal("BBSqueeze returned nil")
	}
	if !s.On {
		t.Errorf("compressed tail should squeeze: %+v", s)
	}
	if s.Percentile > 0.2 {
		t.Errorf("percentile = %v, want <= 0.2", s.Percentile)
	}
}
