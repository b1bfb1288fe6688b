package patterns

import (
	"testing"

	"github.com/rmsfid11-commits/trading-bot-sub000/internal/upbit"
)

// flatBars returns n quiet bars around 100.
func flatBars(n int) []upbit.Candle {
	out := make([]upbit.Candle, n)
	for i := range out {
		out[i] = quad(100, 100.5, 99.5, 100)
	}
	return out
}

func hasChart(t *testing.T, got []ChartPattern, typ Type) ChartPattern {
	t.Helper()
	for _, p := range got {
		if p.Type == typ {
			return p
		}
	}
	t.Fatalf("chart pattern %s not detected in %v", typ, got)
	return ChartPattern{}
}

func TestDoubleTopNeedsNecklineBreak(t *testing.T) {
	candles := flatBars(17)
	candles[8] = quad(105, 110, 104, 106)   // first peak
	candles[12] = quad(96, 96.5, 95, 95.5)  // trough between peaks
	candles[16] = quad(105, 110.5, 104, 106) // second peak, within 1%

	declining := []upbit.Candle{
		quad(106, 106.3, 100.5, 101),
		quad(101, 101.3, 98.5, 99),
		quad(99, 99.3, 96.5, 97),
		quad(97, 97.3, 95.5, 96),
		quad(96, 96.3, 95.2, 95.5),
		quad(95.5, 95.8, 94.2, 94.5),
		quad(94.5, 94.8, 93.8, 94),
	}
	full := append(candles, declining...)

	got := DetectChartPatterns(full)
	p := hasChart(t, got, DoubleTop)
	if p.Direction != Bearish {
		t.Fatalf("double top direction = %s", p.Direction)
	}
	if p.Level < 110 || p.Level > 110.5 {
		t.Fatalf("double top level = %.2f", p.Level)
	}

	// Holding above the neckline, the formation stays unconfirmed.
	unbroken := append(append([]upbit.Candle{}, candles...),
		quad(106, 106.3, 99.5, 100),
		quad(100, 100.4, 99.6, 100.1),
		quad(100.1, 100.5, 99.7, 100.2),
	)
	for _, p := range DetectChartPatterns(unbroken) {
		if p.Type == DoubleTop {
			t.Fatalf("double top confirmed without neckline break")
		}
	}
}

func TestDoubleBottom(t *testing.T) {
	candles := flatBars(17)
	candles[8] = quad(92, 92.5, 90, 91)      // first trough
	candles[12] = quad(101, 105, 100.5, 104) // neckline peak
	candles[16] = quad(92, 92.6, 90.4, 91.5) // second trough, within 1%

	rally := []upbit.Candle{
		quad(91.5, 101.3, 91.2, 101),
		quad(101, 103.3, 100.7, 103),
		quad(103, 105.8, 102.7, 105.5),
		quad(105.5, 106.3, 105.2, 106),
		quad(106, 107.3, 105.7, 107),
		quad(107, 107.8, 106.7, 107.5),
		quad(107.5, 108.3, 107.2, 108),
	}
	full := append(candles, rally...)

	got := DetectChartPatterns(full)
	p := hasChart(t, got, DoubleBottom)
	if p.Direction != Bullish {
		t.Fatalf("double bottom direction = %s", p.Direction)
	}
	if p.Level < 90 || p.Level > 90.4 {
		t.Fatalf("double bottom level = %.2f", p.Level)
	}
}

func TestAscendingTriangle(t *testing.T) {
	candles := flatBars(20)
	candles[6] = quad(105, 110, 104, 107)    // flat top touch one
	candles[10] = quad(98, 99, 96, 97)       // first higher low
	candles[14] = quad(105, 110.3, 104, 107) // flat top touch two
	candles[18] = quad(100, 100.4, 99, 99.5) // second, higher low

	coil := []upbit.Candle{
		quad(99.5, 105.3, 99.2, 105),
		quad(105, 106.3, 104.7, 106),
		quad(106, 107.3, 105.7, 107),
		quad(107, 107.8, 106.7, 107.5),
		quad(107.5, 108.3, 107.2, 108),
		quad(108, 108.8, 107.7, 108.5),
	}
	full := append(candles, coil...)

	got := DetectChartPatterns(full)
	p := hasChart(t, got, AscendingTriangle)
	if p.Direction != Bullish {
		t.Fatalf("ascending triangle direction = %s", p.Direction)
	}
	if p.Level < 110 || p.Level > 110.3 {
		t.Fatalf("ascending triangle level = %.2f", p.Level)
	}
}

func TestDescendingTriangle(t *testing.T) {
	candles := flatBars(20)
	candles[6] = quad(95, 96, 90, 91)        // flat bottom touch one
	candles[10] = quad(104, 108, 103, 105)   // first lower high
	candles[14] = quad(95, 96.2, 90.2, 91.5) // flat bottom touch two
	candles[18] = quad(102, 104, 101, 102.5) // second, lower high

	coil := []upbit.Candle{
		quad(102.5, 102.8, 93.7, 94),
		quad(94, 94.3, 93.2, 93.5),
		quad(93.5, 93.8, 92.7, 93),
		quad(93, 93.3, 92.2, 92.5),
		quad(92.5, 92.8, 91.9, 92.2),
		quad(92.2, 92.5, 91.7, 92),
	}
	full := append(candles, coil...)

	got := DetectChartPatterns(full)
	p := hasChart(t, got, DescendingTriangle)
	if p.Direction != Bearish {
		t.Fatalf("descending triangle direction = %s", p.Direction)
	}
	if p.Level < 90 || p.Level > 90.2 {
		t.Fatalf("descending triangle level = %.2f", p.Level)
	}
}

func TestSupportBounce(t *testing.T) {
	candles := flatBars(10)
	candles = append(candles,
		quad(100, 100.2, 95, 96), // sets the support swing low
		quad(96, 99.3, 95.9, 99),
		quad(99, 100.3, 98.7, 100),
		quad(100, 100.2, 98.7, 99),
		quad(99, 99.2, 97.7, 98),
		quad(98, 98.2, 96.7, 97),
		quad(97, 97.2, 96.2, 96.5),
		quad(96.5, 96.7, 95.9, 96.2),
		quad(96.2, 96.4, 95.5, 95.8),
		quad(95.5, 96.1, 95.2, 96), // dips to support and closes back up
	)

	got := DetectChartPatterns(candles)
	p := hasChart(t, got, SupportBounce)
	if p.Direction != Bullish || p.Level != 95 {
		t.Fatalf("support bounce = %+v", p)
	}
}

func TestResistanceRejection(t *testing.T) {
	candles := flatBars(10)
	candles = append(candles,
		quad(100, 105, 99.8, 103), // sets the resistance swing high
		quad(103, 103.4, 100.7, 101),
		quad(101, 101.3, 99.7, 100),
		quad(100, 101.2, 99.8, 101),
		quad(101, 102.2, 100.8, 102),
		quad(102, 103.2, 101.8, 103),
		quad(103, 104, 102.8, 103.8),
		quad(103.8, 104.7, 103.5, 104.5),
		quad(104.5, 105, 104.3, 104.8),
		quad(104.8, 105.1, 103.9, 104), // tags resistance and rolls over
	)

	got := DetectChartPatterns(candles)
	p := hasChart(t, got, ResistanceRejection)
	if p.Direction != Bearish || p.Level != 105 {
		t.Fatalf("resistance rejection = %+v", p)
	}
}

func TestChartPatternsShortSeries(t *testing.T) {
	if got := DetectChartPatterns(flatBars(10)); len(got) != 0 {
		t.Fatalf("expected no chart patterns on short input, got %v", got)
	}
}
