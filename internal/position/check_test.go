package position

import (
	"testing"
	"time"

	"github.com/rmsfid11-commits/trading-bot-sub000/config"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newPos(entry float64) *Position {
	return &Position{
		Symbol:       "KRW-BTC",
		EntryPrice:   entry,
		Quantity:     1.0,
		CostAmount:   entry,
		EntryTs:      t0.UnixMilli(),
		StopLoss:     entry * 0.975,
		TakeProfit:   entry * 1.05,
		HighestPrice: entry,
		MaxHoldUntil: t0.Add(6 * time.Hour).UnixMilli(),
	}
}

func testParams() CheckParams {
	cp := CheckParamsFrom(config.Default().Strategy)
	cp.ConfirmCount = 3
	cp.ConfirmDuration = 300 * time.Second
	cp.ConfirmInterval = 60 * time.Second
	return cp
}

func TestTakeProfitPath(t *testing.T) {
	p := newPos(100)
	cp := testParams()

	// Cross both partial stages on the way up so only take-profit is
	// left to fire at the target.
	prices := []float64{100, 102.1, 103.6}
	now := t0
	for _, px := range prices {
		now = now.Add(time.Minute)
		if d := Check(p, px, now, cp); d != nil {
			if d.Kind != ExitPartial {
				t.Fatalf("unexpected exit %q at %.1f", d.Kind, px)
			}
			p.PartialSells++
		}
	}
	if p.PartialSells != 2 {
		t.Fatalf("partials consumed = %d, want 2", p.PartialSells)
	}

	d := Check(p, 105.01, now.Add(time.Minute), cp)
	if d == nil || d.Kind != ExitTakeProfit {
		t.Fatalf("want take profit, got %+v", d)
	}
	if d.PnlPct < 4.9 || d.PnlPct > 5.1 {
		t.Errorf("pnl = %.2f, want ≈5.0", d.PnlPct)
	}
}

func TestHighestPriceMonotone(t *testing.T) {
	p := newPos(100)
	cp := testParams()
	for _, px := range []float64{100, 101.5, 101, 100.2, 101.4} {
		Check(p, px, t0.Add(time.Minute), cp)
		if p.HighestPrice < px {
			t.Fatalf("highest %.2f below tick %.2f", p.HighestPrice, px)
		}
	}
	if p.HighestPrice != 101.5 {
		t.Errorf("highest = %.2f, want 101.5", p.HighestPrice)
	}
}

func TestBreakevenThenHolds(t *testing.T) {
	p := newPos(100)
	cp := testParams()

	Check(p, 101.0, t0.Add(time.Minute), cp)
	if !p.BreakevenSet {
		t.Fatal("break-even not set at +1%")
	}
	if p.StopLoss < 100*0.998 {
		t.Fatalf("stop %.3f below break-even floor", p.StopLoss)
	}

	// Re-ticking lower must not lower the stop again.
	before := p.StopLoss
	Check(p, 100.2, t0.Add(2*time.Minute), cp)
	if p.StopLoss < before {
		t.Errorf("stop moved down: %.3f -> %.3f", before, p.StopLoss)
	}
}

func TestTrailingRatchet(t *testing.T) {
	p := newPos(100)
	cp := testParams()

	if d := Check(p, 102.5, t0.Add(time.Minute), cp); d != nil && d.Kind == ExitPartial {
		p.PartialSells++
	}
	if !p.TrailingActive {
		t.Fatal("trailing not active at +2.5%")
	}
	wantSL := 102.5 * (1 - cp.TrailingDistancePct/100)
	if p.StopLoss < wantSL-1e-9 {
		t.Fatalf("stop %.4f below trail %.4f", p.StopLoss, wantSL)
	}

	// New high ratchets the stop up, never down.
	if d := Check(p, 104, t0.Add(2*time.Minute), cp); d != nil && d.Kind == ExitPartial {
		p.PartialSells++
	}
	if p.StopLoss < 104*(1-cp.TrailingDistancePct/100)-1e-9 {
		t.Errorf("stop did not follow the new high")
	}
}

func TestPartialStages(t *testing.T) {
	p := newPos(100)
	cp := testParams()

	d := Check(p, 102.1, t0.Add(time.Minute), cp)
	if d == nil || d.Kind != ExitPartial || d.Fraction != cp.Partial1Fraction {
		t.Fatalf("want partial 1, got %+v", d)
	}
	p.PartialSells++

	// Same level again: stage 1 is consumed.
	if d := Check(p, 102.1, t0.Add(2*time.Minute), cp); d != nil && d.Kind == ExitPartial {
		t.Fatalf("partial 1 repeated: %+v", d)
	}

	d = Check(p, 103.6, t0.Add(3*time.Minute), cp)
	if d == nil || d.Kind != ExitPartial || d.Fraction != cp.Partial2Fraction {
		t.Fatalf("want partial 2, got %+v", d)
	}
}

func TestHardDrop(t *testing.T) {
	p := newPos(100)
	d := Check(p, 94.9, t0.Add(time.Minute), testParams())
	if d == nil || d.Kind != ExitHardDrop {
		t.Fatalf("want hard drop, got %+v", d)
	}
}

// Spec scenario: repeated stop touches that recover in between never
// fire the stop.
func TestWhipsawRejection(t *testing.T) {
	p := newPos(100)
	p.StopLoss = 97.5
	cp := testParams()

	ticks := []struct {
		dt float64 // seconds from start
		px float64
	}{
		{0, 97.4}, {80, 98.0}, {160, 97.3}, {240, 98.1}, {320, 97.4}, {400, 98.2},
	}
	for _, tk := range ticks {
		now := t0.Add(time.Duration(tk.dt * float64(time.Second)))
		if d := Check(p, tk.px, now, cp); d != nil {
			t.Fatalf("sold at t=%.0fs px=%.1f: %+v", tk.dt, tk.px, d)
		}
	}
	if p.StopHitCount != 0 {
		t.Errorf("whipsaw state not reset after recovery: count=%d", p.StopHitCount)
	}
}

func TestWhipsawConfirmedStop(t *testing.T) {
	p := newPos(100)
	p.StopLoss = 97.5
	cp := testParams()

	// Three touches spaced ≥ interval, all below the stop, spanning
	// more than the confirm duration.
	var d *ExitDecision
	for i, dt := range []time.Duration{0, 150 * time.Second, 320 * time.Second} {
		d = Check(p, 97.3, t0.Add(dt), cp)
		if i < 2 && d != nil {
			t.Fatalf("fired on touch %d: %+v", i+1, d)
		}
	}
	if d == nil || d.Kind != ExitStopLoss {
		t.Fatalf("want confirmed stop, got %+v", d)
	}
}

func TestWhipsawRSIProtection(t *testing.T) {
	p := newPos(100)
	p.StopLoss = 97.5
	p.LastRSI = 20
	cp := testParams()

	for _, dt := range []time.Duration{0, 150 * time.Second, 320 * time.Second, 500 * time.Second} {
		if d := Check(p, 97.3, t0.Add(dt), cp); d != nil {
			t.Fatalf("stop fired despite oversold RSI: %+v", d)
		}
	}
	if !p.RSIProtectionLogged {
		t.Error("protection flag not set")
	}
}

func TestTimeouts(t *testing.T) {
	cp := testParams()

	p := newPos(100)
	if d := Check(p, 100.1, t0.Add(6*time.Hour), cp); d == nil || d.Kind != ExitSoftTimeout {
		t.Fatalf("want soft timeout, got %+v", d)
	}

	p = newPos(100)
	p.MaxHoldUntil = t0.Add(48 * time.Hour).UnixMilli()
	d := Check(p, 99.8, t0.Add(cp.HardMaxHold), cp)
	if d == nil || d.Kind != ExitHardTimeout || !d.Force {
		t.Fatalf("want forced hard timeout, got %+v", d)
	}
}

func TestStaleExit(t *testing.T) {
	cp := testParams()
	p := newPos(100)
	p.MaxHoldUntil = t0.Add(48 * time.Hour).UnixMilli()

	d := Check(p, 100.1, t0.Add(cp.StaleAfter), cp)
	if d == nil || d.Kind != ExitStale {
		t.Fatalf("want stale exit, got %+v", d)
	}

	// Outside the fee-floor band the position keeps holding.
	p = newPos(100)
	p.MaxHoldUntil = t0.Add(48 * time.Hour).UnixMilli()
	if d := Check(p, 101.0, t0.Add(cp.StaleAfter), cp); d != nil {
		t.Fatalf("stale fired outside band: %+v", d)
	}
}

func TestCanDCA(t *testing.T) {
	dp := DCAParamsFrom(config.Default().Strategy)
	now := t0.Add(40 * time.Minute)

	base := func() *Position {
		p := newPos(100)
		p.StopLoss = 90
		return p
	}

	if !CanDCA(base(), 98, 30, now, dp) {
		t.Fatal("qualifying DCA rejected")
	}
	if CanDCA(base(), 99.5, 30, now, dp) {
		t.Error("DCA above trigger accepted")
	}
	if CanDCA(base(), 98, 50, now, dp) {
		t.Error("DCA with high RSI accepted")
	}
	if CanDCA(base(), 98, 30, t0.Add(10*time.Minute), dp) {
		t.Error("DCA before min hold accepted")
	}
	p := base()
	p.DCACount = dp.MaxCount
	if CanDCA(p, 98, 30, now, dp) {
		t.Error("DCA past max count accepted")
	}
	p = base()
	p.LastDCATs = now.Add(-10 * time.Minute).UnixMilli()
	if CanDCA(p, 98, 30, now, dp) {
		t.Error("DCA inside min interval accepted")
	}
	p = base()
	p.StopLoss = 97.8
	if CanDCA(p, 98, 30, now, dp) {
		t.Error("DCA next to the stop accepted")
	}
}

func TestApplyDCA(t *testing.T) {
	p := newPos(100)
	p.StopHitCount = 2
	p.BreakevenSet = true

	p.ApplyDCA(98, 1.0, 98, 2.5, 5.0, t0.Add(time.Hour))

	if p.EntryPrice != 99 {
		t.Errorf("blended entry = %.2f, want 99", p.EntryPrice)
	}
	if p.Quantity != 2.0 || p.CostAmount != 198 {
		t.Errorf("qty/cost = %.2f/%.2f", p.Quantity, p.CostAmount)
	}
	if p.DCACount != 1 {
		t.Errorf("dca count = %d", p.DCACount)
	}
	if p.StopHitCount != 0 || p.BreakevenSet || p.TrailingActive {
		t.Error("exit state not re-armed after DCA")
	}
	if p.HighestPrice != 99 {
		t.Errorf("highest not reset: %.2f", p.HighestPrice)
	}
}

// Spec scenario 3: DCA at 98 then recovery to 103 exits near +4% on
// the blended basis.
func TestDCARecoveryPnl(t *testing.T) {
	p := newPos(100) // 100 KRW cost at 100
	p.ApplyDCA(98, 100.0/98, 100, 2.5, 5.0, t0.Add(40*time.Minute))

	pnl := p.PnlPct(103)
	if pnl < 3.9 || pnl > 4.2 {
		t.Errorf("pnl at 103 = %.2f, want ≈4.04", pnl)
	}
}
