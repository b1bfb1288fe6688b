package position

import (
	"testing"
	"time"

	"github.com/rmsfid11-commits/trading-bot-sub000/config"
)

func testGovernor() (*Governor, *Book) {
	book := NewBook()
	book.SetInitialBalance(1_000_000)
	g := NewGovernor(config.Default().Risk, book)
	g.now = func() time.Time { return t0 }
	return g, book
}

func TestCanOpenHappyPath(t *testing.T) {
	g, _ := testGovernor()
	d := g.CanOpen("KRW-ETH", 100_000, 1_000_000, false)
	if !d.Allowed || d.Reason != "" {
		t.Fatalf("rejected: %+v", d)
	}
}

// Spec scenario 4: losses past the daily limit block the next buy.
func TestDailyLossLimit(t *testing.T) {
	g, book := testGovernor()
	for i := 0; i < 4; i++ {
		book.RecordSell("KRW-ETH", t0, -1.0, -2750, 100_000)
	}
	d := g.CanOpen("KRW-SOL", 50_000, 1_000_000, false)
	if d.Allowed || d.Reason != ReasonDailyLossLimit {
		t.Fatalf("want daily loss limit rejection, got %+v", d)
	}
}

func TestRecoveryCooldown(t *testing.T) {
	g, book := testGovernor()
	book.RecordSell("KRW-ETH", t0, -1.0, -8500, 100_000) // 85% of the limit
	g.NoteBuy()
	if d := g.CanOpen("KRW-SOL", 50_000, 1_000_000, false); d.Allowed {
		t.Fatalf("buy inside recovery cooldown allowed: %+v", d)
	}

	g.now = func() time.Time { return t0.Add(15 * time.Minute) }
	if d := g.CanOpen("KRW-SOL", 50_000, 1_000_000, false); !d.Allowed {
		t.Fatalf("buy after cooldown rejected: %+v", d)
	}
}

func TestDailyLossPctLimit(t *testing.T) {
	// A small account needs its own book: the baseline is written once
	// and never re-seeded.
	book := NewBook()
	book.SetInitialBalance(100_000) // 3% = 3,000 KRW
	g := NewGovernor(config.Default().Risk, book)
	g.now = func() time.Time { return t0 }

	book.RecordSell("KRW-ETH", t0, -1.0, -3500, 50_000)
	d := g.CanOpen("KRW-SOL", 10_000, 100_000, false)
	if d.Allowed || d.Reason != ReasonDailyLossPct {
		t.Fatalf("want %q rejection, got %+v", ReasonDailyLossPct, d)
	}
}

func TestLossStreakCounting(t *testing.T) {
	book := NewBook()
	book.RecordSell("KRW-A", t0, -1.0, -100, 10_000)
	book.RecordSell("KRW-B", t0, -0.5, -50, 10_000)
	if got := book.ConsecutiveLosses(); got != 2 {
		t.Fatalf("streak after two losses = %d, want 2", got)
	}

	// A break-even exit is neither a win nor a loss.
	book.RecordSell("KRW-C", t0, 0, 0, 10_000)
	if got := book.ConsecutiveLosses(); got != 2 {
		t.Errorf("streak after flat exit = %d, want 2", got)
	}
	if day := book.Day(); day.Wins != 0 || day.Losses != 2 {
		t.Errorf("day stats after flat exit = %d wins / %d losses, want 0/2", day.Wins, day.Losses)
	}

	book.RecordSell("KRW-D", t0, 0.8, 80, 10_000)
	if got := book.ConsecutiveLosses(); got != 0 {
		t.Errorf("streak after win = %d, want 0", got)
	}
}

func TestInitialBalanceFirstWriteWins(t *testing.T) {
	book := NewBook()
	book.SetInitialBalance(100_000)
	book.SetInitialBalance(500_000)
	if got := book.InitialBalance(); got != 100_000 {
		t.Errorf("baseline re-seeded: %.0f, want 100000", got)
	}
}

func TestHourlyLimit(t *testing.T) {
	g, book := testGovernor()
	for i := 0; i < 6; i++ {
		book.RecordBuy(t0.Add(-time.Duration(i) * time.Minute))
	}
	if d := g.CanOpen("KRW-SOL", 50_000, 1_000_000, false); d.Allowed || d.Reason != ReasonHourlyLimit {
		t.Fatalf("want hourly limit, got %+v", d)
	}

	// Buys older than an hour roll off.
	book2 := NewBook()
	book2.SetInitialBalance(1_000_000)
	g2 := NewGovernor(config.Default().Risk, book2)
	g2.now = func() time.Time { return t0 }
	for i := 0; i < 6; i++ {
		book2.RecordBuy(t0.Add(-2 * time.Hour))
	}
	if d := g2.CanOpen("KRW-SOL", 50_000, 1_000_000, false); !d.Allowed {
		t.Fatalf("stale buys still counted: %+v", d)
	}
}

func TestDynamicMaxPositions(t *testing.T) {
	g, book := testGovernor()

	tests := []struct {
		losses int
		scalp  bool
		want   int
	}{
		{0, false, 4},
		{2, false, 3},
		{3, false, 2},
		{5, false, 1},
		{0, true, 5},
		{5, true, 2},
	}
	for _, tt := range tests {
		book.consecLoss = tt.losses
		if got := g.DynamicMaxPositions(tt.scalp); got != tt.want {
			t.Errorf("losses=%d scalp=%v: max=%d, want %d", tt.losses, tt.scalp, got, tt.want)
		}
	}
}

func TestPositionCapRejections(t *testing.T) {
	g, book := testGovernor()
	for _, s := range []string{"KRW-A", "KRW-B", "KRW-C", "KRW-D"} {
		book.Set(&Position{Symbol: s, EntryPrice: 1, Quantity: 1})
	}
	if d := g.CanOpen("KRW-E", 50_000, 1_000_000, false); d.Allowed || d.Reason != ReasonMaxPositions {
		t.Fatalf("want max positions, got %+v", d)
	}
}

func TestAlreadyHoldingAndCooldown(t *testing.T) {
	g, book := testGovernor()
	book.Set(&Position{Symbol: "KRW-ETH", EntryPrice: 1, Quantity: 1})
	if d := g.CanOpen("KRW-ETH", 50_000, 1_000_000, false); d.Allowed || d.Reason != ReasonAlreadyHolding {
		t.Fatalf("want already holding, got %+v", d)
	}

	book.RecordSell("KRW-SOL", t0.Add(-10*time.Minute), 1.0, 500, 50_000)
	if d := g.CanOpen("KRW-SOL", 50_000, 1_000_000, false); d.Allowed {
		t.Fatalf("buy inside symbol cooldown allowed: %+v", d)
	}
}

func TestAmountShrunkToCap(t *testing.T) {
	g, _ := testGovernor()
	d := g.CanOpen("KRW-ETH", 500_000, 1_000_000, false)
	if !d.Allowed {
		t.Fatalf("oversized request rejected outright: %+v", d)
	}
	if d.MaxAmount != 200_000 {
		t.Errorf("shrunk amount = %.0f, want 200000", d.MaxAmount)
	}
}

func TestCanOpenDeterministic(t *testing.T) {
	g, book := testGovernor()
	book.RecordSell("KRW-ETH", t0, -1.0, -2000, 100_000)
	a := g.CanOpen("KRW-SOL", 50_000, 1_000_000, false)
	b := g.CanOpen("KRW-SOL", 50_000, 1_000_000, false)
	if a != b {
		t.Errorf("same inputs, different verdicts: %+v vs %+v", a, b)
	}
}
