package position

import (
	"fmt"
	"time"

	"github.com/rmsfid11-commits/trading-bot-sub000/config"
)

// Rejection reasons the governor emits. The daily limit strings feed
// the dashboard and the notifier verbatim.
const (
	ReasonDailyLossLimit  = "daily loss limit"
	ReasonRecoveryCooldown = "recovery cooldown"
	ReasonDailyLossPct    = "daily loss percent limit"
	ReasonHourlyLimit     = "hourly trade limit"
	ReasonMaxPositions    = "max positions"
	ReasonAlreadyHolding  = "already holding"
	ReasonSymbolCooldown  = "symbol cooldown"
	ReasonAmountTooLarge  = "amount above position cap"
)

// Decision is the governor's verdict on one buy candidate.
type Decision struct {
	Allowed   bool
	Reason    string
	MaxAmount float64 // set when the request was shrunk rather than denied
}

// Governor enforces the daily, hourly and exposure limits ahead of
// every buy. Checks run in a fixed precedence so the rejection reason
// is deterministic.
type Governor struct {
	cfg  config.Risk
	book *Book
	now  func() time.Time

	lastBuyAt time.Time
}

// NewGovernor wires the governor to a tenant's book.
func NewGovernor(cfg config.Risk, book *Book) *Governor {
	return &Governor{cfg: cfg, book: book, now: time.Now}
}

// DynamicMaxPositions shrinks the position cap as the losing streak
// grows: -1 at two losses, -2 at three, -3 at five. A scalp-eligible
// candidate gets the extra scalp slot on top. Never below one.
func (g *Governor) DynamicMaxPositions(scalpEligible bool) int {
	maxPos := g.cfg.MaxPositions
	switch losses := g.book.ConsecutiveLosses(); {
	case losses >= 5:
		maxPos -= 3
	case losses >= 3:
		maxPos -= 2
	case losses >= 2:
		maxPos--
	}
	if maxPos < 1 {
		maxPos = 1
	}
	if scalpEligible {
		maxPos += g.cfg.ScalpExtraSlots
	}
	return maxPos
}

// CanOpen runs the eight checks in precedence order. amount is the
// requested quote-currency spend; balance is total account value.
func (g *Governor) CanOpen(symbol string, amount, balance float64, scalpEligible bool) Decision {
	now := g.now()
	day := g.book.Day()

	// 1. Absolute daily loss limit.
	if day.PnlKRW <= -g.cfg.DailyLossLimitKRW {
		return Decision{Reason: ReasonDailyLossLimit}
	}

	// 2. Near the limit: only one buy per recovery cooldown.
	if day.PnlKRW <= -g.cfg.DailyLossLimitKRW*0.8 {
		cooldown := time.Duration(g.cfg.RecoveryCooldownMin) * time.Minute
		if !g.lastBuyAt.IsZero() && now.Sub(g.lastBuyAt) < cooldown {
			return Decision{Reason: ReasonRecoveryCooldown}
		}
	}

	// 3. Percent-of-balance daily loss limit.
	if initial := g.book.InitialBalance(); initial > 0 {
		if day.PnlKRW <= -initial*g.cfg.MaxDailyLossPct/100 {
			return Decision{Reason: ReasonDailyLossPct}
		}
	}

	// 4. Hourly rate limit.
	if g.book.BuysInLastHour(now) >= g.cfg.HourlyMaxTrades {
		return Decision{Reason: ReasonHourlyLimit}
	}

	// 5. Dynamic position cap.
	if g.book.Count() >= g.DynamicMaxPositions(scalpEligible) {
		return Decision{Reason: ReasonMaxPositions}
	}

	// 6. One position per symbol.
	if g.book.Has(symbol) {
		return Decision{Reason: ReasonAlreadyHolding}
	}

	// 7. Per-symbol cooldown after a sell.
	if last, ok := g.book.LastSellAt(symbol); ok {
		cooldown := time.Duration(g.cfg.CooldownMin) * time.Minute
		if now.Sub(last) < cooldown {
			return Decision{Reason: fmt.Sprintf("%s (%dm)", ReasonSymbolCooldown, g.cfg.CooldownMin)}
		}
	}

	// 8. Position size cap.
	if limit := balance * g.cfg.MaxPositionPct / 100; amount > limit {
		return Decision{Allowed: true, Reason: ReasonAmountTooLarge, MaxAmount: limit}
	}

	return Decision{Allowed: true, MaxAmount: amount}
}

// NoteBuy records a successful buy for the recovery cooldown.
func (g *Governor) NoteBuy() {
	g.lastBuyAt = g.now()
}
