package position

import (
	"fmt"
	"time"

	"github.com/rmsfid11-commits/trading-bot-sub000/config"
)

// Exit kinds the state machine can decide.
const (
	ExitTakeProfit  = "take_profit"
	ExitStopLoss    = "stop_loss"
	ExitHardDrop    = "hard_drop"
	ExitPartial     = "partial"
	ExitSoftTimeout = "soft_timeout"
	ExitHardTimeout = "hard_timeout"
	ExitStale       = "stale"
	ExitSignal      = "signal"
)

// ExitDecision tells the executor what to do with a held position.
// Fraction is set for partial sells, otherwise the full quantity goes.
type ExitDecision struct {
	Kind     string
	Reason   string
	Fraction float64
	Force    bool
	PnlPct   float64
}

// CheckParams are the effective exit parameters for one tick: strategy
// defaults adjusted by the market mode and, for SL/TP distance, the
// entry-time ATR.
type CheckParams struct {
	BreakevenTriggerPct float64
	TrailingActivatePct float64
	TrailingDistancePct float64

	Partial1Pct      float64
	Partial1Fraction float64
	Partial2Pct      float64
	Partial2Fraction float64

	HardDropPct float64

	ConfirmCount    int
	ConfirmDuration time.Duration
	ConfirmInterval time.Duration
	RSIProtect      float64

	HardMaxHold time.Duration
	StaleAfter  time.Duration
	StaleLowPct float64
	StaleHighPct float64
}

// CheckParamsFrom lifts strategy config into tick parameters.
func CheckParamsFrom(s config.Strategy) CheckParams {
	return CheckParams{
		BreakevenTriggerPct: s.BreakevenTriggerPct,
		TrailingActivatePct: s.TrailingActivatePct,
		TrailingDistancePct: s.TrailingDistancePct,
		Partial1Pct:         s.Partial1Pct,
		Partial1Fraction:    s.Partial1Fraction,
		Partial2Pct:         s.Partial2Pct,
		Partial2Fraction:    s.Partial2Fraction,
		HardDropPct:         s.HardDropPct,
		ConfirmCount:        s.StopConfirmCount,
		ConfirmDuration:     time.Duration(s.StopConfirmDurationSec) * time.Second,
		ConfirmInterval:     time.Duration(s.StopConfirmIntervalSec) * time.Second,
		RSIProtect:          s.RSIOversoldProtect,
		HardMaxHold:         time.Duration(s.HardMaxHoldHrs * float64(time.Hour)),
		StaleAfter:          time.Duration(s.StaleExitHours * float64(time.Hour)),
		StaleLowPct:         -0.3,
		StaleHighPct:        0.5,
	}
}

// Check advances the exit state machine one tick and returns the exit
// to execute, or nil to keep holding. It mutates the position's
// break-even, trailing and whipsaw state; all transitions are
// idempotent under repeated ticks at the same price.
func Check(p *Position, price float64, now time.Time, cp CheckParams) *ExitDecision {
	p.Touch(price)
	pnl := p.PnlPct(price)

	// Break-even: once in profit, the stop can never give the entry
	// back (modulo fees).
	if !p.BreakevenSet && pnl >= cp.BreakevenTriggerPct {
		if sl := p.EntryPrice * 1.001; sl > p.StopLoss {
			p.StopLoss = sl
		}
		p.BreakevenSet = true
	}

	// Trailing: ratchet the stop under the high-water mark.
	if pnl >= cp.TrailingActivatePct {
		p.TrailingActive = true
	}
	if p.TrailingActive {
		if sl := p.HighestPrice * (1 - cp.TrailingDistancePct/100); sl > p.StopLoss {
			p.StopLoss = sl
		}
	}

	// Staged partial exits.
	if p.PartialSells == 0 && pnl >= cp.Partial1Pct && cp.Partial1Fraction > 0 {
		return &ExitDecision{Kind: ExitPartial, Fraction: cp.Partial1Fraction, PnlPct: pnl,
			Reason: fmt.Sprintf("partial 1 at %+.2f%%", pnl)}
	}
	if p.PartialSells == 1 && pnl >= cp.Partial2Pct && cp.Partial2Fraction > 0 {
		return &ExitDecision{Kind: ExitPartial, Fraction: cp.Partial2Fraction, PnlPct: pnl,
			Reason: fmt.Sprintf("partial 2 at %+.2f%%", pnl)}
	}

	// Hard drop overrides everything below.
	if pnl <= cp.HardDropPct {
		return &ExitDecision{Kind: ExitHardDrop, PnlPct: pnl,
			Reason: fmt.Sprintf("급락 %+.2f%%", pnl)}
	}

	// Whipsaw-confirmed stop loss.
	if price <= p.StopLoss {
		if d := checkWhipsawStop(p, price, now, cp); d != nil {
			return d
		}
	} else if p.StopHitCount > 0 {
		// Price recovered above the stop: the touches were a fake-out.
		p.ResetWhipsaw()
	}

	// Take profit.
	if price >= p.TakeProfit {
		return &ExitDecision{Kind: ExitTakeProfit, PnlPct: pnl,
			Reason: fmt.Sprintf("take profit %+.2f%%", pnl)}
	}

	held := p.HoldDuration(now)

	// Soft timeout.
	if p.MaxHoldUntil > 0 && now.UnixMilli() >= p.MaxHoldUntil {
		return &ExitDecision{Kind: ExitSoftTimeout, PnlPct: pnl,
			Reason: fmt.Sprintf("max hold %+.2f%%", pnl)}
	}

	// Hard timeout.
	if cp.HardMaxHold > 0 && held >= cp.HardMaxHold {
		return &ExitDecision{Kind: ExitHardTimeout, Force: true, PnlPct: pnl,
			Reason: fmt.Sprintf("hard max hold %+.2f%%", pnl)}
	}

	// Stale position barely above water: free the slot.
	if cp.StaleAfter > 0 && held >= cp.StaleAfter && pnl > cp.StaleLowPct && pnl < cp.StaleHighPct {
		return &ExitDecision{Kind: ExitStale, PnlPct: pnl,
			Reason: fmt.Sprintf("stale %+.2f%%", pnl)}
	}

	return nil
}

// checkWhipsawStop registers one stop touch and fires only after
// enough spaced touches over a long enough window. A deeply oversold
// RSI suppresses the stop for the tick.
func checkWhipsawStop(p *Position, price float64, now time.Time, cp CheckParams) *ExitDecision {
	if cp.RSIProtect > 0 && p.LastRSI > 0 && p.LastRSI < cp.RSIProtect {
		p.RSIProtectionLogged = true
		return nil
	}

	nowMs := now.UnixMilli()
	switch {
	case p.StopHitCount == 0:
		p.StopHitCount = 1
		p.FirstStopHitTs = nowMs
		p.LastStopHitTs = nowMs
	case nowMs-p.LastStopHitTs >= cp.ConfirmInterval.Milliseconds():
		p.StopHitCount++
		p.LastStopHitTs = nowMs
	}

	elapsed := nowMs - p.FirstStopHitTs
	if p.StopHitCount >= cp.ConfirmCount && elapsed >= cp.ConfirmDuration.Milliseconds() {
		pnl := p.PnlPct(price)
		return &ExitDecision{Kind: ExitStopLoss, PnlPct: pnl,
			Reason: fmt.Sprintf("stop loss %+.2f%% (%d touches)", pnl, p.StopHitCount)}
	}
	return nil
}

// DCAParams gate averaging down.
type DCAParams struct {
	TriggerPct  float64
	MaxCount    int
	MinHold     time.Duration
	RSIMax      float64
	MinInterval time.Duration
}

// DCAParamsFrom lifts strategy config into DCA parameters.
func DCAParamsFrom(s config.Strategy) DCAParams {
	return DCAParams{
		TriggerPct:  s.DCATriggerPct,
		MaxCount:    s.DCAMaxCount,
		MinHold:     time.Duration(s.DCAMinHoldMin) * time.Minute,
		RSIMax:      s.DCARSIMax,
		MinInterval: time.Duration(s.DCAMinIntervalMin) * time.Minute,
	}
}

// CanDCA reports whether the position qualifies for averaging down at
// price. rsi < 0 means RSI is unavailable and its gate is skipped.
func CanDCA(p *Position, price float64, rsi float64, now time.Time, dp DCAParams) bool {
	if p.PnlPct(price) > dp.TriggerPct {
		return false
	}
	if p.DCACount >= dp.MaxCount {
		return false
	}
	if p.HoldDuration(now) < dp.MinHold {
		return false
	}
	if rsi >= 0 && dp.RSIMax > 0 && rsi > dp.RSIMax {
		return false
	}
	if p.LastDCATs > 0 && now.Sub(time.UnixMilli(p.LastDCATs)) < dp.MinInterval {
		return false
	}
	// Too close to the stop: averaging down would buy straight into it.
	if p.StopLoss > 0 && price <= p.StopLoss*1.005 {
		return false
	}
	return true
}
