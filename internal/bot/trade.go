package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rmsfid11-commits/trading-bot-sub000/internal/events"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/ledger"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/market"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/position"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/signal"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/upbit"
)

// Exit reason shown when the exchange balance vanished under a sell.
const reasonBalanceGone = "잔고 부족"

// executeBuy opens a position for a buy signal. Order of checks:
// blacklist, adaptive cooldown, sizing, risk governor, then the order.
// The journal row is written before the book mutates.
func (b *Bot) executeBuy(ctx context.Context, symbol string, sig *signal.Signal, mode market.ModeProfile, filter position.FilterState) {
	if b.led.Blacklist().Contains(symbol) {
		return
	}
	if filter.Cooldown {
		b.log.Debug().Str("symbol", symbol).Str("filter", filter.Reason()).Msg("buy suppressed by cooldown")
		return
	}

	bal := b.getBalance()
	s := b.strategy()
	amount := bal.Free * s.BasePositionPct / 100 * mode.PositionSizeMult * filter.SizeMult
	if sig.Indicators != nil && sig.Indicators.Regime != nil && sig.Indicators.Regime.SizeMult > 0 {
		amount *= sig.Indicators.Regime.SizeMult
	}
	if amount < upbit.MinOrderKRW {
		return
	}

	scalp := mode.Mode == market.ModeScalping
	dec := b.governor.CanOpen(symbol, amount, bal.Total, scalp)
	if !dec.Allowed {
		b.log.Debug().Str("symbol", symbol).Str("reason", dec.Reason).Msg("buy denied by governor")
		return
	}
	if dec.MaxAmount > 0 && dec.MaxAmount < amount {
		amount = dec.MaxAmount
	}

	price := sig.Indicators.VWAP
	if price <= 0 {
		if t, err := b.ex.GetTicker(ctx, symbol); err == nil {
			price = t.Price
		}
	}
	res, err := b.exec.Buy(ctx, symbol, amount, price)
	if err != nil {
		b.log.Warn().Err(err).Str("symbol", symbol).Msg("buy failed")
		return
	}

	slPct, tpPct := b.exitDistances(sig, mode)
	now := time.Now()
	pos := &position.Position{
		Symbol:       symbol,
		EntryPrice:   res.Price,
		Quantity:     res.Quantity,
		CostAmount:   res.Amount,
		EntryTs:      now.UnixMilli(),
		StopLoss:     res.Price * (1 - slPct/100),
		TakeProfit:   res.Price * (1 + tpPct/100),
		HighestPrice: res.Price,
		ScalpMode:    scalp,
		BuyReasons:   uint8(sig.Reasons),
		BuyScore:     sig.BuyScore,
		BuyReason:    sig.ReasonText,
	}
	holdHours := s.MaxHoldHours
	if mode.MaxHoldMult > 0 {
		holdHours *= mode.MaxHoldMult
	}
	pos.MaxHoldUntil = now.Add(time.Duration(holdHours * float64(time.Hour))).UnixMilli()
	if sig.Indicators != nil {
		pos.LastRSI = sig.Indicators.RSI
		if sig.Indicators.ATR != nil {
			pos.ATRPct = sig.Indicators.ATR.ATRPct
		}
		if sig.Indicators.Regime != nil {
			pos.EntryRegime = string(sig.Indicators.Regime.Label)
		}
	}

	b.exec.record(ledger.Entry{
		Ts:       now.UnixMilli(),
		Symbol:   symbol,
		Action:   ledger.ActionBuy,
		Price:    res.Price,
		Quantity: res.Quantity,
		Amount:   res.Amount,
		Reason:   sig.ReasonText,
		Snapshot: b.snapshotOf(sig),
		Regime:   pos.EntryRegime,
		OrderID:  res.OrderID,
		BuyScore: sig.BuyScore,
		Reasons:  uint8(sig.Reasons),
	})

	b.book.Set(pos)
	b.book.RecordBuy(now)
	b.led.SavePositions(b.book)

	b.log.Info().
		Str("symbol", symbol).
		Float64("price", res.Price).
		Float64("amount", res.Amount).
		Float64("score", sig.BuyScore).
		Str("reason", sig.ReasonText).
		Msg("position opened")
	b.bus.PublishTradeEvent("BUY", symbol, res.Price, res.Quantity, res.Amount, sig.ReasonText, 0, 0)
	b.bus.Publish(events.Event{Type: events.EventPositionOpened, Data: map[string]interface{}{
		"symbol": symbol, "price": res.Price, "amount": res.Amount,
	}})
}

// exitDistances resolves stop and target percent for a new entry:
// strategy defaults, mode overrides, regime multipliers, then the
// ATR-proportional widening within its bounds.
func (b *Bot) exitDistances(sig *signal.Signal, mode market.ModeProfile) (slPct, tpPct float64) {
	s := b.strategy()
	slPct, tpPct = s.StopLossPct, s.TakeProfitPct
	if mode.StopLossPct > 0 {
		slPct = mode.StopLossPct
	}
	if mode.TakeProfitPct > 0 {
		tpPct = mode.TakeProfitPct
	}
	if sig.Indicators != nil && sig.Indicators.Regime != nil {
		r := sig.Indicators.Regime
		if r.StopLossMult > 0 {
			slPct *= r.StopLossMult
		}
		if r.TakeProfitMult > 0 {
			tpPct *= r.TakeProfitMult
		}
	}
	if sig.Indicators != nil && sig.Indicators.ATR != nil && sig.Indicators.ATR.ATRPct > 0 {
		mult := sig.Indicators.ATR.ATRPct / 1.5
		if mult < s.ATRStopMultMin {
			mult = s.ATRStopMultMin
		}
		if mult > s.ATRStopMultMax {
			mult = s.ATRStopMultMax
		}
		slPct *= mult
	}
	return slPct, tpPct
}

// snapshotOf captures the market fingerprint persisted on buy rows for
// the learning pass.
func (b *Bot) snapshotOf(sig *signal.Signal) map[string]interface{} {
	snap := map[string]interface{}{
		"buy_score":  sig.BuyScore,
		"sell_score": sig.SellScore,
	}
	if sig.Indicators != nil {
		snap["rsi"] = sig.Indicators.RSI
		snap["volume_ratio"] = sig.Indicators.VolumeRatio
		if sig.Indicators.Bollinger != nil {
			snap["bb_position"] = sig.Indicators.Bollinger.PricePosition
		}
	}
	return snap
}

// executeExit runs one exit decision: a fraction for partials, the
// whole position otherwise. Failed sells increment the attempt counter
// and force-remove at the cap.
func (b *Bot) executeExit(ctx context.Context, pos *position.Position, price float64, d *position.ExitDecision) {
	if d.Kind == position.ExitPartial {
		b.executePartial(ctx, pos, price, d)
		return
	}

	res, err := b.exec.Sell(ctx, pos, pos.Quantity)
	if err != nil {
		if errors.Is(err, ErrBalanceGone) {
			b.removeExternal(pos, reasonBalanceGone)
			return
		}
		pos.SellAttempts++
		b.log.Warn().Err(err).Str("symbol", pos.Symbol).Int("attempts", pos.SellAttempts).Msg("sell failed")
		if pos.SellAttempts >= maxSellAttempts {
			b.exec.ForceRemove(pos, fmt.Sprintf("sell failed %d times", pos.SellAttempts))
			b.book.Remove(pos.Symbol)
			b.led.SavePositions(b.book)
		}
		return
	}

	now := time.Now()
	pnlPct := pos.PnlPct(res.Price)
	pnlKRW := (res.Price - pos.EntryPrice) * res.Quantity
	b.exec.record(ledger.Entry{
		Ts:        now.UnixMilli(),
		Symbol:    pos.Symbol,
		Action:    ledger.ActionSell,
		Price:     res.Price,
		Quantity:  res.Quantity,
		Amount:    res.Amount,
		Reason:    d.Reason,
		PnlPct:    &pnlPct,
		PnlAmount: &pnlKRW,
		Regime:    pos.EntryRegime,
		OrderID:   res.OrderID,
		BuyScore:  pos.BuyScore,
		Reasons:   pos.BuyReasons,
	})

	b.comp.Combos().Record(signal.ReasonSet(pos.BuyReasons), pnlPct, pos.BuyScore)
	b.led.SaveCombos(b.comp.Combos())
	b.book.RecordSell(pos.Symbol, now, pnlPct, pnlKRW, res.Amount)
	b.book.Remove(pos.Symbol)
	b.led.SavePositions(b.book)

	b.log.Info().
		Str("symbol", pos.Symbol).
		Str("kind", d.Kind).
		Float64("pnl_pct", pnlPct).
		Float64("pnl_krw", pnlKRW).
		Str("reason", d.Reason).
		Msg("position closed")
	b.bus.PublishTradeEvent("SELL", pos.Symbol, res.Price, res.Quantity, res.Amount, d.Reason, pnlPct, pnlKRW)
	b.bus.Publish(events.Event{Type: events.EventPositionClosed, Data: map[string]interface{}{
		"symbol": pos.Symbol, "pnl_pct": pnlPct, "pnl_krw": pnlKRW, "reason": d.Reason,
	}})
}

// executePartial sells a fraction and re-arms the stop at no worse
// than just under break-even, so the remainder can't turn the win into
// a loss. When the remainder would fall under the exchange minimum the
// whole position goes instead.
func (b *Bot) executePartial(ctx context.Context, pos *position.Position, price float64, d *position.ExitDecision) {
	qty := pos.Quantity * d.Fraction
	remainder := (pos.Quantity - qty) * price
	if remainder < upbit.MinOrderKRW {
		d2 := *d
		d2.Kind = position.ExitTakeProfit
		d2.Reason = d.Reason + " (remainder below minimum, full exit)"
		b.executeExit(ctx, pos, price, &d2)
		return
	}

	res, err := b.exec.Sell(ctx, pos, qty)
	if err != nil {
		if errors.Is(err, ErrBalanceGone) {
			b.removeExternal(pos, reasonBalanceGone)
			return
		}
		b.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("partial sell failed")
		return
	}

	now := time.Now()
	pnlPct := pos.PnlPct(res.Price)
	pnlKRW := (res.Price - pos.EntryPrice) * res.Quantity
	b.exec.record(ledger.Entry{
		Ts:        now.UnixMilli(),
		Symbol:    pos.Symbol,
		Action:    ledger.ActionPartialSell,
		Price:     res.Price,
		Quantity:  res.Quantity,
		Amount:    res.Amount,
		Reason:    d.Reason,
		PnlPct:    &pnlPct,
		PnlAmount: &pnlKRW,
		Regime:    pos.EntryRegime,
		OrderID:   res.OrderID,
	})

	pos.Quantity -= res.Quantity
	pos.CostAmount = pos.EntryPrice * pos.Quantity
	pos.PartialSells++
	if sl := pos.EntryPrice * 0.998; sl > pos.StopLoss {
		pos.StopLoss = sl
	}
	b.book.RecordSell(pos.Symbol, now, pnlPct, pnlKRW, res.Amount)
	b.led.SavePositions(b.book)

	b.log.Info().
		Str("symbol", pos.Symbol).
		Int("stage", pos.PartialSells).
		Float64("pnl_pct", pnlPct).
		Float64("remaining_qty", pos.Quantity).
		Msg("partial exit")
	b.bus.PublishTradeEvent("PARTIAL_SELL", pos.Symbol, res.Price, res.Quantity, res.Amount, d.Reason, pnlPct, pnlKRW)
}

// executeDCA averages down with CostAmount/(DCACount+1), so each round
// adds a shrinking increment.
func (b *Bot) executeDCA(ctx context.Context, pos *position.Position, price float64) {
	amount := pos.CostAmount / float64(pos.DCACount+1)
	bal := b.getBalance()
	if amount > bal.Free {
		amount = bal.Free
	}
	if amount < upbit.MinOrderKRW {
		return
	}

	res, err := b.exec.Buy(ctx, pos.Symbol, amount, price)
	if err != nil {
		b.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("dca buy failed")
		return
	}

	now := time.Now()
	b.exec.record(ledger.Entry{
		Ts:       now.UnixMilli(),
		Symbol:   pos.Symbol,
		Action:   ledger.ActionDCA,
		Price:    res.Price,
		Quantity: res.Quantity,
		Amount:   res.Amount,
		Reason:   fmt.Sprintf("dca round %d at %+.2f%%", pos.DCACount+1, pos.PnlPct(res.Price)),
		Regime:   pos.EntryRegime,
		OrderID:  res.OrderID,
	})

	s := b.strategy()
	pos.ApplyDCA(res.Price, res.Quantity, res.Amount, s.StopLossPct, s.TakeProfitPct, now)
	b.led.SavePositions(b.book)

	b.log.Info().
		Str("symbol", pos.Symbol).
		Int("round", pos.DCACount).
		Float64("new_entry", pos.EntryPrice).
		Msg("averaged down")
	b.bus.Publish(events.Event{Type: events.EventDCAFilled, Data: map[string]interface{}{
		"symbol": pos.Symbol, "round": pos.DCACount, "entry": pos.EntryPrice,
	}})
}

// removeExternal drops a position whose balance disappeared on the
// exchange side. The synthetic row carries no pnl figures: replay and
// learning both skip it.
func (b *Bot) removeExternal(pos *position.Position, reason string) {
	b.exec.record(ledger.Entry{
		Ts:       time.Now().UnixMilli(),
		Symbol:   pos.Symbol,
		Action:   ledger.ActionSell,
		Price:    pos.EntryPrice,
		Quantity: pos.Quantity,
		Reason:   reason,
	})
	b.book.Remove(pos.Symbol)
	b.led.SavePositions(b.book)
	b.log.Warn().Str("symbol", pos.Symbol).Str("reason", reason).Msg("position removed, sold externally")
}
