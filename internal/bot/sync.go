package bot

import (
	"context"
	"sort"
	"time"

	"github.com/rmsfid11-commits/trading-bot-sub000/internal/ledger"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/position"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/upbit"
)

// Sold-outside reason for synthetic exit rows.
const reasonExternalSell = "수동 매도"

// refreshSymbols rebuilds the watch set: the top-volume markets plus
// everything currently held, blacklist removed (held symbols stay so
// their exits keep running).
func (b *Bot) refreshSymbols(ctx context.Context) {
	top, err := b.ex.TopVolumeSymbols(ctx, b.cfg.Quote, b.cfg.MaxSymbols)
	if err != nil {
		b.log.Warn().Err(err).Msg("top volume fetch failed, keeping previous watch set")
		return
	}

	set := make(map[string]bool, len(top))
	var symbols []string
	for _, s := range top {
		if b.led.Blacklist().Contains(s) {
			continue
		}
		if !set[s] {
			set[s] = true
			symbols = append(symbols, s)
		}
	}
	for _, s := range b.book.Symbols() {
		if !set[s] {
			set[s] = true
			symbols = append(symbols, s)
		}
	}
	sort.Strings(symbols)

	b.stateMu.Lock()
	b.symbols = symbols
	b.lastSymbolRefresh = time.Now()
	b.stateMu.Unlock()
	b.log.Debug().Int("count", len(symbols)).Msg("watch set refreshed")
}

// syncPositions reconciles the book against exchange holdings. Records
// whose balance is gone become synthetic exits; holdings the book
// doesn't know are adopted at their recorded average buy price unless
// protected.
func (b *Bot) syncPositions(ctx context.Context) {
	holdings, err := b.ex.GetDetailedHoldings(ctx)
	if err != nil {
		b.log.Warn().Err(err).Msg("holdings fetch failed, sync skipped")
		return
	}

	changed := false

	// Side 1: recorded positions no longer backed by a balance.
	for _, symbol := range b.book.Symbols() {
		pos := b.book.Get(symbol)
		if pos == nil {
			continue
		}
		held := holdings[upbit.BaseOf(symbol)].Quantity
		if held >= pos.Quantity*0.1 {
			continue
		}
		b.removeExternal(pos, reasonExternalSell)
		changed = true
	}

	// Side 2: balances the book doesn't know about.
	for base, h := range holdings {
		symbol := upbit.SymbolFor(b.cfg.Quote, base)
		if b.book.Has(symbol) || b.book.IsProtected(symbol) {
			continue
		}
		value := h.Quantity * h.AvgBuyPrice
		if value < dustThresholdKRW || h.AvgBuyPrice <= 0 {
			continue
		}

		s := b.strategy()
		now := time.Now()
		pos := &position.Position{
			Symbol:       symbol,
			EntryPrice:   h.AvgBuyPrice,
			Quantity:     h.Quantity,
			CostAmount:   value,
			EntryTs:      now.UnixMilli(),
			StopLoss:     h.AvgBuyPrice * (1 - s.StopLossPct/100),
			TakeProfit:   h.AvgBuyPrice * (1 + s.TakeProfitPct/100),
			HighestPrice: h.AvgBuyPrice,
			MaxHoldUntil: now.Add(time.Duration(s.MaxHoldHours * float64(time.Hour))).UnixMilli(),
			BuyReason:    "adopted from exchange holdings",
		}
		b.exec.record(ledger.Entry{
			Ts:       now.UnixMilli(),
			Symbol:   symbol,
			Action:   ledger.ActionBuy,
			Price:    h.AvgBuyPrice,
			Quantity: h.Quantity,
			Amount:   value,
			Reason:   pos.BuyReason,
		})
		b.book.Set(pos)
		changed = true
		b.log.Info().Str("symbol", symbol).Float64("entry", h.AvgBuyPrice).Msg("external holding adopted")
	}

	if changed {
		b.led.SavePositions(b.book)
	}
}
