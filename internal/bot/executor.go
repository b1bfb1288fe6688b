package bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/rmsfid11-commits/trading-bot-sub000/internal/events"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/ledger"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/metrics"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/position"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/upbit"
)

// Force-remove threshold: after this many failed sells the position is
// dropped from internal state and the operator reconciles manually.
const maxSellAttempts = 10

// ErrBalanceGone means the exchange holds less than 10% of the
// recorded quantity: someone sold outside the bot.
var ErrBalanceGone = errors.New("exchange balance below recorded position")

// ArchiveSink mirrors journal rows into an external store. Optional.
type ArchiveSink interface {
	Record(tenantID string, e ledger.Entry)
}

// Executor places orders and writes the journal. Journal rows are
// written before in-memory state changes so a crash can only produce a
// duplicate (deduped by order id on replay), never a missing exit.
type Executor struct {
	tenantID string
	ex       upbit.Exchange
	journal  *ledger.Journal
	log      zerolog.Logger
	bus      *events.Bus
	met      *metrics.Metrics
	archive  ArchiveSink
	useLimit bool // marketable-limit entries with market fallback
}

// NewExecutor wires the executor for one tenant.
func NewExecutor(tenantID string, ex upbit.Exchange, journal *ledger.Journal, bus *events.Bus, met *metrics.Metrics, archive ArchiveSink, log zerolog.Logger) *Executor {
	return &Executor{
		tenantID: tenantID,
		ex:       ex,
		journal:  journal,
		log:      log.With().Str("component", "executor").Logger(),
		bus:      bus,
		met:      met,
		archive:  archive,
		useLimit: true,
	}
}

// record appends a journal row, mirrors it and counts it. Journal
// failures are logged; in-memory state stays authoritative.
func (e *Executor) record(entry ledger.Entry) {
	entry.UserID = e.tenantID
	if err := e.journal.Append(entry); err != nil {
		e.log.Error().Err(err).Str("action", entry.Action).Msg("journal append failed")
	}
	if e.archive != nil {
		e.archive.Record(e.tenantID, entry)
	}
	e.met.TradeRecorded(e.tenantID, entry.Action)
}

// Buy spends amount at market, or as a marketable limit near
// targetPrice when limit entries are enabled.
func (e *Executor) Buy(ctx context.Context, symbol string, amount, targetPrice float64) (*upbit.OrderResult, error) {
	if amount < upbit.MinOrderKRW {
		return nil, fmt.Errorf("amount %.0f below exchange minimum", amount)
	}
	var res *upbit.OrderResult
	var err error
	if e.useLimit && targetPrice > 0 {
		res, err = e.ex.LimitBuy(ctx, symbol, amount, targetPrice)
	} else {
		res, err = e.ex.Buy(ctx, symbol, amount)
	}
	if err != nil {
		e.met.OrderResult(e.tenantID, "BUY", "error")
		return nil, err
	}
	e.met.OrderResult(e.tenantID, "BUY", "filled")
	return res, nil
}

// Sell disposes quantity of the position's base asset after
// reconciling with the exchange-held quantity: under 10% of the record
// means the position is gone (ErrBalanceGone); under the requested
// quantity shrinks the order to what is actually held.
func (e *Executor) Sell(ctx context.Context, pos *position.Position, quantity float64) (*upbit.OrderResult, error) {
	held, err := e.heldQuantity(ctx, pos.Symbol)
	if err != nil {
		e.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("holdings check failed, selling recorded quantity")
		held = quantity
	}

	if held < pos.Quantity*0.1 {
		return nil, ErrBalanceGone
	}
	if held < quantity {
		e.log.Warn().Str("symbol", pos.Symbol).
			Float64("recorded", quantity).Float64("held", held).
			Msg("shrinking sell to held quantity")
		quantity = held
	}

	res, err := e.ex.Sell(ctx, pos.Symbol, quantity)
	if err != nil {
		e.met.OrderResult(e.tenantID, "SELL", "error")
		return nil, err
	}
	e.met.OrderResult(e.tenantID, "SELL", "filled")
	return res, nil
}

func (e *Executor) heldQuantity(ctx context.Context, symbol string) (float64, error) {
	holdings, err := e.ex.GetHoldings(ctx)
	if err != nil {
		return 0, err
	}
	return holdings[upbit.BaseOf(symbol)], nil
}

// ForceRemove journals the give-up row for a position whose sells keep
// failing. The caller drops it from the book.
func (e *Executor) ForceRemove(pos *position.Position, reason string) {
	e.record(ledger.Entry{
		Symbol:   pos.Symbol,
		Action:   ledger.ActionForceRemove,
		Price:    pos.EntryPrice,
		Quantity: pos.Quantity,
		Amount:   pos.CostAmount,
		Reason:   reason,
	})
	e.bus.Publish(events.Event{Type: events.EventError, Data: map[string]interface{}{
		"source":  "executor",
		"message": fmt.Sprintf("%s force-removed after %d failed sells", pos.Symbol, pos.SellAttempts),
	}})
}
