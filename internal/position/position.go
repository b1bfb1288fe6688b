// Package position holds the per-symbol position records, the book
// that owns them, the exit state machine, the DCA gate and the risk
// governor. Everything here is pure state: no I/O, no exchange calls.
// The trading loop is the single writer; the dashboard reads snapshots.
package position

import "time"

// Position is one open long exposure. Only the owning tenant's trading
// loop mutates it.
type Position struct {
	Symbol     string  `json:"symbol"`
	EntryPrice float64 `json:"entry_price"`
	Quantity   float64 `json:"quantity"`
	CostAmount float64 `json:"cost_amount"`
	EntryTs    int64   `json:"entry_ts"` // unix ms

	StopLoss     float64 `json:"stop_loss"`
	TakeProfit   float64 `json:"take_profit"`
	HighestPrice float64 `json:"highest_price"`
	MaxHoldUntil int64   `json:"max_hold_until_ts"` // unix ms, soft cap

	BreakevenSet   bool `json:"breakeven_set"`
	TrailingActive bool `json:"trailing_active"`
	ScalpMode      bool `json:"scalp_mode"`

	DCACount     int   `json:"dca_count"`
	LastDCATs    int64 `json:"last_dca_ts,omitempty"`
	PartialSells int   `json:"partial_sells"`
	SellAttempts int   `json:"sell_attempts"`

	// Whipsaw-confirmed stop state.
	StopHitCount        int   `json:"stop_hit_count"`
	FirstStopHitTs      int64 `json:"first_stop_hit_ts,omitempty"`
	LastStopHitTs       int64 `json:"last_stop_hit_ts,omitempty"`
	RSIProtectionLogged bool  `json:"rsi_protection_logged,omitempty"`

	ATRPct  float64 `json:"atr_pct,omitempty"`  // at entry
	LastRSI float64 `json:"last_rsi,omitempty"` // for SL protection

	BuyReasons  uint8   `json:"buy_reasons"` // ReasonSet bits at entry
	BuyScore    float64 `json:"buy_score"`
	BuyReason   string  `json:"buy_reason"`
	EntryRegime string  `json:"entry_regime,omitempty"`
}

// PnlPct returns unrealized percent against the (possibly DCA-averaged)
// entry price.
func (p *Position) PnlPct(price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (price - p.EntryPrice) / p.EntryPrice * 100
}

// HoldDuration reports how long the position has been open.
func (p *Position) HoldDuration(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(p.EntryTs))
}

// Touch updates the trailing anchor. Monotone non-decreasing.
func (p *Position) Touch(price float64) {
	if price > p.HighestPrice {
		p.HighestPrice = price
	}
}

// ResetWhipsaw clears the confirmed-stop state after a successful
// fake-out or a DCA re-anchor.
func (p *Position) ResetWhipsaw() {
	p.StopHitCount = 0
	p.FirstStopHitTs = 0
	p.LastStopHitTs = 0
	p.RSIProtectionLogged = false
}

// ApplyDCA folds one averaging-down fill into the record: the entry
// price becomes the blended average and every exit flag re-arms against
// the new basis.
func (p *Position) ApplyDCA(fillPrice, fillQty, fillAmount float64, stopLossPct, takeProfitPct float64, now time.Time) {
	totalCost := p.CostAmount + fillAmount
	totalQty := p.Quantity + fillQty
	if totalQty <= 0 {
		return
	}
	p.EntryPrice = totalCost / totalQty
	p.Quantity = totalQty
	p.CostAmount = totalCost

	p.StopLoss = p.EntryPrice * (1 - stopLossPct/100)
	p.TakeProfit = p.EntryPrice * (1 + takeProfitPct/100)
	p.HighestPrice = p.EntryPrice
	p.BreakevenSet = false
	p.TrailingActive = false
	p.ResetWhipsaw()

	p.DCACount++
	p.LastDCATs = now.UnixMilli()
}
