// Package learn is the offline feedback loop: it parses the trade
// journal into buy/sell pairs, derives performance statistics and
// grid-searches bounded parameter adjustments that the next scan's
// strategy merges in.
package learn

import (
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/ledger"
)

// Pair is one matched round trip. DCA rows extend the open lot list of
// their symbol; partial and full sells consume lots FIFO.
type Pair struct {
	Symbol    string
	BuyTs     int64
	SellTs    int64
	BuyPrice  float64
	SellPrice float64
	Quantity  float64
	PnlPct    float64
	PnlKRW    float64
	HoldMs    int64
	BuyScore  float64
	Reasons   uint8
	Regime    string
	Reason    string // sell reason
	Snapshot  map[string]interface{}
}

type lot struct {
	ts       int64
	price    float64
	qty      float64
	buyScore float64
	reasons  uint8
	regime   string
	snapshot map[string]interface{}
}

// MatchPairs replays the journal and pairs exits against buys FIFO per
// symbol. Synthetic sells without pnl figures still consume quantity
// but produce no pair.
func MatchPairs(entries []ledger.Entry) []Pair {
	open := make(map[string][]lot)
	var pairs []Pair

	for _, e := range entries {
		switch e.Action {
		case ledger.ActionBuy, ledger.ActionDCA:
			if e.Quantity <= 0 {
				continue
			}
			open[e.Symbol] = append(open[e.Symbol], lot{
				ts:       e.Ts,
				price:    e.Price,
				qty:      e.Quantity,
				buyScore: e.BuyScore,
				reasons:  e.Reasons,
				regime:   e.Regime,
				snapshot: e.Snapshot,
			})

		case ledger.ActionSell, ledger.ActionPartialSell:
			qty := e.Quantity
			lots := open[e.Symbol]
			for qty > 0 && len(lots) > 0 {
				l := &lots[0]
				take := qty
				if take > l.qty {
					take = l.qty
				}
				if e.PnlPct != nil && l.price > 0 {
					p := Pair{
						Symbol:    e.Symbol,
						BuyTs:     l.ts,
						SellTs:    e.Ts,
						BuyPrice:  l.price,
						SellPrice: e.Price,
						Quantity:  take,
						PnlPct:    (e.Price - l.price) / l.price * 100,
						PnlKRW:    (e.Price - l.price) * take,
						HoldMs:    e.Ts - l.ts,
						BuyScore:  l.buyScore,
						Reasons:   l.reasons,
						Regime:    l.regime,
						Reason:    e.Reason,
						Snapshot:  l.snapshot,
					}
					pairs = append(pairs, p)
				}
				l.qty -= take
				qty -= take
				if l.qty <= 1e-12 {
					lots = lots[1:]
				}
			}
			open[e.Symbol] = lots

		case ledger.ActionForceRemove:
			delete(open, e.Symbol)
		}
	}
	return pairs
}
