package signal

import (
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/upbit"
)

const (
	wallSizeFactor   = 3.0  // a level this many times the book average is a wall
	wallProximityPct = 0.01 // walls within 1% of price matter
)

// OrderbookScore is the depth read for one symbol.
type OrderbookScore struct {
	Imbalance float64 `json:"imbalance"` // bid size over ask size
	BuyBoost  float64 `json:"buy_boost"`
	SellBoost float64 `json:"sell_boost"`
	BidWall   float64 `json:"bid_wall,omitempty"`  // price of a nearby support wall
	AskWall   float64 `json:"ask_wall,omitempty"`  // price of a nearby resistance wall
}

// scoreOrderbook reads bid/ask imbalance plus whale walls near the
// price. Contributions cap at ±2.
func scoreOrderbook(ob *upbit.Orderbook, price float64) *OrderbookScore {
	if ob == nil || len(ob.Levels) == 0 || ob.TotalAskSize <= 0 {
		return nil
	}
	s := &OrderbookScore{Imbalance: ob.TotalBidSize / ob.TotalAskSize}

	switch {
	case s.Imbalance >= 2.0:
		s.BuyBoost = 2.0
	case s.Imbalance >= 1.5:
		s.BuyBoost = 1.0
	case s.Imbalance >= 1.2:
		s.BuyBoost = 0.5
	case s.Imbalance <= 0.5:
		s.SellBoost = 2.0
	case s.Imbalance <= 0.67:
		s.SellBoost = 1.0
	case s.Imbalance <= 0.83:
		s.SellBoost = 0.5
	}

	// Whale walls: one outsized level near the price acts as support
	// below or resistance above.
	var totalLevels float64
	for _, lv := range ob.Levels {
		totalLevels += lv.BidSize + lv.AskSize
	}
	avg := totalLevels / float64(2*len(ob.Levels))
	if avg <= 0 || price <= 0 {
		return clampOrderbook(s)
	}

	for _, lv := range ob.Levels {
		if lv.BidSize >= avg*wallSizeFactor && lv.BidPrice >= price*(1-wallProximityPct) {
			s.BidWall = lv.BidPrice
			s.BuyBoost += 0.5
			break
		}
	}
	for _, lv := range ob.Levels {
		if lv.AskSize >= avg*wallSizeFactor && lv.AskPrice <= price*(1+wallProximityPct) {
			s.AskWall = lv.AskPrice
			s.SellBoost += 0.5
			break
		}
	}
	return clampOrderbook(s)
}

func clampOrderbook(s *OrderbookScore) *OrderbookScore {
	if s.BuyBoost > capOrderbook {
		s.BuyBoost = capOrderbook
	}
	if s.SellBoost > capOrderbook {
		s.SellBoost = capOrderbook
	}
	return s
}
