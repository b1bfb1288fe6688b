package market

import (
	"math"
	"sync"
	"time"
)

// BTC leader signals, strongest to weakest.
const (
	LeaderStrongBuy  = "strong_buy"
	LeaderBuy        = "buy"
	LeaderWeakBuy    = "weak_buy"
	LeaderNeutral    = "neutral"
	LeaderWeakSell   = "weak_sell"
	LeaderSell       = "sell"
	LeaderStrongSell = "strong_sell"
)

const (
	leaderSampleSpacing = 5 * time.Second
	leaderRingSize      = 256 // comfortably holds 15 minutes at 5s spacing
)

type leaderSample struct {
	ts    time.Time
	price float64
}

// LeaderState is one classified reading of BTC momentum.
type LeaderState struct {
	Signal    string    `json:"signal"`
	Price     float64   `json:"price"`
	Change1m  float64   `json:"change_1m"`
	Change3m  float64   `json:"change_3m"`
	Change5m  float64   `json:"change_5m"`
	Change10m float64   `json:"change_10m"`
	Change15m float64   `json:"change_15m"`
	Fragment  *Fragment `json:"fragment,omitempty"`
}

// BTCLeader tracks BTC price momentum from ticker samples fed by the
// trading loop. Samples closer than 5 seconds apart are dropped.
type BTCLeader struct {
	mu      sync.Mutex
	samples [leaderRingSize]leaderSample
	head    int
	filled  int
	state   LeaderState
	now     func() time.Time
}

func NewBTCLeader() *BTCLeader {
	return &BTCLeader{now: time.Now}
}

// Update records a BTC price sample and reclassifies momentum.
func (b *BTCLeader) Update(price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if b.filled > 0 {
		last := b.samples[(b.head+leaderRingSize-1)%leaderRingSize]
		if now.Sub(last.ts) < leaderSampleSpacing {
			return
		}
	}
	b.samples[b.head] = leaderSample{ts: now, price: price}
	b.head = (b.head + 1) % leaderRingSize
	if b.filled < leaderRingSize {
		b.filled++
	}
	b.state = b.classify(now, price)
}

// State returns the most recent classification. Before enough samples
// accumulate the signal is neutral.
func (b *BTCLeader) State() LeaderState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// changeOver reports the percent move from the newest sample at or
// before now-d. Returns ok=false when history is too short.
func (b *BTCLeader) changeOver(now time.Time, price float64, d time.Duration) (float64, bool) {
	cutoff := now.Add(-d)
	for i := 1; i <= b.filled; i++ {
		s := b.samples[(b.head+leaderRingSize-i)%leaderRingSize]
		if !s.ts.After(cutoff) {
			if s.price == 0 {
				return 0, false
			}
			return (price - s.price) / s.price * 100, true
		}
	}
	return 0, false
}

func (b *BTCLeader) classify(now time.Time, price float64) LeaderState {
	st := LeaderState{Signal: LeaderNeutral, Price: price}

	c1, ok1 := b.changeOver(now, price, time.Minute)
	c3, _ := b.changeOver(now, price, 3*time.Minute)
	c5, ok5 := b.changeOver(now, price, 5*time.Minute)
	c10, ok10 := b.changeOver(now, price, 10*time.Minute)
	c15, ok15 := b.changeOver(now, price, 15*time.Minute)
	st.Change1m, st.Change3m, st.Change5m, st.Change10m, st.Change15m = c1, c3, c5, c10, c15

	if !ok1 {
		return st
	}

	// Short-horizon momentum drives the class; longer horizons temper it.
	momentum := c1*0.5 + c3*0.3 + c5*0.2

	switch {
	case momentum >= 0.8:
		st.Signal = LeaderStrongBuy
	case momentum >= 0.4:
		st.Signal = LeaderBuy
	case momentum >= 0.15:
		st.Signal = LeaderWeakBuy
	case momentum <= -0.8:
		st.Signal = LeaderStrongSell
	case momentum <= -0.4:
		st.Signal = LeaderSell
	case momentum <= -0.15:
		st.Signal = LeaderWeakSell
	}

	frag := leaderFragment(st.Signal)

	// Accelerating: the 1m move outruns a fifth of the 5m move in the
	// same direction.
	if ok5 && sameSign(c1, c5) && math.Abs(c1) > math.Abs(c5)/5 {
		frag = addBoost(frag, c1 > 0, 0.3, "btc_accelerating")
	}
	// Long trend: 5/10/15 minute changes all point the same way.
	if ok5 && ok10 && ok15 && sameSign(c5, c10) && sameSign(c10, c15) && c5 != 0 {
		frag = addBoost(frag, c5 > 0, 0.2, "btc_long_trend")
	}
	st.Fragment = frag
	return st
}

func leaderFragment(signal string) *Fragment {
	switch signal {
	case LeaderStrongBuy:
		return buyFragment(1.5, "btc_strong_buy")
	case LeaderBuy:
		return buyFragment(1.0, "btc_buy")
	case LeaderWeakBuy:
		return buyFragment(0.5, "btc_weak_buy")
	case LeaderStrongSell:
		return sellFragment(1.5, "btc_strong_sell")
	case LeaderSell:
		return sellFragment(1.0, "btc_sell")
	case LeaderWeakSell:
		return sellFragment(0.5, "btc_weak_sell")
	}
	return nil
}

func addBoost(frag *Fragment, up bool, boost float64, reason string) *Fragment {
	if frag == nil {
		frag = &Fragment{Reason: reason}
	} else {
		frag.Reason += "+" + reason
	}
	if up {
		frag.BuyBoost += boost
	} else {
		frag.SellBoost += boost
	}
	return frag
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}
