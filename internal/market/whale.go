package market

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rmsfid11-commits/trading-bot-sub000/internal/upbit"
)

const (
	whaleTTL        = 2 * time.Minute
	whaleMinKRW     = 50_000_000 // a single trade this large counts as a whale print
	whaleTradeCount = 100
)

// TradeFeed supplies recent public trades for a market.
type TradeFeed interface {
	GetRecentTrades(ctx context.Context, symbol string, count int) ([]upbit.Trade, error)
}

// WhaleState summarizes large-print flow for one symbol.
type WhaleState struct {
	NetKRW    float64   `json:"net_krw"` // buy prints minus sell prints
	BuyKRW    float64   `json:"buy_krw"`
	SellKRW   float64   `json:"sell_krw"`
	Prints    int       `json:"prints"`
	Fragment  *Fragment `json:"fragment,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Whale watches for outsized taker prints in the public trade tape.
type Whale struct {
	log  zerolog.Logger
	feed TradeFeed

	mu    sync.Mutex
	cache map[string]WhaleState
	ttl   time.Duration
	now   func() time.Time
}

func NewWhale(log zerolog.Logger, feed TradeFeed) *Whale {
	return &Whale{
		log:   log.With().Str("component", "whale").Logger(),
		feed:  feed,
		cache: make(map[string]WhaleState),
		ttl:   whaleTTL,
		now:   time.Now,
	}
}

// Get returns whale flow for symbol, refreshing on expiry. Without a
// trade feed, or on fetch failure, the reading stays neutral.
func (w *Whale) Get(ctx context.Context, symbol string) WhaleState {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if st, ok := w.cache[symbol]; ok && now.Sub(st.UpdatedAt) < w.ttl {
		return st
	}
	if w.feed == nil {
		return WhaleState{UpdatedAt: now}
	}

	trades, err := w.feed.GetRecentTrades(ctx, symbol, whaleTradeCount)
	if err != nil {
		w.log.Debug().Err(err).Str("symbol", symbol).Msg("trade tape fetch failed")
		st := w.cache[symbol]
		st.UpdatedAt = now
		w.cache[symbol] = st
		return st
	}

	st := WhaleState{UpdatedAt: now}
	for _, t := range trades {
		amount := t.Amount()
		if amount < whaleMinKRW {
			continue
		}
		st.Prints++
		if t.Side == "BID" {
			st.BuyKRW += amount
		} else {
			st.SellKRW += amount
		}
	}
	st.NetKRW = st.BuyKRW - st.SellKRW
	st.Fragment = whaleFragment(st.NetKRW)
	w.cache[symbol] = st
	return st
}

func whaleFragment(netKRW float64) *Fragment {
	switch {
	case netKRW >= 200_000_000:
		return buyFragment(1.5, "whale_accumulation")
	case netKRW >= 50_000_000:
		return buyFragment(0.8, "whale_buying")
	case netKRW <= -200_000_000:
		return sellFragment(1.5, "whale_distribution")
	case netKRW <= -50_000_000:
		return sellFragment(0.8, "whale_selling")
	}
	return nil
}
