package market

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rmsfid11-commits/trading-bot-sub000/internal/upbit"
)

const (
	defaultGlobalPriceURL = "https://api.binance.com/api/v3/ticker/price?symbol=BTCUSDT"
	defaultForexURL       = "https://quotation-api-cdn.dunamu.com/v1/forex/recent?codes=FRX.KRWUSD"
	kimchiTTL             = 5 * time.Minute
)

// KimchiState is the domestic premium of KRW-BTC over the global price.
type KimchiState struct {
	PremiumPct  float64   `json:"premium_pct"`
	DomesticKRW float64   `json:"domestic_krw"`
	GlobalUSD   float64   `json:"global_usd"`
	USDKRW      float64   `json:"usdkrw"`
	Fragment    *Fragment `json:"fragment,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Kimchi measures how far Upbit's KRW-BTC trades above or below the
// global dollar price. A fat premium marks domestic overheating; a
// discount marks capitulation.
type Kimchi struct {
	log       zerolog.Logger
	fetch     *fetcher
	exchange  upbit.Exchange
	globalURL string
	forexURL  string

	mu    sync.Mutex
	state KimchiState
	ttl   time.Duration
	now   func() time.Time
}

func NewKimchi(log zerolog.Logger, f *fetcher, ex upbit.Exchange) *Kimchi {
	return &Kimchi{
		log:       log.With().Str("component", "kimchi").Logger(),
		fetch:     f,
		exchange:  ex,
		globalURL: defaultGlobalPriceURL,
		forexURL:  defaultForexURL,
		ttl:       kimchiTTL,
		now:       time.Now,
	}
}

type binancePriceResponse struct {
	Price string `json:"price"`
}

type forexQuote struct {
	BasePrice float64 `json:"basePrice"`
}

// Get returns the cached premium, refreshing on expiry. Any upstream
// failure keeps the previous state.
func (k *Kimchi) Get(ctx context.Context) KimchiState {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	if !k.state.UpdatedAt.IsZero() && now.Sub(k.state.UpdatedAt) < k.ttl {
		return k.state
	}

	state, err := k.compute(ctx)
	if err != nil {
		k.log.Debug().Err(err).Msg("kimchi premium refresh failed")
		k.state.UpdatedAt = now
		return k.state
	}
	state.UpdatedAt = now
	k.state = state
	return k.state
}

// Cached returns the last computed premium without refreshing.
func (k *Kimchi) Cached() KimchiState {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state
}

func (k *Kimchi) compute(ctx context.Context) (KimchiState, error) {
	ticker, err := k.exchange.GetTicker(ctx, "KRW-BTC")
	if err != nil {
		return KimchiState{}, fmt.Errorf("domestic price: %w", err)
	}

	var priceResp binancePriceResponse
	if err := k.fetch.getJSON(ctx, k.globalURL, &priceResp); err != nil {
		return KimchiState{}, fmt.Errorf("global price: %w", err)
	}
	globalUSD, err := strconv.ParseFloat(priceResp.Price, 64)
	if err != nil || globalUSD <= 0 {
		return KimchiState{}, fmt.Errorf("global price parse: %q", priceResp.Price)
	}

	var quotes []forexQuote
	if err := k.fetch.getJSON(ctx, k.forexURL, &quotes); err != nil {
		return KimchiState{}, fmt.Errorf("usdkrw: %w", err)
	}
	if len(quotes) == 0 || quotes[0].BasePrice <= 0 {
		return KimchiState{}, fmt.Errorf("usdkrw: empty quote")
	}
	fx := quotes[0].BasePrice

	globalKRW := globalUSD * fx
	premium := (ticker.Price/globalKRW - 1) * 100

	return KimchiState{
		PremiumPct:  premium,
		DomesticKRW: ticker.Price,
		GlobalUSD:   globalUSD,
		USDKRW:      fx,
		Fragment:    kimchiFragment(premium),
	}, nil
}

func kimchiFragment(premium float64) *Fragment {
	switch {
	case premium >= 5:
		return sellFragment(1.5, "kimchi_overheated")
	case premium >= 3:
		return sellFragment(0.8, "kimchi_high")
	case premium <= -1:
		return buyFragment(1.0, "kimchi_discount")
	case premium <= 0:
		return buyFragment(0.5, "kimchi_flat")
	}
	return nil
}
