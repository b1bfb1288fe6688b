package market

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultFundingURL = "https://fapi.binance.com/fapi/v1/premiumIndex?symbol=BTCUSDT"
	fundingTTL        = 5 * time.Minute
)

// FundingState is the latest perpetual funding reading for BTC.
type FundingState struct {
	Rate      float64   `json:"rate"` // per 8h, e.g. 0.0001 = 0.01%
	Fragment  *Fragment `json:"fragment,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Funding polls the BTC perpetual funding rate. Crowded longs lean the
// bot toward selling, shorts paying lean it toward buying.
type Funding struct {
	log   zerolog.Logger
	fetch *fetcher
	url   string

	mu    sync.Mutex
	state FundingState
	ttl   time.Duration
	now   func() time.Time
}

func NewFunding(log zerolog.Logger, f *fetcher) *Funding {
	return &Funding{
		log:   log.With().Str("component", "funding").Logger(),
		fetch: f,
		url:   defaultFundingURL,
		ttl:   fundingTTL,
		now:   time.Now,
	}
}

type premiumIndexResponse struct {
	LastFundingRate string `json:"lastFundingRate"`
}

// Get returns the cached funding state, refreshing on expiry. Fetch
// failures keep the previous state.
func (p *Funding) Get(ctx context.Context) FundingState {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if !p.state.UpdatedAt.IsZero() && now.Sub(p.state.UpdatedAt) < p.ttl {
		return p.state
	}

	var resp premiumIndexResponse
	if err := p.fetch.getJSON(ctx, p.url, &resp); err != nil {
		p.log.Debug().Err(err).Msg("funding fetch failed")
		p.state.UpdatedAt = now
		return p.state
	}
	rate, err := strconv.ParseFloat(resp.LastFundingRate, 64)
	if err != nil {
		p.state.UpdatedAt = now
		return p.state
	}

	p.state = FundingState{
		Rate:      rate,
		Fragment:  fundingFragment(rate),
		UpdatedAt: now,
	}
	return p.state
}

func fundingFragment(rate float64) *Fragment {
	switch {
	case rate >= 0.001:
		return sellFragment(1.5, "funding_overheated")
	case rate >= 0.0005:
		return sellFragment(1.0, "funding_high")
	case rate <= -0.0005:
		return buyFragment(1.5, "funding_deep_negative")
	case rate <= -0.0001:
		return buyFragment(0.5, "funding_negative")
	}
	return nil
}
