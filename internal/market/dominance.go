package market

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultDominanceURL = "https://api.coingecko.com/api/v3/global"
	dominanceTTL        = 15 * time.Minute
)

// Dominance trend labels.
const (
	DominanceRising  = "rising"
	DominanceFalling = "falling"
	DominanceFlat    = "flat"
)

// DominanceState is the BTC market-cap share and its drift. The trend
// feeds mode selection rather than per-symbol scoring.
type DominanceState struct {
	Pct       float64   `json:"pct"`
	Trend     string    `json:"trend"`
	ChangePct float64   `json:"change_pct"` // percentage points since previous sample
	UpdatedAt time.Time `json:"updated_at"`
}

// Dominance tracks BTC dominance. Rising dominance is a headwind for
// the KRW alt pairs this bot trades; falling dominance is a tailwind.
type Dominance struct {
	log   zerolog.Logger
	fetch *fetcher
	url   string

	mu    sync.Mutex
	state DominanceState
	prev  float64
	ttl   time.Duration
	now   func() time.Time
}

func NewDominance(log zerolog.Logger, f *fetcher) *Dominance {
	return &Dominance{
		log:   log.With().Str("component", "dominance").Logger(),
		fetch: f,
		url:   defaultDominanceURL,
		ttl:   dominanceTTL,
		now:   time.Now,
		state: DominanceState{Trend: DominanceFlat},
	}
}

type globalMarketResponse struct {
	Data struct {
		MarketCapPercentage map[string]float64 `json:"market_cap_percentage"`
	} `json:"data"`
}

// Get returns the cached dominance state, refreshing on expiry.
func (d *Dominance) Get(ctx context.Context) DominanceState {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if !d.state.UpdatedAt.IsZero() && now.Sub(d.state.UpdatedAt) < d.ttl {
		return d.state
	}

	var resp globalMarketResponse
	if err := d.fetch.getJSON(ctx, d.url, &resp); err != nil {
		d.log.Debug().Err(err).Msg("dominance fetch failed")
		d.state.UpdatedAt = now
		return d.state
	}
	pct, ok := resp.Data.MarketCapPercentage["btc"]
	if !ok || pct <= 0 {
		d.state.UpdatedAt = now
		return d.state
	}

	state := DominanceState{Pct: pct, Trend: DominanceFlat, UpdatedAt: now}
	if d.prev > 0 {
		state.ChangePct = pct - d.prev
		switch {
		case state.ChangePct >= 0.3:
			state.Trend = DominanceRising
		case state.ChangePct <= -0.3:
			state.Trend = DominanceFalling
		}
	}
	d.prev = pct
	d.state = state
	return d.state
}

// Cached returns the last dominance state without refreshing.
func (d *Dominance) Cached() DominanceState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}
