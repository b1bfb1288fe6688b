package market

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/rmsfid11-commits/trading-bot-sub000/internal/upbit"
)

// Providers bundles every context provider behind one handle for the
// trading loop and the dashboard.
type Providers struct {
	leader    *BTCLeader
	sentiment *Sentiment
	funding   *Funding
	kimchi    *Kimchi
	dominance *Dominance
	whale     *Whale
}

// NewProviders wires the full context stack. feed may be nil, which
// leaves whale flow permanently neutral.
func NewProviders(log zerolog.Logger, ex upbit.Exchange, feed TradeFeed) *Providers {
	f := newFetcher()
	return &Providers{
		leader:    NewBTCLeader(),
		sentiment: NewSentiment(log, f),
		funding:   NewFunding(log, f),
		kimchi:    NewKimchi(log, f, ex),
		dominance: NewDominance(log, f),
		whale:     NewWhale(log, feed),
	}
}

// WithSources plugs external sentiment sources in.
func (p *Providers) WithSources(social, news Source) *Providers {
	if social != nil {
		p.sentiment.WithSocial(social)
	}
	if news != nil {
		p.sentiment.WithNews(news)
	}
	return p
}

// UpdateBTC feeds one BTC ticker sample to the leader tracker.
func (p *Providers) UpdateBTC(price float64) { p.leader.Update(price) }

// Leader returns the current BTC momentum classification.
func (p *Providers) Leader() LeaderState { return p.leader.State() }

// Sentiment returns the merged market sentiment.
func (p *Providers) Sentiment(ctx context.Context) Snapshot { return p.sentiment.Get(ctx) }

// SymbolSentiment returns per-symbol sentiment when mentioned at all.
func (p *Providers) SymbolSentiment(symbol string) (SymbolMention, bool) {
	return p.sentiment.SymbolScore(symbol)
}

// Funding returns the BTC perpetual funding state.
func (p *Providers) Funding(ctx context.Context) FundingState { return p.funding.Get(ctx) }

// Kimchi returns the domestic premium state.
func (p *Providers) Kimchi(ctx context.Context) KimchiState { return p.kimchi.Get(ctx) }

// Dominance returns the BTC dominance state.
func (p *Providers) Dominance(ctx context.Context) DominanceState { return p.dominance.Get(ctx) }

// CachedSentiment returns the last sentiment reading without a refresh.
func (p *Providers) CachedSentiment() Snapshot { return p.sentiment.Cached() }

// CachedKimchi returns the last premium reading without a refresh.
func (p *Providers) CachedKimchi() KimchiState { return p.kimchi.Cached() }

// CachedDominance returns the last dominance reading without a refresh.
func (p *Providers) CachedDominance() DominanceState { return p.dominance.Cached() }

// Whale returns large-print flow for one symbol.
func (p *Providers) Whale(ctx context.Context, symbol string) WhaleState {
	return p.whale.Get(ctx, symbol)
}

// Mode picks the trading mode from the current context readings.
func (p *Providers) Mode(ctx context.Context, regime string) ModeProfile {
	snap := p.sentiment.Get(ctx)
	return SelectMode(snap.FearGreed, regime, p.leader.State(), p.dominance.Get(ctx))
}
