package market

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultFearGreedURL = "https://api.alternative.me/fng/?limit=1"
	sentimentTTL        = 10 * time.Minute

	weightSocial    = 0.35
	weightNews      = 0.25
	weightFearGreed = 0.40
)

// SourceResult is one sentiment source's reading. Score runs -100..+100.
type SourceResult struct {
	Score   float64
	Symbols map[string]SymbolMention
}

// SymbolMention is per-symbol sentiment from a source.
type SymbolMention struct {
	Score    float64 `json:"score"`
	Mentions int     `json:"mentions"`
}

// Source feeds the aggregator. Social and news scrapers live outside
// this module and plug in here.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (SourceResult, error)
}

// Snapshot is the merged market sentiment.
type Snapshot struct {
	Score     float64                  `json:"score"` // -100..+100
	Label     string                   `json:"label"`
	FearGreed int                      `json:"fear_greed"`
	PerSymbol map[string]SymbolMention `json:"per_symbol,omitempty"`
	Fragment  *Fragment                `json:"fragment,omitempty"`
	UpdatedAt time.Time                `json:"updated_at"`
}

// Sentiment merges social, news and Fear&Greed into one score.
type Sentiment struct {
	log          zerolog.Logger
	fetch        *fetcher
	fearGreedURL string
	social       Source
	news         Source

	mu   sync.Mutex
	snap Snapshot
	ttl  time.Duration
	now  func() time.Time
}

func NewSentiment(log zerolog.Logger, f *fetcher) *Sentiment {
	return &Sentiment{
		log:          log.With().Str("component", "sentiment").Logger(),
		fetch:        f,
		fearGreedURL: defaultFearGreedURL,
		ttl:          sentimentTTL,
		now:          time.Now,
		snap:         neutralSnapshot(),
	}
}

// WithSocial plugs in a social sentiment source.
func (s *Sentiment) WithSocial(src Source) *Sentiment { s.social = src; return s }

// WithNews plugs in a news sentiment source.
func (s *Sentiment) WithNews(src Source) *Sentiment { s.news = src; return s }

func neutralSnapshot() Snapshot {
	return Snapshot{Label: "neutral", FearGreed: 50}
}

// Get returns the merged sentiment, refreshing when the cache expires.
// Upstream failures leave the previous snapshot in place.
func (s *Sentiment) Get(ctx context.Context) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !s.snap.UpdatedAt.IsZero() && now.Sub(s.snap.UpdatedAt) < s.ttl {
		return s.snap
	}

	snap := s.merge(ctx)
	snap.UpdatedAt = now
	s.snap = snap
	return snap
}

func (s *Sentiment) merge(ctx context.Context) Snapshot {
	snap := neutralSnapshot()

	fg, fgOK := s.fearGreed(ctx)
	if fgOK {
		snap.FearGreed = fg
	}

	var socialScore, newsScore float64
	if s.social != nil {
		if res, err := s.social.Fetch(ctx); err == nil {
			socialScore = res.Score
			snap.PerSymbol = mergeMentions(snap.PerSymbol, res.Symbols)
		} else {
			s.log.Debug().Err(err).Str("source", s.social.Name()).Msg("sentiment source failed")
		}
	}
	if s.news != nil {
		if res, err := s.news.Fetch(ctx); err == nil {
			newsScore = res.Score
			snap.PerSymbol = mergeMentions(snap.PerSymbol, res.Symbols)
		} else {
			s.log.Debug().Err(err).Str("source", s.news.Name()).Msg("sentiment source failed")
		}
	}

	// Fear&Greed arrives on 0..100; recenter to -100..+100.
	fgScore := (float64(snap.FearGreed) - 50) * 2
	snap.Score = socialScore*weightSocial + newsScore*weightNews + fgScore*weightFearGreed
	snap.Label = sentimentLabel(snap.Score)
	snap.Fragment = sentimentFragment(snap.Score, snap.FearGreed)
	return snap
}

func sentimentLabel(score float64) string {
	switch {
	case score >= 40:
		return "very_bullish"
	case score >= 15:
		return "bullish"
	case score <= -40:
		return "very_bearish"
	case score <= -15:
		return "bearish"
	}
	return "neutral"
}

func sentimentFragment(score float64, fearGreed int) *Fragment {
	var frag *Fragment
	switch {
	case score >= 40:
		frag = buyFragment(1.0, "sentiment_very_bullish")
	case score >= 15:
		frag = buyFragment(0.5, "sentiment_bullish")
	case score <= -40:
		frag = sellFragment(1.0, "sentiment_very_bearish")
	case score <= -15:
		frag = sellFragment(0.5, "sentiment_bearish")
	}

	// Extreme Fear&Greed readings earn a contrarian lean.
	if fearGreed <= 20 {
		frag = addBoost(frag, true, 0.5, "extreme_fear_contrarian")
	} else if fearGreed >= 80 {
		frag = addBoost(frag, false, 0.5, "extreme_greed_contrarian")
	}
	return frag
}

// Cached returns the last merged snapshot without refreshing. The scan
// loop keeps the cache warm; status readers must never block on HTTP.
func (s *Sentiment) Cached() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// SymbolScore returns per-symbol sentiment when at least one source
// mentioned the symbol.
func (s *Sentiment) SymbolScore(symbol string) (SymbolMention, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.snap.PerSymbol[symbol]
	if !ok || m.Mentions < 1 {
		return SymbolMention{}, false
	}
	return m, true
}

func mergeMentions(dst, src map[string]SymbolMention) map[string]SymbolMention {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]SymbolMention, len(src))
	}
	for sym, m := range src {
		cur, ok := dst[sym]
		if !ok {
			dst[sym] = m
			continue
		}
		total := cur.Mentions + m.Mentions
		if total > 0 {
			cur.Score = (cur.Score*float64(cur.Mentions) + m.Score*float64(m.Mentions)) / float64(total)
		}
		cur.Mentions = total
		dst[sym] = cur
	}
	return dst
}

type fearGreedResponse struct {
	Data []struct {
		Value          string `json:"value"`
		Classification string `json:"value_classification"`
	} `json:"data"`
}

func (s *Sentiment) fearGreed(ctx context.Context) (int, bool) {
	var resp fearGreedResponse
	if err := s.fetch.getJSON(ctx, s.fearGreedURL, &resp); err != nil {
		s.log.Debug().Err(err).Msg("fear&greed fetch failed")
		return 0, false
	}
	if len(resp.Data) == 0 {
		return 0, false
	}
	v, err := strconv.Atoi(resp.Data[0].Value)
	if err != nil || v < 0 || v > 100 {
		return 0, false
	}
	return v, true
}

// FearGreed returns the cached index value.
func (s *Sentiment) FearGreed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.FearGreed
}
