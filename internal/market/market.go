// Package market supplies the context signals that sit above any single
// symbol: BTC leadership, market sentiment, funding, kimchi premium,
// whale flow, BTC dominance and the overall trading mode. Every provider
// caches behind a TTL and degrades to a neutral reading when its upstream
// fails; errors never propagate to the trading loop.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// Fragment is the boost a provider contributes to signal scoring.
// A nil *Fragment means the provider has nothing to say.
type Fragment struct {
	BuyBoost  float64 `json:"buy_boost"`
	SellBoost float64 `json:"sell_boost"`
	Reason    string  `json:"reason"`
}

func buyFragment(boost float64, reason string) *Fragment {
	return &Fragment{BuyBoost: boost, Reason: reason}
}

func sellFragment(boost float64, reason string) *Fragment {
	return &Fragment{SellBoost: boost, Reason: reason}
}

// fetcher is the shared HTTP client for the public context APIs.
// A single breaker covers all of them.
type fetcher struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

func newFetcher() *fetcher {
	return &fetcher{
		client: &http.Client{Timeout: 8 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "market-context",
			Timeout: 2 * time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

func (f *fetcher) getJSON(ctx context.Context, url string, out interface{}) error {
	_, err := f.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		resp, err := f.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
		}
		return nil, json.Unmarshal(body, out)
	})
	return err
}
