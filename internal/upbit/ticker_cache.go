package upbit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTickerTTL keeps the scan loop and the dashboard from
// double-fetching the same ticker inside one scan window.
const DefaultTickerTTL = 3 * time.Second

type cachedTicker struct {
	ticker    *Ticker
	updatedAt time.Time
}

// TickerCache decorates an Exchange with a short-TTL ticker cache.
// With a Redis client attached the cache is shared across processes;
// Redis failures silently fall through to the upstream exchange.
type TickerCache struct {
	Exchange

	ttl time.Duration
	rdb *redis.Client

	mu      sync.RWMutex
	entries map[string]cachedTicker
}

// NewTickerCache wraps ex. ttl <= 0 selects DefaultTickerTTL; rdb may
// be nil for the in-memory-only deployment.
func NewTickerCache(ex Exchange, ttl time.Duration, rdb *redis.Client) *TickerCache {
	if ttl <= 0 {
		ttl = DefaultTickerTTL
	}
	return &TickerCache{
		Exchange: ex,
		ttl:      ttl,
		rdb:      rdb,
		entries:  make(map[string]cachedTicker),
	}
}

var _ Exchange = (*TickerCache)(nil)

func (tc *TickerCache) lookup(ctx context.Context, symbol string) *Ticker {
	tc.mu.RLock()
	entry, ok := tc.entries[symbol]
	tc.mu.RUnlock()
	if ok && time.Since(entry.updatedAt) < tc.ttl {
		return entry.ticker
	}
	if tc.rdb != nil {
		raw, err := tc.rdb.Get(ctx, "ticker:"+symbol).Bytes()
		if err == nil {
			var t Ticker
			if json.Unmarshal(raw, &t) == nil {
				tc.storeLocal(symbol, &t)
				return &t
			}
		}
	}
	return nil
}

func (tc *TickerCache) storeLocal(symbol string, t *Ticker) {
	tc.mu.Lock()
	tc.entries[symbol] = cachedTicker{ticker: t, updatedAt: time.Now()}
	tc.mu.Unlock()
}

func (tc *TickerCache) store(ctx context.Context, symbol string, t *Ticker) {
	tc.storeLocal(symbol, t)
	if tc.rdb != nil {
		if raw, err := json.Marshal(t); err == nil {
			tc.rdb.Set(ctx, "ticker:"+symbol, raw, tc.ttl)
		}
	}
}

// GetTicker serves from cache within the TTL window.
func (tc *TickerCache) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	if t := tc.lookup(ctx, symbol); t != nil {
		return t, nil
	}
	t, err := tc.Exchange.GetTicker(ctx, symbol)
	if err != nil {
		return nil, err
	}
	tc.store(ctx, symbol, t)
	return t, nil
}

// GetAllTickers serves fully-cached requests locally and refreshes the
// cache for whatever it had to fetch.
func (tc *TickerCache) GetAllTickers(ctx context.Context, symbols []string) (map[string]*Ticker, error) {
	out := make(map[string]*Ticker, len(symbols))
	var missing []string
	for _, s := range symbols {
		if t := tc.lookup(ctx, s); t != nil {
			out[s] = t
		} else {
			missing = append(missing, s)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}
	fetched, err := tc.Exchange.GetAllTickers(ctx, missing)
	if err != nil {
		if len(out) > 0 {
			return out, nil
		}
		return nil, err
	}
	for s, t := range fetched {
		tc.store(ctx, s, t)
		out[s] = t
	}
	return out, nil
}
