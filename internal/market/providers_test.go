package market

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rmsfid11-commits/trading-bot-sub000/internal/indicators"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/upbit"
)

func TestFundingFragments(t *testing.T) {
	tests := []struct {
		rate     float64
		wantBuy  float64
		wantSell float64
	}{
		{0.0012, 0, 1.5},
		{0.0006, 0, 1.0},
		{0.0001, 0, 0},
		{-0.0002, 0.5, 0},
		{-0.0007, 1.5, 0},
	}
	for _, tt := range tests {
		frag := fundingFragment(tt.rate)
		var buy, sell float64
		if frag != nil {
			buy, sell = frag.BuyBoost, frag.SellBoost
		}
		if buy != tt.wantBuy || sell != tt.wantSell {
			t.Errorf("rate %.4f: boosts = %.1f/%.1f, want %.1f/%.1f",
				tt.rate, buy, sell, tt.wantBuy, tt.wantSell)
		}
	}
}

func TestFundingFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"lastFundingRate":"0.00120","markPrice":"64000.00"}`)
	}))
	defer srv.Close()

	p := NewFunding(zerolog.Nop(), newFetcher())
	p.url = srv.URL

	st := p.Get(context.Background())
	if st.Rate != 0.0012 {
		t.Fatalf("rate = %v, want 0.0012", st.Rate)
	}
	if st.Fragment == nil || st.Fragment.SellBoost != 1.5 {
		t.Fatalf("fragment = %+v, want overheated sell lean", st.Fragment)
	}
}

type tickerStub struct {
	upbit.Exchange
	price float64
}

func (s tickerStub) GetTicker(ctx context.Context, symbol string) (*upbit.Ticker, error) {
	return &upbit.Ticker{Symbol: symbol, Price: s.price}, nil
}

func TestKimchiPremium(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/price", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"symbol":"BTCUSDT","price":"100000.00"}`)
	})
	mux.HandleFunc("/forex", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"code":"FRX.KRWUSD","basePrice":1400.0}]`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	k := NewKimchi(zerolog.Nop(), newFetcher(), tickerStub{price: 142_000_000})
	k.globalURL = srv.URL + "/price"
	k.forexURL = srv.URL + "/forex"

	st := k.Get(context.Background())

	// 142M over a 140M global price is a 1.43% premium.
	if math.Abs(st.PremiumPct-1.4286) > 0.001 {
		t.Fatalf("premium = %.4f, want ~1.4286", st.PremiumPct)
	}
	if st.Fragment != nil {
		t.Fatalf("fragment = %+v, want none in the dead zone", st.Fragment)
	}

	hot := NewKimchi(zerolog.Nop(), newFetcher(), tickerStub{price: 150_000_000})
	hot.globalURL = srv.URL + "/price"
	hot.forexURL = srv.URL + "/forex"

	st = hot.Get(context.Background())
	if st.Fragment == nil || st.Fragment.SellBoost != 1.5 {
		t.Fatalf("fragment = %+v, want overheated sell lean", st.Fragment)
	}
}

func TestDominanceTrend(t *testing.T) {
	var pct atomic.Value
	pct.Store(54.0)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"data":{"market_cap_percentage":{"btc":%.2f}}}`, pct.Load().(float64))
	}))
	defer srv.Close()

	d := NewDominance(zerolog.Nop(), newFetcher())
	d.url = srv.URL
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return clock }

	st := d.Get(context.Background())
	if st.Pct != 54.0 || st.Trend != DominanceFlat {
		t.Fatalf("first reading = %+v, want flat 54.0", st)
	}

	pct.Store(54.5)
	clock = clock.Add(dominanceTTL + time.Minute)

	st = d.Get(context.Background())
	if st.Trend != DominanceRising || st.ChangePct != 0.5 {
		t.Fatalf("reading = %+v, want rising by 0.5", st)
	}
}

type tapeStub struct {
	trades []upbit.Trade
	err    error
}

func (s tapeStub) GetRecentTrades(ctx context.Context, symbol string, count int) ([]upbit.Trade, error) {
	return s.trades, s.err
}

func TestWhaleFlow(t *testing.T) {
	feed := tapeStub{trades: []upbit.Trade{
		{Price: 100, Volume: 600_000, Side: "BID"},   // 60M buy print
		{Price: 100, Volume: 1_000_000, Side: "BID"}, // 100M buy print
		{Price: 100, Volume: 300_000, Side: "ASK"},   // 30M, below threshold
		{Price: 100, Volume: 550_000, Side: "ASK"},   // 55M sell print
	}}

	w := NewWhale(zerolog.Nop(), feed)
	st := w.Get(context.Background(), "KRW-BTC")

	if st.Prints != 3 {
		t.Fatalf("prints = %d, want 3", st.Prints)
	}
	if st.NetKRW != 105_000_000 {
		t.Fatalf("net = %.0f, want 105M", st.NetKRW)
	}
	if st.Fragment == nil || st.Fragment.BuyBoost != 0.8 {
		t.Fatalf("fragment = %+v, want whale buying", st.Fragment)
	}
}

func TestWhaleWithoutFeed(t *testing.T) {
	w := NewWhale(zerolog.Nop(), nil)
	st := w.Get(context.Background(), "KRW-BTC")
	if st.Fragment != nil || st.Prints != 0 {
		t.Fatalf("state = %+v, want neutral", st)
	}
}

func TestSelectMode(t *testing.T) {
	tests := []struct {
		name      string
		fearGreed int
		regime    string
		change15m float64
		trend     string
		want      string
		dca       bool
	}{
		{"risk on", 75, string(indicators.RegimeTrending), 1.2, DominanceFalling, ModeAggressive, true},
		{"risk off", 20, string(indicators.RegimeVolatile), -1.2, DominanceRising, ModeDefensive, false},
		{"in between", 50, string(indicators.RegimeRanging), 0, DominanceFlat, ModeScalping, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := SelectMode(tt.fearGreed, tt.regime,
				LeaderState{Change15m: tt.change15m},
				DominanceState{Trend: tt.trend})
			if p.Mode != tt.want {
				t.Fatalf("mode = %s (score %.1f), want %s", p.Mode, p.Score, tt.want)
			}
			if p.DCAEnabled != tt.dca {
				t.Fatalf("dca = %v, want %v", p.DCAEnabled, tt.dca)
			}
		})
	}
}

func TestProfileFallback(t *testing.T) {
	if p := Profile("unknown"); p.Mode != ModeScalping {
		t.Fatalf("fallback profile = %s, want scalping", p.Mode)
	}
}
