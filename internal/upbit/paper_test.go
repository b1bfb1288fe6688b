package upbit

import (
	"context"
	"math"
	"testing"
)

type quotesStub struct {
	price float64
}

func (q *quotesStub) GetCandles(ctx context.Context, symbol, timeframe string, count int) ([]Candle, error) {
	return nil, nil
}

func (q *quotesStub) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	return &Ticker{Symbol: symbol, Price: q.price}, nil
}

func (q *quotesStub) GetAllTickers(ctx context.Context, symbols []string) (map[string]*Ticker, error) {
	out := make(map[string]*Ticker)
	for _, s := range symbols {
		out[s] = &Ticker{Symbol: s, Price: q.price}
	}
	return out, nil
}

func (q *quotesStub) GetOrderbook(ctx context.Context, symbol string) (*Orderbook, error) {
	return &Orderbook{Symbol: symbol}, nil
}

func (q *quotesStub) TopVolumeSymbols(ctx context.Context, quote string, n int) ([]string, error) {
	return nil, nil
}

func approx(t *testing.T, got, want, tol float64, what string) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s = %v, want %v (±%v)", what, got, want, tol)
	}
}

func TestPaperBuyAppliesFee(t *testing.T) {
	quotes := &quotesStub{price: 100}
	p := NewPaperClient(quotes, 1_000_000)
	ctx := context.Background()

	res, err := p.Buy(ctx, "KRW-ABC", 100_000)
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	approx(t, res.Fee, 50, 1e-9, "fee")
	approx(t, res.Quantity, 999.5, 1e-9, "quantity") // (100000-50)/100
	approx(t, res.Amount, 99_950, 1e-9, "amount")

	bal, _ := p.GetBalance(ctx)
	approx(t, bal.Free, 900_000, 1e-9, "free balance")

	holdings, _ := p.GetDetailedHoldings(ctx)
	h, ok := holdings["KRW-ABC"]
	if !ok {
		t.Fatal("holding missing after buy")
	}
	approx(t, h.Quantity, 999.5, 1e-9, "held quantity")
	approx(t, h.AvgBuyPrice, 100, 1e-9, "avg buy price")
}

func TestPaperSellCreditsProceeds(t *testing.T) {
	quotes := &quotesStub{price: 100}
	p := NewPaperClient(quotes, 1_000_000)
	ctx := context.Background()

	if _, err := p.Buy(ctx, "KRW-ABC", 100_000); err != nil {
		t.Fatalf("Buy: %v", err)
	}

	quotes.price = 110
	res, err := p.Sell(ctx, "KRW-ABC", 999.5)
	if err != nil {
		t.Fatalf("Sell: %v", err)
	}
	gross := 999.5 * 110
	approx(t, res.Amount, gross, 1e-6, "gross proceeds")
	approx(t, res.Fee, gross*PaperFeeRate, 1e-6, "sell fee")

	holdings, _ := p.GetHoldings(ctx)
	if _, ok := holdings["KRW-ABC"]; ok {
		t.Error("holding should be removed after full sell")
	}

	bal, _ := p.GetBalance(ctx)
	wantKRW := 900_000 + gross - gross*PaperFeeRate
	approx(t, bal.Free, wantKRW, 1e-6, "KRW after round trip")
}

func TestPaperRejections(t *testing.T) {
	quotes := &quotesStub{price: 100}
	p := NewPaperClient(quotes, 10_000)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
	}{
		{"buy below exchange minimum", func() error {
			_, err := p.Buy(ctx, "KRW-ABC", 1000)
			return err
		}},
		{"buy exceeding balance", func() error {
			_, err := p.Buy(ctx, "KRW-ABC", 50_000)
			return err
		}},
		{"sell without holding", func() error {
			_, err := p.Sell(ctx, "KRW-ZZZ", 1)
			return err
		}},
		{"sell non-positive", func() error {
			_, err := p.Sell(ctx, "KRW-ABC", 0)
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.call() == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestPaperSeedHolding(t *testing.T) {
	quotes := &quotesStub{price: 2000}
	p := NewPaperClient(quotes, 0)
	p.SeedHolding("KRW-FOO", 5, 1800)

	holdings, _ := p.GetDetailedHoldings(context.Background())
	h := holdings["KRW-FOO"]
	approx(t, h.Quantity, 5, 1e-12, "seeded quantity")
	approx(t, h.AvgBuyPrice, 1800, 1e-12, "seeded avg price")

	res, err := p.Sell(context.Background(), "KRW-FOO", 5)
	if err != nil {
		t.Fatalf("Sell seeded holding: %v", err)
	}
	approx(t, res.Amount, 10_000, 1e-9, "seeded sell gross")
}
