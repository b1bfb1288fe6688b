package upbit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaperFeeRate is the simulated taker fee on KRW markets.
const PaperFeeRate = 0.0005

// QuoteSource is the read-only market data surface the paper client
// delegates to, so simulated trading runs against real prices.
type QuoteSource interface {
	GetCandles(ctx context.Context, symbol, timeframe string, count int) ([]Candle, error)
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)
	GetAllTickers(ctx context.Context, symbols []string) (map[string]*Ticker, error)
	GetOrderbook(ctx context.Context, symbol string) (*Orderbook, error)
	TopVolumeSymbols(ctx context.Context, quote string, n int) ([]string, error)
}

type paperHolding struct {
	quantity decimal.Decimal
	avgPrice decimal.Decimal
}

// PaperClient simulates fills, fees and balances over live market data.
// Balance arithmetic runs on decimals so repeated partial sells cannot
// accumulate float drift against the recorded cost.
type PaperClient struct {
	quotes QuoteSource

	mu       sync.Mutex
	krw      decimal.Decimal
	holdings map[string]*paperHolding // keyed by market code
	fee      decimal.Decimal
}

// NewPaperClient starts a simulated account holding initialKRW.
func NewPaperClient(quotes QuoteSource, initialKRW float64) *PaperClient {
	return &PaperClient{
		quotes:   quotes,
		krw:      decimal.NewFromFloat(initialKRW),
		holdings: make(map[string]*paperHolding),
		fee:      decimal.NewFromFloat(PaperFeeRate),
	}
}

// Connect always succeeds; there are no credentials to validate.
func (p *PaperClient) Connect(ctx context.Context) error { return nil }

func (p *PaperClient) GetCandles(ctx context.Context, symbol, timeframe string, count int) ([]Candle, error) {
	return p.quotes.GetCandles(ctx, symbol, timeframe, count)
}

func (p *PaperClient) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	return p.quotes.GetTicker(ctx, symbol)
}

func (p *PaperClient) GetAllTickers(ctx context.Context, symbols []string) (map[string]*Ticker, error) {
	return p.quotes.GetAllTickers(ctx, symbols)
}

func (p *PaperClient) GetOrderbook(ctx context.Context, symbol string) (*Orderbook, error) {
	return p.quotes.GetOrderbook(ctx, symbol)
}

func (p *PaperClient) TopVolumeSymbols(ctx context.Context, quote string, n int) ([]string, error) {
	return p.quotes.TopVolumeSymbols(ctx, quote, n)
}

// GetBalance reports free KRW and total book value.
func (p *PaperClient) GetBalance(ctx context.Context) (*Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := p.krw
	for _, h := range p.holdings {
		total = total.Add(h.quantity.Mul(h.avgPrice))
	}
	free, _ := p.krw.Float64()
	tot, _ := total.Float64()
	return &Balance{Free: free, Total: tot}, nil
}

func (p *PaperClient) GetHoldings(ctx context.Context) (map[string]float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]float64, len(p.holdings))
	for symbol, h := range p.holdings {
		qty, _ := h.quantity.Float64()
		out[symbol] = qty
	}
	return out, nil
}

func (p *PaperClient) GetDetailedHoldings(ctx context.Context) (map[string]Holding, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]Holding, len(p.holdings))
	for symbol, h := range p.holdings {
		qty, _ := h.quantity.Float64()
		avg, _ := h.avgPrice.Float64()
		out[symbol] = Holding{Quantity: qty, AvgBuyPrice: avg}
	}
	return out, nil
}

// Buy fills instantly at the live ticker price.
func (p *PaperClient) Buy(ctx context.Context, symbol string, amount float64) (*OrderResult, error) {
	if amount < MinOrderKRW {
		return nil, fmt.Errorf("paper buy %s: amount %.0f below exchange minimum %.0f", symbol, amount, MinOrderKRW)
	}
	ticker, err := p.quotes.GetTicker(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("paper buy %s: %w", symbol, err)
	}
	price := decimal.NewFromFloat(ticker.Price)
	if price.IsZero() {
		return nil, fmt.Errorf("paper buy %s: zero price", symbol)
	}
	spend := decimal.NewFromFloat(amount)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.krw.LessThan(spend) {
		return nil, fmt.Errorf("paper buy %s: insufficient KRW (have %s, need %s)", symbol, p.krw.StringFixed(0), spend.StringFixed(0))
	}
	fee := spend.Mul(p.fee)
	net := spend.Sub(fee)
	qty := net.Div(price)

	p.krw = p.krw.Sub(spend)
	h, ok := p.holdings[symbol]
	if !ok {
		p.holdings[symbol] = &paperHolding{quantity: qty, avgPrice: price}
	} else {
		totalCost := h.quantity.Mul(h.avgPrice).Add(net)
		h.quantity = h.quantity.Add(qty)
		h.avgPrice = totalCost.Div(h.quantity)
	}

	qtyF, _ := qty.Float64()
	netF, _ := net.Float64()
	feeF, _ := fee.Float64()
	return &OrderResult{
		OrderID:  uuid.NewString(),
		Symbol:   symbol,
		Side:     "BUY",
		Price:    ticker.Price,
		Quantity: qtyF,
		Amount:   netF,
		Fee:      feeF,
		Ts:       time.Now().UnixMilli(),
	}, nil
}

// Sell fills instantly at the live ticker price.
func (p *PaperClient) Sell(ctx context.Context, symbol string, quantity float64) (*OrderResult, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("paper sell %s: non-positive quantity", symbol)
	}
	ticker, err := p.quotes.GetTicker(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("paper sell %s: %w", symbol, err)
	}
	price := decimal.NewFromFloat(ticker.Price)
	qty := decimal.NewFromFloat(quantity)

	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.holdings[symbol]
	if !ok || h.quantity.LessThan(qty) {
		return nil, fmt.Errorf("paper sell %s: insufficient holding", symbol)
	}
	gross := qty.Mul(price)
	fee := gross.Mul(p.fee)
	p.krw = p.krw.Add(gross.Sub(fee))
	h.quantity = h.quantity.Sub(qty)
	if h.quantity.LessThanOrEqual(decimal.NewFromFloat(1e-12)) {
		delete(p.holdings, symbol)
	}

	grossF, _ := gross.Float64()
	feeF, _ := fee.Float64()
	return &OrderResult{
		OrderID:  uuid.NewString(),
		Symbol:   symbol,
		Side:     "SELL",
		Price:    ticker.Price,
		Quantity: quantity,
		Amount:   grossF,
		Fee:      feeF,
		Ts:       time.Now().UnixMilli(),
	}, nil
}

// LimitBuy fills at the better of target and market; paper fills never
// wait out the real limit-order timeout.
func (p *PaperClient) LimitBuy(ctx context.Context, symbol string, amount, targetPrice float64) (*OrderResult, error) {
	return p.Buy(ctx, symbol, amount)
}

// LimitSell behaves like LimitBuy on the ask side.
func (p *PaperClient) LimitSell(ctx context.Context, symbol string, quantity, targetPrice float64) (*OrderResult, error) {
	return p.Sell(ctx, symbol, quantity)
}

// SeedHolding installs a pre-existing asset position, used by tests and
// by adoption scenarios replayed against the simulator.
func (p *PaperClient) SeedHolding(symbol string, quantity, avgPrice float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.holdings[symbol] = &paperHolding{
		quantity: decimal.NewFromFloat(quantity),
		avgPrice: decimal.NewFromFloat(avgPrice),
	}
}
