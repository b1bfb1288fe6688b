package upbit

import "context"

// Exchange is the surface the trading loop consumes. Implementations
// return an error on failure; callers log and continue, they never
// abort a scan over one failed call.
type Exchange interface {
	// Connect validates credentials against the accounts endpoint.
	Connect(ctx context.Context) error

	GetCandles(ctx context.Context, symbol, timeframe string, count int) ([]Candle, error)
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)
	GetAllTickers(ctx context.Context, symbols []string) (map[string]*Ticker, error)
	GetOrderbook(ctx context.Context, symbol string) (*Orderbook, error)

	GetBalance(ctx context.Context) (*Balance, error)
	GetHoldings(ctx context.Context) (map[string]float64, error)
	GetDetailedHoldings(ctx context.Context) (map[string]Holding, error)

	// Buy spends amount of quote currency at market.
	Buy(ctx context.Context, symbol string, amount float64) (*OrderResult, error)
	// Sell disposes quantity of the base asset at market.
	Sell(ctx context.Context, symbol string, quantity float64) (*OrderResult, error)
	// LimitBuy and LimitSell place a marketable limit near target, poll
	// for fill for up to 30s, then cancel and fall back to market.
	LimitBuy(ctx context.Context, symbol string, amount, targetPrice float64) (*OrderResult, error)
	LimitSell(ctx context.Context, symbol string, quantity, targetPrice float64) (*OrderResult, error)

	// TopVolumeSymbols lists quote-denominated markets by 24h turnover.
	TopVolumeSymbols(ctx context.Context, quote string, n int) ([]string, error)
}

var (
	_ Exchange = (*Client)(nil)
	_ Exchange = (*PaperClient)(nil)
)
