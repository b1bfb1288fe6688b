package upbit

import (
	"fmt"
	"strings"
	"time"
)

// Timeframe names accepted by GetCandles.
const (
	Timeframe5m  = "5m"
	Timeframe15m = "15m"
	Timeframe1h  = "1h"
	Timeframe4h  = "4h"
)

// minuteUnit maps a timeframe name to the exchange's minute-candle unit.
func minuteUnit(timeframe string) (int, error) {
	switch timeframe {
	case Timeframe5m:
		return 5, nil
	case Timeframe15m:
		return 15, nil
	case Timeframe1h:
		return 60, nil
	case Timeframe4h:
		return 240, nil
	default:
		return 0, fmt.Errorf("unsupported timeframe %q", timeframe)
	}
}

// Candle is one OHLCV bar. Sequences are ordered oldest first.
type Candle struct {
	Timestamp int64   `json:"ts"` // bar open, unix ms
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// Time returns the bar open time.
func (c Candle) Time() time.Time { return time.UnixMilli(c.Timestamp) }

// Ticker is the latest trade snapshot for one market.
type Ticker struct {
	Symbol     string  `json:"symbol"`
	Price      float64 `json:"price"`
	Volume     float64 `json:"volume"` // 24h quote-currency turnover
	ChangeRate float64 `json:"change_rate"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
}

// OrderbookLevel is one price level of the order book.
type OrderbookLevel struct {
	AskPrice float64 `json:"ask_price"`
	BidPrice float64 `json:"bid_price"`
	AskSize  float64 `json:"ask_size"`
	BidSize  float64 `json:"bid_size"`
}

// Orderbook is the top-of-book depth snapshot for one market.
type Orderbook struct {
	Symbol       string           `json:"symbol"`
	Levels       []OrderbookLevel `json:"levels"`
	TotalAskSize float64          `json:"total_ask_size"`
	TotalBidSize float64          `json:"total_bid_size"`
}

// Balance reports quote-currency funds. Total values held assets at
// their recorded average buy price.
type Balance struct {
	Free  float64 `json:"free"`
	Total float64 `json:"total"`
}

// Holding is one non-quote asset position on the exchange.
type Holding struct {
	Quantity    float64 `json:"quantity"`
	AvgBuyPrice float64 `json:"avg_buy_price"`
}

// Trade is one public trade tick.
type Trade struct {
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
	Side   string  `json:"side"` // "BID" or "ASK", taker side
	Ts     int64   `json:"ts"`   // unix ms
}

// Amount returns the quote-currency value of the trade.
func (t Trade) Amount() float64 { return t.Price * t.Volume }

// OrderResult is a confirmed fill.
type OrderResult struct {
	OrderID  string  `json:"order_id"`
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"` // "BUY" or "SELL"
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
	Amount   float64 `json:"amount"` // quote currency spent or received
	Fee      float64 `json:"fee"`
	Ts       int64   `json:"ts"` // unix ms
}

// BaseOf extracts the base asset from a market code ("KRW-BTC" → "BTC").
func BaseOf(symbol string) string {
	if i := strings.IndexByte(symbol, '-'); i >= 0 {
		return symbol[i+1:]
	}
	return symbol
}

// QuoteOf extracts the quote currency from a market code.
func QuoteOf(symbol string) string {
	if i := strings.IndexByte(symbol, '-'); i >= 0 {
		return symbol[:i]
	}
	return ""
}

// SymbolFor builds a market code from quote and base.
func SymbolFor(quote, base string) string {
	return quote + "-" + strings.ToUpper(base)
}
