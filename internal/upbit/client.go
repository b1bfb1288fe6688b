package upbit

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://api.upbit.com"

	// MinOrderKRW is the exchange minimum order amount.
	MinOrderKRW = 5000.0

	limitPollInterval = 3 * time.Second
	limitPollTimeout  = 30 * time.Second
	marketPollTries   = 10
	marketPollDelay   = 300 * time.Millisecond
)

// Client is the authenticated REST client for the exchange. Quotation
// endpoints and order endpoints have separate rate limits; all calls go
// through a shared circuit breaker so a broken exchange fails fast
// instead of stalling every tenant on timeouts.
type Client struct {
	accessKey  string
	secretKey  string
	baseURL    string
	httpClient *http.Client

	quoteLimiter *rate.Limiter
	orderLimiter *rate.Limiter
	breaker      *gobreaker.CircuitBreaker

	pollInterval time.Duration
	pollTimeout  time.Duration
	offsetPct    float64
}

// NewClient builds a client. baseURL "" selects the production API.
func NewClient(accessKey, secretKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	settings := gobreaker.Settings{Name: "upbit"}
	settings.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 5
	}
	settings.Timeout = 30 * time.Second
	return &Client{
		accessKey:    accessKey,
		secretKey:    secretKey,
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		quoteLimiter: rate.NewLimiter(rate.Limit(10), 10),
		orderLimiter: rate.NewLimiter(rate.Limit(8), 8),
		breaker:      gobreaker.NewCircuitBreaker(settings),
		pollInterval: limitPollInterval,
		pollTimeout:  limitPollTimeout,
		offsetPct:    0.001,
	}
}

// apiError is the exchange's error envelope.
type apiError struct {
	Name    string
	Message string
	Status  int
}

func (e *apiError) Error() string {
	return fmt.Sprintf("upbit: %s (%s, http %d)", e.Message, e.Name, e.Status)
}

// isOrderGone reports whether err means the order no longer exists,
// which on a cancel usually means it already filled.
func isOrderGone(err error) bool {
	var ae *apiError
	if errors.As(err, &ae) {
		return ae.Name == "order_not_found" || ae.Status == http.StatusNotFound
	}
	return false
}

func (c *Client) signedToken(query string) (string, error) {
	claims := jwt.MapClaims{
		"access_key": c.accessKey,
		"nonce":      uuid.NewString(),
	}
	if query != "" {
		sum := sha512.Sum512([]byte(query))
		claims["query_hash"] = hex.EncodeToString(sum[:])
		claims["query_hash_alg"] = "SHA512"
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(c.secretKey))
	if err != nil {
		return "", fmt.Errorf("sign request token: %w", err)
	}
	return signed, nil
}

// do performs one request. Authenticated requests carry a JWT whose
// query_hash covers the url-encoded params regardless of where the
// params travel (query string for GET/DELETE, JSON body for POST).
func (c *Client) do(ctx context.Context, method, path string, params url.Values, auth bool, out interface{}) error {
	limiter := c.quoteLimiter
	if strings.HasPrefix(path, "/v1/order") {
		limiter = c.orderLimiter
	}
	if err := limiter.Wait(ctx); err != nil {
		return err
	}

	encoded := ""
	if params != nil {
		encoded = params.Encode()
	}

	endpoint := c.baseURL + path
	var body io.Reader
	switch method {
	case http.MethodPost:
		payload := make(map[string]string, len(params))
		for k := range params {
			payload[k] = params.Get(k)
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = strings.NewReader(string(raw))
	default:
		if encoded != "" {
			endpoint += "?" + encoded
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		token, err := c.signedToken(encoded)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	raw, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 400 {
			var envelope struct {
				Error struct {
					Name    interface{} `json:"name"`
					Message string      `json:"message"`
				} `json:"error"`
			}
			_ = json.Unmarshal(data, &envelope)
			return nil, &apiError{
				Name:    fmt.Sprintf("%v", envelope.Error.Name),
				Message: envelope.Error.Message,
				Status:  resp.StatusCode,
			}
		}
		return data, nil
	})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw.([]byte), out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// ============================================================================
// QUOTATION
// ============================================================================

type rawCandle struct {
	Market       string  `json:"market"`
	DateTimeUTC  string  `json:"candle_date_time_utc"`
	OpeningPrice float64 `json:"opening_price"`
	HighPrice    float64 `json:"high_price"`
	LowPrice     float64 `json:"low_price"`
	TradePrice   float64 `json:"trade_price"`
	Volume       float64 `json:"candle_acc_trade_volume"`
}

// GetCandles returns up to count bars oldest first.
func (c *Client) GetCandles(ctx context.Context, symbol, timeframe string, count int) ([]Candle, error) {
	unit, err := minuteUnit(timeframe)
	if err != nil {
		return nil, err
	}
	if count <= 0 || count > 200 {
		count = 200
	}
	params := url.Values{}
	params.Set("market", symbol)
	params.Set("count", strconv.Itoa(count))

	var raw []rawCandle
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/candles/minutes/%d", unit), params, false, &raw); err != nil {
		return nil, fmt.Errorf("get candles %s %s: %w", symbol, timeframe, err)
	}

	// Exchange returns newest first.
	candles := make([]Candle, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		r := raw[i]
		ts, err := time.Parse("2006-01-02T15:04:05", r.DateTimeUTC)
		if err != nil {
			continue
		}
		candles = append(candles, Candle{
			Timestamp: ts.UnixMilli(),
			Open:      r.OpeningPrice,
			High:      r.HighPrice,
			Low:       r.LowPrice,
			Close:     r.TradePrice,
			Volume:    r.Volume,
		})
	}
	return candles, nil
}

type rawTicker struct {
	Market           string  `json:"market"`
	TradePrice       float64 `json:"trade_price"`
	SignedChangeRate float64 `json:"signed_change_rate"`
	AccTradePrice24h float64 `json:"acc_trade_price_24h"`
	HighPrice        float64 `json:"high_price"`
	LowPrice         float64 `json:"low_price"`
}

func (r rawTicker) ticker() *Ticker {
	return &Ticker{
		Symbol:     r.Market,
		Price:      r.TradePrice,
		Volume:     r.AccTradePrice24h,
		ChangeRate: r.SignedChangeRate,
		High:       r.HighPrice,
		Low:        r.LowPrice,
	}
}

// GetTicker returns the latest snapshot for one market.
func (c *Client) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	params := url.Values{}
	params.Set("markets", symbol)
	var raw []rawTicker
	if err := c.do(ctx, http.MethodGet, "/v1/ticker", params, false, &raw); err != nil {
		return nil, fmt.Errorf("get ticker %s: %w", symbol, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("get ticker %s: empty response", symbol)
	}
	return raw[0].ticker(), nil
}

// GetAllTickers fetches snapshots for many markets in batches.
func (c *Client) GetAllTickers(ctx context.Context, symbols []string) (map[string]*Ticker, error) {
	out := make(map[string]*Ticker, len(symbols))
	const batch = 100
	for start := 0; start < len(symbols); start += batch {
		end := start + batch
		if end > len(symbols) {
			end = len(symbols)
		}
		params := url.Values{}
		params.Set("markets", strings.Join(symbols[start:end], ","))
		var raw []rawTicker
		if err := c.do(ctx, http.MethodGet, "/v1/ticker", params, false, &raw); err != nil {
			return nil, fmt.Errorf("get tickers: %w", err)
		}
		for _, r := range raw {
			out[r.Market] = r.ticker()
		}
	}
	return out, nil
}

type rawOrderbook struct {
	Market         string           `json:"market"`
	TotalAskSize   float64          `json:"total_ask_size"`
	TotalBidSize   float64          `json:"total_bid_size"`
	OrderbookUnits []OrderbookLevel `json:"orderbook_units"`
}

// GetOrderbook returns the depth snapshot for one market.
func (c *Client) GetOrderbook(ctx context.Context, symbol string) (*Orderbook, error) {
	params := url.Values{}
	params.Set("markets", symbol)
	var raw []rawOrderbook
	if err := c.do(ctx, http.MethodGet, "/v1/orderbook", params, false, &raw); err != nil {
		return nil, fmt.Errorf("get orderbook %s: %w", symbol, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("get orderbook %s: empty response", symbol)
	}
	return &Orderbook{
		Symbol:       raw[0].Market,
		Levels:       raw[0].OrderbookUnits,
		TotalAskSize: raw[0].TotalAskSize,
		TotalBidSize: raw[0].TotalBidSize,
	}, nil
}

type rawTrade struct {
	TradePrice  float64 `json:"trade_price"`
	TradeVolume float64 `json:"trade_volume"`
	AskBid      string  `json:"ask_bid"`
	Timestamp   int64   `json:"timestamp"`
}

// GetRecentTrades returns the latest public trade ticks, newest first.
func (c *Client) GetRecentTrades(ctx context.Context, symbol string, count int) ([]Trade, error) {
	params := url.Values{}
	params.Set("market", symbol)
	params.Set("count", strconv.Itoa(count))
	var raw []rawTrade
	if err := c.do(ctx, http.MethodGet, "/v1/trades/ticks", params, false, &raw); err != nil {
		return nil, fmt.Errorf("get trades %s: %w", symbol, err)
	}
	trades := make([]Trade, len(raw))
	for i, r := range raw {
		trades[i] = Trade{Price: r.TradePrice, Volume: r.TradeVolume, Side: r.AskBid, Ts: r.Timestamp}
	}
	return trades, nil
}

// TopVolumeSymbols lists quote-denominated markets by 24h turnover.
func (c *Client) TopVolumeSymbols(ctx context.Context, quote string, n int) ([]string, error) {
	var markets []struct {
		Market string `json:"market"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/market/all", nil, false, &markets); err != nil {
		return nil, fmt.Errorf("list markets: %w", err)
	}
	symbols := make([]string, 0, len(markets))
	prefix := quote + "-"
	for _, m := range markets {
		if strings.HasPrefix(m.Market, prefix) {
			symbols = append(symbols, m.Market)
		}
	}
	tickers, err := c.GetAllTickers(ctx, symbols)
	if err != nil {
		return nil, err
	}
	sort.Slice(symbols, func(i, j int) bool {
		ti, tj := tickers[symbols[i]], tickers[symbols[j]]
		vi, vj := 0.0, 0.0
		if ti != nil {
			vi = ti.Volume
		}
		if tj != nil {
			vj = tj.Volume
		}
		return vi > vj
	})
	if n > 0 && n < len(symbols) {
		symbols = symbols[:n]
	}
	return symbols, nil
}

// ============================================================================
// ACCOUNT
// ============================================================================

type rawAccount struct {
	Currency     string `json:"currency"`
	Balance      string `json:"balance"`
	Locked       string `json:"locked"`
	AvgBuyPrice  string `json:"avg_buy_price"`
	UnitCurrency string `json:"unit_currency"`
}

func (c *Client) accounts(ctx context.Context) ([]rawAccount, error) {
	var raw []rawAccount
	if err := c.do(ctx, http.MethodGet, "/v1/accounts", nil, true, &raw); err != nil {
		return nil, fmt.Errorf("get accounts: %w", err)
	}
	return raw, nil
}

// Connect validates the key pair against the accounts endpoint.
func (c *Client) Connect(ctx context.Context) error {
	_, err := c.accounts(ctx)
	return err
}

// GetBalance reports free and total quote funds. Held assets are valued
// at their recorded average buy price.
func (c *Client) GetBalance(ctx context.Context) (*Balance, error) {
	accounts, err := c.accounts(ctx)
	if err != nil {
		return nil, err
	}
	b := &Balance{}
	for _, a := range accounts {
		bal := parseFloat(a.Balance)
		locked := parseFloat(a.Locked)
		if a.Currency == "KRW" {
			b.Free = bal
			b.Total += bal + locked
			continue
		}
		b.Total += (bal + locked) * parseFloat(a.AvgBuyPrice)
	}
	return b, nil
}

// GetHoldings maps market code to held quantity, excluding quote funds.
func (c *Client) GetHoldings(ctx context.Context) (map[string]float64, error) {
	detailed, err := c.GetDetailedHoldings(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(detailed))
	for symbol, h := range detailed {
		out[symbol] = h.Quantity
	}
	return out, nil
}

// GetDetailedHoldings maps market code to quantity and avg buy price.
func (c *Client) GetDetailedHoldings(ctx context.Context) (map[string]Holding, error) {
	accounts, err := c.accounts(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Holding)
	for _, a := range accounts {
		if a.Currency == "KRW" || a.Currency == a.UnitCurrency {
			continue
		}
		qty := parseFloat(a.Balance) + parseFloat(a.Locked)
		if qty <= 0 {
			continue
		}
		unit := a.UnitCurrency
		if unit == "" {
			unit = "KRW"
		}
		out[SymbolFor(unit, a.Currency)] = Holding{
			Quantity:    qty,
			AvgBuyPrice: parseFloat(a.AvgBuyPrice),
		}
	}
	return out, nil
}

// ============================================================================
// ORDERS
// ============================================================================

type rawOrder struct {
	UUID           string `json:"uuid"`
	Side           string `json:"side"`
	State          string `json:"state"`
	Market         string `json:"market"`
	Volume         string `json:"volume"`
	ExecutedVolume string `json:"executed_volume"`
	PaidFee        string `json:"paid_fee"`
	Trades         []struct {
		Price  string `json:"price"`
		Volume string `json:"volume"`
		Funds  string `json:"funds"`
	} `json:"trades"`
}

func (c *Client) getOrder(ctx context.Context, orderID string) (*rawOrder, error) {
	params := url.Values{}
	params.Set("uuid", orderID)
	var raw rawOrder
	if err := c.do(ctx, http.MethodGet, "/v1/order", params, true, &raw); err != nil {
		return nil, fmt.Errorf("get order %s: %w", orderID, err)
	}
	return &raw, nil
}

func (c *Client) cancelOrder(ctx context.Context, orderID string) error {
	params := url.Values{}
	params.Set("uuid", orderID)
	if err := c.do(ctx, http.MethodDelete, "/v1/order", params, true, nil); err != nil {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	return nil
}

func (c *Client) placeOrder(ctx context.Context, params url.Values) (string, error) {
	var raw rawOrder
	if err := c.do(ctx, http.MethodPost, "/v1/orders", params, true, &raw); err != nil {
		return "", err
	}
	if raw.UUID == "" {
		return "", errors.New("order response missing uuid")
	}
	return raw.UUID, nil
}

// result aggregates an order's fills into an OrderResult. The side is
// reported in loop vocabulary, not exchange vocabulary.
func (o *rawOrder) result() *OrderResult {
	var qty, funds float64
	for _, t := range o.Trades {
		qty += parseFloat(t.Volume)
		funds += parseFloat(t.Funds)
	}
	if qty == 0 {
		qty = parseFloat(o.ExecutedVolume)
	}
	price := 0.0
	if qty > 0 {
		price = funds / qty
	}
	side := "BUY"
	if o.Side == "ask" {
		side = "SELL"
	}
	return &OrderResult{
		OrderID:  o.UUID,
		Symbol:   o.Market,
		Side:     side,
		Price:    price,
		Quantity: qty,
		Amount:   funds,
		Fee:      parseFloat(o.PaidFee),
		Ts:       time.Now().UnixMilli(),
	}
}

// awaitMarketFill polls a market order briefly until it leaves wait state.
func (c *Client) awaitMarketFill(ctx context.Context, orderID string) (*OrderResult, error) {
	var last *rawOrder
	for i := 0; i < marketPollTries; i++ {
		order, err := c.getOrder(ctx, orderID)
		if err == nil {
			last = order
			if order.State == "done" || order.State == "cancel" {
				// Market-by-amount orders end in cancel state with the
				// full amount executed; the trades list is authoritative.
				return order.result(), nil
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(marketPollDelay):
		}
	}
	if last != nil && parseFloat(last.ExecutedVolume) > 0 {
		return last.result(), nil
	}
	return nil, fmt.Errorf("order %s not filled", orderID)
}

// Buy spends amount KRW at market.
func (c *Client) Buy(ctx context.Context, symbol string, amount float64) (*OrderResult, error) {
	if amount < MinOrderKRW {
		return nil, fmt.Errorf("buy %s: amount %.0f below exchange minimum %.0f", symbol, amount, MinOrderKRW)
	}
	params := url.Values{}
	params.Set("market", symbol)
	params.Set("side", "bid")
	params.Set("ord_type", "price")
	params.Set("price", formatKRW(amount))
	orderID, err := c.placeOrder(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("buy %s: %w", symbol, err)
	}
	return c.awaitMarketFill(ctx, orderID)
}

// Sell disposes quantity at market.
func (c *Client) Sell(ctx context.Context, symbol string, quantity float64) (*OrderResult, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("sell %s: non-positive quantity", symbol)
	}
	params := url.Values{}
	params.Set("market", symbol)
	params.Set("side", "ask")
	params.Set("ord_type", "market")
	params.Set("volume", formatVolume(quantity))
	orderID, err := c.placeOrder(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("sell %s: %w", symbol, err)
	}
	return c.awaitMarketFill(ctx, orderID)
}

// limitOrder places a limit, polls for fill within the timeout, then
// cancels and falls back to a market order. A cancel that races a fill
// is resolved by re-querying the order.
func (c *Client) limitOrder(ctx context.Context, symbol, side string, volume, price float64, fallback func() (*OrderResult, error)) (*OrderResult, error) {
	params := url.Values{}
	params.Set("market", symbol)
	params.Set("side", side)
	params.Set("ord_type", "limit")
	params.Set("volume", formatVolume(volume))
	params.Set("price", formatKRW(price))
	orderID, err := c.placeOrder(ctx, params)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(c.pollTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}
		order, err := c.getOrder(ctx, orderID)
		if err != nil {
			continue
		}
		switch order.State {
		case "done":
			return order.result(), nil
		case "cancel":
			if parseFloat(order.ExecutedVolume) > 0 {
				return order.result(), nil
			}
			// Canceled externally with nothing filled.
			return fallback()
		}
	}

	if err := c.cancelOrder(ctx, orderID); err != nil {
		if isOrderGone(err) {
			if order, qerr := c.getOrder(ctx, orderID); qerr == nil && parseFloat(order.ExecutedVolume) > 0 {
				return order.result(), nil
			}
		}
	} else if order, qerr := c.getOrder(ctx, orderID); qerr == nil && parseFloat(order.ExecutedVolume) > 0 {
		// Partial fill before the cancel landed.
		return order.result(), nil
	}
	return fallback()
}

// LimitBuy places a bid slightly under target and falls back to market.
func (c *Client) LimitBuy(ctx context.Context, symbol string, amount, targetPrice float64) (*OrderResult, error) {
	if amount < MinOrderKRW {
		return nil, fmt.Errorf("limit buy %s: amount %.0f below exchange minimum %.0f", symbol, amount, MinOrderKRW)
	}
	price := RoundToTick(targetPrice * (1 - c.offsetPct))
	if price <= 0 {
		return nil, fmt.Errorf("limit buy %s: bad target price %f", symbol, targetPrice)
	}
	volume := amount / price
	return c.limitOrder(ctx, symbol, "bid", volume, price, func() (*OrderResult, error) {
		return c.Buy(ctx, symbol, amount)
	})
}

// LimitSell places an ask slightly over target and falls back to market.
func (c *Client) LimitSell(ctx context.Context, symbol string, quantity, targetPrice float64) (*OrderResult, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("limit sell %s: non-positive quantity", symbol)
	}
	price := RoundToTick(targetPrice * (1 + c.offsetPct))
	return c.limitOrder(ctx, symbol, "ask", quantity, price, func() (*OrderResult, error) {
		return c.Sell(ctx, symbol, quantity)
	})
}

// ============================================================================
// HELPERS
// ============================================================================

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func formatKRW(v float64) string {
	return strconv.FormatFloat(math.Floor(v), 'f', -1, 64)
}

func formatVolume(v float64) string {
	return strconv.FormatFloat(v, 'f', 8, 64)
}

// TickSize returns the KRW price increment for a price band.
func TickSize(price float64) float64 {
	switch {
	case price >= 2_000_000:
		return 1000
	case price >= 1_000_000:
		return 500
	case price >= 500_000:
		return 100
	case price >= 100_000:
		return 50
	case price >= 10_000:
		return 10
	case price >= 1_000:
		return 1
	case price >= 100:
		return 0.1
	case price >= 10:
		return 0.01
	case price >= 1:
		return 0.001
	case price >= 0.1:
		return 0.0001
	default:
		return 0.00001
	}
}

// RoundToTick floors a price onto the exchange tick grid. The division
// runs on decimals so sub-KRW ticks come back without binary-float
// artifacts.
func RoundToTick(price float64) float64 {
	t := decimal.NewFromFloat(TickSize(price))
	f, _ := decimal.NewFromFloat(price).Div(t).Floor().Mul(t).Float64()
	return f
}
