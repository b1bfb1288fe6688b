package upbit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient("test-access", "test-secret", srv.URL)
	c.pollInterval = 5 * time.Millisecond
	c.pollTimeout = 25 * time.Millisecond
	return c, srv
}

func TestSignedTokenClaims(t *testing.T) {
	c := NewClient("ak", "sk", "")
	signed, err := c.signedToken("market=KRW-BTC")
	if err != nil {
		t.Fatalf("signedToken error: %v", err)
	}

	token, err := jwt.Parse(signed, func(tok *jwt.Token) (interface{}, error) {
		return []byte("sk"), nil
	})
	if err != nil || !token.Valid {
		t.Fatalf("token does not verify: %v", err)
	}
	claims := token.Claims.(jwt.MapClaims)
	if claims["access_key"] != "ak" {
		t.Errorf("access_key = %v", claims["access_key"])
	}
	if claims["nonce"] == "" || claims["nonce"] == nil {
		t.Error("nonce missing")
	}
	if claims["query_hash_alg"] != "SHA512" {
		t.Errorf("query_hash_alg = %v", claims["query_hash_alg"])
	}
	if hash, _ := claims["query_hash"].(string); len(hash) != 128 {
		t.Errorf("query_hash length = %d, want 128 hex chars", len(hash))
	}
}

func TestGetCandlesReversesToOldestFirst(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/v1/candles/minutes/5") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		// Exchange order: newest first.
		json.NewEncoder(w).Encode([]map[string]interface{}{
			{"market": "KRW-BTC", "candle_date_time_utc": "2026-01-01T00:10:00", "opening_price": 3.0, "high_price": 3.5, "low_price": 2.9, "trade_price": 3.2, "candle_acc_trade_volume": 30.0},
			{"market": "KRW-BTC", "candle_date_time_utc": "2026-01-01T00:05:00", "opening_price": 2.0, "high_price": 2.5, "low_price": 1.9, "trade_price": 2.2, "candle_acc_trade_volume": 20.0},
			{"market": "KRW-BTC", "candle_date_time_utc": "2026-01-01T00:00:00", "opening_price": 1.0, "high_price": 1.5, "low_price": 0.9, "trade_price": 1.2, "candle_acc_trade_volume": 10.0},
		})
	}))

	candles, err := c.GetCandles(context.Background(), "KRW-BTC", Timeframe5m, 3)
	if err != nil {
		t.Fatalf("GetCandles error: %v", err)
	}
	if len(candles) != 3 {
		t.Fatalf("got %d candles, want 3", len(candles))
	}
	if candles[0].Close != 1.2 || candles[2].Close != 3.2 {
		t.Errorf("candles not oldest-first: first close %.1f last close %.1f", candles[0].Close, candles[2].Close)
	}
	if candles[0].Timestamp >= candles[1].Timestamp {
		t.Error("timestamps not ascending")
	}
}

func TestBuyAggregatesFills(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/orders":
			if r.Header.Get("Authorization") == "" {
				t.Error("order request missing auth header")
			}
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			if body["ord_type"] != "price" || body["side"] != "bid" {
				t.Errorf("unexpected order params: %v", body)
			}
			json.NewEncoder(w).Encode(map[string]interface{}{"uuid": "ord-1", "side": "bid", "state": "wait", "market": "KRW-ETH"})
		case r.Method == http.MethodGet && r.URL.Path == "/v1/order":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"uuid": "ord-1", "side": "bid", "state": "done", "market": "KRW-ETH",
				"executed_volume": "0.002",
				"paid_fee":        "5",
				"trades": []map[string]string{
					{"price": "5000000", "volume": "0.001", "funds": "5000"},
					{"price": "5010000", "volume": "0.001", "funds": "5010"},
				},
			})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))

	res, err := c.Buy(context.Background(), "KRW-ETH", 10000)
	if err != nil {
		t.Fatalf("Buy error: %v", err)
	}
	if res.OrderID != "ord-1" || res.Side != "BUY" {
		t.Errorf("result id/side = %s/%s", res.OrderID, res.Side)
	}
	if res.Quantity != 0.002 {
		t.Errorf("quantity = %v, want 0.002", res.Quantity)
	}
	if res.Amount != 10010 {
		t.Errorf("amount = %v, want 10010", res.Amount)
	}
	wantPrice := 10010.0 / 0.002
	if res.Price != wantPrice {
		t.Errorf("price = %v, want %v", res.Price, wantPrice)
	}
}

func TestBuyRejectsBelowMinimum(t *testing.T) {
	c := NewClient("a", "s", "http://127.0.0.1:0")
	if _, err := c.Buy(context.Background(), "KRW-BTC", 100); err == nil {
		t.Fatal("expected error for sub-minimum amount")
	}
}

func TestLimitBuyFallsBackToMarket(t *testing.T) {
	var canceled bool
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/orders":
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			if body["ord_type"] == "limit" {
				json.NewEncoder(w).Encode(map[string]interface{}{"uuid": "lim-1", "side": "bid", "state": "wait"})
			} else {
				json.NewEncoder(w).Encode(map[string]interface{}{"uuid": "mkt-1", "side": "bid", "state": "wait"})
			}
		case r.Method == http.MethodGet && r.URL.Path == "/v1/order":
			id := r.URL.Query().Get("uuid")
			if id == "lim-1" {
				json.NewEncoder(w).Encode(map[string]interface{}{"uuid": "lim-1", "side": "bid", "state": "wait", "executed_volume": "0"})
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"uuid": "mkt-1", "side": "bid", "state": "done", "market": "KRW-XRP",
				"executed_volume": "10", "paid_fee": "2.5",
				"trades": []map[string]string{{"price": "500", "volume": "10", "funds": "5000"}},
			})
		case r.Method == http.MethodDelete && r.URL.Path == "/v1/order":
			canceled = true
			json.NewEncoder(w).Encode(map[string]interface{}{"uuid": "lim-1"})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))

	res, err := c.LimitBuy(context.Background(), "KRW-XRP", 5000, 500)
	if err != nil {
		t.Fatalf("LimitBuy error: %v", err)
	}
	if !canceled {
		t.Error("limit order was never canceled before fallback")
	}
	if res.OrderID != "mkt-1" {
		t.Errorf("fill came from %s, want market fallback", res.OrderID)
	}
}

func TestAPIErrorEnvelope(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"name":"order_not_found","message":"no such order"}}`))
	}))

	_, err := c.getOrder(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error")
	}
	var ae *apiError
	if !errors.As(err, &ae) {
		t.Fatalf("error %v is not *apiError", err)
	}
	if !isOrderGone(err) {
		t.Error("order_not_found should register as gone")
	}
}

func TestTickRounding(t *testing.T) {
	tests := []struct {
		name  string
		price float64
		want  float64
	}{
		{"over 2M", 3_456_789, 3_456_000},
		{"1M band", 1_234_567, 1_234_500},
		{"500k band", 567_891, 567_800},
		{"100k band", 123_456, 123_450},
		{"10k band", 45_678, 45_670},
		{"1k band", 4_567.8, 4_567},
		{"sub 1k", 456.78, 456.7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RoundToTick(tt.price); got != tt.want {
				t.Errorf("RoundToTick(%v) = %v, want %v", tt.price, got, tt.want)
			}
		})
	}
}
