package learn

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmsfid11-commits/trading-bot-sub000/config"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/ledger"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/signal"
)

func fptr(v float64) *float64 { return &v }

var baseTs = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

func buyRow(ts time.Time, symbol string, price, qty float64) ledger.Entry {
	return ledger.Entry{
		Ts: ts.UnixMilli(), Symbol: symbol, Action: ledger.ActionBuy,
		Price: price, Quantity: qty, Amount: price * qty, BuyScore: 3.0,
		Snapshot: map[string]interface{}{"rsi": 28.0, "bb_position": 0.1},
	}
}

func sellRow(ts time.Time, symbol string, price, qty, pnlPct float64) ledger.Entry {
	amount := price * qty
	return ledger.Entry{
		Ts: ts.UnixMilli(), Symbol: symbol, Action: ledger.ActionSell,
		Price: price, Quantity: qty, Amount: amount,
		PnlPct: fptr(pnlPct), PnlAmount: fptr(amount * pnlPct / 100),
	}
}

func TestMatchPairsFIFO(t *testing.T) {
	entries := []ledger.Entry{
		buyRow(baseTs, "KRW-BTC", 100, 1),
		buyRow(baseTs.Add(time.Hour), "KRW-BTC", 110, 1),
		sellRow(baseTs.Add(2*time.Hour), "KRW-BTC", 105, 1, 5),
		sellRow(baseTs.Add(3*time.Hour), "KRW-BTC", 99, 1, -10),
	}
	pairs := MatchPairs(entries)
	require.Len(t, pairs, 2)
	assert.Equal(t, 100.0, pairs[0].BuyPrice, "first sell consumes the oldest lot")
	assert.InDelta(t, 5.0, pairs[0].PnlPct, 0.001)
	assert.Equal(t, 110.0, pairs[1].BuyPrice)
	assert.InDelta(t, -10.0, pairs[1].PnlPct, 0.001)
}

func TestMatchPairsPartialAndDCA(t *testing.T) {
	entries := []ledger.Entry{
		buyRow(baseTs, "KRW-ETH", 100, 2),
		{Ts: baseTs.Add(time.Hour).UnixMilli(), Symbol: "KRW-ETH", Action: ledger.ActionDCA,
			Price: 90, Quantity: 2, Amount: 180},
		{Ts: baseTs.Add(2 * time.Hour).UnixMilli(), Symbol: "KRW-ETH", Action: ledger.ActionPartialSell,
			Price: 104, Quantity: 1, Amount: 104, PnlPct: fptr(4), PnlAmount: fptr(4)},
		sellRow(baseTs.Add(3*time.Hour), "KRW-ETH", 102, 3, 5),
	}
	pairs := MatchPairs(entries)
	// partial takes 1 of the first lot, full sell takes 1 + 2.
	require.Len(t, pairs, 3)
	assert.Equal(t, 1.0, pairs[0].Quantity)
	assert.Equal(t, 100.0, pairs[1].BuyPrice)
	assert.Equal(t, 90.0, pairs[2].BuyPrice)
}

func TestMatchPairsSyntheticSellMakesNoPair(t *testing.T) {
	entries := []ledger.Entry{
		buyRow(baseTs, "KRW-XRP", 100, 1),
		{Ts: baseTs.Add(time.Hour).UnixMilli(), Symbol: "KRW-XRP", Action: ledger.ActionSell,
			Quantity: 1, Reason: "수동 매도"},
	}
	assert.Empty(t, MatchPairs(entries))
}

// Replaying the journal yields the same pair count the online combo
// tracker saw: one recorded result per realized exit row with pnl.
func TestReplayMatchesOnlineComboCount(t *testing.T) {
	var entries []ledger.Entry
	tracker := signal.NewComboTracker()
	reasons := signal.ReasonRSI | signal.ReasonBB

	ts := baseTs
	for i := 0; i < 10; i++ {
		e := buyRow(ts, "KRW-BTC", 100, 1)
		e.Reasons = uint8(reasons)
		entries = append(entries, e)
		pnl := 2.0
		if i%3 == 0 {
			pnl = -1.5
		}
		entries = append(entries, sellRow(ts.Add(30*time.Minute), "KRW-BTC", 100*(1+pnl/100), 1, pnl))
		tracker.Record(reasons, pnl, 3.0)
		ts = ts.Add(time.Hour)
	}

	pairs := MatchPairs(entries)
	stats := tracker.Snapshot()[reasons.String()]
	assert.Equal(t, stats.Trades, len(pairs))
}

func TestRunInsufficientData(t *testing.T) {
	l := New(zerolog.Nop(), config.Default().Strategy)
	rep := l.Run([]ledger.Entry{buyRow(baseTs, "KRW-BTC", 100, 1)}, nil)
	assert.Equal(t, 0.0, rep.Confidence)
	assert.Equal(t, "data insufficient", rep.Reason)
	assert.Empty(t, rep.Learned.Params, "no params mutated under 30 pairs")
}

func journalFixture(n int) []ledger.Entry {
	var entries []ledger.Entry
	ts := baseTs
	for i := 0; i < n; i++ {
		sym := "KRW-BTC"
		pnl := 2.5
		if i%4 == 0 {
			pnl = -2.0
		}
		if i%5 == 0 {
			sym = "KRW-DOGE"
			pnl = -3.0 // consistent loser for the blacklist
		}
		entries = append(entries, buyRow(ts, sym, 100, 1))
		entries = append(entries, sellRow(ts.Add(45*time.Minute), sym, 100*(1+pnl/100), 1, pnl))
		ts = ts.Add(90 * time.Minute)
	}
	return entries
}

func TestRunFullPass(t *testing.T) {
	l := New(zerolog.Nop(), config.Default().Strategy)
	rep := l.Run(journalFixture(60), nil)

	require.GreaterOrEqual(t, rep.Pairs, 30)
	assert.Greater(t, rep.Confidence, 0.0)
	assert.LessOrEqual(t, rep.Confidence, 1.0)

	// Every learned key stays inside the ±50% clamp.
	defs := config.Default().Strategy.LearnableDefaults()
	require.NotEmpty(t, rep.Learned.Params)
	for key, v := range rep.Learned.Params {
		def := defs[key]
		lo, hi := def-absf(def)*0.5, def+absf(def)*0.5
		assert.GreaterOrEqual(t, v, lo-1e-9, key)
		assert.LessOrEqual(t, v, hi+1e-9, key)
	}

	assert.Contains(t, rep.Learned.Blacklist, "KRW-DOGE")
	assert.NotEmpty(t, rep.Learned.SymbolScores)
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func TestBuildLossRules(t *testing.T) {
	var pairs []Pair
	for i := 0; i < 8; i++ {
		pnl := -2.0 // same fingerprint keeps losing
		if i >= 6 {
			pnl = 1.0
		}
		pairs = append(pairs, Pair{
			Symbol: "KRW-SHIB", BuyTs: baseTs.UnixMilli(), SellTs: baseTs.Add(time.Hour).UnixMilli(),
			BuyPrice: 100, SellPrice: 100 * (1 + pnl/100), PnlPct: pnl, Regime: "ranging",
			Snapshot: map[string]interface{}{"rsi": 35.0, "bb_position": 0.2},
		})
	}
	rules := buildLossRules(pairs)
	require.Len(t, rules, 1)
	assert.Equal(t, signal.LossActionBlock, rules[0].Action, "75% loss rate over 8 trades blocks")
	assert.Equal(t, "30-40", rules[0].RSIBand)
	assert.Equal(t, "low", rules[0].BBBand)
}

func TestClampLearned(t *testing.T) {
	assert.Equal(t, 45.0, config.ClampLearned(30, 60), "clamped to +50%")
	assert.Equal(t, 15.0, config.ClampLearned(30, 5), "clamped to -50%")
	assert.Equal(t, 33.0, config.ClampLearned(30, 33))
}
