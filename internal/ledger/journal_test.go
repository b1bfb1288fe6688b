package ledger

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fptr(v float64) *float64 { return &v }

func TestJournalAppendAndRead(t *testing.T) {
	j := NewJournal(filepath.Join(t.TempDir(), "trades.jsonl"))

	require.NoError(t, j.Append(Entry{Ts: 1, Symbol: "KRW-BTC", Action: ActionBuy, Price: 100, Quantity: 1, Amount: 100}))
	require.NoError(t, j.Append(Entry{Ts: 2, Symbol: "KRW-BTC", Action: ActionSell, Price: 105, Quantity: 1, Amount: 105,
		PnlPct: fptr(5), PnlAmount: fptr(5)}))

	all, err := j.ReadAll()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, ActionBuy, all[0].Action)
	assert.Equal(t, 5.0, *all[1].PnlAmount)
}

func TestJournalSkipsBadLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.jsonl")
	content := `{"ts_ms":1,"symbol":"KRW-BTC","action":"BUY","price":100,"quantity":1,"amount":100}
not json at all
{"ts_ms":2,"symbol":"KRW-BTC","action":"SELL","price":105,"quantity":1,"amount":105,"pnl_pct":5,"pnl_amount":5}
{"truncated":
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	all, err := NewJournal(path).ReadAll()
	require.NoError(t, err)
	assert.Len(t, all, 2, "bad lines are skipped, not fatal")
}

func TestJournalTailNewestFirst(t *testing.T) {
	j := NewJournal(filepath.Join(t.TempDir(), "trades.jsonl"))
	for i := 1; i <= 5; i++ {
		require.NoError(t, j.Append(Entry{Ts: int64(i), Symbol: "KRW-BTC", Action: ActionBuy}))
	}
	tail, err := j.Tail(3)
	require.NoError(t, err)
	require.Len(t, tail, 3)
	assert.Equal(t, int64(5), tail[0].Ts)
	assert.Equal(t, int64(3), tail[2].Ts)
}

func TestReplayDay(t *testing.T) {
	j := NewJournal(filepath.Join(t.TempDir(), "trades.jsonl"))
	day := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	yesterday := day.Add(-24 * time.Hour)

	rows := []Entry{
		{Ts: yesterday.UnixMilli(), Symbol: "KRW-A", Action: ActionSell, PnlPct: fptr(2), PnlAmount: fptr(9999)},
		{Ts: day.UnixMilli(), Symbol: "KRW-A", Action: ActionBuy, Amount: 100_000, OrderID: "o1"},
		{Ts: day.Add(time.Hour).UnixMilli(), Symbol: "KRW-A", Action: ActionSell, PnlPct: fptr(-1.5), PnlAmount: fptr(-1500), OrderID: "o2"},
		{Ts: day.Add(2 * time.Hour).UnixMilli(), Symbol: "KRW-B", Action: ActionPartialSell, PnlPct: fptr(2.0), PnlAmount: fptr(600), OrderID: "o3"},
		// synthetic external sell, no pnl
		{Ts: day.Add(3 * time.Hour).UnixMilli(), Symbol: "KRW-C", Action: ActionSell, Reason: "수동 매도"},
	}
	for _, e := range rows {
		require.NoError(t, j.Append(e))
	}

	rep, err := j.ReplayDay(day)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Buys)
	assert.Equal(t, 3, rep.Sells)
	assert.InDelta(t, -900, rep.PnlKRW, 1, "daily pnl sums explicit pnl_amount only")
	assert.Equal(t, 1, rep.Wins)
	assert.Equal(t, 1, rep.Losses)
	assert.True(t, rep.SeenIDs["o2"])
	assert.False(t, rep.SeenIDs["missing"])
}

func TestPnlSeriesBucketsAndRetention(t *testing.T) {
	s := NewPnlSeries()
	base := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	// Two samples inside one minute collapse to the latest.
	s.Add(base, 100)
	s.Add(base.Add(20*time.Second), 150)
	require.Len(t, s.Samples(), 1)
	assert.Equal(t, 150.0, s.Samples()[0].Pnl)

	for i := 1; i <= 120; i++ {
		s.Add(base.Add(time.Duration(i)*time.Minute), float64(i))
	}
	hourly := s.Bucketed("1h")
	require.Len(t, hourly, 3)
	assert.Equal(t, 119.0, hourly[1].Pnl, "bucket keeps its last sample")

	// Samples older than 48h roll off.
	s.Add(base.Add(49*time.Hour), 999)
	for _, sm := range s.Samples() {
		assert.GreaterOrEqual(t, sm.Ts, base.Add(time.Hour).UnixMilli())
	}
}

func TestBackfillFromJournal(t *testing.T) {
	base := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	entries := []Entry{
		{Ts: base.UnixMilli(), Action: ActionSell, PnlAmount: fptr(1000), PnlPct: fptr(1)},
		{Ts: base.Add(10 * time.Minute).UnixMilli(), Action: ActionSell, PnlAmount: fptr(-400), PnlPct: fptr(-0.4)},
		{Ts: base.Add(2 * time.Hour).UnixMilli(), Action: ActionPartialSell, PnlAmount: fptr(200), PnlPct: fptr(0.5)},
		{Ts: base.Add(3 * time.Hour).UnixMilli(), Action: ActionBuy},
	}
	series := BackfillFromJournal(entries, "1h")
	require.Len(t, series, 2)
	assert.Equal(t, 600.0, series[0].Pnl, "cumulative inside the first hour")
	assert.Equal(t, 800.0, series[1].Pnl)
}

func TestAtomicSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "positions.json")

	type payload struct {
		N int `json:"n"`
	}
	require.NoError(t, saveJSON(path, payload{N: 7}))

	var got payload
	require.NoError(t, loadJSON(path, &got))
	assert.Equal(t, 7, got.N)

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
