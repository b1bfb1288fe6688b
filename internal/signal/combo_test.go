package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComboLookupNeedsHistory(t *testing.T) {
	tr := NewComboTracker()
	key := ReasonRSI.Add(ReasonBB)

	adj, block := tr.Lookup(key)
	assert.Zero(t, adj)
	assert.False(t, block)

	tr.Record(key, 1.0, 3.0)
	tr.Record(key, 1.0, 3.0)
	adj, block = tr.Lookup(key)
	assert.Zero(t, adj, "below the minimum trade count nothing is learned")
	assert.False(t, block)
}

func TestComboWinnersGetBoost(t *testing.T) {
	tr := NewComboTracker()
	key := ReasonRSI.Add(ReasonVOL)
	for i := 0; i < 4; i++ {
		tr.Record(key, 2.0, 3.0)
	}

	adj, block := tr.Lookup(key)
	assert.False(t, block)
	assert.Equal(t, 1.0, adj, "boost is clamped to one point")
}

func TestComboConsistentLosersBlocked(t *testing.T) {
	tr := NewComboTracker()
	key := ReasonBB.Add(ReasonMACD)
	for i := 0; i < comboBlockTrades; i++ {
		tr.Record(key, -1.5, 2.5)
	}

	_, block := tr.Lookup(key)
	assert.True(t, block)

	// One win lifts the rate above the block line but the penalty stays.
	tr.Record(key, 3.0, 2.5)
	tr.Record(key, 3.0, 2.5)
	adj, block := tr.Lookup(key)
	assert.False(t, block)
	assert.Negative(t, adj)
}

func TestComboSnapshotRestore(t *testing.T) {
	tr := NewComboTracker()
	key := ReasonRSI
	tr.Record(key, 1.0, 2.0)
	tr.Record(key, -0.5, 2.5)

	snap := tr.Snapshot()
	require.Contains(t, snap, "RSI")
	st := snap["RSI"]
	assert.Equal(t, 2, st.Trades)
	assert.Equal(t, 1, st.Wins)
	assert.InDelta(t, 0.5, st.TotalPnlPct, 1e-9)
	assert.InDelta(t, 2.25, st.AvgBuyScore, 1e-9)
	assert.Len(t, st.RecentPnls, 2)

	fresh := NewComboTracker()
	fresh.Restore(snap)
	assert.Equal(t, snap, fresh.Snapshot())

	// Snapshots are copies; mutating one must not leak into the tracker.
	st.RecentPnls[0] = 99
	assert.NotEqual(t, 99.0, fresh.Snapshot()["RSI"].RecentPnls[0])
}

func TestComboRecentPnlsBounded(t *testing.T) {
	tr := NewComboTracker()
	for i := 0; i < comboRecentKeep+7; i++ {
		tr.Record(ReasonVOL, 0.1, 2.0)
	}
	assert.Len(t, tr.Snapshot()["VOL"].RecentPnls, comboRecentKeep)
}
