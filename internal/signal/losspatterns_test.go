package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRSIBandOf(t *testing.T) {
	assert.Equal(t, "0-10", RSIBandOf(-3))
	assert.Equal(t, "20-30", RSIBandOf(29.9))
	assert.Equal(t, "30-40", RSIBandOf(30))
	assert.Equal(t, "90-100", RSIBandOf(100))
}

func TestBBBandOf(t *testing.T) {
	assert.Equal(t, "low", BBBandOf(0.1))
	assert.Equal(t, "mid", BBBandOf(0.5))
	assert.Equal(t, "high", BBBandOf(0.9))
}

func TestLossPatternMatchFields(t *testing.T) {
	lp := NewLossPatterns()
	lp.Replace([]LossRule{{
		RSIBand: "30-40",
		BBBand:  "low",
		Hour:    3,
		Symbol:  "KRW-XRP",
		Action:  LossActionBlock,
	}})

	fp := Fingerprint{RSI: 35, BBPosition: 0.2, Hour: 3, Symbol: "KRW-XRP"}
	rule, ok := lp.Match(fp)
	require.True(t, ok)
	assert.Equal(t, LossActionBlock, rule.Action)

	fp.Hour = 4
	_, ok = lp.Match(fp)
	assert.False(t, ok, "hour mismatch must not match")

	fp.Hour = 3
	fp.Symbol = "KRW-BTC"
	_, ok = lp.Match(fp)
	assert.False(t, ok, "symbol-scoped rule only hits its symbol")
}

func TestLossPatternWildcards(t *testing.T) {
	lp := NewLossPatterns()
	lp.Replace([]LossRule{{Hour: -1, Action: LossActionWarn}})

	_, ok := lp.Match(Fingerprint{RSI: 72, BBPosition: 0.8, Hour: 11, Symbol: "KRW-ETH"})
	assert.True(t, ok, "empty fields match anything")
}

func TestLossPatternBlockBeatsWarn(t *testing.T) {
	lp := NewLossPatterns()
	lp.Replace([]LossRule{
		{Hour: -1, Action: LossActionWarn},
		{RSIBand: "60-70", Hour: -1, Action: LossActionBlock},
	})

	rule, ok := lp.Match(Fingerprint{RSI: 65, BBPosition: 0.5, Hour: 9})
	require.True(t, ok)
	assert.Equal(t, LossActionBlock, rule.Action)

	rule, ok = lp.Match(Fingerprint{RSI: 45, BBPosition: 0.5, Hour: 9})
	require.True(t, ok)
	assert.Equal(t, LossActionWarn, rule.Action)
}

func TestLossPatternReplaceCopies(t *testing.T) {
	lp := NewLossPatterns()
	rules := []LossRule{{Hour: -1, Action: LossActionWarn}}
	lp.Replace(rules)
	rules[0].Action = LossActionBlock

	got := lp.Rules()
	require.Len(t, got, 1)
	assert.Equal(t, LossActionWarn, got[0].Action)
}
