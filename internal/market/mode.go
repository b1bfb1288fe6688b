package market

import (
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/indicators"
)

// Trading modes, risk-on to risk-off.
const (
	ModeAggressive = "aggressive"
	ModeScalping   = "scalping"
	ModeDefensive  = "defensive"
)

// ModeProfile is the full parameter set a mode imposes on the loop.
type ModeProfile struct {
	Mode             string  `json:"mode"`
	BuyThresholdMult float64 `json:"buy_threshold_mult"`
	MaxPositions     int     `json:"max_positions"`
	PositionSizeMult float64 `json:"position_size_mult"`
	StopLossPct      float64 `json:"stop_loss_pct"`
	TakeProfitPct    float64 `json:"take_profit_pct"`
	MaxHoldMult      float64 `json:"max_hold_mult"`
	TrailingDistPct  float64 `json:"trailing_dist_pct"`
	HourlyMaxTrades  int     `json:"hourly_max_trades"`
	DCAEnabled       bool    `json:"dca_enabled"`
	Score            float64 `json:"score"`
}

var modeProfiles = map[string]ModeProfile{
	ModeAggressive: {
		Mode:             ModeAggressive,
		BuyThresholdMult: 0.85,
		MaxPositions:     6,
		PositionSizeMult: 1.2,
		StopLossPct:      3.0,
		TakeProfitPct:    5.0,
		MaxHoldMult:      1.2,
		TrailingDistPct:  2.5,
		HourlyMaxTrades:  8,
		DCAEnabled:       true,
	},
	ModeScalping: {
		Mode:             ModeScalping,
		BuyThresholdMult: 1.0,
		MaxPositions:     4,
		PositionSizeMult: 1.0,
		StopLossPct:      2.0,
		TakeProfitPct:    3.0,
		MaxHoldMult:      0.8,
		TrailingDistPct:  1.5,
		HourlyMaxTrades:  6,
		DCAEnabled:       true,
	},
	ModeDefensive: {
		Mode:             ModeDefensive,
		BuyThresholdMult: 1.3,
		MaxPositions:     2,
		PositionSizeMult: 0.6,
		StopLossPct:      1.5,
		TakeProfitPct:    2.0,
		MaxHoldMult:      0.6,
		TrailingDistPct:  1.0,
		HourlyMaxTrades:  3,
		DCAEnabled:       false,
	},
}

// Profile returns the parameter set for a mode, defaulting to scalping
// for unknown names.
func Profile(mode string) ModeProfile {
	if p, ok := modeProfiles[mode]; ok {
		return p
	}
	return modeProfiles[ModeScalping]
}

// SelectMode folds Fear&Greed, the BTC regime, BTC momentum and the
// dominance trend into one risk scalar and picks the trading mode.
func SelectMode(fearGreed int, regime string, leader LeaderState, dominance DominanceState) ModeProfile {
	var score float64

	switch {
	case fearGreed >= 70:
		score += 1.0
	case fearGreed >= 55:
		score += 0.5
	case fearGreed <= 25:
		score -= 1.0
	case fearGreed <= 40:
		score -= 0.5
	}

	switch {
	case leader.Change15m >= 1.0:
		score += 1.0
	case leader.Change15m >= 0.3:
		score += 0.5
	case leader.Change15m <= -1.0:
		score -= 1.0
	case leader.Change15m <= -0.3:
		score -= 0.5
	}

	switch indicators.RegimeLabel(regime) {
	case indicators.RegimeTrending:
		score += 0.5
	case indicators.RegimeVolatile:
		score -= 1.0
	}

	switch dominance.Trend {
	case DominanceRising:
		score -= 0.5
	case DominanceFalling:
		score += 0.5
	}

	mode := ModeScalping
	switch {
	case score >= 1.5:
		mode = ModeAggressive
	case score <= -1.5:
		mode = ModeDefensive
	}

	profile := modeProfiles[mode]
	profile.Score = score
	return profile
}
