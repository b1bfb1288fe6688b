package signal

import (
	"fmt"
	"strings"
	"time"

	"github.com/rmsfid11-commits/trading-bot-sub000/internal/indicators"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/market"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/patterns"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/upbit"
)

// Actions a signal can carry.
const (
	ActionBuy  = "BUY"
	ActionSell = "SELL"
	ActionHold = "HOLD"
)

// Per-source contribution caps from the scoring model.
const (
	capRSI       = 2.0
	capBB        = 2.0
	capVolume    = 1.0
	capMACD      = 1.5
	capPatterns  = 3.0
	capMTF       = 1.5
	capOrderbook = 2.0
	capSentiment = 1.5
	capLeader    = 1.5
	capContext   = 1.5 // funding, whale and kimchi each
	capCombo     = 1.0

	defaultBuyThreshold  = 2.0
	defaultSellThreshold = 3.0
)

// Params are the strategy knobs the compositor reads each evaluation.
// They arrive from config merged with the learned overlay.
type Params struct {
	RSIOversold     float64
	RSIOverbought   float64
	VolumeThreshold float64
	BuyThreshold    float64
	SellThreshold   float64
	MinScoreBump    float64 // additive bump from the adaptive filter
}

// DefaultParams returns the stock strategy parameters.
func DefaultParams() Params {
	return Params{
		RSIOversold:     30,
		RSIOverbought:   70,
		VolumeThreshold: 2.0,
		BuyThreshold:    defaultBuyThreshold,
		SellThreshold:   defaultSellThreshold,
	}
}

// Inputs is everything one evaluation looks at. Candles5m is required;
// the rest degrade gracefully when absent.
type Inputs struct {
	Symbol    string
	Price     float64
	Candles5m []upbit.Candle
	Candles1h []upbit.Candle
	Candles4h []upbit.Candle
	Orderbook *upbit.Orderbook
	Now       time.Time

	Sentiment  market.Snapshot
	SymbolSent *market.SymbolMention
	Leader     market.LeaderState
	Funding    market.FundingState
	Kimchi     market.KimchiState
	Whale      market.WhaleState
	Mode       market.ModeProfile
}

// IndicatorSet is the computed per-symbol indicator bundle carried on
// the signal for position checks and the dashboard.
type IndicatorSet struct {
	RSI         float64                    `json:"rsi"`
	Bollinger   *indicators.BollingerBands `json:"bollinger,omitempty"`
	MACD        *indicators.MACDResult     `json:"macd,omitempty"`
	ATR         *indicators.ATRResult      `json:"atr,omitempty"`
	StochRSI    *indicators.StochRSIResult `json:"stoch_rsi,omitempty"`
	Ichimoku    *indicators.IchimokuResult `json:"ichimoku,omitempty"`
	VWAP        float64                    `json:"vwap,omitempty"`
	VolumeRatio float64                    `json:"volume_ratio"`
	Squeeze     *indicators.Squeeze        `json:"squeeze,omitempty"`
	Regime      *indicators.Regime         `json:"regime,omitempty"`
	MTF         *indicators.MTFResult      `json:"mtf,omitempty"`
}

// Signal is one scored decision with its full reason trace.
type Signal struct {
	Symbol     string                  `json:"symbol"`
	Action     string                  `json:"action"`
	BuyScore   float64                 `json:"buy_score"`
	SellScore  float64                 `json:"sell_score"`
	Threshold  float64                 `json:"threshold"`
	Reasons    ReasonSet               `json:"-"`
	ReasonText string                  `json:"reason"`
	Scores     map[string]float64      `json:"scores"` // net per source, buy positive
	Indicators *IndicatorSet           `json:"indicators,omitempty"`
	Patterns   []patterns.Detected     `json:"patterns,omitempty"`
	Charts     []patterns.ChartPattern `json:"chart_patterns,omitempty"`
	Orderbook  *OrderbookScore         `json:"orderbook,omitempty"`
	Blocked    string                  `json:"blocked,omitempty"` // combo_blocked | loss_pattern_blocked
}

// Compositor scores symbols. It holds references to the learned stores
// and reads them on every evaluation.
type Compositor struct {
	combos *ComboTracker
	losses *LossPatterns
}

func NewCompositor(combos *ComboTracker, losses *LossPatterns) *Compositor {
	return &Compositor{combos: combos, losses: losses}
}

// Combos exposes the tracker for recording sells and for snapshots.
func (c *Compositor) Combos() *ComboTracker { return c.combos }

// Losses exposes the loss-pattern store.
func (c *Compositor) Losses() *LossPatterns { return c.losses }

// Evaluate scores one symbol. Both score sides accumulate independently;
// the action falls out of the thresholds at the end.
func (c *Compositor) Evaluate(in Inputs, p Params) *Signal {
	sig := &Signal{
		Symbol: in.Symbol,
		Action: ActionHold,
		Scores: make(map[string]float64),
	}
	if p.BuyThreshold == 0 {
		p.BuyThreshold = defaultBuyThreshold
	}
	if p.SellThreshold == 0 {
		p.SellThreshold = defaultSellThreshold
	}

	ind := computeIndicators(in)
	sig.Indicators = ind
	var reasons []string

	// RSI
	if buy, sell, hit := scoreRSI(ind.RSI, p); hit {
		sig.add("rsi", buy, sell)
		sig.Reasons = sig.Reasons.Add(ReasonRSI)
		reasons = append(reasons, fmt.Sprintf("rsi %.1f", ind.RSI))
	}

	// Bollinger
	if ind.Bollinger != nil {
		if buy, sell, hit := scoreBollinger(in.Price, ind.Bollinger); hit {
			sig.add("bb", buy, sell)
			sig.Reasons = sig.Reasons.Add(ReasonBB)
			reasons = append(reasons, fmt.Sprintf("bb pos %.2f", ind.Bollinger.PricePosition))
		}
	}

	// Volume surge confirms the candle direction.
	if ind.VolumeRatio >= p.VolumeThreshold && len(in.Candles5m) > 0 {
		last := in.Candles5m[len(in.Candles5m)-1]
		if last.Close >= last.Open {
			sig.add("volume", capVolume, 0)
		} else {
			sig.add("volume", 0, capVolume)
		}
		sig.Reasons = sig.Reasons.Add(ReasonVOL)
		reasons = append(reasons, fmt.Sprintf("vol x%.1f", ind.VolumeRatio))
	}

	// MACD: cross, trend and divergence, capped as one source.
	if ind.MACD != nil {
		buy, sell := scoreMACD(ind.MACD)
		if buy > 0 || sell > 0 {
			sig.add("macd", buy, sell)
			sig.Reasons = sig.Reasons.Add(ReasonMACD)
			reasons = append(reasons, "macd")
		}
	}

	// Patterns: candles at strength×0.5, charts at strength×0.7,
	// one aggregate cap.
	sig.Patterns = patterns.DetectCandlesticks(in.Candles5m)
	sig.Charts = patterns.DetectChartPatterns(in.Candles5m)
	patBuy, patSell := 0.0, 0.0
	for _, d := range sig.Patterns {
		switch d.Direction {
		case patterns.Bullish:
			patBuy += d.Strength * 0.5
		case patterns.Bearish:
			patSell += d.Strength * 0.5
		}
	}
	if len(sig.Patterns) > 0 {
		sig.Reasons = sig.Reasons.Add(ReasonPAT)
	}
	for _, cp := range sig.Charts {
		switch cp.Direction {
		case patterns.Bullish:
			patBuy += cp.Strength * 0.7
		case patterns.Bearish:
			patSell += cp.Strength * 0.7
		}
	}
	if len(sig.Charts) > 0 {
		sig.Reasons = sig.Reasons.Add(ReasonCHART)
	}
	if patBuy > 0 || patSell > 0 {
		sig.add("patterns", min(patBuy, capPatterns), min(patSell, capPatterns))
		reasons = append(reasons, "patterns")
	}

	// Multi-timeframe alignment.
	if ind.MTF != nil && ind.MTF.Boost != 0 {
		if ind.MTF.Boost > 0 {
			sig.add("mtf", min(ind.MTF.Boost, capMTF), 0)
		} else {
			sig.add("mtf", 0, min(-ind.MTF.Boost, capMTF))
		}
		sig.Reasons = sig.Reasons.Add(ReasonMTF)
		reasons = append(reasons, fmt.Sprintf("mtf %.1f", ind.MTF.Boost))
	}

	// Order book.
	if ob := scoreOrderbook(in.Orderbook, in.Price); ob != nil {
		sig.Orderbook = ob
		if ob.BuyBoost > 0 || ob.SellBoost > 0 {
			sig.add("orderbook", ob.BuyBoost, ob.SellBoost)
			reasons = append(reasons, fmt.Sprintf("book %.2f", ob.Imbalance))
		}
	}

	// Sentiment: market fragment plus the per-symbol lean.
	sentBuy, sentSell := fragmentBoosts(in.Sentiment.Fragment)
	if in.SymbolSent != nil {
		if in.SymbolSent.Score >= 30 {
			sentBuy += 0.5
		} else if in.SymbolSent.Score <= -30 {
			sentSell += 0.5
		}
	}
	if sentBuy > 0 || sentSell > 0 {
		sig.add("sentiment", min(sentBuy, capSentiment), min(sentSell, capSentiment))
		sig.Reasons = sig.Reasons.Add(ReasonSENT)
		reasons = append(reasons, "sentiment")
	}

	// Market context: BTC leader, funding, whale, kimchi.
	if buy, sell := fragmentBoosts(in.Leader.Fragment); buy > 0 || sell > 0 {
		sig.add("btc_leader", min(buy, capLeader), min(sell, capLeader))
		reasons = append(reasons, in.Leader.Signal)
	}
	if buy, sell := fragmentBoosts(in.Funding.Fragment); buy > 0 || sell > 0 {
		sig.add("funding", min(buy, capContext), min(sell, capContext))
		reasons = append(reasons, "funding")
	}
	if buy, sell := fragmentBoosts(in.Whale.Fragment); buy > 0 || sell > 0 {
		sig.add("whale", min(buy, capContext), min(sell, capContext))
		reasons = append(reasons, "whale")
	}
	if buy, sell := fragmentBoosts(in.Kimchi.Fragment); buy > 0 || sell > 0 {
		sig.add("kimchi", min(buy, capContext), min(sell, capContext))
		reasons = append(reasons, "kimchi")
	}

	// Learned combo adjustment, then the block gates.
	if c.combos != nil {
		adj, block := c.combos.Lookup(sig.Reasons)
		if block {
			return sig.blocked("combo_blocked", reasons)
		}
		if adj != 0 {
			if adj > capCombo {
				adj = capCombo
			} else if adj < -capCombo {
				adj = -capCombo
			}
			if adj > 0 {
				sig.add("combo", adj, 0)
			} else {
				sig.add("combo", 0, -adj)
			}
			reasons = append(reasons, fmt.Sprintf("combo %+.1f", adj))
		}
	}
	if c.losses != nil {
		fp := Fingerprint{
			RSI:        ind.RSI,
			BBPosition: bbPos(ind.Bollinger),
			Hour:       in.Now.Hour(),
			Symbol:     in.Symbol,
		}
		if ind.Regime != nil {
			fp.Regime = string(ind.Regime.Label)
		}
		if rule, ok := c.losses.Match(fp); ok {
			if rule.Action == LossActionBlock {
				return sig.blocked("loss_pattern_blocked", reasons)
			}
			sig.add("loss_pattern", 0, 0.5)
			reasons = append(reasons, "loss_pattern_warn")
		}
	}

	// Effective threshold: base × regime × mode, plus the adaptive bump.
	threshold := p.BuyThreshold
	if ind.Regime != nil {
		threshold *= ind.Regime.ThresholdMult
	}
	if in.Mode.BuyThresholdMult > 0 {
		threshold *= in.Mode.BuyThresholdMult
	}
	threshold += p.MinScoreBump
	sig.Threshold = threshold

	switch {
	case sig.SellScore >= p.SellThreshold && sig.SellScore > sig.BuyScore:
		sig.Action = ActionSell
	case sig.BuyScore >= threshold:
		sig.Action = ActionBuy
	}
	sig.ReasonText = strings.Join(reasons, ", ")
	return sig
}

func (s *Signal) add(source string, buy, sell float64) {
	s.BuyScore += buy
	s.SellScore += sell
	s.Scores[source] = buy - sell
}

func (s *Signal) blocked(reason string, reasons []string) *Signal {
	s.Action = ActionHold
	s.Blocked = reason
	s.ReasonText = strings.Join(append(reasons, reason), ", ")
	return s
}

func computeIndicators(in Inputs) *IndicatorSet {
	ind := &IndicatorSet{}
	candles := in.Candles5m

	if rsi, ok := indicators.RSI(candles, 14); ok {
		ind.RSI = rsi
	} else {
		ind.RSI = 50
	}
	ind.Bollinger = indicators.Bollinger(candles, 20, 2)
	ind.MACD = indicators.MACD(candles, 12, 26, 9)
	ind.ATR = indicators.ATR(candles, 14)
	ind.StochRSI = indicators.StochRSI(candles, 14, 14, 3, 3)
	ind.Ichimoku = indicators.Ichimoku(candles)
	if v, ok := indicators.VWAP(candles); ok {
		ind.VWAP = v
	}
	if r, ok := indicators.VolumeRatio(candles, 20); ok {
		ind.VolumeRatio = r
	}
	ind.Squeeze = indicators.BBSqueeze(candles)
	ind.Regime = indicators.ClassifyRegime(candles)
	if len(in.Candles1h) > 0 || len(in.Candles4h) > 0 {
		ind.MTF = indicators.MultiTimeframe(candles, in.Candles1h, in.Candles4h)
	}
	return ind
}

func scoreRSI(rsi float64, p Params) (buy, sell float64, hit bool) {
	switch {
	case rsi <= p.RSIOversold:
		return capRSI, 0, true
	case rsi <= p.RSIOversold+5:
		return 1.0, 0, true
	case rsi >= p.RSIOverbought:
		return 0, capRSI, true
	case rsi >= p.RSIOverbought-5:
		return 0, 1.0, true
	}
	return 0, 0, false
}

func scoreBollinger(price float64, bb *indicators.BollingerBands) (buy, sell float64, hit bool) {
	switch {
	case price <= bb.Lower:
		return capBB, 0, true
	case bb.PricePosition <= 0.3:
		return 1.0, 0, true
	case price >= bb.Upper:
		return 0, capBB, true
	case bb.PricePosition >= 0.7:
		return 0, 1.0, true
	}
	return 0, 0, false
}

func scoreMACD(m *indicators.MACDResult) (buy, sell float64) {
	if m.BullishCross {
		buy += 1.0
	}
	if m.BearishCross {
		sell += 1.0
	}
	switch m.Trend {
	case "UP":
		buy += 0.3
	case "DOWN":
		sell += 0.3
	}
	switch m.Divergence {
	case indicators.DivergenceBullish:
		buy += 1.5
	case indicators.DivergenceBearish:
		sell += 1.5
	}
	return min(buy, capMACD), min(sell, capMACD)
}

func fragmentBoosts(f *market.Fragment) (buy, sell float64) {
	if f == nil {
		return 0, 0
	}
	return f.BuyBoost, f.SellBoost
}

func bbPos(bb *indicators.BollingerBands) float64 {
	if bb == nil {
		return 0.5
	}
	return bb.PricePosition
}
