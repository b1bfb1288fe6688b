package learn

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/rmsfid11-commits/trading-bot-sub000/config"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/ledger"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/signal"
)

const (
	minPairs         = 30
	blacklistTrades  = 3
	blacklistWinrate = 0.25
	blockLossRate    = 0.60
	blockTrades      = 5
	warnLossRate     = 0.50
	hourMinTrades    = 3
)

// Report is the outcome of one learning pass.
type Report struct {
	Pairs      int                  `json:"pairs"`
	Confidence float64              `json:"confidence"`
	Reason     string               `json:"reason,omitempty"`
	Learned    ledger.LearnedParams `json:"learned"`
	LossRules  []signal.LossRule    `json:"loss_rules"`
	Stats      Stats                `json:"stats"`
	RanAt      int64                `json:"ran_at"`
}

// Learner runs the offline pass for one tenant.
type Learner struct {
	log      zerolog.Logger
	defaults config.Strategy
}

// New builds a learner against the compiled strategy defaults.
func New(log zerolog.Logger, defaults config.Strategy) *Learner {
	return &Learner{log: log.With().Str("component", "learn").Logger(), defaults: defaults}
}

// Run executes the full pass over the journal. current holds the
// parameter values in effect, so consistency can penalize big jumps.
func (l *Learner) Run(entries []ledger.Entry, current map[string]float64) Report {
	pairs := MatchPairs(entries)
	rep := Report{Pairs: len(pairs), RanAt: time.Now().UnixMilli()}

	if len(pairs) < minPairs {
		rep.Reason = "data insufficient"
		rep.Learned = ledger.LearnedParams{Confidence: 0, UpdatedTs: rep.RanAt}
		l.log.Info().Int("pairs", len(pairs)).Msg("learning skipped, not enough pairs")
		return rep
	}

	rep.Stats = Collect(pairs)

	best := l.gridSearch(pairs, current)
	consistency := consistencyOf(best, current, l.defaults.LearnableDefaults())
	confidence := 0.6*math.Min(1, float64(len(pairs))/200) + 0.4*consistency

	rep.Confidence = confidence
	rep.Learned = ledger.LearnedParams{
		Params:         best,
		Confidence:     confidence,
		Blacklist:      blacklistOf(rep.Stats),
		PreferredHours: preferredHours(rep.Stats),
		AvoidHours:     avoidHours(rep.Stats),
		SymbolScores:   symbolScores(rep.Stats),
		UpdatedTs:      rep.RanAt,
	}
	rep.LossRules = buildLossRules(pairs)

	l.log.Info().
		Int("pairs", len(pairs)).
		Float64("confidence", confidence).
		Int("blacklisted", len(rep.Learned.Blacklist)).
		Int("loss_rules", len(rep.LossRules)).
		Msg("learning pass complete")
	return rep
}

// objective is the grid-search score: pnl-weighted with a winrate term.
func objective(avgPnl, winRate float64) float64 {
	return 0.6*avgPnl + 0.4*(winRate*10-5)
}

// gridSearch tunes each learnable key independently by re-simulating
// every pair under candidate values with a single-dimension heuristic.
func (l *Learner) gridSearch(pairs []Pair, current map[string]float64) map[string]float64 {
	defs := l.defaults.LearnableDefaults()
	out := make(map[string]float64, len(defs))

	for key, def := range defs {
		cur := def
		if v, ok := current[key]; ok {
			cur = v
		}
		best, bestScore := cur, math.Inf(-1)
		for _, cand := range candidatesFor(def) {
			score := simulate(pairs, key, cand, l.defaults)
			if score > bestScore {
				best, bestScore = cand, score
			}
		}
		out[key] = config.ClampLearned(def, best)
	}
	return out
}

// candidatesFor spans the ±50% band in 9 steps.
func candidatesFor(def float64) []float64 {
	out := make([]float64, 0, 9)
	for i := -4; i <= 4; i++ {
		out = append(out, def*(1+0.125*float64(i)))
	}
	return out
}

// simulate estimates the objective had the key been set to value for
// every recorded pair.
func simulate(pairs []Pair, key string, value float64, s config.Strategy) float64 {
	var total float64
	var wins, n int

	for _, p := range pairs {
		pnl, counted := simulatePair(p, key, value, s)
		if !counted {
			continue
		}
		total += pnl
		if pnl > 0 {
			wins++
		}
		n++
	}
	if n == 0 {
		return math.Inf(-1)
	}
	return objective(total/float64(n), float64(wins)/float64(n))
}

// simulatePair applies the single-dimension heuristic for one pair.
// The second return is false when the pair would not have been taken
// at all under the candidate value.
func simulatePair(p Pair, key string, value float64, s config.Strategy) (float64, bool) {
	pnl := p.PnlPct
	switch key {
	case config.KeyStopLossPct:
		// A tighter stop caps the loss; a wider one lets recorded
		// losses past the old stop run to their recorded depth.
		if pnl < -value {
			pnl = -value
		}
	case config.KeyTakeProfitPct:
		if pnl > value {
			pnl = value
		}
	case config.KeyMaxHoldHours:
		// Shorter holds scale the result proportionally; longer holds
		// keep the recorded outcome.
		held := float64(p.HoldMs) / float64(time.Hour.Milliseconds())
		if held > value && held > 0 {
			pnl = pnl * value / held
		}
	case config.KeyBuyThreshold:
		// A higher bar drops the weakest entries.
		if p.BuyScore > 0 && p.BuyScore < value {
			return 0, false
		}
	case config.KeyRSIOversold:
		if rsi, ok := snapshotFloat(p.Snapshot, "rsi"); ok && rsi > value+5 {
			return 0, false
		}
	case config.KeyRSIOverbought:
		// Exit-side knob; recorded outcome stands.
	case config.KeyBasePositionPct:
		// Sizing does not change percent outcomes.
	}
	return pnl, true
}

func snapshotFloat(m map[string]interface{}, key string) (float64, bool) {
	if m == nil {
		return 0, false
	}
	v, ok := m[key].(float64)
	return v, ok
}

// consistencyOf penalizes large deltas from the values in effect.
func consistencyOf(learned, current, defs map[string]float64) float64 {
	if len(learned) == 0 {
		return 0
	}
	var sum float64
	var n int
	for key, v := range learned {
		cur, ok := current[key]
		if !ok {
			cur = defs[key]
		}
		if cur == 0 {
			continue
		}
		delta := math.Abs(v-cur) / math.Abs(cur)
		sum += math.Max(0, 1-delta)
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func blacklistOf(s Stats) []string {
	var out []string
	for sym, b := range s.PerSymbol {
		if b.Trades >= blacklistTrades && b.WinRate() < blacklistWinrate {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}

func preferredHours(s Stats) []int {
	ranked := hoursRanked(s.PerHour, hourMinTrades)
	var out []int
	for _, h := range ranked {
		if s.PerHour[h].AvgPnl > 0 {
			out = append(out, h)
		}
		if len(out) == 5 {
			break
		}
	}
	sort.Ints(out)
	return out
}

func avoidHours(s Stats) []int {
	ranked := hoursRanked(s.PerHour, hourMinTrades)
	var out []int
	for i := len(ranked) - 1; i >= 0; i-- {
		h := ranked[i]
		if s.PerHour[h].AvgPnl < 0 {
			out = append(out, h)
		}
		if len(out) == 5 {
			break
		}
	}
	sort.Ints(out)
	return out
}

func symbolScores(s Stats) map[string]float64 {
	out := make(map[string]float64, len(s.PerSymbol))
	for sym, b := range s.PerSymbol {
		out[sym] = objective(b.AvgPnl, b.WinRate())
	}
	return out
}

// lossKey groups pairs by buy-time market fingerprint.
type lossKey struct {
	rsiBand string
	bbBand  string
	hour    int
	regime  string
	symbol  string
}

// buildLossRules finds fingerprints that keep losing: ≥60% loss rate
// over ≥5 trades blocks, ≥50% warns.
func buildLossRules(pairs []Pair) []signal.LossRule {
	type tally struct{ trades, losses int }
	counts := make(map[lossKey]*tally)

	for _, p := range pairs {
		rsi, okRSI := snapshotFloat(p.Snapshot, "rsi")
		bbPos, okBB := snapshotFloat(p.Snapshot, "bb_position")
		if !okRSI || !okBB {
			continue
		}
		key := lossKey{
			rsiBand: signal.RSIBandOf(rsi),
			bbBand:  signal.BBBandOf(bbPos),
			hour:    time.UnixMilli(p.BuyTs).Hour(),
			regime:  p.Regime,
			symbol:  p.Symbol,
		}
		t, ok := counts[key]
		if !ok {
			t = &tally{}
			counts[key] = t
		}
		t.trades++
		if p.PnlPct <= 0 {
			t.losses++
		}
	}

	var rules []signal.LossRule
	for key, t := range counts {
		if t.trades < blockTrades {
			continue
		}
		lossRate := float64(t.losses) / float64(t.trades)
		action := ""
		switch {
		case lossRate >= blockLossRate:
			action = signal.LossActionBlock
		case lossRate >= warnLossRate:
			action = signal.LossActionWarn
		default:
			continue
		}
		rules = append(rules, signal.LossRule{
			RSIBand:  key.rsiBand,
			BBBand:   key.bbBand,
			Hour:     key.hour,
			Regime:   key.regime,
			Symbol:   key.symbol,
			Action:   action,
			LossRate: lossRate,
			Trades:   t.trades,
		})
	}
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Symbol != rules[j].Symbol {
			return rules[i].Symbol < rules[j].Symbol
		}
		return rules[i].Hour < rules[j].Hour
	})
	return rules
}
