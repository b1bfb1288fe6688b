package bot

import (
	"context"
	"errors"
	"time"

	"github.com/rmsfid11-commits/trading-bot-sub000/internal/backtest"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/learn"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/ledger"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/market"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/position"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/signal"
)

// PositionView is one open position with its live valuation.
type PositionView struct {
	position.Position
	CurrentPrice float64 `json:"current_price"`
	PnlPct       float64 `json:"pnl_pct"`
	PnlKRW       float64 `json:"pnl_krw"`
	HoldMinutes  int     `json:"hold_minutes"`
	Protected    bool    `json:"protected"`
}

// SymbolData is the per-symbol scan view for the dashboard grid.
type SymbolData struct {
	Symbol    string                 `json:"symbol"`
	Price     float64                `json:"price"`
	Change    float64                `json:"change"`
	Sparkline []float64              `json:"sparkline"`
	Action    string                 `json:"action"`
	BuyScore  float64                `json:"buy_score"`
	SellScore float64                `json:"sell_score"`
	Scores    map[string]float64     `json:"scores,omitempty"`
	Reason    string                 `json:"reason,omitempty"`
	Indicator *signal.IndicatorSet   `json:"indicators,omitempty"`
	Orderbook *signal.OrderbookScore `json:"orderbook,omitempty"`
	Blocked   string                 `json:"blocked,omitempty"`
}

// StatsView aggregates realized results.
type StatsView struct {
	TodayPnl      float64 `json:"today_pnl"`
	TodayTrades   int     `json:"today_trades"`
	TodayWins     int     `json:"today_wins"`
	TodayLosses   int     `json:"today_losses"`
	TodayWinRate  float64 `json:"today_win_rate"`
	TodayBestPct  float64 `json:"today_best_pct"`
	TodayWorstPct float64 `json:"today_worst_pct"`
	TotalPnl      float64 `json:"total_pnl"`
	TotalTrades   int     `json:"total_trades"`
	WinRate       float64 `json:"win_rate"`
	Realized      float64 `json:"realized"`
	Unrealized    float64 `json:"unrealized"`
}

// ComboView pairs the learned combo stats with the score floor a buy
// currently has to clear.
type ComboView struct {
	Stats       map[string]signal.ComboStats `json:"stats"`
	MinBuyScore float64                      `json:"min_buy_score"`
}

// Status is the full dashboard snapshot: an immutable copy built under
// the state lock, safe to serialize without further coordination.
type Status struct {
	Running           bool                  `json:"running"`
	PaperMode         bool                  `json:"paper_mode"`
	ScanCount         int64                 `json:"scan_count"`
	PositionCount     int                   `json:"position_count"`
	MaxPositions      int                   `json:"max_positions"`
	DailyPnl          float64               `json:"daily_pnl"`
	Positions         []PositionView        `json:"positions"`
	Symbols           []string              `json:"symbols"`
	SymbolData        []SymbolData          `json:"symbol_data"`
	Stats             StatsView             `json:"stats"`
	TodayTrades       int                   `json:"today_trades"`
	RecentTrades      []ledger.Entry        `json:"recent_trades"`
	PnlHistory        []ledger.PnlSample    `json:"pnl_history"`
	Balance           float64               `json:"balance"`
	BalanceFree       float64               `json:"balance_free"`
	Regime            string                `json:"regime"`
	Drawdown          float64               `json:"drawdown"`
	Sentiment         market.Snapshot       `json:"sentiment"`
	Kimchi            market.KimchiState    `json:"kimchi"`
	BTCDominance      market.DominanceState `json:"btc_dominance"`
	MarketMode        market.ModeProfile    `json:"market_mode"`
	AdaptiveFilter    position.FilterState  `json:"adaptive_filter"`
	ConsecutiveLosses int                   `json:"consecutive_losses"`
	BTCLeader         market.LeaderState    `json:"btc_leader"`
	Combo             ComboView             `json:"combo"`
	LossPatterns      []signal.LossRule     `json:"loss_patterns"`
	Learning          *LearnStatus          `json:"learning,omitempty"`
	Backtest          *backtest.Result      `json:"backtest,omitempty"`
	Blacklist         []string              `json:"blacklist"`
	BlacklistMode     string                `json:"blacklist_mode"`
	Timestamp         int64                 `json:"timestamp"`
}

// LearnStatus is the dashboard view of the last learning pass.
type LearnStatus struct {
	Running    bool    `json:"running"`
	Pairs      int     `json:"pairs"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
	RanAt      int64   `json:"ran_at,omitempty"`
}

// Status builds the snapshot the dashboard and chat commands serve.
func (b *Bot) Status() Status {
	b.stateMu.RLock()
	scanCount := b.scanCount
	symbols := append([]string(nil), b.symbols...)
	mode := b.mode
	filter := b.filter
	bal := b.balance
	regime := b.regime
	lastBT := b.lastBacktest
	buyThreshold := b.strat.BuyThreshold
	signals := make(map[string]*signal.Signal, len(b.lastSignals))
	for k, v := range b.lastSignals {
		signals[k] = v
	}
	candles := make(map[string][]float64, len(b.lastCandles))
	lastPrice := make(map[string]float64, len(b.lastCandles))
	change := make(map[string]float64, len(b.lastCandles))
	for sym, cs := range b.lastCandles {
		n := len(cs)
		spark := make([]float64, 0, 30)
		for i := max(0, n-30); i < n; i++ {
			spark = append(spark, cs[i].Close)
		}
		candles[sym] = spark
		if n > 0 {
			lastPrice[sym] = cs[n-1].Close
			if n > 12 && cs[n-13].Close > 0 {
				change[sym] = (cs[n-1].Close - cs[n-13].Close) / cs[n-13].Close * 100
			}
		}
	}
	b.stateMu.RUnlock()

	now := time.Now()
	day := b.book.Day()
	totalPnl, totalSells, totalWins := b.book.Totals()

	st := Status{
		Running:           b.Running(),
		PaperMode:         b.paperMode,
		ScanCount:         scanCount,
		PositionCount:     b.book.Count(),
		MaxPositions:      b.governor.DynamicMaxPositions(false),
		DailyPnl:          day.PnlKRW,
		Symbols:           symbols,
		Balance:           bal.Total,
		BalanceFree:       bal.Free,
		Regime:            regime,
		Sentiment:         b.providers.CachedSentiment(),
		Kimchi:            b.providers.CachedKimchi(),
		BTCDominance:      b.providers.CachedDominance(),
		MarketMode:        mode,
		AdaptiveFilter:    filter,
		ConsecutiveLosses: b.book.ConsecutiveLosses(),
		BTCLeader:         b.providers.Leader(),
		Combo: ComboView{
			Stats:       b.comp.Combos().Snapshot(),
			MinBuyScore: buyThreshold + filter.ScoreBump,
		},
		LossPatterns:  b.comp.Losses().Rules(),
		Backtest:      lastBT,
		Blacklist:     b.led.Blacklist().Symbols(),
		BlacklistMode: b.led.Blacklist().Mode(),
		Timestamp:     now.UnixMilli(),
	}
	st.TodayTrades = day.Sells
	if st.RecentTrades = b.RecentTrades(10); st.RecentTrades == nil {
		st.RecentTrades = []ledger.Entry{}
	}
	if st.PnlHistory = b.led.Pnl().Bucketed("1h"); st.PnlHistory == nil {
		st.PnlHistory = []ledger.PnlSample{}
	}

	var unrealized float64
	for _, p := range b.book.Snapshot() {
		price := lastPrice[p.Symbol]
		if price <= 0 {
			price = p.EntryPrice
		}
		pv := PositionView{
			Position:     p,
			CurrentPrice: price,
			PnlPct:       p.PnlPct(price),
			PnlKRW:       (price - p.EntryPrice) * p.Quantity,
			HoldMinutes:  int(p.HoldDuration(now).Minutes()),
			Protected:    b.book.IsProtected(p.Symbol),
		}
		unrealized += pv.PnlKRW
		st.Positions = append(st.Positions, pv)
	}

	for _, sym := range symbols {
		sd := SymbolData{
			Symbol:    sym,
			Price:     lastPrice[sym],
			Change:    change[sym],
			Sparkline: candles[sym],
			Action:    signal.ActionHold,
		}
		if sig := signals[sym]; sig != nil {
			sd.Action = sig.Action
			sd.BuyScore = sig.BuyScore
			sd.SellScore = sig.SellScore
			sd.Scores = sig.Scores
			sd.Reason = sig.ReasonText
			sd.Indicator = sig.Indicators
			sd.Orderbook = sig.Orderbook
			sd.Blocked = sig.Blocked
		}
		st.SymbolData = append(st.SymbolData, sd)
	}

	st.Stats = StatsView{
		TodayPnl:      day.PnlKRW,
		TodayTrades:   day.Sells,
		TodayWins:     day.Wins,
		TodayLosses:   day.Losses,
		TodayWinRate:  day.WinRate(),
		TodayBestPct:  day.BestPct,
		TodayWorstPct: day.WorstPct,
		TotalPnl:      totalPnl,
		TotalTrades:   totalSells,
		Realized:      day.PnlKRW,
		Unrealized:    unrealized,
	}
	if totalSells > 0 {
		st.Stats.WinRate = float64(totalWins) / float64(totalSells) * 100
	}
	if init := b.book.InitialBalance(); init > 0 && day.PnlKRW < 0 {
		st.Drawdown = -day.PnlKRW / init * 100
	}

	b.learnMu.Lock()
	if b.learning {
		st.Learning = &LearnStatus{Running: true}
	} else if b.lastLearn != nil {
		st.Learning = &LearnStatus{
			Pairs:      b.lastLearn.Pairs,
			Confidence: b.lastLearn.Confidence,
			Reason:     b.lastLearn.Reason,
			RanAt:      b.lastLearn.RanAt,
		}
	}
	b.learnMu.Unlock()

	return st
}

// ErrLearningBusy means a learning pass is already in flight.
var ErrLearningBusy = errors.New("learning already running")

// RunLearning executes one offline learning pass over the full journal
// and hot-applies the result when confidence clears the gate.
func (b *Bot) RunLearning() (*learn.Report, error) {
	b.learnMu.Lock()
	if b.learning {
		b.learnMu.Unlock()
		return nil, ErrLearningBusy
	}
	b.learning = true
	b.learnMu.Unlock()

	defer func() {
		b.learnMu.Lock()
		b.learning = false
		b.learnMu.Unlock()
	}()

	b.bus.PublishLearningStatus("loading", 0.1, "reading journal")
	entries, err := b.led.Journal().ReadAll()
	if err != nil {
		b.bus.PublishLearningStatus("failed", 1, err.Error())
		return nil, err
	}

	current := b.strategy().LearnableDefaults()
	b.bus.PublishLearningStatus("analyzing", 0.4, "matching pairs")
	rep := b.learner.Run(entries, current)

	b.learnMu.Lock()
	b.lastLearn = &rep
	b.learnMu.Unlock()

	if rep.Reason == "data insufficient" {
		b.bus.PublishLearningStatus("done", 1, rep.Reason)
		return &rep, nil
	}

	b.led.SaveLearned(rep.Learned)
	b.led.SaveLossRules(rep.LossRules)
	b.comp.Losses().Replace(rep.LossRules)

	if rep.Confidence >= 0.5 {
		b.setStrategy(b.cfg.Strategy.ApplyLearned(rep.Learned.Params))
		b.led.Blacklist().MergeLearned(rep.Learned.Blacklist)
		b.led.SaveBlacklist()
		b.log.Info().Float64("confidence", rep.Confidence).Msg("learned parameters hot-applied")
	} else {
		b.log.Info().Float64("confidence", rep.Confidence).Msg("learned parameters saved, below apply gate")
	}

	b.bus.PublishLearningStatus("done", 1, "")
	return &rep, nil
}

// NoteBacktest records the latest backtest summary so the snapshot can
// carry it.
func (b *Bot) NoteBacktest(res *backtest.Result) {
	b.stateMu.Lock()
	b.lastBacktest = res
	b.stateMu.Unlock()
}

// RecentTrades returns the last n journal rows, newest first.
func (b *Bot) RecentTrades(n int) []ledger.Entry {
	rows, err := b.led.Journal().Tail(n)
	if err != nil {
		b.log.Warn().Err(err).Msg("journal tail failed")
		return nil
	}
	return rows
}

// SellSymbol market-sells one held position on operator request.
func (b *Bot) SellSymbol(ctx context.Context, symbol string) error {
	pos := b.book.Get(symbol)
	if pos == nil {
		return errors.New("no open position for " + symbol)
	}
	if b.book.IsProtected(symbol) {
		return errors.New(symbol + " is protected")
	}
	price := pos.EntryPrice
	if t, err := b.ex.GetTicker(ctx, symbol); err == nil {
		price = t.Price
	}
	b.executeExit(ctx, pos, price, &position.ExitDecision{
		Kind:   position.ExitSignal,
		Reason: "manual sell request",
		Force:  true,
		PnlPct: pos.PnlPct(price),
	})
	return nil
}
