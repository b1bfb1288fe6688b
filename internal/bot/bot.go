// Package bot runs one tenant's trading loop: the periodic scan that
// pulls candles, scores signals, advances open positions through the
// exit state machine and places orders through the executor. One Bot
// per tenant; tenants run in parallel, a tenant never has more than
// one in-flight scan.
package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rmsfid11-commits/trading-bot-sub000/config"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/backtest"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/events"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/indicators"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/ledger"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/learn"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/market"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/metrics"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/position"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/signal"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/upbit"
)

var (
	ErrAlreadyRunning = errors.New("bot already running")
	ErrNotRunning     = errors.New("bot not running")
)

const (
	symbolRefreshEvery = time.Hour
	syncEveryScans     = 5
	statusLogEvery     = 10
	candleCount        = 200
	dustThresholdKRW   = 5000.0
)

// Options wires one tenant's bot.
type Options struct {
	TenantID  string
	Config    *config.Config
	Exchange  upbit.Exchange
	Providers *market.Providers
	Ledger    *ledger.Ledger
	Bus       *events.Bus
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
	Archive   ArchiveSink
	PaperMode bool
}

// Bot is one tenant's trading loop and its state.
type Bot struct {
	id        string
	cfg       *config.Config
	ex        upbit.Exchange
	providers *market.Providers
	comp      *signal.Compositor
	book      *position.Book
	governor  *position.Governor
	adaptive  *position.AdaptiveFilter
	led       *ledger.Ledger
	exec      *Executor
	learner   *learn.Learner
	bus       *events.Bus
	log       zerolog.Logger
	met       *metrics.Metrics
	paperMode bool

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	// Scan-loop state. Written by the loop goroutine, read by the
	// dashboard through Status.
	stateMu           sync.RWMutex
	strat             config.Strategy
	scanCount         int64
	symbols           []string
	lastSymbolRefresh time.Time
	lastSignals       map[string]*signal.Signal
	lastCandles       map[string][]upbit.Candle
	mode              market.ModeProfile
	filter            position.FilterState
	balance           upbit.Balance
	regime            string
	startedAt         time.Time
	lastBacktest      *backtest.Result

	learnMu   sync.Mutex
	learning  bool
	lastLearn *learn.Report
}

// New builds the bot and restores persisted state: the positions
// snapshot, combo stats, loss rules, blacklist and the learned
// parameter overlay.
func New(opts Options) *Bot {
	log := opts.Logger.With().Str("component", "bot").Logger()

	combos := signal.NewComboTracker()
	losses := signal.NewLossPatterns()
	opts.Ledger.LoadCombos(combos)
	opts.Ledger.LoadLossRules(losses)

	book := position.NewBook()
	opts.Ledger.LoadPositions(book)
	if protected, ok := opts.Ledger.LoadProtected(); ok {
		book.RestoreProtected(protected)
	}

	strat := opts.Config.Strategy
	if lp := opts.Ledger.LoadLearned(); lp != nil && lp.Confidence >= 0.5 {
		strat = strat.ApplyLearned(lp.Params)
		opts.Ledger.Blacklist().MergeLearned(lp.Blacklist)
		log.Info().Float64("confidence", lp.Confidence).Msg("learned parameters applied")
	}

	b := &Bot{
		id:        opts.TenantID,
		cfg:       opts.Config,
		ex:        opts.Exchange,
		providers: opts.Providers,
		comp:      signal.NewCompositor(combos, losses),
		book:      book,
		governor:  position.NewGovernor(opts.Config.Risk, book),
		adaptive:  position.NewAdaptiveFilter(time.Duration(opts.Config.Risk.LossCooldownMin) * time.Minute),
		led:       opts.Ledger,
		learner:   learn.New(log, opts.Config.Strategy),
		bus:       opts.Bus,
		log:       log,
		met:       opts.Metrics,
		paperMode: opts.PaperMode,

		strat:       strat,
		lastSignals: make(map[string]*signal.Signal),
		lastCandles: make(map[string][]upbit.Candle),
		mode:        market.Profile(market.ModeScalping),
	}
	b.exec = NewExecutor(opts.TenantID, opts.Exchange, opts.Ledger.Journal(), opts.Bus, opts.Metrics, opts.Archive, opts.Logger)
	return b
}

// ID returns the tenant id.
func (b *Bot) ID() string { return b.id }

// WatchedSymbols returns a copy of the current watch set.
func (b *Bot) WatchedSymbols() []string { return b.watchedSymbols() }

// CandlesFor returns the cached 5m candles from the last scan of the
// symbol, newest last.
func (b *Bot) CandlesFor(symbol string) []upbit.Candle {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	return append([]upbit.Candle(nil), b.lastCandles[symbol]...)
}

// EffectiveStrategy returns the strategy with any learned overlay
// applied.
func (b *Bot) EffectiveStrategy() config.Strategy { return b.strategy() }

// Compositor exposes the signal engine for the backtester.
func (b *Bot) Compositor() *signal.Compositor { return b.comp }

// Ledger exposes the tenant's persistence for the dashboard.
func (b *Bot) Ledger() *ledger.Ledger { return b.led }

// Running reports whether the loop is live.
func (b *Bot) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Start validates exchange connectivity, replays today's journal and
// launches the scan loop. First startup also snapshots the protected
// coins: whatever the exchange holds that the bot did not open.
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return ErrAlreadyRunning
	}
	b.running = true
	b.stopCh = make(chan struct{})
	b.mu.Unlock()

	if err := b.ex.Connect(ctx); err != nil {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
		return fmt.Errorf("exchange connect: %w", err)
	}

	if bal, err := b.ex.GetBalance(ctx); err == nil {
		b.book.SetInitialBalance(bal.Total)
		b.setBalance(*bal)
	}
	b.replayToday()
	b.firstBootProtect(ctx)
	b.refreshSymbols(ctx)

	b.stateMu.Lock()
	b.startedAt = time.Now()
	b.stateMu.Unlock()

	b.wg.Add(1)
	go b.runLoop()
	b.log.Info().Bool("paper", b.paperMode).Msg("trading loop started")
	return nil
}

// Stop signals the loop and waits for the in-flight scan to drain.
func (b *Bot) Stop() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return ErrNotRunning
	}
	b.running = false
	close(b.stopCh)
	b.mu.Unlock()

	b.wg.Wait()
	b.led.SavePositions(b.book)
	b.led.SaveCombos(b.comp.Combos())
	b.led.SavePnl()
	b.log.Info().Msg("trading loop stopped")
	return nil
}

// Shutdown stops the loop and best-effort liquidates every open
// position at market.
func (b *Bot) Shutdown(ctx context.Context) {
	if err := b.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
		b.log.Warn().Err(err).Msg("stop failed")
	}
	b.liquidateAll(ctx)
	b.led.SavePositions(b.book)
}

// replayToday rebuilds daily P&L and today stats from the journal so a
// restart mid-day keeps the risk limits honest. The journal wins over
// the positions snapshot for day stats.
func (b *Bot) replayToday() {
	now := time.Now()
	rep, err := b.led.Journal().ReplayDay(now)
	if err != nil {
		b.log.Warn().Err(err).Msg("journal replay failed")
		return
	}
	day := position.DayStats{
		PnlKRW:   rep.PnlKRW,
		Buys:     rep.Buys,
		Sells:    rep.Sells,
		Wins:     rep.Wins,
		Losses:   rep.Losses,
		BestPct:  rep.BestPct,
		WorstPct: rep.WorstPct,
	}
	b.book.Restore(b.book.Snapshot(), day, now.Format("2006-01-02"))
	if rep.Buys > 0 || rep.Sells > 0 {
		b.log.Info().Float64("daily_pnl", rep.PnlKRW).Int("sells", rep.Sells).Msg("today replayed from journal")
	}
}

// firstBootProtect records exchange holdings the bot did not open as
// protected, once, on the tenant's very first start.
func (b *Bot) firstBootProtect(ctx context.Context) {
	if _, exists := b.led.LoadProtected(); exists {
		return
	}
	holdings, err := b.ex.GetDetailedHoldings(ctx)
	if err != nil {
		b.log.Warn().Err(err).Msg("first-boot holdings fetch failed")
		b.led.SaveProtected([]string{})
		return
	}
	for base, h := range holdings {
		symbol := upbit.SymbolFor(b.cfg.Quote, base)
		if b.book.Has(symbol) {
			continue
		}
		if h.Quantity*h.AvgBuyPrice < dustThresholdKRW {
			continue
		}
		b.book.Protect(symbol)
		b.log.Info().Str("symbol", symbol).Msg("pre-existing holding protected")
	}
	b.led.SaveProtected(b.book.ProtectedList())
}

// runLoop is the scan ticker. It checks stopCh between scans and never
// interrupts one mid-flight.
func (b *Bot) runLoop() {
	defer b.wg.Done()

	interval := time.Duration(b.cfg.ScanIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	b.scanSafe()
	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.scanSafe()
		}
	}
}

// scanSafe guards the scan with a recover so one bad tick never kills
// the tenant.
func (b *Bot) scanSafe() {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Msg("scan panicked")
			b.bus.PublishError("bot", "scan panicked", fmt.Errorf("%v", r))
		}
	}()

	started := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(b.cfg.ScanIntervalSec)*time.Second)
	defer cancel()

	b.scan(ctx)
	b.met.ScanDone(b.id, time.Since(started).Seconds())
}

// scan is one full pass over the watched set.
func (b *Bot) scan(ctx context.Context) {
	b.stateMu.Lock()
	b.scanCount++
	count := b.scanCount
	lastRefresh := b.lastSymbolRefresh
	b.stateMu.Unlock()

	now := time.Now()
	if now.Sub(lastRefresh) > symbolRefreshEvery {
		b.refreshSymbols(ctx)
	}
	if count%syncEveryScans == 0 {
		b.syncPositions(ctx)
	}

	// Feed the BTC leader and read the market context once per scan.
	btcSymbol := upbit.SymbolFor(b.cfg.Quote, "BTC")
	if t, err := b.ex.GetTicker(ctx, btcSymbol); err == nil {
		b.providers.UpdateBTC(t.Price)
	}
	regime := b.btcRegime(ctx, btcSymbol)
	mode := b.providers.Mode(ctx, regime)
	sentiment := b.providers.Sentiment(ctx)
	filter := b.adaptive.Evaluate(b.book, now, sentiment.FearGreed)

	if bal, err := b.ex.GetBalance(ctx); err == nil {
		b.setBalance(*bal)
	}

	b.stateMu.Lock()
	b.mode = mode
	b.filter = filter
	b.regime = regime
	b.stateMu.Unlock()

	for _, symbol := range b.watchedSymbols() {
		b.scanSymbol(ctx, symbol, mode, filter, sentiment)
	}

	day := b.book.Day()
	b.led.Pnl().Add(now, day.PnlKRW)
	bal := b.getBalance()
	b.met.SetGauges(b.id, b.book.Count(), day.PnlKRW, bal.Total)

	if count%statusLogEvery == 0 {
		b.log.Info().
			Int64("scan", count).
			Int("positions", b.book.Count()).
			Float64("daily_pnl", day.PnlKRW).
			Str("mode", mode.Mode).
			Msg("scan status")
	}
	b.bus.Publish(events.Event{Type: events.EventStatus, Data: map[string]interface{}{
		"scan_count": count,
		"positions":  b.book.Count(),
		"daily_pnl":  day.PnlKRW,
		"mode":       mode.Mode,
	}})
}

// scanSymbol handles one symbol behind its own error boundary: a panic
// or failed fetch moves on to the next symbol.
func (b *Bot) scanSymbol(ctx context.Context, symbol string, mode market.ModeProfile, filter position.FilterState, sentiment market.Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Str("symbol", symbol).Msg("symbol scan panicked")
		}
	}()

	candles, err := b.ex.GetCandles(ctx, symbol, upbit.Timeframe5m, candleCount)
	if err != nil || len(candles) == 0 {
		if err != nil {
			b.log.Warn().Err(err).Str("symbol", symbol).Msg("candles unavailable")
		}
		return
	}
	b.stateMu.Lock()
	b.lastCandles[symbol] = candles
	b.stateMu.Unlock()

	rsi := -1.0
	if v, ok := indicators.RSI(candles, 14); ok {
		rsi = v
	}

	// Held position: exits and DCA run before any new signal.
	if pos := b.book.Get(symbol); pos != nil && !b.book.IsProtected(symbol) {
		ticker, err := b.ex.GetTicker(ctx, symbol)
		if err != nil || ticker == nil {
			b.log.Warn().Err(err).Str("symbol", symbol).Msg("ticker unavailable")
			return
		}
		if rsi >= 0 {
			pos.LastRSI = rsi
		}

		if d := position.Check(pos, ticker.Price, time.Now(), b.checkParams(mode)); d != nil {
			b.executeExit(ctx, pos, ticker.Price, d)
			return
		}
		if mode.DCAEnabled && position.CanDCA(pos, ticker.Price, rsi, time.Now(), position.DCAParamsFrom(b.strategy())) {
			b.executeDCA(ctx, pos, ticker.Price)
		}
		b.led.SavePositions(b.book)
	}

	sig := b.evaluate(ctx, symbol, candles, mode, filter, sentiment)
	b.stateMu.Lock()
	b.lastSignals[symbol] = sig
	b.stateMu.Unlock()

	switch sig.Action {
	case signal.ActionBuy:
		if !b.book.Has(symbol) {
			b.executeBuy(ctx, symbol, sig, mode, filter)
		}
	case signal.ActionSell:
		if pos := b.book.Get(symbol); pos != nil && !b.book.IsProtected(symbol) {
			price := lastClose(candles)
			if t, err := b.ex.GetTicker(ctx, symbol); err == nil {
				price = t.Price
			}
			b.executeExit(ctx, pos, price, &position.ExitDecision{
				Kind:   position.ExitSignal,
				Reason: "sell signal: " + sig.ReasonText,
				PnlPct: pos.PnlPct(price),
			})
		}
	}
}

// evaluate builds the compositor inputs for one symbol and scores it.
func (b *Bot) evaluate(ctx context.Context, symbol string, candles []upbit.Candle, mode market.ModeProfile, filter position.FilterState, sentiment market.Snapshot) *signal.Signal {
	in := signal.Inputs{
		Symbol:    symbol,
		Price:     lastClose(candles),
		Candles5m: candles,
		Now:       time.Now(),
		Sentiment: sentiment,
		Leader:    b.providers.Leader(),
		Funding:   b.providers.Funding(ctx),
		Kimchi:    b.providers.Kimchi(ctx),
		Whale:     b.providers.Whale(ctx, symbol),
		Mode:      mode,
	}
	if c1h, err := b.ex.GetCandles(ctx, symbol, upbit.Timeframe1h, 100); err == nil {
		in.Candles1h = c1h
	}
	if c4h, err := b.ex.GetCandles(ctx, symbol, upbit.Timeframe4h, 60); err == nil {
		in.Candles4h = c4h
	}
	if ob, err := b.ex.GetOrderbook(ctx, symbol); err == nil {
		in.Orderbook = ob
	}
	if m, ok := b.providers.SymbolSentiment(symbol); ok {
		in.SymbolSent = &m
	}
	return b.comp.Evaluate(in, b.signalParams(filter))
}

// signalParams lifts the effective strategy into compositor knobs.
func (b *Bot) signalParams(filter position.FilterState) signal.Params {
	s := b.strategy()
	return signal.Params{
		RSIOversold:     s.RSIOversold,
		RSIOverbought:   s.RSIOverbought,
		VolumeThreshold: s.VolumeThreshold,
		BuyThreshold:    s.BuyThreshold,
		SellThreshold:   s.SellThreshold,
		MinScoreBump:    filter.ScoreBump,
	}
}

// checkParams derives the tick exit parameters from strategy defaults
// and the active mode profile.
func (b *Bot) checkParams(mode market.ModeProfile) position.CheckParams {
	cp := position.CheckParamsFrom(b.strategy())
	if mode.TrailingDistPct > 0 {
		cp.TrailingDistancePct = mode.TrailingDistPct
	}
	return cp
}

// btcRegime classifies the market regime from BTC 5m candles.
func (b *Bot) btcRegime(ctx context.Context, btcSymbol string) string {
	candles, err := b.ex.GetCandles(ctx, btcSymbol, upbit.Timeframe5m, candleCount)
	if err != nil || len(candles) == 0 {
		return ""
	}
	if r := indicators.ClassifyRegime(candles); r != nil {
		return string(r.Label)
	}
	return ""
}

func (b *Bot) strategy() config.Strategy {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	return b.strat
}

func (b *Bot) setStrategy(s config.Strategy) {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	b.strat = s
}

func (b *Bot) watchedSymbols() []string {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	return append([]string(nil), b.symbols...)
}

func (b *Bot) setBalance(bal upbit.Balance) {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	b.balance = bal
}

func (b *Bot) getBalance() upbit.Balance {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	return b.balance
}

// liquidateAll market-sells every unprotected open position.
func (b *Bot) liquidateAll(ctx context.Context) {
	for _, symbol := range b.book.Symbols() {
		pos := b.book.Get(symbol)
		if pos == nil || b.book.IsProtected(symbol) {
			continue
		}
		price := pos.EntryPrice
		if t, err := b.ex.GetTicker(ctx, symbol); err == nil {
			price = t.Price
		}
		b.executeExit(ctx, pos, price, &position.ExitDecision{
			Kind:   position.ExitSignal,
			Reason: "shutdown liquidation",
			Force:  true,
			PnlPct: pos.PnlPct(price),
		})
	}
}

func lastClose(candles []upbit.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	return candles[len(candles)-1].Close
}
