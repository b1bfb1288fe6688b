// Package backtest replays historical candles through the live signal
// compositor and position state machine. It shares the exact decision
// code the trading loop runs, so a backtest disagreement points at data
// rather than a strategy fork.
package backtest

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/rmsfid11-commits/trading-bot-sub000/config"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/events"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/position"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/signal"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/upbit"
)

const (
	// Bars of history before the first tradable bar, so every
	// indicator has a full warm-up window.
	warmupBars = 60

	defaultCandles  = 600
	defaultInitial  = 1_000_000
	positionFrac    = 0.10
	backtestFeeRate = upbit.PaperFeeRate
)

// Options selects what to replay.
type Options struct {
	Symbols    []string
	Candles    int     // 5m bars per symbol
	InitialKRW float64 // simulated account size
	Strategy   config.Strategy
}

// Trade is one simulated round trip.
type Trade struct {
	Symbol     string  `json:"symbol"`
	EntryTs    int64   `json:"entry_ts"`
	ExitTs     int64   `json:"exit_ts"`
	EntryPrice float64 `json:"entry_price"`
	ExitPrice  float64 `json:"exit_price"`
	PnlPct     float64 `json:"pnl_pct"`
	PnlKRW     float64 `json:"pnl_krw"`
	ExitKind   string  `json:"exit_kind"`
	Reason     string  `json:"reason"`
}

// SymbolResult aggregates one symbol's replay.
type SymbolResult struct {
	Symbol  string  `json:"symbol"`
	Trades  int     `json:"trades"`
	Wins    int     `json:"wins"`
	PnlPct  float64 `json:"pnl_pct"`
	WinRate float64 `json:"win_rate"`
}

// Result is the full backtest summary.
type Result struct {
	Symbols     []string                `json:"symbols"`
	Trades      []Trade                 `json:"trades"`
	TotalTrades int                     `json:"total_trades"`
	Wins        int                     `json:"wins"`
	Losses      int                     `json:"losses"`
	WinRate     float64                 `json:"win_rate"`
	PnlPct      float64                 `json:"pnl_pct"`
	PnlKRW      float64                 `json:"pnl_krw"`
	MaxDrawdown float64                 `json:"max_drawdown"`
	PerSymbol   map[string]SymbolResult `json:"per_symbol"`
	StartedAt   int64                   `json:"started_at"`
	FinishedAt  int64                   `json:"finished_at"`
}

// Runner fetches history and replays it.
type Runner struct {
	quotes upbit.Exchange
	comp   *signal.Compositor
	bus    *events.Bus
	log    zerolog.Logger

	// decide is the signal seam; tests stub it.
	decide func(in signal.Inputs, p signal.Params) *signal.Signal
}

// New builds a runner over the given market data source and the live
// compositor, so learned combo adjustments apply in replay too.
func New(quotes upbit.Exchange, comp *signal.Compositor, bus *events.Bus, log zerolog.Logger) *Runner {
	return &Runner{
		quotes: quotes,
		comp:   comp,
		bus:    bus,
		log:    log.With().Str("component", "backtest").Logger(),
		decide: comp.Evaluate,
	}
}

// Run replays every requested symbol and publishes progress frames.
func (r *Runner) Run(ctx context.Context, opts Options) (*Result, error) {
	if len(opts.Symbols) == 0 {
		return nil, fmt.Errorf("no symbols to backtest")
	}
	if opts.Candles <= 0 {
		opts.Candles = defaultCandles
	}
	if opts.InitialKRW <= 0 {
		opts.InitialKRW = defaultInitial
	}

	res := &Result{
		Symbols:   opts.Symbols,
		PerSymbol: make(map[string]SymbolResult, len(opts.Symbols)),
		StartedAt: time.Now().UnixMilli(),
	}

	for i, symbol := range opts.Symbols {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r.publish("running", float64(i)/float64(len(opts.Symbols)), nil)

		candles, err := r.quotes.GetCandles(ctx, symbol, upbit.Timeframe5m, opts.Candles)
		if err != nil || len(candles) <= warmupBars {
			r.log.Warn().Err(err).Str("symbol", symbol).Msg("history unavailable, symbol skipped")
			continue
		}
		trades := r.replaySymbol(symbol, candles, opts)
		res.Trades = append(res.Trades, trades...)

		sr := SymbolResult{Symbol: symbol, Trades: len(trades)}
		for _, t := range trades {
			sr.PnlPct += t.PnlPct
			if t.PnlPct > 0 {
				sr.Wins++
			}
		}
		if sr.Trades > 0 {
			sr.WinRate = float64(sr.Wins) / float64(sr.Trades) * 100
		}
		res.PerSymbol[symbol] = sr
	}

	r.finish(res, opts.InitialKRW)
	r.publish("done", 1, res)
	r.log.Info().
		Int("trades", res.TotalTrades).
		Float64("win_rate", res.WinRate).
		Float64("pnl_pct", res.PnlPct).
		Msg("backtest complete")
	return res, nil
}

// replaySymbol walks one candle series bar by bar: the compositor
// decides entries, the position state machine decides exits, at the
// bar's close price with the bar's timestamp as the clock.
func (r *Runner) replaySymbol(symbol string, candles []upbit.Candle, opts Options) []Trade {
	var trades []Trade
	var pos *position.Position

	params := signal.Params{
		RSIOversold:     opts.Strategy.RSIOversold,
		RSIOverbought:   opts.Strategy.RSIOverbought,
		VolumeThreshold: opts.Strategy.VolumeThreshold,
		BuyThreshold:    opts.Strategy.BuyThreshold,
		SellThreshold:   opts.Strategy.SellThreshold,
	}
	cp := position.CheckParamsFrom(opts.Strategy)

	for i := warmupBars; i < len(candles); i++ {
		bar := candles[i]
		now := bar.Time()
		price := bar.Close

		if pos != nil {
			if d := position.Check(pos, price, now, cp); d != nil {
				if d.Kind == position.ExitPartial {
					// Partial fills fold into the running record; the
					// summary books them at the eventual full exit.
					pos.Quantity *= 1 - d.Fraction
					pos.CostAmount = pos.EntryPrice * pos.Quantity
					pos.PartialSells++
					if sl := pos.EntryPrice * 0.998; sl > pos.StopLoss {
						pos.StopLoss = sl
					}
					continue
				}
				trades = append(trades, closeTrade(pos, price, now, d.Kind, d.Reason))
				pos = nil
			}
			continue
		}

		window := candles[:i+1]
		sig := r.decide(signal.Inputs{
			Symbol:    symbol,
			Price:     price,
			Candles5m: window,
			Now:       now,
		}, params)
		if sig.Action != signal.ActionBuy {
			continue
		}

		amount := opts.InitialKRW * positionFrac
		qty := amount * (1 - backtestFeeRate) / price
		pos = &position.Position{
			Symbol:       symbol,
			EntryPrice:   price,
			Quantity:     qty,
			CostAmount:   amount,
			EntryTs:      now.UnixMilli(),
			StopLoss:     price * (1 - opts.Strategy.StopLossPct/100),
			TakeProfit:   price * (1 + opts.Strategy.TakeProfitPct/100),
			HighestPrice: price,
			MaxHoldUntil: now.Add(time.Duration(opts.Strategy.MaxHoldHours * float64(time.Hour))).UnixMilli(),
			BuyScore:     sig.BuyScore,
			BuyReasons:   uint8(sig.Reasons),
			BuyReason:    sig.ReasonText,
		}
	}

	if pos != nil {
		last := candles[len(candles)-1]
		trades = append(trades, closeTrade(pos, last.Close, last.Time(), "backtest_end", "history exhausted"))
	}
	return trades
}

func closeTrade(pos *position.Position, price float64, now time.Time, kind, reason string) Trade {
	pnlPct := pos.PnlPct(price)
	gross := (price - pos.EntryPrice) * pos.Quantity
	fees := (pos.EntryPrice + price) * pos.Quantity * backtestFeeRate
	return Trade{
		Symbol:     pos.Symbol,
		EntryTs:    pos.EntryTs,
		ExitTs:     now.UnixMilli(),
		EntryPrice: pos.EntryPrice,
		ExitPrice:  price,
		PnlPct:     pnlPct,
		PnlKRW:     gross - fees,
		ExitKind:   kind,
		Reason:     reason,
	}
}

// finish folds per-trade results into the summary metrics.
func (r *Runner) finish(res *Result, initial float64) {
	res.FinishedAt = time.Now().UnixMilli()
	res.TotalTrades = len(res.Trades)

	equity := initial
	peak := initial
	for _, t := range res.Trades {
		if t.PnlPct > 0 {
			res.Wins++
		} else {
			res.Losses++
		}
		res.PnlKRW += t.PnlKRW
		equity += t.PnlKRW
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			dd := (peak - equity) / peak * 100
			res.MaxDrawdown = math.Max(res.MaxDrawdown, dd)
		}
	}
	if res.TotalTrades > 0 {
		res.WinRate = float64(res.Wins) / float64(res.TotalTrades) * 100
	}
	if initial > 0 {
		res.PnlPct = res.PnlKRW / initial * 100
	}
}

func (r *Runner) publish(stage string, progress float64, result interface{}) {
	if r.bus == nil {
		return
	}
	r.bus.PublishBacktestStatus(stage, progress, result)
}
