// Package notify pushes trade alerts to Telegram and answers chat
// commands from the tenant's operator. A tenant without a bot token
// simply runs without a notifier.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/rmsfid11-commits/trading-bot-sub000/internal/backtest"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/bot"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/events"
)

const backtestTimeout = 10 * time.Minute

// Options wires one tenant's notifier.
type Options struct {
	Token    string
	ChatID   int64
	Bot      *bot.Bot
	Backtest *backtest.Runner
	Bus      *events.Bus
	Logger   zerolog.Logger
}

// Telegram is a per-tenant Telegram notifier plus command handler.
type Telegram struct {
	api    *tgbotapi.BotAPI
	chatID int64
	bot    *bot.Bot
	bt     *backtest.Runner
	log    zerolog.Logger

	stopCh chan struct{}
}

// New connects to the Telegram API and subscribes to trade events.
// A missing token or chat id disables the notifier: (nil, nil).
func New(opts Options) (*Telegram, error) {
	if opts.Token == "" || opts.ChatID == 0 {
		return nil, nil
	}

	api, err := tgbotapi.NewBotAPI(opts.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram connect: %w", err)
	}

	t := &Telegram{
		api:    api,
		chatID: opts.ChatID,
		bot:    opts.Bot,
		bt:     opts.Backtest,
		log:    opts.Logger.With().Str("component", "notify").Logger(),
		stopCh: make(chan struct{}),
	}
	t.log.Info().Str("username", api.Self.UserName).Msg("telegram connected")

	if opts.Bus != nil {
		opts.Bus.Subscribe(events.EventPositionOpened, t.onOpened)
		opts.Bus.Subscribe(events.EventPositionClosed, t.onClosed)
		opts.Bus.Subscribe(events.EventDCAFilled, t.onDCA)
		opts.Bus.Subscribe(events.EventError, t.onError)
	}
	return t, nil
}

// Start begins polling for chat commands.
func (t *Telegram) Start() {
	go t.poll()
	t.send("🟢 봇 시작됨. /help 로 명령을 확인하세요.")
}

// Stop halts the update loop.
func (t *Telegram) Stop() {
	close(t.stopCh)
	t.api.StopReceivingUpdates()
	t.send("🔴 봇 종료됨.")
}

func (t *Telegram) poll() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := t.api.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			// Only the configured operator chat may drive the bot.
			if update.Message.Chat.ID != t.chatID {
				continue
			}
			go t.handleCommand(update.Message)
		case <-t.stopCh:
			return
		}
	}
}

func (t *Telegram) handleCommand(msg *tgbotapi.Message) {
	switch msg.Command() {
	case "status":
		t.cmdStatus()
	case "positions":
		t.cmdPositions()
	case "balance":
		t.cmdBalance()
	case "trades":
		t.cmdTrades()
	case "learn":
		t.cmdLearn()
	case "backtest":
		t.cmdBacktest()
	case "sell":
		t.cmdSell(msg.CommandArguments())
	case "help", "start":
		t.cmdHelp()
	default:
		t.send("❓ 알 수 없는 명령입니다. /help")
	}
}

// Event-driven alerts.

func (t *Telegram) onOpened(ev events.Event) {
	t.send(fmt.Sprintf("📈 *매수* %s\n가격: %s원\n금액: %s원",
		str(ev.Data["symbol"]), krw(num(ev.Data["price"])), krw(num(ev.Data["amount"]))))
}

func (t *Telegram) onClosed(ev events.Event) {
	pnl := num(ev.Data["pnl_krw"])
	emoji := "✅"
	if pnl < 0 {
		emoji = "❌"
	}
	t.send(fmt.Sprintf("%s *매도* %s\nP&L: %+.2f%% (%s원)\n사유: %s",
		emoji, str(ev.Data["symbol"]), num(ev.Data["pnl_pct"]), krw(pnl), str(ev.Data["reason"])))
}

func (t *Telegram) onDCA(ev events.Event) {
	t.send(fmt.Sprintf("➕ *추가매수* %s (%.0f회차)\n평단: %s원",
		str(ev.Data["symbol"]), num(ev.Data["round"]), krw(num(ev.Data["entry"]))))
}

func (t *Telegram) onError(ev events.Event) {
	t.send(fmt.Sprintf("⚠️ *오류* [%s]\n%s", str(ev.Data["source"]), str(ev.Data["message"])))
}

// Commands.

func (t *Telegram) cmdStatus() {
	st := t.bot.Status()
	running := "🟢 실행 중"
	if !st.Running {
		running = "🔴 정지"
	}
	mode := "실거래"
	if st.PaperMode {
		mode = "모의투자"
	}
	t.send(fmt.Sprintf(`📊 *봇 상태*

상태: %s (%s)
스캔: %d회
포지션: %d/%d
오늘 P&L: %s원
승률: %.1f%% (오늘 %d건)
시장: %s / %s
연속 손실: %d`,
		running, mode,
		st.ScanCount,
		st.PositionCount, st.MaxPositions,
		krw(st.DailyPnl),
		st.Stats.TodayWinRate, st.Stats.TodayTrades,
		st.Regime, st.MarketMode.Mode,
		st.ConsecutiveLosses))
}

func (t *Telegram) cmdPositions() {
	st := t.bot.Status()
	if len(st.Positions) == 0 {
		t.send("보유 포지션이 없습니다.")
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "💼 *보유 포지션* (%d)\n", len(st.Positions))
	for _, p := range st.Positions {
		emoji := "🟢"
		if p.PnlPct < 0 {
			emoji = "🔴"
		}
		tag := ""
		if p.Protected {
			tag = " 🔒"
		}
		fmt.Fprintf(&sb, "\n%s *%s*%s\n├ 진입 %s → 현재 %s\n├ %+.2f%% (%s원)\n└ 보유 %d분",
			emoji, p.Symbol, tag, krw(p.EntryPrice), krw(p.CurrentPrice),
			p.PnlPct, krw(p.PnlKRW), p.HoldMinutes)
	}
	t.send(sb.String())
}

func (t *Telegram) cmdBalance() {
	st := t.bot.Status()
	t.send(fmt.Sprintf(`💰 *잔고*

총액: %s원
주문가능: %s원
미실현: %s원
오늘 실현: %s원`,
		krw(st.Balance), krw(st.BalanceFree),
		krw(st.Stats.Unrealized), krw(st.Stats.Realized)))
}

func (t *Telegram) cmdTrades() {
	rows := t.bot.RecentTrades(10)
	if len(rows) == 0 {
		t.send("거래 내역이 없습니다.")
		return
	}

	var sb strings.Builder
	sb.WriteString("🧾 *최근 거래*\n")
	for _, e := range rows {
		line := fmt.Sprintf("\n%s %s %s @ %s",
			e.Time().Format("01/02 15:04"), e.Action, e.Symbol, krw(e.Price))
		if e.PnlPct != nil {
			line += fmt.Sprintf(" (%+.2f%%)", *e.PnlPct)
		}
		sb.WriteString(line)
	}
	t.send(sb.String())
}

func (t *Telegram) cmdLearn() {
	t.send("🧠 학습을 시작합니다…")
	go func() {
		rep, err := t.bot.RunLearning()
		if err != nil {
			t.send("❌ 학습 실패: " + err.Error())
			return
		}
		if rep.Reason != "" {
			t.send(fmt.Sprintf("🧠 학습 종료: %s (페어 %d개)", rep.Reason, rep.Pairs))
			return
		}
		applied := "저장만 됨 (신뢰도 부족)"
		if rep.Confidence >= 0.5 {
			applied = "즉시 적용됨"
		}
		t.send(fmt.Sprintf("🧠 학습 완료\n페어: %d개\n신뢰도: %.2f\n%s",
			rep.Pairs, rep.Confidence, applied))
	}()
}

func (t *Telegram) cmdBacktest() {
	if t.bt == nil {
		t.send("백테스트가 비활성화되어 있습니다.")
		return
	}
	t.send("⏳ 백테스트를 시작합니다…")
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), backtestTimeout)
		defer cancel()
		res, err := t.bt.Run(ctx, backtest.Options{
			Symbols:  t.bot.WatchedSymbols(),
			Strategy: t.bot.EffectiveStrategy(),
		})
		if err != nil {
			t.send("❌ 백테스트 실패: " + err.Error())
			return
		}
		t.bot.NoteBacktest(res)
		t.send(fmt.Sprintf(`📉 *백테스트 결과*

거래: %d건 (승 %d / 패 %d)
승률: %.1f%%
수익률: %+.2f%%
P&L: %s원
최대 낙폭: %.2f%%`,
			res.TotalTrades, res.Wins, res.Losses,
			res.WinRate, res.PnlPct, krw(res.PnlKRW), res.MaxDrawdown))
	}()
}

func (t *Telegram) cmdSell(args string) {
	base := strings.ToUpper(strings.TrimSpace(args))
	if base == "" {
		t.send("사용법: /sell BTC")
		return
	}
	symbol := base
	if !strings.Contains(symbol, "-") {
		symbol = "KRW-" + base
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := t.bot.SellSymbol(ctx, symbol); err != nil {
		t.send("❌ " + err.Error())
		return
	}
	t.send("💸 매도 요청됨: " + symbol)
}

func (t *Telegram) cmdHelp() {
	t.send(`📚 *명령어*

/status - 봇 상태
/positions - 보유 포지션
/balance - 잔고
/trades - 최근 거래
/learn - 학습 실행
/backtest - 백테스트 실행
/sell BTC - 수동 매도
/help - 도움말`)
}

func (t *Telegram) send(text string) {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true
	if _, err := t.api.Send(msg); err != nil {
		t.log.Warn().Err(err).Msg("telegram send failed")
	}
}

func krw(v float64) string {
	neg := v < 0
	if neg {
		v = -v
	}
	s := fmt.Sprintf("%.0f", v)
	var sb strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			sb.WriteByte(',')
		}
		sb.WriteRune(r)
	}
	if neg {
		return "-" + sb.String()
	}
	return sb.String()
}

func num(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}
