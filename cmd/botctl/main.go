// botctl is the operator CLI: it talks to one running tenant dashboard
// over HTTP and renders the answers as tables.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

var addr string

func main() {
	root := &cobra.Command{
		Use:          "botctl",
		Short:        "operator CLI for a running trading bot tenant",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&addr, "addr", "http://localhost:3737", "tenant dashboard address")

	root.AddCommand(statusCmd(), positionsCmd(), tradesCmd(), learnCmd(), backtestCmd(), sellCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

type statusResp struct {
	Running       bool    `json:"running"`
	PaperMode     bool    `json:"paper_mode"`
	ScanCount     int64   `json:"scan_count"`
	PositionCount int     `json:"position_count"`
	MaxPositions  int     `json:"max_positions"`
	DailyPnl      float64 `json:"daily_pnl"`
	Balance       float64 `json:"balance"`
	BalanceFree   float64 `json:"balance_free"`
	Regime        string  `json:"regime"`
	Drawdown      float64 `json:"drawdown"`
	MarketMode    struct {
		Mode string `json:"mode"`
	} `json:"market_mode"`
	ConsecutiveLosses int `json:"consecutive_losses"`
	Stats             struct {
		TodayTrades  int     `json:"today_trades"`
		TodayWinRate float64 `json:"today_win_rate"`
		TotalPnl     float64 `json:"total_pnl"`
		TotalTrades  int     `json:"total_trades"`
		WinRate      float64 `json:"win_rate"`
		Unrealized   float64 `json:"unrealized"`
	} `json:"stats"`
	Positions []positionResp `json:"positions"`
}

type positionResp struct {
	Symbol       string  `json:"symbol"`
	EntryPrice   float64 `json:"entry_price"`
	Quantity     float64 `json:"quantity"`
	CurrentPrice float64 `json:"current_price"`
	PnlPct       float64 `json:"pnl_pct"`
	PnlKRW       float64 `json:"pnl_krw"`
	HoldMinutes  int     `json:"hold_minutes"`
	DCACount     int     `json:"dca_count"`
	Protected    bool    `json:"protected"`
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "show the bot status summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			var st statusResp
			if err := getJSON("/api/status", &st); err != nil {
				return err
			}

			running := "stopped"
			if st.Running {
				running = "running"
			}
			mode := "live"
			if st.PaperMode {
				mode = "paper"
			}

			t := newTable("BOT STATUS")
			t.AppendRows([]table.Row{
				{"State", fmt.Sprintf("%s (%s)", running, mode)},
				{"Scans", st.ScanCount},
				{"Positions", fmt.Sprintf("%d / %d", st.PositionCount, st.MaxPositions)},
				{"Balance", fmt.Sprintf("%s KRW (free %s)", krw(st.Balance), krw(st.BalanceFree))},
				{"Daily P&L", krw(st.DailyPnl) + " KRW"},
				{"Unrealized", krw(st.Stats.Unrealized) + " KRW"},
				{"Today", fmt.Sprintf("%d trades, %.1f%% win", st.Stats.TodayTrades, st.Stats.TodayWinRate)},
				{"All time", fmt.Sprintf("%d trades, %.1f%% win, %s KRW", st.Stats.TotalTrades, st.Stats.WinRate, krw(st.Stats.TotalPnl))},
				{"Regime", fmt.Sprintf("%s / %s", st.Regime, st.MarketMode.Mode)},
				{"Drawdown", fmt.Sprintf("%.2f%%", st.Drawdown)},
				{"Loss streak", st.ConsecutiveLosses},
			})
			t.Render()
			return nil
		},
	}
}

func positionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "positions",
		Short: "list open positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			var st statusResp
			if err := getJSON("/api/status", &st); err != nil {
				return err
			}
			if len(st.Positions) == 0 {
				fmt.Println("no open positions")
				return nil
			}

			t := newTable("OPEN POSITIONS")
			t.AppendHeader(table.Row{"Symbol", "Entry", "Current", "P&L %", "P&L KRW", "Hold", "DCA", ""})
			for _, p := range st.Positions {
				tag := ""
				if p.Protected {
					tag = "protected"
				}
				t.AppendRow(table.Row{
					p.Symbol,
					krw(p.EntryPrice),
					krw(p.CurrentPrice),
					fmt.Sprintf("%+.2f", p.PnlPct),
					krw(p.PnlKRW),
					fmt.Sprintf("%dm", p.HoldMinutes),
					p.DCACount,
					tag,
				})
			}
			t.SetColumnConfigs([]table.ColumnConfig{
				{Number: 4, Align: text.AlignRight},
				{Number: 5, Align: text.AlignRight},
			})
			t.Render()
			return nil
		},
	}
}

func tradesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trades",
		Short: "list recent trades",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Trades []struct {
					Ts        int64    `json:"ts_ms"`
					Symbol    string   `json:"symbol"`
					Action    string   `json:"action"`
					Price     float64  `json:"price"`
					Amount    float64  `json:"amount"`
					Reason    string   `json:"reason"`
					PnlPct    *float64 `json:"pnl_pct"`
					PnlAmount *float64 `json:"pnl_amount"`
				} `json:"trades"`
			}
			if err := getJSON("/api/trades", &resp); err != nil {
				return err
			}
			if len(resp.Trades) == 0 {
				fmt.Println("no trades yet")
				return nil
			}

			t := newTable("RECENT TRADES")
			t.AppendHeader(table.Row{"Time", "Action", "Symbol", "Price", "Amount", "P&L %", "Reason"})
			for _, e := range resp.Trades {
				pnl := ""
				if e.PnlPct != nil {
					pnl = fmt.Sprintf("%+.2f", *e.PnlPct)
				}
				t.AppendRow(table.Row{
					time.UnixMilli(e.Ts).Format("01-02 15:04"),
					e.Action,
					e.Symbol,
					krw(e.Price),
					krw(e.Amount),
					pnl,
					e.Reason,
				})
			}
			t.Render()
			return nil
		},
	}
}

func learnCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "learn",
		Short: "trigger a learning pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp map[string]interface{}
			if err := postJSON("/api/learn", nil, &resp); err != nil {
				return err
			}
			fmt.Println("learning started; progress streams on the dashboard")
			return nil
		},
	}
}

func backtestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backtest [symbols...]",
		Short: "run a backtest over the watch set or the given symbols",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]interface{}{}
			if len(args) > 0 {
				req["symbols"] = args
			}

			var res struct {
				TotalTrades int     `json:"total_trades"`
				Wins        int     `json:"wins"`
				Losses      int     `json:"losses"`
				WinRate     float64 `json:"win_rate"`
				PnlPct      float64 `json:"pnl_pct"`
				PnlKRW      float64 `json:"pnl_krw"`
				MaxDrawdown float64 `json:"max_drawdown"`
				PerSymbol   map[string]struct {
					Trades  int     `json:"trades"`
					Wins    int     `json:"wins"`
					PnlPct  float64 `json:"pnl_pct"`
					WinRate float64 `json:"win_rate"`
				} `json:"per_symbol"`
			}
			fmt.Println("running backtest…")
			if err := postJSON("/api/backtest", req, &res); err != nil {
				return err
			}

			t := newTable("BACKTEST")
			t.AppendRows([]table.Row{
				{"Trades", fmt.Sprintf("%d (%dW / %dL)", res.TotalTrades, res.Wins, res.Losses)},
				{"Win rate", fmt.Sprintf("%.1f%%", res.WinRate)},
				{"Return", fmt.Sprintf("%+.2f%%", res.PnlPct)},
				{"P&L", krw(res.PnlKRW) + " KRW"},
				{"Max drawdown", fmt.Sprintf("%.2f%%", res.MaxDrawdown)},
			})
			t.Render()

			if len(res.PerSymbol) > 0 {
				pt := newTable("PER SYMBOL")
				pt.AppendHeader(table.Row{"Symbol", "Trades", "Win rate", "P&L %"})
				for sym, sr := range res.PerSymbol {
					pt.AppendRow(table.Row{sym, sr.Trades, fmt.Sprintf("%.1f%%", sr.WinRate), fmt.Sprintf("%+.2f", sr.PnlPct)})
				}
				pt.Render()
			}
			return nil
		},
	}
}

func sellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sell <base>",
		Short: "market-sell one held position, e.g. sell BTC",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			symbol := strings.ToUpper(args[0])
			if !strings.Contains(symbol, "-") {
				symbol = "KRW-" + symbol
			}

			var resp map[string]interface{}
			if err := postJSON("/api/sell", map[string]string{"symbol": symbol}, &resp); err != nil {
				return err
			}
			fmt.Println("sell requested:", symbol)
			return nil
		},
	}
}

// HTTP plumbing.

var httpClient = &http.Client{Timeout: 5 * time.Minute}

func getJSON(path string, out interface{}) error {
	resp, err := httpClient.Get(addr + path)
	if err != nil {
		return fmt.Errorf("dashboard unreachable at %s: %w", addr, err)
	}
	defer resp.Body.Close()
	return decode(resp, out)
}

func postJSON(path string, body, out interface{}) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(data)
	}
	resp, err := httpClient.Post(addr+path, "application/json", rdr)
	if err != nil {
		return fmt.Errorf("dashboard unreachable at %s: %w", addr, err)
	}
	defer resp.Body.Close()
	return decode(resp, out)
}

func decode(resp *http.Response, out interface{}) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func newTable(title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle(title)
	t.SetStyle(table.StyleRounded)
	return t
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
