// Package dashboard is the per-tenant HTTP and WebSocket surface: the
// JSON API the web UI polls, the WS push channel, and the registration
// endpoint that hot-starts new tenants.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/rmsfid11-commits/trading-bot-sub000/internal/backtest"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/bot"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/events"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/indicators"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/ledger"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/logging"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/metrics"
)

const (
	tradesTail    = 50
	logsTail      = 30
	candlesServed = 60
	statusPushSec = 3
)

// RegisterRequest is the tenant-creation payload.
type RegisterRequest struct {
	InviteCode string `json:"invite_code"`
	Nickname   string `json:"nickname" binding:"required"`
	AccessKey  string `json:"access_key" binding:"required"`
	SecretKey  string `json:"secret_key" binding:"required"`
}

// RegisterFunc creates the tenant and returns its allocated dashboard
// port. Supplied by the supervisor.
type RegisterFunc func(req RegisterRequest) (int, error)

// Options wires one tenant's dashboard.
type Options struct {
	Bot        *bot.Bot
	Ledger     *ledger.Ledger
	Recorder   *logging.Recorder
	Bus        *events.Bus
	Metrics    *metrics.Metrics
	Backtest   *backtest.Runner
	InviteCode string
	Register   RegisterFunc
	Logger     zerolog.Logger
}

// Server is one tenant's dashboard.
type Server struct {
	opts Options
	hub  *Hub
	log  zerolog.Logger

	engine *gin.Engine
	http   *http.Server

	stopPush chan struct{}
}

// New builds the server and its routes.
func New(opts Options) *Server {
	log := opts.Logger.With().Str("component", "dashboard").Logger()

	s := &Server{opts: opts, log: log, stopPush: make(chan struct{})}
	s.hub = NewHub(log, s.handleCommand)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type"},
	}))

	api := engine.Group("/api")
	{
		api.GET("/status", s.getStatus)
		api.GET("/trades", s.getTrades)
		api.GET("/logs", s.getLogs)
		api.GET("/candles/:symbol", s.getCandles)
		api.GET("/pnl-history", s.getPnlHistory)
		api.GET("/blacklist", s.getBlacklist)
		api.POST("/blacklist", s.postBlacklist)
		api.POST("/register", s.postRegister)
		api.POST("/sell", s.postSell)
		api.POST("/learn", s.postLearn)
		api.POST("/backtest", s.postBacktest)
	}
	engine.GET("/healthz", s.getHealthz)
	engine.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
	engine.GET("/ws", func(c *gin.Context) { s.hub.Serve(c.Writer, c.Request) })
	engine.GET("/", func(c *gin.Context) {
		if c.IsWebsocket() {
			s.hub.Serve(c.Writer, c.Request)
			return
		}
		c.Redirect(http.StatusTemporaryRedirect, "/api/status")
	})

	s.engine = engine
	return s
}

// Start serves on the port and begins pushing WS frames.
func (s *Server) Start(port int) error {
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.opts.Bus != nil {
		s.opts.Bus.SubscribeAll(func(ev events.Event) {
			s.hub.Broadcast(string(ev.Type), ev.Data)
		})
	}
	if s.opts.Recorder != nil {
		ch, cancel := s.opts.Recorder.Subscribe(256)
		go func() {
			defer cancel()
			for {
				select {
				case entry, ok := <-ch:
					if !ok {
						return
					}
					s.hub.Broadcast("log", entry)
				case <-s.stopPush:
					return
				}
			}
		}()
	}
	go s.pushStatus()

	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Int("port", port).Msg("dashboard serve failed")
		}
	}()
	s.log.Info().Int("port", port).Msg("dashboard listening")
	return nil
}

// Stop shuts the server down and disconnects WS clients.
func (s *Server) Stop(ctx context.Context) error {
	close(s.stopPush)
	s.hub.Close()
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// pushStatus broadcasts the snapshot every few seconds while anyone is
// listening.
func (s *Server) pushStatus() {
	ticker := time.NewTicker(statusPushSec * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopPush:
			return
		case <-ticker.C:
			if s.hub.ClientCount() == 0 {
				continue
			}
			s.hub.Broadcast("status", s.opts.Bot.Status())
		}
	}
}

// handleCommand dispatches inbound WS commands.
func (s *Server) handleCommand(cmd Command) {
	switch cmd.Command {
	case "run_learning":
		go func() {
			if _, err := s.opts.Bot.RunLearning(); err != nil && !errors.Is(err, bot.ErrLearningBusy) {
				s.log.Warn().Err(err).Msg("learning run failed")
			}
		}()
	case "run_backtest":
		if s.opts.Backtest == nil {
			return
		}
		symbols := cmd.Symbols
		if len(symbols) == 0 {
			symbols = s.opts.Bot.WatchedSymbols()
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			res, err := s.opts.Backtest.Run(ctx, backtest.Options{
				Symbols:  symbols,
				Strategy: s.opts.Bot.EffectiveStrategy(),
			})
			if err != nil {
				s.log.Warn().Err(err).Msg("backtest run failed")
				return
			}
			s.opts.Bot.NoteBacktest(res)
		}()
	default:
		s.log.Debug().Str("command", cmd.Command).Msg("unknown ws command")
	}
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.opts.Bot.Status())
}

func (s *Server) getTrades(c *gin.Context) {
	rows := s.opts.Bot.RecentTrades(tradesTail)
	if rows == nil {
		rows = []ledger.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"trades": rows})
}

func (s *Server) getLogs(c *gin.Context) {
	var entries []logging.Entry
	if s.opts.Recorder != nil {
		entries = s.opts.Recorder.Recent(logsTail)
	}
	if entries == nil {
		entries = []logging.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"logs": entries})
}

// getCandles serves the recent candles with the Bollinger overlay and
// the open position, if any, for the chart.
func (s *Server) getCandles(c *gin.Context) {
	symbol := c.Param("symbol")
	candles := s.opts.Bot.CandlesFor(symbol)
	if len(candles) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no candles for " + symbol})
		return
	}
	if len(candles) > candlesServed {
		candles = candles[len(candles)-candlesServed:]
	}

	resp := gin.H{"symbol": symbol, "candles": candles}
	if bb := indicators.Bollinger(s.opts.Bot.CandlesFor(symbol), 20, 2); bb != nil {
		resp["bollinger"] = bb
	}
	for _, p := range s.opts.Bot.Status().Positions {
		if p.Symbol == symbol {
			resp["position"] = p
			break
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getPnlHistory(c *gin.Context) {
	tf := c.DefaultQuery("tf", "1h")
	samples := s.opts.Ledger.Pnl().Bucketed(tf)
	if len(samples) == 0 {
		entries, err := s.opts.Ledger.Journal().ReadAll()
		if err == nil {
			samples = ledger.BackfillFromJournal(entries, tf)
		}
	}
	if samples == nil {
		samples = []ledger.PnlSample{}
	}
	c.JSON(http.StatusOK, gin.H{"tf": tf, "samples": samples})
}

func (s *Server) getBlacklist(c *gin.Context) {
	bl := s.opts.Ledger.Blacklist()
	c.JSON(http.StatusOK, gin.H{"symbols": bl.Symbols(), "mode": bl.Mode()})
}

func (s *Server) postBlacklist(c *gin.Context) {
	var req struct {
		Action string `json:"action" binding:"required"`
		Symbol string `json:"symbol"`
		Mode   string `json:"mode"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	bl := s.opts.Ledger.Blacklist()
	switch req.Action {
	case "add":
		if req.Symbol == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "symbol required"})
			return
		}
		bl.Add(req.Symbol)
	case "remove":
		if req.Symbol == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "symbol required"})
			return
		}
		bl.Remove(req.Symbol)
	case "set_mode":
		bl.SetMode(req.Mode)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown action " + req.Action})
		return
	}
	s.opts.Ledger.SaveBlacklist()
	c.JSON(http.StatusOK, gin.H{"symbols": bl.Symbols(), "mode": bl.Mode()})
}

func (s *Server) postRegister(c *gin.Context) {
	if s.opts.Register == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "registration disabled"})
		return
	}
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.opts.InviteCode != "" && req.InviteCode != s.opts.InviteCode {
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid invite code"})
		return
	}

	port, err := s.opts.Register(req)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"nickname": req.Nickname, "dashboard_port": port})
}

// postSell market-sells one held position on operator request.
func (s *Server) postSell(c *gin.Context) {
	var req struct {
		Symbol string `json:"symbol" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.opts.Bot.SellSymbol(c.Request.Context(), req.Symbol); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": req.Symbol, "status": "sell requested"})
}

// postLearn kicks off a learning pass; progress streams over the WS.
func (s *Server) postLearn(c *gin.Context) {
	go func() {
		if _, err := s.opts.Bot.RunLearning(); err != nil && !errors.Is(err, bot.ErrLearningBusy) {
			s.log.Warn().Err(err).Msg("learning run failed")
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "learning started"})
}

// postBacktest runs a backtest synchronously and returns the summary.
func (s *Server) postBacktest(c *gin.Context) {
	if s.opts.Backtest == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "backtest disabled"})
		return
	}
	var req struct {
		Symbols []string `json:"symbols"`
		Candles int      `json:"candles"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Symbols) == 0 {
		req.Symbols = s.opts.Bot.WatchedSymbols()
	}

	res, err := s.opts.Backtest.Run(c.Request.Context(), backtest.Options{
		Symbols:  req.Symbols,
		Candles:  req.Candles,
		Strategy: s.opts.Bot.EffectiveStrategy(),
	})
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	s.opts.Bot.NoteBacktest(res)
	c.JSON(http.StatusOK, res)
}

func (s *Server) getHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"running":    s.opts.Bot.Running(),
		"ws_clients": s.hub.ClientCount(),
		"time":       time.Now().UnixMilli(),
	})
}
