package tenant

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/rmsfid11-commits/trading-bot-sub000/config"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/archive"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/backtest"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/bot"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/dashboard"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/events"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/ledger"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/logging"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/market"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/metrics"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/notify"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/secrets"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/upbit"
)

const defaultPaperBalance = 1_000_000

// Options wires the supervisor.
type Options struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Secrets *secrets.Store
	Archive *archive.Sink // optional Postgres mirror
	Redis   *redis.Client // optional shared ticker cache backend
}

// instance is one running tenant.
type instance struct {
	tenant   Tenant
	bot      *bot.Bot
	dash     *dashboard.Server
	notifier *notify.Telegram
	stopCh   chan struct{}
}

// Supervisor runs every tenant: one bot, ledger and dashboard each,
// started from tenants/*.env at boot and hot-started on registration.
type Supervisor struct {
	cfg     *config.Config
	log     zerolog.Logger
	secrets *secrets.Store
	arch    *archive.Sink
	rdb     *redis.Client

	mu        sync.Mutex
	instances map[string]*instance
}

// New builds the supervisor.
func New(opts Options) *Supervisor {
	return &Supervisor{
		cfg:       opts.Config,
		log:       opts.Logger.With().Str("component", "supervisor").Logger(),
		secrets:   opts.Secrets,
		arch:      opts.Archive,
		rdb:       opts.Redis,
		instances: make(map[string]*instance),
	}
}

// Start loads every tenant env file and brings each tenant up. A
// tenant that fails to start is logged and skipped; the rest run.
func (s *Supervisor) Start(ctx context.Context) error {
	tenants, err := LoadDir(s.cfg.TenantsDir)
	if err != nil {
		return err
	}
	if len(tenants) == 0 {
		s.log.Info().Str("dir", s.cfg.TenantsDir).Msg("no tenants found, waiting for registration")
	}

	for _, t := range tenants {
		if err := s.startTenant(ctx, t); err != nil {
			s.log.Error().Err(err).Str("tenant", t.ID).Msg("tenant start failed")
		}
	}
	return nil
}

// TenantCount reports the number of running tenants.
func (s *Supervisor) TenantCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.instances)
}

// OnUserRegistered hot-starts a tenant whose env file was just written.
func (s *Supervisor) OnUserRegistered(ctx context.Context, id string) error {
	tenants, err := LoadDir(s.cfg.TenantsDir)
	if err != nil {
		return err
	}
	for _, t := range tenants {
		if t.ID == id {
			return s.startTenant(ctx, t)
		}
	}
	return fmt.Errorf("tenant %s has no env file", id)
}

// startTenant builds and launches one tenant's full stack.
func (s *Supervisor) startTenant(ctx context.Context, t Tenant) error {
	s.mu.Lock()
	if _, exists := s.instances[t.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("tenant %s already running", t.ID)
	}
	s.mu.Unlock()

	if t.DashboardPort == 0 {
		t.DashboardPort = s.allocatePort()
	}

	recorder := logging.NewRecorder(0)
	tlog, err := logging.NewTenant(logging.Config(s.cfg.Logging), t.ID, recorder)
	if err != nil {
		return err
	}

	led, err := ledger.Open(filepath.Join(s.cfg.DataDir, t.ID), tlog)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}

	ex, feed := s.buildExchange(ctx, t)
	bus := events.NewBus()
	met := metrics.New()

	opts := bot.Options{
		TenantID:  t.ID,
		Config:    s.cfg,
		Exchange:  ex,
		Providers: market.NewProviders(tlog, ex, feed),
		Ledger:    led,
		Bus:       bus,
		Logger:    tlog,
		Metrics:   met,
		PaperMode: t.PaperTrade,
	}
	if s.arch != nil {
		opts.Archive = s.arch
	}
	b := bot.New(opts)

	bt := backtest.New(ex, b.Compositor(), bus, tlog)

	dash := dashboard.New(dashboard.Options{
		Bot:        b,
		Ledger:     led,
		Recorder:   recorder,
		Bus:        bus,
		Metrics:    met,
		Backtest:   bt,
		InviteCode: s.cfg.InviteCode,
		Register:   s.register,
		Logger:     tlog,
	})

	notifier, err := notify.New(notify.Options{
		Token:    t.TelegramToken,
		ChatID:   t.TelegramChatID,
		Bot:      b,
		Backtest: bt,
		Bus:      bus,
		Logger:   tlog,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("tenant", t.ID).Msg("telegram disabled")
		notifier = nil
	}

	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("start bot: %w", err)
	}
	if err := dash.Start(t.DashboardPort); err != nil {
		b.Stop()
		return fmt.Errorf("start dashboard: %w", err)
	}
	if notifier != nil {
		notifier.Start()
	}

	inst := &instance{
		tenant:   t,
		bot:      b,
		dash:     dash,
		notifier: notifier,
		stopCh:   make(chan struct{}),
	}
	if s.cfg.LearnIntervalMin > 0 {
		go s.learnSchedule(inst)
	}

	s.mu.Lock()
	s.instances[t.ID] = inst
	s.mu.Unlock()

	s.log.Info().
		Str("tenant", t.ID).
		Int("port", t.DashboardPort).
		Bool("paper", t.PaperTrade).
		Msg("tenant started")
	return nil
}

// buildExchange picks the tenant's trading surface: a paper client over
// live quotes, or the authenticated client. Vault credentials override
// the env file when present. Both paths share the ticker cache.
func (s *Supervisor) buildExchange(ctx context.Context, t Tenant) (upbit.Exchange, market.TradeFeed) {
	quotes := upbit.NewClient("", "", "")

	var ex upbit.Exchange
	if t.PaperTrade {
		balance := t.PaperBalance
		if balance <= 0 {
			balance = defaultPaperBalance
		}
		ex = upbit.NewPaperClient(quotes, balance)
	} else {
		access, secret := t.AccessKey, t.SecretKey
		if s.secrets != nil && s.secrets.Enabled() {
			if c, err := s.secrets.Get(ctx, t.ID); err == nil {
				access, secret = c.AccessKey, c.SecretKey
			}
		}
		ex = upbit.NewClient(access, secret, "")
	}
	return upbit.NewTickerCache(ex, 0, s.rdb), quotes
}

// register creates a new tenant from the dashboard registration form,
// persists its env file and credentials, and hot-starts it.
func (s *Supervisor) register(req dashboard.RegisterRequest) (int, error) {
	id := IDFromNickname(req.Nickname)

	s.mu.Lock()
	if _, exists := s.instances[id]; exists {
		s.mu.Unlock()
		return 0, fmt.Errorf("tenant %s already exists", id)
	}
	s.mu.Unlock()

	t := Tenant{
		ID:            id,
		Nickname:      req.Nickname,
		AccessKey:     req.AccessKey,
		SecretKey:     req.SecretKey,
		DashboardPort: s.allocatePort(),
	}
	if err := t.Save(s.cfg.TenantsDir); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if s.secrets != nil && s.secrets.Enabled() {
		if err := s.secrets.Put(ctx, id, secrets.Credentials{
			AccessKey: req.AccessKey,
			SecretKey: req.SecretKey,
		}); err != nil {
			s.log.Warn().Err(err).Str("tenant", id).Msg("vault store failed, env file stands alone")
		}
	}

	if err := s.startTenant(ctx, t); err != nil {
		return 0, err
	}
	return t.DashboardPort, nil
}

// allocatePort returns the lowest port at or above the base that no
// running or configured tenant claims.
func (s *Supervisor) allocatePort() int {
	used := make(map[int]bool)
	s.mu.Lock()
	for _, inst := range s.instances {
		used[inst.tenant.DashboardPort] = true
	}
	s.mu.Unlock()
	if tenants, err := LoadDir(s.cfg.TenantsDir); err == nil {
		for _, t := range tenants {
			used[t.DashboardPort] = true
		}
	}

	port := s.cfg.BasePort
	for used[port] {
		port++
	}
	return port
}

// learnSchedule triggers a periodic learning pass for one tenant.
func (s *Supervisor) learnSchedule(inst *instance) {
	interval := time.Duration(s.cfg.LearnIntervalMin) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := inst.bot.RunLearning(); err != nil {
				s.log.Warn().Err(err).Str("tenant", inst.tenant.ID).Msg("scheduled learning failed")
			}
		case <-inst.stopCh:
			return
		}
	}
}

// Shutdown stops every tenant: loop drained, open positions liquidated
// best-effort, dashboards closed. Tenants stop in parallel.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.Lock()
	instances := make([]*instance, 0, len(s.instances))
	for _, inst := range s.instances {
		instances = append(instances, inst)
	}
	s.instances = make(map[string]*instance)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, inst := range instances {
		wg.Add(1)
		go func(inst *instance) {
			defer wg.Done()
			close(inst.stopCh)
			inst.bot.Shutdown(ctx)
			if err := inst.dash.Stop(ctx); err != nil {
				s.log.Warn().Err(err).Str("tenant", inst.tenant.ID).Msg("dashboard stop failed")
			}
			if inst.notifier != nil {
				inst.notifier.Stop()
			}
			s.log.Info().Str("tenant", inst.tenant.ID).Msg("tenant stopped")
		}(inst)
	}
	wg.Wait()
}
