package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/rmsfid11-commits/trading-bot-sub000/config"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/archive"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/logging"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/secrets"
	"github.com/rmsfid11-commits/trading-bot-sub000/internal/tenant"
)

const shutdownTimeout = 60 * time.Second

func main() {
	configPath := flag.String("config", "config.json", "path to config file")
	flag.Parse()

	// Optional global .env; tenant env files are loaded separately.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		boot := logging.New(logging.Config{})
		boot.Fatal().Err(err).Msg("config load failed")
	}

	log := logging.New(logging.Config(cfg.Logging))
	log.Info().Str("config", *configPath).Msg("starting trading daemon")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := tenant.Options{Config: cfg, Logger: log}

	if cfg.PostgresDSN != "" {
		sink, err := archive.Connect(ctx, cfg.PostgresDSN, log)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres archive connect failed")
		}
		defer sink.Close()
		opts.Archive = sink
		log.Info().Msg("trade archive enabled")
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis connect failed")
		}
		defer rdb.Close()
		opts.Redis = rdb
		log.Info().Str("addr", cfg.RedisAddr).Msg("redis ticker cache enabled")
	}

	store, err := secrets.New(cfg.Vault)
	if err != nil {
		log.Fatal().Err(err).Msg("vault setup failed")
	}
	if store.Enabled() {
		if err := store.Health(ctx); err != nil {
			log.Warn().Err(err).Msg("vault unhealthy, tenants fall back to env files")
		} else {
			log.Info().Str("addr", cfg.Vault.Addr).Msg("vault credential store enabled")
		}
	}
	opts.Secrets = store

	sup := tenant.New(opts)
	if err := sup.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("supervisor start failed")
	}
	log.Info().Int("tenants", sup.TenantCount()).Msg("supervisor running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	sup.Shutdown(shutdownCtx)
	log.Info().Msg("all tenants stopped")
}
