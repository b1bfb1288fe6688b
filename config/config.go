// Package config loads the daemon configuration: a JSON file with
// environment-variable overrides, plus the strategy defaults every
// tenant starts from. Learned parameter overlays are merged elsewhere;
// this package only defines the defaults and the clamp table they are
// merged against.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Config is the process-wide configuration shared by all tenants.
type Config struct {
	Quote      string `json:"quote"`       // quote currency, e.g. "KRW"
	DataDir    string `json:"data_dir"`    // per-tenant ledgers live under <data_dir>/<tenant>
	TenantsDir string `json:"tenants_dir"` // one env file per tenant
	BasePort   int    `json:"base_port"`   // first dashboard port to try at registration
	InviteCode string `json:"invite_code"` // empty disables registration

	ScanIntervalSec  int `json:"scan_interval_sec"`
	MaxSymbols       int `json:"max_symbols"`
	LearnIntervalMin int `json:"learn_interval_min"` // 0 disables the schedule

	Logging Logging `json:"logging"`

	Strategy Strategy `json:"strategy"`
	Risk     Risk     `json:"risk"`

	// Optional backends. Empty values keep the file-only in-memory
	// deployment.
	PostgresDSN string `json:"postgres_dsn"`
	RedisAddr   string `json:"redis_addr"`
	Vault       Vault  `json:"vault"`
}

// Logging mirrors the logging package config so the JSON file stays a
// single document.
type Logging struct {
	Level  string `json:"level"`
	Format string `json:"format"` // "console" or "json"
	Dir    string `json:"dir"`
}

// Vault points at an optional KV store for tenant API credentials.
type Vault struct {
	Addr      string `json:"addr"`
	Token     string `json:"token"`
	MountPath string `json:"mount_path"`
}

// Strategy holds every knob the signal compositor and position state
// machine read. The first seven fields are learnable: the learning pass
// may override them within ±50% of the defaults below.
type Strategy struct {
	RSIOversold     float64 `json:"rsi_oversold"`
	RSIOverbought   float64 `json:"rsi_overbought"`
	StopLossPct     float64 `json:"stop_loss_pct"`
	TakeProfitPct   float64 `json:"take_profit_pct"`
	MaxHoldHours    float64 `json:"max_hold_hours"`
	BasePositionPct float64 `json:"base_position_pct"`
	BuyThreshold    float64 `json:"buy_threshold"`

	SellThreshold   float64 `json:"sell_threshold"`
	VolumeThreshold float64 `json:"volume_threshold"`

	BreakevenTriggerPct float64 `json:"breakeven_trigger_pct"`
	TrailingActivatePct float64 `json:"trailing_activate_pct"`
	TrailingDistancePct float64 `json:"trailing_distance_pct"`

	Partial1Pct      float64 `json:"partial1_pct"`
	Partial1Fraction float64 `json:"partial1_fraction"`
	Partial2Pct      float64 `json:"partial2_pct"`
	Partial2Fraction float64 `json:"partial2_fraction"`

	HardDropPct    float64 `json:"hard_drop_pct"` // negative
	HardMaxHoldHrs float64 `json:"hard_max_hold_hours"`
	StaleExitHours float64 `json:"stale_exit_hours"`

	// Whipsaw-confirmed stop loss.
	StopConfirmCount       int     `json:"stop_confirm_count"`
	StopConfirmDurationSec int     `json:"stop_confirm_duration_sec"`
	StopConfirmIntervalSec int     `json:"stop_confirm_interval_sec"`
	RSIOversoldProtect     float64 `json:"rsi_oversold_protect"`

	DCATriggerPct     float64 `json:"dca_trigger_pct"` // negative
	DCAMaxCount       int     `json:"dca_max_count"`
	DCAMinHoldMin     int     `json:"dca_min_hold_min"`
	DCARSIMax         float64 `json:"dca_rsi_max"`
	DCAMinIntervalMin int     `json:"dca_min_interval_min"`

	// ATR-derived dynamic SL/TP multiplier bounds.
	ATRStopMultMin float64 `json:"atr_stop_mult_min"`
	ATRStopMultMax float64 `json:"atr_stop_mult_max"`
}

// Risk holds the risk governor limits.
type Risk struct {
	DailyLossLimitKRW   float64 `json:"daily_loss_limit_krw"` // positive number of KRW
	MaxDailyLossPct     float64 `json:"max_daily_loss_pct"`
	HourlyMaxTrades     int     `json:"hourly_max_trades"`
	MaxPositions        int     `json:"max_positions"`
	ScalpExtraSlots     int     `json:"scalp_extra_slots"`
	CooldownMin         int     `json:"cooldown_min"`          // per-symbol, after a sell
	RecoveryCooldownMin int     `json:"recovery_cooldown_min"` // after a buy while near the daily limit
	MaxPositionPct      float64 `json:"max_position_pct"`
	LossCooldownMin     int     `json:"loss_cooldown_min"` // after 2+ consecutive losses
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		Quote:            "KRW",
		DataDir:          "data",
		TenantsDir:       "tenants",
		BasePort:         3737,
		ScanIntervalSec:  60,
		MaxSymbols:       10,
		LearnIntervalMin: 0,
		Logging:          Logging{Level: "info", Format: "console"},
		Strategy: Strategy{
			RSIOversold:     30,
			RSIOverbought:   70,
			StopLossPct:     2.5,
			TakeProfitPct:   5.0,
			MaxHoldHours:    6,
			BasePositionPct: 10,
			BuyThreshold:    2.0,

			SellThreshold:   3.0,
			VolumeThreshold: 2.0,

			BreakevenTriggerPct: 1.0,
			TrailingActivatePct: 2.0,
			TrailingDistancePct: 1.5,

			Partial1Pct:      2.0,
			Partial1Fraction: 0.3,
			Partial2Pct:      3.5,
			Partial2Fraction: 0.3,

			HardDropPct:    -5.0,
			HardMaxHoldHrs: 24,
			StaleExitHours: 2,

			StopConfirmCount:       3,
			StopConfirmDurationSec: 300,
			StopConfirmIntervalSec: 60,
			RSIOversoldProtect:     25,

			DCATriggerPct:     -2.0,
			DCAMaxCount:       2,
			DCAMinHoldMin:     30,
			DCARSIMax:         35,
			DCAMinIntervalMin: 60,

			ATRStopMultMin: 1.0,
			ATRStopMultMax: 3.0,
		},
		Risk: Risk{
			DailyLossLimitKRW:   10000,
			MaxDailyLossPct:     3.0,
			HourlyMaxTrades:     6,
			MaxPositions:        4,
			ScalpExtraSlots:     1,
			CooldownMin:         30,
			RecoveryCooldownMin: 10,
			MaxPositionPct:      20,
			LossCooldownMin:     30,
		},
	}
}

// Load reads the config file at path over the defaults, then applies
// environment overrides. A missing file is not an error; the defaults
// plus environment stand alone.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// defaults only
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnv(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.DataDir, "BOT_DATA_DIR")
	setString(&cfg.TenantsDir, "BOT_TENANTS_DIR")
	setString(&cfg.InviteCode, "INVITE_CODE")
	setString(&cfg.PostgresDSN, "POSTGRES_DSN")
	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.Vault.Addr, "VAULT_ADDR")
	setString(&cfg.Vault.Token, "VAULT_TOKEN")
	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setInt(&cfg.BasePort, "BOT_BASE_PORT")
	setInt(&cfg.ScanIntervalSec, "BOT_SCAN_INTERVAL_SEC")
	setInt(&cfg.LearnIntervalMin, "BOT_LEARN_INTERVAL_MIN")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func (c *Config) validate() error {
	if c.ScanIntervalSec < 5 {
		return fmt.Errorf("scan_interval_sec %d too small", c.ScanIntervalSec)
	}
	if c.MaxSymbols < 1 {
		return fmt.Errorf("max_symbols must be positive")
	}
	if c.Strategy.TakeProfitPct <= 0 || c.Strategy.StopLossPct <= 0 {
		return fmt.Errorf("stop_loss_pct and take_profit_pct must be positive")
	}
	if c.Risk.MaxPositions < 1 {
		return fmt.Errorf("max_positions must be positive")
	}
	return nil
}

// Learnable parameter keys, shared with the learning pass.
const (
	KeyRSIOversold     = "RSI_OVERSOLD"
	KeyRSIOverbought   = "RSI_OVERBOUGHT"
	KeyStopLossPct     = "STOP_LOSS_PCT"
	KeyTakeProfitPct   = "TAKE_PROFIT_PCT"
	KeyMaxHoldHours    = "MAX_HOLD_HOURS"
	KeyBasePositionPct = "BASE_POSITION_PCT"
	KeyBuyThreshold    = "BUY_THRESHOLD"
)

// LearnableDefaults maps each learnable key to its compiled default.
// The learning pass may move a key at most ±50% from this value.
func (s Strategy) LearnableDefaults() map[string]float64 {
	return map[string]float64{
		KeyRSIOversold:     s.RSIOversold,
		KeyRSIOverbought:   s.RSIOverbought,
		KeyStopLossPct:     s.StopLossPct,
		KeyTakeProfitPct:   s.TakeProfitPct,
		KeyMaxHoldHours:    s.MaxHoldHours,
		KeyBasePositionPct: s.BasePositionPct,
		KeyBuyThreshold:    s.BuyThreshold,
	}
}

// ClampLearned bounds a learned value to ±50% of the default.
func ClampLearned(def, v float64) float64 {
	delta := def * 0.5
	if delta < 0 {
		delta = -delta
	}
	lo, hi := def-delta, def+delta
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ApplyLearned returns a copy of the strategy with learned overrides
// merged in, each clamped to its default band. Unknown keys are
// ignored.
func (s Strategy) ApplyLearned(params map[string]float64) Strategy {
	out := s
	defs := s.LearnableDefaults()
	for key, v := range params {
		def, ok := defs[key]
		if !ok {
			continue
		}
		v = ClampLearned(def, v)
		switch key {
		case KeyRSIOversold:
			out.RSIOversold = v
		case KeyRSIOverbought:
			out.RSIOverbought = v
		case KeyStopLossPct:
			out.StopLossPct = v
		case KeyTakeProfitPct:
			out.TakeProfitPct = v
		case KeyMaxHoldHours:
			out.MaxHoldHours = v
		case KeyBasePositionPct:
			out.BasePositionPct = v
		case KeyBuyThreshold:
			out.BuyThreshold = v
		}
	}
	return out
}
