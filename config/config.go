package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"crt-trading-engine/internal/analysis"
	"crt-trading-engine/internal/binance"
	"crt-trading-engine/internal/circuit"
	"crt-trading-engine/internal/errs"
	"crt-trading-engine/internal/lifecycle"
	"crt-trading-engine/internal/logging"
	"crt-trading-engine/internal/session"
	"crt-trading-engine/internal/vault"
)

// DefaultPath is read when no path is given
const DefaultPath = "config.json"

type Config struct {
	BinanceConfig        BinanceConfig   `json:"binance" toml:"binance"`
	Sessions             []SessionConfig `json:"sessions" toml:"sessions"`
	TradingConfig        TradingConfig   `json:"trading" toml:"trading"`
	CircuitBreakerConfig circuit.Config  `json:"circuit_breaker" toml:"circuit_breaker"`
	WorkerConfig         WorkerConfig    `json:"workers" toml:"workers"`
	ScorerConfig         ScorerConfig    `json:"scorer" toml:"scorer"`
	StateConfig          StateConfig     `json:"state" toml:"state"`
	RedisConfig          RedisConfig     `json:"redis" toml:"redis"`
	ServerConfig         ServerConfig    `json:"server" toml:"server"`
	AuthConfig           AuthConfig      `json:"auth" toml:"auth"`
	VaultConfig          vault.Config    `json:"vault" toml:"vault"`
	LoggingConfig        logging.Config  `json:"logging" toml:"logging"`
}

// BinanceConfig holds exchange access. Credentials never come from the
// config file: BINANCE_API_KEY / BINANCE_SECRET_KEY or Vault.
type BinanceConfig struct {
	APIKey         string  `json:"-" toml:"-"`
	SecretKey      string  `json:"-" toml:"-"`
	TestNet        bool    `json:"testnet" toml:"testnet"`
	Paper          bool    `json:"paper" toml:"paper"` // simulate orders against live candles
	PaperBalance   float64 `json:"paper_balance" toml:"paper_balance"`
	StreamURL      string  `json:"stream_url" toml:"stream_url"`
	TimeoutSeconds int     `json:"timeout_seconds" toml:"timeout_seconds"`
}

// SessionConfig describes one pair/interval session
type SessionConfig struct {
	Name         string `json:"name" toml:"name"`
	Pair         string `json:"pair" toml:"pair"`
	Interval     string `json:"interval" toml:"interval"`
	HTFInterval  string `json:"htf_interval" toml:"htf_interval"`
	Mode         string `json:"mode" toml:"mode"` // crt or smc
	AutoTrading  bool   `json:"auto_trading" toml:"auto_trading"`
	HistoryLimit int    `json:"history_limit" toml:"history_limit"`
}

// TradingConfig holds entry gates, sizing and stop management shared by all sessions
type TradingConfig struct {
	RiskPercent           float64  `json:"risk_percent" toml:"risk_percent"`
	Leverage              float64  `json:"leverage" toml:"leverage"`
	MaxMarginFraction     float64  `json:"max_margin_fraction" toml:"max_margin_fraction"`
	MinQty                float64  `json:"min_qty" toml:"min_qty"`
	MinConfidence         float64  `json:"min_confidence" toml:"min_confidence"`
	MinATR                float64  `json:"min_atr" toml:"min_atr"`
	MinSecondsBetween     int      `json:"min_seconds_between_trades" toml:"min_seconds_between_trades"`
	LossCooldownSeconds   int      `json:"loss_cooldown_seconds" toml:"loss_cooldown_seconds"`
	MaxHoldMinutes        int      `json:"max_hold_minutes" toml:"max_hold_minutes"`
	MaxTradesPerDay       int      `json:"max_trades_per_day" toml:"max_trades_per_day"`
	TargetWins            int      `json:"target_wins" toml:"target_wins"`
	TargetLosses          int      `json:"target_losses" toml:"target_losses"`
	SessionFilter         []string `json:"session_filter" toml:"session_filter"`
	ReversalMinConfidence float64  `json:"reversal_min_confidence" toml:"reversal_min_confidence"`
	ReversalVolumeRatio   float64  `json:"reversal_volume_ratio" toml:"reversal_volume_ratio"`
	ReversalCandles       int      `json:"reversal_candles" toml:"reversal_candles"`
	PartialAtR            float64  `json:"partial_at_r" toml:"partial_at_r"`
	PartialFraction       float64  `json:"partial_fraction" toml:"partial_fraction"`
	BreakevenBuffer       float64  `json:"breakeven_buffer" toml:"breakeven_buffer"`
	ProfitLockAtR         float64  `json:"profit_lock_at_r" toml:"profit_lock_at_r"`
	ProfitLockFraction    float64  `json:"profit_lock_fraction" toml:"profit_lock_fraction"`
	TrailATRMultiplier    float64  `json:"trail_atr_multiplier" toml:"trail_atr_multiplier"`
}

// WorkerConfig sizes the analysis pool
type WorkerConfig struct {
	PoolSize  int `json:"pool_size" toml:"pool_size"`
	QueueSize int `json:"queue_size" toml:"queue_size"`
}

// ScorerConfig tunes the outcome scorer
type ScorerConfig struct {
	Alpha      float64 `json:"alpha" toml:"alpha"`
	MinSamples int     `json:"min_samples" toml:"min_samples"`
	QueueSize  int     `json:"queue_size" toml:"queue_size"`
}

// StateConfig locates the daily counter files
type StateConfig struct {
	Dir string `json:"dir" toml:"dir"`
}

// RedisConfig holds the optional mirror of counters and snapshots
type RedisConfig struct {
	Enabled  bool   `json:"enabled" toml:"enabled"`
	Address  string `json:"address" toml:"address"`
	Password string `json:"-" toml:"-"`
	DB       int    `json:"db" toml:"db"`
	PoolSize int    `json:"pool_size" toml:"pool_size"`
}

// ServerConfig holds the HTTP surface
type ServerConfig struct {
	Enabled               bool     `json:"enabled" toml:"enabled"`
	Host                  string   `json:"host" toml:"host"`
	Port                  int      `json:"port" toml:"port"`
	ProductionMode        bool     `json:"production_mode" toml:"production_mode"`
	AllowedOrigins        []string `json:"allowed_origins" toml:"allowed_origins"`
	CommandRatePerMinute  int      `json:"command_rate_per_minute" toml:"command_rate_per_minute"`
	CommandTimeoutSeconds int      `json:"command_timeout_seconds" toml:"command_timeout_seconds"`
}

// AuthConfig guards commands. An empty secret disables the guard.
type AuthConfig struct {
	JWTSecret     string `json:"-" toml:"-"`
	TokenTTLHours int    `json:"token_ttl_hours" toml:"token_ttl_hours"`
}

// DefaultConfig returns a paper-trading BTCUSDT 5m CRT session
func DefaultConfig() *Config {
	lc := lifecycle.DefaultConfig()
	return &Config{
		BinanceConfig: BinanceConfig{
			Paper:          true,
			PaperBalance:   1000,
			TimeoutSeconds: 10,
		},
		Sessions: []SessionConfig{{
			Name:         "main",
			Pair:         "BTCUSDT",
			Interval:     "5m",
			Mode:         string(analysis.ModeCRT),
			HistoryLimit: 500,
		}},
		TradingConfig: TradingConfig{
			RiskPercent:           lc.Sizing.RiskPercent,
			Leverage:              lc.Sizing.Leverage,
			MaxMarginFraction:     lc.Sizing.MaxMarginFraction,
			MinQty:                lc.Sizing.MinQty,
			MinConfidence:         lc.MinConfidence,
			MinATR:                lc.MinATR,
			MinSecondsBetween:     int(lc.MinTimeBetweenTrades / time.Second),
			LossCooldownSeconds:   int(lc.LossCooldown / time.Second),
			MaxHoldMinutes:        int(lc.MaxHold / time.Minute),
			MaxTradesPerDay:       lc.MaxTradesPerDay,
			TargetWins:            lc.TargetWins,
			TargetLosses:          lc.TargetLosses,
			ReversalMinConfidence: lc.ReversalMinConfidence,
			ReversalVolumeRatio:   lc.ReversalVolumeRatio,
			ReversalCandles:       lc.ReversalCandles,
			PartialAtR:            lc.Stops.PartialAtR,
			PartialFraction:       lc.Stops.PartialFraction,
			BreakevenBuffer:       lc.Stops.BreakevenBuffer,
			ProfitLockAtR:         lc.Stops.ProfitLockAtR,
			ProfitLockFraction:    lc.Stops.ProfitLockFraction,
			TrailATRMultiplier:    lc.Stops.TrailATRMultiplier,
		},
		CircuitBreakerConfig: circuit.DefaultConfig(),
		WorkerConfig:         WorkerConfig{PoolSize: 2, QueueSize: 16},
		ScorerConfig:         ScorerConfig{Alpha: 0.1, MinSamples: 5, QueueSize: 64},
		StateConfig:          StateConfig{Dir: "data"},
		RedisConfig:          RedisConfig{Address: "localhost:6379", PoolSize: 10},
		ServerConfig: ServerConfig{
			Enabled:               true,
			Host:                  "0.0.0.0",
			Port:                  8080,
			AllowedOrigins:        []string{"*"},
			CommandRatePerMinute:  30,
			CommandTimeoutSeconds: 15,
		},
		AuthConfig:  AuthConfig{TokenTTLHours: 24},
		VaultConfig: vault.Config{MountPath: "secret", SecretPath: "crt-engine"},
		LoggingConfig: logging.Config{
			Level:      "INFO",
			Output:     "stdout",
			JSONFormat: true,
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
	}
}

// Load reads .env, then the config file (JSON or TOML by extension) over the
// defaults, then applies environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	if path == "" {
		path = getEnvOrDefault("CRT_CONFIG", DefaultPath)
	}
	cfg := DefaultConfig()
	if err := loadFromFile(path, cfg); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(filename string, cfg *Config) error {
	file, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".toml":
		if _, err := toml.Decode(string(file), cfg); err != nil {
			return fmt.Errorf("error parsing config file: %w", err)
		}
	default:
		if err := json.Unmarshal(file, cfg); err != nil {
			return fmt.Errorf("error parsing config file: %w", err)
		}
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	// Credentials only ever come from the environment or Vault
	cfg.BinanceConfig.APIKey = getEnvOrDefault("BINANCE_API_KEY", cfg.BinanceConfig.APIKey)
	cfg.BinanceConfig.SecretKey = getEnvOrDefault("BINANCE_SECRET_KEY", cfg.BinanceConfig.SecretKey)
	cfg.BinanceConfig.TestNet = getEnvBoolOrDefault("BINANCE_TESTNET", cfg.BinanceConfig.TestNet)
	cfg.BinanceConfig.Paper = getEnvBoolOrDefault("PAPER_TRADING", cfg.BinanceConfig.Paper)
	cfg.BinanceConfig.PaperBalance = getEnvFloatOrDefault("PAPER_BALANCE", cfg.BinanceConfig.PaperBalance)
	cfg.BinanceConfig.StreamURL = getEnvOrDefault("BINANCE_STREAM_URL", cfg.BinanceConfig.StreamURL)

	// A single pair/interval pair of overrides targets the first session
	if len(cfg.Sessions) > 0 {
		s := &cfg.Sessions[0]
		s.Pair = strings.ToUpper(getEnvOrDefault("TRADING_PAIR", s.Pair))
		s.Interval = getEnvOrDefault("TRADING_INTERVAL", s.Interval)
		s.Mode = getEnvOrDefault("ANALYSIS_MODE", s.Mode)
		s.AutoTrading = getEnvBoolOrDefault("AUTO_TRADING", s.AutoTrading)
	}

	cfg.TradingConfig.RiskPercent = getEnvFloatOrDefault("RISK_PERCENT", cfg.TradingConfig.RiskPercent)
	cfg.TradingConfig.Leverage = getEnvFloatOrDefault("LEVERAGE", cfg.TradingConfig.Leverage)
	cfg.TradingConfig.MinConfidence = getEnvFloatOrDefault("MIN_CONFIDENCE", cfg.TradingConfig.MinConfidence)
	cfg.TradingConfig.MinATR = getEnvFloatOrDefault("MIN_ATR", cfg.TradingConfig.MinATR)
	cfg.TradingConfig.MaxHoldMinutes = getEnvIntOrDefault("MAX_HOLD_MINUTES", cfg.TradingConfig.MaxHoldMinutes)
	cfg.TradingConfig.MaxTradesPerDay = getEnvIntOrDefault("MAX_TRADES_PER_DAY", cfg.TradingConfig.MaxTradesPerDay)

	cfg.CircuitBreakerConfig.Enabled = getEnvBoolOrDefault("CIRCUIT_BREAKER_ENABLED", cfg.CircuitBreakerConfig.Enabled)
	cfg.CircuitBreakerConfig.MaxConsecutiveLosses = getEnvIntOrDefault("CIRCUIT_MAX_CONSECUTIVE_LOSSES", cfg.CircuitBreakerConfig.MaxConsecutiveLosses)
	cfg.CircuitBreakerConfig.MaxDrawdownPercent = getEnvFloatOrDefault("CIRCUIT_MAX_DRAWDOWN_PERCENT", cfg.CircuitBreakerConfig.MaxDrawdownPercent)

	cfg.WorkerConfig.PoolSize = getEnvIntOrDefault("WORKER_POOL_SIZE", cfg.WorkerConfig.PoolSize)
	cfg.StateConfig.Dir = getEnvOrDefault("STATE_DIR", cfg.StateConfig.Dir)

	cfg.RedisConfig.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.RedisConfig.Enabled)
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)

	cfg.ServerConfig.Enabled = getEnvBoolOrDefault("WEB_ENABLED", cfg.ServerConfig.Enabled)
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", cfg.ServerConfig.Host)
	if origins := os.Getenv("SERVER_ALLOWED_ORIGINS"); origins != "" {
		cfg.ServerConfig.AllowedOrigins = splitList(origins)
	}
	cfg.ServerConfig.ProductionMode = getEnvBoolOrDefault("PRODUCTION_MODE", cfg.ServerConfig.ProductionMode)

	cfg.AuthConfig.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.AuthConfig.JWTSecret)

	cfg.VaultConfig.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.VaultConfig.Enabled)
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", cfg.VaultConfig.MountPath)
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.VaultConfig.SecretPath)

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", cfg.LoggingConfig.Output)
	cfg.LoggingConfig.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.LoggingConfig.JSONFormat)
	cfg.LoggingConfig.IncludeFile = getEnvBoolOrDefault("LOG_INCLUDE_FILE", cfg.LoggingConfig.IncludeFile)
}

// Validate checks ranges. Errors are *errs.ConfigError.
func (c *Config) Validate() error {
	if len(c.Sessions) == 0 {
		return &errs.ConfigError{Field: "sessions", Value: 0, Reason: "at least one session is required"}
	}
	names := make(map[string]bool)
	for i, s := range c.Sessions {
		field := fmt.Sprintf("sessions[%d]", i)
		if s.Name == "" {
			return &errs.ConfigError{Field: field + ".name", Value: s.Name, Reason: "required"}
		}
		if names[s.Name] {
			return &errs.ConfigError{Field: field + ".name", Value: s.Name, Reason: "duplicate session name"}
		}
		names[s.Name] = true
		if !binance.ValidInterval(s.Interval) {
			return &errs.ConfigError{Field: field + ".interval", Value: s.Interval, Reason: "not a Binance interval"}
		}
		if s.HTFInterval != "" && !binance.ValidInterval(s.HTFInterval) {
			return &errs.ConfigError{Field: field + ".htf_interval", Value: s.HTFInterval, Reason: "not a Binance interval"}
		}
		if m := strings.ToLower(s.Mode); m != "" && m != string(analysis.ModeCRT) && m != string(analysis.ModeSMC) {
			return &errs.ConfigError{Field: field + ".mode", Value: s.Mode, Reason: "must be crt or smc"}
		}
		cmd := session.Command{Type: session.CmdChangePair, Pair: strings.ToUpper(s.Pair)}
		if err := cmd.Validate(); err != nil {
			return &errs.ConfigError{Field: field + ".pair", Value: s.Pair, Reason: "must match ^[A-Z0-9]{5,20}$"}
		}
	}

	if err := c.Lifecycle().Validate(); err != nil {
		return err
	}
	t := c.TradingConfig
	if t.PartialFraction < 0 || t.PartialFraction > 1 {
		return &errs.ConfigError{Field: "trading.partial_fraction", Value: t.PartialFraction, Reason: "must be in [0, 1]"}
	}
	if t.ProfitLockFraction < 0 || t.ProfitLockFraction > 1 {
		return &errs.ConfigError{Field: "trading.profit_lock_fraction", Value: t.ProfitLockFraction, Reason: "must be in [0, 1]"}
	}
	if t.MaxMarginFraction <= 0 || t.MaxMarginFraction > 1 {
		return &errs.ConfigError{Field: "trading.max_margin_fraction", Value: t.MaxMarginFraction, Reason: "must be in (0, 1]"}
	}
	if c.CircuitBreakerConfig.MaxDrawdownPercent < 0 || c.CircuitBreakerConfig.MaxDrawdownPercent > 100 {
		return &errs.ConfigError{Field: "circuit_breaker.max_drawdown_percent", Value: c.CircuitBreakerConfig.MaxDrawdownPercent, Reason: "must be in [0, 100]"}
	}
	if c.WorkerConfig.PoolSize < 1 {
		return &errs.ConfigError{Field: "workers.pool_size", Value: c.WorkerConfig.PoolSize, Reason: "must be >= 1"}
	}
	if c.BinanceConfig.Paper && c.BinanceConfig.PaperBalance <= 0 {
		return &errs.ConfigError{Field: "binance.paper_balance", Value: c.BinanceConfig.PaperBalance, Reason: "must be positive"}
	}
	if c.ServerConfig.Enabled && (c.ServerConfig.Port <= 0 || c.ServerConfig.Port > 65535) {
		return &errs.ConfigError{Field: "server.port", Value: c.ServerConfig.Port, Reason: "must be a TCP port"}
	}
	return nil
}

// Lifecycle builds the trade lifecycle configuration
func (c *Config) Lifecycle() lifecycle.Config {
	t := c.TradingConfig
	lc := lifecycle.DefaultConfig()
	lc.MinConfidence = t.MinConfidence
	lc.MinATR = t.MinATR
	lc.MinTimeBetweenTrades = time.Duration(t.MinSecondsBetween) * time.Second
	lc.LossCooldown = time.Duration(t.LossCooldownSeconds) * time.Second
	lc.MaxHold = time.Duration(t.MaxHoldMinutes) * time.Minute
	lc.MaxTradesPerDay = t.MaxTradesPerDay
	lc.TargetWins = t.TargetWins
	lc.TargetLosses = t.TargetLosses
	lc.SessionFilter = t.SessionFilter
	lc.ReversalMinConfidence = t.ReversalMinConfidence
	lc.ReversalVolumeRatio = t.ReversalVolumeRatio
	lc.ReversalCandles = t.ReversalCandles
	lc.Sizing.RiskPercent = t.RiskPercent
	lc.Sizing.Leverage = t.Leverage
	lc.Sizing.MaxMarginFraction = t.MaxMarginFraction
	lc.Sizing.MinQty = t.MinQty
	lc.Stops.PartialAtR = t.PartialAtR
	lc.Stops.PartialFraction = t.PartialFraction
	lc.Stops.BreakevenBuffer = t.BreakevenBuffer
	lc.Stops.ProfitLockAtR = t.ProfitLockAtR
	lc.Stops.ProfitLockFraction = t.ProfitLockFraction
	lc.Stops.TrailATRMultiplier = t.TrailATRMultiplier
	return lc
}

// Session builds the session configuration for entry i
func (c *Config) Session(i int) session.Config {
	s := c.Sessions[i]
	sc := session.DefaultConfig()
	sc.Pair = strings.ToUpper(s.Pair)
	sc.Interval = s.Interval
	sc.HTFInterval = s.HTFInterval
	sc.Mode = analysis.ParseMode(s.Mode)
	if s.HistoryLimit > 0 {
		sc.HistoryLimit = s.HistoryLimit
	}
	sc.Lifecycle = c.Lifecycle()
	sc.Breaker = c.CircuitBreakerConfig
	return sc
}

// Timeout returns the exchange call timeout
func (b BinanceConfig) Timeout() time.Duration {
	if b.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(b.TimeoutSeconds) * time.Second
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// GenerateSampleConfig writes the defaults as JSON, or TOML for a .toml name
func GenerateSampleConfig(filename string) error {
	cfg := DefaultConfig()
	cfg.Sessions = append(cfg.Sessions, SessionConfig{
		Name:         "eth-smc",
		Pair:         "ETHUSDT",
		Interval:     "1m",
		Mode:         string(analysis.ModeSMC),
		HistoryLimit: 500,
	})

	if strings.ToLower(filepath.Ext(filename)) == ".toml" {
		f, err := os.Create(filename)
		if err != nil {
			return err
		}
		defer f.Close()
		return toml.NewEncoder(f).Encode(cfg)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}
