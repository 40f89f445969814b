package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"crt-trading-engine/internal/analysis"
	"crt-trading-engine/internal/errs"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected defaults to validate, got %v", err)
	}
	lc := cfg.Lifecycle()
	if lc.MinConfidence != 80 || lc.LossCooldown != 60*time.Second || lc.MaxHold != 4*time.Hour {
		t.Errorf("Expected lifecycle defaults to round-trip, got %+v", lc)
	}
}

func TestLoadJSONAndTOML(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "config.json")
	os.WriteFile(jsonPath, []byte(`{
		"sessions": [{"name": "eth", "pair": "ethusdt", "interval": "15m", "mode": "smc"}],
		"trading": {"risk_percent": 2, "leverage": 5}
	}`), 0644)

	tomlPath := filepath.Join(dir, "config.toml")
	os.WriteFile(tomlPath, []byte(`
[[sessions]]
name = "sol"
pair = "SOLUSDT"
interval = "1h"
htf_interval = "1d"

[trading]
min_confidence = 85.0
`), 0644)

	cfg, err := Load(jsonPath)
	if err != nil {
		t.Fatalf("Load JSON failed: %v", err)
	}
	sc := cfg.Session(0)
	if sc.Pair != "ETHUSDT" || sc.Interval != "15m" || sc.Mode != analysis.ModeSMC {
		t.Errorf("Expected ETHUSDT 15m smc, got %s %s %s", sc.Pair, sc.Interval, sc.Mode)
	}
	if sc.Lifecycle.Sizing.RiskPercent != 2 || sc.Lifecycle.Sizing.Leverage != 5 {
		t.Errorf("Expected sizing overrides, got %+v", sc.Lifecycle.Sizing)
	}
	// unspecified fields keep their defaults
	if sc.Lifecycle.MinATR != 5 {
		t.Errorf("Expected default min ATR 5, got %v", sc.Lifecycle.MinATR)
	}

	cfg, err = Load(tomlPath)
	if err != nil {
		t.Fatalf("Load TOML failed: %v", err)
	}
	if cfg.Sessions[0].Name != "sol" || cfg.Session(0).HTF() != "1d" {
		t.Errorf("Expected sol session with 1d HTF, got %+v", cfg.Sessions[0])
	}
	if cfg.TradingConfig.MinConfidence != 85 {
		t.Errorf("Expected min confidence 85, got %v", cfg.TradingConfig.MinConfidence)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Expected defaults for a missing file, got %v", err)
	}
	if len(cfg.Sessions) != 1 || cfg.Sessions[0].Pair != "BTCUSDT" {
		t.Errorf("Expected default session, got %+v", cfg.Sessions)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TRADING_PAIR", "bnbusdt")
	t.Setenv("RISK_PERCENT", "0.5")
	t.Setenv("BINANCE_API_KEY", "env-key")
	t.Setenv("SERVER_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("AUTO_TRADING", "true")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Sessions[0].Pair != "BNBUSDT" || !cfg.Sessions[0].AutoTrading {
		t.Errorf("Expected BNBUSDT with auto-trading, got %+v", cfg.Sessions[0])
	}
	if cfg.TradingConfig.RiskPercent != 0.5 {
		t.Errorf("Expected risk 0.5, got %v", cfg.TradingConfig.RiskPercent)
	}
	if cfg.BinanceConfig.APIKey != "env-key" {
		t.Errorf("Expected API key from env")
	}
	if len(cfg.ServerConfig.AllowedOrigins) != 2 || cfg.ServerConfig.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("Expected two origins, got %v", cfg.ServerConfig.AllowedOrigins)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"no sessions", func(c *Config) { c.Sessions = nil }, "sessions"},
		{"bad pair", func(c *Config) { c.Sessions[0].Pair = "BTC" }, "sessions[0].pair"},
		{"bad interval", func(c *Config) { c.Sessions[0].Interval = "2m" }, "sessions[0].interval"},
		{"bad mode", func(c *Config) { c.Sessions[0].Mode = "ict" }, "sessions[0].mode"},
		{"duplicate name", func(c *Config) { c.Sessions = append(c.Sessions, c.Sessions[0]) }, "sessions[1].name"},
		{"risk", func(c *Config) { c.TradingConfig.RiskPercent = 0 }, "riskPercent"},
		{"leverage", func(c *Config) { c.TradingConfig.Leverage = 200 }, "leverage"},
		{"confidence", func(c *Config) { c.TradingConfig.MinConfidence = 120 }, "minConfidence"},
		{"pool", func(c *Config) { c.WorkerConfig.PoolSize = 0 }, "workers.pool_size"},
		{"paper balance", func(c *Config) { c.BinanceConfig.PaperBalance = 0 }, "binance.paper_balance"},
		{"partial fraction", func(c *Config) { c.TradingConfig.PartialFraction = 1.5 }, "trading.partial_fraction"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			var ce *errs.ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("Expected ConfigError, got %v", err)
			}
			if ce.Field != tt.field {
				t.Errorf("Expected field %s, got %s", tt.field, ce.Field)
			}
		})
	}
}

func TestGenerateSampleConfig(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"config.sample.json", "config.sample.toml"} {
		path := filepath.Join(dir, name)
		if err := GenerateSampleConfig(path); err != nil {
			t.Fatalf("GenerateSampleConfig(%s) failed: %v", name, err)
		}
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Expected %s to load back, got %v", name, err)
		}
		if len(cfg.Sessions) != 2 || cfg.Sessions[1].Mode != "smc" {
			t.Errorf("%s: expected two sessions, got %+v", name, cfg.Sessions)
		}
	}
}
