package lifecycle

import (
	"time"

	"crt-trading-engine/internal/circuit"
	"crt-trading-engine/internal/errs"
	"crt-trading-engine/internal/risk"
)

// Config holds entry gates, limits and exit settings
type Config struct {
	MinConfidence        float64       `json:"minConfidence"`
	MinTimeBetweenTrades time.Duration `json:"minTimeBetweenTrades"`
	LossCooldown         time.Duration `json:"lossCooldown"`
	MinATR               float64       `json:"minAtr"`
	MaxHold              time.Duration `json:"maxHold"` // 0 disables the timeout exit

	MaxTradesPerDay int `json:"maxTradesPerDay"`
	TargetWins      int `json:"targetWins"`
	TargetLosses    int `json:"targetLosses"`

	SessionFilter []string `json:"sessionFilter"` // empty allows every session

	ReversalMinConfidence float64 `json:"reversalMinConfidence"`
	ReversalVolumeRatio   float64 `json:"reversalVolumeRatio"`
	ReversalCandles       int     `json:"reversalCandles"`

	HistorySize int `json:"historySize"`

	Sizing risk.SizingConfig `json:"sizing"`
	Stops  risk.StopConfig   `json:"stops"`
}

// DefaultConfig returns the validated defaults
func DefaultConfig() Config {
	return Config{
		MinConfidence:         80,
		MinTimeBetweenTrades:  10 * time.Second,
		LossCooldown:          60 * time.Second,
		MinATR:                5,
		MaxHold:               4 * time.Hour,
		MaxTradesPerDay:       10,
		TargetWins:            5,
		TargetLosses:          3,
		ReversalMinConfidence: 80,
		ReversalVolumeRatio:   1.2,
		ReversalCandles:       2,
		HistorySize:           50,
		Sizing:                risk.DefaultSizingConfig(),
		Stops:                 risk.DefaultStopConfig(),
	}
}

// Validate checks the full configuration
func (c Config) Validate() error {
	riskPct, lev, conf, atr := c.Sizing.RiskPercent, c.Sizing.Leverage, c.MinConfidence, c.MinATR
	hold := int(c.MaxHold / time.Minute)
	s := Settings{
		RiskPercent:   &riskPct,
		Leverage:      &lev,
		MinConfidence: &conf,
		MinATR:        &atr,
		MaxHoldMinute: &hold,
		MaxTrades:     &c.MaxTradesPerDay,
		TargetWins:    &c.TargetWins,
		TargetLosses:  &c.TargetLosses,
	}
	if err := s.Validate(); err != nil {
		return err
	}
	if c.ReversalCandles < 0 {
		return &errs.ConfigError{Field: "reversalCandles", Value: c.ReversalCandles, Reason: "must be >= 0"}
	}
	return nil
}

// Settings is a partial update; nil fields are left unchanged
type Settings struct {
	RiskPercent   *float64 `json:"riskPercent,omitempty"`
	Leverage      *float64 `json:"leverage,omitempty"`
	MinConfidence *float64 `json:"minConfidence,omitempty"`
	MinATR        *float64 `json:"minAtr,omitempty"`
	MaxHoldMinute *int     `json:"maxHoldMinutes,omitempty"`
	MaxTrades     *int     `json:"maxTradesPerDay,omitempty"`
	TargetWins    *int     `json:"targetWins,omitempty"`
	TargetLosses  *int     `json:"targetLosses,omitempty"`
	SessionFilter []string `json:"sessionFilter,omitempty"`

	// circuit breaker limits
	BreakerEnabled       *bool    `json:"breakerEnabled,omitempty"`
	MaxConsecutiveLosses *int     `json:"maxConsecutiveLosses,omitempty"`
	MaxDrawdownPercent   *float64 `json:"maxDrawdownPercent,omitempty"`
}

// Validate checks bounds without applying anything
func (s Settings) Validate() error {
	if s.RiskPercent != nil && (*s.RiskPercent <= 0 || *s.RiskPercent > 100) {
		return &errs.ConfigError{Field: "riskPercent", Value: *s.RiskPercent, Reason: "must be in (0, 100]"}
	}
	if s.Leverage != nil && (*s.Leverage < 1 || *s.Leverage > 125) {
		return &errs.ConfigError{Field: "leverage", Value: *s.Leverage, Reason: "must be in [1, 125]"}
	}
	if s.MinConfidence != nil && (*s.MinConfidence < 0 || *s.MinConfidence > 100) {
		return &errs.ConfigError{Field: "minConfidence", Value: *s.MinConfidence, Reason: "must be in [0, 100]"}
	}
	if s.MinATR != nil && *s.MinATR < 0 {
		return &errs.ConfigError{Field: "minAtr", Value: *s.MinATR, Reason: "must be >= 0"}
	}
	if s.MaxHoldMinute != nil && *s.MaxHoldMinute < 0 {
		return &errs.ConfigError{Field: "maxHoldMinutes", Value: *s.MaxHoldMinute, Reason: "must be >= 0"}
	}
	for name, v := range map[string]*int{"maxTradesPerDay": s.MaxTrades, "targetWins": s.TargetWins, "targetLosses": s.TargetLosses} {
		if v != nil && *v < 0 {
			return &errs.ConfigError{Field: name, Value: *v, Reason: "must be >= 0"}
		}
	}
	if s.MaxConsecutiveLosses != nil && *s.MaxConsecutiveLosses < 1 {
		return &errs.ConfigError{Field: "maxConsecutiveLosses", Value: *s.MaxConsecutiveLosses, Reason: "must be >= 1"}
	}
	if s.MaxDrawdownPercent != nil && (*s.MaxDrawdownPercent <= 0 || *s.MaxDrawdownPercent > 100) {
		return &errs.ConfigError{Field: "maxDrawdownPercent", Value: *s.MaxDrawdownPercent, Reason: "must be in (0, 100]"}
	}
	return nil
}

func (s Settings) touchesBreaker() bool {
	return s.BreakerEnabled != nil || s.MaxConsecutiveLosses != nil || s.MaxDrawdownPercent != nil
}

// applyBreaker pushes the breaker fields of s into cb. s must be valid.
func (s Settings) applyBreaker(cb *circuit.CircuitBreaker) {
	var limits circuit.Config
	if s.MaxConsecutiveLosses != nil {
		limits.MaxConsecutiveLosses = *s.MaxConsecutiveLosses
	}
	if s.MaxDrawdownPercent != nil {
		limits.MaxDrawdownPercent = *s.MaxDrawdownPercent
	}
	cb.UpdateConfig(limits)
	if s.BreakerEnabled != nil {
		cb.SetEnabled(*s.BreakerEnabled)
	}
}

// apply merges s into cfg. s must be valid.
func (s Settings) apply(cfg Config) Config {
	if s.RiskPercent != nil {
		cfg.Sizing.RiskPercent = *s.RiskPercent
	}
	if s.Leverage != nil {
		cfg.Sizing.Leverage = *s.Leverage
	}
	if s.MinConfidence != nil {
		cfg.MinConfidence = *s.MinConfidence
	}
	if s.MinATR != nil {
		cfg.MinATR = *s.MinATR
	}
	if s.MaxHoldMinute != nil {
		cfg.MaxHold = time.Duration(*s.MaxHoldMinute) * time.Minute
	}
	if s.MaxTrades != nil {
		cfg.MaxTradesPerDay = *s.MaxTrades
	}
	if s.TargetWins != nil {
		cfg.TargetWins = *s.TargetWins
	}
	if s.TargetLosses != nil {
		cfg.TargetLosses = *s.TargetLosses
	}
	if s.SessionFilter != nil {
		cfg.SessionFilter = append([]string(nil), s.SessionFilter...)
	}
	return cfg
}
