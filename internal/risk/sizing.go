// Package risk holds position sizing and stop management for one position.
package risk

import (
	"errors"
	"math"
)

var (
	ErrInvalidStop         = errors.New("stop loss equals entry")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrBelowMinimum        = errors.New("position size below exchange minimum")
)

// SizingConfig holds position sizing configuration
type SizingConfig struct {
	RiskPercent       float64 `json:"riskPercent"`       // Percentage of balance to risk per trade
	Leverage          float64 `json:"leverage"`          // Futures leverage
	MaxMarginFraction float64 `json:"maxMarginFraction"` // Max share of balance committed as margin
	MinQty            float64 `json:"minQty"`            // Exchange minimum quantity
}

// DefaultSizingConfig returns safe defaults
func DefaultSizingConfig() SizingConfig {
	return SizingConfig{
		RiskPercent:       1.0,
		Leverage:          10,
		MaxMarginFraction: 0.95,
		MinQty:            0.001,
	}
}

// SizeResult is a computed position size
type SizeResult struct {
	Size       float64 `json:"size"`
	Notional   float64 `json:"notional"`
	Margin     float64 `json:"margin"`
	RiskAmount float64 `json:"riskAmount"`
	Clamped    bool    `json:"clamped"`
}

// CalculatePositionSize sizes a position so that a stop-out loses RiskPercent
// of balance: size = balance x risk% / |entry - stop|. When the required
// margin exceeds MaxMarginFraction of balance the size is clamped down; a
// clamped size below MinQty is rejected.
func CalculatePositionSize(balance, entry, stop float64, cfg SizingConfig) (SizeResult, error) {
	if balance <= 0 || math.IsNaN(balance) {
		return SizeResult{}, ErrInsufficientBalance
	}
	if entry <= 0 || stop <= 0 {
		return SizeResult{}, ErrInvalidStop
	}
	riskPerUnit := math.Abs(entry - stop)
	if riskPerUnit == 0 {
		return SizeResult{}, ErrInvalidStop
	}

	leverage := cfg.Leverage
	if leverage < 1 {
		leverage = 1
	}
	maxFrac := cfg.MaxMarginFraction
	if maxFrac <= 0 || maxFrac > 1 {
		maxFrac = 0.95
	}

	res := SizeResult{RiskAmount: balance * cfg.RiskPercent / 100}
	res.Size = res.RiskAmount / riskPerUnit
	res.Margin = res.Size * entry / leverage

	if capacity := balance * maxFrac; res.Margin > capacity {
		res.Size = capacity * leverage / entry
		res.Margin = capacity
		res.Clamped = true
	}
	if res.Size <= 0 || res.Size < cfg.MinQty {
		return res, ErrBelowMinimum
	}

	res.Notional = res.Size * entry
	res.RiskAmount = res.Size * riskPerUnit
	return res, nil
}
