package risk

import (
	"fmt"
	"math"
)

// StopConfig holds stop adjustment configuration
type StopConfig struct {
	PartialAtR         float64 `json:"partialAtR"`         // R multiple that triggers the partial close
	PartialFraction    float64 `json:"partialFraction"`    // Share of the position closed
	BreakevenBuffer    float64 `json:"breakevenBuffer"`    // Stop sits this fraction past entry
	ProfitLockAtR      float64 `json:"profitLockAtR"`      // R multiple that triggers the lock
	ProfitLockFraction float64 `json:"profitLockFraction"` // Share of unrealized profit protected
	TrailATRMultiplier float64 `json:"trailAtrMultiplier"` // 0 disables the ATR trail
}

// DefaultStopConfig returns the validated defaults
func DefaultStopConfig() StopConfig {
	return StopConfig{
		PartialAtR:         0.6,
		PartialFraction:    0.5,
		BreakevenBuffer:    0.0005,
		ProfitLockAtR:      0.8,
		ProfitLockFraction: 0.5,
		TrailATRMultiplier: 2,
	}
}

// StopState is the stop-relevant view of an open position
type StopState struct {
	Long         bool
	Entry        float64
	InitialStop  float64
	CurrentStop  float64
	PartialTaken bool
	BreakevenSet bool
}

// R returns the reward at price in multiples of the initial risk
func (s StopState) R(price float64) float64 {
	risk := math.Abs(s.Entry - s.InitialStop)
	if risk == 0 {
		return 0
	}
	if s.Long {
		return (price - s.Entry) / risk
	}
	return (s.Entry - price) / risk
}

// better reports whether candidate tightens the stop in the position's favor
func (s StopState) better(candidate, than float64) bool {
	if math.IsNaN(candidate) || candidate <= 0 {
		return false
	}
	if s.Long {
		return candidate > than
	}
	return candidate < than
}

// StopUpdate is the outcome of one evaluation. NewStop == old stop when !Moved.
type StopUpdate struct {
	R           float64
	OldStop     float64
	NewStop     float64
	Moved       bool
	TakePartial bool
	Breakeven   bool
	ProfitLock  bool
	Trailed     bool
	Reasons     []string
}

// StopAdjuster computes partial closes and stop moves. It never loosens a stop.
type StopAdjuster struct {
	cfg StopConfig
}

// NewStopAdjuster creates an adjuster
func NewStopAdjuster(cfg StopConfig) *StopAdjuster {
	return &StopAdjuster{cfg: cfg}
}

// Config returns the adjuster configuration
func (a *StopAdjuster) Config() StopConfig { return a.cfg }

// Evaluate returns the adjustments due at price. It does not mutate s.
func (a *StopAdjuster) Evaluate(s StopState, price, atr float64) StopUpdate {
	u := StopUpdate{R: s.R(price), OldStop: s.CurrentStop, NewStop: s.CurrentStop}
	if price <= 0 || math.IsNaN(price) {
		return u
	}

	sign := 1.0
	if !s.Long {
		sign = -1.0
	}
	propose := func(candidate float64, reason string) bool {
		if !s.better(candidate, u.NewStop) {
			return false
		}
		u.NewStop = candidate
		u.Reasons = append(u.Reasons, reason)
		return true
	}

	breakeven := s.BreakevenSet
	if a.cfg.PartialAtR > 0 && !s.PartialTaken && u.R >= a.cfg.PartialAtR {
		u.TakePartial = true
		be := s.Entry * (1 + sign*a.cfg.BreakevenBuffer)
		if propose(be, fmt.Sprintf("breakeven at %.2fR", u.R)) {
			u.Breakeven = true
			breakeven = true
		}
	}

	if a.cfg.ProfitLockAtR > 0 && u.R >= a.cfg.ProfitLockAtR {
		lock := s.Entry + a.cfg.ProfitLockFraction*(price-s.Entry)
		if propose(lock, fmt.Sprintf("profit lock %.0f%% at %.2fR", a.cfg.ProfitLockFraction*100, u.R)) {
			u.ProfitLock = true
		}
	}

	if a.cfg.TrailATRMultiplier > 0 && atr > 0 && breakeven {
		trail := price - sign*a.cfg.TrailATRMultiplier*atr
		if propose(trail, fmt.Sprintf("ATR trail %.1fx", a.cfg.TrailATRMultiplier)) {
			u.Trailed = true
		}
	}

	u.Moved = u.NewStop != u.OldStop
	return u
}
