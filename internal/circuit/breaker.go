package circuit

import (
	"fmt"
	"math"
	"sync"
	"time"

	"crt-trading-engine/internal/events"
)

// BreakerState represents the circuit breaker state
type BreakerState string

const (
	StateClosed BreakerState = "closed" // Normal operation
	StateOpen   BreakerState = "open"   // Trading halted until manual reset
)

// Config holds circuit breaker configuration
type Config struct {
	Enabled              bool    `json:"enabled" toml:"enabled"`
	MaxConsecutiveLosses int     `json:"maxConsecutiveLosses" toml:"max_consecutive_losses"` // Max losing trades in a row
	MaxDrawdownPercent   float64 `json:"maxDrawdownPercent" toml:"max_drawdown_percent"`     // Max drop from initial balance, in %
}

// DefaultConfig returns safe defaults
func DefaultConfig() Config {
	return Config{
		Enabled:              true,
		MaxConsecutiveLosses: 4,
		MaxDrawdownPercent:   3.0,
	}
}

// Stats is a point-in-time view of the breaker
type Stats struct {
	State             BreakerState `json:"state"`
	ConsecutiveLosses int          `json:"consecutiveLosses"`
	InitialBalance    float64      `json:"initialBalance"`
	Balance           float64      `json:"balance"`
	DrawdownPercent   float64      `json:"drawdownPercent"`
	TripReason        string       `json:"tripReason,omitempty"`
	LastTripTime      time.Time    `json:"lastTripTime,omitempty"`
}

// CircuitBreaker halts trading after a losing streak or a drawdown from the
// initial balance. Once open it stays open until ForceReset.
type CircuitBreaker struct {
	config            Config
	state             BreakerState
	consecutiveLosses int
	initialBalance    float64
	balance           float64
	lastTripTime      time.Time
	tripReason        string
	mu                sync.RWMutex
	onTrip            func(reason string)
	onReset           func()
	bus               *events.EventBus
	session           string
	now               func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker. bus may be nil.
func NewCircuitBreaker(config Config, initialBalance float64, bus *events.EventBus, session string) *CircuitBreaker {
	return &CircuitBreaker{
		config:         config,
		state:          StateClosed,
		initialBalance: initialBalance,
		balance:        initialBalance,
		bus:            bus,
		session:        session,
		now:            time.Now,
	}
}

// OnTrip sets callback for when breaker trips. It runs on the caller's goroutine.
func (cb *CircuitBreaker) OnTrip(handler func(reason string)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onTrip = handler
}

// OnReset sets callback for when breaker resets
func (cb *CircuitBreaker) OnReset(handler func()) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onReset = handler
}

// SetClock replaces the time source
func (cb *CircuitBreaker) SetClock(now func() time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.now = now
}

// CanTrade checks if trading is allowed
func (cb *CircuitBreaker) CanTrade() (bool, string) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	if !cb.config.Enabled {
		return true, ""
	}
	if cb.state == StateOpen {
		return false, fmt.Sprintf("circuit breaker open (reason: %s)", cb.tripReason)
	}
	return true, ""
}

// RecordTrade records a closed trade's realized P&L and the balance after it.
// A P&L of zero counts as a loss. Returns true when this trade tripped the breaker.
func (cb *CircuitBreaker) RecordTrade(pnl, balanceAfter float64) bool {
	if math.IsNaN(pnl) || math.IsInf(pnl, 0) || math.IsNaN(balanceAfter) {
		return false
	}

	cb.mu.Lock()
	if pnl > 0 {
		cb.consecutiveLosses = 0
	} else {
		cb.consecutiveLosses++
	}
	cb.balance = balanceAfter

	var reason string
	if cb.config.Enabled && cb.state == StateClosed {
		reason = cb.checkTrip()
		if reason != "" {
			cb.trip(reason)
		}
	}
	onTrip := cb.onTrip
	cb.mu.Unlock()

	if reason == "" {
		return false
	}
	if onTrip != nil {
		onTrip(reason)
	}
	cb.bus.PublishCircuitBreaker(cb.session, true, reason)
	return true
}

// UpdateBalance refreshes the tracked balance without recording a trade
func (cb *CircuitBreaker) UpdateBalance(balance float64) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.balance = balance
}

// checkTrip returns the trip reason, if any
func (cb *CircuitBreaker) checkTrip() string {
	if cb.config.MaxConsecutiveLosses > 0 && cb.consecutiveLosses >= cb.config.MaxConsecutiveLosses {
		return fmt.Sprintf("consecutive losses: %d", cb.consecutiveLosses)
	}
	if dd := cb.drawdown(); cb.config.MaxDrawdownPercent > 0 && dd >= cb.config.MaxDrawdownPercent {
		return fmt.Sprintf("drawdown: %.2f%%", dd)
	}
	return ""
}

func (cb *CircuitBreaker) drawdown() float64 {
	if cb.initialBalance <= 0 {
		return 0
	}
	return (cb.initialBalance - cb.balance) * 100 / cb.initialBalance
}

// trip opens the circuit breaker
func (cb *CircuitBreaker) trip(reason string) {
	cb.state = StateOpen
	cb.lastTripTime = cb.now()
	cb.tripReason = reason
}

// ForceReset manually resets the circuit breaker. A positive balance becomes
// the new drawdown reference.
func (cb *CircuitBreaker) ForceReset(balance float64) {
	cb.mu.Lock()
	cb.state = StateClosed
	cb.consecutiveLosses = 0
	cb.tripReason = ""
	if balance > 0 {
		cb.initialBalance = balance
		cb.balance = balance
	}
	onReset := cb.onReset
	cb.mu.Unlock()

	if onReset != nil {
		onReset()
	}
	cb.bus.PublishCircuitBreaker(cb.session, false, "manual_reset")
}

// Restore seeds the losing streak from persisted counters
func (cb *CircuitBreaker) Restore(consecutiveLosses int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveLosses = consecutiveLosses
	if cb.config.Enabled {
		if reason := cb.checkTrip(); reason != "" {
			cb.trip(reason)
		}
	}
}

// GetState returns current breaker state
func (cb *CircuitBreaker) GetState() BreakerState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// ConsecutiveLosses returns the current losing streak
func (cb *CircuitBreaker) ConsecutiveLosses() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.consecutiveLosses
}

// GetStats returns current statistics
func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	return Stats{
		State:             cb.state,
		ConsecutiveLosses: cb.consecutiveLosses,
		InitialBalance:    cb.initialBalance,
		Balance:           cb.balance,
		DrawdownPercent:   cb.drawdown(),
		TripReason:        cb.tripReason,
		LastTripTime:      cb.lastTripTime,
	}
}

// GetConfig returns a copy of the current configuration
func (cb *CircuitBreaker) GetConfig() Config {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.config
}

// UpdateConfig replaces the positive limits in updates; Enabled is ignored,
// use SetEnabled. New limits apply from the next recorded trade.
func (cb *CircuitBreaker) UpdateConfig(updates Config) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if updates.MaxConsecutiveLosses > 0 {
		cb.config.MaxConsecutiveLosses = updates.MaxConsecutiveLosses
	}
	if updates.MaxDrawdownPercent > 0 {
		cb.config.MaxDrawdownPercent = updates.MaxDrawdownPercent
	}
}

// SetEnabled enables or disables the circuit breaker. Disabling does not
// close an open breaker; ForceReset does.
func (cb *CircuitBreaker) SetEnabled(enabled bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.config.Enabled = enabled
}
