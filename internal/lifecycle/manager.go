// Package lifecycle owns the single open position of a session: entry gates,
// sizing, order execution, per-tick stop management and exits.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"crt-trading-engine/internal/binance"
	"crt-trading-engine/internal/candles"
	"crt-trading-engine/internal/circuit"
	"crt-trading-engine/internal/errs"
	"crt-trading-engine/internal/events"
	"crt-trading-engine/internal/logging"
	"crt-trading-engine/internal/risk"
	"crt-trading-engine/internal/signal"
	"crt-trading-engine/internal/state"
)

// ErrRejected matches every entry gate rejection
var ErrRejected = errors.New("entry rejected")

// RejectError names the gate that refused an entry
type RejectError struct {
	Gate   string
	Reason string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("entry rejected by %s: %s", e.Gate, e.Reason)
}

func (e *RejectError) Is(target error) bool { return target == ErrRejected }

func reject(gate, format string, args ...interface{}) error {
	return &RejectError{Gate: gate, Reason: fmt.Sprintf(format, args...)}
}

// OutcomeSink receives closed trade outcomes without blocking
type OutcomeSink interface {
	Offer(o signal.Outcome) bool
}

// Deps are the manager's collaborators. Gateway is required.
type Deps struct {
	Gateway  binance.OrderGateway
	Breaker  *circuit.CircuitBreaker
	Store    state.Store
	Feedback OutcomeSink
	Bus      *events.EventBus
	Clock    func() time.Time
}

// Manager is the trade lifecycle state machine: Idle -> Open -> Idle, with
// Halted refusing entries until a manual reset
type Manager struct {
	mu sync.Mutex

	session  string
	pair     string
	cfg      Config
	adjuster *risk.StopAdjuster

	gateway  binance.OrderGateway
	breaker  *circuit.CircuitBreaker
	store    state.Store
	feedback OutcomeSink
	bus      *events.EventBus
	now      func() time.Time
	logger   *logging.Logger

	state       State
	autoTrading bool
	balance     float64
	position    *Position
	history     []Trade
	stats       PerformanceStats
	counters    state.DailyCounters
	lastTradeAt time.Time
	lastLossAt  time.Time
	lastError   string
}

// NewManager creates an Idle manager holding balance
func NewManager(session, pair string, cfg Config, balance float64, deps Deps) *Manager {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Store == nil {
		deps.Store = state.NewMemoryStore()
	}
	if deps.Breaker == nil {
		deps.Breaker = circuit.NewCircuitBreaker(circuit.DefaultConfig(), balance, deps.Bus, session)
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 50
	}
	day := state.DayKey(deps.Clock())
	m := &Manager{
		session:  session,
		pair:     pair,
		cfg:      cfg,
		adjuster: risk.NewStopAdjuster(cfg.Stops),
		gateway:  deps.Gateway,
		breaker:  deps.Breaker,
		store:    deps.Store,
		feedback: deps.Feedback,
		bus:      deps.Bus,
		now:      deps.Clock,
		logger:   logging.WithComponent("lifecycle").WithField("session", session),
		state:    StateIdle,
		balance:  balance,
		stats:    PerformanceStats{Date: day},
		counters: state.DailyCounters{Date: day},
	}

	// both callbacks run while m.mu is held by the caller
	cb := deps.Breaker
	cb.OnTrip(func(reason string) {
		st := cb.GetStats()
		m.logger.Warn("Circuit breaker tripped, trading halted", "reason", reason,
			"consecutiveLosses", st.ConsecutiveLosses, "balance", st.Balance)
	})
	cb.OnReset(func() {
		m.logger.Info("Circuit breaker reset, trading resumed", "balance", cb.GetStats().InitialBalance)
	})
	return m
}

// Restore loads persisted daily counters and seeds the breaker streak
func (m *Manager) Restore(ctx context.Context) error {
	c, err := m.store.Load(ctx)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return nil
		}
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = c
	if m.counters.Rollover(state.DayKey(m.now())) {
		m.saveLocked(ctx)
	}
	m.stats.Date = m.counters.Date
	m.stats.DailyTrades = m.counters.Trades
	m.stats.DailyWins = m.counters.Wins
	m.stats.DailyLosses = m.counters.Losses

	m.breaker.Restore(m.counters.ConsecutiveLosses)
	if m.breaker.GetState() == circuit.StateOpen {
		m.state = StateHalted
	}
	m.logger.Info("Daily counters restored", "date", c.Date, "trades", c.Trades, "consecutiveLosses", c.ConsecutiveLosses)
	return nil
}

// Pair returns the traded pair
func (m *Manager) Pair() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pair
}

// SetPair switches the traded pair. Refused while a position is open.
func (m *Manager) SetPair(pair string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.position != nil {
		return errs.ErrPositionOpen
	}
	m.pair = pair
	return nil
}

// State returns the current state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Balance returns the tracked balance
func (m *Manager) Balance() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance
}

// SetBalance replaces the tracked balance with an exchange reading. It is
// ignored while a position is open; returns whether it applied.
func (m *Manager) SetBalance(balance float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.position != nil || balance <= 0 || math.IsNaN(balance) {
		return false
	}
	m.balance = balance
	m.breaker.UpdateBalance(balance)
	return true
}

// SetAutoTrading enables or disables new entries
func (m *Manager) SetAutoTrading(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoTrading = on
}

// AutoTrading reports whether entries are enabled
func (m *Manager) AutoTrading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.autoTrading
}

// Config returns the current configuration
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// UpdateSettings validates then applies s, including its circuit breaker limits
func (m *Manager) UpdateSettings(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = s.apply(m.cfg)
	if s.touchesBreaker() {
		s.applyBreaker(m.breaker)
		bc := m.breaker.GetConfig()
		m.logger.Info("Circuit breaker settings updated", "enabled", bc.Enabled,
			"maxConsecutiveLosses", bc.MaxConsecutiveLosses, "maxDrawdownPercent", bc.MaxDrawdownPercent)
	}
	return nil
}

// Position returns a copy of the open position, or nil
func (m *Manager) Position() *Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.position == nil {
		return nil
	}
	p := *m.position
	return &p
}

// TryEnter runs every entry gate and, when all pass, sizes and executes sig
func (m *Manager) TryEnter(ctx context.Context, sig signal.Signal, mkt Market) (*Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.gateLocked(ctx, sig, mkt); err != nil {
		return nil, err
	}

	size, err := risk.CalculatePositionSize(m.balance, sig.Entry, sig.StopLoss, m.cfg.Sizing)
	if err != nil {
		return nil, reject("sizing", "%v", err)
	}

	side := binance.SideBuy
	if sig.Direction == signal.Short {
		side = binance.SideSell
	}

	// market entries fill against the candle the signal was read from
	if obs, ok := m.gateway.(binance.PriceObserver); ok && mkt.Candle.Close > 0 {
		obs.Observe(m.pair, mkt.Candle)
	}
	entryID, err := m.gateway.PlaceEntry(ctx, m.pair, side, size.Size, nil)
	if err != nil {
		if !errs.IsGateway(err) {
			err = &errs.GatewayError{Op: "entry", Pair: m.pair, Err: err}
		}
		m.lastError = err.Error()
		m.logger.Error("Entry order failed", "pair", m.pair, "error", err.Error())
		m.bus.PublishError(m.session, "entry", err)
		return nil, err
	}

	fill := sig.Entry
	if fr, ok := m.gateway.(binance.FillReporter); ok {
		if px, ok := fr.FillPrice(m.pair, entryID); ok {
			fill = px
		}
	}

	now := m.now()
	pos := &Position{
		ID:           uuid.NewString(),
		Pair:         m.pair,
		Direction:    sig.Direction,
		EntryPrice:   fill,
		Size:         size.Size,
		InitialSize:  size.Size,
		StopLoss:     sig.StopLoss,
		TakeProfit:   sig.TakeProfit,
		CurrentStop:  sig.StopLoss,
		Margin:       size.Margin,
		Leverage:     m.cfg.Sizing.Leverage,
		OpenedAt:     now,
		Status:       StatusOpen,
		EntryOrderID: entryID,
		CurrentPrice: fill,
		HighWater:    fill,
		LowWater:     fill,
		Signal:       sig,
	}
	logger := logging.TradeContext(m.pair, pos.ID, string(pos.Direction))
	if fill != sig.Entry {
		logger.Debug("Entry filled away from signal", "signal", sig.Entry, "fill", fill)
	}

	stopID, err := m.gateway.PlaceStop(ctx, m.pair, side.Opposite(), pos.CurrentStop, pos.Size)
	if err != nil {
		pos.NeedsAttention = true
		m.lastError = err.Error()
		logger.Error("Stop order failed after fill, will retry", "stop", pos.CurrentStop, "error", err.Error())
		m.bus.PublishError(m.session, "stop", err)
	} else {
		pos.StopOrderID = stopID
	}

	m.position = pos
	m.state = StateOpen
	m.lastTradeAt = now
	logger.Info("Position opened", "entry", pos.EntryPrice, "size", pos.Size, "stop", pos.CurrentStop,
		"target", pos.TakeProfit, "confidence", sig.Confidence, "setup", string(sig.Setup))
	m.publish(events.EventTradeOpened, *pos)

	out := *pos
	return &out, nil
}

// gateLocked applies the entry gates in order
func (m *Manager) gateLocked(ctx context.Context, sig signal.Signal, mkt Market) error {
	if m.state == StateHalted {
		return errs.ErrHalted
	}
	if ok, reason := m.breaker.CanTrade(); !ok {
		m.state = StateHalted
		m.logger.Warn("Trading halted", "reason", reason)
		return errs.ErrHalted
	}
	if m.position != nil {
		return errs.ErrPositionOpen
	}
	if !m.autoTrading {
		return reject("auto-trading", "disabled")
	}
	if !sig.IsActionable() {
		return reject("direction", "neutral signal")
	}
	if sig.Confidence < m.cfg.MinConfidence {
		return reject("confidence", "%.1f < %.1f", sig.Confidence, m.cfg.MinConfidence)
	}

	now := m.now()
	if !m.lastTradeAt.IsZero() && now.Sub(m.lastTradeAt) < m.cfg.MinTimeBetweenTrades {
		return reject("rate", "last trade %s ago", now.Sub(m.lastTradeAt).Round(time.Second))
	}
	if !m.lastLossAt.IsZero() && now.Sub(m.lastLossAt) < m.cfg.LossCooldown {
		return reject("cooldown", "loss %s ago", now.Sub(m.lastLossAt).Round(time.Second))
	}
	if mkt.ATR < m.cfg.MinATR {
		return reject("atr", "%.4f < %.4f", mkt.ATR, m.cfg.MinATR)
	}

	m.rolloverLocked(ctx)
	if m.cfg.MaxTradesPerDay > 0 && m.counters.Trades >= m.cfg.MaxTradesPerDay {
		return reject("daily-limit", "%d trades today", m.counters.Trades)
	}
	if m.cfg.TargetWins > 0 && m.counters.Wins >= m.cfg.TargetWins {
		return reject("daily-limit", "win target %d reached", m.cfg.TargetWins)
	}
	if m.cfg.TargetLosses > 0 && m.counters.Losses >= m.cfg.TargetLosses {
		return reject("daily-limit", "loss limit %d reached", m.cfg.TargetLosses)
	}

	if len(m.cfg.SessionFilter) > 0 {
		session := mkt.Session
		if session == "" {
			session = candles.MarketSession(m.now())
		}
		allowed := false
		for _, s := range m.cfg.SessionFilter {
			if s == session {
				allowed = true
				break
			}
		}
		if !allowed {
			return reject("session", "%s not in filter", session)
		}
	}
	return nil
}

// OnTick updates the open position with the latest candle: retries a missing
// stop, checks exits (stop, target, timeout) then applies stop adjustments.
// It returns the closed trade when an exit happened.
func (m *Manager) OnTick(ctx context.Context, mkt Market) (*Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if obs, ok := m.gateway.(binance.PriceObserver); ok {
		obs.Observe(m.pair, mkt.Candle)
	}
	pos := m.position
	if pos == nil {
		return nil, nil
	}
	logger := logging.TradeContext(m.pair, pos.ID, string(pos.Direction))

	if pos.NeedsAttention {
		m.retryStopLocked(ctx, pos, logger)
	}

	c := mkt.Candle
	price := c.Close
	pos.CurrentPrice = price
	pos.HighWater = math.Max(pos.HighWater, c.High)
	pos.LowWater = math.Min(pos.LowWater, c.Low)
	pos.UnrealizedPnL = pos.pnlAt(price)

	if reason, exitPrice, ok := m.exitDue(pos, c); ok {
		return m.closeLocked(ctx, exitPrice, reason)
	}

	ss := risk.StopState{
		Long:         pos.IsLong(),
		Entry:        pos.EntryPrice,
		InitialStop:  pos.StopLoss,
		CurrentStop:  pos.CurrentStop,
		PartialTaken: pos.PartialTaken,
		BreakevenSet: pos.BreakevenSet,
	}
	u := m.adjuster.Evaluate(ss, price, mkt.ATR)

	partial := u.TakePartial && m.partialLocked(ctx, pos, price, logger)
	if partial && !u.Moved && pos.StopOrderID != "" {
		// resize the resting stop to the remaining quantity
		if err := m.replaceStopLocked(ctx, pos, pos.CurrentStop); err != nil {
			logger.Warn("Stop resize after partial failed", "error", err.Error())
		}
	}
	if u.Moved {
		if err := m.replaceStopLocked(ctx, pos, u.NewStop); err != nil {
			m.lastError = err.Error()
			logger.Warn("Stop adjustment failed, keeping previous stop", "stop", pos.CurrentStop, "proposed", u.NewStop, "error", err.Error())
		} else {
			if u.ProfitLock {
				pos.ProfitLocked = true
			}
			logger.Info("Stop moved", "from", u.OldStop, "to", u.NewStop, "r", u.R, "reasons", u.Reasons)
			m.publish(events.EventStopMoved, map[string]interface{}{
				"positionId": pos.ID, "from": u.OldStop, "to": u.NewStop, "reasons": u.Reasons,
			})
		}
	}
	if m.beyondBreakeven(pos) {
		pos.BreakevenSet = true
	}
	return nil, nil
}

// exitDue checks stop first, then target, then the holding timeout
func (m *Manager) exitDue(pos *Position, c candles.Candle) (ExitReason, float64, bool) {
	if pos.IsLong() {
		if c.Low <= pos.CurrentStop {
			return ExitSL, pos.CurrentStop, true
		}
		if c.High >= pos.TakeProfit {
			return ExitTP, pos.TakeProfit, true
		}
	} else {
		if c.High >= pos.CurrentStop {
			return ExitSL, pos.CurrentStop, true
		}
		if c.Low <= pos.TakeProfit {
			return ExitTP, pos.TakeProfit, true
		}
	}
	if m.cfg.MaxHold > 0 && m.now().Sub(pos.OpenedAt) >= m.cfg.MaxHold {
		return ExitTimeout, c.Close, true
	}
	return "", 0, false
}

func (m *Manager) beyondBreakeven(pos *Position) bool {
	if pos.IsLong() {
		return pos.CurrentStop >= pos.EntryPrice
	}
	return pos.CurrentStop <= pos.EntryPrice
}

func (m *Manager) partialLocked(ctx context.Context, pos *Position, price float64, logger *logging.Logger) bool {
	frac := m.cfg.Stops.PartialFraction
	if frac <= 0 || frac >= 1 {
		return false
	}
	if err := m.gateway.ClosePortion(ctx, m.pair, pos.EntryOrderID, frac); err != nil {
		m.lastError = err.Error()
		logger.Warn("Partial close failed, will retry", "error", err.Error())
		return false
	}
	closed := pos.Size * frac
	var pnl float64
	if pos.IsLong() {
		pnl = (price - pos.EntryPrice) * closed
	} else {
		pnl = (pos.EntryPrice - price) * closed
	}
	pos.Size -= closed
	pos.Margin -= closed * pos.EntryPrice / math.Max(pos.Leverage, 1)
	pos.RealizedPnL += pnl
	pos.PartialTaken = true
	pos.UnrealizedPnL = pos.pnlAt(price)
	m.balance += pnl

	logger.Info("Partial close", "fraction", frac, "price", price, "pnl", pnl, "remaining", pos.Size)
	m.publish(events.EventPartialClose, map[string]interface{}{
		"positionId": pos.ID, "price": price, "pnl": pnl, "remaining": pos.Size,
	})
	return true
}

// replaceStopLocked places the new stop before cancelling the old one so the
// position is never left unprotected
func (m *Manager) replaceStopLocked(ctx context.Context, pos *Position, stop float64) error {
	side := binance.SideSell
	if !pos.IsLong() {
		side = binance.SideBuy
	}
	id, err := m.gateway.PlaceStop(ctx, m.pair, side, stop, pos.Size)
	if err != nil {
		return err
	}
	if pos.StopOrderID != "" {
		if err := m.gateway.Cancel(ctx, m.pair, pos.StopOrderID); err != nil {
			m.logger.Warn("Cancel of replaced stop failed", "orderId", pos.StopOrderID, "error", err.Error())
		}
	}
	pos.StopOrderID = id
	pos.CurrentStop = stop
	return nil
}

func (m *Manager) retryStopLocked(ctx context.Context, pos *Position, logger *logging.Logger) {
	side := binance.SideSell
	if !pos.IsLong() {
		side = binance.SideBuy
	}
	id, err := m.gateway.PlaceStop(ctx, m.pair, side, pos.CurrentStop, pos.Size)
	if err != nil {
		m.lastError = err.Error()
		logger.Warn("Stop retry failed", "error", err.Error())
		return
	}
	pos.StopOrderID = id
	pos.NeedsAttention = false
	m.lastError = ""
	logger.Info("Stop placed on retry", "stop", pos.CurrentStop)
}

// OnSignal handles a fresh closed-candle signal: with a position open it
// checks for a confirmed reversal exit, otherwise it tries to enter
func (m *Manager) OnSignal(ctx context.Context, sig signal.Signal, mkt Market) (*Trade, *Position, error) {
	m.mu.Lock()
	pos := m.position
	if pos != nil {
		defer m.mu.Unlock()
		if m.reversalConfirmed(pos, sig, mkt) {
			t, err := m.closeLocked(ctx, mkt.Candle.Close, ExitReversal)
			return t, nil, err
		}
		return nil, nil, nil
	}
	m.mu.Unlock()

	if !sig.IsActionable() {
		return nil, nil, nil
	}
	p, err := m.TryEnter(ctx, sig, mkt)
	return nil, p, err
}

func (m *Manager) reversalConfirmed(pos *Position, sig signal.Signal, mkt Market) bool {
	if sig.Direction != pos.Direction.Opposite() || sig.Confidence < m.cfg.ReversalMinConfidence {
		return false
	}
	if mkt.VolumeRatio <= m.cfg.ReversalVolumeRatio {
		return false
	}
	n := m.cfg.ReversalCandles
	if n <= 0 {
		n = 2
	}
	if len(mkt.Recent) < n {
		return false
	}
	for _, c := range mkt.Recent[len(mkt.Recent)-n:] {
		if pos.IsLong() && !c.IsBearish() {
			return false
		}
		if !pos.IsLong() && !c.IsBullish() {
			return false
		}
	}
	return true
}

// ManualClose closes the open position at price, or at the last seen price when price <= 0
func (m *Manager) ManualClose(ctx context.Context, price float64) (*Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.position == nil {
		return nil, errs.ErrNoPosition
	}
	if price <= 0 {
		price = m.position.CurrentPrice
	}
	return m.closeLocked(ctx, price, ExitManual)
}

// closeLocked exits the position, realizes P&L and updates every counter.
// A gateway failure leaves the position open for the next tick.
func (m *Manager) closeLocked(ctx context.Context, price float64, reason ExitReason) (*Trade, error) {
	pos := m.position
	logger := logging.TradeContext(m.pair, pos.ID, string(pos.Direction))

	// a resting stop is filled by the exchange itself
	stopFilled := reason == ExitSL && pos.StopOrderID != "" && !pos.NeedsAttention
	if !stopFilled {
		if err := m.gateway.ClosePortion(ctx, m.pair, pos.EntryOrderID, 1); err != nil {
			if !errs.IsGateway(err) {
				err = &errs.GatewayError{Op: "close", Pair: m.pair, Err: err}
			}
			m.lastError = err.Error()
			logger.Error("Exit order failed, position kept", "reason", string(reason), "error", err.Error())
			m.bus.PublishError(m.session, "close", err)
			return nil, err
		}
		if pos.StopOrderID != "" {
			if err := m.gateway.Cancel(ctx, m.pair, pos.StopOrderID); err != nil {
				logger.Warn("Stop cancel after exit failed", "orderId", pos.StopOrderID, "error", err.Error())
			}
		}
	}

	final := pos.pnlAt(price)
	pnl := pos.RealizedPnL + final
	m.balance += final

	now := m.now()
	pos.Status = StatusClosed
	pos.CurrentPrice = price
	pos.UnrealizedPnL = 0
	initialMargin := pos.InitialSize * pos.EntryPrice / math.Max(pos.Leverage, 1)
	trade := Trade{
		Position:   *pos,
		ExitPrice:  price,
		ExitReason: reason,
		PnL:        pnl,
		Win:        pnl > 0,
		ClosedAt:   now,
	}
	if initialMargin > 0 {
		trade.PnLPercent = pnl / initialMargin * 100
	}

	m.rolloverLocked(ctx)
	m.stats.TotalTrades++
	m.stats.DailyTrades++
	m.stats.TotalProfit += pnl
	m.counters.Trades++
	if trade.Win {
		m.stats.Wins++
		m.stats.DailyWins++
		m.counters.Wins++
	} else {
		m.stats.Losses++
		m.stats.DailyLosses++
		m.counters.Losses++
		m.lastLossAt = now
	}

	tripped := m.breaker.RecordTrade(pnl, m.balance)
	m.counters.ConsecutiveLosses = m.breaker.ConsecutiveLosses()
	m.saveLocked(ctx)

	m.history = append(m.history, trade)
	if len(m.history) > m.cfg.HistorySize {
		m.history = m.history[len(m.history)-m.cfg.HistorySize:]
	}

	m.position = nil
	m.state = StateIdle
	if tripped || m.breaker.GetState() == circuit.StateOpen {
		m.state = StateHalted
	}

	if m.feedback != nil {
		outcome := signal.Outcome{
			Features:   pos.Signal.Features,
			Win:        trade.Win,
			PnL:        pnl,
			ExitReason: string(reason),
			ClosedAt:   now,
		}
		if !m.feedback.Offer(outcome) {
			logger.Debug("Feedback queue full, outcome dropped")
		}
	}

	logger.Info("Position closed", "reason", string(reason), "exit", price, "pnl", pnl, "balance", m.balance)
	m.publish(events.EventTradeClosed, trade)
	return &trade, nil
}

// ResetHalt clears a circuit breaker halt
func (m *Manager) ResetHalt(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateHalted && m.breaker.GetState() != circuit.StateOpen {
		return false
	}
	m.breaker.ForceReset(m.balance)
	m.counters.ConsecutiveLosses = 0
	m.saveLocked(ctx)
	m.state = StateIdle
	if m.position != nil {
		m.state = StateOpen
	}
	return true
}

// Stop closes any open position, disables auto-trading and resets the
// performance stats and daily counters. The losing streak and any halt are
// kept. A failed exit leaves everything but auto-trading untouched.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoTrading = false
	if m.position != nil {
		if _, err := m.closeLocked(ctx, m.position.CurrentPrice, ExitManual); err != nil {
			return err
		}
	}
	day := state.DayKey(m.now())
	m.stats = PerformanceStats{Date: day}
	m.counters = state.DailyCounters{Date: day, ConsecutiveLosses: m.counters.ConsecutiveLosses}
	m.saveLocked(ctx)
	m.logger.Info("Trading stopped, stats reset", "balance", m.balance)
	return nil
}

// Stats returns the performance stats
func (m *Manager) Stats() PerformanceStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// History returns up to n most recent closed trades, oldest first
func (m *Manager) History(n int) []Trade {
	m.mu.Lock()
	defer m.mu.Unlock()
	return lastTrades(m.history, n)
}

func lastTrades(ts []Trade, n int) []Trade {
	if n <= 0 || n > len(ts) {
		n = len(ts)
	}
	out := make([]Trade, n)
	copy(out, ts[len(ts)-n:])
	return out
}

// Snapshot returns a broadcast view including the last n trades
func (m *Manager) Snapshot(n int) View {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := View{
		State:       m.state,
		AutoTrading: m.autoTrading,
		Balance:     m.balance,
		Trades:      lastTrades(m.history, n),
		Stats:       m.stats,
		Circuit:     m.breaker.GetStats(),
		Breaker:     m.breaker.GetConfig(),
		LastError:   m.lastError,
	}
	if m.position != nil {
		p := *m.position
		v.Position = &p
	}
	return v
}

// rolloverLocked resets daily counters when the calendar day changed
func (m *Manager) rolloverLocked(ctx context.Context) {
	day := state.DayKey(m.now())
	if !m.counters.Rollover(day) {
		return
	}
	m.stats.Date = day
	m.stats.DailyTrades = 0
	m.stats.DailyWins = 0
	m.stats.DailyLosses = 0
	m.saveLocked(ctx)
	m.logger.Info("Daily counters rolled over", "date", day)
}

func (m *Manager) saveLocked(ctx context.Context) {
	m.counters.UpdatedAt = m.now()
	if err := m.store.Save(ctx, m.counters); err != nil {
		m.logger.Error("Failed to persist daily counters", "error", err.Error())
	}
}

func (m *Manager) publish(t events.EventType, data interface{}) {
	m.bus.Publish(events.Event{Type: t, Session: m.session, Pair: m.pair, Timestamp: m.now(), Data: data})
}
