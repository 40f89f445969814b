// Package session ties one pair/interval context together: candle buffers,
// market data streams, analysis, signal composition and the trade lifecycle.
// Everything a session owns is mutated on its Run goroutine only; observers
// read immutable snapshots.
package session

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"crt-trading-engine/internal/analysis"
	"crt-trading-engine/internal/binance"
	"crt-trading-engine/internal/candles"
	"crt-trading-engine/internal/circuit"
	"crt-trading-engine/internal/errs"
	"crt-trading-engine/internal/events"
	"crt-trading-engine/internal/lifecycle"
	"crt-trading-engine/internal/logging"
	"crt-trading-engine/internal/signal"
	"crt-trading-engine/internal/state"
	"crt-trading-engine/internal/workers"
)

// ErrNoMarketData is returned by Run without a market data source
var ErrNoMarketData = errors.New("session: market data source required")

// Config configures one session
type Config struct {
	Pair            string           `json:"pair"`
	Interval        string           `json:"interval"`
	HTFInterval     string           `json:"htfInterval"` // empty picks 4h for CRT, 15m for SMC
	Mode            analysis.Mode    `json:"mode"`
	HistoryLimit    int              `json:"historyLimit"`
	BufferSize      int              `json:"bufferSize"`
	HTFBufferSize   int              `json:"htfBufferSize"`
	AnalysisWindow  int              `json:"analysisWindow"`
	EMAPeriod       int              `json:"emaPeriod"`
	BalanceInterval time.Duration    `json:"balanceInterval"`
	CacheInterval   time.Duration    `json:"cacheInterval"`
	SnapshotCandles int              `json:"snapshotCandles"`
	SnapshotHTF     int              `json:"snapshotHtf"`
	SnapshotTrades  int              `json:"snapshotTrades"`
	Analysis        *analysis.Config `json:"analysis,omitempty"` // nil uses the mode defaults
	Lifecycle       lifecycle.Config `json:"lifecycle"`
	Breaker         circuit.Config   `json:"breaker"`
}

// DefaultConfig returns a CRT session on BTCUSDT 5m
func DefaultConfig() Config {
	return Config{
		Pair:            "BTCUSDT",
		Interval:        "5m",
		Mode:            analysis.ModeCRT,
		HistoryLimit:    500,
		BufferSize:      500,
		HTFBufferSize:   50,
		AnalysisWindow:  300,
		EMAPeriod:       9,
		BalanceInterval: 30 * time.Second,
		CacheInterval:   5 * time.Second,
		SnapshotCandles: 100,
		SnapshotHTF:     10,
		SnapshotTrades:  20,
		Lifecycle:       lifecycle.DefaultConfig(),
		Breaker:         circuit.DefaultConfig(),
	}
}

// HTF returns the higher timeframe interval in use
func (c Config) HTF() string {
	if c.HTFInterval != "" {
		return c.HTFInterval
	}
	if c.Mode == analysis.ModeSMC {
		return "15m"
	}
	return "4h"
}

// SnapshotCache stores the latest snapshot out of process
type SnapshotCache interface {
	CacheSnapshot(ctx context.Context, snapshot interface{}) error
}

// Deps are the session's collaborators. Market may be nil for offline replay
// through ProcessCandle; Pool nil analyzes inline.
type Deps struct {
	Market   binance.MarketData
	Gateway  binance.OrderGateway
	Pool     *workers.Pool
	Store    state.Store
	Scorer   signal.Scorer
	Feedback lifecycle.OutcomeSink
	Bus      *events.EventBus
	Cache    SnapshotCache
	Clock    func() time.Time
}

type commandRequest struct {
	cmd   Command
	reply chan CommandResult
}

type balanceResult struct {
	balance float64
	err     error
}

// Session is one trading context
type Session struct {
	id     string
	cfg    Config
	deps   Deps
	now    func() time.Time
	logger *logging.Logger

	mu       sync.RWMutex // guards pair and interval for readers off the loop
	pair     string
	interval string

	candles   *candles.Buffer
	htf       *candles.Buffer
	composer  *signal.Composer
	breaker   *circuit.CircuitBreaker
	lifecycle *lifecycle.Manager

	commands chan commandRequest
	results  chan workers.Result
	balances chan balanceResult
	running  atomic.Bool
	stopped  chan struct{}
	snapshot atomic.Value // *Snapshot

	// loop-owned
	generation    uint64
	stream        <-chan binance.StreamEvent
	htfStream     <-chan binance.StreamEvent
	streamCancel  context.CancelFunc
	conn          binance.ConnState
	inFlight      bool
	dirty         bool
	lastRequested int64
	historyClose  int64
	lastAnalysis  *analysis.Result
	lastSignal    *signal.Signal
	opps          opportunities
	polling       bool
	lastCached    time.Time
	lastError     string
}

// New creates a session holding balance
func New(id string, cfg Config, balance float64, deps Deps) *Session {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Store == nil {
		deps.Store = state.NewMemoryStore()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = candles.DefaultCapacity
	}
	if cfg.AnalysisWindow <= 0 || cfg.AnalysisWindow > cfg.BufferSize {
		cfg.AnalysisWindow = cfg.BufferSize
	}
	if cfg.HTFBufferSize <= 0 {
		cfg.HTFBufferSize = 50
	}
	if cfg.BalanceInterval <= 0 {
		cfg.BalanceInterval = 30 * time.Second
	}

	s := &Session{
		id:       id,
		cfg:      cfg,
		deps:     deps,
		now:      deps.Clock,
		logger:   logging.SessionContext(id, cfg.Pair, cfg.Interval),
		pair:     cfg.Pair,
		interval: cfg.Interval,
		candles:  candles.NewBuffer(cfg.Pair, cfg.BufferSize),
		htf:      candles.NewBuffer(cfg.Pair, cfg.HTFBufferSize),
		composer: signal.NewComposer(signal.DefaultComposerConfig(), signal.DefaultRules(deps.Scorer)...),
		commands: make(chan commandRequest),
		results:  make(chan workers.Result, 4),
		balances: make(chan balanceResult, 1),
		stopped:  make(chan struct{}),
		conn:     binance.StateDisconnected,
	}
	s.breaker = circuit.NewCircuitBreaker(cfg.Breaker, balance, deps.Bus, id)
	s.breaker.SetClock(deps.Clock)
	s.lifecycle = lifecycle.NewManager(id, cfg.Pair, cfg.Lifecycle, balance, lifecycle.Deps{
		Gateway:  deps.Gateway,
		Breaker:  s.breaker,
		Store:    deps.Store,
		Feedback: deps.Feedback,
		Bus:      deps.Bus,
		Clock:    deps.Clock,
	})
	snap := s.buildSnapshot()
	s.snapshot.Store(&snap)
	return s
}

// ID returns the session identifier
func (s *Session) ID() string { return s.id }

// Pair returns the active pair
func (s *Session) Pair() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair
}

// Interval returns the active interval
func (s *Session) Interval() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.interval
}

// Lifecycle exposes the trade lifecycle manager. Mutations must go through
// commands while the session is running.
func (s *Session) Lifecycle() *lifecycle.Manager { return s.lifecycle }

// Snapshot returns the latest published snapshot
func (s *Session) Snapshot() Snapshot {
	return *s.snapshot.Load().(*Snapshot)
}

// Restore loads persisted counters into the lifecycle
func (s *Session) Restore(ctx context.Context) error {
	return s.lifecycle.Restore(ctx)
}

// Run streams market data and processes everything until ctx is cancelled
func (s *Session) Run(ctx context.Context) error {
	if s.deps.Market == nil {
		return ErrNoMarketData
	}
	s.running.Store(true)
	defer func() {
		s.running.Store(false)
		close(s.stopped)
	}()

	if err := s.Restore(ctx); err != nil {
		s.fail(ctx, "state", err)
	}
	s.syncLeverage(ctx)
	s.subscribe(ctx)
	defer s.cancelStreams()

	ticker := time.NewTicker(s.cfg.BalanceInterval)
	defer ticker.Stop()
	s.pollBalance(ctx)

	s.logger.Info("Session started", "htf", s.cfg.HTF(), "mode", string(s.cfg.Mode))
	s.publishSnapshot(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Session stopped")
			return nil

		case ev, ok := <-s.stream:
			if !ok {
				s.stream = nil
				continue
			}
			s.handleStream(ctx, ev)

		case ev, ok := <-s.htfStream:
			if !ok {
				s.htfStream = nil
				continue
			}
			if ev.Candle != nil {
				s.onHTFCandle(*ev.Candle)
			}

		case req := <-s.commands:
			req.reply <- s.apply(ctx, req.cmd)

		case res := <-s.results:
			s.handleResult(ctx, res)

		case b := <-s.balances:
			s.handleBalance(b)

		case <-ticker.C:
			s.pollBalance(ctx)
		}
	}
}

// Execute validates cmd and applies it on the session goroutine. Without a
// running loop the command is applied inline.
func (s *Session) Execute(ctx context.Context, cmd Command) (CommandResult, error) {
	cmd = cmd.Normalize()
	if err := cmd.Validate(); err != nil {
		return failed(cmd.Type, err), err
	}
	if !s.running.Load() {
		return s.apply(ctx, cmd), nil
	}

	req := commandRequest{cmd: cmd, reply: make(chan CommandResult, 1)}
	select {
	case s.commands <- req:
	case <-s.stopped:
		return s.apply(ctx, cmd), nil
	case <-ctx.Done():
		return failed(cmd.Type, ctx.Err()), ctx.Err()
	}
	select {
	case res := <-req.reply:
		return res, nil
	case <-ctx.Done():
		return failed(cmd.Type, ctx.Err()), ctx.Err()
	}
}

// ProcessCandle runs one base candle through the pipeline synchronously.
// It must not be called while Run is active.
func (s *Session) ProcessCandle(ctx context.Context, c candles.Candle) {
	s.onCandle(ctx, c)
}

// ProcessHTF appends one higher timeframe candle. Same restriction as ProcessCandle.
func (s *Session) ProcessHTF(c candles.Candle) {
	s.onHTFCandle(c)
}

func (s *Session) handleStream(ctx context.Context, ev binance.StreamEvent) {
	if ev.State != "" && ev.State != s.conn {
		s.conn = ev.State
		s.deps.Bus.PublishConnection(s.id, s.Pair(), string(ev.State))
		if ev.State == binance.StateConnected {
			s.lastError = ""
		}
		s.publishSnapshot(ctx)
	}
	if ev.Err != nil {
		s.fail(ctx, "stream", ev.Err)
	}
	if ev.Candle != nil {
		s.onCandle(ctx, *ev.Candle)
	}
}

func (s *Session) onCandle(ctx context.Context, c candles.Candle) {
	out, err := s.candles.Append(c)
	if err != nil {
		s.fail(ctx, "candles", err)
		s.publishSnapshot(ctx)
		return
	}
	if out == candles.Dropped {
		return
	}

	if trade, err := s.lifecycle.OnTick(ctx, s.market(c)); err != nil {
		s.fail(ctx, "lifecycle", err)
	} else if trade != nil {
		s.logger.Info("Trade closed on tick", "reason", string(trade.ExitReason), "pnl", trade.PnL)
	}

	if c.Closed && c.CloseTime > s.lastRequested {
		s.lastRequested = c.CloseTime
		s.requestAnalysis(ctx)
	}
	s.publishSnapshot(ctx)
}

func (s *Session) onHTFCandle(c candles.Candle) {
	if _, err := s.htf.Append(c); err != nil {
		s.logger.Debug("HTF candle rejected", "error", err.Error())
	}
}

// market builds the lifecycle view of the latest candle
func (s *Session) market(c candles.Candle) lifecycle.Market {
	m := lifecycle.Market{
		Candle:  c,
		Session: candles.MarketSession(c.CloseAt()),
		Recent:  s.candles.Closed(3),
	}
	if s.lastAnalysis != nil {
		m.ATR = s.lastAnalysis.Indicators.ATR
		m.VolumeRatio = s.lastAnalysis.Indicators.VolumeRatio
	}
	return m
}

func (s *Session) analysisInput() analysis.Input {
	cfg := analysis.DefaultConfig(s.cfg.Mode)
	if s.cfg.Analysis != nil {
		cfg = *s.cfg.Analysis
	}
	n := s.cfg.AnalysisWindow
	return analysis.Input{
		Pair:      s.Pair(),
		Candles:   s.candles.Closed(n),
		BaseIndex: s.candles.ClosedBase(n),
		HTF:       s.htf.Window(s.cfg.HTFBufferSize),
		Now:       s.now(),
		Config:    cfg,
		EMAPeriod: s.cfg.EMAPeriod,
	}
}

// requestAnalysis keeps at most one job in flight; a close arriving meanwhile
// marks the session dirty and is analyzed when the job returns
func (s *Session) requestAnalysis(ctx context.Context) {
	if s.inFlight {
		s.dirty = true
		return
	}
	in := s.analysisInput()
	if s.deps.Pool == nil {
		s.applyAnalysis(ctx, analysis.Analyze(in))
		return
	}
	req := workers.NewRequest(s.id, s.generation, in)
	if err := s.deps.Pool.Submit(ctx, req, s.results); err != nil {
		if !errors.Is(err, context.Canceled) {
			s.fail(ctx, "workers", err)
		}
		return
	}
	s.inFlight = true
}

func (s *Session) handleResult(ctx context.Context, res workers.Result) {
	if res.Generation != s.generation {
		s.logger.Debug("Discarding stale analysis", "request", res.ID.String(), "generation", res.Generation)
		return
	}
	s.inFlight = false
	if res.Err != nil {
		s.fail(ctx, "analysis", res.Err)
	} else {
		s.applyAnalysis(ctx, res.Analysis)
	}
	if s.dirty {
		s.dirty = false
		s.requestAnalysis(ctx)
	}
}

func (s *Session) applyAnalysis(ctx context.Context, r analysis.Result) {
	if v := r.CRT.Validation; len(v.Corrections) > 0 {
		s.logger.Warn("CRT markers corrected", "corrections", v.Corrections, "errors", v.Errors)
	}
	s.lastAnalysis = &r
	sig := s.composer.Compose(r)
	s.lastSignal = &sig

	last, ok := candles.Last(r.Window)
	if !ok {
		s.publishSnapshot(ctx)
		return
	}
	if sig.IsActionable() {
		s.opps.record(Opportunity{
			Direction:  sig.Direction,
			Setup:      sig.Setup,
			Confidence: sig.Confidence,
			Price:      sig.Entry,
			At:         s.now(),
		})
		s.deps.Bus.Publish(events.Event{Type: events.EventSignal, Session: s.id, Pair: s.Pair(), Timestamp: s.now(), Data: sig})
		s.logger.Info("Signal", "direction", string(sig.Direction), "setup", string(sig.Setup),
			"confidence", sig.Confidence, "entry", sig.Entry, "stop", sig.StopLoss, "target", sig.TakeProfit)
	}

	// history warmup bars only inform the snapshot
	if r.CloseTime > s.historyClose {
		trade, pos, err := s.lifecycle.OnSignal(ctx, sig, s.market(last))
		switch {
		case err == nil:
		case errors.Is(err, lifecycle.ErrRejected):
			s.logger.Debug("Entry rejected", "reason", err.Error())
		case errors.Is(err, errs.ErrHalted):
			s.logger.Debug("Entry refused, trading halted")
		default:
			s.fail(ctx, "lifecycle", err)
		}
		if trade != nil {
			s.logger.Info("Trade closed on signal", "reason", string(trade.ExitReason), "pnl", trade.PnL)
		}
		if pos != nil {
			s.logger.Info("Entered position", "id", pos.ID, "direction", string(pos.Direction))
		}
	}
	s.publishSnapshot(ctx)
}

// subscribe loads history and (re)starts both streams for the current context
func (s *Session) subscribe(ctx context.Context) {
	s.cancelStreams()
	sctx, cancel := context.WithCancel(ctx)
	s.streamCancel = cancel

	pair, interval, htf := s.Pair(), s.Interval(), s.cfg.HTF()
	logger := logging.SessionContext(s.id, pair, interval)

	if hist, err := s.deps.Market.FetchHistory(sctx, pair, interval, s.cfg.HistoryLimit); err != nil {
		s.fail(ctx, "history", err)
	} else {
		kept := s.candles.Load(hist)
		if last, ok := s.candles.Last(); ok {
			s.historyClose = last.CloseTime
			s.lastRequested = last.CloseTime
		}
		logger.Info("History loaded", "candles", kept)
	}
	if hist, err := s.deps.Market.FetchHistory(sctx, pair, htf, s.cfg.HTFBufferSize); err != nil {
		s.fail(ctx, "history", err)
	} else {
		s.htf.Load(hist)
	}
	if s.candles.Len() > 0 {
		s.requestAnalysis(ctx)
	}

	stream, err := s.deps.Market.Subscribe(sctx, pair, interval)
	if err != nil {
		s.fail(ctx, "stream", err)
	}
	s.stream = stream
	htfStream, err := s.deps.Market.Subscribe(sctx, pair, htf)
	if err != nil {
		s.fail(ctx, "stream", err)
	}
	s.htfStream = htfStream
}

func (s *Session) cancelStreams() {
	if s.streamCancel != nil {
		s.streamCancel()
		s.streamCancel = nil
	}
	s.stream = nil
	s.htfStream = nil
}

// switchContext moves the session to pair/interval. The generation bump makes
// any in-flight analysis for the old context stale.
func (s *Session) switchContext(ctx context.Context, pair, interval string) {
	s.mu.Lock()
	s.pair = pair
	s.interval = interval
	s.mu.Unlock()

	s.generation++
	s.cancelStreams()
	s.candles.Reset(pair)
	s.htf.Reset(pair)
	s.inFlight = false
	s.dirty = false
	s.lastRequested = 0
	s.historyClose = 0
	s.lastAnalysis = nil
	s.lastSignal = nil
	s.conn = binance.StateDisconnected
	s.logger = logging.SessionContext(s.id, pair, interval)

	if s.running.Load() {
		s.subscribe(ctx)
	}
	s.deps.Bus.Publish(events.Event{
		Type:      events.EventContextSwitched,
		Session:   s.id,
		Pair:      pair,
		Timestamp: s.now(),
		Data:      map[string]interface{}{"pair": pair, "interval": interval, "generation": s.generation},
	})
	s.logger.Info("Context switched", "generation", s.generation)
}

func (s *Session) apply(ctx context.Context, cmd Command) CommandResult {
	res := s.applyCommand(ctx, cmd)
	if res.Changed {
		s.publishSnapshot(ctx)
	}
	return res
}

func (s *Session) applyCommand(ctx context.Context, cmd Command) CommandResult {
	switch cmd.Type {
	case CmdChangePair:
		if cmd.Pair == s.Pair() {
			return applied(cmd.Type, false, "already on %s", cmd.Pair)
		}
		if err := s.lifecycle.SetPair(cmd.Pair); err != nil {
			return failed(cmd.Type, err)
		}
		s.switchContext(ctx, cmd.Pair, s.Interval())
		s.syncLeverage(ctx)
		return applied(cmd.Type, true, "switched to %s", cmd.Pair)

	case CmdChangeInterval:
		if cmd.Interval == s.Interval() {
			return applied(cmd.Type, false, "already on %s", cmd.Interval)
		}
		if s.lifecycle.Position() != nil {
			return failed(cmd.Type, errs.ErrPositionOpen)
		}
		s.switchContext(ctx, s.Pair(), cmd.Interval)
		return applied(cmd.Type, true, "switched to %s", cmd.Interval)

	case CmdToggleAutoTrading:
		current := s.lifecycle.AutoTrading()
		next := !current
		if cmd.Enabled != nil {
			next = *cmd.Enabled
		}
		s.lifecycle.SetAutoTrading(next)
		s.logger.Info("Auto-trading updated", "enabled", next)
		return applied(cmd.Type, next != current, "auto-trading %v", next)

	case CmdManualClose:
		trade, err := s.lifecycle.ManualClose(ctx, 0)
		if errors.Is(err, errs.ErrNoPosition) {
			return applied(cmd.Type, false, "no open position")
		}
		if err != nil {
			return failed(cmd.Type, err)
		}
		return applied(cmd.Type, true, "closed at %.2f, pnl %.2f", trade.ExitPrice, trade.PnL)

	case CmdUpdateSettings:
		if err := s.lifecycle.UpdateSettings(*cmd.Settings); err != nil {
			return failed(cmd.Type, err)
		}
		if cmd.Settings.Leverage != nil {
			s.syncLeverage(ctx)
		}
		return applied(cmd.Type, true, "settings updated")

	case CmdResetHalt:
		if !s.lifecycle.ResetHalt(ctx) {
			return applied(cmd.Type, false, "not halted")
		}
		return applied(cmd.Type, true, "halt reset")

	case CmdStop:
		if err := s.lifecycle.Stop(ctx); err != nil {
			return failed(cmd.Type, err)
		}
		s.logger.Info("Trading stopped by operator")
		return applied(cmd.Type, true, "stopped, stats reset")
	}
	return failed(cmd.Type, errs.ErrInvalidCommand)
}

// syncLeverage pushes the configured leverage for the current pair to
// gateways that support it. Failures are reported and trading continues.
func (s *Session) syncLeverage(ctx context.Context) {
	ls, ok := s.deps.Gateway.(binance.LeverageSetter)
	if !ok {
		return
	}
	lev := int(math.Round(s.lifecycle.Config().Sizing.Leverage))
	if lev < 1 {
		lev = 1
	}
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := ls.SetLeverage(cctx, s.Pair(), lev); err != nil {
		s.fail(ctx, "leverage", err)
		return
	}
	s.logger.Info("Leverage set", "leverage", lev)
}

// pollBalance fetches the balance off the loop; the result is applied by the loop
func (s *Session) pollBalance(ctx context.Context) {
	if s.deps.Gateway == nil || s.polling {
		return
	}
	s.polling = true
	go func() {
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		b, err := s.deps.Gateway.Balance(cctx)
		select {
		case s.balances <- balanceResult{balance: b, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (s *Session) handleBalance(b balanceResult) {
	s.polling = false
	if b.err != nil {
		s.logger.Warn("Balance refresh failed", "error", b.err.Error())
		return
	}
	if s.lifecycle.SetBalance(b.balance) {
		s.logger.Debug("Balance refreshed", "balance", b.balance)
	}
}

func (s *Session) fail(ctx context.Context, source string, err error) {
	s.lastError = err.Error()
	s.logger.Warn("Session error", "source", source, "error", err.Error())
	s.deps.Bus.PublishError(s.id, source, err)
}

func (s *Session) buildSnapshot() Snapshot {
	now := s.now()
	view := s.lifecycle.Snapshot(s.cfg.SnapshotTrades)
	snap := Snapshot{
		Type:          SnapshotUpdate,
		Session:       s.id,
		Pair:          s.Pair(),
		Interval:      s.Interval(),
		HTFInterval:   s.cfg.HTF(),
		Mode:          s.cfg.Mode,
		Connection:    s.conn,
		Candles:       s.candles.Window(s.cfg.SnapshotCandles),
		HTFCandles:    s.htf.Window(s.cfg.SnapshotHTF),
		Analysis:      s.lastAnalysis,
		State:         view.State,
		Balance:       view.Balance,
		Position:      view.Position,
		Trades:        view.Trades,
		Stats:         view.Stats,
		WinRate:       view.Stats.WinRate(),
		Circuit:       view.Circuit,
		Breaker:       view.Breaker,
		AutoTrading:   view.AutoTrading,
		Opportunities: s.opps.summary(now),
		LastError:     s.lastError,
		Timestamp:     now,
	}
	if s.lastSignal != nil {
		sig := *s.lastSignal
		snap.Signal = &sig
	}
	if snap.LastError == "" {
		snap.LastError = view.LastError
	}
	return snap
}

func (s *Session) publishSnapshot(ctx context.Context) {
	snap := s.buildSnapshot()
	s.snapshot.Store(&snap)
	s.deps.Bus.Publish(events.Event{Type: events.EventSnapshot, Session: s.id, Pair: snap.Pair, Timestamp: snap.Timestamp, Data: snap})

	if s.deps.Cache != nil && snap.Timestamp.Sub(s.lastCached) >= s.cfg.CacheInterval {
		s.lastCached = snap.Timestamp
		if err := s.deps.Cache.CacheSnapshot(ctx, snap); err != nil {
			s.logger.Debug("Snapshot cache write failed", "error", err.Error())
		}
	}
}
