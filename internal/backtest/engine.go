// Package backtest replays recorded candles through a session backed by the
// paper gateway and reports the resulting trade performance.
package backtest

import (
	"context"
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"crt-trading-engine/internal/binance"
	"crt-trading-engine/internal/candles"
	"crt-trading-engine/internal/events"
	"crt-trading-engine/internal/lifecycle"
	"crt-trading-engine/internal/logging"
	"crt-trading-engine/internal/session"
	"crt-trading-engine/internal/signal"
)

// Config holds replay configuration
type Config struct {
	Session        session.Config
	InitialBalance float64
	CloseAtEnd     bool          // close a position still open after the last candle
	Scorer         signal.Scorer // optional, fed synchronously with outcomes
}

// Validate checks the replay configuration
func (c Config) Validate() error {
	if c.InitialBalance <= 0 {
		return fmt.Errorf("initial balance must be positive, got %v", c.InitialBalance)
	}
	if c.Session.Pair == "" {
		return fmt.Errorf("pair is required")
	}
	if !binance.ValidInterval(c.Session.Interval) {
		return fmt.Errorf("invalid interval %q", c.Session.Interval)
	}
	return c.Session.Lifecycle.Validate()
}

// Result contains replay performance metrics
type Result struct {
	Pair          string                        `json:"pair"`
	Interval      string                        `json:"interval"`
	Candles       int                           `json:"candles"`
	Start         time.Time                     `json:"start"`
	End           time.Time                     `json:"end"`
	TotalTrades   int                           `json:"totalTrades"`
	WinningTrades int                           `json:"winningTrades"`
	LosingTrades  int                           `json:"losingTrades"`
	WinRate       float64                       `json:"winRate"`
	TotalProfit   float64                       `json:"totalProfit"`
	TotalLoss     float64                       `json:"totalLoss"`
	NetProfit     float64                       `json:"netProfit"`
	ROI           float64                       `json:"roi"` // percent of the initial balance
	MaxDrawdown   float64                       `json:"maxDrawdown"`
	AverageWin    float64                       `json:"averageWin"`
	AverageLoss   float64                       `json:"averageLoss"`
	ProfitFactor  float64                       `json:"profitFactor"`
	SharpeRatio   float64                       `json:"sharpeRatio"`
	FinalBalance  float64                       `json:"finalBalance"`
	Halted        bool                          `json:"halted"`
	Signals       int                           `json:"signals"`
	Trades        []lifecycle.Trade             `json:"trades"`
	EquityCurve   []EquityPoint                 `json:"equityCurve,omitempty"`
	SetupStats    map[signal.Setup]*SetupResult `json:"setupStats"`
	ExitReasons   map[lifecycle.ExitReason]int  `json:"exitReasons"`
}

// EquityPoint represents account balance at a point in time
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}

// SetupResult tracks performance by signal setup
type SetupResult struct {
	Setup     signal.Setup `json:"setup"`
	Trades    int          `json:"trades"`
	Wins      int          `json:"wins"`
	Losses    int          `json:"losses"`
	WinRate   float64      `json:"winRate"`
	AvgProfit float64      `json:"avgProfit"`
	AvgLoss   float64      `json:"avgLoss"`
	NetProfit float64      `json:"netProfit"`
}

// Engine runs replays
type Engine struct {
	config Config
	logger *logging.Logger
}

// NewEngine creates a replay engine
func NewEngine(config Config) *Engine {
	return &Engine{config: config, logger: logging.WithComponent("backtest")}
}

// replayClock is advanced to each candle's close time before it is processed
type replayClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *replayClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *replayClock) set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Run feeds cs through a fresh session in order. Higher timeframe candles are
// built from the base candles as they arrive.
func (e *Engine) Run(ctx context.Context, cs []candles.Candle) (*Result, error) {
	if err := e.config.Validate(); err != nil {
		return nil, err
	}
	if len(cs) == 0 {
		return nil, fmt.Errorf("no candles to replay")
	}
	cfg := e.config.Session
	htfDur, ok := binance.IntervalDuration(cfg.HTF())
	if !ok {
		return nil, fmt.Errorf("invalid higher timeframe %q", cfg.HTF())
	}

	clock := &replayClock{now: cs[0].CloseAt()}
	bus := events.NewEventBus()
	paper := binance.NewPaperGateway(e.config.InitialBalance)

	result := &Result{
		Pair:        cfg.Pair,
		Interval:    cfg.Interval,
		Start:       time.UnixMilli(cs[0].OpenTime).UTC(),
		End:         cs[len(cs)-1].CloseAt(),
		SetupStats:  make(map[signal.Setup]*SetupResult),
		ExitReasons: make(map[lifecycle.ExitReason]int),
	}
	bus.Subscribe(events.EventTradeClosed, func(ev events.Event) {
		if t, ok := ev.Data.(lifecycle.Trade); ok {
			result.Trades = append(result.Trades, t)
		}
	})
	bus.Subscribe(events.EventSignal, func(events.Event) { result.Signals++ })

	deps := session.Deps{Gateway: paper, Bus: bus, Clock: clock.Now}
	if e.config.Scorer != nil {
		deps.Scorer = e.config.Scorer
		deps.Feedback = syncFeedback{e.config.Scorer}
	}
	sess := session.New("replay", cfg, e.config.InitialBalance, deps)
	sess.Lifecycle().SetAutoTrading(true)

	e.logger.Info("Replay started", "pair", cfg.Pair, "interval", cfg.Interval, "htf", cfg.HTF(), "candles", len(cs))

	var htf candles.Candle
	for i, c := range cs {
		if i%500 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		clock.set(c.CloseAt())
		htf = candles.Merge(htf, c, htfDur)
		sess.ProcessHTF(htf)
		sess.ProcessCandle(ctx, c)
		result.EquityCurve = append(result.EquityCurve, EquityPoint{Timestamp: c.CloseAt(), Equity: sess.Lifecycle().Balance()})
	}

	lc := sess.Lifecycle()
	if e.config.CloseAtEnd && lc.Position() != nil {
		if _, err := lc.ManualClose(ctx, cs[len(cs)-1].Close); err != nil {
			e.logger.Warn("Failed to close final position", "error", err.Error())
		}
		result.EquityCurve = append(result.EquityCurve, EquityPoint{Timestamp: clock.Now(), Equity: lc.Balance()})
	}

	result.Candles = len(cs)
	result.FinalBalance = lc.Balance()
	result.Halted = lc.State() == lifecycle.StateHalted
	for i := range result.Trades {
		e.updateSetupStats(result, &result.Trades[i])
		result.ExitReasons[result.Trades[i].ExitReason]++
	}
	e.calculateMetrics(result, result.FinalBalance)

	e.logger.Info("Replay finished", "trades", result.TotalTrades, "net", result.NetProfit, "halted", result.Halted)
	return result, nil
}

// syncFeedback feeds outcomes straight into the scorer so replays are deterministic
type syncFeedback struct{ scorer signal.Scorer }

func (f syncFeedback) Offer(o signal.Outcome) bool {
	f.scorer.Feed(o)
	return true
}

// updateSetupStats updates performance stats for the trade's setup
func (e *Engine) updateSetupStats(result *Result, trade *lifecycle.Trade) {
	setup := trade.Signal.Setup
	stats, exists := result.SetupStats[setup]
	if !exists {
		stats = &SetupResult{Setup: setup}
		result.SetupStats[setup] = stats
	}

	stats.Trades++
	if trade.Win {
		stats.Wins++
		stats.AvgProfit = ((stats.AvgProfit * float64(stats.Wins-1)) + trade.PnL) / float64(stats.Wins)
	} else {
		stats.Losses++
		stats.AvgLoss = ((stats.AvgLoss * float64(stats.Losses-1)) + trade.PnL) / float64(stats.Losses)
	}
	stats.NetProfit += trade.PnL
	stats.WinRate = float64(stats.Wins) / float64(stats.Trades) * 100
}

// calculateMetrics calculates final replay metrics
func (e *Engine) calculateMetrics(result *Result, finalEquity float64) {
	result.TotalTrades = len(result.Trades)

	for _, trade := range result.Trades {
		if trade.Win {
			result.WinningTrades++
			result.TotalProfit += trade.PnL
		} else {
			result.LosingTrades++
			result.TotalLoss += math.Abs(trade.PnL)
		}
	}

	if result.TotalTrades > 0 {
		result.WinRate = float64(result.WinningTrades) / float64(result.TotalTrades) * 100
	}
	if result.WinningTrades > 0 {
		result.AverageWin = result.TotalProfit / float64(result.WinningTrades)
	}
	if result.LosingTrades > 0 {
		result.AverageLoss = result.TotalLoss / float64(result.LosingTrades)
	}

	result.NetProfit = finalEquity - e.config.InitialBalance
	result.ROI = result.NetProfit / e.config.InitialBalance * 100

	if result.TotalLoss > 0 {
		result.ProfitFactor = result.TotalProfit / result.TotalLoss
	}

	result.MaxDrawdown = maxDrawdown(result.EquityCurve)
	result.SharpeRatio = sharpeRatio(result.Trades)
}

// maxDrawdown returns the largest peak-to-trough equity drop in percent
func maxDrawdown(curve []EquityPoint) float64 {
	if len(curve) == 0 {
		return 0
	}
	worst := 0.0
	peak := curve[0].Equity
	for _, point := range curve {
		if point.Equity > peak {
			peak = point.Equity
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - point.Equity) / peak * 100; dd > worst {
			worst = dd
		}
	}
	return worst
}

// sharpeRatio is the mean over the standard deviation of per-trade percent returns
func sharpeRatio(trades []lifecycle.Trade) float64 {
	if len(trades) == 0 {
		return 0
	}
	total := 0.0
	for _, t := range trades {
		total += t.PnLPercent
	}
	avg := total / float64(len(trades))

	variance := 0.0
	for _, t := range trades {
		diff := t.PnLPercent - avg
		variance += diff * diff
	}
	stdDev := math.Sqrt(variance / float64(len(trades)))
	if stdDev == 0 {
		return 0
	}
	return avg / stdDev
}

// round2 rounds half away from zero to cents
func round2(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

// Rounded returns a copy with money and percent figures rounded to two places
func (r Result) Rounded() Result {
	for _, p := range []*float64{
		&r.WinRate, &r.TotalProfit, &r.TotalLoss, &r.NetProfit, &r.ROI, &r.MaxDrawdown,
		&r.AverageWin, &r.AverageLoss, &r.ProfitFactor, &r.SharpeRatio, &r.FinalBalance,
	} {
		*p = round2(*p)
	}
	stats := make(map[signal.Setup]*SetupResult, len(r.SetupStats))
	for k, v := range r.SetupStats {
		s := *v
		s.WinRate, s.AvgProfit, s.AvgLoss, s.NetProfit = round2(s.WinRate), round2(s.AvgProfit), round2(s.AvgLoss), round2(s.NetProfit)
		stats[k] = &s
	}
	r.SetupStats = stats
	return r
}

// PrintResults writes a human readable report
func (r *Result) PrintResults(w io.Writer) {
	rr := r.Rounded()
	fmt.Fprintf(w, "\n=== REPLAY RESULTS: %s %s ===\n", rr.Pair, rr.Interval)
	fmt.Fprintf(w, "Period: %s -> %s (%d candles)\n", rr.Start.Format(time.RFC3339), rr.End.Format(time.RFC3339), rr.Candles)
	fmt.Fprintf(w, "Signals: %d\n", rr.Signals)
	fmt.Fprintf(w, "Total Trades: %d\n", rr.TotalTrades)
	fmt.Fprintf(w, "Winning Trades: %d (%.1f%%)\n", rr.WinningTrades, rr.WinRate)
	fmt.Fprintf(w, "Losing Trades: %d\n", rr.LosingTrades)
	fmt.Fprintf(w, "Net Profit: $%.2f\n", rr.NetProfit)
	fmt.Fprintf(w, "Final Balance: $%.2f\n", rr.FinalBalance)
	fmt.Fprintf(w, "ROI: %.2f%%\n", rr.ROI)
	fmt.Fprintf(w, "Profit Factor: %.2f\n", rr.ProfitFactor)
	fmt.Fprintf(w, "Max Drawdown: %.2f%%\n", rr.MaxDrawdown)
	fmt.Fprintf(w, "Average Win: $%.2f\n", rr.AverageWin)
	fmt.Fprintf(w, "Average Loss: $%.2f\n", rr.AverageLoss)
	fmt.Fprintf(w, "Sharpe Ratio: %.2f\n", rr.SharpeRatio)
	if rr.Halted {
		fmt.Fprintln(w, "Circuit breaker: HALTED")
	}

	setups := make([]string, 0, len(rr.SetupStats))
	for s := range rr.SetupStats {
		setups = append(setups, string(s))
	}
	sort.Strings(setups)
	fmt.Fprintln(w, "\n=== SETUP PERFORMANCE ===")
	for _, s := range setups {
		stats := rr.SetupStats[signal.Setup(s)]
		fmt.Fprintf(w, "%s: %d trades, %.1f%% win rate, Net: $%.2f\n", s, stats.Trades, stats.WinRate, stats.NetProfit)
	}

	reasons := make([]string, 0, len(rr.ExitReasons))
	for reason := range rr.ExitReasons {
		reasons = append(reasons, string(reason))
	}
	sort.Strings(reasons)
	fmt.Fprintln(w, "\n=== EXITS ===")
	for _, reason := range reasons {
		fmt.Fprintf(w, "%s: %d\n", reason, rr.ExitReasons[lifecycle.ExitReason(reason)])
	}
}
