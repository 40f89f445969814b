package session

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"crt-trading-engine/internal/analysis"
	"crt-trading-engine/internal/binance"
	"crt-trading-engine/internal/candles"
	"crt-trading-engine/internal/errs"
	"crt-trading-engine/internal/lifecycle"
	"crt-trading-engine/internal/state"
	"crt-trading-engine/internal/workers"
)

const minute = int64(60000)

func genCandles(n int, start int64) []candles.Candle {
	out := make([]candles.Candle, n)
	price := 100.0
	for i := range out {
		open := price
		price = 100 + 3*math.Sin(float64(i)/4)
		ot := start + int64(i)*minute
		out[i] = candles.Candle{
			OpenTime:  ot,
			CloseTime: ot + minute - 1,
			Open:      open,
			Close:     price,
			High:      math.Max(open, price) + 0.4,
			Low:       math.Min(open, price) - 0.4,
			Volume:    10 + float64(i%5),
			Closed:    true,
		}
	}
	return out
}

type subscription struct {
	pair, interval string
	ch             chan binance.StreamEvent
	ctx            context.Context
}

type fakeMarket struct {
	mu      sync.Mutex
	history []candles.Candle
	subs    []*subscription
}

func (f *fakeMarket) Subscribe(ctx context.Context, pair, interval string) (<-chan binance.StreamEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := &subscription{pair: pair, interval: interval, ch: make(chan binance.StreamEvent, 16), ctx: ctx}
	f.subs = append(f.subs, sub)
	return sub.ch, nil
}

func (f *fakeMarket) FetchHistory(ctx context.Context, pair, interval string, limit int) ([]candles.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]candles.Candle(nil), f.history...), nil
}

func (f *fakeMarket) sub(i int) *subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.subs) {
		return nil
	}
	return f.subs[i]
}

func (f *fakeMarket) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Interval = "1m"
	cfg.HTFInterval = "1h"
	return cfg
}

func TestCommandValidation(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		ok   bool
	}{
		{"pair", Command{Type: CmdChangePair, Pair: "ETHUSDT"}, true},
		{"short pair", Command{Type: CmdChangePair, Pair: "BTC"}, false},
		{"lowercase pair", Command{Type: CmdChangePair, Pair: "btcusdt"}, false},
		{"pair with symbols", Command{Type: CmdChangePair, Pair: "BTC-USDT"}, false},
		{"interval", Command{Type: CmdChangeInterval, Interval: "15m"}, true},
		{"bad interval", Command{Type: CmdChangeInterval, Interval: "2m"}, false},
		{"toggle", Command{Type: CmdToggleAutoTrading}, true},
		{"settings missing", Command{Type: CmdUpdateSettings}, false},
		{"unknown", Command{Type: "selfDestruct"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cmd.Validate()
			if tt.ok && err != nil {
				t.Errorf("Expected valid, got %v", err)
			}
			if !tt.ok && !errors.Is(err, errs.ErrInvalidCommand) {
				t.Errorf("Expected ErrInvalidCommand, got %v", err)
			}
		})
	}

	bad := 200.0
	err := Command{Type: CmdUpdateSettings, Settings: &lifecycle.Settings{Leverage: &bad}}.Validate()
	var ce *errs.ConfigError
	if !errors.As(err, &ce) {
		t.Errorf("Expected ConfigError for leverage, got %v", err)
	}
}

func TestProcessCandleOffline(t *testing.T) {
	ctx := context.Background()
	s := New("offline", testConfig(), 1000, Deps{Gateway: binance.NewPaperGateway(1000)})
	cs := genCandles(40, 0)
	for _, c := range cs {
		s.ProcessCandle(ctx, c)
	}

	snap := s.Snapshot()
	if len(snap.Candles) != 40 {
		t.Fatalf("Expected 40 candles, got %d", len(snap.Candles))
	}
	if snap.Analysis == nil || snap.Analysis.CloseTime != cs[39].CloseTime {
		t.Fatalf("Expected analysis of the last close, got %+v", snap.Analysis)
	}
	if snap.Signal == nil {
		t.Errorf("Expected a signal in the snapshot")
	}

	// out-of-order candle leaves the buffer untouched
	s.ProcessCandle(ctx, cs[10])
	snap = s.Snapshot()
	if n := len(snap.Candles); n != 40 || snap.Candles[n-1].CloseTime != cs[39].CloseTime {
		t.Errorf("Expected buffer unchanged, got %d candles", n)
	}
	if snap.LastError == "" {
		t.Errorf("Expected lastError after an out-of-order candle")
	}
}

func TestFormingCandleDoesNotTriggerAnalysis(t *testing.T) {
	ctx := context.Background()
	s := New("offline", testConfig(), 1000, Deps{})
	cs := genCandles(20, 0)
	for _, c := range cs {
		s.ProcessCandle(ctx, c)
	}
	before := s.Snapshot().Analysis.CloseTime

	forming := genCandles(21, 0)[20]
	forming.Closed = false
	s.ProcessCandle(ctx, forming)
	if got := s.Snapshot().Analysis.CloseTime; got != before {
		t.Errorf("Expected analysis to stay at %d, got %d", before, got)
	}
	if n := len(s.Snapshot().Candles); n != 21 {
		t.Errorf("Expected forming candle in the buffer, got %d", n)
	}
}

func TestStaleResultsAreDiscarded(t *testing.T) {
	ctx := context.Background()
	s := New("main", testConfig(), 1000, Deps{})
	s.generation = 2
	s.inFlight = true

	s.handleResult(ctx, workers.Result{Generation: 1, Analysis: analysis.Result{Pair: "OLDUSDT"}})
	if s.lastAnalysis != nil || !s.inFlight {
		t.Fatalf("Expected stale result to be ignored")
	}

	s.handleResult(ctx, workers.Result{Generation: 2, Analysis: analysis.Result{Pair: "BTCUSDT"}})
	if s.lastAnalysis == nil || s.lastAnalysis.Pair != "BTCUSDT" {
		t.Errorf("Expected current result applied, got %+v", s.lastAnalysis)
	}
	if s.inFlight {
		t.Errorf("Expected no job in flight")
	}
}

func TestAnalysisCoalescing(t *testing.T) {
	ctx := context.Background()
	s := New("main", testConfig(), 1000, Deps{})
	s.inFlight = true
	s.requestAnalysis(ctx)
	if !s.dirty {
		t.Fatalf("Expected dirty flag while a job is in flight")
	}
	s.handleResult(ctx, workers.Result{Generation: 0})
	if s.dirty || s.inFlight {
		t.Errorf("Expected dirty work to be re-run inline, dirty=%v inFlight=%v", s.dirty, s.inFlight)
	}
}

func TestCommandsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New("main", testConfig(), 1000, Deps{})
	on := true

	res, err := s.Execute(ctx, Command{Type: CmdToggleAutoTrading, Enabled: &on})
	if err != nil || !res.OK || !res.Changed {
		t.Fatalf("Expected auto-trading enabled, got %+v %v", res, err)
	}
	res, _ = s.Execute(ctx, Command{Type: CmdToggleAutoTrading, Enabled: &on})
	if !res.OK || res.Changed {
		t.Errorf("Expected repeated enable to be a no-op, got %+v", res)
	}
	if !s.Snapshot().AutoTrading {
		t.Errorf("Expected snapshot to show auto-trading on")
	}

	res, _ = s.Execute(ctx, Command{Type: CmdManualClose})
	if !res.OK || res.Changed {
		t.Errorf("Expected manual close without position to be a no-op, got %+v", res)
	}
	res, _ = s.Execute(ctx, Command{Type: CmdResetHalt})
	if !res.OK || res.Changed {
		t.Errorf("Expected reset without halt to be a no-op, got %+v", res)
	}

	if _, err := s.Execute(ctx, Command{Type: CmdChangePair, Pair: "x"}); !errors.Is(err, errs.ErrInvalidCommand) {
		t.Errorf("Expected invalid pair rejected, got %v", err)
	}
}

func TestRunSwitchesContext(t *testing.T) {
	fm := &fakeMarket{history: genCandles(30, 0)}
	s := New("main", testConfig(), 1000, Deps{Market: fm, Gateway: binance.NewPaperGateway(1000)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitFor(t, "base and HTF subscriptions", func() bool { return fm.count() == 2 })
	base := fm.sub(0)
	if base.pair != "BTCUSDT" || base.interval != "1m" || fm.sub(1).interval != "1h" {
		t.Fatalf("Unexpected subscriptions %+v %+v", base, fm.sub(1))
	}

	next := genCandles(31, 0)[30]
	base.ch <- binance.StreamEvent{State: binance.StateConnected}
	base.ch <- binance.StreamEvent{Candle: &next}
	waitFor(t, "streamed candle", func() bool {
		snap := s.Snapshot()
		return snap.Connection == binance.StateConnected && len(snap.Candles) == 31
	})

	res, err := s.Execute(ctx, Command{Type: CmdChangePair, Pair: "ethusdt"})
	if err != nil || !res.Changed {
		t.Fatalf("Expected pair switch, got %+v %v", res, err)
	}
	if base.ctx.Err() == nil {
		t.Errorf("Expected the old stream to be cancelled")
	}
	waitFor(t, "resubscription", func() bool { return fm.count() == 4 })
	if p := fm.sub(2).pair; p != "ETHUSDT" {
		t.Errorf("Expected ETHUSDT subscription, got %s", p)
	}
	snap := s.Snapshot()
	if snap.Pair != "ETHUSDT" || snap.Connection != binance.StateDisconnected {
		t.Errorf("Expected fresh ETHUSDT context, got %s %s", snap.Pair, snap.Connection)
	}

	res, _ = s.Execute(ctx, Command{Type: CmdChangePair, Pair: "ETHUSDT"})
	if res.Changed {
		t.Errorf("Expected switching to the same pair to be a no-op")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean exit, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not exit")
	}
}

func TestRunRequiresMarketData(t *testing.T) {
	s := New("main", testConfig(), 1000, Deps{})
	if err := s.Run(context.Background()); !errors.Is(err, ErrNoMarketData) {
		t.Errorf("Expected ErrNoMarketData, got %v", err)
	}
}

func TestOpportunitySummary(t *testing.T) {
	var o opportunities
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	o.record(Opportunity{At: base.Add(-5 * time.Hour)})
	o.record(Opportunity{At: base.Add(-time.Hour)})
	o.record(Opportunity{At: base, Confidence: 88})

	s := o.summary(base)
	if s.Total != 3 || s.Today != 3 || s.Last4h != 2 {
		t.Errorf("Expected 3/3/2, got total=%d today=%d last4h=%d", s.Total, s.Today, s.Last4h)
	}
	if s.Last == nil || s.Last.Confidence != 88 {
		t.Errorf("Expected last opportunity, got %+v", s.Last)
	}

	for i := 0; i < 150; i++ {
		o.record(Opportunity{At: base})
	}
	if n := len(o.summary(base).History); n != opportunityHistory {
		t.Errorf("Expected history bounded at %d, got %d", opportunityHistory, n)
	}
}

func TestManagerLookup(t *testing.T) {
	m := NewManager()
	s := New("main", testConfig(), 1000, Deps{})
	if err := m.Add(s); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := m.Add(s); err == nil {
		t.Errorf("Expected duplicate ID to be rejected")
	}
	if got, err := m.Get("btcusdt"); err != nil || got != s {
		t.Errorf("Expected lookup by pair, got %v", err)
	}
	if _, err := m.Get("SOLUSDT"); !errors.Is(err, errs.ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
}

func TestCRTReadsFormingHTFCandle(t *testing.T) {
	ctx := context.Background()
	s := New("offline", testConfig(), 1000, Deps{Gateway: binance.NewPaperGateway(1000)})

	const hour = int64(3_600_000)
	s.ProcessHTF(candles.Candle{OpenTime: 0, CloseTime: hour - 1, Open: 100, High: 106, Low: 99, Close: 105, Closed: true})
	s.ProcessHTF(candles.Candle{OpenTime: hour, CloseTime: 2*hour - 1, Open: 103, High: 104, Low: 96, Close: 97, Closed: true})
	s.ProcessHTF(candles.Candle{OpenTime: 2 * hour, CloseTime: 3*hour - 1, Open: 97, High: 98, Low: 96.5, Close: 97.5})

	for _, c := range genCandles(5, 2*hour) {
		s.ProcessCandle(ctx, c)
	}

	a := s.Snapshot().Analysis
	if a == nil || !a.CRT.Ready {
		t.Fatalf("Expected a CRT reading, got %+v", a)
	}
	if a.CRT.PCC != 97 {
		t.Errorf("Expected PCC from the last closed HTF candle (97), got %v", a.CRT.PCC)
	}
	if a.CRT.Current.Closed || a.CRT.Current.OpenTime != 2*hour {
		t.Errorf("Expected the forming HTF candle as current, got %+v", a.CRT.Current)
	}
	if !a.CRT.Validation.Valid {
		t.Errorf("Expected CRT markers to validate, got %v", a.CRT.Validation.Errors)
	}
}

func TestStopCommand(t *testing.T) {
	ctx := context.Background()
	s := New("main", testConfig(), 1000, Deps{Gateway: binance.NewPaperGateway(1000)})
	s.Lifecycle().SetAutoTrading(true)

	if err := (Command{Type: CmdStop}).Validate(); err != nil {
		t.Fatalf("Expected stop to need no payload, got %v", err)
	}
	res, err := s.Execute(ctx, Command{Type: CmdStop})
	if err != nil || !res.OK || !res.Changed {
		t.Fatalf("Expected stop applied, got %+v %v", res, err)
	}
	snap := s.Snapshot()
	if snap.AutoTrading {
		t.Errorf("Expected auto-trading off after stop")
	}
	if snap.Stats.TotalTrades != 0 || snap.Stats.DailyTrades != 0 {
		t.Errorf("Expected reset stats, got %+v", snap.Stats)
	}
}

func TestLeverageSynced(t *testing.T) {
	fm := &fakeMarket{history: genCandles(30, 0)}
	paper := binance.NewPaperGateway(1000)
	s := New("main", testConfig(), 1000, Deps{Market: fm, Gateway: paper})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	waitFor(t, "subscriptions", func() bool { return fm.count() == 2 })
	if got := paper.Leverage("BTCUSDT"); got != 10 {
		t.Errorf("Expected leverage 10 set at start, got %d", got)
	}

	if res, err := s.Execute(ctx, Command{Type: CmdChangePair, Pair: "ETHUSDT"}); err != nil || !res.Changed {
		t.Fatalf("Expected pair switch, got %+v %v", res, err)
	}
	if got := paper.Leverage("ETHUSDT"); got != 10 {
		t.Errorf("Expected leverage set for the new pair, got %d", got)
	}

	lev := 20.0
	if res, _ := s.Execute(ctx, Command{Type: CmdUpdateSettings, Settings: &lifecycle.Settings{Leverage: &lev}}); !res.OK {
		t.Fatalf("Expected settings applied, got %+v", res)
	}
	if got := paper.Leverage("ETHUSDT"); got != 20 {
		t.Errorf("Expected leverage 20 after update, got %d", got)
	}

	paper.FailNext("leverage", errors.New("leverage not allowed"))
	lev = 25
	res, _ := s.Execute(ctx, Command{Type: CmdUpdateSettings, Settings: &lifecycle.Settings{Leverage: &lev}})
	if !res.OK {
		t.Errorf("Expected the update to apply despite the gateway failure, got %+v", res)
	}
	if got := paper.Leverage("ETHUSDT"); got != 20 {
		t.Errorf("Expected leverage to stay 20 after the failure, got %d", got)
	}
	if s.Snapshot().LastError == "" {
		t.Errorf("Expected the leverage failure reported")
	}
}

type countingStore struct {
	*state.MemoryStore
	mu    sync.Mutex
	loads int
}

func (c *countingStore) Load(ctx context.Context) (state.DailyCounters, error) {
	c.mu.Lock()
	c.loads++
	c.mu.Unlock()
	return c.MemoryStore.Load(ctx)
}

func (c *countingStore) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loads
}

func TestRunRestoresCountersOnce(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := &countingStore{MemoryStore: state.NewMemoryStore()}
	store.Save(context.Background(), state.DailyCounters{Date: state.DayKey(now), Trades: 3, Wins: 2, Losses: 1})

	fm := &fakeMarket{history: genCandles(30, 0)}
	s := New("main", testConfig(), 1000, Deps{
		Market:  fm,
		Gateway: binance.NewPaperGateway(1000),
		Store:   store,
		Clock:   func() time.Time { return now },
	})
	if n := store.count(); n != 0 {
		t.Fatalf("Expected no load before Run, got %d", n)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	waitFor(t, "subscriptions", func() bool { return fm.count() == 2 })
	if n := store.count(); n != 1 {
		t.Errorf("Expected counters loaded once, got %d", n)
	}
	if got := s.Lifecycle().Stats().DailyTrades; got != 3 {
		t.Errorf("Expected 3 restored daily trades, got %d", got)
	}
}
