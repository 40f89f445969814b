package backtest

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"crt-trading-engine/internal/candles"
	"crt-trading-engine/internal/lifecycle"
	"crt-trading-engine/internal/session"
	"crt-trading-engine/internal/signal"
)

func replayCandles(n int) []candles.Candle {
	out := make([]candles.Candle, n)
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	step := time.Minute.Milliseconds()
	price := 100.0
	for i := range out {
		open := price
		// trending swings large enough to pass the ATR gate
		price = 100 + 0.05*float64(i) + 4*math.Sin(float64(i)/6)
		ot := start + int64(i)*step
		out[i] = candles.Candle{
			OpenTime:  ot,
			CloseTime: ot + step - 1,
			Open:      open,
			Close:     price,
			High:      math.Max(open, price) + 0.6,
			Low:       math.Min(open, price) - 0.6,
			Volume:    10 + float64(i%7),
			Closed:    true,
		}
	}
	return out
}

func replayConfig() Config {
	cfg := session.DefaultConfig()
	cfg.Interval = "1m"
	cfg.HTFInterval = "1h"
	cfg.Lifecycle.MinATR = 0
	cfg.Lifecycle.MinConfidence = 0
	cfg.Lifecycle.TargetLosses = 0
	cfg.Lifecycle.TargetWins = 0
	cfg.Lifecycle.MaxTradesPerDay = 0
	cfg.Breaker.MaxConsecutiveLosses = 1000
	cfg.Breaker.MaxDrawdownPercent = 100
	return Config{Session: cfg, InitialBalance: 10000, CloseAtEnd: true}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		shouldError bool
	}{
		{"valid", func(*Config) {}, false},
		{"zero balance", func(c *Config) { c.InitialBalance = 0 }, true},
		{"empty pair", func(c *Config) { c.Session.Pair = "" }, true},
		{"bad interval", func(c *Config) { c.Session.Interval = "7m" }, true},
		{"bad leverage", func(c *Config) { c.Session.Lifecycle.Sizing.Leverage = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := replayConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.shouldError {
				t.Errorf("Expected error: %v, got %v", tt.shouldError, err)
			}
		})
	}
}

func TestReplayBalancesAgree(t *testing.T) {
	cs := replayCandles(600)
	res, err := NewEngine(replayConfig()).Run(context.Background(), cs)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Candles != len(cs) {
		t.Errorf("Expected %d candles, got %d", len(cs), res.Candles)
	}
	if len(res.EquityCurve) < len(cs) {
		t.Errorf("Expected an equity point per candle, got %d", len(res.EquityCurve))
	}

	sum := 0.0
	for _, tr := range res.Trades {
		if tr.Win != (tr.PnL > 0) {
			t.Errorf("Trade %s: win=%v with pnl %.4f", tr.ID, tr.Win, tr.PnL)
		}
		sum += tr.PnL
	}
	if diff := math.Abs(res.FinalBalance - (10000 + sum)); diff > 1e-6 {
		t.Errorf("Expected final balance %.4f, got %.4f", 10000+sum, res.FinalBalance)
	}
	if res.WinningTrades+res.LosingTrades != res.TotalTrades {
		t.Errorf("Expected wins+losses == total, got %d+%d != %d", res.WinningTrades, res.LosingTrades, res.TotalTrades)
	}
	total := 0
	for _, n := range res.ExitReasons {
		total += n
	}
	if total != res.TotalTrades {
		t.Errorf("Expected %d exit reasons, got %d", res.TotalTrades, total)
	}
}

func TestReplayRejectsEmptyInput(t *testing.T) {
	if _, err := NewEngine(replayConfig()).Run(context.Background(), nil); err == nil {
		t.Errorf("Expected error for empty candles")
	}
}

func TestReplayHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewEngine(replayConfig()).Run(ctx, replayCandles(10)); err == nil {
		t.Errorf("Expected context error")
	}
}

func TestCalculateMetrics(t *testing.T) {
	e := NewEngine(Config{InitialBalance: 1000})
	res := &Result{
		Trades: []lifecycle.Trade{
			{PnL: 30, Win: true, PnLPercent: 3},
			{PnL: -10, PnLPercent: -1},
			{PnL: 0, PnLPercent: 0},
			{PnL: 20, Win: true, PnLPercent: 2},
		},
		EquityCurve: []EquityPoint{{Equity: 1000}, {Equity: 1030}, {Equity: 1020}, {Equity: 1040}},
		SetupStats:  map[signal.Setup]*SetupResult{},
	}
	e.calculateMetrics(res, 1040)

	if res.WinningTrades != 2 || res.LosingTrades != 2 {
		t.Errorf("Expected 2 wins and 2 losses (zero counts as loss), got %d/%d", res.WinningTrades, res.LosingTrades)
	}
	if res.WinRate != 50 {
		t.Errorf("Expected win rate 50, got %.2f", res.WinRate)
	}
	if res.ProfitFactor != 5 {
		t.Errorf("Expected profit factor 5, got %.2f", res.ProfitFactor)
	}
	if res.ROI != 4 {
		t.Errorf("Expected ROI 4, got %.2f", res.ROI)
	}
	if res.AverageLoss != 5 {
		t.Errorf("Expected average loss 5, got %.2f", res.AverageLoss)
	}
	if res.SharpeRatio <= 0 {
		t.Errorf("Expected positive Sharpe ratio, got %.2f", res.SharpeRatio)
	}
}

func TestMaxDrawdown(t *testing.T) {
	var curve []EquityPoint
	for _, v := range []float64{10000, 10500, 10200, 9800, 10100, 9500, 10000, 10800} {
		curve = append(curve, EquityPoint{Equity: v})
	}
	// peak 10500, trough 9500
	got := maxDrawdown(curve)
	if math.Abs(got-9.5238) > 0.001 {
		t.Errorf("Expected max drawdown 9.52%%, got %.4f%%", got)
	}
	if maxDrawdown(nil) != 0 {
		t.Errorf("Expected 0 for an empty curve")
	}
}

func TestRounded(t *testing.T) {
	r := Result{NetProfit: 12.345, WinRate: 66.6666, SetupStats: map[signal.Setup]*SetupResult{
		signal.SetupSniper: {NetProfit: 1.005},
	}}
	rr := r.Rounded()
	if rr.NetProfit != 12.35 || rr.WinRate != 66.67 {
		t.Errorf("Expected 12.35 and 66.67, got %v and %v", rr.NetProfit, rr.WinRate)
	}
	if rr.SetupStats[signal.SetupSniper].NetProfit != 1.01 {
		t.Errorf("Expected 1.01, got %v", rr.SetupStats[signal.SetupSniper].NetProfit)
	}
	if r.SetupStats[signal.SetupSniper].NetProfit != 1.005 {
		t.Errorf("Expected original stats untouched")
	}
}

func TestParseJSONObjects(t *testing.T) {
	in := `[{"openTime":60000,"open":1,"high":2,"low":0.5,"close":1.5,"volume":3},
	        {"openTime":0,"open":1,"high":2,"low":0.5,"close":1,"volume":3}]`
	cs, err := ParseJSON(strings.NewReader(in), time.Minute)
	if err != nil {
		t.Fatalf("ParseJSON failed: %v", err)
	}
	if len(cs) != 2 || cs[0].OpenTime != 0 || cs[1].CloseTime != 119999 {
		t.Errorf("Expected sorted candles with derived close times, got %+v", cs)
	}
	if !cs[0].Closed {
		t.Errorf("Expected recorded candles to be closed")
	}
}

func TestParseJSONKlines(t *testing.T) {
	in := `[[0,"100","101","99","100.5","12",59999,"0",1,"0","0","0"],
	        [60000,"100.5","102","100","101","8",119999,"0",1,"0","0","0"]]`
	cs, err := ParseJSON(strings.NewReader(in), 0)
	if err != nil {
		t.Fatalf("ParseJSON failed: %v", err)
	}
	if len(cs) != 2 || cs[1].High != 102 || cs[1].CloseTime != 119999 {
		t.Errorf("Expected two klines, got %+v", cs)
	}
}

func TestParseCSV(t *testing.T) {
	in := "timestamp,open,high,low,close,volume\n" +
		"2024-03-01T00:01:00Z,101,102,100,101.5,5\n" +
		"2024-03-01T00:00:00Z,100,101,99,101,4\n" +
		"2024-03-01T00:00:00Z,100,101.5,99,101.2,6\n"
	cs, err := ParseCSV(strings.NewReader(in), time.Minute)
	if err != nil {
		t.Fatalf("ParseCSV failed: %v", err)
	}
	if len(cs) != 2 {
		t.Fatalf("Expected duplicate close time collapsed, got %d", len(cs))
	}
	if cs[0].Close != 101.2 {
		t.Errorf("Expected the later duplicate to win, got %.2f", cs[0].Close)
	}

	if _, err := ParseCSV(strings.NewReader("open,high\n1,2\n"), time.Minute); err == nil {
		t.Errorf("Expected error for missing columns")
	}
	if _, err := ParseCSV(strings.NewReader(in), 0); err == nil {
		t.Errorf("Expected error without close times or interval")
	}
}
