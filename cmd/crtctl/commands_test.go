package main

import (
	"bytes"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"crt-trading-engine/internal/candles"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeCandles(t *testing.T, n int) string {
	t.Helper()
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	step := time.Minute.Milliseconds()
	cs := make([]candles.Candle, n)
	price := 100.0
	for i := range cs {
		open := price
		price = 100 + 3*math.Sin(float64(i)/5)
		ot := start + int64(i)*step
		cs[i] = candles.Candle{
			OpenTime: ot, CloseTime: ot + step - 1,
			Open: open, Close: price,
			High: math.Max(open, price) + 0.5, Low: math.Min(open, price) - 0.5,
			Volume: 5, Closed: true,
		}
	}
	data, _ := json.Marshal(cs)
	path := filepath.Join(t.TempDir(), "candles.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReplayCommandJSON(t *testing.T) {
	path := writeCandles(t, 240)
	out, err := run(t, "replay", path, "--interval", "1m", "--htf", "1h", "--json", "--balance", "5000")
	if err != nil {
		t.Fatalf("replay failed: %v\n%s", err, out)
	}
	var res struct {
		Candles      int     `json:"candles"`
		FinalBalance float64 `json:"finalBalance"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("Expected JSON output, got %q: %v", out, err)
	}
	if res.Candles != 240 {
		t.Errorf("Expected 240 candles replayed, got %d", res.Candles)
	}
	if res.FinalBalance <= 0 {
		t.Errorf("Expected a final balance, got %v", res.FinalBalance)
	}
}

func TestReplayCommandRejectsBadInterval(t *testing.T) {
	path := writeCandles(t, 10)
	if _, err := run(t, "replay", path, "--interval", "7m"); err == nil {
		t.Errorf("Expected error for unsupported interval")
	}
}

func TestConfigSampleAndCheck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if _, err := run(t, "config", "sample", path); err != nil {
		t.Fatalf("config sample failed: %v", err)
	}
	out, err := run(t, "--config", path, "config", "check")
	if err != nil {
		t.Fatalf("config check failed: %v", err)
	}
	if !strings.Contains(out, "BTCUSDT") || !strings.Contains(out, "ETHUSDT") {
		t.Errorf("Expected both sample sessions listed, got %q", out)
	}
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "")
	if _, err := run(t, "token"); err == nil {
		t.Errorf("Expected error without a secret")
	}

	t.Setenv("AUTH_JWT_SECRET", "test-secret")
	out, err := run(t, "token", "--operator", "alice", "--commands")
	if err != nil {
		t.Fatalf("token failed: %v", err)
	}
	if parts := strings.Split(strings.TrimSpace(out), "."); len(parts) != 3 {
		t.Errorf("Expected a JWT, got %q", out)
	}
}
