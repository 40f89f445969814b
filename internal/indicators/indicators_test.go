package indicators

import (
	"math"
	"testing"

	"crt-trading-engine/internal/candles"
)

func series(closes ...float64) []candles.Candle {
	out := make([]candles.Candle, len(closes))
	for i, c := range closes {
		out[i] = candles.Candle{
			OpenTime:  int64(i) * 60_000,
			CloseTime: int64(i)*60_000 + 59_999,
			Open:      c,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    100,
			Closed:    true,
		}
	}
	return out
}

func TestShortWindowDefaults(t *testing.T) {
	short := series(100, 101, 102)
	closes := candles.Closes(short)

	if got := RSI(closes, RSIPeriod); got != NeutralRSI {
		t.Errorf("Expected RSI %v, got %v", NeutralRSI, got)
	}
	if got := ATR(short, ATRPeriod); got != 0 {
		t.Errorf("Expected ATR 0, got %v", got)
	}
	if got := EMA(closes, 9); got != 0 {
		t.Errorf("Expected EMA 0, got %v", got)
	}
	if got := SMA(closes, 20); got != 0 {
		t.Errorf("Expected SMA 0, got %v", got)
	}
	if got := Bollinger(closes, BollingerPeriod, BollingerStdDev); got != (Bands{}) {
		t.Errorf("Expected zero bands, got %+v", got)
	}
	if got := VolumeRatio(short[:1], VolumeSMAPeriod); got != NeutralVolumeRate {
		t.Errorf("Expected volume ratio 1, got %v", got)
	}
	if got := VolatilityRatio(nil); got != 0 {
		t.Errorf("Expected volatility 0, got %v", got)
	}
	if got := MomentumRate(short, 3, 1); got != 0 {
		t.Errorf("Expected momentum 0, got %v", got)
	}

	// empty windows must not panic either
	snap := Compute(nil, 0)
	if snap.RSI != NeutralRSI || snap.ATR != 0 {
		t.Errorf("Expected neutral snapshot, got %+v", snap)
	}
}

func TestRSI(t *testing.T) {
	tests := []struct {
		name   string
		closes []float64
		want   float64
	}{
		{"all gains", []float64{1, 2, 3, 4, 5}, 100},
		{"flat", []float64{5, 5, 5, 5, 5}, NeutralRSI},
		{"balanced", []float64{10, 11, 10, 11, 10}, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RSI(tt.closes, 4); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestATRUsesTrueRange(t *testing.T) {
	cs := []candles.Candle{
		{Open: 10, High: 11, Low: 9, Close: 10},
		{Open: 14, High: 15, Low: 13, Close: 14}, // gap up: TR = 15-10 = 5
		{Open: 14, High: 15, Low: 13, Close: 14}, // TR = 2
	}
	if got := ATR(cs, 2); got != 3.5 {
		t.Errorf("Expected ATR 3.5, got %v", got)
	}
}

func TestVolumeRatio(t *testing.T) {
	closes := make([]float64, 25)
	for i := range closes {
		closes[i] = 100
	}
	tests := []struct {
		name string
		n    int
		want float64
	}{
		{"short window is neutral", 5, 1},
		{"one bar short of a full baseline", 20, 1},
		{"full baseline", 21, 3},
		{"longer window uses the last period bars", 25, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs := series(closes[:tt.n]...)
			cs[tt.n-1].Volume = 300
			if got := VolumeRatio(cs, 20); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}

	cs := series(closes[:21]...)
	for i := range cs[:20] {
		cs[i].Volume = 0
	}
	if got := VolumeRatio(cs, 20); got != NeutralVolumeRate {
		t.Errorf("Expected neutral ratio for a zero baseline, got %v", got)
	}
}

func TestEMAAndBollinger(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100
	}
	if got := EMA(closes, 9); math.Abs(got-100) > 1e-9 {
		t.Errorf("Expected EMA 100 on flat series, got %v", got)
	}
	b := Bollinger(closes, 20, 2)
	if math.Abs(b.Middle-100) > 1e-9 || math.Abs(b.Upper-100) > 1e-9 || math.Abs(b.Lower-100) > 1e-9 {
		t.Errorf("Expected collapsed bands at 100, got %+v", b)
	}
}

func TestBodyRatio(t *testing.T) {
	if got := BodyRatio(candles.Candle{Open: 10, Close: 10, High: 10, Low: 10}); got != 0 {
		t.Errorf("Expected 0 for zero range, got %v", got)
	}
	if got := BodyRatio(candles.Candle{Open: 10, Close: 12, High: 12, Low: 10}); got != 1 {
		t.Errorf("Expected 1 for full body, got %v", got)
	}
}

func BenchmarkCompute(b *testing.B) {
	cs := series(make([]float64, 500)...)
	for i := range cs {
		cs[i].Close = 100 + math.Sin(float64(i)/10)
		cs[i].Open = cs[i].Close
		cs[i].High = cs[i].Close + 1
		cs[i].Low = cs[i].Close - 1
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Compute(cs, 9)
	}
}
