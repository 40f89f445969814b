// Package indicators holds pure indicator functions over candle windows.
// Every function returns a neutral default when the window is too short.
package indicators

import (
	"math"

	"github.com/markcheno/go-talib"

	"crt-trading-engine/internal/candles"
)

// Default periods
const (
	RSIPeriod         = 14
	ATRPeriod         = 14
	BollingerPeriod   = 20
	BollingerStdDev   = 2.0
	VolumeSMAPeriod   = 20
	NeutralRSI        = 50.0
	NeutralVolumeRate = 1.0
)

// ============================================================================
// MOVING AVERAGES
// ============================================================================

// SMA calculates the simple moving average of the last period values
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	sma := talib.Sma(values[len(values)-period:], period)
	return sma[len(sma)-1]
}

// EMA calculates the exponential moving average, seeded with an SMA
func EMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	ema := talib.Ema(values, period)
	return ema[len(ema)-1]
}

// ============================================================================
// RSI (Relative Strength Index)
// ============================================================================

// RSI calculates the relative strength index using simple averages of the
// last period changes.
func RSI(closes []float64, period int) float64 {
	if period <= 0 || len(closes) < period+1 {
		return NeutralRSI
	}

	gains := 0.0
	losses := 0.0
	for i := len(closes) - period; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		if avgGain == 0 {
			return NeutralRSI
		}
		return 100.0
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// ============================================================================
// BOLLINGER BANDS
// ============================================================================

// Bands holds Bollinger band values
type Bands struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
}

// Bollinger calculates Bollinger bands with a population standard deviation
func Bollinger(closes []float64, period int, stdDev float64) Bands {
	if period <= 1 || len(closes) < period {
		return Bands{}
	}
	upper, middle, lower := talib.BBands(closes[len(closes)-period:], period, stdDev, stdDev, talib.SMA)
	last := len(middle) - 1
	return Bands{Upper: upper[last], Middle: middle[last], Lower: lower[last]}
}

// ============================================================================
// ATR (Average True Range)
// ============================================================================

// TrueRange returns max(high-low, |high-prevClose|, |low-prevClose|)
func TrueRange(c candles.Candle, prevClose float64) float64 {
	return math.Max(c.High-c.Low, math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
}

// ATR calculates the mean true range over the last period bars
func ATR(cs []candles.Candle, period int) float64 {
	if period <= 0 || len(cs) < period+1 {
		return 0
	}

	sum := 0.0
	for i := len(cs) - period; i < len(cs); i++ {
		sum += TrueRange(cs[i], cs[i-1].Close)
	}
	return sum / float64(period)
}

// ============================================================================
// VOLUME / VOLATILITY
// ============================================================================

// VolumeRatio returns the current volume divided by the SMA of the previous
// period volumes. Neutral until period+1 candles exist.
func VolumeRatio(cs []candles.Candle, period int) float64 {
	if period <= 0 || len(cs) < period+1 {
		return NeutralVolumeRate
	}
	sum := 0.0
	for _, c := range cs[len(cs)-1-period : len(cs)-1] {
		sum += c.Volume
	}
	avg := sum / float64(period)
	if avg <= 0 {
		return NeutralVolumeRate
	}
	return cs[len(cs)-1].Volume / avg
}

// VolatilityRatio returns the current bar range divided by the mean range of the window
func VolatilityRatio(cs []candles.Candle) float64 {
	if len(cs) == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range cs {
		sum += c.Range()
	}
	avg := sum / float64(len(cs))
	if avg <= 0 {
		return 0
	}
	return cs[len(cs)-1].Range() / avg
}

// MomentumRate returns the close change over n bars expressed in ATR units
func MomentumRate(cs []candles.Candle, n int, atr float64) float64 {
	if n <= 0 || len(cs) < n+1 || atr <= 0 {
		return 0
	}
	return (cs[len(cs)-1].Close - cs[len(cs)-1-n].Close) / atr
}

// BodyRatio returns body size over range, 0 for a zero-range bar
func BodyRatio(c candles.Candle) float64 {
	r := c.Range()
	if r <= 0 {
		return 0
	}
	return c.Body() / r
}

// ============================================================================
// SNAPSHOT
// ============================================================================

// Snapshot is the indicator bank evaluated over one window
type Snapshot struct {
	RSI          float64 `json:"rsi"`
	ATR          float64 `json:"atr"`
	EMA          float64 `json:"ema"`
	Bollinger    Bands   `json:"bollinger"`
	VolumeRatio  float64 `json:"volumeRatio"`
	Volatility   float64 `json:"volatility"`
	MomentumRate float64 `json:"momentumRate"`
	BodyRatio    float64 `json:"bodyRatio"`
	Price        float64 `json:"price"`
}

// Compute evaluates the standard bank. emaPeriod <= 0 uses 9.
func Compute(cs []candles.Candle, emaPeriod int) Snapshot {
	if emaPeriod <= 0 {
		emaPeriod = 9
	}
	closes := candles.Closes(cs)
	atr := ATR(cs, ATRPeriod)
	snap := Snapshot{
		RSI:          RSI(closes, RSIPeriod),
		ATR:          atr,
		EMA:          EMA(closes, emaPeriod),
		Bollinger:    Bollinger(closes, BollingerPeriod, BollingerStdDev),
		VolumeRatio:  VolumeRatio(cs, VolumeSMAPeriod),
		MomentumRate: MomentumRate(cs, 3, atr),
	}
	if n := len(cs); n > 0 {
		recent := cs
		if n > 20 {
			recent = cs[n-20:]
		}
		snap.Volatility = VolatilityRatio(recent)
		snap.BodyRatio = BodyRatio(cs[n-1])
		snap.Price = cs[n-1].Close
	}
	return snap
}
