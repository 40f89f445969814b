package candles

import (
	"fmt"
	"math"
	"time"

	"crt-trading-engine/internal/errs"
)

// Candle is one OHLCV bar. Times are unix milliseconds.
type Candle struct {
	OpenTime  int64   `json:"openTime"`
	CloseTime int64   `json:"closeTime"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Closed    bool    `json:"closed"`
}

// Validate checks the OHLC invariants
func (c Candle) Validate() error {
	for _, v := range []float64{c.Open, c.High, c.Low, c.Close, c.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite value", errs.ErrMalformedCandle)
		}
	}
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return fmt.Errorf("%w: non-positive price", errs.ErrMalformedCandle)
	}
	if c.Volume < 0 {
		return fmt.Errorf("%w: negative volume", errs.ErrMalformedCandle)
	}
	if c.High < math.Max(c.Open, c.Close) || c.Low > math.Min(c.Open, c.Close) {
		return fmt.Errorf("%w: high/low outside body", errs.ErrMalformedCandle)
	}
	if c.CloseTime <= 0 || c.CloseTime < c.OpenTime {
		return fmt.Errorf("%w: bad close time %d", errs.ErrMalformedCandle, c.CloseTime)
	}
	return nil
}

// IsBullish reports a close above the open
func (c Candle) IsBullish() bool { return c.Close > c.Open }

// IsBearish reports a close below the open
func (c Candle) IsBearish() bool { return c.Close < c.Open }

// Body returns the absolute body size
func (c Candle) Body() float64 { return math.Abs(c.Close - c.Open) }

// Range returns high minus low
func (c Candle) Range() float64 { return c.High - c.Low }

// BodyTop returns the upper edge of the body
func (c Candle) BodyTop() float64 { return math.Max(c.Open, c.Close) }

// BodyBottom returns the lower edge of the body
func (c Candle) BodyBottom() float64 { return math.Min(c.Open, c.Close) }

// Direction returns +1 for bullish, -1 for bearish and 0 for a doji
func (c Candle) Direction() int {
	switch {
	case c.Close > c.Open:
		return 1
	case c.Close < c.Open:
		return -1
	}
	return 0
}

// CloseAt returns the close time as a UTC time
func (c Candle) CloseAt() time.Time {
	return time.UnixMilli(c.CloseTime).UTC()
}

// Closes extracts close prices
func Closes(cs []Candle) []float64 {
	out := make([]float64, len(cs))
	for i, c := range cs {
		out[i] = c.Close
	}
	return out
}

// Volumes extracts volumes
func Volumes(cs []Candle) []float64 {
	out := make([]float64, len(cs))
	for i, c := range cs {
		out[i] = c.Volume
	}
	return out
}

// Last returns the trailing candle and false when cs is empty
func Last(cs []Candle) (Candle, bool) {
	if len(cs) == 0 {
		return Candle{}, false
	}
	return cs[len(cs)-1], true
}
