package candles

import "time"

// Trading session tags by UTC hour
const (
	SessionAsia    = "ASIA"
	SessionLondon  = "LONDON"
	SessionNewYork = "NY"
	SessionOff     = "OFF"
)

// MarketSession returns the trading session a UTC instant falls in.
// ASIA 00-04, LONDON 07-10, NY 12-16.
func MarketSession(t time.Time) string {
	h := t.UTC().Hour()
	switch {
	case h >= 0 && h < 4:
		return SessionAsia
	case h >= 7 && h < 10:
		return SessionLondon
	case h >= 12 && h < 16:
		return SessionNewYork
	}
	return SessionOff
}

// Bucket returns the [open, close] millisecond bounds of the period of length d
// containing ms. Periods are aligned to the unix epoch like exchange klines.
func Bucket(ms int64, d time.Duration) (int64, int64) {
	step := d.Milliseconds()
	if step <= 0 {
		return ms, ms
	}
	open := ms - ms%step
	return open, open + step - 1
}

// Merge folds a lower timeframe candle into the higher timeframe candle acc.
// acc must be the zero value or a candle of the same bucket.
func Merge(acc Candle, c Candle, d time.Duration) Candle {
	open, closeT := Bucket(c.OpenTime, d)
	if acc.CloseTime != closeT {
		return Candle{
			OpenTime:  open,
			CloseTime: closeT,
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
			Closed:    c.Closed && c.CloseTime >= closeT,
		}
	}
	if c.High > acc.High {
		acc.High = c.High
	}
	if c.Low < acc.Low {
		acc.Low = c.Low
	}
	acc.Close = c.Close
	acc.Volume += c.Volume
	acc.Closed = c.Closed && c.CloseTime >= closeT
	return acc
}

// Resample aggregates ordered closed candles into period d bars
func Resample(cs []Candle, d time.Duration) []Candle {
	var out []Candle
	var acc Candle
	for _, c := range cs {
		_, closeT := Bucket(c.OpenTime, d)
		if acc.CloseTime != 0 && acc.CloseTime != closeT {
			out = append(out, acc)
			acc = Candle{}
		}
		acc = Merge(acc, c, d)
	}
	if acc.CloseTime != 0 {
		out = append(out, acc)
	}
	return out
}
