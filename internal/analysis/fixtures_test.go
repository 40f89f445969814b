package analysis

import "crt-trading-engine/internal/candles"

// bar builds a 1-minute candle around mid with a fixed 0.6 range
func bar(i int, mid float64, bullish bool) candles.Candle {
	c := candles.Candle{
		OpenTime:  int64(i) * 60_000,
		CloseTime: int64(i)*60_000 + 59_999,
		High:      mid + 0.3,
		Low:       mid - 0.3,
		Volume:    100,
		Closed:    true,
	}
	if bullish {
		c.Open, c.Close = mid-0.1, mid+0.1
	} else {
		c.Open, c.Close = mid+0.1, mid-0.1
	}
	return c
}

// reversalSeries returns 60 candles: an ascent with a bullish FVG on bars
// 10-12, a top at bar 30, a swing low at bar 40 (low 104.3), a lower high at
// bar 48 and a sweep of the bar 40 low at bar 55 that closes back above it.
func reversalSeries() []candles.Candle {
	cs := make([]candles.Candle, 0, 60)
	for i := 0; i <= 10; i++ {
		cs = append(cs, bar(i, 100+0.2*float64(i), true))
	}
	cs = append(cs, candles.Candle{
		OpenTime: 11 * 60_000, CloseTime: 11*60_000 + 59_999,
		Open: 102.1, High: 103.5, Low: 101.9, Close: 103.4, Volume: 300, Closed: true,
	})
	for i := 12; i <= 30; i++ {
		cs = append(cs, bar(i, 103.5+0.2*float64(i-12), true))
	}
	for i := 31; i <= 40; i++ {
		cs = append(cs, bar(i, 107.1-0.25*float64(i-30), false))
	}
	for i := 41; i <= 48; i++ {
		cs = append(cs, bar(i, 104.6+0.2*float64(i-40), true))
	}
	for i := 49; i <= 54; i++ {
		cs = append(cs, bar(i, 106.2-0.25*float64(i-48), false))
	}
	cs = append(cs, candles.Candle{
		OpenTime: 55 * 60_000, CloseTime: 55*60_000 + 59_999,
		Open: 104.5, High: 105.0, Low: 104.0, Close: 104.8, Volume: 250, Closed: true,
	})
	for i := 56; i <= 59; i++ {
		cs = append(cs, bar(i, 104.9+0.2*float64(i-56), true))
	}
	return cs
}
