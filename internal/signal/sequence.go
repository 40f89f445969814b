package signal

import (
	"crt-trading-engine/internal/analysis"
	"crt-trading-engine/internal/candles"
	"crt-trading-engine/internal/indicators"
)

// Bias is the directional lean of a short candle sequence
type Bias struct {
	Direction analysis.Direction `json:"direction"`
	Bull      int                `json:"bull"`
	Bear      int                `json:"bear"`
	Score     float64            `json:"score"`    // body-ratio weighted, -1..1
	Strength  float64            `json:"strength"` // |Score|
	Window    int                `json:"window"`
}

// SequenceBias reads the last n candles. A direction is reported only when a
// strict majority of candles and the weighted score agree.
func SequenceBias(cs []candles.Candle, n int) Bias {
	if n <= 0 || len(cs) == 0 {
		return Bias{Direction: analysis.Neutral}
	}
	if len(cs) > n {
		cs = cs[len(cs)-n:]
	}

	b := Bias{Direction: analysis.Neutral, Window: len(cs)}
	sum := 0.0
	for _, c := range cs {
		switch c.Direction() {
		case 1:
			b.Bull++
		case -1:
			b.Bear++
		}
		sum += float64(c.Direction()) * indicators.BodyRatio(c)
	}
	b.Score = sum / float64(len(cs))
	if b.Score < 0 {
		b.Strength = -b.Score
	} else {
		b.Strength = b.Score
	}

	half := len(cs) / 2
	switch {
	case b.Bull > half && b.Score > 0:
		b.Direction = analysis.Bullish
	case b.Bear > half && b.Score < 0:
		b.Direction = analysis.Bearish
	}
	return b
}

// Dominant reports a strong lean: at least 6 of 8 candles in one direction
// (scaled to the window) or a weighted score of at least 0.5
func (b Bias) Dominant() analysis.Direction {
	need := (b.Window*3 + 3) / 4
	switch {
	case b.Bull >= need && b.Bull > b.Bear, b.Score >= 0.5:
		return analysis.Bullish
	case b.Bear >= need && b.Bear > b.Bull, b.Score <= -0.5:
		return analysis.Bearish
	}
	return analysis.Neutral
}
