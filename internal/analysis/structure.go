package analysis

import (
	"math"

	"crt-trading-engine/internal/candles"
	"crt-trading-engine/internal/indicators"
)

// Direction is a market direction
type Direction string

const (
	Bullish Direction = "BULLISH"
	Bearish Direction = "BEARISH"
	Neutral Direction = "NEUTRAL"
)

// Opposite returns the reverse direction
func (d Direction) Opposite() Direction {
	switch d {
	case Bullish:
		return Bearish
	case Bearish:
		return Bullish
	}
	return Neutral
}

// PivotKind tags a swing point
type PivotKind string

const (
	PivotHigh PivotKind = "HIGH"
	PivotLow  PivotKind = "LOW"
)

// Pivot is a confirmed swing point. Index is the absolute bar sequence.
type Pivot struct {
	Kind  PivotKind `json:"kind"`
	Price float64   `json:"price"`
	Index int64     `json:"index"`
}

// StructureKind classifies a structural break
type StructureKind string

const (
	BreakOfStructure  StructureKind = "BOS"
	ChangeOfCharacter StructureKind = "CHOCH"
)

// StructureEvent is one entry of the append-only break log
type StructureEvent struct {
	Kind      StructureKind `json:"kind"`
	Direction Direction     `json:"direction"`
	Price     float64       `json:"price"`
	Index     int64         `json:"index"`
}

// PoolKind tags equal highs or equal lows
type PoolKind string

const (
	EqualHighs PoolKind = "EQH"
	EqualLows  PoolKind = "EQL"
)

// LiquidityPool is a cluster of swing points resting at the same level
type LiquidityPool struct {
	Kind    PoolKind `json:"kind"`
	Level   float64  `json:"level"`
	Touches int      `json:"touches"`
	Last    int64    `json:"last"`
}

// StructureResult is the structure state over a window
type StructureResult struct {
	Pivots   []Pivot          `json:"pivots"`
	Events   []StructureEvent `json:"events"`
	Trend    Direction        `json:"trend"`
	LastHigh *Pivot           `json:"lastHigh,omitempty"`
	LastLow  *Pivot           `json:"lastLow,omitempty"`
	Pools    []LiquidityPool  `json:"pools"`
}

// LastEvent returns the tail of the event log
func (r StructureResult) LastEvent() (StructureEvent, bool) {
	if len(r.Events) == 0 {
		return StructureEvent{}, false
	}
	return r.Events[len(r.Events)-1], true
}

// StructureDetector finds pivots and classifies closes through them
type StructureDetector struct {
	cfg Config
}

// NewStructureDetector creates a detector
func NewStructureDetector(cfg Config) *StructureDetector {
	return &StructureDetector{cfg: cfg.withDefaults()}
}

// Detect replays the window bar by bar. base is the absolute index of cs[0].
func (d *StructureDetector) Detect(cs []candles.Candle, base int64) StructureResult {
	res := StructureResult{Trend: Neutral}
	lb := d.cfg.PivotLookback
	var lastHigh, lastLow *Pivot
	var highBroken, lowBroken bool

	for k := range cs {
		if p := k - lb; p >= lb {
			if isPivotHigh(cs, p, lb) {
				piv := Pivot{Kind: PivotHigh, Price: cs[p].High, Index: base + int64(p)}
				res.Pivots = append(res.Pivots, piv)
				lastHigh = &piv
				highBroken = false
			}
			if isPivotLow(cs, p, lb) {
				piv := Pivot{Kind: PivotLow, Price: cs[p].Low, Index: base + int64(p)}
				res.Pivots = append(res.Pivots, piv)
				lastLow = &piv
				lowBroken = false
			}
		}

		c := cs[k]
		if lastHigh != nil && !highBroken && c.Close > lastHigh.Price {
			highBroken = true
			res.Events = append(res.Events, StructureEvent{
				Kind:      breakKind(res.Trend, Bullish),
				Direction: Bullish,
				Price:     lastHigh.Price,
				Index:     base + int64(k),
			})
			res.Trend = Bullish
		}
		if lastLow != nil && !lowBroken && c.Close < lastLow.Price {
			lowBroken = true
			res.Events = append(res.Events, StructureEvent{
				Kind:      breakKind(res.Trend, Bearish),
				Direction: Bearish,
				Price:     lastLow.Price,
				Index:     base + int64(k),
			})
			res.Trend = Bearish
		}
	}

	if n := len(res.Events); n > d.cfg.MaxEvents {
		res.Events = res.Events[n-d.cfg.MaxEvents:]
	}
	for i := len(res.Pivots) - 1; i >= 0 && (res.LastHigh == nil || res.LastLow == nil); i-- {
		p := res.Pivots[i]
		if p.Kind == PivotHigh && res.LastHigh == nil {
			res.LastHigh = &p
		}
		if p.Kind == PivotLow && res.LastLow == nil {
			res.LastLow = &p
		}
	}
	res.Pools = d.pools(res.Pivots, indicators.ATR(cs, d.cfg.ATRPeriod))
	return res
}

// pools clusters recent swing points lying within tolerance of each other
func (d *StructureDetector) pools(pivots []Pivot, atr float64) []LiquidityPool {
	const recent = 10
	var highs, lows []Pivot
	for i := len(pivots) - 1; i >= 0; i-- {
		p := pivots[i]
		if p.Kind == PivotHigh && len(highs) < recent {
			highs = append(highs, p)
		}
		if p.Kind == PivotLow && len(lows) < recent {
			lows = append(lows, p)
		}
	}

	var out []LiquidityPool
	out = append(out, cluster(highs, EqualHighs, atr*d.cfg.PoolToleranceATR)...)
	out = append(out, cluster(lows, EqualLows, atr*d.cfg.PoolToleranceATR)...)
	return out
}

func cluster(pivots []Pivot, kind PoolKind, tol float64) []LiquidityPool {
	var groups []LiquidityPool
	for _, p := range pivots {
		t := tol
		if t <= 0 {
			t = p.Price * 0.0005
		}
		joined := false
		for i := range groups {
			if math.Abs(groups[i].Level-p.Price) <= t {
				n := float64(groups[i].Touches)
				groups[i].Level = (groups[i].Level*n + p.Price) / (n + 1)
				groups[i].Touches++
				if p.Index > groups[i].Last {
					groups[i].Last = p.Index
				}
				joined = true
				break
			}
		}
		if !joined {
			groups = append(groups, LiquidityPool{Kind: kind, Level: p.Price, Touches: 1, Last: p.Index})
		}
	}

	out := groups[:0]
	for _, g := range groups {
		if g.Touches >= 2 {
			out = append(out, g)
		}
	}
	return out
}

func breakKind(trend, dir Direction) StructureKind {
	if trend == dir.Opposite() {
		return ChangeOfCharacter
	}
	return BreakOfStructure
}

// isPivotHigh: high[p] is >= every bar to the left and > every bar to the right
func isPivotHigh(cs []candles.Candle, p, lb int) bool {
	if p-lb < 0 || p+lb >= len(cs) {
		return false
	}
	h := cs[p].High
	for j := p - lb; j < p; j++ {
		if cs[j].High > h {
			return false
		}
	}
	for j := p + 1; j <= p+lb; j++ {
		if cs[j].High >= h {
			return false
		}
	}
	return true
}

func isPivotLow(cs []candles.Candle, p, lb int) bool {
	if p-lb < 0 || p+lb >= len(cs) {
		return false
	}
	l := cs[p].Low
	for j := p - lb; j < p; j++ {
		if cs[j].Low < l {
			return false
		}
	}
	for j := p + 1; j <= p+lb; j++ {
		if cs[j].Low <= l {
			return false
		}
	}
	return true
}
