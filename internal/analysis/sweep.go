package analysis

import "crt-trading-engine/internal/candles"

// SweepKind tags the side of a liquidity sweep
type SweepKind string

const (
	SweepBull SweepKind = "SWEEP_BULL" // sell-side liquidity taken below a swing low
	SweepBear SweepKind = "SWEEP_BEAR" // buy-side liquidity taken above a swing high
)

// SweepEvent is a wick through a pivot that closed back inside
type SweepEvent struct {
	Kind         SweepKind `json:"kind"`
	Level        float64   `json:"level"`
	PivotIndex   int64     `json:"pivotIndex"`
	TriggerIndex int64     `json:"triggerIndex"`
	Extreme      float64   `json:"extreme"`
}

// Direction returns the trade direction the sweep points to
func (s SweepEvent) Direction() Direction {
	if s.Kind == SweepBull {
		return Bullish
	}
	return Bearish
}

// SweepDetector finds the most recent live liquidity sweep
type SweepDetector struct {
	cfg Config
}

// NewSweepDetector creates a detector
func NewSweepDetector(cfg Config) *SweepDetector {
	return &SweepDetector{cfg: cfg.withDefaults()}
}

// Detect returns the most recent sweep event in the window, or nil when none
// is live (last index - trigger index must be below SweepLookback).
func (d *SweepDetector) Detect(cs []candles.Candle, base int64) *SweepEvent {
	n := len(cs)
	if n < 4 {
		return nil
	}

	var latest *SweepEvent
	keep := func(ev SweepEvent) {
		if latest == nil || ev.TriggerIndex > latest.TriggerIndex ||
			(ev.TriggerIndex == latest.TriggerIndex && ev.PivotIndex > latest.PivotIndex) {
			e := ev
			latest = &e
		}
	}

	for i := 1; i < n-1; i++ {
		if cs[i].High > cs[i-1].High && cs[i].High > cs[i+1].High {
			level := cs[i].High
			for j := i + 2; j < n; j++ {
				if cs[j].High <= level {
					continue
				}
				if cs[j].Close < level {
					keep(SweepEvent{Kind: SweepBear, Level: level, PivotIndex: base + int64(i), TriggerIndex: base + int64(j), Extreme: cs[j].High})
				}
				break
			}
		}
		if cs[i].Low < cs[i-1].Low && cs[i].Low < cs[i+1].Low {
			level := cs[i].Low
			for j := i + 2; j < n; j++ {
				if cs[j].Low >= level {
					continue
				}
				if cs[j].Close > level {
					keep(SweepEvent{Kind: SweepBull, Level: level, PivotIndex: base + int64(i), TriggerIndex: base + int64(j), Extreme: cs[j].Low})
				}
				break
			}
		}
	}

	if latest == nil {
		return nil
	}
	last := base + int64(n-1)
	if last-latest.TriggerIndex >= int64(d.cfg.SweepLookback) {
		return nil
	}
	return latest
}
