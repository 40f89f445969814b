// Package signal turns an analysis result into one trade decision.
package signal

import (
	"math"
	"time"

	"crt-trading-engine/internal/analysis"
	"crt-trading-engine/internal/indicators"
)

// Direction of a trade signal
type Direction string

const (
	Long    Direction = "LONG"
	Short   Direction = "SHORT"
	Neutral Direction = "NEUTRAL"
)

// Opposite returns the reverse trade direction
func (d Direction) Opposite() Direction {
	switch d {
	case Long:
		return Short
	case Short:
		return Long
	}
	return Neutral
}

// FromMarket maps a market direction to a trade direction
func FromMarket(d analysis.Direction) Direction {
	switch d {
	case analysis.Bullish:
		return Long
	case analysis.Bearish:
		return Short
	}
	return Neutral
}

// Setup names the ladder tier that produced a signal
type Setup string

const (
	SetupSniper       Setup = "SNIPER"
	SetupZoneSequence Setup = "ZONE_SEQUENCE"
	SetupTrend        Setup = "TREND"
	SetupNone         Setup = "NONE"
)

// Features is the indicator context a signal was produced under
type Features struct {
	Setup      Setup                 `json:"setup"`
	Direction  Direction             `json:"direction"`
	Session    string                `json:"session"`
	Indicators indicators.Snapshot   `json:"indicators"`
	Score      analysis.FeatureScore `json:"score"`
}

// Signal is a fresh trade decision for one candle close
type Signal struct {
	Pair       string               `json:"pair"`
	Direction  Direction            `json:"direction"`
	Confidence float64              `json:"confidence"`
	Setup      Setup                `json:"setup"`
	Reason     string               `json:"reason"`
	Reasons    []string             `json:"reasons"`
	Entry      float64              `json:"entry"`
	StopLoss   float64              `json:"stopLoss"`
	TakeProfit float64              `json:"takeProfit"`
	RiskReward float64              `json:"riskReward"`
	Zone       *analysis.Zone       `json:"zone,omitempty"`
	Sweep      *analysis.SweepEvent `json:"sweep,omitempty"`
	Features   Features             `json:"features"`
	CloseTime  int64                `json:"closeTime"`
	Timestamp  time.Time            `json:"timestamp"`
}

// None returns a neutral signal
func None(pair, reason string) Signal {
	return Signal{Pair: pair, Direction: Neutral, Setup: SetupNone, Reason: reason, Timestamp: time.Now()}
}

// IsActionable reports whether the signal names a direction
func (s Signal) IsActionable() bool {
	return s.Direction == Long || s.Direction == Short
}

// Risk returns |entry - stopLoss|
func (s Signal) Risk() float64 {
	return math.Abs(s.Entry - s.StopLoss)
}

// RR computes |takeProfit - entry| / |entry - stopLoss|; 0 when risk is 0
func RR(entry, stop, target float64) float64 {
	risk := math.Abs(entry - stop)
	if risk == 0 {
		return 0
	}
	return math.Abs(target-entry) / risk
}

// validGeometry: stop on the losing side, target on the winning side
func validGeometry(dir Direction, entry, stop, target float64) bool {
	if math.IsNaN(entry) || math.IsNaN(stop) || math.IsNaN(target) || entry <= 0 {
		return false
	}
	switch dir {
	case Long:
		return stop < entry && target > entry
	case Short:
		return stop > entry && target < entry
	}
	return false
}
