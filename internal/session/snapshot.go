package session

import (
	"time"

	"crt-trading-engine/internal/analysis"
	"crt-trading-engine/internal/binance"
	"crt-trading-engine/internal/candles"
	"crt-trading-engine/internal/circuit"
	"crt-trading-engine/internal/lifecycle"
	"crt-trading-engine/internal/signal"
)

// Snapshot message types
const (
	SnapshotInit   = "INIT"
	SnapshotUpdate = "UPDATE"
)

// Snapshot is the full broadcast state of a session. Values are copies.
type Snapshot struct {
	Type          string                     `json:"type"`
	Session       string                     `json:"session"`
	Pair          string                     `json:"pair"`
	Interval      string                     `json:"interval"`
	HTFInterval   string                     `json:"htfInterval"`
	Mode          analysis.Mode              `json:"mode"`
	Connection    binance.ConnState          `json:"connection"`
	Candles       []candles.Candle           `json:"candles"`
	HTFCandles    []candles.Candle           `json:"htfCandles"`
	Signal        *signal.Signal             `json:"signal,omitempty"`
	Analysis      *analysis.Result           `json:"analysis,omitempty"`
	State         lifecycle.State            `json:"state"`
	Balance       float64                    `json:"balance"`
	Position      *lifecycle.Position        `json:"position,omitempty"`
	Trades        []lifecycle.Trade          `json:"trades"`
	Stats         lifecycle.PerformanceStats `json:"stats"`
	WinRate       float64                    `json:"winRate"`
	Circuit       circuit.Stats              `json:"circuit"`
	Breaker       circuit.Config             `json:"breaker"`
	AutoTrading   bool                       `json:"autoTrading"`
	Opportunities OpportunitySummary         `json:"opportunities"`
	LastError     string                     `json:"lastError,omitempty"`
	Timestamp     time.Time                  `json:"timestamp"`
}

// AsInit returns a copy tagged for a newly connected observer
func (s Snapshot) AsInit() Snapshot {
	s.Type = SnapshotInit
	return s
}

// Opportunity is one actionable signal seen by the session
type Opportunity struct {
	Direction  signal.Direction `json:"direction"`
	Setup      signal.Setup     `json:"setup"`
	Confidence float64          `json:"confidence"`
	Price      float64          `json:"price"`
	At         time.Time        `json:"at"`
}

// OpportunitySummary counts actionable signals
type OpportunitySummary struct {
	Last4h  int           `json:"last4h"`
	Today   int           `json:"today"`
	Total   int           `json:"total"`
	Last    *Opportunity  `json:"last,omitempty"`
	History []Opportunity `json:"history"`
}

const opportunityHistory = 100

// opportunities is owned by the session goroutine
type opportunities struct {
	history []Opportunity
	total   int
	today   int
	day     string
}

func (o *opportunities) record(op Opportunity) {
	day := op.At.UTC().Format("2006-01-02")
	if day != o.day {
		o.day = day
		o.today = 0
	}
	o.total++
	o.today++
	o.history = append(o.history, op)
	if len(o.history) > opportunityHistory {
		o.history = o.history[len(o.history)-opportunityHistory:]
	}
}

func (o *opportunities) summary(now time.Time) OpportunitySummary {
	s := OpportunitySummary{Total: o.total, History: append([]Opportunity(nil), o.history...)}
	if o.day == now.UTC().Format("2006-01-02") {
		s.Today = o.today
	}
	cutoff := now.Add(-4 * time.Hour)
	for i := len(o.history) - 1; i >= 0; i-- {
		if o.history[i].At.Before(cutoff) {
			break
		}
		s.Last4h++
	}
	if n := len(o.history); n > 0 {
		last := o.history[n-1]
		s.Last = &last
	}
	return s
}
