package lifecycle

import (
	"time"

	"crt-trading-engine/internal/candles"
	"crt-trading-engine/internal/circuit"
	"crt-trading-engine/internal/signal"
)

// State of the lifecycle state machine
type State string

const (
	StateIdle   State = "IDLE"
	StateOpen   State = "OPEN"
	StateHalted State = "HALTED"
)

// ExitReason names why a position closed
type ExitReason string

const (
	ExitTP       ExitReason = "TP"
	ExitSL       ExitReason = "SL"
	ExitReversal ExitReason = "REVERSAL"
	ExitTimeout  ExitReason = "TIMEOUT"
	ExitManual   ExitReason = "MANUAL"
)

// Position status values
const (
	StatusOpen   = "OPEN"
	StatusClosed = "CLOSED"
)

// Position is the single tracked position of a session
type Position struct {
	ID             string           `json:"id"`
	Pair           string           `json:"pair"`
	Direction      signal.Direction `json:"direction"`
	EntryPrice     float64          `json:"entryPrice"`
	Size           float64          `json:"size"`
	InitialSize    float64          `json:"initialSize"`
	StopLoss       float64          `json:"stopLoss"`
	TakeProfit     float64          `json:"takeProfit"`
	CurrentStop    float64          `json:"currentStop"`
	Margin         float64          `json:"margin"`
	Leverage       float64          `json:"leverage"`
	OpenedAt       time.Time        `json:"openedAt"`
	PartialTaken   bool             `json:"partialTaken"`
	BreakevenSet   bool             `json:"breakevenSet"`
	ProfitLocked   bool             `json:"profitLocked"`
	Status         string           `json:"status"`
	EntryOrderID   string           `json:"entryOrderId"`
	StopOrderID    string           `json:"stopOrderId"`
	NeedsAttention bool             `json:"needsAttention"`
	CurrentPrice   float64          `json:"currentPrice"`
	UnrealizedPnL  float64          `json:"unrealizedPnl"`
	RealizedPnL    float64          `json:"realizedPnl"`
	HighWater      float64          `json:"highWater"`
	LowWater       float64          `json:"lowWater"`
	Signal         signal.Signal    `json:"signal"`
}

// IsLong reports a long position
func (p *Position) IsLong() bool { return p.Direction == signal.Long }

// pnlAt is the unrealized P&L of the remaining size at price
func (p *Position) pnlAt(price float64) float64 {
	if p.IsLong() {
		return (price - p.EntryPrice) * p.Size
	}
	return (p.EntryPrice - price) * p.Size
}

// Trade is a closed position
type Trade struct {
	Position
	ExitPrice  float64    `json:"exitPrice"`
	ExitReason ExitReason `json:"exitReason"`
	PnL        float64    `json:"pnl"`
	PnLPercent float64    `json:"pnlPercent"`
	Win        bool       `json:"win"`
	ClosedAt   time.Time  `json:"closedAt"`
}

// PerformanceStats are mutated only when a position closes
type PerformanceStats struct {
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	TotalTrades int     `json:"totalTrades"`
	TotalProfit float64 `json:"totalProfit"`
	DailyTrades int     `json:"dailyTrades"`
	DailyWins   int     `json:"dailyWins"`
	DailyLosses int     `json:"dailyLosses"`
	Date        string  `json:"date"`
}

// WinRate returns wins over total trades in percent
func (s PerformanceStats) WinRate() float64 {
	if s.TotalTrades == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.TotalTrades) * 100
}

// Market is the per-tick market context handed to the manager
type Market struct {
	Candle      candles.Candle   // latest update, may still be forming
	ATR         float64          // current ATR
	VolumeRatio float64          // last volume over its average
	Session     string           // trading session tag of the candle
	Recent      []candles.Candle // last closed candles, oldest first
}

// View is a copy of the manager state for broadcasting
type View struct {
	State       State            `json:"state"`
	AutoTrading bool             `json:"autoTrading"`
	Balance     float64          `json:"balance"`
	Position    *Position        `json:"position,omitempty"`
	Trades      []Trade          `json:"trades"`
	Stats       PerformanceStats `json:"stats"`
	Circuit     circuit.Stats    `json:"circuit"`
	Breaker     circuit.Config   `json:"breaker"`
	LastError   string           `json:"lastError,omitempty"`
}
