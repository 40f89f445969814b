// Package binance adapts Binance USDⓈ-M futures to the engine: a kline
// websocket stream with reconnect, a REST gateway for history, orders and
// balance, and a paper gateway for replay and dry runs.
package binance

import (
	"context"
	"strings"
	"time"

	"crt-trading-engine/internal/candles"
)

// Side is an order side
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the closing side
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// ConnState is the stream connection state
type ConnState string

const (
	StateDisconnected ConnState = "DISCONNECTED"
	StateConnecting   ConnState = "CONNECTING"
	StateConnected    ConnState = "CONNECTED"
)

// StreamEvent carries either a candle update or a connection state change
type StreamEvent struct {
	Candle *candles.Candle
	State  ConnState
	Err    error
}

// MarketData delivers candles for one pair and interval
type MarketData interface {
	// Subscribe streams until ctx is cancelled; the channel is closed on exit
	Subscribe(ctx context.Context, pair, interval string) (<-chan StreamEvent, error)
	FetchHistory(ctx context.Context, pair, interval string, limit int) ([]candles.Candle, error)
}

// OrderGateway executes orders. Order IDs are opaque strings.
type OrderGateway interface {
	PlaceEntry(ctx context.Context, pair string, side Side, qty float64, price *float64) (string, error)
	PlaceStop(ctx context.Context, pair string, side Side, stopPrice, qty float64) (string, error)
	// ClosePortion closes fraction of the remaining quantity opened by entry order orderID
	ClosePortion(ctx context.Context, pair, orderID string, fraction float64) error
	Cancel(ctx context.Context, pair, orderID string) error
	Balance(ctx context.Context) (float64, error)
}

// FillReporter is implemented by gateways that know the average fill price of
// an entry order they placed
type FillReporter interface {
	FillPrice(pair, orderID string) (float64, bool)
}

// LeverageSetter is implemented by gateways that configure per-pair leverage
type LeverageSetter interface {
	SetLeverage(ctx context.Context, pair string, leverage int) error
}

// PriceObserver is implemented by gateways that simulate fills from market
// data; the lifecycle feeds it every candle update
type PriceObserver interface {
	Observe(pair string, c candles.Candle)
}

var intervals = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
	"3d":  72 * time.Hour,
	"1w":  7 * 24 * time.Hour,
}

// ValidInterval reports whether interval is a supported kline interval
func ValidInterval(interval string) bool {
	_, ok := intervals[interval]
	return ok
}

// IntervalDuration returns the bar length of interval
func IntervalDuration(interval string) (time.Duration, bool) {
	d, ok := intervals[interval]
	return d, ok
}

// Live combines a websocket stream with REST history into MarketData
type Live struct {
	*KlineStream
	*FuturesGateway
}

// NewLive creates live market data
func NewLive(stream *KlineStream, gw *FuturesGateway) *Live {
	return &Live{KlineStream: stream, FuturesGateway: gw}
}

func streamName(pair, interval string) string {
	return strings.ToLower(pair) + "@kline_" + interval
}
