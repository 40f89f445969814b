package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"crt-trading-engine/internal/candles"
	"crt-trading-engine/internal/errs"
	"crt-trading-engine/internal/logging"
)

// ErrUnknownOrder is returned when ClosePortion gets an entry order it did not place
var ErrUnknownOrder = errors.New("unknown entry order")

// FuturesConfig configures the REST gateway
type FuturesConfig struct {
	APIKey    string
	SecretKey string
	Testnet   bool
	Timeout   time.Duration
	Asset     string // margin asset, USDT when empty
}

type symbolFilters struct {
	step   decimal.Decimal
	tick   decimal.Decimal
	minQty decimal.Decimal
}

type openEntry struct {
	pair      string
	side      Side
	remaining decimal.Decimal
	fill      float64
}

// FuturesGateway implements OrderGateway and FetchHistory on top of go-binance
type FuturesGateway struct {
	client  *futures.Client
	timeout time.Duration
	asset   string
	logger  *logging.Logger

	mu      sync.Mutex
	filters map[string]symbolFilters
	entries map[string]*openEntry
}

// NewFuturesGateway creates a gateway
func NewFuturesGateway(cfg FuturesConfig) *FuturesGateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Asset == "" {
		cfg.Asset = "USDT"
	}
	futures.UseTestnet = cfg.Testnet
	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	client.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &FuturesGateway{
		client:  client,
		timeout: cfg.Timeout,
		asset:   cfg.Asset,
		logger:  logging.WithComponent("binance"),
		filters: make(map[string]symbolFilters),
		entries: make(map[string]*openEntry),
	}
}

func (g *FuturesGateway) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, g.timeout)
}

// FetchHistory returns up to limit klines, oldest first. The last one is
// marked open when its close time is still in the future.
func (g *FuturesGateway) FetchHistory(ctx context.Context, pair, interval string, limit int) ([]candles.Candle, error) {
	ctx, cancel := g.call(ctx)
	defer cancel()

	klines, err := g.client.NewKlinesService().
		Symbol(pair).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, &errs.GatewayError{Op: "klines", Pair: pair, Err: err}
	}

	now := time.Now().UnixMilli()
	out := make([]candles.Candle, 0, len(klines))
	for _, k := range klines {
		c, err := parseKline(k.OpenTime, k.CloseTime, k.Open, k.High, k.Low, k.Close, k.Volume)
		if err != nil {
			g.logger.Warn("Skipping unparseable kline", "pair", pair, "openTime", k.OpenTime, "error", err.Error())
			continue
		}
		c.Closed = k.CloseTime < now
		out = append(out, c)
	}
	return out, nil
}

func parseKline(openTime, closeTime int64, o, h, l, c, v string) (candles.Candle, error) {
	vals := make([]float64, 5)
	for i, s := range []string{o, h, l, c, v} {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return candles.Candle{}, fmt.Errorf("%w: %v", errs.ErrMalformedCandle, err)
		}
		vals[i] = f
	}
	return candles.Candle{
		OpenTime:  openTime,
		CloseTime: closeTime,
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, nil
}

// symbol returns the lot and price filters for pair, loading exchange info once
func (g *FuturesGateway) symbol(ctx context.Context, pair string) symbolFilters {
	g.mu.Lock()
	f, ok := g.filters[pair]
	g.mu.Unlock()
	if ok {
		return f
	}

	f = symbolFilters{
		step:   decimal.RequireFromString("0.001"),
		tick:   decimal.RequireFromString("0.01"),
		minQty: decimal.RequireFromString("0.001"),
	}
	ctx, cancel := g.call(ctx)
	defer cancel()
	info, err := g.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		g.logger.Warn("Exchange info unavailable, using default steps", "pair", pair, "error", err.Error())
		return f
	}
	for i := range info.Symbols {
		s := &info.Symbols[i]
		if s.Symbol != pair {
			continue
		}
		if lot := s.LotSizeFilter(); lot != nil {
			if d, err := decimal.NewFromString(lot.StepSize); err == nil && d.IsPositive() {
				f.step = d
			}
			if d, err := decimal.NewFromString(lot.MinQuantity); err == nil {
				f.minQty = d
			}
		}
		if pf := s.PriceFilter(); pf != nil {
			if d, err := decimal.NewFromString(pf.TickSize); err == nil && d.IsPositive() {
				f.tick = d
			}
		}
		break
	}

	g.mu.Lock()
	g.filters[pair] = f
	g.mu.Unlock()
	return f
}

// roundQty floors qty to the lot step
func roundQty(qty float64, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return decimal.NewFromFloat(qty)
	}
	return decimal.NewFromFloat(qty).Div(step).Floor().Mul(step)
}

// roundPrice rounds price to the nearest tick
func roundPrice(price float64, tick decimal.Decimal) decimal.Decimal {
	if !tick.IsPositive() {
		return decimal.NewFromFloat(price)
	}
	return decimal.NewFromFloat(price).Div(tick).Round(0).Mul(tick)
}

// SetLeverage sets the pair's leverage
func (g *FuturesGateway) SetLeverage(ctx context.Context, pair string, leverage int) error {
	ctx, cancel := g.call(ctx)
	defer cancel()
	if _, err := g.client.NewChangeLeverageService().Symbol(pair).Leverage(leverage).Do(ctx); err != nil {
		return &errs.GatewayError{Op: "leverage", Pair: pair, Err: err}
	}
	return nil
}

// PlaceEntry submits a market order, or a GTC limit order when price is set
func (g *FuturesGateway) PlaceEntry(ctx context.Context, pair string, side Side, qty float64, price *float64) (string, error) {
	f := g.symbol(ctx, pair)
	q := roundQty(qty, f.step)
	if q.LessThan(f.minQty) || !q.IsPositive() {
		return "", &errs.GatewayError{Op: "entry", Pair: pair, Err: fmt.Errorf("quantity %s below minimum %s", q, f.minQty)}
	}

	ctx, cancel := g.call(ctx)
	defer cancel()

	svc := g.client.NewCreateOrderService().
		Symbol(pair).
		Side(futures.SideType(side)).
		Quantity(q.String())
	if price != nil {
		svc = svc.Type(futures.OrderTypeLimit).
			TimeInForce(futures.TimeInForceTypeGTC).
			Price(roundPrice(*price, f.tick).String())
	} else {
		svc = svc.Type(futures.OrderTypeMarket).NewOrderResponseType(futures.NewOrderRespTypeRESULT)
	}

	order, err := svc.Do(ctx)
	if err != nil {
		return "", &errs.GatewayError{Op: "entry", Pair: pair, Err: err}
	}
	id := strconv.FormatInt(order.OrderID, 10)
	// a resting limit order reports 0 until it fills
	fill, _ := strconv.ParseFloat(order.AvgPrice, 64)

	g.mu.Lock()
	g.entries[id] = &openEntry{pair: pair, side: side, remaining: q, fill: fill}
	g.mu.Unlock()

	g.logger.Info("Entry order placed", "pair", pair, "side", string(side), "qty", q.String(), "orderId", id, "avgPrice", fill)
	return id, nil
}

// FillPrice returns the average fill price reported for entry order orderID
func (g *FuturesGateway) FillPrice(pair, orderID string) (float64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[orderID]
	if !ok || e.pair != pair || e.fill <= 0 {
		return 0, false
	}
	return e.fill, true
}

// PlaceStop submits a reduce-only stop-market order. side is the closing side.
func (g *FuturesGateway) PlaceStop(ctx context.Context, pair string, side Side, stopPrice, qty float64) (string, error) {
	f := g.symbol(ctx, pair)
	ctx, cancel := g.call(ctx)
	defer cancel()

	order, err := g.client.NewCreateOrderService().
		Symbol(pair).
		Side(futures.SideType(side)).
		Type(futures.OrderTypeStopMarket).
		StopPrice(roundPrice(stopPrice, f.tick).String()).
		Quantity(roundQty(qty, f.step).String()).
		ReduceOnly(true).
		Do(ctx)
	if err != nil {
		return "", &errs.GatewayError{Op: "stop", Pair: pair, Err: err}
	}
	return strconv.FormatInt(order.OrderID, 10), nil
}

// ClosePortion closes fraction of the remaining position with a reduce-only market order
func (g *FuturesGateway) ClosePortion(ctx context.Context, pair, orderID string, fraction float64) error {
	g.mu.Lock()
	entry, ok := g.entries[orderID]
	g.mu.Unlock()
	if !ok {
		return &errs.GatewayError{Op: "close", Pair: pair, Err: ErrUnknownOrder}
	}

	f := g.symbol(ctx, pair)
	var q decimal.Decimal
	if fraction >= 1 {
		q = entry.remaining
	} else {
		q = roundQty(entry.remaining.InexactFloat64()*fraction, f.step)
	}
	if !q.IsPositive() {
		return nil
	}

	ctx, cancel := g.call(ctx)
	defer cancel()
	_, err := g.client.NewCreateOrderService().
		Symbol(pair).
		Side(futures.SideType(entry.side.Opposite())).
		Type(futures.OrderTypeMarket).
		Quantity(q.String()).
		ReduceOnly(true).
		Do(ctx)
	if err != nil {
		return &errs.GatewayError{Op: "close", Pair: pair, Err: err}
	}

	g.mu.Lock()
	entry.remaining = entry.remaining.Sub(q)
	if !entry.remaining.IsPositive() {
		delete(g.entries, orderID)
	}
	g.mu.Unlock()
	return nil
}

// Cancel cancels an open order
func (g *FuturesGateway) Cancel(ctx context.Context, pair, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return &errs.GatewayError{Op: "cancel", Pair: pair, Err: err}
	}
	ctx, cancel := g.call(ctx)
	defer cancel()
	if _, err := g.client.NewCancelOrderService().Symbol(pair).OrderID(id).Do(ctx); err != nil {
		return &errs.GatewayError{Op: "cancel", Pair: pair, Err: err}
	}
	return nil
}

// Balance returns the wallet balance of the margin asset
func (g *FuturesGateway) Balance(ctx context.Context) (float64, error) {
	ctx, cancel := g.call(ctx)
	defer cancel()
	balances, err := g.client.NewGetBalanceService().Do(ctx)
	if err != nil {
		return 0, &errs.GatewayError{Op: "balance", Err: err}
	}
	for _, b := range balances {
		if b.Asset == g.asset {
			v, err := strconv.ParseFloat(b.Balance, 64)
			if err != nil {
				return 0, &errs.GatewayError{Op: "balance", Err: err}
			}
			return v, nil
		}
	}
	return 0, nil
}
