package binance

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"

	"crt-trading-engine/internal/candles"
	"crt-trading-engine/internal/errs"
)

// PaperOrder is an order recorded by the paper gateway
type PaperOrder struct {
	ID        string
	Pair      string
	Kind      string // ENTRY, STOP, CLOSE
	Side      Side
	Qty       float64
	Price     float64
	Cancelled bool
	Filled    bool
}

type paperPosition struct {
	pair      string
	side      Side
	entry     float64
	remaining float64
}

// PaperGateway fills every order immediately at the caller's price or the
// last mark. It tracks a simulated wallet balance.
type PaperGateway struct {
	mu        sync.Mutex
	balance   float64
	marks     map[string]float64
	positions map[string]*paperPosition
	orders    []PaperOrder
	failures  map[string]error
	leverage  map[string]int
}

// NewPaperGateway creates a paper gateway holding balance
func NewPaperGateway(balance float64) *PaperGateway {
	return &PaperGateway{
		balance:   balance,
		marks:     make(map[string]float64),
		positions: make(map[string]*paperPosition),
		failures:  make(map[string]error),
		leverage:  make(map[string]int),
	}
}

// SetMark sets the fill price for market orders on pair
func (p *PaperGateway) SetMark(pair string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.marks[pair] = price
}

// Observe sets the mark to the candle close and fills every resting stop on
// pair the candle traded through, at the stop price
func (p *PaperGateway) Observe(pair string, c candles.Candle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.marks[pair] = c.Close
	for i := range p.orders {
		o := &p.orders[i]
		if o.Kind != "STOP" || o.Pair != pair || o.Cancelled || o.Filled {
			continue
		}
		touched := (o.Side == SideSell && c.Low <= o.Price) || (o.Side == SideBuy && c.High >= o.Price)
		if !touched {
			continue
		}
		o.Filled = true
		p.fillStop(o)
	}
}

// fillStop closes open paper positions on the opposite side of stop
func (p *PaperGateway) fillStop(stop *PaperOrder) {
	qty := stop.Qty
	for id, pos := range p.positions {
		if qty <= 0 {
			break
		}
		if pos.pair != stop.Pair || pos.side != stop.Side.Opposite() {
			continue
		}
		closed := math.Min(qty, pos.remaining)
		pnl := (stop.Price - pos.entry) * closed
		if pos.side == SideSell {
			pnl = -pnl
		}
		p.balance += pnl
		pos.remaining -= closed
		qty -= closed
		if pos.remaining <= 1e-12 {
			delete(p.positions, id)
		}
	}
}

// FailNext makes the next call of op ("entry", "stop", "close", "cancel",
// "balance", "leverage") return err
func (p *PaperGateway) FailNext(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[op] = err
}

func (p *PaperGateway) failure(op, pair string) error {
	if err, ok := p.failures[op]; ok {
		delete(p.failures, op)
		return &errs.GatewayError{Op: op, Pair: pair, Err: err}
	}
	return nil
}

// Orders returns a copy of the order log
func (p *PaperGateway) Orders() []PaperOrder {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PaperOrder, len(p.orders))
	copy(out, p.orders)
	return out
}

// OpenStops returns the stop orders not cancelled
func (p *PaperGateway) OpenStops(pair string) []PaperOrder {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []PaperOrder
	for _, o := range p.orders {
		if o.Kind == "STOP" && o.Pair == pair && !o.Cancelled && !o.Filled {
			out = append(out, o)
		}
	}
	return out
}

func (p *PaperGateway) PlaceEntry(ctx context.Context, pair string, side Side, qty float64, price *float64) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failure("entry", pair); err != nil {
		return "", err
	}
	if qty <= 0 {
		return "", &errs.GatewayError{Op: "entry", Pair: pair, Err: fmt.Errorf("invalid quantity %v", qty)}
	}
	fill := p.marks[pair]
	if price != nil {
		fill = *price
	}
	if fill <= 0 {
		return "", &errs.GatewayError{Op: "entry", Pair: pair, Err: fmt.Errorf("no mark price")}
	}

	id := uuid.NewString()
	p.positions[id] = &paperPosition{pair: pair, side: side, entry: fill, remaining: qty}
	p.orders = append(p.orders, PaperOrder{ID: id, Pair: pair, Kind: "ENTRY", Side: side, Qty: qty, Price: fill})
	return id, nil
}

// FillPrice returns the simulated fill of entry order orderID
func (p *PaperGateway) FillPrice(pair, orderID string) (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[orderID]
	if !ok || pos.pair != pair {
		return 0, false
	}
	return pos.entry, true
}

// SetLeverage records the leverage for pair
func (p *PaperGateway) SetLeverage(ctx context.Context, pair string, leverage int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failure("leverage", pair); err != nil {
		return err
	}
	if leverage < 1 {
		return &errs.GatewayError{Op: "leverage", Pair: pair, Err: fmt.Errorf("invalid leverage %d", leverage)}
	}
	p.leverage[pair] = leverage
	return nil
}

// Leverage returns the leverage last set for pair, 0 when never set
func (p *PaperGateway) Leverage(pair string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.leverage[pair]
}

func (p *PaperGateway) PlaceStop(ctx context.Context, pair string, side Side, stopPrice, qty float64) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failure("stop", pair); err != nil {
		return "", err
	}
	id := uuid.NewString()
	p.orders = append(p.orders, PaperOrder{ID: id, Pair: pair, Kind: "STOP", Side: side, Qty: qty, Price: stopPrice})
	return id, nil
}

func (p *PaperGateway) ClosePortion(ctx context.Context, pair, orderID string, fraction float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failure("close", pair); err != nil {
		return err
	}
	pos, ok := p.positions[orderID]
	if !ok {
		return &errs.GatewayError{Op: "close", Pair: pair, Err: ErrUnknownOrder}
	}
	mark := p.marks[pair]
	if mark <= 0 {
		mark = pos.entry
	}
	if fraction > 1 {
		fraction = 1
	}
	qty := pos.remaining * fraction
	pnl := (mark - pos.entry) * qty
	if pos.side == SideSell {
		pnl = -pnl
	}
	p.balance += pnl
	pos.remaining -= qty
	if fraction >= 1 || pos.remaining <= 0 {
		delete(p.positions, orderID)
	}
	p.orders = append(p.orders, PaperOrder{ID: uuid.NewString(), Pair: pair, Kind: "CLOSE", Side: pos.side.Opposite(), Qty: qty, Price: mark})
	return nil
}

func (p *PaperGateway) Cancel(ctx context.Context, pair, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failure("cancel", pair); err != nil {
		return err
	}
	for i := range p.orders {
		if p.orders[i].ID == orderID {
			p.orders[i].Cancelled = true
			return nil
		}
	}
	return nil
}

func (p *PaperGateway) Balance(ctx context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failure("balance", ""); err != nil {
		return 0, err
	}
	return p.balance, nil
}
