package candles

import (
	"sync"

	"crt-trading-engine/internal/errs"
)

// DefaultCapacity is the retention used when NewBuffer gets a non-positive size
const DefaultCapacity = 500

// Outcome describes what Append did with a candle
type Outcome int

const (
	Dropped Outcome = iota
	Appended
	Replaced
)

func (o Outcome) String() string {
	switch o {
	case Appended:
		return "appended"
	case Replaced:
		return "replaced"
	default:
		return "dropped"
	}
}

// Buffer is a bounded, close-time ordered candle sequence for one pair/interval
type Buffer struct {
	mu       sync.RWMutex
	pair     string
	capacity int
	candles  []Candle
	total    int64 // distinct candles ever appended
}

// NewBuffer creates a buffer for pair with the given capacity
func NewBuffer(pair string, capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		pair:     pair,
		capacity: capacity,
		candles:  make([]Candle, 0, capacity),
	}
}

// Append stores c. A candle with the tail's close time replaces the tail, a newer
// one is pushed with oldest-first eviction, and an older or malformed one is
// rejected with a DataError leaving the buffer untouched.
func (b *Buffer) Append(c Candle) (Outcome, error) {
	if err := c.Validate(); err != nil {
		return Dropped, &errs.DataError{Pair: b.pair, CloseTime: c.CloseTime, Err: err}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.candles)
	if n > 0 {
		tail := b.candles[n-1]
		switch {
		case c.CloseTime == tail.CloseTime:
			if tail.Closed && !c.Closed {
				// a late forming update must not reopen a finalized bar
				return Dropped, nil
			}
			b.candles[n-1] = c
			return Replaced, nil
		case c.CloseTime < tail.CloseTime:
			return Dropped, &errs.DataError{Pair: b.pair, CloseTime: c.CloseTime, Err: errs.ErrOutOfOrder}
		}
	}

	if n == b.capacity {
		copy(b.candles, b.candles[1:])
		b.candles = b.candles[:n-1]
	}
	b.candles = append(b.candles, c)
	b.total++
	return Appended, nil
}

// Load replaces the buffer contents with an ordered history, skipping bad entries.
// It returns the number of candles kept.
func (b *Buffer) Load(history []Candle) int {
	b.Reset()
	kept := 0
	for _, c := range history {
		if out, err := b.Append(c); err == nil && out == Appended {
			kept++
		}
	}
	return kept
}

// Window returns a copy of the last n candles (fewer when the buffer is short)
func (b *Buffer) Window(n int) []Candle {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return window(b.candles, n)
}

// Closed returns a copy of the last n finalized candles
func (b *Buffer) Closed(n int) []Candle {
	b.mu.RLock()
	defer b.mu.RUnlock()
	end := len(b.candles)
	if end > 0 && !b.candles[end-1].Closed {
		end--
	}
	return window(b.candles[:end], n)
}

// ClosedBase returns the absolute sequence number of the first candle returned
// by Closed(n), so detectors can tag zones with stable indices.
func (b *Buffer) ClosedBase(n int) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	end := len(b.candles)
	lastSeq := b.total - 1
	if end > 0 && !b.candles[end-1].Closed {
		end--
		lastSeq--
	}
	if n > end || n <= 0 {
		n = end
	}
	return lastSeq - int64(n) + 1
}

// Last returns the tail candle
func (b *Buffer) Last() (Candle, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Last(b.candles)
}

// Len returns the number of stored candles
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.candles)
}

// Capacity returns the retention bound
func (b *Buffer) Capacity() int { return b.capacity }

// Pair returns the pair the buffer belongs to
func (b *Buffer) Pair() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.pair
}

// Reset clears the buffer, optionally for a new pair
func (b *Buffer) Reset(pair ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(pair) > 0 && pair[0] != "" {
		b.pair = pair[0]
	}
	b.candles = b.candles[:0]
	b.total = 0
}

func window(cs []Candle, n int) []Candle {
	if n <= 0 || n > len(cs) {
		n = len(cs)
	}
	out := make([]Candle, n)
	copy(out, cs[len(cs)-n:])
	return out
}
