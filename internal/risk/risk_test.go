package risk

import (
	"errors"
	"math"
	"testing"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestCalculatePositionSize(t *testing.T) {
	cfg := DefaultSizingConfig()

	tests := []struct {
		name    string
		balance float64
		entry   float64
		stop    float64
		size    float64
		clamped bool
		err     error
	}{
		{"one percent of 1000 over 5 points", 1000, 100, 95, 2, false, nil},
		{"short side", 1000, 100, 105, 2, false, nil},
		{"tight stop clamps to margin", 1000, 100, 99.99, 95, true, nil},
		{"stop at entry", 1000, 100, 100, 0, false, ErrInvalidStop},
		{"no balance", 0, 100, 95, 0, false, ErrInsufficientBalance},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := CalculatePositionSize(tt.balance, tt.entry, tt.stop, cfg)
			if !errors.Is(err, tt.err) {
				t.Fatalf("Expected error %v, got %v", tt.err, err)
			}
			if err != nil {
				return
			}
			if !approx(res.Size, tt.size) {
				t.Errorf("Expected size %v, got %v", tt.size, res.Size)
			}
			if res.Clamped != tt.clamped {
				t.Errorf("Expected clamped %v, got %v", tt.clamped, res.Clamped)
			}
			if res.Margin > tt.balance*cfg.MaxMarginFraction+1e-9 {
				t.Errorf("Margin %v exceeds %v of balance", res.Margin, cfg.MaxMarginFraction)
			}
		})
	}
}

func TestPositionSizeBelowMinimum(t *testing.T) {
	cfg := DefaultSizingConfig()
	cfg.MinQty = 1
	_, err := CalculatePositionSize(10, 100, 95, cfg)
	if !errors.Is(err, ErrBelowMinimum) {
		t.Errorf("Expected ErrBelowMinimum, got %v", err)
	}
}

func TestStopAdjusterLongScenario(t *testing.T) {
	adj := NewStopAdjuster(DefaultStopConfig())
	s := StopState{Long: true, Entry: 100, InitialStop: 95, CurrentStop: 95}

	// below the partial threshold nothing happens
	u := adj.Evaluate(s, 102, 5)
	if u.Moved || u.TakePartial {
		t.Errorf("Expected no action at 0.4R, got %+v", u)
	}

	u = adj.Evaluate(s, 103, 5)
	if !u.TakePartial || !u.Breakeven {
		t.Fatalf("Expected partial and breakeven at 0.6R, got %+v", u)
	}
	if !approx(u.NewStop, 100.05) {
		t.Errorf("Expected breakeven stop 100.05, got %v", u.NewStop)
	}

	s.CurrentStop = u.NewStop
	s.PartialTaken = true
	s.BreakevenSet = true

	u = adj.Evaluate(s, 104, 5)
	if u.TakePartial {
		t.Errorf("Expected partial only once")
	}
	if !u.ProfitLock || !approx(u.NewStop, 102) {
		t.Errorf("Expected profit lock at 102, got %+v", u)
	}
	s.CurrentStop = u.NewStop

	// a pullback never loosens the stop
	u = adj.Evaluate(s, 103.2, 5)
	if u.Moved {
		t.Errorf("Expected stop to hold on pullback, got %v", u.NewStop)
	}
}

func TestStopAdjusterShortIsMirrored(t *testing.T) {
	adj := NewStopAdjuster(DefaultStopConfig())
	s := StopState{Long: false, Entry: 100, InitialStop: 105, CurrentStop: 105}

	u := adj.Evaluate(s, 97, 5)
	if !u.TakePartial || !approx(u.NewStop, 99.95) {
		t.Fatalf("Expected short breakeven at 99.95, got %+v", u)
	}
	s.CurrentStop, s.PartialTaken, s.BreakevenSet = u.NewStop, true, true

	u = adj.Evaluate(s, 96, 5)
	if !approx(u.NewStop, 98) {
		t.Errorf("Expected short lock at 98, got %v", u.NewStop)
	}
}

func TestStopAdjusterTrail(t *testing.T) {
	adj := NewStopAdjuster(DefaultStopConfig())
	s := StopState{Long: true, Entry: 100, InitialStop: 95, CurrentStop: 102, PartialTaken: true, BreakevenSet: true}

	u := adj.Evaluate(s, 110, 1)
	// lock gives 105, trail gives 108
	if !u.Trailed || !approx(u.NewStop, 108) {
		t.Errorf("Expected ATR trail to 108, got %+v", u)
	}

	// without breakeven the trail stays off
	s.BreakevenSet = false
	s.CurrentStop = 95
	s.PartialTaken = true
	u = adj.Evaluate(s, 101, 0.1)
	if u.Trailed {
		t.Errorf("Expected no trail before breakeven")
	}
}

func TestStopMonotonic(t *testing.T) {
	adj := NewStopAdjuster(DefaultStopConfig())
	s := StopState{Long: true, Entry: 100, InitialStop: 95, CurrentStop: 95}

	prices := []float64{101, 103, 102, 104, 100.5, 106, 99, 108, 107}
	for _, p := range prices {
		u := adj.Evaluate(s, p, 1.5)
		if u.NewStop < s.CurrentStop {
			t.Fatalf("Stop loosened from %v to %v at %v", s.CurrentStop, u.NewStop, p)
		}
		s.CurrentStop = u.NewStop
		if u.TakePartial {
			s.PartialTaken = true
		}
		if u.Breakeven {
			s.BreakevenSet = true
		}
	}
}
