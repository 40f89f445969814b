package circuit

import (
	"testing"

	"crt-trading-engine/internal/events"
)

func TestTripsOnConsecutiveLosses(t *testing.T) {
	bus := events.NewEventBus()
	var published []events.Event
	bus.Subscribe(events.EventCircuitBreaker, func(e events.Event) { published = append(published, e) })

	cb := NewCircuitBreaker(DefaultConfig(), 10000, bus, "main")
	var tripped string
	cb.OnTrip(func(reason string) { tripped = reason })

	balance := 10000.0
	for i := 0; i < 3; i++ {
		balance -= 10
		if cb.RecordTrade(-10, balance) {
			t.Fatalf("Expected no trip after %d losses", i+1)
		}
	}
	if ok, _ := cb.CanTrade(); !ok {
		t.Fatalf("Expected trading allowed after 3 losses")
	}

	if !cb.RecordTrade(-10, balance-10) {
		t.Fatalf("Expected trip on 4th loss")
	}
	if ok, reason := cb.CanTrade(); ok || reason == "" {
		t.Errorf("Expected trading halted with reason, got %v %q", ok, reason)
	}
	if tripped != "consecutive losses: 4" {
		t.Errorf("Expected trip reason, got %q", tripped)
	}
	if len(published) != 1 {
		t.Errorf("Expected 1 breaker event, got %d", len(published))
	}

	// a win does not close an open breaker
	cb.RecordTrade(50, balance+10)
	if cb.GetState() != StateOpen {
		t.Errorf("Expected breaker to stay open until reset")
	}

	cb.ForceReset(9960)
	if ok, _ := cb.CanTrade(); !ok {
		t.Errorf("Expected trading allowed after reset")
	}
	if got := cb.ConsecutiveLosses(); got != 0 {
		t.Errorf("Expected streak cleared, got %d", got)
	}
}

func TestWinResetsStreakAndZeroIsLoss(t *testing.T) {
	cb := NewCircuitBreaker(DefaultConfig(), 10000, nil, "main")
	cb.RecordTrade(-1, 9999)
	cb.RecordTrade(0, 9999)
	if got := cb.ConsecutiveLosses(); got != 2 {
		t.Errorf("Expected zero P&L to extend the streak, got %d", got)
	}
	cb.RecordTrade(5, 10004)
	if got := cb.ConsecutiveLosses(); got != 0 {
		t.Errorf("Expected win to reset the streak, got %d", got)
	}
}

func TestTripsOnDrawdown(t *testing.T) {
	tests := []struct {
		name    string
		balance float64
		tripped bool
	}{
		{"below threshold", 9710, false},
		{"at threshold", 9700, true},
		{"beyond threshold", 9500, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb := NewCircuitBreaker(DefaultConfig(), 10000, nil, "main")
			got := cb.RecordTrade(tt.balance-10000, tt.balance)
			if got != tt.tripped {
				t.Errorf("Expected tripped %v, got %v (drawdown %.2f%%)", tt.tripped, got, cb.GetStats().DrawdownPercent)
			}
		})
	}
}

func TestDisabledNeverHalts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	cb := NewCircuitBreaker(cfg, 10000, nil, "main")
	for i := 0; i < 10; i++ {
		cb.RecordTrade(-100, 10000-float64(i+1)*100)
	}
	if ok, _ := cb.CanTrade(); !ok {
		t.Errorf("Expected disabled breaker to allow trading")
	}
}

func TestRestoreTripsFromPersistedStreak(t *testing.T) {
	cb := NewCircuitBreaker(DefaultConfig(), 10000, nil, "main")
	cb.Restore(4)
	if cb.GetState() != StateOpen {
		t.Errorf("Expected restored streak of 4 to halt")
	}
}

func TestUpdateConfigAndSetEnabled(t *testing.T) {
	cb := NewCircuitBreaker(DefaultConfig(), 10000, nil, "main")
	cb.UpdateConfig(Config{MaxConsecutiveLosses: 2})

	cfg := cb.GetConfig()
	if cfg.MaxConsecutiveLosses != 2 || cfg.MaxDrawdownPercent != 3 || !cfg.Enabled {
		t.Fatalf("Expected only the streak limit changed, got %+v", cfg)
	}
	cb.RecordTrade(-1, 9999)
	if !cb.RecordTrade(-1, 9998) {
		t.Errorf("Expected trip on the 2nd loss with the new limit")
	}

	cb.ForceReset(9998)
	cb.SetEnabled(false)
	for i := 0; i < 5; i++ {
		cb.RecordTrade(-1, 9990)
	}
	if ok, _ := cb.CanTrade(); !ok {
		t.Errorf("Expected trading allowed while disabled")
	}
	if cb.GetConfig().Enabled {
		t.Errorf("Expected config to report disabled")
	}
}

func TestOnResetRunsOnForceReset(t *testing.T) {
	bus := events.NewEventBus()
	var published []events.Event
	bus.Subscribe(events.EventCircuitBreaker, func(e events.Event) { published = append(published, e) })

	cb := NewCircuitBreaker(DefaultConfig(), 10000, bus, "main")
	resets := 0
	cb.OnReset(func() {
		resets++
		if cb.GetState() != StateClosed {
			t.Errorf("Expected breaker closed inside the reset callback")
		}
	})
	cb.Restore(4)
	cb.ForceReset(9500)

	if resets != 1 {
		t.Errorf("Expected 1 reset callback, got %d", resets)
	}
	if st := cb.GetStats(); st.InitialBalance != 9500 {
		t.Errorf("Expected new drawdown reference 9500, got %v", st.InitialBalance)
	}
	if len(published) != 1 {
		t.Errorf("Expected 1 reset event, got %d", len(published))
	}
}
