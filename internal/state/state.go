// Package state persists the per-session daily counters that must survive a
// restart: trades, wins, losses and the running losing streak.
package state

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DateLayout is the calendar-day key of DailyCounters
const DateLayout = "2006-01-02"

// ErrNotFound is returned by Load when nothing has been persisted yet
var ErrNotFound = errors.New("state not found")

// DailyCounters is the persisted state document
type DailyCounters struct {
	Date              string    `json:"date"`
	Trades            int       `json:"trades"`
	Wins              int       `json:"wins"`
	Losses            int       `json:"losses"`
	ConsecutiveLosses int       `json:"consecutiveLosses"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// DayKey formats t as a counters date in t's location
func DayKey(t time.Time) string {
	return t.Format(DateLayout)
}

// Rollover zeroes the daily fields when day differs from the stored date.
// The losing streak carries across days. Returns true when a reset happened.
func (d *DailyCounters) Rollover(day string) bool {
	if d.Date == day {
		return false
	}
	d.Date = day
	d.Trades = 0
	d.Wins = 0
	d.Losses = 0
	return true
}

// Store loads and saves counters
type Store interface {
	Load(ctx context.Context) (DailyCounters, error)
	Save(ctx context.Context, c DailyCounters) error
}

// MemoryStore keeps counters in memory
type MemoryStore struct {
	mu    sync.Mutex
	saved *DailyCounters
	saves int
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(ctx context.Context) (DailyCounters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		return DailyCounters{}, ErrNotFound
	}
	return *m.saved, nil
}

func (m *MemoryStore) Save(ctx context.Context, c DailyCounters) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = &c
	m.saves++
	return nil
}

// Saves returns how many times Save was called
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
