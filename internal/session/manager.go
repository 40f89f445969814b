package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"crt-trading-engine/internal/errs"
	"crt-trading-engine/internal/logging"
)

// Manager owns every configured session. Sessions are independent; one
// session failing does not stop the others.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	order    []string
	logger   *logging.Logger
}

// NewManager creates an empty manager
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		logger:   logging.WithComponent("sessions"),
	}
}

// Add registers s. IDs must be unique.
func (m *Manager) Add(s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[s.ID()]; exists {
		return fmt.Errorf("session %s already registered", s.ID())
	}
	m.sessions[s.ID()] = s
	m.order = append(m.order, s.ID())
	return nil
}

// Get finds a session by ID, or by its current pair
func (m *Manager) Get(key string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[key]; ok {
		return s, nil
	}
	for _, id := range m.order {
		if s := m.sessions[id]; strings.EqualFold(s.Pair(), key) {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", errs.ErrSessionNotFound, key)
}

// List returns sessions in registration order
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.sessions[id])
	}
	return out
}

// Snapshots returns the latest snapshot of every session sorted by ID
func (m *Manager) Snapshots() []Snapshot {
	sessions := m.List()
	out := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Session < out[j].Session })
	return out
}

// Run runs every session until ctx is cancelled. A session that returns an
// error is logged and the rest keep running.
func (m *Manager) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	sessions := m.List()
	for _, s := range sessions {
		s := s
		g.Go(func() error {
			if err := s.Run(gctx); err != nil {
				m.logger.Error("Session exited", "session", s.ID(), "error", err.Error())
			}
			return nil
		})
	}
	m.logger.Info("Sessions running", "count", len(sessions))
	return g.Wait()
}
