package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/deal-map/internal/feed"
	"github.com/sells-group/deal-map/internal/metrics"
	"github.com/sells-group/deal-map/internal/pin"
)

// Manager tracks open sessions.
type Manager struct {
	ctx context.Context
	hub *feed.Hub
	now func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager returns a manager whose sessions live no longer than ctx.
func NewManager(ctx context.Context, hub *feed.Hub) *Manager {
	return &Manager{
		ctx:      ctx,
		hub:      hub,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Create opens a session with the given initial filters.
func (m *Manager) Create(initial pin.FilterSelection) *Session {
	s := start(m.ctx, uuid.NewString(), m.hub, initial, m.now())

	m.mu.Lock()
	m.sessions[s.ID()] = s
	n := len(m.sessions)
	m.mu.Unlock()

	metrics.ActiveSessions.Set(float64(n))
	zap.L().Debug("session: opened", zap.String("session", s.ID()))
	return s
}

// Get returns the session with id and marks it as used.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		s.Touch(m.now())
	}
	return s, ok
}

// Close tears down the session with id. It reports whether it existed.
func (m *Manager) Close(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	n := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return false
	}
	s.Close()
	metrics.ActiveSessions.Set(float64(n))
	zap.L().Debug("session: closed", zap.String("session", id))
	return true
}

// Reap closes sessions unused for longer than idle and without a live
// stream. It returns how many were closed.
func (m *Manager) Reap(idle time.Duration) int {
	cutoff := m.now().Add(-idle)

	m.mu.Lock()
	var stale []*Session
	for id, s := range m.sessions {
		if s.streaming() || s.LastSeen().After(cutoff) {
			continue
		}
		stale = append(stale, s)
		delete(m.sessions, id)
	}
	n := len(m.sessions)
	m.mu.Unlock()

	for _, s := range stale {
		s.Close()
	}
	if len(stale) > 0 {
		metrics.ActiveSessions.Set(float64(n))
		zap.L().Info("session: reaped idle sessions", zap.Int("count", len(stale)))
	}
	return len(stale)
}

// RunReaper calls Reap every interval until ctx is done.
func (m *Manager) RunReaper(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Reap(idle)
		}
	}
}

// CloseAll tears down every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
	metrics.ActiveSessions.Set(0)
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
