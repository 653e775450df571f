package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	kerrors "scan-kiosk/internal/errors"
)

const DefaultSweepSpec = "@every 1m"

// Manager owns the live sessions of this kiosk server and evicts the ones
// that have been idle longer than the TTL.
type Manager struct {
	deps   Deps
	ttl    time.Duration
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Controller
	cron     *cron.Cron
}

func NewManager(deps Deps, ttl time.Duration) *Manager {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Manager{
		deps:     deps,
		ttl:      ttl,
		logger:   deps.Logger,
		sessions: make(map[string]*Controller),
	}
}

// Create starts a new session in the intake stage.
func (m *Manager) Create() *Controller {
	c := NewController(uuid.NewString(), m.deps)
	m.mu.Lock()
	m.sessions[c.ID()] = c
	n := len(m.sessions)
	m.mu.Unlock()
	m.logger.Info("session created", zap.String("session_id", c.ID()), zap.Int("active", n))
	return c
}

func (m *Manager) Get(id string) (*Controller, error) {
	m.mu.RLock()
	c, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, kerrors.NewNotFound("session", id)
	}
	return c, nil
}

// Len is the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep closes and removes sessions idle for longer than the TTL. It
// returns how many were evicted.
func (m *Manager) Sweep() int {
	if m.ttl <= 0 {
		return 0
	}
	cutoff := m.deps.Now().Add(-m.ttl)

	m.mu.Lock()
	var idle []*Controller
	for id, c := range m.sessions {
		if c.LastActive().Before(cutoff) {
			idle = append(idle, c)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, c := range idle {
		c.Close()
		m.logger.Info("idle session evicted", zap.String("session_id", c.ID()))
	}
	return len(idle)
}

// Start schedules Sweep with a cron spec such as "@every 1m".
func (m *Manager) Start(spec string) error {
	if spec == "" {
		spec = DefaultSweepSpec
	}
	c := cron.New()
	if _, err := c.AddFunc(spec, func() { m.Sweep() }); err != nil {
		return fmt.Errorf("schedule session sweep %q: %w", spec, err)
	}
	c.Start()
	m.mu.Lock()
	m.cron = c
	m.mu.Unlock()
	return nil
}

// Stop halts the sweeper and closes every session.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	sessions := m.sessions
	m.sessions = make(map[string]*Controller)
	m.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	for _, s := range sessions {
		s.Close()
	}
}
