package widget

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"calview/internal/config"
	appLog "calview/internal/log"
	"calview/internal/metrics"
)

// ManagerOptions bound the session table.
type ManagerOptions struct {
	// Max is the number of sessions kept; the least recently used one is
	// destroyed beyond it. Zero means unbounded.
	Max int
	// IdleTTL destroys sessions not touched for this long. Zero disables it.
	IdleTTL time.Duration
	Metrics *metrics.Metrics
}

// Manager owns the default session and any number of ad-hoc sessions keyed
// by UUID.
type Manager struct {
	discoverer Discoverer
	loader     Loader
	notifier   Notifier
	metrics    *metrics.Metrics

	sessions *expirable.LRU[string, *Session]
	live     atomic.Int64

	defMu sync.RWMutex
	def   *Session
}

func NewManager(d Discoverer, l Loader, n Notifier, opts ManagerOptions) *Manager {
	m := &Manager{
		discoverer: d,
		loader:     l,
		notifier:   n,
		metrics:    opts.Metrics,
	}
	m.sessions = expirable.NewLRU[string, *Session](opts.Max, m.onEvict, opts.IdleTTL)
	return m
}

// onEvict runs under the LRU's lock and must not call back into it.
func (m *Manager) onEvict(id string, s *Session) {
	s.Destroy()
	m.metrics.SetSessions(int(m.live.Add(-1)))
	appLog.Debug("widget session closed", "session", id)
}

// Create configures and attaches a new session.
func (m *Manager) Create(ctx context.Context, cfg config.WidgetConfig) (string, *Session, error) {
	s := NewSession(m.discoverer, m.loader, m.notifier)
	if err := s.Configure(cfg); err != nil {
		return "", nil, err
	}
	if err := s.Attach(ctx); err != nil {
		s.Destroy()
		return "", nil, err
	}

	id := uuid.NewString()
	m.sessions.Add(id, s)
	m.metrics.SetSessions(int(m.live.Add(1)))
	appLog.Debug("widget session created", "session", id, "sources", len(s.Sources()))
	return id, s, nil
}

// Get returns a live session and restarts its idle timer.
func (m *Manager) Get(id string) (*Session, error) {
	s, ok := m.sessions.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	m.sessions.Add(id, s)
	return s, nil
}

// Remove destroys a session.
func (m *Manager) Remove(id string) error {
	if !m.sessions.Remove(id) {
		return ErrSessionNotFound
	}
	return nil
}

func (m *Manager) Len() int {
	return m.sessions.Len()
}

// SetDefault installs the session backing the sessionless endpoints.
func (m *Manager) SetDefault(ctx context.Context, cfg config.WidgetConfig) error {
	s := NewSession(m.discoverer, m.loader, m.notifier)
	if err := s.Configure(cfg); err != nil {
		return err
	}
	if err := s.Attach(ctx); err != nil {
		// Stays Loading; the next RefreshAll retries discovery.
		appLog.Warn("default session not attached", "err", err)
	}
	m.defMu.Lock()
	prev := m.def
	m.def = s
	m.defMu.Unlock()
	if prev != nil {
		prev.Destroy()
	}
	return nil
}

func (m *Manager) Default() (*Session, error) {
	m.defMu.RLock()
	defer m.defMu.RUnlock()
	if m.def == nil {
		return nil, ErrSessionNotFound
	}
	return m.def, nil
}

// RefreshAll re-resolves sources of every session, attaching the default
// session if an earlier discovery failed.
func (m *Manager) RefreshAll(ctx context.Context) error {
	var errs []error
	if def, err := m.Default(); err == nil {
		if err := def.Attach(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for _, s := range m.sessions.Values() {
		if err := s.Refresh(ctx); err != nil && !errors.Is(err, ErrInvalidState) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close destroys every session.
func (m *Manager) Close() {
	m.sessions.Purge()
	if def, err := m.Default(); err == nil {
		def.Destroy()
	}
}
