package composer

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/pitabwire/composer/model"
)

// Manager holds the editing sessions of all tenants. Sessions idle for
// longer than the TTL, or pushed out by the size bound, are evicted and
// their unsaved edits discarded.
type Manager struct {
	sessions *expirable.LRU[string, *Session]
	active   atomic.Int64
	deps     SessionDeps
	logger   *zap.Logger
}

// NewManager creates a manager keeping at most maxSessions sessions. A zero
// idleTTL disables idle eviction.
func NewManager(maxSessions int, idleTTL time.Duration, deps SessionDeps) *Manager {
	deps = deps.withDefaults()
	m := &Manager{deps: deps, logger: deps.Logger}
	m.sessions = expirable.NewLRU[string, *Session](maxSessions, m.onEvict, idleTTL)
	return m
}

// onEvict runs under the cache lock and must not call back into it. A
// session is counted out once, however often it leaves the cache.
func (m *Manager) onEvict(id string, s *Session) {
	if s.released.Swap(true) {
		return
	}
	n := m.active.Add(-1)
	m.deps.Recorder.SetActiveSessions(int(n))
	m.logger.Debug("session released",
		zap.String("session_id", id),
		zap.String("tenant_id", s.TenantID),
	)
}

// Open starts a new, empty session for a tenant.
func (m *Manager) Open(tenantID string) *Session {
	s := NewSession(uuid.NewString(), tenantID, m.deps)
	m.sessions.Add(s.ID, s)
	n := m.active.Add(1)
	m.deps.Recorder.SetActiveSessions(int(n))
	m.logger.Info("session opened",
		zap.String("session_id", s.ID),
		zap.String("tenant_id", tenantID),
	)
	return s
}

// Get returns a tenant's session and restarts its idle timer. Sessions of
// other tenants are reported as not found.
func (m *Manager) Get(tenantID, id string) (*Session, error) {
	s, ok := m.sessions.Get(id)
	if !ok || s.TenantID != tenantID {
		return nil, model.NewSessionNotFoundError(id)
	}
	// Re-adding restarts the idle timer. If the session was evicted in
	// between, Add resurrected it and it has to go again.
	m.sessions.Add(id, s)
	if s.released.Load() {
		m.sessions.Remove(id)
		return nil, model.NewSessionNotFoundError(id)
	}
	return s, nil
}

// Close discards a tenant's session.
func (m *Manager) Close(tenantID, id string) error {
	if _, err := m.Get(tenantID, id); err != nil {
		return err
	}
	m.sessions.Remove(id)
	return nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	return m.sessions.Len()
}

// Purge discards every session.
func (m *Manager) Purge() {
	m.sessions.Purge()
}
