package repl

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/sanduku/internal/modules"
)

// Options configures the session manager and its executor.
type Options struct {
	Timeout           time.Duration
	MaxSessions       int
	SessionTTL        time.Duration
	MaxOutputBytes    int
	MaxHistoryEntries int
	Sandbox           bool
	WorkingDirectory  string
}

// Manager owns the session registry. Sessions are created on demand, looked
// up by id, and dropped when their idle TTL elapses. The registry lock only
// guards the map — per-session work happens under each session's own lock,
// so independent sessions execute in parallel.
type Manager struct {
	opts    Options
	modules *modules.Registry
	logger  *slog.Logger
	metrics *Metrics

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a manager backed by the given module registry.
func NewManager(opts Options, reg *modules.Registry, logger *slog.Logger, metrics *Metrics) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		opts:     opts,
		modules:  reg,
		logger:   logger,
		metrics:  metrics,
		sessions: make(map[string]*Session),
	}
}

func newSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Create allocates a fresh session. Returns ErrCapacityExceeded when the
// registry is at its ceiling — existing sessions are never evicted to make
// room.
func (m *Manager) Create() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.opts.MaxSessions > 0 && len(m.sessions) >= m.opts.MaxSessions {
		return nil, ErrCapacityExceeded
	}

	id := newSessionID()
	for m.sessions[id] != nil {
		id = newSessionID()
	}

	s, err := newSession(id, m.modules, m.opts.MaxHistoryEntries)
	if err != nil {
		return nil, err
	}
	m.sessions[id] = s

	if m.metrics != nil {
		m.metrics.SessionsCreated.Inc()
		m.metrics.ActiveSessions.Set(float64(len(m.sessions)))
	}
	m.logger.Info("session created", slog.String("session_id", id), slog.Int("active", len(m.sessions)))
	return s, nil
}

// Get returns the session with the given id, refreshing its idle clock.
// An expired session is removed on the spot and reported as not found.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.expired(m.opts.SessionTTL, time.Now()) {
		// A session mid-execution holds its own lock and stays live:
		// idle time only counts between calls, never during one. If the
		// lock is held, hand the session back instead of removing it.
		if s.mu.TryLock() {
			s.mu.Unlock()
			delete(m.sessions, id)
			if m.metrics != nil {
				m.metrics.SessionsEvicted.Inc()
				m.metrics.ActiveSessions.Set(float64(len(m.sessions)))
			}
			return nil, ErrSessionNotFound
		}
	}
	s.Touch()
	return s, nil
}

// GetOrCreate resolves id, creating a new session when id is empty.
// A non-empty id that no longer resolves is an error, not a recreate:
// the caller's bindings are gone and silently handing back an empty
// namespace would hide that.
func (m *Manager) GetOrCreate(id string) (*Session, error) {
	if id == "" {
		return m.Create()
	}
	return m.Get(id)
}

// Delete removes a session. Returns false when the id was not present.
func (m *Manager) Delete(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return false
	}
	delete(m.sessions, id)
	if m.metrics != nil {
		m.metrics.ActiveSessions.Set(float64(len(m.sessions)))
	}
	m.logger.Info("session deleted", slog.String("session_id", id))
	return true
}

// List returns a snapshot of all live sessions, oldest first.
func (m *Manager) List() []SessionInfo {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.Before(infos[j].CreatedAt) })
	return infos
}

// Count reports the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// EvictExpired removes sessions idle past their TTL. Sessions mid-execution
// hold their own lock and are skipped — a session cannot disappear out from
// under a running snippet. Returns the number evicted.
func (m *Manager) EvictExpired(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for id, s := range m.sessions {
		if !s.expired(m.opts.SessionTTL, now) {
			continue
		}
		if !s.mu.TryLock() {
			continue
		}
		s.mu.Unlock()
		delete(m.sessions, id)
		evicted++
		m.logger.Info("session evicted", slog.String("session_id", id))
	}
	if evicted > 0 && m.metrics != nil {
		m.metrics.SessionsEvicted.Add(float64(evicted))
		m.metrics.ActiveSessions.Set(float64(len(m.sessions)))
	}
	return evicted
}
