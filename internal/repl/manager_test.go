package repl

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jkaninda/sanduku/internal/modules"
)

func testOptions() Options {
	return Options{
		Timeout:           5 * time.Second,
		MaxSessions:       5,
		SessionTTL:        time.Hour,
		MaxOutputBytes:    1 << 16,
		MaxHistoryEntries: 50,
	}
}

func newTestManager(t *testing.T, opts Options) *Manager {
	t.Helper()
	return NewManager(opts, modules.NewRegistry(testLogger()), testLogger(), nil)
}

func TestManagerCreateAssignsUniqueIDs(t *testing.T) {
	m := newTestManager(t, testOptions())

	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		s, err := m.Create()
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if len(s.ID()) != 12 {
			t.Errorf("ID() = %q, want 12 characters", s.ID())
		}
		if seen[s.ID()] {
			t.Errorf("duplicate session id %q", s.ID())
		}
		seen[s.ID()] = true
	}
	if m.Count() != 5 {
		t.Errorf("Count() = %d, want 5", m.Count())
	}
}

func TestManagerCreateAtCapacityFails(t *testing.T) {
	opts := testOptions()
	opts.MaxSessions = 2
	m := newTestManager(t, opts)

	for i := 0; i < 2; i++ {
		if _, err := m.Create(); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	_, err := m.Create()
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("Create() error = %v, want ErrCapacityExceeded", err)
	}
	// Existing sessions are never sacrificed to make room.
	if m.Count() != 2 {
		t.Errorf("Count() = %d, want 2", m.Count())
	}
}

func TestManagerGetUnknownID(t *testing.T) {
	m := newTestManager(t, testOptions())
	if _, err := m.Get("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Get() error = %v, want ErrSessionNotFound", err)
	}
}

func TestManagerGetExpiredSession(t *testing.T) {
	opts := testOptions()
	opts.SessionTTL = 10 * time.Millisecond
	m := newTestManager(t, opts)

	s, err := m.Create()
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	time.Sleep(30 * time.Millisecond)

	if _, err := m.Get(s.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Get() after TTL error = %v, want ErrSessionNotFound", err)
	}
	if m.Count() != 0 {
		t.Errorf("Count() = %d, want 0 after lazy eviction", m.Count())
	}
}

func TestManagerGetRefreshesIdleClock(t *testing.T) {
	m := newTestManager(t, testOptions())

	s, err := m.Create()
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	before := s.LastAccessed()

	time.Sleep(5 * time.Millisecond)
	if _, err := m.Get(s.ID()); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !s.LastAccessed().After(before) {
		t.Error("Get() did not refresh last-accessed time")
	}
}

func TestManagerGetOrCreate(t *testing.T) {
	m := newTestManager(t, testOptions())

	s, err := m.GetOrCreate("")
	if err != nil {
		t.Fatalf("GetOrCreate(\"\") error = %v", err)
	}

	same, err := m.GetOrCreate(s.ID())
	if err != nil {
		t.Fatalf("GetOrCreate(id) error = %v", err)
	}
	if same != s {
		t.Error("GetOrCreate(id) returned a different session")
	}

	// A stale id is an error, never a silent recreate.
	if _, err := m.GetOrCreate("deadbeef0000"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("GetOrCreate(stale) error = %v, want ErrSessionNotFound", err)
	}
}

func TestManagerDeleteIsIdempotent(t *testing.T) {
	m := newTestManager(t, testOptions())

	s, err := m.Create()
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !m.Delete(s.ID()) {
		t.Error("Delete() = false for a live session")
	}
	if m.Delete(s.ID()) {
		t.Error("Delete() = true for an already removed session")
	}
}

func TestManagerEvictExpired(t *testing.T) {
	opts := testOptions()
	opts.SessionTTL = time.Minute
	m := newTestManager(t, opts)

	stale, err := m.Create()
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	fresh, err := m.Create()
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	_ = fresh

	stale.metaMu.Lock()
	stale.lastAccessed = time.Now().Add(-2 * time.Minute)
	stale.metaMu.Unlock()

	if n := m.EvictExpired(time.Now()); n != 1 {
		t.Fatalf("EvictExpired() = %d, want 1", n)
	}
	if _, err := m.Get(stale.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Error("stale session still resolvable after eviction")
	}
	if _, err := m.Get(fresh.ID()); err != nil {
		t.Errorf("fresh session evicted: %v", err)
	}
}

func TestManagerEvictSkipsBusySessions(t *testing.T) {
	opts := testOptions()
	opts.SessionTTL = time.Minute
	m := newTestManager(t, opts)

	s, err := m.Create()
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	s.metaMu.Lock()
	s.lastAccessed = time.Now().Add(-2 * time.Minute)
	s.metaMu.Unlock()

	// Simulate an in-flight execution holding the session lock.
	s.mu.Lock()
	if n := m.EvictExpired(time.Now()); n != 0 {
		t.Errorf("EvictExpired() = %d, want 0 while the session is busy", n)
	}
	s.mu.Unlock()

	if n := m.EvictExpired(time.Now()); n != 1 {
		t.Errorf("EvictExpired() = %d, want 1 once the session is idle", n)
	}
}

func TestManagerGetKeepsBusySessionPastTTL(t *testing.T) {
	// An execution longer than the TTL: the session idles past its TTL
	// mid-run, and a concurrent Get on the same id must hand the live
	// session back rather than drop it out from under the snippet.
	opts := testOptions()
	opts.SessionTTL = time.Minute
	m := newTestManager(t, opts)

	s, err := m.Create()
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	s.metaMu.Lock()
	s.lastAccessed = time.Now().Add(-2 * time.Minute)
	s.metaMu.Unlock()

	s.mu.Lock()
	got, err := m.Get(s.ID())
	if err != nil {
		t.Fatalf("Get() error = %v, want the in-flight session", err)
	}
	if got != s {
		t.Error("Get() returned a different session")
	}
	s.mu.Unlock()

	// Once idle, an expired session is removed as usual.
	s.metaMu.Lock()
	s.lastAccessed = time.Now().Add(-2 * time.Minute)
	s.metaMu.Unlock()
	if _, err := m.Get(s.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get() error = %v, want ErrSessionNotFound once idle", err)
	}
}

func TestManagerConcurrentSessionsExecuteInParallel(t *testing.T) {
	m := newTestManager(t, testOptions())
	e := newTestExecutor(5*time.Second, 1<<16, nil)

	var sessions []*Session
	for i := 0; i < 4; i++ {
		s, err := m.Create()
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		sessions = append(sessions, s)
	}

	var wg sync.WaitGroup
	for i, s := range sessions {
		wg.Add(1)
		go func(i int, s *Session) {
			defer wg.Done()
			s.mu.Lock()
			defer s.mu.Unlock()
			for j := 0; j < 20; j++ {
				res := e.Execute(s, "n = (typeof n === 'undefined' ? 0 : n) + 1")
				if res.Outcome != OutcomeSuccess {
					t.Errorf("session %d run %d: outcome = %q: %s", i, j, res.Outcome, res.ErrorMessage)
					return
				}
			}
		}(i, s)
	}
	wg.Wait()

	for i, s := range sessions {
		v, ok := s.getVar("n")
		if !ok || v.String() != "20" {
			t.Errorf("session %d: n = %v, want 20", i, v)
		}
	}
}
