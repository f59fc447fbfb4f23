package repl

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/jkaninda/sanduku/internal/modules"
)

// Session is one isolated execution context: a JavaScript runtime whose
// globals are the persistent namespace, plus history and liveness metadata.
//
// Locking: mu serializes every operation that touches the runtime — two
// calls on the same session never interleave, and a goja.Runtime must not
// be entered from two goroutines anyway. metaMu guards the cheap metadata
// read by list_sessions so listing never blocks on an in-flight execution.
type Session struct {
	id        string
	createdAt time.Time

	mu       sync.Mutex
	rt       *goja.Runtime
	sink     *consoleSink
	baseline map[string]struct{}

	metaMu       sync.Mutex
	lastAccessed time.Time
	history      []HistoryEntry
	maxHistory   int
	varCount     int
}

// newSession builds a fresh runtime with console and require() installed.
func newSession(id string, reg *modules.Registry, maxHistory int) (*Session, error) {
	rt := goja.New()
	sink := newConsoleSink()
	if err := installConsole(rt, sink); err != nil {
		return nil, fmt.Errorf("installing console: %w", err)
	}
	if reg != nil {
		if err := reg.Install(rt); err != nil {
			return nil, fmt.Errorf("installing modules: %w", err)
		}
	}

	baseline := make(map[string]struct{})
	for _, k := range rt.GlobalObject().Keys() {
		baseline[k] = struct{}{}
	}
	// Sandbox overlays re-bind these with enumerable properties on restore,
	// so pin them as builtins regardless of their initial enumerability.
	for _, k := range []string{"eval", "Function", "require", "console", "print"} {
		baseline[k] = struct{}{}
	}

	now := time.Now().UTC()
	return &Session{
		id:           id,
		createdAt:    now,
		rt:           rt,
		sink:         sink,
		baseline:     baseline,
		lastAccessed: now,
		maxHistory:   maxHistory,
	}, nil
}

// ID returns the opaque session identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns the creation timestamp.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Touch refreshes the idle-expiry clock.
func (s *Session) Touch() {
	s.metaMu.Lock()
	s.lastAccessed = time.Now().UTC()
	s.metaMu.Unlock()
}

// LastAccessed returns the last time any operation touched this session.
func (s *Session) LastAccessed() time.Time {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	return s.lastAccessed
}

// expired reports whether the session's idle time exceeds ttl.
func (s *Session) expired(ttl time.Duration, now time.Time) bool {
	return now.Sub(s.LastAccessed()) > ttl
}

// --- Namespace access. Callers must hold s.mu. ---

// isUserVar reports whether name is a caller-visible binding: an enumerable
// global that is not a runtime builtin and not a dunder helper like __file__.
// Builtins such as Math are non-enumerable, so the Keys scan excludes them.
func (s *Session) isUserVar(name string) bool {
	if name == "" || strings.HasPrefix(name, "__") {
		return false
	}
	if _, builtin := s.baseline[name]; builtin {
		return false
	}
	for _, k := range s.rt.GlobalObject().Keys() {
		if k == name {
			return true
		}
	}
	return false
}

// userVars returns the caller-visible binding names, sorted.
func (s *Session) userVars() []string {
	var names []string
	for _, k := range s.rt.GlobalObject().Keys() {
		if s.isUserVar(k) {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}

// snapshotVars captures the current value of every caller-visible binding.
func (s *Session) snapshotVars() map[string]goja.Value {
	snap := make(map[string]goja.Value)
	for _, k := range s.userVars() {
		snap[k] = s.rt.GlobalObject().Get(k)
	}
	return snap
}

// diffVars compares the namespace against a pre-execution snapshot and
// returns the newly introduced and modified binding names, sorted.
func (s *Session) diffVars(before map[string]goja.Value) (newVars, modified []string) {
	for _, k := range s.userVars() {
		after := s.rt.GlobalObject().Get(k)
		prev, existed := before[k]
		switch {
		case !existed:
			newVars = append(newVars, k)
		case !prev.StrictEquals(after):
			modified = append(modified, k)
		}
	}
	sort.Strings(newVars)
	sort.Strings(modified)
	return newVars, modified
}

// getVar returns the value of a caller-visible binding.
func (s *Session) getVar(name string) (goja.Value, bool) {
	if !s.isUserVar(name) {
		return nil, false
	}
	return s.rt.GlobalObject().Get(name), true
}

// setVar binds name to a Go value in the namespace.
func (s *Session) setVar(name string, value any) error {
	return s.rt.Set(name, s.rt.ToValue(value))
}

// deleteVar removes a caller-visible binding.
func (s *Session) deleteVar(name string) (bool, error) {
	if !s.isUserVar(name) {
		return false, nil
	}
	if err := s.rt.GlobalObject().Delete(name); err != nil {
		return false, err
	}
	return true, nil
}

// clearVars removes every non-builtin binding, dunder helpers included.
// Returns the caller-visible names that were cleared.
func (s *Session) clearVars() ([]string, error) {
	cleared := s.userVars()
	for _, k := range s.rt.GlobalObject().Keys() {
		if _, builtin := s.baseline[k]; builtin {
			continue
		}
		if err := s.rt.GlobalObject().Delete(k); err != nil {
			return cleared, err
		}
	}
	return cleared, nil
}

// syncMeta refreshes the metadata snapshot read by list_sessions.
// Call with s.mu held, after any operation that may change bindings.
func (s *Session) syncMeta() {
	n := len(s.userVars())
	s.metaMu.Lock()
	s.varCount = n
	s.metaMu.Unlock()
}

// SessionInfo is a point-in-time summary of a live session.
type SessionInfo struct {
	ID            string    `json:"session_id"`
	CreatedAt     time.Time `json:"created_at"`
	LastAccessed  time.Time `json:"last_accessed"`
	VariableCount int       `json:"variable_count"`
	HistoryLength int       `json:"history_length"`
}

// info builds a summary without touching the runtime, so listing sessions
// never blocks behind an in-flight execution.
func (s *Session) info() SessionInfo {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	return SessionInfo{
		ID:            s.id,
		CreatedAt:     s.createdAt,
		LastAccessed:  s.lastAccessed,
		VariableCount: s.varCount,
		HistoryLength: len(s.history),
	}
}

// --- History. Guarded by metaMu — readable during an execution. ---

// appendHistory records an execution, dropping the oldest entry past the cap.
func (s *Session) appendHistory(e HistoryEntry) {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	s.history = append(s.history, e)
	if s.maxHistory > 0 && len(s.history) > s.maxHistory {
		s.history = s.history[len(s.history)-s.maxHistory:]
	}
}

// History returns the last n entries (oldest first) and the total count.
func (s *Session) History(n int) ([]HistoryEntry, int) {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	total := len(s.history)
	if n <= 0 || n > total {
		n = total
	}
	out := make([]HistoryEntry, n)
	copy(out, s.history[total-n:])
	return out, total
}

func (s *Session) historyLen() int {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	return len(s.history)
}

func (s *Session) variableCount() int {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	return s.varCount
}

// --- Console ---

// installConsole binds console.log/info/debug/warn/error and a print alias.
// Output goes to the session sink, which the executor redirects per call.
func installConsole(rt *goja.Runtime, sink *consoleSink) error {
	console := rt.NewObject()

	logTo := func(write func(string)) func(call goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = consoleFormat(arg)
			}
			write(strings.Join(parts, " ") + "\n")
			return goja.Undefined()
		}
	}

	stdout := logTo(sink.writeOut)
	stderr := logTo(sink.writeErr)

	for _, name := range []string{"log", "info", "debug"} {
		if err := console.Set(name, stdout); err != nil {
			return err
		}
	}
	for _, name := range []string{"warn", "error"} {
		if err := console.Set(name, stderr); err != nil {
			return err
		}
	}
	if err := rt.Set("console", console); err != nil {
		return err
	}
	return rt.Set("print", stdout)
}

// consoleFormat renders one console argument: strings as-is, everything
// else as JSON when possible.
func consoleFormat(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	exported := v.Export()
	if s, ok := exported.(string); ok {
		return s
	}
	if data, err := json.Marshal(exported); err == nil {
		return string(data)
	}
	return v.String()
}
