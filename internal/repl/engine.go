package repl

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jkaninda/sanduku/internal/modules"
)

const previewLen = 120

// Engine is the front door to the execution service: it resolves sessions,
// serializes work per session, and exposes namespace and history inspection.
// All methods are safe for concurrent use; operations on distinct sessions
// run in parallel while operations on the same session queue behind its lock.
type Engine struct {
	opts     Options
	manager  *Manager
	executor *Executor
	logger   *slog.Logger
	metrics  *Metrics
}

// NewEngine wires the manager and executor from one set of options.
// metrics may be nil.
func NewEngine(opts Options, reg *modules.Registry, logger *slog.Logger, metrics *Metrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	var restrictor *Restrictor
	if opts.Sandbox {
		restrictor = NewRestrictor(reg)
	}
	return &Engine{
		opts:     opts,
		manager:  NewManager(opts, reg, logger, metrics),
		executor: NewExecutor(opts.Timeout, opts.MaxOutputBytes, restrictor, logger, metrics),
		logger:   logger,
		metrics:  metrics,
	}
}

// RunResult is an execution result tagged with the session it ran in.
type RunResult struct {
	SessionID string
	Result
}

// VariableValue is one binding read back from a session namespace.
type VariableValue struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value any    `json:"value"`
	Repr  string `json:"repr"`
}

// NamespaceEntry is a binding summary with a short preview instead of the
// full value.
type NamespaceEntry struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Preview string `json:"preview"`
}

// Status summarizes the engine state and its effective limits.
type Status struct {
	ActiveSessions int           `json:"active_sessions"`
	MaxSessions    int           `json:"max_sessions"`
	Timeout        time.Duration `json:"-"`
	SessionTTL     time.Duration `json:"-"`
	MaxOutputBytes int           `json:"max_output_bytes"`
	Sandbox        bool          `json:"sandbox"`
	TimeoutSeconds float64       `json:"timeout_seconds"`
	TTLMinutes     float64       `json:"session_ttl_minutes"`
}

// RunCode executes code in the session identified by sessionID, creating a
// fresh session when sessionID is empty.
func (e *Engine) RunCode(sessionID, code string) (RunResult, error) {
	e.sweep()
	s, err := e.manager.GetOrCreate(sessionID)
	if err != nil {
		return RunResult{}, err
	}

	s.mu.Lock()
	res := e.executor.Execute(s, code)
	s.appendHistory(historyEntry(code, res))
	s.syncMeta()
	s.mu.Unlock()

	s.Touch()
	return RunResult{SessionID: s.ID(), Result: res}, nil
}

// RunFile reads a script from disk and executes it like RunCode, with
// __file__ and __args__ bound for the duration of the run. Relative paths
// resolve against the configured working directory.
func (e *Engine) RunFile(sessionID, path string, args []string) (RunResult, error) {
	if path == "" {
		return RunResult{}, fmt.Errorf("%w: file path is required", ErrInvalidArgument)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(e.opts.WorkingDirectory, path)
	}
	code, err := os.ReadFile(path)
	if err != nil {
		return RunResult{}, fmt.Errorf("%w: cannot read %s: %v", ErrInvalidArgument, path, err)
	}

	e.sweep()
	s, err := e.manager.GetOrCreate(sessionID)
	if err != nil {
		return RunResult{}, err
	}

	s.mu.Lock()
	if args == nil {
		args = []string{}
	}
	_ = s.rt.Set("__file__", path)
	_ = s.rt.Set("__args__", args)
	res := e.executor.Execute(s, string(code))
	_ = s.rt.GlobalObject().Delete("__file__")
	_ = s.rt.GlobalObject().Delete("__args__")
	s.appendHistory(historyEntry(fmt.Sprintf("// run_file: %s", path), res))
	s.syncMeta()
	s.mu.Unlock()

	s.Touch()
	return RunResult{SessionID: s.ID(), Result: res}, nil
}

// ListNamespace returns the user-defined bindings of a session with short
// previews, sorted by name.
func (e *Engine) ListNamespace(sessionID string) ([]NamespaceEntry, error) {
	s, err := e.manager.Get(sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	names := s.userVars()
	entries := make([]NamespaceEntry, 0, len(names))
	for _, name := range names {
		v, ok := s.getVar(name)
		if !ok {
			continue
		}
		entries = append(entries, NamespaceEntry{
			Name:    name,
			Type:    valueType(v.Export()),
			Preview: valuePreview(v.Export()),
		})
	}
	return entries, nil
}

// GetVariable reads one binding back in full.
func (e *Engine) GetVariable(sessionID, name string) (VariableValue, error) {
	s, err := e.manager.Get(sessionID)
	if err != nil {
		return VariableValue{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.getVar(name)
	if !ok || !s.isUserVar(name) {
		return VariableValue{}, fmt.Errorf("%w: %q", ErrVariableNotFound, name)
	}
	return VariableValue{
		Name:  name,
		Type:  valueType(v.Export()),
		Value: exportValue(v),
		Repr:  valueRepr(v),
	}, nil
}

// SetVariable binds name to a value given as JSON text. Malformed JSON is
// rejected rather than stored as a raw string.
func (e *Engine) SetVariable(sessionID, name, valueJSON string) error {
	if name == "" {
		return fmt.Errorf("%w: variable name is required", ErrInvalidArgument)
	}
	var value any
	if err := json.Unmarshal([]byte(valueJSON), &value); err != nil {
		return fmt.Errorf("%w: value is not valid JSON: %v", ErrInvalidArgument, err)
	}

	s, err := e.manager.Get(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.setVar(name, value); err != nil {
		return err
	}
	s.syncMeta()
	return nil
}

// DeleteVariable unbinds name from the session namespace.
func (e *Engine) DeleteVariable(sessionID, name string) error {
	s, err := e.manager.Get(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isUserVar(name) {
		return fmt.Errorf("%w: %q", ErrVariableNotFound, name)
	}
	ok, err := s.deleteVar(name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %q", ErrVariableNotFound, name)
	}
	s.syncMeta()
	return nil
}

// ClearNamespace drops every user-defined binding and returns the names
// that were cleared. The session itself stays alive.
func (e *Engine) ClearNamespace(sessionID string) ([]string, error) {
	s, err := e.manager.Get(sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cleared, err := s.clearVars()
	if err != nil {
		return nil, err
	}
	s.syncMeta()
	return cleared, nil
}

// ListSessions returns summaries of all live sessions after a sweep.
func (e *Engine) ListSessions() []SessionInfo {
	e.sweep()
	return e.manager.List()
}

// DeleteSession removes a session. Returns ErrSessionNotFound for unknown
// ids so callers can distinguish "gone" from "never existed or expired".
func (e *Engine) DeleteSession(sessionID string) error {
	if !e.manager.Delete(sessionID) {
		return ErrSessionNotFound
	}
	return nil
}

// History returns the most recent n entries of a session's execution log
// together with the total number retained.
func (e *Engine) History(sessionID string, n int) ([]HistoryEntry, int, error) {
	s, err := e.manager.Get(sessionID)
	if err != nil {
		return nil, 0, err
	}
	entries, total := s.History(n)
	return entries, total, nil
}

// Status reports engine limits and the current session count.
func (e *Engine) Status() Status {
	e.sweep()
	return Status{
		ActiveSessions: e.manager.Count(),
		MaxSessions:    e.opts.MaxSessions,
		Timeout:        e.opts.Timeout,
		SessionTTL:     e.opts.SessionTTL,
		MaxOutputBytes: e.opts.MaxOutputBytes,
		Sandbox:        e.opts.Sandbox,
		TimeoutSeconds: e.opts.Timeout.Seconds(),
		TTLMinutes:     e.opts.SessionTTL.Minutes(),
	}
}

// EvictExpired removes idle sessions past their TTL. Exposed for the
// background sweeper.
func (e *Engine) EvictExpired() int {
	return e.manager.EvictExpired(time.Now())
}

// sweep runs an opportunistic eviction pass so expired sessions disappear
// promptly even without the background sweeper.
func (e *Engine) sweep() {
	if n := e.manager.EvictExpired(time.Now()); n > 0 {
		e.logger.Debug("evicted expired sessions", slog.Int("count", n))
	}
}

// valueType names a value's JavaScript-facing type.
func valueType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case int64, float64, int:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// valuePreview renders a short, shape-aware summary of a value.
func valuePreview(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		if len(val) > previewLen {
			return fmt.Sprintf("%q... (%d chars)", truncate(val, previewLen), len(val))
		}
		return fmt.Sprintf("%q", val)
	case []any:
		data, err := json.Marshal(val)
		if err != nil || len(data) > previewLen {
			return fmt.Sprintf("array of %d items", len(val))
		}
		return string(data)
	case map[string]any:
		data, err := json.Marshal(val)
		if err != nil || len(data) > previewLen {
			return fmt.Sprintf("object with %d keys", len(val))
		}
		return string(data)
	default:
		s := fmt.Sprintf("%v", val)
		if len(s) > previewLen {
			s = truncate(s, previewLen) + "..."
		}
		return s
	}
}
