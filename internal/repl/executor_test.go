package repl

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jkaninda/sanduku/internal/modules"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s, err := newSession("sess00000001", modules.NewRegistry(testLogger()), 50)
	if err != nil {
		t.Fatalf("newSession() error = %v", err)
	}
	return s
}

func newTestExecutor(timeout time.Duration, maxOutput int, restrictor *Restrictor) *Executor {
	return NewExecutor(timeout, maxOutput, restrictor, testLogger(), nil)
}

func TestExecutePersistsBindings(t *testing.T) {
	s := newTestSession(t)
	e := newTestExecutor(5*time.Second, 1<<16, nil)

	res := e.Execute(s, "x = 5")
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %q, want success (error: %s)", res.Outcome, res.ErrorMessage)
	}
	if !res.HasValue || res.ValueRepr != "5" {
		t.Errorf("value repr = %q (has=%v), want \"5\"", res.ValueRepr, res.HasValue)
	}
	if len(res.NewVars) != 1 || res.NewVars[0] != "x" {
		t.Errorf("new vars = %v, want [x]", res.NewVars)
	}

	res = e.Execute(s, "x * 2")
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %q, want success (error: %s)", res.Outcome, res.ErrorMessage)
	}
	if res.ValueRepr != "10" {
		t.Errorf("value repr = %q, want \"10\"", res.ValueRepr)
	}
	if len(res.NewVars) != 0 {
		t.Errorf("new vars = %v, want none on a read", res.NewVars)
	}
}

func TestExecuteLastExpressionIsNotBound(t *testing.T) {
	s := newTestSession(t)
	e := newTestExecutor(5*time.Second, 1<<16, nil)

	res := e.Execute(s, "1 + 2")
	if !res.HasValue || res.ValueRepr != "3" {
		t.Fatalf("value repr = %q (has=%v), want \"3\"", res.ValueRepr, res.HasValue)
	}
	if len(res.NewVars) != 0 {
		t.Errorf("new vars = %v, want none", res.NewVars)
	}
	if vars := s.userVars(); len(vars) != 0 {
		t.Errorf("userVars() = %v, want empty namespace", vars)
	}
}

func TestExecuteModifiedVariables(t *testing.T) {
	s := newTestSession(t)
	e := newTestExecutor(5*time.Second, 1<<16, nil)

	if res := e.Execute(s, "var a = 1; var b = 2;"); res.Outcome != OutcomeSuccess {
		t.Fatalf("setup outcome = %q: %s", res.Outcome, res.ErrorMessage)
	}

	res := e.Execute(s, "a = 10")
	if len(res.NewVars) != 0 {
		t.Errorf("new vars = %v, want none", res.NewVars)
	}
	if len(res.ModifiedVars) != 1 || res.ModifiedVars[0] != "a" {
		t.Errorf("modified vars = %v, want [a]", res.ModifiedVars)
	}
}

func TestExecuteEmptyCode(t *testing.T) {
	s := newTestSession(t)
	e := newTestExecutor(5*time.Second, 1<<16, nil)

	for _, code := range []string{"", "   ", "\n\t\n"} {
		res := e.Execute(s, code)
		if res.Outcome != OutcomeSuccess {
			t.Errorf("Execute(%q) outcome = %q, want success", code, res.Outcome)
		}
		if res.HasValue {
			t.Errorf("Execute(%q) produced a value", code)
		}
	}
}

func TestExecuteSyntaxError(t *testing.T) {
	s := newTestSession(t)
	e := newTestExecutor(5*time.Second, 1<<16, nil)

	res := e.Execute(s, "function ( {")
	if res.Outcome != OutcomeError {
		t.Fatalf("outcome = %q, want runtime_error", res.Outcome)
	}
	if res.ErrorMessage == "" {
		t.Error("expected an error message for invalid syntax")
	}
	if !strings.Contains(res.Hint, "syntax") {
		t.Errorf("hint = %q, want a syntax hint", res.Hint)
	}
}

func TestExecuteUndefinedVariableHint(t *testing.T) {
	s := newTestSession(t)
	e := newTestExecutor(5*time.Second, 1<<16, nil)

	if res := e.Execute(s, "count = 7"); res.Outcome != OutcomeSuccess {
		t.Fatalf("setup outcome = %q: %s", res.Outcome, res.ErrorMessage)
	}

	res := e.Execute(s, "missing + 1")
	if res.Outcome != OutcomeError {
		t.Fatalf("outcome = %q, want runtime_error", res.Outcome)
	}
	if !strings.Contains(res.ErrorMessage, "is not defined") {
		t.Fatalf("error = %q, want a ReferenceError", res.ErrorMessage)
	}
	if !strings.Contains(res.Hint, "count") {
		t.Errorf("hint = %q, want it to list the available variables", res.Hint)
	}
}

func TestExecuteTimeoutInterruptsAndRecovers(t *testing.T) {
	s := newTestSession(t)
	e := newTestExecutor(50*time.Millisecond, 1<<16, nil)

	start := time.Now()
	res := e.Execute(s, "for (;;) {}")
	if res.Outcome != OutcomeTimeout {
		t.Fatalf("outcome = %q, want timeout", res.Outcome)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("interrupt took %s, expected preemptive cancellation", elapsed)
	}
	if res.Hint == "" {
		t.Error("expected a hint on timeout")
	}

	// The runtime must stay usable after an interrupt.
	res = e.Execute(s, "2 + 2")
	if res.Outcome != OutcomeSuccess || res.ValueRepr != "4" {
		t.Errorf("post-timeout run: outcome = %q value = %q, want success/4", res.Outcome, res.ValueRepr)
	}
}

func TestExecuteTimeoutKeepsPartialMutations(t *testing.T) {
	s := newTestSession(t)
	e := newTestExecutor(50*time.Millisecond, 1<<16, nil)

	res := e.Execute(s, "partial = 'written'; for (;;) {}")
	if res.Outcome != OutcomeTimeout {
		t.Fatalf("outcome = %q, want timeout", res.Outcome)
	}
	found := false
	for _, name := range res.NewVars {
		if name == "partial" {
			found = true
		}
	}
	if !found {
		t.Errorf("new vars = %v, want the pre-interrupt binding reported", res.NewVars)
	}
	if v, ok := s.getVar("partial"); !ok || v.String() != "written" {
		t.Error("pre-interrupt binding should survive in the namespace")
	}
}

func TestExecuteCapturesConsoleStreams(t *testing.T) {
	s := newTestSession(t)
	e := newTestExecutor(5*time.Second, 1<<16, nil)

	res := e.Execute(s, `console.log("out"); console.error("err");`)
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %q: %s", res.Outcome, res.ErrorMessage)
	}
	if res.Stdout != "out\n" {
		t.Errorf("stdout = %q, want %q", res.Stdout, "out\n")
	}
	if res.Stderr != "err\n" {
		t.Errorf("stderr = %q, want %q", res.Stderr, "err\n")
	}
}

func TestExecuteTruncatesOutput(t *testing.T) {
	s := newTestSession(t)
	e := newTestExecutor(5*time.Second, 16, nil)

	res := e.Execute(s, `console.log("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa");`)
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %q: %s", res.Outcome, res.ErrorMessage)
	}
	if !res.StdoutTruncated {
		t.Fatal("StdoutTruncated = false, want true")
	}
	if !strings.Contains(res.Stdout, "truncated") {
		t.Errorf("stdout = %q, want a truncation marker", res.Stdout)
	}
}

func TestExecuteSandboxDeniesEval(t *testing.T) {
	reg := modules.NewRegistry(testLogger())
	s, err := newSession("sess00000002", reg, 50)
	if err != nil {
		t.Fatalf("newSession() error = %v", err)
	}
	e := newTestExecutor(5*time.Second, 1<<16, NewRestrictor(reg))

	res := e.Execute(s, `eval("1 + 1")`)
	if res.Outcome != OutcomeDenied {
		t.Fatalf("outcome = %q, want capability_denied (error: %s)", res.Outcome, res.ErrorMessage)
	}
	if res.DeniedCapability != "eval" {
		t.Errorf("denied capability = %q, want eval", res.DeniedCapability)
	}

	// Restriction is per-execution; ordinary code still runs and the
	// overlay must not leak bindings into the user namespace.
	res = e.Execute(s, "3 * 3")
	if res.Outcome != OutcomeSuccess || res.ValueRepr != "9" {
		t.Errorf("post-denial run: outcome = %q value = %q", res.Outcome, res.ValueRepr)
	}
	if len(res.NewVars) != 0 {
		t.Errorf("new vars = %v, overlay restore leaked bindings", res.NewVars)
	}
}

func TestExecuteSandboxDeniesBlockedModule(t *testing.T) {
	reg := modules.NewRegistry(testLogger())
	s, err := newSession("sess00000003", reg, 50)
	if err != nil {
		t.Fatalf("newSession() error = %v", err)
	}
	e := newTestExecutor(5*time.Second, 1<<16, NewRestrictor(reg))

	res := e.Execute(s, `require("fs")`)
	if res.Outcome != OutcomeDenied {
		t.Fatalf("outcome = %q, want capability_denied (error: %s)", res.Outcome, res.ErrorMessage)
	}
	if res.DeniedCapability != "fs" {
		t.Errorf("denied capability = %q, want fs", res.DeniedCapability)
	}
}

func TestExecuteDenialBeatsExceptionClassification(t *testing.T) {
	reg := modules.NewRegistry(testLogger())
	s, err := newSession("sess00000004", reg, 50)
	if err != nil {
		t.Fatalf("newSession() error = %v", err)
	}
	e := newTestExecutor(5*time.Second, 1<<16, NewRestrictor(reg))

	// The deny stub throws into the snippet; the outcome must still be
	// classified as a denial, not a generic runtime error.
	res := e.Execute(s, `try { eval("1") } catch (err) { throw err }`)
	if res.Outcome != OutcomeDenied {
		t.Errorf("outcome = %q, want capability_denied", res.Outcome)
	}
}
