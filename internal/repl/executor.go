package repl

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dop251/goja"
)

// errDeadlineExceeded is the interrupt value the deadline timer injects.
var errDeadlineExceeded = errors.New("execution deadline exceeded")

const valueReprLen = 512

// Executor evaluates one snippet against a session's runtime under a
// wall-clock deadline, capturing both output streams and classifying the
// outcome. Interruption is preemptive at bytecode granularity — an infinite
// loop is abandoned mid-run and whatever bindings it already made remain.
type Executor struct {
	timeout    time.Duration
	maxOutput  int
	restrictor *Restrictor // nil = sandbox disabled
	logger     *slog.Logger
	metrics    *Metrics
}

// NewExecutor creates an execution unit. restrictor may be nil.
func NewExecutor(timeout time.Duration, maxOutput int, restrictor *Restrictor, logger *slog.Logger, metrics *Metrics) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		timeout:    timeout,
		maxOutput:  maxOutput,
		restrictor: restrictor,
		logger:     logger,
		metrics:    metrics,
	}
}

// Execute runs code inside s. The caller must hold s.mu.
func (e *Executor) Execute(s *Session, code string) Result {
	start := time.Now()

	if strings.TrimSpace(code) == "" {
		return Result{Outcome: OutcomeSuccess, Elapsed: time.Since(start)}
	}

	prg, err := goja.Compile("<repl>", code, false)
	if err != nil {
		res := Result{
			Outcome:      OutcomeError,
			ErrorMessage: err.Error(),
			Hint:         "Check your JavaScript syntax.",
			Elapsed:      time.Since(start),
		}
		e.record(res)
		return res
	}

	before := s.snapshotVars()

	stdout := NewCaptureBuffer(e.maxOutput)
	stderr := NewCaptureBuffer(e.maxOutput)
	s.sink.redirect(stdout, stderr)
	defer s.sink.reset()

	var denied string
	if e.restrictor != nil {
		restore := e.restrictor.Apply(s.rt, func(name string) {
			if denied == "" {
				denied = name
			}
		})
		defer restore()
	}

	timer := time.AfterFunc(e.timeout, func() {
		s.rt.Interrupt(errDeadlineExceeded)
	})
	value, runErr := s.rt.RunProgram(prg)
	timer.Stop()
	s.rt.ClearInterrupt()

	res := Result{
		Elapsed:         time.Since(start),
		Stdout:          stdout.String(),
		Stderr:          stderr.String(),
		StdoutTruncated: stdout.Truncated(),
		StderrTruncated: stderr.Truncated(),
	}

	// Partial mutations from failed or interrupted runs remain visible —
	// evaluation is not transactional, so report the diff unconditionally.
	res.NewVars, res.ModifiedVars = s.diffVars(before)

	var interrupted *goja.InterruptedError
	var exception *goja.Exception
	switch {
	case runErr == nil:
		res.Outcome = OutcomeSuccess
		if value != nil && !goja.IsUndefined(value) {
			res.HasValue = true
			res.Value = exportValue(value)
			res.ValueRepr = valueRepr(value)
		}
	case errors.As(runErr, &interrupted):
		res.Outcome = OutcomeTimeout
		res.ErrorMessage = fmt.Sprintf("execution exceeded the %s limit", e.timeout)
		res.Hint = "Break the work into smaller chunks or raise SANDUKU_TIMEOUT."
	case denied != "":
		res.Outcome = OutcomeDenied
		res.DeniedCapability = denied
		res.ErrorMessage = fmt.Sprintf("capability %q is blocked in sandbox mode", denied)
	case errors.As(runErr, &exception):
		res.Outcome = OutcomeError
		res.ErrorMessage = exception.Error()
		if strings.Contains(res.ErrorMessage, "is not defined") {
			res.Hint = fmt.Sprintf(
				"Variables persist under their assigned names. Currently available: [%s]",
				strings.Join(s.userVars(), ", "),
			)
		}
	default:
		res.Outcome = OutcomeError
		res.ErrorMessage = runErr.Error()
	}

	e.record(res)
	return res
}

func (e *Executor) record(res Result) {
	if e.metrics != nil {
		e.metrics.RecordExecution(res.Outcome, res.Elapsed)
		if res.StdoutTruncated || res.StderrTruncated {
			e.metrics.OutputTruncations.Inc()
		}
	}
	if res.Outcome != OutcomeSuccess {
		e.logger.Debug("execution finished",
			slog.String("outcome", string(res.Outcome)),
			slog.Duration("elapsed", res.Elapsed),
			slog.String("error", res.ErrorMessage),
		)
	}
}

// exportValue converts a runtime value into a JSON-friendly Go value,
// falling back to its string form for functions and other exotica.
func exportValue(v goja.Value) any {
	exported := v.Export()
	if _, err := json.Marshal(exported); err != nil {
		return v.String()
	}
	return exported
}

// valueRepr renders a short textual representation of a runtime value.
func valueRepr(v goja.Value) string {
	exported := v.Export()
	var repr string
	if s, ok := exported.(string); ok {
		repr = s
	} else if data, err := json.Marshal(exported); err == nil {
		repr = string(data)
	} else {
		repr = v.String()
	}
	if len(repr) > valueReprLen {
		repr = truncate(repr, valueReprLen) + "..."
	}
	return repr
}
