package repl

import (
	"time"
	"unicode/utf8"
)

// Outcome classifies how an execution ended.
type Outcome string

const (
	// OutcomeSuccess means the snippet ran to completion.
	OutcomeSuccess Outcome = "success"
	// OutcomeTimeout means the deadline interrupted the snippet mid-run.
	// Partial namespace mutations remain — evaluation is not transactional.
	OutcomeTimeout Outcome = "timeout"
	// OutcomeDenied means the snippet invoked a blocked capability in
	// sandbox mode.
	OutcomeDenied Outcome = "capability_denied"
	// OutcomeError means the snippet itself failed (syntax or thrown error).
	OutcomeError Outcome = "runtime_error"
)

// Result is the structured outcome of one execution. The last-expression
// value lives only here — it is never bound into the session namespace.
type Result struct {
	Outcome Outcome

	// Value is the exported last-expression value; HasValue distinguishes
	// "no final expression" from an undefined result.
	Value     any
	ValueRepr string
	HasValue  bool

	Stdout          string
	Stderr          string
	StdoutTruncated bool
	StderrTruncated bool

	NewVars      []string
	ModifiedVars []string

	ErrorMessage     string
	DeniedCapability string
	Hint             string

	Elapsed time.Duration
}

// HistoryEntry is one execution record in a session's history.
type HistoryEntry struct {
	Timestamp      time.Time `json:"timestamp"`
	CodePreview    string    `json:"code_preview"`
	Outcome        Outcome   `json:"outcome"`
	NewVars        []string  `json:"new_variables,omitempty"`
	ModifiedVars   []string  `json:"modified_variables,omitempty"`
	Stdout         string    `json:"stdout,omitempty"`
	Stderr         string    `json:"stderr,omitempty"`
	ValueRepr      string    `json:"result,omitempty"`
	Error          string    `json:"error,omitempty"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
}

const codePreviewLen = 120

// truncate caps s at limit bytes, backing off to a rune boundary so the
// result is always valid UTF-8.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

// codePreview flattens code to a single line capped at codePreviewLen.
func codePreview(code string) string {
	preview := code
	if len(preview) > codePreviewLen {
		preview = truncate(preview, codePreviewLen) + "..."
	}
	out := make([]byte, 0, len(preview))
	for i := 0; i < len(preview); i++ {
		if preview[i] == '\n' {
			out = append(out, '\\', 'n')
			continue
		}
		out = append(out, preview[i])
	}
	return string(out)
}

// historyEntry builds the record for one execution.
func historyEntry(code string, res Result) HistoryEntry {
	return HistoryEntry{
		Timestamp:      time.Now().UTC(),
		CodePreview:    codePreview(code),
		Outcome:        res.Outcome,
		NewVars:        res.NewVars,
		ModifiedVars:   res.ModifiedVars,
		Stdout:         res.Stdout,
		Stderr:         res.Stderr,
		ValueRepr:      res.ValueRepr,
		Error:          res.ErrorMessage,
		ElapsedSeconds: res.Elapsed.Seconds(),
	}
}
