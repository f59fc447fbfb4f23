package repl

import "errors"

// Engine errors surfaced to transports. Failures inside user code are never
// Go errors — they come back as Result outcomes.
var (
	// ErrSessionNotFound is returned for an unknown or expired session id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrVariableNotFound is returned when a namespace entry does not exist.
	ErrVariableNotFound = errors.New("variable not found")

	// ErrCapacityExceeded is returned when the session ceiling is reached.
	ErrCapacityExceeded = errors.New("session capacity exceeded")

	// ErrInvalidArgument is returned for malformed caller input
	// (bad JSON for set_variable, bad file path, empty names).
	ErrInvalidArgument = errors.New("invalid argument")
)
