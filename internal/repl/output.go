package repl

import (
	"bytes"
	"fmt"
	"io"
	"sync"
)

// CaptureBuffer is a byte-capped sink for one output stream. Writes past the
// cap are counted but discarded — producers never block and never see an
// error. Safe to read after an interrupted execution.
type CaptureBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
	total int64
}

// NewCaptureBuffer creates a buffer that retains at most limit bytes.
func NewCaptureBuffer(limit int) *CaptureBuffer {
	return &CaptureBuffer{limit: limit}
}

// Write appends p up to the cap. Always reports len(p) consumed.
func (b *CaptureBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total += int64(len(p))
	remaining := b.limit - b.buf.Len()
	if remaining <= 0 {
		return len(p), nil
	}
	if len(p) > remaining {
		p = p[:remaining]
	}
	b.buf.Write(p)
	return len(p), nil
}

// Truncated reports whether any bytes were discarded.
func (b *CaptureBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total > int64(b.buf.Len())
}

// Len returns the number of retained bytes.
func (b *CaptureBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

// String returns the captured content with a trailing marker when truncated.
func (b *CaptureBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.total > int64(b.buf.Len()) {
		return b.buf.String() + fmt.Sprintf("\n... [truncated, %d total bytes]", b.total)
	}
	return b.buf.String()
}

// consoleSink is the redirect target for a session's console output.
// The executor points it at fresh capture buffers for the duration of one
// call; outside an execution both streams discard.
type consoleSink struct {
	mu     sync.Mutex
	stdout io.Writer
	stderr io.Writer
}

func newConsoleSink() *consoleSink {
	return &consoleSink{stdout: io.Discard, stderr: io.Discard}
}

func (s *consoleSink) redirect(stdout, stderr io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stdout = stdout
	s.stderr = stderr
}

func (s *consoleSink) reset() {
	s.redirect(io.Discard, io.Discard)
}

func (s *consoleSink) writeOut(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = io.WriteString(s.stdout, line)
}

func (s *consoleSink) writeErr(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = io.WriteString(s.stderr, line)
}
