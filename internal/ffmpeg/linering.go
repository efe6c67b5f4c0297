// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"strings"
	"sync"
)

// DiagnosticLines is the number of stderr lines kept per process.
const DiagnosticLines = 5

// LineRing is a thread-safe ring buffer for capturing the last N lines of log output.
// Partial writes are buffered until a newline arrives or Flush is called.
type LineRing struct {
	mu      sync.Mutex
	lines   []string
	head    int
	count   int
	partial strings.Builder

	// OnLine, when set, observes every completed line. It is called with the
	// ring lock held and must not call back into the ring.
	OnLine func(string)
}

// NewLineRing creates a LineRing with the specified capacity.
func NewLineRing(capacity int) *LineRing {
	if capacity < 1 {
		capacity = DiagnosticLines
	}
	return &LineRing{lines: make([]string, capacity)}
}

// Write implements io.Writer.
func (r *LineRing) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := string(p)
	for {
		i := strings.IndexByte(s, '\n')
		if i < 0 {
			r.partial.WriteString(s)
			break
		}
		r.partial.WriteString(s[:i])
		r.pushLocked(r.partial.String())
		r.partial.Reset()
		s = s[i+1:]
	}
	return len(p), nil
}

// Flush commits a trailing line without newline.
func (r *LineRing) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.partial.Len() > 0 {
		r.pushLocked(r.partial.String())
		r.partial.Reset()
	}
}

func (r *LineRing) pushLocked(line string) {
	line = strings.TrimSpace(strings.ReplaceAll(line, "\r", " "))
	if line == "" {
		return
	}
	if r.OnLine != nil {
		r.OnLine(line)
	}
	r.lines[r.head] = line
	r.head = (r.head + 1) % len(r.lines)
	if r.count < len(r.lines) {
		r.count++
	}
}

// Lines returns the retained lines, oldest first.
func (r *LineRing) Lines() []string {
	return r.LastN(len(r.lines))
}

// LastN returns the last N lines in chronological order.
func (r *LineRing) LastN(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n > r.count {
		n = r.count
	}
	if n <= 0 {
		return nil
	}
	out := make([]string, 0, n)
	start := (r.head - n + len(r.lines)) % len(r.lines)
	for i := 0; i < n; i++ {
		out = append(out, r.lines[(start+i)%len(r.lines)])
	}
	return out
}
