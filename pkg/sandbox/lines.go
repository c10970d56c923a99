package sandbox

import (
	"bytes"
	"strings"
	"sync"
)

// LineWriter is an io.Writer that calls fn once per complete line and keeps
// a copy of everything written. Drivers that receive output in arbitrary
// chunks use it to feed ExecOptions.OnStdout/OnStderr.
type LineWriter struct {
	fn func(string)

	mu      sync.Mutex
	partial []byte
	all     strings.Builder
}

// NewLineWriter returns a LineWriter; fn may be nil.
func NewLineWriter(fn func(string)) *LineWriter {
	return &LineWriter{fn: fn}
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.all.Write(p)
	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSuffix(string(w.partial[:i]), "\r")
		w.partial = w.partial[i+1:]
		if w.fn != nil {
			w.fn(line)
		}
	}
	return len(p), nil
}

// Flush emits a trailing line that was not newline-terminated.
func (w *LineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.partial) == 0 {
		return
	}
	line := string(w.partial)
	w.partial = nil
	if w.fn != nil {
		w.fn(line)
	}
}

// String returns everything written so far.
func (w *LineWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.all.String()
}
