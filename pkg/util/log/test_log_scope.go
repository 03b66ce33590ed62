// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package log

import (
	"bytes"
	"sync"
)

// tShim is the subset of testing.TB used by the test log scope.
type tShim interface {
	Helper()
	Logf(format string, args ...interface{})
}

// TestLogScope represents the lifetime of a logging output redirection to
// the log of a test. It is used as follows:
//
//	defer log.Scope(t).Close(t)
type TestLogScope struct {
	restore     func()
	prevVerbose int32
	w           *testWriter
}

// Scope redirects the log output to the test log for the duration of the
// test.
func Scope(t tShim) *TestLogScope {
	t.Helper()
	w := &testWriter{t: t}
	return &TestLogScope{
		restore:     setHandler(newHandler(w, false)),
		prevVerbose: logging.verbosity.Load(),
		w:           w,
	}
}

// Close restores the previous log output.
func (l *TestLogScope) Close(t tShim) {
	t.Helper()
	l.w.close()
	l.restore()
	logging.verbosity.Store(l.prevVerbose)
}

// testWriter forwards complete lines to the test log. Lines written after the
// scope is closed are dropped, since logging to a finished test panics.
type testWriter struct {
	t      tShim
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (w *testWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return len(p), nil
	}
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadBytes('\n')
		if err != nil {
			// Keep the incomplete line for the next write.
			w.buf.Write(line)
			break
		}
		w.t.Logf("%s", bytes.TrimRight(line, "\n"))
	}
	return len(p), nil
}

func (w *testWriter) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.t.Logf("%s", w.buf.String())
		w.buf.Reset()
	}
	w.closed = true
}
