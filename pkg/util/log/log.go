// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package log provides leveled, context-tagged logging. Messages are
// formatted with redaction markers around unsafe arguments; the tags stored
// in the context with logtags prefix every message.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/logtags"
	"github.com/cockroachdb/redact"
)

// Severity is the severity of a log message.
type Severity int32

const (
	INFO Severity = iota
	WARNING
	ERROR
	FATAL
)

var severityNames = [...]string{INFO: "INFO", WARNING: "WARNING", ERROR: "ERROR", FATAL: "FATAL"}

func (s Severity) String() string {
	return severityNames[s]
}

func (s Severity) level() slog.Level {
	switch s {
	case WARNING:
		return slog.LevelWarn
	case ERROR, FATAL:
		return slog.LevelError
	}
	return slog.LevelInfo
}

type loggingT struct {
	mu struct {
		sync.Mutex
		handler slog.Handler
	}
	verbosity  atomic.Int32
	redactable atomic.Bool
	exitFunc   func(int)
}

var logging = func() *loggingT {
	l := &loggingT{exitFunc: os.Exit}
	l.mu.handler = newHandler(os.Stderr, true)
	return l
}()

func newHandler(w io.Writer, withTime bool) slog.Handler {
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	if !withTime {
		opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		}
	}
	return slog.NewTextHandler(w, opts)
}

// SetOutput redirects all log messages to w. It returns a function that
// restores the previous output.
func SetOutput(w io.Writer) (restore func()) {
	return setHandler(newHandler(w, true))
}

func setHandler(h slog.Handler) (restore func()) {
	logging.mu.Lock()
	defer logging.mu.Unlock()
	prev := logging.mu.handler
	logging.mu.handler = h
	return func() {
		logging.mu.Lock()
		defer logging.mu.Unlock()
		logging.mu.handler = prev
	}
}

// SetVerbosity sets the verbosity level used by V and VEventf, and returns
// the previous level.
func SetVerbosity(level int32) int32 {
	return logging.verbosity.Swap(level)
}

// SetRedactable controls whether redaction markers are kept in the output.
// By default they are stripped.
func SetRedactable(redactable bool) {
	logging.redactable.Store(redactable)
}

// V returns true if the logging verbosity is set to the specified level or
// higher.
func V(level int32) bool {
	return logging.verbosity.Load() >= level
}

// Infof logs to the INFO log.
func Infof(ctx context.Context, format string, args ...interface{}) {
	logDepth(ctx, 1, INFO, format, args)
}

// Warningf logs to the WARNING and INFO logs.
func Warningf(ctx context.Context, format string, args ...interface{}) {
	logDepth(ctx, 1, WARNING, format, args)
}

// Errorf logs to the ERROR, WARNING, and INFO logs.
func Errorf(ctx context.Context, format string, args ...interface{}) {
	logDepth(ctx, 1, ERROR, format, args)
}

// Fatalf logs to the FATAL log and then terminates the process.
func Fatalf(ctx context.Context, format string, args ...interface{}) {
	logDepth(ctx, 1, FATAL, format, args)
	logging.exitFunc(255)
}

// VEventf logs to the INFO log if the verbosity is at least level.
func VEventf(ctx context.Context, level int32, format string, args ...interface{}) {
	if V(level) {
		logDepth(ctx, 1, INFO, format, args)
	}
}

// FormatWithContextTags formats the string and prepends the context tags.
//
// Redaction markers are *not* inserted. The resulting string is generally
// unsafe for reporting.
func FormatWithContextTags(ctx context.Context, format string, args ...interface{}) string {
	var buf strings.Builder
	formatTags(ctx, &buf)
	buf.WriteString(redact.Sprintf(format, args...).StripMarkers())
	return buf.String()
}

func formatTags(ctx context.Context, buf *strings.Builder) {
	tags := logtags.FromContext(ctx)
	if tags == nil || len(tags.Get()) == 0 {
		return
	}
	buf.WriteByte('[')
	buf.WriteString(tags.String())
	buf.WriteString("] ")
}

func logDepth(ctx context.Context, depth int, sev Severity, format string, args []interface{}) {
	msg := redact.Sprintf(format, args...)
	var buf strings.Builder
	formatTags(ctx, &buf)
	if logging.redactable.Load() {
		buf.WriteString(string(msg))
	} else {
		buf.WriteString(msg.StripMarkers())
	}

	var pcs [1]uintptr
	runtime.Callers(depth+2, pcs[:])
	rec := slog.NewRecord(time.Now(), sev.level(), buf.String(), pcs[0])

	logging.mu.Lock()
	h := logging.mu.handler
	logging.mu.Unlock()
	if h.Enabled(ctx, rec.Level) {
		_ = h.Handle(ctx, rec)
	}
}
