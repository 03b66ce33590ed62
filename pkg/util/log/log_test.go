// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package log

import (
	"bytes"
	"context"
	"testing"

	"github.com/cockroachdb/logtags"
	"github.com/cockroachdb/redact"
	"github.com/stretchr/testify/require"
)

func TestContextTags(t *testing.T) {
	var buf bytes.Buffer
	defer SetOutput(&buf)()

	ctx := logtags.AddTag(context.Background(), "opt", 7)
	ctx = logtags.AddTag(ctx, "phase", "explore")
	Infof(ctx, "memo has %d groups", 3)
	require.Contains(t, buf.String(), "[opt=7,phase=explore] memo has 3 groups")
	require.Contains(t, buf.String(), "level=INFO")
}

func TestRedaction(t *testing.T) {
	var buf bytes.Buffer
	defer SetOutput(&buf)()

	Warningf(context.Background(), "table %s, rule %s", "secret", redact.Safe("PushDownLimitScan"))
	require.Contains(t, buf.String(), "table secret, rule PushDownLimitScan")
	require.NotContains(t, buf.String(), "‹")

	buf.Reset()
	SetRedactable(true)
	defer SetRedactable(false)
	Warningf(context.Background(), "table %s", "secret")
	require.Contains(t, buf.String(), "‹secret›")
}

func TestVerbosity(t *testing.T) {
	var buf bytes.Buffer
	defer SetOutput(&buf)()
	defer SetVerbosity(SetVerbosity(0))

	VEventf(context.Background(), 2, "hidden")
	require.Empty(t, buf.String())
	require.False(t, V(2))

	SetVerbosity(2)
	require.True(t, V(2))
	VEventf(context.Background(), 2, "shown")
	require.Contains(t, buf.String(), "shown")
}

func TestFatalf(t *testing.T) {
	var buf bytes.Buffer
	defer SetOutput(&buf)()
	var code int
	prev := logging.exitFunc
	logging.exitFunc = func(c int) { code = c }
	defer func() { logging.exitFunc = prev }()

	Fatalf(context.Background(), "boom")
	require.Equal(t, 255, code)
	require.Contains(t, buf.String(), "level=ERROR")
}

func TestFormatWithContextTags(t *testing.T) {
	ctx := logtags.AddTag(context.Background(), "n", 1)
	require.Equal(t, "[n=1] hello world", FormatWithContextTags(ctx, "hello %s", "world"))
	require.Equal(t, "plain", FormatWithContextTags(context.Background(), "plain"))
}

type recordingT struct {
	lines []string
}

func (r *recordingT) Helper() {}
func (r *recordingT) Logf(format string, args ...interface{}) {
	r.lines = append(r.lines, redact.Sprintf(format, args...).StripMarkers())
}

func TestScope(t *testing.T) {
	rt := &recordingT{}
	s := Scope(rt)
	Infof(context.Background(), "inside")
	s.Close(rt)
	Infof(context.Background(), "outside")

	require.Len(t, rt.lines, 1)
	require.Contains(t, rt.lines[0], "inside")
	require.NotContains(t, rt.lines[0], "time=")
}
