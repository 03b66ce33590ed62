// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package leaktest

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingT struct {
	errors []string
	failed bool
}

func (r *recordingT) Helper() {}
func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
	r.failed = true
}
func (r *recordingT) Failed() bool { return r.failed }

func TestLeakDetected(t *testing.T) {
	defer func(prev time.Duration) { retryTimeout = prev }(retryTimeout)
	retryTimeout = 50 * time.Millisecond

	rt := &recordingT{}
	check := AfterTest(rt)
	stop := make(chan struct{})
	started := make(chan struct{})
	go func() {
		close(started)
		<-stop
	}()
	<-started
	check()
	close(stop)
	require.NotEmpty(t, rt.errors)
	require.Contains(t, rt.errors[0], "Leaked goroutine")
}

func TestNoLeak(t *testing.T) {
	rt := &recordingT{}
	check := AfterTest(rt)
	done := make(chan struct{})
	go func() { close(done) }()
	<-done
	check()
	require.Empty(t, rt.errors)
}

func TestGoroutineID(t *testing.T) {
	require.Equal(t, int64(42), goroutineID("goroutine 42 [running]:"))
	require.Equal(t, int64(0), goroutineID("garbage"))
}
