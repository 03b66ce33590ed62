// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package leaktest provides tools to detect leaked goroutines in tests. To use
// it, call "defer leaktest.AfterTest(t)()" at the beginning of each test that
// may use goroutines.
package leaktest

import (
	"runtime"
	"sort"
	"strings"
	"time"
)

// tShim is the subset of testing.TB used by AfterTest.
type tShim interface {
	Helper()
	Errorf(format string, args ...interface{})
	Failed() bool
}

// retryTimeout is how long AfterTest waits for goroutines to exit.
var retryTimeout = 5 * time.Second

func interestingGoroutines() map[int64]string {
	buf := make([]byte, 2<<20)
	buf = buf[:runtime.Stack(buf, true)]
	gs := make(map[int64]string)
	for _, g := range strings.Split(string(buf), "\n\n") {
		sl := strings.SplitN(g, "\n", 2)
		if len(sl) != 2 {
			continue
		}
		stack := strings.TrimSpace(sl[1])
		if stack == "" ||
			strings.Contains(stack, "testing.Main(") ||
			strings.Contains(stack, "testing.(*T).Run(") ||
			strings.Contains(stack, "runtime.goexit") && strings.Contains(stack, "signal.signal_recv") ||
			strings.Contains(stack, "runtime.ensureSigM") ||
			strings.Contains(stack, "runtime.MHeap_Scavenger") ||
			strings.Contains(stack, "created by os/signal.init") ||
			strings.Contains(stack, "created by testing.RunTests") ||
			strings.Contains(stack, "created by testing.runTests") ||
			strings.Contains(stack, "created by testing.(*T).Run") ||
			strings.Contains(stack, "created by runtime.gc") ||
			strings.Contains(stack, "interestingGoroutines") {
			continue
		}
		gs[goroutineID(sl[0])] = g
	}
	return gs
}

// goroutineID parses the id out of a "goroutine 12 [running]:" header.
func goroutineID(header string) int64 {
	fields := strings.Fields(header)
	if len(fields) < 2 {
		return 0
	}
	var id int64
	for _, r := range fields[1] {
		if r < '0' || r > '9' {
			break
		}
		id = id*10 + int64(r-'0')
	}
	return id
}

// AfterTest snapshots the currently-running goroutines and returns a
// function to be run at the end of tests to see whether any goroutines
// leaked.
func AfterTest(t tShim) func() {
	orig := interestingGoroutines()
	return func() {
		t.Helper()
		// If the test already failed, we don't pile on any more errors.
		if t.Failed() {
			return
		}
		var leaked []string
		deadline := time.Now().Add(retryTimeout)
		for {
			leaked = leaked[:0]
			for id, stack := range interestingGoroutines() {
				if _, ok := orig[id]; !ok {
					leaked = append(leaked, stack)
				}
			}
			if len(leaked) == 0 || time.Now().After(deadline) {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
		sort.Strings(leaked)
		for _, g := range leaked {
			t.Errorf("Leaked goroutine: %v", g)
		}
	}
}
