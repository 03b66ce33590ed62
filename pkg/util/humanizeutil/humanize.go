// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package humanizeutil formats estimates for people.
package humanizeutil

import (
	"fmt"
	"math"
	"time"

	"github.com/dustin/go-humanize"
)

// Count formats a row count estimate. Counts below one million are printed
// with thousands separators; larger counts use SI suffixes.
//
//	0.4        ->  "0"
//	12345      ->  "12,345"
//	3.2e7      ->  "32M"
func Count(val float64) string {
	switch {
	case math.IsInf(val, 1):
		return "∞"
	case val < 0 || math.IsNaN(val):
		return "?"
	case val < 1e6:
		return humanize.Comma(int64(math.Round(val)))
	}
	v, prefix := humanize.ComputeSI(val)
	return fmt.Sprintf("%s%s", humanize.Ftoa(math.Round(v*10)/10), prefix)
}

// IBytes is an int64 version of go-humanize's IBytes.
func IBytes(value int64) string {
	if value < 0 {
		return fmt.Sprintf("-%s", humanize.IBytes(uint64(-value)))
	}
	return humanize.IBytes(uint64(value))
}

// Duration formats a duration in a user-friendly way. The result is not exact
// and the granularity is no smaller than microseconds.
//
//	0              ->  "0µs"
//	123456ns       ->  "123µs"
//	12345678ns     ->  "12ms"
//	12345678912ns  ->  "12.3s"
func Duration(val time.Duration) string {
	val = val.Round(time.Microsecond)
	switch {
	case val == 0:
		return "0µs"
	case val < time.Millisecond:
		return val.String()
	case val < time.Second:
		return val.Round(time.Millisecond).String()
	case val < time.Minute:
		return val.Round(100 * time.Millisecond).String()
	}
	return val.Round(time.Second).String()
}
