// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package optbuilder

import (
	"testing"

	"github.com/cockroachdb/cascades/pkg/util/leaktest"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	defer leaktest.AfterTest(t)()

	testCases := []struct {
		src      string
		expected string
	}{
		{src: "a", expected: "a"},
		{src: "(scan t)", expected: "(scan t)"},
		{src: "  (select (> a 5)\n   (scan t))  ", expected: "(select (> a 5) (scan t))"},
		{src: "(project [a (as b c)] (scan t))", expected: "(project [a (as b c)] (scan t))"},
		{src: "(= b 'it''s')", expected: "(= b 'it''s')"},
		{src: "-- leading comment\n(scan t) -- trailing", expected: "(scan t)"},
		{src: "(limit 10 -- the count\n (scan t))", expected: "(limit 10 (scan t))"},
		{src: "()", expected: "()"},
	}
	for _, tc := range testCases {
		t.Run(tc.src, func(t *testing.T) {
			require.Equal(t, tc.expected, parse(tc.src).String())
		})
	}
}

func TestParseErrors(t *testing.T) {
	defer leaktest.AfterTest(t)()

	testCases := []struct {
		src string
		err string
	}{
		{src: "", err: "at offset 0: unexpected end of input"},
		{src: "(scan t", err: "at offset 0: unterminated ("},
		{src: "(scan [a)", err: "at offset 8: mismatched )"},
		{src: ")", err: "at offset 0: unexpected )"},
		{src: "(scan t) x", err: `at offset 9: unexpected "x" after expression`},
		{src: "(= b 'abc)", err: "at offset 5: unterminated string"},
	}
	for _, tc := range testCases {
		t.Run(tc.src, func(t *testing.T) {
			var err error
			func() {
				defer func() {
					if r := recover(); r != nil {
						err = r.(parseError).error
					}
				}()
				parse(tc.src)
			}()
			require.EqualError(t, err, tc.err)
		})
	}
}

func TestHead(t *testing.T) {
	defer leaktest.AfterTest(t)()

	require.Equal(t, "scan", parse("(scan t)").head())
	require.Equal(t, "", parse("[scan t]").head())
	require.Equal(t, "", parse("()").head())
	require.Equal(t, "", parse("('x' t)").head())
	require.Equal(t, "(scan ...)", describe(parse("(scan t)")))
	require.Equal(t, "t", describe(parse("t")))
}
