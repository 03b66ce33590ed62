// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package explain_test

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/cockroachdb/cascades/pkg/sql/opt"
	"github.com/cockroachdb/cascades/pkg/sql/opt/exec"
	"github.com/cockroachdb/cascades/pkg/sql/opt/exec/explain"
	"github.com/cockroachdb/cascades/pkg/sql/opt/testutils/opttester"
	"github.com/cockroachdb/cascades/pkg/sql/opt/testutils/testcat"
	"github.com/cockroachdb/cascades/pkg/sql/opt/xform"
	"github.com/cockroachdb/cascades/pkg/util/leaktest"
	"github.com/cockroachdb/cascades/pkg/util/log"
	"github.com/stretchr/testify/require"
)

const testCatalog = `
tables:
- name: t
  columns:
  - {name: a, type: int}
  - {name: b, type: string, nullable: true}
  rows: 1000
  stats: [{column: a, distinct: 100}]
- name: u
  columns: [{name: k, type: int}, {name: v, type: int}]
  rows: 10
`

func newTester(t *testing.T) *opttester.OptTester {
	tc := testcat.New()
	require.NoError(t, tc.ExecuteYAML(testCatalog))
	return opttester.New(tc)
}

func optimize(t *testing.T, src string) (*xform.Optimizer, *exec.Plan) {
	o, plan, err := newTester(t).Optimize(src)
	require.NoError(t, err)
	return o, plan
}

func TestEmit(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	_, plan := optimize(t, `(limit 10 (project [a] (select (> a 5) (scan t))))`)
	out := explain.Emit(plan, explain.Flags{})
	for _, s := range []string{
		"estimated cost: " + plan.Cost.String(),
		"• limit",
		"count: 10",
		"• distribute",
		"target: gather",
		"• scan",
		"table: t",
		"source: olap",
		"columns: (a)",
		"filter: a > 5",
		"limit: 10",
		"estimated row count: 10",
	} {
		require.Contains(t, out, s)
	}
	require.NotContains(t, out, "search timed out")
	require.True(t, strings.HasPrefix(out, "estimated cost: "), "%s", out)

	flags, err := explain.ParseFlags("hide-cost")
	require.NoError(t, err)
	out = explain.Emit(plan, flags)
	require.NotContains(t, out, "cost")
	require.Contains(t, out, "estimated row count")

	flags, err = explain.ParseFlags("shape")
	require.NoError(t, err)
	out = explain.Emit(plan, flags)
	require.NotContains(t, out, "estimated")
	require.Contains(t, out, "filter: a > ")
	require.NotContains(t, out, "a > 5")
	require.Contains(t, out, "count: _")

	flags, err = explain.ParseFlags("types", "deflake")
	require.NoError(t, err)
	out = explain.Emit(plan, flags)
	require.Contains(t, out, "columns: (a int)")
	require.Contains(t, out, "required: ")
	require.Contains(t, out, "provided: ")

	require.Empty(t, explain.Emit(nil, explain.Flags{}))
	require.Empty(t, explain.Emit(&exec.Plan{}, explain.Flags{}))
}

func TestEmitTimedOut(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	_, plan := optimize(t, `(scan t)`)
	plan.Timedout = true
	require.Contains(t, explain.Emit(plan, explain.Flags{}), "search timed out: best plan found so far")
}

func TestParseFlags(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	f, err := explain.ParseFlags("verbose", "hide-rows")
	require.NoError(t, err)
	require.True(t, f.Verbose)
	require.False(t, f.ShowTypes)
	require.True(t, f.Deflake.HasAny(explain.DeflakeRows))
	require.False(t, f.Deflake.HasAny(explain.DeflakeCost))

	f, err = explain.ParseFlags("shape")
	require.NoError(t, err)
	require.True(t, f.OnlyShape)
	require.Equal(t, explain.DeflakeAll, f.Deflake)

	_, err = explain.ParseFlags("shape", "verbose")
	require.ErrorContains(t, err, "shape cannot be combined")
	_, err = explain.ParseFlags("loud")
	require.ErrorContains(t, err, `unknown explain option "loud"`)
}

func TestGist(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	_, plan := optimize(t, `(limit 10 (project [a] (select (> a 5) (scan t))))`)
	gist := explain.Gist(plan)
	out, err := explain.DecodeGist(gist)
	require.NoError(t, err)
	require.Equal(t, "limit\n  distribute\n    scan t\n", out)

	// The gist only depends on the operators and the tables.
	_, other := optimize(t, `(limit 10 (project [a] (select (> a 7) (scan t))))`)
	require.Equal(t, gist, explain.Gist(other))
}

func TestDecodeGistErrors(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	enc := func(b ...byte) string { return base64.RawURLEncoding.EncodeToString(b) }
	for _, tc := range []struct {
		gist string
		err  string
	}{
		{gist: "!!", err: "decoding gist"},
		{gist: "", err: "truncated gist"},
		{gist: enc(byte(opt.PhysLimitOp), 1), err: "truncated gist"},
		{gist: enc(byte(opt.PhysScanOp), 0, 5, 't'), err: "truncated gist"},
		{gist: enc(0x7f, 0), err: "invalid operator 127 in gist"},
		{gist: enc(byte(opt.PhysValuesOp), 0, 5), err: "gist has 1 trailing bytes"},
	} {
		_, err := explain.DecodeGist(tc.gist)
		require.ErrorContains(t, err, tc.err, "%q", tc.gist)
	}

	out, err := explain.DecodeGist(enc(byte(opt.PhysScanOp), 0, 1, 'u'))
	require.NoError(t, err)
	require.Equal(t, "scan u\n", out)
}

func TestFingerprint(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	_, p1 := optimize(t, `(select (> a 5) (scan t))`)
	_, p2 := optimize(t, `(select (> a 5) (scan t))`)
	_, p3 := optimize(t, `(select (> a 7) (scan t))`)
	_, p4 := optimize(t, `(select (> k 7) (scan u))`)

	require.Equal(t, explain.Fingerprint(p1, false), explain.Fingerprint(p2, false))
	require.NotEqual(t, explain.Fingerprint(p1, false), explain.Fingerprint(p3, false))
	require.Equal(t, explain.Fingerprint(p1, true), explain.Fingerprint(p3, true))
	require.NotEqual(t, explain.Fingerprint(p1, true), explain.Fingerprint(p4, true))
}

func TestWriteRuleStats(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	stats := []xform.RuleStat{
		{Rule: opt.PushDownLimitScan, Kind: xform.TransformationRule, Attempts: 3, Bindings: 3, Outputs: 1, Changed: 1},
		{Rule: opt.PushDownPredicateScan, Kind: xform.TransformationRule, Attempts: 4, Bindings: 4, Outputs: 2, Changed: 2},
		{Rule: opt.ImplOlapScan, Kind: xform.ImplementationRule, Attempts: 5, Bindings: 5, Outputs: 5, Changed: 5},
	}
	var buf strings.Builder
	explain.WriteRuleStats(&buf, stats, 0)
	out := buf.String()
	require.Contains(t, out, "attempts")
	require.Contains(t, out, "implementation rules: 1 attempted 5 times, changed the memo 5 times, produced 5 expressions\n")
	require.Contains(t, out, "transformation rules: 2 attempted 7 times, changed the memo 3 times, produced 3 expressions\n")

	// The most active rules come first.
	impl := strings.Index(out, "ImplOlapScan")
	pred := strings.Index(out, "PushDownPredicateScan")
	limit := strings.Index(out, "PushDownLimitScan")
	require.True(t, impl < pred && pred < limit, "%s", out)
	require.Less(t, strings.Index(out, "implementation rules"), strings.Index(out, "transformation rules"))

	buf.Reset()
	explain.WriteRuleStats(&buf, stats, 1)
	out = buf.String()
	require.Contains(t, out, "ImplOlapScan")
	require.NotContains(t, out, "PushDownLimitScan")
	// Totals cover every rule, not only the listed ones.
	require.Contains(t, out, "transformation rules: 2 attempted")
}

func TestRuleStatsOfOptimization(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	o, _ := optimize(t, `(select (> a 5) (scan t))`)
	var buf strings.Builder
	explain.WriteRuleStats(&buf, o.RuleStats(), 0)
	require.Contains(t, buf.String(), "PushDownPredicateScan")
	require.Contains(t, buf.String(), "ImplOlapScan")
}
