// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cockroachdb/cascades/pkg/sql/opt"
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
`

func writeFile(t *testing.T, dir, name, content string) string {
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestCommands(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	dir := t.TempDir()
	catalog := writeFile(t, dir, "catalog.yaml", testCatalog)
	query := writeFile(t, dir, "q1.sexpr", `(limit 10 (select (> a 5) (scan t)))`)
	other := writeFile(t, dir, "q2.sexpr", `(scan t [b])`)
	broken := writeFile(t, dir, "q3.sexpr", `(scan nope)`)

	out, err := run(t, "plan", "--catalog", catalog, query)
	require.NoError(t, err)
	require.Contains(t, out, "• limit")
	require.Contains(t, out, "filter: a > 5")
	require.Contains(t, out, "optimized in ")

	out, err = run(t, "plan", "--catalog", catalog, "--format", "hide-cost", "--ordering=-a", query)
	require.NoError(t, err)
	require.NotContains(t, out, "estimated cost")
	require.Contains(t, out, "• sort")
	ordering, explainOptions = "", nil

	out, err = run(t, "memo", "--catalog", catalog, "--stats", other)
	require.NoError(t, err)
	require.NotEmpty(t, out)

	out, err = run(t, "gist", "--catalog", catalog, other)
	require.NoError(t, err)
	gist := strings.SplitN(out, "\n", 2)[0]
	require.Contains(t, out, "fingerprint: ")
	out, err = run(t, "gist", gist)
	require.NoError(t, err)
	require.Equal(t, "distribute\n  scan t\n", out)

	out, err = run(t, "rules", "--catalog", catalog, "--top", "3", query)
	require.NoError(t, err)
	require.Contains(t, out, "transformation rules: ")

	_, err = run(t, "batch", "--catalog", catalog, "--concurrency", "2", query, other, broken)
	require.ErrorContains(t, err, `table "nope" does not exist`)

	out, err = run(t, "batch", "--catalog", catalog, query, other)
	require.NoError(t, err)
	require.Contains(t, out, "q1.sexpr")
	require.Contains(t, out, "2 queries in ")
	require.Contains(t, out, "0 failed")
}

func TestCommandErrors(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	dir := t.TempDir()
	catalog := writeFile(t, dir, "catalog.yaml", testCatalog)
	query := writeFile(t, dir, "q.sexpr", `(scan t)`)
	badConfig := writeFile(t, dir, "config.yaml", `max_tasks: 0`)

	_, err := run(t, "plan", "--catalog", "", query)
	require.ErrorContains(t, err, "no catalog")

	_, err = run(t, "plan", "--catalog", catalog, "--config", badConfig, query)
	require.ErrorContains(t, err, "max_tasks must be positive")

	_, err = run(t, "plan", "--catalog", catalog, "--config", "", "--ordering", "c", query)
	require.ErrorContains(t, err, `column "c" does not exist`)
	ordering = ""

	_, err = run(t, "plan", "--catalog", catalog, filepath.Join(dir, "missing"))
	require.ErrorContains(t, err, "reading ")
}

func TestWriteRules(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	cfg := xform.DefaultConfig()
	cfg.DisabledRules = []string{"JoinCommutativity"}
	cfg.RulePriority = []string{"PushDownLimitScan"}
	var buf bytes.Buffer
	writeRules(&buf, xform.DefaultCatalog(), &cfg)
	out := buf.String()
	require.Contains(t, out, "JoinCommutativity")
	require.Contains(t, out, "disabled")
	require.Contains(t, out, "priority 1")
	require.Contains(t, out, "(Limit Scan)")

	require.Equal(t, "Scan", formatPattern(xform.Match(opt.ScanOp)))
	require.Equal(t, "(Select *)", formatPattern(xform.Match(opt.SelectOp, xform.Leaf)))
	require.Equal(t, "(Join (Join * *) *)", formatPattern(
		xform.Match(opt.JoinOp, xform.Match(opt.JoinOp, xform.Leaf, xform.Leaf), xform.Leaf)))
}
