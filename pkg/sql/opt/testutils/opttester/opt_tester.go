// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package opttester runs optimizer commands from datadriven test files.
package opttester

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/cascades/pkg/sql/opt"
	"github.com/cockroachdb/cascades/pkg/sql/opt/exec"
	"github.com/cockroachdb/cascades/pkg/sql/opt/exec/explain"
	"github.com/cockroachdb/cascades/pkg/sql/opt/memo"
	"github.com/cockroachdb/cascades/pkg/sql/opt/optbuilder"
	"github.com/cockroachdb/cascades/pkg/sql/opt/props/physical"
	"github.com/cockroachdb/cascades/pkg/sql/opt/testutils/testcat"
	"github.com/cockroachdb/cascades/pkg/sql/opt/xform"
	"github.com/cockroachdb/datadriven"
	"github.com/cockroachdb/errors"
)

// RuleSet efficiently stores an unordered set of rule names.
type RuleSet = map[opt.RuleName]struct{}

// OptTester is a helper for testing the optimizer.
type OptTester struct {
	Flags Flags

	catalog *testcat.Catalog
	ctx     context.Context

	// seenRules records the rules that changed the memo during the last
	// optimization.
	seenRules RuleSet
}

// Flags are control knobs for tests. Note that specific testcases can
// override these defaults.
type Flags struct {
	// Config is the optimizer configuration. Tests start from the default
	// configuration with invariant checks enabled.
	Config xform.Config

	// Explain controls the output of the opt command.
	Explain explain.Flags

	// MemoFormat controls the output of the memo command.
	MemoFormat memo.FmtFlags

	// Ordering is the ordering required of the result, as in "+a,-b".
	Ordering string

	// Distribution is the distribution required of the result. An empty
	// distribution uses the optimizer default.
	Distribution []string

	// TopK limits the rulestats output to the most active rules.
	TopK int

	// ExpectedRules is a set of rules which must be exercised for the test to
	// pass.
	ExpectedRules RuleSet

	// UnexpectedRules is a set of rules which must not be exercised for the
	// test to pass.
	UnexpectedRules RuleSet
}

// New constructs a new instance of the OptTester for the given catalog.
func New(catalog *testcat.Catalog) *OptTester {
	ot := &OptTester{catalog: catalog, ctx: context.Background()}
	ot.Flags.Config = xform.DefaultConfig()
	ot.Flags.Config.CheckInvariants = true
	return ot
}

// RunCommand implements commands that are used by most tests:
//
//   - catalog
//
//     Loads tables and materialized views from a YAML document.
//
//   - build [flags]
//
//     Builds the logical tree of a query and outputs it.
//
//   - opt [flags]
//
//     Optimizes a query and outputs the EXPLAIN form of the plan.
//
//   - plan [flags]
//
//     Optimizes a query and outputs the compact form of the plan.
//
//   - memo [flags]
//
//     Optimizes a query and outputs the memo.
//
//   - rulestats [flags]
//
//     Optimizes a query and outputs the activity of the rules.
//
//   - trace [flags]
//
//     Optimizes a query and outputs every rule that changed the memo, in the
//     order they fired.
//
//   - gist [flags]
//
//     Optimizes a query and outputs the decoded gist of the plan.
//
// Supported flags:
//
//   - single-node: plan for a single node, without distribution.
//   - nodes=N: the number of nodes the plan runs on.
//   - timeout=D: the optimization timeout, as a duration.
//   - max-firings=N, max-tasks=N, max-depth=N: search limits.
//   - cte-inline=N: the consumer count below which CTEs are inlined.
//   - broadcast-limit=N, nested-loop-limit=N: row limits for broadcast joins
//     and nested loop joins.
//   - no-cross-reorder: do not reorder cross joins.
//   - no-check: do not check the memo invariants.
//   - disable=(rule1,rule2): disables the given rules.
//   - priority=(rule1,rule2): fires the given rules before the others.
//   - ordering=(+a,-b): the ordering required of the result.
//   - distribution=gather|broadcast|random|any|(hash,a,b): the distribution
//     required of the result.
//   - format=(verbose,types,shape,hide-rows,hide-cost,deflake): explain
//     options.
//   - memo-format=(stats,winners,fired): memo options.
//   - top=N: the number of rules listed by rulestats.
//   - expect=(rule1,rule2): fails the test if the rules do not change the
//     memo.
//   - expect-not=(rule1,rule2): fails the test if the rules change the memo.
func (ot *OptTester) RunCommand(tb testing.TB, d *datadriven.TestData) string {
	// Allow testcases to override the flags.
	for _, a := range d.CmdArgs {
		if err := ot.Flags.Set(a); err != nil {
			d.Fatalf(tb, "%+v", err)
		}
	}

	switch d.Cmd {
	case "catalog":
		if err := ot.catalog.ExecuteYAML(d.Input); err != nil {
			d.Fatalf(tb, "%+v", err)
		}
		return strings.Join(ot.catalog.TableNames(), "\n") + "\n"

	case "build":
		md := &opt.Metadata{}
		e, _, err := ot.build(md, d.Input)
		if err != nil {
			return formatError(err)
		}
		var buf strings.Builder
		formatTree(&buf, e, md, 0)
		return buf.String()

	case "opt":
		_, plan, err := ot.Optimize(d.Input)
		if err != nil {
			return formatError(err)
		}
		ot.verifyRules(tb, d)
		return explain.Emit(plan, ot.Flags.Explain)

	case "plan":
		_, plan, err := ot.Optimize(d.Input)
		if err != nil {
			return formatError(err)
		}
		ot.verifyRules(tb, d)
		return plan.String()

	case "memo":
		o, _, err := ot.Optimize(d.Input)
		if err != nil {
			return formatError(err)
		}
		ot.verifyRules(tb, d)
		return o.FormatMemo(ot.Flags.MemoFormat)

	case "rulestats":
		o, _, err := ot.Optimize(d.Input)
		if err != nil {
			return formatError(err)
		}
		ot.verifyRules(tb, d)
		var buf strings.Builder
		explain.WriteRuleStats(&buf, o.RuleStats(), ot.Flags.TopK)
		return buf.String()

	case "trace":
		var buf strings.Builder
		_, _, err := ot.optimize(d.Input, func(name opt.RuleName, group memo.GroupID, added int) {
			fmt.Fprintf(&buf, "%s: %s +%d\n", name, group, added)
		})
		if err != nil {
			buf.WriteString(formatError(err))
		} else {
			ot.verifyRules(tb, d)
		}
		return buf.String()

	case "gist":
		_, plan, err := ot.Optimize(d.Input)
		if err != nil {
			return formatError(err)
		}
		ot.verifyRules(tb, d)
		out, err := explain.DecodeGist(explain.Gist(plan))
		if err != nil {
			d.Fatalf(tb, "%+v", err)
		}
		return out

	default:
		d.Fatalf(tb, "unsupported command: %s", d.Cmd)
		return ""
	}
}

// Set parses an argument that refers to a flag.
// See OptTester.RunCommand for supported flags.
func (f *Flags) Set(arg datadriven.CmdArg) error {
	atoi := func() (int, error) {
		if len(arg.Vals) != 1 {
			return 0, errors.Newf("%s requires one value", arg.Key)
		}
		return strconv.Atoi(arg.Vals[0])
	}
	var err error
	switch arg.Key {
	case "single-node":
		f.Config.SingleNode = true

	case "nodes":
		f.Config.NodeCount, err = atoi()

	case "timeout":
		if len(arg.Vals) != 1 {
			return errors.New("timeout requires one value")
		}
		f.Config.Timeout, err = time.ParseDuration(arg.Vals[0])

	case "max-firings":
		f.Config.MaxRuleFiringsPerGroup, err = atoi()

	case "max-tasks":
		f.Config.MaxTasks, err = atoi()

	case "max-depth":
		f.Config.MaxWorklistDepth, err = atoi()

	case "cte-inline":
		f.Config.CTEInlineThreshold, err = atoi()

	case "broadcast-limit":
		var n int
		n, err = atoi()
		f.Config.BroadcastRowLimit = float64(n)

	case "nested-loop-limit":
		var n int
		n, err = atoi()
		f.Config.NestedLoopRowLimit = float64(n)

	case "no-cross-reorder":
		f.Config.ReorderCrossJoins = false

	case "no-check":
		f.Config.CheckInvariants = false

	case "disable":
		if _, err := parseRules(arg.Vals); err != nil {
			return err
		}
		f.Config.DisabledRules = append(f.Config.DisabledRules, arg.Vals...)

	case "priority":
		if _, err := parseRules(arg.Vals); err != nil {
			return err
		}
		f.Config.RulePriority = append([]string(nil), arg.Vals...)

	case "ordering":
		f.Ordering = strings.Join(arg.Vals, ",")

	case "distribution":
		if len(arg.Vals) == 0 {
			return errors.New("distribution requires a value")
		}
		f.Distribution = append([]string(nil), arg.Vals...)

	case "format":
		f.Explain, err = explain.ParseFlags(arg.Vals...)

	case "memo-format":
		f.MemoFormat = 0
		for _, v := range arg.Vals {
			switch v {
			case "stats":
				f.MemoFormat |= memo.FmtStats
			case "winners":
				f.MemoFormat |= memo.FmtWinners
			case "fired":
				f.MemoFormat |= memo.FmtFired
			default:
				return errors.Newf("unknown memo format %q", v)
			}
		}

	case "top":
		f.TopK, err = atoi()

	case "expect":
		f.ExpectedRules, err = parseRules(arg.Vals)

	case "expect-not":
		f.UnexpectedRules, err = parseRules(arg.Vals)

	default:
		return errors.Newf("unknown argument: %s", arg.Key)
	}
	return err
}

func parseRules(names []string) (RuleSet, error) {
	rules := make(RuleSet, len(names))
	for _, name := range names {
		r, ok := opt.RuleNameByString(name)
		if !ok {
			return nil, errors.Newf("unknown rule %q", name)
		}
		rules[r] = struct{}{}
	}
	return rules, nil
}

// Optimize builds the query and returns its best plan, along with the
// optimizer so its memo and rule activity can be inspected.
func (ot *OptTester) Optimize(src string) (*xform.Optimizer, *exec.Plan, error) {
	return ot.optimize(src, nil)
}

func (ot *OptTester) optimize(
	src string, applied xform.AppliedRuleFunc,
) (*xform.Optimizer, *exec.Plan, error) {
	md := &opt.Metadata{}
	root, b, err := ot.build(md, src)
	if err != nil {
		return nil, nil, err
	}
	required, err := ot.required(b)
	if err != nil {
		return nil, nil, err
	}
	snap, err := ot.catalog.Snapshot(ot.ctx)
	if err != nil {
		return nil, nil, err
	}

	o := xform.NewOptimizer(snap, md, ot.Flags.Config)
	ot.seenRules = make(RuleSet)
	o.NotifyOnAppliedRule(func(name opt.RuleName, group memo.GroupID, added int) {
		ot.seenRules[name] = struct{}{}
		if applied != nil {
			applied(name, group, added)
		}
	})
	plan, err := o.Optimize(ot.ctx, root, required)
	if err != nil {
		return o, nil, err
	}
	return o, plan, nil
}

// build builds the logical tree of src. The builder is returned to resolve
// the columns named by the required properties.
func (ot *OptTester) build(
	md *opt.Metadata, src string,
) (*memo.Expr, *optbuilder.Builder, error) {
	snap, err := ot.catalog.Snapshot(ot.ctx)
	if err != nil {
		return nil, nil, err
	}
	b := optbuilder.New(snap, md)
	e, err := b.Build(src)
	if err != nil {
		return nil, nil, err
	}
	return e, b, nil
}

// required returns the properties required of the root, or nil for the
// optimizer default.
func (ot *OptTester) required(b *optbuilder.Builder) (*physical.Required, error) {
	if ot.Flags.Ordering == "" && len(ot.Flags.Distribution) == 0 {
		return nil, nil
	}
	r := &physical.Required{Distribution: physical.SingletonDist}
	if ot.Flags.Config.SingleNode {
		r.Distribution = physical.AnyDist
	}
	if ot.Flags.Ordering != "" {
		ord, err := b.ParseOrdering(ot.Flags.Ordering)
		if err != nil {
			return nil, err
		}
		r.Ordering = ord
	}
	if len(ot.Flags.Distribution) > 0 {
		dist, err := parseDistribution(b, ot.Flags.Distribution)
		if err != nil {
			return nil, err
		}
		r.Distribution = dist
	}
	return r, nil
}

func parseDistribution(b *optbuilder.Builder, vals []string) (physical.Distribution, error) {
	switch vals[0] {
	case "any":
		return physical.AnyDist, nil
	case "gather":
		return physical.SingletonDist, nil
	case "broadcast":
		return physical.BroadcastDist, nil
	case "random":
		return physical.RandomDist, nil
	case "hash":
		if len(vals) < 2 {
			return physical.Distribution{}, errors.New("hash distribution requires columns")
		}
		cols := make([]opt.ColumnID, len(vals)-1)
		for i, name := range vals[1:] {
			col, err := b.ResolveColumn(name)
			if err != nil {
				return physical.Distribution{}, err
			}
			cols[i] = col
		}
		return physical.HashDist(cols...), nil
	}
	return physical.Distribution{}, errors.Newf("unknown distribution %q", vals[0])
}

// verifyRules fails the test if an expected rule did not change the memo,
// or an unexpected one did.
func (ot *OptTester) verifyRules(tb testing.TB, d *datadriven.TestData) {
	var missing, unexpected []string
	for r := range ot.Flags.ExpectedRules {
		if _, ok := ot.seenRules[r]; !ok {
			missing = append(missing, r.String())
		}
	}
	for r := range ot.Flags.UnexpectedRules {
		if _, ok := ot.seenRules[r]; ok {
			unexpected = append(unexpected, r.String())
		}
	}
	sort.Strings(missing)
	sort.Strings(unexpected)
	if len(missing) > 0 {
		d.Fatalf(tb, "expected to see rules %s", strings.Join(missing, ", "))
	}
	if len(unexpected) > 0 {
		d.Fatalf(tb, "expected not to see rules %s", strings.Join(unexpected, ", "))
	}
}

// formatError prints an optimizer error with its kind so that test files
// can tell the failures apart.
func formatError(err error) string {
	kind := "internal"
	switch {
	case errors.Is(err, opt.ErrResourceLimitExceeded):
		kind = "resource limit"
	case errors.Is(err, opt.ErrPlanNotFound):
		kind = "plan not found"
	case errors.Is(err, opt.ErrTimeout):
		kind = "timeout"
	case !opt.IsInternalInconsistency(err):
		kind = "query"
	}
	return fmt.Sprintf("error (%s): %s\n", kind, err)
}

// formatTree writes a logical tree with one operator per line.
func formatTree(buf *strings.Builder, e *memo.Expr, md *opt.Metadata, depth int) {
	buf.WriteString(strings.Repeat("  ", depth))
	if e.IsGroupRef() {
		buf.WriteString(e.Group.String())
		buf.WriteByte('\n')
		return
	}
	buf.WriteString(e.Op.String())
	if p := memo.FormatPrivate(e.Private, md); p != "" {
		buf.WriteByte(' ')
		buf.WriteString(p)
	}
	buf.WriteByte('\n')
	for _, c := range e.Children {
		formatTree(buf, c, md, depth+1)
	}
}
