// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package xform_test

import (
	"context"
	"slices"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/cascades/pkg/sql/opt"
	"github.com/cockroachdb/cascades/pkg/sql/opt/exec"
	"github.com/cockroachdb/cascades/pkg/sql/opt/memo"
	"github.com/cockroachdb/cascades/pkg/sql/opt/optbuilder"
	"github.com/cockroachdb/cascades/pkg/sql/opt/props/physical"
	"github.com/cockroachdb/cascades/pkg/sql/opt/testutils/opttester"
	"github.com/cockroachdb/cascades/pkg/sql/opt/testutils/testcat"
	"github.com/cockroachdb/cascades/pkg/sql/opt/xform"
	"github.com/cockroachdb/cascades/pkg/sql/types"
	"github.com/cockroachdb/cascades/pkg/util/leaktest"
	"github.com/cockroachdb/cascades/pkg/util/log"
	"github.com/cockroachdb/datadriven"
	"github.com/cockroachdb/errors"
	"github.com/google/go-cmp/cmp"
	"github.com/kr/pretty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
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
- name: a
  columns: [{name: ak, type: int}]
  rows: 10
  stats: [{column: ak, distinct: 10}]
- name: b
  columns: [{name: bk, type: int}]
  rows: 1000
  stats: [{column: bk, distinct: 10}]
- name: c
  columns: [{name: ck, type: int}]
  rows: 10
  stats: [{column: ck, distinct: 10}]
`

const (
	threeWayJoin = `
(join inner (= bk ck)
  (join inner (= ak bk) (scan a) (scan b))
  (scan c))`

	limitQuery = `(limit 10 (project [a] (select (> a 5) (scan t))))`
)

// TestOptimizer files can be run separately like this:
//
//	go test ./pkg/sql/opt/xform -run TestOptimizer/limit
func TestOptimizer(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)
	datadriven.Walk(t, "testdata", func(t *testing.T, path string) {
		catalog := testcat.New()
		datadriven.RunTest(t, path, func(t *testing.T, d *datadriven.TestData) string {
			tester := opttester.New(catalog)
			return tester.RunCommand(t, d)
		})
	})
}

type query struct {
	md   *opt.Metadata
	root *memo.Expr
	cols opt.ColList
	o    *xform.Optimizer
}

func newCatalog(t *testing.T) *testcat.Catalog {
	tc := testcat.New()
	require.NoError(t, tc.ExecuteYAML(testCatalog))
	return tc
}

// prepare builds the query and returns an optimizer for it.
func prepare(t *testing.T, tc *testcat.Catalog, cfg xform.Config, src string) *query {
	snap, err := tc.Snapshot(context.Background())
	require.NoError(t, err)
	q := &query{md: &opt.Metadata{}}
	b := optbuilder.New(snap, q.md)
	q.root, err = b.Build(src)
	require.NoError(t, err)
	q.cols = b.OutputColumns()
	q.o = xform.NewOptimizer(snap, q.md, cfg)
	return q
}

func testConfig() xform.Config {
	cfg := xform.DefaultConfig()
	cfg.CheckInvariants = true
	return cfg
}

func singleNodeConfig() xform.Config {
	cfg := testConfig()
	cfg.SingleNode = true
	return cfg
}

// joinTree describes the joins and scans of the plan, skipping the
// operators in between: "((a c) b)".
func joinTree(plan *exec.Plan, n *exec.Node) string {
	switch {
	case n.Op == opt.PhysScanOp:
		return plan.Metadata.Table(n.Private.(*memo.ScanPrivate).Table).Name()
	case n.Op.IsJoin():
		return "(" + joinTree(plan, n.Children[0]) + " " + joinTree(plan, n.Children[1]) + ")"
	case len(n.Children) == 1:
		return joinTree(plan, n.Children[0])
	}
	return n.Op.String()
}

func TestJoinOrder(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	tc := newCatalog(t)
	q := prepare(t, tc, singleNodeConfig(), threeWayJoin)
	plan, err := q.o.Optimize(context.Background(), q.root, nil)
	require.NoError(t, err)

	// The small tables are joined first, and the large table last.
	require.Contains(t, []string{"((a c) b)", "((c a) b)", "(b (a c))", "(b (c a))"},
		joinTree(plan, plan.Root), "plan:\n%s", plan)
	require.Equal(t, q.cols, plan.Root.OutputCols)
	require.False(t, plan.Timedout)
}

// TestWinnerIsCheapest checks that the search does not return a plan more
// expensive than one it finds with fewer alternatives to choose from.
func TestWinnerIsCheapest(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	tc := newCatalog(t)
	full := prepare(t, tc, singleNodeConfig(), threeWayJoin)
	best, err := full.o.Optimize(context.Background(), full.root, nil)
	require.NoError(t, err)

	for _, disabled := range [][]string{
		{"JoinLeftAsscom"},
		{"JoinAssociativity", "JoinLeftAsscom"},
		{"JoinCommutativity", "JoinAssociativity", "JoinLeftAsscom"},
		{"ImplHashJoin"},
		{"ImplHashJoin", "ImplMergeJoin"},
	} {
		cfg := singleNodeConfig()
		cfg.DisabledRules = disabled
		q := prepare(t, tc, cfg, threeWayJoin)
		plan, err := q.o.Optimize(context.Background(), q.root, nil)
		require.NoError(t, err, "disabled %v", disabled)
		require.False(t, plan.Cost.Less(best.Cost),
			"disabled %v: found %s cheaper than %s\n%s", disabled, plan.Cost, best.Cost, plan)
	}

	// Without reordering the joins keep the order of the query.
	cfg := singleNodeConfig()
	cfg.DisabledRules = []string{"JoinCommutativity", "JoinAssociativity", "JoinLeftAsscom"}
	q := prepare(t, tc, cfg, threeWayJoin)
	plan, err := q.o.Optimize(context.Background(), q.root, nil)
	require.NoError(t, err)
	require.Equal(t, "((a b) c)", joinTree(plan, plan.Root))
	require.True(t, best.Cost.Less(plan.Cost))
}

func TestWinnersRecorded(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	tc := newCatalog(t)
	q := prepare(t, tc, testConfig(), threeWayJoin)
	plan, err := q.o.Optimize(context.Background(), q.root, nil)
	require.NoError(t, err)

	m := q.o.Memo()
	require.NoError(t, m.CheckInvariants())
	root := m.BestWinner(m.Root(), m.RootRequired())
	require.NotNil(t, root)
	require.Equal(t, plan.Cost, root.Cost)
	require.NotEmpty(t, m.Winners(m.Root()))

	// Every node of the plan is the winner of its group under the properties
	// its parent required.
	plan.Walk(func(n *exec.Node) bool {
		w := m.BestWinner(n.Group, n.Required)
		require.NotNil(t, w, "group %s", n.Group)
		require.Equal(t, n.Cost, w.Cost, "group %s", n.Group)
		require.True(t, n.Provided.Satisfies(n.Required), "group %s", n.Group)
		return true
	})
	for _, e := range plan.Edges() {
		require.False(t, e.Parent.Cost.Less(e.Child.Cost),
			"%s costs less than its input %s", e.Parent.Op, e.Child.Op)
	}
}

func TestLimitPushdown(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	tc := newCatalog(t)
	q := prepare(t, tc, testConfig(), limitQuery)
	plan, err := q.o.Optimize(context.Background(), q.root, nil)
	require.NoError(t, err)

	if diff := cmp.Diff(
		[]opt.Operator{opt.PhysLimitOp, opt.DistributeOp, opt.PhysScanOp}, plan.Operators(),
	); diff != "" {
		t.Fatalf("unexpected operators (-want +got):\n%s\n%s", diff, plan)
	}

	limit := plan.Root.Private.(*memo.LimitPrivate)
	require.Equal(t, int64(10), limit.Limit)

	dist := plan.Find(opt.DistributeOp)
	require.True(t, dist.Private.(*memo.DistributePrivate).Target.Equals(physical.SingletonDist))

	scan := plan.Find(opt.PhysScanOp).Private.(*memo.ScanPrivate)
	require.Equal(t, int64(10), scan.Limit)
	require.Equal(t, "a > 5", opt.FormatScalar(scan.Filter, plan.Metadata))
	require.Len(t, scan.Cols, 1)
	require.Equal(t, "a", plan.Metadata.ColumnMeta(scan.Cols[0]).Alias)
	require.Equal(t, q.cols, plan.Root.OutputCols)

	// A single node needs no distribute enforcer.
	q = prepare(t, tc, singleNodeConfig(), limitQuery)
	plan, err = q.o.Optimize(context.Background(), q.root, nil)
	require.NoError(t, err)
	require.Equal(t, []opt.Operator{opt.PhysLimitOp, opt.PhysScanOp}, plan.Operators())
}

// nodeColumns returns the columns the operator of the node produces, in the
// order it produces them.
func nodeColumns(n *exec.Node) opt.ColList {
	switch p := n.Private.(type) {
	case *memo.ScanPrivate:
		return p.Cols
	case *memo.ProjectPrivate:
		return p.OutputCols()
	case *memo.AggregatePrivate:
		return p.OutputCols()
	case *memo.SetOpPrivate:
		return p.OutCols
	case *memo.PhysJoinPrivate:
		cols := append(opt.ColList(nil), n.Children[0].OutputCols...)
		if p.Type.OutputsRight() {
			cols = append(cols, n.Children[1].OutputCols...)
		}
		return cols
	}
	return n.Children[0].OutputCols
}

func TestOutputColumns(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	tc := newCatalog(t)
	for _, src := range []string{
		`(scan t)`,
		`(scan t [b a])`,
		limitQuery,
		threeWayJoin,
		`(join inner (= ak bk) (scan a) (scan b))`,
		`(join inner (= ak bk) (scan b) (scan a))`,
		`(project [b (as (+ a 1) a1)] (select (> a 5) (scan t)))`,
		`(agg [b] [(as (sum a) total) (as (count_rows) cnt)] (scan t))`,
		`(sort [-a] (scan t))`,
		`(union (scan a) (scan c))`,
	} {
		for _, cfg := range []xform.Config{testConfig(), singleNodeConfig()} {
			q := prepare(t, tc, cfg, src)
			plan, err := q.o.Optimize(context.Background(), q.root, nil)
			require.NoError(t, err, "%s", src)
			require.Equal(t, q.cols, plan.Root.OutputCols, "%s\n%s", src, plan)
			plan.Walk(func(n *exec.Node) bool {
				require.Equal(t, nodeColumns(n), n.OutputCols, "%s: %s\n%s", src, n.Op, plan)
				return true
			})
		}
	}
}

// TestCommutedJoinColumns checks that a plan whose join inputs are swapped
// restores the column order of the query with a projection.
func TestCommutedJoinColumns(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	tc := newCatalog(t)
	for _, src := range []string{
		`(join inner (= ak bk) (scan a) (scan b))`,
		`(join inner (= ak bk) (scan b) (scan a))`,
	} {
		for _, cfg := range []xform.Config{testConfig(), singleNodeConfig()} {
			q := prepare(t, tc, cfg, src)
			plan, err := q.o.Optimize(context.Background(), q.root, nil)
			require.NoError(t, err)

			join := plan.Find(opt.HashJoinOp)
			if join == nil {
				join = plan.Find(opt.MergeJoinOp)
			}
			if join == nil {
				join = plan.Find(opt.NestedLoopJoinOp)
			}
			require.NotNil(t, join, "plan:\n%s", plan)
			commuted := !join.OutputCols.Equals(q.cols)
			require.Equal(t, commuted, plan.Root.Op == opt.PhysProjectOp, "%s\n%s", src, plan)
			require.Equal(t, q.cols, plan.Root.OutputCols)

			// The same joins with the rules that swap inputs disabled never
			// need the projection.
			cfg.DisabledRules = []string{"JoinCommutativity"}
			q = prepare(t, tc, cfg, src)
			plan, err = q.o.Optimize(context.Background(), q.root, nil)
			require.NoError(t, err)
			require.NotEqual(t, opt.PhysProjectOp, plan.Root.Op, "%s\n%s", src, plan)
		}
	}
}

func TestRequiredOrdering(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	tc := newCatalog(t)
	q := prepare(t, tc, testConfig(), `(scan t)`)
	ord := opt.Ordering{opt.MakeOrderingColumn(q.cols[0], true)}
	required := &physical.Required{Distribution: physical.SingletonDist, Ordering: ord}
	plan, err := q.o.Optimize(context.Background(), q.root, required)
	require.NoError(t, err)
	require.True(t, plan.Root.Provided.Satisfies(required), "plan:\n%s", plan)
	require.NotNil(t, plan.Find(opt.PhysSortOp), "plan:\n%s", plan)

	// An ordering on a column the query does not return is rejected.
	q = prepare(t, tc, testConfig(), `(scan t [b])`)
	other := q.md.TableColumns(q.md.AllTables()[0].MetaID)[0]
	required = &physical.Required{Ordering: opt.Ordering{opt.MakeOrderingColumn(other, false)}}
	_, err = q.o.Optimize(context.Background(), q.root, required)
	require.Error(t, err)
	require.True(t, opt.IsInternalInconsistency(err), "%+v", err)
}

// growLimit returns a rule that replaces a limit by a larger one over the
// same input. Two such rules never stop rewriting each other's output.
func growLimit(name opt.RuleName, step int64) *xform.Rule {
	return &xform.Rule{
		Name:    name,
		Kind:    xform.TransformationRule,
		Pattern: xform.Match(opt.LimitOp),
		Apply: func(c *xform.RuleContext, e *memo.Expr) []*memo.Expr {
			p := e.Private.(*memo.LimitPrivate)
			return []*memo.Expr{
				memo.NewExpr(opt.LimitOp, &memo.LimitPrivate{Limit: p.Limit + step}, e.Child(0)),
			}
		},
	}
}

func implementationRules() []*xform.Rule {
	var rules []*xform.Rule
	for _, r := range xform.DefaultCatalog().Rules() {
		if r.Kind == xform.ImplementationRule {
			rules = append(rules, r)
		}
	}
	return rules
}

func TestRunawayRules(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	tc := newCatalog(t)
	rules := append([]*xform.Rule{
		growLimit(opt.MergeLimitWithLimit, 1),
		growLimit(opt.EliminateLimitZero, 2),
	}, implementationRules()...)
	catalog := xform.NewRuleCatalog(rules...)

	cfg := testConfig()
	cfg.MaxRuleFiringsPerGroup = 50
	q := prepare(t, tc, cfg, `(limit 10 (scan t))`)
	q.o.SetCatalog(catalog)
	metrics := xform.NewMetrics()
	q.o.SetMetrics(metrics)

	plan, err := q.o.Optimize(context.Background(), q.root, nil)
	require.Nil(t, plan)
	require.Error(t, err)
	require.True(t, errors.Is(err, opt.ErrResourceLimitExceeded), "%+v", err)
	require.False(t, opt.IsInternalInconsistency(err))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.Optimizations.WithLabelValues("resource-limit")))

	// A single growing rule runs away too, whatever the bound.
	cfg.DisabledRules = []string{"EliminateLimitZero"}
	cfg.MaxRuleFiringsPerGroup = 1000
	q = prepare(t, tc, cfg, `(limit 10 (scan t))`)
	q.o.SetCatalog(catalog)
	_, err = q.o.Optimize(context.Background(), q.root, nil)
	require.True(t, errors.Is(err, opt.ErrResourceLimitExceeded), "%+v", err)
}

// swapFilters returns a rule that exchanges two stacked filters.
func swapFilters(name opt.RuleName) *xform.Rule {
	return &xform.Rule{
		Name:    name,
		Kind:    xform.TransformationRule,
		Pattern: xform.Match(opt.SelectOp, xform.Match(opt.SelectOp)),
		Apply: func(c *xform.RuleContext, e *memo.Expr) []*memo.Expr {
			inner := e.Child(0)
			return []*memo.Expr{
				memo.NewExpr(opt.SelectOp, inner.Private,
					memo.NewExpr(opt.SelectOp, e.Private, inner.Child(0))),
			}
		},
	}
}

// TestExploreAfterMerge builds a union of the same two filters stacked in
// both orders. Swapping the filters of the first input reproduces the
// second input and merges the two groups. The members brought in by the
// merge must still be explored.
func TestExploreAfterMerge(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	tc := newCatalog(t)
	rules := append([]*xform.Rule{swapFilters(opt.MergeTwoFilters)}, implementationRules()...)
	catalog := xform.NewRuleCatalog(rules...)
	swap, ok := catalog.Lookup(opt.MergeTwoFilters)
	require.True(t, ok)

	q := prepare(t, tc, testConfig(), `(scan t)`)
	q.o.SetCatalog(catalog)
	cols := q.md.TableColumns(q.md.AllTables()[0].MetaID)
	gt := func(v int64) *memo.SelectPrivate {
		return &memo.SelectPrivate{Filter: &opt.Comparison{
			Op: opt.GtOp, Left: opt.NewVariable(cols[0]), Right: opt.NewIntConst(v),
		}}
	}
	first := memo.NewExpr(opt.SelectOp, gt(5), memo.NewExpr(opt.SelectOp, gt(6), q.root))
	second := memo.NewExpr(opt.SelectOp, gt(6), memo.NewExpr(opt.SelectOp, gt(5), q.root))
	out := opt.ColList{q.md.AddColumn("u", types.Int), q.md.AddColumn("v", types.String)}
	root := memo.NewExpr(opt.UnionOp, &memo.SetOpPrivate{
		All: true, OutCols: out, InCols: []opt.ColList{cols, cols},
	}, first, second)

	plan, err := q.o.Optimize(context.Background(), root, nil)
	require.NoError(t, err)
	require.NotNil(t, plan)

	m := q.o.Memo()
	require.Positive(t, m.MergeCount())
	stacked := 0
	for id := memo.GroupExprID(1); id <= m.LastExprID(); id++ {
		e := m.Expr(id)
		if e.Dead() || e.Op() != opt.SelectOp {
			continue
		}
		child := m.Group(m.Find(e.Child(0))).Exprs()
		if m.Expr(child[0]).Op() != opt.SelectOp {
			continue
		}
		stacked++
		require.True(t, m.HasFired(id, swap), "e%d in %s was not explored", id, m.ExprGroup(id))
	}
	require.Equal(t, 2, stacked)
}

func TestTaskLimits(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	tc := newCatalog(t)
	cfg := testConfig()
	cfg.MaxTasks = 10
	q := prepare(t, tc, cfg, threeWayJoin)
	_, err := q.o.Optimize(context.Background(), q.root, nil)
	require.True(t, errors.Is(err, opt.ErrResourceLimitExceeded), "%+v", err)

	cfg = testConfig()
	cfg.MaxWorklistDepth = 2
	q = prepare(t, tc, cfg, threeWayJoin)
	_, err = q.o.Optimize(context.Background(), q.root, nil)
	require.True(t, errors.Is(err, opt.ErrResourceLimitExceeded), "%+v", err)
}

func TestTimeout(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	tc := newCatalog(t)

	t.Run("canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		q := prepare(t, tc, testConfig(), threeWayJoin)
		var tasks int
		q.o.SetTestingKnobs(xform.TestingKnobs{
			BeforeTask: func(kind xform.TaskKind) {
				tasks++
				cancel()
			},
		})
		plan, err := q.o.Optimize(ctx, q.root, nil)
		require.Nil(t, plan)
		require.True(t, errors.Is(err, opt.ErrTimeout), "%+v", err)
		require.Equal(t, 1, tasks)
	})

	t.Run("deadline", func(t *testing.T) {
		cfg := testConfig()
		cfg.Timeout = time.Nanosecond
		q := prepare(t, tc, cfg, threeWayJoin)
		metrics := xform.NewMetrics()
		q.o.SetMetrics(metrics)
		_, err := q.o.Optimize(context.Background(), q.root, nil)
		require.True(t, errors.Is(err, opt.ErrTimeout), "%+v", err)
		require.Equal(t, 1.0, testutil.ToFloat64(metrics.Optimizations.WithLabelValues("timeout")))
	})

	t.Run("context deadline", func(t *testing.T) {
		ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
		defer cancel()
		q := prepare(t, tc, testConfig(), threeWayJoin)
		_, err := q.o.Optimize(ctx, q.root, nil)
		require.True(t, errors.Is(err, opt.ErrTimeout), "%+v", err)
	})
}

// TestTimeoutPartialPlan stops the search as soon as the root has a plan,
// and expects that plan back instead of an error.
func TestTimeoutPartialPlan(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	tc := newCatalog(t)
	full := prepare(t, tc, testConfig(), threeWayJoin)
	_, err := full.o.Optimize(context.Background(), full.root, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := prepare(t, tc, testConfig(), threeWayJoin)
	metrics := xform.NewMetrics()
	q.o.SetMetrics(metrics)
	canceledAt := 0
	q.o.SetTestingKnobs(xform.TestingKnobs{
		BeforeTask: func(kind xform.TaskKind) {
			m := q.o.Memo()
			if canceledAt == 0 && m.BestWinner(m.Root(), m.RootRequired()) != nil {
				canceledAt = q.o.TaskCount()
				cancel()
			}
		},
	})
	plan, err := q.o.Optimize(ctx, q.root, nil)
	require.NoError(t, err)
	require.NotNil(t, plan)
	require.True(t, plan.Timedout)
	require.NotZero(t, canceledAt)
	require.Equal(t, canceledAt, q.o.TaskCount())
	require.Less(t, q.o.TaskCount(), full.o.TaskCount())
	require.Equal(t, q.cols, plan.Root.OutputCols)
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.Optimizations.WithLabelValues("timeout-partial")))
}

// joinInputs describes each logical join in the group by the tables of its
// inputs: "a,b|c".
func joinInputs(q *query, g memo.GroupID) []string {
	m := q.o.Memo()
	tables := func(g memo.GroupID) string {
		var names []string
		for _, col := range m.Group(g).OutputCols() {
			tab := q.md.ColumnMeta(col).Table
			if name := q.md.TableMeta(tab).Alias; !slices.Contains(names, name) {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		return strings.Join(names, ",")
	}
	var res []string
	for _, id := range m.Group(g).Exprs() {
		e := m.Expr(id)
		if e.Dead() || e.Op() != opt.JoinOp {
			continue
		}
		res = append(res, tables(e.Child(0))+"|"+tables(e.Child(1)))
	}
	return res
}

func TestJoinExploration(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	tc := newCatalog(t)
	q := prepare(t, tc, singleNodeConfig(), threeWayJoin)
	_, err := q.o.Optimize(context.Background(), q.root, nil)
	require.NoError(t, err)

	// The root group holds both left-deep orders and the bushy one, each
	// with its inputs commuted.
	members := joinInputs(q, q.o.Memo().Root())
	for _, want := range []string{"a,b|c", "c|a,b", "a,c|b", "b|a,c", "a|b,c", "b,c|a"} {
		require.Contains(t, members, want)
	}

	// Without cross joins, a and c are never joined first.
	cfg := singleNodeConfig()
	cfg.ReorderCrossJoins = false
	q = prepare(t, tc, cfg, threeWayJoin)
	_, err = q.o.Optimize(context.Background(), q.root, nil)
	require.NoError(t, err)
	members = joinInputs(q, q.o.Memo().Root())
	require.Contains(t, members, "a,b|c")
	require.Contains(t, members, "a|b,c")
	require.NotContains(t, members, "a,c|b")
	require.NotContains(t, members, "b|a,c")
}

// TestDeterminism runs the same search several times under several rule
// priorities. Each priority always gives the same memo and plan, and all of
// them find the same cost.
func TestDeterminism(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	tc := newCatalog(t)
	var best memo.Cost
	for i, priority := range [][]string{
		nil,
		{"JoinLeftAsscom", "JoinAssociativity"},
		{"JoinCommutativity", "ImplNestLoopJoin"},
	} {
		var plans, memos []string
		for run := 0; run < 3; run++ {
			cfg := testConfig()
			cfg.RulePriority = priority
			q := prepare(t, tc, cfg, threeWayJoin)
			plan, err := q.o.Optimize(context.Background(), q.root, nil)
			require.NoError(t, err)
			plans = append(plans, plan.String())
			memos = append(memos, q.o.FormatMemo(memo.FmtWinners))
			if i == 0 && run == 0 {
				best = plan.Cost
			}
			require.Equal(t, best.Flags, plan.Cost.Flags, "priority %v", priority)
			require.InEpsilon(t, best.C, plan.Cost.C, 1e-9, "priority %v", priority)
		}
		for run := 1; run < len(plans); run++ {
			require.Equal(t, plans[0], plans[run], "priority %v", priority)
			require.Equal(t, memos[0], memos[run], "priority %v", priority)
		}
	}
}

func TestPlanNotFound(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	tc := newCatalog(t)
	cfg := xform.DefaultConfig()
	cfg.DisabledRules = []string{"ImplOlapScan"}
	q := prepare(t, tc, cfg, `(scan t)`)
	metrics := xform.NewMetrics()
	q.o.SetMetrics(metrics)
	_, err := q.o.Optimize(context.Background(), q.root, nil)
	require.True(t, errors.Is(err, opt.ErrPlanNotFound), "%+v", err)
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.Optimizations.WithLabelValues("plan-not-found")))
}

func TestOptimizerSingleUse(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	tc := newCatalog(t)
	q := prepare(t, tc, testConfig(), `(scan t)`)
	_, err := q.o.Optimize(context.Background(), q.root, nil)
	require.NoError(t, err)
	_, err = q.o.Optimize(context.Background(), q.root, nil)
	require.True(t, opt.IsInternalInconsistency(err))
}

func TestInvalidConfig(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	tc := newCatalog(t)
	cfg := testConfig()
	cfg.DisabledRules = []string{"NoSuchRule"}
	q := prepare(t, tc, cfg, `(scan t)`)
	_, err := q.o.Optimize(context.Background(), q.root, nil)
	require.ErrorContains(t, err, `unknown rule "NoSuchRule"`)
}

func TestUnsupportedPatterns(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	// A rule that drops a column and a rule that panics are both skipped; the
	// optimization still succeeds with the other rules.
	dropColumn := &xform.Rule{
		Name:    opt.PushDownLimitUnion,
		Kind:    xform.TransformationRule,
		Pattern: xform.Match(opt.ScanOp),
		Apply: func(c *xform.RuleContext, e *memo.Expr) []*memo.Expr {
			p := *e.Private.(*memo.ScanPrivate)
			p.Cols = p.Cols[:1]
			return []*memo.Expr{memo.NewExpr(opt.ScanOp, &p)}
		},
	}
	panics := &xform.Rule{
		Name:    opt.PushDownLimitJoin,
		Kind:    xform.TransformationRule,
		Pattern: xform.Match(opt.ScanOp),
		Apply: func(c *xform.RuleContext, e *memo.Expr) []*memo.Expr {
			panic(errors.New("boom"))
		},
	}
	catalog := xform.NewRuleCatalog(append([]*xform.Rule{dropColumn, panics}, implementationRules()...)...)

	tc := newCatalog(t)
	q := prepare(t, tc, testConfig(), `(scan t)`)
	q.o.SetCatalog(catalog)
	metrics := xform.NewMetrics()
	q.o.SetMetrics(metrics)
	plan, err := q.o.Optimize(context.Background(), q.root, nil)
	require.NoError(t, err)
	require.Equal(t, q.cols, plan.Root.OutputCols)

	diags := q.o.Diagnostics()
	require.Len(t, diags, 2, "%# v", pretty.Formatter(diags))
	for _, d := range diags {
		require.True(t, errors.Is(d.Err, opt.ErrUnsupportedPattern), "%+v", d.Err)
	}
	require.Equal(t, opt.PushDownLimitUnion, diags[0].Rule)
	require.ErrorContains(t, diags[0].Err, "changed the output columns")
	require.Equal(t, opt.PushDownLimitJoin, diags[1].Rule)
	require.ErrorContains(t, diags[1].Err, "boom")
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.UnsupportedPatterns.WithLabelValues("PushDownLimitUnion")))
}

func TestNotifications(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	tc := newCatalog(t)

	// Rejecting a rule in the matched callback keeps it from firing.
	q := prepare(t, tc, testConfig(), limitQuery)
	q.o.NotifyOnMatchedRule(func(name opt.RuleName) bool {
		return name != opt.PushDownLimitScan
	})
	applied := make(map[opt.RuleName]int)
	q.o.NotifyOnAppliedRule(func(name opt.RuleName, group memo.GroupID, added int) {
		applied[name]++
	})
	plan, err := q.o.Optimize(context.Background(), q.root, nil)
	require.NoError(t, err)
	require.NotContains(t, applied, opt.PushDownLimitScan)
	require.Contains(t, applied, opt.PushDownPredicateScan)
	require.Zero(t, plan.Find(opt.PhysScanOp).Private.(*memo.ScanPrivate).Limit)

	var stats []xform.RuleStat
	for _, s := range q.o.RuleStats() {
		if s.Rule == opt.PushDownPredicateScan {
			stats = append(stats, s)
		}
	}
	require.Len(t, stats, 1)
	require.Equal(t, xform.TransformationRule, stats[0].Kind)
	require.Positive(t, stats[0].Changed)
	require.GreaterOrEqual(t, stats[0].Attempts, stats[0].Changed)
	require.Positive(t, q.o.TaskCount())
}

func TestMetrics(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	reg := prometheus.NewRegistry()
	metrics := xform.NewMetrics()
	require.NoError(t, metrics.Register(reg))
	require.Error(t, metrics.Register(reg))

	tc := newCatalog(t)
	for i := 0; i < 2; i++ {
		q := prepare(t, tc, testConfig(), limitQuery)
		q.o.SetMetrics(metrics)
		_, err := q.o.Optimize(context.Background(), q.root, nil)
		require.NoError(t, err)
	}

	require.Equal(t, 2.0, testutil.ToFloat64(metrics.Optimizations.WithLabelValues("success")))
	require.GreaterOrEqual(t, testutil.ToFloat64(
		metrics.RuleApplications.WithLabelValues("PushDownPredicateScan", "transformation")), 2.0)
	require.Positive(t, testutil.ToFloat64(metrics.Tasks.WithLabelValues("optimize-group")))
	require.Positive(t, testutil.CollectAndCount(metrics.Tasks))

	count, err := testutil.GatherAndCount(reg, "cascades_optimizer_latency_seconds", "cascades_optimizer_memo_groups")
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestOptimizeBatch(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	tc := newCatalog(t)
	snap, err := tc.Snapshot(context.Background())
	require.NoError(t, err)

	srcs := []string{limitQuery, threeWayJoin, `(scan t [b])`, `(agg [b] [(as (count_rows) cnt)] (scan t))`}
	var queries []xform.BatchQuery
	var cols []opt.ColList
	for _, src := range srcs {
		md := &opt.Metadata{}
		b := optbuilder.New(snap, md)
		root, err := b.Build(src)
		require.NoError(t, err)
		queries = append(queries, xform.BatchQuery{Snapshot: snap, Metadata: md, Root: root})
		cols = append(cols, b.OutputColumns())
	}
	// The third query requires an ordering on a column it does not return.
	bad := queries[2].Metadata.TableColumns(queries[2].Metadata.AllTables()[0].MetaID)[0]
	queries[2].Required = &physical.Required{Ordering: opt.Ordering{opt.MakeOrderingColumn(bad, false)}}

	metrics := xform.NewMetrics()
	results, err := xform.OptimizeBatch(context.Background(), testConfig(), metrics, queries, 2)
	require.NoError(t, err)
	require.Len(t, results, len(queries))
	for i, r := range results {
		if i == 2 {
			require.Error(t, r.Err)
			require.Nil(t, r.Plan)
			continue
		}
		require.NoError(t, r.Err, "%s", srcs[i])
		require.Equal(t, cols[i], r.Plan.Root.OutputCols)
	}
	require.Equal(t, 3.0, testutil.ToFloat64(metrics.Optimizations.WithLabelValues("success")))

	// The batch results do not depend on the concurrency.
	for _, concurrency := range []int{0, 1} {
		again := make([]xform.BatchQuery, 0, 2)
		for _, src := range srcs[:2] {
			md := &opt.Metadata{}
			root, err := optbuilder.New(snap, md).Build(src)
			require.NoError(t, err)
			again = append(again, xform.BatchQuery{Snapshot: snap, Metadata: md, Root: root})
		}
		res, err := xform.OptimizeBatch(context.Background(), testConfig(), nil, again, concurrency)
		require.NoError(t, err)
		for i := range res {
			require.NoError(t, res[i].Err)
			require.Equal(t, results[i].Plan.Cost, res[i].Plan.Cost)
			require.Equal(t, results[i].Plan.Operators(), res[i].Plan.Operators())
		}
	}
}

func TestOptimizeBatchCanceled(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	tc := newCatalog(t)
	snap, err := tc.Snapshot(context.Background())
	require.NoError(t, err)
	md := &opt.Metadata{}
	root, err := optbuilder.New(snap, md).Build(`(scan t)`)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = xform.OptimizeBatch(ctx, testConfig(), nil,
		[]xform.BatchQuery{{Snapshot: snap, Metadata: md, Root: root}}, 1)
	require.ErrorIs(t, err, context.Canceled)
}
