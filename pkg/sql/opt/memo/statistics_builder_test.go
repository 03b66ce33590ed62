// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package memo

import (
	"testing"

	"github.com/cockroachdb/cascades/pkg/sql/opt"
	"github.com/cockroachdb/cascades/pkg/sql/opt/testutils/testcat"
	"github.com/cockroachdb/cascades/pkg/util/leaktest"
	"github.com/cockroachdb/cascades/pkg/util/log"
	"github.com/stretchr/testify/require"
)

const statsTestCatalog = `
tables:
- name: a
  columns: [{name: x, type: int}]
  rows: 10
  stats: [{column: x, distinct: 10}]
- name: b
  columns: [{name: x, type: int}, {name: y, type: int}]
  rows: 1000
  stats: [{column: x, distinct: 10}, {column: y, distinct: 10}]
- name: c
  columns: [{name: y, type: int}]
  rows: 10
  stats: [{column: y, distinct: 10}]
- name: h
  columns: [{name: v, type: int, nullable: true}]
  rows: 100
  partitions:
    column: v
    ranges:
    - {name: p0, lower: 0, upper: 10, rows: 25}
    - {name: p1, lower: 10, upper: 20, rows: 75}
  stats:
  - column: v
    distinct: 20
    null_fraction: 0.1
    histogram:
    - {upper: 0, eq: 10, range: 0, distinct: 0}
    - {upper: 10, eq: 10, range: 40, distinct: 9}
    - {upper: 20, eq: 10, range: 20, distinct: 9}
- name: nostats
  columns: [{name: k, type: int}, {name: n, type: int, nullable: true}]
`

type statsTest struct {
	md   opt.Metadata
	mem  Memo
	tabs map[string]opt.TableID
}

func newStatsTest(t *testing.T) *statsTest {
	tc := testcat.New()
	require.NoError(t, tc.ExecuteYAML(statsTestCatalog))
	st := &statsTest{tabs: make(map[string]opt.TableID)}
	st.md.Init()
	for _, name := range []string{"a", "b", "c", "h", "nostats"} {
		st.tabs[name] = st.md.AddTable(tc.Table(name), "")
	}
	st.mem.Init(&st.md)
	return st
}

func (st *statsTest) col(tab string, ord int) opt.ColumnID {
	return st.tabs[tab].ColumnID(ord)
}

func (st *statsTest) scan(tab string) *Expr {
	id := st.tabs[tab]
	return NewExpr(opt.ScanOp, &ScanPrivate{Table: id, Cols: st.md.TableColumns(id)})
}

func (st *statsTest) rows(e *Expr) float64 {
	return st.mem.Stats(st.mem.Insert(e)).RowCount
}

func cmp(op opt.CmpOp, col opt.ColumnID, v int64) opt.ScalarExpr {
	return &opt.Comparison{Op: op, Left: opt.NewVariable(col), Right: opt.NewIntConst(v)}
}

func TestScanStatistics(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	st := newStatsTest(t)
	s := st.mem.Stats(st.mem.Insert(st.scan("nostats")))
	require.False(t, s.Available)
	require.Equal(t, 1000.0, s.RowCount)
	require.Equal(t, 100.0, s.DistinctCount(st.col("nostats", 0)))
	require.Equal(t, 0.0, s.ColStat(st.col("nostats", 0)).NullCount)
	require.Equal(t, 10.0, s.ColStat(st.col("nostats", 1)).NullCount)

	// Reading a subset of the partitions scales the row count.
	h := st.tabs["h"]
	pruned := NewExpr(opt.ScanOp, &ScanPrivate{Table: h, Cols: st.md.TableColumns(h), Partitions: []int{0}})
	require.Equal(t, 25.0, st.rows(pruned))

	limited := NewExpr(opt.ScanOp, &ScanPrivate{Table: h, Cols: st.md.TableColumns(h), Limit: 5})
	require.Equal(t, 5.0, st.rows(limited))
}

func TestFilterSelectivity(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	st := newStatsTest(t)
	bx, by := st.col("b", 0), st.col("b", 1)
	v := st.col("h", 0)
	testCases := []struct {
		name     string
		input    string
		filter   opt.ScalarExpr
		expected float64
	}{
		{"eq", "b", cmp(opt.EqOp, bx, 1), 100},
		{"ne", "b", cmp(opt.NeOp, bx, 1), 900},
		{"range", "b", cmp(opt.LtOp, bx, 1), 1000.0 / 3},
		{"and", "b", &opt.And{Left: cmp(opt.EqOp, bx, 1), Right: cmp(opt.EqOp, by, 2)}, 10},
		{"or", "b", &opt.Or{Left: cmp(opt.EqOp, bx, 1), Right: cmp(opt.EqOp, by, 2)}, 190},
		{"not", "b", &opt.Not{Input: cmp(opt.EqOp, bx, 1)}, 900},
		{"col-eq", "b", opt.NewEq(bx, by), 100},
		{"false", "b", opt.FalseConst, 0},
		{"is-null", "h", &opt.IsNull{Input: opt.NewVariable(v)}, 10},
		// 10 of the 90 non-null rows in the histogram are equal to 10.
		{"hist-eq", "h", cmp(opt.EqOp, v, 10), 100 * (10.0 / 90) * 0.9},
		// Rows <= 0 plus half of the (0, 10] range.
		{"hist-lt", "h", cmp(opt.LtOp, v, 5), 100 * (30.0 / 90) * 0.9},
		{"hist-ge", "h", cmp(opt.GeOp, v, 20), 100 * (10.0 / 90) * 0.9},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e := NewExpr(opt.SelectOp, &SelectPrivate{Filter: tc.filter}, st.scan(tc.input))
			require.InDelta(t, tc.expected, st.rows(e), 1e-6)
		})
	}

	// An equality pins the distinct count of its column.
	g := st.mem.Insert(NewExpr(opt.SelectOp, &SelectPrivate{Filter: cmp(opt.EqOp, bx, 1)}, st.scan("b")))
	require.Equal(t, 1.0, st.mem.Stats(g).ColStat(bx).DistinctCount)
}

func (st *statsTest) join(typ JoinType, on opt.ScalarExpr, left, right *Expr) *Expr {
	return NewExpr(opt.JoinOp, &JoinPrivate{Type: typ, On: on}, left, right)
}

func TestJoinStatistics(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	st := newStatsTest(t)
	ax, bx, by, cy := st.col("a", 0), st.col("b", 0), st.col("b", 1), st.col("c", 0)

	// Every order of the 3-way join estimates the same row count.
	ab := st.join(InnerJoin, opt.NewEq(ax, bx), st.scan("a"), st.scan("b"))
	require.Equal(t, 1000.0, st.rows(ab))
	require.Equal(t, 1000.0, st.rows(st.join(InnerJoin, opt.NewEq(by, cy), ab, st.scan("c"))))

	ac := st.join(InnerJoin, nil, st.scan("a"), st.scan("c"))
	require.Equal(t, 100.0, st.rows(ac))
	on := &opt.And{Left: opt.NewEq(ax, bx), Right: opt.NewEq(by, cy)}
	require.Equal(t, 1000.0, st.rows(st.join(InnerJoin, on, ac, st.scan("b"))))

	bc := st.join(InnerJoin, opt.NewEq(by, cy), st.scan("b"), st.scan("c"))
	require.Equal(t, 1000.0, st.rows(st.join(InnerJoin, opt.NewEq(ax, bx), st.scan("a"), bc)))

	testCases := []struct {
		typ      JoinType
		expected float64
	}{
		{InnerJoin, 1000},
		{LeftJoin, 1000},
		{RightJoin, 1000},
		{FullJoin, 1000},
		{SemiJoin, 10},
		{AntiJoin, 1},
	}
	for _, tc := range testCases {
		t.Run(tc.typ.String(), func(t *testing.T) {
			e := st.join(tc.typ, opt.NewEq(ax, bx), st.scan("a"), st.scan("b"))
			require.Equal(t, tc.expected, st.rows(e))
		})
	}

	// A selective join doesn't drop below the preserved side of an outer
	// join.
	filtered := opt.MakeAnd([]opt.ScalarExpr{
		opt.NewEq(ax, bx), cmp(opt.EqOp, bx, 1), cmp(opt.EqOp, by, 1), cmp(opt.EqOp, by, 2),
	})
	require.InDelta(t, 1.0, st.rows(st.join(InnerJoin, filtered, st.scan("a"), st.scan("b"))), 1e-9)
	require.InDelta(t, 10.0, st.rows(st.join(LeftJoin, filtered, st.scan("a"), st.scan("b"))), 1e-9)
}

func TestAggregateAndLimitStatistics(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	st := newStatsTest(t)
	bx, by := st.col("b", 0), st.col("b", 1)
	cnt := st.md.AddColumn("cnt", nil)

	grouped := NewExpr(opt.AggregateOp, &AggregatePrivate{
		GroupingCols: opt.ColList{bx, by},
		Aggs:         []AggItem{{Col: cnt, Func: AggCountRows}},
	}, st.scan("b"))
	require.Equal(t, 100.0, st.rows(grouped))

	cnt2 := st.md.AddColumn("cnt", nil)
	scalar := NewExpr(opt.AggregateOp, &AggregatePrivate{
		Aggs: []AggItem{{Col: cnt2, Func: AggCountRows}},
	}, st.scan("b"))
	require.Equal(t, 1.0, st.rows(scalar))

	require.Equal(t, 10.0, st.rows(NewExpr(opt.LimitOp, &LimitPrivate{Limit: 10}, st.scan("b"))))
	require.Equal(t, 5.0, st.rows(NewExpr(opt.LimitOp, &LimitPrivate{Limit: 10, Offset: 5}, st.scan("a"))))
	require.Equal(t, 0.0, st.rows(NewExpr(opt.LimitOp, &LimitPrivate{Limit: 10, Offset: 50}, st.scan("c"))))
	topN := NewExpr(opt.TopNOp, &TopNPrivate{Ordering: opt.Ordering{opt.MakeOrderingColumn(bx, false)}, Limit: 3}, st.scan("b"))
	require.Equal(t, 3.0, st.rows(topN))
}

func TestSetOpStatistics(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	st := newStatsTest(t)
	ax, cy := st.col("a", 0), st.col("c", 0)
	setOp := func(op opt.Operator, all bool) *Expr {
		out := st.md.AddColumn("u", nil)
		p := &SetOpPrivate{OutCols: opt.ColList{out}, InCols: []opt.ColList{{ax}, {cy}}, All: all}
		return NewExpr(op, p, st.scan("a"), st.scan("c"))
	}
	require.Equal(t, 20.0, st.rows(setOp(opt.UnionOp, true)))
	require.Equal(t, 20.0, st.rows(setOp(opt.UnionOp, false)))
	require.Equal(t, 10.0, st.rows(setOp(opt.IntersectOp, false)))
	require.Equal(t, 10.0, st.rows(setOp(opt.ExceptOp, false)))
}

func TestValuesStatistics(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	st := newStatsTest(t)
	col := st.md.AddColumn("v", nil)
	p := &ValuesPrivate{Cols: opt.ColList{col}, Rows: [][]opt.ScalarExpr{
		{opt.NewIntConst(1)}, {opt.NewIntConst(1)}, {opt.NewIntConst(2)}, {opt.NullConst},
	}}
	s := st.mem.Stats(st.mem.Insert(NewExpr(opt.ValuesOp, p)))
	require.Equal(t, 4.0, s.RowCount)
	require.Equal(t, 2.0, s.ColStat(col).DistinctCount)
	require.Equal(t, 1.0, s.ColStat(col).NullCount)
}

func TestStatisticsRefinement(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	st := newStatsTest(t)
	bx := st.col("b", 0)
	// The group is first derived from a select with an unknown selectivity.
	opaque := &opt.Func{Name: "f", Args: []opt.ScalarExpr{opt.NewVariable(bx)}}
	g := st.mem.Insert(NewExpr(opt.SelectOp, &SelectPrivate{Filter: opaque}, st.scan("b")))
	require.InDelta(t, 1000.0/3, st.mem.Stats(g).RowCount, 1e-6)

	// A later logical member with a lower estimate refines the statistics;
	// a higher one doesn't.
	b := st.tabs["b"]
	scanInput := st.mem.Expr(st.mem.Group(g).Exprs()[0]).Child(0)
	limited := NewExpr(opt.LimitOp, &LimitPrivate{Limit: 100}, GroupRef(scanInput))
	st.mem.InsertInto(limited, g)
	require.Equal(t, 100.0, st.mem.Stats(g).RowCount)

	wider := NewExpr(opt.ScanOp, &ScanPrivate{Table: b, Cols: st.md.TableColumns(b), Filter: opaque, Limit: 500})
	st.mem.InsertInto(wider, g)
	require.Equal(t, 100.0, st.mem.Stats(g).RowCount)
}
