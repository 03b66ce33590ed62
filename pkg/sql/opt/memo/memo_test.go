// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package memo

import (
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/cockroachdb/cascades/pkg/sql/opt"
	"github.com/cockroachdb/cascades/pkg/sql/opt/props/physical"
	"github.com/cockroachdb/cascades/pkg/sql/opt/testutils/testcat"
	"github.com/cockroachdb/cascades/pkg/util/leaktest"
	"github.com/cockroachdb/cascades/pkg/util/log"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

const memoTestCatalog = `
tables:
- name: t
  columns:
  - {name: a, type: int}
  - {name: b, type: int}
  rows: 1000
  stats:
  - {column: a, distinct: 100}
  - {column: b, distinct: 10}
- name: u
  columns:
  - {name: c, type: int}
  - {name: d, type: string}
  rows: 10
  stats:
  - {column: c, distinct: 10}
  - {column: d, distinct: 2}
`

type memoTest struct {
	md  opt.Metadata
	mem Memo
	t   opt.TableID
	u   opt.TableID
}

func newMemoTest(t *testing.T) *memoTest {
	tc := testcat.New()
	require.NoError(t, tc.ExecuteYAML(memoTestCatalog))
	mt := &memoTest{}
	mt.md.Init()
	mt.t = mt.md.AddTable(tc.Table("t"), "")
	mt.u = mt.md.AddTable(tc.Table("u"), "")
	mt.mem.Init(&mt.md)
	return mt
}

func (mt *memoTest) scan(tab opt.TableID) *Expr {
	return NewExpr(opt.ScanOp, &ScanPrivate{Table: tab, Cols: mt.md.TableColumns(tab)})
}

func (mt *memoTest) col(tab opt.TableID, ord int) opt.ColumnID {
	return tab.ColumnID(ord)
}

func gt(col opt.ColumnID, v int64) opt.ScalarExpr {
	return &opt.Comparison{Op: opt.GtOp, Left: opt.NewVariable(col), Right: opt.NewIntConst(v)}
}

func TestMemoInsertDedup(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	mt := newMemoTest(t)
	g1 := mt.mem.Insert(mt.scan(mt.t))
	g2 := mt.mem.Insert(mt.scan(mt.t))
	require.Equal(t, g1, g2)
	require.Equal(t, 1, mt.mem.GroupCount())
	require.Equal(t, 1, mt.mem.ExprCount())

	sel := NewExpr(opt.SelectOp, &SelectPrivate{Filter: gt(mt.col(mt.t, 0), 5)}, mt.scan(mt.t))
	g3 := mt.mem.Insert(sel)
	require.NotEqual(t, g1, g3)
	require.Equal(t, g1, mt.mem.Expr(mt.mem.Group(g3).Exprs()[0]).Child(0))

	// Inserting the same filter through a group reference finds the same
	// expression.
	g4 := mt.mem.Insert(NewExpr(opt.SelectOp, &SelectPrivate{Filter: gt(mt.col(mt.t, 0), 5)}, GroupRef(g1)))
	require.Equal(t, g3, g4)
	require.Equal(t, 2, mt.mem.ExprCount())
	require.NoError(t, mt.mem.CheckInvariants())
}

func TestMemoInsertInto(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	mt := newMemoTest(t)
	on := opt.NewEq(mt.col(mt.t, 0), mt.col(mt.u, 0))
	join := mt.mem.Insert(NewExpr(opt.JoinOp, &JoinPrivate{Type: InnerJoin, On: on}, mt.scan(mt.t), mt.scan(mt.u)))
	left := mt.mem.Expr(mt.mem.Group(join).Exprs()[0]).Child(0)
	right := mt.mem.Expr(mt.mem.Group(join).Exprs()[0]).Child(1)

	commuted := NewExpr(opt.JoinOp, &JoinPrivate{Type: InnerJoin, On: on}, GroupRef(right), GroupRef(left))
	require.True(t, mt.mem.InsertInto(commuted, join))
	require.Len(t, mt.mem.Group(join).Exprs(), 2)
	// The natural column order of the group is the order of the first
	// member.
	require.Equal(t, opt.ColList{1, 2, 3, 4}, mt.mem.Group(join).OutputCols())

	// Inserting it again is a no-op.
	require.False(t, mt.mem.InsertInto(commuted, join))
	require.Len(t, mt.mem.Group(join).Exprs(), 2)
	require.NoError(t, mt.mem.CheckInvariants())

	// A bare reference to the group itself is a no-op.
	require.False(t, mt.mem.InsertInto(GroupRef(join), join))
}

func TestMemoInsertIntoColumnMismatch(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	mt := newMemoTest(t)
	g := mt.mem.Insert(mt.scan(mt.t))
	bad := NewExpr(opt.ScanOp, &ScanPrivate{Table: mt.t, Cols: opt.ColList{1}})

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = opt.CatchOptimizerError(r)
			}
		}()
		mt.mem.InsertInto(bad, g)
		return nil
	}()
	require.Error(t, err)
	require.True(t, opt.IsInternalInconsistency(err))
	require.True(t, errors.HasAssertionFailure(err))
}

func TestMemoMerge(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	mt := newMemoTest(t)
	filter := gt(mt.col(mt.t, 0), 5)
	project := Passthrough(opt.ColList{mt.col(mt.t, 0)})

	// G1: scan t, G2: select G1, G3: project G2.
	g3 := mt.mem.Insert(NewExpr(opt.ProjectOp, project,
		NewExpr(opt.SelectOp, &SelectPrivate{Filter: filter}, mt.scan(mt.t))))
	g2 := mt.mem.Expr(mt.mem.Group(g3).Exprs()[0]).Child(0)

	// G4: scan t with the filter pushed down, G5: project G4.
	pushed := NewExpr(opt.ScanOp, &ScanPrivate{Table: mt.t, Cols: mt.md.TableColumns(mt.t), Filter: filter})
	g5 := mt.mem.Insert(NewExpr(opt.ProjectOp, project, pushed))
	g4 := mt.mem.Expr(mt.mem.Group(g5).Exprs()[0]).Child(0)
	require.Equal(t, 5, mt.mem.GroupCount())

	// Proving G4 equivalent to G2 makes the two projections duplicates, so
	// G5 is merged into G3 as well.
	require.True(t, mt.mem.InsertInto(GroupRef(g4), g2))
	require.Equal(t, g2, mt.mem.Find(g4))
	require.Equal(t, g3, mt.mem.Find(g5))
	require.Equal(t, 3, mt.mem.GroupCount())
	require.Equal(t, 2, mt.mem.MergeCount())
	require.Len(t, mt.mem.Group(g2).Exprs(), 2)
	require.Len(t, mt.mem.Group(g3).Exprs(), 1)
	require.Equal(t, 4, mt.mem.ExprCount())
	require.NoError(t, mt.mem.CheckInvariants())

	// Both expressions of the merged group are found through either id.
	require.Equal(t, mt.mem.Group(g2), mt.mem.Group(g4))
	for _, id := range mt.mem.Group(g4).Exprs() {
		require.Equal(t, g2, mt.mem.ExprGroup(id))
	}
}

// describe formats the members of a group and, recursively, of its inputs,
// independent of the group and expression ids.
func (mt *memoTest) describe(g GroupID) string {
	var members []string
	for _, id := range mt.mem.Group(g).Exprs() {
		e := mt.mem.Expr(id)
		var buf strings.Builder
		buf.WriteString(e.Op().String())
		if e.Private() != nil {
			buf.WriteByte(' ')
			e.Private().Format(&buf, &mt.md)
		}
		for _, c := range e.Children() {
			fmt.Fprintf(&buf, " (%s)", mt.describe(c))
		}
		members = append(members, buf.String())
	}
	sort.Strings(members)
	return strings.Join(members, " | ")
}

func TestMemoMergeOrder(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	// build inserts a projection over a filter and a projection over the
	// equivalent pushed-down scan, in either order, and then proves the
	// filter equivalent to the scan from either side.
	build := func(filterFirst bool) (*memoTest, GroupID) {
		mt := newMemoTest(t)
		filter := gt(mt.col(mt.t, 0), 5)
		project := Passthrough(opt.ColList{mt.col(mt.t, 0)})
		selected := NewExpr(opt.ProjectOp, project,
			NewExpr(opt.SelectOp, &SelectPrivate{Filter: filter}, mt.scan(mt.t)))
		pushed := NewExpr(opt.ProjectOp, project,
			NewExpr(opt.ScanOp, &ScanPrivate{Table: mt.t, Cols: mt.md.TableColumns(mt.t), Filter: filter}))

		var p1, p2 GroupID
		if filterFirst {
			p1, p2 = mt.mem.Insert(selected), mt.mem.Insert(pushed)
		} else {
			p2, p1 = mt.mem.Insert(pushed), mt.mem.Insert(selected)
		}
		sel := mt.mem.Expr(mt.mem.Group(p1).Exprs()[0]).Child(0)
		scan := mt.mem.Expr(mt.mem.Group(p2).Exprs()[0]).Child(0)
		if filterFirst {
			require.True(t, mt.mem.InsertInto(GroupRef(scan), sel))
		} else {
			require.True(t, mt.mem.InsertInto(GroupRef(sel), scan))
		}
		require.NoError(t, mt.mem.CheckInvariants())

		// The lower id survives either way.
		require.Equal(t, min(sel, scan), mt.mem.Find(sel))
		require.Equal(t, min(p1, p2), mt.mem.Find(p2))
		require.Equal(t, mt.mem.Find(p1), mt.mem.Find(p2))
		require.Equal(t, 2, mt.mem.MergeCount())
		return mt, mt.mem.Find(p1)
	}

	first, g1 := build(true)
	second, g2 := build(false)
	require.Equal(t, first.mem.GroupCount(), second.mem.GroupCount())
	require.Equal(t, first.mem.ExprCount(), second.mem.ExprCount())
	require.Equal(t, first.describe(g1), second.describe(g2))
	require.Equal(t, first.mem.Group(g1).OutputCols(), second.mem.Group(g2).OutputCols())
}

func TestMemoMergeByInsert(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	mt := newMemoTest(t)
	filter := gt(mt.col(mt.t, 0), 5)
	g1 := mt.mem.Insert(NewExpr(opt.SelectOp, &SelectPrivate{Filter: filter}, mt.scan(mt.t)))
	pushed := NewExpr(opt.ScanOp, &ScanPrivate{Table: mt.t, Cols: mt.md.TableColumns(mt.t), Filter: filter})
	g2 := mt.mem.Insert(pushed)

	// A rule output that already exists in another group merges the groups.
	require.True(t, mt.mem.InsertInto(pushed, g1))
	require.Equal(t, mt.mem.Find(g1), mt.mem.Find(g2))
	require.NoError(t, mt.mem.CheckInvariants())
}

func TestMemoRecordWinner(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	mt := newMemoTest(t)
	g := mt.mem.Insert(mt.scan(mt.t))
	e := mt.mem.Group(g).Exprs()[0]
	anyReq := mt.mem.InternPhysicalProps(&physical.Required{})
	require.Same(t, anyReq, mt.mem.InternPhysicalProps(&physical.Required{}))
	ordered := mt.mem.InternPhysicalProps(&physical.Required{
		Ordering: opt.Ordering{opt.MakeOrderingColumn(1, false)},
	})

	require.True(t, mt.mem.RecordWinner(g, anyReq, &Winner{Expr: e, Provided: anyReq, Cost: Cost{C: 10}}))
	require.False(t, mt.mem.RecordWinner(g, anyReq, &Winner{Expr: e, Provided: anyReq, Cost: Cost{C: 12}}))
	require.Equal(t, 10.0, mt.mem.BestWinner(g, anyReq).Cost.C)

	// A cheaper plan for a stronger requirement also serves the weaker one.
	require.True(t, mt.mem.RecordWinner(g, ordered, &Winner{Expr: e, Provided: ordered, Cost: Cost{C: 8}}))
	require.Equal(t, 8.0, mt.mem.BestWinner(g, anyReq).Cost.C)
	require.Nil(t, mt.mem.BestWinner(g, mt.mem.InternPhysicalProps(&physical.Required{
		Ordering: opt.Ordering{opt.MakeOrderingColumn(2, false)},
	})))

	// Ties go to the first plan discovered.
	first := mt.mem.BestWinner(g, anyReq)
	require.False(t, mt.mem.RecordWinner(g, anyReq, &Winner{Expr: e, Provided: anyReq, Cost: Cost{C: 8}}))
	require.Same(t, first, mt.mem.BestWinner(g, anyReq))
	require.Equal(t, []*physical.Required{anyReq, ordered}, mt.mem.Winners(g))
	require.NoError(t, mt.mem.CheckInvariants())
}

func TestMemoFiredRules(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	mt := newMemoTest(t)
	g := mt.mem.Insert(mt.scan(mt.t))
	e := mt.mem.Group(g).Exprs()[0]
	require.False(t, mt.mem.HasFired(e, 3))
	mt.mem.MarkFired(e, 3)
	mt.mem.MarkFired(e, 70)
	require.True(t, mt.mem.HasFired(e, 3))
	require.True(t, mt.mem.HasFired(e, 70))
	require.False(t, mt.mem.HasFired(e, 71))
	require.False(t, mt.mem.HasFired(e, 200))
}

func TestMemoCTERegistry(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	mt := newMemoTest(t)
	cols := mt.md.TableColumns(mt.u)
	consume := func() *Expr {
		c1 := mt.md.AddColumn("c", nil)
		c2 := mt.md.AddColumn("d", nil)
		return NewExpr(opt.CTEConsumeOp, &CTEConsumePrivate{ID: 1, Cols: opt.ColList{c1, c2}, ProducerCols: cols})
	}
	c1, c2 := consume(), consume()
	on := opt.NewEq(c1.Private.(*CTEConsumePrivate).Cols[0], c2.Private.(*CTEConsumePrivate).Cols[0])
	root := NewExpr(opt.CTEAnchorOp, &CTEPrivate{ID: 1},
		NewExpr(opt.CTEProduceOp, &CTEPrivate{ID: 1}, mt.scan(mt.u)),
		NewExpr(opt.JoinOp, &JoinPrivate{Type: InnerJoin, On: on}, c1, c2))
	g := mt.mem.Insert(root)

	require.Equal(t, 2, mt.mem.CTEConsumerCount(1))
	require.Equal(t, 0, mt.mem.CTEConsumerCount(2))
	producer := mt.mem.CTEProducer(1)
	require.NotZero(t, producer)
	require.Equal(t, cols, mt.mem.Group(producer).OutputCols())

	// Consumers read the producer's statistics.
	require.Equal(t, 10.0, mt.mem.Stats(mt.mem.Expr(mt.mem.Group(g).Exprs()[0]).Child(1)).RowCount)
}

func TestMemoFormat(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	mt := newMemoTest(t)
	g := mt.mem.Insert(NewExpr(opt.SelectOp, &SelectPrivate{Filter: gt(mt.col(mt.t, 0), 5)}, mt.scan(mt.t)))
	mt.mem.SetRoot(g, physical.MinRequired)
	mt.mem.Stats(g)

	expected := "memo (2 groups, 2 exprs, root G2)\n" +
		" G1: cols=[1 2] rows=1000\n" +
		"  e1 (Scan t cols=(a,b))\n" +
		" G2: cols=[1 2] rows=333.333333\n" +
		"  e2 (Select a > 5 G1)\n"
	require.Equal(t, expected, mt.mem.FormatMemo(FmtStats, nil))
}
