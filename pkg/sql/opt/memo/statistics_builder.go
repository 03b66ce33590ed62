// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package memo

import (
	"math"

	"github.com/cockroachdb/cascades/pkg/sql/opt"
	"github.com/cockroachdb/cascades/pkg/sql/opt/cat"
	"github.com/cockroachdb/cascades/pkg/sql/opt/props"
	"github.com/cockroachdb/errors"
)

// statisticsBuilder is responsible for building the statistics that are
// used by the coster to estimate the cost of expressions.
//
// Statistics are derived bottom-up from the table statistics in the catalog.
// Each group stores the statistics of its representative member (see
// Memo.Stats); the inputs of that member are derived first. When a table is
// missing statistics, the builder falls back to the unknown* constants in
// the props package.
//
// The join estimate only depends on the distinct counts of the equality
// columns, capped at the row count of their input. This keeps the estimates
// of all orders of a chain of joins consistent, which matters because groups
// reached through different orders are merged.
type statisticsBuilder struct {
	mem *Memo
}

func (sb *statisticsBuilder) init(mem *Memo) {
	sb.mem = mem
}

func (sb *statisticsBuilder) md() *opt.Metadata {
	return sb.mem.md
}

func (sb *statisticsBuilder) build(e *GroupExpr) *props.Statistics {
	switch e.op {
	case opt.ScanOp:
		return sb.buildScan(e.private.(*ScanPrivate))

	case opt.SelectOp:
		s := sb.childStats(e, 0).Copy()
		sb.applyFilter(s, e.private.(*SelectPrivate).Filter)
		return s

	case opt.ProjectOp:
		return sb.buildProject(e.private.(*ProjectPrivate), sb.childStats(e, 0))

	case opt.JoinOp:
		p := e.private.(*JoinPrivate)
		return sb.buildJoin(p.Type, p.On, e.children[0], e.children[1])

	case opt.AggregateOp:
		return sb.buildAggregate(e.private.(*AggregatePrivate), sb.childStats(e, 0))

	case opt.SortOp, opt.CTEProduceOp:
		return sb.childStats(e, 0)

	case opt.TopNOp:
		p := e.private.(*TopNPrivate)
		return limitStats(sb.childStats(e, 0), p.Limit, p.Offset)

	case opt.LimitOp:
		p := e.private.(*LimitPrivate)
		return limitStats(sb.childStats(e, 0), p.Limit, p.Offset)

	case opt.UnionOp, opt.IntersectOp, opt.ExceptOp:
		return sb.buildSetOp(e)

	case opt.WindowOp:
		in := sb.childStats(e, 0)
		s := in.Copy()
		for _, f := range e.private.(*WindowPrivate).Funcs {
			s.ColStats.Add(f.Col, math.Max(s.RowCount, 1), 0)
		}
		return s

	case opt.CTEAnchorOp:
		return sb.childStats(e, 1)

	case opt.CTEConsumeOp:
		return sb.buildCTEConsume(e.private.(*CTEConsumePrivate))

	case opt.TableFuncOp:
		s := &props.Statistics{}
		s.Init(props.UnknownGeneratorRowCount, false)
		for _, c := range e.private.(*TableFuncPrivate).Cols {
			s.ColStats.Add(c, props.UnknownGeneratorRowCount, 0)
		}
		return s

	case opt.ValuesOp:
		return sb.buildValues(e.private.(*ValuesPrivate))
	}
	panic(errors.AssertionFailedf("no statistics for operator %s", e.op))
}

func (sb *statisticsBuilder) childStats(e *GroupExpr, i int) *props.Statistics {
	return sb.mem.Stats(e.children[i])
}

func (sb *statisticsBuilder) buildScan(p *ScanPrivate) *props.Statistics {
	tab := sb.md().Table(p.Table)
	ts := tab.Statistics()

	rows := float64(props.UnknownRowCount)
	if ts != nil {
		rows = ts.RowCount
	}
	if p.Partitions != nil {
		parts := tab.Partitions()
		var sum, total float64
		for i := range parts {
			total += parts[i].RowCount
		}
		for _, ord := range p.Partitions {
			sum += parts[ord].RowCount
		}
		if total > 0 {
			rows = rows * sum / total
		}
	}

	s := &props.Statistics{}
	s.Init(rows, ts != nil)
	for _, col := range p.Cols {
		ord := p.Table.ColumnOrdinal(col)
		if cs := ts.ColumnStat(ord); cs != nil {
			s.ColStats.Add(col, math.Min(cs.DistinctCount, math.Max(rows, 1)), cs.NullFraction*rows)
			continue
		}
		nulls := 0.0
		if tab.Column(ord).Nullable {
			nulls = rows * props.UnknownNullCountRatio
		}
		s.ColStats.Add(col, math.Max(rows*props.UnknownDistinctCountRatio, 1), nulls)
	}
	sb.applyFilter(s, p.Filter)
	if p.Limit > 0 {
		s.LimitRowCount(float64(p.Limit))
	}
	return s
}

// applyFilter reduces the statistics by the selectivity of the filter, and
// pins the distinct counts of columns constrained to a single value.
func (sb *statisticsBuilder) applyFilter(s *props.Statistics, filter opt.ScalarExpr) {
	if filter == nil {
		return
	}
	s.ApplySelectivity(sb.selectivity(filter, s))
	for _, c := range opt.Conjuncts(filter) {
		if col, ok := opt.ExtractConstEquality(c); ok {
			if cs := s.ColStat(col); cs != nil {
				cs.DistinctCount = math.Min(cs.DistinctCount, 1)
				cs.NullCount = 0
			}
			continue
		}
		if l, r, ok := opt.ExtractEquality(c, opt.OuterCols(c), opt.OuterCols(c)); ok {
			lcs, rcs := s.ColStat(l), s.ColStat(r)
			if lcs != nil && rcs != nil {
				d := math.Min(lcs.DistinctCount, rcs.DistinctCount)
				lcs.DistinctCount, rcs.DistinctCount = d, d
			}
		}
	}
}

// selectivity estimates the fraction of rows of an input with the given
// statistics that satisfy the predicate.
func (sb *statisticsBuilder) selectivity(e opt.ScalarExpr, s *props.Statistics) float64 {
	switch t := e.(type) {
	case nil:
		return 1
	case *opt.Const:
		if opt.IsTrue(t) {
			return 1
		}
		if opt.IsFalse(t) {
			return 0
		}
	case *opt.And:
		return sb.selectivity(t.Left, s) * sb.selectivity(t.Right, s)
	case *opt.Or:
		a, b := sb.selectivity(t.Left, s), sb.selectivity(t.Right, s)
		return a + b - a*b
	case *opt.Not:
		return 1 - sb.selectivity(t.Input, s)
	case *opt.IsNull:
		if v, ok := t.Input.(*opt.Variable); ok {
			if cs := s.ColStat(v.Col); cs != nil && s.RowCount > 0 {
				return cs.NullFraction(s.RowCount)
			}
		}
		return props.UnknownNullCountRatio
	case *opt.Comparison:
		return sb.comparisonSelectivity(t, s)
	}
	return props.UnknownFilterSelectivity
}

func (sb *statisticsBuilder) comparisonSelectivity(
	cmp *opt.Comparison, s *props.Statistics,
) float64 {
	if col, op, val, ok := opt.ExtractConstBound(cmp); ok {
		if h, nullFrac := sb.histogram(col); h != nil {
			var sel float64
			switch op {
			case opt.EqOp:
				sel = h.EqSelectivity(val)
			case opt.NeOp:
				sel = 1 - h.EqSelectivity(val)
			case opt.LtOp:
				sel = h.LessSelectivity(val, false)
			case opt.LeOp:
				sel = h.LessSelectivity(val, true)
			case opt.GtOp:
				sel = h.GreaterSelectivity(val, false)
			case opt.GeOp:
				sel = h.GreaterSelectivity(val, true)
			}
			return sel * (1 - nullFrac)
		}
		switch op {
		case opt.EqOp:
			return 1 / s.DistinctCount(col)
		case opt.NeOp:
			return 1 - 1/s.DistinctCount(col)
		}
		return props.UnknownFilterSelectivity
	}
	if col, ok := opt.ExtractConstEquality(cmp); ok {
		return 1 / s.DistinctCount(col)
	}
	lv, lok := cmp.Left.(*opt.Variable)
	rv, rok := cmp.Right.(*opt.Variable)
	if lok && rok && cmp.Op == opt.EqOp {
		return 1 / math.Max(s.DistinctCount(lv.Col), s.DistinctCount(rv.Col))
	}
	return props.UnknownFilterSelectivity
}

// histogram returns the histogram of the base table column, and the
// fraction of the column's values that are null.
func (sb *statisticsBuilder) histogram(col opt.ColumnID) (*cat.Histogram, float64) {
	md := sb.md()
	if int(col) > md.NumColumns() {
		return nil, 0
	}
	tabID := md.ColumnMeta(col).Table
	if tabID == 0 {
		return nil, 0
	}
	cs := md.Table(tabID).Statistics().ColumnStat(tabID.ColumnOrdinal(col))
	if cs == nil || cs.Histogram == nil || cs.Histogram.Len() == 0 {
		return nil, 0
	}
	return cs.Histogram, cs.NullFraction
}

func (sb *statisticsBuilder) buildProject(
	p *ProjectPrivate, in *props.Statistics,
) *props.Statistics {
	s := &props.Statistics{}
	s.Init(in.RowCount, in.Available)
	for i := range p.Items {
		item := &p.Items[i]
		if item.Expr == nil {
			copyColStat(s, in, item.Col, item.Col)
			continue
		}
		if v, ok := item.Expr.(*opt.Variable); ok {
			copyColStat(s, in, v.Col, item.Col)
			continue
		}
		distinct := 1.0
		opt.OuterCols(item.Expr).ForEach(func(col opt.ColumnID) {
			distinct *= in.DistinctCount(col)
		})
		s.ColStats.Add(item.Col, math.Min(distinct, math.Max(in.RowCount, 1)), 0)
	}
	return s
}

func copyColStat(dst, src *props.Statistics, from, to opt.ColumnID) {
	if cs := src.ColStat(from); cs != nil {
		dst.ColStats.Add(to, cs.DistinctCount, cs.NullCount)
		return
	}
	dst.ColStats.Add(to, src.DistinctCount(from), 0)
}

func (sb *statisticsBuilder) buildJoin(
	typ JoinType, on opt.ScalarExpr, left, right GroupID,
) *props.Statistics {
	ls, rs := sb.mem.Stats(left), sb.mem.Stats(right)
	leftCols := sb.mem.Group(left).rel.OutputColSet()
	rightCols := sb.mem.Group(right).rel.OutputColSet()

	// Merge the statistics of both sides; non-equality conditions are
	// estimated against the merged columns.
	both := &props.Statistics{}
	both.Init(ls.RowCount*rs.RowCount, ls.Available && rs.Available)
	for col, cs := range ls.ColStats {
		both.ColStats.Add(col, math.Min(cs.DistinctCount, math.Max(ls.RowCount, 1)), cs.NullCount*rs.RowCount)
	}
	for col, cs := range rs.ColStats {
		both.ColStats.Add(col, math.Min(cs.DistinctCount, math.Max(rs.RowCount, 1)), cs.NullCount*ls.RowCount)
	}

	inner := both.RowCount
	var eqLeft, eqRight opt.ColList
	var other []opt.ScalarExpr
	for _, c := range opt.Conjuncts(on) {
		if l, r, ok := opt.ExtractEquality(c, leftCols, rightCols); ok {
			dl := math.Min(ls.DistinctCount(l), math.Max(ls.RowCount, 1))
			dr := math.Min(rs.DistinctCount(r), math.Max(rs.RowCount, 1))
			inner /= math.Max(dl, dr)
			eqLeft = append(eqLeft, l)
			eqRight = append(eqRight, r)
			continue
		}
		other = append(other, c)
	}
	if len(other) > 0 {
		inner *= sb.selectivity(opt.MakeAnd(other), both)
	}

	var rows float64
	switch typ {
	case InnerJoin:
		rows = inner
	case LeftJoin:
		rows = math.Max(inner, ls.RowCount)
	case RightJoin:
		rows = math.Max(inner, rs.RowCount)
	case FullJoin:
		rows = math.Max(inner, math.Max(ls.RowCount, rs.RowCount))
	case SemiJoin:
		rows = math.Min(ls.RowCount, inner)
	case AntiJoin:
		semi := math.Min(ls.RowCount, inner)
		rows = math.Max(ls.RowCount-semi, math.Min(ls.RowCount, 1))
	}

	s := &props.Statistics{}
	s.Init(rows, both.Available)
	copySide := func(side *props.Statistics, cols opt.ColSet) {
		cols.ForEach(func(col opt.ColumnID) {
			cs := both.ColStat(col)
			if cs == nil {
				s.ColStats.Add(col, math.Min(side.DistinctCount(col), math.Max(rows, 1)), 0)
				return
			}
			nulls := cs.NullFraction(both.RowCount) * rows
			s.ColStats.Add(col, math.Min(cs.DistinctCount, math.Max(rows, 1)), nulls)
		})
	}
	copySide(ls, leftCols)
	if typ.OutputsRight() {
		copySide(rs, rightCols)
	}
	if typ == InnerJoin || typ == SemiJoin {
		for i := range eqLeft {
			lcs := s.ColStat(eqLeft[i])
			d := lcs.DistinctCount
			if rcs := both.ColStat(eqRight[i]); rcs != nil {
				d = math.Min(d, rcs.DistinctCount)
			}
			lcs.DistinctCount = d
			lcs.NullCount = 0
			if rcs := s.ColStat(eqRight[i]); rcs != nil {
				rcs.DistinctCount = d
				rcs.NullCount = 0
			}
		}
	}
	return s
}

func (sb *statisticsBuilder) buildAggregate(
	p *AggregatePrivate, in *props.Statistics,
) *props.Statistics {
	rows := 1.0
	if !p.IsScalar() {
		for _, col := range p.GroupingCols {
			rows *= in.DistinctCount(col)
		}
		rows = math.Min(rows, in.RowCount)
	}
	s := &props.Statistics{}
	s.Init(rows, in.Available)
	for _, col := range p.GroupingCols {
		nulls := 0.0
		if cs := in.ColStat(col); cs != nil && cs.NullCount > 0 {
			nulls = 1
		}
		s.ColStats.Add(col, math.Min(in.DistinctCount(col), math.Max(rows, 1)), nulls)
	}
	for i := range p.Aggs {
		s.ColStats.Add(p.Aggs[i].Col, math.Max(rows, 1), 0)
	}
	return s
}

func limitStats(in *props.Statistics, limit, offset int64) *props.Statistics {
	s := in.Copy()
	if offset > 0 {
		s.ApplySelectivity(math.Max(s.RowCount-float64(offset), 0) / math.Max(s.RowCount, 1))
	}
	s.LimitRowCount(float64(limit))
	return s
}

func (sb *statisticsBuilder) buildSetOp(e *GroupExpr) *props.Statistics {
	p := e.private.(*SetOpPrivate)
	inputs := make([]*props.Statistics, len(e.children))
	available := true
	for i := range e.children {
		inputs[i] = sb.childStats(e, i)
		available = available && inputs[i].Available
	}

	var rows float64
	switch e.op {
	case opt.UnionOp:
		for _, in := range inputs {
			rows += in.RowCount
		}
		if !p.All {
			distinct := 1.0
			for i := range p.OutCols {
				var d float64
				for j, in := range inputs {
					d += in.DistinctCount(p.InCols[j][i])
				}
				distinct *= d
			}
			rows = math.Min(rows, distinct)
		}
	case opt.IntersectOp:
		rows = inputs[0].RowCount
		for _, in := range inputs[1:] {
			rows = math.Min(rows, in.RowCount)
		}
	case opt.ExceptOp:
		rows = inputs[0].RowCount
	}

	s := &props.Statistics{}
	s.Init(rows, available)
	for i, col := range p.OutCols {
		var d, nulls float64
		for j, in := range inputs {
			if e.op != opt.UnionOp && j > 0 {
				break
			}
			d += in.DistinctCount(p.InCols[j][i])
			if cs := in.ColStat(p.InCols[j][i]); cs != nil {
				nulls += cs.NullCount
			}
		}
		s.ColStats.Add(col, math.Min(d, math.Max(rows, 1)), math.Min(nulls, rows))
	}
	return s
}

func (sb *statisticsBuilder) buildCTEConsume(p *CTEConsumePrivate) *props.Statistics {
	producer := sb.mem.CTEProducer(p.ID)
	if producer == 0 {
		panic(errors.AssertionFailedf("cte %d has no producer", p.ID))
	}
	in := sb.mem.Stats(producer)
	s := &props.Statistics{}
	s.Init(in.RowCount, in.Available)
	for i, col := range p.Cols {
		copyColStat(s, in, p.ProducerCols[i], col)
	}
	sb.applyFilter(s, p.Filter)
	return s
}

func (sb *statisticsBuilder) buildValues(p *ValuesPrivate) *props.Statistics {
	rows := float64(len(p.Rows))
	s := &props.Statistics{}
	s.Init(rows, true)
	for i, col := range p.Cols {
		distinct := make(map[string]struct{}, len(p.Rows))
		var nulls float64
		for _, row := range p.Rows {
			if c, ok := row[i].(*opt.Const); ok && c.Value == nil {
				nulls++
				continue
			}
			distinct[opt.FormatScalar(row[i], nil)] = struct{}{}
		}
		s.ColStats.Add(col, float64(len(distinct)), nulls)
	}
	return s
}
