// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package xform

import (
	"github.com/cockroachdb/cascades/pkg/sql/opt"
	"github.com/cockroachdb/cascades/pkg/sql/opt/cat"
	"github.com/cockroachdb/cascades/pkg/sql/opt/memo"
)

var aggCTEViewRules = []*Rule{
	{
		Name:    opt.SplitAggregate,
		Kind:    TransformationRule,
		Pattern: Match(opt.AggregateOp),
		Apply:   splitAggregate,
	},
	{
		Name:    opt.InlineCTEConsume,
		Kind:    TransformationRule,
		Pattern: Match(opt.CTEConsumeOp),
		Apply:   inlineCTEConsume,
	},
	{
		Name:    opt.PruneEmptyWindow,
		Kind:    TransformationRule,
		Pattern: Match(opt.WindowOp),
		Apply:   pruneEmptyWindow,
	},
	{
		Name:    opt.PruneUnionEmpty,
		Kind:    TransformationRule,
		Pattern: Match(opt.UnionOp),
		Apply:   pruneUnionEmpty,
	},
	{
		Name:    opt.MaterializedViewRewrite,
		Kind:    TransformationRule,
		Pattern: Match(opt.AggregateOp, Match(opt.ScanOp)),
		Apply:   rewriteAggregateView,
	},
	{
		Name:    opt.MVOnlyScan,
		Kind:    TransformationRule,
		Pattern: Match(opt.ScanOp),
		Apply:   rewriteProjectionView,
	},
}

// rollupFunc returns the aggregate that combines partial results of the
// given aggregate.
func rollupFunc(fn string) (string, bool) {
	switch fn {
	case memo.AggSum, memo.AggCount, memo.AggCountRows:
		return memo.AggSum, true
	case memo.AggMin, memo.AggMax:
		return fn, true
	}
	return "", false
}

// splitAggregate computes an aggregation in two stages: a local stage on
// every node and a global stage over the partial results.
//
//	(Aggregate x g count(a)) => (Aggregate global (Aggregate local x g c:=count(a)) g sum(c))
func splitAggregate(c *RuleContext, e *memo.Expr) []*memo.Expr {
	p := e.Private.(*memo.AggregatePrivate)
	if !c.IsDistributed() || p.Stage != memo.FullAgg {
		return nil
	}
	local := &memo.AggregatePrivate{GroupingCols: p.GroupingCols, Stage: memo.LocalAgg}
	global := &memo.AggregatePrivate{GroupingCols: p.GroupingCols, Stage: memo.GlobalAgg}
	for _, agg := range p.Aggs {
		rollup, ok := rollupFunc(agg.Func)
		if !ok || agg.Distinct {
			return nil
		}
		partial := c.NewColumn(c.Metadata().ColumnMeta(agg.Col).Alias+"_local", c.ColumnType(agg.Col))
		local.Aggs = append(local.Aggs, memo.AggItem{Col: partial, Func: agg.Func, Arg: agg.Arg})
		global.Aggs = append(global.Aggs, memo.AggItem{Col: agg.Col, Func: rollup, Arg: partial})
	}
	return []*memo.Expr{
		memo.NewExpr(opt.AggregateOp, global, memo.NewExpr(opt.AggregateOp, local, e.Child(0))),
	}
}

// cteInlined returns true if the consumers of the CTE read a copy of its
// definition instead of the produced rows.
func cteInlined(c *RuleContext, id int) bool {
	cfg := c.Config()
	return c.Memo().CTEConsumerCount(id) <= cfg.CTEInlineThreshold && !cfg.RuleDisabled(opt.InlineCTEConsume)
}

// cteDefinition returns the group of the query defining the CTE, or 0.
func cteDefinition(c *RuleContext, id int) memo.GroupID {
	mem := c.Memo()
	producer := mem.CTEProducer(id)
	if producer == 0 {
		return 0
	}
	for _, eid := range mem.Group(producer).Exprs() {
		if ge := mem.Expr(eid); ge.Op() == opt.CTEProduceOp {
			return mem.Find(ge.Child(0))
		}
	}
	return 0
}

// inlineCTEConsume replaces a consumer with the definition of its CTE,
// renaming the producer columns to the consumer columns.
func inlineCTEConsume(c *RuleContext, e *memo.Expr) []*memo.Expr {
	p := e.Private.(*memo.CTEConsumePrivate)
	if !cteInlined(c, p.ID) {
		return nil
	}
	def := cteDefinition(c, p.ID)
	if def == 0 {
		return nil
	}
	items := make([]memo.ProjectItem, len(p.Cols))
	for i := range p.Cols {
		items[i] = memo.ProjectItem{Col: p.Cols[i], Expr: opt.NewVariable(p.ProducerCols[i])}
	}
	body := memo.NewExpr(opt.ProjectOp, &memo.ProjectPrivate{Items: items}, memo.GroupRef(def))
	return []*memo.Expr{newSelect(opt.Conjuncts(p.Filter), body)}
}

// pruneEmptyWindow removes a window operator without functions, and replaces
// one over an empty input with an empty relation.
func pruneEmptyWindow(c *RuleContext, e *memo.Expr) []*memo.Expr {
	if c.IsEmpty(e.Child(0).Group) {
		return []*memo.Expr{emptyValues(c.OutputCols(e))}
	}
	if len(e.Private.(*memo.WindowPrivate).Funcs) == 0 {
		return []*memo.Expr{e.Child(0)}
	}
	return nil
}

// pruneUnionEmpty removes the empty inputs of a union.
func pruneUnionEmpty(c *RuleContext, e *memo.Expr) []*memo.Expr {
	p := e.Private.(*memo.SetOpPrivate)
	res := &memo.SetOpPrivate{OutCols: p.OutCols, All: p.All}
	var children []*memo.Expr
	for i, child := range e.Children {
		if c.IsEmpty(child.Group) {
			continue
		}
		children = append(children, child)
		res.InCols = append(res.InCols, p.InCols[i])
	}
	switch {
	case len(children) == len(e.Children):
		return nil
	case len(children) == 0:
		return []*memo.Expr{emptyValues(p.OutCols)}
	case len(children) == 1 && p.All:
		return []*memo.Expr{renameCols(p.OutCols, res.InCols[0], children[0])}
	}
	return []*memo.Expr{memo.NewExpr(opt.UnionOp, res, children...)}
}

// renameCols projects the input columns from onto the columns to.
func renameCols(to, from opt.ColList, input *memo.Expr) *memo.Expr {
	items := make([]memo.ProjectItem, len(to))
	for i := range to {
		items[i] = memo.ProjectItem{Col: to[i]}
		if from[i] != to[i] {
			items[i].Expr = opt.NewVariable(from[i])
		}
	}
	return memo.NewExpr(opt.ProjectOp, &memo.ProjectPrivate{Items: items}, input)
}

// views returns the materialized views over the table scanned by the
// expression.
func views(c *RuleContext, scan *memo.ScanPrivate) []*cat.MaterializedView {
	if c.Snapshot() == nil {
		return nil
	}
	return c.Snapshot().MaterializedViews(c.Metadata().Table(scan.Table).ID())
}

// viewCol returns the metadata column of the ord-th view column.
func viewCol(c *RuleContext, mv *cat.MaterializedView, ord int) opt.ColumnID {
	return c.ViewTable(mv.View).ColumnID(ord)
}

// rewriteAggregateView answers an aggregation over a table from an aggregate
// view of the table. A view grouped by exactly the query's grouping columns
// is read directly; a view grouped by more columns is rolled up.
func rewriteAggregateView(c *RuleContext, e *memo.Expr) []*memo.Expr {
	p := e.Private.(*memo.AggregatePrivate)
	scan := e.Child(0).Private.(*memo.ScanPrivate)
	if p.Stage != memo.FullAgg || scan.Filter != nil || scan.Limit > 0 || scan.Partitions != nil {
		return nil
	}
	var res []*memo.Expr
	for _, mv := range views(c, scan) {
		if !mv.IsAggregate() {
			continue
		}
		if out := matchAggregateView(c, p, scan.Table, mv); out != nil {
			res = append(res, out)
		}
	}
	return res
}

func matchAggregateView(
	c *RuleContext, p *memo.AggregatePrivate, tab opt.TableID, mv *cat.MaterializedView,
) *memo.Expr {
	groupPos := make(map[int]int, len(mv.GroupBy))
	for i, ord := range mv.GroupBy {
		groupPos[ord] = i
	}
	grouping := make(opt.ColList, len(p.GroupingCols))
	for i, col := range p.GroupingCols {
		pos, ok := groupPos[tab.ColumnOrdinal(col)]
		if !ok {
			return nil
		}
		grouping[i] = viewCol(c, mv, pos)
	}
	aggs := make([]opt.ColumnID, len(p.Aggs))
	for i, agg := range p.Aggs {
		if agg.Distinct {
			return nil
		}
		pos := -1
		for j, va := range mv.Aggregates {
			if viewAggregateMatches(va, agg, tab) {
				pos = len(mv.GroupBy) + j
				break
			}
		}
		if pos < 0 {
			return nil
		}
		aggs[i] = viewCol(c, mv, pos)
	}

	viewTab := c.ViewTable(mv.View)
	cols := append(append(opt.ColList(nil), grouping...), aggs...)
	readCols := dedupCols(cols)
	read := memo.NewExpr(opt.ScanOp, &memo.ScanPrivate{Table: viewTab, Cols: readCols})

	if len(p.GroupingCols) == len(mv.GroupBy) {
		items := make([]memo.ProjectItem, 0, len(cols))
		for i, col := range p.GroupingCols {
			items = append(items, memo.ProjectItem{Col: col, Expr: opt.NewVariable(grouping[i])})
		}
		for i := range p.Aggs {
			items = append(items, memo.ProjectItem{Col: p.Aggs[i].Col, Expr: opt.NewVariable(aggs[i])})
		}
		return memo.NewExpr(opt.ProjectOp, &memo.ProjectPrivate{Items: items}, read)
	}

	rollup := &memo.AggregatePrivate{GroupingCols: grouping}
	for i, agg := range p.Aggs {
		fn, ok := rollupFunc(agg.Func)
		if !ok {
			return nil
		}
		rollup.Aggs = append(rollup.Aggs, memo.AggItem{Col: agg.Col, Func: fn, Arg: aggs[i]})
	}
	items := make([]memo.ProjectItem, 0, len(cols))
	for i, col := range p.GroupingCols {
		items = append(items, memo.ProjectItem{Col: col, Expr: opt.NewVariable(grouping[i])})
	}
	for i := range p.Aggs {
		items = append(items, memo.ProjectItem{Col: p.Aggs[i].Col})
	}
	return memo.NewExpr(opt.ProjectOp, &memo.ProjectPrivate{Items: items},
		memo.NewExpr(opt.AggregateOp, rollup, read))
}

func viewAggregateMatches(va cat.ViewAggregate, agg memo.AggItem, tab opt.TableID) bool {
	if agg.Func == memo.AggCountRows {
		return va.Arg < 0 && (va.Func == memo.AggCount || va.Func == memo.AggCountRows)
	}
	return va.Func == agg.Func && va.Arg >= 0 && tab.ColumnID(va.Arg) == agg.Arg
}

func dedupCols(cols opt.ColList) opt.ColList {
	var seen opt.ColSet
	res := make(opt.ColList, 0, len(cols))
	for _, c := range cols {
		if !seen.Contains(c) {
			seen.Add(c)
			res = append(res, c)
		}
	}
	return res
}

// rewriteProjectionView reads the columns of a scan from a projection view
// that stores all of them.
func rewriteProjectionView(c *RuleContext, e *memo.Expr) []*memo.Expr {
	scan := e.Private.(*memo.ScanPrivate)
	if scan.Partitions != nil {
		return nil
	}
	needed := scan.Cols.ToSet().Union(opt.OuterCols(scan.Filter))
	var res []*memo.Expr
	for _, mv := range views(c, scan) {
		if mv.IsAggregate() {
			continue
		}
		pos := make(map[int]int, len(mv.Columns))
		for i, ord := range mv.Columns {
			pos[ord] = i
		}
		m := make(opt.ColMap, needed.Len())
		ok := true
		needed.ForEach(func(col opt.ColumnID) {
			i, found := pos[scan.Table.ColumnOrdinal(col)]
			if !found {
				ok = false
				return
			}
			m[col] = viewCol(c, mv, i)
		})
		if !ok {
			continue
		}
		read := &memo.ScanPrivate{
			Table:  c.ViewTable(mv.View),
			Cols:   make(opt.ColList, len(scan.Cols)),
			Filter: opt.RemapScalar(scan.Filter, m),
			Limit:  scan.Limit,
		}
		for i, col := range scan.Cols {
			read.Cols[i] = m[col]
		}
		res = append(res, renameCols(scan.Cols, read.Cols, memo.NewExpr(opt.ScanOp, read)))
	}
	return res
}
