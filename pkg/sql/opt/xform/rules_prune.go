// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package xform

import (
	"github.com/cockroachdb/cascades/pkg/sql/opt"
	"github.com/cockroachdb/cascades/pkg/sql/opt/memo"
)

var pruneRules = []*Rule{
	{
		Name:    opt.PruneScanColumns,
		Kind:    TransformationRule,
		Pattern: Match(opt.ProjectOp, Match(opt.ScanOp)),
		Apply:   pruneScanColumns,
	},
	{
		Name:    opt.PruneProject,
		Kind:    TransformationRule,
		Pattern: Match(opt.ProjectOp),
		Apply:   pruneProject,
	},
	{
		Name:    opt.MergeTwoProject,
		Kind:    TransformationRule,
		Pattern: Match(opt.ProjectOp, Match(opt.ProjectOp)),
		Apply:   mergeProjects,
	},
	{
		Name:    opt.PruneAggColumns,
		Kind:    TransformationRule,
		Pattern: Match(opt.AggregateOp),
		Apply:   pruneAggColumns,
	},
	{
		Name:    opt.PruneJoinColumns,
		Kind:    TransformationRule,
		Pattern: Match(opt.ProjectOp, Match(opt.JoinOp)),
		Apply:   pruneJoinColumns,
	},
}

func projectPrivate(e *memo.Expr) *memo.ProjectPrivate {
	return e.Private.(*memo.ProjectPrivate)
}

// restrictCols returns the columns of the list that are in the set, in list
// order.
func restrictCols(list opt.ColList, set opt.ColSet) opt.ColList {
	res := make(opt.ColList, 0, set.Len())
	for _, c := range list {
		if set.Contains(c) {
			res = append(res, c)
		}
	}
	return res
}

// pruneInput wraps input in a projection onto the needed columns, or returns
// it unchanged when it produces no other columns.
func pruneInput(c *RuleContext, input *memo.Expr, needed opt.ColSet) (_ *memo.Expr, pruned bool) {
	cols := c.OutputCols(input)
	keep := restrictCols(cols, needed)
	if len(keep) == len(cols) || len(keep) == 0 {
		return input, false
	}
	return memo.NewExpr(opt.ProjectOp, memo.Passthrough(keep), input), true
}

// pruneScanColumns narrows a scan to the columns a projection uses.
//
//	(Project (Scan t cols=(a,b,c)) [a]) => (Scan t cols=(a))
func pruneScanColumns(c *RuleContext, e *memo.Expr) []*memo.Expr {
	p := projectPrivate(e)
	scan := e.Child(0).Private.(*memo.ScanPrivate)
	filterCols := opt.OuterCols(scan.Filter)

	if p.IsPassthroughOnly() {
		cols := p.OutputCols()
		if !filterCols.SubsetOf(cols.ToSet()) || cols.ToSet().Equals(scan.Cols.ToSet()) {
			return nil
		}
		pruned := *scan
		pruned.Cols = cols
		return []*memo.Expr{memo.NewExpr(opt.ScanOp, &pruned)}
	}

	needed := p.InputCols().Union(filterCols)
	cols := restrictCols(scan.Cols, needed)
	if len(cols) == len(scan.Cols) || len(cols) == 0 {
		return nil
	}
	pruned := *scan
	pruned.Cols = cols
	return []*memo.Expr{memo.NewExpr(opt.ProjectOp, p, memo.NewExpr(opt.ScanOp, &pruned))}
}

// pruneProject removes a projection that passes through exactly the columns
// of its input.
func pruneProject(c *RuleContext, e *memo.Expr) []*memo.Expr {
	p := projectPrivate(e)
	if !p.IsPassthroughOnly() || !p.OutputCols().ToSet().Equals(c.OutputCols(e.Child(0)).ToSet()) {
		return nil
	}
	return []*memo.Expr{e.Child(0)}
}

// mergeProjects combines two adjacent projections, replacing references to
// columns computed by the inner projection with their definitions.
func mergeProjects(c *RuleContext, e *memo.Expr) []*memo.Expr {
	outer := projectPrivate(e)
	inner := projectPrivate(e.Child(0))
	defs := make(map[opt.ColumnID]opt.ScalarExpr, len(inner.Items))
	for i := range inner.Items {
		if inner.Items[i].Expr != nil {
			defs[inner.Items[i].Col] = inner.Items[i].Expr
		}
	}
	subst := func(col opt.ColumnID) opt.ScalarExpr {
		if def, ok := defs[col]; ok {
			return def
		}
		return opt.NewVariable(col)
	}
	items := make([]memo.ProjectItem, len(outer.Items))
	for i, item := range outer.Items {
		switch {
		case item.Expr != nil:
			items[i] = memo.ProjectItem{Col: item.Col, Expr: replaceVars(item.Expr, subst)}
		case defs[item.Col] != nil:
			items[i] = memo.ProjectItem{Col: item.Col, Expr: defs[item.Col]}
		default:
			items[i] = item
		}
	}
	return []*memo.Expr{
		memo.NewExpr(opt.ProjectOp, &memo.ProjectPrivate{Items: items}, e.Child(0).Child(0)),
	}
}

// pruneAggColumns projects away the input columns an aggregation does not
// use.
func pruneAggColumns(c *RuleContext, e *memo.Expr) []*memo.Expr {
	p := e.Private.(*memo.AggregatePrivate)
	input, pruned := pruneInput(c, e.Child(0), p.InputCols())
	if !pruned {
		return nil
	}
	return []*memo.Expr{memo.NewExpr(opt.AggregateOp, p, input)}
}

// pruneJoinColumns projects away the columns of the join inputs that neither
// the join condition nor the projection above it use.
func pruneJoinColumns(c *RuleContext, e *memo.Expr) []*memo.Expr {
	p := projectPrivate(e)
	join := e.Child(0)
	needed := p.InputCols().Union(opt.OuterCols(joinPrivate(join).On))
	left, prunedLeft := pruneInput(c, join.Child(0), needed)
	right, prunedRight := pruneInput(c, join.Child(1), needed)
	if !prunedLeft && !prunedRight {
		return nil
	}
	return []*memo.Expr{
		memo.NewExpr(opt.ProjectOp, p, memo.NewExpr(opt.JoinOp, join.Private, left, right)),
	}
}
