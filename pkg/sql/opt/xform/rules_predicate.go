// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package xform

import (
	"github.com/cockroachdb/cascades/pkg/sql/opt"
	"github.com/cockroachdb/cascades/pkg/sql/opt/cat"
	"github.com/cockroachdb/cascades/pkg/sql/opt/memo"
	"github.com/cockroachdb/errors"
)

var predicateRules = []*Rule{
	{
		Name:    opt.PushDownPredicateScan,
		Kind:    TransformationRule,
		Pattern: Match(opt.SelectOp, Match(opt.ScanOp)),
		Apply:   pushSelectIntoScan,
	},
	{
		Name:    opt.MergeTwoFilters,
		Kind:    TransformationRule,
		Pattern: Match(opt.SelectOp, Match(opt.SelectOp)),
		Apply:   mergeSelects,
	},
	{
		Name:    opt.PruneTrueFilter,
		Kind:    TransformationRule,
		Pattern: Match(opt.SelectOp),
		Apply:   pruneTrueFilter,
	},
	{
		Name:    opt.CastToEmpty,
		Kind:    TransformationRule,
		Pattern: Match(opt.SelectOp),
		Apply:   castToEmpty,
	},
	{
		Name:    opt.PushDownPredicateProject,
		Kind:    TransformationRule,
		Pattern: Match(opt.SelectOp, Match(opt.ProjectOp)),
		Apply:   pushSelectIntoProject,
	},
	{
		Name:    opt.PushDownPredicateJoin,
		Kind:    TransformationRule,
		Pattern: Match(opt.SelectOp, Match(opt.JoinOp)),
		Apply:   pushSelectIntoJoin,
	},
	{
		Name:    opt.PushDownJoinClause,
		Kind:    TransformationRule,
		Pattern: Match(opt.JoinOp),
		Apply:   pushJoinConditions,
	},
	{
		Name:    opt.PushDownPredicateAgg,
		Kind:    TransformationRule,
		Pattern: Match(opt.SelectOp, Match(opt.AggregateOp)),
		Apply:   pushSelectIntoAggregate,
	},
	{
		Name:    opt.PushDownPredicateUnion,
		Kind:    TransformationRule,
		Pattern: Match(opt.SelectOp, Match(opt.UnionOp)),
		Apply:   pushSelectIntoSetOp,
	},
	{
		Name:    opt.PushDownPredicateSetOp,
		Kind:    TransformationRule,
		Pattern: Match(opt.SelectOp, Match(opt.AnyOp)),
		Apply:   pushSelectIntoIntersectExcept,
	},
	{
		Name:    opt.PushDownPredicateWindow,
		Kind:    TransformationRule,
		Pattern: Match(opt.SelectOp, Match(opt.WindowOp)),
		Apply:   pushSelectIntoWindow,
	},
	{
		Name:    opt.PushDownPredicateCTEConsume,
		Kind:    TransformationRule,
		Pattern: Match(opt.SelectOp, Match(opt.CTEConsumeOp)),
		Apply:   pushSelectIntoCTEConsume,
	},
}

func selectFilter(e *memo.Expr) opt.ScalarExpr {
	return e.Private.(*memo.SelectPrivate).Filter
}

// newSelect wraps input in a filter, or returns input when there are no
// conditions.
func newSelect(conds []opt.ScalarExpr, input *memo.Expr) *memo.Expr {
	if len(conds) == 0 {
		return input
	}
	return memo.NewExpr(opt.SelectOp, &memo.SelectPrivate{Filter: canonicalAnd(conds)}, input)
}

// pushSelectIntoScan moves a filter into the scan below it, for sources that
// evaluate predicates, and prunes the partitions the filter excludes.
//
//	(Select (Scan t) f) => (Scan t filter=f)
func pushSelectIntoScan(c *RuleContext, e *memo.Expr) []*memo.Expr {
	filter := selectFilter(e)
	scan := e.Child(0).Private.(*memo.ScanPrivate)
	if scan.Limit > 0 {
		// The limit of a scan applies after its own filter.
		return nil
	}
	tab := c.Metadata().Table(scan.Table)
	parts := prunePartitions(c, scan, filter)

	if !tab.SourceKind().AcceptsPredicates() {
		if parts == nil {
			return nil
		}
		pruned := *scan
		pruned.Partitions = parts
		return []*memo.Expr{
			memo.NewExpr(opt.SelectOp, e.Private, memo.NewExpr(opt.ScanOp, &pruned)),
		}
	}

	res := *scan
	res.Filter = canonicalAnd(append(opt.Conjuncts(scan.Filter), opt.Conjuncts(filter)...))
	if parts != nil {
		res.Partitions = parts
	}
	return []*memo.Expr{memo.NewExpr(opt.ScanOp, &res)}
}

// prunePartitions returns the partitions of the scan that may contain rows
// satisfying the filter, or nil if no partition is excluded.
func prunePartitions(c *RuleContext, scan *memo.ScanPrivate, filter opt.ScalarExpr) []int {
	tab := c.Metadata().Table(scan.Table)
	ord := tab.PartitionColumn()
	if ord < 0 {
		return nil
	}
	col := scan.Table.ColumnID(ord)
	parts := tab.Partitions()
	candidates := scan.Partitions
	if candidates == nil {
		candidates = make([]int, len(parts))
		for i := range parts {
			candidates[i] = i
		}
	}
	res := make([]int, 0, len(candidates))
	for _, i := range candidates {
		if partitionMayMatch(&parts[i], col, filter) {
			res = append(res, i)
		}
	}
	if len(res) == len(candidates) {
		return nil
	}
	return res
}

func partitionMayMatch(p *cat.Partition, col opt.ColumnID, filter opt.ScalarExpr) bool {
	for _, cond := range opt.Conjuncts(filter) {
		c, op, v, ok := opt.ExtractConstBound(cond)
		if !ok || c != col {
			continue
		}
		var match bool
		switch op {
		case opt.EqOp:
			match = p.Lower <= v && v < p.Upper
		case opt.LtOp:
			match = p.Lower < v
		case opt.LeOp:
			match = p.Lower <= v
		case opt.GtOp, opt.GeOp:
			match = p.Upper > v
		default:
			match = true
		}
		if !match {
			return false
		}
	}
	return true
}

// mergeSelects combines adjacent filters.
//
//	(Select (Select x f2) f1) => (Select x f1 AND f2)
func mergeSelects(c *RuleContext, e *memo.Expr) []*memo.Expr {
	inner := e.Child(0)
	conds := append(opt.Conjuncts(selectFilter(inner)), opt.Conjuncts(selectFilter(e))...)
	return []*memo.Expr{newSelect(conds, inner.Child(0))}
}

// pruneTrueFilter removes a filter that is always true.
func pruneTrueFilter(c *RuleContext, e *memo.Expr) []*memo.Expr {
	if !opt.IsTrue(selectFilter(e)) {
		return nil
	}
	return []*memo.Expr{e.Child(0)}
}

// castToEmpty replaces a filter that rejects every row, or that filters an
// empty input, with an empty relation.
func castToEmpty(c *RuleContext, e *memo.Expr) []*memo.Expr {
	empty := c.IsEmpty(e.Child(0).Group)
	for _, cond := range opt.Conjuncts(selectFilter(e)) {
		if opt.IsFalse(cond) {
			empty = true
		}
	}
	if !empty {
		return nil
	}
	return []*memo.Expr{emptyValues(c.OutputCols(e))}
}

// replaceVars returns a copy of the expression with each column reference
// replaced by the result of fn.
func replaceVars(e opt.ScalarExpr, fn func(col opt.ColumnID) opt.ScalarExpr) opt.ScalarExpr {
	switch t := e.(type) {
	case nil:
		return nil
	case *opt.Variable:
		return fn(t.Col)
	case *opt.Const:
		return t
	case *opt.Comparison:
		return &opt.Comparison{Op: t.Op, Left: replaceVars(t.Left, fn), Right: replaceVars(t.Right, fn)}
	case *opt.And:
		return &opt.And{Left: replaceVars(t.Left, fn), Right: replaceVars(t.Right, fn)}
	case *opt.Or:
		return &opt.Or{Left: replaceVars(t.Left, fn), Right: replaceVars(t.Right, fn)}
	case *opt.Not:
		return &opt.Not{Input: replaceVars(t.Input, fn)}
	case *opt.IsNull:
		return &opt.IsNull{Input: replaceVars(t.Input, fn)}
	case *opt.Func:
		args := make([]opt.ScalarExpr, len(t.Args))
		for i := range t.Args {
			args[i] = replaceVars(t.Args[i], fn)
		}
		return &opt.Func{Name: t.Name, Args: args, Type: t.Type}
	}
	panic(errors.AssertionFailedf("unhandled scalar expression %T", e))
}

// pushSelectIntoProject moves conditions below a projection, replacing
// references to computed columns with their definitions.
//
//	(Select (Project x items) f) => (Project (Select x f') items)
func pushSelectIntoProject(c *RuleContext, e *memo.Expr) []*memo.Expr {
	proj := e.Child(0)
	p := proj.Private.(*memo.ProjectPrivate)
	defs := make(map[opt.ColumnID]opt.ScalarExpr, len(p.Items))
	for i := range p.Items {
		defs[p.Items[i].Col] = p.Items[i].Expr
	}
	conds := opt.Conjuncts(selectFilter(e))
	if len(conds) == 0 {
		return nil
	}
	pushed := make([]opt.ScalarExpr, len(conds))
	for i, cond := range conds {
		pushed[i] = replaceVars(cond, func(col opt.ColumnID) opt.ScalarExpr {
			if def := defs[col]; def != nil {
				return def
			}
			return opt.NewVariable(col)
		})
	}
	return []*memo.Expr{memo.NewExpr(opt.ProjectOp, p, newSelect(pushed, proj.Child(0)))}
}

// pushSelectIntoJoin moves the conditions of a filter that reference only
// one input below the join. Remaining conditions of an inner join become
// part of the join condition.
func pushSelectIntoJoin(c *RuleContext, e *memo.Expr) []*memo.Expr {
	join := e.Child(0)
	p := joinPrivate(join)
	left, right := join.Child(0), join.Child(1)
	leftCols, rightCols := c.OutputCols(left).ToSet(), c.OutputCols(right).ToSet()
	conds := opt.Conjuncts(selectFilter(e))

	switch p.Type {
	case memo.InnerJoin:
		toLeft, rest := splitConjuncts(conds, leftCols)
		toRight, rest := splitConjuncts(rest, rightCols)
		on := append(opt.Conjuncts(p.On), rest...)
		return []*memo.Expr{newJoin(memo.InnerJoin, on, newSelect(toLeft, left), newSelect(toRight, right))}

	case memo.LeftJoin, memo.SemiJoin, memo.AntiJoin:
		toLeft, rest := splitConjuncts(conds, leftCols)
		if len(toLeft) == 0 {
			return nil
		}
		pushed := memo.NewExpr(opt.JoinOp, p, newSelect(toLeft, left), right)
		return []*memo.Expr{newSelect(rest, pushed)}

	case memo.RightJoin:
		toRight, rest := splitConjuncts(conds, rightCols)
		if len(toRight) == 0 {
			return nil
		}
		pushed := memo.NewExpr(opt.JoinOp, p, left, newSelect(toRight, right))
		return []*memo.Expr{newSelect(rest, pushed)}
	}
	return nil
}

// pushJoinConditions moves join conditions that reference a single input
// into a filter on that input, where the join type allows it.
func pushJoinConditions(c *RuleContext, e *memo.Expr) []*memo.Expr {
	p := joinPrivate(e)
	left, right := e.Child(0), e.Child(1)
	leftCols, rightCols := c.OutputCols(left).ToSet(), c.OutputCols(right).ToSet()
	conds := opt.Conjuncts(p.On)

	var toLeft, toRight, rest []opt.ScalarExpr
	switch p.Type {
	case memo.InnerJoin, memo.SemiJoin:
		toLeft, rest = splitConjuncts(conds, leftCols)
		toRight, rest = splitConjuncts(rest, rightCols)
	case memo.LeftJoin, memo.AntiJoin:
		toRight, rest = splitConjuncts(conds, rightCols)
	case memo.RightJoin:
		toLeft, rest = splitConjuncts(conds, leftCols)
	default:
		return nil
	}
	// Conditions without column references stay in the join.
	keep := func(pushed []opt.ScalarExpr) []opt.ScalarExpr {
		var res []opt.ScalarExpr
		for _, cond := range pushed {
			if opt.OuterCols(cond).Empty() {
				rest = append(rest, cond)
				continue
			}
			res = append(res, cond)
		}
		return res
	}
	toLeft, toRight = keep(toLeft), keep(toRight)
	if len(toLeft) == 0 && len(toRight) == 0 {
		return nil
	}
	return []*memo.Expr{newJoin(p.Type, rest, newSelect(toLeft, left), newSelect(toRight, right))}
}

// pushSelectIntoAggregate moves conditions on grouping columns below a
// grouped aggregation.
func pushSelectIntoAggregate(c *RuleContext, e *memo.Expr) []*memo.Expr {
	agg := e.Child(0)
	p := agg.Private.(*memo.AggregatePrivate)
	if p.IsScalar() || p.Stage != memo.FullAgg {
		return nil
	}
	pushed, kept := splitConjuncts(opt.Conjuncts(selectFilter(e)), p.GroupingCols.ToSet())
	if len(pushed) == 0 {
		return nil
	}
	below := memo.NewExpr(opt.AggregateOp, p, newSelect(pushed, agg.Child(0)))
	return []*memo.Expr{newSelect(kept, below)}
}

// pushSelectIntoSetOp filters every input of a set operation, mapping the
// output columns to the columns of each input.
func pushSelectIntoSetOp(c *RuleContext, e *memo.Expr) []*memo.Expr {
	setOp := e.Child(0)
	p := setOp.Private.(*memo.SetOpPrivate)
	filter := selectFilter(e)
	children := make([]*memo.Expr, len(setOp.Children))
	for i, child := range setOp.Children {
		m := opt.MakeColMap(p.OutCols, p.InCols[i])
		children[i] = newSelect(opt.Conjuncts(opt.RemapScalar(filter, m)), child)
	}
	return []*memo.Expr{memo.NewExpr(setOp.Op, p, children...)}
}

func pushSelectIntoIntersectExcept(c *RuleContext, e *memo.Expr) []*memo.Expr {
	switch e.Child(0).Op {
	case opt.IntersectOp, opt.ExceptOp:
		return pushSelectIntoSetOp(c, e)
	}
	return nil
}

// pushSelectIntoWindow moves conditions on the partition columns below a
// window operator.
func pushSelectIntoWindow(c *RuleContext, e *memo.Expr) []*memo.Expr {
	win := e.Child(0)
	p := win.Private.(*memo.WindowPrivate)
	if len(p.Partition) == 0 {
		return nil
	}
	pushed, kept := splitConjuncts(opt.Conjuncts(selectFilter(e)), p.Partition.ToSet())
	if len(pushed) == 0 {
		return nil
	}
	below := memo.NewExpr(opt.WindowOp, p, newSelect(pushed, win.Child(0)))
	return []*memo.Expr{newSelect(kept, below)}
}

// pushSelectIntoCTEConsume evaluates a filter while reading a CTE.
func pushSelectIntoCTEConsume(c *RuleContext, e *memo.Expr) []*memo.Expr {
	p := *e.Child(0).Private.(*memo.CTEConsumePrivate)
	p.Filter = canonicalAnd(append(opt.Conjuncts(p.Filter), opt.Conjuncts(selectFilter(e))...))
	return []*memo.Expr{memo.NewExpr(opt.CTEConsumeOp, &p)}
}
