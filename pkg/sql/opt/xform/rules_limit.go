// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package xform

import (
	"github.com/cockroachdb/cascades/pkg/sql/opt"
	"github.com/cockroachdb/cascades/pkg/sql/opt/memo"
)

var limitRules = []*Rule{
	{
		Name:    opt.MergeLimitWithSort,
		Kind:    TransformationRule,
		Pattern: Match(opt.LimitOp, Match(opt.SortOp)),
		Apply:   mergeLimitWithSort,
	},
	{
		Name:    opt.MergeLimitWithLimit,
		Kind:    TransformationRule,
		Pattern: Match(opt.LimitOp, Match(opt.LimitOp)),
		Apply:   mergeLimits,
	},
	{
		Name:    opt.EliminateLimitZero,
		Kind:    TransformationRule,
		Pattern: Match(opt.LimitOp),
		Apply:   eliminateLimitZero,
	},
	{
		Name:    opt.PushDownLimitProject,
		Kind:    TransformationRule,
		Pattern: Match(opt.LimitOp, Match(opt.ProjectOp)),
		Apply:   pushLimitIntoProject,
	},
	{
		Name:    opt.PushDownLimitScan,
		Kind:    TransformationRule,
		Pattern: Match(opt.LimitOp, Match(opt.ScanOp)),
		Apply:   pushLimitIntoScan,
	},
	{
		Name:    opt.PushDownLimitUnion,
		Kind:    TransformationRule,
		Pattern: Match(opt.LimitOp, Match(opt.UnionOp)),
		Apply:   pushLimitIntoUnion,
	},
	{
		Name:    opt.PushDownLimitJoin,
		Kind:    TransformationRule,
		Pattern: Match(opt.LimitOp, Match(opt.JoinOp)),
		Apply:   pushLimitIntoJoin,
	},
	{
		Name:    opt.SplitLimit,
		Kind:    TransformationRule,
		Pattern: Match(opt.LimitOp),
		Apply:   splitLimit,
	},
	{
		Name:    opt.SplitTopN,
		Kind:    TransformationRule,
		Pattern: Match(opt.TopNOp),
		Apply:   splitTopN,
	},
}

func limitPrivate(e *memo.Expr) *memo.LimitPrivate {
	return e.Private.(*memo.LimitPrivate)
}

// fetchCount is the number of input rows a limit may need: the limit plus
// the rows it skips.
func fetchCount(limit, offset int64) int64 {
	return limit + offset
}

func newLimit(
	limit int64, phase memo.LimitPhase, ordering opt.Ordering, input *memo.Expr,
) *memo.Expr {
	return memo.NewExpr(opt.LimitOp, &memo.LimitPrivate{
		Limit:    limit,
		Phase:    phase,
		Ordering: ordering,
	}, input)
}

// mergeLimitWithSort replaces a limit over a sort with a top-n.
//
//	(Limit (Sort x ord) n) => (TopN x ord n)
func mergeLimitWithSort(c *RuleContext, e *memo.Expr) []*memo.Expr {
	p := limitPrivate(e)
	if p.Phase != memo.FullLimit {
		return nil
	}
	sort := e.Child(0)
	ordering := sort.Private.(*memo.SortPrivate).Ordering
	if !ordering.Provides(p.Ordering) {
		return nil
	}
	return []*memo.Expr{
		memo.NewExpr(opt.TopNOp, &memo.TopNPrivate{
			Ordering: ordering,
			Limit:    p.Limit,
			Offset:   p.Offset,
		}, sort.Child(0)),
	}
}

// mergeLimits combines two adjacent limits. The outer limit must take its
// rows in the order of the inner one, or in any order.
func mergeLimits(c *RuleContext, e *memo.Expr) []*memo.Expr {
	outer, inner := limitPrivate(e), limitPrivate(e.Child(0))
	if outer.Phase != memo.FullLimit || inner.Phase != memo.FullLimit {
		return nil
	}
	if !outer.Ordering.Empty() && !inner.Ordering.Provides(outer.Ordering) {
		return nil
	}
	limit := inner.Limit - outer.Offset
	if limit < 0 {
		limit = 0
	}
	if outer.Limit < limit {
		limit = outer.Limit
	}
	return []*memo.Expr{
		memo.NewExpr(opt.LimitOp, &memo.LimitPrivate{
			Limit:    limit,
			Offset:   inner.Offset + outer.Offset,
			Ordering: inner.Ordering,
		}, e.Child(0).Child(0)),
	}
}

// eliminateLimitZero replaces a limit of zero rows with an empty relation.
func eliminateLimitZero(c *RuleContext, e *memo.Expr) []*memo.Expr {
	if limitPrivate(e).Limit != 0 {
		return nil
	}
	return []*memo.Expr{emptyValues(c.OutputCols(e))}
}

// pushLimitIntoProject evaluates a limit before a projection, unless the
// limit orders its rows by a computed column.
//
//	(Limit (Project x items) n) => (Project (Limit x n) items)
func pushLimitIntoProject(c *RuleContext, e *memo.Expr) []*memo.Expr {
	proj := e.Child(0)
	ordering := limitPrivate(e).Ordering
	if !ordering.ColSet().SubsetOf(c.OutputCols(proj.Child(0)).ToSet()) {
		return nil
	}
	return []*memo.Expr{
		memo.NewExpr(opt.ProjectOp, proj.Private, memo.NewExpr(opt.LimitOp, e.Private, proj.Child(0))),
	}
}

// pushLimitIntoScan bounds the rows read by a scan. The limit stays above the
// scan, since every node of a distributed scan returns up to that many rows.
// A scan returns the first rows it reads, so ordered limits are not pushed.
//
//	(Limit (Scan t) n) => (Limit (Scan t limit=n) n)
func pushLimitIntoScan(c *RuleContext, e *memo.Expr) []*memo.Expr {
	p := limitPrivate(e)
	scan := e.Child(0).Private.(*memo.ScanPrivate)
	n := fetchCount(p.Limit, p.Offset)
	if n <= 0 || !p.Ordering.Empty() || (scan.Limit > 0 && scan.Limit <= n) {
		return nil
	}
	limited := *scan
	limited.Limit = n
	return []*memo.Expr{
		memo.NewExpr(opt.LimitOp, p, memo.NewExpr(opt.ScanOp, &limited)),
	}
}

// pushLimitIntoUnion limits every input of a union all that may return more
// rows than the limit needs. An ordered limit takes the first rows of every
// input in the same order.
func pushLimitIntoUnion(c *RuleContext, e *memo.Expr) []*memo.Expr {
	p := limitPrivate(e)
	union := e.Child(0)
	sp := union.Private.(*memo.SetOpPrivate)
	if !sp.All || p.Phase != memo.FullLimit {
		return nil
	}
	n := fetchCount(p.Limit, p.Offset)
	children := make([]*memo.Expr, len(union.Children))
	changed := false
	for i, child := range union.Children {
		children[i] = child
		if c.Stats(child).RowCount > float64(n) {
			ordering := p.Ordering.Remap(opt.MakeColMap(sp.OutCols, sp.InCols[i]))
			children[i] = newLimit(n, memo.FullLimit, ordering, child)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return []*memo.Expr{memo.NewExpr(opt.LimitOp, p, memo.NewExpr(opt.UnionOp, union.Private, children...))}
}

// pushLimitIntoJoin limits the preserved input of a left join or the left
// input of a cross join. Every row of that input produces at least one row
// of the join, or none for a cross join with an empty right input. An
// ordered limit is pushed only if it orders by columns of that input.
func pushLimitIntoJoin(c *RuleContext, e *memo.Expr) []*memo.Expr {
	p := limitPrivate(e)
	join := e.Child(0)
	jp := joinPrivate(join)
	if p.Phase != memo.FullLimit {
		return nil
	}
	left := join.Child(0)
	if !p.Ordering.ColSet().SubsetOf(c.OutputCols(left).ToSet()) {
		return nil
	}
	cross := jp.Type == memo.InnerJoin && opt.IsTrue(jp.On)
	if jp.Type != memo.LeftJoin && !cross {
		return nil
	}
	n := fetchCount(p.Limit, p.Offset)
	if c.Stats(left).RowCount <= float64(n) {
		return nil
	}
	limited := memo.NewExpr(opt.JoinOp, jp, newLimit(n, memo.FullLimit, p.Ordering, left), join.Child(1))
	return []*memo.Expr{memo.NewExpr(opt.LimitOp, p, limited)}
}

// splitLimit evaluates a limit on every node before gathering the rows and
// applying it again. Gathering loses the order of the rows, so an ordered
// limit is applied again by a top-n.
//
//	(Limit x n offset=k) => (Limit global (Limit local x n+k) n offset=k)
//	(Limit x n ord) => (TopN global (Limit local x n ord) ord n)
func splitLimit(c *RuleContext, e *memo.Expr) []*memo.Expr {
	p := limitPrivate(e)
	if !c.IsDistributed() || p.Phase != memo.FullLimit || p.Limit == 0 {
		return nil
	}
	local := newLimit(fetchCount(p.Limit, p.Offset), memo.LocalLimit, p.Ordering, e.Child(0))
	if !p.Ordering.Empty() {
		return []*memo.Expr{
			memo.NewExpr(opt.TopNOp, &memo.TopNPrivate{
				Ordering: p.Ordering,
				Limit:    p.Limit,
				Offset:   p.Offset,
				Phase:    memo.GlobalLimit,
			}, local),
		}
	}
	return []*memo.Expr{
		memo.NewExpr(opt.LimitOp, &memo.LimitPrivate{
			Limit:  p.Limit,
			Offset: p.Offset,
			Phase:  memo.GlobalLimit,
		}, local),
	}
}

// splitTopN is splitLimit for top-n.
func splitTopN(c *RuleContext, e *memo.Expr) []*memo.Expr {
	p := e.Private.(*memo.TopNPrivate)
	if !c.IsDistributed() || p.Phase != memo.FullLimit || p.Limit == 0 {
		return nil
	}
	local := memo.NewExpr(opt.TopNOp, &memo.TopNPrivate{
		Ordering: p.Ordering,
		Limit:    fetchCount(p.Limit, p.Offset),
		Phase:    memo.LocalLimit,
	}, e.Child(0))
	return []*memo.Expr{
		memo.NewExpr(opt.TopNOp, &memo.TopNPrivate{
			Ordering: p.Ordering,
			Limit:    p.Limit,
			Offset:   p.Offset,
			Phase:    memo.GlobalLimit,
		}, local),
	}
}
