// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package xform

import (
	"sort"

	"github.com/cockroachdb/cascades/pkg/sql/opt"
	"github.com/cockroachdb/cascades/pkg/sql/opt/memo"
)

var joinRules = []*Rule{
	{
		Name:    opt.JoinCommutativity,
		Kind:    TransformationRule,
		Pattern: Match(opt.JoinOp),
		Apply:   commuteInnerJoin,
	},
	{
		Name:    opt.JoinCommutativityOuter,
		Kind:    TransformationRule,
		Pattern: Match(opt.JoinOp),
		Apply:   commuteOuterJoin,
	},
	{
		Name:    opt.JoinAssociativity,
		Kind:    TransformationRule,
		Pattern: Match(opt.JoinOp, Match(opt.JoinOp), Leaf),
		Apply:   associateJoin,
	},
	{
		Name:    opt.JoinLeftAsscom,
		Kind:    TransformationRule,
		Pattern: Match(opt.JoinOp, Match(opt.JoinOp), Leaf),
		Apply:   leftAsscomJoin,
	},
	{
		Name:    opt.JoinSemiReorder,
		Kind:    TransformationRule,
		Pattern: Match(opt.JoinOp, Match(opt.JoinOp), Leaf),
		Apply:   reorderSemiJoin,
	},
}

func joinPrivate(e *memo.Expr) *memo.JoinPrivate {
	return e.Private.(*memo.JoinPrivate)
}

func newJoin(typ memo.JoinType, on []opt.ScalarExpr, left, right *memo.Expr) *memo.Expr {
	return memo.NewExpr(opt.JoinOp, &memo.JoinPrivate{Type: typ, On: canonicalAnd(on)}, left, right)
}

// canonicalAnd builds the conjunction of the conditions in a canonical
// order, dropping duplicates, so that rewrites reaching the same set of
// conditions along different paths produce the same fingerprint.
func canonicalAnd(conds []opt.ScalarExpr) opt.ScalarExpr {
	if len(conds) <= 1 {
		return opt.MakeAnd(conds)
	}
	keys := make(map[string]opt.ScalarExpr, len(conds))
	order := make([]string, 0, len(conds))
	for _, c := range conds {
		for _, cj := range opt.Conjuncts(c) {
			k := opt.FormatScalar(cj, nil)
			if _, ok := keys[k]; !ok {
				keys[k] = cj
				order = append(order, k)
			}
		}
	}
	sort.Strings(order)
	res := make([]opt.ScalarExpr, len(order))
	for i, k := range order {
		res[i] = keys[k]
	}
	return opt.MakeAnd(res)
}

// splitConjuncts partitions conditions into those bound by cols and the
// rest.
func splitConjuncts(conds []opt.ScalarExpr, cols opt.ColSet) (bound, rest []opt.ScalarExpr) {
	for _, c := range conds {
		if opt.OuterCols(c).SubsetOf(cols) {
			bound = append(bound, c)
		} else {
			rest = append(rest, c)
		}
	}
	return bound, rest
}

// commuteInnerJoin swaps the inputs of an inner or cross join.
//
//	(A ⋈ B) => (B ⋈ A)
func commuteInnerJoin(c *RuleContext, e *memo.Expr) []*memo.Expr {
	p := joinPrivate(e)
	if p.Type != memo.InnerJoin {
		return nil
	}
	return []*memo.Expr{memo.NewExpr(opt.JoinOp, p, e.Child(1), e.Child(0))}
}

// commuteOuterJoin swaps the inputs of left, right and full joins.
//
//	(A ⟕ B) => (B ⟖ A)
func commuteOuterJoin(c *RuleContext, e *memo.Expr) []*memo.Expr {
	p := joinPrivate(e)
	if p.Type == memo.InnerJoin {
		return nil
	}
	typ, ok := p.Type.Commute()
	if !ok {
		return nil
	}
	return []*memo.Expr{
		memo.NewExpr(opt.JoinOp, &memo.JoinPrivate{Type: typ, On: p.On}, e.Child(1), e.Child(0)),
	}
}

// associateJoin rotates a left-deep pair of inner joins. Conditions are
// redistributed so that each join gets the conditions bound by its inputs.
//
//	((A ⋈ B) ⋈ C) => (A ⋈ (B ⋈ C))
func associateJoin(c *RuleContext, e *memo.Expr) []*memo.Expr {
	top, left := joinPrivate(e), joinPrivate(e.Child(0))
	if top.Type != memo.InnerJoin || left.Type != memo.InnerJoin {
		return nil
	}
	a, b, cc := e.Child(0).Child(0), e.Child(0).Child(1), e.Child(1)
	conds := append(opt.Conjuncts(left.On), opt.Conjuncts(top.On)...)
	bcCols := c.OutputCols(b).ToSet().Union(c.OutputCols(cc).ToSet())
	lower, upper := splitConjuncts(conds, bcCols)
	if len(lower) == 0 && !c.Config().ReorderCrossJoins {
		return nil
	}
	return []*memo.Expr{newJoin(memo.InnerJoin, upper, a, newJoin(memo.InnerJoin, lower, b, cc))}
}

// leftAsscomJoin exchanges the right inputs of a left-deep pair of joins.
// Inner joins always commute this way; left joins do when the top condition
// does not reference B.
//
//	((A ⋈ B) ⋈ C) => ((A ⋈ C) ⋈ B)
func leftAsscomJoin(c *RuleContext, e *memo.Expr) []*memo.Expr {
	top, left := joinPrivate(e), joinPrivate(e.Child(0))
	a, b, cc := e.Child(0).Child(0), e.Child(0).Child(1), e.Child(1)
	switch {
	case top.Type == memo.InnerJoin && left.Type == memo.InnerJoin:
		conds := append(opt.Conjuncts(left.On), opt.Conjuncts(top.On)...)
		acCols := c.OutputCols(a).ToSet().Union(c.OutputCols(cc).ToSet())
		lower, upper := splitConjuncts(conds, acCols)
		if len(lower) == 0 && !c.Config().ReorderCrossJoins {
			return nil
		}
		return []*memo.Expr{newJoin(memo.InnerJoin, upper, newJoin(memo.InnerJoin, lower, a, cc), b)}

	case top.Type == memo.LeftJoin && left.Type == memo.LeftJoin:
		if opt.OuterCols(top.On).Intersects(c.OutputCols(b).ToSet()) {
			return nil
		}
		return []*memo.Expr{
			newJoin(memo.LeftJoin, opt.Conjuncts(left.On),
				newJoin(memo.LeftJoin, opt.Conjuncts(top.On), a, cc), b),
		}
	}
	return nil
}

// reorderSemiJoin evaluates a semi or anti join before an inner join when
// its condition only references the left side of the inner join.
//
//	((A ⋈ B) ⋉ C) => ((A ⋉ C) ⋈ B)
func reorderSemiJoin(c *RuleContext, e *memo.Expr) []*memo.Expr {
	top, left := joinPrivate(e), joinPrivate(e.Child(0))
	if (top.Type != memo.SemiJoin && top.Type != memo.AntiJoin) || left.Type != memo.InnerJoin {
		return nil
	}
	a, b, cc := e.Child(0).Child(0), e.Child(0).Child(1), e.Child(1)
	if opt.OuterCols(top.On).Intersects(c.OutputCols(b).ToSet()) {
		return nil
	}
	semi := memo.NewExpr(opt.JoinOp, &memo.JoinPrivate{Type: top.Type, On: top.On}, a, cc)
	return []*memo.Expr{memo.NewExpr(opt.JoinOp, left, semi, b)}
}
