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

var implementationRules = []*Rule{
	scanRule(opt.ImplOlapScan, cat.OlapSource),
	scanRule(opt.ImplHiveScan, cat.HiveSource),
	scanRule(opt.ImplIcebergScan, cat.IcebergSource),
	scanRule(opt.ImplHudiScan, cat.HudiSource),
	scanRule(opt.ImplDeltaLakeScan, cat.DeltaLakeSource),
	scanRule(opt.ImplPaimonScan, cat.PaimonSource),
	scanRule(opt.ImplFileScan, cat.FileSource),
	scanRule(opt.ImplSchemaScan, cat.SchemaSource),
	scanRule(opt.ImplMySQLScan, cat.MySQLSource),
	scanRule(opt.ImplESScan, cat.ESSource),
	scanRule(opt.ImplJDBCScan, cat.JDBCSource),
	scanRule(opt.ImplMetaScan, cat.MetaSource),
	{
		Name:    opt.ImplHashJoin,
		Kind:    ImplementationRule,
		Pattern: Match(opt.JoinOp),
		Apply:   implementHashJoin,
	},
	{
		Name:    opt.ImplMergeJoin,
		Kind:    ImplementationRule,
		Pattern: Match(opt.JoinOp),
		Apply:   implementMergeJoin,
	},
	{
		Name:    opt.ImplNestLoopJoin,
		Kind:    ImplementationRule,
		Pattern: Match(opt.JoinOp),
		Apply:   implementNestedLoopJoin,
	},
	simpleImpl(opt.ImplUnion, opt.UnionOp, opt.PhysUnionOp),
	simpleImpl(opt.ImplExcept, opt.ExceptOp, opt.PhysExceptOp),
	simpleImpl(opt.ImplIntersect, opt.IntersectOp, opt.PhysIntersectOp),
	simpleImpl(opt.ImplHashAgg, opt.AggregateOp, opt.HashAggOp),
	simpleImpl(opt.ImplStreamAgg, opt.AggregateOp, opt.StreamAggOp),
	simpleImpl(opt.ImplProject, opt.ProjectOp, opt.PhysProjectOp),
	simpleImpl(opt.ImplFilter, opt.SelectOp, opt.PhysFilterOp),
	simpleImpl(opt.ImplSort, opt.SortOp, opt.PhysSortOp),
	simpleImpl(opt.ImplTopN, opt.TopNOp, opt.PhysTopNOp),
	simpleImpl(opt.ImplLimit, opt.LimitOp, opt.PhysLimitOp),
	simpleImpl(opt.ImplWindow, opt.WindowOp, opt.PhysWindowOp),
	simpleImpl(opt.ImplValues, opt.ValuesOp, opt.PhysValuesOp),
	simpleImpl(opt.ImplTableFunction, opt.TableFuncOp, opt.PhysTableFuncOp),
	{
		Name:    opt.ImplCTEConsumeReuse,
		Kind:    ImplementationRule,
		Pattern: Match(opt.CTEConsumeOp),
		Apply:   implementCTEConsume,
	},
	{
		Name:    opt.ImplCTEAnchor,
		Kind:    ImplementationRule,
		Pattern: Match(opt.CTEAnchorOp),
		Apply:   implementCTEAnchor,
	},
	{
		Name:    opt.ImplCTEAnchorToNoCTE,
		Kind:    ImplementationRule,
		Pattern: Match(opt.CTEAnchorOp),
		Apply:   implementInlinedCTEAnchor,
	},
	simpleImpl(opt.ImplCTEProduce, opt.CTEProduceOp, opt.PhysCTEProduceOp),
}

// scanRule implements scans of tables read through the given connector.
func scanRule(name opt.RuleName, kind cat.SourceKind) *Rule {
	return &Rule{
		Name:    name,
		Kind:    ImplementationRule,
		Pattern: Match(opt.ScanOp),
		Apply: func(c *RuleContext, e *memo.Expr) []*memo.Expr {
			p := e.Private.(*memo.ScanPrivate)
			if c.Metadata().Table(p.Table).SourceKind() != kind {
				return nil
			}
			return []*memo.Expr{memo.NewExpr(opt.PhysScanOp, p)}
		},
	}
}

// simpleImpl maps a logical operator to the physical operator with the same
// private and inputs.
func simpleImpl(name opt.RuleName, from, to opt.Operator) *Rule {
	return &Rule{
		Name:    name,
		Kind:    ImplementationRule,
		Pattern: Match(from),
		Apply: func(c *RuleContext, e *memo.Expr) []*memo.Expr {
			return []*memo.Expr{memo.NewExpr(to, e.Private, e.Children...)}
		},
	}
}

// joinKeys extracts the equality columns of the join condition.
func joinKeys(c *RuleContext, e *memo.Expr) (left, right opt.ColList) {
	leftCols := c.OutputCols(e.Child(0)).ToSet()
	rightCols := c.OutputCols(e.Child(1)).ToSet()
	for _, cond := range opt.Conjuncts(joinPrivate(e).On) {
		if l, r, ok := opt.ExtractEquality(cond, leftCols, rightCols); ok {
			left = append(left, l)
			right = append(right, r)
		}
	}
	return left, right
}

// canBroadcast returns true if the join may replicate its right input. Joins
// that return unmatched right rows cannot.
func canBroadcast(c *RuleContext, e *memo.Expr) bool {
	switch joinPrivate(e).Type {
	case memo.RightJoin, memo.FullJoin:
		return false
	}
	return c.Stats(e.Child(1)).RowCount <= c.Config().BroadcastRowLimit
}

// joinModes returns the distribution strategies available to a physical
// join.
func joinModes(c *RuleContext, e *memo.Expr, keyed bool) []memo.JoinMode {
	if !c.IsDistributed() {
		return []memo.JoinMode{memo.LocalJoin}
	}
	var modes []memo.JoinMode
	if keyed {
		modes = append(modes, memo.ShuffleJoin)
	}
	if canBroadcast(c, e) {
		modes = append(modes, memo.BroadcastJoin)
	}
	return append(modes, memo.GatherJoin)
}

func physicalJoins(c *RuleContext, e *memo.Expr, op opt.Operator, needKeys bool) []*memo.Expr {
	p := joinPrivate(e)
	left, right := joinKeys(c, e)
	if needKeys && len(left) == 0 {
		return nil
	}
	var res []*memo.Expr
	for _, mode := range joinModes(c, e, len(left) > 0) {
		res = append(res, memo.NewExpr(op, &memo.PhysJoinPrivate{
			Type:      p.Type,
			Mode:      mode,
			LeftKeys:  left,
			RightKeys: right,
			On:        p.On,
		}, e.Child(0), e.Child(1)))
	}
	return res
}

func implementHashJoin(c *RuleContext, e *memo.Expr) []*memo.Expr {
	return physicalJoins(c, e, opt.HashJoinOp, true /* needKeys */)
}

func implementMergeJoin(c *RuleContext, e *memo.Expr) []*memo.Expr {
	return physicalJoins(c, e, opt.MergeJoinOp, true /* needKeys */)
}

func implementNestedLoopJoin(c *RuleContext, e *memo.Expr) []*memo.Expr {
	p := joinPrivate(e)
	var res []*memo.Expr
	for _, mode := range joinModes(c, e, false /* keyed */) {
		res = append(res, memo.NewExpr(opt.NestedLoopJoinOp, &memo.PhysJoinPrivate{
			Type: p.Type,
			Mode: mode,
			On:   p.On,
		}, e.Child(0), e.Child(1)))
	}
	return res
}

// implementCTEConsume reads the rows produced by the CTE.
func implementCTEConsume(c *RuleContext, e *memo.Expr) []*memo.Expr {
	if cteInlined(c, e.Private.(*memo.CTEConsumePrivate).ID) {
		return nil
	}
	return []*memo.Expr{memo.NewExpr(opt.PhysCTEConsumeOp, e.Private)}
}

// implementCTEAnchor produces the CTE once before running the query that
// consumes it.
func implementCTEAnchor(c *RuleContext, e *memo.Expr) []*memo.Expr {
	if cteInlined(c, e.Private.(*memo.CTEPrivate).ID) {
		return nil
	}
	return []*memo.Expr{memo.NewExpr(opt.PhysCTEAnchorOp, e.Private, e.Children...)}
}

// implementInlinedCTEAnchor runs the query of an inlined CTE without
// producing it.
func implementInlinedCTEAnchor(c *RuleContext, e *memo.Expr) []*memo.Expr {
	if !cteInlined(c, e.Private.(*memo.CTEPrivate).ID) {
		return nil
	}
	return []*memo.Expr{memo.NewExpr(opt.PhysNoCTEOp, e.Private, e.Child(1))}
}
