// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package memo

import (
	"github.com/cockroachdb/cascades/pkg/sql/opt"
	"github.com/cockroachdb/errors"
)

// OutputCols derives the output columns of an operator from its private and
// the output columns of its inputs. Logical operators and their physical
// implementations produce the same columns in the same order.
func OutputCols(op opt.Operator, private Private, children []opt.ColList) opt.ColList {
	switch op {
	case opt.ScanOp, opt.PhysScanOp:
		return private.(*ScanPrivate).Cols

	case opt.SelectOp, opt.PhysFilterOp, opt.SortOp, opt.PhysSortOp,
		opt.TopNOp, opt.PhysTopNOp, opt.LimitOp, opt.PhysLimitOp,
		opt.CTEProduceOp, opt.PhysCTEProduceOp, opt.DistributeOp, opt.PhysNoCTEOp:
		return children[0]

	case opt.ProjectOp, opt.PhysProjectOp:
		return private.(*ProjectPrivate).OutputCols()

	case opt.JoinOp:
		return joinOutputCols(private.(*JoinPrivate).Type, children)

	case opt.HashJoinOp, opt.MergeJoinOp, opt.NestedLoopJoinOp:
		return joinOutputCols(private.(*PhysJoinPrivate).Type, children)

	case opt.AggregateOp, opt.HashAggOp, opt.StreamAggOp:
		return private.(*AggregatePrivate).OutputCols()

	case opt.UnionOp, opt.IntersectOp, opt.ExceptOp,
		opt.PhysUnionOp, opt.PhysIntersectOp, opt.PhysExceptOp:
		return private.(*SetOpPrivate).OutCols

	case opt.WindowOp, opt.PhysWindowOp:
		p := private.(*WindowPrivate)
		cols := make(opt.ColList, 0, len(children[0])+len(p.Funcs))
		cols = append(cols, children[0]...)
		for i := range p.Funcs {
			cols = append(cols, p.Funcs[i].Col)
		}
		return cols

	case opt.CTEAnchorOp, opt.PhysCTEAnchorOp:
		return children[1]

	case opt.CTEConsumeOp, opt.PhysCTEConsumeOp:
		return private.(*CTEConsumePrivate).Cols

	case opt.TableFuncOp, opt.PhysTableFuncOp:
		return private.(*TableFuncPrivate).Cols

	case opt.ValuesOp, opt.PhysValuesOp:
		return private.(*ValuesPrivate).Cols
	}
	panic(errors.AssertionFailedf("unhandled operator %s", op))
}

func joinOutputCols(typ JoinType, children []opt.ColList) opt.ColList {
	if !typ.OutputsRight() {
		return children[0]
	}
	cols := make(opt.ColList, 0, len(children[0])+len(children[1]))
	cols = append(cols, children[0]...)
	return append(cols, children[1]...)
}
