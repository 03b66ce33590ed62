// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package optbuilder

import (
	"github.com/cockroachdb/cascades/pkg/sql/opt"
	"github.com/cockroachdb/cascades/pkg/sql/opt/memo"
	"github.com/cockroachdb/cascades/pkg/sql/types"
)

func isAggregate(name string) bool {
	switch name {
	case memo.AggSum, memo.AggCount, memo.AggCountRows, memo.AggMin, memo.AggMax, memo.AggAvg:
		return true
	}
	return false
}

func isRankingFunc(name string) bool {
	switch name {
	case "rank", "row_number", "dense_rank":
		return true
	}
	return false
}

// buildAggregate builds a grouped or scalar aggregation. Aggregate arguments
// that are not plain columns are computed by a projection below the
// aggregation.
//
//	(agg [a] [(as (sum (* b 2)) s) (count_rows)] (scan t))
func (b *Builder) buildAggregate(n *node) (*memo.Expr, *scope) {
	args, _ := options(n)
	checkArgs(n, args, 3)
	expectKind(args[0], bracketNode, "grouping column list")
	expectKind(args[1], bracketNode, "aggregate list")
	input, inScope := b.buildRelational(args[2])

	p := &memo.AggregatePrivate{Stage: memo.FullAgg}
	out := &scope{}
	for _, g := range args[0].children {
		c := inScope.resolve(atomText(g, "grouping column"), g.pos)
		if p.GroupingCols.Contains(c.id) {
			errorf(g.pos, "column %q is grouped twice", g.text)
		}
		p.GroupingCols = append(p.GroupingCols, c.id)
		out.cols = append(out.cols, *c)
	}

	var argProj *memo.ProjectPrivate
	for _, item := range args[1].children {
		exprNode, name := parseAs(item)
		fn := exprNode.head()
		if !isAggregate(fn) {
			errorf(exprNode.pos, "%s is not an aggregate function", describe(exprNode))
		}
		fnArgs := exprNode.children[1:]
		agg := memo.AggItem{Func: fn}
		if len(fnArgs) > 0 && fnArgs[0].kind == atomNode && fnArgs[0].text == "distinct" {
			agg.Distinct, fnArgs = true, fnArgs[1:]
		}

		var argType *types.T
		if fn == memo.AggCountRows {
			if len(fnArgs) != 0 || agg.Distinct {
				errorf(exprNode.pos, "count_rows takes no arguments")
			}
		} else {
			if len(fnArgs) != 1 {
				errorf(exprNode.pos, "%s expects one argument", fn)
			}
			agg.Arg = b.aggregateArg(fn, fnArgs[0], inScope, &argProj)
			argType = b.md.ColumnMeta(agg.Arg).Type
			if (fn == memo.AggSum || fn == memo.AggAvg) && !isNumeric(argType) && argType.Family != types.UnknownFamily {
				errorf(fnArgs[0].pos, "%s requires a numeric argument, not %s", fn, argType)
			}
		}
		if name == "" {
			name = fn
		}
		col := b.newColumn(name, aggregateType(fn, argType))
		agg.Col = col.id
		p.Aggs = append(p.Aggs, agg)
		out.cols = append(out.cols, col)
	}
	if len(p.GroupingCols) == 0 && len(p.Aggs) == 0 {
		errorf(n.pos, "agg needs grouping columns or aggregates")
	}

	if argProj != nil {
		input = memo.NewExpr(opt.ProjectOp, argProj, input)
	}
	return memo.NewExpr(opt.AggregateOp, p, input), out
}

// aggregateArg returns the column an aggregate reads. A computed argument is
// added to the projection *proj, which is created on first use.
func (b *Builder) aggregateArg(
	fn string, n *node, inScope *scope, proj **memo.ProjectPrivate,
) opt.ColumnID {
	e := b.buildScalar(n, inScope)
	if v, ok := e.(*opt.Variable); ok {
		return v.Col
	}
	if *proj == nil {
		*proj = memo.Passthrough(inScope.colList())
	}
	col := b.newColumn(fn+"_arg", opt.ScalarType(e, b.md))
	(*proj).Items = append((*proj).Items, memo.ProjectItem{Col: col.id, Expr: e})
	return col.id
}

// buildWindow builds a window with a single partitioning and ordering shared
// by all its functions.
//
//	(window [a] [-b] [(as (rank) r) (as (sum b) s)] (scan t))
func (b *Builder) buildWindow(n *node) (*memo.Expr, *scope) {
	args, _ := options(n)
	checkArgs(n, args, 4)
	expectKind(args[0], bracketNode, "partition column list")
	expectKind(args[2], bracketNode, "window function list")
	input, inScope := b.buildRelational(args[3])

	p := &memo.WindowPrivate{Ordering: b.buildOrdering(args[1], inScope)}
	for _, c := range args[0].children {
		p.Partition = append(p.Partition, inScope.resolve(atomText(c, "partition column"), c.pos).id)
	}
	out := &scope{cols: append([]scopeColumn(nil), inScope.cols...)}
	for _, item := range args[2].children {
		exprNode, name := parseAs(item)
		fn := exprNode.head()
		fnArgs := exprNode.children[1:]
		w := memo.WindowItem{Func: fn}
		var argType *types.T
		switch {
		case isRankingFunc(fn):
			if len(fnArgs) != 0 {
				errorf(exprNode.pos, "%s takes no arguments", fn)
			}
		case isAggregate(fn) && fn != memo.AggCountRows:
			if len(fnArgs) != 1 {
				errorf(exprNode.pos, "%s expects one argument", fn)
			}
			c := inScope.resolve(atomText(fnArgs[0], "window function argument"), fnArgs[0].pos)
			w.Arg, argType = c.id, b.md.ColumnMeta(c.id).Type
		case fn == memo.AggCountRows:
			if len(fnArgs) != 0 {
				errorf(exprNode.pos, "count_rows takes no arguments")
			}
		default:
			errorf(exprNode.pos, "%s is not a window function", describe(exprNode))
		}
		if name == "" {
			name = fn
		}
		col := b.newColumn(name, aggregateType(fn, argType))
		w.Col = col.id
		p.Funcs = append(p.Funcs, w)
		out.cols = append(out.cols, col)
	}
	if len(p.Funcs) == 0 {
		errorf(n.pos, "window needs at least one function")
	}
	return memo.NewExpr(opt.WindowOp, p, input), out
}

// aggregateType returns the result type of an aggregate over an argument of
// type arg.
func aggregateType(fn string, arg *types.T) *types.T {
	switch fn {
	case memo.AggCount, memo.AggCountRows, "rank", "row_number", "dense_rank":
		return types.Int
	case memo.AggAvg:
		return types.Float
	}
	if arg == nil {
		return types.Unknown
	}
	return arg
}
