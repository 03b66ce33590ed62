// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package optbuilder

import (
	"github.com/cockroachdb/cascades/pkg/sql/opt"
	"github.com/cockroachdb/cascades/pkg/sql/opt/memo"
)

// buildOrdering builds a bracketed list of ordering columns such as
// [a -b +c].
func (b *Builder) buildOrdering(n *node, s *scope) opt.Ordering {
	expectKind(n, bracketNode, "ordering column list")
	var ord opt.Ordering
	for _, c := range n.children {
		name := atomText(c, "ordering column")
		desc := false
		switch name[0] {
		case '-':
			desc, name = true, name[1:]
		case '+':
			name = name[1:]
		}
		col := s.resolve(name, c.pos).id
		if ord.ColSet().Contains(col) {
			errorf(c.pos, "column %q appears twice in the ordering", name)
		}
		ord = append(ord, opt.MakeOrderingColumn(col, desc))
	}
	return ord
}

func (b *Builder) buildSort(n *node) (*memo.Expr, *scope) {
	args, _ := options(n)
	checkArgs(n, args, 2)
	input, s := b.buildRelational(args[1])
	ord := b.buildOrdering(args[0], s)
	if ord.Empty() {
		errorf(args[0].pos, "sort needs at least one column")
	}
	return memo.NewExpr(opt.SortOp, &memo.SortPrivate{Ordering: ord}, input), s
}

// buildTopN builds the first n rows of the input in the given order, after
// skipping the offset.
func (b *Builder) buildTopN(n *node) (*memo.Expr, *scope) {
	args, opts := options(n, "offset")
	checkArgs(n, args, 3)
	count := parseCount(args[0], "topn count")
	input, s := b.buildRelational(args[2])
	p := &memo.TopNPrivate{
		Ordering: b.buildOrdering(args[1], s),
		Limit:    count,
		Offset:   b.offset(opts),
		Phase:    memo.FullLimit,
	}
	if p.Ordering.Empty() {
		errorf(args[1].pos, "topn needs at least one ordering column")
	}
	return memo.NewExpr(opt.TopNOp, p, input), s
}

func (b *Builder) buildLimit(n *node) (*memo.Expr, *scope) {
	args, opts := options(n, "offset")
	checkArgs(n, args, 2)
	count := parseCount(args[0], "limit count")
	input, s := b.buildRelational(args[1])
	p := &memo.LimitPrivate{
		Limit:    count,
		Offset:   b.offset(opts),
		Phase:    memo.FullLimit,
		Ordering: inputOrdering(input),
	}
	return memo.NewExpr(opt.LimitOp, p, input), s
}

// inputOrdering returns the order of the rows of a built expression that a
// limit over it must respect: the ordering of a sort, possibly below filters
// and projections that keep its columns.
func inputOrdering(e *memo.Expr) opt.Ordering {
	switch e.Op {
	case opt.SortOp:
		return e.Private.(*memo.SortPrivate).Ordering
	case opt.TopNOp:
		return e.Private.(*memo.TopNPrivate).Ordering
	case opt.LimitOp:
		return e.Private.(*memo.LimitPrivate).Ordering
	case opt.SelectOp:
		return inputOrdering(e.Children[0])
	case opt.ProjectOp:
		ord := inputOrdering(e.Children[0])
		pass := e.Private.(*memo.ProjectPrivate).PassthroughCols()
		for i, c := range ord {
			if !pass.Contains(c.ID()) {
				return ord[:i:i]
			}
		}
		return ord
	}
	return nil
}

func (b *Builder) offset(opts map[string]*node) int64 {
	if n, ok := opts["offset"]; ok {
		return parseCount(n, "offset")
	}
	return 0
}
