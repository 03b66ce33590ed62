// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package explain formats physical plans for people.
package explain

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/cascades/pkg/sql/opt"
	"github.com/cockroachdb/cascades/pkg/sql/opt/exec"
	"github.com/cockroachdb/cascades/pkg/sql/opt/memo"
	"github.com/cockroachdb/cascades/pkg/sql/opt/props/physical"
	"github.com/cockroachdb/cascades/pkg/util/humanizeutil"
	"github.com/xlab/treeprint"
)

// Emit produces the EXPLAIN output of the plan:
//
//	estimated cost: 35.10
//	• limit
//	├── estimated row count: 10
//	├── count: 10
//	└── • distribute
//	    ├── target: gather
//	    └── • scan
//	        ├── table: t
//	        ...
func Emit(plan *exec.Plan, flags Flags) string {
	if plan == nil || plan.Root == nil {
		return ""
	}
	e := makeEmitter(plan.Metadata, flags)
	var buf strings.Builder
	if !flags.Deflake.HasAny(DeflakeCost) {
		fmt.Fprintf(&buf, "estimated cost: %s\n", plan.Cost)
	}
	if plan.Timedout {
		buf.WriteString("search timed out: best plan found so far\n")
	}
	tree := treeprint.NewWithRoot(e.nodeName(plan.Root))
	e.emitNode(tree, plan.Root)
	buf.WriteString(tree.String())
	return buf.String()
}

type emitter struct {
	md    *opt.Metadata
	flags Flags
}

func makeEmitter(md *opt.Metadata, flags Flags) emitter {
	return emitter{md: md, flags: flags}
}

func (e *emitter) emitNode(tp treeprint.Tree, n *exec.Node) {
	e.emitNodeAttributes(tp, n)
	for _, c := range n.Children {
		e.emitNode(tp.AddBranch(e.nodeName(c)), c)
	}
}

func (e *emitter) nodeName(n *exec.Node) string {
	name := n.Op.String()
	if p, ok := n.Private.(*memo.SetOpPrivate); ok && p.All {
		name += " all"
	}
	return "• " + name
}

func (e *emitter) field(tp treeprint.Tree, key string, format string, args ...interface{}) {
	tp.AddNode(key + ": " + fmt.Sprintf(format, args...))
}

func (e *emitter) emitNodeAttributes(tp treeprint.Tree, n *exec.Node) {
	if !e.flags.Deflake.HasAny(DeflakeRows) {
		e.field(tp, "estimated row count", "%s", humanizeutil.Count(n.Rows))
	}
	if !e.flags.Deflake.HasAny(DeflakeCost) {
		e.field(tp, "cost", "%s", n.Cost)
	}
	if e.flags.Verbose {
		e.field(tp, "columns", "%s", e.columns(n.OutputCols))
		if n.Required != nil && n.Required.Defined() {
			e.field(tp, "required", "%s", e.props(n.Required))
		}
		if n.Provided != nil && n.Provided.Defined() {
			e.field(tp, "provided", "%s", e.props(n.Provided))
		}
		if !e.flags.Deflake.HasAny(DeflakeRows) {
			e.field(tp, "estimated size", "%s", humanizeutil.IBytes(int64(n.Rows*e.width(n.OutputCols))))
		}
	}

	switch p := n.Private.(type) {
	case *memo.ScanPrivate:
		tm := e.md.TableMeta(p.Table)
		if tm.Alias != tm.Table.Name() {
			e.field(tp, "table", "%s as %s", tm.Table.Name(), tm.Alias)
		} else {
			e.field(tp, "table", "%s", tm.Table.Name())
		}
		e.field(tp, "source", "%s", tm.Table.SourceKind())
		if !e.flags.Verbose {
			e.field(tp, "columns", "%s", e.columns(p.Cols))
		}
		if p.Filter != nil {
			e.field(tp, "filter", "%s", e.scalar(p.Filter))
		}
		if p.Limit > 0 {
			e.field(tp, "limit", "%s", e.count(p.Limit))
		}
		if p.Partitions != nil {
			parts := tm.Table.Partitions()
			names := make([]string, len(p.Partitions))
			for i, ord := range p.Partitions {
				names[i] = parts[ord].Name
			}
			e.field(tp, "partitions", "%d of %d (%s)", len(names), len(parts), strings.Join(names, ", "))
		}

	case *memo.SelectPrivate:
		e.field(tp, "filter", "%s", e.scalar(p.Filter))

	case *memo.ProjectPrivate:
		if !e.flags.Verbose {
			e.field(tp, "columns", "%s", e.columns(p.OutputCols()))
		}
		for i := range p.Items {
			if item := &p.Items[i]; item.Expr != nil {
				e.field(tp, "render "+e.colName(item.Col), "%s", e.scalar(item.Expr))
			}
		}

	case *memo.PhysJoinPrivate:
		e.field(tp, "type", "%s", p.Type)
		e.field(tp, "mode", "%s", p.Mode)
		if len(p.LeftKeys) > 0 {
			e.field(tp, "equality", "%s = %s", e.columns(p.LeftKeys), e.columns(p.RightKeys))
		}
		if p.On != nil {
			e.field(tp, "pred", "%s", e.scalar(p.On))
		}

	case *memo.AggregatePrivate:
		if len(p.GroupingCols) > 0 {
			e.field(tp, "group by", "%s", e.columns(p.GroupingCols))
		}
		if p.Stage != memo.FullAgg {
			e.field(tp, "stage", "%s", p.Stage)
		}
		for i := range p.Aggs {
			a := &p.Aggs[i]
			arg := ""
			if a.Arg != 0 {
				arg = e.colName(a.Arg)
				if a.Distinct {
					arg = "DISTINCT " + arg
				}
			}
			e.field(tp, "aggregate "+e.colName(a.Col), "%s(%s)", a.Func, arg)
		}

	case *memo.SortPrivate:
		e.field(tp, "order", "%s", e.ordering(p.Ordering))

	case *memo.TopNPrivate:
		e.field(tp, "order", "%s", e.ordering(p.Ordering))
		e.field(tp, "count", "%s", e.count(p.Limit))
		if p.Offset > 0 {
			e.field(tp, "offset", "%s", e.count(p.Offset))
		}
		if p.Phase != memo.FullLimit {
			e.field(tp, "phase", "%s", p.Phase)
		}

	case *memo.LimitPrivate:
		if !p.Ordering.Empty() {
			e.field(tp, "order", "%s", e.ordering(p.Ordering))
		}
		e.field(tp, "count", "%s", e.count(p.Limit))
		if p.Offset > 0 {
			e.field(tp, "offset", "%s", e.count(p.Offset))
		}
		if p.Phase != memo.FullLimit {
			e.field(tp, "phase", "%s", p.Phase)
		}

	case *memo.SetOpPrivate:
		if !e.flags.Verbose {
			e.field(tp, "columns", "%s", e.columns(p.OutCols))
		}

	case *memo.WindowPrivate:
		if len(p.Partition) > 0 {
			e.field(tp, "partition by", "%s", e.columns(p.Partition))
		}
		if !p.Ordering.Empty() {
			e.field(tp, "order", "%s", e.ordering(p.Ordering))
		}
		for i := range p.Funcs {
			f := &p.Funcs[i]
			arg := ""
			if f.Arg != 0 {
				arg = e.colName(f.Arg)
			}
			e.field(tp, "window "+e.colName(f.Col), "%s(%s)", f.Func, arg)
		}

	case *memo.CTEPrivate:
		e.field(tp, "id", "%d", p.ID)

	case *memo.CTEConsumePrivate:
		e.field(tp, "id", "%d", p.ID)
		if !e.flags.Verbose {
			e.field(tp, "columns", "%s", e.columns(p.Cols))
		}
		if p.Filter != nil {
			e.field(tp, "filter", "%s", e.scalar(p.Filter))
		}

	case *memo.TableFuncPrivate:
		args := make([]string, len(p.Args))
		for i, a := range p.Args {
			args[i] = e.scalar(a)
		}
		e.field(tp, "function", "%s(%s)", p.Name, strings.Join(args, ", "))

	case *memo.ValuesPrivate:
		e.field(tp, "size", "%d columns, %d rows", len(p.Cols), len(p.Rows))
		if e.flags.Verbose {
			for i, row := range p.Rows {
				vals := make([]string, len(row))
				for j, v := range row {
					vals[j] = e.scalar(v)
				}
				e.field(tp, fmt.Sprintf("row %d", i), "(%s)", strings.Join(vals, ", "))
			}
		}

	case *memo.DistributePrivate:
		var buf strings.Builder
		p.Target.Format(&buf, e.md)
		e.field(tp, "target", "%s", buf.String())
	}
}

func (e *emitter) colName(col opt.ColumnID) string {
	if e.md == nil {
		return fmt.Sprintf("@%d", col)
	}
	name := e.md.ColumnMeta(col).Alias
	if e.flags.ShowTypes {
		name += " " + e.md.ColumnMeta(col).Type.String()
	}
	return name
}

func (e *emitter) columns(cols opt.ColList) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = e.colName(c)
	}
	return "(" + strings.Join(names, ", ") + ")"
}

func (e *emitter) ordering(ord opt.Ordering) string {
	var buf strings.Builder
	ord.Format(&buf, e.md)
	return buf.String()
}

func (e *emitter) props(p *physical.Required) string {
	var buf strings.Builder
	p.Format(&buf, e.md)
	return buf.String()
}

// scalar formats an expression. In shape mode the constants of the
// expression are hidden.
func (e *emitter) scalar(s opt.ScalarExpr) string {
	if e.flags.OnlyShape {
		s = hideConstants(s)
	}
	return opt.FormatScalar(s, e.md)
}

func (e *emitter) count(v int64) string {
	if e.flags.OnlyShape {
		return "_"
	}
	return humanizeutil.Count(float64(v))
}

func (e *emitter) width(cols opt.ColList) float64 {
	var w float64
	for _, c := range cols {
		w += e.md.ColumnMeta(c).Type.AvgSize()
	}
	return w
}

// hiddenConst replaces constants in shape output.
var hiddenConst = opt.NewStringConst("_")

func hideConstants(s opt.ScalarExpr) opt.ScalarExpr {
	switch t := s.(type) {
	case *opt.Const:
		return hiddenConst
	case *opt.Comparison:
		return &opt.Comparison{Op: t.Op, Left: hideConstants(t.Left), Right: hideConstants(t.Right)}
	case *opt.And:
		return &opt.And{Left: hideConstants(t.Left), Right: hideConstants(t.Right)}
	case *opt.Or:
		return &opt.Or{Left: hideConstants(t.Left), Right: hideConstants(t.Right)}
	case *opt.Not:
		return &opt.Not{Input: hideConstants(t.Input)}
	case *opt.IsNull:
		return &opt.IsNull{Input: hideConstants(t.Input)}
	case *opt.Func:
		f := &opt.Func{Name: t.Name, Type: t.Type, Args: make([]opt.ScalarExpr, len(t.Args))}
		for i := range t.Args {
			f.Args[i] = hideConstants(t.Args[i])
		}
		return f
	}
	return s
}
