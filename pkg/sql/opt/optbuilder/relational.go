// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package optbuilder

import (
	"github.com/cockroachdb/cascades/pkg/sql/opt"
	"github.com/cockroachdb/cascades/pkg/sql/opt/cat"
	"github.com/cockroachdb/cascades/pkg/sql/opt/memo"
)

// buildRelational builds a relational operator and returns it along with the
// scope of its output columns.
func (b *Builder) buildRelational(n *node) (*memo.Expr, *scope) {
	if n.kind != listNode {
		errorf(n.pos, "expected relational expression, got %s", n)
	}
	switch name := n.head(); name {
	case "scan":
		return b.buildScan(n)
	case "select":
		return b.buildSelect(n)
	case "project":
		return b.buildProject(n)
	case "join":
		return b.buildJoin(n)
	case "agg":
		return b.buildAggregate(n)
	case "sort":
		return b.buildSort(n)
	case "topn":
		return b.buildTopN(n)
	case "limit":
		return b.buildLimit(n)
	case "union", "union-all", "intersect", "intersect-all", "except", "except-all":
		return b.buildSetOp(n)
	case "window":
		return b.buildWindow(n)
	case "with":
		return b.buildWith(n)
	case "cte":
		return b.buildCTEConsume(n)
	case "values":
		return b.buildValues(n)
	case "table-func":
		return b.buildTableFunc(n)
	case "":
		errorf(n.pos, "expected operator at the start of %s", n)
	default:
		errorf(n.pos, "unknown relational operator %s", name)
	}
	return nil, nil
}

func (b *Builder) buildScan(n *node) (*memo.Expr, *scope) {
	args, opts := options(n, "as")
	if len(args) < 1 || len(args) > 2 {
		errorf(n.pos, "scan expects a table and an optional column list")
	}
	name := atomText(args[0], "table name")
	tab, ok := b.snap.Table(name)
	if !ok {
		errorf(args[0].pos, "table %q does not exist", name)
	}
	alias := name
	if a, ok := opts["as"]; ok {
		alias = atomText(a, "table alias")
	}

	tabID := b.md.AddTable(tab, alias)
	p := &memo.ScanPrivate{Table: tabID}
	out := &scope{}
	addCol := func(ord int) {
		col := tabID.ColumnID(ord)
		p.Cols = append(p.Cols, col)
		out.cols = append(out.cols, scopeColumn{name: tab.Column(ord).Name, table: alias, id: col})
	}
	if len(args) == 1 {
		for i, cnt := 0, tab.ColumnCount(); i < cnt; i++ {
			addCol(i)
		}
	} else {
		expectKind(args[1], bracketNode, "column list")
		for _, c := range args[1].children {
			colName := atomText(c, "column name")
			ord := cat.FindColumn(tab, colName)
			if ord < 0 {
				errorf(c.pos, "column %q does not exist in table %s", colName, name)
			}
			if p.Cols.Contains(tabID.ColumnID(ord)) {
				errorf(c.pos, "column %q is scanned twice", colName)
			}
			addCol(ord)
		}
	}
	return memo.NewExpr(opt.ScanOp, p), out
}

func (b *Builder) buildSelect(n *node) (*memo.Expr, *scope) {
	args, _ := options(n)
	checkArgs(n, args, 2)
	input, s := b.buildRelational(args[1])
	filter := b.buildBool(args[0], s)
	return memo.NewExpr(opt.SelectOp, &memo.SelectPrivate{Filter: filter}, input), s
}

func (b *Builder) buildProject(n *node) (*memo.Expr, *scope) {
	args, _ := options(n)
	checkArgs(n, args, 2)
	expectKind(args[0], bracketNode, "projection list")
	input, inScope := b.buildRelational(args[1])

	p := &memo.ProjectPrivate{}
	out := &scope{}
	for _, item := range args[0].children {
		exprNode, name := parseAs(item)
		if exprNode.kind == atomNode && name == "" {
			// A bare column reference passes the input column through.
			c := inScope.resolve(exprNode.text, exprNode.pos)
			if p.OutputCols().Contains(c.id) {
				errorf(exprNode.pos, "column %q is projected twice", exprNode.text)
			}
			p.Items = append(p.Items, memo.ProjectItem{Col: c.id})
			out.cols = append(out.cols, *c)
			continue
		}
		if name == "" {
			errorf(item.pos, "computed column %s must be named with as", describe(item))
		}
		e := b.buildScalar(exprNode, inScope)
		col := b.newColumn(name, opt.ScalarType(e, b.md))
		p.Items = append(p.Items, memo.ProjectItem{Col: col.id, Expr: e})
		out.cols = append(out.cols, col)
	}
	if len(p.Items) == 0 {
		errorf(n.pos, "project needs at least one column")
	}
	return memo.NewExpr(opt.ProjectOp, p, input), out
}

func (b *Builder) buildJoin(n *node) (*memo.Expr, *scope) {
	args, _ := options(n)
	if len(args) < 1 {
		errorf(n.pos, "join expects a join type")
	}
	typName := atomText(args[0], "join type")
	var typ memo.JoinType
	var onNode *node
	if typName == "cross" {
		checkArgs(n, args, 3)
		typ = memo.InnerJoin
	} else {
		checkArgs(n, args, 4)
		var ok bool
		if typ, ok = memo.ParseJoinType(typName); !ok {
			errorf(args[0].pos, "unknown join type %s", typName)
		}
		onNode = args[1]
	}
	left, leftScope := b.buildRelational(args[len(args)-2])
	right, rightScope := b.buildRelational(args[len(args)-1])
	if leftScope.colList().ToSet().Intersects(rightScope.colList().ToSet()) {
		errorf(n.pos, "join inputs share columns; alias one of the sources")
	}

	both := leftScope.appendScope(rightScope)
	p := &memo.JoinPrivate{Type: typ}
	if onNode != nil {
		on := b.buildBool(onNode, both)
		if !opt.IsTrue(on) {
			p.On = on
		}
	}
	out := leftScope
	if typ.OutputsRight() {
		out = both
	}
	return memo.NewExpr(opt.JoinOp, p, left, right), out
}

func (b *Builder) buildSetOp(n *node) (*memo.Expr, *scope) {
	args, _ := options(n)
	if len(args) < 2 {
		errorf(n.pos, "%s expects at least 2 inputs", n.head())
	}
	var op opt.Operator
	all := false
	switch n.head() {
	case "union-all":
		op, all = opt.UnionOp, true
	case "union":
		op = opt.UnionOp
	case "intersect-all":
		op, all = opt.IntersectOp, true
	case "intersect":
		op = opt.IntersectOp
	case "except-all":
		op, all = opt.ExceptOp, true
	case "except":
		op = opt.ExceptOp
	}

	p := &memo.SetOpPrivate{All: all}
	children := make([]*memo.Expr, len(args))
	var first *scope
	for i, a := range args {
		child, s := b.buildRelational(a)
		children[i] = child
		cols := s.colList()
		if i == 0 {
			first = s
		} else {
			if len(cols) != len(first.cols) {
				errorf(a.pos, "%s inputs must have the same number of columns", n.head())
			}
			for j := range cols {
				lt, rt := b.md.ColumnMeta(first.cols[j].id).Type, b.md.ColumnMeta(cols[j]).Type
				if !canCompare(lt, rt) {
					errorf(a.pos, "%s column %d types %s and %s cannot be matched", n.head(), j+1, lt, rt)
				}
			}
		}
		p.InCols = append(p.InCols, cols)
	}

	out := &scope{}
	for _, c := range first.cols {
		col := b.newColumn(c.name, b.md.ColumnMeta(c.id).Type)
		p.OutCols = append(p.OutCols, col.id)
		out.cols = append(out.cols, col)
	}
	return memo.NewExpr(op, p, children...), out
}

func (b *Builder) buildWith(n *node) (*memo.Expr, *scope) {
	args, _ := options(n)
	checkArgs(n, args, 3)
	name := atomText(args[0], "CTE name")
	def, defScope := b.buildRelational(args[1])

	b.nextCTE++
	id := b.nextCTE
	prev := b.ctes[name]
	b.ctes[name] = &cteSource{id: id, scope: defScope}
	body, bodyScope := b.buildRelational(args[2])
	if prev != nil {
		b.ctes[name] = prev
	} else {
		delete(b.ctes, name)
	}

	produce := memo.NewExpr(opt.CTEProduceOp, &memo.CTEPrivate{ID: id}, def)
	return memo.NewExpr(opt.CTEAnchorOp, &memo.CTEPrivate{ID: id}, produce, body), bodyScope
}

// buildCTEConsume builds a reference to a common table expression. Every
// reference gets its own copies of the producer columns.
func (b *Builder) buildCTEConsume(n *node) (*memo.Expr, *scope) {
	args, opts := options(n, "as")
	checkArgs(n, args, 1)
	name := atomText(args[0], "CTE name")
	src, ok := b.ctes[name]
	if !ok {
		errorf(args[0].pos, "common table expression %q is not defined", name)
	}
	alias := name
	if a, ok := opts["as"]; ok {
		alias = atomText(a, "alias")
	}

	p := &memo.CTEConsumePrivate{ID: src.id, ProducerCols: src.scope.colList()}
	out := &scope{}
	for _, c := range src.scope.cols {
		col := b.newColumn(c.name, b.md.ColumnMeta(c.id).Type)
		col.table = alias
		p.Cols = append(p.Cols, col.id)
		out.cols = append(out.cols, col)
	}
	return memo.NewExpr(opt.CTEConsumeOp, p), out
}

func (b *Builder) buildValues(n *node) (*memo.Expr, *scope) {
	args, _ := options(n)
	if len(args) < 1 {
		errorf(n.pos, "values expects a column list")
	}
	expectKind(args[0], bracketNode, "column list")
	out := &scope{}
	p := &memo.ValuesPrivate{}
	for _, c := range args[0].children {
		col := b.newColumn(parseColumnDef(c))
		p.Cols = append(p.Cols, col.id)
		out.cols = append(out.cols, col)
	}
	if len(p.Cols) == 0 {
		errorf(n.pos, "values needs at least one column")
	}

	empty := &scope{}
	for _, r := range args[1:] {
		expectKind(r, bracketNode, "row")
		if len(r.children) != len(p.Cols) {
			errorf(r.pos, "row has %d values, expected %d", len(r.children), len(p.Cols))
		}
		row := make([]opt.ScalarExpr, len(r.children))
		for i, v := range r.children {
			row[i] = b.buildScalar(v, empty)
			colType := b.md.ColumnMeta(p.Cols[i]).Type
			if typ := opt.ScalarType(row[i], b.md); !canCompare(typ, colType) {
				errorf(v.pos, "value %s does not match column type %s", v, colType)
			}
		}
		p.Rows = append(p.Rows, row)
	}
	return memo.NewExpr(opt.ValuesOp, p), out
}

func (b *Builder) buildTableFunc(n *node) (*memo.Expr, *scope) {
	args, _ := options(n)
	if len(args) < 2 {
		errorf(n.pos, "table-func expects a name and a column list")
	}
	p := &memo.TableFuncPrivate{Name: atomText(args[0], "function name")}
	expectKind(args[1], bracketNode, "column list")
	out := &scope{}
	for _, c := range args[1].children {
		col := b.newColumn(parseColumnDef(c))
		p.Cols = append(p.Cols, col.id)
		out.cols = append(out.cols, col)
	}
	empty := &scope{}
	for _, a := range args[2:] {
		p.Args = append(p.Args, b.buildScalar(a, empty))
	}
	return memo.NewExpr(opt.TableFuncOp, p), out
}
