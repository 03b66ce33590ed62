// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package optbuilder builds the logical expression tree handed to the
// optimizer from a textual description of a query. The description is an
// s-expression in which every list is a relational operator:
//
//	(limit 10
//	  (project [a]
//	    (select (> a 5)
//	      (scan t))))
//
// Relational operators:
//
//	(scan <table> [cols...] :as <alias>)
//	(select <filter> <input>)
//	(project [<item>...] <input>)
//	(join <inner|left|right|full|semi|anti> <on> <left> <right>)
//	(join cross <left> <right>)
//	(agg [<grouping col>...] [<aggregate>...] <input>)
//	(sort [<ordering col>...] <input>)
//	(topn <n> [<ordering col>...] <input> :offset <k>)
//	(limit <n> <input> :offset <k>)
//	(union|union-all|intersect|intersect-all|except|except-all <left> <right>)
//	(window [<partition col>...] [<ordering col>...] [<window func>...] <input>)
//	(with <name> <definition> <body>)
//	(cte <name> :as <alias>)
//	(values [<name>:<type>...] [<value>...]...)
//	(table-func <name> [<name>:<type>...] <arg>...)
//
// Project items, aggregates and window functions are named with
// (as <expr> <name>). Ordering columns are prefixed with "-" for descending
// order and optionally with "+" for ascending order.
//
// Scalar expressions are column names, literals (integers, floats, 'strings',
// true, false, null) and calls: comparisons (= != <> < <= > >=), and, or,
// not, is-null, arithmetic (+ - * / %), || and scalar functions.
package optbuilder

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/cascades/pkg/sql/opt"
	"github.com/cockroachdb/cascades/pkg/sql/opt/cat"
	"github.com/cockroachdb/cascades/pkg/sql/opt/memo"
	"github.com/cockroachdb/cascades/pkg/sql/types"
	"github.com/cockroachdb/errors"
)

// Builder turns query descriptions into logical expression trees. Tables are
// resolved against a snapshot of the catalog, and every column the trees
// reference is added to the metadata.
//
// A Builder can build any number of queries against the same metadata, but
// a tree is only valid with the metadata it was built with.
type Builder struct {
	snap *cat.Snapshot
	md   *opt.Metadata

	// ctes maps the names of the common table expressions in scope to their
	// definitions.
	ctes    map[string]*cteSource
	nextCTE int

	outScope *scope
}

// cteSource is a common table expression defined by a with operator.
type cteSource struct {
	id    int
	scope *scope
}

// New returns a builder that resolves tables with snap and allocates columns
// in md.
func New(snap *cat.Snapshot, md *opt.Metadata) *Builder {
	return &Builder{snap: snap, md: md, ctes: make(map[string]*cteSource)}
}

// Build parses src and returns its logical tree.
func (b *Builder) Build(src string) (_ *memo.Expr, err error) {
	// Syntax and name resolution errors are raised as panics deep within the
	// recursive build and caught here.
	defer func() {
		if r := recover(); r != nil {
			if pe, ok := r.(parseError); ok {
				err = errors.Wrap(pe.error, "building query")
				return
			}
			panic(r)
		}
	}()

	root := parse(src)
	e, s := b.buildRelational(root)
	b.outScope = s
	return e, nil
}

// OutputColumns returns the output columns of the last query built, in order.
func (b *Builder) OutputColumns() opt.ColList {
	if b.outScope == nil {
		return nil
	}
	return b.outScope.colList()
}

// ResolveColumn returns the output column of the last query built with the
// given name, which may be qualified with a table alias.
func (b *Builder) ResolveColumn(name string) (_ opt.ColumnID, err error) {
	if b.outScope == nil {
		return 0, errors.AssertionFailedf("no query was built")
	}
	defer func() {
		if r := recover(); r != nil {
			if pe, ok := r.(parseError); ok {
				err = pe.error
				return
			}
			panic(r)
		}
	}()
	return b.outScope.resolve(name, 0).id, nil
}

// ParseOrdering resolves an ordering such as "+a,-b" against the output
// columns of the last query built.
func (b *Builder) ParseOrdering(s string) (opt.Ordering, error) {
	var ord opt.Ordering
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		desc := false
		switch part[0] {
		case '-':
			desc, part = true, part[1:]
		case '+':
			part = part[1:]
		}
		col, err := b.ResolveColumn(part)
		if err != nil {
			return nil, err
		}
		ord = append(ord, opt.MakeOrderingColumn(col, desc))
	}
	return ord, nil
}

// options splits the arguments of an operator into positional arguments and
// ":key value" options.
func options(n *node, allowed ...string) (args []*node, opts map[string]*node) {
	for i := 1; i < len(n.children); i++ {
		c := n.children[i]
		if c.kind != atomNode || !strings.HasPrefix(c.text, ":") {
			args = append(args, c)
			continue
		}
		key := c.text[1:]
		found := false
		for _, a := range allowed {
			found = found || a == key
		}
		if !found {
			errorf(c.pos, "%s does not accept option %s", n.head(), c.text)
		}
		if i+1 >= len(n.children) {
			errorf(c.pos, "option %s requires a value", c.text)
		}
		if opts == nil {
			opts = make(map[string]*node)
		}
		opts[key] = n.children[i+1]
		i++
	}
	return args, opts
}

func checkArgs(n *node, args []*node, count int) {
	if len(args) != count {
		errorf(n.pos, "%s expects %d arguments, got %d", n.head(), count, len(args))
	}
}

func expectKind(n *node, kind nodeKind, what string) {
	if n.kind != kind {
		errorf(n.pos, "expected %s, got %s", what, n)
	}
}

func atomText(n *node, what string) string {
	expectKind(n, atomNode, what)
	return n.text
}

func parseCount(n *node, what string) int64 {
	v, err := strconv.ParseInt(atomText(n, what), 10, 64)
	if err != nil || v < 0 {
		errorf(n.pos, "%s must be a non-negative integer, got %s", what, n)
	}
	return v
}

// parseColumnDef parses a "name:type" column definition.
func parseColumnDef(n *node) (string, *types.T) {
	text := atomText(n, "column definition")
	name, typName, ok := strings.Cut(text, ":")
	if !ok || name == "" {
		errorf(n.pos, "column definition %q must have the form name:type", text)
	}
	typ := types.FromString(typName)
	if typ == nil {
		errorf(n.pos, "unknown type %q", typName)
	}
	return name, typ
}

// parseAs splits an (as <expr> <name>) item into its expression and name. If
// the item is not an as form, name is empty.
func parseAs(n *node) (expr *node, name string) {
	if n.head() != "as" {
		return n, ""
	}
	if len(n.children) != 3 {
		errorf(n.pos, "as expects an expression and a name")
	}
	return n.children[1], atomText(n.children[2], "column name")
}

func (b *Builder) newColumn(name string, typ *types.T) scopeColumn {
	return scopeColumn{name: name, id: b.md.AddColumn(name, typ)}
}

func describe(n *node) string {
	if n.kind == listNode {
		return fmt.Sprintf("(%s ...)", n.head())
	}
	return n.String()
}
