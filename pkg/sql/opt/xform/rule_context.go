// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package xform

import (
	"github.com/cockroachdb/cascades/pkg/sql/opt"
	"github.com/cockroachdb/cascades/pkg/sql/opt/cat"
	"github.com/cockroachdb/cascades/pkg/sql/opt/memo"
	"github.com/cockroachdb/cascades/pkg/sql/opt/props"
	"github.com/cockroachdb/cascades/pkg/sql/types"
	"github.com/cockroachdb/errors"
)

// RuleContext gives rule bodies read access to the optimization state. The
// only state a rule may change is the metadata, to allocate new columns
// and register views.
type RuleContext struct {
	o *Optimizer
}

// Memo returns the memo being searched.
func (c *RuleContext) Memo() *memo.Memo {
	return &c.o.mem
}

// Metadata returns the query metadata.
func (c *RuleContext) Metadata() *opt.Metadata {
	return c.o.md
}

// Config returns the optimizer configuration.
func (c *RuleContext) Config() *Config {
	return &c.o.cfg
}

// Snapshot returns the catalog snapshot of the query.
func (c *RuleContext) Snapshot() *cat.Snapshot {
	return c.o.snap
}

// IsDistributed returns true unless planning for a single node.
func (c *RuleContext) IsDistributed() bool {
	return !c.o.cfg.SingleNode
}

// OutputCols returns the output columns of an expression: the columns of its
// group if it was bound from the memo, or the columns derived from its
// inputs if it was built by a rule.
func (c *RuleContext) OutputCols(e *memo.Expr) opt.ColList {
	if e.Group != 0 {
		return c.o.mem.Group(e.Group).OutputCols()
	}
	children := make([]opt.ColList, len(e.Children))
	for i, child := range e.Children {
		children[i] = c.OutputCols(child)
	}
	return memo.OutputCols(e.Op, e.Private, children)
}

// Stats returns the statistics of the group of a bound expression.
func (c *RuleContext) Stats(e *memo.Expr) *props.Statistics {
	if e.Group == 0 {
		panic(errors.AssertionFailedf("statistics requested for unbound expression %s", e))
	}
	return c.o.mem.Stats(e.Group)
}

// NewColumn allocates a new column.
func (c *RuleContext) NewColumn(alias string, typ *types.T) opt.ColumnID {
	return c.o.md.AddColumn(alias, typ)
}

// ColumnType returns the type of the column.
func (c *RuleContext) ColumnType(col opt.ColumnID) *types.T {
	return c.o.md.ColumnMeta(col).Type
}

// ViewTable returns the metadata id of a materialized view table, adding it
// to the metadata the first time it is used.
func (c *RuleContext) ViewTable(view cat.Table) opt.TableID {
	if id, ok := c.o.viewTables[view.ID()]; ok {
		return id
	}
	id := c.o.md.AddTable(view, "")
	c.o.viewTables[view.ID()] = id
	return id
}

// IsEmpty returns true if the group is known to return no rows.
func (c *RuleContext) IsEmpty(g memo.GroupID) bool {
	for _, id := range c.o.mem.Group(g).Exprs() {
		e := c.o.mem.Expr(id)
		if e.Op() == opt.ValuesOp && len(e.Private().(*memo.ValuesPrivate).Rows) == 0 {
			return true
		}
	}
	return false
}

// emptyValues returns an expression that produces no rows with the given
// columns.
func emptyValues(cols opt.ColList) *memo.Expr {
	return memo.NewExpr(opt.ValuesOp, &memo.ValuesPrivate{Cols: cols})
}
