// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package memo

import (
	"strings"

	"github.com/cockroachdb/cascades/pkg/sql/opt"
)

// Expr is a relational expression that lives outside of the memo: the
// logical tree handed to the optimizer, or the output of a rule. An Expr
// with Op == opt.UnknownOp and a non-zero Group is a reference to an
// existing memo group; rule outputs use references to reuse the groups they
// bound.
//
// When an Expr is bound from the memo by a rule pattern, Group is set to the
// group the expression was bound from.
type Expr struct {
	Op       opt.Operator
	Private  Private
	Children []*Expr
	Group    GroupID
}

// NewExpr constructs an expression.
func NewExpr(op opt.Operator, private Private, children ...*Expr) *Expr {
	return &Expr{Op: op, Private: private, Children: children}
}

// GroupRef returns a reference to an existing group.
func GroupRef(id GroupID) *Expr {
	return &Expr{Group: id}
}

// IsGroupRef returns true if the expression references an existing group.
func (e *Expr) IsGroupRef() bool {
	return e.Op == opt.UnknownOp && e.Group != 0
}

// Child returns the i-th input of the expression.
func (e *Expr) Child(i int) *Expr {
	return e.Children[i]
}

// String returns a compact s-expression form of the tree, using column ids.
func (e *Expr) String() string {
	var buf strings.Builder
	e.format(&buf, nil)
	return buf.String()
}

// Format returns a compact s-expression form of the tree, using md for
// column names.
func (e *Expr) Format(md *opt.Metadata) string {
	var buf strings.Builder
	e.format(&buf, md)
	return buf.String()
}

func (e *Expr) format(buf *strings.Builder, md *opt.Metadata) {
	if e.IsGroupRef() {
		buf.WriteString(e.Group.String())
		return
	}
	buf.WriteByte('(')
	buf.WriteString(e.Op.String())
	if e.Private != nil {
		var priv strings.Builder
		e.Private.Format(&priv, md)
		if priv.Len() > 0 {
			buf.WriteByte(' ')
			buf.WriteString(priv.String())
		}
	}
	for _, c := range e.Children {
		buf.WriteByte(' ')
		c.format(buf, md)
	}
	buf.WriteByte(')')
}
