// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package xform

import (
	"github.com/cockroachdb/cascades/pkg/sql/opt"
	"github.com/cockroachdb/cascades/pkg/sql/opt/memo"
	"github.com/cockroachdb/errors"
)

// RuleKind distinguishes rules that produce logically equivalent logical
// expressions from rules that produce physical implementations.
type RuleKind uint8

const (
	// TransformationRule outputs are logical expressions that are added to
	// the group of the matched expression and explored further.
	TransformationRule RuleKind = iota
	// ImplementationRule outputs are physical expressions. They are costed,
	// but never matched by other rules.
	ImplementationRule
)

func (k RuleKind) String() string {
	switch k {
	case TransformationRule:
		return "transformation"
	case ImplementationRule:
		return "implementation"
	}
	panic(errors.AssertionFailedf("unknown rule kind %d", k))
}

// ApplyFunc rewrites a bound expression. It returns the alternatives of the
// expression, or nil if the rule does not apply. Outputs reference the
// groups of the bound expression with memo.GroupRef; a bare group reference
// states that the bound expression is equivalent to the referenced group.
type ApplyFunc func(c *RuleContext, e *memo.Expr) []*memo.Expr

// Rule is a rewrite rule. Rules are immutable and may be shared by
// optimizers running concurrently.
type Rule struct {
	Name    opt.RuleName
	Kind    RuleKind
	Pattern *Pattern
	Apply   ApplyFunc
}

func (r *Rule) String() string {
	return r.Name.String()
}

// Pattern matches a memo expression by its operator and, optionally, the
// operators of members of its input groups.
//
// A pattern with nil Children binds every input as a reference to its
// group. A nil element of Children does the same for a single input. A
// child pattern is matched against every logical member of the input group,
// and the rule is applied once per combination of matching members.
type Pattern struct {
	Op       opt.Operator
	Children []*Pattern
}

// Match returns a pattern for the operator with the given child patterns.
func Match(op opt.Operator, children ...*Pattern) *Pattern {
	return &Pattern{Op: op, Children: children}
}

// Leaf is a child pattern that binds its input as a group reference.
var Leaf *Pattern

func (p *Pattern) matchesOp(op opt.Operator) bool {
	if p.Op == opt.AnyOp {
		return op.IsLogical()
	}
	return p.Op == op
}

// descends returns true if the pattern inspects the members of its i-th
// input group.
func (p *Pattern) descends(i int) bool {
	return i < len(p.Children) && p.Children[i] != nil
}

// maxBindings bounds the number of combinations bound for one rule on one
// expression. Deep patterns over large groups are truncated rather than
// enumerated exhaustively.
const maxBindings = 256

// binder enumerates the bindings of a pattern rooted at a memo expression.
type binder struct {
	mem *memo.Memo
}

// bind returns the expressions matching the pattern with e at the root.
func (b *binder) bind(p *Pattern, id memo.GroupExprID) []*memo.Expr {
	ge := b.mem.Expr(id)
	if ge.Dead() || !p.matchesOp(ge.Op()) {
		return nil
	}
	n := ge.ChildCount()
	options := make([][]*memo.Expr, n)
	for i := 0; i < n; i++ {
		child := b.mem.Find(ge.Child(i))
		if !p.descends(i) {
			options[i] = []*memo.Expr{memo.GroupRef(child)}
			continue
		}
		options[i] = b.bindGroup(p.Children[i], child)
		if len(options[i]) == 0 {
			return nil
		}
	}

	group := b.mem.ExprGroup(id)
	var res []*memo.Expr
	children := make([]*memo.Expr, n)
	var walk func(i int)
	walk = func(i int) {
		if len(res) >= maxBindings {
			return
		}
		if i == n {
			res = append(res, &memo.Expr{
				Op:       ge.Op(),
				Private:  ge.Private(),
				Children: append([]*memo.Expr(nil), children...),
				Group:    group,
			})
			return
		}
		for _, c := range options[i] {
			children[i] = c
			walk(i + 1)
		}
	}
	walk(0)
	return res
}

func (b *binder) bindGroup(p *Pattern, g memo.GroupID) []*memo.Expr {
	var res []*memo.Expr
	for _, id := range b.mem.Group(g).Exprs() {
		if !b.mem.Expr(id).Op().IsLogical() {
			continue
		}
		res = append(res, b.bind(p, id)...)
		if len(res) >= maxBindings {
			break
		}
	}
	return res
}
