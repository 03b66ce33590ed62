// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package exec defines the physical plan handed by the optimizer to the
// execution engine. A plan is a freestanding tree: it holds no references
// into the memo it was extracted from.
package exec

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/cascades/pkg/sql/opt"
	"github.com/cockroachdb/cascades/pkg/sql/opt/memo"
	"github.com/cockroachdb/cascades/pkg/sql/opt/props/physical"
)

// Plan is the result of an optimization.
type Plan struct {
	Root *Node

	// Cost is the estimated cost of the whole plan.
	Cost memo.Cost

	// Timedout is set when the optimizer hit its deadline and returned the
	// best plan found so far.
	Timedout bool

	// Metadata names the columns and tables referenced by the plan.
	Metadata *opt.Metadata
}

// Node is one physical operator of a plan.
type Node struct {
	Op       opt.Operator
	Private  memo.Private
	Children []*Node

	// Required is the physical property the parent required of this node, and
	// Provided the property the node actually delivers. Provided always
	// satisfies Required.
	Required *physical.Required
	Provided *physical.Required

	// Rows is the estimated output row count.
	Rows float64

	// Cost is the estimated cost of the subtree rooted at this node.
	Cost memo.Cost

	OutputCols opt.ColList

	// Group is the memo group the node was extracted from, for diagnostics.
	Group memo.GroupID
}

// Edge is a parent/child link of a plan and the physical properties that
// flow across it. The executor uses edges that change distribution to split
// the plan into fragments.
type Edge struct {
	Parent   *Node
	Child    *Node
	Index    int
	Required *physical.Required
	Provided *physical.Required
}

// Walk calls fn for every node of the plan, parents before children. It
// stops descending below a node when fn returns false.
func (p *Plan) Walk(fn func(n *Node) bool) {
	if p.Root != nil {
		p.Root.walk(fn)
	}
}

func (n *Node) walk(fn func(n *Node) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.Children {
		c.walk(fn)
	}
}

// Edges returns the edges of the plan in depth-first order.
func (p *Plan) Edges() []Edge {
	var edges []Edge
	p.Walk(func(n *Node) bool {
		for i, c := range n.Children {
			edges = append(edges, Edge{
				Parent:   n,
				Child:    c,
				Index:    i,
				Required: c.Required,
				Provided: c.Provided,
			})
		}
		return true
	})
	return edges
}

// Operators returns the operators of the plan in depth-first order.
func (p *Plan) Operators() []opt.Operator {
	var ops []opt.Operator
	p.Walk(func(n *Node) bool {
		ops = append(ops, n.Op)
		return true
	})
	return ops
}

// Find returns the first node with the given operator, in depth-first
// order, or nil.
func (p *Plan) Find(op opt.Operator) *Node {
	var res *Node
	p.Walk(func(n *Node) bool {
		if res != nil {
			return false
		}
		if n.Op == op {
			res = n
			return false
		}
		return true
	})
	return res
}

// String formats the plan with one node per line, children indented by two
// spaces:
//
//	limit 10 [rows=10 cost=12.40]
//	  distribute gather [rows=10 cost=11.90]
//	    scan t cols=(a) filter=(a > 5) limit=10 [rows=10 cost=10.20]
func (p *Plan) String() string {
	var buf strings.Builder
	if p.Root != nil {
		p.Root.format(&buf, p.Metadata, 0)
	}
	return buf.String()
}

func (n *Node) format(buf *strings.Builder, md *opt.Metadata, depth int) {
	for i := 0; i < depth; i++ {
		buf.WriteString("  ")
	}
	buf.WriteString(n.Op.String())
	if priv := memo.FormatPrivate(n.Private, md); priv != "" {
		buf.WriteByte(' ')
		buf.WriteString(priv)
	}
	buf.WriteString(" [rows=")
	buf.WriteString(strconv.FormatFloat(n.Rows, 'g', 6, 64))
	buf.WriteString(" cost=")
	buf.WriteString(n.Cost.String())
	buf.WriteString("]\n")
	for _, c := range n.Children {
		c.format(buf, md, depth+1)
	}
}
