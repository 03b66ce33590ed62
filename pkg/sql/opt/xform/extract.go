// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package xform

import (
	"github.com/cockroachdb/cascades/pkg/sql/opt"
	"github.com/cockroachdb/cascades/pkg/sql/opt/exec"
	"github.com/cockroachdb/cascades/pkg/sql/opt/memo"
	"github.com/cockroachdb/cascades/pkg/sql/opt/props/physical"
	"github.com/cockroachdb/errors"
)

// maxPlanDepth bounds the depth of an extracted plan. Winner costs strictly
// increase from inputs to parents, so a deeper plan means the winner tables
// are corrupt.
const maxPlanDepth = 10000

// extract builds the plan of the root group from the winner tables. If the
// winning root expression outputs the columns in a different order than
// cols, a projection restores the order.
func (o *Optimizer) extract(
	root memo.GroupID, required *physical.Required, cols opt.ColList,
) (*exec.Plan, error) {
	n, err := o.extractNode(root, required, 0)
	if err != nil {
		return nil, err
	}
	if !n.OutputCols.Equals(cols) {
		n = &exec.Node{
			Op:         opt.PhysProjectOp,
			Private:    memo.Passthrough(cols),
			Children:   []*exec.Node{n},
			Required:   n.Required,
			Provided:   n.Provided,
			Rows:       n.Rows,
			Cost:       n.Cost,
			OutputCols: cols.Copy(),
			Group:      n.Group,
		}
	}
	return &exec.Plan{Root: n, Cost: n.Cost, Metadata: o.md}, nil
}

func (o *Optimizer) extractNode(
	grp memo.GroupID, required *physical.Required, depth int,
) (*exec.Node, error) {
	if depth > maxPlanDepth {
		return nil, errors.AssertionFailedf("plan of %s is deeper than %d operators", grp, maxPlanDepth)
	}
	grp = o.mem.Find(grp)
	w := o.mem.BestWinner(grp, required)
	if w == nil {
		return nil, opt.NewPlanNotFoundf("no plan for %s provides %s", grp, required)
	}
	n := &exec.Node{
		Required: required,
		Provided: w.Provided,
		Rows:     o.mem.Stats(grp).RowCount,
		Cost:     w.Cost,
		Group:    grp,
	}

	if w.IsEnforcer() {
		n.Op, n.Private = w.Enforcer, w.EnforcerPrivate
		input, err := o.extractNode(grp, w.InputRequired, depth+1)
		if err != nil {
			return nil, err
		}
		if !w.Cost.Less(input.Cost) && !input.Cost.Less(w.Cost) {
			return nil, errors.AssertionFailedf("%s enforcer costs no more than its input", w.Enforcer)
		}
		n.Children = []*exec.Node{input}
		n.OutputCols = input.OutputCols
		return n, nil
	}

	e := o.mem.Expr(w.Expr)
	n.Op, n.Private = e.Op(), e.Private()
	if e.ChildCount() > 0 {
		n.Children = make([]*exec.Node, e.ChildCount())
	}
	childCols := make([]opt.ColList, len(n.Children))
	for i := range n.Children {
		child, err := o.extractNode(e.Child(i), w.ChildRequired[i], depth+1)
		if err != nil {
			return nil, err
		}
		n.Children[i] = child
		childCols[i] = child.OutputCols
	}
	// Members of a group output the same columns, but not always in the same
	// order.
	n.OutputCols = memo.OutputCols(n.Op, n.Private, childCols)
	return n, nil
}
