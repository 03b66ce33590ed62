// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package memo

import (
	"github.com/cockroachdb/cascades/pkg/sql/opt"
	"github.com/cockroachdb/cascades/pkg/sql/opt/props/physical"
	"github.com/cockroachdb/errors"
)

// CheckInvariants verifies the structural invariants of the memo. It is
// used by tests and by the optimizer when invariant checking is enabled:
//
//   - every live expression belongs to exactly one live group;
//   - no two live expressions share a fingerprint;
//   - every member of a group outputs the group's column set;
//   - every input group of a live expression is live;
//   - every winner is a live member of its group, or an enforcer;
//   - no winner costs less than the winners of its inputs combined.
func (m *Memo) CheckInvariants() error {
	seen := make(map[string]GroupExprID, len(m.exprs))
	owner := make(map[GroupExprID]GroupID, len(m.exprs))
	for _, g := range m.groups {
		if g.forward != 0 {
			if len(g.exprs) != 0 {
				return errors.AssertionFailedf("merged group %s still has members", g.id)
			}
			continue
		}
		want := g.rel.OutputCols.ToSet()
		for _, id := range g.exprs {
			e := m.exprs[id-1]
			if e.dead {
				return errors.AssertionFailedf("%s has dead member e%d", g.id, id)
			}
			if prev, ok := owner[id]; ok {
				return errors.AssertionFailedf("e%d is a member of %s and %s", id, prev, g.id)
			}
			owner[id] = g.id
			if m.Find(e.group) != g.id {
				return errors.AssertionFailedf("e%d is listed in %s but belongs to %s", id, g.id, m.Find(e.group))
			}
			if prev, ok := seen[e.key]; ok {
				return errors.AssertionFailedf("e%d and e%d are duplicates: %s", prev, id, e.key)
			}
			seen[e.key] = id
			childCols := make([]opt.ColList, len(e.children))
			for i, c := range e.children {
				if m.groups[c-1].forward != 0 {
					return errors.AssertionFailedf("e%d references merged group %s", id, c)
				}
				childCols[i] = m.groups[c-1].rel.OutputCols
			}
			if got := OutputCols(e.op, e.private, childCols).ToSet(); !got.Equals(want) {
				return errors.AssertionFailedf("e%d outputs %s, but %s outputs %s", id, got, g.id, want)
			}
		}
		for req, w := range g.winners {
			if err := m.checkWinnerCost(g.id, req, w); err != nil {
				return err
			}
			if w.IsEnforcer() {
				continue
			}
			if m.ExprGroup(w.Expr) != g.id {
				return errors.AssertionFailedf("winner e%d of %s for %s is not a member", w.Expr, g.id, req)
			}
			if m.exprs[w.Expr-1].dead {
				return errors.AssertionFailedf("winner e%d of %s for %s is dead", w.Expr, g.id, req)
			}
		}
	}
	for _, e := range m.exprs {
		if !e.dead {
			if _, ok := owner[e.id]; !ok {
				return errors.AssertionFailedf("e%d is not a member of any group", e.id)
			}
		}
	}
	return nil
}

func (m *Memo) checkWinnerCost(id GroupID, req *physical.Required, w *Winner) error {
	var inputs Cost
	if w.IsEnforcer() {
		in := m.BestWinner(id, w.InputRequired)
		if in == nil {
			return errors.AssertionFailedf("%s enforcer for %s has no input winner", id, req)
		}
		inputs = in.Cost
	} else {
		e := m.exprs[w.Expr-1]
		if len(w.ChildRequired) != len(e.children) {
			return errors.AssertionFailedf("winner e%d of %s has %d child requirements", w.Expr, id, len(w.ChildRequired))
		}
		for i, c := range e.children {
			cw := m.BestWinner(c, w.ChildRequired[i])
			if cw == nil {
				return errors.AssertionFailedf("winner e%d of %s has no winner for input %d", w.Expr, id, i)
			}
			inputs.Add(cw.Cost)
		}
	}
	if inputs.Flags&^w.Cost.Flags != 0 || w.Cost.C < inputs.C*(1-1e-9)-1e-9 {
		return errors.AssertionFailedf("winner of %s for %s costs %s, less than its inputs %s", id, req, w.Cost, inputs)
	}
	return nil
}
