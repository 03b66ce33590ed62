// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package xform

import (
	"github.com/cockroachdb/cascades/pkg/sql/opt"
	"github.com/cockroachdb/cascades/pkg/sql/opt/cat"
	"github.com/cockroachdb/cascades/pkg/sql/opt/memo"
	"github.com/cockroachdb/cascades/pkg/sql/opt/props/physical"
	"github.com/cockroachdb/errors"
)

// props returns the interned properties with the given distribution and
// ordering. Distributions are dropped when planning for a single node.
func (o *Optimizer) props(dist physical.Distribution, ordering opt.Ordering) *physical.Required {
	if o.cfg.SingleNode {
		dist = physical.AnyDist
	}
	return o.mem.InternPhysicalProps(&physical.Required{Distribution: dist, Ordering: ordering})
}

// provided returns the interned properties provided by an expression. When
// planning for a single node every expression runs on the same node.
func (o *Optimizer) provided(dist physical.Distribution, ordering opt.Ordering) *physical.Required {
	if o.cfg.SingleNode {
		dist = physical.SingletonDist
	}
	return o.mem.InternPhysicalProps(&physical.Required{Distribution: dist, Ordering: ordering})
}

// passThrough restricts the required properties to those an input with the
// given columns can provide.
func (o *Optimizer) passThrough(required *physical.Required, cols opt.ColSet) *physical.Required {
	dist := required.Distribution
	if dist.Type == physical.HashDistribution && !dist.Cols.ToSet().SubsetOf(cols) {
		dist = physical.AnyDist
	}
	ordering := required.Ordering
	if !ordering.ColSet().SubsetOf(cols) {
		ordering = nil
	}
	return o.props(dist, ordering)
}

// ascending returns an ascending ordering on the columns.
func ascending(cols opt.ColList) opt.Ordering {
	if len(cols) == 0 {
		return nil
	}
	res := make(opt.Ordering, len(cols))
	for i, c := range cols {
		res[i] = opt.MakeOrderingColumn(c, false /* descending */)
	}
	return res
}

// orderingPrefix returns the longest prefix of the ordering on columns of
// the set.
func orderingPrefix(ordering opt.Ordering, cols opt.ColSet) opt.Ordering {
	for i, c := range ordering {
		if !cols.Contains(c.ID()) {
			return ordering[:i:i]
		}
	}
	return ordering
}

func (o *Optimizer) childCols(e *memo.GroupExpr, i int) opt.ColSet {
	return o.mem.Group(e.Child(i)).OutputCols().ToSet()
}

// childRequirements returns the alternative sets of properties that the
// expression can require from its inputs. Each alternative has one entry per
// input. Expressions without inputs have a single empty alternative.
func (o *Optimizer) childRequirements(
	e *memo.GroupExpr, required *physical.Required,
) [][]*physical.Required {
	anyReq := o.props(physical.AnyDist, nil)
	gather := physical.SingletonDist
	var alts [][]*physical.Required
	add := func(reqs ...*physical.Required) {
		alts = append(alts, reqs)
	}

	switch e.Op() {
	case opt.PhysScanOp, opt.PhysCTEConsumeOp, opt.PhysTableFuncOp, opt.PhysValuesOp:
		add()

	case opt.PhysFilterOp:
		add(o.passThrough(required, o.childCols(e, 0)))

	case opt.PhysProjectOp:
		add(o.passThrough(required, e.Private().(*memo.ProjectPrivate).PassthroughCols()))

	case opt.PhysSortOp:
		add(o.props(required.Distribution, nil))

	case opt.HashJoinOp, opt.MergeJoinOp, opt.NestedLoopJoinOp:
		p := e.Private().(*memo.PhysJoinPrivate)
		var leftOrd, rightOrd opt.Ordering
		switch e.Op() {
		case opt.MergeJoinOp:
			leftOrd, rightOrd = ascending(p.LeftKeys), ascending(p.RightKeys)
		case opt.NestedLoopJoinOp:
			leftOrd = o.passThrough(required, o.childCols(e, 0)).Ordering
		}
		switch p.Mode {
		case memo.LocalJoin:
			add(o.props(physical.AnyDist, leftOrd), o.props(physical.AnyDist, rightOrd))
		case memo.ShuffleJoin:
			add(o.props(physical.HashDist(p.LeftKeys...), leftOrd), o.props(physical.HashDist(p.RightKeys...), rightOrd))
		case memo.BroadcastJoin:
			left := o.passThrough(required, o.childCols(e, 0)).Distribution
			if left.Type == physical.BroadcastDistribution {
				left = physical.AnyDist
			}
			add(o.props(left, leftOrd), o.props(physical.BroadcastDist, rightOrd))
		case memo.GatherJoin:
			add(o.props(gather, leftOrd), o.props(gather, rightOrd))
		}

	case opt.HashAggOp, opt.StreamAggOp:
		p := e.Private().(*memo.AggregatePrivate)
		var ordering opt.Ordering
		if e.Op() == opt.StreamAggOp {
			ordering = ascending(p.GroupingCols)
		}
		if p.Stage == memo.LocalAgg {
			add(o.props(physical.AnyDist, ordering))
			break
		}
		// HashDist of no columns is a gather, as needed by scalar aggregates.
		add(o.props(physical.HashDist(p.GroupingCols...), ordering))

	case opt.PhysTopNOp:
		if e.Private().(*memo.TopNPrivate).Phase == memo.LocalLimit {
			add(anyReq)
			break
		}
		add(o.props(gather, nil))

	case opt.PhysLimitOp:
		p := e.Private().(*memo.LimitPrivate)
		ordering := p.Ordering
		if ordering.Empty() {
			ordering = o.passThrough(required, o.childCols(e, 0)).Ordering
		}
		if p.Phase == memo.LocalLimit {
			add(o.props(physical.AnyDist, ordering))
			break
		}
		add(o.props(gather, ordering))

	case opt.PhysUnionOp, opt.PhysIntersectOp, opt.PhysExceptOp:
		p := e.Private().(*memo.SetOpPrivate)
		n := e.ChildCount()
		if e.Op() == opt.PhysUnionOp && p.All {
			reqs := make([]*physical.Required, n)
			for i := range reqs {
				reqs[i] = anyReq
			}
			add(reqs...)
		} else {
			reqs := make([]*physical.Required, n)
			for i := range reqs {
				reqs[i] = o.props(physical.HashDist(p.InCols[i]...), nil)
			}
			add(reqs...)
		}
		if required.Distribution.Type == physical.SingletonDistribution || !(e.Op() == opt.PhysUnionOp && p.All) {
			reqs := make([]*physical.Required, n)
			for i := range reqs {
				reqs[i] = o.props(gather, nil)
			}
			add(reqs...)
		}

	case opt.PhysWindowOp:
		p := e.Private().(*memo.WindowPrivate)
		ordering := append(ascending(p.Partition), p.Ordering...)
		add(o.props(physical.HashDist(p.Partition...), ordering))

	case opt.PhysCTEProduceOp:
		add(anyReq)

	case opt.PhysCTEAnchorOp:
		add(anyReq, o.passThrough(required, o.childCols(e, 1)))

	case opt.PhysNoCTEOp:
		add(o.passThrough(required, o.childCols(e, 0)))

	default:
		panic(errors.AssertionFailedf("no child requirements for operator %s", e.Op()))
	}
	return dedupAlternatives(alts)
}

// dedupAlternatives removes repeated alternatives, which arise when
// distributions are dropped for single node planning.
func dedupAlternatives(alts [][]*physical.Required) [][]*physical.Required {
	res := alts[:0]
	for _, alt := range alts {
		dup := false
		for _, prev := range res {
			if sameRequirements(prev, alt) {
				dup = true
				break
			}
		}
		if !dup {
			res = append(res, alt)
		}
	}
	return res
}

func sameRequirements(a, b []*physical.Required) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// providedProps returns the properties provided by the expression when its
// inputs provide the given properties.
func (o *Optimizer) providedProps(e *memo.GroupExpr, children []*physical.Required) *physical.Required {
	outCols := o.mem.Group(e.Group()).OutputCols().ToSet()
	restrict := func(p *physical.Required) *physical.Required {
		return o.provided(p.Distribution.RestrictTo(outCols), orderingPrefix(p.Ordering, outCols))
	}

	switch e.Op() {
	case opt.PhysScanOp:
		return o.scanProvided(e.Private().(*memo.ScanPrivate))

	case opt.PhysCTEConsumeOp:
		return o.provided(physical.RandomDist, nil)

	case opt.PhysTableFuncOp, opt.PhysValuesOp:
		return o.provided(physical.SingletonDist, nil)

	case opt.PhysFilterOp, opt.PhysLimitOp, opt.PhysCTEProduceOp, opt.PhysNoCTEOp:
		return children[0]

	case opt.PhysProjectOp:
		pass := e.Private().(*memo.ProjectPrivate).PassthroughCols()
		return o.provided(children[0].Distribution.RestrictTo(pass), orderingPrefix(children[0].Ordering, pass))

	case opt.PhysSortOp:
		return o.provided(children[0].Distribution, e.Private().(*memo.SortPrivate).Ordering)

	case opt.HashJoinOp, opt.MergeJoinOp, opt.NestedLoopJoinOp:
		p := e.Private().(*memo.PhysJoinPrivate)
		var dist physical.Distribution
		switch p.Mode {
		case memo.ShuffleJoin:
			switch p.Type {
			case memo.RightJoin:
				dist = physical.HashDist(p.RightKeys...)
			case memo.FullJoin:
				dist = physical.RandomDist
			default:
				dist = physical.HashDist(p.LeftKeys...)
			}
		case memo.GatherJoin:
			dist = physical.SingletonDist
		default:
			dist = children[0].Distribution
		}
		var ordering opt.Ordering
		if e.Op() != opt.HashJoinOp {
			switch p.Type {
			case memo.InnerJoin, memo.LeftJoin, memo.SemiJoin, memo.AntiJoin:
				ordering = children[0].Ordering
			}
		}
		return o.provided(dist.RestrictTo(outCols), orderingPrefix(ordering, outCols))

	case opt.HashAggOp:
		return o.provided(children[0].Distribution.RestrictTo(outCols), nil)

	case opt.StreamAggOp:
		return restrict(children[0])

	case opt.PhysTopNOp:
		p := e.Private().(*memo.TopNPrivate)
		return o.provided(children[0].Distribution, p.Ordering)

	case opt.PhysUnionOp, opt.PhysIntersectOp, opt.PhysExceptOp:
		p := e.Private().(*memo.SetOpPrivate)
		singleton, hashed := true, true
		for i, c := range children {
			singleton = singleton && c.Distribution.Type == physical.SingletonDistribution
			hashed = hashed && c.Distribution.Equals(physical.HashDist(p.InCols[i]...))
		}
		switch {
		case singleton:
			return o.provided(physical.SingletonDist, nil)
		case hashed:
			return o.provided(physical.HashDist(p.OutCols...), nil)
		}
		return o.provided(physical.RandomDist, nil)

	case opt.PhysWindowOp:
		return restrict(children[0])

	case opt.PhysCTEAnchorOp:
		return children[1]
	}
	panic(errors.AssertionFailedf("no provided properties for operator %s", e.Op()))
}

// scanProvided returns the placement and order of the rows of a table.
func (o *Optimizer) scanProvided(p *memo.ScanPrivate) *physical.Required {
	tab := o.md.Table(p.Table)
	cols := p.Cols.ToSet()

	var dist physical.Distribution
	d := tab.Distribution()
	switch d.Kind {
	case cat.HashDistribution:
		keys := make(opt.ColList, len(d.KeyOrdinals))
		for i, ord := range d.KeyOrdinals {
			keys[i] = p.Table.ColumnID(ord)
		}
		dist = physical.RandomDist
		if len(keys) > 0 && keys.ToSet().SubsetOf(cols) {
			dist = physical.HashDist(keys...)
		}
	case cat.ReplicatedDistribution:
		dist = physical.BroadcastDist
	case cat.SingleDistribution:
		dist = physical.SingletonDist
	default:
		dist = physical.RandomDist
	}

	var ordering opt.Ordering
	for _, ord := range tab.SortKey() {
		col := p.Table.ColumnID(ord)
		if !cols.Contains(col) {
			break
		}
		ordering = append(ordering, opt.MakeOrderingColumn(col, false /* descending */))
	}
	return o.provided(dist, ordering)
}
