// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package xform

import (
	"context"
	"math"
	"time"

	"github.com/cockroachdb/cascades/pkg/sql/opt"
	"github.com/cockroachdb/cascades/pkg/sql/opt/memo"
	"github.com/cockroachdb/cascades/pkg/sql/opt/props/physical"
	"github.com/cockroachdb/cascades/pkg/util/log"
	"github.com/cockroachdb/errors"
)

// errStopped is returned by run when the deadline expired or the context was
// canceled before the work list drained.
var errStopped = errors.New("optimization stopped")

// run executes tasks until the work list is empty. The deadline and the
// context are checked before every task.
func (o *Optimizer) run(ctx context.Context, deadline time.Time) error {
	for {
		if err := ctx.Err(); err != nil {
			return errors.Mark(errors.Wrap(err, "optimizer canceled"), errStopped)
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return errors.Mark(errors.Newf("optimizer deadline of %s exceeded", o.cfg.Timeout), errStopped)
		}
		t, ok := o.work.pop()
		if !ok {
			return nil
		}
		o.taskCount++
		if o.taskCount > o.cfg.MaxTasks {
			return opt.NewResourceLimitExceededf("optimizer exceeded %d tasks", o.cfg.MaxTasks)
		}
		o.metrics.taskExecuted(t.kind)
		if o.knobs.BeforeTask != nil {
			o.knobs.BeforeTask(t.kind)
		}
		o.perform(ctx, t)
	}
}

// push schedules a task. It panics with ResourceLimitExceeded if the work
// list grows past its bound.
func (o *Optimizer) push(t task) {
	if o.work.len() >= o.cfg.MaxWorklistDepth {
		panic(opt.NewResourceLimitExceededf("optimizer work list exceeded %d pending tasks", o.cfg.MaxWorklistDepth))
	}
	o.work.push(t)
}

func (o *Optimizer) perform(ctx context.Context, t task) {
	switch t.kind {
	case ExploreGroupTask:
		o.exploreGroup(t)
	case ExploreExprTask:
		o.exploreExpr(t)
	case ApplyRuleTask:
		o.applyRule(ctx, t)
	case OptimizeGroupTask:
		o.optimizeGroup(ctx, t)
	case OptimizeExprTask:
		o.optimizeExpr(t)
	case OptimizeInputsTask:
		o.optimizeInputs(t)
	case EnforceAndCostTask:
		o.enforceAndCost(t)
	case DeriveStatsTask:
		o.deriveStats(ctx, t)
	default:
		panic(errors.AssertionFailedf("unhandled task kind %s", t.kind))
	}
}

// exploreGroup schedules the exploration of the logical members of the
// group that have not been explored yet.
func (o *Optimizer) exploreGroup(t task) {
	members := o.mem.Group(t.group).Exprs()
	for i := len(members) - 1; i >= 0; i-- {
		e := o.mem.Expr(members[i])
		if e.Dead() || !e.Op().IsLogical() || o.state.explored.Has(int(e.ID())) {
			continue
		}
		o.push(task{kind: ExploreExprTask, expr: e.ID()})
	}
}

// exploreExpr schedules the transformation rules of the expression, after
// the exploration of the input groups their patterns descend into. Inputs
// are explored first so that patterns bind against their alternatives.
func (o *Optimizer) exploreExpr(t task) {
	if !o.state.markExplored(t.expr) {
		return
	}
	e := o.mem.Expr(t.expr)
	if e.Dead() {
		return
	}
	rules := o.order.transformations[e.Op()]
	for i := len(rules) - 1; i >= 0; i-- {
		o.push(task{kind: ApplyRuleTask, expr: t.expr, rule: rules[i]})
	}
	descend := make([]bool, e.ChildCount())
	for _, idx := range rules {
		for i := range descend {
			descend[i] = descend[i] || o.catalog.Rule(idx).Pattern.descends(i)
		}
	}
	for i := len(descend) - 1; i >= 0; i-- {
		if descend[i] {
			o.push(task{kind: ExploreGroupTask, group: o.mem.Find(e.Child(i))})
		}
	}
}

// optimizeExpr schedules the implementation rules of a logical expression
// under the properties and bound of the group optimization.
func (o *Optimizer) optimizeExpr(t task) {
	e := o.mem.Expr(t.expr)
	if e.Dead() {
		return
	}
	rules := o.order.implementations[e.Op()]
	for i := len(rules) - 1; i >= 0; i-- {
		next := t
		next.kind = ApplyRuleTask
		next.rule = rules[i]
		o.push(next)
	}
}

// applyRule binds the rule's pattern to the expression and adds the outputs
// of every binding to the expression's group. Each rule is applied to each
// expression at most once.
func (o *Optimizer) applyRule(ctx context.Context, t task) {
	if o.mem.Expr(t.expr).Dead() || o.mem.HasFired(t.expr, t.rule) {
		return
	}
	o.mem.MarkFired(t.expr, t.rule)
	rule := o.catalog.Rule(t.rule)
	if o.matchedRule != nil && !o.matchedRule(rule.Name) {
		return
	}

	group := o.mem.ExprGroup(t.expr)
	bindings := o.binder.bind(rule.Pattern, t.expr)
	stat := o.ruleStat(t.rule)
	stat.Attempts++
	stat.Bindings += len(bindings)
	if len(bindings) == 0 {
		return
	}

	before := o.mem.LastExprID()
	merges := o.mem.MergeCount()
	changed := false
	for _, b := range bindings {
		outputs, err := o.callRule(rule, b)
		if err != nil {
			o.unsupported(ctx, rule, t.expr, err)
			continue
		}
		stat.Outputs += len(outputs)
		for _, out := range outputs {
			if o.mem.InsertInto(out, group) {
				changed = true
			}
			group = o.mem.Find(group)
		}
	}
	if !changed {
		return
	}

	stat.Changed++
	o.metrics.ruleApplied(rule)
	o.state.firings[group]++
	if n := o.state.firings[group]; n > o.cfg.MaxRuleFiringsPerGroup {
		panic(opt.NewResourceLimitExceededf(
			"rules changed %s %d times, more than the limit of %d", group, n, o.cfg.MaxRuleFiringsPerGroup,
		))
	}
	if log.V(2) {
		log.VEventf(ctx, 2, "%s applied to e%d in %s, memo has %d exprs",
			rule.Name, t.expr, group, o.mem.LastExprID())
	}
	if o.appliedRule != nil {
		o.appliedRule(rule.Name, group, int(o.mem.LastExprID()-before))
	}

	for id := before + 1; id <= o.mem.LastExprID(); id++ {
		e := o.mem.Expr(id)
		if e.Dead() {
			continue
		}
		switch {
		case e.Op().IsLogical():
			o.push(task{kind: ExploreExprTask, expr: id})
		case rule.Kind == ImplementationRule && t.required != nil && o.mem.ExprGroup(id) == group:
			o.pushOptimizeInputs(e, t.required, t.bound, t.state)
		}
	}

	// A merge brings the members of another group into this one, which may
	// already be explored.
	if o.mem.MergeCount() != merges {
		o.push(task{kind: ExploreGroupTask, group: o.mem.Find(group)})
	}
}

// callRule runs the body of the rule on a binding. A panic or an output with
// different columns than the binding is reported as an error against the
// rule and the expression only.
func (o *Optimizer) callRule(rule *Rule, binding *memo.Expr) (outputs []*memo.Expr, err error) {
	defer func() {
		if r := recover(); r != nil {
			perr, ok := r.(error)
			if !ok {
				perr = errors.Newf("%v", r)
			}
			outputs, err = nil, errors.Wrapf(perr, "rule %s panicked", rule.Name)
		}
	}()
	outputs = rule.Apply(&o.rc, binding)
	want := o.mem.Group(binding.Group).OutputCols().ToSet()
	for _, out := range outputs {
		if out == nil {
			return nil, errors.Newf("rule %s returned a nil expression", rule.Name)
		}
		if rule.Kind == ImplementationRule && !out.Op.IsPhysical() {
			return nil, errors.Newf("implementation rule %s returned logical operator %s", rule.Name, out.Op)
		}
		if rule.Kind == TransformationRule && !out.IsGroupRef() && !out.Op.IsLogical() {
			return nil, errors.Newf("transformation rule %s returned physical operator %s", rule.Name, out.Op)
		}
		if got := o.rc.OutputCols(out).ToSet(); !got.Equals(want) {
			return nil, errors.Newf("rule %s changed the output columns from %s to %s", rule.Name, want, got)
		}
	}
	return outputs, nil
}

func (o *Optimizer) unsupported(ctx context.Context, rule *Rule, expr memo.GroupExprID, err error) {
	err = errors.Mark(err, opt.ErrUnsupportedPattern)
	o.diagnostics = append(o.diagnostics, Diagnostic{Rule: rule.Name, Expr: expr, Err: err})
	o.metrics.unsupportedPattern(rule)
	log.VEventf(ctx, 1, "%s skipped on e%d: %v", rule.Name, expr, err)
}

// optimizeGroup finds the lowest cost plan of the group under the required
// properties. The first phase derives statistics and explores the group,
// the second schedules the costing of every member, and the last marks the
// group optimized.
func (o *Optimizer) optimizeGroup(ctx context.Context, t task) {
	switch t.phase {
	case optimizeGroupStart:
		grp := o.mem.Find(t.group)
		state := o.state.ensureOptState(grp, t.required)
		if state.done && (!state.pruned || !state.bound.Less(t.bound)) {
			return
		}
		if state.inProgress {
			return
		}
		*state = groupState{inProgress: true, bound: t.bound}
		next := t
		next.group = grp
		next.state = state
		next.phase = optimizeGroupFinish
		o.push(next)
		next.phase = optimizeGroupMembers
		o.push(next)
		o.push(task{kind: ExploreGroupTask, group: grp})
		o.push(task{kind: DeriveStatsTask, group: grp})

	case optimizeGroupMembers:
		members := o.mem.Group(t.group).Exprs()
		for i := len(members) - 1; i >= 0; i-- {
			e := o.mem.Expr(members[i])
			if e.Dead() {
				continue
			}
			switch {
			case e.Op().IsLogical():
				next := t
				next.kind = OptimizeExprTask
				next.expr = e.ID()
				o.push(next)
			case e.Op().IsPhysical():
				o.pushOptimizeInputs(e, t.required, t.bound, t.state)
			}
		}

	case optimizeGroupFinish:
		t.state.inProgress = false
		t.state.done = true
		if log.V(3) {
			if w := o.mem.BestWinner(t.group, t.required); w != nil {
				log.VEventf(ctx, 3, "%s optimized under %s: e%d cost %s", t.group, t.required, w.Expr, w.Cost)
			} else {
				log.VEventf(ctx, 3, "%s has no plan under %s", t.group, t.required)
			}
		}
	}
}

// pushOptimizeInputs schedules the optimization of the inputs of a physical
// expression, once for every alternative set of input requirements.
func (o *Optimizer) pushOptimizeInputs(
	e *memo.GroupExpr, required *physical.Required, bound memo.Cost, state *groupState,
) {
	lower := o.coster.lowerBound(e)
	alts := o.childRequirements(e, required)
	for i := len(alts) - 1; i >= 0; i-- {
		o.push(task{
			kind:      OptimizeInputsTask,
			group:     o.mem.Find(e.Group()),
			expr:      e.ID(),
			required:  required,
			bound:     bound,
			state:     state,
			childReqs: alts[i],
			acc:       lower,
		})
	}
}

// effectiveBound returns the tighter of the task's bound and the cost of the
// plan already found for the group. fromBound is true if the task's bound is
// the tighter one.
func (o *Optimizer) effectiveBound(t *task) (_ memo.Cost, fromBound bool) {
	if w := o.mem.BestWinner(t.group, t.required); w != nil && w.Cost.Less(t.bound) {
		return w.Cost, false
	}
	return t.bound, true
}

// remainingBound returns the bound of an input given the bound of the
// expression and the cost accumulated before it.
func remainingBound(bound, acc memo.Cost) memo.Cost {
	if math.IsInf(bound.C, +1) || bound.Flags != acc.Flags {
		return memo.Cost{C: math.Inf(+1), Flags: bound.Flags}
	}
	return memo.Cost{C: bound.C - acc.C, Flags: bound.Flags}
}

// optimizeInputs optimizes the inputs of a physical expression one at a
// time. Before each input it compares the cost accumulated so far with the
// bound, and abandons the expression once it cannot beat it.
func (o *Optimizer) optimizeInputs(t task) {
	e := o.mem.Expr(t.expr)
	if e.Dead() {
		return
	}
	t.group = o.mem.Find(t.group)
	for t.child < e.ChildCount() {
		bound, fromBound := o.effectiveBound(&t)
		if bound.Less(t.acc) {
			if fromBound {
				t.state.pruned = true
			}
			o.metrics.pruned()
			return
		}
		child := o.mem.Find(e.Child(t.child))
		required := t.childReqs[t.child]
		if !t.waited {
			state := o.state.lookupOptState(child, required)
			if state == nil || !state.done || state.pruned {
				t.waited = true
				o.push(t)
				o.push(task{
					kind:     OptimizeGroupTask,
					group:    child,
					required: required,
					bound:    remainingBound(bound, t.acc),
				})
				return
			}
		}
		w := o.mem.BestWinner(child, required)
		if w == nil {
			// The input may have a plan under a looser bound.
			if state := o.state.lookupOptState(child, required); state == nil || state.pruned || state.inProgress {
				t.state.pruned = true
			}
			return
		}
		// The lower bound of the input is already part of its cost.
		t.acc.Add(w.Cost)
		t.child++
		t.waited = false
	}
	t.kind = EnforceAndCostTask
	o.push(t)
}

// enforceAndCost costs a physical expression whose inputs have winners and
// records it as a winner for the properties it provides. If those do not
// satisfy the required properties, enforcers are placed on top.
func (o *Optimizer) enforceAndCost(t task) {
	e := o.mem.Expr(t.expr)
	if e.Dead() {
		return
	}
	grp := o.mem.Find(e.Group())
	n := e.ChildCount()
	childProvided := make([]*physical.Required, n)
	var cost memo.Cost
	for i := 0; i < n; i++ {
		w := o.mem.BestWinner(e.Child(i), t.childReqs[i])
		if w == nil {
			return
		}
		childProvided[i] = w.Provided
		cost.Add(w.Cost)
	}
	provided := o.providedProps(e, childProvided)
	cost.Add(o.coster.computeCost(e, o.coster.dop(provided.Distribution)))
	if t.bound.Less(cost) {
		t.state.pruned = true
		o.metrics.pruned()
		return
	}

	w := &memo.Winner{
		Expr:          e.ID(),
		ChildRequired: childProvided,
		Provided:      provided,
		Cost:          cost,
	}
	o.mem.RecordWinner(grp, provided, w)
	if provided.Satisfies(t.required) {
		cp := *w
		o.mem.RecordWinner(grp, t.required, &cp)
		return
	}
	o.enforce(grp, t.required, provided, cost)
}

// enforce places a distribute enforcer and then a sort enforcer on top of
// the group's plan for the given properties, until the required properties
// are satisfied. A distribute destroys the ordering of its input, so it
// always comes first.
func (o *Optimizer) enforce(
	grp memo.GroupID, required, provided *physical.Required, cost memo.Cost,
) {
	cur := provided
	record := func(op opt.Operator, private memo.Private, next *physical.Required) {
		cost.Add(o.coster.enforcerCost(grp, op, private, cur))
		o.mem.RecordWinner(grp, next, &memo.Winner{
			Enforcer:        op,
			EnforcerPrivate: private,
			InputRequired:   cur,
			Provided:        next,
			Cost:            cost,
		})
		cur = next
	}

	if !cur.Distribution.Satisfies(required.Distribution) {
		if o.cfg.SingleNode {
			panic(errors.AssertionFailedf("distribution %s required in single node mode", required.Distribution))
		}
		target := required.Distribution
		record(opt.DistributeOp, &memo.DistributePrivate{Target: target}, o.provided(target, nil))
	}
	if !cur.Ordering.Provides(required.Ordering) {
		record(opt.PhysSortOp, &memo.SortPrivate{Ordering: required.Ordering}, o.provided(cur.Distribution, required.Ordering))
	}
	if cur != required {
		w := *o.mem.BestWinner(grp, cur)
		o.mem.RecordWinner(grp, required, &w)
	}
}

func (o *Optimizer) deriveStats(ctx context.Context, t task) {
	if o.mem.StatsDerived(t.group) {
		return
	}
	stats := o.mem.Stats(t.group)
	log.VEventf(ctx, 3, "%s: %.9g rows", t.group, stats.RowCount)
}
