// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package xform

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/cascades/pkg/sql/opt"
	"github.com/cockroachdb/cascades/pkg/sql/opt/cat"
	"github.com/cockroachdb/cascades/pkg/sql/opt/exec"
	"github.com/cockroachdb/cascades/pkg/sql/opt/memo"
	"github.com/cockroachdb/cascades/pkg/sql/opt/props/physical"
	"github.com/cockroachdb/cascades/pkg/util/log"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/logtags"
	"github.com/google/uuid"
)

// MatchedRuleFunc defines the callback function for the NotifyOnMatchedRule
// event supported by the optimizer. See the comment in NotifyOnMatchedRule
// for more details.
type MatchedRuleFunc func(ruleName opt.RuleName) bool

// AppliedRuleFunc defines the callback function for the NotifyOnAppliedRule
// event supported by the optimizer. See the comment in NotifyOnAppliedRule
// for more details.
type AppliedRuleFunc func(ruleName opt.RuleName, group memo.GroupID, added int)

// TestingKnobs are hooks into the search used by tests.
type TestingKnobs struct {
	// BeforeTask is called before every task is executed.
	BeforeTask func(kind TaskKind)
}

// RuleStat counts the activity of one rule during an optimization.
type RuleStat struct {
	Rule opt.RuleName
	Kind RuleKind

	// Attempts is the number of expressions the rule was tried on.
	Attempts int
	// Bindings is the number of pattern bindings the rule body was called on.
	Bindings int
	// Outputs is the number of expressions the rule body returned.
	Outputs int
	// Changed is the number of attempts that added an expression to the memo
	// or merged groups.
	Changed int
}

// Diagnostic reports a rule that failed on an expression. The failure is
// marked with opt.ErrUnsupportedPattern and did not abort the optimization.
type Diagnostic struct {
	Rule opt.RuleName
	Expr memo.GroupExprID
	Err  error
}

// Optimizer transforms an input logical expression tree into the logically
// equivalent physical plan of lowest estimated cost. It explores the
// equivalent forms of the tree by applying transformation rules, stores them
// in a memo, and then searches it top-down with implementation rules,
// physical property enforcement and cost bounds.
//
// An Optimizer performs a single optimization and is not safe for
// concurrent use. Independent queries are optimized by independent
// optimizers, which may share the catalog snapshot and rule catalog.
type Optimizer struct {
	mem  memo.Memo
	md   *opt.Metadata
	cfg  Config
	snap *cat.Snapshot

	catalog *RuleCatalog
	order   ruleOrder
	binder  binder
	coster  coster
	rc      RuleContext

	state     optState
	work      workList
	taskCount int

	// viewTables maps materialized view tables to their metadata ids, so that
	// a view used by several rewrites is added to the metadata once.
	viewTables map[cat.StableID]opt.TableID

	metrics     *Metrics
	knobs       TestingKnobs
	matchedRule MatchedRuleFunc
	appliedRule AppliedRuleFunc

	ruleStats   map[int]*RuleStat
	diagnostics []Diagnostic

	runID uuid.UUID
	used  bool
}

// NewOptimizer returns an optimizer for one query over the tables of the
// snapshot. md must hold the tables and columns referenced by the query; the
// optimizer adds the columns and view tables its rules introduce. snap may
// be nil, in which case no materialized views are considered.
func NewOptimizer(snap *cat.Snapshot, md *opt.Metadata, cfg Config) *Optimizer {
	o := &Optimizer{
		md:         md,
		cfg:        cfg,
		snap:       snap,
		catalog:    DefaultCatalog(),
		viewTables: make(map[cat.StableID]opt.TableID),
		ruleStats:  make(map[int]*RuleStat),
	}
	o.mem.Init(md)
	o.binder = binder{mem: &o.mem}
	o.coster = coster{mem: &o.mem, md: md, cfg: &o.cfg}
	o.rc = RuleContext{o: o}
	o.state.init()
	return o
}

// SetCatalog replaces the default rule catalog.
func (o *Optimizer) SetCatalog(c *RuleCatalog) {
	o.catalog = c
}

// SetMetrics makes the optimizer report to the given metrics.
func (o *Optimizer) SetMetrics(m *Metrics) {
	o.metrics = m
}

// SetTestingKnobs installs hooks into the search.
func (o *Optimizer) SetTestingKnobs(knobs TestingKnobs) {
	o.knobs = knobs
}

// NotifyOnMatchedRule sets a callback function which is invoked each time a
// rule is about to be applied to an expression. If the function returns
// false, then the rule is not applied. By default, all rules are applied,
// but callers can set the callback function to override the default
// behavior. Rules can also be disabled by the configuration.
func (o *Optimizer) NotifyOnMatchedRule(matchedRule MatchedRuleFunc) {
	o.matchedRule = matchedRule
}

// NotifyOnAppliedRule sets a callback function which is invoked each time a
// rule changes the memo. The callback is given the group the rule added to
// and the number of expressions it added.
func (o *Optimizer) NotifyOnAppliedRule(appliedRule AppliedRuleFunc) {
	o.appliedRule = appliedRule
}

// Memo returns the memo of the optimization.
func (o *Optimizer) Memo() *memo.Memo {
	return &o.mem
}

// Metadata returns the metadata of the query.
func (o *Optimizer) Metadata() *opt.Metadata {
	return o.md
}

// Config returns the configuration of the optimizer.
func (o *Optimizer) Config() *Config {
	return &o.cfg
}

// TaskCount returns the number of tasks executed so far.
func (o *Optimizer) TaskCount() int {
	return o.taskCount
}

// RunID identifies the optimization in logs.
func (o *Optimizer) RunID() uuid.UUID {
	return o.runID
}

// Diagnostics returns the rule failures recorded during the optimization.
func (o *Optimizer) Diagnostics() []Diagnostic {
	return o.diagnostics
}

// RuleStats returns the activity of every rule that was attempted, in
// catalog order.
func (o *Optimizer) RuleStats() []RuleStat {
	idx := make([]int, 0, len(o.ruleStats))
	for i := range o.ruleStats {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	res := make([]RuleStat, len(idx))
	for i, r := range idx {
		res[i] = *o.ruleStats[r]
	}
	return res
}

func (o *Optimizer) ruleStat(idx int) *RuleStat {
	s, ok := o.ruleStats[idx]
	if !ok {
		r := o.catalog.Rule(idx)
		s = &RuleStat{Rule: r.Name, Kind: r.Kind}
		o.ruleStats[idx] = s
	}
	return s
}

// FormatMemo returns the memo with the names of the rules fired on each
// expression.
func (o *Optimizer) FormatMemo(flags memo.FmtFlags) string {
	return o.mem.FormatMemo(flags, func(idx int) string {
		return o.catalog.Rule(idx).Name.String()
	})
}

// defaultRequired returns the properties required of the root when the
// caller does not specify any: the rows are gathered on one node.
func (o *Optimizer) defaultRequired() *physical.Required {
	if o.cfg.SingleNode {
		return physical.MinRequired
	}
	return &physical.Required{Distribution: physical.SingletonDist}
}

// Optimize inserts the logical tree into the memo and returns the lowest
// cost physical plan that provides the required properties. A nil required
// gathers the result on one node. The output columns of the plan are those
// of root, in the same order.
//
// When the configured timeout or the context deadline expires, Optimize
// returns the best plan found so far with Timedout set, or an error marked
// with opt.ErrTimeout if there is none. Other failures are marked with
// opt.ErrResourceLimitExceeded, opt.ErrPlanNotFound, or are assertion
// failures.
func (o *Optimizer) Optimize(
	ctx context.Context, root *memo.Expr, required *physical.Required,
) (plan *exec.Plan, err error) {
	if o.used {
		return nil, errors.AssertionFailedf("optimizer was already used")
	}
	o.used = true
	o.runID = uuid.New()
	ctx = logtags.AddTag(ctx, "opt", o.runID.String())
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			// This code allows us to propagate internal errors without having
			// to add error checks everywhere throughout the code. This is only
			// possible because the code does not update shared state and does
			// not manipulate locks.
			plan, err = nil, opt.CatchOptimizerError(r)
		}
		if err != nil && opt.IsInternalInconsistency(err) {
			log.Errorf(ctx, "optimizer internal error: %+v\n%s", err, o.FormatMemo(memo.FmtStats|memo.FmtWinners))
		}
		o.metrics.optimized(outcome(plan, err), o.mem.GroupCount(), time.Since(start))
	}()

	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}
	o.order = o.catalog.order(&o.cfg)
	if required == nil {
		required = o.defaultRequired()
	}
	required = o.props(required.Distribution, required.Ordering)

	rootGroup := o.mem.Insert(root)
	outCols := o.mem.Group(rootGroup).OutputCols().Copy()
	if !required.Ordering.ColSet().SubsetOf(outCols.ToSet()) {
		return nil, errors.AssertionFailedf("required ordering %s is not on the output columns", required.Ordering)
	}
	o.mem.SetRoot(rootGroup, required)
	log.VEventf(ctx, 1, "optimizing %d groups under %s", o.mem.GroupCount(), required)

	var deadline time.Time
	if o.cfg.Timeout > 0 {
		deadline = start.Add(o.cfg.Timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}

	o.push(task{kind: OptimizeGroupTask, group: rootGroup, required: required, bound: memo.MaxCost})
	runErr := o.run(ctx, deadline)
	timedOut := runErr != nil && errors.Is(runErr, errStopped)
	if runErr != nil && !timedOut {
		return nil, runErr
	}
	if timedOut {
		log.Warningf(ctx, "%v after %d tasks", runErr, o.taskCount)
	} else if o.cfg.CheckInvariants {
		if err := o.mem.CheckInvariants(); err != nil {
			return nil, err
		}
	}

	plan, err = o.extract(o.mem.Root(), required, outCols)
	if err != nil {
		if timedOut && errors.Is(err, opt.ErrPlanNotFound) {
			return nil, errors.Mark(errors.Wrap(runErr, "no plan found"), opt.ErrTimeout)
		}
		return nil, err
	}
	plan.Timedout = timedOut
	log.VEventf(ctx, 1, "optimized in %d tasks, %d groups, cost %s", o.taskCount, o.mem.GroupCount(), plan.Cost)
	return plan, nil
}

// outcome classifies the result of an optimization for metrics.
func outcome(plan *exec.Plan, err error) string {
	switch {
	case err == nil && plan.Timedout:
		return "timeout-partial"
	case err == nil:
		return "success"
	case errors.Is(err, opt.ErrTimeout):
		return "timeout"
	case errors.Is(err, opt.ErrResourceLimitExceeded):
		return "resource-limit"
	case errors.Is(err, opt.ErrPlanNotFound):
		return "plan-not-found"
	case opt.IsInternalInconsistency(err):
		return "internal-error"
	}
	return "error"
}
