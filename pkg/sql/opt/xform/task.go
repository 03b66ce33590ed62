// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package xform

import (
	"github.com/cockroachdb/cascades/pkg/sql/opt/memo"
	"github.com/cockroachdb/cascades/pkg/sql/opt/props/physical"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
)

// TaskKind identifies one step of the search.
type TaskKind uint8

const (
	// ExploreGroupTask schedules the exploration of every logical member of a
	// group.
	ExploreGroupTask TaskKind = iota
	// ExploreExprTask applies the transformation rules to one expression,
	// after exploring the input groups that the rule patterns descend into.
	ExploreExprTask
	// ApplyRuleTask applies one rule to one expression and schedules the
	// follow-up work for the expressions it adds.
	ApplyRuleTask
	// OptimizeGroupTask finds the lowest cost plan of a group under a set of
	// required physical properties. It runs in phases.
	OptimizeGroupTask
	// OptimizeExprTask applies the implementation rules to a logical
	// expression.
	OptimizeExprTask
	// OptimizeInputsTask optimizes the inputs of a physical expression one
	// at a time, carrying the cost accumulated so far.
	OptimizeInputsTask
	// EnforceAndCostTask costs a physical expression whose inputs all have
	// winners, records it, and adds enforcers if it does not provide the
	// required properties.
	EnforceAndCostTask
	// DeriveStatsTask derives the statistics of a group.
	DeriveStatsTask
)

var taskKindNames = [...]string{
	ExploreGroupTask:   "explore-group",
	ExploreExprTask:    "explore-expr",
	ApplyRuleTask:      "apply-rule",
	OptimizeGroupTask:  "optimize-group",
	OptimizeExprTask:   "optimize-expr",
	OptimizeInputsTask: "optimize-inputs",
	EnforceAndCostTask: "enforce-and-cost",
	DeriveStatsTask:    "derive-stats",
}

func (k TaskKind) String() string {
	if int(k) >= len(taskKindNames) {
		panic(errors.AssertionFailedf("unknown task kind %d", k))
	}
	return taskKindNames[k]
}

// SafeFormat implements redact.SafeFormatter.
func (k TaskKind) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Print(redact.SafeString(k.String()))
}

const (
	optimizeGroupStart = iota
	optimizeGroupMembers
	optimizeGroupFinish
)

// task is a unit of work of the scheduler. Only the fields used by its kind
// are set.
type task struct {
	kind  TaskKind
	group memo.GroupID
	expr  memo.GroupExprID

	// rule is the catalog index of the rule of an ApplyRuleTask.
	rule int

	// required and bound are the properties and cost upper bound that the
	// group is being optimized under. Implementation rules carry them so the
	// physical expressions they add can be optimized right away.
	required *physical.Required
	bound    memo.Cost
	state    *groupState

	// phase is the phase of an OptimizeGroupTask.
	phase int

	// childReqs holds one requirement per input of an OptimizeInputsTask or
	// EnforceAndCostTask. child is the next input to optimize, and acc is the
	// lower bound of the expression plus the cost of the inputs optimized so
	// far. waited is set once the optimization of the current input was
	// scheduled.
	childReqs []*physical.Required
	child     int
	acc       memo.Cost
	waited    bool
}

// workList is the LIFO stack of pending tasks.
type workList struct {
	tasks []task
}

func (w *workList) push(t task) {
	w.tasks = append(w.tasks, t)
}

func (w *workList) pop() (task, bool) {
	n := len(w.tasks)
	if n == 0 {
		return task{}, false
	}
	t := w.tasks[n-1]
	w.tasks[n-1] = task{}
	w.tasks = w.tasks[:n-1]
	return t, true
}

func (w *workList) len() int {
	return len(w.tasks)
}
