// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package xform

import (
	"github.com/cockroachdb/cascades/pkg/sql/opt/memo"
	"github.com/cockroachdb/cascades/pkg/sql/opt/props/physical"
	"golang.org/x/tools/container/intsets"
)

// optState contains all the relevant information about the states of the
// different groups in the memo. It is discarded once optimization is
// complete.
type optState struct {
	stateMap   map[groupStateKey]*groupState
	stateAlloc groupStateAlloc

	// explored is the set of expressions on which exploration tasks were
	// scheduled, by expression id.
	explored intsets.Sparse

	// firings counts, per group, the rule applications that changed the
	// group.
	firings map[memo.GroupID]int
}

func (s *optState) init() {
	*s = optState{
		stateMap: make(map[groupStateKey]*groupState),
		firings:  make(map[memo.GroupID]int),
	}
}

// lookupOptState looks up the state associated with the given group and
// properties. If no state exists yet, then lookupOptState returns nil.
func (s *optState) lookupOptState(grp memo.GroupID, required *physical.Required) *groupState {
	return s.stateMap[groupStateKey{group: grp, required: required}]
}

// ensureOptState looks up the state associated with the given group and
// properties. If none is associated yet, then ensureOptState allocates new
// state and returns it.
func (s *optState) ensureOptState(grp memo.GroupID, required *physical.Required) *groupState {
	key := groupStateKey{group: grp, required: required}
	state, ok := s.stateMap[key]
	if !ok {
		state = s.stateAlloc.allocate()
		s.stateMap[key] = state
	}
	return state
}

// markExplored records that the expression was scheduled for exploration.
// It returns false if it already was.
func (s *optState) markExplored(id memo.GroupExprID) bool {
	return s.explored.Insert(int(id))
}

// groupStateKey associates groupState with a group that is being optimized
// with respect to a set of physical properties. Groups are keyed by the id
// that survived any merges at the time the state was created.
type groupStateKey struct {
	group    memo.GroupID
	required *physical.Required
}

// groupState is temporary storage that's associated with each group that's
// optimized under a set of physical properties. It allows the optimizer to
// short-circuit already traversed parts of the memo.
type groupState struct {
	// inProgress is set while tasks optimizing the group are pending. A group
	// that is reached again through one of its own inputs is not entered
	// twice.
	inProgress bool

	// done is set once every member of the group was costed under the
	// required properties.
	done bool

	// pruned is set if some member was abandoned because its cost exceeded
	// the upper bound. The group's winner is then only optimal among the
	// plans that cost less than bound, and the group is optimized again if a
	// looser bound is requested.
	pruned bool

	// bound is the upper bound the group was last optimized under.
	bound memo.Cost
}

// groupStateAlloc allocates pages of groupState structs. This is preferable
// to a slice of groupState structs because pointers are not invalidated when
// a resize occurs, and because there's no need to retain a stable index.
type groupStateAlloc struct {
	page []groupState
}

// allocate returns a pointer to a new, empty groupState struct. The pointer
// is stable, meaning that its location won't change as other groupState
// structs are allocated.
func (a *groupStateAlloc) allocate() *groupState {
	if len(a.page) == 0 {
		a.page = make([]groupState, 8)
	}
	state := &a.page[0]
	a.page = a.page[1:]
	return state
}
