// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package cat

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"
)

// Snapshot is an immutable view of the catalog objects referenced by a
// single query. It is taken once, before optimization starts, so that table
// statistics cannot change underneath a running optimization. A Snapshot may
// be shared by any number of goroutines.
type Snapshot struct {
	byName map[string]Table
	byID   map[StableID]Table
	views  map[StableID][]*MaterializedView
}

// NewSnapshot resolves the named tables, their materialized views and the
// view tables, and freezes their statistics.
func NewSnapshot(ctx context.Context, c Catalog, names ...string) (*Snapshot, error) {
	s := &Snapshot{
		byName: make(map[string]Table, len(names)),
		byID:   make(map[StableID]Table, len(names)),
		views:  make(map[StableID][]*MaterializedView),
	}
	for _, name := range names {
		if _, ok := s.byName[name]; ok {
			continue
		}
		tab, err := c.ResolveTable(ctx, name)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving table %q", name)
		}
		frozen := freeze(tab)
		s.byName[name] = frozen
		s.byID[tab.ID()] = frozen

		views, err := c.MaterializedViews(ctx, tab.ID())
		if err != nil {
			return nil, errors.Wrapf(err, "resolving materialized views of %q", name)
		}
		for _, mv := range views {
			viewTab := mv.View
			if viewTab == nil {
				return nil, errors.AssertionFailedf("materialized view over %q has no table", name)
			}
			frozenView := freeze(viewTab)
			s.byID[viewTab.ID()] = frozenView
			cp := *mv
			cp.View = frozenView
			s.views[tab.ID()] = append(s.views[tab.ID()], &cp)
		}
	}
	return s, nil
}

// Table returns the table with the given name.
func (s *Snapshot) Table(name string) (Table, bool) {
	t, ok := s.byName[name]
	return t, ok
}

// TableByID returns the table or view with the given id.
func (s *Snapshot) TableByID(id StableID) (Table, bool) {
	t, ok := s.byID[id]
	return t, ok
}

// MaterializedViews returns the views defined over the given base table.
func (s *Snapshot) MaterializedViews(base StableID) []*MaterializedView {
	return s.views[base]
}

// Tables returns the resolved tables, ordered by name.
func (s *Snapshot) Tables() []Table {
	res := make([]Table, 0, len(s.byName))
	for _, t := range s.byName {
		res = append(res, t)
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].Name() < res[j].Name()
	})
	return res
}

// frozenTable pins the statistics of a table at snapshot time.
type frozenTable struct {
	Table
	stats      *TableStatistics
	partitions []Partition
}

func freeze(tab Table) Table {
	if f, ok := tab.(*frozenTable); ok {
		return f
	}
	return &frozenTable{
		Table:      tab,
		stats:      tab.Statistics().Copy(),
		partitions: append([]Partition(nil), tab.Partitions()...),
	}
}

func (t *frozenTable) Statistics() *TableStatistics {
	return t.stats
}

func (t *frozenTable) Partitions() []Partition {
	return t.partitions
}
