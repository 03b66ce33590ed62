// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package testcat

import (
	"context"
	"sort"

	"github.com/cockroachdb/cascades/pkg/sql/opt/cat"
	"github.com/cockroachdb/errors"
)

// Catalog implements the cat.Catalog interface for testing purposes.
type Catalog struct {
	tables  map[string]*Table
	byID    map[cat.StableID]*Table
	views   map[cat.StableID][]*cat.MaterializedView
	counter cat.StableID
}

var _ cat.Catalog = &Catalog{}

// New creates a new empty instance of the test catalog.
func New() *Catalog {
	return &Catalog{
		tables: make(map[string]*Table),
		byID:   make(map[cat.StableID]*Table),
		views:  make(map[cat.StableID][]*cat.MaterializedView),
	}
}

// ResolveTable is part of the cat.Catalog interface.
func (tc *Catalog) ResolveTable(_ context.Context, name string) (cat.Table, error) {
	if tab, ok := tc.tables[name]; ok {
		return tab, nil
	}
	return nil, errors.Newf("table %q does not exist", name)
}

// MaterializedViews is part of the cat.Catalog interface.
func (tc *Catalog) MaterializedViews(
	_ context.Context, base cat.StableID,
) ([]*cat.MaterializedView, error) {
	return tc.views[base], nil
}

// TableByID is part of the cat.Catalog interface.
func (tc *Catalog) TableByID(_ context.Context, id cat.StableID) (cat.Table, error) {
	if tab, ok := tc.byID[id]; ok {
		return tab, nil
	}
	return nil, errors.Newf("table [%d] does not exist", id)
}

// AddTable adds a table to the catalog, assigning it the next id if it
// doesn't have one. Adding a table with an existing name replaces it.
func (tc *Catalog) AddTable(tab *Table) *Table {
	if tab.TabID == 0 {
		tc.counter++
		tab.TabID = tc.counter + 100
	}
	if old, ok := tc.tables[tab.TabName]; ok {
		delete(tc.byID, old.TabID)
	}
	tc.tables[tab.TabName] = tab
	tc.byID[tab.TabID] = tab
	return tab
}

// AddMaterializedView adds the view table to the catalog and registers it as
// a materialized view of its base table.
func (tc *Catalog) AddMaterializedView(mv *cat.MaterializedView) {
	tc.AddTable(mv.View.(*Table))
	tc.views[mv.Base] = append(tc.views[mv.Base], mv)
}

// Table returns the table with the given name, or nil.
func (tc *Catalog) Table(name string) *Table {
	return tc.tables[name]
}

// TableNames returns the names of all tables in the catalog, sorted.
func (tc *Catalog) TableNames() []string {
	names := make([]string, 0, len(tc.tables))
	for name := range tc.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot freezes every table of the catalog.
func (tc *Catalog) Snapshot(ctx context.Context) (*cat.Snapshot, error) {
	return cat.NewSnapshot(ctx, tc, tc.TableNames()...)
}
