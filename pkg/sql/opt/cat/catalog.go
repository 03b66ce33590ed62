// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package cat contains interfaces that are used by the query optimizer to
// avoid including specifics of catalog and connector implementations. The
// optimizer never talks to a Catalog directly: all lookups are resolved up
// front into an immutable Snapshot.
package cat

import (
	"context"

	"github.com/cockroachdb/cascades/pkg/sql/types"
)

// StableID permanently and uniquely identifies a catalog object (table or
// materialized view) within the catalog.
type StableID uint64

// Catalog is an interface to a database catalog, exposing only the
// information needed by the query optimizer.
type Catalog interface {
	// ResolveTable returns the table with the given name, along with its
	// statistics.
	ResolveTable(ctx context.Context, name string) (Table, error)

	// MaterializedViews returns the materialized views defined over the table
	// with the given id. The view tables themselves must also be resolvable by
	// id through TableByID.
	MaterializedViews(ctx context.Context, base StableID) ([]*MaterializedView, error)

	// TableByID returns the table with the given id.
	TableByID(ctx context.Context, id StableID) (Table, error)
}

// Column describes a single column of a table.
type Column struct {
	Name     string
	Type     *types.T
	Nullable bool
}

// Table is an interface to a database table, exposing only the information
// needed by the query optimizer.
type Table interface {
	// ID is the unique, stable identifier for this table.
	ID() StableID

	// Name is the unqualified name of the table.
	Name() string

	// SourceKind is the connector the table's data is read through.
	SourceKind() SourceKind

	// ColumnCount returns the number of columns in the table.
	ColumnCount() int

	// Column returns the column at the given ordinal.
	Column(i int) *Column

	// Statistics returns the most recent table statistics, or nil if there are
	// none.
	Statistics() *TableStatistics

	// Distribution describes how the table's rows are spread across nodes.
	Distribution() TableDistribution

	// SortKey returns the ordinals of the columns the table's data is stored
	// sorted by, or nil.
	SortKey() []int

	// PartitionColumn returns the ordinal of the range partitioning column, or
	// -1 if the table is not partitioned.
	PartitionColumn() int

	// Partitions returns the table partitions in increasing order of their
	// bounds.
	Partitions() []Partition
}

// DistributionKind is the way table rows are placed on nodes.
type DistributionKind uint8

const (
	// RandomDistribution spreads rows on all nodes without a placement key.
	RandomDistribution DistributionKind = iota
	// HashDistribution places rows by the hash of KeyOrdinals.
	HashDistribution
	// ReplicatedDistribution keeps a full copy of the table on every node.
	ReplicatedDistribution
	// SingleDistribution keeps all rows on a single node.
	SingleDistribution
)

var distributionKindNames = [...]string{
	RandomDistribution:     "random",
	HashDistribution:       "hash",
	ReplicatedDistribution: "replicated",
	SingleDistribution:     "single",
}

func (k DistributionKind) String() string {
	return distributionKindNames[k]
}

// ParseDistributionKind returns the distribution kind with the given name.
func ParseDistributionKind(s string) (DistributionKind, bool) {
	for i, n := range distributionKindNames {
		if n == s {
			return DistributionKind(i), true
		}
	}
	return RandomDistribution, false
}

// TableDistribution describes the placement of a table's rows.
type TableDistribution struct {
	Kind        DistributionKind
	KeyOrdinals []int
	Buckets     int
}

// Partition is a range partition of a table: rows whose partition column
// value lies in [Lower, Upper).
type Partition struct {
	Name     string
	Lower    float64
	Upper    float64
	RowCount float64
}

// MaterializedView describes a view whose contents are maintained from a
// base table. Two shapes are supported: an aggregate view (GroupBy and
// Aggregates set) whose i-th column is GroupBy[i] followed by one column per
// aggregate, and a projection view (Columns set) whose i-th column is the
// base column Columns[i].
type MaterializedView struct {
	View       Table
	Base       StableID
	GroupBy    []int
	Aggregates []ViewAggregate
	Columns    []int
}

// IsAggregate returns true for aggregate views.
func (mv *MaterializedView) IsAggregate() bool {
	return len(mv.Aggregates) > 0 || len(mv.GroupBy) > 0
}

// ViewAggregate is one aggregate column of an aggregate view. Arg is the base
// table ordinal, or -1 for count(*).
type ViewAggregate struct {
	Func string
	Arg  int
}

// FindColumn returns the ordinal of the table column with the given name,
// or -1.
func FindColumn(tab Table, name string) int {
	for i, n := 0, tab.ColumnCount(); i < n; i++ {
		if tab.Column(i).Name == name {
			return i
		}
	}
	return -1
}
