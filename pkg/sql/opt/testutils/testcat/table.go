// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package testcat

import (
	"github.com/cockroachdb/cascades/pkg/sql/opt/cat"
)

// Table implements the cat.Table interface for testing purposes.
type Table struct {
	TabID   cat.StableID
	TabName string
	Kind    cat.SourceKind
	Columns []cat.Column
	Stats   *cat.TableStatistics
	Dist    cat.TableDistribution
	Sort    []int
	PartCol int
	Parts   []cat.Partition
}

var _ cat.Table = &Table{}

// ID is part of the cat.Table interface.
func (tt *Table) ID() cat.StableID { return tt.TabID }

// Name is part of the cat.Table interface.
func (tt *Table) Name() string { return tt.TabName }

// SourceKind is part of the cat.Table interface.
func (tt *Table) SourceKind() cat.SourceKind { return tt.Kind }

// ColumnCount is part of the cat.Table interface.
func (tt *Table) ColumnCount() int { return len(tt.Columns) }

// Column is part of the cat.Table interface.
func (tt *Table) Column(i int) *cat.Column { return &tt.Columns[i] }

// Statistics is part of the cat.Table interface.
func (tt *Table) Statistics() *cat.TableStatistics { return tt.Stats }

// Distribution is part of the cat.Table interface.
func (tt *Table) Distribution() cat.TableDistribution { return tt.Dist }

// SortKey is part of the cat.Table interface.
func (tt *Table) SortKey() []int { return tt.Sort }

// PartitionColumn is part of the cat.Table interface.
func (tt *Table) PartitionColumn() int {
	if len(tt.Parts) == 0 {
		return -1
	}
	return tt.PartCol
}

// Partitions is part of the cat.Table interface.
func (tt *Table) Partitions() []cat.Partition { return tt.Parts }

// String returns the table name.
func (tt *Table) String() string { return tt.TabName }
