// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package opt

import (
	"github.com/cockroachdb/cascades/pkg/sql/opt/cat"
	"github.com/cockroachdb/cascades/pkg/sql/types"
	"github.com/cockroachdb/errors"
)

// TableID uniquely identifies the usage of a table within the scope of a
// query. TableID 0 is reserved to mean "unknown table". Internally, the
// TableID consists of the ColumnID of the table's first column, so that the
// ColumnID of any table column can be computed from its ordinal.
type TableID uint32

// ColumnID returns the metadata id of the column at the given ordinal of the
// table.
func (t TableID) ColumnID(ord int) ColumnID {
	return ColumnID(int(t) + ord)
}

// ColumnOrdinal returns the ordinal of the column within the table.
func (t TableID) ColumnOrdinal(id ColumnID) int {
	return int(id) - int(t)
}

// ColumnMeta stores information about one of the columns used by a query.
type ColumnMeta struct {
	// MetaID is the identifier for this column that is unique within the query
	// metadata.
	MetaID ColumnID

	// Alias is the name of the column.
	Alias string

	// Type is the scalar type of the column.
	Type *types.T

	// Table is the table the column comes from, or zero for columns
	// synthesized by projections, aggregations and set operations.
	Table TableID
}

// TableMeta stores information about one of the tables used by a query.
type TableMeta struct {
	MetaID TableID
	Table  cat.Table
	// Alias is the name of the table within the query; it defaults to the
	// table name.
	Alias string
}

// Metadata assigns unique ids to the columns and tables used by a query. It
// is built by the analyzer together with the logical tree, and is read-only
// once optimization starts.
type Metadata struct {
	cols   []ColumnMeta
	tables []TableMeta
}

// Init prepares the metadata for use or reuse.
func (md *Metadata) Init() {
	md.cols = md.cols[:0]
	md.tables = md.tables[:0]
}

// AddTable registers a usage of the table and allocates a column id for each
// of its columns.
func (md *Metadata) AddTable(tab cat.Table, alias string) TableID {
	if alias == "" {
		alias = tab.Name()
	}
	tabID := TableID(len(md.cols) + 1)
	md.tables = append(md.tables, TableMeta{MetaID: tabID, Table: tab, Alias: alias})
	for i, n := 0, tab.ColumnCount(); i < n; i++ {
		col := tab.Column(i)
		md.cols = append(md.cols, ColumnMeta{
			MetaID: ColumnID(len(md.cols) + 1),
			Alias:  col.Name,
			Type:   col.Type,
			Table:  tabID,
		})
	}
	return tabID
}

// AddColumn allocates a new column that does not come from a table.
func (md *Metadata) AddColumn(alias string, typ *types.T) ColumnID {
	col := ColumnID(len(md.cols) + 1)
	md.cols = append(md.cols, ColumnMeta{MetaID: col, Alias: alias, Type: typ})
	return col
}

// NumColumns returns the number of columns allocated so far.
func (md *Metadata) NumColumns() int {
	return len(md.cols)
}

// ColumnMeta looks up the metadata for the column.
func (md *Metadata) ColumnMeta(col ColumnID) *ColumnMeta {
	if col <= 0 || col.index() >= len(md.cols) {
		panic(errors.AssertionFailedf("unknown column %d", col))
	}
	return &md.cols[col.index()]
}

// TableMeta looks up the metadata for the table.
func (md *Metadata) TableMeta(id TableID) *TableMeta {
	for i := range md.tables {
		if md.tables[i].MetaID == id {
			return &md.tables[i]
		}
	}
	panic(errors.AssertionFailedf("unknown table %d", id))
}

// Table returns the catalog table for the given table id.
func (md *Metadata) Table(id TableID) cat.Table {
	return md.TableMeta(id).Table
}

// AllTables returns the metadata for all tables, in the order they were
// added.
func (md *Metadata) AllTables() []TableMeta {
	return md.tables
}

// TableColumns returns the ids of all columns of the table.
func (md *Metadata) TableColumns(id TableID) ColList {
	tab := md.Table(id)
	res := make(ColList, tab.ColumnCount())
	for i := range res {
		res[i] = id.ColumnID(i)
	}
	return res
}

// QualifiedAlias returns the column alias, prefixed with the table alias
// when another column in the metadata shares the same alias.
func (md *Metadata) QualifiedAlias(col ColumnID) string {
	cm := md.ColumnMeta(col)
	if cm.Table == 0 {
		return cm.Alias
	}
	for i := range md.cols {
		other := &md.cols[i]
		if other.MetaID != col && other.Alias == cm.Alias {
			return md.TableMeta(cm.Table).Alias + "." + cm.Alias
		}
	}
	return cm.Alias
}
