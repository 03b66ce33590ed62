// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package props

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/cockroachdb/cascades/pkg/sql/opt"
)

// Statistics is a collection of measurements and statistics that is used by
// the coster to estimate the cost of expressions. Statistics are collected
// for tables and indexes and are exposed to the optimizer via cat.Catalog
// interfaces.
//
// As logical properties are derived bottom-up for each expression, the
// estimated row count is derived bottom-up for each relational expression.
// The column statistics (stored in ColStats) are derived for the columns the
// expression outputs.
type Statistics struct {
	// Available indicates whether the underlying table statistics for this
	// expression were available. If true, RowCount contains a real estimate.
	// If false, RowCount contains a default non-zero value.
	Available bool

	// RowCount is the estimated number of rows returned by the expression.
	// Note that - especially when there are no stats available - the scaling
	// of the row counts can be unpredictable; thus, a row count of 0.001 should
	// be considered 1000 times better than a row count of 1, even though if
	// this was a true row count they would be pretty much the same thing.
	RowCount float64

	// ColStats contains the statistics of the output columns.
	ColStats ColStatsMap
}

// Init initializes the statistics with the given row count.
func (s *Statistics) Init(rowCount float64, available bool) {
	s.RowCount = rowCount
	s.Available = available
	s.ColStats = make(ColStatsMap)
}

// Copy returns a deep copy of the statistics.
func (s *Statistics) Copy() *Statistics {
	res := &Statistics{Available: s.Available, RowCount: s.RowCount, ColStats: make(ColStatsMap, len(s.ColStats))}
	for col, cs := range s.ColStats {
		cp := *cs
		res.ColStats[col] = &cp
	}
	return res
}

// ApplySelectivity scales the row count and the column distinct counts by
// the selectivity.
func (s *Statistics) ApplySelectivity(selectivity float64) {
	if selectivity < 0 {
		selectivity = 0
	} else if selectivity > 1 {
		selectivity = 1
	}
	s.RowCount *= selectivity
	for _, cs := range s.ColStats {
		cs.NullCount *= selectivity
		cs.DistinctCount = math.Min(cs.DistinctCount, math.Max(s.RowCount, epsilon))
	}
}

// LimitRowCount caps the row count (and with it every distinct count).
func (s *Statistics) LimitRowCount(limit float64) {
	if s.RowCount <= limit {
		return
	}
	s.ApplySelectivity(limit / s.RowCount)
}

// ColStat returns the statistic of the column, or nil.
func (s *Statistics) ColStat(col opt.ColumnID) *ColumnStatistic {
	return s.ColStats[col]
}

// DistinctCount returns the distinct count of the column, falling back to a
// fraction of the row count when it's unknown.
func (s *Statistics) DistinctCount(col opt.ColumnID) float64 {
	if cs, ok := s.ColStats[col]; ok {
		return math.Max(cs.DistinctCount, 1)
	}
	return math.Max(s.RowCount*UnknownDistinctCountRatio, 1)
}

func (s *Statistics) String() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "[rows=%.9g", s.RowCount)
	cols := make([]opt.ColumnID, 0, len(s.ColStats))
	for col := range s.ColStats {
		cols = append(cols, col)
	}
	sort.Slice(cols, func(i, j int) bool { return cols[i] < cols[j] })
	for _, col := range cols {
		cs := s.ColStats[col]
		fmt.Fprintf(&buf, ", distinct(%d)=%.9g, null(%d)=%.9g", col, cs.DistinctCount, col, cs.NullCount)
	}
	buf.WriteByte(']')
	return buf.String()
}

// ColumnStatistic is a collection of statistics that applies to a column.
type ColumnStatistic struct {
	// Col is the column that the statistic applies to.
	Col opt.ColumnID

	// DistinctCount is the estimated number of distinct values of this
	// column.
	DistinctCount float64

	// NullCount is the estimated number of null values of this column.
	NullCount float64
}

// NullFraction returns the fraction of rows that are null, given the total
// row count.
func (c *ColumnStatistic) NullFraction(rowCount float64) float64 {
	if rowCount <= 0 {
		return 0
	}
	return math.Min(c.NullCount/rowCount, 1)
}

// ColStatsMap maps columns to their statistics.
type ColStatsMap map[opt.ColumnID]*ColumnStatistic

// Add inserts or replaces the statistic of the column.
func (m ColStatsMap) Add(col opt.ColumnID, distinct, nulls float64) *ColumnStatistic {
	cs := &ColumnStatistic{Col: col, DistinctCount: distinct, NullCount: nulls}
	m[col] = cs
	return cs
}

// Constants used when statistics are unavailable. They match the estimates
// used by the statistics builder for relational operators.
const (
	// UnknownRowCount is the row count assumed for tables without statistics.
	UnknownRowCount = 1000

	// UnknownDistinctCountRatio is the ratio of distinct values to rows
	// assumed for columns without statistics.
	UnknownDistinctCountRatio = 0.1

	// UnknownNullCountRatio is the ratio of nulls to rows assumed for nullable
	// columns without statistics.
	UnknownNullCountRatio = 0.01

	// UnknownFilterSelectivity is the selectivity of range and otherwise
	// unanalyzable predicates.
	UnknownFilterSelectivity = 1.0 / 3.0

	// UnknownGeneratorRowCount is the row count assumed for table functions.
	UnknownGeneratorRowCount = 10

	epsilon = 1e-10
)
