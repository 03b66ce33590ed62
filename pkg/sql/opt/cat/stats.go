// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package cat

import (
	"bytes"
	"strconv"

	"github.com/google/btree"
	"github.com/olekukonko/tablewriter"
)

// TableStatistics is a snapshot of the statistics collected for a table.
type TableStatistics struct {
	RowCount  float64
	SizeBytes float64
	Columns   []ColumnStatistic
}

// ColumnStatistic holds the statistics of a single table column.
type ColumnStatistic struct {
	Ordinal       int
	DistinctCount float64
	NullFraction  float64
	AvgSize       float64
	Histogram     *Histogram
}

// ColumnStat returns the statistic for the column with the given ordinal, or
// nil.
func (ts *TableStatistics) ColumnStat(ord int) *ColumnStatistic {
	if ts == nil {
		return nil
	}
	for i := range ts.Columns {
		if ts.Columns[i].Ordinal == ord {
			return &ts.Columns[i]
		}
	}
	return nil
}

// Copy returns a deep copy of the statistics. Histograms are immutable and
// are shared.
func (ts *TableStatistics) Copy() *TableStatistics {
	if ts == nil {
		return nil
	}
	res := *ts
	res.Columns = append([]ColumnStatistic(nil), ts.Columns...)
	return &res
}

// HistogramBucket summarizes the rows with values in (previous upper bound,
// UpperBound]. NumEq counts rows equal to UpperBound, NumRange counts the rows
// strictly inside the range and DistinctRange the distinct values among them.
type HistogramBucket struct {
	UpperBound    float64
	NumEq         float64
	NumRange      float64
	DistinctRange float64
}

// Histogram is an equi-depth histogram over a numeric column. Buckets are
// indexed by upper bound. Histograms are immutable.
type Histogram struct {
	tree  *btree.BTreeG[HistogramBucket]
	total float64
}

func bucketLess(a, b HistogramBucket) bool {
	return a.UpperBound < b.UpperBound
}

// NewHistogram builds a histogram from the given buckets. Buckets with a
// duplicate upper bound replace earlier ones.
func NewHistogram(buckets []HistogramBucket) *Histogram {
	h := &Histogram{tree: btree.NewG[HistogramBucket](8, bucketLess)}
	for _, b := range buckets {
		if old, ok := h.tree.ReplaceOrInsert(b); ok {
			h.total -= old.NumEq + old.NumRange
		}
		h.total += b.NumEq + b.NumRange
	}
	return h
}

// Len returns the number of buckets.
func (h *Histogram) Len() int {
	return h.tree.Len()
}

// Buckets returns the buckets in increasing order of upper bound.
func (h *Histogram) Buckets() []HistogramBucket {
	res := make([]HistogramBucket, 0, h.tree.Len())
	h.tree.Ascend(func(b HistogramBucket) bool {
		res = append(res, b)
		return true
	})
	return res
}

// RowCount returns the number of non-null rows summarized by the histogram.
func (h *Histogram) RowCount() float64 {
	return h.total
}

// EqSelectivity returns the fraction of rows equal to v.
func (h *Histogram) EqSelectivity(v float64) float64 {
	if h.total == 0 {
		return 0
	}
	var rows float64
	h.tree.AscendGreaterOrEqual(HistogramBucket{UpperBound: v}, func(b HistogramBucket) bool {
		if b.UpperBound == v {
			rows = b.NumEq
		} else if b.DistinctRange > 0 {
			rows = b.NumRange / b.DistinctRange
		}
		return false
	})
	return rows / h.total
}

// LessSelectivity returns the fraction of rows less than v, or less than or
// equal to v when inclusive is set. Values inside a bucket are assumed to be
// uniformly distributed.
func (h *Histogram) LessSelectivity(v float64, inclusive bool) float64 {
	if h.total == 0 {
		return 0
	}
	var rows float64
	prevUpper, havePrev := 0.0, false
	h.tree.AscendLessThan(HistogramBucket{UpperBound: v}, func(b HistogramBucket) bool {
		rows += b.NumEq + b.NumRange
		prevUpper, havePrev = b.UpperBound, true
		return true
	})
	h.tree.AscendGreaterOrEqual(HistogramBucket{UpperBound: v}, func(b HistogramBucket) bool {
		if havePrev && b.UpperBound > prevUpper {
			rows += b.NumRange * (v - prevUpper) / (b.UpperBound - prevUpper)
		}
		if b.UpperBound == v && inclusive {
			rows += b.NumEq
		}
		return false
	})
	return clampSelectivity(rows / h.total)
}

// GreaterSelectivity returns the fraction of rows greater than v, or greater
// than or equal to v when inclusive is set.
func (h *Histogram) GreaterSelectivity(v float64, inclusive bool) float64 {
	if h.total == 0 {
		return 0
	}
	return clampSelectivity(1 - h.LessSelectivity(v, !inclusive))
}

func clampSelectivity(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// String renders the histogram as a table.
func (h *Histogram) String() string {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetHeader([]string{"upper_bound", "num_eq", "num_range", "distinct_range"})
	table.SetAutoFormatHeaders(false)
	h.tree.Ascend(func(b HistogramBucket) bool {
		table.Append([]string{
			strconv.FormatFloat(b.UpperBound, 'g', -1, 64),
			strconv.FormatFloat(b.NumEq, 'g', -1, 64),
			strconv.FormatFloat(b.NumRange, 'g', -1, 64),
			strconv.FormatFloat(b.DistinctRange, 'g', -1, 64),
		})
		return true
	})
	table.Render()
	return buf.String()
}
