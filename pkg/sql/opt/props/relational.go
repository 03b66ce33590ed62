// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package props

import "github.com/cockroachdb/cascades/pkg/sql/opt"

// Relational properties describe the content and characteristics of
// relational data returned by all expression variants within a memo group.
// While each expression in the group may return rows or columns in a
// different order, or compute the result using different algorithms, the
// same set of data is returned and can then be transformed into whatever
// layout or presentation format that is desired, according to the required
// physical properties.
type Relational struct {
	// OutputCols is the list of columns returned by the expressions in the
	// group, in the order of the first expression added to the group. Other
	// members output the same set of columns, possibly in a different order.
	OutputCols opt.ColList

	// NotNullCols is the subset of output columns which cannot be NULL.
	NotNullCols opt.ColSet

	// Stats is the set of statistics that apply to this relational
	// expression. It is derived lazily; see memo.Memo.Stats.
	Stats *Statistics
}

// OutputColSet returns the output columns as a set.
func (r *Relational) OutputColSet() opt.ColSet {
	return r.OutputCols.ToSet()
}
