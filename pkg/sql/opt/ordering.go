// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package opt

import (
	"strconv"
	"strings"
)

// OrderingColumn is the ColumnID for a column that is part of an ordering,
// except that it can be negated to indicate a descending ordering on that
// column.
type OrderingColumn int32

// MakeOrderingColumn initializes an ordering column with a ColumnID and a
// flag indicating whether the direction is descending.
func MakeOrderingColumn(id ColumnID, descending bool) OrderingColumn {
	if descending {
		return OrderingColumn(-id)
	}
	return OrderingColumn(id)
}

// ID returns the ColumnID for this OrderingColumn.
func (c OrderingColumn) ID() ColumnID {
	if c < 0 {
		return ColumnID(-c)
	}
	return ColumnID(c)
}

// Ascending returns true if the ordering on this column is ascending.
func (c OrderingColumn) Ascending() bool {
	return c > 0
}

// Descending returns true if the ordering on this column is descending.
func (c OrderingColumn) Descending() bool {
	return c < 0
}

func (c OrderingColumn) String() string {
	var buf strings.Builder
	c.Format(&buf, nil)
	return buf.String()
}

// Format prints a string representation to the buffer. Column names are used
// if md is not nil.
func (c OrderingColumn) Format(buf *strings.Builder, md *Metadata) {
	if c.Descending() {
		buf.WriteByte('-')
	} else {
		buf.WriteByte('+')
	}
	if md == nil {
		buf.WriteString(strconv.Itoa(int(c.ID())))
	} else {
		buf.WriteString(md.QualifiedAlias(c.ID()))
	}
}

// Ordering defines the order of rows provided or required by an operator. A
// negative value indicates descending order on the column id "-(value)".
type Ordering []OrderingColumn

// Empty returns true if the ordering is empty or unset.
func (o Ordering) Empty() bool {
	return len(o) == 0
}

// ColSet returns the set of column ids used in the ordering.
func (o Ordering) ColSet() ColSet {
	var s ColSet
	for _, c := range o {
		s.Add(c.ID())
	}
	return s
}

// Provides returns true if the required ordering is a prefix of this
// ordering.
func (o Ordering) Provides(required Ordering) bool {
	if len(o) < len(required) {
		return false
	}
	for i := range required {
		if o[i] != required[i] {
			return false
		}
	}
	return true
}

// Equals returns true if the two orderings are identical.
func (o Ordering) Equals(rhs Ordering) bool {
	return len(o) == len(rhs) && o.Provides(rhs)
}

// Remap returns a copy of the ordering with its columns mapped.
func (o Ordering) Remap(m ColMap) Ordering {
	if o == nil {
		return nil
	}
	res := make(Ordering, len(o))
	for i, c := range o {
		res[i] = MakeOrderingColumn(m.Get(c.ID()), c.Descending())
	}
	return res
}

// Copy returns a copy of the ordering.
func (o Ordering) Copy() Ordering {
	if o == nil {
		return nil
	}
	res := make(Ordering, len(o))
	copy(res, o)
	return res
}

func (o Ordering) String() string {
	var buf strings.Builder
	o.Format(&buf, nil)
	return buf.String()
}

// Format prints a string representation such as "+a,-b" to the buffer.
func (o Ordering) Format(buf *strings.Builder, md *Metadata) {
	for i, c := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		c.Format(buf, md)
	}
}
