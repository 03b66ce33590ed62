// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package opt

import (
	"math/bits"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/tools/container/intsets"
)

// ColumnID uniquely identifies the usage of a column within the scope of a
// query. ColumnID 0 is reserved to mean "unknown column". See the comment for
// Metadata for more details.
type ColumnID int32

// index returns the index of the column in Metadata.cols. It's biased by 1, so
// that ColumnID 0 can be used as the unknown column.
func (c ColumnID) index() int {
	return int(c - 1)
}

// smallCols is the number of column ids stored inline in a ColSet.
const smallCols = 64

// ColSet efficiently stores an unordered set of column ids. Ids below 64 live
// in a bitmap; larger ids spill into a sparse set that is copied on write, so
// ColSet values can be passed and stored without aliasing.
type ColSet struct {
	small uint64
	large *intsets.Sparse
}

// MakeColSet returns a set initialized with the given columns.
func MakeColSet(cols ...ColumnID) ColSet {
	var s ColSet
	for _, c := range cols {
		s.Add(c)
	}
	return s
}

func cloneSparse(x *intsets.Sparse) *intsets.Sparse {
	n := new(intsets.Sparse)
	if x != nil {
		n.Copy(x)
	}
	return n
}

func sparseEmpty(x *intsets.Sparse) bool {
	return x == nil || x.IsEmpty()
}

// Add adds a column to the set.
func (s *ColSet) Add(col ColumnID) {
	if col < 0 {
		panic(errors.AssertionFailedf("invalid column id %d", col))
	}
	if col < smallCols {
		s.small |= 1 << uint(col)
		return
	}
	s.large = cloneSparse(s.large)
	s.large.Insert(int(col))
}

// Remove removes a column from the set. No-op if the column is not in the set.
func (s *ColSet) Remove(col ColumnID) {
	if col < smallCols {
		s.small &^= 1 << uint(col)
		return
	}
	if s.large == nil || !s.large.Has(int(col)) {
		return
	}
	s.large = cloneSparse(s.large)
	s.large.Remove(int(col))
}

// Contains returns true if the set contains the column.
func (s ColSet) Contains(col ColumnID) bool {
	if col < 0 {
		return false
	}
	if col < smallCols {
		return s.small&(1<<uint(col)) != 0
	}
	return s.large != nil && s.large.Has(int(col))
}

// Len returns the number of columns in the set.
func (s ColSet) Len() int {
	n := bits.OnesCount64(s.small)
	if s.large != nil {
		n += s.large.Len()
	}
	return n
}

// Empty returns true if the set is empty.
func (s ColSet) Empty() bool {
	return s.small == 0 && sparseEmpty(s.large)
}

// ForEach calls a function for each column in the set, in increasing order.
func (s ColSet) ForEach(f func(col ColumnID)) {
	for small := s.small; small != 0; {
		i := bits.TrailingZeros64(small)
		f(ColumnID(i))
		small &^= 1 << uint(i)
	}
	if s.large != nil {
		for _, i := range s.large.AppendTo(nil) {
			f(ColumnID(i))
		}
	}
}

// Ordered returns the columns of the set in increasing order.
func (s ColSet) Ordered() []ColumnID {
	res := make([]ColumnID, 0, s.Len())
	s.ForEach(func(col ColumnID) {
		res = append(res, col)
	})
	return res
}

// Union returns the union of s and other.
func (s ColSet) Union(other ColSet) ColSet {
	res := ColSet{small: s.small | other.small, large: s.large}
	if !sparseEmpty(other.large) {
		res.large = cloneSparse(s.large)
		res.large.UnionWith(other.large)
	}
	return res
}

// UnionWith adds all the columns from other to s.
func (s *ColSet) UnionWith(other ColSet) {
	*s = s.Union(other)
}

// Intersection returns the intersection of s and other.
func (s ColSet) Intersection(other ColSet) ColSet {
	res := ColSet{small: s.small & other.small}
	if !sparseEmpty(s.large) && !sparseEmpty(other.large) {
		res.large = cloneSparse(s.large)
		res.large.IntersectionWith(other.large)
	}
	return res
}

// Difference returns the columns in s which are not in other.
func (s ColSet) Difference(other ColSet) ColSet {
	res := ColSet{small: s.small &^ other.small, large: s.large}
	if !sparseEmpty(s.large) && !sparseEmpty(other.large) {
		res.large = cloneSparse(s.large)
		res.large.DifferenceWith(other.large)
	}
	return res
}

// Intersects returns true if s has any columns in common with other.
func (s ColSet) Intersects(other ColSet) bool {
	if s.small&other.small != 0 {
		return true
	}
	return !sparseEmpty(s.large) && !sparseEmpty(other.large) && s.large.Intersects(other.large)
}

// SubsetOf returns true if every column in s is also in other.
func (s ColSet) SubsetOf(other ColSet) bool {
	if s.small&^other.small != 0 {
		return false
	}
	if sparseEmpty(s.large) {
		return true
	}
	return !sparseEmpty(other.large) && s.large.SubsetOf(other.large)
}

// Equals returns true if the two sets contain the same columns.
func (s ColSet) Equals(other ColSet) bool {
	if s.small != other.small {
		return false
	}
	if sparseEmpty(s.large) || sparseEmpty(other.large) {
		return sparseEmpty(s.large) && sparseEmpty(other.large)
	}
	return s.large.Equals(other.large)
}

// ToList returns the columns of the set as an ordered list.
func (s ColSet) ToList() ColList {
	return ColList(s.Ordered())
}

// String returns a list representation of the set, such as "(1,3,5)".
func (s ColSet) String() string {
	var buf strings.Builder
	buf.WriteByte('(')
	first := true
	s.ForEach(func(col ColumnID) {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		buf.WriteString(strconv.Itoa(int(col)))
	})
	buf.WriteByte(')')
	return buf.String()
}

// ColList is an ordered list of columns. The order is significant where it
// appears: it describes the output schema of an operator.
type ColList []ColumnID

// ToSet converts the list to a set, losing order and duplicates.
func (cl ColList) ToSet() ColSet {
	var s ColSet
	for _, c := range cl {
		s.Add(c)
	}
	return s
}

// Find returns the index of the column in the list, or -1.
func (cl ColList) Find(col ColumnID) int {
	for i, c := range cl {
		if c == col {
			return i
		}
	}
	return -1
}

// Contains returns true if the list contains the column.
func (cl ColList) Contains(col ColumnID) bool {
	return cl.Find(col) != -1
}

// Equals returns true if the two lists have the same columns in the same
// order.
func (cl ColList) Equals(other ColList) bool {
	if len(cl) != len(other) {
		return false
	}
	for i := range cl {
		if cl[i] != other[i] {
			return false
		}
	}
	return true
}

// Copy returns a copy of the list.
func (cl ColList) Copy() ColList {
	if cl == nil {
		return nil
	}
	res := make(ColList, len(cl))
	copy(res, cl)
	return res
}

// String returns a list representation such as "[1 3 2]".
func (cl ColList) String() string {
	var buf strings.Builder
	buf.WriteByte('[')
	for i, c := range cl {
		if i > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(strconv.Itoa(int(c)))
	}
	buf.WriteByte(']')
	return buf.String()
}

// ColMap maps columns to other columns. It is used when rewriting
// expressions across set operations and CTE boundaries.
type ColMap map[ColumnID]ColumnID

// Get returns the mapped column, or the column itself if it isn't mapped.
func (m ColMap) Get(col ColumnID) ColumnID {
	if to, ok := m[col]; ok {
		return to
	}
	return col
}

// MakeColMap builds a map from the from columns to the to columns, which
// must have the same length.
func MakeColMap(from, to ColList) ColMap {
	if len(from) != len(to) {
		panic(errors.AssertionFailedf("column lists differ in length: %v, %v", from, to))
	}
	m := make(ColMap, len(from))
	for i := range from {
		m[from[i]] = to[i]
	}
	return m
}
