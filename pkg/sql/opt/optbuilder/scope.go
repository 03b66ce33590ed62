// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package optbuilder

import (
	"strings"

	"github.com/cockroachdb/cascades/pkg/sql/opt"
)

// scopeColumn is a column visible to the expressions of a scope. table is the
// alias of the source the column came from, if any.
type scopeColumn struct {
	name  string
	table string
	id    opt.ColumnID
}

// scope holds the columns output by a relational expression, in order. Names
// in scalar expressions resolve against the scope of the expression's input.
type scope struct {
	cols []scopeColumn
}

func (s *scope) colList() opt.ColList {
	cols := make(opt.ColList, len(s.cols))
	for i := range s.cols {
		cols[i] = s.cols[i].id
	}
	return cols
}

// appendScope returns a scope with the columns of s followed by the columns
// of other.
func (s *scope) appendScope(other *scope) *scope {
	out := &scope{cols: make([]scopeColumn, 0, len(s.cols)+len(other.cols))}
	out.cols = append(out.cols, s.cols...)
	out.cols = append(out.cols, other.cols...)
	return out
}

// resolve returns the column with the given name, which may be qualified
// with a table alias ("t.a"). It fails if no column or more than one column
// matches.
func (s *scope) resolve(name string, pos int) *scopeColumn {
	table, col := "", name
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		table, col = name[:i], name[i+1:]
	}
	var found *scopeColumn
	for i := range s.cols {
		c := &s.cols[i]
		if c.name != col || (table != "" && c.table != table) {
			continue
		}
		if found != nil && found.id != c.id {
			errorf(pos, "column reference %q is ambiguous", name)
		}
		found = c
	}
	if found == nil {
		errorf(pos, "column %q does not exist", name)
	}
	return found
}
