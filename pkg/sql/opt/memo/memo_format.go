// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package memo

import (
	"fmt"
	"strings"
)

// FmtFlags controls how the memo is formatted.
type FmtFlags uint8

const (
	// FmtStats shows the statistics of groups that have them.
	FmtStats FmtFlags = 1 << iota
	// FmtWinners shows the winner recorded for each required property.
	FmtWinners
	// FmtFired shows which rules were applied to each expression, given a
	// function that names catalog rule indexes.
	FmtFired
)

// HasFlags tests whether the given flags are all set.
func (f FmtFlags) HasFlags(subset FmtFlags) bool {
	return f&subset == subset
}

// FormatMemo returns a textual representation of the live groups of the
// memo, in group id order. ruleName is used with FmtFired.
func (m *Memo) FormatMemo(flags FmtFlags, ruleName func(idx int) string) string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "memo (%d groups, %d exprs", m.GroupCount(), m.ExprCount())
	if m.root != 0 {
		fmt.Fprintf(&buf, ", root %s", m.Root())
	}
	buf.WriteString(")\n")
	for _, g := range m.groups {
		if g.forward != 0 {
			continue
		}
		fmt.Fprintf(&buf, " %s: cols=%s", g.id, g.rel.OutputCols)
		if flags.HasFlags(FmtStats) && g.rel.Stats != nil {
			fmt.Fprintf(&buf, " rows=%.9g", g.rel.Stats.RowCount)
		}
		buf.WriteByte('\n')
		for _, id := range g.exprs {
			e := m.exprs[id-1]
			fmt.Fprintf(&buf, "  e%d %s", e.id, m.formatGroupExpr(e))
			if flags.HasFlags(FmtFired) && ruleName != nil {
				var fired []string
				for w, bits := range e.fired {
					for b := 0; b < 64; b++ {
						if bits&(1<<uint(b)) != 0 {
							fired = append(fired, ruleName(w*64+b))
						}
					}
				}
				if len(fired) > 0 {
					fmt.Fprintf(&buf, " fired=[%s]", strings.Join(fired, " "))
				}
			}
			buf.WriteByte('\n')
		}
		if flags.HasFlags(FmtWinners) {
			for _, req := range m.Winners(g.id) {
				w := g.winners[req]
				if w.IsEnforcer() {
					fmt.Fprintf(&buf, "  best %s: %s over %s cost=%s\n", req, w.Enforcer, w.InputRequired, w.Cost)
				} else {
					fmt.Fprintf(&buf, "  best %s: e%d cost=%s\n", req, w.Expr, w.Cost)
				}
			}
		}
	}
	return buf.String()
}

func (m *Memo) String() string {
	return m.FormatMemo(FmtStats|FmtWinners, nil)
}

// FormatGroupExpr returns the text of a memo expression, showing its inputs
// as group references.
func (m *Memo) FormatGroupExpr(id GroupExprID) string {
	return m.formatGroupExpr(m.exprs[id-1])
}

func (m *Memo) formatGroupExpr(e *GroupExpr) string {
	var buf strings.Builder
	buf.WriteByte('(')
	buf.WriteString(e.op.String())
	if p := FormatPrivate(e.private, m.md); p != "" {
		buf.WriteByte(' ')
		buf.WriteString(p)
	}
	for _, c := range e.children {
		buf.WriteByte(' ')
		buf.WriteString(m.Find(c).String())
	}
	buf.WriteByte(')')
	return buf.String()
}
