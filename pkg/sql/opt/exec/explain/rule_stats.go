// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package explain

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/cockroachdb/cascades/pkg/sql/opt/xform"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/exp/maps"
)

// WriteRuleStats writes a table of the rules that were attempted during an
// optimization, most changed first, followed by totals per rule kind. If
// topK is positive, only the topK most active rules are listed.
func WriteRuleStats(w io.Writer, stats []xform.RuleStat, topK int) {
	stats = append([]xform.RuleStat(nil), stats...)
	sort.SliceStable(stats, func(i, j int) bool {
		if stats[i].Changed != stats[j].Changed {
			return stats[i].Changed > stats[j].Changed
		}
		return stats[i].Attempts > stats[j].Attempts
	})

	type totals struct {
		rules, attempts, changed, outputs int
	}
	byKind := make(map[string]*totals)
	for i := range stats {
		s := &stats[i]
		t, ok := byKind[s.Kind.String()]
		if !ok {
			t = &totals{}
			byKind[s.Kind.String()] = t
		}
		t.rules++
		t.attempts += s.Attempts
		t.changed += s.Changed
		t.outputs += s.Outputs
	}

	if topK > 0 && len(stats) > topK {
		stats = stats[:topK]
	}
	table := tablewriter.NewWriter(w)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader([]string{"rule", "kind", "attempts", "bindings", "outputs", "changed"})
	for i := range stats {
		s := &stats[i]
		table.Append([]string{
			s.Rule.String(),
			s.Kind.String(),
			strconv.Itoa(s.Attempts),
			strconv.Itoa(s.Bindings),
			strconv.Itoa(s.Outputs),
			strconv.Itoa(s.Changed),
		})
	}
	table.Render()

	kinds := maps.Keys(byKind)
	sort.Strings(kinds)
	for _, k := range kinds {
		t := byKind[k]
		fmt.Fprintf(w, "%s rules: %d attempted %d times, changed the memo %d times, produced %d expressions\n",
			k, t.rules, t.attempts, t.changed, t.outputs)
	}
}
