// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package testcat

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/axiomhq/hyperloglog"
	"github.com/cockroachdb/cascades/pkg/sql/opt/cat"
	"github.com/cockroachdb/cascades/pkg/sql/types"
	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// File is the YAML description of a set of tables and materialized views:
//
//	tables:
//	- name: t
//	  source: olap
//	  columns:
//	  - {name: a, type: int}
//	  - {name: b, type: string, nullable: true}
//	  rows: 1000
//	  distribution: {kind: hash, keys: [a], buckets: 8}
//	  sort: [a]
//	  partitions:
//	    column: a
//	    ranges:
//	    - {name: p0, lower: 0, upper: 100, rows: 400}
//	  stats:
//	  - {column: a, distinct: 100, histogram: [{upper: 10, eq: 5, range: 45, distinct: 9}]}
//	  - {column: b, sample: [x, y, z, x]}
//	materialized_views:
//	- name: t_by_a
//	  base: t
//	  group_by: [a]
//	  aggregates: [{name: cnt, func: count_rows}]
//	  rows: 100
//
// Column statistics given as a sample are summarized with a HyperLogLog
// sketch; null sample values are written as ~.
type File struct {
	Tables []TableDef `yaml:"tables"`
	Views  []ViewDef  `yaml:"materialized_views"`
}

// TableDef describes a table.
type TableDef struct {
	Name         string          `yaml:"name"`
	Source       string          `yaml:"source"`
	Columns      []ColumnDef     `yaml:"columns"`
	Rows         *float64        `yaml:"rows"`
	SizeBytes    float64         `yaml:"size_bytes"`
	Distribution DistributionDef `yaml:"distribution"`
	Sort         []string        `yaml:"sort"`
	Partitions   *PartitionsDef  `yaml:"partitions"`
	Stats        []ColumnStatDef `yaml:"stats"`
}

// ColumnDef describes a column.
type ColumnDef struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Nullable bool   `yaml:"nullable"`
}

// DistributionDef describes the placement of a table's rows.
type DistributionDef struct {
	Kind    string   `yaml:"kind"`
	Keys    []string `yaml:"keys"`
	Buckets int      `yaml:"buckets"`
}

// PartitionsDef describes the range partitions of a table.
type PartitionsDef struct {
	Column string         `yaml:"column"`
	Ranges []PartitionDef `yaml:"ranges"`
}

// PartitionDef describes one range partition.
type PartitionDef struct {
	Name  string  `yaml:"name"`
	Lower float64 `yaml:"lower"`
	Upper float64 `yaml:"upper"`
	Rows  float64 `yaml:"rows"`
}

// ColumnStatDef describes the statistics of one column.
type ColumnStatDef struct {
	Column    string      `yaml:"column"`
	Distinct  *float64    `yaml:"distinct"`
	Nulls     float64     `yaml:"null_fraction"`
	AvgSize   float64     `yaml:"avg_size"`
	Sample    []*string   `yaml:"sample"`
	Histogram []BucketDef `yaml:"histogram"`
}

// BucketDef describes one histogram bucket.
type BucketDef struct {
	Upper    float64 `yaml:"upper"`
	Eq       float64 `yaml:"eq"`
	Range    float64 `yaml:"range"`
	Distinct float64 `yaml:"distinct"`
}

// ViewDef describes a materialized view over a base table. Aggregate views
// set GroupBy and Aggregates; projection views set Columns.
type ViewDef struct {
	Name       string          `yaml:"name"`
	Base       string          `yaml:"base"`
	Source     string          `yaml:"source"`
	GroupBy    []string        `yaml:"group_by"`
	Aggregates []ViewAggDef    `yaml:"aggregates"`
	Columns    []string        `yaml:"columns"`
	Rows       *float64        `yaml:"rows"`
	Stats      []ColumnStatDef `yaml:"stats"`
}

// ViewAggDef describes one aggregate column of a view.
type ViewAggDef struct {
	Name string `yaml:"name"`
	Func string `yaml:"func"`
	Arg  string `yaml:"arg"`
}

// LoadYAML adds the tables and views described by the YAML document to the
// catalog.
func (tc *Catalog) LoadYAML(r io.Reader) error {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return errors.Wrap(err, "parsing catalog")
	}
	for i := range f.Tables {
		tab, err := buildTable(&f.Tables[i])
		if err != nil {
			return errors.Wrapf(err, "table %q", f.Tables[i].Name)
		}
		tc.AddTable(tab)
	}
	for i := range f.Views {
		mv, err := tc.buildView(&f.Views[i])
		if err != nil {
			return errors.Wrapf(err, "materialized view %q", f.Views[i].Name)
		}
		tc.AddMaterializedView(mv)
	}
	return nil
}

// ExecuteYAML is a convenience wrapper around LoadYAML.
func (tc *Catalog) ExecuteYAML(doc string) error {
	return tc.LoadYAML(strings.NewReader(doc))
}

func parseSource(s string) (cat.SourceKind, error) {
	if s == "" {
		return cat.OlapSource, nil
	}
	kind, ok := cat.ParseSourceKind(s)
	if !ok {
		return 0, errors.Newf("unknown source %q", s)
	}
	return kind, nil
}

func buildTable(def *TableDef) (*Table, error) {
	kind, err := parseSource(def.Source)
	if err != nil {
		return nil, err
	}
	tab := &Table{TabName: def.Name, Kind: kind, PartCol: -1}
	for _, c := range def.Columns {
		typ := types.FromString(c.Type)
		if typ == nil {
			return nil, errors.Newf("column %q: unknown type %q", c.Name, c.Type)
		}
		tab.Columns = append(tab.Columns, cat.Column{Name: c.Name, Type: typ, Nullable: c.Nullable})
	}
	ordinal := func(name string) (int, error) {
		if ord := cat.FindColumn(tab, name); ord >= 0 {
			return ord, nil
		}
		return 0, errors.Newf("unknown column %q", name)
	}

	if def.Distribution.Kind != "" {
		dk, ok := cat.ParseDistributionKind(def.Distribution.Kind)
		if !ok {
			return nil, errors.Newf("unknown distribution %q", def.Distribution.Kind)
		}
		tab.Dist = cat.TableDistribution{Kind: dk, Buckets: def.Distribution.Buckets}
		for _, k := range def.Distribution.Keys {
			ord, err := ordinal(k)
			if err != nil {
				return nil, err
			}
			tab.Dist.KeyOrdinals = append(tab.Dist.KeyOrdinals, ord)
		}
		if dk == cat.HashDistribution && len(tab.Dist.KeyOrdinals) == 0 {
			return nil, errors.New("hash distribution requires keys")
		}
	}
	for _, s := range def.Sort {
		ord, err := ordinal(s)
		if err != nil {
			return nil, err
		}
		tab.Sort = append(tab.Sort, ord)
	}
	if def.Partitions != nil {
		ord, err := ordinal(def.Partitions.Column)
		if err != nil {
			return nil, err
		}
		tab.PartCol = ord
		for _, p := range def.Partitions.Ranges {
			tab.Parts = append(tab.Parts, cat.Partition{Name: p.Name, Lower: p.Lower, Upper: p.Upper, RowCount: p.Rows})
		}
	}
	if def.Rows != nil {
		stats, err := buildStats(tab, *def.Rows, def.SizeBytes, def.Stats)
		if err != nil {
			return nil, err
		}
		tab.Stats = stats
	} else if len(def.Stats) > 0 {
		return nil, errors.New("column statistics require a row count")
	}
	return tab, nil
}

func buildStats(
	tab *Table, rows, size float64, defs []ColumnStatDef,
) (*cat.TableStatistics, error) {
	ts := &cat.TableStatistics{RowCount: rows, SizeBytes: size}
	for _, def := range defs {
		ord := cat.FindColumn(tab, def.Column)
		if ord < 0 {
			return nil, errors.Newf("statistics for unknown column %q", def.Column)
		}
		cs := cat.ColumnStatistic{Ordinal: ord, NullFraction: def.Nulls, AvgSize: def.AvgSize}
		switch {
		case def.Distinct != nil:
			cs.DistinctCount = *def.Distinct
		case len(def.Sample) > 0:
			cs.DistinctCount, cs.NullFraction = sampleStats(def.Sample)
		default:
			return nil, errors.Newf("column %q needs a distinct count or a sample", def.Column)
		}
		if cs.AvgSize == 0 {
			cs.AvgSize = tab.Columns[ord].Type.AvgSize()
		}
		if len(def.Histogram) > 0 {
			buckets := make([]cat.HistogramBucket, len(def.Histogram))
			for i, b := range def.Histogram {
				buckets[i] = cat.HistogramBucket{UpperBound: b.Upper, NumEq: b.Eq, NumRange: b.Range, DistinctRange: b.Distinct}
			}
			cs.Histogram = cat.NewHistogram(buckets)
		}
		ts.Columns = append(ts.Columns, cs)
	}
	return ts, nil
}

// sampleStats estimates the distinct count and null fraction of a column
// from a sample of its values.
func sampleStats(sample []*string) (distinct, nullFraction float64) {
	sketch := hyperloglog.New()
	var nulls int
	for _, v := range sample {
		if v == nil {
			nulls++
			continue
		}
		sketch.Insert([]byte(*v))
	}
	return float64(sketch.Estimate()), float64(nulls) / float64(len(sample))
}

func (tc *Catalog) buildView(def *ViewDef) (*cat.MaterializedView, error) {
	base := tc.Table(def.Base)
	if base == nil {
		return nil, errors.Newf("unknown base table %q", def.Base)
	}
	kind, err := parseSource(def.Source)
	if err != nil {
		return nil, err
	}
	view := &Table{TabName: def.Name, Kind: kind, PartCol: -1, Dist: cat.TableDistribution{Kind: cat.RandomDistribution}}
	mv := &cat.MaterializedView{View: view, Base: base.TabID}
	ordinal := func(name string) (int, error) {
		if ord := cat.FindColumn(base, name); ord >= 0 {
			return ord, nil
		}
		return 0, errors.Newf("unknown column %q of %q", name, base.TabName)
	}

	if len(def.Columns) > 0 && (len(def.GroupBy) > 0 || len(def.Aggregates) > 0) {
		return nil, errors.New("a view is either an aggregate or a projection")
	}
	for _, name := range def.Columns {
		ord, err := ordinal(name)
		if err != nil {
			return nil, err
		}
		mv.Columns = append(mv.Columns, ord)
		view.Columns = append(view.Columns, base.Columns[ord])
	}
	for _, name := range def.GroupBy {
		ord, err := ordinal(name)
		if err != nil {
			return nil, err
		}
		mv.GroupBy = append(mv.GroupBy, ord)
		view.Columns = append(view.Columns, base.Columns[ord])
	}
	for _, agg := range def.Aggregates {
		va := cat.ViewAggregate{Func: agg.Func, Arg: -1}
		typ := types.Int
		if agg.Arg != "" {
			ord, err := ordinal(agg.Arg)
			if err != nil {
				return nil, err
			}
			va.Arg = ord
			switch agg.Func {
			case "sum", "min", "max":
				typ = base.Columns[ord].Type
			case "avg":
				typ = types.Float
			}
		}
		name := agg.Name
		if name == "" {
			name = fmt.Sprintf("%s_%d", agg.Func, len(view.Columns))
		}
		mv.Aggregates = append(mv.Aggregates, va)
		view.Columns = append(view.Columns, cat.Column{Name: name, Type: typ, Nullable: true})
	}
	if len(view.Columns) == 0 {
		return nil, errors.New("view has no columns")
	}
	if def.Rows != nil {
		stats, err := buildStats(view, *def.Rows, 0, def.Stats)
		if err != nil {
			return nil, err
		}
		view.Stats = stats
	}
	return mv, nil
}

// MarshalTable returns the YAML description of a table, for debugging.
func MarshalTable(tab *Table) string {
	def := TableDef{Name: tab.TabName, Source: tab.Kind.String()}
	for _, c := range tab.Columns {
		def.Columns = append(def.Columns, ColumnDef{Name: c.Name, Type: c.Type.String(), Nullable: c.Nullable})
	}
	if tab.Stats != nil {
		rows := tab.Stats.RowCount
		def.Rows = &rows
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	_ = enc.Encode(&def)
	return buf.String()
}
