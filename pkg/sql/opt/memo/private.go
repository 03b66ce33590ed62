// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package memo

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/cascades/pkg/sql/opt"
	"github.com/cockroachdb/cascades/pkg/sql/opt/props/physical"
)

// Private holds the operator-specific attributes of an expression. Privates
// are immutable: rules that need a different private build a new one.
//
// Format writes the private. When md is nil, columns and tables are written
// by id, which yields the canonical encoding used to fingerprint
// expressions: two privates are equal iff their canonical encodings are.
type Private interface {
	Format(buf *strings.Builder, md *opt.Metadata)
	private()
}

func (*ScanPrivate) private()       {}
func (*SelectPrivate) private()     {}
func (*ProjectPrivate) private()    {}
func (*JoinPrivate) private()       {}
func (*PhysJoinPrivate) private()   {}
func (*AggregatePrivate) private()  {}
func (*SortPrivate) private()       {}
func (*TopNPrivate) private()       {}
func (*LimitPrivate) private()      {}
func (*SetOpPrivate) private()      {}
func (*WindowPrivate) private()     {}
func (*CTEPrivate) private()        {}
func (*CTEConsumePrivate) private() {}
func (*TableFuncPrivate) private()  {}
func (*ValuesPrivate) private()     {}
func (*DistributePrivate) private() {}

// FormatPrivate returns the text of the private, using md for names.
func FormatPrivate(p Private, md *opt.Metadata) string {
	if p == nil {
		return ""
	}
	var buf strings.Builder
	p.Format(&buf, md)
	return buf.String()
}

func writeCol(buf *strings.Builder, col opt.ColumnID, md *opt.Metadata) {
	if md == nil {
		buf.WriteString(strconv.Itoa(int(col)))
		return
	}
	buf.WriteString(md.QualifiedAlias(col))
}

func writeCols(buf *strings.Builder, cols opt.ColList, md *opt.Metadata) {
	buf.WriteByte('(')
	for i, c := range cols {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeCol(buf, c, md)
	}
	buf.WriteByte(')')
}

func writeScalar(buf *strings.Builder, e opt.ScalarExpr, md *opt.Metadata) {
	if e == nil {
		buf.WriteString("true")
		return
	}
	e.Format(buf, md)
}

func writeTable(buf *strings.Builder, tab opt.TableID, md *opt.Metadata) {
	if md == nil {
		buf.WriteByte('@')
		buf.WriteString(strconv.Itoa(int(tab)))
		return
	}
	buf.WriteString(md.TableMeta(tab).Alias)
}

func writeInt(buf *strings.Builder, key string, v int64) {
	buf.WriteByte(' ')
	buf.WriteString(key)
	buf.WriteByte('=')
	buf.WriteString(strconv.FormatInt(v, 10))
}

// ScanPrivate identifies the table or view to scan, the columns to return
// and the hints pushed into the scan.
type ScanPrivate struct {
	Table opt.TableID
	Cols  opt.ColList
	// Filter is a predicate evaluated by the scan, or nil.
	Filter opt.ScalarExpr
	// Limit is the maximum number of rows the scan needs to return, or zero.
	Limit int64
	// Partitions are the ordinals of the partitions to read, or nil to read
	// all of them. Partition pruning sets this from the filter.
	Partitions []int
}

// Format implements Private.
func (p *ScanPrivate) Format(buf *strings.Builder, md *opt.Metadata) {
	writeTable(buf, p.Table, md)
	buf.WriteString(" cols=")
	writeCols(buf, p.Cols, md)
	if p.Filter != nil {
		buf.WriteString(" filter=(")
		writeScalar(buf, p.Filter, md)
		buf.WriteByte(')')
	}
	if p.Limit > 0 {
		writeInt(buf, "limit", p.Limit)
	}
	if p.Partitions != nil {
		buf.WriteString(" partitions=(")
		for i, ord := range p.Partitions {
			if i > 0 {
				buf.WriteByte(',')
			}
			if md == nil {
				buf.WriteString(strconv.Itoa(ord))
			} else {
				buf.WriteString(md.Table(p.Table).Partitions()[ord].Name)
			}
		}
		buf.WriteByte(')')
	}
}

// SelectPrivate holds the filter of a select.
type SelectPrivate struct {
	Filter opt.ScalarExpr
}

// Format implements Private.
func (p *SelectPrivate) Format(buf *strings.Builder, md *opt.Metadata) {
	writeScalar(buf, p.Filter, md)
}

// ProjectItem defines one output column of a projection. A nil Expr passes
// the input column Col through unchanged.
type ProjectItem struct {
	Col  opt.ColumnID
	Expr opt.ScalarExpr
}

// ProjectPrivate lists the output columns of a projection, in order.
type ProjectPrivate struct {
	Items []ProjectItem
}

// Passthrough returns a projection that passes the given columns through.
func Passthrough(cols opt.ColList) *ProjectPrivate {
	items := make([]ProjectItem, len(cols))
	for i, c := range cols {
		items[i] = ProjectItem{Col: c}
	}
	return &ProjectPrivate{Items: items}
}

// OutputCols returns the columns produced by the projection.
func (p *ProjectPrivate) OutputCols() opt.ColList {
	cols := make(opt.ColList, len(p.Items))
	for i := range p.Items {
		cols[i] = p.Items[i].Col
	}
	return cols
}

// PassthroughCols returns the input columns that are passed through.
func (p *ProjectPrivate) PassthroughCols() opt.ColSet {
	var cols opt.ColSet
	for i := range p.Items {
		if p.Items[i].Expr == nil {
			cols.Add(p.Items[i].Col)
		}
	}
	return cols
}

// InputCols returns the input columns referenced by the projection.
func (p *ProjectPrivate) InputCols() opt.ColSet {
	var cols opt.ColSet
	for i := range p.Items {
		if p.Items[i].Expr == nil {
			cols.Add(p.Items[i].Col)
		} else {
			cols.UnionWith(opt.OuterCols(p.Items[i].Expr))
		}
	}
	return cols
}

// IsPassthroughOnly returns true if no column is computed.
func (p *ProjectPrivate) IsPassthroughOnly() bool {
	for i := range p.Items {
		if p.Items[i].Expr != nil {
			return false
		}
	}
	return true
}

// Format implements Private.
func (p *ProjectPrivate) Format(buf *strings.Builder, md *opt.Metadata) {
	buf.WriteByte('[')
	for i := range p.Items {
		if i > 0 {
			buf.WriteByte(' ')
		}
		writeCol(buf, p.Items[i].Col, md)
		if p.Items[i].Expr != nil {
			buf.WriteString(":=")
			writeScalar(buf, p.Items[i].Expr, md)
		}
	}
	buf.WriteByte(']')
}

// JoinType is the kind of join.
type JoinType uint8

const (
	InnerJoin JoinType = iota
	LeftJoin
	RightJoin
	FullJoin
	SemiJoin
	AntiJoin
)

var joinTypeNames = [...]string{
	InnerJoin: "inner",
	LeftJoin:  "left",
	RightJoin: "right",
	FullJoin:  "full",
	SemiJoin:  "semi",
	AntiJoin:  "anti",
}

func (t JoinType) String() string {
	return joinTypeNames[t]
}

// ParseJoinType returns the join type with the given name.
func ParseJoinType(s string) (JoinType, bool) {
	for i, n := range joinTypeNames {
		if n == s {
			return JoinType(i), true
		}
	}
	return InnerJoin, false
}

// OutputsRight returns true if the join returns the columns of its right
// input.
func (t JoinType) OutputsRight() bool {
	return t != SemiJoin && t != AntiJoin
}

// Commute returns the join type to use when swapping the inputs, and false
// if the join cannot be commuted.
func (t JoinType) Commute() (JoinType, bool) {
	switch t {
	case InnerJoin, FullJoin:
		return t, true
	case LeftJoin:
		return RightJoin, true
	case RightJoin:
		return LeftJoin, true
	}
	return t, false
}

// JoinPrivate holds the type and condition of a logical join. A nil On is a
// cross join.
type JoinPrivate struct {
	Type JoinType
	On   opt.ScalarExpr
}

// Format implements Private.
func (p *JoinPrivate) Format(buf *strings.Builder, md *opt.Metadata) {
	buf.WriteString(p.Type.String())
	if p.On != nil {
		buf.WriteString(" on=(")
		writeScalar(buf, p.On, md)
		buf.WriteByte(')')
	}
}

// JoinMode is the way a physical join distributes its inputs.
type JoinMode uint8

const (
	// LocalJoin runs on a single node with no distribution requirements.
	LocalJoin JoinMode = iota
	// ShuffleJoin hash partitions both inputs on the join keys.
	ShuffleJoin
	// BroadcastJoin replicates the right input to every node holding the
	// left input.
	BroadcastJoin
	// GatherJoin collects both inputs on a single node.
	GatherJoin
)

var joinModeNames = [...]string{
	LocalJoin:     "local",
	ShuffleJoin:   "shuffle",
	BroadcastJoin: "broadcast",
	GatherJoin:    "gather",
}

func (m JoinMode) String() string {
	return joinModeNames[m]
}

// PhysJoinPrivate holds the attributes of hash, merge and nested loop joins.
// On is the complete join condition; LeftKeys and RightKeys are the equality
// columns extracted from it.
type PhysJoinPrivate struct {
	Type      JoinType
	Mode      JoinMode
	LeftKeys  opt.ColList
	RightKeys opt.ColList
	On        opt.ScalarExpr
}

// Format implements Private.
func (p *PhysJoinPrivate) Format(buf *strings.Builder, md *opt.Metadata) {
	buf.WriteString(p.Type.String())
	buf.WriteString(" mode=")
	buf.WriteString(p.Mode.String())
	if len(p.LeftKeys) > 0 {
		buf.WriteString(" keys=")
		writeCols(buf, p.LeftKeys, md)
		buf.WriteByte('=')
		writeCols(buf, p.RightKeys, md)
	}
	if p.On != nil {
		buf.WriteString(" on=(")
		writeScalar(buf, p.On, md)
		buf.WriteByte(')')
	}
}

// AggStage is the phase of a possibly split aggregation.
type AggStage uint8

const (
	// FullAgg computes the complete aggregation.
	FullAgg AggStage = iota
	// LocalAgg computes partial aggregates on each node.
	LocalAgg
	// GlobalAgg merges partial aggregates.
	GlobalAgg
)

var aggStageNames = [...]string{FullAgg: "full", LocalAgg: "local", GlobalAgg: "global"}

func (s AggStage) String() string {
	return aggStageNames[s]
}

// Aggregate function names.
const (
	AggSum       = "sum"
	AggCount     = "count"
	AggCountRows = "count_rows"
	AggMin       = "min"
	AggMax       = "max"
	AggAvg       = "avg"
)

// AggItem is one aggregate computed by an aggregation. Arg is zero for
// count_rows.
type AggItem struct {
	Col      opt.ColumnID
	Func     string
	Arg      opt.ColumnID
	Distinct bool
}

// AggregatePrivate holds the grouping columns and aggregates of an
// aggregation.
type AggregatePrivate struct {
	GroupingCols opt.ColList
	Aggs         []AggItem
	Stage        AggStage
}

// OutputCols returns the grouping columns followed by the aggregate columns.
func (p *AggregatePrivate) OutputCols() opt.ColList {
	cols := make(opt.ColList, 0, len(p.GroupingCols)+len(p.Aggs))
	cols = append(cols, p.GroupingCols...)
	for i := range p.Aggs {
		cols = append(cols, p.Aggs[i].Col)
	}
	return cols
}

// InputCols returns the input columns used by the aggregation.
func (p *AggregatePrivate) InputCols() opt.ColSet {
	cols := p.GroupingCols.ToSet()
	for i := range p.Aggs {
		if p.Aggs[i].Arg != 0 {
			cols.Add(p.Aggs[i].Arg)
		}
	}
	return cols
}

// IsScalar returns true for aggregations without grouping columns, which
// always return exactly one row.
func (p *AggregatePrivate) IsScalar() bool {
	return len(p.GroupingCols) == 0
}

// Format implements Private.
func (p *AggregatePrivate) Format(buf *strings.Builder, md *opt.Metadata) {
	if p.Stage != FullAgg {
		buf.WriteString(p.Stage.String())
		buf.WriteByte(' ')
	}
	buf.WriteString("group=")
	writeCols(buf, p.GroupingCols, md)
	buf.WriteString(" aggs=(")
	for i := range p.Aggs {
		if i > 0 {
			buf.WriteString(", ")
		}
		a := &p.Aggs[i]
		writeCol(buf, a.Col, md)
		buf.WriteString(":=")
		buf.WriteString(a.Func)
		buf.WriteByte('(')
		if a.Distinct {
			buf.WriteString("distinct ")
		}
		if a.Arg != 0 {
			writeCol(buf, a.Arg, md)
		}
		buf.WriteByte(')')
	}
	buf.WriteByte(')')
}

// SortPrivate holds the ordering of a sort.
type SortPrivate struct {
	Ordering opt.Ordering
}

// Format implements Private.
func (p *SortPrivate) Format(buf *strings.Builder, md *opt.Metadata) {
	p.Ordering.Format(buf, md)
}

// LimitPhase is the phase of a possibly split limit or top-n.
type LimitPhase uint8

const (
	// FullLimit applies the limit to the complete input.
	FullLimit LimitPhase = iota
	// LocalLimit applies the limit on each node.
	LocalLimit
	// GlobalLimit applies the limit after gathering local results.
	GlobalLimit
)

var limitPhaseNames = [...]string{FullLimit: "full", LocalLimit: "local", GlobalLimit: "global"}

func (p LimitPhase) String() string {
	return limitPhaseNames[p]
}

// TopNPrivate holds the ordering and bounds of a top-n.
type TopNPrivate struct {
	Ordering opt.Ordering
	Limit    int64
	Offset   int64
	Phase    LimitPhase
}

// Format implements Private.
func (p *TopNPrivate) Format(buf *strings.Builder, md *opt.Metadata) {
	p.Ordering.Format(buf, md)
	writeInt(buf, "limit", p.Limit)
	if p.Offset > 0 {
		writeInt(buf, "offset", p.Offset)
	}
	if p.Phase != FullLimit {
		buf.WriteByte(' ')
		buf.WriteString(p.Phase.String())
	}
}

// LimitPrivate holds the bounds of a limit. If Ordering is set, the limit
// returns the first rows of its input in that order; otherwise any rows.
type LimitPrivate struct {
	Limit    int64
	Offset   int64
	Phase    LimitPhase
	Ordering opt.Ordering
}

// Format implements Private.
func (p *LimitPrivate) Format(buf *strings.Builder, md *opt.Metadata) {
	buf.WriteString(strconv.FormatInt(p.Limit, 10))
	if !p.Ordering.Empty() {
		buf.WriteString(" ordering=")
		p.Ordering.Format(buf, md)
	}
	if p.Offset > 0 {
		writeInt(buf, "offset", p.Offset)
	}
	if p.Phase != FullLimit {
		buf.WriteByte(' ')
		buf.WriteString(p.Phase.String())
	}
}

// SetOpPrivate maps the columns of each input of a set operation to its
// output columns: OutCols[i] is produced from InCols[j][i] of input j.
type SetOpPrivate struct {
	OutCols opt.ColList
	InCols  []opt.ColList
	All     bool
}

// Format implements Private.
func (p *SetOpPrivate) Format(buf *strings.Builder, md *opt.Metadata) {
	if p.All {
		buf.WriteString("all ")
	}
	writeCols(buf, p.OutCols, md)
	buf.WriteString(" from=(")
	for i, cols := range p.InCols {
		if i > 0 {
			buf.WriteByte(' ')
		}
		writeCols(buf, cols, md)
	}
	buf.WriteByte(')')
}

// WindowItem is one window function. Arg is zero for functions without an
// argument.
type WindowItem struct {
	Col  opt.ColumnID
	Func string
	Arg  opt.ColumnID
}

// WindowPrivate holds the window definition and its functions.
type WindowPrivate struct {
	Partition opt.ColList
	Ordering  opt.Ordering
	Funcs     []WindowItem
}

// Format implements Private.
func (p *WindowPrivate) Format(buf *strings.Builder, md *opt.Metadata) {
	buf.WriteString("partition=")
	writeCols(buf, p.Partition, md)
	if !p.Ordering.Empty() {
		buf.WriteString(" order=")
		p.Ordering.Format(buf, md)
	}
	buf.WriteString(" funcs=(")
	for i := range p.Funcs {
		if i > 0 {
			buf.WriteString(", ")
		}
		f := &p.Funcs[i]
		writeCol(buf, f.Col, md)
		buf.WriteString(":=")
		buf.WriteString(f.Func)
		buf.WriteByte('(')
		if f.Arg != 0 {
			writeCol(buf, f.Arg, md)
		}
		buf.WriteByte(')')
	}
	buf.WriteByte(')')
}

// CTEPrivate identifies the common table expression defined by an anchor or
// produced by a producer.
type CTEPrivate struct {
	ID int
}

// Format implements Private.
func (p *CTEPrivate) Format(buf *strings.Builder, _ *opt.Metadata) {
	buf.WriteString("cte=")
	buf.WriteString(strconv.Itoa(p.ID))
}

// CTEConsumePrivate identifies the CTE read by a consumer. Cols are the
// consumer's output columns; Cols[i] is a copy of the producer column
// ProducerCols[i]. Filter is a predicate over Cols applied while reading,
// or nil.
type CTEConsumePrivate struct {
	ID           int
	Cols         opt.ColList
	ProducerCols opt.ColList
	Filter       opt.ScalarExpr
}

// Format implements Private.
func (p *CTEConsumePrivate) Format(buf *strings.Builder, md *opt.Metadata) {
	buf.WriteString("cte=")
	buf.WriteString(strconv.Itoa(p.ID))
	buf.WriteString(" cols=")
	writeCols(buf, p.Cols, md)
	buf.WriteString(" from=")
	writeCols(buf, p.ProducerCols, md)
	if p.Filter != nil {
		buf.WriteString(" filter=(")
		writeScalar(buf, p.Filter, md)
		buf.WriteByte(')')
	}
}

// ColMap returns the mapping from producer columns to consumer columns.
func (p *CTEConsumePrivate) ColMap() opt.ColMap {
	return opt.MakeColMap(p.ProducerCols, p.Cols)
}

// TableFuncPrivate holds a call to a set-returning table function.
type TableFuncPrivate struct {
	Name string
	Args []opt.ScalarExpr
	Cols opt.ColList
}

// Format implements Private.
func (p *TableFuncPrivate) Format(buf *strings.Builder, md *opt.Metadata) {
	buf.WriteString(p.Name)
	buf.WriteByte('(')
	for i, arg := range p.Args {
		if i > 0 {
			buf.WriteString(", ")
		}
		writeScalar(buf, arg, md)
	}
	buf.WriteString(") cols=")
	writeCols(buf, p.Cols, md)
}

// ValuesPrivate holds a constant relation.
type ValuesPrivate struct {
	Cols opt.ColList
	Rows [][]opt.ScalarExpr
}

// Format implements Private.
func (p *ValuesPrivate) Format(buf *strings.Builder, md *opt.Metadata) {
	buf.WriteString("cols=")
	writeCols(buf, p.Cols, md)
	buf.WriteString(" rows=(")
	for i, row := range p.Rows {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteByte('(')
		for j, v := range row {
			if j > 0 {
				buf.WriteString(", ")
			}
			writeScalar(buf, v, md)
		}
		buf.WriteByte(')')
	}
	buf.WriteByte(')')
}

// DistributePrivate holds the target distribution of a distribute enforcer.
type DistributePrivate struct {
	Target physical.Distribution
}

// Format implements Private.
func (p *DistributePrivate) Format(buf *strings.Builder, md *opt.Metadata) {
	p.Target.Format(buf, md)
}
