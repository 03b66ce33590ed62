// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package opt

import "github.com/cockroachdb/redact"

// Operator describes the type of a relational expression. Operators form a
// closed set: every logical operator produced by the analyzer, every
// physical operator produced by an implementation rule and the enforcers
// added during optimization. Scalar expressions are not operators; they live
// inside operator privates.
type Operator uint16

const (
	// UnknownOp is the zero value. It never names an expression in the memo.
	UnknownOp Operator = iota

	// AnyOp is only used in rule patterns, where it matches any logical
	// expression.
	AnyOp

	// ------------------------------------------------------------
	// Logical operators
	// ------------------------------------------------------------

	ScanOp
	SelectOp
	ProjectOp
	JoinOp
	AggregateOp
	SortOp
	TopNOp
	LimitOp
	UnionOp
	IntersectOp
	ExceptOp
	WindowOp
	CTEAnchorOp
	CTEProduceOp
	CTEConsumeOp
	TableFuncOp
	ValuesOp

	// ------------------------------------------------------------
	// Physical operators
	// ------------------------------------------------------------

	PhysScanOp
	PhysFilterOp
	PhysProjectOp
	HashJoinOp
	MergeJoinOp
	NestedLoopJoinOp
	HashAggOp
	StreamAggOp
	PhysSortOp
	PhysTopNOp
	PhysLimitOp
	PhysUnionOp
	PhysIntersectOp
	PhysExceptOp
	PhysWindowOp
	PhysCTEAnchorOp
	PhysNoCTEOp
	PhysCTEProduceOp
	PhysCTEConsumeOp
	PhysTableFuncOp
	PhysValuesOp

	// DistributeOp repartitions its input: shuffle, gather or broadcast.
	DistributeOp

	// NumOperators tracks the total count of operators.
	NumOperators
)

type operatorClass uint8

const (
	patternClass operatorClass = iota
	logicalClass
	physicalClass
	enforcerClass
)

// variadic is the arity of operators that accept any number of inputs.
const variadic = -1

type operatorInfo struct {
	name  string
	class operatorClass
	arity int
}

var operatorTab = [NumOperators]operatorInfo{
	UnknownOp: {name: "unknown", class: patternClass},
	AnyOp:     {name: "Any", class: patternClass},

	ScanOp:       {name: "Scan", class: logicalClass, arity: 0},
	SelectOp:     {name: "Select", class: logicalClass, arity: 1},
	ProjectOp:    {name: "Project", class: logicalClass, arity: 1},
	JoinOp:       {name: "Join", class: logicalClass, arity: 2},
	AggregateOp:  {name: "Aggregate", class: logicalClass, arity: 1},
	SortOp:       {name: "Sort", class: logicalClass, arity: 1},
	TopNOp:       {name: "TopN", class: logicalClass, arity: 1},
	LimitOp:      {name: "Limit", class: logicalClass, arity: 1},
	UnionOp:      {name: "Union", class: logicalClass, arity: variadic},
	IntersectOp:  {name: "Intersect", class: logicalClass, arity: variadic},
	ExceptOp:     {name: "Except", class: logicalClass, arity: variadic},
	WindowOp:     {name: "Window", class: logicalClass, arity: 1},
	CTEAnchorOp:  {name: "CTEAnchor", class: logicalClass, arity: 2},
	CTEProduceOp: {name: "CTEProduce", class: logicalClass, arity: 1},
	CTEConsumeOp: {name: "CTEConsume", class: logicalClass, arity: 0},
	TableFuncOp:  {name: "TableFunc", class: logicalClass, arity: 0},
	ValuesOp:     {name: "Values", class: logicalClass, arity: 0},

	PhysScanOp:       {name: "scan", class: physicalClass, arity: 0},
	PhysFilterOp:     {name: "filter", class: physicalClass, arity: 1},
	PhysProjectOp:    {name: "project", class: physicalClass, arity: 1},
	HashJoinOp:       {name: "hash-join", class: physicalClass, arity: 2},
	MergeJoinOp:      {name: "merge-join", class: physicalClass, arity: 2},
	NestedLoopJoinOp: {name: "nested-loop-join", class: physicalClass, arity: 2},
	HashAggOp:        {name: "hash-agg", class: physicalClass, arity: 1},
	StreamAggOp:      {name: "stream-agg", class: physicalClass, arity: 1},
	PhysSortOp:       {name: "sort", class: physicalClass, arity: 1},
	PhysTopNOp:       {name: "top-n", class: physicalClass, arity: 1},
	PhysLimitOp:      {name: "limit", class: physicalClass, arity: 1},
	PhysUnionOp:      {name: "union", class: physicalClass, arity: variadic},
	PhysIntersectOp:  {name: "intersect", class: physicalClass, arity: variadic},
	PhysExceptOp:     {name: "except", class: physicalClass, arity: variadic},
	PhysWindowOp:     {name: "window", class: physicalClass, arity: 1},
	PhysCTEAnchorOp:  {name: "cte-anchor", class: physicalClass, arity: 2},
	PhysNoCTEOp:      {name: "no-cte", class: physicalClass, arity: 1},
	PhysCTEProduceOp: {name: "cte-produce", class: physicalClass, arity: 1},
	PhysCTEConsumeOp: {name: "cte-consume", class: physicalClass, arity: 0},
	PhysTableFuncOp:  {name: "table-func", class: physicalClass, arity: 0},
	PhysValuesOp:     {name: "values", class: physicalClass, arity: 0},
	DistributeOp:     {name: "distribute", class: enforcerClass, arity: 1},
}

func (op Operator) String() string {
	if op >= NumOperators {
		return "operator(" + redact.Sprint(uint16(op)).StripMarkers() + ")"
	}
	return operatorTab[op].name
}

// SafeFormat implements redact.SafeFormatter. Operator names never contain
// user data.
func (op Operator) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Print(redact.SafeString(op.String()))
}

// IsLogical returns true if the operator is produced by the analyzer or by
// transformation rules.
func (op Operator) IsLogical() bool {
	return op < NumOperators && operatorTab[op].class == logicalClass
}

// IsPhysical returns true if the operator is executable, including enforcers
// and the physical sort operator used as a sort enforcer.
func (op Operator) IsPhysical() bool {
	if op >= NumOperators {
		return false
	}
	c := operatorTab[op].class
	return c == physicalClass || c == enforcerClass
}

// IsEnforcer returns true for operators that only exist to satisfy a
// required physical property.
func (op Operator) IsEnforcer() bool {
	return op < NumOperators && operatorTab[op].class == enforcerClass
}

// Arity returns the fixed number of inputs of the operator, or -1 if the
// operator is variadic.
func (op Operator) Arity() int {
	return operatorTab[op].arity
}

// IsVariadic returns true if the operator accepts any number of inputs.
func (op Operator) IsVariadic() bool {
	return operatorTab[op].arity == variadic
}

// IsJoin returns true for the logical join and all its implementations.
func (op Operator) IsJoin() bool {
	switch op {
	case JoinOp, HashJoinOp, MergeJoinOp, NestedLoopJoinOp:
		return true
	}
	return false
}

// IsSetOp returns true for union, intersect and except, logical or physical.
func (op Operator) IsSetOp() bool {
	switch op {
	case UnionOp, IntersectOp, ExceptOp, PhysUnionOp, PhysIntersectOp, PhysExceptOp:
		return true
	}
	return false
}

// LogicalOperatorByName returns the logical operator with the given name.
func LogicalOperatorByName(name string) (Operator, bool) {
	for op := ScanOp; op <= ValuesOp; op++ {
		if operatorTab[op].name == name {
			return op, true
		}
	}
	return UnknownOp, false
}
