// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package opt

// RuleName enumerates the names of all rules known to the optimizer.
// Transformation rules come first, followed by implementation rules; the
// boundary is ImplOlapScan.
type RuleName uint16

const (
	InvalidRuleName RuleName = iota

	// ------------------------------------------------------------
	// Join reordering
	// ------------------------------------------------------------

	JoinCommutativity
	JoinCommutativityOuter
	JoinAssociativity
	JoinLeftAsscom
	JoinSemiReorder

	// ------------------------------------------------------------
	// Predicate pushdown
	// ------------------------------------------------------------

	PushDownPredicateScan
	MergeTwoFilters
	PruneTrueFilter
	CastToEmpty
	PushDownPredicateProject
	PushDownPredicateJoin
	PushDownJoinClause
	PushDownPredicateAgg
	PushDownPredicateUnion
	PushDownPredicateSetOp
	PushDownPredicateWindow
	PushDownPredicateCTEConsume

	// ------------------------------------------------------------
	// Limits and top-n
	// ------------------------------------------------------------

	MergeLimitWithSort
	MergeLimitWithLimit
	EliminateLimitZero
	PushDownLimitProject
	PushDownLimitScan
	PushDownLimitUnion
	PushDownLimitJoin
	SplitLimit
	SplitTopN

	// ------------------------------------------------------------
	// Column pruning and projections
	// ------------------------------------------------------------

	PruneScanColumns
	PruneProject
	MergeTwoProject
	PruneAggColumns
	PruneJoinColumns

	// ------------------------------------------------------------
	// Aggregation, CTEs, windows, set operations, views
	// ------------------------------------------------------------

	SplitAggregate
	InlineCTEConsume
	PruneEmptyWindow
	PruneUnionEmpty
	MaterializedViewRewrite
	MVOnlyScan

	// ------------------------------------------------------------
	// Implementation rules
	// ------------------------------------------------------------

	ImplOlapScan
	ImplHiveScan
	ImplIcebergScan
	ImplHudiScan
	ImplDeltaLakeScan
	ImplPaimonScan
	ImplFileScan
	ImplSchemaScan
	ImplMySQLScan
	ImplESScan
	ImplJDBCScan
	ImplMetaScan
	ImplHashJoin
	ImplMergeJoin
	ImplNestLoopJoin
	ImplUnion
	ImplExcept
	ImplIntersect
	ImplHashAgg
	ImplStreamAgg
	ImplProject
	ImplFilter
	ImplSort
	ImplTopN
	ImplLimit
	ImplWindow
	ImplValues
	ImplTableFunction
	ImplCTEConsumeReuse
	ImplCTEAnchor
	ImplCTEAnchorToNoCTE
	ImplCTEProduce

	// NumRuleNames tracks the total count of rule names.
	NumRuleNames
)

var ruleNames = [NumRuleNames]string{
	InvalidRuleName: "InvalidRuleName",

	JoinCommutativity:      "JoinCommutativity",
	JoinCommutativityOuter: "JoinCommutativityOuter",
	JoinAssociativity:      "JoinAssociativity",
	JoinLeftAsscom:         "JoinLeftAsscom",
	JoinSemiReorder:        "JoinSemiReorder",

	PushDownPredicateScan:       "PushDownPredicateScan",
	MergeTwoFilters:             "MergeTwoFilters",
	PruneTrueFilter:             "PruneTrueFilter",
	CastToEmpty:                 "CastToEmpty",
	PushDownPredicateProject:    "PushDownPredicateProject",
	PushDownPredicateJoin:       "PushDownPredicateJoin",
	PushDownJoinClause:          "PushDownJoinClause",
	PushDownPredicateAgg:        "PushDownPredicateAgg",
	PushDownPredicateUnion:      "PushDownPredicateUnion",
	PushDownPredicateSetOp:      "PushDownPredicateSetOp",
	PushDownPredicateWindow:     "PushDownPredicateWindow",
	PushDownPredicateCTEConsume: "PushDownPredicateCTEConsume",

	MergeLimitWithSort:   "MergeLimitWithSort",
	MergeLimitWithLimit:  "MergeLimitWithLimit",
	EliminateLimitZero:   "EliminateLimitZero",
	PushDownLimitProject: "PushDownLimitProject",
	PushDownLimitScan:    "PushDownLimitScan",
	PushDownLimitUnion:   "PushDownLimitUnion",
	PushDownLimitJoin:    "PushDownLimitJoin",
	SplitLimit:           "SplitLimit",
	SplitTopN:            "SplitTopN",

	PruneScanColumns: "PruneScanColumns",
	PruneProject:     "PruneProject",
	MergeTwoProject:  "MergeTwoProject",
	PruneAggColumns:  "PruneAggColumns",
	PruneJoinColumns: "PruneJoinColumns",

	SplitAggregate:          "SplitAggregate",
	InlineCTEConsume:        "InlineCTEConsume",
	PruneEmptyWindow:        "PruneEmptyWindow",
	PruneUnionEmpty:         "PruneUnionEmpty",
	MaterializedViewRewrite: "MaterializedViewRewrite",
	MVOnlyScan:              "MVOnlyScan",

	ImplOlapScan:         "ImplOlapScan",
	ImplHiveScan:         "ImplHiveScan",
	ImplIcebergScan:      "ImplIcebergScan",
	ImplHudiScan:         "ImplHudiScan",
	ImplDeltaLakeScan:    "ImplDeltaLakeScan",
	ImplPaimonScan:       "ImplPaimonScan",
	ImplFileScan:         "ImplFileScan",
	ImplSchemaScan:       "ImplSchemaScan",
	ImplMySQLScan:        "ImplMySQLScan",
	ImplESScan:           "ImplESScan",
	ImplJDBCScan:         "ImplJDBCScan",
	ImplMetaScan:         "ImplMetaScan",
	ImplHashJoin:         "ImplHashJoin",
	ImplMergeJoin:        "ImplMergeJoin",
	ImplNestLoopJoin:     "ImplNestLoopJoin",
	ImplUnion:            "ImplUnion",
	ImplExcept:           "ImplExcept",
	ImplIntersect:        "ImplIntersect",
	ImplHashAgg:          "ImplHashAgg",
	ImplStreamAgg:        "ImplStreamAgg",
	ImplProject:          "ImplProject",
	ImplFilter:           "ImplFilter",
	ImplSort:             "ImplSort",
	ImplTopN:             "ImplTopN",
	ImplLimit:            "ImplLimit",
	ImplWindow:           "ImplWindow",
	ImplValues:           "ImplValues",
	ImplTableFunction:    "ImplTableFunction",
	ImplCTEConsumeReuse:  "ImplCTEConsumeReuse",
	ImplCTEAnchor:        "ImplCTEAnchor",
	ImplCTEAnchorToNoCTE: "ImplCTEAnchorToNoCTE",
	ImplCTEProduce:       "ImplCTEProduce",
}

func (r RuleName) String() string {
	if r >= NumRuleNames {
		return "InvalidRuleName"
	}
	return ruleNames[r]
}

// IsImplementation returns true if the rule produces physical expressions.
func (r RuleName) IsImplementation() bool {
	return r >= ImplOlapScan && r < NumRuleNames
}

// IsTransformation returns true if the rule produces logically equivalent
// logical expressions.
func (r RuleName) IsTransformation() bool {
	return r > InvalidRuleName && r < ImplOlapScan
}

// RuleNameByString returns the rule with the given name.
func RuleNameByString(name string) (RuleName, bool) {
	for r := InvalidRuleName + 1; r < NumRuleNames; r++ {
		if ruleNames[r] == name {
			return r, true
		}
	}
	return InvalidRuleName, false
}
