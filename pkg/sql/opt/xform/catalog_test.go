// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package xform

import (
	"testing"

	"github.com/cockroachdb/cascades/pkg/sql/opt"
	"github.com/cockroachdb/cascades/pkg/sql/opt/memo"
	"github.com/cockroachdb/cascades/pkg/util/leaktest"
	"github.com/cockroachdb/cascades/pkg/util/log"
	"github.com/stretchr/testify/require"
)

func ruleNames(c *RuleCatalog, list []int) []opt.RuleName {
	names := make([]opt.RuleName, len(list))
	for i, idx := range list {
		names[i] = c.Rule(idx).Name
	}
	return names
}

func TestDefaultCatalog(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	c := DefaultCatalog()
	require.Same(t, c, DefaultCatalog())

	seenImpl := false
	for i, r := range c.Rules() {
		idx, ok := c.Lookup(r.Name)
		require.True(t, ok, "%s", r.Name)
		require.Equal(t, i, idx)
		// Transformation rules come before implementation rules.
		if r.Kind == ImplementationRule {
			seenImpl = true
			require.True(t, r.Name.IsImplementation(), "%s", r.Name)
		} else {
			require.False(t, seenImpl, "%s follows an implementation rule", r.Name)
			require.True(t, r.Name.IsTransformation(), "%s", r.Name)
		}
	}
	require.Equal(t, len(c.Rules()), c.Len())

	_, ok := c.Lookup(opt.InvalidRuleName)
	require.False(t, ok)
}

func TestRuleOrder(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	c := DefaultCatalog()
	cfg := DefaultConfig()
	limitRules := ruleNames(c, c.order(&cfg).transformations[opt.LimitOp])
	require.Equal(t, []opt.RuleName{
		opt.MergeLimitWithSort,
		opt.MergeLimitWithLimit,
		opt.EliminateLimitZero,
		opt.PushDownLimitProject,
		opt.PushDownLimitScan,
		opt.PushDownLimitUnion,
		opt.PushDownLimitJoin,
		opt.SplitLimit,
	}, limitRules)

	cfg.DisabledRules = []string{"EliminateLimitZero", "SplitLimit"}
	cfg.RulePriority = []string{"PushDownLimitScan", "SplitLimit", "MergeLimitWithLimit", "PushDownLimitScan"}
	ro := c.order(&cfg)
	require.Equal(t, []opt.RuleName{
		opt.PushDownLimitScan,
		opt.MergeLimitWithLimit,
		opt.MergeLimitWithSort,
		opt.PushDownLimitProject,
		opt.PushDownLimitUnion,
		opt.PushDownLimitJoin,
	}, ruleNames(c, ro.transformations[opt.LimitOp]))
	require.Equal(t, []opt.RuleName{opt.ImplLimit}, ruleNames(c, ro.implementations[opt.LimitOp]))

	// The order does not depend on anything but the configuration.
	require.Equal(t, ro, c.order(&cfg))
}

func TestNewRuleCatalog(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	noop := func(c *RuleContext, e *memo.Expr) []*memo.Expr { return nil }
	anyRule := &Rule{Name: opt.PruneTrueFilter, Kind: TransformationRule, Pattern: Match(opt.AnyOp), Apply: noop}
	c := NewRuleCatalog(anyRule)
	for op := opt.Operator(0); op < opt.NumOperators; op++ {
		if op.IsLogical() {
			require.Equal(t, []int{0}, c.transformations[op], "%s", op)
		} else {
			require.Empty(t, c.transformations[op], "%s", op)
		}
		require.Empty(t, c.implementations[op], "%s", op)
	}

	require.Panics(t, func() { NewRuleCatalog(anyRule, anyRule) })
	require.Panics(t, func() {
		NewRuleCatalog(&Rule{Name: opt.SplitLimit, Kind: TransformationRule, Apply: noop})
	})
	require.Panics(t, func() {
		NewRuleCatalog(&Rule{Name: opt.SplitLimit, Kind: TransformationRule, Pattern: Match(opt.LimitOp)})
	})
	require.Panics(t, func() {
		NewRuleCatalog(&Rule{Name: opt.SplitLimit, Kind: ImplementationRule, Pattern: Match(opt.PhysLimitOp), Apply: noop})
	})
	require.Panics(t, func() {
		NewRuleCatalog(&Rule{Name: opt.SplitLimit, Kind: RuleKind(7), Pattern: Match(opt.LimitOp), Apply: noop})
	})
}
