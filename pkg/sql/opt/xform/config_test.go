// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package xform

import (
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/cascades/pkg/sql/opt"
	"github.com/cockroachdb/cascades/pkg/util/leaktest"
	"github.com/cockroachdb/cascades/pkg/util/log"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	cfg, err := LoadConfig(strings.NewReader(`
max_rule_firings_per_group: 20
timeout: 250ms
cost_weights: {cpu: 2, memory: 0, network: 3}
single_node: true
disabled_rules: [JoinCommutativity]
rule_priority: [PushDownLimitScan, PushDownPredicateScan]
`))
	require.NoError(t, err)

	want := DefaultConfig()
	want.MaxRuleFiringsPerGroup = 20
	want.Timeout = 250 * time.Millisecond
	want.CostWeights = CostWeights{CPU: 2, Memory: 0, Network: 3}
	want.SingleNode = true
	want.DisabledRules = []string{"JoinCommutativity"}
	want.RulePriority = []string{"PushDownLimitScan", "PushDownPredicateScan"}
	require.Equal(t, want, cfg)

	require.True(t, cfg.RuleDisabled(opt.JoinCommutativity))
	require.False(t, cfg.RuleDisabled(opt.JoinAssociativity))

	// An empty document is the default configuration.
	cfg, err = LoadConfig(strings.NewReader(""))
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigErrors(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	for _, tc := range []struct {
		doc string
		err string
	}{
		{doc: `max_tasks: 0`, err: "max_tasks must be positive"},
		{doc: `max_worklist_depth: -1`, err: "max_worklist_depth must be positive"},
		{doc: `max_rule_firings_per_group: 0`, err: "max_rule_firings_per_group must be positive"},
		{doc: `timeout: -1s`, err: "timeout must not be negative"},
		{doc: `node_count: 0`, err: "node_count must be positive"},
		{doc: `cost_weights: {cpu: -1}`, err: "cost weights must not be negative"},
		{doc: `cte_inline_threshold: -2`, err: "cte_inline_threshold must not be negative"},
		{doc: `disabled_rules: [NoSuchRule]`, err: `unknown rule "NoSuchRule"`},
		{doc: `rule_priority: [Nope]`, err: `unknown rule "Nope"`},
		{doc: `max_taskz: 3`, err: "parsing optimizer config"},
		{doc: `max_tasks: lots`, err: "parsing optimizer config"},
	} {
		t.Run(tc.doc, func(t *testing.T) {
			_, err := LoadConfig(strings.NewReader(tc.doc))
			require.ErrorContains(t, err, tc.err)
		})
	}
}

func TestValidateHint(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	cfg := DefaultConfig()
	cfg.RulePriority = []string{"Bogus"}
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, errors.FlattenHints(err), "rules command")
}
