// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package xform

import (
	"io"
	"time"

	"github.com/cockroachdb/cascades/pkg/sql/opt"
	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// CostWeights scales the resource components of operator costs.
type CostWeights struct {
	CPU     float64 `yaml:"cpu"`
	Memory  float64 `yaml:"memory"`
	Network float64 `yaml:"network"`
}

// Config holds the knobs of a single optimization. The zero value is not
// usable; start from DefaultConfig.
type Config struct {
	// MaxRuleFiringsPerGroup bounds the number of rule applications that
	// insert into a single group. Exceeding it fails the optimization with
	// ResourceLimitExceeded.
	MaxRuleFiringsPerGroup int `yaml:"max_rule_firings_per_group"`

	// MaxTasks bounds the total number of scheduled tasks.
	MaxTasks int `yaml:"max_tasks"`

	// MaxWorklistDepth bounds the number of tasks pending at once.
	MaxWorklistDepth int `yaml:"max_worklist_depth"`

	// Timeout is the time budget of the search, or zero for none. The
	// caller's context deadline also applies.
	Timeout time.Duration `yaml:"timeout"`

	CostWeights CostWeights `yaml:"cost_weights"`

	// NodeCount is the number of execution nodes. It scales the network cost
	// of broadcasts.
	NodeCount int `yaml:"node_count"`

	// SingleNode plans for a single execution node: distribution
	// requirements are dropped and no distribute enforcers are added.
	SingleNode bool `yaml:"single_node"`

	// CTEInlineThreshold is the largest number of consumers of a CTE for
	// which the CTE is inlined rather than produced once and reused.
	CTEInlineThreshold int `yaml:"cte_inline_threshold"`

	// ReorderCrossJoins permits join reordering to introduce cross joins.
	ReorderCrossJoins bool `yaml:"reorder_cross_joins"`

	// BroadcastRowLimit is the largest estimated row count of a join input
	// that may be broadcast.
	BroadcastRowLimit float64 `yaml:"broadcast_row_limit"`

	// NestedLoopRowLimit is the largest number of row pairs a nested loop
	// join may compare before its cost is flagged as huge.
	NestedLoopRowLimit float64 `yaml:"nested_loop_row_limit"`

	// DisabledRules lists rules that never fire.
	DisabledRules []string `yaml:"disabled_rules"`

	// RulePriority lists rules that fire before all others on an expression,
	// in the given order. Unlisted rules keep catalog order.
	RulePriority []string `yaml:"rule_priority"`

	// CheckInvariants verifies the memo invariants after the search.
	CheckInvariants bool `yaml:"check_invariants"`
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		MaxRuleFiringsPerGroup: 1000,
		MaxTasks:               1 << 20,
		MaxWorklistDepth:       1 << 16,
		CostWeights:            CostWeights{CPU: 1, Memory: 0.1, Network: 1.5},
		NodeCount:              3,
		CTEInlineThreshold:     1,
		ReorderCrossJoins:      true,
		BroadcastRowLimit:      100000,
		NestedLoopRowLimit:     1e7,
	}
}

// LoadConfig reads a YAML configuration. Fields missing from the document
// keep their default values.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, errors.Wrap(err, "parsing optimizer config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch {
	case c.MaxRuleFiringsPerGroup <= 0:
		return errors.Newf("max_rule_firings_per_group must be positive, got %d", c.MaxRuleFiringsPerGroup)
	case c.MaxTasks <= 0:
		return errors.Newf("max_tasks must be positive, got %d", c.MaxTasks)
	case c.MaxWorklistDepth <= 0:
		return errors.Newf("max_worklist_depth must be positive, got %d", c.MaxWorklistDepth)
	case c.Timeout < 0:
		return errors.Newf("timeout must not be negative, got %s", c.Timeout)
	case c.NodeCount <= 0:
		return errors.Newf("node_count must be positive, got %d", c.NodeCount)
	case c.CostWeights.CPU < 0 || c.CostWeights.Memory < 0 || c.CostWeights.Network < 0:
		return errors.Newf("cost weights must not be negative")
	case c.CTEInlineThreshold < 0:
		return errors.Newf("cte_inline_threshold must not be negative, got %d", c.CTEInlineThreshold)
	}
	for _, names := range [][]string{c.DisabledRules, c.RulePriority} {
		for _, name := range names {
			if _, ok := opt.RuleNameByString(name); !ok {
				return errors.WithHint(
					errors.Newf("unknown rule %q", name),
					"rule names are listed by the rules command",
				)
			}
		}
	}
	return nil
}

// RuleDisabled returns true if the rule is listed in DisabledRules.
func (c *Config) RuleDisabled(name opt.RuleName) bool {
	for _, n := range c.DisabledRules {
		if r, ok := opt.RuleNameByString(n); ok && r == name {
			return true
		}
	}
	return false
}
