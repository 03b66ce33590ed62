// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package xform

import (
	"sync"

	"github.com/cockroachdb/cascades/pkg/sql/opt"
	"github.com/cockroachdb/errors"
)

// RuleCatalog is an immutable registry of rules, indexed by the root
// operator of their patterns. A catalog can be shared by any number of
// concurrent optimizations.
//
// The position of a rule in the catalog is its index in the memo's
// per-expression record of fired rules, and the default order in which
// rules are applied to an expression.
type RuleCatalog struct {
	rules  []*Rule
	byName map[opt.RuleName]int

	transformations [opt.NumOperators][]int
	implementations [opt.NumOperators][]int
}

// NewRuleCatalog builds a catalog from the given rules, in order. It panics
// if a rule is malformed or registered twice.
func NewRuleCatalog(rules ...*Rule) *RuleCatalog {
	c := &RuleCatalog{
		rules:  rules,
		byName: make(map[opt.RuleName]int, len(rules)),
	}
	for i, r := range rules {
		if r.Pattern == nil || r.Apply == nil {
			panic(errors.AssertionFailedf("rule %s has no pattern or body", r.Name))
		}
		if _, ok := c.byName[r.Name]; ok {
			panic(errors.AssertionFailedf("rule %s registered twice", r.Name))
		}
		c.byName[r.Name] = i

		var index *[opt.NumOperators][]int
		switch r.Kind {
		case TransformationRule:
			index = &c.transformations
		case ImplementationRule:
			index = &c.implementations
		default:
			panic(errors.AssertionFailedf("rule %s has unknown kind %d", r.Name, r.Kind))
		}
		if r.Pattern.Op == opt.AnyOp {
			for op := opt.Operator(0); op < opt.NumOperators; op++ {
				if op.IsLogical() {
					index[op] = append(index[op], i)
				}
			}
			continue
		}
		if !r.Pattern.Op.IsLogical() {
			panic(errors.AssertionFailedf("rule %s matches non-logical operator %s", r.Name, r.Pattern.Op))
		}
		index[r.Pattern.Op] = append(index[r.Pattern.Op], i)
	}
	return c
}

var defaultCatalog struct {
	once sync.Once
	c    *RuleCatalog
}

// DefaultCatalog returns the catalog of all built-in rules: transformation
// rules first, then implementation rules, in rule name order.
func DefaultCatalog() *RuleCatalog {
	defaultCatalog.once.Do(func() {
		var rules []*Rule
		rules = append(rules, joinRules...)
		rules = append(rules, predicateRules...)
		rules = append(rules, limitRules...)
		rules = append(rules, pruneRules...)
		rules = append(rules, aggCTEViewRules...)
		rules = append(rules, implementationRules...)
		defaultCatalog.c = NewRuleCatalog(rules...)
	})
	return defaultCatalog.c
}

// Len returns the number of rules in the catalog.
func (c *RuleCatalog) Len() int {
	return len(c.rules)
}

// Rule returns the rule at the given index.
func (c *RuleCatalog) Rule(i int) *Rule {
	return c.rules[i]
}

// Rules returns all rules in catalog order. The slice must not be modified.
func (c *RuleCatalog) Rules() []*Rule {
	return c.rules
}

// Lookup returns the index of the named rule.
func (c *RuleCatalog) Lookup(name opt.RuleName) (int, bool) {
	i, ok := c.byName[name]
	return i, ok
}

// ruleOrder is the list of enabled rules per root operator, in the order
// they are applied.
type ruleOrder struct {
	transformations [opt.NumOperators][]int
	implementations [opt.NumOperators][]int
}

// order applies the disabled rules and priorities of the configuration to
// the catalog. Prioritized rules come first, in the configured order; the
// others keep catalog order, so the result is deterministic.
func (c *RuleCatalog) order(cfg *Config) ruleOrder {
	disabled := make(map[int]bool)
	for _, name := range cfg.DisabledRules {
		if r, ok := opt.RuleNameByString(name); ok {
			if i, ok := c.byName[r]; ok {
				disabled[i] = true
			}
		}
	}
	rank := make(map[int]int)
	for pos, name := range cfg.RulePriority {
		if r, ok := opt.RuleNameByString(name); ok {
			if i, ok := c.byName[r]; ok {
				if _, dup := rank[i]; !dup {
					rank[i] = pos
				}
			}
		}
	}
	reorder := func(list []int) []int {
		res := make([]int, 0, len(list))
		for pos := range cfg.RulePriority {
			for _, i := range list {
				if r, ok := rank[i]; ok && r == pos && !disabled[i] {
					res = append(res, i)
				}
			}
		}
		for _, i := range list {
			if _, ok := rank[i]; !ok && !disabled[i] {
				res = append(res, i)
			}
		}
		return res
	}
	var ro ruleOrder
	for op := range c.transformations {
		ro.transformations[op] = reorder(c.transformations[op])
		ro.implementations[op] = reorder(c.implementations[op])
	}
	return ro
}
