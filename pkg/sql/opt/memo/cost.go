// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package memo

import (
	"fmt"
	"math"
)

// Cost is the best-effort approximation of the actual cost of executing a
// particular operator tree.
type Cost struct {
	C     float64
	Flags CostFlags
}

// CostFlags contains flags that penalize the cost of an operator. Flags are
// more significant than C: a cost with a higher flag value is always more
// expensive.
type CostFlags uint8

const (
	// FullScanPenalty is set for scans of remote sources that cannot evaluate
	// any of the query's predicates.
	FullScanPenalty CostFlags = 1 << iota
	// HugeCostPenalty is set for plans that should be avoided whenever an
	// alternative exists, such as unbounded nested loop joins.
	HugeCostPenalty
)

// MaxCost is the maximum possible estimated cost. It's used to suppress memo
// group members during testing, by setting their cost so high that any other
// member will have a lower cost.
var MaxCost = Cost{
	C:     math.Inf(+1),
	Flags: FullScanPenalty | HugeCostPenalty,
}

// Less returns true if this cost is lower than the given cost. Costs are
// totally ordered: first by flags, then by C.
func (c Cost) Less(other Cost) bool {
	if c.Flags != other.Flags {
		return c.Flags < other.Flags
	}
	return c.C < other.C
}

// Add adds the other cost to this cost.
func (c *Cost) Add(other Cost) {
	c.C += other.C
	c.Flags |= other.Flags
}

// Sum returns the sum of the two costs.
func (c Cost) Sum(other Cost) Cost {
	c.Add(other)
	return c
}

func (c Cost) String() string {
	if c.Flags == 0 {
		return fmt.Sprintf("%.2f", c.C)
	}
	var flags string
	if c.Flags&FullScanPenalty != 0 {
		flags += " full-scan"
	}
	if c.Flags&HugeCostPenalty != 0 {
		flags += " huge"
	}
	return fmt.Sprintf("%.2f[%s]", c.C, flags[1:])
}
