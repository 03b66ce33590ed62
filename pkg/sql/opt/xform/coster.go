// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package xform

import (
	"math"

	"github.com/cockroachdb/cascades/pkg/sql/opt"
	"github.com/cockroachdb/cascades/pkg/sql/opt/cat"
	"github.com/cockroachdb/cascades/pkg/sql/opt/memo"
	"github.com/cockroachdb/cascades/pkg/sql/opt/props"
	"github.com/cockroachdb/cascades/pkg/sql/opt/props/physical"
	"github.com/cockroachdb/errors"
)

// coster estimates the cost of physical expressions from the statistics of
// their groups. A cost is the weighted sum of the CPU, memory and network
// resources of the operator alone; the optimizer adds the costs of the
// inputs.
type coster struct {
	mem *memo.Memo
	md  *opt.Metadata
	cfg *Config
}

// resources is the unweighted cost of an operator.
type resources struct {
	cpu, memory, network float64
	flags                memo.CostFlags
}

const (
	// startupCost is charged once per operator, so that among plans of equal
	// work the one with fewer operators wins.
	startupCost = 1

	cpuCostFactor        = 1
	filterCostFactor     = 0.2
	scanFilterCostFactor = 0.1
	projectCostFactor    = 0.05
	computeCostFactor    = 0.2
	hashBuildCostFactor  = 1.5
	limitCostFactor      = 0.01
	unionCostFactor      = 0.05
	cteCostFactor        = 0.5

	// scanCostLimitFactor bounds the rows a filtered scan with a limit reads,
	// as a multiple of the limit.
	scanCostLimitFactor = 3
)

// sourceCostFactor scales the cost of reading a row through the connector.
func sourceCostFactor(kind cat.SourceKind) float64 {
	switch {
	case kind == cat.OlapSource:
		return 1
	case kind == cat.FileSource:
		return 2
	case kind.IsLake():
		return 1.5
	case kind.IsRemote():
		return 3
	case kind == cat.SchemaSource, kind == cat.MetaSource:
		return 0.1
	}
	return 1
}

func (c *coster) rows(g memo.GroupID) float64 {
	return math.Max(c.mem.Stats(g).RowCount, 1)
}

func (c *coster) width(g memo.GroupID) float64 {
	return float64(len(c.mem.Group(g).OutputCols()))
}

// dop is the number of nodes that run an operator providing the
// distribution.
func (c *coster) dop(dist physical.Distribution) float64 {
	if c.cfg.SingleNode {
		return 1
	}
	switch dist.Type {
	case physical.AnyDistribution, physical.SingletonDistribution:
		return 1
	}
	return float64(c.cfg.NodeCount)
}

// maxDOP is the largest degree of parallelism of any operator. Dividing by
// it gives a lower bound on the cost of an expression before its provided
// properties are known.
func (c *coster) maxDOP() float64 {
	if c.cfg.SingleNode {
		return 1
	}
	return float64(c.cfg.NodeCount)
}

func (c *coster) weigh(r resources, dop float64) memo.Cost {
	w := &c.cfg.CostWeights
	return memo.Cost{
		C:     startupCost + r.cpu/dop*w.CPU + r.memory*w.Memory + r.network*w.Network,
		Flags: r.flags,
	}
}

// computeCost returns the cost of running the expression on dop nodes.
func (c *coster) computeCost(e *memo.GroupExpr, dop float64) memo.Cost {
	return c.weigh(c.resources(e), dop)
}

// lowerBound returns a cost that is no more than the cost of the expression
// under any provided properties.
func (c *coster) lowerBound(e *memo.GroupExpr) memo.Cost {
	return c.computeCost(e, c.maxDOP())
}

func (c *coster) resources(e *memo.GroupExpr) resources {
	out := c.rows(e.Group())
	in := func(i int) float64 { return c.rows(e.Child(i)) }

	switch e.Op() {
	case opt.PhysScanOp:
		return c.scanResources(e.Private().(*memo.ScanPrivate), c.width(e.Group()))

	case opt.PhysFilterOp:
		conds := float64(len(opt.Conjuncts(e.Private().(*memo.SelectPrivate).Filter)))
		return resources{cpu: filterCostFactor * in(0) * math.Max(conds, 1)}

	case opt.PhysProjectOp:
		p := e.Private().(*memo.ProjectPrivate)
		computed := 0.0
		for i := range p.Items {
			if p.Items[i].Expr != nil {
				computed++
			}
		}
		return resources{cpu: out * (projectCostFactor + computeCostFactor*computed)}

	case opt.HashJoinOp:
		return resources{
			cpu:    in(0) + hashBuildCostFactor*in(1) + out,
			memory: in(1) * c.width(e.Child(1)),
		}

	case opt.MergeJoinOp:
		return resources{cpu: in(0) + in(1) + out}

	case opt.NestedLoopJoinOp:
		pairs := in(0) * in(1)
		r := resources{cpu: pairs + out, memory: in(1) * c.width(e.Child(1))}
		if pairs > c.cfg.NestedLoopRowLimit {
			r.flags |= memo.HugeCostPenalty
		}
		return r

	case opt.HashAggOp:
		return resources{cpu: hashBuildCostFactor*in(0) + out, memory: out * c.width(e.Group())}

	case opt.StreamAggOp:
		return resources{cpu: in(0) + out}

	case opt.PhysSortOp:
		return sortResources(in(0), c.width(e.Group()))

	case opt.PhysTopNOp:
		p := e.Private().(*memo.TopNPrivate)
		n := float64(p.Limit + p.Offset)
		return resources{cpu: in(0) * math.Log2(n+1), memory: n * c.width(e.Group())}

	case opt.PhysLimitOp:
		return resources{cpu: limitCostFactor * out}

	case opt.PhysUnionOp:
		total := 0.0
		for i := 0; i < e.ChildCount(); i++ {
			total += in(i)
		}
		r := resources{cpu: unionCostFactor * total}
		if !e.Private().(*memo.SetOpPrivate).All {
			r.cpu += hashBuildCostFactor*total + out
			r.memory = out * c.width(e.Group())
		}
		return r

	case opt.PhysIntersectOp, opt.PhysExceptOp:
		total := 0.0
		for i := 0; i < e.ChildCount(); i++ {
			total += in(i)
		}
		return resources{cpu: hashBuildCostFactor*total + out, memory: total * c.width(e.Group())}

	case opt.PhysWindowOp:
		funcs := float64(len(e.Private().(*memo.WindowPrivate).Funcs))
		return resources{cpu: in(0) * (1 + funcs), memory: in(0) * c.width(e.Group())}

	case opt.PhysCTEProduceOp:
		return resources{cpu: cteCostFactor * in(0), memory: in(0) * c.width(e.Group())}

	case opt.PhysCTEConsumeOp:
		return resources{cpu: cteCostFactor * out}

	case opt.PhysCTEAnchorOp, opt.PhysNoCTEOp:
		return resources{}

	case opt.PhysTableFuncOp:
		return resources{cpu: cpuCostFactor * out}

	case opt.PhysValuesOp:
		return resources{cpu: limitCostFactor * out}
	}
	panic(errors.AssertionFailedf("no cost for operator %s", e.Op()))
}

func sortResources(rows, width float64) resources {
	return resources{cpu: rows * math.Log2(math.Max(rows, 2)), memory: rows * width}
}

// scanRowsRead estimates the rows the scan reads before evaluating its
// filter.
func scanRowsRead(tab cat.Table, p *memo.ScanPrivate) float64 {
	rows := float64(props.UnknownRowCount)
	if ts := tab.Statistics(); ts != nil {
		rows = ts.RowCount
	}
	if p.Partitions != nil {
		parts := tab.Partitions()
		var read, total float64
		for i := range parts {
			total += parts[i].RowCount
		}
		for _, ord := range p.Partitions {
			read += parts[ord].RowCount
		}
		if total > 0 {
			rows *= read / total
		}
	}
	if p.Limit > 0 {
		limit := float64(p.Limit)
		if p.Filter != nil {
			limit *= scanCostLimitFactor
		}
		rows = math.Min(rows, limit)
	}
	return math.Max(rows, 1)
}

func (c *coster) scanResources(p *memo.ScanPrivate, width float64) resources {
	tab := c.md.Table(p.Table)
	kind := tab.SourceKind()
	rows := scanRowsRead(tab, p)
	r := resources{cpu: rows * sourceCostFactor(kind) * (1 + width/100)}
	if p.Filter != nil {
		r.cpu += scanFilterCostFactor * rows * float64(len(opt.Conjuncts(p.Filter)))
	}
	if kind.IsRemote() {
		// Remote sources return their rows over the network.
		r.network = rows * (1 + width/32)
		if p.Filter == nil {
			r.flags |= memo.FullScanPenalty
		}
	}
	return r
}

// enforcerCost returns the cost of an enforcer over the rows of the group.
func (c *coster) enforcerCost(g memo.GroupID, op opt.Operator, private memo.Private, input *physical.Required) memo.Cost {
	rows, width := c.rows(g), c.width(g)
	switch op {
	case opt.DistributeOp:
		target := private.(*memo.DistributePrivate).Target
		network := rows * (1 + width/32)
		if target.Type == physical.BroadcastDistribution {
			network *= float64(c.cfg.NodeCount)
		}
		return c.weigh(resources{network: network}, 1)

	case opt.PhysSortOp:
		return c.weigh(sortResources(rows, width), c.dop(input.Distribution))
	}
	panic(errors.AssertionFailedf("%s is not an enforcer", op))
}
