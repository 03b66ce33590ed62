// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package xform

import (
	"testing"

	"github.com/cockroachdb/cascades/pkg/sql/opt"
	"github.com/cockroachdb/cascades/pkg/sql/opt/cat"
	"github.com/cockroachdb/cascades/pkg/sql/opt/memo"
	"github.com/cockroachdb/cascades/pkg/sql/opt/props/physical"
	"github.com/cockroachdb/cascades/pkg/sql/opt/testutils/testcat"
	"github.com/cockroachdb/cascades/pkg/util/leaktest"
	"github.com/cockroachdb/cascades/pkg/util/log"
	"github.com/stretchr/testify/require"
)

func TestSourceCostFactor(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	require.Equal(t, 1.0, sourceCostFactor(cat.OlapSource))
	require.Equal(t, 2.0, sourceCostFactor(cat.FileSource))
	require.Equal(t, 1.5, sourceCostFactor(cat.HiveSource))
	require.Equal(t, 1.5, sourceCostFactor(cat.IcebergSource))
	require.Equal(t, 3.0, sourceCostFactor(cat.JDBCSource))
	require.Equal(t, 3.0, sourceCostFactor(cat.MySQLSource))
	require.Equal(t, 0.1, sourceCostFactor(cat.MetaSource))

	// Remote sources cost more per row than local storage.
	for kind := cat.OlapSource; kind <= cat.MetaSource; kind++ {
		if kind.IsRemote() {
			require.Greater(t, sourceCostFactor(kind), sourceCostFactor(cat.OlapSource), "%s", kind)
		}
	}
}

func TestScanRowsRead(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	tab := &testcat.Table{
		TabName: "t",
		Stats:   &cat.TableStatistics{RowCount: 1000},
		Parts: []cat.Partition{
			{Name: "p0", RowCount: 250},
			{Name: "p1", RowCount: 750},
		},
	}
	filter := &opt.Comparison{Op: opt.GtOp, Left: opt.NewVariable(1), Right: opt.NewIntConst(5)}
	for _, tc := range []struct {
		p    memo.ScanPrivate
		rows float64
	}{
		{p: memo.ScanPrivate{}, rows: 1000},
		{p: memo.ScanPrivate{Partitions: []int{0}}, rows: 250},
		{p: memo.ScanPrivate{Partitions: []int{}}, rows: 1},
		{p: memo.ScanPrivate{Limit: 10}, rows: 10},
		// A filtered scan reads more rows than it returns.
		{p: memo.ScanPrivate{Limit: 10, Filter: filter}, rows: 30},
		{p: memo.ScanPrivate{Limit: 5000}, rows: 1000},
	} {
		require.Equal(t, tc.rows, scanRowsRead(tab, &tc.p), "%+v", tc.p)
	}

	// Tables without statistics are assumed to have a fixed size.
	require.Equal(t, 1000.0, scanRowsRead(&testcat.Table{TabName: "u"}, &memo.ScanPrivate{}))
}

func TestCosterWeights(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	cfg := DefaultConfig()
	cfg.CostWeights = CostWeights{CPU: 1, Memory: 0.5, Network: 2}
	c := coster{cfg: &cfg}

	r := resources{cpu: 30, memory: 10, network: 4}
	require.Equal(t, memo.Cost{C: 1 + 30 + 5 + 8}, c.weigh(r, 1))
	// Only the CPU work is shared by the nodes.
	require.Equal(t, memo.Cost{C: 1 + 10 + 5 + 8}, c.weigh(r, 3))

	require.Equal(t, 1.0, c.dop(physical.SingletonDist))
	require.Equal(t, 1.0, c.dop(physical.AnyDist))
	require.Equal(t, 3.0, c.dop(physical.RandomDist))
	require.Equal(t, 3.0, c.dop(physical.HashDist(1)))
	require.Equal(t, 3.0, c.maxDOP())

	cfg.SingleNode = true
	require.Equal(t, 1.0, c.dop(physical.RandomDist))
	require.Equal(t, 1.0, c.maxDOP())

	flagged := resources{cpu: 1, flags: memo.FullScanPenalty}
	require.Equal(t, memo.FullScanPenalty, c.weigh(flagged, 1).Flags)
}
