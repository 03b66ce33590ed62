// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package xform

import (
	"context"

	"github.com/cockroachdb/cascades/pkg/sql/opt"
	"github.com/cockroachdb/cascades/pkg/sql/opt/cat"
	"github.com/cockroachdb/cascades/pkg/sql/opt/exec"
	"github.com/cockroachdb/cascades/pkg/sql/opt/memo"
	"github.com/cockroachdb/cascades/pkg/sql/opt/props/physical"
	"golang.org/x/sync/errgroup"
)

// BatchQuery is one query of a batch. Every query needs its own metadata;
// the snapshot may be shared.
type BatchQuery struct {
	Snapshot *cat.Snapshot
	Metadata *opt.Metadata
	Root     *memo.Expr
	Required *physical.Required
}

// BatchResult is the outcome of the optimization of one query of a batch.
type BatchResult struct {
	Plan *exec.Plan
	Err  error
}

// OptimizeBatch optimizes independent queries in parallel, running at most
// concurrency optimizations at a time (no limit if concurrency <= 0). The
// failure of one query does not affect the others. The returned error is
// only set if ctx was canceled before every query started.
func OptimizeBatch(
	ctx context.Context, cfg Config, metrics *Metrics, queries []BatchQuery, concurrency int,
) ([]BatchResult, error) {
	results := make([]BatchResult, len(queries))
	g, gCtx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i := range queries {
		if err := gCtx.Err(); err != nil {
			break
		}
		g.Go(func() error {
			q := &queries[i]
			o := NewOptimizer(q.Snapshot, q.Metadata, cfg)
			o.SetMetrics(metrics)
			results[i].Plan, results[i].Err = o.Optimize(gCtx, q.Root, q.Required)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, ctx.Err()
}
