// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/cascades/pkg/sql/opt"
	"github.com/cockroachdb/cascades/pkg/sql/opt/cat"
	"github.com/cockroachdb/cascades/pkg/sql/opt/exec"
	"github.com/cockroachdb/cascades/pkg/sql/opt/exec/explain"
	"github.com/cockroachdb/cascades/pkg/sql/opt/memo"
	"github.com/cockroachdb/cascades/pkg/sql/opt/optbuilder"
	"github.com/cockroachdb/cascades/pkg/sql/opt/props/physical"
	"github.com/cockroachdb/cascades/pkg/sql/opt/testutils/testcat"
	"github.com/cockroachdb/cascades/pkg/sql/opt/xform"
	"github.com/cockroachdb/cascades/pkg/util/humanizeutil"
	"github.com/cockroachdb/cascades/pkg/util/log"
	"github.com/cockroachdb/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	explainOptions []string
	ordering       string
	memoStats      bool
	memoFired      bool
	topRules       int
	concurrency    int
)

var planCmd = &cobra.Command{
	Use:   "plan [query file]",
	Short: "Print the best plan of a query read from a file or stdin",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags, err := explain.ParseFlags(explainOptions...)
		if err != nil {
			return err
		}
		o, plan, elapsed, err := optimizeQuery(cmd.Context(), args)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprint(out, explain.Emit(plan, flags))
		fmt.Fprintf(out, "optimized in %s: %d tasks, %d groups\n",
			humanizeutil.Duration(elapsed), o.TaskCount(), o.Memo().GroupCount())
		return nil
	},
}

var memoCmd = &cobra.Command{
	Use:   "memo [query file]",
	Short: "Print the memo after optimizing a query",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o, _, _, err := optimizeQuery(cmd.Context(), args)
		if o == nil {
			return err
		}
		fmtFlags := memo.FmtWinners
		if memoStats {
			fmtFlags |= memo.FmtStats
		}
		if memoFired {
			fmtFlags |= memo.FmtFired
		}
		fmt.Fprint(cmd.OutOrStdout(), o.FormatMemo(fmtFlags))
		return err
	},
}

var gistCmd = &cobra.Command{
	Use:   "gist [query file | gist]",
	Short: "Print the gist of the best plan of a query, or decode a gist",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			if _, err := os.Stat(args[0]); err != nil {
				out, err := explain.DecodeGist(args[0])
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), out)
				return nil
			}
		}
		_, plan, _, err := optimizeQuery(cmd.Context(), args)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\nfingerprint: %016x\n",
			explain.Gist(plan), explain.Fingerprint(plan, true))
		return nil
	},
}

var rulesCmd = &cobra.Command{
	Use:   "rules [query file]",
	Short: "List the rules, or the rule activity of the optimization of a query",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if len(args) == 0 {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			writeRules(out, xform.DefaultCatalog(), &cfg)
			return nil
		}
		o, _, _, err := optimizeQuery(cmd.Context(), args)
		if o == nil {
			return err
		}
		explain.WriteRuleStats(out, o.RuleStats(), topRules)
		for _, d := range o.Diagnostics() {
			fmt.Fprintf(out, "%s on e%d: %v\n", d.Rule, d.Expr, d.Err)
		}
		return err
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch query-file...",
	Short: "Optimize several queries in parallel and summarize their plans",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		snap, cfg, err := setup(ctx)
		if err != nil {
			return err
		}
		queries := make([]xform.BatchQuery, len(args))
		for i, path := range args {
			src, err := os.ReadFile(path)
			if err != nil {
				return errors.Wrapf(err, "reading %s", path)
			}
			md := &opt.Metadata{}
			root, err := optbuilder.New(snap, md).Build(string(src))
			if err != nil {
				return errors.Wrapf(err, "building %s", path)
			}
			queries[i] = xform.BatchQuery{Snapshot: snap, Metadata: md, Root: root}
		}

		start := time.Now()
		results, err := xform.OptimizeBatch(ctx, cfg, nil, queries, concurrency)
		if err != nil {
			return err
		}
		elapsed := time.Since(start)

		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.SetAutoFormatHeaders(false)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.SetHeader([]string{"query", "cost", "rows", "gist", "error"})
		failed := 0
		for i, r := range results {
			if r.Err != nil {
				failed++
				table.Append([]string{args[i], "", "", "", r.Err.Error()})
				continue
			}
			table.Append([]string{
				args[i], r.Plan.Cost.String(), humanizeutil.Count(r.Plan.Root.Rows), explain.Gist(r.Plan), "",
			})
		}
		table.Render()
		fmt.Fprintf(cmd.OutOrStdout(), "%d queries in %s, %d failed\n",
			len(results), humanizeutil.Duration(elapsed), failed)
		if failed > 0 {
			return errors.Newf("%d of %d queries failed", failed, len(results))
		}
		return nil
	},
}

func init() {
	planCmd.Flags().StringSliceVar(&explainOptions, "format", nil,
		"explain options: verbose, types, shape, hide-rows, hide-cost, deflake")
	for _, c := range []*cobra.Command{planCmd, memoCmd, gistCmd, rulesCmd} {
		c.Flags().StringVar(&ordering, "ordering", "", "required ordering of the result, such as +a,-b")
	}
	memoCmd.Flags().BoolVar(&memoStats, "stats", false, "show group statistics")
	memoCmd.Flags().BoolVar(&memoFired, "fired", false, "show the rules fired on each expression")
	rulesCmd.Flags().IntVar(&topRules, "top", 0, "only list the most active rules")
	batchCmd.Flags().IntVar(&concurrency, "concurrency", 4, "number of queries optimized at once")
}

// loadConfig reads the optimizer configuration and applies the flags.
func loadConfig() (xform.Config, error) {
	cfg := xform.DefaultConfig()
	if *configPath != "" {
		f, err := os.Open(*configPath)
		if err != nil {
			return xform.Config{}, errors.Wrap(err, "opening config")
		}
		defer f.Close()
		if cfg, err = xform.LoadConfig(f); err != nil {
			return xform.Config{}, err
		}
	}
	if *singleNode {
		cfg.SingleNode = true
	}
	cfg.DisabledRules = append(cfg.DisabledRules, *disabledRules...)
	return cfg, cfg.Validate()
}

// setup loads the catalog and the configuration named by the flags.
func setup(ctx context.Context) (*cat.Snapshot, xform.Config, error) {
	log.SetVerbosity(*verbosity)
	cfg, err := loadConfig()
	if err != nil {
		return nil, xform.Config{}, err
	}
	if *catalogPath == "" {
		return nil, xform.Config{}, errors.WithHint(
			errors.New("no catalog"), "pass the tables with --catalog",
		)
	}
	f, err := os.Open(*catalogPath)
	if err != nil {
		return nil, xform.Config{}, errors.Wrap(err, "opening catalog")
	}
	defer f.Close()
	tc := testcat.New()
	if err := tc.LoadYAML(f); err != nil {
		return nil, xform.Config{}, err
	}
	snap, err := tc.Snapshot(ctx)
	if err != nil {
		return nil, xform.Config{}, err
	}
	return snap, cfg, nil
}

// readQuery reads the query from the file named by args, or from stdin.
func readQuery(args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		b, err := io.ReadAll(os.Stdin)
		return string(b), errors.Wrap(err, "reading query")
	}
	b, err := os.ReadFile(args[0])
	return string(b), errors.Wrapf(err, "reading %s", args[0])
}

// optimizeQuery builds and optimizes the query. The optimizer is returned
// even if the optimization failed, so that its memo can be inspected.
func optimizeQuery(
	ctx context.Context, args []string,
) (*xform.Optimizer, *exec.Plan, time.Duration, error) {
	snap, cfg, err := setup(ctx)
	if err != nil {
		return nil, nil, 0, err
	}
	src, err := readQuery(args)
	if err != nil {
		return nil, nil, 0, err
	}
	md := &opt.Metadata{}
	b := optbuilder.New(snap, md)
	root, err := b.Build(src)
	if err != nil {
		return nil, nil, 0, err
	}
	var required *physical.Required
	if ordering != "" {
		ord, err := b.ParseOrdering(ordering)
		if err != nil {
			return nil, nil, 0, err
		}
		required = &physical.Required{Distribution: physical.SingletonDist, Ordering: ord}
		if cfg.SingleNode {
			required.Distribution = physical.AnyDist
		}
	}

	o := xform.NewOptimizer(snap, md, cfg)
	start := time.Now()
	plan, err := o.Optimize(ctx, root, required)
	elapsed := time.Since(start)
	if err != nil {
		return o, nil, elapsed, err
	}
	if plan.Timedout {
		log.Warningf(ctx, "optimization timed out after %s", humanizeutil.Duration(elapsed))
	}
	return o, plan, elapsed, nil
}

// writeRules lists the rules of the catalog in the order they are tried.
func writeRules(w io.Writer, c *xform.RuleCatalog, cfg *xform.Config) {
	priority := make(map[string]int, len(cfg.RulePriority))
	for i, name := range cfg.RulePriority {
		if _, ok := priority[name]; !ok {
			priority[name] = i + 1
		}
	}
	table := tablewriter.NewWriter(w)
	table.SetAutoFormatHeaders(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader([]string{"#", "rule", "kind", "pattern", "status"})
	for i, r := range c.Rules() {
		status := "enabled"
		if cfg.RuleDisabled(r.Name) {
			status = "disabled"
		} else if p, ok := priority[r.Name.String()]; ok {
			status = "priority " + strconv.Itoa(p)
		}
		table.Append([]string{strconv.Itoa(i), r.Name.String(), r.Kind.String(), formatPattern(r.Pattern), status})
	}
	table.Render()
}

func formatPattern(p *xform.Pattern) string {
	if p == nil {
		return "*"
	}
	if len(p.Children) == 0 {
		return p.Op.String()
	}
	children := make([]string, len(p.Children))
	for i, c := range p.Children {
		children[i] = formatPattern(c)
	}
	return "(" + p.Op.String() + " " + strings.Join(children, " ") + ")"
}
