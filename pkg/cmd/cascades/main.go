// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// cascades optimizes queries written as s-expressions against a catalog
// described in YAML, and prints their plans.
package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var rootFlags = pflag.NewFlagSet(`cascades`, pflag.ExitOnError)
var catalogPath = rootFlags.String("catalog", "", "YAML file describing the tables and materialized views")
var configPath = rootFlags.String("config", "", "YAML file with optimizer settings")
var verbosity = rootFlags.Int32P("verbosity", "v", 0, "log verbosity of the optimizer")
var singleNode = rootFlags.Bool("single-node", false, "plan for a single execution node")
var disabledRules = rootFlags.StringSlice("disable", nil, "rules that never fire")

var rootCmd = &cobra.Command{
	Use:          "cascades",
	Short:        "Cost-based plan search over a catalog of tables",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().AddFlagSet(rootFlags)
	rootCmd.AddCommand(planCmd, memoCmd, rulesCmd, gistCmd, batchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra has already printed the error message.
		os.Exit(1)
	}
}
