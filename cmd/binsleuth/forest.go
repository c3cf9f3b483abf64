package main

import (
	"github.com/spf13/cobra"

	"github.com/joshuapare/binsleuth/forest"
	"github.com/joshuapare/binsleuth/pkg/types"
)

var forestLeaves bool

func newForestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forest",
		Short: "Show statistics of the configured forest",
		Long: `The forest command loads the configured trees and reports their sizes.
With --leaves it also lists the functions each leaf stands for.

Example:
  binsleuth forest -c binsleuth.yaml
  binsleuth forest --tree t0.yaml,t0.probes --leaves --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runForest(cmd)
		},
	}
	addTreeFlag(cmd)
	cmd.Flags().BoolVar(&forestLeaves, "leaves", false, "List the functions of every leaf")
	return cmd
}

type forestReport struct {
	forest.Stats
	LeafClasses [][]types.DescriptorEntry `json:"leaf_classes,omitempty"`
}

func runForest(cmd *cobra.Command) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	f, err := e.openForest()
	if err != nil {
		return err
	}
	rep := forestReport{Stats: f.Stats()}
	if forestLeaves {
		rep.LeafClasses = f.AllEquivClasses()
	}

	if jsonOut {
		return printJSON(rep)
	}

	printInfo("\nForest:\n")
	printInfo("  Trees: %d\n", len(rep.Trees))
	printInfo("  Nodes: %d\n", rep.Nodes)
	printInfo("  Leaves: %d\n", rep.Leaves)
	printInfo("  Functions: %d\n", rep.Functions)
	printInfo("  Grafts: %d\n", rep.Grafts)
	for i, t := range rep.Trees {
		printInfo("\n  Tree %d (base %d):\n", i, t.Base)
		printInfo("    Nodes: %d, leaves: %d\n", t.Nodes, t.Leaves)
		printInfo("    Behaviors: %d, probes: %d, functions: %d\n", t.Labels, t.Probes, t.Functions)
	}
	for i, leaf := range rep.LeafClasses {
		printInfo("\nLeaf %d:\n", i)
		for _, c := range leaf {
			printInfo("  %s\n", c.Desc)
		}
	}
	return nil
}
