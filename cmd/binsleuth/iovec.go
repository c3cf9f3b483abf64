package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joshuapare/binsleuth/artifact"
	"github.com/joshuapare/binsleuth/iovec"
)

var iovecProbes bool

func newIovecCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "iovec <file>",
		Short: "Decode a file of execution contexts",
		Long: `The iovec command decodes the execution contexts in a file written by the
tracer (-ctx-out) or, with --probes, a tree's probe map.

Example:
  binsleuth iovec contexts.bin
  binsleuth iovec --probes trees/0.probes --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIovec(args)
		},
	}
	cmd.Flags().BoolVar(&iovecProbes, "probes", false, "Read a probe map instead of a context stream")
	return cmd
}

type contextSummary struct {
	Hash        string   `json:"hash"`
	Registers   []uint64 `json:"registers"`
	ReturnValue byte     `json:"return_value"`
	Areas       int      `json:"areas"`
	Syscalls    []uint64 `json:"syscalls"`
	Size        int      `json:"size"`
}

func summarize(c *iovec.Context) contextSummary {
	regs := c.Registers()
	return contextSummary{
		Hash:        c.Hexdigest(),
		Registers:   regs[:],
		ReturnValue: c.ReturnValue(),
		Areas:       len(c.Areas()),
		Syscalls:    c.Syscalls(),
		Size:        c.SizeInBytes(),
	}
}

func runIovec(args []string) error {
	ctxs, err := readContexts(args[0])
	if err != nil {
		return err
	}

	if jsonOut {
		out := make([]contextSummary, len(ctxs))
		for i, c := range ctxs {
			out[i] = summarize(c)
		}
		return printJSON(out)
	}
	for _, c := range ctxs {
		printInfo("%s %s\n", c.Hexdigest(), c)
	}
	printVerbose("%d contexts\n", len(ctxs))
	return nil
}

func readContexts(path string) ([]*iovec.Context, error) {
	if iovecProbes {
		m, err := artifact.LoadProbeMap(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load probe map: %w", err)
		}
		out := make([]*iovec.Context, 0, len(m))
		for _, h := range m.Hashes() {
			out = append(out, m[h])
		}
		return out, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	ctxs, err := iovec.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return ctxs, nil
}
