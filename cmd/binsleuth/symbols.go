package main

import (
	"fmt"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/joshuapare/binsleuth/elfsym"
)

var (
	symbolsMatch   string
	symbolsDynamic bool
)

func newSymbolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "symbols <binary>",
		Short: "List the function symbols of an ELF binary",
		Long: `The symbols command lists the functions binsleuth would consider in a
binary, with their address, size and recognized entry sequence.

Example:
  binsleuth symbols ./a.out
  binsleuth symbols --dynamic --match '^mem' /lib/x86_64-linux-gnu/libc.so.6`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSymbols(args)
		},
	}
	cmd.Flags().StringVar(&symbolsMatch, "match", "", "Only names matching this regexp")
	cmd.Flags().BoolVar(&symbolsDynamic, "dynamic", false, "Only dynamic symbols")
	return cmd
}

func runSymbols(args []string) error {
	syms, err := elfsym.Open(args[0])
	if err != nil {
		return err
	}
	var re *regexp.Regexp
	if symbolsMatch != "" {
		if re, err = regexp.Compile(symbolsMatch); err != nil {
			return fmt.Errorf("bad --match: %w", err)
		}
	}
	syms = elfsym.Filter(syms, func(s elfsym.Symbol) bool {
		return (!symbolsDynamic || s.Dynamic) && (re == nil || re.MatchString(s.Name))
	})

	if jsonOut {
		return printJSON(syms)
	}
	for _, s := range syms {
		printInfo("%#016x %8d  %-24s %s\n", s.Location, s.Size, s.Prologue, s.Name)
	}
	printVerbose("%d functions\n", len(syms))
	return nil
}
