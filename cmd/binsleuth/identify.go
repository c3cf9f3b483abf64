package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joshuapare/binsleuth/elfsym"
	"github.com/joshuapare/binsleuth/forest"
	"github.com/joshuapare/binsleuth/pkg/types"
)

func newIdentifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identify <binary> <function>",
		Short: "Identify one function of a binary",
		Long: `The identify command runs one function under the tracer and walks the
forest to the leaf its behavior selects. The function is a symbol name or a
0x-prefixed address; addresses need not have a symbol.

Example:
  binsleuth identify -c binsleuth.yaml ./a.out my_strlen
  binsleuth identify --tree t0.yaml,t0.probes --tool pin --tracer tracer.so ./a.out 0x401130`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIdentify(cmd, args)
		},
	}
	addTracerFlags(cmd)
	return cmd
}

// identification is the printed result of one Identify call.
type identification struct {
	Function types.FunctionDescriptor `json:"function"`
	Node     forest.NodeIndex         `json:"node"`
	Known    bool                     `json:"known"`
	Classes  []types.DescriptorEntry  `json:"classes,omitempty"`
	Cached   bool                     `json:"cached,omitempty"`
	Error    string                   `json:"error,omitempty"`
}

func runIdentify(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	desc, err := resolveFunction(args[0], args[1])
	if err != nil {
		return err
	}
	f, err := e.openForest()
	if err != nil {
		return err
	}

	printVerbose("Identifying %s\n", desc)
	idx, err := f.Identify(cmd.Context(), desc, e.identifyConfig())
	if err != nil {
		return fmt.Errorf("failed to identify %s: %w", desc.Name, err)
	}
	res := identification{Function: desc, Node: idx, Known: idx != forest.Unknown}
	if res.Known {
		if res.Classes, err = f.EquivClasses(idx); err != nil {
			return err
		}
	}

	if jsonOut {
		return printJSON(res)
	}
	printIdentification(res)
	return nil
}

func printIdentification(res identification) {
	name := res.Function.Name
	if name == "" {
		name = "<unnamed>"
	}
	switch {
	case res.Error != "":
		printInfo("%#x %s: error: %s\n", res.Function.Location, name, res.Error)
	case !res.Known:
		printInfo("%#x %s: unknown\n", res.Function.Location, name)
	default:
		printInfo("%#x %s: node %d\n", res.Function.Location, name, res.Node)
		for _, c := range res.Classes {
			printInfo("  %s (coverage %.2f)\n", c.Desc, float64(c.Coverage))
		}
	}
}

// resolveFunction turns a symbol name or 0x address into a descriptor of
// binary. Addresses fall back to an unnamed descriptor when no symbol sits
// there.
func resolveFunction(binary, which string) (types.FunctionDescriptor, error) {
	abs, err := filepath.Abs(binary)
	if err != nil {
		return types.FunctionDescriptor{}, err
	}
	syms, symErr := elfsym.Open(abs)

	if strings.HasPrefix(which, "0x") || strings.HasPrefix(which, "0X") {
		loc, err := strconv.ParseUint(which[2:], 16, 64)
		if err != nil {
			return types.FunctionDescriptor{}, types.Errorf(types.ErrKindConfig, "bad address %q: %w", which, err)
		}
		for _, s := range syms {
			if s.Location == loc {
				return s.FunctionDescriptor, nil
			}
		}
		if errors.Is(symErr, types.ErrNotFound) {
			return types.FunctionDescriptor{}, symErr
		}
		return types.FunctionDescriptor{Location: loc, Binary: abs}, nil
	}

	if symErr != nil {
		return types.FunctionDescriptor{}, fmt.Errorf("failed to read symbols: %w", symErr)
	}
	for _, s := range syms {
		if s.Name == which {
			return s.FunctionDescriptor, nil
		}
	}
	return types.FunctionDescriptor{}, types.Errorf(types.ErrKindNotFound, "no function %q in %s", which, abs)
}
