package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose     bool
	quiet       bool
	jsonOut     bool
	configPath  string
	logDir      string
	logLevel    string
	metricsAddr string
)

// newRootCmd builds the command tree. Flag definitions reset the globals
// they bind to, so every call starts from defaults.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "binsleuth",
		Short: "Identify functions in binaries by how they behave",
		Long: `binsleuth identifies functions in stripped or unfamiliar binaries. It
walks a forest of decision trees, running the candidate function under a
dynamic tracer with recorded execution contexts and following the branch
each observation selects.

Trees come from the configuration file (--config) or from --tree flags.`,
		Version:       "0.1.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output and debug logging to stderr")
	root.PersistentFlags().
		BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	root.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Configuration file (YAML)")
	root.PersistentFlags().StringVar(&logDir, "log-dir", "", "Write JSON logs to daily files in this directory")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Minimum log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	root.AddCommand(
		newIdentifyCmd(),
		newBatchCmd(),
		newForestCmd(),
		newIovecCmd(),
		newSymbolsCmd(),
		newVersionCmd(),
	)
	return root
}

func execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		printError("%v\n", err)
		os.Exit(1)
	}
}

// Helper functions for output

// printInfo prints an info message if not in quiet mode
func printInfo(format string, args ...interface{}) {
	if !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printError prints an error message
func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format, args...)
}

// printVerbose prints a verbose message if verbose mode is enabled
func printVerbose(format string, args ...interface{}) {
	if verbose && !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printJSON outputs data as JSON
func printJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
