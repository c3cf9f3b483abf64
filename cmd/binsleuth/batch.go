package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/joshuapare/binsleuth/elfsym"
	"github.com/joshuapare/binsleuth/forest"
	"github.com/joshuapare/binsleuth/store"
)

var (
	batchMatch   string
	batchRefresh bool
)

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch <binary>",
		Short: "Identify every function of a binary",
		Long: `The batch command identifies each function symbol of a binary, running
several tracers at once. With a cache directory, results are stored per
forest and reused on later runs against the same trees.

Example:
  binsleuth batch -c binsleuth.yaml ./libfoo.so
  binsleuth batch -c binsleuth.yaml --match '^str' --concurrency 8 ./a.out`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, args)
		},
	}
	addTracerFlags(cmd)
	cmd.Flags().StringVar(&tflags.cacheDir, "cache-dir", "", "Cache results in this directory")
	cmd.Flags().IntVar(&tflags.concurrency, "concurrency", 0, "Tracers run at once")
	cmd.Flags().StringVar(&batchMatch, "match", "", "Only functions whose name matches this regexp")
	cmd.Flags().BoolVar(&batchRefresh, "refresh", false, "Ignore cached results")
	return cmd
}

func runBatch(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	syms, err := elfsym.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to read symbols: %w", err)
	}
	if batchMatch != "" {
		re, err := regexp.Compile(batchMatch)
		if err != nil {
			return fmt.Errorf("bad --match: %w", err)
		}
		syms = elfsym.Filter(syms, func(s elfsym.Symbol) bool { return re.MatchString(s.Name) })
	}

	f, err := e.openForest()
	if err != nil {
		return err
	}

	var (
		cache    *store.Store
		forestID string
	)
	if e.cfg.CacheDir != "" {
		paths := make([]string, 0, 2*len(e.cfg.Trees))
		for _, t := range e.cfg.Trees {
			paths = append(paths, t.Descriptors, t.Probes)
		}
		if forestID, err = store.Fingerprint(paths...); err != nil {
			return fmt.Errorf("failed to fingerprint trees: %w", err)
		}
		if cache, err = store.Open(store.Config{Path: e.cfg.CacheDir, Logger: e.log}); err != nil {
			return err
		}
		defer cache.Close()
		printVerbose("Using cache %s (forest %s)\n", e.cfg.CacheDir, forestID)
	}

	// Tracers running side by side each get their own working directory.
	scratch, err := os.MkdirTemp("", "binsleuth-batch-")
	if err != nil {
		return fmt.Errorf("failed to create work directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	ic := e.identifyConfig()
	results := make([]identification, len(syms))
	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(e.cfg.Concurrency)
	for i, s := range syms {
		g.Go(func() error {
			res := identification{Function: s.FunctionDescriptor}
			if cache != nil && !batchRefresh {
				r, ok, err := cache.Get(forestID, s.FunctionDescriptor)
				if err != nil {
					return err
				}
				if ok {
					res.Node, res.Classes, res.Cached = forest.NodeIndex(r.Node), r.Classes, true
					res.Known = res.Node != forest.Unknown
					results[i] = res
					return nil
				}
			}

			run := ic
			run.RunID = uuid.NewString()
			dir := filepath.Join(scratch, run.RunID)
			if err := os.Mkdir(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create work directory: %w", err)
			}
			defer os.RemoveAll(dir)
			run.Session = run.Session.InDir(dir)

			idx, err := f.Identify(ctx, s.FunctionDescriptor, run)
			if err != nil {
				res.Node, res.Error = forest.Unknown, err.Error()
				results[i] = res
				return nil
			}
			res.Node, res.Known = idx, idx != forest.Unknown
			if res.Known {
				if res.Classes, err = f.EquivClasses(idx); err != nil {
					return err
				}
			}
			results[i] = res
			if ctx.Err() != nil || cache == nil {
				return nil
			}
			return cache.Put(forestID, store.Result{
				Function:     s.FunctionDescriptor,
				Node:         int(idx),
				Classes:      res.Classes,
				RunID:        run.RunID,
				IdentifiedAt: time.Now().UTC(),
			})
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := cmd.Context().Err(); err != nil {
		return err
	}

	if jsonOut {
		return printJSON(results)
	}
	var known, cached, failed int
	for _, r := range results {
		printIdentification(r)
		switch {
		case r.Error != "":
			failed++
		case r.Known:
			known++
		}
		if r.Cached {
			cached++
		}
	}
	printInfo("\n%d functions: %d identified, %d unknown, %d failed (%d from cache)\n",
		len(results), known, len(results)-known-failed, failed, cached)
	return nil
}
