package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/joshuapare/binsleuth/config"
	"github.com/joshuapare/binsleuth/forest"
	"github.com/joshuapare/binsleuth/internal/logger"
	"github.com/joshuapare/binsleuth/pkg/types"
)

// tracerFlags are shared by the commands that run the tracer.
type tracerFlags struct {
	tool        string
	tracer      string
	loader      string
	watchdog    time.Duration
	timeout     time.Duration
	maxConfirm  int
	trees       []string
	cacheDir    string
	concurrency int
}

var tflags tracerFlags

func addTreeFlag(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&tflags.trees, "tree", nil, "Tree artifacts as DESCRIPTORS,PROBES (repeatable)")
}

func addTracerFlags(cmd *cobra.Command) {
	addTreeFlag(cmd)
	f := cmd.Flags()
	f.StringVar(&tflags.tool, "tool", "", "Path to the pin launcher")
	f.StringVar(&tflags.tracer, "tracer", "", "Path to the tracer pintool")
	f.StringVar(&tflags.loader, "loader", "", "Loader used to drive shared objects")
	f.DurationVar(&tflags.watchdog, "watchdog", 0, "Bound on each tracer reply")
	f.DurationVar(&tflags.timeout, "timeout", 0, "Bound on each tracer process's runtime (default one second past --watchdog)")
	f.IntVar(&tflags.maxConfirm, "max-confirm", 0, "Probes used to confirm a leaf")
}

// env is what a command needs once flags and the config file are merged.
type env struct {
	cfg     config.Config
	log     *slog.Logger
	closers []func() error
}

func (e *env) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		errs = append(errs, e.closers[i]())
	}
	return errors.Join(errs...)
}

// loadEnv reads the configuration file, applies the flags cmd set on top of
// it, and starts logging and the metrics endpoint.
func loadEnv(cmd *cobra.Command) (*env, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return nil, err
		}
	}
	if err := applyFlags(cmd, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := cfg.Logging()
	if verbose {
		opts.Enabled = true
		opts.Level = slog.LevelDebug
	}
	log, closer, err := logger.New(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	e := &env{cfg: cfg, log: log, closers: []func() error{closer.Close}}

	if cfg.MetricsAddr != "" {
		e.closers = append(e.closers, serveMetrics(cfg.MetricsAddr, log))
	}
	return e, nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	set := func(name string, apply func()) {
		if fl := f.Lookup(name); fl != nil && fl.Changed {
			apply()
		}
	}
	set("log-dir", func() { cfg.Log.Enabled, cfg.Log.Dir = true, logDir })
	set("log-level", func() { cfg.Log.Enabled, cfg.Log.Level = true, logLevel })
	set("metrics-addr", func() { cfg.MetricsAddr = metricsAddr })
	set("tool", func() { cfg.Tool = tflags.tool })
	set("tracer", func() { cfg.Tracer = tflags.tracer })
	set("loader", func() { cfg.Loader = tflags.loader })
	set("watchdog", func() { cfg.Watchdog = tflags.watchdog })
	set("timeout", func() { cfg.ProcessTimeout = tflags.timeout })
	set("max-confirm", func() { cfg.MaxConfirm = tflags.maxConfirm })
	set("cache-dir", func() { cfg.CacheDir = tflags.cacheDir })
	set("concurrency", func() { cfg.Concurrency = tflags.concurrency })

	if fl := f.Lookup("tree"); fl != nil && fl.Changed {
		cfg.Trees = cfg.Trees[:0:0]
		for _, arg := range tflags.trees {
			desc, probes, ok := strings.Cut(arg, ",")
			if !ok || desc == "" || probes == "" {
				return types.Errorf(types.ErrKindConfig, "--tree %q: want DESCRIPTORS,PROBES", arg)
			}
			cfg.Trees = append(cfg.Trees, config.Tree{Descriptors: desc, Probes: probes})
		}
	}
	return nil
}

// openForest loads every configured tree in order.
func (e *env) openForest() (*forest.Forest, error) {
	if len(e.cfg.Trees) == 0 {
		return nil, types.Errorf(types.ErrKindConfig, "no trees configured (use --tree or a config file)")
	}
	f := forest.New(forest.WithLogger(e.log))
	for _, t := range e.cfg.Trees {
		printVerbose("Loading tree: %s, %s\n", t.Descriptors, t.Probes)
		if err := f.AddTree(t.Descriptors, t.Probes); err != nil {
			return nil, fmt.Errorf("failed to load tree %s: %w", t.Descriptors, err)
		}
	}
	return f, nil
}

// identifyConfig is the per-function configuration for f.Identify.
func (e *env) identifyConfig() forest.IdentifyConfig {
	ic := e.cfg.Identify()
	ic.Session.Logger = e.log
	if verbose {
		ic.Session.Stderr = os.Stderr
	}
	return ic
}

func serveMetrics(addr string, log *slog.Logger) func() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "err", err)
		}
	}()
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
