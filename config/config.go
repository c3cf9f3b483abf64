// Package config loads the binsleuth YAML configuration file.
//
// A minimal file:
//
//	tool: /opt/pin/pin
//	tracer: /opt/binsleuth/tracer.so
//	watchdog: 500ms
//	trees:
//	  - descriptors: trees/0.desc.yaml
//	    probes: trees/0.probes
//
// Relative artifact and cache paths are resolved against the directory of the
// file. Command-line flags override what the file sets.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/joshuapare/binsleuth/forest"
	"github.com/joshuapare/binsleuth/internal/logger"
	"github.com/joshuapare/binsleuth/pkg/types"
	"github.com/joshuapare/binsleuth/session"
)

// Config is the decoded configuration file.
type Config struct {
	Tool   string `yaml:"tool"`
	Tracer string `yaml:"tracer"`
	Loader string `yaml:"loader,omitempty"`

	Watchdog       time.Duration `yaml:"watchdog" validate:"gte=0"`
	ProcessTimeout time.Duration `yaml:"process_timeout" validate:"gte=0"`
	MaxConfirm     int           `yaml:"max_confirm" validate:"gte=0,lte=64"`
	FuzzCount      *int          `yaml:"fuzz_count,omitempty" validate:"omitempty,gte=0"`

	Trees []Tree `yaml:"trees" validate:"dive"`

	CacheDir    string `yaml:"cache_dir,omitempty"`
	Concurrency int    `yaml:"concurrency" validate:"gte=1,lte=256"`
	MetricsAddr string `yaml:"metrics_addr,omitempty" validate:"omitempty,hostname_port"`

	Log Log `yaml:"log"`
}

// Tree names the two training artifacts of one decision tree.
type Tree struct {
	Descriptors string `yaml:"descriptors" validate:"required"`
	Probes      string `yaml:"probes" validate:"required"`
}

// Log configures internal/logger.
type Log struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir,omitempty"`
	Level   string `yaml:"level,omitempty" validate:"omitempty,oneof=debug info warn error DEBUG INFO WARN ERROR"`
}

var validate = validator.New()

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Watchdog:    forest.DefaultWatchdog,
		MaxConfirm:  forest.DefaultMaxConfirm,
		Concurrency: 4,
		Log:         Log{Level: "info"},
	}
}

// Load reads path over Default. Unknown keys are rejected.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, types.Errorf(types.ErrKindNotFound, "config %s: %w", path, err)
		}
		return Config{}, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	cfg.resolve(filepath.Dir(path))
	return cfg, nil
}

// Parse decodes and validates a configuration document. Paths are left as
// written.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, types.Errorf(types.ErrKindConfig, "config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return types.Errorf(types.ErrKindConfig, "config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("%s fails %q (%s)", fe.Namespace(), fe.Tag(), fe.Param())
		}
		msgs = append(msgs, msg)
	}
	return types.Errorf(types.ErrKindConfig, "config: %s", strings.Join(msgs, "; "))
}

func (c *Config) resolve(dir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	for i := range c.Trees {
		c.Trees[i].Descriptors = abs(c.Trees[i].Descriptors)
		c.Trees[i].Probes = abs(c.Trees[i].Probes)
	}
	c.CacheDir = abs(c.CacheDir)
	c.Log.Dir = abs(c.Log.Dir)
}

// Runtime is the bound on each tracer process. An unset process_timeout
// follows the watchdog so a later watchdog override moves it too.
func (c Config) Runtime() time.Duration {
	if c.ProcessTimeout > 0 {
		return c.ProcessTimeout
	}
	watchdog := c.Watchdog
	if watchdog <= 0 {
		watchdog = forest.DefaultWatchdog
	}
	return forest.DefaultProcessTimeout(watchdog)
}

// Identify returns the per-call identification settings. The binary and
// target are filled in per function by forest.Identify.
func (c Config) Identify() forest.IdentifyConfig {
	return forest.IdentifyConfig{
		Session: session.Config{
			ToolPath:   c.Tool,
			TracerPath: c.Tracer,
			LoaderPath: c.Loader,
			FuzzCount:  c.FuzzCount,
			Watchdog:   c.Watchdog,
		},
		MaxConfirm:     c.MaxConfirm,
		Watchdog:       c.Watchdog,
		ProcessTimeout: c.Runtime(),
	}
}

// Logging returns the logger options.
func (c Config) Logging() logger.Options {
	return logger.Options{
		Enabled: c.Log.Enabled,
		LogDir:  c.Log.Dir,
		Level:   logger.ParseLevel(c.Log.Level),
	}
}
