package session

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joshuapare/binsleuth/pkg/types"
)

// DefaultWatchdog bounds a single protocol wait when none is given.
const DefaultWatchdog = time.Second

// Config describes one tracer invocation. It is copied by New and never
// changed afterwards; retargeting means building a new Session.
type Config struct {
	ToolPath   string // pin launcher
	TracerPath string // pintool shared object
	BinaryPath string // program or shared object under test
	LoaderPath string // required when BinaryPath is a shared object

	// Target selects the function on the command line: an address ("0x..."),
	// or a symbol name for shared objects.
	Target string

	Dir       string // working directory; empty inherits ours
	FuzzCount *int
	// Watchdog is forwarded to the tracer and used as the default wait for
	// commands. The tracer flag carries whole milliseconds.
	Watchdog    time.Duration
	LogPath     string
	ContextsIn  string
	ContextsOut string

	Env    []string  // appended to the inherited environment
	Stderr io.Writer // tracer stderr; nil discards
	Logger *slog.Logger
}

// Shared reports whether the binary is a shared object and must be driven
// through a loader.
func (c Config) Shared() bool {
	return filepath.Ext(c.BinaryPath) == ".so"
}

// InDir returns a copy of c that runs the tracer in dir with the files it
// writes (log and captured contexts) moved there under their base names.
// ContextsIn is only read and stays where it is.
func (c Config) InDir(dir string) Config {
	c.Dir = dir
	if c.LogPath != "" {
		c.LogPath = filepath.Join(dir, filepath.Base(c.LogPath))
	}
	if c.ContextsOut != "" {
		c.ContextsOut = filepath.Join(dir, filepath.Base(c.ContextsOut))
	}
	return c
}

// Validate checks the fields Args depends on.
func (c Config) Validate() error {
	switch {
	case c.ToolPath == "":
		return types.Errorf(types.ErrKindConfig, "session: tool path is empty")
	case c.TracerPath == "":
		return types.Errorf(types.ErrKindConfig, "session: tracer path is empty")
	case c.BinaryPath == "":
		return types.Errorf(types.ErrKindConfig, "session: binary path is empty")
	case c.Target == "":
		return types.Errorf(types.ErrKindConfig, "session: target is empty")
	case c.Shared() && c.LoaderPath == "":
		return types.Errorf(types.ErrKindConfig, "session: %s is a shared object and needs a loader", c.BinaryPath)
	case c.Watchdog < 0:
		return types.Errorf(types.ErrKindConfig, "session: negative watchdog %s", c.Watchdog)
	case c.FuzzCount != nil && *c.FuzzCount < 0:
		return types.Errorf(types.ErrKindConfig, "session: negative fuzz count %d", *c.FuzzCount)
	}
	return nil
}

// Args builds the tracer argv. The result depends only on the config and
// the current directory (paths are made absolute):
//
//	tool -t tracer [-fuzz-count N] [-watchdog MS] [-out LOG] [-contexts IN]
//	    [-ctx-out OUT] (-shared-func|-target) TARGET -- [loader] binary
func (c Config) Args() ([]string, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	abs := func(p string) (string, error) {
		a, err := filepath.Abs(p)
		if err != nil {
			return "", fmt.Errorf("session: resolve %s: %w", p, err)
		}
		return a, nil
	}

	var paths struct{ tool, tracer, binary, loader, log, in, out string }
	for _, f := range []struct {
		dst *string
		src string
	}{
		{&paths.tool, c.ToolPath},
		{&paths.tracer, c.TracerPath},
		{&paths.binary, c.BinaryPath},
		{&paths.loader, c.LoaderPath},
		{&paths.log, c.LogPath},
		{&paths.in, c.ContextsIn},
		{&paths.out, c.ContextsOut},
	} {
		if f.src == "" {
			continue
		}
		a, err := abs(f.src)
		if err != nil {
			return nil, err
		}
		*f.dst = a
	}

	args := []string{paths.tool, "-t", paths.tracer}
	if c.FuzzCount != nil {
		args = append(args, "-fuzz-count", strconv.Itoa(*c.FuzzCount))
	}
	if c.Watchdog > 0 {
		args = append(args, "-watchdog", strconv.FormatInt(c.Watchdog.Milliseconds(), 10))
	}
	if paths.log != "" {
		args = append(args, "-out", paths.log)
	}
	if paths.in != "" {
		args = append(args, "-contexts", paths.in)
	}
	if paths.out != "" {
		args = append(args, "-ctx-out", paths.out)
	}
	if c.Shared() {
		args = append(args, "-shared-func")
	} else {
		args = append(args, "-target")
	}
	args = append(args, NormalizeTarget(c.Target), "--")
	if c.Shared() {
		args = append(args, paths.loader)
	}
	return append(args, paths.binary), nil
}

// NormalizeTarget rewrites a 0x-prefixed address into canonical lowercase
// form. Anything else is taken as a symbol name and returned unchanged, so a
// function called "add" is never mistaken for address 0xadd.
func NormalizeTarget(target string) string {
	if len(target) < 3 || !strings.EqualFold(target[:2], "0x") {
		return target
	}
	v, err := strconv.ParseUint(target[2:], 16, 64)
	if err != nil {
		return target
	}
	return "0x" + strconv.FormatUint(v, 16)
}

// AddressTarget formats a location for SET_TGT and the -target flag.
func AddressTarget(loc uint64) string {
	return "0x" + strconv.FormatUint(loc, 16)
}
