package testutil

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/joshuapare/binsleuth/internal/format"
	"github.com/joshuapare/binsleuth/iovec"
)

// Environment variables understood by the fake tracer.
const (
	EnvTracerMode = "BINSLEUTH_FAKE_TRACER"
	EnvAccept     = "BINSLEUTH_FAKE_ACCEPT"
	EnvArgvFile   = "BINSLEUTH_FAKE_ARGV"
	EnvWorkDirLog = "BINSLEUTH_FAKE_CWD"
)

// TracerMode selects how the fake tracer behaves.
type TracerMode string

const (
	// TracerNormal acknowledges every command and executes contexts whose
	// hash is in the accepted set successfully.
	TracerNormal TracerMode = "normal"
	// TracerSilent reads commands and never answers.
	TracerSilent TracerMode = "silent"
	// TracerNoResponse acknowledges commands but never completes them.
	TracerNoResponse TracerMode = "no-response"
	// TracerRejectTarget fails SET_TGT.
	TracerRejectTarget TracerMode = "reject-target"
	// TracerBadResponse answers every command with READY after the ack.
	TracerBadResponse TracerMode = "bad-response"
	// TracerCrash exits with status 3 on EXECUTE.
	TracerCrash TracerMode = "crash"
	// TracerAnswerThenExit behaves like TracerNormal but exits right after
	// completing the first EXECUTE.
	TracerAnswerThenExit TracerMode = "answer-then-exit"
)

// Wire types as the real tracer defines them.
const (
	tracerFail      = -1
	tracerOK        = 0
	tracerAck       = 1
	tracerSetTarget = 2
	tracerExit      = 3
	tracerExecute   = 5
	tracerSetCtx    = 6
	tracerReset     = 7
	tracerReady     = 8
)

// RunIfHelper turns the current process into a fake tracer when the
// environment asks for one, and never returns in that case. Call it first
// thing in TestMain so a test binary can stand in for pin:
//
//	func TestMain(m *testing.M) {
//		testutil.RunIfHelper()
//		os.Exit(m.Run())
//	}
func RunIfHelper() {
	mode := os.Getenv(EnvTracerMode)
	if mode == "" {
		return
	}
	if path := os.Getenv(EnvArgvFile); path != "" {
		if err := os.WriteFile(path, []byte(strings.Join(os.Args[1:], "\n")), 0o644); err != nil {
			fmt.Fprintln(os.Stderr, "fake tracer:", err)
			os.Exit(2)
		}
	}
	if path := os.Getenv(EnvWorkDirLog); path != "" {
		if err := appendWorkDir(path); err != nil {
			fmt.Fprintln(os.Stderr, "fake tracer:", err)
			os.Exit(2)
		}
	}
	accept, err := parseAccept(os.Getenv(EnvAccept))
	if err != nil {
		fmt.Fprintln(os.Stderr, "fake tracer:", err)
		os.Exit(2)
	}
	os.Exit(RunTracer(TracerMode(mode), os.Stdin, os.Stdout, accept))
}

// appendWorkDir adds the working directory as one line to path. Tracers
// running side by side share the file.
func appendWorkDir(path string) error {
	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(wd + "\n"); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// TracerExecutable returns the path of the running test binary.
func TracerExecutable(t testing.TB) string {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}
	return exe
}

// TracerEnv returns the environment that makes a re-executed test binary
// behave as a fake tracer accepting the given context hashes.
func TracerEnv(mode TracerMode, accepted ...uint64) []string {
	hashes := make([]string, len(accepted))
	for i, h := range accepted {
		hashes[i] = strconv.FormatUint(h, 16)
	}
	return []string{
		EnvTracerMode + "=" + string(mode),
		EnvAccept + "=" + strings.Join(hashes, ","),
	}
}

func parseAccept(s string) (map[uint64]bool, error) {
	accept := make(map[uint64]bool)
	if s == "" {
		return accept, nil
	}
	for _, f := range strings.Split(s, ",") {
		h, err := strconv.ParseUint(f, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("accepted hash %q: %w", f, err)
		}
		accept[h] = true
	}
	return accept, nil
}

// RunTracer serves the tracer protocol on r and w until EOF or EXIT and
// returns the process exit status.
func RunTracer(mode TracerMode, r io.Reader, w io.Writer, accept map[uint64]bool) int {
	br := bufio.NewReader(r)
	hdr := make([]byte, format.MessageHeaderSize)
	reply := func(typ int32) bool {
		_, err := w.Write(format.AppendMessage(nil, typ, nil))
		return err == nil
	}

	var current *iovec.Context
	for {
		if _, err := io.ReadFull(br, hdr); err != nil {
			return 0
		}
		h, err := format.DecodeMessageHeader(hdr)
		if err != nil {
			return 2
		}
		payload := make([]byte, h.Length)
		if _, err := io.ReadFull(br, payload); err != nil {
			return 2
		}
		if mode == TracerSilent {
			continue
		}
		if !reply(tracerAck) {
			return 2
		}
		if h.Type == tracerExit {
			return 0
		}

		var ok bool
		switch mode {
		case TracerNoResponse:
			continue
		case TracerBadResponse:
			if !reply(tracerReady) {
				return 2
			}
			continue
		}
		switch h.Type {
		case tracerSetTarget:
			ok = mode != TracerRejectTarget && len(payload) > 0
		case tracerReset:
			current = nil
			ok = true
		case tracerSetCtx:
			ctx, _, err := iovec.DecodeBytes(payload)
			current, ok = ctx, err == nil
		case tracerExecute:
			if mode == TracerCrash {
				return 3
			}
			ok = current != nil && accept[current.Hash()]
		}
		typ := int32(tracerFail)
		if ok {
			typ = tracerOK
		}
		if !reply(typ) {
			return 2
		}
		if mode == TracerAnswerThenExit && h.Type == tracerExecute {
			return 0
		}
	}
}
