package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
)

// FixtureFunction is a function symbol every fixture binary defines.
const FixtureFunction = "main.binsleuthFixture"

const fixtureSource = `package main

import "os"

//go:noinline
func binsleuthFixture(n int) int {
	s := 0
	for i := 0; i < n; i++ {
		s += i * i
	}
	return s
}

func main() {
	os.Exit(binsleuthFixture(len(os.Args)) & 1)
}
`

// BuildFixture compiles a small program with a full symbol table into a
// temporary directory and returns the binary's path. Test binaries cannot
// stand in for it: they are linked without .symtab. The test is skipped when
// no go command or no ELF target is available.
func BuildFixture(t testing.TB) string {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("fixture binaries are not ELF on " + runtime.GOOS)
	}
	gocmd, err := exec.LookPath("go")
	if err != nil {
		t.Skipf("go command unavailable: %v", err)
	}

	dir := t.TempDir()
	src := filepath.Join(dir, "main.go")
	if err := os.WriteFile(src, []byte(fixtureSource), 0o644); err != nil {
		t.Fatalf("write fixture source: %v", err)
	}
	bin := filepath.Join(dir, "fixture")
	cmd := exec.Command(gocmd, "build", "-o", bin, src)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0", "GOFLAGS=", "GOWORK=off")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("build fixture: %v\n%s", err, out)
	}
	return bin
}
