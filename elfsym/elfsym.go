// Package elfsym enumerates the function symbols of an ELF binary as
// FunctionDescriptors, the candidates a forest is asked to identify.
package elfsym

import (
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"unicode/utf8"

	"golang.org/x/arch/x86/x86asm"
	"golang.org/x/text/encoding/charmap"

	"github.com/joshuapare/binsleuth/pkg/types"
)

// Symbol is one defined function symbol.
type Symbol struct {
	types.FunctionDescriptor
	Size uint64
	// Dynamic marks symbols found only in the dynamic symbol table.
	Dynamic bool
	// Prologue names the entry sequence recognized at Location, or "" when
	// none was (or the machine is not x86-64).
	Prologue string
}

// Open reads the function symbols of the ELF file at path. The descriptors
// carry the absolute path as their binary.
func Open(path string) ([]Symbol, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, types.Errorf(types.ErrKindNotFound, "binary %s: %w", abs, err)
		}
		return nil, err
	}
	defer f.Close()
	return Read(f, abs)
}

// Read parses an ELF image from r. binary is recorded in every descriptor.
func Read(r io.ReaderAt, binary string) ([]Symbol, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, types.Errorf(types.ErrKindFormat, "parse ELF %s: %w", binary, err)
	}
	defer f.Close()

	type ident struct {
		name string
		loc  uint64
	}
	seen := make(map[ident]bool)
	var out []Symbol

	add := func(syms []elf.Symbol, dynamic bool) {
		for _, s := range syms {
			if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Section == elf.SHN_UNDEF || s.Value == 0 {
				continue
			}
			name := decodeName(s.Name)
			id := ident{name, s.Value}
			if seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, Symbol{
				FunctionDescriptor: types.FunctionDescriptor{Name: name, Location: s.Value, Binary: binary},
				Size:               s.Size,
				Dynamic:            dynamic,
			})
		}
	}

	syms, err := f.Symbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, types.Errorf(types.ErrKindFormat, "read symbols of %s: %w", binary, err)
	}
	add(syms, false)

	dyn, err := f.DynamicSymbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, types.Errorf(types.ErrKindFormat, "read dynamic symbols of %s: %w", binary, err)
	}
	add(dyn, true)

	if f.Machine == elf.EM_X86_64 {
		classifyEntries(f, out)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Location != out[j].Location {
			return out[i].Location < out[j].Location
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// decodeName returns name unchanged when it is valid UTF-8 and otherwise
// reads it as ISO-8859-1, which maps every byte to a rune.
func decodeName(name string) string {
	if utf8.ValidString(name) {
		return name
	}
	s, err := charmap.ISO8859_1.NewDecoder().String(name)
	if err != nil {
		return name
	}
	return s
}

func classifyEntries(f *elf.File, syms []Symbol) {
	for _, sec := range f.Sections {
		if sec.Type != elf.SHT_PROGBITS || sec.Flags&elf.SHF_EXECINSTR == 0 {
			continue
		}
		code, err := sec.Data()
		if err != nil {
			continue
		}
		for i := range syms {
			loc := syms[i].Location
			if loc < sec.Addr || loc >= sec.Addr+uint64(len(code)) {
				continue
			}
			syms[i].Prologue = Prologue(code[loc-sec.Addr:])
		}
	}
}

// Prologue names the x86-64 entry sequence at the start of code. A leading
// endbr64 is skipped.
func Prologue(code []byte) string {
	if len(code) >= 4 && code[0] == 0xf3 && code[1] == 0x0f && code[2] == 0x1e && code[3] == 0xfa {
		code = code[4:]
	}
	first, err := x86asm.Decode(code, 64)
	if err != nil {
		return ""
	}
	switch {
	case first.Op == x86asm.PUSH && first.Args[0] == x86asm.RBP:
		if next, err := x86asm.Decode(code[first.Len:], 64); err == nil &&
			next.Op == x86asm.MOV && next.Args[0] == x86asm.RBP && next.Args[1] == x86asm.RSP {
			return "push rbp; mov rbp, rsp"
		}
		return "push rbp"
	case first.Op == x86asm.SUB && first.Args[0] == x86asm.RSP:
		if imm, ok := first.Args[1].(x86asm.Imm); ok && imm > 0 {
			return fmt.Sprintf("sub rsp, 0x%x", int64(imm))
		}
	case first.Op == x86asm.LEA && first.Args[0] == x86asm.RSP:
		return "lea rsp"
	}
	return ""
}

// Filter keeps the symbols for which keep returns true.
func Filter(syms []Symbol, keep func(Symbol) bool) []Symbol {
	out := syms[:0:0]
	for _, s := range syms {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out
}
