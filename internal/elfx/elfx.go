// Package elfx provides ELF loading helpers for ARM64 shared objects and
// executables.
package elfx

import (
	"cmp"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
)

var (
	ErrNotELF       = errors.New("elfx: not an ELF file")
	ErrNotARM64     = errors.New("elfx: not ARM64 (EM_AARCH64)")
	ErrNotLoadable  = errors.New("elfx: not a shared object or executable")
	ErrNot64Bit     = errors.New("elfx: not 64-bit ELF")
	ErrNoSymbol     = errors.New("elfx: symbol not found")
	ErrNoSegment    = errors.New("elfx: no PT_LOAD segment covers address")
	ErrSymbolNoSize = errors.New("elfx: symbol has zero size")
)

// File wraps a debug/elf.File with convenience methods for code analysis.
type File struct {
	ELF  *elf.File
	raw  io.ReaderAt
	size int64
}

// Open opens an ELF file and validates it is an ARM64 shared object or
// executable.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("elfx: open: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("elfx: stat: %w", err)
	}

	ef, err := elf.NewFile(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrNotELF, err)
	}

	if ef.Class != elf.ELFCLASS64 {
		ef.Close()
		return nil, ErrNot64Bit
	}
	if ef.Machine != elf.EM_AARCH64 {
		ef.Close()
		return nil, ErrNotARM64
	}
	if ef.Type != elf.ET_DYN && ef.Type != elf.ET_EXEC {
		ef.Close()
		return nil, ErrNotLoadable
	}

	return &File{ELF: ef, raw: f, size: info.Size()}, nil
}

// Close releases resources.
func (f *File) Close() error {
	return f.ELF.Close()
}

// FileSize returns the size of the underlying file.
func (f *File) FileSize() int64 { return f.size }

// Symbol is a named address range.
type Symbol struct {
	Name string
	Addr uint64
	Size uint64
}

// symbols returns the static symbol table followed by the dynamic one.
// Missing tables are not an error.
func (f *File) symbols() ([]elf.Symbol, error) {
	var all []elf.Symbol
	for _, read := range []func() ([]elf.Symbol, error){f.ELF.Symbols, f.ELF.DynamicSymbols} {
		syms, err := read()
		if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
			return nil, fmt.Errorf("elfx: symbols: %w", err)
		}
		all = append(all, syms...)
	}
	return all, nil
}

// Symbol looks up a symbol by exact name in .symtab, then .dynsym.
// Returns the symbol's virtual address and size.
func (f *File) Symbol(name string) (addr, size uint64, err error) {
	syms, err := f.symbols()
	if err != nil {
		return 0, 0, err
	}
	for _, s := range syms {
		if s.Name == name {
			return s.Value, s.Size, nil
		}
	}
	return 0, 0, fmt.Errorf("%w: %s", ErrNoSymbol, name)
}

// FunctionSymbols returns the sized STT_FUNC symbols that lie in executable
// PT_LOAD segments, ordered by address. Aliases of the same address keep the
// first name seen.
func (f *File) FunctionSymbols() ([]Symbol, error) {
	syms, err := f.symbols()
	if err != nil {
		return nil, err
	}
	var exec []SegmentInfo
	for _, s := range f.LoadSegments() {
		if s.Flags&elf.PF_X != 0 {
			exec = append(exec, s)
		}
	}
	inExec := func(va uint64) bool {
		for _, s := range exec {
			if va >= s.Vaddr && va < s.Vaddr+s.Filesz {
				return true
			}
		}
		return false
	}

	seen := make(map[uint64]bool)
	var out []Symbol
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Size == 0 || s.Name == "" {
			continue
		}
		if seen[s.Value] || !inExec(s.Value) {
			continue
		}
		seen[s.Value] = true
		out = append(out, Symbol{Name: s.Name, Addr: s.Value, Size: s.Size})
	}
	slices.SortFunc(out, func(a, b Symbol) int { return cmp.Compare(a.Addr, b.Addr) })
	return out, nil
}

// FunctionBytes reads the code of a sized symbol.
func (f *File) FunctionBytes(s Symbol) ([]byte, error) {
	if s.Size == 0 {
		return nil, fmt.Errorf("%w: %s", ErrSymbolNoSize, s.Name)
	}
	return f.ReadBytesAtVA(s.Addr, int(s.Size))
}

// VAToFileOffset converts a virtual address to a file offset using PT_LOAD segments.
func (f *File) VAToFileOffset(va uint64) (uint64, error) {
	for _, p := range f.ELF.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		if va >= p.Vaddr && va < p.Vaddr+p.Memsz {
			offset := va - p.Vaddr + p.Off
			if offset >= uint64(f.size) {
				return 0, fmt.Errorf("elfx: VA 0x%x maps to offset 0x%x beyond file size 0x%x", va, offset, f.size)
			}
			return offset, nil
		}
	}
	return 0, fmt.Errorf("%w: VA 0x%x", ErrNoSegment, va)
}

// ReadBytesAtVA reads n bytes starting at the given virtual address.
func (f *File) ReadBytesAtVA(va uint64, n int) ([]byte, error) {
	off, err := f.VAToFileOffset(va)
	if err != nil {
		return nil, err
	}
	// Clamp to file size.
	avail := f.size - int64(off)
	if avail <= 0 {
		return nil, fmt.Errorf("elfx: offset 0x%x at or past end of file", off)
	}
	if int64(n) > avail {
		n = int(avail)
	}
	buf := make([]byte, n)
	_, err = f.raw.ReadAt(buf, int64(off))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("elfx: read at 0x%x: %w", off, err)
	}
	return buf, nil
}

// SegmentInfo describes a PT_LOAD segment.
type SegmentInfo struct {
	Vaddr  uint64
	Memsz  uint64
	Filesz uint64
	Offset uint64
	Flags  elf.ProgFlag
}

// LoadSegments returns all PT_LOAD segments.
func (f *File) LoadSegments() []SegmentInfo {
	var segs []SegmentInfo
	for _, p := range f.ELF.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		segs = append(segs, SegmentInfo{
			Vaddr:  p.Vaddr,
			Memsz:  p.Memsz,
			Filesz: p.Filesz,
			Offset: p.Off,
			Flags:  p.Flags,
		})
	}
	return segs
}
