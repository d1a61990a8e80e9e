// Package elfx opens x86 ELF binaries and exposes their executable sections
// as a byte token stream, so gadgets can be searched without going through a
// textual listing first.
package elfx

import (
	"bytes"
	"debug/elf"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"syscall"

	"gadgets/internal/gadget"
)

// Magic is the ELF identification prefix.
var Magic = []byte(elf.ELFMAG)

type Image struct {
	Path  string
	File  *elf.File
	All   []byte
	Loads []Seg
	Exec  []Section // SHF_EXECINSTR sections in file order
	Syms  []Sym     // function symbols sorted by address
	f     *os.File
}

type Seg struct {
	Vaddr, Off, Filesz uint64
	Flags              elf.ProgFlag
}

type Section struct {
	Name          string
	VA, Off, Size uint64
}

type Sym struct {
	Name string
	Addr uint64
	Size uint64
}

// IsELF reports whether the file at path starts with the ELF magic.
func IsELF(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	hdr := make([]byte, len(Magic))
	if _, err := io.ReadFull(f, hdr); err != nil {
		return false
	}
	return bytes.Equal(hdr, Magic)
}

func Open(path string) (*Image, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open elf: %w", err)
	}
	if f.Machine != elf.EM_X86_64 && f.Machine != elf.EM_386 {
		f.Close()
		return nil, fmt.Errorf("open elf: unsupported machine %v", f.Machine)
	}

	of, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open file: %w", err)
	}

	fi, err := of.Stat()
	if err != nil {
		of.Close()
		f.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}

	all, err := syscall.Mmap(int(of.Fd()), 0, int(fi.Size()), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		of.Close()
		f.Close()
		return nil, fmt.Errorf("mmap file: %w", err)
	}

	im := &Image{Path: path, File: f, All: all, f: of}
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		im.Loads = append(im.Loads, Seg{
			Vaddr:  p.Vaddr,
			Off:    p.Off,
			Filesz: p.Filesz,
			Flags:  p.Flags,
		})
	}

	for _, s := range f.Sections {
		if s.Type != elf.SHT_PROGBITS || s.Flags&elf.SHF_EXECINSTR == 0 || s.Size == 0 {
			continue
		}
		im.Exec = append(im.Exec, Section{s.Name, s.Addr, s.Offset, s.Size})
	}

	// Fallback if stripped of section headers.
	if len(im.Exec) == 0 {
		for _, l := range im.Loads {
			if l.Flags&elf.PF_X != 0 && l.Filesz > 0 {
				im.Exec = append(im.Exec, Section{"LOAD(exec)", l.Vaddr, l.Off, l.Filesz})
			}
		}
	}

	im.loadSymbols()
	return im, nil
}

// Close unmaps the memory and closes the underlying files.
func (im *Image) Close() error {
	var err1, err2 error
	if im.All != nil {
		err1 = syscall.Munmap(im.All)
		im.All = nil
	}
	if im.f != nil {
		err2 = im.f.Close()
		im.f = nil
	}
	if im.File != nil {
		err3 := im.File.Close()
		if err3 != nil && err2 == nil {
			err2 = err3
		}
		im.File = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

// Mode returns the x86 decoding mode of the image.
func (im *Image) Mode() int {
	if im.File != nil && im.File.Class == elf.ELFCLASS32 {
		return 32
	}
	return 64
}

// VA2Off translates a virtual address into a file offset
// using PT_LOAD segments. It returns false if VA is unmapped.
func (im *Image) VA2Off(va uint64) (uint64, bool) {
	for _, l := range im.Loads {
		if va >= l.Vaddr && va < l.Vaddr+l.Filesz {
			return l.Off + (va - l.Vaddr), true
		}
	}
	return 0, false
}

// SliceVA returns a subslice of the mapped file corresponding to the virtual address range [va, va+size).
// It returns (nil, false) if the VA is unmapped or the range is out of bounds.
func (im *Image) SliceVA(va uint64, size uint64) ([]byte, bool) {
	off, ok := im.VA2Off(va)
	if !ok {
		return nil, false
	}
	if size == 0 {
		return []byte{}, true
	}
	end := off + size
	if end > uint64(len(im.All)) {
		return nil, false
	}
	return im.All[off:end], true
}

// SectionBytes returns the file contents of an executable section.
func (im *Image) SectionBytes(s Section) ([]byte, bool) {
	if b, ok := im.SliceVA(s.VA, s.Size); ok {
		return b, true
	}
	end := s.Off + s.Size
	if end > uint64(len(im.All)) {
		return nil, false
	}
	return im.All[s.Off:end], true
}

// SymbolAt returns the name of the function symbol covering va, or "".
func (im *Image) SymbolAt(va uint64) string {
	i := sort.Search(len(im.Syms), func(i int) bool { return im.Syms[i].Addr > va })
	if i == 0 {
		return ""
	}
	s := im.Syms[i-1]
	if s.Size != 0 && va >= s.Addr+s.Size {
		return ""
	}
	return s.Name
}

var byteHex = func() (t [256]string) {
	for i := range t {
		t[i] = hex.EncodeToString([]byte{byte(i)})
	}
	return t
}()

// Streams returns the executable bytes as token streams, one per contiguous
// address range. Sections that follow each other without a gap share a
// stream; any gap starts a new one, so no run spans unrelated code.
func (im *Image) Streams() [][]gadget.Token {
	secs := append([]Section(nil), im.Exec...)
	sort.SliceStable(secs, func(i, j int) bool { return secs[i].VA < secs[j].VA })

	var out [][]gadget.Token
	var cur []gadget.Token
	var next uint64
	for _, s := range secs {
		data, ok := im.SectionBytes(s)
		if !ok || len(data) == 0 {
			continue
		}
		if len(cur) > 0 && s.VA != next {
			out = append(out, cur)
			cur = nil
		}
		if cur == nil {
			cur = make([]gadget.Token, 0, len(data))
		}
		for i, b := range data {
			va := s.VA + uint64(i)
			cur = append(cur, gadget.Token{
				Hex:    byteHex[b],
				Addr:   va,
				Symbol: im.SymbolAt(va),
			})
		}
		next = s.VA + uint64(len(data))
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

// loadSymbols merges function symbols from .symtab and .dynsym, keeping the
// first name seen for each address.
func (im *Image) loadSymbols() {
	if im.File == nil {
		return
	}
	seen := make(map[uint64]bool)
	add := func(syms []elf.Symbol) {
		for _, sym := range syms {
			if sym.Value == 0 || sym.Name == "" || elf.ST_TYPE(sym.Info) != elf.STT_FUNC {
				continue
			}
			if seen[sym.Value] {
				continue
			}
			seen[sym.Value] = true
			im.Syms = append(im.Syms, Sym{
				Name: strings.TrimSuffix(sym.Name, "@plt"),
				Addr: sym.Value,
				Size: sym.Size,
			})
		}
	}
	if syms, err := im.File.Symbols(); err == nil {
		add(syms)
	}
	if syms, err := im.File.DynamicSymbols(); err == nil {
		add(syms)
	}
	sort.Slice(im.Syms, func(i, j int) bool {
		return im.Syms[i].Addr < im.Syms[j].Addr
	})
}
