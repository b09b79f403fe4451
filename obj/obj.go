// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package obj implements the ELF object reader (C7): it parses
// relocatable objects, dynamic libraries, and executables into a
// common, link-friendly data model of sections, fragments, symbols, and
// relocations (C11). It is intentionally narrow: every format-specific
// field (ELF32 vs ELF64, endianness, symbol table layout) is resolved
// here and hidden behind File/Section/Sym so the rest of the linker
// never imports "debug/elf" directly.
package obj

import (
	"fmt"
	"io"

	"github.com/go-eld/eldlink/arch"
)

// Open attempts to open r as an ELF32 or ELF64 little-endian object
// file: a relocatable object, a dynamic library, or an executable used
// as a patch base (§4.3, §9 "patch-base mode").
func Open(r io.ReaderAt) (File, error) {
	isElf, f, err := openElf(r)
	if isElf {
		return f, err
	}
	return nil, fmt.Errorf("unrecognized object file format (only ELF is supported)")
}

// A File represents an ELF object file.
type File interface {
	// Close closes this object file, releasing any OS resources used by it.
	//
	// It's possible that referencing a Data object returned from this File
	// after closing the File will panic.
	Close()

	// Info returns metadata about the whole object file.
	Info() FileInfo

	// Sections returns a slice of sections in this object file, indexed
	// by SectionID.
	Sections() []*Section

	// Section returns the i'th section. If i is out of range, it panics.
	Section(i SectionID) *Section

	// sectionData implements Section.Data. On success, it should
	// populate *d and return d, nil. If there's an error, it should
	// return nil and the error.
	sectionData(s *Section, addr, size uint64, d *Data) (*Data, error)

	// ResolveAddr finds the Section containing the given address in the
	// "loaded" address space. It returns nil if addr is not in the
	// loaded address space. Not all sections are loaded, and relocatable
	// object files don't have any loaded address space at all.
	ResolveAddr(addr uint64) *Section

	// Sym returns i'th symbol. If i is our of range, it panics.
	Sym(i SymID) Sym

	// Relocs returns the relocations that apply to the i'th section,
	// sorted by Addr, for the relocation applier (C14) to walk once
	// layout has assigned every symbol its final address.
	Relocs(i SectionID) ([]Reloc, error)

	// NumSyms returns the number of symbols.
	//
	// ELF files may have both a static and a dynamic symbol table; they
	// are concatenated into a single index space, so the "same" symbol
	// may appear multiple times.
	NumSyms() SymID
}

type FileInfo struct {
	// Arch is the machine architecture of this object file, or
	// nil if unknown.
	Arch *arch.Arch

	// Type is the high-level kind of this ELF file (relocatable,
	// dynamic library, executable, or core).
	Type FileType
}

// FileType classifies an ELF file's e_type, matching the InputFile
// variants named in the data model (§3): an Object is ET_REL, a
// DynamicLibrary is ET_DYN, and an Executable is ET_EXEC (or an ET_DYN
// PIE used as a patch base).
type FileType uint8

const (
	TypeUnknown FileType = iota
	TypeObject
	TypeDynamicLibrary
	TypeExecutable
	TypeCore
)

func (t FileType) String() string {
	switch t {
	case TypeObject:
		return "object"
	case TypeDynamicLibrary:
		return "dynamic library"
	case TypeExecutable:
		return "executable"
	case TypeCore:
		return "core"
	default:
		return "unknown"
	}
}

// SectionID is an index for a section in an object file. These indexes
// are compact and start at 0.
//
// These may not correspond to any section numbering used by the object
// format itself; see Section.RawID for this. ELF section number 0 is
// reserved, so this slice starts at ELF section 1.
type SectionID int

// SectionKind gives the role a section plays in the link, mirroring the
// variant named in the data model (§3). Two sections of the same ELF
// sh_type can have different Kinds (e.g. a string table backing a
// symbol table is StrTab, but a merge-string .rodata section is
// MergeString); Kind is the thing the section mapper (C10) and garbage
// collector (C12) actually key off of.
type SectionKind uint8

const (
	SectionUnknown SectionKind = iota
	SectionRegular
	SectionBSS
	SectionEhFrame
	SectionGroup
	SectionMergeString
	SectionDiscard
	SectionIgnore
	SectionNote
	SectionLinkOnce
	SectionVersion
	SectionDynamic
	SectionDynSym
	SectionSymTab
	SectionStrTab
	SectionRelocation
)

func (k SectionKind) String() string {
	switch k {
	case SectionRegular:
		return "Regular"
	case SectionBSS:
		return "BSS"
	case SectionEhFrame:
		return "EhFrame"
	case SectionGroup:
		return "Group"
	case SectionMergeString:
		return "MergeString"
	case SectionDiscard:
		return "Discard"
	case SectionIgnore:
		return "Ignore"
	case SectionNote:
		return "Note"
	case SectionLinkOnce:
		return "LinkOnce"
	case SectionVersion:
		return "Version"
	case SectionDynamic:
		return "Dynamic"
	case SectionDynSym:
		return "DynSym"
	case SectionSymTab:
		return "SymTab"
	case SectionStrTab:
		return "StrTab"
	case SectionRelocation:
		return "Relocation"
	default:
		return "Unknown"
	}
}

// Discardable reports whether sections of this kind contribute no bytes
// to the output and need not be assigned to an output section (§3
// invariant: "no input section is silently dropped unless its kind is
// Discard/Ignore").
func (k SectionKind) Discardable() bool {
	return k == SectionDiscard || k == SectionIgnore
}

// A Section is a contiguous region of address space in an object file.
//
// An object file may have multiple sections whose addresses are not
// meaningfully related, so addresses within an object file must always
// be specified with respect to a given section.
type Section struct {
	// File is the object file containing this section.
	File File

	// Name is the name of this section. This typically follows platform
	// conventions, such as ".text" or ".data", but isn't necessarily
	// meaningful.
	Name string

	// ID is the obj-internal index of this section.
	ID SectionID

	// RawID is the index of this section in the underlying format's
	// representation, or -1 if this is not meaningful.
	RawID int

	// Kind classifies this section for the section mapper and GC.
	Kind SectionKind

	// Addr is the virtual address at which this section begins in
	// memory, or 0 if either this section should not be loaded into
	// memory, or it has not yet been assigned a meaningful address.
	Addr uint64

	// Size is the size of this section in memory, in bytes.
	//
	// This may not be the size of the section on disk. For example, a
	// section that is all zeros may not be represented on disk at all,
	// or the section on disk may be compressed.
	Size uint64

	// Align is the section's required address/offset alignment.
	Align uint64

	// Link and Info mirror sh_link/sh_info: for a relocation section,
	// Link names its symbol table and Info its target section. They're
	// kept (rather than resolved away) because the writer needs to
	// re-serialize them, renumbered to the output section table.
	Link, Info int

	// EntSize is sh_entsize: the size of one record, for table-shaped
	// sections (symbol tables, relocation sections).
	EntSize uint64

	// OutputSection is set by the section mapper (C10) once this
	// section has been assigned; nil beforehand.
	OutputSection interface{}

	// SectionFlags stores flags for this section. This field is
	// embedded so Section inherits the methods of SectionFlags.
	SectionFlags
}

// Data reads size bytes of data from this section, starting at the
// given address. It panics if the requested byte range is out of range
// for the section.
func (s *Section) Data(addr, size uint64) (*Data, error) {
	// This approach allows the allocation of Data to be inlined into
	// the caller, where it can often be stack-allocated.
	var d Data
	return s.File.sectionData(s, addr, size, &d)
}

// Bounds returns the starting address and size in bytes of Section s.
func (s *Section) Bounds() (addr, size uint64) {
	return s.Addr, s.Size
}

func (s *Section) String() string {
	if s == nil {
		return "<nil>"
	}
	return s.Name
}

// SectionFlags is a set of section flags.
type SectionFlags struct {
	f sectionFlags
}

type sectionFlags uint8

const (
	sectionFlagReadOnly sectionFlags = 1 << iota
	sectionFlagZeroInitialized
	sectionFlagMapped
	sectionFlagCompressed
)

// ReadOnly indicates a section's data is read-only.
func (s SectionFlags) ReadOnly() bool {
	return s.f&sectionFlagReadOnly != 0
}

// SetReadOnly sets the ReadOnly flag to v.
func (s *SectionFlags) SetReadOnly(v bool) {
	s.set(sectionFlagReadOnly, v)
}

// ZeroInitialized indicates a section is zero-initialized (ELF
// SHT_NOBITS, e.g. .bss) and has no on-disk representation.
func (s SectionFlags) ZeroInitialized() bool {
	return s.f&sectionFlagZeroInitialized != 0
}

// SetZeroInitialized sets the ZeroInitialized flag to v.
func (s *SectionFlags) SetZeroInitialized(v bool) {
	s.set(sectionFlagZeroInitialized, v)
}

// Mapped indicates this section occupies space in the loaded address
// space (ELF SHF_ALLOC in an executable or shared object). Relocatable
// objects never report Mapped, even for sections that will become
// allocatable after linking, since they don't yet have addresses.
func (s SectionFlags) Mapped() bool {
	return s.f&sectionFlagMapped != 0
}

// SetMapped sets the Mapped flag to v.
func (s *SectionFlags) SetMapped(v bool) {
	s.set(sectionFlagMapped, v)
}

// Compressed indicates the section's on-disk bytes are compressed
// (ELF SHF_COMPRESSED) and must be inflated before use.
func (s SectionFlags) Compressed() bool {
	return s.f&sectionFlagCompressed != 0
}

// SetCompressed sets the Compressed flag to v.
func (s *SectionFlags) SetCompressed(v bool) {
	s.set(sectionFlagCompressed, v)
}

func (s *SectionFlags) set(bit sectionFlags, v bool) {
	if v {
		s.f |= bit
	} else {
		s.f &^= bit
	}
}

// roundDown2 to rounds x down to a multiple of y, where y must be a
// power of 2.
func roundDown2(x, y uint64) uint64 {
	if y&(y-1) != 0 {
		panic("y must be a power of 2")
	}
	return x &^ (y - 1)
}

// roundUp2 to rounds x up to a multiple of y, where y must be a power
// of 2.
func roundUp2(x, y uint64) uint64 {
	if y&(y-1) != 0 {
		panic("y must be a power of 2")
	}
	return (x + y - 1) &^ (y - 1)
}
