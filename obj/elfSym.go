// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obj

import (
	"debug/elf"
	"fmt"
)

type elfSymTab struct {
	start, end SymID // Excludes ELF symbol index 0: start maps to ELF symbol 1
	section    *elfSection
	data       Data
	strings    Data

	// shndx is the SHT_SYMTAB_SHNDX section associated with this symbol
	// table, or nil if none. It holds the real section index for any
	// symbol whose st_shndx is SHN_XINDEX (§4.3 step 4).
	shndx     *elfSection
	shndxData Data
}

var emptyElfSymTab = &elfSymTab{}

func (s *elfSymTab) lookup(elfSym uint32) (SymID, bool) {
	// Subtract 1 from the ELF symbol index since we don't represent the NULL
	// ELF symbol. If elfSym is 0 (meaning no symbol), this will wrap below
	// s.start and we'll fall through to returning NoSym.
	symID := SymID(elfSym) - 1 + s.start
	if s.start <= symID && symID < s.end {
		return symID, true
	}
	return NoSym, false
}

func (f *elfFile) NumSyms() SymID {
	return f.symTabs[len(f.symTabs)-1].end
}

func (f *elfFile) Sym(i SymID) Sym {
	tab := &f.symTabs[0]
	if i >= tab.end {
		tab = &f.symTabs[1]
		if i >= tab.end {
			panic(fmt.Sprintf("symbol index %d out of range [%d,%d)", i, 0, f.NumSyms()))
		}
	}

	// Set up to read.
	symIndex := i - tab.start + 1
	r := NewReader(&tab.data)
	rs := NewReader(&tab.strings)
	r.SetOffset(int(f.symSize * uint64(symIndex)))

	var sym Sym
	var (
		nameOff uint32
		info    uint8
		other   uint8
		shn     elf.SectionIndex
	)
	switch f.f.Class {
	case elf.ELFCLASS32:
		nameOff = r.Uint32()
		sym.Value = uint64(r.Uint32())
		sym.Size = uint64(r.Uint32())
		info = r.Uint8()
		other = r.Uint8()
		shn = elf.SectionIndex(r.Uint16())
	case elf.ELFCLASS64:
		nameOff = r.Uint32()
		info = r.Uint8()
		other = r.Uint8()
		shn = elf.SectionIndex(r.Uint16())
		sym.Value = r.Uint64()
		sym.Size = r.Uint64()
	}

	if shn == elf.SHN_XINDEX && tab.shndx != nil {
		xr := NewReader(&tab.shndxData)
		xr.SetOffset(4 * int(symIndex))
		shn = elf.SectionIndex(xr.Uint32())
	}

	es, ok := f.lookupShn(shn)
	discarded := false
	if ok && shn != elf.SHN_UNDEF {
		sym.Section = es.Section
		if sym.Section.Kind.Discardable() && !f.patchBase {
			// §4.3 step 2: a symbol whose home section was marked
			// Discard/Ignore becomes Undefined, except in patch-base
			// inputs, which keep whatever the base image already
			// resolved.
			sym.Section = nil
			discarded = true
		}
	}

	if elf.ST_TYPE(info) == elf.STT_SECTION && es != nil {
		// Section symbols don't have their own name, but tools conventionally
		// show the name of the section.
		sym.Name = es.Name
	} else {
		rs.SetOffset(int(nameOff))
		sym.Name = string(rs.CString())
	}

	kind := SymUnknown
	switch elf.ST_TYPE(info) {
	case elf.STT_SECTION:
		kind = SymSection
	default:
		switch shn {
		case elf.SHN_UNDEF:
			kind = SymUndef
		case elf.SHN_COMMON:
			kind = SymBSS
		case elf.SHN_ABS:
			kind = SymAbsolute
		default:
			if es == nil {
				break
			}
			// Determine kind by looking at section flags.
			switch es.elf.Flags & (elf.SHF_WRITE | elf.SHF_ALLOC | elf.SHF_EXECINSTR) {
			case elf.SHF_ALLOC | elf.SHF_EXECINSTR:
				kind = SymText
			case elf.SHF_ALLOC:
				kind = SymROData
			case elf.SHF_ALLOC | elf.SHF_WRITE:
				if es.elf.Type == elf.SHT_NOBITS {
					kind = SymBSS
				} else {
					kind = SymData
				}
			}
		}
	}
	sym.Kind = kind

	// §4.3 step 4: description (undef/define/common).
	switch shn {
	case elf.SHN_UNDEF:
		sym.Desc = DescUndefined
	case elf.SHN_COMMON:
		sym.Desc = DescCommon
	default:
		sym.Desc = DescDefined
	}
	if discarded {
		sym.Kind = SymUndef
		sym.Desc = DescUndefined
	}

	// §4.3 step 5: binding. A symbol in SHN_ABS stays whatever binding
	// it has; only locals and weaks need special casing.
	switch elf.ST_BIND(info) {
	case elf.STB_LOCAL:
		sym.Binding = BindLocal
	case elf.STB_WEAK:
		sym.Binding = BindWeak
	default:
		sym.Binding = BindGlobal
	}
	sym.SetLocal(sym.Binding == BindLocal)

	// A Section-typed symbol in SHN_ABS is reported as SymAbsolute
	// rather than SymSection; SymKind has no separate object kind.
	if shn == elf.SHN_ABS && elf.ST_TYPE(info) == elf.STT_SECTION {
		sym.Kind = SymAbsolute
	}

	switch elf.ST_VISIBILITY(other) {
	case elf.STV_INTERNAL:
		sym.Visibility = VisInternal
	case elf.STV_HIDDEN:
		sym.Visibility = VisHidden
	case elf.STV_PROTECTED:
		sym.Visibility = VisProtected
	default:
		sym.Visibility = VisDefault
	}

	return sym
}

// SymROData and SymBSS name the read-only and zero-initialized (BSS)
// cases of a data symbol. Both are aliases of SymData, which covers
// read-only, writable and BSS data alike, so a switch on Kind cannot
// tell them apart; callers that only care about "has data" should
// test Section != nil instead of Kind.
const (
	SymROData = SymData
	SymBSS    = SymData
)
