package linker

import "encoding/binary"

// ELF64 constants this encoder needs. Kept local (rather than
// importing "debug/elf") since the encoder only ever writes these
// few fields, never reads or interprets an existing header.
const (
	elfClass64  = 2
	elfDataLE   = 1
	elfVersion  = 1
	etExec      = 2
	emX86_64    = 62
	ehdrSize    = 64
	phdrSize    = 56
	ptLoad      = 1
	pfX         = 1
	pfW         = 2
	pfR         = 4
)

// buildELF64Header encodes a minimal, non-PIE ELF64 little-endian
// executable header for x86-64: just enough for the kernel loader to
// map phnum program headers starting right after this header and jump
// to entry. No section header table is emitted (e_shoff/e_shnum are
// left zero); a reader that wants section names needs a fuller
// encoder than this minimal one.
func buildELF64Header(entry uint64, phnum int) []byte {
	b := make([]byte, ehdrSize)
	b[0], b[1], b[2], b[3] = 0x7f, 'E', 'L', 'F'
	b[4] = elfClass64
	b[5] = elfDataLE
	b[6] = elfVersion
	// b[7] (EI_OSABI) and b[8] (EI_ABIVERSION) and the 7 padding bytes
	// that follow are left zero (ELFOSABI_NONE).
	binary.LittleEndian.PutUint16(b[16:], etExec)
	binary.LittleEndian.PutUint16(b[18:], emX86_64)
	binary.LittleEndian.PutUint32(b[20:], elfVersion)
	binary.LittleEndian.PutUint64(b[24:], entry)
	binary.LittleEndian.PutUint64(b[32:], ehdrSize) // e_phoff
	binary.LittleEndian.PutUint64(b[40:], 0)         // e_shoff
	binary.LittleEndian.PutUint32(b[48:], 0)         // e_flags
	binary.LittleEndian.PutUint16(b[52:], ehdrSize)  // e_ehsize
	binary.LittleEndian.PutUint16(b[54:], phdrSize)  // e_phentsize
	binary.LittleEndian.PutUint16(b[56:], uint16(phnum))
	binary.LittleEndian.PutUint16(b[58:], 0) // e_shentsize
	binary.LittleEndian.PutUint16(b[60:], 0) // e_shnum
	binary.LittleEndian.PutUint16(b[62:], 0) // e_shstrndx
	return b
}

// encodedSegment is the subset of a layout.Segment the encoder needs,
// already lowered to real (bias-applied) addresses by the caller;
// kept separate from layout.Segment so this file doesn't need to
// import layout just for a byte encoder.
type encodedSegment struct {
	typ                          uint32
	flags                        uint32
	offset, vaddr, paddr         uint64
	filesz, memsz, align         uint64
}

// buildELF64ProgramHeaders encodes one Elf64_Phdr per segment, in order.
func buildELF64ProgramHeaders(segs []encodedSegment) []byte {
	b := make([]byte, phdrSize*len(segs))
	for i, s := range segs {
		o := b[i*phdrSize:]
		binary.LittleEndian.PutUint32(o[0:], s.typ)
		binary.LittleEndian.PutUint32(o[4:], s.flags)
		binary.LittleEndian.PutUint64(o[8:], s.offset)
		binary.LittleEndian.PutUint64(o[16:], s.vaddr)
		binary.LittleEndian.PutUint64(o[24:], s.paddr)
		binary.LittleEndian.PutUint64(o[32:], s.filesz)
		binary.LittleEndian.PutUint64(o[40:], s.memsz)
		binary.LittleEndian.PutUint64(o[48:], s.align)
	}
	return b
}

func segmentFlags(flags uint64) uint32 {
	var f uint32
	if flags&pfR != 0 {
		f |= pfR
	}
	if flags&pfW != 0 {
		f |= pfW
	}
	if flags&pfX != 0 {
		f |= pfX
	}
	return f
}
