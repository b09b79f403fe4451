package linker

import (
	"encoding/binary"
	"testing"
)

func TestBuildELF64HeaderFields(t *testing.T) {
	b := buildELF64Header(0x401000, 2)
	if len(b) != ehdrSize {
		t.Fatalf("header length = %d, want %d", len(b), ehdrSize)
	}
	if string(b[0:4]) != "\x7fELF" {
		t.Errorf("bad magic: %v", b[0:4])
	}
	if b[4] != elfClass64 {
		t.Errorf("EI_CLASS = %d, want ELFCLASS64", b[4])
	}
	if b[5] != elfDataLE {
		t.Errorf("EI_DATA = %d, want ELFDATA2LSB", b[5])
	}
	if got := binary.LittleEndian.Uint16(b[16:]); got != etExec {
		t.Errorf("e_type = %d, want ET_EXEC", got)
	}
	if got := binary.LittleEndian.Uint16(b[18:]); got != emX86_64 {
		t.Errorf("e_machine = %d, want EM_X86_64", got)
	}
	if got := binary.LittleEndian.Uint64(b[24:]); got != 0x401000 {
		t.Errorf("e_entry = %#x, want 0x401000", got)
	}
	if got := binary.LittleEndian.Uint64(b[32:]); got != ehdrSize {
		t.Errorf("e_phoff = %d, want %d (program headers immediately follow)", got, ehdrSize)
	}
	if got := binary.LittleEndian.Uint64(b[40:]); got != 0 {
		t.Errorf("e_shoff = %d, want 0 (no section header table)", got)
	}
	if got := binary.LittleEndian.Uint16(b[56:]); got != 2 {
		t.Errorf("e_phnum = %d, want 2", got)
	}
	if got := binary.LittleEndian.Uint16(b[60:]); got != 0 {
		t.Errorf("e_shnum = %d, want 0", got)
	}
}

func TestBuildELF64ProgramHeadersRoundTrip(t *testing.T) {
	segs := []encodedSegment{
		{typ: ptLoad, flags: pfR | pfX, offset: 0, vaddr: 0x400000, paddr: 0x400000, filesz: 0x100, memsz: 0x100, align: 0x1000},
		{typ: ptLoad, flags: pfR | pfW, offset: 0x1000, vaddr: 0x401000, paddr: 0x401000, filesz: 0x40, memsz: 0x80, align: 0x1000},
	}
	b := buildELF64ProgramHeaders(segs)
	if len(b) != phdrSize*2 {
		t.Fatalf("program header table length = %d, want %d", len(b), phdrSize*2)
	}
	for i, s := range segs {
		o := b[i*phdrSize:]
		if got := binary.LittleEndian.Uint32(o[0:]); got != s.typ {
			t.Errorf("segment %d: p_type = %d, want %d", i, got, s.typ)
		}
		if got := binary.LittleEndian.Uint32(o[4:]); got != s.flags {
			t.Errorf("segment %d: p_flags = %#x, want %#x", i, got, s.flags)
		}
		if got := binary.LittleEndian.Uint64(o[8:]); got != s.offset {
			t.Errorf("segment %d: p_offset = %#x, want %#x", i, got, s.offset)
		}
		if got := binary.LittleEndian.Uint64(o[16:]); got != s.vaddr {
			t.Errorf("segment %d: p_vaddr = %#x, want %#x", i, got, s.vaddr)
		}
		if got := binary.LittleEndian.Uint64(o[24:]); got != s.paddr {
			t.Errorf("segment %d: p_paddr = %#x, want %#x", i, got, s.paddr)
		}
		if got := binary.LittleEndian.Uint64(o[32:]); got != s.filesz {
			t.Errorf("segment %d: p_filesz = %#x, want %#x", i, got, s.filesz)
		}
		if got := binary.LittleEndian.Uint64(o[40:]); got != s.memsz {
			t.Errorf("segment %d: p_memsz = %#x, want %#x", i, got, s.memsz)
		}
		if got := binary.LittleEndian.Uint64(o[48:]); got != s.align {
			t.Errorf("segment %d: p_align = %#x, want %#x", i, got, s.align)
		}
	}
}

func TestSegmentFlags(t *testing.T) {
	tests := []struct {
		in   uint64
		want uint32
	}{
		{uint64(pfR), uint32(pfR)},
		{uint64(pfR | pfW), uint32(pfR | pfW)},
		{uint64(pfR | pfW | pfX), uint32(pfR | pfW | pfX)},
		{0, 0},
	}
	for _, tt := range tests {
		if got := segmentFlags(tt.in); got != tt.want {
			t.Errorf("segmentFlags(%#x) = %#x, want %#x", tt.in, got, tt.want)
		}
	}
}
