package script

import "testing"

func TestParseBasicScript(t *testing.T) {
	src := `
ENTRY(_start)
OUTPUT_FORMAT("elf64-x86-64")
SEARCH_DIR("/usr/lib")
GROUP(libc.a libgcc.a)
SECTIONS
{
	. = 0x400000;
	.text : {
		*(.text .text.*)
		KEEP(*(.init))
	}
	.data : { *(.data) }
	/DISCARD/ : { *(.comment) }
}
`
	s, err := Parse(src)
	if err != nil {
		t.Fatal(err)
	}
	if s.Entry != "_start" {
		t.Errorf("want entry _start, got %q", s.Entry)
	}
	if s.OutputFormat != "elf64-x86-64" {
		t.Errorf("want output format elf64-x86-64, got %q", s.OutputFormat)
	}
	if len(s.Groups) != 1 || len(s.Groups[0]) != 2 {
		t.Fatalf("want one GROUP of 2 files, got %v", s.Groups)
	}
	if s.Sections == nil || len(s.Sections.Entries) != 4 {
		t.Fatalf("want 4 SECTIONS entries (dot-assign + 3 output sections), got %+v", s.Sections)
	}

	textSec, ok := s.Sections.Entries[1].(*OutputSection)
	if !ok || textSec.Name != ".text" {
		t.Fatalf("want second entry to be .text output section, got %#v", s.Sections.Entries[1])
	}
	if len(textSec.Entries) != 2 {
		t.Fatalf("want 2 rules in .text, got %d", len(textSec.Entries))
	}
	if !textSec.Entries[1].Keep {
		t.Error("want KEEP(*(.init)) rule to have Keep set")
	}
}

func TestParseMemoryAndPhdrs(t *testing.T) {
	src := `
MEMORY
{
	rom (rx) : ORIGIN = 0x8000000, LENGTH = 256K
	ram (rwx) : ORIGIN = 0x20000000, LENGTH = 64K
}
PHDRS
{
	text PT_LOAD FLAGS(5);
	data PT_LOAD FLAGS(6);
}
`
	s, err := Parse(src)
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Memory) != 2 {
		t.Fatalf("want 2 memory regions, got %d", len(s.Memory))
	}
	if s.Memory[0].Name != "rom" {
		t.Errorf("want first region rom, got %q", s.Memory[0].Name)
	}
	length, err := Eval(s.Memory[0].Length, nopEnv{})
	if err != nil {
		t.Fatal(err)
	}
	if length != 256*1024 {
		t.Errorf("want 256K = %d, got %d", 256*1024, length)
	}
	if len(s.Phdrs) != 2 || s.Phdrs[0].Type != "PT_LOAD" {
		t.Fatalf("want 2 PT_LOAD phdrs, got %+v", s.Phdrs)
	}
}

func TestExcludeFileAndWildcards(t *testing.T) {
	src := `
SECTIONS {
	.text : { EXCLUDE_FILE(*crt0.o) *(.text) }
}
`
	s, err := Parse(src)
	if err != nil {
		t.Fatal(err)
	}
	out := s.Sections.Entries[0].(*OutputSection)
	rule := out.Entries[0]
	if !rule.MatchesFile("main.o") {
		t.Error("want main.o to match")
	}
	if rule.MatchesFile("crt0.o") {
		t.Error("want crt0.o excluded")
	}
	if !rule.MatchesSection(".text") {
		t.Error("want .text to match *")
	}
}

func TestSortByName(t *testing.T) {
	src := `SECTIONS { .ctors : { *(SORT_BY_NAME(.ctors.*)) } }`
	s, err := Parse(src)
	if err != nil {
		t.Fatal(err)
	}
	out := s.Sections.Entries[0].(*OutputSection)
	if out.Entries[0].Sort != SortByName {
		t.Errorf("want SortByName, got %v", out.Entries[0].Sort)
	}
}

type nopEnv struct{}

func (nopEnv) Dot() uint64                                   { return 0 }
func (nopEnv) SectionAddr(string) (uint64, bool)             { return 0, false }
func (nopEnv) SectionLoadAddr(string) (uint64, bool)         { return 0, false }
func (nopEnv) SectionSize(string) (uint64, bool)             { return 0, false }
func (nopEnv) SymbolValue(string) (uint64, bool)             { return 0, false }
func (nopEnv) SizeofHeaders() uint64                         { return 0 }

func TestEvalAlignAndArithmetic(t *testing.T) {
	e, err := parseExpr(t, "ALIGN(0x1000) + 4 * 2")
	if err != nil {
		t.Fatal(err)
	}
	env := fakeEnv{dot: 0x1234}
	v, err := Eval(e, env)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0x2000+8 {
		t.Errorf("want 0x2000+8 = %d, got %d", 0x2000+8, v)
	}
}

func TestEvalDefinedAndSizeof(t *testing.T) {
	e, err := parseExpr(t, "DEFINED(foo) && SIZEOF(.text) > 0")
	if err != nil {
		t.Fatal(err)
	}
	env := fakeEnv{symbols: map[string]uint64{"foo": 1}, sizes: map[string]uint64{".text": 16}}
	v, err := Eval(e, env)
	if err != nil {
		t.Fatal(err)
	}
	if v != 1 {
		t.Errorf("want true (1), got %d", v)
	}
}

func parseExpr(t *testing.T, src string) (Expr, error) {
	t.Helper()
	p := &parser{lex: newLexer(src)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return p.expr()
}

type fakeEnv struct {
	dot     uint64
	symbols map[string]uint64
	sizes   map[string]uint64
}

func (f fakeEnv) Dot() uint64 { return f.dot }
func (f fakeEnv) SectionAddr(name string) (uint64, bool)     { v, ok := f.sizes[name]; return v, ok }
func (f fakeEnv) SectionLoadAddr(name string) (uint64, bool) { v, ok := f.sizes[name]; return v, ok }
func (f fakeEnv) SectionSize(name string) (uint64, bool)     { v, ok := f.sizes[name]; return v, ok }
func (f fakeEnv) SymbolValue(name string) (uint64, bool)     { v, ok := f.symbols[name]; return v, ok }
func (f fakeEnv) SizeofHeaders() uint64                      { return 0 }
