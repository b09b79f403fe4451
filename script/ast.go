package script

// Script is a parsed linker script: an ordered list of top-level
// commands (§4.5). Non-SECTIONS commands may appear interleaved with
// a single SECTIONS block, mirroring GNU ld's grammar.
type Script struct {
	Entry        string
	OutputFormat string
	SearchDirs   []string
	Inputs       [][]string // each element is one INPUT(...) file list
	Groups       [][]string
	Externs      []string
	Asserts      []Assert
	Memory       []MemoryRegion
	Phdrs        []Phdr
	Sections     *SectionsCommand
}

type Assert struct {
	Expr    Expr
	Message string
}

// MemoryRegion is one MEMORY { name (attrs) : ORIGIN = x, LENGTH = y }
// entry.
type MemoryRegion struct {
	Name   string
	Attrs  string
	Origin Expr
	Length Expr
}

// Phdr is one PHDRS program-header descriptor.
type Phdr struct {
	Name    string
	Type    string
	Flags   Expr // FLAGS(...), nil if absent
	At      Expr // AT(...), nil if absent
	FileHdr bool
	PhdrHdr bool
}

// SectionsCommand is the body of a SECTIONS{} block: an ordered list
// of output-section descriptors and top-level symbol assignments
// interleaved in script order.
type SectionsCommand struct {
	Entries []SectionsEntry
}

// SectionsEntry is either an *OutputSection or an *Assignment,
// distinguished by a type switch.
type SectionsEntry interface {
	isSectionsEntry()
}

// Assignment is `name op expr ;` or `PROVIDE(name = expr) ;`.
type Assignment struct {
	Name     string
	Op       string // "=", "+=", "-=", "*=", "/="
	Expr     Expr
	Provide  bool
	Hidden   bool // PROVIDE_HIDDEN
}

func (*Assignment) isSectionsEntry() {}

// OutputSection is one output-section descriptor inside SECTIONS.
type OutputSection struct {
	Name       string
	Address    Expr // nil if not specified
	Type       string // NOLOAD, or "" for normal
	AtExpr     Expr   // AT(expr), nil if absent
	Align      Expr   // ALIGN(expr) following the name, nil if absent
	Entries    []SectionRule
	Region     string // "> region"
	LMARegion  string // "AT> region"
	Fill       Expr   // "=fillexpr"
	OnlyIfRO   bool
	OnlyIfRW   bool
}

func (*OutputSection) isSectionsEntry() {}

// SectionSort names the SORT* wildcard-ordering predicates.
type SectionSort int

const (
	SortNone SectionSort = iota
	SortByName
	SortByAlignment
	SortByNameThenAlignment
	SortByAlignmentThenName
)

// SectionRule is one input-section matching rule within an
// OutputSection: `[EXCLUDE_FILE(...)] filespec (sectionspec...)`.
type SectionRule struct {
	Keep         bool
	ExcludeFiles []string
	FileWildcard string // "*" if absent (matches everything)
	Sections     []string
	Sort         SectionSort
}

// Expr is the linker-script expression AST (§4.7 step 5: `.`, symbol
// assignments, ABSOLUTE, ALIGN, ADDR, LOADADDR, SIZEOF, DEFINED).
type Expr interface {
	isExpr()
}

type DotExpr struct{}

func (DotExpr) isExpr() {}

type NumberExpr struct{ Value uint64 }

func (NumberExpr) isExpr() {}

type SymbolExpr struct{ Name string }

func (SymbolExpr) isExpr() {}

type BinaryExpr struct {
	Op   string
	X, Y Expr
}

func (BinaryExpr) isExpr() {}

type UnaryExpr struct {
	Op string
	X  Expr
}

func (UnaryExpr) isExpr() {}

// CallExpr models the built-in script functions that take expression
// arguments: ALIGN(expr[,expr]), ADDR(section), LOADADDR(section),
// SIZEOF(section), DEFINED(symbol), ABSOLUTE(expr), MAX/MIN(a,b).
type CallExpr struct {
	Func string
	Args []Expr
	// Name holds the bare identifier argument for ADDR/LOADADDR/SIZEOF/
	// DEFINED, which take a section or symbol name rather than a
	// sub-expression.
	Name string
}

func (CallExpr) isExpr() {}
