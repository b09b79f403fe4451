// Package input implements the input data model (C4) and the
// input-action stream (C5): an ordered list of link-line command
// objects that mutate a builder's current-attribute set and resolve
// to the Inputs the rest of the linker consumes.
package input

import (
	"fmt"

	"github.com/go-eld/eldlink/obj"
)

// FileType tags the kind of an InputFile, matching the variant named
// in the data model (§3).
type FileType int

const (
	TypeObject FileType = iota
	TypeDynamicLibrary
	TypeExecutable
	TypeArchive
	TypeArchiveMember
	TypeScript
	TypeBitcode
	TypeInternal
	TypeSymdef
)

func (t FileType) String() string {
	switch t {
	case TypeObject:
		return "object"
	case TypeDynamicLibrary:
		return "dynamic library"
	case TypeExecutable:
		return "executable"
	case TypeArchive:
		return "archive"
	case TypeArchiveMember:
		return "archive member"
	case TypeScript:
		return "script"
	case TypeBitcode:
		return "bitcode"
	case TypeInternal:
		return "internal"
	case TypeSymdef:
		return "symdef"
	default:
		return "unknown"
	}
}

// Attributes is a snapshot of the action-stream builder's toggles at
// the moment an Input was created (§9 design note: "materialize
// 'attributes at point' into each resulting input at creation time so
// downstream code never needs to consult a global builder state").
type Attributes struct {
	Static       bool // -Bstatic in effect: prefer archives over dynlibs
	WholeArchive bool // force-extract every archive member
	AsNeeded     bool // DT_NEEDED only if referenced
	AddNeeded    bool // add transitive DT_NEEDED
	JustSymbols  bool // load symbols only; contributes no bytes
	PatchBase    bool // this input is the base image of a patch link
}

// Input is a named reference to something the link consumes: a file
// path, a namespec to be resolved later, or an internal (synthetic)
// input. ordinal gives Input its place in the total order used for
// symbol-resolution tie-breaking (§3 invariant).
type Input struct {
	// Name is the name as it appeared on the link line: a file path,
	// or a bare namespec (e.g. "c" for "-lc").
	Name string
	// Namespec is true if Name must still be resolved to a path by
	// the search-dir resolver (C6).
	Namespec bool
	// ResolvedPath is the filesystem path this input resolved to, set
	// once C6 (or a direct file path) determines it. Empty until then.
	ResolvedPath string

	Type       FileType
	Attributes Attributes

	// Ordinal is this input's position in the total order identical
	// to command-line position. Archive members inherit the ordinal
	// of their enclosing archive (§3 invariant).
	Ordinal int

	// File is the parsed contents, set once the reader (C7) or
	// archive reader has processed this input. nil until then.
	File InputFile
}

func (i *Input) String() string {
	if i == nil {
		return "<nil>"
	}
	return i.Name
}

// InputFile is the parsed contents of an Input. Every concrete file
// kind embeds inputFileBase so back-references to Input are uniform
// (§9 design note: "Input is the single owner of its InputFile").
type InputFile interface {
	// Owner returns the Input this InputFile was parsed from.
	Owner() *Input
	// FileType returns this InputFile's variant tag.
	FileType() FileType
}

type inputFileBase struct {
	owner *Input
}

func (b *inputFileBase) Owner() *Input { return b.owner }

// Object wraps a parsed relocatable ELF object (or, for a patch-base
// link, an Executable/DynamicLibrary read through the same obj.File
// interface).
type Object struct {
	inputFileBase
	File obj.File

	// SectionRuleNames optionally overrides the name the section
	// mapper (C10) matches a section against, supplied by a plugin's
	// ActBeforeRuleMatching hook. Indexed by obj.SectionID.
	SectionRuleNames map[obj.SectionID]string
}

func NewObject(owner *Input, f obj.File) *Object {
	return &Object{inputFileBase: inputFileBase{owner}, File: f}
}

func (o *Object) FileType() FileType {
	switch o.File.Info().Type {
	case obj.TypeDynamicLibrary:
		return TypeDynamicLibrary
	case obj.TypeExecutable:
		return TypeExecutable
	default:
		return TypeObject
	}
}

// Archive is a SysV archive (`!<arch>\n`), holding an index of member
// offsets by symbol name plus the members already extracted.
type Archive struct {
	inputFileBase
	Members []*ArchiveMember

	// symbolIndex maps a symbol name defined in some member to that
	// member's index in Members, from the archive's symbol table
	// (`/` entry) or a thin-archive equivalent.
	symbolIndex map[string]int
	extracted   map[int]bool
}

func NewArchive(owner *Input) *Archive {
	return &Archive{
		inputFileBase: inputFileBase{owner},
		symbolIndex:   map[string]int{},
		extracted:     map[int]bool{},
	}
}

func (a *Archive) FileType() FileType { return TypeArchive }

// IndexSymbol records that memberIndex defines name, for extraction
// lookup during group scanning (§4.4).
func (a *Archive) IndexSymbol(name string, memberIndex int) {
	if _, ok := a.symbolIndex[name]; !ok {
		a.symbolIndex[name] = memberIndex
	}
}

// MemberDefining returns the member index that defines name and
// whether one exists.
func (a *Archive) MemberDefining(name string) (int, bool) {
	i, ok := a.symbolIndex[name]
	return i, ok
}

// Extract marks memberIndex as extracted, returning false if it was
// already extracted (extraction must be idempotent within a group,
// per §8 boundary cases).
func (a *Archive) Extract(memberIndex int) bool {
	if a.extracted[memberIndex] {
		return false
	}
	a.extracted[memberIndex] = true
	return true
}

func (a *Archive) IsExtracted(memberIndex int) bool {
	return a.extracted[memberIndex]
}

// ArchiveMember is one member of an Archive, holding its own parsed
// Object once extracted.
type ArchiveMember struct {
	inputFileBase
	Archive *Archive
	Name    string // the member's name within the archive
	Offset  int64  // byte offset of the member header within the archive
	Object  *Object
}

func (m *ArchiveMember) FileType() FileType { return TypeArchiveMember }

// Script is a linker-script input, recorded for replay but parsed by
// package script.
type Script struct {
	inputFileBase
	Path string
}

func (s *Script) FileType() FileType { return TypeScript }

func NewScript(owner *Input, path string) *Script {
	return &Script{inputFileBase: inputFileBase{owner}, Path: path}
}

// Internal is a synthetic input the linker itself creates (e.g. to
// hold --defsym symbols or command-line-provided absolute symbols)
// rather than one that came from reading a file.
type Internal struct {
	inputFileBase
	Label string
}

func (i *Internal) FileType() FileType { return TypeInternal }

func NewInternal(owner *Input, label string) *Internal {
	return &Internal{inputFileBase: inputFileBase{owner}, Label: label}
}

// Symdef is a symdef-file input (§6): a text file of absolute
// "<value>\t<TYPE>\t<name>" symbol definitions, parsed by ParseSymdef
// and installed into a resolve.Pool via ApplyTo rather than going
// through obj.Open like a regular relocatable object.
type Symdef struct {
	inputFileBase
	Path    string
	Entries []SymdefEntry
	Style   SymdefStyle
}

func (s *Symdef) FileType() FileType { return TypeSymdef }

func NewSymdef(owner *Input, path string, entries []SymdefEntry, style SymdefStyle) *Symdef {
	return &Symdef{inputFileBase: inputFileBase{owner}, Path: path, Entries: entries, Style: style}
}

// ErrNestedGroup is returned when StartGroup is seen while already
// inside a group (§4.1: "nesting is an error").
var ErrNestedGroup = fmt.Errorf("nested --start-group is not allowed")

// ErrUnmatchedEndGroup is returned when EndGroup is seen with no
// matching StartGroup.
var ErrUnmatchedEndGroup = fmt.Errorf("--end-group without matching --start-group")
