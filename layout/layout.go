// Package layout implements the layout engine (C13): the state
// machine that assigns fragment offsets and output addresses, builds
// segments, and evaluates script expressions (§4.7).
package layout

import (
	"fmt"

	"github.com/go-eld/eldlink/internal/imap"
)

// State is one node of the layout engine's pipeline state machine.
// Transitions are unidirectional (§4.7).
type State int

const (
	StateUnknown State = iota
	StateInitializing
	StateBeforeLayout
	StateCreatingSections
	StateCreatingSegments
	StateAfterLayout
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "Initializing"
	case StateBeforeLayout:
		return "BeforeLayout"
	case StateCreatingSections:
		return "CreatingSections"
	case StateCreatingSegments:
		return "CreatingSegments"
	case StateAfterLayout:
		return "AfterLayout"
	default:
		return "Unknown"
	}
}

// validNext enumerates the only state each state may advance to,
// enforcing the one-directional transition graph so a plugin's
// out-of-state call can be rejected without mutating anything (§4.7).
var validNext = map[State]State{
	StateUnknown:          StateInitializing,
	StateInitializing:     StateBeforeLayout,
	StateBeforeLayout:     StateCreatingSections,
	StateCreatingSections: StateCreatingSegments,
	StateCreatingSegments: StateAfterLayout,
}

// ErrOutOfState is returned when a caller (typically a plugin hook)
// invokes a state-scoped operation from the wrong state.
type ErrOutOfState struct {
	Want, Have State
}

func (e *ErrOutOfState) Error() string {
	return fmt.Sprintf("operation requires state %s, current state is %s", e.Want, e.Have)
}

// FragmentKind tags which of §3's Fragment variants a Fragment is.
// Most layout logic (offset assignment, size accounting) treats every
// kind alike; only stub insertion and the writer's BSS-skip care about
// the distinction.
type FragmentKind int

const (
	FragmentRegion FragmentKind = iota
	FragmentFill
	FragmentBSS
	FragmentMergeString
	FragmentStub
)

func (k FragmentKind) String() string {
	switch k {
	case FragmentFill:
		return "Fill"
	case FragmentBSS:
		return "BSS"
	case FragmentMergeString:
		return "MergeString"
	case FragmentStub:
		return "Stub"
	default:
		return "Region"
	}
}

// Fragment is a chunk of bytes (or pure-size BSS) owned by an output
// section, the layout engine's unit of offset assignment (§3).
type Fragment struct {
	ID     int
	Size   uint64
	Align  uint64
	Offset uint64 // within its output section, assigned by Engine
	IsBSS  bool
	Kind   FragmentKind

	// StubTarget names the symbol a Stub/Trampoline fragment branches
	// on to, set only when Kind == FragmentStub (§4.7 step 3, §3
	// Fragment "Stub/Trampoline (synthesized)" variant).
	StubTarget string
}

// OutputSection is one section of the laid-out image.
type OutputSection struct {
	Name      string
	Address   uint64
	Fragments []*Fragment
	Align     uint64

	// Flags carries the ELF section flags (SHF_WRITE/SHF_ALLOC/
	// SHF_EXECINSTR, or a target's own bit encoding) this output
	// section's fragments agree on; BuildSegments groups consecutive
	// sections sharing Flags into one PT_LOAD (§4.7 step 4:
	// "flag-compatible run of sections").
	Flags uint64
}

// AllBSS reports whether every fragment in o is BSS (zero-initialized,
// no file bytes): such a section contributes to a segment's MemSize
// but not its FileSize.
func (o *OutputSection) AllBSS() bool {
	if len(o.Fragments) == 0 {
		return false
	}
	for _, f := range o.Fragments {
		if !f.IsBSS && f.Kind != FragmentBSS {
			return false
		}
	}
	return true
}

// Size returns the output section's total size after fragments have
// been offset-assigned.
func (o *OutputSection) Size() uint64 {
	if len(o.Fragments) == 0 {
		return 0
	}
	last := o.Fragments[len(o.Fragments)-1]
	return last.Offset + last.Size
}

// Engine drives the layout state machine over a fixed list of output
// sections built by the section mapper.
type Engine struct {
	state    State
	Sections []*OutputSection
	Segments []*Segment

	// index maps final output addresses back to the owning section
	// name, built once CreatingSegments assigns every section's base
	// address; backed by the generic coalescing interval map so a
	// symbol-finalization or relocation lookup by address is O(log n)
	// instead of a linear section scan.
	index imap.Imap

	fragmentSeq int
}

func NewEngine() *Engine {
	return &Engine{state: StateUnknown}
}

func (e *Engine) State() State { return e.state }

// Advance transitions to the next state, or returns ErrOutOfState if
// there is no valid transition from the current state (the pipeline
// has already finished).
func (e *Engine) Advance() (State, error) {
	next, ok := validNext[e.state]
	if !ok {
		return e.state, &ErrOutOfState{Want: StateAfterLayout, Have: e.state}
	}
	e.state = next
	return e.state, nil
}

// requireState returns ErrOutOfState unless the engine is currently in
// want; every plugin-visible mutation goes through this first (§4.10:
// "an out-of-state call returns an error diagnostic without mutating
// state").
func (e *Engine) requireState(want State) error {
	if e.state != want {
		return &ErrOutOfState{Want: want, Have: e.state}
	}
	return nil
}

// AssignOffsets performs §4.7 step 2 (preliminary offset assignment):
// within each output section, fragments are laid out in order,
// honoring alignment. Must run in StateCreatingSections.
func (e *Engine) AssignOffsets() error {
	if err := e.requireState(StateCreatingSections); err != nil {
		return err
	}
	for _, sec := range e.Sections {
		var cursor uint64
		for _, f := range sec.Fragments {
			if f.Align > 1 {
				cursor = alignUp(cursor, f.Align)
			}
			f.Offset = cursor
			cursor += f.Size
		}
	}
	return nil
}

// section returns the output section named name, or nil.
func (e *Engine) section(name string) *OutputSection {
	for _, s := range e.Sections {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// InsertStub appends a new Stub/Trampoline fragment to the named
// output section (§4.7 step 3: "insert or reuse a trampoline
// fragment"). Must run in StateCreatingSections, the same state
// AssignOffsets requires, so a caller that discovers an out-of-range
// relocation mid-layout can insert a stub and re-run AssignOffsets
// without leaving the state machine.
func (e *Engine) InsertStub(sectionName, stubTarget string, size, align uint64) (*Fragment, error) {
	if err := e.requireState(StateCreatingSections); err != nil {
		return nil, err
	}
	sec := e.section(sectionName)
	if sec == nil {
		return nil, fmt.Errorf("layout: no output section %q to insert a stub into", sectionName)
	}
	e.fragmentSeq++
	f := &Fragment{ID: e.fragmentSeq, Size: size, Align: align, Kind: FragmentStub, StubTarget: stubTarget}
	sec.Fragments = append(sec.Fragments, f)
	return f, nil
}

// StubCheck reports whether fragment f (in output section sec) needs
// a stub inserted to reach symbol name target, and the size/alignment
// the target's relocator wants the stub fragment to have. Callers
// implement this against their target's Relocator.InRange.
type StubCheck func(sec *OutputSection, f *Fragment) (target string, size, align uint64, needStub bool)

// ResolveStubs implements the §4.7 step 3 fixpoint: it runs an initial
// AssignOffsets, then repeatedly asks check about every fragment,
// inserting a stub for each one that reports needStub and reassigning
// offsets after each pass, until a pass inserts nothing or maxPasses
// is exhausted (a bounded fixpoint: a relocation chain that can never
// be satisfied would otherwise loop the link forever). It returns the
// number of stubs inserted.
func (e *Engine) ResolveStubs(check StubCheck, maxPasses int) (inserted int, err error) {
	if err := e.AssignOffsets(); err != nil {
		return 0, err
	}
	for pass := 0; pass < maxPasses; pass++ {
		added := false
		for _, sec := range e.Sections {
			// Snapshot before the loop: InsertStub appends to
			// sec.Fragments, and a newly inserted stub is itself
			// never a relocation target needing a stub.
			current := sec.Fragments
			for _, f := range current {
				target, size, align, needStub := check(sec, f)
				if !needStub {
					continue
				}
				if _, err := e.InsertStub(sec.Name, target, size, align); err != nil {
					return inserted, err
				}
				inserted++
				added = true
			}
		}
		if err := e.AssignOffsets(); err != nil {
			return inserted, err
		}
		if !added {
			return inserted, nil
		}
	}
	return inserted, fmt.Errorf("layout: stub insertion did not reach a fixpoint after %d passes", maxPasses)
}

func alignUp(v, align uint64) uint64 {
	if align == 0 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

// AssignAddresses assigns each output section a base address starting
// at base, packing sections back-to-back aligned to each section's
// own alignment requirement, and indexes the resulting [addr, addr+size)
// ranges for AddressToSection. Must run in StateCreatingSegments
// (§4.7 step 4, simplified: one flag-compatible run per call; a
// driver wanting multiple PT_LOAD segments calls this once per run).
func (e *Engine) AssignAddresses(base uint64) (uint64, error) {
	if err := e.requireState(StateCreatingSegments); err != nil {
		return 0, err
	}
	addr := base
	for _, sec := range e.Sections {
		if sec.Align > 1 {
			addr = alignUp(addr, sec.Align)
		}
		sec.Address = addr
		size := sec.Size()
		if size > 0 {
			e.index.Insert(imap.Interval{Low: addr, High: addr + size}, sec.Name)
		}
		addr += size
	}
	return addr, nil
}

// AddressToSection returns the name of the output section containing
// addr, if any.
func (e *Engine) AddressToSection(addr uint64) (string, bool) {
	_, v := e.index.Find(addr)
	if v == nil {
		return "", false
	}
	return v.(string), true
}

// FragmentAddress returns a fragment's final address: its owning
// section's base address plus its offset. Valid only once both
// AssignOffsets and AssignAddresses have run.
func (o *OutputSection) FragmentAddress(f *Fragment) uint64 {
	return o.Address + f.Offset
}

// Segment is an ELF program-header entry describing a run of output
// sections loaded together at runtime (§3 Segment model, §4.7 step 4).
//
// This engine does not model a file-offset/vaddr skew (PIE images
// that map the same content at a different file offset than its
// virtual address): FileOffset mirrors VAddr, matching how
// AssignAddresses already treats a section's single Address as both
// its packing key and its load address. A target wanting a genuine
// skew computes its own writer.Section.Offset from VAddr when
// lowering a Segment to program-header bytes.
type Segment struct {
	Type       string // "PT_LOAD", "PT_DYNAMIC", "PT_PHDR", "PT_INTERP", "PT_GNU_EH_FRAME", "PT_GNU_STACK", "PT_GNU_RELRO"
	Flags      uint64 // PF_R|PF_W|PF_X (or a target's own bit encoding)
	VAddr      uint64
	PAddr      uint64
	FileOffset uint64
	FileSize   uint64
	MemSize    uint64
	Align      uint64
	Sections   []*OutputSection
}

// AddSegment appends a fully-formed segment, for a PHDRS-driven build
// (§4.7 step 4: "evaluate PHDRS if present") where the script already
// names which sections belong to which segment; the caller (the
// component that walks script.Phdr and resolves its section list)
// computes VAddr/FileSize/MemSize from the named sections' laid-out
// addresses and calls this once per Phdr entry. Must run in
// StateCreatingSegments.
func (e *Engine) AddSegment(seg *Segment) error {
	if err := e.requireState(StateCreatingSegments); err != nil {
		return err
	}
	e.Segments = append(e.Segments, seg)
	return nil
}

// BuildSegments synthesizes a default PT_LOAD per flag-compatible run
// of sections (§4.7 step 4), for the no-PHDRS case. Must run in
// StateCreatingSegments, after AssignAddresses has given every section
// its base address. Segment VAddr aligns up to maxPageSize at the
// start of each new run unless noAlignSegments.
func (e *Engine) BuildSegments(maxPageSize uint64, noAlignSegments bool) error {
	if err := e.requireState(StateCreatingSegments); err != nil {
		return err
	}
	e.Segments = nil
	var cur *Segment
	for _, sec := range e.Sections {
		if len(sec.Fragments) == 0 {
			continue
		}
		if cur == nil || cur.Flags != sec.Flags {
			vaddr := sec.Address
			if !noAlignSegments {
				vaddr = alignDown(vaddr, maxPageSize)
			}
			cur = &Segment{Type: "PT_LOAD", Flags: sec.Flags, VAddr: vaddr, PAddr: vaddr, FileOffset: vaddr, Align: maxPageSize}
			e.Segments = append(e.Segments, cur)
		}
		cur.Sections = append(cur.Sections, sec)
		end := sec.Address + sec.Size()
		if m := end - cur.VAddr; m > cur.MemSize {
			cur.MemSize = m
		}
		if !sec.AllBSS() {
			if f := end - cur.VAddr; f > cur.FileSize {
				cur.FileSize = f
			}
		}
	}
	return nil
}

func alignDown(v, align uint64) uint64 {
	if align == 0 {
		return v
	}
	return v &^ (align - 1)
}
