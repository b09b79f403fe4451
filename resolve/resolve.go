// Package resolve implements the symbol resolver / name pool (C8): a
// process-wide map from symbol name to the winning definition, applying
// the three-way (undef/weak/strong/common) override table in §4.4.
package resolve

import (
	"fmt"
	"sort"

	"github.com/go-eld/eldlink/obj"
	"github.com/go-eld/eldlink/symtab"
)

// Origin is the InputFile a resolved symbol came from. The resolver
// only needs String() out of it; package input's InputFile satisfies
// this via Owner().String().
type Origin interface {
	String() string
}

// ResolveInfo is the resolver's record for one name: the winning
// symbol plus bookkeeping the override table needs (§3 data model).
type ResolveInfo struct {
	Name       string
	Sym        obj.Sym
	Origin     Origin
	Ordinal    int // Input.Ordinal of the winning definition, for stable tie-breaks
	Bitcode    bool
	Visibility obj.SymVisibility // combined across every reference/definition seen
}

// DuplicateDefinitionError reports two strong definitions of the same
// symbol (§4.4 table: Strong Def × Strong Def).
type DuplicateDefinitionError struct {
	Name        string
	First, Second Origin
}

func (e *DuplicateDefinitionError) Error() string {
	return fmt.Sprintf("duplicate definition of %q: first in %s, again in %s", e.Name, e.First, e.Second)
}

// Pool is the process-wide name pool. Not safe for concurrent
// mutation; callers serialize calls to Insert per group-scan pass.
type Pool struct {
	entries map[string]*ResolveInfo

	// AllowMultipleDefinition, when true, downgrades a duplicate
	// strong-definition conflict to "keep the first" instead of an
	// error, mirroring --allow-multiple-definition.
	AllowMultipleDefinition bool

	// wraps maps a wrapped real name to true; Insert consults this to
	// redirect incoming references (§4.4: "installs aliases
	// __wrap_sym <-> sym ... before archive scanning").
	wraps map[string]bool
}

func NewPool() *Pool {
	return &Pool{entries: map[string]*ResolveInfo{}}
}

// InstallWrap records that name is wrapped: subsequent Insert calls
// for name, references and definitions alike, are redirected to
// "__wrap_"+name. No "__real_"+name alias is registered; an Insert of
// "__real_"+name is an ordinary name. Must be called before any
// archive scanning begins (§4.4).
func (p *Pool) InstallWrap(name string) {
	if p.wraps == nil {
		p.wraps = map[string]bool{}
	}
	p.wraps[name] = true
}

func (p *Pool) wrappedName(name string) string {
	if p.wraps[name] {
		return "__wrap_" + name
	}
	return name
}

// Insert applies the §4.4 override table for a single candidate symbol
// sym (described by its Desc: Undefined, Defined weak/strong by
// Binding, or Common) against whatever the pool currently holds for
// that name. ordinal is the owning Input's ordinal, used as the
// stable tie-break GNU ld applies between equally-ranked weak
// definitions (first one wins).
func (p *Pool) Insert(name string, sym obj.Sym, origin Origin, ordinal int, bitcode bool) error {
	name = p.wrappedName(name)

	existing, ok := p.entries[name]
	if !ok {
		p.entries[name] = &ResolveInfo{Name: name, Sym: sym, Origin: origin, Ordinal: ordinal, Bitcode: bitcode, Visibility: sym.Visibility}
		return nil
	}
	existing.Visibility = combineVisibility(existing.Visibility, sym.Visibility)

	eClass := classify(existing.Sym)
	cClass := classify(sym)

	switch eClass {
	case classUndef:
		// Undef E yields to anything but another Undef.
		if cClass == classUndef {
			return nil
		}
		p.replace(existing, name, sym, origin, ordinal, bitcode)
		return nil

	case classWeakDef:
		switch cClass {
		case classUndef, classCommon:
			return nil
		case classWeakDef:
			return nil // keep E; stable, first (lower ordinal) wins
		case classStrongDef:
			p.replace(existing, name, sym, origin, ordinal, bitcode)
			return nil
		}

	case classStrongDef:
		switch cClass {
		case classUndef, classWeakDef, classCommon:
			return nil
		case classStrongDef:
			if existing.Bitcode && !bitcode {
				// LTO second pass: a bitcode-provided strong
				// definition is replaced by the post-LTO object's
				// definition of the same symbol (§4.4 LTO integration).
				p.replace(existing, name, sym, origin, ordinal, bitcode)
				return nil
			}
			if p.AllowMultipleDefinition {
				return nil
			}
			return &DuplicateDefinitionError{Name: name, First: existing.Origin, Second: origin}
		}

	case classCommon:
		switch cClass {
		case classUndef:
			if sym.Size > existing.Sym.Size {
				existing.Sym.Size = sym.Size
			}
			return nil
		case classCommon:
			// alignment isn't tracked on obj.Sym; size is the only
			// common-block field this pool combines.
			if sym.Size > existing.Sym.Size {
				existing.Sym.Size = sym.Size
			}
			return nil
		case classStrongDef:
			p.replace(existing, name, sym, origin, ordinal, bitcode)
			return nil
		case classWeakDef:
			return nil
		}
	}
	return nil
}

func (p *Pool) replace(existing *ResolveInfo, name string, sym obj.Sym, origin Origin, ordinal int, bitcode bool) {
	vis := existing.Visibility
	*existing = ResolveInfo{Name: name, Sym: sym, Origin: origin, Ordinal: ordinal, Bitcode: bitcode, Visibility: vis}
}

type symClass int

const (
	classUndef symClass = iota
	classWeakDef
	classStrongDef
	classCommon
)

func classify(sym obj.Sym) symClass {
	switch sym.Desc {
	case obj.DescUndefined:
		return classUndef
	case obj.DescCommon:
		return classCommon
	default: // DescDefined
		if sym.Binding == obj.BindWeak {
			return classWeakDef
		}
		return classStrongDef
	}
}

// combineVisibility returns the most restrictive of a, b, ordered
// Default < Protected < Hidden < Internal per ELF's st_other scale;
// obj.SymVisibility's iota order (Default, Internal, Hidden, Protected)
// is not that scale, so rank them explicitly here (§4.4: "most restrictive of
// the inputs that defined or referenced the symbol").
func combineVisibility(a, b obj.SymVisibility) obj.SymVisibility {
	if visRank(b) > visRank(a) {
		return b
	}
	return a
}

func visRank(v obj.SymVisibility) int {
	switch v {
	case obj.VisInternal:
		return 3
	case obj.VisHidden:
		return 2
	case obj.VisProtected:
		return 1
	default:
		return 0
	}
}

// Lookup returns the current resolution for name, if any.
func (p *Pool) Lookup(name string) (*ResolveInfo, bool) {
	info, ok := p.entries[name]
	return info, ok
}

// Undefined returns the names still unresolved (Desc == DescUndefined)
// after all inputs have been scanned; used by the driver to report
// "undefined reference" diagnostics and by the archive group scanner
// to decide whether another pass is needed.
func (p *Pool) Undefined() []string {
	var names []string
	for name, info := range p.entries {
		if info.Sym.Desc == obj.DescUndefined {
			names = append(names, name)
		}
	}
	return names
}

// Len returns the number of names currently in the pool.
func (p *Pool) Len() int {
	return len(p.entries)
}

// Finalize builds a symtab.Table over every resolved symbol, once
// addresses have been assigned by the layout engine (§4.11's
// "finalize symbol values" phase, §4.7 step 6). addrOf supplies each
// defined symbol's final linked address — the driver passes
// layout.OutputSection.FragmentAddress wrapped up by section/fragment
// lookup; a symbol addrOf reports unknown for (an absolute symbol, a
// TLS symbol already expressed as a TLS-relative offset, or a symbol
// with no backing fragment) keeps its pre-link Sym.Value unchanged.
// addrOf may be nil, in which case every symbol keeps Sym.Value as-is
// (useful for tests and for -r relocatable output, which never
// assigns final addresses).
//
// obj.SynthesizeSizes runs over the finalized slice first, so
// zero-sized data symbols pick up a heuristic size from neighboring
// symbols in the same section before the table is built; resolution
// itself never needed synthesized sizes, only the output symtab does.
func (p *Pool) Finalize(addrOf func(name string) (uint64, bool)) *symtab.Table {
	names := make([]string, 0, len(p.entries))
	for name := range p.entries {
		names = append(names, name)
	}
	sort.Strings(names)

	syms := make([]obj.Sym, len(names))
	for i, name := range names {
		sym := p.entries[name].Sym
		sym.Name = name
		if addrOf != nil && sym.Desc == obj.DescDefined {
			if addr, ok := addrOf(name); ok {
				sym.Value = addr
			}
		}
		syms[i] = sym
	}
	obj.SynthesizeSizes(syms)
	return symtab.NewTable(syms)
}
