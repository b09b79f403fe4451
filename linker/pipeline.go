package linker

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/go-eld/eldlink/config"
	"github.com/go-eld/eldlink/diag"
	"github.com/go-eld/eldlink/gc"
	"github.com/go-eld/eldlink/input"
	"github.com/go-eld/eldlink/layout"
	"github.com/go-eld/eldlink/obj"
	"github.com/go-eld/eldlink/plugin"
	"github.com/go-eld/eldlink/relocapply"
	"github.com/go-eld/eldlink/resolve"
	"github.com/go-eld/eldlink/script"
	"github.com/go-eld/eldlink/secmap"
	"github.com/go-eld/eldlink/symtab"
	"github.com/go-eld/eldlink/writer"
)

// fileOrigin satisfies resolve.Origin with just the path a symbol
// came from, the only thing the pool needs out of an Input for
// diagnostics (§4.4).
type fileOrigin string

func (o fileOrigin) String() string { return string(o) }

// openInput is one input file, already opened and classified as
// either a relocatable object or a symdef text file (§6).
type openInput struct {
	path    string
	ordinal int
	obj     obj.File // nil for a symdef input
	symdef  []input.SymdefEntry
	style   input.SymdefStyle
}

// secInfo is the pipeline's bookkeeping record for one candidate
// loadable input section: which output section it landed in, its
// global gc.Section id, and (once built) the layout.Fragment holding
// its bytes.
type secInfo struct {
	owner   *openInput
	sec     *obj.Section
	id      int
	outName string
	frag    *layout.Fragment
	live    bool
}

// pipeline threads the state every wired phase closure needs between
// phase boundaries; linker.Driver itself stays stateless (§4.11), so
// this struct is this package's equivalent of the "component state"
// its doc comment says a phase closure closes over.
type pipeline struct {
	cfg     *config.Config
	diags   *diag.Engine
	plugins *plugin.Host

	inputs []*openInput
	pool   *resolve.Pool

	secByObj  map[*obj.Section]*secInfo
	allSecs   []*secInfo
	relocs    map[*secInfo][]obj.Reloc

	eng           *layout.Engine
	sectionsByName map[string]*layout.OutputSection

	loadBias uint64
	base     uint64
	relocator relocapply.Relocator

	entry            string
	finishedSections []writer.Section
	symtab           *symtab.Table
	image            []byte
}

// Wire builds a pipeline over inputPaths and registers its phase
// closures on d, so that d.Run actually reads objects, resolves
// symbols, lays out sections and segments, applies relocations, and
// writes a linked ELF executable to cfg.Output (§4.11's fixed phase
// list, driven for real instead of left at the all-no-op default).
func Wire(d *Driver, cfg *config.Config, diags *diag.Engine, plugins *plugin.Host, inputPaths []string) {
	p := &pipeline{
		cfg:            cfg,
		diags:          diags,
		plugins:        plugins,
		pool:           resolve.NewPool(),
		secByObj:       map[*obj.Section]*secInfo{},
		relocs:         map[*secInfo][]obj.Reloc{},
		eng:            layout.NewEngine(),
		sectionsByName: map[string]*layout.OutputSection{},
		relocator:      amd64Relocator{},
		entry:          cfg.Entry,
	}
	if p.entry == "" {
		p.entry = "_start"
	}
	p.loadBias = cfg.ImageBase
	if p.loadBias == 0 {
		p.loadBias = 0x400000
	}
	p.base = 0x1000

	d.SetPhase("create internal inputs", func(ctx context.Context) error {
		return p.openInputs(inputPaths)
	})
	d.SetPhase("read all inputs", func(ctx context.Context) error {
		return p.readSymbols()
	})
	d.SetPhase("read relocations", func(ctx context.Context) error {
		return p.readRelocations()
	})
	d.SetPhase("allocate commons", func(ctx context.Context) error {
		return p.allocateCommons()
	})
	d.SetPhase("assign output sections", func(ctx context.Context) error {
		return p.assignOutputSections()
	})
	d.SetPhase("GC", func(ctx context.Context) error {
		return p.runGC()
	})
	d.SetPhase("layout", func(ctx context.Context) error {
		return p.runLayout(ctx)
	})
	d.SetPhase("apply relocations", func(ctx context.Context) error {
		return p.applyRelocations()
	})
	d.SetPhase("finalize symbol values", func(ctx context.Context) error {
		return p.finalizeSymbols()
	})
	d.SetPhase("emit", func(ctx context.Context) error {
		return p.emit()
	})
	d.SetPhase("commit", func(ctx context.Context) error {
		return p.commit()
	})
}

// loadableKinds lists the section kinds the pipeline carries content
// for; every other kind (symbol/string/relocation/dynamic/note
// tables, groups, already-discarded sections) is metadata the writer
// never needs a byte range for.
var loadableKinds = map[obj.SectionKind]bool{
	obj.SectionRegular:     true,
	obj.SectionBSS:         true,
	obj.SectionMergeString: true,
	obj.SectionEhFrame:     true,
	obj.SectionLinkOnce:    true,
}

func (p *pipeline) openInputs(paths []string) error {
	for i, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			p.diags.Report(diag.Fatal, "open-input", "", "%s: %v", path, err)
			return err
		}

		var magic [4]byte
		if _, err := f.ReadAt(magic[:], 0); err != nil {
			f.Close()
			p.diags.Report(diag.Fatal, "open-input", "", "%s: %v", path, err)
			return err
		}

		in := &openInput{path: path, ordinal: i}
		if magic[0] == 0x7f && magic[1] == 'E' && magic[2] == 'L' && magic[3] == 'F' {
			parsed, err := obj.Open(f)
			if err != nil {
				f.Close()
				p.diags.Report(diag.Fatal, "open-input", "", "%s: %v", path, err)
				return err
			}
			in.obj = parsed
		} else {
			entries, style, err := input.ParseSymdef(f)
			f.Close()
			if err != nil {
				p.diags.Report(diag.Fatal, "open-input", "", "%s: %v", path, err)
				return err
			}
			in.symdef = entries
			in.style = style
		}
		p.inputs = append(p.inputs, in)
	}
	p.diags.Report(diag.Note, "inputs", "", "%d input file(s) queued", len(paths))
	return nil
}

// readSymbols installs every input's global/weak/common symbols into
// the name pool (§4.4), and applies symdef entries through the same
// pool via input.ApplyTo (§6).
func (p *pipeline) readSymbols() error {
	for _, in := range p.inputs {
		if in.obj == nil {
			if err := input.ApplyTo(p.pool, in.symdef, in.style, fileOrigin(in.path), in.ordinal); err != nil {
				p.diags.Report(diag.Error, "symdef", "", "%s: %v", in.path, err)
			}
			continue
		}
		for i := obj.SymID(0); i < in.obj.NumSyms(); i++ {
			sym := in.obj.Sym(i)
			if sym.Local() || sym.Name == "" {
				continue
			}
			if err := p.pool.Insert(sym.Name, sym, fileOrigin(in.path), in.ordinal, false); err != nil {
				p.diags.Report(diag.Error, "duplicate-symbol", "", "%v", err)
			}
		}
	}
	return nil
}

func (p *pipeline) readRelocations() error {
	for _, in := range p.inputs {
		if in.obj == nil {
			continue
		}
		for _, sec := range in.obj.Sections() {
			if !loadableKinds[sec.Kind] {
				continue
			}
			relocs, err := in.obj.Relocs(sec.ID)
			if err != nil {
				p.diags.Report(diag.Error, "read-relocations", "", "%s:%s: %v", in.path, sec.Name, err)
				continue
			}
			si := &secInfo{owner: in, sec: sec, id: len(p.allSecs), outName: sec.Name, live: true}
			p.allSecs = append(p.allSecs, si)
			p.secByObj[sec] = si
			p.relocs[si] = relocs
		}
	}
	return nil
}

// allocateCommons promotes every still-tentative common-block symbol
// into a synthesized zero-initialized allocation (§4.4: "a Common
// definition that nothing overrides becomes a .bss allocation").
// Each common gets its own synthetic *obj.Section purely as a unique
// map key for the address resolver; it owns no input file.
func (p *pipeline) allocateCommons() error {
	var names []string
	for name, info := range p.poolEntries() {
		if info.Sym.Desc == obj.DescCommon {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		info, _ := p.pool.Lookup(name)
		// Align=8 is a documented simplification: obj.Sym carries no
		// alignment field to synthesize a common's real requirement from.
		synthetic := &obj.Section{Name: ".bss", Kind: obj.SectionBSS, Align: 8}
		synthetic.SetZeroInitialized(true)
		si := &secInfo{sec: synthetic, id: len(p.allSecs), outName: ".bss", live: true}
		p.allSecs = append(p.allSecs, si)
		p.secByObj[synthetic] = si

		sym := info.Sym
		sym.Section = synthetic
		sym.Value = 0
		sym.Desc = obj.DescDefined
		sym.Kind = obj.SymData
		// Insert below replaces through the normal override table; a
		// common is always the pool's current entry for name at this
		// point, so classify(existing)==classCommon always takes the
		// classStrongDef branch and installs this promoted definition.
		if err := p.pool.Insert(name, sym, info.Origin, info.Ordinal, info.Bitcode); err != nil {
			return err
		}
	}
	return nil
}

// poolEntries is a small escape hatch into resolve.Pool's otherwise
// name-keyed API: allocateCommons needs every current entry's Desc,
// and Pool has no bulk enumerator, so this scans every input's own
// symbol names and looks each one up.
func (p *pipeline) poolEntries() map[string]*resolve.ResolveInfo {
	out := map[string]*resolve.ResolveInfo{}
	for _, in := range p.inputs {
		if in.obj == nil {
			continue
		}
		for i := obj.SymID(0); i < in.obj.NumSyms(); i++ {
			sym := in.obj.Sym(i)
			if sym.Local() || sym.Name == "" {
				continue
			}
			if info, ok := p.pool.Lookup(sym.Name); ok {
				out[sym.Name] = info
			}
		}
	}
	return out
}

// assignOutputSections maps every candidate section to an output
// section (§4.5), building the layout engine's section list. With no
// -T script, every section lands in an output section named after
// itself (the §4.5 "place" orphan policy applied to every section,
// since an empty RuleSet matches nothing).
func (p *pipeline) assignOutputSections() error {
	var rules *secmap.RuleSet
	if sc, err := p.parseScripts(); err != nil {
		return err
	} else if sc != nil {
		rules = secmap.BuildRuleSet(sc.Sections)
		if sc.Entry != "" {
			p.entry = sc.Entry
		}
	} else {
		rules = secmap.BuildRuleSet(nil)
	}
	mapper := secmap.NewMapper(rules, p.cfg.Orphans)

	for _, si := range p.allSecs {
		path := ""
		if si.owner != nil {
			path = si.owner.path
		}
		a, err := mapper.Map(secmap.InputSection{FileName: path, Name: si.sec.Name})
		if err != nil {
			p.diags.Report(diag.Error, "orphan-section", "", "%v", err)
			si.live = false
			continue
		}
		if a.OutputSection == "" {
			si.live = false
			continue
		}
		si.outName = a.OutputSection

		out, ok := p.sectionsByName[si.outName]
		if !ok {
			out = &layout.OutputSection{Name: si.outName, Flags: uint64(sectionFlags(si.outName, si.sec))}
			p.sectionsByName[si.outName] = out
			p.eng.Sections = append(p.eng.Sections, out)
		}
		if si.sec.Align > out.Align {
			out.Align = si.sec.Align
		}

		frag := &layout.Fragment{
			ID:    si.id,
			Size:  si.sec.Size,
			Align: maxu64(1, si.sec.Align),
			IsBSS: si.sec.ZeroInitialized(),
			Kind:  fragmentKind(si.sec),
		}
		si.frag = frag
		out.Fragments = append(out.Fragments, frag)
	}
	return nil
}

func (p *pipeline) parseScripts() (*script.Script, error) {
	for _, se := range p.cfg.Scripts {
		if se.Kind != config.ScriptLinkerScript {
			continue
		}
		data, err := os.ReadFile(se.Path)
		if err != nil {
			return nil, err
		}
		sc, err := script.Parse(string(data))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", se.Path, err)
		}
		return sc, nil
	}
	return nil, nil
}

func fragmentKind(sec *obj.Section) layout.FragmentKind {
	switch {
	case sec.ZeroInitialized():
		return layout.FragmentBSS
	case sec.Kind == obj.SectionMergeString:
		return layout.FragmentMergeString
	default:
		return layout.FragmentRegion
	}
}

// sectionFlags derives a coarse PF_R/PF_W/PF_X set for an output
// section from its read-only bit plus the standard GNU-ld name
// convention for executable sections, since obj.Section doesn't carry
// SHF_EXECINSTR itself.
func sectionFlags(name string, sec *obj.Section) int {
	f := pfR
	if !sec.ReadOnly() {
		f |= pfW
	}
	switch {
	case hasPrefix(name, ".text"), hasPrefix(name, ".init"), hasPrefix(name, ".fini"), hasPrefix(name, ".plt"):
		f |= pfX
	}
	return f
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func maxu64(a, b uint64) uint64 {
	if b > a {
		return b
	}
	return a
}

// runGC strips unreachable Regular/MergeString/EhFrame sections
// (§4.6), rooted at the entry symbol and every -u/--undefined forced
// symbol. A no-op unless --gc-sections was requested.
func (p *pipeline) runGC() error {
	if !p.cfg.GCSections {
		return nil
	}
	g := gc.NewGraph()
	for _, si := range p.allSecs {
		var refs []int
		for _, r := range p.relocs[si] {
			if r.Symbol == obj.NoSym || si.owner == nil {
				continue
			}
			sym := si.owner.obj.Sym(r.Symbol)
			if sym.Section == nil {
				continue
			}
			if target, ok := p.secByObj[sym.Section]; ok {
				refs = append(refs, target.id)
			}
		}
		g.AddSection(gc.Section{ID: si.id, Kind: si.sec.Kind.String(), Refs: refs})
	}
	for _, root := range p.gcRoots() {
		g.AddRoot(root)
	}

	result := gc.Run(g)
	discarded := 0
	for _, si := range p.allSecs {
		if !result.Live[si.id] {
			si.live = false
			discarded++
			if out, ok := p.sectionsByName[si.outName]; ok {
				out.Fragments = removeFragment(out.Fragments, si.frag)
			}
		}
	}
	if p.cfg.PrintGCSections && discarded > 0 {
		p.diags.Report(diag.Note, "gc-sections", "", "removed %d unreferenced section(s)", discarded)
	}
	return nil
}

func (p *pipeline) gcRoots() []int {
	var roots []int
	names := append([]string{p.entry}, p.cfg.Undefined...)
	for _, name := range names {
		info, ok := p.pool.Lookup(name)
		if !ok || info.Sym.Section == nil {
			continue
		}
		if si, ok := p.secByObj[info.Sym.Section]; ok {
			roots = append(roots, si.id)
		}
	}
	return roots
}

func removeFragment(frags []*layout.Fragment, target *layout.Fragment) []*layout.Fragment {
	out := frags[:0]
	for _, f := range frags {
		if f != target {
			out = append(out, f)
		}
	}
	return out
}

// runLayout drives the layout engine through its full state machine
// (§4.7): offset assignment within StateCreatingSections (with a
// stub-insertion fixpoint for targets whose Relocator wants branch
// islands), then address and segment assignment in
// StateCreatingSegments.
func (p *pipeline) runLayout(ctx context.Context) error {
	if _, err := AdvanceLayout(ctx, p.eng, p.plugins); err != nil { // -> Initializing
		return err
	}
	if _, err := AdvanceLayout(ctx, p.eng, p.plugins); err != nil { // -> BeforeLayout
		return err
	}
	if _, err := AdvanceLayout(ctx, p.eng, p.plugins); err != nil { // -> CreatingSections
		return err
	}

	check := func(sec *layout.OutputSection, f *layout.Fragment) (string, uint64, uint64, bool) {
		return "", 0, 0, false // x86-64 has no StubSize: its ±2GB PC32 range covers any realistic link.
	}
	if _, err := p.eng.ResolveStubs(check, 4); err != nil {
		return err
	}

	if _, err := AdvanceLayout(ctx, p.eng, p.plugins); err != nil { // -> CreatingSegments
		return err
	}
	if _, err := p.eng.AssignAddresses(p.base); err != nil {
		return err
	}
	if err := p.eng.BuildSegments(p.cfg.MaxPageSize(), p.cfg.NoAlignSegments); err != nil {
		return err
	}
	if _, err := AdvanceLayout(ctx, p.eng, p.plugins); err != nil { // -> AfterLayout
		return err
	}
	return nil
}

// resolveSectionAddr returns sec's final linked address (§4.7 step 6,
// lowered from the layout engine's file-offset-relative internal
// space by adding loadBias), or false if sec was discarded by GC or
// never made it into an output section.
func (p *pipeline) resolveSectionAddr(sec *obj.Section, offset uint64) (uint64, bool) {
	si, ok := p.secByObj[sec]
	if !ok || !si.live || si.frag == nil {
		return 0, false
	}
	out, ok := p.sectionsByName[si.outName]
	if !ok {
		return 0, false
	}
	return out.Address + si.frag.Offset + offset + p.loadBias, true
}

// resolveSymbolAddr returns name's final address for relocation or
// entry-point purposes: an absolute symbol's literal value (no bias),
// or its defining section's address plus its in-section offset.
func (p *pipeline) resolveSymbolAddr(name string) (uint64, bool) {
	info, ok := p.pool.Lookup(name)
	if !ok || info.Sym.Desc != obj.DescDefined {
		return 0, false
	}
	if info.Sym.Kind == obj.SymAbsolute || info.Sym.Section == nil {
		return info.Sym.Value, true
	}
	return p.resolveSectionAddr(info.Sym.Section, info.Sym.Value-info.Sym.Section.Addr)
}

func (p *pipeline) fragmentBuffer(si *secInfo) ([]byte, error) {
	if si.sec.ZeroInitialized() {
		return nil, nil
	}
	data, err := si.sec.Data(si.sec.Addr, si.sec.Size)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), data.B...), nil
}

// applyRelocations computes and splices every live section's
// relocations (§4.8), building each output section's final byte
// buffer as it goes.
func (p *pipeline) applyRelocations() error {
	bufs := map[*layout.Fragment][]byte{}
	for _, si := range p.allSecs {
		if !si.live || si.owner == nil {
			continue
		}
		buf, err := p.fragmentBuffer(si)
		if err != nil {
			p.diags.Report(diag.Error, "read-section", "", "%s:%s: %v", si.owner.path, si.sec.Name, err)
			continue
		}
		if buf != nil {
			bufs[si.frag] = buf
		}

		sectionAddr, ok := p.resolveSectionAddr(si.sec, 0)
		if !ok || buf == nil {
			continue
		}
		for _, r := range p.relocs[si] {
			rec := relocapply.Record{
				InputFile: si.owner.path,
				Section:   si.sec.Name,
				Offset:    r.Addr - si.sec.Addr,
				Type:      r.Type,
				Addend:    r.Addend,
			}
			if r.Symbol != obj.NoSym {
				sym := si.owner.obj.Sym(r.Symbol)
				rec.Symbol = sym.Name
				if sym.Local() {
					if sym.Section == nil {
						p.diags.Report(diag.Error, "undefined-symbol", "", "%s: local symbol with no section", si.owner.path)
						continue
					}
					S, ok := p.resolveSectionAddr(sym.Section, sym.Value-sym.Section.Addr)
					if !ok {
						p.diags.Report(diag.Error, "undefined-symbol", "", "%s: local symbol %q in a discarded section", si.owner.path, sym.Name)
						continue
					}
					rec.SymbolValue = S
				} else {
					S, ok := p.resolveSymbolAddr(sym.Name)
					if !ok {
						p.diags.Report(diag.Error, "undefined-symbol", "", "undefined reference to %q", sym.Name)
						continue
					}
					rec.SymbolValue = S
				}
			}
			if err := relocapply.Apply(p.relocator, buf, sectionAddr, rec); err != nil {
				p.diags.Report(diag.Error, "relocation", "", "%v", err)
			}
		}
	}

	for name, out := range p.sectionsByName {
		if out.AllBSS() {
			continue
		}
		full := make([]byte, out.Size())
		for _, f := range out.Fragments {
			if f.IsBSS {
				continue
			}
			if b, ok := bufs[f]; ok {
				copy(full[f.Offset:], b)
			}
		}
		p.finishedSections = append(p.finishedSections, writer.Section{
			Name:   name,
			Offset: out.Address,
			Addr:   out.Address + p.loadBias,
			Data:   full,
			Size:   out.Size(),
		})
	}
	return nil
}

func (p *pipeline) finalizeSymbols() error {
	p.symtab = p.pool.Finalize(func(name string) (uint64, bool) {
		info, ok := p.pool.Lookup(name)
		if !ok || info.Sym.Kind == obj.SymAbsolute {
			return 0, false
		}
		return p.resolveSymbolAddr(name)
	})
	if _, ok := p.resolveSymbolAddr(p.entry); !ok {
		p.diags.Report(diag.Error, "undefined-entry", "", "undefined reference to entry symbol %q", p.entry)
	}
	return nil
}

func (p *pipeline) emit() error {
	entryAddr, _ := p.resolveSymbolAddr(p.entry)

	segs := make([]encodedSegment, len(p.eng.Segments))
	for i, s := range p.eng.Segments {
		segs[i] = encodedSegment{
			typ:    ptLoad,
			flags:  segmentFlags(s.Flags),
			offset: s.FileOffset,
			vaddr:  s.VAddr + p.loadBias,
			paddr:  s.PAddr + p.loadBias,
			filesz: s.FileSize,
			memsz:  s.MemSize,
			align:  s.Align,
		}
	}

	img := writer.Image{
		Header:         buildELF64Header(entryAddr, len(segs)),
		ProgramHeaders: buildELF64ProgramHeaders(segs),
		Sections:       p.finishedSections,
	}
	buf, err := writer.Serialize(img)
	if err != nil {
		return err
	}
	p.image = buf
	return nil
}

func (p *pipeline) commit() error {
	if p.image == nil {
		return fmt.Errorf("no output image was built")
	}
	return writer.Commit(p.cfg.Output, p.image, 0o755)
}
