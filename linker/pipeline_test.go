package linker

import (
	"testing"

	"github.com/go-eld/eldlink/layout"
	"github.com/go-eld/eldlink/obj"
	"github.com/go-eld/eldlink/resolve"
)

func TestFragmentKind(t *testing.T) {
	bss := &obj.Section{Kind: obj.SectionBSS}
	bss.SetZeroInitialized(true)
	if got := fragmentKind(bss); got != layout.FragmentBSS {
		t.Errorf("zero-initialized section: got %v, want FragmentBSS", got)
	}

	merge := &obj.Section{Kind: obj.SectionMergeString}
	if got := fragmentKind(merge); got != layout.FragmentMergeString {
		t.Errorf("merge-string section: got %v, want FragmentMergeString", got)
	}

	text := &obj.Section{Kind: obj.SectionRegular}
	if got := fragmentKind(text); got != layout.FragmentRegion {
		t.Errorf("regular section: got %v, want FragmentRegion", got)
	}
}

func TestSectionFlags(t *testing.T) {
	rw := &obj.Section{}
	if got := sectionFlags(".data", rw); got != pfR|pfW {
		t.Errorf(".data: got %#x, want PF_R|PF_W", got)
	}

	ro := &obj.Section{}
	ro.SetReadOnly(true)
	if got := sectionFlags(".rodata", ro); got != pfR {
		t.Errorf(".rodata: got %#x, want PF_R", got)
	}

	text := &obj.Section{}
	text.SetReadOnly(true)
	if got := sectionFlags(".text", text); got != pfR|pfX {
		t.Errorf(".text: got %#x, want PF_R|PF_X", got)
	}

	plt := &obj.Section{}
	plt.SetReadOnly(true)
	if got := sectionFlags(".plt", plt); got != pfR|pfX {
		t.Errorf(".plt: got %#x, want PF_R|PF_X", got)
	}
}

func TestHasPrefix(t *testing.T) {
	if !hasPrefix(".text.hot", ".text") {
		t.Error("want true")
	}
	if hasPrefix(".tex", ".text") {
		t.Error("want false: shorter than prefix")
	}
	if hasPrefix(".data", ".text") {
		t.Error("want false: no match")
	}
}

func TestMaxu64(t *testing.T) {
	if maxu64(1, 2) != 2 {
		t.Error("want 2")
	}
	if maxu64(5, 3) != 5 {
		t.Error("want 5")
	}
}

func TestRemoveFragment(t *testing.T) {
	a := &layout.Fragment{ID: 1}
	b := &layout.Fragment{ID: 2}
	c := &layout.Fragment{ID: 3}
	got := removeFragment([]*layout.Fragment{a, b, c}, b)
	if len(got) != 2 || got[0] != a || got[1] != c {
		t.Errorf("got %v, want [a, c]", got)
	}
}

func TestResolveSectionAddr(t *testing.T) {
	p := &pipeline{
		secByObj:       map[*obj.Section]*secInfo{},
		sectionsByName: map[string]*layout.OutputSection{},
		loadBias:       0x400000,
	}
	sec := &obj.Section{Name: ".text"}
	frag := &layout.Fragment{Offset: 0x20}
	out := &layout.OutputSection{Name: ".text", Address: 0x1000}
	p.sectionsByName[".text"] = out
	si := &secInfo{sec: sec, outName: ".text", frag: frag, live: true}
	p.secByObj[sec] = si

	got, ok := p.resolveSectionAddr(sec, 4)
	if !ok {
		t.Fatal("want ok")
	}
	if want := uint64(0x400000 + 0x1000 + 0x20 + 4); got != want {
		t.Errorf("got %#x, want %#x", got, want)
	}

	// A discarded (non-live) section has no address.
	si.live = false
	if _, ok := p.resolveSectionAddr(sec, 0); ok {
		t.Error("want ok=false for a discarded section")
	}

	// A section the pipeline never saw has no address either.
	unknown := &obj.Section{Name: ".unknown"}
	if _, ok := p.resolveSectionAddr(unknown, 0); ok {
		t.Error("want ok=false for an unknown section")
	}
}

func TestResolveSymbolAddrAbsolute(t *testing.T) {
	p := &pipeline{
		pool:           resolve.NewPool(),
		secByObj:       map[*obj.Section]*secInfo{},
		sectionsByName: map[string]*layout.OutputSection{},
	}
	sym := obj.Sym{Name: "ABS_VAL", Desc: obj.DescDefined, Kind: obj.SymAbsolute, Value: 0x2a}
	if err := p.pool.Insert("ABS_VAL", sym, fileOrigin("a.o"), 0, false); err != nil {
		t.Fatal(err)
	}
	got, ok := p.resolveSymbolAddr("ABS_VAL")
	if !ok {
		t.Fatal("want ok")
	}
	if got != 0x2a {
		t.Errorf("absolute symbol: got %#x, want 0x2a (no load bias applied)", got)
	}
}

func TestResolveSymbolAddrUndefined(t *testing.T) {
	p := &pipeline{pool: resolve.NewPool()}
	if _, ok := p.resolveSymbolAddr("nonexistent"); ok {
		t.Error("want ok=false for a symbol the pool never saw")
	}
}

func TestResolveSymbolAddrSectionRelative(t *testing.T) {
	p := &pipeline{
		pool:           resolve.NewPool(),
		secByObj:       map[*obj.Section]*secInfo{},
		sectionsByName: map[string]*layout.OutputSection{},
		loadBias:       0x400000,
	}
	sec := &obj.Section{Name: ".text", Addr: 0x0}
	frag := &layout.Fragment{Offset: 0x10}
	out := &layout.OutputSection{Name: ".text", Address: 0x1000}
	p.sectionsByName[".text"] = out
	p.secByObj[sec] = &secInfo{sec: sec, outName: ".text", frag: frag, live: true}

	sym := obj.Sym{Name: "foo", Desc: obj.DescDefined, Kind: obj.SymText, Section: sec, Value: 0x8}
	if err := p.pool.Insert("foo", sym, fileOrigin("a.o"), 0, false); err != nil {
		t.Fatal(err)
	}
	got, ok := p.resolveSymbolAddr("foo")
	if !ok {
		t.Fatal("want ok")
	}
	if want := uint64(0x400000 + 0x1000 + 0x10 + 0x8); got != want {
		t.Errorf("got %#x, want %#x", got, want)
	}
}
