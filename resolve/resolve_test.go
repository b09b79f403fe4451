package resolve

import (
	"testing"

	"github.com/go-eld/eldlink/obj"
)

type origin string

func (o origin) String() string { return string(o) }

func def(binding obj.SymBinding, size uint64) obj.Sym {
	return obj.Sym{Desc: obj.DescDefined, Binding: binding, Size: size}
}

func undef() obj.Sym {
	return obj.Sym{Desc: obj.DescUndefined}
}

func common(size uint64) obj.Sym {
	return obj.Sym{Desc: obj.DescCommon, Size: size}
}

func TestUndefThenStrongDefInstalls(t *testing.T) {
	p := NewPool()
	if err := p.Insert("foo", undef(), origin("a.o"), 0, false); err != nil {
		t.Fatal(err)
	}
	if err := p.Insert("foo", def(obj.BindGlobal, 0), origin("b.o"), 1, false); err != nil {
		t.Fatal(err)
	}
	info, _ := p.Lookup("foo")
	if info.Sym.Desc != obj.DescDefined {
		t.Errorf("want defined, got %v", info.Sym.Desc)
	}
	if info.Origin.String() != "b.o" {
		t.Errorf("want winner b.o, got %v", info.Origin)
	}
}

func TestStrongDefKeepsOverUndef(t *testing.T) {
	p := NewPool()
	p.Insert("foo", def(obj.BindGlobal, 0), origin("a.o"), 0, false)
	p.Insert("foo", undef(), origin("b.o"), 1, false)
	info, _ := p.Lookup("foo")
	if info.Origin.String() != "a.o" {
		t.Errorf("want a.o kept, got %v", info.Origin)
	}
}

func TestWeakThenStrongOverrides(t *testing.T) {
	p := NewPool()
	p.Insert("foo", def(obj.BindWeak, 0), origin("weak.o"), 0, false)
	p.Insert("foo", def(obj.BindGlobal, 0), origin("strong.o"), 1, false)
	info, _ := p.Lookup("foo")
	if info.Origin.String() != "strong.o" {
		t.Errorf("want strong.o to win, got %v", info.Origin)
	}
}

func TestStrongThenWeakKeepsStrong(t *testing.T) {
	p := NewPool()
	p.Insert("foo", def(obj.BindGlobal, 0), origin("strong.o"), 0, false)
	p.Insert("foo", def(obj.BindWeak, 0), origin("weak.o"), 1, false)
	info, _ := p.Lookup("foo")
	if info.Origin.String() != "strong.o" {
		t.Errorf("want strong.o kept, got %v", info.Origin)
	}
}

func TestDuplicateStrongDefinitionErrors(t *testing.T) {
	p := NewPool()
	p.Insert("foo", def(obj.BindGlobal, 0), origin("a.o"), 0, false)
	err := p.Insert("foo", def(obj.BindGlobal, 0), origin("b.o"), 1, false)
	if err == nil {
		t.Fatal("want duplicate definition error")
	}
	if _, ok := err.(*DuplicateDefinitionError); !ok {
		t.Fatalf("want *DuplicateDefinitionError, got %T", err)
	}
}

func TestAllowMultipleDefinitionSuppressesError(t *testing.T) {
	p := NewPool()
	p.AllowMultipleDefinition = true
	p.Insert("foo", def(obj.BindGlobal, 0), origin("a.o"), 0, false)
	if err := p.Insert("foo", def(obj.BindGlobal, 0), origin("b.o"), 1, false); err != nil {
		t.Fatalf("want no error, got %v", err)
	}
	info, _ := p.Lookup("foo")
	if info.Origin.String() != "a.o" {
		t.Errorf("want first definition kept, got %v", info.Origin)
	}
}

func TestCommonPromotesSize(t *testing.T) {
	p := NewPool()
	p.Insert("buf", common(16), origin("a.o"), 0, false)
	p.Insert("buf", common(64), origin("b.o"), 1, false)
	info, _ := p.Lookup("buf")
	if info.Sym.Size != 64 {
		t.Errorf("want promoted size 64, got %d", info.Sym.Size)
	}
}

func TestStrongDefOverridesCommon(t *testing.T) {
	p := NewPool()
	p.Insert("buf", common(16), origin("a.o"), 0, false)
	p.Insert("buf", def(obj.BindGlobal, 8), origin("b.o"), 1, false)
	info, _ := p.Lookup("buf")
	if info.Sym.Desc != obj.DescDefined || info.Origin.String() != "b.o" {
		t.Errorf("want strong def to override common, got %+v", info)
	}
}

func TestBitcodeStrongDefReplacedByPostLTO(t *testing.T) {
	p := NewPool()
	p.Insert("foo", def(obj.BindGlobal, 0), origin("lto.bc"), 0, true)
	p.Insert("foo", def(obj.BindGlobal, 0), origin("lto.o"), 0, false)
	info, _ := p.Lookup("foo")
	if info.Origin.String() != "lto.o" || info.Bitcode {
		t.Errorf("want post-LTO object to replace bitcode definition, got %+v", info)
	}
}

func TestWrapRedirectsInsert(t *testing.T) {
	p := NewPool()
	p.InstallWrap("malloc")
	p.Insert("malloc", def(obj.BindGlobal, 0), origin("libc.a"), 0, false)
	if _, ok := p.Lookup("malloc"); ok {
		t.Error("want no entry under the unwrapped name")
	}
	if _, ok := p.Lookup("__wrap_malloc"); !ok {
		t.Error("want entry installed under __wrap_malloc")
	}
}

func TestVisibilityCombinesToMostRestrictive(t *testing.T) {
	p := NewPool()
	s1 := def(obj.BindGlobal, 0)
	s1.Visibility = obj.VisDefault
	p.Insert("foo", s1, origin("a.o"), 0, false)

	s2 := undef()
	s2.Visibility = obj.VisHidden
	p.Insert("foo", s2, origin("b.o"), 1, false)

	info, _ := p.Lookup("foo")
	if info.Visibility != obj.VisHidden {
		t.Errorf("want combined visibility hidden, got %v", info.Visibility)
	}
}

func TestUndefinedListsUnresolved(t *testing.T) {
	p := NewPool()
	p.Insert("foo", undef(), origin("a.o"), 0, false)
	p.Insert("bar", def(obj.BindGlobal, 0), origin("a.o"), 0, false)
	undefs := p.Undefined()
	if len(undefs) != 1 || undefs[0] != "foo" {
		t.Errorf("want only foo undefined, got %v", undefs)
	}
}

func TestFinalizeBuildsAddressableTable(t *testing.T) {
	p := NewPool()
	foo := def(obj.BindGlobal, 0)
	foo.Name = "foo"
	bar := def(obj.BindGlobal, 0)
	bar.Name = "bar"

	if err := p.Insert("foo", foo, origin("a.o"), 0, false); err != nil {
		t.Fatal(err)
	}
	if err := p.Insert("bar", bar, origin("a.o"), 1, false); err != nil {
		t.Fatal(err)
	}

	table := p.Finalize(nil)
	if id := table.Name("foo"); id == obj.NoSym {
		t.Error("want foo findable by name in the finalized table")
	}
	if id := table.Name("bar"); id == obj.NoSym {
		t.Error("want bar findable by name in the finalized table")
	}
	if len(table.Syms()) != 2 {
		t.Errorf("want 2 symbols in the finalized table, got %d", len(table.Syms()))
	}
}

func TestFinalizeAppliesLinkedAddresses(t *testing.T) {
	p := NewPool()
	p.Insert("foo", def(obj.BindGlobal, 0), origin("a.o"), 0, false)
	p.Insert("bar", undef(), origin("b.o"), 1, false)

	addrs := map[string]uint64{"foo": 0x401000}
	table := p.Finalize(func(name string) (uint64, bool) {
		addr, ok := addrs[name]
		return addr, ok
	})

	id := table.Name("foo")
	if id == obj.NoSym {
		t.Fatal("want foo in the finalized table")
	}
	syms := table.Syms()
	if syms[id].Value != 0x401000 {
		t.Errorf("want foo's value replaced with its linked address, got %#x", syms[id].Value)
	}

	// bar is undefined, so addrOf must not be consulted for it even
	// though it's absent from addrs; Desc stays Undefined either way.
	barID := table.Name("bar")
	if barID == obj.NoSym || syms[barID].Desc != obj.DescUndefined {
		t.Error("want bar to remain undefined in the finalized table")
	}
}

func TestFinalizeSynthesizesSizes(t *testing.T) {
	p := NewPool()
	sec := &obj.Section{Name: ".data", Addr: 0x1000, Size: 0x100}

	a := def(obj.BindGlobal, 0)
	a.Name = "a"
	a.Section = sec
	a.Value = 0x1000

	b := def(obj.BindGlobal, 0)
	b.Name = "b"
	b.Section = sec
	b.Value = 0x1010

	p.Insert("a", a, origin("x.o"), 0, false)
	p.Insert("b", b, origin("x.o"), 1, false)

	table := p.Finalize(nil)
	syms := table.Syms()
	if got := syms[table.Name("a")].Size; got != 0x10 {
		t.Errorf("want a's size synthesized to 0x10 (gap to next symbol), got %#x", got)
	}
	if got := syms[table.Name("b")].Size; got != 0xf0 {
		t.Errorf("want b's size synthesized to the rest of the section, got %#x", got)
	}
}
