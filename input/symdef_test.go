package input

import (
	"strings"
	"testing"

	"github.com/go-eld/eldlink/obj"
	"github.com/go-eld/eldlink/resolve"
)

func TestParseSymdefBasic(t *testing.T) {
	src := "0x1000\tFUNC\tfoo\n0\tOBJECT\tbar\n010\tNOTYPE\tbaz\n"
	entries, style, err := ParseSymdef(strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	if style != SymdefProvide {
		t.Errorf("want default style Provide, got %s", style)
	}
	if len(entries) != 3 {
		t.Fatalf("want 3 entries, got %d", len(entries))
	}
	if entries[0].Value != 0x1000 || entries[0].Type != SymdefFunc || entries[0].Name != "foo" {
		t.Errorf("got %+v", entries[0])
	}
	if entries[2].Value != 010 {
		t.Errorf("want octal 010 parsed as %d, got %d", uint64(010), entries[2].Value)
	}
}

func TestParseSymdefSkipsComments(t *testing.T) {
	src := "# a plain comment\n; also a comment\n\n0x10\tFUNC\tfoo\n"
	entries, _, err := ParseSymdef(strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("want 1 entry, got %d", len(entries))
	}
}

func TestParseSymdefStyleComment(t *testing.T) {
	src := "#<SYMDEFS-FORCE>\n0x10\tFUNC\tfoo\n"
	_, style, err := ParseSymdef(strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	if style != SymdefForce {
		t.Errorf("want style Force, got %s", style)
	}
}

func TestParseSymdefRejectsWrongFieldCount(t *testing.T) {
	src := "0x10\tFUNC\n"
	if _, _, err := ParseSymdef(strings.NewReader(src)); err == nil {
		t.Error("want error: only 2 fields")
	}
}

func TestParseSymdefRejectsUnknownType(t *testing.T) {
	src := "0x10\tCOMMON\tfoo\n"
	if _, _, err := ParseSymdef(strings.NewReader(src)); err == nil {
		t.Error("want error: COMMON is not a valid symdef type")
	}
}

func TestParseSymdefRejectsBadValue(t *testing.T) {
	src := "not-a-number\tFUNC\tfoo\n"
	if _, _, err := ParseSymdef(strings.NewReader(src)); err == nil {
		t.Error("want error: unparsable value")
	}
}

func TestApplyToForceReplacesExisting(t *testing.T) {
	pool := resolve.NewPool()
	owner := &Input{Name: "a.o"}
	if err := pool.Insert("foo", obj.Sym{Name: "foo", Desc: obj.DescDefined, Value: 1}, owner, 0, false); err != nil {
		t.Fatal(err)
	}
	symOwner := &Input{Name: "symdefs.txt"}
	entries := []SymdefEntry{{Value: 0x2000, Type: SymdefFunc, Name: "foo"}}
	if err := ApplyTo(pool, entries, SymdefForce, symOwner, 1); err != nil {
		t.Fatal(err)
	}
	info, ok := pool.Lookup("foo")
	if !ok || info.Sym.Value != 0x2000 {
		t.Errorf("want foo forced to 0x2000, got %+v", info)
	}
}

func TestApplyToProvideLeavesExistingAlone(t *testing.T) {
	pool := resolve.NewPool()
	owner := &Input{Name: "a.o"}
	if err := pool.Insert("foo", obj.Sym{Name: "foo", Desc: obj.DescDefined, Value: 1}, owner, 0, false); err != nil {
		t.Fatal(err)
	}
	symOwner := &Input{Name: "symdefs.txt"}
	entries := []SymdefEntry{
		{Value: 0x2000, Type: SymdefFunc, Name: "foo"},
		{Value: 0x3000, Type: SymdefObject, Name: "bar"},
	}
	if err := ApplyTo(pool, entries, SymdefProvide, symOwner, 1); err != nil {
		t.Fatal(err)
	}
	info, _ := pool.Lookup("foo")
	if info.Sym.Value != 1 {
		t.Errorf("want foo to keep its original value, got %#x", info.Sym.Value)
	}
	info, ok := pool.Lookup("bar")
	if !ok || info.Sym.Value != 0x3000 {
		t.Errorf("want bar provided at 0x3000, got %+v", info)
	}
}
