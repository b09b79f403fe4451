package relocapply

import (
	"testing"

	"github.com/go-eld/eldlink/obj"
)

// fakeTarget implements a trivial absolute-32 relocator for testing:
// value = S + A, always in range unless it doesn't fit in 32 bits.
type fakeTarget struct{}

func (fakeTarget) Compute(typ obj.RelocType, S, P uint64, A int64) (uint64, bool) {
	return uint64(int64(S) + A), true
}

func (fakeTarget) InRange(typ obj.RelocType, value uint64) bool {
	return value <= 0xFFFFFFFF
}

// refusingTarget reports every relocation type as unsupported, for
// exercising the "not supported by target" branches.
type refusingTarget struct{}

func (refusingTarget) Compute(typ obj.RelocType, S, P uint64, A int64) (uint64, bool) {
	return 0, false
}

func (refusingTarget) InRange(typ obj.RelocType, value uint64) bool { return true }

func TestApplyRejectsUnknownRelocSize(t *testing.T) {
	buf := make([]byte, 8)
	rec := Record{Offset: 0, SymbolValue: 0x1000, Addend: 4}
	// The zero-value RelocType has the Unknown class (Size == -1);
	// Apply must refuse it instead of splicing a value.
	if err := Apply(fakeTarget{}, buf, 0, rec); err == nil {
		t.Fatal("want error: zero-value RelocType reports unknown size")
	}
}

func TestComputeValueOutOfRangeWithoutStubErrors(t *testing.T) {
	rec := Record{SymbolValue: 1 << 40, Addend: 0}
	_, err := computeValue(fakeTarget{}, rec, 0)
	if err == nil {
		t.Fatal("want error: value out of range and no stub supplied")
	}
	if !contains(err.Error(), "no stub was inserted") {
		t.Errorf("want the error to mention the missing stub, got %q", err)
	}
}

func TestComputeValueRetargetsToStub(t *testing.T) {
	stub := uint64(0x2000)
	rec := Record{SymbolValue: 1 << 40, Addend: 0, StubValue: &stub}
	value, err := computeValue(fakeTarget{}, rec, 0)
	if err != nil {
		t.Fatal(err)
	}
	if value != stub {
		t.Errorf("want the stub's address used in place of the out-of-range symbol, got %#x", value)
	}
}

func TestComputeValueStubStillOutOfRangeErrors(t *testing.T) {
	stub := uint64(1 << 40)
	rec := Record{SymbolValue: 1 << 40, Addend: 0, StubValue: &stub}
	_, err := computeValue(fakeTarget{}, rec, 0)
	if err == nil {
		t.Fatal("want error: stub value also out of range")
	}
	if !contains(err.Error(), "even after stub retargeting") {
		t.Errorf("want the error to mention stub retargeting, got %q", err)
	}
}

func TestComputeValuePluginOverrideTakesPrecedence(t *testing.T) {
	override := uint64(0x42)
	rec := Record{SymbolValue: 0x1000, PluginOverride: &override}
	value, err := computeValue(fakeTarget{}, rec, 0)
	if err != nil {
		t.Fatal(err)
	}
	if value != override {
		t.Errorf("want the plugin override used as S, got %#x", value)
	}
}

func TestComputeValueUnsupportedType(t *testing.T) {
	_, err := computeValue(refusingTarget{}, Record{}, 0)
	if err == nil {
		t.Fatal("want error when the target refuses the relocation type")
	}
}

func TestApplyErrorIncludesLocation(t *testing.T) {
	rec := Record{InputFile: "a.o", Section: ".text", Offset: 4, Symbol: "foo", Addend: 8}
	err := &ApplyError{Record: rec, Reason: "out of range"}
	msg := err.Error()
	if !contains(msg, "a.o") || !contains(msg, ".text") || !contains(msg, "foo") {
		t.Errorf("want error to mention file/section/symbol, got %q", msg)
	}
}

func TestPutLERoundTrips(t *testing.T) {
	buf := make([]byte, 4)
	putLE(buf, 0x01020304, 4)
	want := []byte{0x04, 0x03, 0x02, 0x01}
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("byte %d: want %#x, got %#x", i, want[i], buf[i])
		}
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
