package linker

import (
	"testing"

	"github.com/go-eld/eldlink/obj"
)

func TestAmd64RelocatorComputeAbsolute(t *testing.T) {
	var r amd64Relocator
	typ := obj.NewX86_64RelocType(relX86_64_64)
	got, ok := r.Compute(typ, 0x401000, 0x500000, 8)
	if !ok {
		t.Fatal("want ok")
	}
	if want := uint64(0x401008); got != want {
		t.Errorf("S+A: got %#x, want %#x", got, want)
	}
}

func TestAmd64RelocatorComputePCRelative(t *testing.T) {
	var r amd64Relocator
	typ := obj.NewX86_64RelocType(relX86_64PC32)
	// S=0x401010, A=-4, P=0x401000 -> S+A-P = 0xc
	got, ok := r.Compute(typ, 0x401010, 0x401000, -4)
	if !ok {
		t.Fatal("want ok")
	}
	if want := uint64(0xc); got != want {
		t.Errorf("S+A-P: got %#x, want %#x", got, want)
	}
}

func TestAmd64RelocatorComputePLT32(t *testing.T) {
	var r amd64Relocator
	typ := obj.NewX86_64RelocType(relX86_64PLT32)
	got, ok := r.Compute(typ, 0x500000, 0x401000, 0)
	if !ok {
		t.Fatal("want ok")
	}
	if want := uint64(int64(0x500000) - int64(0x401000)); got != want {
		t.Errorf("got %#x, want %#x", got, want)
	}
}

func TestAmd64RelocatorComputeNone(t *testing.T) {
	var r amd64Relocator
	typ := obj.NewX86_64RelocType(relX86_64None)
	got, ok := r.Compute(typ, 0x1, 0x2, 3)
	if !ok || got != 0 {
		t.Errorf("R_X86_64_NONE: got (%#x, %v), want (0, true)", got, ok)
	}
}

func TestAmd64RelocatorComputeUnknownType(t *testing.T) {
	var r amd64Relocator
	typ := obj.NewX86_64RelocType(0xff)
	if _, ok := r.Compute(typ, 0, 0, 0); ok {
		t.Error("want ok=false for an unhandled x86-64 relocation number")
	}
}

func TestAmd64RelocatorComputeWrongMachine(t *testing.T) {
	var r amd64Relocator
	// The zero value decodes to the "unknown" class, never "x86-64".
	var typ obj.RelocType
	if _, ok := r.Compute(typ, 0x1000, 0x2000, 0); ok {
		t.Error("want ok=false for a non-x86-64 RelocType")
	}
}

func TestAmd64RelocatorInRange(t *testing.T) {
	tests := []struct {
		name  string
		raw   uint32
		value uint64
		want  bool
	}{
		{"64-bit accepts anything", relX86_64_64, 0xffffffffffffffff, true},
		{"32-bit unsigned in range", relX86_64_32, 0xffffffff, true},
		{"32-bit unsigned out of range", relX86_64_32, 0x100000000, false},
		{"32-bit signed in range (positive)", relX86_64_32S, 0x7fffffff, true},
		{"32-bit signed in range (negative)", relX86_64_32S, uint64(int64(-1)), true},
		{"32-bit signed out of range", relX86_64_32S, 0x80000000, false},
		{"pc32 out of range", relX86_64PC32, 0x80000000, false},
		{"plt32 in range", relX86_64PLT32, 0x7fffffff, true},
	}
	var r amd64Relocator
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			typ := obj.NewX86_64RelocType(tt.raw)
			if got := r.InRange(typ, tt.value); got != tt.want {
				t.Errorf("InRange(%#x) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}
