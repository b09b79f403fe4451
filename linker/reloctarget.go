package linker

import (
	"github.com/go-eld/eldlink/obj"
)

// x86-64 relocation numbers (elf.R_X86_64_*), kept as untyped
// constants here since obj.RelocType.Raw() hands back the same
// numbering without this package importing "debug/elf" itself.
const (
	relX86_64None  = 0
	relX86_64_64   = 1
	relX86_64PC32  = 2
	relX86_64PLT32 = 4
	relX86_64_32   = 10
	relX86_64_32S  = 11
)

// amd64Relocator implements relocapply.Relocator for the handful of
// x86-64 relocation types a minimal static link needs (§4.8's "per-
// target relocation arithmetic tables", this package's own plug-in
// for the one target the CLI wires by default).
type amd64Relocator struct{}

func (amd64Relocator) Compute(typ obj.RelocType, S, P uint64, A int64) (uint64, bool) {
	if typ.Machine() != "x86-64" {
		return 0, false
	}
	switch typ.Raw() {
	case relX86_64None:
		return 0, true
	case relX86_64_64, relX86_64_32, relX86_64_32S:
		return uint64(int64(S) + A), true
	case relX86_64PC32, relX86_64PLT32:
		return uint64(int64(S) + A - int64(P)), true
	default:
		return 0, false
	}
}

func (amd64Relocator) InRange(typ obj.RelocType, value uint64) bool {
	switch typ.Raw() {
	case relX86_64_64:
		return true
	case relX86_64_32:
		return value <= 0xFFFFFFFF
	case relX86_64_32S, relX86_64PC32, relX86_64PLT32:
		v := int64(value)
		return v >= -(1<<31) && v < (1<<31)
	default:
		return true
	}
}
