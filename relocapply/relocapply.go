// Package relocapply implements the relocation applier (C14): given a
// laid-out fragment and its relocation records, computes each
// relocation's target bit pattern and splices it into the fragment's
// backing bytes (§4.8).
//
// The actual per-target arithmetic (how an R_X86_64_PC32 or
// R_AARCH64_CALL26 value is computed from S/P/A) is out of this
// package's scope (the spec lists "per-target relocation arithmetic
// tables" as an external collaborator, a target plug-in conforming to
// the Relocator interface below); this package owns the parts common
// to every target: place/addend computation, plugin override,
// stub retargeting, and splicing the result into the buffer.
package relocapply

import (
	"fmt"

	"github.com/go-eld/eldlink/obj"
)

// Relocator is the per-target arithmetic contract (§1 "Out of scope":
// "per-target relocation arithmetic tables, target plug-ins
// conforming to a relocator interface").
type Relocator interface {
	// Compute returns the bit pattern to splice into the relocation's
	// size-byte field (place P, symbol value S, addend A) and whether
	// typ is valid for this target at all.
	Compute(typ obj.RelocType, S, P uint64, A int64) (value uint64, ok bool)

	// InRange reports whether a computed value fits the relocation
	// type's field width without truncation (used to decide whether a
	// stub/trampoline must be inserted during layout, §4.7 step 3).
	InRange(typ obj.RelocType, value uint64) bool
}

// Record is one relocation ready to apply: a resolved symbol address,
// its place, and an optional plugin- or stub-supplied override.
type Record struct {
	InputFile string
	Section   string
	Offset    uint64 // relocation's offset within the fragment's bytes
	Type      obj.RelocType
	Symbol    string
	Addend    int64

	// SymbolValue is the resolved symbol's final address (S).
	SymbolValue uint64
	// PluginOverride, if non-nil, replaces SymbolValue as S (§4.8 step 3).
	PluginOverride *uint64
	// StubValue, if non-nil, is the address of the stub/trampoline
	// layout.Engine.ResolveStubs inserted for this relocation because
	// its original target was out of range (§4.7 step 3). Apply tries
	// S first and only falls back to StubValue on an out-of-range
	// result, so a relocation that turns out to be in range after all
	// (e.g. because later layout moved the symbol closer) doesn't pay
	// for an unnecessary indirection (§4.8 step 4).
	StubValue *uint64
}

// ApplyError identifies a relocation that failed to apply, by the
// (input-file, section, offset, type, symbol, addend) tuple the spec
// requires (§4.8 step 5).
type ApplyError struct {
	Record Record
	Reason string
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("%s:%s+%#x: relocation %s against %q (addend %d): %s",
		e.Record.InputFile, e.Record.Section, e.Record.Offset, e.Record.Type, e.Record.Symbol, e.Record.Addend, e.Reason)
}

// Apply computes rec's target value via target and splices it into
// buf at rec.Offset, place P = sectionAddr + rec.Offset.
func Apply(target Relocator, buf []byte, sectionAddr uint64, rec Record) error {
	size := rec.Type.Size()
	if size <= 0 {
		return &ApplyError{Record: rec, Reason: "unknown relocation size"}
	}
	if int(rec.Offset)+size > len(buf) {
		return &ApplyError{Record: rec, Reason: "relocation offset out of range of fragment"}
	}

	value, err := computeValue(target, rec, sectionAddr+rec.Offset)
	if err != nil {
		return err
	}

	putLE(buf[rec.Offset:rec.Offset+uint64(size)], value, size)
	return nil
}

// computeValue applies the §4.8 step 1-4 arithmetic, independent of
// the relocation's byte width: resolve S (plugin override or the
// symbol's linked address), dispatch to the target, and if the result
// doesn't fit the field, retry once against rec.StubValue if layout
// inserted a stub for this relocation.
func computeValue(target Relocator, rec Record, P uint64) (uint64, error) {
	S := rec.SymbolValue
	if rec.PluginOverride != nil {
		S = *rec.PluginOverride
	}

	value, ok := target.Compute(rec.Type, S, P, rec.Addend)
	if !ok {
		return 0, &ApplyError{Record: rec, Reason: "relocation type not supported by target"}
	}
	if target.InRange(rec.Type, value) {
		return value, nil
	}

	if rec.StubValue == nil {
		return 0, &ApplyError{Record: rec, Reason: "relocation value out of range and no stub was inserted for it during layout"}
	}
	value, ok = target.Compute(rec.Type, *rec.StubValue, P, rec.Addend)
	if !ok {
		return 0, &ApplyError{Record: rec, Reason: "stub relocation type not supported by target"}
	}
	if !target.InRange(rec.Type, value) {
		return 0, &ApplyError{Record: rec, Reason: "relocation value out of range even after stub retargeting"}
	}
	return value, nil
}

func putLE(dst []byte, v uint64, size int) {
	for i := 0; i < size; i++ {
		dst[i] = byte(v >> (8 * i))
	}
}

// ApplyAll applies every record in recs against buf, stopping at the
// first error (callers wanting best-effort application with one
// diagnostic per failure should call Apply directly in a loop and
// collect errors themselves).
func ApplyAll(target Relocator, buf []byte, sectionAddr uint64, recs []Record) error {
	for _, rec := range recs {
		if err := Apply(target, buf, sectionAddr, rec); err != nil {
			return err
		}
	}
	return nil
}
