// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package arch provides basic descriptions of CPU architectures and the
// per-target emulation defaults (endianness, bit-class, page sizes) that
// the rest of the linker selects a target back end by.
package arch

// An Arch describes a CPU architecture.
type Arch struct {
	// Layout is the byte order and word size of this architecture.
	Layout Layout

	// GoArch is the GOARCH value for this architecture.
	GoArch string

	// MinFrameSize is the number of bytes at the bottom of every
	// stack frame except for empty leaf frames. This includes,
	// for example, space for a saved LR (because that space is
	// always reserved), but does not include the return PC pushed
	// on x86 by CALL (because that is added only on a call).
	MinFrameSize int

	// MaxPageSize and CommonPageSize are the target's default
	// `-z max-page-size` / `-z common-page-size` values. A link may
	// override either via config.
	MaxPageSize    uint64
	CommonPageSize uint64

	// StubSize is the size in bytes of a single branch trampoline for
	// this target, used by the layout engine to reserve space before an
	// out-of-range branch's exact target is known. 0 means this target
	// never needs stubs (its branch encodings have effectively unlimited
	// range).
	StubSize int
}

var (
	AMD64   = &Arch{Layout: Layout{0, 8}, GoArch: "amd64", MaxPageSize: 1 << 12, CommonPageSize: 1 << 12}
	I386    = &Arch{Layout: Layout{0, 4}, GoArch: "386", MaxPageSize: 1 << 12, CommonPageSize: 1 << 12}
	ARM64   = &Arch{Layout: Layout{0, 8}, GoArch: "arm64", MaxPageSize: 1 << 16, CommonPageSize: 1 << 12, StubSize: 16}
	ARM     = &Arch{Layout: Layout{0, 4}, GoArch: "arm", MaxPageSize: 1 << 16, CommonPageSize: 1 << 12, StubSize: 12}
	RISCV64 = &Arch{Layout: Layout{0, 8}, GoArch: "riscv64", MaxPageSize: 1 << 12, CommonPageSize: 1 << 12, StubSize: 8}
)

// String returns the GOARCH value of a.
func (a *Arch) String() string {
	if a == nil {
		return "<nil>"
	}
	return a.GoArch
}

// Target describes a linker back end: the Arch it emulates plus the
// BFD-style emulation name used to select it (`-m`, or inferred from the
// first object read). This is a plain compile-time table in place of a
// static-registration pattern: there's no global mutable registry to
// initialize in a particular order, and adding a target is adding a
// slice entry.
type Target struct {
	Name string // e.g. "elf64-x86-64", "aarch64linux"
	Arch *Arch
}

var targets = []Target{
	{"elf64-x86-64", AMD64},
	{"elf32-i386", I386},
	{"aarch64linux", ARM64},
	{"armelf_linux_eabi", ARM},
	{"elf64-littleriscv", RISCV64},
}

// LookupTarget returns the Target registered under name, or false if
// there is none.
func LookupTarget(name string) (Target, bool) {
	for _, t := range targets {
		if t.Name == name {
			return t, true
		}
	}
	return Target{}, false
}

// Targets returns all registered targets, in registration order.
func Targets() []Target {
	out := make([]Target, len(targets))
	copy(out, targets)
	return out
}
