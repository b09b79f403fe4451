// Package config implements the link configuration model (C2): an
// immutable-after-Freeze record of the target, search paths, Z-options,
// wrap/rename maps, trace flags, and script list that every later
// phase reads but never mutates. The CLI (cmd/eldlink) is the only
// writer; it populates a Builder and calls Freeze once flag parsing
// completes.
package config

import (
	"fmt"

	"github.com/go-eld/eldlink/arch"
)

// OutputKind selects the overall link mode.
type OutputKind int

const (
	OutputExecutable OutputKind = iota
	OutputSharedObject
	OutputPIE
	OutputRelocatable
)

// OrphanHandling selects how unmatched input sections are treated by
// the section mapper (C10).
type OrphanHandling int

const (
	OrphanPlace OrphanHandling = iota
	OrphanWarn
	OrphanError
	OrphanDiscard
)

func ParseOrphanHandling(s string) (OrphanHandling, error) {
	switch s {
	case "place":
		return OrphanPlace, nil
	case "warn":
		return OrphanWarn, nil
	case "error":
		return OrphanError, nil
	case "discard":
		return OrphanDiscard, nil
	default:
		return 0, fmt.Errorf("invalid --orphan-handling value %q", s)
	}
}

// ZOptionKind enumerates the -z options recognized for GNU ld
// compatibility.
type ZOptionKind int

const (
	ZCombReloc ZOptionKind = iota
	ZCommPageSize
	ZDefs
	ZExecStack
	ZGlobal
	ZInitFirst
	ZInterPose
	ZLazy
	ZLoadFltr
	ZMaxPageSize
	ZMulDefs
	ZNoCombReloc
	ZNoCopyReloc
	ZNoDefaultLib
	ZNoDelete
	ZNoExecStack
	ZNoGnuStack
	ZNoRelro
	ZNow
	ZOrigin
	ZRelro
	ZText
	ZCompactDyn
	ZForceBTI
	ZForcePACPLT
	ZUnknown
)

// ZOption is a single -z option, carrying either a numeric value (for
// max-page-size/common-page-size) or a file name (unused by most
// kinds, kept for symmetry with configuration files that redirect a
// -z option to an external list).
type ZOption struct {
	Kind ZOptionKind
	Page uint64
	File string
}

// BuildIDKind selects the --build-id hash algorithm.
type BuildIDKind int

const (
	BuildIDNone BuildIDKind = iota
	BuildIDFast // matches plain --build-id; the writer hashes it with MD5
	BuildIDMD5
	BuildIDSHA1
	BuildIDTree // the writer hashes it with SHA-1 over the whole image; no per-section tree
)

// Builder accumulates configuration as the CLI parses flags. It is
// not safe for concurrent use; once populated, call Freeze to obtain
// an immutable Config.
type Builder struct {
	Output      string
	OutputKind  OutputKind
	Target      *arch.Arch
	TargetName  string

	SearchDirs []string
	Sysroot    string
	RPaths     []string // -rpath dirs, searched after SearchDirs, before LD_LIBRARY_PATH
	ProgramDir string   // directory of the running linker binary, for $ORIGIN expansion

	ZOptions []ZOption

	Entry          string
	Undefined      []string
	Defsyms        []string
	Wraps          []string
	ExportDynamic  bool
	ExportDynSyms  []string
	VersionScript  string
	DynamicList    string

	ImageBase      uint64
	SectionStart   map[string]uint64
	TBSS, TData, TText uint64
	NoAlignSegments bool
	Orphans        OrphanHandling
	ROSegment      bool

	GCSections      bool
	PrintGCSections bool
	GCCref          bool
	NoMergeStrings  bool

	ErrorLimit, WarnLimit int
	FatalWarnings         bool
	NoinhibitExec         bool
	Verbose               int
	TraceCategories       map[string]bool
	TraceSymbols          []string

	Threads      bool
	ThreadCount  int
	AllThreads   bool

	MappingFile    string
	DumpMapping    bool
	ReproduceFile  string
	ReproduceOnFail bool

	PluginConfigs     []string
	NoDefaultPlugins  bool

	EmitRelocs bool
	StripDebug bool
	StripAll   bool
	BuildID    BuildIDKind

	Scripts []ScriptEntry
}

// ScriptEntry records one linker-script-like input (-T or a bare
// script file) in link-line order, so config preserves the order C9
// needs to replay them.
type ScriptEntry struct {
	Path string
	Kind ScriptKind
}

type ScriptKind int

const (
	ScriptLinkerScript ScriptKind = iota
	ScriptVersionScript
	ScriptDynamicList
)

func NewBuilder() *Builder {
	return &Builder{
		SectionStart:    map[string]uint64{},
		TraceCategories: map[string]bool{},
		Orphans:         OrphanPlace,
	}
}

// AddZOption appends a Z-option, overriding NoGnuStack/ExecStack-style
// conflicting prior options is left to the caller (GNU ld itself just
// takes the last one in effect for mutually-exclusive pairs); this
// mirrors that by not deduplicating.
func (b *Builder) AddZOption(z ZOption) {
	b.ZOptions = append(b.ZOptions, z)
}

// Config is the frozen, read-only view of a Builder. Every field is
// copied out of the Builder at Freeze time so later mutation of the
// Builder (which shouldn't happen, but costs nothing to guard) can't
// be observed by readers that already froze a Config.
type Config struct {
	Output     string
	OutputKind OutputKind
	Target     *arch.Arch

	SearchDirs []string
	Sysroot    string
	RPaths     []string
	ProgramDir string

	zOptions map[ZOptionKind]ZOption

	Entry         string
	Undefined     []string
	Defsyms       []string
	WrapMap       map[string]bool
	ExportDynamic bool
	ExportDynSyms []string

	ImageBase       uint64
	SectionStart    map[string]uint64
	TBSS, TData, TText uint64
	NoAlignSegments bool
	Orphans         OrphanHandling
	ROSegment       bool

	GCSections      bool
	PrintGCSections bool
	GCCref          bool
	NoMergeStrings  bool

	ErrorLimit, WarnLimit int
	FatalWarnings         bool
	NoinhibitExec         bool
	Verbose               int
	TraceCategories       map[string]bool
	TraceSymbols          []string

	Threads     bool
	ThreadCount int
	AllThreads  bool

	MappingFile     string
	ReproduceFile   string
	ReproduceOnFail bool

	PluginConfigs    []string
	NoDefaultPlugins bool

	EmitRelocs bool
	StripDebug bool
	StripAll   bool
	BuildID    BuildIDKind

	Scripts []ScriptEntry
}

// Freeze copies b into an immutable Config. Callers must stop
// mutating b after calling Freeze.
func (b *Builder) Freeze() *Config {
	c := &Config{
		Output:          b.Output,
		OutputKind:      b.OutputKind,
		Target:          b.Target,
		SearchDirs:      append([]string(nil), b.SearchDirs...),
		Sysroot:         b.Sysroot,
		RPaths:          append([]string(nil), b.RPaths...),
		ProgramDir:      b.ProgramDir,
		zOptions:        make(map[ZOptionKind]ZOption, len(b.ZOptions)),
		Entry:           b.Entry,
		Undefined:       append([]string(nil), b.Undefined...),
		Defsyms:         append([]string(nil), b.Defsyms...),
		WrapMap:         make(map[string]bool, len(b.Wraps)),
		ExportDynamic:   b.ExportDynamic,
		ExportDynSyms:   append([]string(nil), b.ExportDynSyms...),
		ImageBase:       b.ImageBase,
		SectionStart:    copyUint64Map(b.SectionStart),
		TBSS:            b.TBSS,
		TData:           b.TData,
		TText:           b.TText,
		NoAlignSegments: b.NoAlignSegments,
		Orphans:         b.Orphans,
		ROSegment:       b.ROSegment,
		GCSections:      b.GCSections,
		PrintGCSections: b.PrintGCSections,
		GCCref:          b.GCCref,
		NoMergeStrings:  b.NoMergeStrings,
		ErrorLimit:      b.ErrorLimit,
		WarnLimit:       b.WarnLimit,
		FatalWarnings:   b.FatalWarnings,
		NoinhibitExec:   b.NoinhibitExec,
		Verbose:         b.Verbose,
		TraceCategories: copyBoolMap(b.TraceCategories),
		TraceSymbols:    append([]string(nil), b.TraceSymbols...),
		Threads:         b.Threads,
		ThreadCount:     b.ThreadCount,
		AllThreads:      b.AllThreads,
		MappingFile:     b.MappingFile,
		ReproduceFile:   b.ReproduceFile,
		ReproduceOnFail: b.ReproduceOnFail,
		PluginConfigs:   append([]string(nil), b.PluginConfigs...),
		NoDefaultPlugins: b.NoDefaultPlugins,
		EmitRelocs:      b.EmitRelocs,
		StripDebug:      b.StripDebug,
		StripAll:        b.StripAll,
		BuildID:         b.BuildID,
		Scripts:         append([]ScriptEntry(nil), b.Scripts...),
	}
	// Last Z-option of a given kind wins, matching GNU ld's flag
	// semantics for repeated -z.
	for _, z := range b.ZOptions {
		switch z.Kind {
		case ZRelro:
			delete(c.zOptions, ZNoRelro)
		case ZNoRelro:
			delete(c.zOptions, ZRelro)
		}
		c.zOptions[z.Kind] = z
	}
	for _, w := range b.Wraps {
		c.WrapMap[w] = true
	}
	return c
}

func copyUint64Map(m map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyBoolMap(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ZOption returns the effective Z-option of the given kind and
// whether it was set.
func (c *Config) ZOption(kind ZOptionKind) (ZOption, bool) {
	z, ok := c.zOptions[kind]
	return z, ok
}

// MaxPageSize returns the effective -z max-page-size, falling back to
// the target architecture's default.
func (c *Config) MaxPageSize() uint64 {
	if z, ok := c.ZOption(ZMaxPageSize); ok {
		return z.Page
	}
	if c.Target != nil {
		return c.Target.MaxPageSize
	}
	return 1 << 12
}

// CommonPageSize returns the effective -z common-page-size, falling
// back to the target architecture's default.
func (c *Config) CommonPageSize() uint64 {
	if z, ok := c.ZOption(ZCommPageSize); ok {
		return z.Page
	}
	if c.Target != nil {
		return c.Target.CommonPageSize
	}
	return 1 << 12
}

// Relro reports whether RELRO segment creation is requested, honoring
// -z relro / -z norelro (the last one specified wins: Freeze drops
// the earlier of the pair).
func (c *Config) Relro() bool {
	if _, ok := c.ZOption(ZNoRelro); ok {
		return false
	}
	_, ok := c.ZOption(ZRelro)
	return ok
}

// IsWrapped reports whether sym has a --wrap alias installed.
func (c *Config) IsWrapped(sym string) bool {
	return c.WrapMap[sym]
}
