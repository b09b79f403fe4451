// Command eldlink is the CLI front end for the linker: flags merely
// populate a config.Builder, which is frozen and handed to the driver.
// The deep logic lives in the packages the driver sequences, not here.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/go-eld/eldlink/arch"
	"github.com/go-eld/eldlink/config"
	"github.com/go-eld/eldlink/diag"
	"github.com/go-eld/eldlink/linker"
	"github.com/go-eld/eldlink/plugin"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	b := config.NewBuilder()

	var (
		outputKind   string
		emulation    string
		orphanMode   string
		buildIDFlag  string
		zopts        []string
		rpaths       []string
		undefined    []string
		traceSyms    []string
		scriptFiles  []string
	)

	cmd := &cobra.Command{
		Use:           "eldlink [objects...]",
		Short:         "link ELF objects into an executable, shared object, or relocatable file",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := applyOutputKind(b, outputKind); err != nil {
				return err
			}
			if emulation != "" {
				t, ok := arch.LookupTarget(emulation)
				if !ok {
					return fmt.Errorf("unknown emulation %q (see -m choices)", emulation)
				}
				b.Target = t.Arch
				b.TargetName = t.Name
			}
			if orphanMode != "" {
				o, err := config.ParseOrphanHandling(orphanMode)
				if err != nil {
					return err
				}
				b.Orphans = o
			}
			if buildIDFlag != "" {
				kind, err := parseBuildID(buildIDFlag)
				if err != nil {
					return err
				}
				b.BuildID = kind
			}
			for _, z := range zopts {
				zo, err := parseZOption(z)
				if err != nil {
					return err
				}
				b.AddZOption(zo)
			}
			b.RPaths = append(b.RPaths, rpaths...)
			b.Undefined = append(b.Undefined, undefined...)
			b.TraceSymbols = append(b.TraceSymbols, traceSyms...)
			for _, s := range scriptFiles {
				b.Scripts = append(b.Scripts, config.ScriptEntry{Path: s, Kind: config.ScriptLinkerScript})
			}
			if exe, err := os.Executable(); err == nil {
				b.ProgramDir = filepath.Dir(exe)
			}

			cfg := b.Freeze()
			return run(cmd.Context(), cfg, args)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&b.Output, "output", "o", "a.out", "output file name")
	flags.StringVar(&outputKind, "output-kind", "exec", "one of exec, shared, pie, relocatable")
	flags.StringVarP(&emulation, "emulation", "m", "", "target emulation name (-m)")
	flags.StringSliceVarP(&b.SearchDirs, "library-path", "L", nil, "add dir to the library search path")
	flags.StringSliceVar(&rpaths, "rpath", nil, "add dir to the runtime search path (-rpath)")
	flags.StringVar(&b.Sysroot, "sysroot", "", "prepend sysroot to absolute search paths")
	flags.StringVar(&b.Entry, "entry", "", "set the entry point symbol (-e)")
	flags.StringSliceVarP(&undefined, "undefined", "u", nil, "force symbol to be entered as undefined")
	flags.StringSliceVar(&zopts, "z", nil, "-z option (repeatable)")
	flags.StringVar(&orphanMode, "orphan-handling", "place", "place, warn, error, or discard")
	flags.BoolVar(&b.GCSections, "gc-sections", false, "remove unreferenced sections")
	flags.BoolVar(&b.PrintGCSections, "print-gc-sections", false, "list sections removed by --gc-sections")
	flags.BoolVar(&b.NoMergeStrings, "no-merge-strings", false, "disable SHF_MERGE string-literal coalescing")
	flags.IntVar(&b.ErrorLimit, "error-limit", 20, "max error diagnostics before summarizing (0 = unlimited)")
	flags.IntVar(&b.WarnLimit, "warning-limit", 0, "max warning diagnostics before summarizing (0 = unlimited)")
	flags.BoolVar(&b.FatalWarnings, "fatal-warnings", false, "treat warnings as fatal")
	flags.BoolVar(&b.NoinhibitExec, "noinhibit-exec", false, "keep going and write output despite non-fatal errors")
	flags.CountVarP(&b.Verbose, "verbose", "v", "increase verbosity (repeatable)")
	flags.StringSliceVar(&traceSyms, "trace-symbol", nil, "report every file that defines or references symbol")
	flags.BoolVar(&b.Threads, "threads", false, "enable the worker pool for parallel reading/relocation/merge")
	flags.IntVar(&b.ThreadCount, "thread-count", 0, "concurrent plugin dispatch limit under --enable-threads-all (0 = GOMAXPROCS)")
	flags.BoolVar(&b.AllThreads, "enable-threads-all", false, "allow concurrent plugin dispatch (--enable-threads=all)")
	flags.StringVar(&b.MappingFile, "mapping-file", "", "path to a path-redirect/hash mapping INI file")
	flags.StringVar(&b.ReproduceFile, "reproduce", "", "write a reproduce tarball to this path")
	flags.BoolVar(&b.ReproduceOnFail, "reproduce-on-fail", false, "write the reproduce tarball only if the link fails")
	flags.StringSliceVar(&b.PluginConfigs, "plugin-config", nil, "load a plugin by its config file path")
	flags.BoolVar(&b.NoDefaultPlugins, "no-default-plugins", false, "skip loading built-in default plugins")
	flags.BoolVar(&b.EmitRelocs, "emit-relocs", false, "keep relocation entries in the output (-q)")
	flags.BoolVar(&b.StripDebug, "strip-debug", false, "strip debug sections (-S)")
	flags.BoolVar(&b.StripAll, "strip-all", false, "strip all symbol and relocation info (-s)")
	flags.StringVar(&buildIDFlag, "build-id", "", "none, fast, md5, sha1, or tree")
	flags.StringSliceVarP(&scriptFiles, "script", "T", nil, "read a linker script")

	return cmd
}

func applyOutputKind(b *config.Builder, kind string) error {
	switch kind {
	case "exec":
		b.OutputKind = config.OutputExecutable
	case "shared":
		b.OutputKind = config.OutputSharedObject
	case "pie":
		b.OutputKind = config.OutputPIE
	case "relocatable":
		b.OutputKind = config.OutputRelocatable
	default:
		return fmt.Errorf("invalid --output-kind %q (want exec, shared, pie, or relocatable)", kind)
	}
	return nil
}

func parseBuildID(s string) (config.BuildIDKind, error) {
	switch s {
	case "none":
		return config.BuildIDNone, nil
	case "fast", "":
		return config.BuildIDFast, nil
	case "md5":
		return config.BuildIDMD5, nil
	case "sha1":
		return config.BuildIDSHA1, nil
	case "tree":
		return config.BuildIDTree, nil
	default:
		return 0, fmt.Errorf("invalid --build-id %q", s)
	}
}

func parseZOption(s string) (config.ZOption, error) {
	switch s {
	case "relro":
		return config.ZOption{Kind: config.ZRelro}, nil
	case "norelro":
		return config.ZOption{Kind: config.ZNoRelro}, nil
	case "now":
		return config.ZOption{Kind: config.ZNow}, nil
	case "lazy":
		return config.ZOption{Kind: config.ZLazy}, nil
	case "noexecstack":
		return config.ZOption{Kind: config.ZNoExecStack}, nil
	case "execstack":
		return config.ZOption{Kind: config.ZExecStack}, nil
	case "defs":
		return config.ZOption{Kind: config.ZDefs}, nil
	case "muldefs":
		return config.ZOption{Kind: config.ZMulDefs}, nil
	case "nodefaultlib":
		return config.ZOption{Kind: config.ZNoDefaultLib}, nil
	case "origin":
		return config.ZOption{Kind: config.ZOrigin}, nil
	default:
		return config.ZOption{Kind: config.ZUnknown, File: s}, nil
	}
}

// run wires a frozen config into a diagnostic engine, plugin host, and
// driver, then runs the phase sequence. The individual phase bodies
// (reading inputs, resolving symbols, running the layout engine,
// applying relocations, writing the output) are supplied by whichever
// package owns that concern; this function's job is only to build the
// pipeline and hand control to linker.Driver.Run.
func run(ctx context.Context, cfg *config.Config, inputs []string) error {
	diags := diag.NewEngine(os.Stderr, diag.Options{
		ErrorLimit:    cfg.ErrorLimit,
		WarnLimit:     cfg.WarnLimit,
		FatalWarnings: cfg.FatalWarnings,
	})

	if len(inputs) == 0 {
		diags.Report(diag.Fatal, "no-inputs", "", "no input files")
	}

	plugins := plugin.NewHost(diags)
	if cfg.AllThreads {
		n := int64(cfg.ThreadCount)
		if n <= 0 {
			n = int64(runtime.GOMAXPROCS(0))
		}
		plugins.EnableConcurrentDispatch(n)
	}

	d := linker.New(cfg, diags, plugins)
	linker.Wire(d, cfg, diags, plugins, inputs)

	if err := d.Run(ctx); err != nil {
		return err
	}

	diags.Summary(os.Stderr)
	if diags.HasFatal() {
		return fmt.Errorf("link failed")
	}
	return nil
}
