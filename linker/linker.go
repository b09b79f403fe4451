// Package linker implements the driver / link orchestrator (C17):
// sequences the fixed phase list in §4.11, flushing diagnostics at
// every phase boundary and aborting on fatal error unless
// --noinhibit-exec permits continuing past a non-fatal one.
package linker

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"golang.org/x/sync/errgroup"

	"github.com/go-eld/eldlink/config"
	"github.com/go-eld/eldlink/diag"
	"github.com/go-eld/eldlink/layout"
	"github.com/go-eld/eldlink/plugin"
)

// Phase is one named tick of the link pipeline, counted for the
// progress bar (§4.11).
type Phase struct {
	Name string
	Run  func(ctx context.Context) error
}

// PhaseNames is the fixed §4.11 phase sequence, in order. A Driver
// built with New runs exactly these, each initially a no-op
// unless overridden by SetPhase; callers wire in their own component
// calls (reading inputs, invoking gc.Run, advancing the layout engine,
// and so on) by replacing the phases they care about.
var PhaseNames = []string{
	"initialize backend",
	"create internal inputs",
	"activate inputs",
	"read plugins' init",
	"read all inputs",
	"load non-universal plugins",
	"set code position",
	"parse version scripts",
	"parse dynamic list",
	"add script symbols",
	"LTO codegen",
	"post-LTO re-read inputs",
	"read relocations",
	"allocate commons",
	"assign output sections",
	"add standard symbols",
	"GC",
	"section-iterator plugin",
	"scan relocations",
	"add dynamic symbols",
	"merge sections",
	"init stubs",
	"prelayout",
	"merge strings",
	"layout",
	"post-layout",
	"finalize layout",
	"apply relocations",
	"finalize symbol values",
	"finalize before write",
	"emit",
	"verify size",
	"commit",
}

// ErrAborted is returned by Run when a phase boundary saw a fatal
// diagnostic, or a non-fatal error without --noinhibit-exec.
type ErrAborted struct {
	Phase  string
	Reason string
}

func (e *ErrAborted) Error() string {
	return fmt.Sprintf("link aborted at phase %q: %s", e.Phase, e.Reason)
}

// ProgressFunc is called after each phase completes, with its index
// and the total phase count, for a driver's progress bar.
type ProgressFunc func(index, total int, phase string)

// Driver sequences the link pipeline. It owns no link state itself
// beyond the phase list, diagnostics, and plugin host: every phase
// closure closes over whatever component state it needs.
type Driver struct {
	cfg     *config.Config
	diags   *diag.Engine
	plugins *plugin.Host
	phases  []Phase
	onFatal func() error // writes the reproduce tarball (§5)
	progress ProgressFunc
}

// New creates a Driver with the default no-op phase list, in the
// order PhaseNames enumerates. Callers override individual phases via
// SetPhase before calling Run.
func New(cfg *config.Config, diags *diag.Engine, plugins *plugin.Host) *Driver {
	d := &Driver{cfg: cfg, diags: diags, plugins: plugins}
	d.phases = make([]Phase, len(PhaseNames))
	for i, name := range PhaseNames {
		d.phases[i] = Phase{Name: name, Run: func(ctx context.Context) error { return nil }}
	}
	return d
}

// SetPhase replaces the Run closure for the named phase. It panics on
// an unknown name, since a typo here is a programming error, not a
// runtime condition.
func (d *Driver) SetPhase(name string, run func(ctx context.Context) error) {
	for i := range d.phases {
		if d.phases[i].Name == name {
			d.phases[i].Run = run
			return
		}
	}
	panic(fmt.Sprintf("linker: unknown phase %q", name))
}

// SetProgress registers a callback invoked after each phase completes.
func (d *Driver) SetProgress(fn ProgressFunc) { d.progress = fn }

// OnFatal registers the reproduce-tarball writer, invoked once when a
// fatal diagnostic is first observed (§5: "the reproduce-tarball
// writer is registered as both an interrupt handler and a fatal-error
// handler").
func (d *Driver) OnFatal(fn func() error) { d.onFatal = fn }

// Run executes every phase in order. Each phase boundary flushes
// pending diagnostics (by construction: diag.Engine prints as
// messages are reported, so "flush" here means "observe the fatal/
// error counters") and aborts the link if a fatal was recorded, or if
// a phase returned an error and --noinhibit-exec was not set.
func (d *Driver) Run(ctx context.Context) error {
	stop := d.installSignalHandler()
	defer stop()

	total := len(d.phases)
	for i, phase := range d.phases {
		if d.diags.HasFatal() {
			d.runOnFatal()
			return &ErrAborted{Phase: phase.Name, Reason: "a prior fatal diagnostic was recorded"}
		}

		err := phase.Run(ctx)

		if d.diags.HasFatal() {
			d.runOnFatal()
			return &ErrAborted{Phase: phase.Name, Reason: "fatal diagnostic reported during this phase"}
		}
		if err != nil {
			if d.cfg != nil && d.cfg.NoinhibitExec {
				d.diags.Report(diag.Warning, "phase-error", "", "phase %q: %v (continuing: --noinhibit-exec)", phase.Name, err)
			} else {
				d.runOnFatal()
				return &ErrAborted{Phase: phase.Name, Reason: err.Error()}
			}
		}

		if d.progress != nil {
			d.progress(i+1, total, phase.Name)
		}
	}
	return nil
}

func (d *Driver) runOnFatal() {
	if d.onFatal == nil {
		return
	}
	if err := d.onFatal(); err != nil {
		d.diags.Report(diag.Error, "reproduce-tarball", "", "failed to write reproduce tarball: %v", err)
	}
}

// installSignalHandler arranges for Ctrl-C to run the reproduce-
// tarball writer and then re-raise the default disposition, per §5:
// "A signal handler (Ctrl-C, SIGINFO) writes a reproduce tarball and
// exits." It returns a function that restores the default handling;
// callers defer it so a Driver used as a library doesn't leak a
// process-wide signal handler past Run.
func (d *Driver) installSignalHandler() func() {
	if d.onFatal == nil {
		return func() {}
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
	done := make(chan struct{})
	go func() {
		select {
		case <-ch:
			d.runOnFatal()
			os.Exit(1)
		case <-done:
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}

// ReadInputsParallel runs read, one call per item in items, using up
// to maxWorkers goroutines (§5: "parallel input reading after initial
// order is fixed"). The caller is responsible for the serial commit
// step that merges per-file results into the name pool in ordinal
// order (§5: "a serial commit step merges into the name pool in
// ordinal order") — this helper only bounds the concurrent reads
// themselves, via golang.org/x/sync/errgroup so the first read error
// cancels the rest and is the one returned.
func ReadInputsParallel(ctx context.Context, maxWorkers int, items []int, read func(ctx context.Context, index int) error) error {
	g, ctx := errgroup.WithContext(ctx)
	if maxWorkers > 0 {
		g.SetLimit(maxWorkers)
	}
	for _, index := range items {
		index := index
		g.Go(func() error {
			return read(ctx, index)
		})
	}
	return g.Wait()
}

// AdvanceLayout moves the layout engine forward, dispatching the
// matching plugin hook at each state boundary the §4.10 table names
// (Initializing, BeforeLayout, CreatingSections→CreatingSegments,
// AfterLayout). It's a convenience a "layout"/"post-layout"/"finalize
// layout" phase calls instead of duplicating the state/hook pairing.
func AdvanceLayout(ctx context.Context, eng *layout.Engine, plugins *plugin.Host) (layout.State, error) {
	state, err := eng.Advance()
	if err != nil {
		return state, err
	}
	if plugins == nil {
		return state, nil
	}

	switch state {
	case layout.StateInitializing:
		if err := plugins.RunInit(ctx, state, nil); err != nil {
			return state, err
		}
	case layout.StateCreatingSegments:
		if err := plugins.RunActBeforePerformingLayout(ctx, state); err != nil {
			return state, err
		}
	case layout.StateBeforeLayout:
		if err := plugins.RunActBeforeRuleMatching(ctx, state); err != nil {
			return state, err
		}
		if err := plugins.RunActBeforeSectionMerging(ctx, state); err != nil {
			return state, err
		}
	case layout.StateAfterLayout:
		if err := plugins.RunActBeforeWritingOutput(ctx, state); err != nil {
			return state, err
		}
	}
	return state, nil
}
