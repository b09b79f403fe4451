// Package plugin implements the plugin host (C16): loads plugin
// hooks, dispatches them at defined pipeline states, tracks the
// fragment-movement invariant, and exposes command-line option
// registration (§4.10).
package plugin

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/sync/semaphore"

	"github.com/go-eld/eldlink/diag"
	"github.com/go-eld/eldlink/layout"
)

// APIVersion is the host's plugin-ABI version. A plugin load is
// rejected unless its reported major equals HostMajor and its minor
// does not exceed HostMinor (§4.10: "host rejects loads where major !=
// HOST_MAJOR or minor > HOST_MINOR").
var APIVersion = semver.MustParse("2.3.0")

// Base is the set of lifecycle hooks a plugin may implement. Every
// method is optional from the host's point of view: a plugin
// implements Base plus whichever of the hook interfaces below it
// cares about, and the host probes for each via a type assertion
// before calling it (the same pattern as http.Flusher/io.ReaderFrom in
// the standard library, generalized to a pipeline with more than one
// optional extension point).
type Base interface {
	// Name identifies the plugin in diagnostics and fragment-move
	// ownership checks.
	Name() string
}

// Initializer runs during Initializing: parse the plugin's own
// options string, register CLI option handlers and relocation
// callbacks.
type Initializer interface {
	Init(host *Host, options string) error
}

type RuleMatcher interface {
	ActBeforeRuleMatching(host *Host) error
}

type SectionVisitor interface {
	VisitSections(host *Host, inputFile string) error
}

type SymbolVisitor interface {
	VisitSymbol(host *Host, symbolName string) error
}

type SectionMerger interface {
	ActBeforeSectionMerging(host *Host) error
}

type LayoutFinalizer interface {
	ActBeforePerformingLayout(host *Host) error
}

type OutputFinalizer interface {
	ActBeforeWritingOutput(host *Host) error
}

// RelocUse is what a registered RelocCallback receives to compute a
// custom target value for a relocation the plugin claimed at Init.
type RelocUse struct {
	Type       string
	SymbolName string
	Addend     int64
}

type RelocCallback interface {
	RelocCallback(host *Host, use RelocUse) (value uint64, ok bool)
}

type Destroyer interface {
	Destroy(host *Host) error
}

// OptionHandler is invoked once per matching `--opt` or `--opt=value`
// occurrence on the link line, in link-line order, after driver parse
// completes (§4.10 "Command-line option registration").
type OptionHandler func(value string) error

// ChunkEvent is one fragment add or remove, logged for the end-of-
// CreatingSections balance check.
type ChunkEvent struct {
	FragmentID int
	Plugin     string
	Add        bool // true for add, false for remove
}

// BalanceError reports a plugin whose logged adds and removes don't
// match at the end of CreatingSections (§4.10: "Unbalanced movements
// produce diagnostics identifying the plugin and the chunk").
type BalanceError struct {
	Plugin     string
	FragmentID int
	Adds       int
	Removes    int
}

func (e *BalanceError) Error() string {
	return fmt.Sprintf("plugin %q: fragment %d has %d add(s) but %d remove(s)", e.Plugin, e.FragmentID, e.Adds, e.Removes)
}

// Host dispatches hooks to registered plugins at the right pipeline
// state and owns the fragment-movement ledger and option registry.
type Host struct {
	diags *diag.Engine

	mu       sync.Mutex
	plugins  []Base
	byName   map[string]Base
	advanced Base // the single privileged "AdvancedLTO" slot (§4.10)

	options map[string][]OptionHandler
	relocs  map[string]RelocCallback

	events []ChunkEvent

	// sem bounds concurrent dispatch to --thread-count plugins when
	// --enable-threads=all is set (§4.10, §5 "different plugins may
	// run concurrently only if all plugins opt in"); nil means
	// dispatch stays serialized, the default.
	sem *semaphore.Weighted
}

// NewHost creates a plugin host reporting diagnostics through diags.
func NewHost(diags *diag.Engine) *Host {
	return &Host{
		diags:   diags,
		byName:  make(map[string]Base),
		options: make(map[string][]OptionHandler),
		relocs:  make(map[string]RelocCallback),
	}
}

// EnableConcurrentDispatch allows up to n plugins to run their hooks
// concurrently (--enable-threads=all, §5). Without a call to this, all
// dispatch is serialized per plugin, the spec's default.
func (h *Host) EnableConcurrentDispatch(n int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sem = semaphore.NewWeighted(n)
}

// ErrVersionMismatch is returned by Register when a plugin's declared
// API version is incompatible with the host's.
type ErrVersionMismatch struct {
	Plugin          string
	HostVersion     *semver.Version
	PluginVersion   *semver.Version
	IncompatibleWhy string
}

func (e *ErrVersionMismatch) Error() string {
	return fmt.Sprintf("plugin %q version %s incompatible with host %s: %s", e.Plugin, e.PluginVersion, e.HostVersion, e.IncompatibleWhy)
}

// Register loads p into the host after checking its declared API
// version against APIVersion: major must match exactly, minor must
// not exceed the host's (§4.10).
func (h *Host) Register(p Base, apiVersion *semver.Version) error {
	if apiVersion.Major() != APIVersion.Major() {
		return &ErrVersionMismatch{p.Name(), APIVersion, apiVersion, fmt.Sprintf("major %d != host major %d", apiVersion.Major(), APIVersion.Major())}
	}
	if apiVersion.Minor() > APIVersion.Minor() {
		return &ErrVersionMismatch{p.Name(), APIVersion, apiVersion, fmt.Sprintf("minor %d exceeds host minor %d", apiVersion.Minor(), APIVersion.Minor())}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, dup := h.byName[p.Name()]; dup {
		return fmt.Errorf("plugin %q already registered", p.Name())
	}
	h.plugins = append(h.plugins, p)
	h.byName[p.Name()] = p
	return nil
}

// RegisterAdvancedLTO installs the single privileged AdvancedLTO slot.
// The host does not broadcast the ordinary LTO-adjacent hooks to any
// other plugin; ActBeforeSectionMerging et al. on this plugin still
// dispatch normally, this just records which plugin holds the slot.
func (h *Host) RegisterAdvancedLTO(p Base) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.advanced != nil {
		return fmt.Errorf("AdvancedLTO slot already held by %q", h.advanced.Name())
	}
	h.advanced = p
	return nil
}

// AdvancedLTO returns the registered AdvancedLTO plugin, if any.
func (h *Host) AdvancedLTO() (Base, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.advanced, h.advanced != nil
}

// RegisterOption records an option handler for name, to be invoked for
// every matching occurrence once driver parsing completes.
func (h *Host) RegisterOption(name string, fn OptionHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.options[name] = append(h.options[name], fn)
}

// DispatchOptions invokes every registered handler for occurrences, in
// link-line order (§4.10).
func (h *Host) DispatchOptions(occurrences []struct{ Name, Value string }) error {
	for _, occ := range occurrences {
		h.mu.Lock()
		handlers := append([]OptionHandler(nil), h.options[occ.Name]...)
		h.mu.Unlock()
		for _, fn := range handlers {
			if err := fn(occ.Value); err != nil {
				return fmt.Errorf("option %s: %w", occ.Name, err)
			}
		}
	}
	return nil
}

// RegisterRelocCallback claims typ for custom computation via cb's
// RelocCallback hook.
func (h *Host) RegisterRelocCallback(typ string, cb RelocCallback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.relocs[typ] = cb
}

// OverrideReloc looks up a plugin-claimed relocation type and, if one
// is registered, returns its computed value (§4.8 step 3).
func (h *Host) OverrideReloc(use RelocUse) (uint64, bool) {
	h.mu.Lock()
	cb, ok := h.relocs[use.Type]
	h.mu.Unlock()
	if !ok {
		return 0, false
	}
	return cb.RelocCallback(h, use)
}

// LogChunkAdd records a fragment add, for the end-of-CreatingSections
// balance check.
func (h *Host) LogChunkAdd(pluginName string, fragmentID int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ChunkEvent{FragmentID: fragmentID, Plugin: pluginName, Add: true})
}

// LogChunkRemove records a fragment remove.
func (h *Host) LogChunkRemove(pluginName string, fragmentID int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ChunkEvent{FragmentID: fragmentID, Plugin: pluginName, Add: false})
}

// CheckBalance verifies that every logged remove is matched by an add
// for the same (plugin, fragment) pair, per plugin, per fragment
// (§4.10: "the host verifies the multiset of removes equals the
// multiset of adds"). Returns every imbalance found, sorted for
// deterministic diagnostic ordering.
func (h *Host) CheckBalance() []*BalanceError {
	h.mu.Lock()
	defer h.mu.Unlock()

	type key struct {
		plugin string
		frag   int
	}
	counts := make(map[key]int)
	for _, ev := range h.events {
		k := key{ev.Plugin, ev.FragmentID}
		if ev.Add {
			counts[k]++
		} else {
			counts[k]--
		}
	}

	var errs []*BalanceError
	for k, balance := range counts {
		if balance == 0 {
			continue
		}
		adds, removes := 0, 0
		for _, ev := range h.events {
			if ev.Plugin != k.plugin || ev.FragmentID != k.frag {
				continue
			}
			if ev.Add {
				adds++
			} else {
				removes++
			}
		}
		errs = append(errs, &BalanceError{Plugin: k.plugin, FragmentID: k.frag, Adds: adds, Removes: removes})
	}
	sort.Slice(errs, func(i, j int) bool {
		if errs[i].Plugin != errs[j].Plugin {
			return errs[i].Plugin < errs[j].Plugin
		}
		return errs[i].FragmentID < errs[j].FragmentID
	})
	return errs
}

// dispatch runs fn for every registered plugin implementing iface
// (checked via the supplied probe), serialized unless EnableConcurrentDispatch
// was called, in which case up to h.sem's weight run concurrently.
// Each plugin's own hook invocations stay serialized relative to
// itself either way (§5: "plugin invocations are serialized per
// plugin").
func (h *Host) dispatch(ctx context.Context, run func(p Base) error) error {
	h.mu.Lock()
	plugins := append([]Base(nil), h.plugins...)
	sem := h.sem
	h.mu.Unlock()

	if sem == nil {
		for _, p := range plugins {
			if err := run(p); err != nil {
				return fmt.Errorf("plugin %q: %w", p.Name(), err)
			}
		}
		return nil
	}

	var wg sync.WaitGroup
	errs := make([]error, len(plugins))
	for i, p := range plugins {
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		wg.Add(1)
		go func(i int, p Base) {
			defer wg.Done()
			defer sem.Release(1)
			if err := run(p); err != nil {
				errs[i] = fmt.Errorf("plugin %q: %w", p.Name(), err)
			}
		}(i, p)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// RunInit dispatches Init to every Initializer plugin. Must be called
// while the layout engine is in StateInitializing (§4.10 table).
func (h *Host) RunInit(ctx context.Context, state layout.State, options map[string]string) error {
	if state != layout.StateInitializing {
		return &layout.ErrOutOfState{Want: layout.StateInitializing, Have: state}
	}
	return h.dispatch(ctx, func(p Base) error {
		ip, ok := p.(Initializer)
		if !ok {
			return nil
		}
		return ip.Init(h, options[p.Name()])
	})
}

func (h *Host) RunActBeforeRuleMatching(ctx context.Context, state layout.State) error {
	if state != layout.StateBeforeLayout {
		return &layout.ErrOutOfState{Want: layout.StateBeforeLayout, Have: state}
	}
	return h.dispatch(ctx, func(p Base) error {
		rp, ok := p.(RuleMatcher)
		if !ok {
			return nil
		}
		return rp.ActBeforeRuleMatching(h)
	})
}

func (h *Host) RunVisitSections(ctx context.Context, state layout.State, inputFile string) error {
	if state != layout.StateBeforeLayout {
		return &layout.ErrOutOfState{Want: layout.StateBeforeLayout, Have: state}
	}
	return h.dispatch(ctx, func(p Base) error {
		vp, ok := p.(SectionVisitor)
		if !ok {
			return nil
		}
		return vp.VisitSections(h, inputFile)
	})
}

func (h *Host) RunVisitSymbol(ctx context.Context, state layout.State, symbolName string) error {
	if state != layout.StateBeforeLayout {
		return &layout.ErrOutOfState{Want: layout.StateBeforeLayout, Have: state}
	}
	return h.dispatch(ctx, func(p Base) error {
		vp, ok := p.(SymbolVisitor)
		if !ok {
			return nil
		}
		return vp.VisitSymbol(h, symbolName)
	})
}

func (h *Host) RunActBeforeSectionMerging(ctx context.Context, state layout.State) error {
	if state != layout.StateBeforeLayout {
		return &layout.ErrOutOfState{Want: layout.StateBeforeLayout, Have: state}
	}
	return h.dispatch(ctx, func(p Base) error {
		mp, ok := p.(SectionMerger)
		if !ok {
			return nil
		}
		return mp.ActBeforeSectionMerging(h)
	})
}

// RunActBeforePerformingLayout spans CreatingSections→CreatingSegments
// per §4.10's table; callers are expected to invoke this right after
// AssignOffsets and before AssignAddresses.
func (h *Host) RunActBeforePerformingLayout(ctx context.Context, state layout.State) error {
	if state != layout.StateCreatingSections && state != layout.StateCreatingSegments {
		return &layout.ErrOutOfState{Want: layout.StateCreatingSections, Have: state}
	}
	return h.dispatch(ctx, func(p Base) error {
		lp, ok := p.(LayoutFinalizer)
		if !ok {
			return nil
		}
		return lp.ActBeforePerformingLayout(h)
	})
}

func (h *Host) RunActBeforeWritingOutput(ctx context.Context, state layout.State) error {
	if state != layout.StateAfterLayout {
		return &layout.ErrOutOfState{Want: layout.StateAfterLayout, Have: state}
	}
	return h.dispatch(ctx, func(p Base) error {
		op, ok := p.(OutputFinalizer)
		if !ok {
			return nil
		}
		return op.ActBeforeWritingOutput(h)
	})
}

// RunDestroy dispatches Destroy to every Destroyer plugin at teardown,
// valid from any state, and never short-circuits on an individual
// plugin's error: every plugin gets a chance to release its resources.
func (h *Host) RunDestroy(ctx context.Context) []error {
	h.mu.Lock()
	plugins := append([]Base(nil), h.plugins...)
	h.mu.Unlock()

	var errs []error
	for _, p := range plugins {
		dp, ok := p.(Destroyer)
		if !ok {
			continue
		}
		if err := dp.Destroy(h); err != nil {
			errs = append(errs, fmt.Errorf("plugin %q: %w", p.Name(), err))
		}
	}
	return errs
}

// Diagnostics returns the host's diagnostic engine, so a plugin hook
// running with only a *Host can still report through the same sink as
// every other component.
func (h *Host) Diagnostics() *diag.Engine {
	return h.diags
}
