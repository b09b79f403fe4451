// Package diag implements the linker's diagnostic engine (C1):
// severity-tagged messages with positional argument substitution, per-
// severity count limits, --fatal-warnings promotion, and a colorized
// sink. Every other package reports problems through this package
// rather than panicking or returning bare errors across a phase
// boundary.
package diag

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mattn/go-isatty"
)

// Severity is the tier of a diagnostic, ordered from least to most
// severe. The ordering matters: Engine.WorstSeverity reports the
// maximum seen.
type Severity int

const (
	Note Severity = iota
	Warning
	CriticalWarning
	Error
	InternalError
	Fatal
)

func (s Severity) String() string {
	switch s {
	case Note:
		return "Note"
	case Warning:
		return "Warning"
	case CriticalWarning:
		return "CriticalWarning"
	case Error:
		return "Error"
	case InternalError:
		return "InternalError"
	case Fatal:
		return "Fatal"
	default:
		return "Unknown"
	}
}

// A Message is a single reported diagnostic.
type Message struct {
	// Severity is this message's severity, after any promotion (e.g.
	// --fatal-warnings turning Warning into Fatal).
	Severity Severity
	// ID is a stable message identifier (e.g. "undefined-symbol"),
	// used by callers that want to filter or test for a specific
	// diagnostic without matching its rendered text.
	ID string
	// Plugin names the plugin that raised this diagnostic, or "" for
	// diagnostics raised by the core linker.
	Plugin string
	// Text is the fully formatted message body.
	Text string
}

func (m Message) String() string {
	var b strings.Builder
	if m.Plugin != "" {
		b.WriteString(m.Plugin)
		b.WriteByte(':')
	}
	b.WriteString(m.Severity.String())
	b.WriteString(": ")
	b.WriteString(m.Text)
	return b.String()
}

// Color selects when the sink colorizes output, matching --color.
type Color int

const (
	ColorAuto Color = iota
	ColorNever
	ColorAlways
)

// Options configures an Engine's limits and promotions.
type Options struct {
	// ErrorLimit and WarnLimit cap the number of messages of Error and
	// Warning severity (respectively) that are printed before being
	// summarized as "too many ...". 0 means unlimited.
	ErrorLimit, WarnLimit int
	// FatalWarnings promotes Warning and CriticalWarning to Fatal.
	FatalWarnings bool
	// FatalInternalErrors promotes InternalError to Fatal.
	FatalInternalErrors bool
	// Color selects the sink's colorization mode.
	Color Color
	// Verbose gates Note messages; notes are dropped unless Verbose.
	Verbose bool
}

// An Engine collects and renders diagnostics. It is safe for
// concurrent use: counters are atomic and the sink write is
// serialized behind a mutex, matching the ordering guarantees the
// worker-pool reading/relocation phases require.
type Engine struct {
	opts Options
	w    io.Writer
	useColor bool

	mu       sync.Mutex // serializes writes to w
	counts   [Fatal + 1]int64
	worst    int64 // atomic, holds Severity of the worst message seen
	messages []Message
}

// NewEngine creates an Engine that writes rendered diagnostics to w.
// If w is an *os.File, color is auto-detected via isatty unless opts
// forces it on or off.
func NewEngine(w io.Writer, opts Options) *Engine {
	e := &Engine{opts: opts, w: w}
	switch opts.Color {
	case ColorAlways:
		e.useColor = true
	case ColorNever:
		e.useColor = false
	default:
		e.useColor = autoColor(w)
	}
	return e
}

func autoColor(w io.Writer) bool {
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// promote applies --fatal-warnings / --fatal-internal-errors.
func (e *Engine) promote(sev Severity) Severity {
	switch sev {
	case Warning, CriticalWarning:
		if e.opts.FatalWarnings {
			return Fatal
		}
	case InternalError:
		if e.opts.FatalInternalErrors {
			return Fatal
		}
	}
	return sev
}

// Report records and prints a diagnostic. plugin is "" for
// core-linker diagnostics. It returns the message as actually emitted
// (post-promotion), so callers can decide whether to keep going.
func (e *Engine) Report(sev Severity, id, plugin, format string, args ...interface{}) Message {
	sev = e.promote(sev)
	if sev == Note && !e.opts.Verbose {
		atomic.AddInt64(&e.counts[sev], 1)
		return Message{Severity: sev, ID: id, Plugin: plugin, Text: fmt.Sprintf(format, args...)}
	}

	msg := Message{Severity: sev, ID: id, Plugin: plugin, Text: fmt.Sprintf(format, args...)}
	n := atomic.AddInt64(&e.counts[sev], 1)
	e.updateWorst(sev)

	if limit := e.limitFor(sev); limit > 0 && n > int64(limit) {
		if n == int64(limit)+1 {
			e.print(Message{Severity: sev, Text: fmt.Sprintf("too many %s messages, suppressing further output", strings.ToLower(sev.String()))})
		}
		e.mu.Lock()
		e.messages = append(e.messages, msg)
		e.mu.Unlock()
		return msg
	}

	e.print(msg)
	e.mu.Lock()
	e.messages = append(e.messages, msg)
	e.mu.Unlock()
	return msg
}

func (e *Engine) limitFor(sev Severity) int {
	switch sev {
	case Error:
		return e.opts.ErrorLimit
	case Warning, CriticalWarning:
		return e.opts.WarnLimit
	default:
		return 0
	}
}

func (e *Engine) updateWorst(sev Severity) {
	for {
		cur := atomic.LoadInt64(&e.worst)
		if int64(sev) <= cur {
			return
		}
		if atomic.CompareAndSwapInt64(&e.worst, cur, int64(sev)) {
			return
		}
	}
}

func (e *Engine) print(msg Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.useColor {
		fmt.Fprintln(e.w, colorize(msg))
	} else {
		fmt.Fprintln(e.w, msg.String())
	}
}

func colorize(msg Message) string {
	const (
		red    = "\x1b[31m"
		yellow = "\x1b[33m"
		reset  = "\x1b[0m"
	)
	color := ""
	switch msg.Severity {
	case Error, InternalError, Fatal:
		color = red
	case Warning, CriticalWarning:
		color = yellow
	}
	if color == "" {
		return msg.String()
	}
	return color + msg.String() + reset
}

// Count returns the number of messages reported at sev (after
// promotion).
func (e *Engine) Count(sev Severity) int64 {
	return atomic.LoadInt64(&e.counts[sev])
}

// WorstSeverity returns the most severe diagnostic reported so far.
func (e *Engine) WorstSeverity() Severity {
	return Severity(atomic.LoadInt64(&e.worst))
}

// HasFatal reports whether any Fatal diagnostic has been recorded.
// The driver (C17) short-circuits phase boundaries once this is true.
func (e *Engine) HasFatal() bool {
	return e.Count(Fatal) > 0
}

// ExitCode implements the exit-code contract (§8): 0 iff no fatal and
// no uncaught error, subject to noinhibitExec suppressing Error from
// the exit-code decision.
func (e *Engine) ExitCode(noinhibitExec bool) int {
	if e.Count(Fatal) > 0 {
		return 1
	}
	if !noinhibitExec && e.Count(Error) > 0 {
		return 1
	}
	return 0
}

// Messages returns every message recorded so far, in report order.
// The caller must not modify the result.
func (e *Engine) Messages() []Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Message, len(e.messages))
	copy(out, e.messages)
	return out
}

// Summary writes a one-line-per-severity count summary, for
// --summary.
func (e *Engine) Summary(w io.Writer) {
	for sev := Note; sev <= Fatal; sev++ {
		if n := e.Count(sev); n > 0 {
			fmt.Fprintf(w, "%s: %d\n", sev, n)
		}
	}
}
