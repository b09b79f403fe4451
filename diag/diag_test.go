package diag

import (
	"bytes"
	"strings"
	"testing"
)

func TestReportBasic(t *testing.T) {
	var buf bytes.Buffer
	e := NewEngine(&buf, Options{Color: ColorNever})

	e.Report(Warning, "w1", "", "something odd: %d", 42)
	e.Report(Error, "e1", "", "undefined symbol %q", "foo")

	if got := e.Count(Warning); got != 1 {
		t.Errorf("want 1 warning, got %d", got)
	}
	if got := e.Count(Error); got != 1 {
		t.Errorf("want 1 error, got %d", got)
	}
	if e.WorstSeverity() != Error {
		t.Errorf("want worst severity Error, got %s", e.WorstSeverity())
	}
	out := buf.String()
	if !strings.Contains(out, "something odd: 42") || !strings.Contains(out, `undefined symbol "foo"`) {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestFatalWarnings(t *testing.T) {
	var buf bytes.Buffer
	e := NewEngine(&buf, Options{FatalWarnings: true})
	msg := e.Report(Warning, "w1", "", "oops")
	if msg.Severity != Fatal {
		t.Errorf("want promoted Fatal, got %s", msg.Severity)
	}
	if !e.HasFatal() {
		t.Error("want HasFatal true")
	}
	if e.ExitCode(false) != 1 {
		t.Error("want exit code 1 after fatal")
	}
}

func TestNoinhibitExec(t *testing.T) {
	var buf bytes.Buffer
	e := NewEngine(&buf, Options{})
	e.Report(Error, "e1", "", "non-fatal error")
	if e.ExitCode(false) != 1 {
		t.Error("want exit 1 without noinhibit-exec")
	}
	if e.ExitCode(true) != 0 {
		t.Error("want exit 0 with noinhibit-exec masking the error")
	}
}

func TestErrorLimit(t *testing.T) {
	var buf bytes.Buffer
	e := NewEngine(&buf, Options{ErrorLimit: 2})
	for i := 0; i < 5; i++ {
		e.Report(Error, "e", "", "error %d", i)
	}
	if got := e.Count(Error); got != 5 {
		t.Errorf("want all 5 counted, got %d", got)
	}
	if n := strings.Count(buf.String(), "too many"); n != 1 {
		t.Errorf("want exactly one 'too many' summary line, got %d", n)
	}
}

func TestPluginAttribution(t *testing.T) {
	var buf bytes.Buffer
	e := NewEngine(&buf, Options{})
	e.Report(Error, "e1", "my-plugin", "broke something")
	if !strings.Contains(buf.String(), "my-plugin:Error:") {
		t.Errorf("want plugin-prefixed message, got %q", buf.String())
	}
}
