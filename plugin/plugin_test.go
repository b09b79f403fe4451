package plugin

import (
	"bytes"
	"context"
	"testing"

	"github.com/Masterminds/semver/v3"

	"github.com/go-eld/eldlink/diag"
	"github.com/go-eld/eldlink/layout"
)

type fakePlugin struct {
	name        string
	initCalled  bool
	initOptions string
	initErr     error
}

func (p *fakePlugin) Name() string { return p.name }

func (p *fakePlugin) Init(h *Host, options string) error {
	p.initCalled = true
	p.initOptions = options
	return p.initErr
}

func newTestHost() *Host {
	return NewHost(diag.NewEngine(&bytes.Buffer{}, diag.Options{}))
}

func TestRegisterRejectsMajorMismatch(t *testing.T) {
	h := newTestHost()
	err := h.Register(&fakePlugin{name: "p"}, semver.MustParse("3.0.0"))
	if err == nil {
		t.Fatal("want error for major version mismatch")
	}
	if _, ok := err.(*ErrVersionMismatch); !ok {
		t.Errorf("want *ErrVersionMismatch, got %T", err)
	}
}

func TestRegisterRejectsNewerMinor(t *testing.T) {
	h := newTestHost()
	err := h.Register(&fakePlugin{name: "p"}, semver.MustParse("2.99.0"))
	if err == nil {
		t.Fatal("want error for minor exceeding host minor")
	}
}

func TestRegisterAcceptsOlderMinor(t *testing.T) {
	h := newTestHost()
	if err := h.Register(&fakePlugin{name: "p"}, semver.MustParse("2.0.0")); err != nil {
		t.Fatalf("want older-minor plugin accepted, got %v", err)
	}
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	h := newTestHost()
	if err := h.Register(&fakePlugin{name: "p"}, APIVersion); err != nil {
		t.Fatal(err)
	}
	if err := h.Register(&fakePlugin{name: "p"}, APIVersion); err == nil {
		t.Fatal("want error for duplicate plugin name")
	}
}

func TestRunInitRequiresInitializingState(t *testing.T) {
	h := newTestHost()
	p := &fakePlugin{name: "p"}
	if err := h.Register(p, APIVersion); err != nil {
		t.Fatal(err)
	}
	if err := h.RunInit(context.Background(), layout.StateBeforeLayout, nil); err == nil {
		t.Fatal("want ErrOutOfState")
	}
	if p.initCalled {
		t.Error("Init must not run from the wrong state")
	}
}

func TestRunInitDispatchesWithOptions(t *testing.T) {
	h := newTestHost()
	p := &fakePlugin{name: "p"}
	if err := h.Register(p, APIVersion); err != nil {
		t.Fatal(err)
	}
	opts := map[string]string{"p": "-v"}
	if err := h.RunInit(context.Background(), layout.StateInitializing, opts); err != nil {
		t.Fatal(err)
	}
	if !p.initCalled || p.initOptions != "-v" {
		t.Errorf("want Init called with \"-v\", got called=%v options=%q", p.initCalled, p.initOptions)
	}
}

func TestAdvancedLTOSlotIsSingular(t *testing.T) {
	h := newTestHost()
	if err := h.RegisterAdvancedLTO(&fakePlugin{name: "lto1"}); err != nil {
		t.Fatal(err)
	}
	if err := h.RegisterAdvancedLTO(&fakePlugin{name: "lto2"}); err == nil {
		t.Fatal("want error: AdvancedLTO slot already held")
	}
}

func TestOptionDispatchInLinkLineOrder(t *testing.T) {
	h := newTestHost()
	var seen []string
	h.RegisterOption("--foo", func(v string) error {
		seen = append(seen, v)
		return nil
	})
	occ := []struct{ Name, Value string }{
		{"--foo", "a"},
		{"--foo", "b"},
	}
	if err := h.DispatchOptions(occ); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 2 || seen[0] != "a" || seen[1] != "b" {
		t.Errorf("want [a b] in order, got %v", seen)
	}
}

func TestChunkBalanceDetectsImbalance(t *testing.T) {
	h := newTestHost()
	h.LogChunkAdd("p", 1)
	h.LogChunkAdd("p", 2)
	h.LogChunkRemove("p", 1)

	errs := h.CheckBalance()
	if len(errs) != 1 {
		t.Fatalf("want 1 imbalance, got %d", len(errs))
	}
	if errs[0].FragmentID != 2 || errs[0].Adds != 1 || errs[0].Removes != 0 {
		t.Errorf("unexpected imbalance: %+v", errs[0])
	}
}

func TestChunkBalanceCleanWhenMatched(t *testing.T) {
	h := newTestHost()
	h.LogChunkAdd("p", 1)
	h.LogChunkRemove("p", 1)
	h.LogChunkAdd("p", 1)
	h.LogChunkRemove("p", 1)

	if errs := h.CheckBalance(); len(errs) != 0 {
		t.Errorf("want no imbalance, got %v", errs)
	}
}

func TestRelocCallbackOverride(t *testing.T) {
	h := newTestHost()
	cb := relocFunc(func(host *Host, use RelocUse) (uint64, bool) {
		return 0x42, true
	})
	h.RegisterRelocCallback("CUSTOM", cb)

	v, ok := h.OverrideReloc(RelocUse{Type: "CUSTOM"})
	if !ok || v != 0x42 {
		t.Errorf("want (0x42,true), got (%#x,%v)", v, ok)
	}

	_, ok = h.OverrideReloc(RelocUse{Type: "OTHER"})
	if ok {
		t.Error("want no override for an unregistered type")
	}
}

type relocFunc func(host *Host, use RelocUse) (uint64, bool)

func (f relocFunc) RelocCallback(host *Host, use RelocUse) (uint64, bool) { return f(host, use) }
