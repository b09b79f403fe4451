package input

import "testing"

func TestBuilderOrdinalsAndAttributes(t *testing.T) {
	b := NewBuilder()
	b.Apply(Action{Kind: ActionInputFile, Path: "crt1.o"})
	b.Apply(Action{Kind: ActionBStatic})
	b.Apply(Action{Kind: ActionNamespec, Namespec: "c"})
	b.Apply(Action{Kind: ActionBDynamic})
	b.Apply(Action{Kind: ActionNamespec, Namespec: "m"})

	if len(b.Inputs) != 3 {
		t.Fatalf("want 3 inputs, got %d", len(b.Inputs))
	}
	if b.Inputs[0].Ordinal != 0 || b.Inputs[2].Ordinal != 2 {
		t.Errorf("want monotone ordinals, got %d, %d", b.Inputs[0].Ordinal, b.Inputs[2].Ordinal)
	}
	if !b.Inputs[1].Attributes.Static {
		t.Error("want libc namespec resolved under -Bstatic")
	}
	if b.Inputs[1].Type != TypeArchive {
		t.Errorf("want TypeArchive under -Bstatic, got %s", b.Inputs[1].Type)
	}
	if b.Inputs[2].Attributes.Static {
		t.Error("want libm namespec to see -Bdynamic again")
	}
	if b.Inputs[2].Type != TypeDynamicLibrary {
		t.Errorf("want TypeDynamicLibrary under -Bdynamic, got %s", b.Inputs[2].Type)
	}
}

func TestGroupNestingError(t *testing.T) {
	b := NewBuilder()
	b.Apply(Action{Kind: ActionStartGroup})
	b.Apply(Action{Kind: ActionStartGroup})
	if b.Err() != ErrNestedGroup {
		t.Errorf("want ErrNestedGroup, got %v", b.Err())
	}
}

func TestUnmatchedEndGroup(t *testing.T) {
	b := NewBuilder()
	b.Apply(Action{Kind: ActionEndGroup})
	if b.Err() != ErrUnmatchedEndGroup {
		t.Errorf("want ErrUnmatchedEndGroup, got %v", b.Err())
	}
}

func TestWholeArchiveToggle(t *testing.T) {
	b := NewBuilder()
	b.Apply(Action{Kind: ActionWholeArchive})
	b.Apply(Action{Kind: ActionNamespec, Namespec: "foo"})
	b.Apply(Action{Kind: ActionNoWholeArchive})
	b.Apply(Action{Kind: ActionNamespec, Namespec: "bar"})

	if !b.Inputs[0].Attributes.WholeArchive {
		t.Error("want whole-archive on for foo")
	}
	if b.Inputs[1].Attributes.WholeArchive {
		t.Error("want whole-archive off for bar")
	}
}

func TestArchiveExtractionIdempotent(t *testing.T) {
	owner := &Input{Name: "libc.a"}
	a := NewArchive(owner)
	a.IndexSymbol("puts", 3)

	if i, ok := a.MemberDefining("puts"); !ok || i != 3 {
		t.Fatalf("want member 3 defines puts, got %d,%v", i, ok)
	}
	if !a.Extract(3) {
		t.Error("want first extraction to succeed")
	}
	if a.Extract(3) {
		t.Error("want re-extraction to be a no-op (return false)")
	}
	if !a.IsExtracted(3) {
		t.Error("want member 3 marked extracted")
	}
}
