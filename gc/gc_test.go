package gc

import "testing"

func TestReachabilityFromRoot(t *testing.T) {
	g := NewGraph()
	g.AddSection(Section{ID: 1, Kind: "Regular", Refs: []int{2}}) // entry -> 1
	g.AddSection(Section{ID: 2, Kind: "Regular", Refs: []int{3}})
	g.AddSection(Section{ID: 3, Kind: "Regular"})
	g.AddSection(Section{ID: 4, Kind: "Regular"}) // unreferenced
	g.AddRoot(1)

	res := Run(g)
	for _, id := range []int{1, 2, 3} {
		if !res.Live[id] {
			t.Errorf("want section %d live", id)
		}
	}
	if res.Live[4] {
		t.Error("want section 4 not live")
	}
	discarded := res.Discarded(g)
	if len(discarded) != 1 || discarded[0] != 4 {
		t.Errorf("want only section 4 discarded, got %v", discarded)
	}
}

func TestKeepSurvivesWithoutRoot(t *testing.T) {
	g := NewGraph()
	g.AddSection(Section{ID: 1, Kind: "Regular", Keep: true})
	res := Run(g)
	if !res.Live[1] {
		t.Error("want KEEP section live even with no root reference")
	}
}

func TestNonDiscardableKindAlwaysLive(t *testing.T) {
	g := NewGraph()
	g.AddSection(Section{ID: 1, Kind: "SymTab"})
	res := Run(g)
	if !res.Live[1] {
		t.Error("want non-discardable-kind section always live")
	}
}

func TestCycleDoesNotInfiniteLoop(t *testing.T) {
	g := NewGraph()
	g.AddSection(Section{ID: 1, Kind: "Regular", Refs: []int{2}})
	g.AddSection(Section{ID: 2, Kind: "Regular", Refs: []int{1}})
	g.AddRoot(1)
	res := Run(g)
	if !res.Live[1] || !res.Live[2] {
		t.Error("want both sections in a cycle live")
	}
}
