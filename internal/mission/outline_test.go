package mission

import "testing"

func sec(id string, deps ...string) *Section {
	return &Section{SectionID: id, Title: id, ResearchStrategy: StrategySynthesize, DependsOnSteps: deps}
}

func TestValidateOutlineAcyclic(t *testing.T) {
	o := &Outline{Sections: []*Section{sec("a"), sec("b", "a")}}
	if err := ValidateOutline(o, 5); err != nil {
		t.Fatalf("expected valid outline, got %v", err)
	}
}

func TestValidateOutlineRejectsCycle(t *testing.T) {
	a := sec("a", "b")
	b := sec("b", "a")
	o := &Outline{Sections: []*Section{a, b}}
	if err := ValidateOutline(o, 5); err == nil {
		t.Fatal("expected cycle to be rejected")
	}
}

func TestValidateOutlineRejectsDuplicateID(t *testing.T) {
	o := &Outline{Sections: []*Section{sec("a"), sec("a")}}
	if err := ValidateOutline(o, 5); err == nil {
		t.Fatal("expected duplicate section_id to be rejected")
	}
}

func TestValidateOutlineRejectsUnknownDependency(t *testing.T) {
	o := &Outline{Sections: []*Section{sec("a", "ghost")}}
	if err := ValidateOutline(o, 5); err == nil {
		t.Fatal("expected unknown dependency to be rejected")
	}
}

func TestValidateOutlineRejectsExcessiveDepth(t *testing.T) {
	leaf := sec("c")
	mid := &Section{SectionID: "b", Title: "b", ResearchStrategy: StrategySynthesize, Subsections: []*Section{leaf}}
	top := &Section{SectionID: "a", Title: "a", ResearchStrategy: StrategySynthesize, Subsections: []*Section{mid}}
	o := &Outline{Sections: []*Section{top}}
	if err := ValidateOutline(o, 2); err == nil {
		t.Fatal("expected depth 3 to exceed max_total_depth 2")
	}
	if err := ValidateOutline(o, 3); err != nil {
		t.Fatalf("expected depth 3 to satisfy max_total_depth 3, got %v", err)
	}
}

func TestTopoSortOrdersByDependency(t *testing.T) {
	a := sec("a")
	b := sec("b", "a")
	c := sec("c", "b")
	o := &Outline{Sections: []*Section{c, a, b}}
	order, err := TopoSort(o)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pos := map[string]int{}
	for i, s := range order {
		pos[s.SectionID] = i
	}
	if !(pos["a"] < pos["b"] && pos["b"] < pos["c"]) {
		t.Fatalf("expected order a < b < c, got %+v", pos)
	}
}

func TestOutlineLeaves(t *testing.T) {
	leaf1 := sec("leaf1")
	leaf2 := sec("leaf2")
	parent := &Section{SectionID: "parent", Title: "parent", ResearchStrategy: StrategySynthesize, Subsections: []*Section{leaf1, leaf2}}
	standalone := sec("standalone")
	o := &Outline{Sections: []*Section{parent, standalone}}

	leaves := o.Leaves()
	if len(leaves) != 3 {
		t.Fatalf("expected 3 leaves, got %d", len(leaves))
	}
}

func TestRoundActionNames(t *testing.T) {
	if RevisedRoundAction(2) != "revised_round_2" {
		t.Fatalf("got %s", RevisedRoundAction(2))
	}
	if StoppedAtRoundAction(3) != "stopped_at_round_3" {
		t.Fatalf("got %s", StoppedAtRoundAction(3))
	}
}
