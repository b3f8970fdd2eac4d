package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/maestro-research/maestro/internal/config"
	"github.com/maestro-research/maestro/internal/mission"
	"github.com/maestro-research/maestro/internal/missionerr"
)

// ReflectorInput is one reflection pass's input (spec §4.4.3).
type ReflectorInput struct {
	Section        *mission.Section
	Notes          []mission.Note
	RecentThoughts []mission.ThoughtEntry
	// AllowRevision gates whether OutlineDeltas may be non-empty: only true
	// before the first writing pass or during an explicit revise-from-round
	// (spec §4.4.3: "only during an allowed revision window").
	AllowRevision bool
}

// OutlineDeltaKind names the shape of a proposed outline change.
type OutlineDeltaKind string

const (
	DeltaRename OutlineDeltaKind = "rename"
	DeltaSplit  OutlineDeltaKind = "split"
	DeltaMerge  OutlineDeltaKind = "merge"
	DeltaDrop   OutlineDeltaKind = "drop"
)

// OutlineDelta is one proposed change to the outline tree.
type OutlineDelta struct {
	Kind      OutlineDeltaKind `json:"kind"`
	SectionID string           `json:"section_id"`
	NewTitle  string           `json:"new_title,omitempty"`
}

// ReflectorOutput is the Reflector's verdict (spec §4.4.3).
type ReflectorOutput struct {
	Sufficient        bool           `json:"sufficient"`
	Gaps              []string       `json:"gaps"`
	RefinementQueries []string       `json:"refinement_queries"`
	OutlineDeltas     []OutlineDelta `json:"revised_outline_deltas,omitempty"`
}

// RunReflector judges whether a section's notes are sufficient and may
// propose outline deltas when AllowRevision is set.
func RunReflector(ctx context.Context, deps Deps, in ReflectorInput) (ReflectorOutput, error) {
	system := "You are the reflection agent. Judge whether the notes sufficiently cover the " +
		"section. Respond with JSON {\"sufficient\": bool, \"gaps\": [...], " +
		"\"refinement_queries\": [...]"
	if in.AllowRevision {
		system += ", \"revised_outline_deltas\": [{\"kind\": \"rename|split|merge|drop\", \"section_id\": \"...\", \"new_title\": \"...\"}]"
	}
	system += "}."

	var user strings.Builder
	fmt.Fprintf(&user, "Section: %s\n%s\n", in.Section.Title, in.Section.Description)
	for _, n := range in.Notes {
		fmt.Fprintf(&user, "Note: %s\n", n.Content)
	}

	produce := func(ctx context.Context, repairNote string) (ReflectorOutput, error) {
		u := user.String()
		if repairNote != "" {
			u += "\n" + repairNote
		}
		text, _, err := complete(ctx, deps, config.RoleMid, "reflector", "research", system, u)
		if err != nil {
			return ReflectorOutput{}, err
		}
		var out ReflectorOutput
		if err := json.Unmarshal([]byte(extractJSON(text)), &out); err != nil {
			return ReflectorOutput{}, missionerr.Validation("agents.reflector", fmt.Errorf("parsing reflection JSON: %w", err))
		}
		if !in.AllowRevision {
			out.OutlineDeltas = nil // drop any deltas proposed outside the allowed window
		}
		return out, nil
	}

	validate := func(out ReflectorOutput) error {
		for _, d := range out.OutlineDeltas {
			switch d.Kind {
			case DeltaRename, DeltaSplit, DeltaMerge, DeltaDrop:
			default:
				return fmt.Errorf("unknown outline delta kind %q", d.Kind)
			}
			if d.SectionID == "" {
				return fmt.Errorf("outline delta missing section_id")
			}
		}
		return nil
	}

	return runWithRepair(ctx, "agents.reflector", produce, validate)
}

// IsSaturated reports whether a section has reached saturation
// (spec §4.4.2: "notes >= min_notes_per_section_assignment AND either
// reflector marks it sufficient OR cycles >= max_research_cycles_per_section").
func IsSaturated(noteCount int, cyclesRun int, reflectorSufficient bool, settings config.MissionSettings) bool {
	if noteCount < settings.MinNotesPerSectionAssignment {
		return false
	}
	return reflectorSufficient || cyclesRun >= settings.MaxResearchCyclesPerSection
}
