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

// PlannerInput is the Planner's input (spec §4.4.1).
type PlannerInput struct {
	RequestText   string
	PriorOutline  *mission.Outline // nil unless revising
	UserFeedback  string
}

// plannerSection is the wire shape the LLM is asked to emit; it is decoded
// then translated into mission.Section so JSON tag drift in the prompt
// contract never leaks into the domain model.
type plannerSection struct {
	SectionID        string           `json:"section_id"`
	Title            string           `json:"title"`
	Description      string           `json:"description"`
	ResearchStrategy string           `json:"research_strategy"`
	DependsOnSteps   []string         `json:"depends_on_steps"`
	Questions        []string         `json:"questions"`
	Subsections      []plannerSection `json:"subsections"`
}

type plannerOutline struct {
	Sections []plannerSection `json:"sections"`
}

func toMissionSection(p plannerSection) *mission.Section {
	s := &mission.Section{
		SectionID:        p.SectionID,
		Title:            p.Title,
		Description:      p.Description,
		ResearchStrategy: mission.ResearchStrategy(p.ResearchStrategy),
		DependsOnSteps:   p.DependsOnSteps,
		Questions:        p.Questions,
	}
	for _, c := range p.Subsections {
		s.Subsections = append(s.Subsections, toMissionSection(c))
	}
	return s
}

// RunPlanner produces an Outline satisfying the invariants in spec §4.4.1:
// 1-N top-level sections, each with a research_strategy, acyclic dependency
// graph, bounded depth, bounded questions-per-section.
func RunPlanner(ctx context.Context, deps Deps, in PlannerInput) (mission.Outline, error) {
	system := "You are the planning agent for a research-report generator. " +
		"Respond with a single JSON object: {\"sections\": [...]}. Each section has " +
		"section_id, title, description, research_strategy (one of synthesize, " +
		"research_then_synthesize, content_based), depends_on_steps (section_ids), " +
		"questions (<= " + itoa(deps.Settings.InitialResearchMaxQuestions) + " strings), " +
		"and optional subsections with the same shape."

	var userBuilder strings.Builder
	fmt.Fprintf(&userBuilder, "Request: %s\n", in.RequestText)
	if in.PriorOutline != nil {
		prior, _ := json.Marshal(in.PriorOutline)
		fmt.Fprintf(&userBuilder, "Prior outline: %s\n", prior)
	}
	if in.UserFeedback != "" {
		fmt.Fprintf(&userBuilder, "Revision feedback: %s\n", in.UserFeedback)
	}

	produce := func(ctx context.Context, repairNote string) (mission.Outline, error) {
		user := userBuilder.String()
		if repairNote != "" {
			user += "\n" + repairNote
		}
		text, _, err := complete(ctx, deps, config.RoleIntelligent, "planner", "planning", system, user)
		if err != nil {
			return mission.Outline{}, err
		}
		var wire plannerOutline
		if err := json.Unmarshal([]byte(extractJSON(text)), &wire); err != nil {
			return mission.Outline{}, missionerr.Validation("agents.planner", fmt.Errorf("parsing outline JSON: %w", err))
		}
		out := mission.Outline{}
		for _, s := range wire.Sections {
			out.Sections = append(out.Sections, toMissionSection(s))
		}
		return out, nil
	}

	validate := func(o mission.Outline) error {
		if len(o.Sections) == 0 {
			return fmt.Errorf("outline must have at least one top-level section")
		}
		var invalid error
		o.Walk(func(s *mission.Section) {
			if invalid != nil {
				return
			}
			if s.ResearchStrategy == "" {
				invalid = fmt.Errorf("section %q missing research_strategy", s.SectionID)
				return
			}
			if len(s.Questions) > deps.Settings.InitialResearchMaxQuestions {
				invalid = fmt.Errorf("section %q has %d questions, exceeds max_questions=%d",
					s.SectionID, len(s.Questions), deps.Settings.InitialResearchMaxQuestions)
			}
		})
		if invalid != nil {
			return invalid
		}
		return mission.ValidateOutline(&o, deps.Settings.MaxTotalDepth)
	}

	return runWithRepair(ctx, "agents.planner", produce, validate)
}

// extractJSON trims any leading/trailing prose an LLM might wrap a JSON
// object in (some models answer with a ```json fenced block despite
// instructions); it looks for the first '{' and the last '}'.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < 0 || end < start {
		return s
	}
	return s[start : end+1]
}

func itoa(n int) string {
	return fmt.Sprintf("%d", n)
}
