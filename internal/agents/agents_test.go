package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-research/maestro/internal/capability"
	"github.com/maestro-research/maestro/internal/config"
	"github.com/maestro-research/maestro/internal/mission"
)

type scriptedLLM struct {
	responses []string
	calls     int
}

func (s *scriptedLLM) Complete(ctx context.Context, req capability.CompletionRequest) (capability.CompletionResponse, error) {
	idx := s.calls
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	s.calls++
	return capability.CompletionResponse{Message: capability.Message{Role: "assistant", Content: s.responses[idx]}}, nil
}

func (s *scriptedLLM) Stream(ctx context.Context, req capability.CompletionRequest, handler capability.StreamHandler) error {
	return nil
}

func testSettings() config.MissionSettings {
	s := config.DefaultMissionSettings()
	s.InitialResearchMaxQuestions = 5
	s.MaxTotalDepth = 3
	s.MaxSuggestionsPerBatch = 3
	s.MaxNotesPerSectionAssignment = 5
	s.MinNotesPerSectionAssignment = 1
	s.MaxResearchCyclesPerSection = 2
	s.ResearchNoteContentLimit = 500
	s.ThoughtPadContextLimit = 200
	return s
}

func TestRunPlannerProducesValidOutline(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`{"sections": [{"section_id": "s1", "title": "Intro", "description": "d",
		  "research_strategy": "synthesize", "depends_on_steps": [], "questions": ["q1"]}]}`,
	}}
	out, err := RunPlanner(context.Background(), Deps{LLM: llm, Settings: testSettings()}, PlannerInput{RequestText: "explain CAP theorem"})
	require.NoError(t, err)
	assert.Len(t, out.Sections, 1)
	assert.Equal(t, mission.StrategySynthesize, out.Sections[0].ResearchStrategy)
}

func TestRunPlannerRepairsMalformedJSON(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`not json at all`,
		`{"sections": [{"section_id": "s1", "title": "Intro", "description": "d",
		  "research_strategy": "synthesize", "depends_on_steps": []}]}`,
	}}
	out, err := RunPlanner(context.Background(), Deps{LLM: llm, Settings: testSettings()}, PlannerInput{RequestText: "x"})
	require.NoError(t, err)
	assert.Len(t, out.Sections, 1)
	assert.Equal(t, 2, llm.calls)
}

func TestRunPlannerFailsAfterExhaustingRepairs(t *testing.T) {
	llm := &scriptedLLM{responses: []string{"nope", "still nope", "nope again"}}
	_, err := RunPlanner(context.Background(), Deps{LLM: llm, Settings: testSettings()}, PlannerInput{RequestText: "x"})
	require.Error(t, err)
}

func TestRunResearcherDedupsAndRespectsCap(t *testing.T) {
	llm := &scriptedLLM{responses: []string{`{"queries": ["q1"]}`}}
	section := &mission.Section{SectionID: "s1", Title: "Intro"}

	retrieve := func(ctx context.Context, query string) ([]mission.Evidence, error) {
		return []mission.Evidence{
			{SourceID: "src1", Text: "alpha beta gamma", Score: 1, Provenance: mission.Provenance{Kind: mission.SourceWeb}},
			{SourceID: "src1", Text: "alpha beta gamma", Score: 0.9, Provenance: mission.Provenance{Kind: mission.SourceWeb}},
		}, nil
	}

	i := 0
	newID := func() string { i++; return "note" + string(rune('0'+i)) }

	out, err := RunResearcher(context.Background(), Deps{LLM: llm, Settings: testSettings()}, ResearcherInput{
		MissionID: "m1", Section: section,
	}, retrieve, newID)
	require.NoError(t, err)
	assert.Len(t, out.Notes, 1, "duplicate evidence from same source should be deduped")
}

func TestRunWriterRejectsUnknownCitation(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		"This claim is cited [n_doesnotexist].",
		"This claim is cited [n_abc12345].",
	}}
	section := &mission.Section{SectionID: "s1", Title: "Intro"}
	notes := []mission.Note{{NoteID: "abc12345", Content: "evidence"}}

	out, err := RunWriter(context.Background(), Deps{LLM: llm, Settings: testSettings()}, WriterInput{
		Section: section, Notes: notes,
	})
	require.NoError(t, err)
	assert.Contains(t, out.Markdown, "[n_abc12345]")
	assert.Equal(t, 2, llm.calls)
}

func TestRunWriterCountsUnverifiedMarkers(t *testing.T) {
	llm := &scriptedLLM{responses: []string{"Some claim. [unverified]"}}
	section := &mission.Section{SectionID: "s1", Title: "Intro"}

	out, err := RunWriter(context.Background(), Deps{LLM: llm, Settings: testSettings()}, WriterInput{Section: section})
	require.NoError(t, err)
	assert.Equal(t, 1, out.UnverifiedCount)
}

func TestRunReflectorDropsDeltasOutsideRevisionWindow(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`{"sufficient": true, "gaps": [], "refinement_queries": [], "revised_outline_deltas": [{"kind": "rename", "section_id": "s1", "new_title": "x"}]}`,
	}}
	section := &mission.Section{SectionID: "s1", Title: "Intro"}

	out, err := RunReflector(context.Background(), Deps{LLM: llm, Settings: testSettings()}, ReflectorInput{
		Section: section, AllowRevision: false,
	})
	require.NoError(t, err)
	assert.True(t, out.Sufficient)
	assert.Empty(t, out.OutlineDeltas)
}

func TestIsSaturated(t *testing.T) {
	s := testSettings()
	assert.False(t, IsSaturated(0, 5, true, s))
	assert.True(t, IsSaturated(1, 0, true, s))
	assert.True(t, IsSaturated(1, 2, false, s))
	assert.False(t, IsSaturated(1, 1, false, s))
}

func TestRunMessengerNormalizesRequest(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`{"normalized_request": "Summarize the CAP theorem", "settings_overrides": {"use_web_search": false}}`,
	}}
	out, err := RunMessenger(context.Background(), Deps{LLM: llm, Settings: testSettings()}, MessengerInput{
		UserMessage: "tell me about cap theorem, no web please",
	})
	require.NoError(t, err)
	assert.Equal(t, "Summarize the CAP theorem", out.NormalizedRequest)
	assert.Equal(t, false, out.SettingsOverrides["use_web_search"])
}

func TestValidateCitationsCatchesDangling(t *testing.T) {
	err := ValidateCitations("claim [n_missing]", nil)
	require.Error(t, err)
}
