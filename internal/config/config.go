// Package config loads process-level configuration (provider credentials,
// store DSNs, logging) and defines the MissionSettings schema that is frozen
// into a Mission's settings_snapshot when the mission leaves pending.
package config

// ModelRole selects which configured model a capability call should use.
// Agents never name a concrete model; they name a role, and the controller
// resolves it through the mission's frozen ModelsConfig.
type ModelRole string

const (
	RoleFast         ModelRole = "fast"
	RoleMid          ModelRole = "mid"
	RoleIntelligent  ModelRole = "intelligent"
	RoleVerifier     ModelRole = "verifier"
)

// ModelSpec names a provider + model pair bound to a role.
type ModelSpec struct {
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"`
}

// ModelsConfig binds each role to a concrete provider/model pair.
type ModelsConfig struct {
	Fast        ModelSpec `yaml:"fast" json:"fast"`
	Mid         ModelSpec `yaml:"mid" json:"mid"`
	Intelligent ModelSpec `yaml:"intelligent" json:"intelligent"`
	Verifier    ModelSpec `yaml:"verifier" json:"verifier"`
}

// SettingsVersion is stamped onto every MissionSettings so that stored
// snapshots can be migrated if the schema changes later (§6: "settings
// schema is versioned by a settings_version integer").
const SettingsVersion = 1

// MissionSettings is the complete, enumerated settings surface from spec §6.
// The controller freezes a copy of this struct into Mission.SettingsSnapshot
// on the mission's first transition out of "pending"; it must not be mutated
// afterwards (§3, §8 invariant: "settings_snapshot is identical across all
// reads after the first non-pending transition").
type MissionSettings struct {
	SettingsVersion int `yaml:"settings_version" json:"settings_version"`

	// Research
	InitialResearchMaxDepth       int `yaml:"initial_research_max_depth" json:"initial_research_max_depth"`
	InitialResearchMaxQuestions   int `yaml:"initial_research_max_questions" json:"initial_research_max_questions"`
	StructuredResearchRounds      int `yaml:"structured_research_rounds" json:"structured_research_rounds"`
	MaxResearchCyclesPerSection   int `yaml:"max_research_cycles_per_section" json:"max_research_cycles_per_section"`
	MaxTotalIterations            int `yaml:"max_total_iterations" json:"max_total_iterations"`
	MaxTotalDepth                 int `yaml:"max_total_depth" json:"max_total_depth"`
	MaxSuggestionsPerBatch        int `yaml:"max_suggestions_per_batch" json:"max_suggestions_per_batch"`

	// Writing
	WritingPasses                     int `yaml:"writing_passes" json:"writing_passes"`
	WritingPreviousContentPreviewChars int `yaml:"writing_previous_content_preview_chars" json:"writing_previous_content_preview_chars"`
	WritingAgentMaxContextChars        int `yaml:"writing_agent_max_context_chars" json:"writing_agent_max_context_chars"`

	// Retrieval
	InitialExplorationDocResults int `yaml:"initial_exploration_doc_results" json:"initial_exploration_doc_results"`
	InitialExplorationWebResults int `yaml:"initial_exploration_web_results" json:"initial_exploration_web_results"`
	MainResearchDocResults       int `yaml:"main_research_doc_results" json:"main_research_doc_results"`
	MainResearchWebResults       int `yaml:"main_research_web_results" json:"main_research_web_results"`
	// HybridAlpha weighs dense vs. sparse reciprocal-rank fusion: score = alpha/(60+rank_dense) + (1-alpha)/(60+rank_sparse).
	HybridAlpha float64 `yaml:"hybrid_alpha" json:"hybrid_alpha"`

	// Notes
	MinNotesPerSectionAssignment    int `yaml:"min_notes_per_section_assignment" json:"min_notes_per_section_assignment"`
	MaxNotesPerSectionAssignment    int `yaml:"max_notes_per_section_assignment" json:"max_notes_per_section_assignment"`
	MaxNotesForAssignmentReranking  int `yaml:"max_notes_for_assignment_reranking" json:"max_notes_for_assignment_reranking"`
	ResearchNoteContentLimit        int `yaml:"research_note_content_limit" json:"research_note_content_limit"`

	// Planning
	MaxPlanningContextChars int `yaml:"max_planning_context_chars" json:"max_planning_context_chars"`
	ThoughtPadContextLimit  int `yaml:"thought_pad_context_limit" json:"thought_pad_context_limit"`

	// Performance
	MaxConcurrentRequests int  `yaml:"max_concurrent_requests" json:"max_concurrent_requests"`
	SkipFinalReplanning   bool `yaml:"skip_final_replanning" json:"skip_final_replanning"`
	AutoOptimizeParams    bool `yaml:"auto_optimize_params" json:"auto_optimize_params"`

	// Tooling
	UseWebSearch     bool   `yaml:"use_web_search" json:"use_web_search"`
	UseLocalRAG      bool   `yaml:"use_local_rag" json:"use_local_rag"`
	DocumentGroupID  string `yaml:"document_group_id,omitempty" json:"document_group_id,omitempty"`
	SearchProvider   string `yaml:"search_provider" json:"search_provider"`

	Models ModelsConfig `yaml:"models" json:"models"`
}

// DefaultMissionSettings returns the baseline settings used when a mission is
// created without overrides. Values are deliberately modest so a mission
// started with zero configuration still completes in a bounded number of
// cycles.
func DefaultMissionSettings() MissionSettings {
	return MissionSettings{
		SettingsVersion: SettingsVersion,

		InitialResearchMaxDepth:     2,
		InitialResearchMaxQuestions: 5,
		StructuredResearchRounds:    2,
		MaxResearchCyclesPerSection: 3,
		MaxTotalIterations:          40,
		MaxTotalDepth:               3,
		MaxSuggestionsPerBatch:      3,

		WritingPasses:                      1,
		WritingPreviousContentPreviewChars: 2000,
		WritingAgentMaxContextChars:        12000,

		InitialExplorationDocResults: 5,
		InitialExplorationWebResults: 5,
		MainResearchDocResults:       8,
		MainResearchWebResults:       5,
		HybridAlpha:                  0.5,

		MinNotesPerSectionAssignment:   2,
		MaxNotesPerSectionAssignment:   12,
		MaxNotesForAssignmentReranking: 40,
		ResearchNoteContentLimit:       600,

		MaxPlanningContextChars: 8000,
		ThoughtPadContextLimit:  30,

		MaxConcurrentRequests: 4,
		SkipFinalReplanning:   false,
		AutoOptimizeParams:    false,

		UseWebSearch:   true,
		UseLocalRAG:    true,
		SearchProvider: "searxng",

		Models: ModelsConfig{
			Fast:        ModelSpec{Provider: "openai", Model: "gpt-4.1-mini"},
			Mid:         ModelSpec{Provider: "anthropic", Model: "claude-3-7-sonnet-latest"},
			Intelligent: ModelSpec{Provider: "anthropic", Model: "claude-3-7-sonnet-latest"},
			Verifier:    ModelSpec{Provider: "google", Model: "gemini-2.0-flash"},
		},
	}
}

// ApplyOverrides merges a sparse overrides map (as produced by the Messenger
// agent from free-form chat, or supplied programmatically by a collaborator)
// onto a copy of the base settings. Unknown keys are ignored; a known key is
// applied even when its value is a zero value such as false or 0. Overrides
// are only usable before a mission starts, matching the "frozen after first
// transition" invariant.
func ApplyOverrides(base MissionSettings, overrides map[string]any) MissionSettings {
	out := base
	for k, v := range overrides {
		switch k {
		case "initial_research_max_depth":
			out.InitialResearchMaxDepth = asInt(v, out.InitialResearchMaxDepth)
		case "initial_research_max_questions":
			out.InitialResearchMaxQuestions = asInt(v, out.InitialResearchMaxQuestions)
		case "structured_research_rounds":
			out.StructuredResearchRounds = asInt(v, out.StructuredResearchRounds)
		case "max_research_cycles_per_section":
			out.MaxResearchCyclesPerSection = asInt(v, out.MaxResearchCyclesPerSection)
		case "max_total_iterations":
			out.MaxTotalIterations = asInt(v, out.MaxTotalIterations)
		case "max_total_depth":
			out.MaxTotalDepth = asInt(v, out.MaxTotalDepth)
		case "max_suggestions_per_batch":
			out.MaxSuggestionsPerBatch = asInt(v, out.MaxSuggestionsPerBatch)
		case "writing_passes":
			out.WritingPasses = asInt(v, out.WritingPasses)
		case "writing_previous_content_preview_chars":
			out.WritingPreviousContentPreviewChars = asInt(v, out.WritingPreviousContentPreviewChars)
		case "writing_agent_max_context_chars":
			out.WritingAgentMaxContextChars = asInt(v, out.WritingAgentMaxContextChars)
		case "initial_exploration_doc_results":
			out.InitialExplorationDocResults = asInt(v, out.InitialExplorationDocResults)
		case "initial_exploration_web_results":
			out.InitialExplorationWebResults = asInt(v, out.InitialExplorationWebResults)
		case "main_research_doc_results":
			out.MainResearchDocResults = asInt(v, out.MainResearchDocResults)
		case "main_research_web_results":
			out.MainResearchWebResults = asInt(v, out.MainResearchWebResults)
		case "hybrid_alpha":
			out.HybridAlpha = asFloat(v, out.HybridAlpha)
		case "min_notes_per_section_assignment":
			out.MinNotesPerSectionAssignment = asInt(v, out.MinNotesPerSectionAssignment)
		case "max_notes_per_section_assignment":
			out.MaxNotesPerSectionAssignment = asInt(v, out.MaxNotesPerSectionAssignment)
		case "max_notes_for_assignment_reranking":
			out.MaxNotesForAssignmentReranking = asInt(v, out.MaxNotesForAssignmentReranking)
		case "research_note_content_limit":
			out.ResearchNoteContentLimit = asInt(v, out.ResearchNoteContentLimit)
		case "max_planning_context_chars":
			out.MaxPlanningContextChars = asInt(v, out.MaxPlanningContextChars)
		case "thought_pad_context_limit":
			out.ThoughtPadContextLimit = asInt(v, out.ThoughtPadContextLimit)
		case "max_concurrent_requests":
			out.MaxConcurrentRequests = asInt(v, out.MaxConcurrentRequests)
		case "skip_final_replanning":
			out.SkipFinalReplanning = asBool(v, out.SkipFinalReplanning)
		case "auto_optimize_params":
			out.AutoOptimizeParams = asBool(v, out.AutoOptimizeParams)
		case "use_web_search":
			out.UseWebSearch = asBool(v, out.UseWebSearch)
		case "use_local_rag":
			out.UseLocalRAG = asBool(v, out.UseLocalRAG)
		case "document_group_id":
			if s, ok := v.(string); ok {
				out.DocumentGroupID = s
			}
		case "search_provider":
			if s, ok := v.(string); ok {
				out.SearchProvider = s
			}
		}
	}
	return out
}

func asInt(v any, def int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return def
	}
}

func asFloat(v any, def float64) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return def
	}
}

func asBool(v any, def bool) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return def
}
