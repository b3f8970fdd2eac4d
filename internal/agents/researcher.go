package agents

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/maestro-research/maestro/internal/config"
	"github.com/maestro-research/maestro/internal/mission"
	"github.com/maestro-research/maestro/internal/missionerr"
)

// ResearcherInput is one research cycle's input (spec §4.4.2).
type ResearcherInput struct {
	MissionID      string
	Section        *mission.Section
	Goals          []mission.GoalEntry
	RecentThoughts []mission.ThoughtEntry
	ExistingNotes  []mission.Note // already attached to this section, for dedup
}

// Retrieve is the channel the Researcher calls to turn search queries into
// evidence; injected so agents never depend on internal/retrieve directly
// (keeps the dependency direction controller -> {agents, retrieve}).
type Retrieve func(ctx context.Context, query string) ([]mission.Evidence, error)

// ResearcherOutput is what one research cycle produces (spec §4.4.2:
// "Add at most max_notes_per_section_assignment notes... emit 0-M thoughts").
type ResearcherOutput struct {
	Notes    []mission.Note
	Thoughts []mission.ThoughtEntry
}

type researcherQueries struct {
	Queries []string `json:"queries"`
}

// RunResearcher executes one research cycle: emit search queries, retrieve
// evidence, turn sufficiently-scored evidence into notes (deduping by
// source_id + near-duplicate content hash), and emit bounded thoughts.
func RunResearcher(ctx context.Context, deps Deps, in ResearcherInput, retrieve Retrieve, newID func() string) (ResearcherOutput, error) {
	queries, err := proposeQueries(ctx, deps, in)
	if err != nil {
		return ResearcherOutput{}, err
	}

	seen := existingDedupKeys(in.ExistingNotes)
	var notes []mission.Note
	var evidenceSeen []mission.Evidence

	for _, q := range queries {
		evidence, err := retrieve(ctx, q)
		if err != nil {
			if missionerr.Classify(err) == missionerr.KindFatal {
				return ResearcherOutput{}, err
			}
			continue // transient/degraded channel: skip this query, keep going
		}
		evidenceSeen = append(evidenceSeen, evidence...)
	}

	for _, e := range evidenceSeen {
		if len(notes) >= deps.Settings.MaxNotesPerSectionAssignment {
			break
		}
		if e.Score <= 0 {
			continue
		}
		content := paraphrase(e, deps.Settings.ResearchNoteContentLimit)
		key := dedupKey(e.SourceID, content)
		if seen[key] {
			continue
		}
		seen[key] = true

		notes = append(notes, mission.Note{
			NoteID:    newID(),
			MissionID: in.MissionID,
			SectionID: in.Section.SectionID,
			Content:   content,
			Source:    evidenceSource(e),
		})
	}

	thoughts := summarizeThoughts(in.MissionID, in.Section, notes, deps.Settings.ThoughtPadContextLimit, newID)

	return ResearcherOutput{Notes: notes, Thoughts: thoughts}, nil
}

func proposeQueries(ctx context.Context, deps Deps, in ResearcherInput) ([]string, error) {
	system := fmt.Sprintf("You are the research agent. Emit 1-%d focused search queries as "+
		"JSON {\"queries\": [...]} for the given section.", deps.Settings.MaxSuggestionsPerBatch)

	var user strings.Builder
	fmt.Fprintf(&user, "Section: %s\n%s\n", in.Section.Title, in.Section.Description)
	if len(in.Section.Questions) > 0 {
		fmt.Fprintf(&user, "Seed questions: %s\n", strings.Join(in.Section.Questions, "; "))
	}
	for _, g := range in.Goals {
		fmt.Fprintf(&user, "Goal: %s (%s)\n", g.Text, g.Status)
	}

	produce := func(ctx context.Context, repairNote string) ([]string, error) {
		u := user.String()
		if repairNote != "" {
			u += "\n" + repairNote
		}
		text, _, err := complete(ctx, deps, config.RoleFast, "researcher", "research", system, u)
		if err != nil {
			return nil, err
		}
		var wire researcherQueries
		if err := json.Unmarshal([]byte(extractJSON(text)), &wire); err != nil {
			return nil, missionerr.Validation("agents.researcher", fmt.Errorf("parsing queries JSON: %w", err))
		}
		return wire.Queries, nil
	}

	validate := func(qs []string) error {
		if len(qs) == 0 {
			return fmt.Errorf("must emit at least one query")
		}
		if len(qs) > deps.Settings.MaxSuggestionsPerBatch {
			return fmt.Errorf("emitted %d queries, exceeds max_suggestions_per_batch=%d", len(qs), deps.Settings.MaxSuggestionsPerBatch)
		}
		return nil
	}

	return runWithRepair(ctx, "agents.researcher.queries", produce, validate)
}

// paraphrase truncates evidence text to the section note content limit and
// tags it with an [E_i]-style inline marker pointing at its source
// (spec §4.4.2: "inline markers [E_i] mapping to source_ids").
func paraphrase(e mission.Evidence, limit int) string {
	text := e.Text
	if limit > 0 && len(text) > limit {
		text = text[:limit]
	}
	marker := fmt.Sprintf("[E_%s]", shortID(e.SourceID))
	return strings.TrimSpace(text) + " " + marker
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[len(id)-8:]
	}
	return id
}

// dedupKey combines a source ID with a content hash so near-duplicate notes
// from the same source are discarded (spec §4.4.2: "discard duplicates
// (same source_id + near-duplicate content hash)").
func dedupKey(sourceID, content string) string {
	sum := sha256.Sum256([]byte(normalizeForHash(content)))
	return sourceID + ":" + hex.EncodeToString(sum[:8])
}

// normalizeForHash collapses whitespace so trivial formatting differences
// don't defeat the near-duplicate check.
func normalizeForHash(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func existingDedupKeys(notes []mission.Note) map[string]bool {
	seen := make(map[string]bool, len(notes))
	for _, n := range notes {
		seen[dedupKey(n.Source.ID, n.Content)] = true
	}
	return seen
}

// summarizeThoughts emits at most one bounded thought per cycle summarizing
// what was found, trimmed to thought_pad_context_limit.
func summarizeThoughts(missionID string, section *mission.Section, notes []mission.Note, limit int, newID func() string) []mission.ThoughtEntry {
	if len(notes) == 0 {
		return nil
	}
	summary := fmt.Sprintf("Added %d note(s) to %q", len(notes), section.Title)
	if limit > 0 && len(summary) > limit {
		summary = summary[:limit]
	}
	return []mission.ThoughtEntry{{
		ThoughtID: newID(),
		MissionID: missionID,
		Content:   summary,
		AgentName: "researcher",
	}}
}
