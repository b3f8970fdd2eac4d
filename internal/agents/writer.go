package agents

import (
	"fmt"
	"regexp"
	"strings"

	"context"

	"github.com/maestro-research/maestro/internal/config"
	"github.com/maestro-research/maestro/internal/mission"
	"github.com/maestro-research/maestro/internal/missionerr"
)

// WriterInput is one writing pass over a single section, in dependency-
// topological order (spec §4.4.4).
type WriterInput struct {
	Section             *mission.Section
	Notes               []mission.Note // notes assigned to Section, stable order
	PreviousContent     string         // prior pass's content for this section, if any
	PreviousPassPreview int            // writing_previous_content_preview_chars
	MaxContextChars     int            // writing_agent_max_context_chars
}

// WriterOutput is one section's rendered markdown plus accounting for
// unverified claims (spec §4.4.4 invariants).
type WriterOutput struct {
	Markdown          string
	UnverifiedCount   int
	CitedNoteIDs      []string
}

var citationPattern = regexp.MustCompile(`\[n_([A-Za-z0-9]+)\]`)
var unverifiedPattern = regexp.MustCompile(`\[unverified\]`)

// RunWriter renders one section's markdown. If the note content would
// exceed MaxContextChars, the caller is expected to have already split the
// section into subsections and call RunWriter once per leaf (spec §4.4.4:
// "if exceeded, Writer is invoked per-subsection with rolling summaries").
func RunWriter(ctx context.Context, deps Deps, in WriterInput) (WriterOutput, error) {
	system := "You are the writing agent. Produce markdown prose for the given section using " +
		"only the supplied notes as source material. Every claim-bearing sentence synthesizing " +
		"external information must cite at least one note using the exact key shown for that " +
		"note (e.g. [n_ab12cd34]). If you cannot support a claim with a note, write [unverified] " +
		"instead of fabricating a citation."

	var user strings.Builder
	fmt.Fprintf(&user, "Section: %s\n%s\n\n", in.Section.Title, in.Section.Description)
	noteIDs := make(map[string]bool, len(in.Notes))
	for _, n := range in.Notes {
		key := citationKey(n.NoteID)
		noteIDs[key] = true
		fmt.Fprintf(&user, "Note %s: %s\n", key, n.Content)
	}
	if in.PreviousContent != "" {
		preview := in.PreviousContent
		if in.PreviousPassPreview > 0 && len(preview) > in.PreviousPassPreview {
			preview = preview[:in.PreviousPassPreview]
		}
		fmt.Fprintf(&user, "\nPrevious pass content (for continuity, do not repeat verbatim):\n%s\n", preview)
	}

	produce := func(ctx context.Context, repairNote string) (string, error) {
		u := user.String()
		if repairNote != "" {
			u += "\n" + repairNote
		}
		text, _, err := complete(ctx, deps, config.RoleIntelligent, "writer", "writing", system, u)
		return text, err
	}

	validate := func(text string) error {
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("writer produced empty content")
		}
		for _, m := range citationPattern.FindAllStringSubmatch(text, -1) {
			full := "[n_" + m[1] + "]"
			if !noteIDs[full] {
				return fmt.Errorf("citation %s references a note not assigned to this section", full)
			}
		}
		if in.MaxContextChars > 0 && len(text) > in.MaxContextChars {
			return fmt.Errorf("content length %d exceeds writing_agent_max_context_chars=%d", len(text), in.MaxContextChars)
		}
		return nil
	}

	text, err := runWithRepair(ctx, "agents.writer", produce, validate)
	if err != nil {
		return WriterOutput{}, err
	}

	cited := make(map[string]bool)
	for _, m := range citationPattern.FindAllStringSubmatch(text, -1) {
		cited["[n_"+m[1]+"]"] = true
	}
	citedIDs := make([]string, 0, len(cited))
	for k := range cited {
		citedIDs = append(citedIDs, k)
	}

	return WriterOutput{
		Markdown:        text,
		UnverifiedCount: len(unverifiedPattern.FindAllString(text, -1)),
		CitedNoteIDs:    citedIDs,
	}, nil
}

// AssembleReport concatenates a dependency-ordered slice of WriterOutputs
// into one report body; the caller supplies sections already in
// mission.TopoSort order (spec §4.4.4: "writer visits sections in a
// topological order of dependencies", spec §8 invariant).
func AssembleReport(outputs []WriterOutput) string {
	var b strings.Builder
	for i, o := range outputs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(o.Markdown)
	}
	return b.String()
}

// ValidateCitations checks spec §8's invariant that every citation key in a
// rendered report resolves to a note in notes.
func ValidateCitations(report string, notes []mission.Note) error {
	known := make(map[string]bool, len(notes))
	for _, n := range notes {
		known[citationKey(n.NoteID)] = true
	}
	for _, m := range citationPattern.FindAllStringSubmatch(report, -1) {
		full := "[n_" + m[1] + "]"
		if !known[full] {
			return missionerr.Validation("agents.writer", fmt.Errorf("citation %s does not resolve to any note", full))
		}
	}
	return nil
}
