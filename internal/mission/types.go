// Package mission defines the durable data model from spec §3: Mission,
// Outline/Section, OutlineHistory, Note, GoalEntry, ThoughtEntry,
// ReportVersion, LogEntry and the ephemeral Evidence shape. Structs only --
// persistence lives in internal/persistence, mutation lives in
// internal/missioncontext.
package mission

import "time"

// Status is a Mission's lifecycle phase (spec §3, §4.5).
type Status string

const (
	StatusPending   Status = "pending"
	StatusPlanning  Status = "planning"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusStopped   Status = "stopped"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Stats is the monotonically-increasing per-mission usage accumulator.
// Mirrors telemetry.Stats field-for-field; kept as its own type here so the
// domain model has no dependency on internal/telemetry.
type Stats struct {
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	NativeTokens     int64   `json:"native_tokens"`
	CostUSD          float64 `json:"cost_usd"`
	WebSearches      int64   `json:"web_searches"`
}

// Mission is a single user research request and all its derived state
// (spec §3).
type Mission struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	RequestText string    `json:"request_text"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// SettingsSnapshot is frozen at the mission's first transition out of
	// pending (spec §8 invariant: identical across all reads thereafter).
	SettingsSnapshot any `json:"settings_snapshot"`

	Stats Stats `json:"stats"`

	// GeneratedDocumentGroupID buckets web sources captured during this
	// mission for reuse by a later mission (SPEC_FULL §4 supplement).
	GeneratedDocumentGroupID string `json:"generated_document_group_id,omitempty"`
}

// ResearchStrategy names how a Researcher should approach a Section (spec §3).
type ResearchStrategy string

const (
	StrategySynthesize              ResearchStrategy = "synthesize"
	StrategyResearchThenSynthesize  ResearchStrategy = "research_then_synthesize"
	StrategyContentBased            ResearchStrategy = "content_based"
)

// Section is one node of a mission's outline tree (spec §3).
type Section struct {
	SectionID          string            `json:"section_id"`
	Title              string            `json:"title"`
	Description        string            `json:"description"`
	ResearchStrategy   ResearchStrategy  `json:"research_strategy"`
	DependsOnSteps     []string          `json:"depends_on_steps"`
	AssociatedNoteIDs  []string          `json:"associated_note_ids"`
	Subsections        []*Section        `json:"subsections,omitempty"`

	// Questions is the Planner's initial research-question seed list for
	// this section, bounded by initial_research_max_questions (spec §4.4.1).
	Questions []string `json:"questions,omitempty"`

	// WordCountTarget is a supplemented, optional soft length hint (SPEC_FULL
	// §4); 0 means "no target," never changing spec semantics for callers
	// that ignore it.
	WordCountTarget int `json:"word_count_target,omitempty"`
}

// Outline is the root of a mission's section tree.
type Outline struct {
	Sections []*Section `json:"sections"`
}

// Walk calls fn for every section in the tree, depth-first, parent before
// children -- the order the Planner's validator and the Writer's renderer
// both need.
func (o *Outline) Walk(fn func(*Section)) {
	var rec func([]*Section)
	rec = func(secs []*Section) {
		for _, s := range secs {
			fn(s)
			rec(s.Subsections)
		}
	}
	rec(o.Sections)
}

// Find returns the section with the given ID, or nil.
func (o *Outline) Find(sectionID string) *Section {
	var found *Section
	o.Walk(func(s *Section) {
		if s.SectionID == sectionID {
			found = s
		}
	})
	return found
}

// Leaves returns every section with no subsections, the unit the Researcher
// operates on (spec §4.4.2: "Input: a leaf section").
func (o *Outline) Leaves() []*Section {
	var out []*Section
	o.Walk(func(s *Section) {
		if len(s.Subsections) == 0 {
			out = append(out, s)
		}
	})
	return out
}

// OutlineAction tags why an OutlineHistory snapshot was recorded (spec §3).
type OutlineAction string

const (
	ActionInitial OutlineAction = "initial"
	ActionFinal   OutlineAction = "final"
)

// RevisedRoundAction names the revised_round_N action for round n.
func RevisedRoundAction(round int) OutlineAction {
	return OutlineAction(revisedPrefix + itoa(round))
}

// StoppedAtRoundAction names the stopped_at_round_N action for round n
// (spec §4.5 Cancellation: persists "OutlineHistory{action=stopped_at_round_N}").
func StoppedAtRoundAction(round int) OutlineAction {
	return OutlineAction(stoppedPrefix + itoa(round))
}

const (
	revisedPrefix = "revised_round_"
	stoppedPrefix = "stopped_at_round_"
)

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// OutlineHistory is an append-only snapshot of the outline at a given round
// (spec §3), used to resume from any prior state.
type OutlineHistory struct {
	ID              string        `json:"id"`
	MissionID       string        `json:"mission_id"`
	Round           int           `json:"round"`
	Action          OutlineAction `json:"action"`
	Timestamp       time.Time     `json:"timestamp"`
	MissionGoal     string        `json:"mission_goal"`
	OutlineSnapshot Outline       `json:"outline_snapshot"`
}

// SourceKind names where a Note's evidence came from (spec §3).
type SourceKind string

const (
	SourceDoc      SourceKind = "doc"
	SourceWeb      SourceKind = "web"
	SourceInternal SourceKind = "internal"
)

// Source is the non-null provenance every Note must carry (spec §3 invariant).
type Source struct {
	Kind    SourceKind `json:"kind"`
	ID      string     `json:"id"`
	Title   string     `json:"title,omitempty"`
	URL     string     `json:"url,omitempty"`
	ChunkID string     `json:"chunk_id,omitempty"`
}

// Note is an atomic, cited claim extracted from a source chunk or web page
// (spec §3). SectionID is empty when the note has become unassigned after
// its section was dropped during a revision (SPEC_FULL §9 Open Question).
type Note struct {
	NoteID    string    `json:"note_id"`
	MissionID string    `json:"mission_id"`
	SectionID string    `json:"section_id,omitempty"`
	Content   string    `json:"content"`
	Source    Source    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Tags      []string  `json:"tags,omitempty"`
}

// GoalStatus is a GoalEntry's lifecycle state (spec §3).
type GoalStatus string

const (
	GoalPending   GoalStatus = "pending"
	GoalActive    GoalStatus = "active"
	GoalCompleted GoalStatus = "completed"
	GoalAbandoned GoalStatus = "abandoned"
)

// GoalEntry is one item on a mission's goal pad (spec §3).
type GoalEntry struct {
	GoalID      string     `json:"goal_id"`
	MissionID   string     `json:"mission_id"`
	Text        string     `json:"text"`
	Status      GoalStatus `json:"status"`
	SourceAgent string     `json:"source_agent"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ThoughtEntry is one item on a mission's bounded thought pad (spec §3).
type ThoughtEntry struct {
	ThoughtID string    `json:"thought_id"`
	MissionID string    `json:"mission_id"`
	Content   string    `json:"content"`
	AgentName string    `json:"agent_name"`
	CreatedAt time.Time `json:"created_at"`
}

// ReportVersion is one complete, self-consistent markdown output (spec §3).
type ReportVersion struct {
	ID             string    `json:"id"`
	MissionID      string    `json:"mission_id"`
	Version        int       `json:"version"`
	Content        string    `json:"content"`
	IsCurrent      bool      `json:"is_current"`
	RevisionNotes  string    `json:"revision_notes,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// LogEntry is one append-only, paginated log row (spec §3).
type LogEntry struct {
	ID        string         `json:"id"`
	MissionID string         `json:"mission_id"`
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Agent     string         `json:"agent"`
	Phase     string         `json:"phase"`
	Message   string         `json:"message"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Evidence is an ephemeral retrieval result; never persisted directly, but
// may become a Note if an agent deems it useful (spec §3).
type Evidence struct {
	SourceID   string     `json:"source_id"`
	Text       string     `json:"text"`
	Score      float64    `json:"score"`
	Provenance Provenance `json:"provenance"`
}

// Provenance names where an Evidence item came from.
type Provenance struct {
	Kind    SourceKind `json:"kind"`
	DocID   string     `json:"doc_id,omitempty"`
	ChunkID string     `json:"chunk_id,omitempty"`
	URL     string     `json:"url,omitempty"`
	Title   string     `json:"title,omitempty"`
}
