// Package memory implements persistence.Gateway entirely in process memory,
// used by controller/agent/missioncontext tests so they never need a live
// Postgres instance (SPEC_FULL §8). Grounded on the teacher's
// test/mocks.go fakes-over-interfaces test style.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/maestro-research/maestro/internal/mission"
	"github.com/maestro-research/maestro/internal/persistence"
)

// Gateway is an in-memory persistence.Gateway.
type Gateway struct {
	mu sync.Mutex

	missions map[string]mission.Mission
	logs     map[string][]mission.LogEntry
	notes    map[string][]mission.Note
	goals    map[string]map[string]mission.GoalEntry
	thoughts map[string][]mission.ThoughtEntry
	scratch  map[string]string
	outline  map[string][]mission.OutlineHistory
	reports  map[string][]mission.ReportVersion
}

// New returns an empty in-memory Gateway.
func New() *Gateway {
	return &Gateway{
		missions: make(map[string]mission.Mission),
		logs:     make(map[string][]mission.LogEntry),
		notes:    make(map[string][]mission.Note),
		goals:    make(map[string]map[string]mission.GoalEntry),
		thoughts: make(map[string][]mission.ThoughtEntry),
		scratch:  make(map[string]string),
		outline:  make(map[string][]mission.OutlineHistory),
		reports:  make(map[string][]mission.ReportVersion),
	}
}

var _ persistence.Gateway = (*Gateway)(nil)

func (g *Gateway) CreateMission(ctx context.Context, m mission.Mission) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.missions[m.ID]; exists {
		return fmt.Errorf("memory: mission %s already exists", m.ID)
	}
	g.missions[m.ID] = m
	return nil
}

func (g *Gateway) GetMission(ctx context.Context, missionID string) (mission.Mission, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.missions[missionID]
	if !ok {
		return mission.Mission{}, fmt.Errorf("memory: mission %s not found", missionID)
	}
	return m, nil
}

func (g *Gateway) PatchMission(ctx context.Context, patch persistence.MissionPatch) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.missions[patch.MissionID]
	if !ok {
		return fmt.Errorf("memory: mission %s not found", patch.MissionID)
	}
	if patch.Status != nil {
		m.Status = *patch.Status
	}
	if patch.SettingsSnapshot != nil {
		m.SettingsSnapshot = patch.SettingsSnapshot
	}
	if patch.GeneratedDocumentGroupID != nil {
		m.GeneratedDocumentGroupID = *patch.GeneratedDocumentGroupID
	}
	g.missions[patch.MissionID] = m
	return nil
}

func (g *Gateway) AddStats(ctx context.Context, missionID string, delta mission.Stats) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.missions[missionID]
	if !ok {
		return fmt.Errorf("memory: mission %s not found", missionID)
	}
	m.Stats.PromptTokens += delta.PromptTokens
	m.Stats.CompletionTokens += delta.CompletionTokens
	m.Stats.NativeTokens += delta.NativeTokens
	m.Stats.CostUSD += delta.CostUSD
	m.Stats.WebSearches += delta.WebSearches
	g.missions[missionID] = m
	return nil
}

func (g *Gateway) AppendLog(ctx context.Context, entry mission.LogEntry) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.logs[entry.MissionID] = append(g.logs[entry.MissionID], entry)
	return nil
}

func (g *Gateway) GetLogs(ctx context.Context, missionID string, skip, limit int) ([]mission.LogEntry, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	all := g.logs[missionID]
	return paginate(all, skip, limit), nil
}

func (g *Gateway) AppendNote(ctx context.Context, note mission.Note) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.notes[note.MissionID] = append(g.notes[note.MissionID], note)
	return nil
}

func (g *Gateway) GetNotes(ctx context.Context, missionID string, limit, offset int) ([]mission.Note, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	all := g.notes[missionID]
	return paginate(all, offset, limit), nil
}

func (g *Gateway) UnassignNotesForSections(ctx context.Context, missionID string, sectionIDs []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	drop := make(map[string]bool, len(sectionIDs))
	for _, id := range sectionIDs {
		drop[id] = true
	}
	notes := g.notes[missionID]
	for i, n := range notes {
		if drop[n.SectionID] {
			notes[i].SectionID = ""
		}
	}
	g.notes[missionID] = notes
	return nil
}

func (g *Gateway) UpsertGoal(ctx context.Context, goal mission.GoalEntry) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.goals[goal.MissionID] == nil {
		g.goals[goal.MissionID] = make(map[string]mission.GoalEntry)
	}
	g.goals[goal.MissionID][goal.GoalID] = goal
	return nil
}

func (g *Gateway) ListGoals(ctx context.Context, missionID string) ([]mission.GoalEntry, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]mission.GoalEntry, 0, len(g.goals[missionID]))
	for _, v := range g.goals[missionID] {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (g *Gateway) AppendThought(ctx context.Context, thought mission.ThoughtEntry) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.thoughts[thought.MissionID] = append(g.thoughts[thought.MissionID], thought)
	return nil
}

func (g *Gateway) ListThoughts(ctx context.Context, missionID string, limit int) ([]mission.ThoughtEntry, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	all := g.thoughts[missionID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]mission.ThoughtEntry, len(all))
	copy(out, all)
	return out, nil
}

func (g *Gateway) SetScratchpad(ctx context.Context, missionID string, content string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scratch[missionID] = content
	return nil
}

func (g *Gateway) GetScratchpad(ctx context.Context, missionID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.scratch[missionID], nil
}

func (g *Gateway) SnapshotOutline(ctx context.Context, h mission.OutlineHistory) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.outline[h.MissionID] = append(g.outline[h.MissionID], h)
	return nil
}

func (g *Gateway) GetOutlineHistory(ctx context.Context, missionID string) ([]mission.OutlineHistory, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]mission.OutlineHistory, len(g.outline[missionID]))
	copy(out, g.outline[missionID])
	return out, nil
}

func (g *Gateway) GetOutlineAtRound(ctx context.Context, missionID string, round int) (mission.OutlineHistory, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, h := range g.outline[missionID] {
		if h.Round == round {
			return h, nil
		}
	}
	return mission.OutlineHistory{}, fmt.Errorf("memory: no outline snapshot at round %d for mission %s", round, missionID)
}

func (g *Gateway) LatestRound(ctx context.Context, missionID string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	max := 0
	for _, h := range g.outline[missionID] {
		if h.Round > max {
			max = h.Round
		}
	}
	return max, nil
}

func (g *Gateway) SaveReportVersion(ctx context.Context, rv mission.ReportVersion) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if rv.IsCurrent {
		list := g.reports[rv.MissionID]
		for i := range list {
			list[i].IsCurrent = false
		}
	}
	g.reports[rv.MissionID] = append(g.reports[rv.MissionID], rv)
	return nil
}

func (g *Gateway) GetReportVersion(ctx context.Context, missionID string, version int) (mission.ReportVersion, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	list := g.reports[missionID]
	if version <= 0 {
		for _, rv := range list {
			if rv.IsCurrent {
				return rv, nil
			}
		}
		return mission.ReportVersion{}, fmt.Errorf("memory: no current report version for mission %s", missionID)
	}
	for _, rv := range list {
		if rv.Version == version {
			return rv, nil
		}
	}
	return mission.ReportVersion{}, fmt.Errorf("memory: no report version %d for mission %s", version, missionID)
}

func (g *Gateway) ListReportVersions(ctx context.Context, missionID string) ([]mission.ReportVersion, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]mission.ReportVersion, len(g.reports[missionID]))
	copy(out, g.reports[missionID])
	return out, nil
}

func (g *Gateway) Close() error { return nil }

func paginate[T any](all []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return []T{}
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]T, end-offset)
	copy(out, all[offset:end])
	return out
}
