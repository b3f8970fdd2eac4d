package controller

import (
	"context"

	"github.com/maestro-research/maestro/internal/config"
	"github.com/maestro-research/maestro/internal/eventbus"
	"github.com/maestro-research/maestro/internal/mission"
)

// GetStatus returns the mission's current lifecycle status and stats
// (spec §6: "status" query).
func (e *Engine) GetStatus(ctx context.Context, missionID string) (mission.Status, mission.Stats, error) {
	m, err := e.Store.Load(ctx, missionID)
	if err != nil {
		return "", mission.Stats{}, err
	}
	return m.Status, m.Stats, nil
}

// GetPlan returns the outline at the latest recorded round.
func (e *Engine) GetPlan(ctx context.Context, missionID string) (mission.Outline, error) {
	round, err := e.Store.LatestRound(ctx, missionID)
	if err != nil {
		return mission.Outline{}, err
	}
	snapshot, err := e.Store.GetOutlineAtRound(ctx, missionID, round)
	if err != nil {
		return mission.Outline{}, err
	}
	return snapshot.OutlineSnapshot, nil
}

// GetOutlineHistory returns every recorded outline snapshot, in round order.
func (e *Engine) GetOutlineHistory(ctx context.Context, missionID string) ([]mission.OutlineHistory, error) {
	return e.Store.GetOutlineHistory(ctx, missionID)
}

// GetNotes returns a page of the mission's notes.
func (e *Engine) GetNotes(ctx context.Context, missionID string, limit, offset int) ([]mission.Note, error) {
	return e.Store.GetNotes(ctx, missionID, limit, offset)
}

// GetLogs returns a page of the mission's append-only log.
func (e *Engine) GetLogs(ctx context.Context, missionID string, skip, limit int) ([]mission.LogEntry, error) {
	return e.Store.GetLogs(ctx, missionID, skip, limit)
}

// GetReport returns a specific report version, or the current one when
// version<=0.
func (e *Engine) GetReport(ctx context.Context, missionID string, version int) (mission.ReportVersion, error) {
	return e.Store.GetReportVersion(ctx, missionID, version)
}

// ListReportVersions returns every saved report version's metadata.
func (e *Engine) ListReportVersions(ctx context.Context, missionID string) ([]mission.ReportVersion, error) {
	return e.Store.ListReportVersions(ctx, missionID)
}

// GetComprehensiveSettings returns the mission's frozen settings snapshot
// (spec §6: read-only, identical across all reads after the first
// non-pending transition).
func (e *Engine) GetComprehensiveSettings(ctx context.Context, missionID string) (config.MissionSettings, error) {
	m, err := e.Store.Load(ctx, missionID)
	if err != nil {
		return config.MissionSettings{}, err
	}
	return coerceSettings(m.SettingsSnapshot)
}

// MissionContext is the bundled view spec §6 calls "get_context": goals,
// the thought pad and the scratchpad in one read.
type MissionContext struct {
	Goals      []mission.GoalEntry
	Thoughts   []mission.ThoughtEntry
	Scratchpad string
}

// GetContext returns a mission's goal pad, recent thoughts and scratchpad
// in one call.
func (e *Engine) GetContext(ctx context.Context, missionID string, thoughtLimit int) (MissionContext, error) {
	goals, err := e.Store.ListGoals(ctx, missionID)
	if err != nil {
		return MissionContext{}, err
	}
	thoughts, err := e.Store.ListThoughts(ctx, missionID, thoughtLimit)
	if err != nil {
		return MissionContext{}, err
	}
	scratchpad, err := e.Store.GetScratchpad(ctx, missionID)
	if err != nil {
		return MissionContext{}, err
	}
	return MissionContext{Goals: goals, Thoughts: thoughts, Scratchpad: scratchpad}, nil
}

// Subscribe attaches a live listener to a mission's event topics (spec §4.3;
// empty topics means every topic).
func (e *Engine) Subscribe(missionID string, topics []eventbus.Topic) *eventbus.Subscription {
	return e.Bus.Subscribe(missionID, topics)
}
