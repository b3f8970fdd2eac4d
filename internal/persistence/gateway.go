// Package persistence defines the Gateway adapter spec §4.2/§6 describes:
// a single interface over the seven logical tables (missions, logs, notes,
// outline history, report versions, goals, thoughts) that
// internal/missioncontext builds its single-writer-per-mission semantics on
// top of. internal/persistence/postgres is the pgx-backed implementation;
// internal/persistence/memory is an in-memory fake used by tests.
package persistence

import (
	"context"

	"github.com/maestro-research/maestro/internal/mission"
)

// MissionPatch carries a sparse update to a Mission row; nil fields are left
// untouched, mirroring the "save(partial patch)" operation from spec §4.2.
type MissionPatch struct {
	MissionID                string
	Status                   *mission.Status
	SettingsSnapshot         any
	GeneratedDocumentGroupID *string
}

// Gateway is the persistence façade every store operation in spec §4.2
// resolves to. All methods return only after the underlying store
// acknowledges the write (spec §4.2: "every mutating call returns only
// after persistence acknowledges write").
type Gateway interface {
	CreateMission(ctx context.Context, m mission.Mission) error
	GetMission(ctx context.Context, missionID string) (mission.Mission, error)
	PatchMission(ctx context.Context, patch MissionPatch) error
	AddStats(ctx context.Context, missionID string, delta mission.Stats) error

	AppendLog(ctx context.Context, entry mission.LogEntry) error
	GetLogs(ctx context.Context, missionID string, skip, limit int) ([]mission.LogEntry, error)

	AppendNote(ctx context.Context, note mission.Note) error
	GetNotes(ctx context.Context, missionID string, limit, offset int) ([]mission.Note, error)
	UnassignNotesForSections(ctx context.Context, missionID string, sectionIDs []string) error

	UpsertGoal(ctx context.Context, goal mission.GoalEntry) error
	ListGoals(ctx context.Context, missionID string) ([]mission.GoalEntry, error)

	AppendThought(ctx context.Context, thought mission.ThoughtEntry) error
	ListThoughts(ctx context.Context, missionID string, limit int) ([]mission.ThoughtEntry, error)

	SetScratchpad(ctx context.Context, missionID string, content string) error
	GetScratchpad(ctx context.Context, missionID string) (string, error)

	SnapshotOutline(ctx context.Context, h mission.OutlineHistory) error
	GetOutlineHistory(ctx context.Context, missionID string) ([]mission.OutlineHistory, error)
	GetOutlineAtRound(ctx context.Context, missionID string, round int) (mission.OutlineHistory, error)
	LatestRound(ctx context.Context, missionID string) (int, error)

	SaveReportVersion(ctx context.Context, rv mission.ReportVersion) error
	// GetReportVersion returns the report at version, or the current one
	// when version <= 0.
	GetReportVersion(ctx context.Context, missionID string, version int) (mission.ReportVersion, error)
	ListReportVersions(ctx context.Context, missionID string) ([]mission.ReportVersion, error)

	Close() error
}
