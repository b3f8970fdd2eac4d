// Package missioncontext is the single source of truth for one mission's
// state (spec §4.2): load/save, append_note/append_log/append_thought,
// upsert_goal, set_scratchpad, snapshot_outline, save/get_report_version,
// all funneled through a per-mission single-writer lock over
// persistence.Gateway. Logs and notes are batched (default 20 items or 250ms,
// whichever comes first) for write throughput, mirroring the teacher's
// batching in services.go.
package missioncontext

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/maestro-research/maestro/internal/mission"
	"github.com/maestro-research/maestro/internal/persistence"
)

// BatchConfig controls the note/log batching thresholds (spec §4.2:
// "configurable batch, default 20 items or 250 ms").
type BatchConfig struct {
	MaxItems int
	MaxDelay time.Duration
}

// DefaultBatchConfig is the spec's stated default.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{MaxItems: 20, MaxDelay: 250 * time.Millisecond}
}

// Store is the mission context façade. One Store serves every mission in
// the process; per-mission state (lock, batch queues) is created lazily.
type Store struct {
	gw    persistence.Gateway
	batch BatchConfig

	mu       sync.Mutex
	missions map[string]*missionState
}

type missionState struct {
	writeMu sync.Mutex // single-writer-per-mission (spec §4.2 concurrency)

	noteMu    sync.Mutex
	notes     []mission.Note
	noteTimer *time.Timer

	logMu    sync.Mutex
	logs     []mission.LogEntry
	logTimer *time.Timer
}

// New returns a Store over gw using the default batch configuration.
func New(gw persistence.Gateway) *Store {
	return NewWithBatch(gw, DefaultBatchConfig())
}

// NewWithBatch returns a Store with an explicit batch configuration.
func NewWithBatch(gw persistence.Gateway, batch BatchConfig) *Store {
	return &Store{gw: gw, batch: batch, missions: make(map[string]*missionState)}
}

func (s *Store) state(missionID string) *missionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.missions[missionID]
	if !ok {
		st = &missionState{}
		s.missions[missionID] = st
	}
	return st
}

// Load returns the mission's current row. Readers never block writers: this
// is a plain gateway read, not gated by the per-mission write lock (spec
// §4.2: "readers never block writers").
func (s *Store) Load(ctx context.Context, missionID string) (mission.Mission, error) {
	return s.gw.GetMission(ctx, missionID)
}

// Create registers a new mission and takes the per-mission write lock for
// the duration of the call.
func (s *Store) Create(ctx context.Context, m mission.Mission) error {
	st := s.state(m.ID)
	st.writeMu.Lock()
	defer st.writeMu.Unlock()
	return s.gw.CreateMission(ctx, m)
}

// Save applies a partial patch under the mission's write lock.
func (s *Store) Save(ctx context.Context, patch persistence.MissionPatch) error {
	st := s.state(patch.MissionID)
	st.writeMu.Lock()
	defer st.writeMu.Unlock()
	return s.gw.PatchMission(ctx, patch)
}

// AddStats merges a usage delta under the mission's write lock; doubles as
// the telemetry.StatsSink target via the Sink adapter below.
func (s *Store) AddStats(ctx context.Context, missionID string, delta mission.Stats) error {
	st := s.state(missionID)
	st.writeMu.Lock()
	defer st.writeMu.Unlock()
	return s.gw.AddStats(ctx, missionID, delta)
}

// AppendNote queues a note for batched persistence, flushing immediately if
// the batch is full.
func (s *Store) AppendNote(ctx context.Context, note mission.Note) error {
	st := s.state(note.MissionID)
	st.noteMu.Lock()
	st.notes = append(st.notes, note)
	full := len(st.notes) >= s.batch.MaxItems
	if !full && st.noteTimer == nil {
		st.noteTimer = time.AfterFunc(s.batch.MaxDelay, func() { s.flushNotes(context.Background(), note.MissionID) })
	}
	st.noteMu.Unlock()

	if full {
		return s.flushNotes(ctx, note.MissionID)
	}
	return nil
}

func (s *Store) flushNotes(ctx context.Context, missionID string) error {
	st := s.state(missionID)
	st.noteMu.Lock()
	pending := st.notes
	st.notes = nil
	if st.noteTimer != nil {
		st.noteTimer.Stop()
		st.noteTimer = nil
	}
	st.noteMu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	st.writeMu.Lock()
	defer st.writeMu.Unlock()
	for _, n := range pending {
		if err := s.gw.AppendNote(ctx, n); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("mission_id", missionID).Msg("missioncontext: note write failed")
			return fmt.Errorf("missioncontext: appending note: %w", err)
		}
	}
	return nil
}

// AppendLog queues a log entry for batched persistence, same shape as notes.
func (s *Store) AppendLog(ctx context.Context, entry mission.LogEntry) error {
	st := s.state(entry.MissionID)
	st.logMu.Lock()
	st.logs = append(st.logs, entry)
	full := len(st.logs) >= s.batch.MaxItems
	if !full && st.logTimer == nil {
		st.logTimer = time.AfterFunc(s.batch.MaxDelay, func() { s.flushLogs(context.Background(), entry.MissionID) })
	}
	st.logMu.Unlock()

	if full {
		return s.flushLogs(ctx, entry.MissionID)
	}
	return nil
}

func (s *Store) flushLogs(ctx context.Context, missionID string) error {
	st := s.state(missionID)
	st.logMu.Lock()
	pending := st.logs
	st.logs = nil
	if st.logTimer != nil {
		st.logTimer.Stop()
		st.logTimer = nil
	}
	st.logMu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	st.writeMu.Lock()
	defer st.writeMu.Unlock()
	for _, e := range pending {
		if err := s.gw.AppendLog(ctx, e); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("mission_id", missionID).Msg("missioncontext: log write failed")
			return fmt.Errorf("missioncontext: appending log: %w", err)
		}
	}
	return nil
}

// Flush forces any pending batched notes/logs for missionID to persistence
// immediately; the controller calls this when a run is cancelled (Stop or
// Pause) so no queued write is lost (spec §4.5 cancellation: "flushes
// pending writes").
func (s *Store) Flush(ctx context.Context, missionID string) error {
	if err := s.flushNotes(ctx, missionID); err != nil {
		return err
	}
	return s.flushLogs(ctx, missionID)
}

// GetNotes and GetLogs read straight through the gateway; any not-yet-
// flushed batch items for this call are included by flushing first so
// readers see a consistent view.
func (s *Store) GetNotes(ctx context.Context, missionID string, limit, offset int) ([]mission.Note, error) {
	if err := s.flushNotes(ctx, missionID); err != nil {
		return nil, err
	}
	return s.gw.GetNotes(ctx, missionID, limit, offset)
}

func (s *Store) GetLogs(ctx context.Context, missionID string, skip, limit int) ([]mission.LogEntry, error) {
	if err := s.flushLogs(ctx, missionID); err != nil {
		return nil, err
	}
	return s.gw.GetLogs(ctx, missionID, skip, limit)
}

// UnassignNotesForSections blanks SectionID on notes belonging to dropped
// outline sections rather than deleting them (SPEC_FULL §9 Open Question
// decision: dropped-section notes become unassigned, never deleted).
func (s *Store) UnassignNotesForSections(ctx context.Context, missionID string, sectionIDs []string) error {
	st := s.state(missionID)
	st.writeMu.Lock()
	defer st.writeMu.Unlock()
	return s.gw.UnassignNotesForSections(ctx, missionID, sectionIDs)
}

func (s *Store) AppendThought(ctx context.Context, thought mission.ThoughtEntry) error {
	st := s.state(thought.MissionID)
	st.writeMu.Lock()
	defer st.writeMu.Unlock()
	return s.gw.AppendThought(ctx, thought)
}

func (s *Store) ListThoughts(ctx context.Context, missionID string, limit int) ([]mission.ThoughtEntry, error) {
	return s.gw.ListThoughts(ctx, missionID, limit)
}

func (s *Store) UpsertGoal(ctx context.Context, goal mission.GoalEntry) error {
	st := s.state(goal.MissionID)
	st.writeMu.Lock()
	defer st.writeMu.Unlock()
	return s.gw.UpsertGoal(ctx, goal)
}

func (s *Store) ListGoals(ctx context.Context, missionID string) ([]mission.GoalEntry, error) {
	return s.gw.ListGoals(ctx, missionID)
}

func (s *Store) SetScratchpad(ctx context.Context, missionID string, content string) error {
	st := s.state(missionID)
	st.writeMu.Lock()
	defer st.writeMu.Unlock()
	return s.gw.SetScratchpad(ctx, missionID, content)
}

func (s *Store) GetScratchpad(ctx context.Context, missionID string) (string, error) {
	return s.gw.GetScratchpad(ctx, missionID)
}

// SnapshotOutline records an append-only outline snapshot under the
// mission's write lock.
func (s *Store) SnapshotOutline(ctx context.Context, h mission.OutlineHistory) error {
	st := s.state(h.MissionID)
	st.writeMu.Lock()
	defer st.writeMu.Unlock()
	return s.gw.SnapshotOutline(ctx, h)
}

func (s *Store) GetOutlineHistory(ctx context.Context, missionID string) ([]mission.OutlineHistory, error) {
	return s.gw.GetOutlineHistory(ctx, missionID)
}

func (s *Store) GetOutlineAtRound(ctx context.Context, missionID string, round int) (mission.OutlineHistory, error) {
	return s.gw.GetOutlineAtRound(ctx, missionID, round)
}

func (s *Store) LatestRound(ctx context.Context, missionID string) (int, error) {
	return s.gw.LatestRound(ctx, missionID)
}

// SaveReportVersion persists a new report version under the write lock.
func (s *Store) SaveReportVersion(ctx context.Context, rv mission.ReportVersion) error {
	st := s.state(rv.MissionID)
	st.writeMu.Lock()
	defer st.writeMu.Unlock()
	return s.gw.SaveReportVersion(ctx, rv)
}

func (s *Store) GetReportVersion(ctx context.Context, missionID string, version int) (mission.ReportVersion, error) {
	return s.gw.GetReportVersion(ctx, missionID, version)
}

func (s *Store) ListReportVersions(ctx context.Context, missionID string) ([]mission.ReportVersion, error) {
	return s.gw.ListReportVersions(ctx, missionID)
}

// Close releases the underlying gateway; callers should Flush every active
// mission first.
func (s *Store) Close() error {
	return s.gw.Close()
}
