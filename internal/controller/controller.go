// Package controller implements the mission state machine (spec §4.5): the
// straight-line algorithm that drives a mission from pending through
// planning, running and into a terminal state, awaiting agent and
// capability results at each suspension point. Grounded on the teacher's
// AgentEngine.RunSession step loop (agents.go) generalized from one bounded
// ReAct loop into the spec's multi-phase state machine, with section-level
// concurrency bounded by a weighted semaphore the way the teacher bounds
// worker-pool fan-out.
package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maestro-research/maestro/internal/agents"
	"github.com/maestro-research/maestro/internal/capability"
	"github.com/maestro-research/maestro/internal/config"
	"github.com/maestro-research/maestro/internal/eventbus"
	"github.com/maestro-research/maestro/internal/ids"
	"github.com/maestro-research/maestro/internal/mission"
	"github.com/maestro-research/maestro/internal/missioncontext"
	"github.com/maestro-research/maestro/internal/missionerr"
	"github.com/maestro-research/maestro/internal/persistence"
	"github.com/maestro-research/maestro/internal/retrieve"
	"github.com/maestro-research/maestro/internal/telemetry"
)

// Engine drives every mission in the process. One Engine is shared process-
// wide; per-mission concurrency and cancellation state lives in runState.
type Engine struct {
	Store     *missioncontext.Store
	Retriever *retrieve.Retriever
	LLM       capability.LLMClient
	Bus       *eventbus.Bus
	Now       func() time.Time
	// Telemetry routes every agent LLM call through the cost/token
	// interceptor (spec §4.6); nil disables recording, e.g. in unit tests.
	Telemetry *telemetry.Interceptor

	mu       sync.Mutex
	missions map[string]*runState
}

type runState struct {
	cancel  context.CancelFunc
	stopped bool
	mu      sync.Mutex
}

// New builds an Engine. now defaults to time.Now if nil (tests may supply a
// deterministic clock; Workflow-script callers must always pass one since
// Workflow scripts can't call time.Now themselves).
func New(store *missioncontext.Store, r *retrieve.Retriever, llm capability.LLMClient, bus *eventbus.Bus, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{Store: store, Retriever: r, LLM: llm, Bus: bus, Now: now, missions: make(map[string]*runState)}
}

func (e *Engine) state(missionID string) *runState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.missions[missionID]
	if !ok {
		st = &runState{}
		e.missions[missionID] = st
	}
	return st
}

// CreateMission registers a new mission in pending status. requestText and
// overrides are normally produced by running the Messenger agent over the
// user's raw chat turn first (spec §4.4.5 data flow: "user request ->
// Messenger clarifies and captures settings -> Planner produces initial
// outline") -- see PrepareRequest, which cmd/maestro calls before
// CreateMission; CreateMission itself stays a plain, LLM-free write so
// tests can drive it with deterministic fakes. overrides is held on the
// mission until Start freezes it into the settings snapshot (spec §8
// invariant: settings_snapshot is frozen at the first non-pending
// transition, not at creation).
func (e *Engine) CreateMission(ctx context.Context, userID, requestText string, overrides map[string]any) (string, error) {
	id := ids.New(ids.Mission)
	now := e.Now()
	m := mission.Mission{
		ID:          id,
		UserID:      userID,
		RequestText: requestText,
		Status:      mission.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	// SettingsSnapshot is unset until the mission's first non-pending
	// transition; until then it doubles as the holding slot for overrides
	// captured at creation time, which Start folds into the frozen snapshot
	// (see pendingOverrides in settings.go).
	if len(overrides) > 0 {
		m.SettingsSnapshot = overrides
	}
	if err := e.Store.Create(ctx, m); err != nil {
		return "", fmt.Errorf("controller: creating mission: %w", err)
	}
	return id, nil
}

// PrepareRequest runs the Messenger agent over a raw user chat turn,
// returning the normalized request text and any settings overrides it
// inferred, ready to pass straight into CreateMission (spec §4.4.5). A
// Messenger failure (e.g. a malformed or unavailable provider response)
// falls back to the raw text with no overrides rather than blocking mission
// creation -- the Messenger step is an enrichment, not a precondition.
func (e *Engine) PrepareRequest(ctx context.Context, userMessage string) (string, map[string]any) {
	if e.LLM == nil {
		return userMessage, nil
	}
	out, err := agents.RunMessenger(ctx, agents.Deps{
		LLM: e.LLM, Settings: config.DefaultMissionSettings(), Telemetry: e.Telemetry,
	}, agents.MessengerInput{UserMessage: userMessage})
	if err != nil || out.NormalizedRequest == "" {
		return userMessage, nil
	}
	return out.NormalizedRequest, out.SettingsOverrides
}

// Start transitions a pending mission through planning into running,
// freezing its settings snapshot and launching the research+writing
// pipeline in a background goroutine.
func (e *Engine) Start(ctx context.Context, missionID string, settings config.MissionSettings, overrides map[string]any) error {
	m, err := e.Store.Load(ctx, missionID)
	if err != nil {
		return err
	}
	if m.Status != mission.StatusPending {
		return missionerr.Validation("controller.start", fmt.Errorf("mission %s is not pending (status=%s)", missionID, m.Status))
	}

	frozen := config.ApplyOverrides(settings, mergeOverrides(pendingOverrides(m.SettingsSnapshot), overrides))
	if err := e.Store.Save(ctx, persistencePatch(missionID, mission.StatusPlanning, frozen, nil)); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	st := e.state(missionID)
	st.mu.Lock()
	st.cancel = cancel
	st.stopped = false
	st.mu.Unlock()

	go e.run(runCtx, missionID, frozen)
	return nil
}

// Stop requests cooperative cancellation; idempotent (spec §8: "stop issued
// twice yields a single stopped transition").
func (e *Engine) Stop(ctx context.Context, missionID string) error {
	st := e.state(missionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.stopped {
		return nil
	}
	st.stopped = true
	if st.cancel != nil {
		st.cancel()
	}
	return nil
}

// Pause is implemented as Stop today: both halt the run loop cooperatively
// and persist a resumable snapshot; Resume/UnifiedResume re-enter planning
// from the last snapshot regardless of whether the mission is paused or
// stopped.
func (e *Engine) Pause(ctx context.Context, missionID string) error {
	if err := e.Stop(ctx, missionID); err != nil {
		return err
	}
	status := mission.StatusPaused
	return e.Store.Save(ctx, persistencePatch(missionID, status, nil, nil))
}

// Resume restarts a paused/stopped mission from its latest outline snapshot
// with no feedback.
func (e *Engine) Resume(ctx context.Context, missionID string, settings config.MissionSettings) error {
	return e.UnifiedResume(ctx, missionID, 0, "", settings)
}

// UnifiedResume re-enters planning|running from the snapshot at round (or
// the latest round if round<=0), optionally revising the outline with
// feedback first (spec §4.5).
func (e *Engine) UnifiedResume(ctx context.Context, missionID string, round int, feedback string, settings config.MissionSettings) error {
	m, err := e.Store.Load(ctx, missionID)
	if err != nil {
		return err
	}
	switch m.Status {
	case mission.StatusPaused, mission.StatusStopped, mission.StatusFailed, mission.StatusCompleted:
	default:
		return missionerr.Validation("controller.unified_resume", fmt.Errorf("mission %s status=%s cannot be resumed", missionID, m.Status))
	}

	if round <= 0 {
		round, err = e.Store.LatestRound(ctx, missionID)
		if err != nil {
			return err
		}
	}
	snapshot, err := e.Store.GetOutlineAtRound(ctx, missionID, round)
	if err != nil {
		return err
	}
	outline := snapshot.OutlineSnapshot

	frozen, err := coerceSettings(m.SettingsSnapshot)
	if err != nil || frozen.SettingsVersion == 0 {
		frozen = settings
	}

	if err := e.Store.Save(ctx, persistencePatch(missionID, mission.StatusPlanning, nil, nil)); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	st := e.state(missionID)
	st.mu.Lock()
	st.cancel = cancel
	st.stopped = false
	st.mu.Unlock()

	go e.resumeRun(runCtx, missionID, frozen, outline, feedback, round)
	return nil
}

func persistencePatch(missionID string, status mission.Status, settings any, docGroup *string) persistence.MissionPatch {
	patch := persistence.MissionPatch{MissionID: missionID, SettingsSnapshot: settings, GeneratedDocumentGroupID: docGroup}
	if status != "" {
		s := status
		patch.Status = &s
	}
	return patch
}
