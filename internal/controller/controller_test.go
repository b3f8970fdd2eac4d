package controller

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-research/maestro/internal/capability"
	"github.com/maestro-research/maestro/internal/config"
	"github.com/maestro-research/maestro/internal/eventbus"
	"github.com/maestro-research/maestro/internal/mission"
	"github.com/maestro-research/maestro/internal/missioncontext"
	"github.com/maestro-research/maestro/internal/persistence/memory"
	"github.com/maestro-research/maestro/internal/retrieve"
	"github.com/maestro-research/maestro/internal/vectorindex"
)

// keyedLLM returns a canned response chosen by matching a substring against
// the system prompt, so one fake can answer every agent in a multi-agent
// run without needing to predict call order under concurrency.
type keyedLLM struct {
	mu        sync.Mutex
	responses map[string]string
	calls     int
}

func (k *keyedLLM) Complete(ctx context.Context, req capability.CompletionRequest) (capability.CompletionResponse, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.calls++
	system := req.Messages[0].Content
	for key, resp := range k.responses {
		if strings.Contains(system, key) {
			return capability.CompletionResponse{Message: capability.Message{Role: "assistant", Content: resp}}, nil
		}
	}
	return capability.CompletionResponse{Message: capability.Message{Role: "assistant", Content: "{}"}}, nil
}

func (k *keyedLLM) Stream(ctx context.Context, req capability.CompletionRequest, h capability.StreamHandler) error {
	return nil
}

func happyLLM() *keyedLLM {
	return &keyedLLM{responses: map[string]string{
		"planning agent": `{"sections": [{"section_id": "s1", "title": "Intro", "description": "d",
			"research_strategy": "synthesize", "depends_on_steps": [], "questions": ["q1"]}]}`,
		"research agent":  `{"queries": ["q1"]}`,
		"reflection agent": `{"sufficient": true, "gaps": [], "refinement_queries": []}`,
		"writing agent":   "Intro content citing evidence.",
	}}
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, req capability.EmbeddingRequest) (capability.EmbeddingResponse, error) {
	return capability.EmbeddingResponse{
		Embeddings: []capability.Embedding{{Index: 0, Dense: []float32{1, 0, 0}, Sparse: map[uint32]float32{1: 1}}},
	}, nil
}
func (fakeEmbedder) DenseDimension() int { return 3 }

type fakeWebSearch struct{}

func (fakeWebSearch) Search(ctx context.Context, query string, maxResults int) ([]capability.WebSearchResult, error) {
	return []capability.WebSearchResult{{Title: "W1", URL: "http://example.com/1", Snippet: "alpha beta"}}, nil
}
func (fakeWebSearch) Fetch(ctx context.Context, url string) (capability.FetchedPage, error) {
	return capability.FetchedPage{URL: url, Markdown: "fetched body"}, nil
}

func testRetriever(t *testing.T) *retrieve.Retriever {
	t.Helper()
	idx := vectorindex.NewMemoryIndex(3)
	require.NoError(t, idx.Upsert(context.Background(),
		[]vectorindex.Chunk{{ChunkID: "c1", DocID: "d1", Text: "alpha beta gamma"}},
		[][]float32{{1, 0, 0}},
		[]map[uint32]float32{{1: 1}}))
	return retrieve.New(idx, fakeEmbedder{}, fakeWebSearch{}, nil)
}

func testEngine(t *testing.T, llm capability.LLMClient) *Engine {
	t.Helper()
	store := missioncontext.New(memory.New())
	bus := eventbus.New(0)
	now := func() time.Time { return time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC) }
	return New(store, testRetriever(t), llm, bus, now)
}

func testSettings() config.MissionSettings {
	s := config.DefaultMissionSettings()
	s.MaxConcurrentRequests = 2
	s.MaxResearchCyclesPerSection = 1
	s.MaxTotalIterations = 10
	s.WritingPasses = 1
	s.MinNotesPerSectionAssignment = 1
	return s
}

func waitForStatus(t *testing.T, e *Engine, missionID string, want mission.Status, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		status, _, err := e.GetStatus(context.Background(), missionID)
		require.NoError(t, err)
		if status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("mission %s did not reach status %s in time", missionID, want)
}

func TestHappyPathCompletesAndProducesReport(t *testing.T) {
	ctx := context.Background()
	e := testEngine(t, happyLLM())

	id, err := e.CreateMission(ctx, "u1", "explain CAP theorem", nil)
	require.NoError(t, err)

	require.NoError(t, e.Start(ctx, id, testSettings(), nil))
	waitForStatus(t, e, id, mission.StatusCompleted, 2*time.Second)

	report, err := e.GetReport(ctx, id, 0)
	require.NoError(t, err)
	assert.Contains(t, report.Content, "Intro content")

	notes, err := e.GetNotes(ctx, id, 0, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, notes)
}

func TestStartRejectsNonPendingMission(t *testing.T) {
	ctx := context.Background()
	e := testEngine(t, happyLLM())

	id, err := e.CreateMission(ctx, "u1", "x", nil)
	require.NoError(t, err)
	require.NoError(t, e.Start(ctx, id, testSettings(), nil))
	waitForStatus(t, e, id, mission.StatusCompleted, 2*time.Second)

	err = e.Start(ctx, id, testSettings(), nil)
	require.Error(t, err)
}

func TestStopCancelsRunAndRecordsStoppedOutline(t *testing.T) {
	ctx := context.Background()
	blocking := &blockingLLM{unblock: make(chan struct{})}
	e := testEngine(t, blocking)

	id, err := e.CreateMission(ctx, "u1", "x", nil)
	require.NoError(t, err)
	require.NoError(t, e.Start(ctx, id, testSettings(), nil))

	require.Eventually(t, func() bool { return blocking.callCount() > 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, e.Stop(ctx, id))
	close(blocking.unblock)

	waitForStatus(t, e, id, mission.StatusStopped, 2*time.Second)

	history, err := e.GetOutlineHistory(ctx, id)
	require.NoError(t, err)
	var sawStopped bool
	for _, h := range history {
		if strings.HasPrefix(string(h.Action), "stopped_at_round_") {
			sawStopped = true
		}
	}
	assert.True(t, sawStopped)
}

// blockingLLM answers the planning call immediately (so the mission reaches
// running) then blocks every subsequent call on unblock, simulating a slow
// research cycle that Stop must be able to interrupt.
type blockingLLM struct {
	mu      sync.Mutex
	calls   int
	unblock chan struct{}
}

func (b *blockingLLM) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func (b *blockingLLM) Complete(ctx context.Context, req capability.CompletionRequest) (capability.CompletionResponse, error) {
	b.mu.Lock()
	b.calls++
	first := b.calls == 1
	b.mu.Unlock()

	if first {
		return capability.CompletionResponse{Message: capability.Message{Role: "assistant", Content: `{"sections": [{"section_id": "s1", "title": "Intro", "description": "d", "research_strategy": "synthesize", "depends_on_steps": []}]}`}}, nil
	}
	select {
	case <-b.unblock:
	case <-ctx.Done():
		return capability.CompletionResponse{}, ctx.Err()
	}
	return capability.CompletionResponse{}, ctx.Err()
}

func (b *blockingLLM) Stream(ctx context.Context, req capability.CompletionRequest, h capability.StreamHandler) error {
	return nil
}

func TestResumeAfterCompletionReplansAndCompletes(t *testing.T) {
	ctx := context.Background()
	e := testEngine(t, happyLLM())

	id, err := e.CreateMission(ctx, "u1", "x", nil)
	require.NoError(t, err)
	require.NoError(t, e.Start(ctx, id, testSettings(), nil))
	waitForStatus(t, e, id, mission.StatusCompleted, 2*time.Second)

	require.NoError(t, e.UnifiedResume(ctx, id, 0, "", testSettings()))
	waitForStatus(t, e, id, mission.StatusCompleted, 2*time.Second)

	history, err := e.GetOutlineHistory(ctx, id)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(history), 1)
}

// reviseLLM behaves like keyedLLM for the happy-path agents but gives the
// planning agent a different, larger outline whenever the prompt carries
// revision feedback, so TestUnifiedResumeWithFeedbackRevisesOutlineAndReport
// can exercise a real plan-level revision instead of an idempotent replan.
type reviseLLM struct {
	mu    sync.Mutex
	calls int
}

func (r *reviseLLM) Complete(ctx context.Context, req capability.CompletionRequest) (capability.CompletionResponse, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()

	system := req.Messages[0].Content
	var user string
	if len(req.Messages) > 1 {
		user = req.Messages[1].Content
	}

	switch {
	case strings.Contains(system, "planning agent") && strings.Contains(user, "Revision feedback"):
		return msg(`{"sections": [
			{"section_id": "s1", "title": "Intro", "description": "d", "research_strategy": "synthesize", "depends_on_steps": [], "questions": ["q1"]},
			{"section_id": "s2", "title": "Edge Cases", "description": "d2", "research_strategy": "synthesize", "depends_on_steps": [], "questions": ["q2"]}
		]}`), nil
	case strings.Contains(system, "planning agent"):
		return msg(`{"sections": [{"section_id": "s1", "title": "Intro", "description": "d", "research_strategy": "synthesize", "depends_on_steps": [], "questions": ["q1"]}]}`), nil
	case strings.Contains(system, "research agent"):
		return msg(`{"queries": ["q1"]}`), nil
	case strings.Contains(system, "reflection agent"):
		return msg(`{"sufficient": true, "gaps": [], "refinement_queries": []}`), nil
	case strings.Contains(system, "writing agent"):
		return msg("Section content citing evidence."), nil
	default:
		return msg("{}"), nil
	}
}

func (r *reviseLLM) Stream(ctx context.Context, req capability.CompletionRequest, h capability.StreamHandler) error {
	return nil
}

func msg(content string) capability.CompletionResponse {
	return capability.CompletionResponse{Message: capability.Message{Role: "assistant", Content: content}}
}

func TestUnifiedResumeWithFeedbackRevisesOutlineAndReport(t *testing.T) {
	ctx := context.Background()
	e := testEngine(t, &reviseLLM{})

	id, err := e.CreateMission(ctx, "u1", "explain CAP theorem", nil)
	require.NoError(t, err)
	require.NoError(t, e.Start(ctx, id, testSettings(), nil))
	waitForStatus(t, e, id, mission.StatusCompleted, 2*time.Second)

	versionsBefore, err := e.ListReportVersions(ctx, id)
	require.NoError(t, err)
	require.Len(t, versionsBefore, 1)
	assert.True(t, versionsBefore[0].IsCurrent)

	require.NoError(t, e.UnifiedResume(ctx, id, 0, "add a section about edge cases", testSettings()))
	waitForStatus(t, e, id, mission.StatusCompleted, 2*time.Second)

	outline, err := e.GetPlan(ctx, id)
	require.NoError(t, err)
	var titles []string
	outline.Walk(func(s *mission.Section) { titles = append(titles, s.Title) })
	assert.Contains(t, titles, "Edge Cases")

	versionsAfter, err := e.ListReportVersions(ctx, id)
	require.NoError(t, err)
	require.Len(t, versionsAfter, 2)

	var sawCurrent, sawStale int
	for _, v := range versionsAfter {
		if v.Version == 2 {
			assert.True(t, v.IsCurrent)
			sawCurrent++
		}
		if v.Version == 1 {
			assert.False(t, v.IsCurrent)
			sawStale++
		}
	}
	assert.Equal(t, 1, sawCurrent)
	assert.Equal(t, 1, sawStale)
}

// flakyLLM fails every role's first call with a transient-looking error,
// then succeeds, so TestResearchSurvivesTransientProviderErrors can verify
// retry-then-succeed without losing notes or double-counting cycles.
type flakyLLM struct {
	mu       sync.Mutex
	attempts map[string]int
}

func (f *flakyLLM) Complete(ctx context.Context, req capability.CompletionRequest) (capability.CompletionResponse, error) {
	f.mu.Lock()
	if f.attempts == nil {
		f.attempts = make(map[string]int)
	}
	system := req.Messages[0].Content
	f.attempts[system]++
	attempt := f.attempts[system]
	f.mu.Unlock()

	if attempt == 1 {
		return capability.CompletionResponse{}, errTransientFake
	}

	switch {
	case strings.Contains(system, "planning agent"):
		return msg(`{"sections": [{"section_id": "s1", "title": "Intro", "description": "d", "research_strategy": "synthesize", "depends_on_steps": [], "questions": ["q1"]}]}`), nil
	case strings.Contains(system, "research agent"):
		return msg(`{"queries": ["q1"]}`), nil
	case strings.Contains(system, "reflection agent"):
		return msg(`{"sufficient": true, "gaps": [], "refinement_queries": []}`), nil
	case strings.Contains(system, "writing agent"):
		return msg("Intro content citing evidence."), nil
	default:
		return msg("{}"), nil
	}
}

func (f *flakyLLM) Stream(ctx context.Context, req capability.CompletionRequest, h capability.StreamHandler) error {
	return nil
}

var errTransientFake = assert.AnError

func TestResearchSurvivesTransientProviderErrors(t *testing.T) {
	ctx := context.Background()
	e := testEngine(t, &flakyLLM{})

	id, err := e.CreateMission(ctx, "u1", "explain CAP theorem", nil)
	require.NoError(t, err)

	settings := testSettings()
	settings.MaxResearchCyclesPerSection = 3
	settings.MaxTotalIterations = 20
	require.NoError(t, e.Start(ctx, id, settings, nil))
	waitForStatus(t, e, id, mission.StatusCompleted, 3*time.Second)

	notes, err := e.GetNotes(ctx, id, 0, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, notes)

	report, err := e.GetReport(ctx, id, 0)
	require.NoError(t, err)
	assert.Contains(t, report.Content, "Intro content")
}

func TestBudgetExhaustionCompletesMissionWithoutFailing(t *testing.T) {
	ctx := context.Background()
	// insufficientLLM never declares a section sufficient, so research only
	// stops once max_total_iterations forces a Budget error per section.
	insufficientLLM := &keyedLLM{responses: map[string]string{
		"planning agent":   `{"sections": [{"section_id": "s1", "title": "Intro", "description": "d", "research_strategy": "synthesize", "depends_on_steps": [], "questions": ["q1"]}]}`,
		"research agent":   `{"queries": ["q1"]}`,
		"reflection agent": `{"sufficient": false, "gaps": ["more detail needed"], "refinement_queries": ["q2"]}`,
		"writing agent":    "Intro content citing evidence.",
	}}
	e := testEngine(t, insufficientLLM)

	id, err := e.CreateMission(ctx, "u1", "explain CAP theorem", nil)
	require.NoError(t, err)

	settings := testSettings()
	settings.MaxTotalIterations = 2
	settings.MaxResearchCyclesPerSection = 100
	require.NoError(t, e.Start(ctx, id, settings, nil))

	// A Budget error ends the research phase without failing the mission
	// (spec §4.5: budget exhaustion is non-fatal, the phase simply ends); the
	// mission then moves on to writing with the notes gathered so far and
	// completes.
	waitForStatus(t, e, id, mission.StatusCompleted, 2*time.Second)

	notes, err := e.GetNotes(ctx, id, 0, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, notes, "iterations spent before the budget ceiling should still have produced notes")
}

func TestGetComprehensiveSettingsReturnsFrozenSnapshot(t *testing.T) {
	ctx := context.Background()
	e := testEngine(t, happyLLM())

	id, err := e.CreateMission(ctx, "u1", "x", nil)
	require.NoError(t, err)
	settings := testSettings()
	require.NoError(t, e.Start(ctx, id, settings, map[string]any{"use_web_search": false}))
	waitForStatus(t, e, id, mission.StatusCompleted, 2*time.Second)

	snap, err := e.GetComprehensiveSettings(ctx, id)
	require.NoError(t, err)
	assert.False(t, snap.UseWebSearch)
	assert.Equal(t, settings.MaxConcurrentRequests, snap.MaxConcurrentRequests)
}
