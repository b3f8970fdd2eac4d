package controller

import (
	"context"
	"encoding/json"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/maestro-research/maestro/internal/agents"
	"github.com/maestro-research/maestro/internal/config"
	"github.com/maestro-research/maestro/internal/eventbus"
	"github.com/maestro-research/maestro/internal/ids"
	"github.com/maestro-research/maestro/internal/logging"
	"github.com/maestro-research/maestro/internal/mission"
	"github.com/maestro-research/maestro/internal/missionerr"
	"github.com/maestro-research/maestro/internal/retrieve"
	"github.com/maestro-research/maestro/internal/vectorindex"
)

// run executes the full pending->planning->running->completed|failed|stopped
// pipeline for a freshly-started mission.
func (e *Engine) run(ctx context.Context, missionID string, settings config.MissionSettings) {
	log := logging.Mission(ctx, missionID)

	outline, err := e.plan(ctx, missionID, settings, nil, "")
	if err != nil {
		e.fail(ctx, missionID, err)
		return
	}
	e.execute(ctx, missionID, settings, outline, 1)
	log.Debug().Msg("controller: mission run goroutine exiting")
}

// resumeRun re-enters planning from a loaded snapshot, optionally revising
// with feedback first, then continues the pipeline (spec §4.5 unified_resume).
func (e *Engine) resumeRun(ctx context.Context, missionID string, settings config.MissionSettings, prior mission.Outline, feedback string, fromRound int) {
	outline, err := e.plan(ctx, missionID, settings, &prior, feedback)
	if err != nil {
		e.fail(ctx, missionID, err)
		return
	}

	if feedback != "" {
		if err := e.reconcileNotes(ctx, missionID, &prior, &outline); err != nil {
			e.fail(ctx, missionID, err)
			return
		}
	}

	nextRound, err := e.Store.LatestRound(ctx, missionID)
	if err != nil {
		nextRound = fromRound + 1
	} else {
		nextRound++
	}
	e.execute(ctx, missionID, settings, outline, nextRound)
}

// plan invokes the Planner, validates and persists the resulting outline,
// and transitions the mission into running.
func (e *Engine) plan(ctx context.Context, missionID string, settings config.MissionSettings, prior *mission.Outline, feedback string) (mission.Outline, error) {
	m, err := e.Store.Load(ctx, missionID)
	if err != nil {
		return mission.Outline{}, err
	}

	outline, err := agents.RunPlanner(ctx, e.deps(missionID, settings), agents.PlannerInput{
		RequestText:  m.RequestText,
		PriorOutline: prior,
		UserFeedback: feedback,
	})
	if err != nil {
		return mission.Outline{}, err
	}

	round := 1
	action := mission.ActionInitial
	if prior != nil {
		round, _ = e.Store.LatestRound(ctx, missionID)
		round++
		action = mission.RevisedRoundAction(round)
	}

	if err := e.Store.SnapshotOutline(ctx, mission.OutlineHistory{
		ID: ids.New(ids.OutlineRound), MissionID: missionID, Round: round, Action: action,
		Timestamp: e.Now(), MissionGoal: m.RequestText, OutlineSnapshot: outline,
	}); err != nil {
		return mission.Outline{}, missionerr.Fatal("controller.plan", err)
	}

	if err := e.Store.Save(ctx, persistencePatch(missionID, mission.StatusRunning, nil, nil)); err != nil {
		return mission.Outline{}, err
	}
	e.publish(missionID, eventbus.TopicPlan, outline)
	return outline, nil
}

// reconcileNotes unassigns notes whose section disappeared between prior
// and revised (spec §4.5 step 3).
func (e *Engine) reconcileNotes(ctx context.Context, missionID string, prior, revised *mission.Outline) error {
	survive := make(map[string]bool)
	revised.Walk(func(s *mission.Section) { survive[s.SectionID] = true })

	var dropped []string
	prior.Walk(func(s *mission.Section) {
		if !survive[s.SectionID] {
			dropped = append(dropped, s.SectionID)
		}
	})
	if len(dropped) == 0 {
		return nil
	}
	return e.Store.UnassignNotesForSections(ctx, missionID, dropped)
}

// execute runs the research phase over every leaf section (bounded
// concurrency) followed by the writing phase, then marks the mission
// completed.
func (e *Engine) execute(ctx context.Context, missionID string, settings config.MissionSettings, outline mission.Outline, round int) {
	if err := e.research(ctx, missionID, settings, &outline); err != nil {
		if missionerr.Classify(err) != missionerr.KindBudget {
			e.handleRunError(ctx, missionID, round, err)
			return
		}
		// Budget exhaustion ends the research phase only; writing still runs
		// over the notes gathered so far.
		logging.Mission(ctx, missionID).Warn().Err(err).Msg("controller: research budget exhausted, advancing to writing")
	}

	if err := e.write(ctx, missionID, settings, &outline); err != nil {
		e.handleRunError(ctx, missionID, round, err)
		return
	}

	if err := ctx.Err(); err != nil {
		e.handleRunError(ctx, missionID, round, missionerr.Cancelled("controller", err))
		return
	}

	if err := e.Store.Save(ctx, persistencePatch(missionID, mission.StatusCompleted, nil, nil)); err != nil {
		logging.Mission(ctx, missionID).Warn().Err(err).Msg("controller: failed to persist completed status")
	}
	e.publish(missionID, eventbus.TopicStatus, mission.StatusCompleted)
}

// handleRunError classifies the error and drives the mission to its correct
// terminal state: Cancelled -> stopped (with a stopped_at_round snapshot),
// Budget -> completed (non-fatal, phase simply ends), everything else ->
// failed.
func (e *Engine) handleRunError(ctx context.Context, missionID string, round int, err error) {
	log := logging.Mission(ctx, missionID)
	switch missionerr.Classify(err) {
	case missionerr.KindCancelled:
		_ = e.Store.Flush(context.Background(), missionID)
		_ = e.Store.SnapshotOutline(context.Background(), mission.OutlineHistory{
			ID: ids.New(ids.OutlineRound), MissionID: missionID, Round: round,
			Action: mission.StoppedAtRoundAction(round), Timestamp: e.Now(),
		})
		_ = e.Store.AppendLog(context.Background(), mission.LogEntry{
			ID: ids.New(ids.LogEntry), MissionID: missionID, Timestamp: e.Now(),
			Level: "info", Agent: "controller", Phase: "cancellation", Message: "mission cancelled",
		})
		_ = e.Store.Save(context.Background(), persistencePatch(missionID, mission.StatusStopped, nil, nil))
		e.publish(missionID, eventbus.TopicStatus, mission.StatusStopped)
	case missionerr.KindBudget:
		log.Warn().Err(err).Msg("controller: budget exhausted, completing mission as-is")
		_ = e.Store.Save(context.Background(), persistencePatch(missionID, mission.StatusCompleted, nil, nil))
		e.publish(missionID, eventbus.TopicStatus, mission.StatusCompleted)
	default:
		e.fail(context.Background(), missionID, err)
	}
}

func (e *Engine) fail(ctx context.Context, missionID string, err error) {
	log := logging.Mission(ctx, missionID)
	log.Error().Err(err).Msg("controller: mission failed")
	_ = e.Store.AppendLog(context.Background(), mission.LogEntry{
		ID: ids.New(ids.LogEntry), MissionID: missionID, Timestamp: e.Now(),
		Level: "error", Agent: "controller", Phase: "run", Message: err.Error(),
	})
	_ = e.Store.Save(context.Background(), persistencePatch(missionID, mission.StatusFailed, nil, nil))
	e.publish(missionID, eventbus.TopicStatus, mission.StatusFailed)
}

func (e *Engine) publish(missionID string, topic eventbus.Topic, payload any) {
	if e.Bus != nil {
		e.Bus.Publish(missionID, topic, payload)
	}
}

func (e *Engine) deps(missionID string, settings config.MissionSettings) agents.Deps {
	return agents.Deps{LLM: e.LLM, Settings: settings, Telemetry: e.Telemetry, MissionID: missionID}
}

// research runs a bounded number of research cycles over every leaf section
// concurrently (spec §4.5 concurrency: "sections without inter-dependency
// are processed in parallel up to max_concurrent_requests").
func (e *Engine) research(ctx context.Context, missionID string, settings config.MissionSettings, outline *mission.Outline) error {
	leaves := outline.Leaves()
	weight := int64(settings.MaxConcurrentRequests)
	if weight <= 0 {
		weight = 1
	}
	sem := semaphore.NewWeighted(weight)

	// outlineMu serializes Reflector-driven outline revisions (spec §4.4.3)
	// across the concurrently-running leaf sections below; the outline tree
	// itself is shared and mutated in place.
	var outlineMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, section := range leaves {
		section := section
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return missionerr.Cancelled("controller.research", err)
			}
			defer sem.Release(1)
			return e.researchSection(gctx, missionID, settings, outline, &outlineMu, section)
		})
	}
	return g.Wait()
}

func (e *Engine) researchSection(ctx context.Context, missionID string, settings config.MissionSettings, outline *mission.Outline, outlineMu *sync.Mutex, section *mission.Section) error {
	deps := e.deps(missionID, settings)
	retrieveFn := e.retrieveAdapter(missionID, settings)

	var existingNotes []mission.Note
	cycles := 0
	sufficient := false
	iterations := 0

	for {
		if ctx.Err() != nil {
			return missionerr.Cancelled("controller.research", ctx.Err())
		}
		if iterations >= settings.MaxTotalIterations && settings.MaxTotalIterations > 0 {
			return missionerr.Budget("controller.research", errBudgetExhausted)
		}
		if agents.IsSaturated(len(existingNotes), cycles, sufficient, settings) {
			return nil
		}

		goals, _ := e.Store.ListGoals(ctx, missionID)
		thoughts, _ := e.Store.ListThoughts(ctx, missionID, settings.ThoughtPadContextLimit)

		out, err := agents.RunResearcher(ctx, deps, agents.ResearcherInput{
			MissionID: missionID, Section: section, Goals: goals, RecentThoughts: thoughts, ExistingNotes: existingNotes,
		}, retrieveFn, func() string { return ids.New(ids.Note) })
		if err != nil {
			if missionerr.Classify(err) == missionerr.KindFatal {
				return err
			}
			cycles++
			iterations++
			continue
		}

		for _, n := range out.Notes {
			if err := e.Store.AppendNote(ctx, n); err != nil {
				return missionerr.Fatal("controller.research", err)
			}
		}
		for _, th := range out.Thoughts {
			_ = e.Store.AppendThought(ctx, th)
		}
		existingNotes = append(existingNotes, out.Notes...)

		allowRevision := cycles == 0 // only before the first writing pass, per-section
		refl, err := agents.RunReflector(ctx, deps, agents.ReflectorInput{
			Section: section, Notes: existingNotes, RecentThoughts: thoughts, AllowRevision: allowRevision,
		})
		if err == nil {
			sufficient = refl.Sufficient
			if allowRevision && len(refl.OutlineDeltas) > 0 {
				outlineMu.Lock()
				applyErr := e.applyOutlineDeltas(ctx, missionID, settings, outline, refl.OutlineDeltas)
				outlineMu.Unlock()
				if applyErr != nil {
					return applyErr
				}
			}
		}

		cycles++
		iterations++
	}
}

// applyOutlineDeltas mutates outline in place per the Reflector's proposed
// revisions (spec §4.4.3: "Reflector may propose rename/split/merge/drop
// deltas; controller applies deltas, records an OutlineHistory{action=
// revised_round_N}, and re-validates"). A delta set that fails
// ValidateOutline is discarded and the outline is rolled back to its
// pre-delta state rather than failing the mission -- a malformed revision
// proposal is the Reflector's mistake, not a reason to abort research.
func (e *Engine) applyOutlineDeltas(ctx context.Context, missionID string, settings config.MissionSettings, outline *mission.Outline, deltas []agents.OutlineDelta) error {
	before, err := cloneOutline(outline)
	if err != nil {
		return missionerr.Fatal("controller.reflect", err)
	}

	for _, d := range deltas {
		switch d.Kind {
		case agents.DeltaRename, agents.DeltaSplit, agents.DeltaMerge:
			// OutlineDelta carries only section_id + new_title, so split and
			// merge -- which would otherwise need to name new child sections
			// or a merge target -- are applied the same way rename is: the
			// named section is retitled in place. See DESIGN.md.
			if s := outline.Find(d.SectionID); s != nil && d.NewTitle != "" {
				s.Title = d.NewTitle
			}
		case agents.DeltaDrop:
			dropSection(outline, d.SectionID)
		}
	}

	if err := mission.ValidateOutline(outline, settings.MaxTotalDepth); err != nil {
		*outline = *before
		logging.Mission(ctx, missionID).Warn().Err(err).Msg("controller: reflector outline deltas rejected, outline unchanged")
		return nil
	}

	round, err := e.Store.LatestRound(ctx, missionID)
	if err != nil {
		round = 1
	}
	round++

	m, err := e.Store.Load(ctx, missionID)
	if err != nil {
		return missionerr.Fatal("controller.reflect", err)
	}

	if err := e.Store.SnapshotOutline(ctx, mission.OutlineHistory{
		ID: ids.New(ids.OutlineRound), MissionID: missionID, Round: round,
		Action: mission.RevisedRoundAction(round), Timestamp: e.Now(),
		MissionGoal: m.RequestText, OutlineSnapshot: *outline,
	}); err != nil {
		return missionerr.Fatal("controller.reflect", err)
	}
	e.publish(missionID, eventbus.TopicPlan, *outline)
	return nil
}

// cloneOutline deep-copies an outline via its JSON encoding so a rejected
// delta set can be rolled back without aliasing the live section pointers.
func cloneOutline(o *mission.Outline) (*mission.Outline, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	var out mission.Outline
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// dropSection removes the section with the given ID from wherever it sits
// in the tree (top level or nested), along with any dangling
// DependsOnSteps references to it -- ValidateOutline would otherwise reject
// the drop as "depends on unknown section".
func dropSection(o *mission.Outline, sectionID string) {
	o.Sections = removeSection(o.Sections, sectionID)
	o.Walk(func(s *mission.Section) {
		s.Subsections = removeSection(s.Subsections, sectionID)
		s.DependsOnSteps = removeString(s.DependsOnSteps, sectionID)
	})
}

func removeSection(secs []*mission.Section, sectionID string) []*mission.Section {
	out := secs[:0:0]
	for _, s := range secs {
		if s.SectionID != sectionID {
			out = append(out, s)
		}
	}
	return out
}

func removeString(ss []string, v string) []string {
	out := ss[:0:0]
	for _, s := range ss {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}

// retrieveAdapter bridges agents.Retrieve to the shared Retriever, choosing
// channel sizes and enablement from settings.
func (e *Engine) retrieveAdapter(missionID string, settings config.MissionSettings) agents.Retrieve {
	return func(ctx context.Context, query string) ([]mission.Evidence, error) {
		if e.Retriever == nil {
			return nil, missionerr.NoEvidence("controller.retrieve", errNoRetriever)
		}
		return e.Retriever.Retrieve(ctx, retrieveRequest(missionID, settings, query))
	}
}

// write runs the configured number of writing passes over the outline in
// dependency-topological order, persisting only the final pass as current
// (spec §4.4.4).
func (e *Engine) write(ctx context.Context, missionID string, settings config.MissionSettings, outline *mission.Outline) error {
	if settings.WritingPasses <= 0 {
		return nil // spec §8 boundary: writing_passes=0 produces no report version
	}

	ordered, err := mission.TopoSort(outline)
	if err != nil {
		return missionerr.Fatal("controller.write", err)
	}

	deps := e.deps(missionID, settings)
	var previous map[string]string // sectionID -> previous pass content

	var finalOutputs []agents.WriterOutput
	for pass := 1; pass <= settings.WritingPasses; pass++ {
		if ctx.Err() != nil {
			return missionerr.Cancelled("controller.write", ctx.Err())
		}
		outputs := make([]agents.WriterOutput, 0, len(ordered))
		next := make(map[string]string, len(ordered))

		for _, section := range ordered {
			notes, err := e.sectionNotes(ctx, missionID, section.SectionID)
			if err != nil {
				return err
			}
			var prevContent string
			if previous != nil {
				prevContent = previous[section.SectionID]
			}
			out, err := agents.RunWriter(ctx, deps, agents.WriterInput{
				Section: section, Notes: notes, PreviousContent: prevContent,
				PreviousPassPreview: settings.WritingPreviousContentPreviewChars,
				MaxContextChars:     settings.WritingAgentMaxContextChars,
			})
			if err != nil {
				return err
			}
			outputs = append(outputs, out)
			next[section.SectionID] = out.Markdown
		}
		previous = next
		finalOutputs = outputs
	}

	content := agents.AssembleReport(finalOutputs)
	existing, err := e.Store.ListReportVersions(ctx, missionID)
	if err != nil {
		return missionerr.Fatal("controller.write", err)
	}
	version := len(existing) + 1

	return e.Store.SaveReportVersion(ctx, mission.ReportVersion{
		ID: ids.New(ids.ReportVersion), MissionID: missionID, Version: version,
		Content: content, IsCurrent: true, CreatedAt: e.Now(),
	})
}

func (e *Engine) sectionNotes(ctx context.Context, missionID, sectionID string) ([]mission.Note, error) {
	all, err := e.Store.GetNotes(ctx, missionID, 0, 0)
	if err != nil {
		return nil, err
	}
	var out []mission.Note
	for _, n := range all {
		if n.SectionID == sectionID {
			out = append(out, n)
		}
	}
	return out, nil
}

// retrieveRequest translates a mission's frozen settings into one
// retrieve.Request for a single researcher-proposed query (spec §4.1/§6).
func retrieveRequest(missionID string, settings config.MissionSettings, query string) retrieve.Request {
	return retrieve.Request{
		Query:       query,
		KDoc:        settings.MainResearchDocResults,
		KWeb:        settings.MainResearchWebResults,
		Filter:      vectorindex.Filter{DocumentGroupID: settings.DocumentGroupID},
		EnableWeb:   settings.UseWebSearch,
		EnableRAG:   settings.UseLocalRAG,
		WebFetchCap: settings.MainResearchWebResults,
		MissionID:   missionID,
	}
}

var (
	errBudgetExhausted = missionBudgetErr{}
	errNoRetriever     = missionNoRetrieverErr{}
)

type missionBudgetErr struct{}

func (missionBudgetErr) Error() string { return "controller: max_total_iterations exceeded" }

type missionNoRetrieverErr struct{}

func (missionNoRetrieverErr) Error() string { return "controller: no retriever configured" }
