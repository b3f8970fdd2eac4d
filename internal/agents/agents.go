// Package agents implements the five mission agents as pure functions over
// an injected capability set plus typed input/artefact pairs (spec §4.4,
// §9: "agents as tagged variants, not subclasses... polymorphism is over
// the capability set {prompt, tools, artefact_validator}, expressed as a
// record of functions"). Grounded on the teacher's AgentEngine.RunSession
// step loop (agents.go) for the prompt-build → call-LLM → parse →
// validate-or-repair shape, generalized from one ReAct loop into five
// narrower agent contracts.
package agents

import (
	"context"
	"fmt"

	"github.com/maestro-research/maestro/internal/capability"
	"github.com/maestro-research/maestro/internal/config"
	"github.com/maestro-research/maestro/internal/mission"
	"github.com/maestro-research/maestro/internal/missionerr"
	"github.com/maestro-research/maestro/internal/telemetry"
)

// maxRepairAttempts bounds how many times a malformed artefact is retried
// with a repair prompt before the agent's step is skipped (spec §4.4:
// "a malformed artefact triggers up to 2 retries with a repair prompt, then
// an agent failure").
const maxRepairAttempts = 2

// Deps is the capability set every agent is invoked with; agents never
// select a concrete provider themselves (spec §9: "capability clients are
// injected per mission").
type Deps struct {
	LLM       capability.LLMClient
	Settings  config.MissionSettings
	Telemetry *telemetry.Interceptor // optional; nil disables cost/token recording (e.g. in unit tests)
	MissionID string
}

// runWithRepair calls produce, and on a validation failure re-invokes
// produce up to maxRepairAttempts additional times with the validator's
// complaint appended to the prompt via repairNote, matching the teacher's
// retry-on-malformed-output shape generalized to the spec's fixed repair
// budget.
func runWithRepair[T any](ctx context.Context, component string, produce func(ctx context.Context, repairNote string) (T, error), validate func(T) error) (T, error) {
	var zero T
	var lastErr error
	repairNote := ""

	for attempt := 0; attempt <= maxRepairAttempts; attempt++ {
		out, err := produce(ctx, repairNote)
		if err != nil {
			lastErr = err
			kind := missionerr.Classify(err)
			if kind == missionerr.KindFatal || kind == missionerr.KindCancelled {
				return zero, err
			}
			repairNote = fmt.Sprintf("Your previous output was invalid: %s. Correct it and respond again with the same schema.", err)
			continue
		}
		if verr := validate(out); verr != nil {
			lastErr = verr
			repairNote = fmt.Sprintf("Your previous output was invalid: %s. Correct it and respond again with the same schema.", verr)
			continue
		}
		return out, nil
	}
	return zero, missionerr.Validation(component, fmt.Errorf("exceeded %d repair attempts: %w", maxRepairAttempts, lastErr))
}

// complete issues one role-addressed completion and, when deps.Telemetry is
// set, routes the resulting token usage and cost through the interceptor
// (spec §4.6: "every LLM call routes through an interceptor"). agentName and
// phase tag the recorded CallRecord for per-agent/per-phase breakdown.
func complete(ctx context.Context, deps Deps, role config.ModelRole, agentName, phase, system, user string) (string, capability.Usage, error) {
	resp, err := deps.LLM.Complete(ctx, capability.CompletionRequest{
		Role: role,
		Messages: []capability.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", capability.Usage{}, missionerr.Transient("agents.llm", err)
	}
	if deps.Telemetry != nil {
		deps.Telemetry.Record(ctx, telemetry.CallRecord{
			MissionID:        deps.MissionID,
			Agent:            agentName,
			Phase:            phase,
			Provider:         providerForRole(deps.Settings, role),
			Model:            resp.Model,
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			NativeTokens:     resp.Usage.NativeTokens,
			CostUSD:          resp.Usage.CostUSD,
		})
	}
	return resp.Message.Content, resp.Usage, nil
}

// providerForRole looks up which provider the frozen settings snapshot bound
// to role, for tagging telemetry records.
func providerForRole(settings config.MissionSettings, role config.ModelRole) string {
	switch role {
	case config.RoleFast:
		return settings.Models.Fast.Provider
	case config.RoleMid:
		return settings.Models.Mid.Provider
	case config.RoleIntelligent:
		return settings.Models.Intelligent.Provider
	case config.RoleVerifier:
		return settings.Models.Verifier.Provider
	default:
		return ""
	}
}

// citationKey builds the Writer's stable citation key for a note
// (spec §4.4.4: "stable citation keys of the form [n_{note_id_short}]").
func citationKey(noteID string) string {
	short := noteID
	if len(short) > 8 {
		short = short[len(short)-8:]
	}
	return "[n_" + short + "]"
}

// sourceKind/provenance helper shared by Researcher note-making.
func evidenceSource(e mission.Evidence) mission.Source {
	return mission.Source{
		Kind:    e.Provenance.Kind,
		ID:      e.SourceID,
		Title:   e.Provenance.Title,
		URL:     e.Provenance.URL,
		ChunkID: e.Provenance.ChunkID,
	}
}
