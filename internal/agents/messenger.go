package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/maestro-research/maestro/internal/config"
	"github.com/maestro-research/maestro/internal/missionerr"
)

// MessengerInput is a free-form chat turn, either pre-mission (no
// MissionID) or in-flight annotation on a running mission (spec §4.4.5).
type MessengerInput struct {
	MissionID   string // empty for the pre-mission "create a new mission" case
	UserMessage string
}

// MessengerOutput is the normalized request plus any settings overrides the
// user expressed in natural language (spec §4.4.5).
type MessengerOutput struct {
	NormalizedRequest string         `json:"normalized_request"`
	SettingsOverrides map[string]any `json:"settings_overrides"`
}

// RunMessenger converts free-form user chat into a normalized request and
// candidate settings overrides. In-flight messages (MissionID set) are the
// controller's responsibility to persist as a ThoughtEntry annotation —
// Messenger itself never mutates committed artefacts (spec §4.4.5).
func RunMessenger(ctx context.Context, deps Deps, in MessengerInput) (MessengerOutput, error) {
	system := "You normalize a user's research request into a single clear objective sentence " +
		"and extract any explicit settings overrides the user mentioned (e.g. 'don't use the " +
		"web', 'write three passes'). Respond with JSON {\"normalized_request\": \"...\", " +
		"\"settings_overrides\": {...}}. Use exactly the setting names from the mission " +
		"settings schema; omit settings_overrides entirely if none were mentioned."

	produce := func(ctx context.Context, repairNote string) (MessengerOutput, error) {
		user := in.UserMessage
		if repairNote != "" {
			user += "\n" + repairNote
		}
		text, _, err := complete(ctx, deps, config.RoleFast, "messenger", "messenger", system, user)
		if err != nil {
			return MessengerOutput{}, err
		}
		var out MessengerOutput
		if err := json.Unmarshal([]byte(extractJSON(text)), &out); err != nil {
			return MessengerOutput{}, missionerr.Validation("agents.messenger", fmt.Errorf("parsing messenger JSON: %w", err))
		}
		return out, nil
	}

	validate := func(out MessengerOutput) error {
		if out.NormalizedRequest == "" {
			return fmt.Errorf("normalized_request must not be empty")
		}
		return nil
	}

	return runWithRepair(ctx, "agents.messenger", produce, validate)
}
