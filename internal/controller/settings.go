package controller

import (
	"encoding/json"
	"fmt"

	"github.com/maestro-research/maestro/internal/config"
)

// pendingOverrides recovers the overrides map CreateMission may have
// stashed in a still-pending mission's SettingsSnapshot slot. Once Start
// freezes the snapshot into a concrete config.MissionSettings this returns
// nil, since a frozen snapshot round-trips as that struct (or, through
// Postgres, a map carrying its field names rather than settings_overrides
// keys) -- pendingOverrides is only ever consulted before that freeze.
func pendingOverrides(snapshot any) map[string]any {
	if v, ok := snapshot.(map[string]any); ok {
		return v
	}
	return nil
}

// mergeOverrides layers override on top of base, with override's keys
// winning on conflict. Either argument may be nil.
func mergeOverrides(base, override map[string]any) map[string]any {
	if len(base) == 0 {
		return override
	}
	if len(override) == 0 {
		return base
	}
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// coerceSettings recovers a concrete config.MissionSettings from a Mission's
// SettingsSnapshot field. The in-memory persistence fake round-trips the
// struct value as-is, but the Postgres gateway stores it as a JSONB column
// and GetMission unmarshals it back into a bare map[string]any -- so this
// re-marshals through JSON whenever the fast path doesn't already match.
func coerceSettings(snapshot any) (config.MissionSettings, error) {
	switch v := snapshot.(type) {
	case nil:
		return config.MissionSettings{}, nil
	case config.MissionSettings:
		return v, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return config.MissionSettings{}, fmt.Errorf("controller: re-marshaling settings snapshot: %w", err)
		}
		var out config.MissionSettings
		if err := json.Unmarshal(data, &out); err != nil {
			return config.MissionSettings{}, fmt.Errorf("controller: decoding settings snapshot: %w", err)
		}
		return out, nil
	}
}
