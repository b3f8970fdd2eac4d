package missioncontext

import (
	"context"

	"github.com/maestro-research/maestro/internal/mission"
	"github.com/maestro-research/maestro/internal/telemetry"
)

// Sink adapts a Store into a telemetry.StatsSink, converting
// telemetry.Stats into the domain-level mission.Stats the gateway persists.
// Kept as a thin adapter rather than unifying the two Stats types so
// internal/persistence never needs to import internal/telemetry.
type Sink struct {
	store *Store
}

// NewSink wraps store as a telemetry.StatsSink.
func NewSink(store *Store) *Sink {
	return &Sink{store: store}
}

var _ telemetry.StatsSink = (*Sink)(nil)

func (s *Sink) AddStats(ctx context.Context, missionID string, delta telemetry.Stats) error {
	return s.store.AddStats(ctx, missionID, mission.Stats{
		PromptTokens:     delta.PromptTokens,
		CompletionTokens: delta.CompletionTokens,
		NativeTokens:     delta.NativeTokens,
		CostUSD:          delta.CostUSD,
		WebSearches:      delta.WebSearches,
	})
}
