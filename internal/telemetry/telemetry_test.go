package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	deltas []Stats
}

func (f *fakeSink) AddStats(ctx context.Context, missionID string, delta Stats) error {
	f.deltas = append(f.deltas, delta)
	return nil
}

func TestStatsAddIsMonotonic(t *testing.T) {
	s := Stats{}
	s = s.Add(Stats{PromptTokens: 10, CompletionTokens: 5, CostUSD: 0.01})
	s = s.Add(Stats{PromptTokens: 3, WebSearches: 1})

	assert.Equal(t, int64(13), s.PromptTokens)
	assert.Equal(t, int64(5), s.CompletionTokens)
	assert.Equal(t, int64(1), s.WebSearches)
	assert.InDelta(t, 0.01, s.CostUSD, 1e-9)
}

func TestInterceptorRecordUpdatesSinkAndSnapshot(t *testing.T) {
	instruments, err := NewInstruments()
	require.NoError(t, err)

	sink := &fakeSink{}
	ic := NewInterceptor(instruments, sink)

	ic.Record(context.Background(), CallRecord{
		MissionID:        "mis_1",
		Agent:            "researcher",
		Phase:            "research",
		Provider:         "anthropic",
		Model:            "claude-3-7-sonnet-latest",
		PromptTokens:     100,
		CompletionTokens: 40,
		NativeTokens:     140,
		CostUSD:          0.02,
		WebSearch:        true,
	})

	require.Len(t, sink.deltas, 1)
	assert.Equal(t, int64(100), sink.deltas[0].PromptTokens)
	assert.Equal(t, int64(1), sink.deltas[0].WebSearches)

	snap := ic.Snapshot("mis_1")
	assert.Equal(t, int64(100), snap.PromptTokens)
	assert.Equal(t, int64(40), snap.CompletionTokens)
	assert.InDelta(t, 0.02, snap.CostUSD, 1e-9)
}

func TestInterceptorSnapshotAccumulatesAcrossCalls(t *testing.T) {
	instruments, err := NewInstruments()
	require.NoError(t, err)
	ic := NewInterceptor(instruments, nil)

	for i := 0; i < 3; i++ {
		ic.Record(context.Background(), CallRecord{
			MissionID:    "mis_2",
			PromptTokens: 10,
		})
	}

	assert.Equal(t, int64(30), ic.Snapshot("mis_2").PromptTokens)
}
