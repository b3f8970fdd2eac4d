package missioncontext

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-research/maestro/internal/mission"
	"github.com/maestro-research/maestro/internal/persistence/memory"
	"github.com/maestro-research/maestro/internal/telemetry"
)

func newTestMission(t *testing.T, store *Store, id string) {
	t.Helper()
	err := store.Create(context.Background(), mission.Mission{
		ID:          id,
		UserID:      "u1",
		RequestText: "research the thing",
		Status:      mission.StatusPending,
		CreatedAt:   time.Unix(0, 0),
		UpdatedAt:   time.Unix(0, 0),
	})
	require.NoError(t, err)
}

func TestAppendNoteFlushesOnBatchFull(t *testing.T) {
	store := NewWithBatch(memory.New(), BatchConfig{MaxItems: 2, MaxDelay: time.Hour})
	newTestMission(t, store, "m1")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		err := store.AppendNote(ctx, mission.Note{
			NoteID: "n" + string(rune('0'+i)), MissionID: "m1", Content: "c",
			Source: mission.Source{Kind: mission.SourceWeb, ID: "s1"},
		})
		require.NoError(t, err)
	}

	notes, err := store.GetNotes(ctx, "m1", 0, 0)
	require.NoError(t, err)
	assert.Len(t, notes, 2)
}

func TestAppendNoteFlushesOnTimer(t *testing.T) {
	store := NewWithBatch(memory.New(), BatchConfig{MaxItems: 100, MaxDelay: 10 * time.Millisecond})
	newTestMission(t, store, "m1")
	ctx := context.Background()

	err := store.AppendNote(ctx, mission.Note{
		NoteID: "n0", MissionID: "m1", Content: "c",
		Source: mission.Source{Kind: mission.SourceWeb, ID: "s1"},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		notes, err := store.gw.GetNotes(ctx, "m1", 0, 0)
		return err == nil && len(notes) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestFlushIsIdempotentWhenEmpty(t *testing.T) {
	store := New(memory.New())
	newTestMission(t, store, "m1")
	require.NoError(t, store.Flush(context.Background(), "m1"))
}

func TestUnassignNotesForSectionsBlanksSectionIDWithoutDeleting(t *testing.T) {
	store := NewWithBatch(memory.New(), BatchConfig{MaxItems: 1, MaxDelay: time.Hour})
	newTestMission(t, store, "m1")
	ctx := context.Background()

	require.NoError(t, store.AppendNote(ctx, mission.Note{
		NoteID: "n0", MissionID: "m1", SectionID: "sec-1", Content: "c",
		Source: mission.Source{Kind: mission.SourceDoc, ID: "d1"},
	}))

	require.NoError(t, store.UnassignNotesForSections(ctx, "m1", []string{"sec-1"}))

	notes, err := store.GetNotes(ctx, "m1", 0, 0)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Empty(t, notes[0].SectionID)
}

func TestStatsSinkConvertsTelemetryStats(t *testing.T) {
	store := New(memory.New())
	newTestMission(t, store, "m1")
	sink := NewSink(store)

	err := sink.AddStats(context.Background(), "m1", telemetry.Stats{PromptTokens: 10, CostUSD: 0.5})
	require.NoError(t, err)

	got, err := store.Load(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.Stats.PromptTokens)
	assert.Equal(t, 0.5, got.Stats.CostUSD)
}
