package enrich

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jusbridge/casesync/internal/model"
	"github.com/jusbridge/casesync/pkg/judit"
)

func TestMergeLawsuit(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	r := NewReconciler(st, nil)

	lawsuit := &judit.Lawsuit{
		Code: "0000001-23.2024.1.02.0000",
		Steps: []judit.Step{
			{StepDate: "2024-03-10", StepType: "hearing", Content: "audiência inicial"},
			{StepDate: "2024-03-15", Content: "juntada de documento"},
			{StepDate: "garbage", StepType: "x", Content: "skipped"},
		},
	}

	inserted, err := r.MergeLawsuit(ctx, "case-1", lawsuit)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	// Replay is a no-op.
	inserted, err = r.MergeLawsuit(ctx, "case-1", lawsuit)
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)

	entries, err := st.ListTimelineEntries(ctx, "case-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "hearing", entries[0].EventType)
	assert.Equal(t, defaultEventType, entries[1].EventType)
	assert.Equal(t, model.SourceOfficialProvider, entries[0].Source)
	assert.Equal(t, 1.0, entries[0].Confidence)
}

func TestBuildTimeline(t *testing.T) {
	ctx := context.Background()

	t.Run("documents become synthetic entries", func(t *testing.T) {
		st := newTestStore(t)
		r := NewReconciler(st, nil)

		c, err := st.CreateCase(ctx, model.Case{CNJ: "0000001-23.2024.1.02.0000"})
		require.NoError(t, err)

		docDate := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
		_, err = st.AddDocument(ctx, model.CaseDocument{CaseID: c.ID, Name: "petição.pdf", DocumentDate: &docDate})
		require.NoError(t, err)
		_, err = st.AddDocument(ctx, model.CaseDocument{CaseID: c.ID, Name: "contrato.pdf"})
		require.NoError(t, err)

		tl, err := r.BuildTimeline(ctx, c.ID)
		require.NoError(t, err)
		require.Len(t, tl.Entries, 2)

		first := tl.Entries[0]
		assert.Equal(t, model.SourceDocumentUpload, first.Source)
		assert.Equal(t, documentConfidence, first.Confidence)
		assert.Equal(t, docDate, first.EventDate.UTC())
		assert.Equal(t, "petição.pdf", first.Description)
		assert.Len(t, first.DocumentIDs, 1)
		// The undated document falls back to upload time, which is later.
		assert.True(t, !tl.Entries[1].EventDate.Before(first.EventDate))
	})

	t.Run("sorted ascending with stable ties", func(t *testing.T) {
		st := newTestStore(t)
		r := NewReconciler(st, nil)

		day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
		_, err := st.InsertTimelineEntries(ctx, []model.TimelineEntry{
			{CaseID: "case-1", EventDate: day.AddDate(0, 0, 5), EventType: "ruling", Source: model.SourceOfficialProvider, Confidence: 1},
			{CaseID: "case-1", EventDate: day, EventType: "hearing", Source: model.SourceOfficialProvider, Confidence: 1},
			{CaseID: "case-1", EventDate: day, EventType: "note", Source: model.SourceManualEntry, Confidence: 0.5},
		})
		require.NoError(t, err)

		tl, err := r.BuildTimeline(ctx, "case-1")
		require.NoError(t, err)
		require.Len(t, tl.Entries, 3)
		assert.Equal(t, "hearing", tl.Entries[0].EventType)
		assert.Equal(t, "note", tl.Entries[1].EventType)
		assert.Equal(t, "ruling", tl.Entries[2].EventType)
	})

	t.Run("dedupes same day and type across sources", func(t *testing.T) {
		st := newTestStore(t)
		r := NewReconciler(st, nil)

		day := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
		_, err := st.InsertTimelineEntries(ctx, []model.TimelineEntry{
			{CaseID: "case-1", EventDate: day, EventType: "hearing", Description: "audiência oficial", Source: model.SourceOfficialProvider, Confidence: 1},
			{CaseID: "case-1", EventDate: day.Add(time.Hour), EventType: "hearing", Description: "anotação manual", Source: model.SourceManualEntry, Confidence: 0.6},
		})
		require.NoError(t, err)

		tl, err := r.BuildTimeline(ctx, "case-1")
		require.NoError(t, err)
		require.Len(t, tl.Entries, 1)

		survivor := tl.Entries[0]
		assert.Equal(t, "audiência oficial", survivor.Description)
		assert.Equal(t, model.SourceOfficialProvider, survivor.Source)
		assert.Equal(t, []model.EventSource{model.SourceOfficialProvider, model.SourceManualEntry}, survivor.Contributing)
		assert.Equal(t, []string{"anotação manual"}, survivor.SourceSnippets)

		// Re-running yields an equivalent timeline.
		again, err := r.BuildTimeline(ctx, "case-1")
		require.NoError(t, err)
		assert.Equal(t, len(tl.Entries), len(again.Entries))
		assert.Equal(t, tl.Stats, again.Stats)
	})

	t.Run("presentation metadata", func(t *testing.T) {
		st := newTestStore(t)
		r := NewReconciler(st, nil)

		_, err := st.InsertTimelineEntries(ctx, []model.TimelineEntry{
			{CaseID: "case-1", EventDate: time.Now().UTC(), EventType: "hearing", Source: model.SourceOfficialProvider, Confidence: 1},
			{CaseID: "case-1", EventDate: time.Now().UTC(), EventType: "other", Source: model.EventSource("scraper"), Confidence: 0.2},
		})
		require.NoError(t, err)

		tl, err := r.BuildTimeline(ctx, "case-1")
		require.NoError(t, err)
		require.Len(t, tl.Entries, 2)
		assert.Equal(t, "gavel", tl.Entries[0].Meta.Icon)
		assert.Equal(t, "circle", tl.Entries[1].Meta.Icon)
	})

	t.Run("stats", func(t *testing.T) {
		st := newTestStore(t)
		r := NewReconciler(st, nil)

		early := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		late := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
		_, err := st.InsertTimelineEntries(ctx, []model.TimelineEntry{
			{CaseID: "case-1", EventDate: early, EventType: "filing", Source: model.SourceOfficialProvider, Confidence: 1},
			{CaseID: "case-1", EventDate: late, EventType: "ruling", Source: model.SourceOfficialProvider, Confidence: 1},
			{CaseID: "case-1", EventDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), EventType: "note", Source: model.SourceManualEntry, Confidence: 0.5},
		})
		require.NoError(t, err)

		tl, err := r.BuildTimeline(ctx, "case-1")
		require.NoError(t, err)
		assert.Equal(t, 3, tl.Stats.Total)
		assert.Equal(t, 2, tl.Stats.BySource[model.SourceOfficialProvider])
		assert.Equal(t, 1, tl.Stats.BySource[model.SourceManualEntry])
		assert.Equal(t, early, tl.Stats.Earliest.UTC())
		assert.Equal(t, late, tl.Stats.Latest.UTC())
		assert.Equal(t, 0.83, tl.Stats.MeanConfidence)
	})

	t.Run("empty case", func(t *testing.T) {
		st := newTestStore(t)
		r := NewReconciler(st, nil)

		tl, err := r.BuildTimeline(ctx, "case-empty")
		require.NoError(t, err)
		assert.Empty(t, tl.Entries)
		assert.Equal(t, 0, tl.Stats.Total)
		assert.Nil(t, tl.Stats.Earliest)
	})
}
