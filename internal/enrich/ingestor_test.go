package enrich

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jusbridge/casesync/internal/model"
	"github.com/jusbridge/casesync/internal/store"
	"github.com/jusbridge/casesync/pkg/judit"
)

func newTestIngestor(t *testing.T, client *fakeJudit) (*Ingestor, store.Store) {
	t.Helper()
	st := newTestStore(t)
	reconciler := NewReconciler(st, nil)
	attachments := NewAttachmentProcessor(st, client, t.TempDir(), 5)
	return NewIngestor(st, reconciler, attachments, NewBookkeeper(st)), st
}

// seedRequest creates a case and its linked pending enrichment request.
func seedRequest(t *testing.T, st store.Store, externalID string) *model.Case {
	t.Helper()
	ctx := context.Background()

	c, err := st.CreateCase(ctx, model.Case{CNJ: "0000001-23.2024.1.02.0000"})
	require.NoError(t, err)
	_, err = st.CreateRequest(ctx, model.EnrichmentRequest{
		ExternalID: externalID,
		ProcessID:  "proc-1",
		CaseID:     c.ID,
		Purpose:    model.PurposeOnboarding,
	})
	require.NoError(t, err)
	return c
}

func responseCreated(t *testing.T, requestID string, lawsuit judit.Lawsuit, cached bool) judit.Callback {
	t.Helper()
	data, err := json.Marshal(lawsuit)
	require.NoError(t, err)
	return judit.Callback{
		EventType:   judit.EventResponseCreated,
		ReferenceID: requestID,
		Payload: judit.CallbackPayload{
			RequestID:    requestID,
			ResponseType: "lawsuit",
			ResponseData: data,
			Tags:         judit.CallbackTags{CachedResponse: cached},
		},
	}
}

func sampleLawsuit() judit.Lawsuit {
	return judit.Lawsuit{
		Code: "0000001-23.2024.1.02.0000",
		Classifications: []judit.Classification{
			{Name: "Reclamação Trabalhista"},
		},
		Steps: []judit.Step{
			{StepDate: "2024-03-10", StepType: "hearing", Content: "audiência inicial"},
			{StepDate: "2024-03-15", StepType: "ruling", Content: "sentença publicada"},
		},
		Attachments: []judit.Attachment{
			{Code: "att-001", Name: "sentença.pdf"},
		},
	}
}

func TestHandleResponseCreated(t *testing.T) {
	ctx := context.Background()

	t.Run("final response activates the case", func(t *testing.T) {
		client := &fakeJudit{}
		ing, st := newTestIngestor(t, client)
		c := seedRequest(t, st, "R1")

		result := ing.Handle(ctx, responseCreated(t, "R1", sampleLawsuit(), false))
		assert.Equal(t, http.StatusOK, result.Status)
		assert.True(t, result.Success)
		assert.False(t, result.Cached)
		assert.Equal(t, "0000001-23.2024.1.02.0000", result.CNJ)

		got, err := st.GetCase(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, model.CaseStatusActive, got.Status)
		assert.Equal(t, "labor", got.Type)
		assert.NotNil(t, got.EnrichedAt)

		req, err := st.GetRequestByExternalID(ctx, "R1")
		require.NoError(t, err)
		assert.Equal(t, model.RequestStatusCompleted, req.Status)

		entries, err := st.ListTimelineEntries(ctx, c.ID)
		require.NoError(t, err)
		assert.Len(t, entries, 2)

		atts, err := st.ListAttachments(ctx, c.ID)
		require.NoError(t, err)
		require.Len(t, atts, 1)
		assert.Equal(t, model.AttachmentStored, atts[0].Status)

		processed, err := st.ProcessedRequests(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"R1"}, processed)
	})

	t.Run("redelivery is a duplicate with zero mutations", func(t *testing.T) {
		client := &fakeJudit{}
		ing, st := newTestIngestor(t, client)
		c := seedRequest(t, st, "R1")

		cb := responseCreated(t, "R1", sampleLawsuit(), false)
		first := ing.Handle(ctx, cb)
		require.True(t, first.Success)

		entriesBefore, err := st.ListTimelineEntries(ctx, c.ID)
		require.NoError(t, err)
		attsBefore, err := st.ListAttachments(ctx, c.ID)
		require.NoError(t, err)

		second := ing.Handle(ctx, cb)
		assert.Equal(t, http.StatusOK, second.Status)
		assert.True(t, second.Success)
		assert.True(t, second.Duplicate)

		entriesAfter, err := st.ListTimelineEntries(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, len(entriesBefore), len(entriesAfter))
		attsAfter, err := st.ListAttachments(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, len(attsBefore), len(attsAfter))

		got, err := st.GetCase(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, model.CaseStatusActive, got.Status)
	})

	t.Run("cached response merges but never flips status", func(t *testing.T) {
		client := &fakeJudit{}
		ing, st := newTestIngestor(t, client)
		c := seedRequest(t, st, "R1")

		result := ing.Handle(ctx, responseCreated(t, "R1", sampleLawsuit(), true))
		assert.Equal(t, http.StatusOK, result.Status)
		assert.True(t, result.Success)
		assert.True(t, result.Cached)

		got, err := st.GetCase(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, model.CaseStatusPending, got.Status)
		assert.Empty(t, got.Type)
		assert.Nil(t, got.EnrichedAt)

		entries, err := st.ListTimelineEntries(ctx, c.ID)
		require.NoError(t, err)
		assert.Len(t, entries, 2)

		// The cached pass does not consume the request's claim: the final
		// response still processes and activates.
		final := ing.Handle(ctx, responseCreated(t, "R1", sampleLawsuit(), false))
		assert.True(t, final.Success)
		assert.False(t, final.Duplicate)

		got, err = st.GetCase(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, model.CaseStatusActive, got.Status)
	})

	t.Run("final wins while a cached delivery is still processing", func(t *testing.T) {
		client := &fakeJudit{}
		ing, st := newTestIngestor(t, client)
		c := seedRequest(t, st, "R1")

		// A cached delivery in flight holds the interim claim.
		held, err := st.ClaimRequest(ctx, c.ID, "R1", true)
		require.NoError(t, err)
		require.True(t, held)

		// The final delivery must still process, not be acknowledged as a
		// duplicate the provider will never redeliver.
		final := ing.Handle(ctx, responseCreated(t, "R1", sampleLawsuit(), false))
		assert.Equal(t, http.StatusOK, final.Status)
		assert.True(t, final.Success)
		assert.False(t, final.Duplicate)

		got, err := st.GetCase(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, model.CaseStatusActive, got.Status)

		processed, err := st.ProcessedRequests(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"R1"}, processed)
	})

	t.Run("failed cached pass cannot release a final claim", func(t *testing.T) {
		client := &fakeJudit{}
		ing, st := newTestIngestor(t, client)
		c := seedRequest(t, st, "R1")

		final := ing.Handle(ctx, responseCreated(t, "R1", sampleLawsuit(), false))
		require.True(t, final.Success)

		// A straggling cached delivery whose processing fails releases only
		// its own interim mode; the consumed final claim stays consumed.
		require.NoError(t, st.ReleaseClaim(ctx, c.ID, "R1", true))

		redelivery := ing.Handle(ctx, responseCreated(t, "R1", sampleLawsuit(), false))
		assert.True(t, redelivery.Success)
		assert.True(t, redelivery.Duplicate)
	})

	t.Run("unknown request id is 404", func(t *testing.T) {
		ing, _ := newTestIngestor(t, &fakeJudit{})

		result := ing.Handle(ctx, responseCreated(t, "R-unknown", sampleLawsuit(), false))
		assert.Equal(t, http.StatusNotFound, result.Status)
		assert.False(t, result.Success)
	})

	t.Run("request without case link is 404", func(t *testing.T) {
		ing, st := newTestIngestor(t, &fakeJudit{})
		_, err := st.CreateRequest(ctx, model.EnrichmentRequest{
			ExternalID: "R-orphan", ProcessID: "proc-1", Purpose: model.PurposeOnboarding,
		})
		require.NoError(t, err)

		result := ing.Handle(ctx, responseCreated(t, "R-orphan", sampleLawsuit(), false))
		assert.Equal(t, http.StatusNotFound, result.Status)
	})

	t.Run("malformed response_data is 400", func(t *testing.T) {
		ing, st := newTestIngestor(t, &fakeJudit{})
		seedRequest(t, st, "R1")

		cb := judit.Callback{
			EventType: judit.EventResponseCreated,
			Payload: judit.CallbackPayload{
				RequestID:    "R1",
				ResponseData: json.RawMessage(`{"no_code": true}`),
			},
		}
		result := ing.Handle(ctx, cb)
		assert.Equal(t, http.StatusBadRequest, result.Status)

		cb.Payload.ResponseData = nil
		result = ing.Handle(ctx, cb)
		assert.Equal(t, http.StatusBadRequest, result.Status)
	})

	t.Run("attachment failures do not fail the callback", func(t *testing.T) {
		client := &fakeJudit{failCodes: map[string]bool{"att-001": true}}
		ing, st := newTestIngestor(t, client)
		c := seedRequest(t, st, "R1")

		result := ing.Handle(ctx, responseCreated(t, "R1", sampleLawsuit(), false))
		assert.True(t, result.Success)

		got, err := st.GetCase(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, model.CaseStatusActive, got.Status)

		atts, err := st.ListAttachments(ctx, c.ID)
		require.NoError(t, err)
		require.Len(t, atts, 1)
		assert.Equal(t, model.AttachmentFailed, atts[0].Status)
	})
}

func TestHandleRequestCompleted(t *testing.T) {
	ctx := context.Background()
	ing, st := newTestIngestor(t, &fakeJudit{})
	seedRequest(t, st, "R1")

	cb := judit.Callback{
		EventType: judit.EventRequestCompleted,
		Payload:   judit.CallbackPayload{RequestID: "R1"},
	}
	result := ing.Handle(ctx, cb)
	assert.Equal(t, http.StatusOK, result.Status)
	assert.True(t, result.Success)

	req, err := st.GetRequestByExternalID(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusCompleted, req.Status)

	// Repeated completion marks are harmless.
	result = ing.Handle(ctx, cb)
	assert.True(t, result.Success)
}

func TestHandleApplicationError(t *testing.T) {
	ctx := context.Background()
	ing, st := newTestIngestor(t, &fakeJudit{})
	seedRequest(t, st, "R1")

	cb := judit.Callback{
		EventType: judit.EventApplicationError,
		Payload: judit.CallbackPayload{
			RequestID:    "R1",
			ResponseData: json.RawMessage(`{"code": 600, "message": "not found"}`),
		},
	}
	result := ing.Handle(ctx, cb)
	assert.Equal(t, http.StatusUnprocessableEntity, result.Status)
	assert.False(t, result.Success)
	assert.Equal(t, "600", result.ErrorCode)
	assert.Equal(t, "not found", result.Error)
	assert.Equal(t, "R1", result.RequestID)

	req, err := st.GetRequestByExternalID(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusFailed, req.Status)
	assert.Equal(t, "600", req.ErrorCode)
	assert.Equal(t, "not found", req.ErrorMessage)
}

func TestHandleUnknownEvent(t *testing.T) {
	ing, _ := newTestIngestor(t, &fakeJudit{})

	result := ing.Handle(context.Background(), judit.Callback{
		EventType: "provider_heartbeat",
		Payload:   judit.CallbackPayload{RequestID: "R1"},
	})
	assert.Equal(t, http.StatusOK, result.Status)
	assert.True(t, result.Success)
}
