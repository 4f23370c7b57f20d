package enrich

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jusbridge/casesync/internal/config"
	"github.com/jusbridge/casesync/internal/model"
	"github.com/jusbridge/casesync/internal/store"
)

func testJuditConfig() config.JuditConfig {
	return config.JuditConfig{
		CallbackURL:     "https://example.com/webhooks/judit",
		CacheTTLDays:    3,
		WithAttachments: true,
	}
}

func newTestInitiator(t *testing.T, client *fakeJudit) (*Initiator, store.Store) {
	t.Helper()
	st := newTestStore(t)
	return NewInitiator(st, client, NewBookkeeper(st), testJuditConfig()), st
}

func TestInitiate(t *testing.T) {
	ctx := context.Background()

	t.Run("submits and persists the request", func(t *testing.T) {
		client := &fakeJudit{}
		in, st := newTestInitiator(t, client)

		c, err := st.CreateCase(ctx, model.Case{CNJ: "0000001-23.2024.1.02.0000"})
		require.NoError(t, err)

		result := in.Initiate(ctx, InitiationInput{
			CNJ:     "00000012320241020000",
			CaseID:  c.ID,
			Purpose: model.PurposeOnboarding,
		})
		require.True(t, result.Success, result.Error)
		assert.Equal(t, "req-fake", result.RequestID)
		assert.Equal(t, "0000001-23.2024.1.02.0000", result.CNJ)
		assert.Equal(t, c.ID, result.CaseID)

		// Submit body carries the contract: on-demand, attachments, callback,
		// cache hint.
		require.Len(t, client.submits, 1)
		sub := client.submits[0]
		assert.True(t, sub.Search.OnDemand)
		assert.True(t, sub.WithAttachments)
		assert.Equal(t, "0000001-23.2024.1.02.0000", sub.Search.SearchKey)
		assert.Equal(t, "https://example.com/webhooks/judit", sub.CallbackURL)
		assert.Equal(t, 3, sub.CacheTTLDays)

		req, err := st.GetRequestByExternalID(ctx, "req-fake")
		require.NoError(t, err)
		assert.Equal(t, c.ID, req.CaseID)
		assert.Equal(t, model.PurposeOnboarding, req.Purpose)
		assert.Equal(t, model.RequestStatusPending, req.Status)

		// The case is linked to the process record.
		got, err := st.GetCase(ctx, c.ID)
		require.NoError(t, err)
		assert.NotEmpty(t, got.ProcessID)
	})

	t.Run("invalid process number fails fast", func(t *testing.T) {
		client := &fakeJudit{}
		in, _ := newTestInitiator(t, client)

		result := in.Initiate(ctx, InitiationInput{CNJ: "not-a-cnj", Purpose: model.PurposeOnboarding})
		assert.False(t, result.Success)
		assert.NotEmpty(t, result.Error)
		assert.Empty(t, client.submits)
	})

	t.Run("single fallback match is used", func(t *testing.T) {
		client := &fakeJudit{}
		in, st := newTestInitiator(t, client)

		c, err := st.CreateCase(ctx, model.Case{CNJ: "0000001-23.2024.1.02.0000"})
		require.NoError(t, err)

		result := in.Initiate(ctx, InitiationInput{CNJ: "0000001-23.2024.1.02.0000", Purpose: model.PurposeOnboarding})
		require.True(t, result.Success, result.Error)
		assert.Equal(t, c.ID, result.CaseID)
	})

	t.Run("ambiguous fallback refuses", func(t *testing.T) {
		client := &fakeJudit{}
		in, st := newTestInitiator(t, client)

		_, err := st.CreateCase(ctx, model.Case{CNJ: "0000001-23.2024.1.02.0000"})
		require.NoError(t, err)
		_, err = st.CreateCase(ctx, model.Case{CNJ: "0000001-23.2024.1.02.0000"})
		require.NoError(t, err)

		result := in.Initiate(ctx, InitiationInput{CNJ: "0000001-23.2024.1.02.0000", Purpose: model.PurposeOnboarding})
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "ambiguous")
		assert.Empty(t, client.submits)
	})

	t.Run("no match proceeds unlinked", func(t *testing.T) {
		client := &fakeJudit{}
		in, st := newTestInitiator(t, client)

		result := in.Initiate(ctx, InitiationInput{CNJ: "0000001-23.2024.1.02.0000", Purpose: model.PurposeAttachmentSearch})
		require.True(t, result.Success, result.Error)
		assert.Empty(t, result.CaseID)

		req, err := st.GetRequestByExternalID(ctx, "req-fake")
		require.NoError(t, err)
		assert.Empty(t, req.CaseID)
	})

	t.Run("submit failure is recorded against the case", func(t *testing.T) {
		client := &fakeJudit{submitErr: eris.New("judit: status 500")}
		in, st := newTestInitiator(t, client)

		c, err := st.CreateCase(ctx, model.Case{CNJ: "0000001-23.2024.1.02.0000"})
		require.NoError(t, err)

		result := in.Initiate(ctx, InitiationInput{
			CNJ: "0000001-23.2024.1.02.0000", CaseID: c.ID, Purpose: model.PurposeOnboarding,
		})
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "500")
		assert.GreaterOrEqual(t, result.DurationMS, int64(0))

		got, err := st.GetCase(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, model.CaseStatusNeedsAttention, got.Status)

		errs, err := st.ListCaseErrors(ctx, c.ID)
		require.NoError(t, err)
		require.Len(t, errs, 1)
		assert.Equal(t, model.StageEnrichment, errs[0].Stage)
	})

	t.Run("attempt leaves failure bookkeeping to the caller", func(t *testing.T) {
		client := &fakeJudit{submitErr: eris.New("judit: status 503")}
		in, st := newTestInitiator(t, client)

		c, err := st.CreateCase(ctx, model.Case{CNJ: "0000001-23.2024.1.02.0000"})
		require.NoError(t, err)

		result := in.Attempt(ctx, InitiationInput{
			CNJ: "0000001-23.2024.1.02.0000", CaseID: c.ID, Purpose: model.PurposeOnboarding,
		})
		assert.False(t, result.Success)
		assert.Equal(t, c.ID, result.CaseID)

		// No error appended, no budget consumed, status untouched.
		errs, err := st.ListCaseErrors(ctx, c.ID)
		require.NoError(t, err)
		assert.Empty(t, errs)

		got, err := st.GetCase(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, model.CaseStatusPending, got.Status)
	})
}
