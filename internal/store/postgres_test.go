package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jusbridge/casesync/internal/model"
)

func newMockPostgres(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresFromPool(mock), mock
}

func TestPostgresClaimRequest(t *testing.T) {
	ctx := context.Background()

	t.Run("first claim wins", func(t *testing.T) {
		s, mock := newMockPostgres(t)

		mock.ExpectExec("INSERT INTO processed_requests").
			WithArgs("case-1", "req-1", false, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		ok, err := s.ClaimRequest(ctx, "case-1", "req-1", false)
		require.NoError(t, err)
		assert.True(t, ok)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("interim conflict loses without an upgrade", func(t *testing.T) {
		s, mock := newMockPostgres(t)

		mock.ExpectExec("INSERT INTO processed_requests").
			WithArgs("case-1", "req-1", true, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 0))

		ok, err := s.ClaimRequest(ctx, "case-1", "req-1", true)
		require.NoError(t, err)
		assert.False(t, ok)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("final conflict upgrades an interim claim", func(t *testing.T) {
		s, mock := newMockPostgres(t)

		mock.ExpectExec("INSERT INTO processed_requests").
			WithArgs("case-1", "req-1", false, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 0))
		mock.ExpectExec("UPDATE processed_requests SET interim = FALSE").
			WithArgs(pgxmock.AnyArg(), "case-1", "req-1").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		ok, err := s.ClaimRequest(ctx, "case-1", "req-1", false)
		require.NoError(t, err)
		assert.True(t, ok)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("final conflict against a final claim loses", func(t *testing.T) {
		s, mock := newMockPostgres(t)

		mock.ExpectExec("INSERT INTO processed_requests").
			WithArgs("case-1", "req-1", false, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 0))
		mock.ExpectExec("UPDATE processed_requests SET interim = FALSE").
			WithArgs(pgxmock.AnyArg(), "case-1", "req-1").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		ok, err := s.ClaimRequest(ctx, "case-1", "req-1", false)
		require.NoError(t, err)
		assert.False(t, ok)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresReleaseClaim(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockPostgres(t)

	mock.ExpectExec("DELETE FROM processed_requests").
		WithArgs("case-1", "req-1", true).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, s.ReleaseClaim(ctx, "case-1", "req-1", true))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresIncrementRetry(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockPostgres(t)

	now := time.Now().UTC()
	mock.ExpectQuery("INSERT INTO case_retry_state").
		WithArgs("case-1", true, pgxmock.AnyArg(), model.MaxEnrichmentAttempts).
		WillReturnRows(pgxmock.NewRows([]string{"case_id", "attempts", "allowed", "updated_at"}).
			AddRow("case-1", 3, false, now))

	st, err := s.IncrementRetry(ctx, "case-1", model.MaxEnrichmentAttempts)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Attempts)
	assert.False(t, st.Allowed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetRetryStateDefault(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockPostgres(t)

	mock.ExpectQuery("SELECT case_id, attempts, allowed, updated_at FROM case_retry_state").
		WithArgs("case-1").
		WillReturnError(pgx.ErrNoRows)

	st, err := s.GetRetryState(ctx, "case-1")
	require.NoError(t, err)
	assert.Equal(t, 0, st.Attempts)
	assert.True(t, st.Allowed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresClaimNextJob(t *testing.T) {
	ctx := context.Background()

	t.Run("claims a due job", func(t *testing.T) {
		s, mock := newMockPostgres(t)

		now := time.Now().UTC()
		mock.ExpectQuery("UPDATE jobs SET status").
			WithArgs(string(model.JobStatusActive), pgxmock.AnyArg(),
				string(model.JobStatusWaiting), string(model.JobStatusDelayed), pgxmock.AnyArg()).
			WillReturnRows(pgxmock.NewRows([]string{
				"id", "kind", "payload", "status", "attempts", "run_at", "last_error", "created_at", "updated_at",
			}).AddRow("job-1", model.JobKindInitiate, []byte(`{}`), "active", 1, now, "", now, now))

		j, err := s.ClaimNextJob(ctx)
		require.NoError(t, err)
		require.NotNil(t, j)
		assert.Equal(t, "job-1", j.ID)
		assert.Equal(t, model.JobStatusActive, j.Status)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty queue returns nil", func(t *testing.T) {
		s, mock := newMockPostgres(t)

		mock.ExpectQuery("UPDATE jobs SET status").
			WithArgs(string(model.JobStatusActive), pgxmock.AnyArg(),
				string(model.JobStatusWaiting), string(model.JobStatusDelayed), pgxmock.AnyArg()).
			WillReturnError(pgx.ErrNoRows)

		j, err := s.ClaimNextJob(ctx)
		require.NoError(t, err)
		assert.Nil(t, j)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresFailJob(t *testing.T) {
	ctx := context.Background()

	t.Run("reschedules when retryAt set", func(t *testing.T) {
		s, mock := newMockPostgres(t)

		retryAt := time.Now().Add(time.Minute).UTC()
		mock.ExpectExec("UPDATE jobs SET status").
			WithArgs(string(model.JobStatusDelayed), "timeout", pgxmock.AnyArg(), retryAt, "job-1").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, s.FailJob(ctx, "job-1", "timeout", &retryAt))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("terminal failure", func(t *testing.T) {
		s, mock := newMockPostgres(t)

		mock.ExpectExec("UPDATE jobs SET status").
			WithArgs(string(model.JobStatusFailed), "provider down", pgxmock.AnyArg(), "job-1").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, s.FailJob(ctx, "job-1", "provider down", nil))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing job", func(t *testing.T) {
		s, mock := newMockPostgres(t)

		mock.ExpectExec("UPDATE jobs SET status").
			WithArgs(string(model.JobStatusFailed), "x", pgxmock.AnyArg(), "job-9").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := s.FailJob(ctx, "job-9", "x", nil)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestPostgresGetRequestNotFound(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockPostgres(t)

	mock.ExpectQuery("SELECT id, external_id").
		WithArgs("req-missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRequestByExternalID(ctx, "req-missing")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
