package enrich

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/jusbridge/casesync/internal/model"
	"github.com/jusbridge/casesync/internal/store"
)

// ErrRetryNotAllowed is returned when a retry is requested for a case that
// does not qualify: wrong status, exhausted budget, or no CNJ to resubmit.
var ErrRetryNotAllowed = eris.New("enrich: retry not allowed")

// Bookkeeper records pipeline failures against cases and gates the
// user-visible retry path.
type Bookkeeper struct {
	store store.Store
}

// NewBookkeeper creates a Bookkeeper over the given store.
func NewBookkeeper(st store.Store) *Bookkeeper {
	return &Bookkeeper{store: st}
}

// RecordError appends a structured error to the case's error log. Only
// ENRICHMENT-stage failures consume retry budget and move the case to
// needs_attention; document and manual failures are operational bookkeeping
// and leave case status alone.
func (b *Bookkeeper) RecordError(ctx context.Context, caseID string, stage model.ErrorStage, code, message string) error {
	if caseID == "" {
		zap.L().Warn("pipeline error with no case to charge it to",
			zap.String("stage", string(stage)),
			zap.String("code", code),
			zap.String("message", message),
		)
		return nil
	}

	if err := b.store.AppendCaseError(ctx, model.CaseError{
		CaseID:  caseID,
		Stage:   stage,
		Code:    code,
		Message: message,
	}); err != nil {
		return eris.Wrap(err, "enrich: append case error")
	}

	if stage != model.StageEnrichment {
		return nil
	}

	st, err := b.store.IncrementRetry(ctx, caseID, model.MaxEnrichmentAttempts)
	if err != nil {
		return eris.Wrap(err, "enrich: increment retry")
	}

	if err := b.store.UpdateCaseStatus(ctx, caseID, model.CaseStatusNeedsAttention); err != nil {
		return eris.Wrap(err, "enrich: mark needs attention")
	}

	zap.L().Warn("enrichment failure recorded",
		zap.String("case_id", caseID),
		zap.String("code", code),
		zap.Int("attempts", st.Attempts),
		zap.Bool("retry_allowed", st.Allowed),
	)
	return nil
}

// Eligibility reports the case's retry state: attempt count and whether
// another retry is still within the budget.
func (b *Bookkeeper) Eligibility(ctx context.Context, caseID string) (*model.RetryState, error) {
	st, err := b.store.GetRetryState(ctx, caseID)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: get retry state")
	}
	return st, nil
}

// Retry clears the case's active error list and returns it to pending so a
// fresh initiation can run. It is permitted only when the case is in
// needs_attention, the retry budget is not exhausted, and a CNJ is present.
// The returned case carries the CNJ the caller should resubmit.
func (b *Bookkeeper) Retry(ctx context.Context, caseID string) (*model.Case, error) {
	c, err := b.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: retry get case")
	}

	if c.Status != model.CaseStatusNeedsAttention {
		return nil, eris.Wrapf(ErrRetryNotAllowed, "case %s is %s", caseID, c.Status)
	}
	if c.CNJ == "" {
		return nil, eris.Wrapf(ErrRetryNotAllowed, "case %s has no process number", caseID)
	}

	st, err := b.store.GetRetryState(ctx, caseID)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: retry state")
	}
	if !st.Allowed {
		return nil, eris.Wrapf(ErrRetryNotAllowed, "case %s exhausted %d attempts", caseID, st.Attempts)
	}

	if err := b.store.ClearCaseErrors(ctx, caseID); err != nil {
		return nil, eris.Wrap(err, "enrich: clear case errors")
	}
	if err := b.store.UpdateCaseStatus(ctx, caseID, model.CaseStatusPending); err != nil {
		return nil, eris.Wrap(err, "enrich: reset case status")
	}

	zap.L().Info("case retry accepted",
		zap.String("case_id", caseID),
		zap.String("cnj", c.CNJ),
		zap.Int("prior_attempts", st.Attempts),
	)
	c.Status = model.CaseStatusPending
	return c, nil
}
