package enrich

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/jusbridge/casesync/internal/cnj"
	"github.com/jusbridge/casesync/internal/config"
	"github.com/jusbridge/casesync/internal/model"
	"github.com/jusbridge/casesync/internal/store"
	"github.com/jusbridge/casesync/pkg/judit"
)

// ErrAmbiguousCase is returned when no explicit case was given and more than
// one case shares the CNJ. Mutating state on a guess is the bug class the
// explicit-linkage design exists to prevent, so the initiator refuses.
var ErrAmbiguousCase = eris.New("enrich: ambiguous case for process number")

// InitiationInput identifies one enrichment to submit.
type InitiationInput struct {
	CNJ     string               `json:"cnj"`
	CaseID  string               `json:"case_id,omitempty"`
	Purpose model.RequestPurpose `json:"purpose"`
}

// InitiationResult is the structured, non-throwing outcome of a submission.
type InitiationResult struct {
	Success    bool   `json:"success"`
	RequestID  string `json:"request_id,omitempty"`
	CNJ        string `json:"cnj"`
	CaseID     string `json:"case_id,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// Initiator submits enrichment requests to the provider and registers the
// pending request record. It never blocks on the provider's answer; results
// arrive later through the webhook.
type Initiator struct {
	store      store.Store
	client     judit.Client
	bookkeeper *Bookkeeper
	cfg        config.JuditConfig
}

// NewInitiator creates an Initiator.
func NewInitiator(st store.Store, client judit.Client, bookkeeper *Bookkeeper, cfg config.JuditConfig) *Initiator {
	return &Initiator{store: st, client: client, bookkeeper: bookkeeper, cfg: cfg}
}

// Initiate runs one submission and charges any failure to the case's error
// log, which consumes the per-case retry budget. Direct callers (CLI, retry
// resubmission) use it; the queue worker uses Attempt so job-level retries of
// the same submission are charged once, on the job's terminal failure.
func (in *Initiator) Initiate(ctx context.Context, input InitiationInput) InitiationResult {
	result := in.Attempt(ctx, input)
	if !result.Success {
		if recErr := in.bookkeeper.RecordError(ctx, result.CaseID, model.StageEnrichment, "", result.Error); recErr != nil {
			zap.L().Error("recording initiation failure failed", zap.Error(recErr))
		}
	}
	return result
}

// Attempt runs one submission end to end: normalize the CNJ, find or create
// the process record, resolve and link the target case, submit to the
// provider, and persist the returned request id. Failures are reported in
// the result, not thrown, and are not recorded against the case.
func (in *Initiator) Attempt(ctx context.Context, input InitiationInput) InitiationResult {
	start := time.Now()
	result := InitiationResult{CNJ: input.CNJ, CaseID: input.CaseID}

	fail := func(caseID string, err error) InitiationResult {
		result.CaseID = caseID
		result.DurationMS = time.Since(start).Milliseconds()
		result.Error = err.Error()
		zap.L().Error("enrichment initiation failed",
			zap.String("cnj", input.CNJ),
			zap.String("case_id", caseID),
			zap.Int64("duration_ms", result.DurationMS),
			zap.Error(err),
		)
		return result
	}

	number, err := cnj.Parse(input.CNJ)
	if err != nil {
		return fail(input.CaseID, eris.Wrapf(err, "process number %q", input.CNJ))
	}
	normalized := number.String()
	result.CNJ = normalized

	process, err := in.store.FindOrCreateProcess(ctx, normalized, number.CourtCode(), number.Instance())
	if err != nil {
		return fail(input.CaseID, err)
	}

	target, err := in.resolveCase(ctx, input.CaseID, normalized)
	if err != nil {
		return fail(input.CaseID, err)
	}
	if target != nil {
		result.CaseID = target.ID
		if target.ProcessID != process.ID {
			if err := in.store.LinkCaseProcess(ctx, target.ID, process.ID); err != nil {
				return fail(target.ID, err)
			}
		}
	}

	resp, err := in.client.Submit(ctx, judit.SubmitRequest{
		Search: judit.Search{
			SearchType: judit.SearchTypeLawsuitCNJ,
			SearchKey:  normalized,
			OnDemand:   true,
		},
		WithAttachments: in.cfg.WithAttachments,
		CallbackURL:     in.cfg.CallbackURL,
		CacheTTLDays:    in.cfg.CacheTTLDays,
	})
	if err != nil {
		return fail(result.CaseID, err)
	}

	if _, err := in.store.CreateRequest(ctx, model.EnrichmentRequest{
		ExternalID: resp.RequestID,
		ProcessID:  process.ID,
		CaseID:     result.CaseID,
		Purpose:    input.Purpose,
	}); err != nil {
		return fail(result.CaseID, err)
	}

	result.Success = true
	result.RequestID = resp.RequestID
	result.DurationMS = time.Since(start).Milliseconds()
	zap.L().Info("enrichment submitted",
		zap.String("cnj", normalized),
		zap.String("case_id", result.CaseID),
		zap.String("request_id", resp.RequestID),
		zap.Int64("duration_ms", result.DurationMS),
	)
	return result
}

// resolveCase prefers the explicit case reference. The CNJ lookup exists
// only as a fallback for callers that predate explicit linkage: a single
// match is used with a warning, more than one refuses, none means the
// request proceeds unlinked.
func (in *Initiator) resolveCase(ctx context.Context, caseID, normalizedCNJ string) (*model.Case, error) {
	if caseID != "" {
		c, err := in.store.GetCase(ctx, caseID)
		if err != nil {
			return nil, eris.Wrapf(err, "explicit case %s", caseID)
		}
		return c, nil
	}

	matches, err := in.store.FindCasesByCNJ(ctx, normalizedCNJ)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		zap.L().Warn("resolved case by process number fallback; prefer explicit linkage",
			zap.String("cnj", normalizedCNJ),
			zap.String("case_id", matches[0].ID),
		)
		return &matches[0], nil
	default:
		return nil, eris.Wrapf(ErrAmbiguousCase, "%s matches %d cases", normalizedCNJ, len(matches))
	}
}
