package enrich

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/jusbridge/casesync/internal/model"
	"github.com/jusbridge/casesync/internal/store"
	"github.com/jusbridge/casesync/pkg/judit"
)

// CallbackResult is the ingestor's outcome, shaped for the webhook response.
type CallbackResult struct {
	Status    int    `json:"-"`
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	Duplicate bool   `json:"isDuplicate,omitempty"`
	Cached    bool   `json:"cached"`
	CNJ       string `json:"cnj,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Ingestor processes provider callbacks. It is stateless and tolerates
// duplicate, out-of-order, and partial deliveries; the per-(case, request)
// claim in the store is the sole exactly-once mechanism.
type Ingestor struct {
	store       store.Store
	reconciler  *Reconciler
	attachments *AttachmentProcessor
	bookkeeper  *Bookkeeper
}

// NewIngestor creates an Ingestor.
func NewIngestor(st store.Store, reconciler *Reconciler, attachments *AttachmentProcessor, bookkeeper *Bookkeeper) *Ingestor {
	return &Ingestor{store: st, reconciler: reconciler, attachments: attachments, bookkeeper: bookkeeper}
}

// Handle dispatches one callback by event type.
func (ing *Ingestor) Handle(ctx context.Context, cb judit.Callback) CallbackResult {
	switch cb.EventType {
	case judit.EventResponseCreated:
		return ing.handleResponseCreated(ctx, cb)
	case judit.EventRequestCompleted:
		return ing.handleRequestCompleted(ctx, cb)
	case judit.EventApplicationError:
		return ing.handleApplicationError(ctx, cb)
	default:
		// Unrecognized but harmless: acknowledge so the provider does not
		// penalize delivery.
		zap.L().Info("ignoring unknown callback event",
			zap.String("event_type", cb.EventType),
			zap.String("request_id", cb.Payload.RequestID),
		)
		return CallbackResult{Status: http.StatusOK, Success: true, Message: "event ignored"}
	}
}

func (ing *Ingestor) handleResponseCreated(ctx context.Context, cb judit.Callback) CallbackResult {
	requestID := cb.Payload.RequestID

	var lawsuit judit.Lawsuit
	if len(cb.Payload.ResponseData) == 0 {
		return CallbackResult{
			Status: http.StatusBadRequest, Error: "response_data is missing", RequestID: requestID,
		}
	}
	if err := json.Unmarshal(cb.Payload.ResponseData, &lawsuit); err != nil || lawsuit.Code == "" {
		return CallbackResult{
			Status: http.StatusBadRequest, Error: "response_data is not a lawsuit record", RequestID: requestID,
		}
	}

	req, err := ing.store.GetRequestByExternalID(ctx, requestID)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			return CallbackResult{
				Status: http.StatusNotFound, Error: "unknown request id", RequestID: requestID,
			}
		}
		return ing.internalError(requestID, err)
	}

	// The explicit link is the only way a callback may reach a case.
	// Re-deriving by CNJ here would reintroduce the ambiguity this design
	// removes.
	caseID := req.CaseID
	if caseID == "" {
		return CallbackResult{
			Status: http.StatusNotFound, Error: "request has no linked case", RequestID: requestID,
		}
	}

	// Cached answers take an interim claim that a final delivery upgrades
	// in place, so a cached response in flight can never make the final one
	// look like a duplicate. Only a final claim consumes the request's
	// exactly-once budget.
	cached := cb.Payload.Tags.CachedResponse
	claimed, err := ing.store.ClaimRequest(ctx, caseID, requestID, cached)
	if err != nil {
		return ing.internalError(requestID, err)
	}
	if !claimed {
		zap.L().Info("duplicate callback delivery acknowledged",
			zap.String("request_id", requestID),
			zap.String("case_id", caseID),
			zap.Bool("cached", cached),
		)
		return CallbackResult{Status: http.StatusOK, Success: true, Duplicate: true}
	}

	if err := ing.processLawsuit(ctx, req, caseID, &lawsuit, cached); err != nil {
		// Release so a redelivery can try again, then charge the failure.
		// The mode-matched release cannot discard a claim a concurrent
		// final delivery has upgraded.
		if relErr := ing.store.ReleaseClaim(ctx, caseID, requestID, cached); relErr != nil {
			zap.L().Error("releasing claim failed", zap.String("request_id", requestID), zap.Error(relErr))
		}
		if recErr := ing.bookkeeper.RecordError(ctx, caseID, model.StageEnrichment, "", err.Error()); recErr != nil {
			zap.L().Error("recording callback failure failed", zap.Error(recErr))
		}
		return ing.internalError(requestID, err)
	}

	return CallbackResult{
		Status:  http.StatusOK,
		Success: true,
		Message: "enrichment processed",
		Cached:  cached,
		CNJ:     lawsuit.Code,
	}
}

// processLawsuit applies one non-duplicate response: merge the docket into
// the timeline, run the attachment batch (isolated), and, for final
// responses only, classify and activate the case.
func (ing *Ingestor) processLawsuit(ctx context.Context, req *model.EnrichmentRequest, caseID string, lawsuit *judit.Lawsuit, cached bool) error {
	if err := ing.store.UpdateRequestStatus(ctx, req.ExternalID, model.RequestStatusProcessing); err != nil {
		return err
	}

	inserted, err := ing.reconciler.MergeLawsuit(ctx, caseID, lawsuit)
	if err != nil {
		return err
	}
	if _, err := ing.reconciler.BuildTimeline(ctx, caseID); err != nil {
		return err
	}

	if len(lawsuit.Attachments) > 0 {
		// Attachment failures are isolated: a bad batch must not abort the
		// rest of the callback.
		batch, err := ing.attachments.ProcessBatch(ctx, caseID, req.ExternalID, lawsuit.Attachments)
		if err != nil {
			zap.L().Error("attachment batch aborted", zap.String("case_id", caseID), zap.Error(err))
			if recErr := ing.bookkeeper.RecordError(ctx, caseID, model.StageDocument, "", err.Error()); recErr != nil {
				zap.L().Error("recording attachment failure failed", zap.Error(recErr))
			}
		} else if batch.Failed > 0 {
			zap.L().Warn("attachment batch partially failed",
				zap.String("case_id", caseID),
				zap.Int("failed", batch.Failed),
			)
		}
	}

	zap.L().Info("callback merged",
		zap.String("request_id", req.ExternalID),
		zap.String("case_id", caseID),
		zap.Int("new_entries", inserted),
		zap.Bool("cached", cached),
	)

	if cached {
		return nil
	}

	// Final answer: one atomic activation write, then close the request.
	if err := ing.store.ActivateCase(ctx, caseID, Classify(lawsuit), time.Now().UTC()); err != nil {
		return err
	}
	return ing.store.UpdateRequestStatus(ctx, req.ExternalID, model.RequestStatusCompleted)
}

func (ing *Ingestor) handleRequestCompleted(ctx context.Context, cb judit.Callback) CallbackResult {
	requestID := cb.Payload.RequestID

	err := ing.store.UpdateRequestStatus(ctx, requestID, model.RequestStatusCompleted)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			return CallbackResult{Status: http.StatusNotFound, Error: "unknown request id", RequestID: requestID}
		}
		return ing.internalError(requestID, err)
	}
	return CallbackResult{Status: http.StatusOK, Success: true, Message: "request completed"}
}

// providerError is the response_data shape of an application_error event.
// The code arrives as either a number or a string depending on the failure.
type providerError struct {
	Code    json.Number `json:"code"`
	Message string      `json:"message"`
}

// handleApplicationError marks the request failed for every provider error,
// including code 600 (lawsuit not found): the code and message stay on the
// request row, so callers that treat an empty docket as benign can branch on
// them there.
func (ing *Ingestor) handleApplicationError(ctx context.Context, cb judit.Callback) CallbackResult {
	requestID := cb.Payload.RequestID

	perr := providerError{Code: json.Number(cb.Payload.Code), Message: cb.Payload.Message}
	if len(cb.Payload.ResponseData) > 0 {
		if err := json.Unmarshal(cb.Payload.ResponseData, &perr); err != nil {
			zap.L().Warn("undecodable application_error payload", zap.String("request_id", requestID))
		}
	}
	if perr.Message == "" {
		perr.Message = "provider reported an application error"
	}

	if err := ing.store.FailRequest(ctx, requestID, perr.Code.String(), perr.Message); err != nil {
		if eris.Is(err, store.ErrNotFound) {
			return CallbackResult{Status: http.StatusNotFound, Error: "unknown request id", RequestID: requestID}
		}
		return ing.internalError(requestID, err)
	}

	zap.L().Warn("provider application error",
		zap.String("request_id", requestID),
		zap.String("code", perr.Code.String()),
		zap.String("message", perr.Message),
	)
	return CallbackResult{
		Status:    http.StatusUnprocessableEntity,
		Error:     perr.Message,
		ErrorCode: perr.Code.String(),
		RequestID: requestID,
	}
}

func (ing *Ingestor) internalError(requestID string, err error) CallbackResult {
	zap.L().Error("callback processing failed",
		zap.String("request_id", requestID),
		zap.Error(err),
	)
	return CallbackResult{
		Status:    http.StatusInternalServerError,
		Error:     "callback processing failed",
		RequestID: requestID,
	}
}
