package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/jusbridge/casesync/internal/model"
)

// ErrNotFound is returned when a referenced record does not exist. Callers
// branch on it with eris.Is to produce 404-equivalent responses.
var ErrNotFound = eris.New("store: not found")

// RequestFilter specifies criteria for listing enrichment requests.
type RequestFilter struct {
	Status  model.RequestStatus  `json:"status,omitempty"`
	Purpose model.RequestPurpose `json:"purpose,omitempty"`
	CaseID  string               `json:"case_id,omitempty"`
	Limit   int                  `json:"limit,omitempty"`
	Offset  int                  `json:"offset,omitempty"`
}

// Store defines the persistence contract for the enrichment pipeline.
type Store interface {
	// Processes
	FindOrCreateProcess(ctx context.Context, cnj, courtCode, instance string) (*model.Process, error)

	// Cases
	CreateCase(ctx context.Context, c model.Case) (*model.Case, error)
	GetCase(ctx context.Context, caseID string) (*model.Case, error)
	FindCasesByCNJ(ctx context.Context, cnj string) ([]model.Case, error)
	LinkCaseProcess(ctx context.Context, caseID, processID string) error
	UpdateCaseStatus(ctx context.Context, caseID string, status model.CaseStatus) error
	// ActivateCase applies the net effect of a completed enrichment cycle
	// in one write: status active, classified type (if non-empty), and the
	// enrichment-completed timestamp.
	ActivateCase(ctx context.Context, caseID, caseType string, enrichedAt time.Time) error

	// Documents
	AddDocument(ctx context.Context, doc model.CaseDocument) (*model.CaseDocument, error)
	ListDocuments(ctx context.Context, caseID string) ([]model.CaseDocument, error)

	// Enrichment requests
	CreateRequest(ctx context.Context, req model.EnrichmentRequest) (*model.EnrichmentRequest, error)
	GetRequestByExternalID(ctx context.Context, externalID string) (*model.EnrichmentRequest, error)
	ListRequests(ctx context.Context, filter RequestFilter) ([]model.EnrichmentRequest, error)
	UpdateRequestStatus(ctx context.Context, externalID string, status model.RequestStatus) error
	FailRequest(ctx context.Context, externalID, code, message string) error

	// Idempotency claims. ClaimRequest is a conditional insert into the
	// processed set: it returns false when the (case, request) pair was
	// already claimed, so two concurrent deliveries can never both pass.
	// A claim taken with interim=true marks a cached (non-final) response;
	// a later final claim for the same pair upgrades it in place instead of
	// reporting a duplicate, exactly once. ReleaseClaim removes a claim only
	// when its interim mode still matches, so releasing a failed cached
	// claim can never discard a concurrent final one.
	ClaimRequest(ctx context.Context, caseID, externalID string, interim bool) (bool, error)
	ReleaseClaim(ctx context.Context, caseID, externalID string, interim bool) error
	// ProcessedRequests lists final claims only; cached responses never
	// appear in the processed list.
	ProcessedRequests(ctx context.Context, caseID string) ([]string, error)

	// Timeline
	InsertTimelineEntries(ctx context.Context, entries []model.TimelineEntry) (int, error)
	ListTimelineEntries(ctx context.Context, caseID string) ([]model.TimelineEntry, error)
	EnrichTimelineEntry(ctx context.Context, entryID, description, enrichModel string, contributing []model.EventSource, snippets []string, enrichedAt time.Time) error

	// Attachments
	RecordAttachment(ctx context.Context, att model.Attachment) (*model.Attachment, error)
	ListAttachments(ctx context.Context, caseID string) ([]model.Attachment, error)

	// Error log and retry state
	AppendCaseError(ctx context.Context, e model.CaseError) error
	ClearCaseErrors(ctx context.Context, caseID string) error
	ListCaseErrors(ctx context.Context, caseID string) ([]model.CaseError, error)
	IncrementRetry(ctx context.Context, caseID string, ceiling int) (*model.RetryState, error)
	GetRetryState(ctx context.Context, caseID string) (*model.RetryState, error)

	// Jobs
	EnqueueJob(ctx context.Context, kind string, payload []byte, runAt time.Time) (*model.Job, error)
	ClaimNextJob(ctx context.Context) (*model.Job, error)
	CompleteJob(ctx context.Context, jobID string) error
	FailJob(ctx context.Context, jobID, lastError string, retryAt *time.Time) error
	GetJob(ctx context.Context, jobID string) (*model.Job, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
