package model

import "time"

// CaseStatus represents the lifecycle state of a legal case.
type CaseStatus string

const (
	// CaseStatusPending means the case exists but official data has not
	// been retrieved yet.
	CaseStatusPending CaseStatus = "pending"
	// CaseStatusNeedsAttention means the authoritative enrichment stage
	// failed and user or support action is required.
	CaseStatusNeedsAttention CaseStatus = "needs_attention"
	// CaseStatusActive means official data has been merged into the case.
	CaseStatusActive CaseStatus = "active"
	// CaseStatusArchived means the case was closed by its owner.
	CaseStatusArchived CaseStatus = "archived"
)

// ErrorStage classifies where in the pipeline a failure happened. Only the
// ENRICHMENT stage is user-visible through case status; the other stages are
// operational bookkeeping.
type ErrorStage string

const (
	StageEnrichment ErrorStage = "ENRICHMENT"
	StageDocument   ErrorStage = "DOCUMENT"
	StageManual     ErrorStage = "MANUAL"
)

// MaxEnrichmentAttempts is the application-level retry ceiling. Once a case
// accumulates this many ENRICHMENT-stage failures, retry is disabled and the
// case stays in needs_attention until support intervenes.
const MaxEnrichmentAttempts = 3

// Case is a tenant-scoped legal matter tracked by the enrichment pipeline.
type Case struct {
	ID         string     `json:"id"`
	ProcessID  string     `json:"process_id,omitempty"`
	CNJ        string     `json:"cnj,omitempty"`
	Title      string     `json:"title,omitempty"`
	Type       string     `json:"type,omitempty"`
	Status     CaseStatus `json:"status"`
	EnrichedAt *time.Time `json:"enriched_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// CaseDocument is a user-uploaded document attached to a case. Documents are
// projected into the unified timeline as synthetic entries.
type CaseDocument struct {
	ID           string     `json:"id"`
	CaseID       string     `json:"case_id"`
	Name         string     `json:"name"`
	DocumentDate *time.Time `json:"document_date,omitempty"`
	UploadedAt   time.Time  `json:"uploaded_at"`
}

// CaseError is one row of the append-only per-case error log.
type CaseError struct {
	ID        string     `json:"id"`
	CaseID    string     `json:"case_id"`
	Stage     ErrorStage `json:"stage"`
	Code      string     `json:"code,omitempty"`
	Message   string     `json:"message"`
	CreatedAt time.Time  `json:"created_at"`
}

// RetryState is the small derived-state row backing retry eligibility.
type RetryState struct {
	CaseID    string    `json:"case_id"`
	Attempts  int       `json:"attempts"`
	Allowed   bool      `json:"allowed"`
	UpdatedAt time.Time `json:"updated_at"`
}
