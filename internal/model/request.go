package model

import "time"

// Process is the judicial process record keyed by its normalized CNJ number.
// Multiple cases may reference the same process; the explicit case link on an
// EnrichmentRequest exists precisely because the CNJ alone is ambiguous.
type Process struct {
	ID        string    `json:"id"`
	CNJ       string    `json:"cnj"`
	CourtCode string    `json:"court_code,omitempty"`
	Instance  string    `json:"instance,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RequestStatus is the lifecycle state of an external lookup.
type RequestStatus string

const (
	RequestStatusPending    RequestStatus = "pending"
	RequestStatusProcessing RequestStatus = "processing"
	RequestStatusCompleted  RequestStatus = "completed"
	RequestStatusFailed     RequestStatus = "failed"
)

// RequestPurpose distinguishes why an enrichment was submitted.
type RequestPurpose string

const (
	PurposeOnboarding       RequestPurpose = "ONBOARDING"
	PurposeAttachmentSearch RequestPurpose = "ATTACHMENT_SEARCH"
)

// EnrichmentRequest identifies one outstanding or completed external lookup.
// ExternalID is the provider-assigned request id and is the key webhook
// callbacks reference. CaseID is the explicit case link; callbacks resolve
// the target case only through it, never by CNJ lookup.
type EnrichmentRequest struct {
	ID           string         `json:"id"`
	ExternalID   string         `json:"external_id"`
	ProcessID    string         `json:"process_id"`
	CaseID       string         `json:"case_id,omitempty"`
	Purpose      RequestPurpose `json:"purpose"`
	Status       RequestStatus  `json:"status"`
	ErrorCode    string         `json:"error_code,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}
