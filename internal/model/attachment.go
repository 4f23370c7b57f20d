package model

import "time"

// AttachmentStatus records the outcome of one attachment download.
type AttachmentStatus string

const (
	AttachmentStored AttachmentStatus = "stored"
	AttachmentFailed AttachmentStatus = "failed"
)

// Attachment is a document referenced by an official-provider event,
// downloaded and persisted by the attachment processor.
type Attachment struct {
	ID        string           `json:"id"`
	CaseID    string           `json:"case_id"`
	RequestID string           `json:"request_id,omitempty"`
	Code      string           `json:"code"`
	Instance  string           `json:"instance,omitempty"`
	Name      string           `json:"name,omitempty"`
	Status    AttachmentStatus `json:"status"`
	Path      string           `json:"path,omitempty"`
	Error     string           `json:"error,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}
