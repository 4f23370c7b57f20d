package judit

import "encoding/json"

// Search describes what to look up. The pipeline always searches by CNJ
// number with on-demand crawling so results reflect the live tribunal state.
type Search struct {
	SearchType string `json:"search_type"`
	SearchKey  string `json:"search_key"`
	OnDemand   bool   `json:"on_demand"`
}

// SubmitRequest is the body posted to create an asynchronous lookup.
type SubmitRequest struct {
	Search          Search `json:"search"`
	WithAttachments bool   `json:"with_attachments,omitempty"`
	CallbackURL     string `json:"callback_url"`
	CacheTTLDays    int    `json:"cache_ttl_in_days,omitempty"`
}

// SubmitResponse acknowledges an accepted lookup. RequestID is the handle
// every later callback references; the client treats its absence as an error.
type SubmitResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at,omitempty"`
}

// Callback event types delivered to the webhook endpoint.
const (
	EventResponseCreated  = "response_created"
	EventRequestCompleted = "request_completed"
	EventApplicationError = "application_error"
)

// Callback is the webhook envelope the provider posts for every event.
type Callback struct {
	UserID        string          `json:"user_id"`
	CallbackID    string          `json:"callback_id"`
	EventType     string          `json:"event_type"`
	ReferenceType string          `json:"reference_type"`
	ReferenceID   string          `json:"reference_id"`
	Payload       CallbackPayload `json:"payload"`
}

// CallbackPayload carries the event-specific body. ResponseData is kept raw
// until the event type determines how to decode it.
type CallbackPayload struct {
	RequestID    string          `json:"request_id"`
	ResponseID   string          `json:"response_id,omitempty"`
	ResponseType string          `json:"response_type,omitempty"`
	ResponseData json.RawMessage `json:"response_data,omitempty"`
	Status       string          `json:"status,omitempty"`
	Code         string          `json:"code,omitempty"`
	Message      string          `json:"message,omitempty"`
	Tags         CallbackTags    `json:"tags,omitempty"`
}

// CallbackTags annotate a response. CachedResponse marks a replay of data the
// provider already served, which must not re-trigger case activation.
type CallbackTags struct {
	CachedResponse bool `json:"cached_response,omitempty"`
}

// Lawsuit is the decoded response_data for a lawsuit response.
type Lawsuit struct {
	Code            string           `json:"code"`
	Instance        string           `json:"instance,omitempty"`
	Name            string           `json:"name,omitempty"`
	Phase           string           `json:"phase,omitempty"`
	Classifications []Classification `json:"classifications,omitempty"`
	Subjects        []Subject        `json:"subjects,omitempty"`
	Steps           []Step           `json:"steps,omitempty"`
	Attachments     []Attachment     `json:"attachments,omitempty"`
}

// Classification is the tribunal's procedural class for a lawsuit.
type Classification struct {
	Name string `json:"name"`
}

// Subject is a matter tag attached to a lawsuit.
type Subject struct {
	Name string `json:"name"`
}

// Step is one movement in the lawsuit's official docket.
type Step struct {
	StepDate string `json:"step_date"`
	StepType string `json:"step_type,omitempty"`
	Content  string `json:"content,omitempty"`
	Private  bool   `json:"private,omitempty"`
}

// Attachment references a downloadable document attached to a step.
type Attachment struct {
	Code      string `json:"attachment_code"`
	Instance  string `json:"instance,omitempty"`
	Name      string `json:"name,omitempty"`
	Extension string `json:"extension,omitempty"`
}
