// Package webhook exposes the HTTP surface of the enrichment pipeline: the
// provider callback endpoint and the read-only request and job lookups used
// by polling clients.
package webhook

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/jusbridge/casesync/internal/enrich"
	"github.com/jusbridge/casesync/internal/model"
	"github.com/jusbridge/casesync/internal/store"
	"github.com/jusbridge/casesync/pkg/judit"
)

// maxCallbackBody caps the webhook body size. Provider payloads with a full
// docket run tens of kilobytes; a megabyte is generous.
const maxCallbackBody = 1 << 20

// Handler routes the pipeline's HTTP endpoints.
type Handler struct {
	store    store.Store
	ingestor *enrich.Ingestor
}

// NewRouter builds the chi router with the pipeline's endpoints mounted.
func NewRouter(st store.Store, ingestor *enrich.Ingestor) http.Handler {
	h := &Handler{store: st, ingestor: ingestor}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", h.health)
	r.Post("/webhooks/judit", h.handleCallback)
	r.Get("/requests/{id}", h.getRequest)
	r.Get("/jobs/{id}", h.getJob)
	return r
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("unreadable body", "", ""))
		return
	}

	if err := judit.ValidateCallback(body); err != nil {
		zap.L().Warn("rejected malformed callback", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, errorBody("malformed callback payload", "", ""))
		return
	}

	var cb judit.Callback
	if err := json.Unmarshal(body, &cb); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("malformed callback payload", "", ""))
		return
	}
	if cb.ReferenceID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("reference_id is required", "", cb.Payload.RequestID))
		return
	}

	result := h.ingestor.Handle(r.Context(), cb)
	writeJSON(w, result.Status, result)
}

func (h *Handler) getRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	req, err := h.store.GetRequestByExternalID(r.Context(), id)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("request not found", "", id))
			return
		}
		zap.L().Error("request lookup failed", zap.String("request_id", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody("lookup failed", "", id))
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// jobStatusView is the polling shape of §6's job-status query.
type jobStatusView struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind,omitempty"`
	Status    model.JobStatus `json:"status"`
	Progress  int             `json:"progress"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := h.store.GetJob(r.Context(), id)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			// Unknown jobs are reported, not errored: pollers may ask
			// before the row is visible or after cleanup.
			writeJSON(w, http.StatusOK, jobStatusView{ID: id, Status: model.JobStatusUnknown})
			return
		}
		zap.L().Error("job lookup failed", zap.String("job_id", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody("lookup failed", "", id))
		return
	}

	writeJSON(w, http.StatusOK, jobStatusView{
		ID:        job.ID,
		Kind:      job.Kind,
		Status:    job.Status,
		Progress:  jobProgress(job.Status),
		Attempts:  job.Attempts,
		LastError: job.LastError,
	})
}

// jobProgress maps queue states onto the coarse percentages pollers expect.
func jobProgress(status model.JobStatus) int {
	switch status {
	case model.JobStatusWaiting, model.JobStatusDelayed:
		return model.Progress(model.RequestStatusPending)
	case model.JobStatusActive:
		return model.Progress(model.RequestStatusProcessing)
	case model.JobStatusCompleted:
		return model.Progress(model.RequestStatusCompleted)
	case model.JobStatusFailed:
		return model.Progress(model.RequestStatusFailed)
	default:
		return 0
	}
}

func errorBody(message, code, requestID string) map[string]any {
	body := map[string]any{
		"success": false,
		"error":   message,
	}
	if code != "" {
		body["error_code"] = code
	}
	if requestID != "" {
		body["request_id"] = requestID
	}
	return body
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("writing response failed", zap.Error(err))
	}
}
