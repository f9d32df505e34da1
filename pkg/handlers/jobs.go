package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tdmstack/tdm-engine/pkg/models"
	"github.com/tdmstack/tdm-engine/pkg/repositories"
)

// JobsHandler exposes job records and their append-only logs.
type JobsHandler struct {
	jobRepo     repositories.JobRepository
	lineageRepo repositories.LineageRepository
	logger      *zap.Logger
}

// NewJobsHandler creates a new JobsHandler.
func NewJobsHandler(jobRepo repositories.JobRepository, lineageRepo repositories.LineageRepository, logger *zap.Logger) *JobsHandler {
	return &JobsHandler{jobRepo: jobRepo, lineageRepo: lineageRepo, logger: logger}
}

// RegisterRoutes registers the job routes on the given mux.
func (h *JobsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/jobs/{id}", h.Get)
	mux.HandleFunc("GET /api/jobs/{id}/logs", h.Logs)
	mux.HandleFunc("GET /api/jobs/{id}/lineage", h.Lineage)
}

func (h *JobsHandler) jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid job id")
		return uuid.Nil, false
	}
	return id, true
}

// Get handles GET /api/jobs/{id}.
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}

	job, err := h.jobRepo.GetByID(r.Context(), id)
	if err != nil {
		_ = WriteError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, job)
}

// Logs handles GET /api/jobs/{id}/logs. Entries come back in creation order;
// details is always a JSON object, never null.
func (h *JobsHandler) Logs(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}

	if _, err := h.jobRepo.GetByID(r.Context(), id); err != nil {
		_ = WriteError(w, err)
		return
	}

	entries, err := h.jobRepo.ListLogs(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to list job logs", zap.Error(err))
		_ = WriteError(w, err)
		return
	}
	if entries == nil {
		entries = []*models.JobLogEntry{}
	}
	_ = WriteJSON(w, http.StatusOK, map[string]any{"job_id": id, "logs": entries})
}

// Lineage handles GET /api/jobs/{id}/lineage.
func (h *JobsHandler) Lineage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}

	edges, err := h.lineageRepo.ListByJob(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to list job lineage", zap.Error(err))
		_ = WriteError(w, err)
		return
	}
	if edges == nil {
		edges = []*models.LineageEdge{}
	}
	_ = WriteJSON(w, http.StatusOK, map[string]any{"job_id": id, "edges": edges})
}
