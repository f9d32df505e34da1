package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tdmstack/tdm-engine/pkg/models"
	"github.com/tdmstack/tdm-engine/pkg/repositories"
	"github.com/tdmstack/tdm-engine/pkg/services"
	"github.com/tdmstack/tdm-engine/pkg/services/workqueue"
)

// WorkflowsHandler submits pipeline workflows and reports their status.
type WorkflowsHandler struct {
	orchestrator *services.Orchestrator
	queue        *workqueue.Queue
	jobRepo      repositories.JobRepository
	logger       *zap.Logger
}

// NewWorkflowsHandler creates a new WorkflowsHandler.
func NewWorkflowsHandler(orchestrator *services.Orchestrator, queue *workqueue.Queue, jobRepo repositories.JobRepository, logger *zap.Logger) *WorkflowsHandler {
	return &WorkflowsHandler{
		orchestrator: orchestrator,
		queue:        queue,
		jobRepo:      jobRepo,
		logger:       logger,
	}
}

// RegisterRoutes registers the workflow routes on the given mux.
func (h *WorkflowsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/workflows", h.Submit)
	mux.HandleFunc("GET /api/workflows/{id}", h.Get)
	mux.HandleFunc("GET /api/queue", h.QueueStatus)
}

// Submit handles POST /api/workflows. The request is validated into a plan
// and a pending job before anything is enqueued, so malformed input never
// creates job records.
func (h *WorkflowsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req services.WorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid JSON body: "+err.Error())
		return
	}

	plan, err := h.orchestrator.Plan(&req)
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if len(plan.Operations) == 0 {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request",
			"no operations derivable from request; provide a connection string, test case, URLs or a domain")
		return
	}

	job, plan, err := h.orchestrator.Submit(r.Context(), &req)
	if err != nil {
		h.logger.Error("Workflow submission failed", zap.Error(err))
		_ = WriteError(w, err)
		return
	}

	h.queue.Enqueue(services.NewWorkflowTask(h.orchestrator, job, &req, plan))

	_ = WriteJSON(w, http.StatusAccepted, map[string]any{
		"workflow_id": job.WorkflowID,
		"job_id":      job.ID,
		"status":      job.Status,
		"operations":  plan.Operations,
	})
}

// Get handles GET /api/workflows/{id}. The response aggregates the
// workflow's job records.
func (h *WorkflowsHandler) Get(w http.ResponseWriter, r *http.Request) {
	workflowID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid workflow id")
		return
	}

	jobs, err := h.jobRepo.ListByWorkflow(r.Context(), workflowID)
	if err != nil {
		h.logger.Error("Failed to list workflow jobs", zap.Error(err))
		_ = WriteError(w, err)
		return
	}
	if len(jobs) == 0 {
		_ = ErrorResponse(w, http.StatusNotFound, "not_found", "workflow not found")
		return
	}

	job := jobs[0]
	resp := map[string]any{
		"workflow_id": workflowID,
		"job_id":      job.ID,
		"status":      job.Status,
		"start_time":  job.StartedAt,
		"end_time":    job.FinishedAt,
		"result":      job.Result,
	}
	if job.Status == models.JobStatusFailed {
		if errMsg, ok := job.Result["error"]; ok {
			resp["error"] = errMsg
		}
	}

	_ = WriteJSON(w, http.StatusOK, resp)
}

// QueueStatus handles GET /api/queue. Reports queue progress and per-task
// state for operational visibility.
func (h *WorkflowsHandler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	_ = WriteJSON(w, http.StatusOK, map[string]any{
		"progress": h.queue.Progress(),
		"tasks":    h.queue.GetTasks(),
	})
}
