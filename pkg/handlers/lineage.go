package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/tdmstack/tdm-engine/pkg/models"
	"github.com/tdmstack/tdm-engine/pkg/repositories"
)

// LineageHandler queries the provenance graph by artifact.
type LineageHandler struct {
	lineageRepo repositories.LineageRepository
	logger      *zap.Logger
}

// NewLineageHandler creates a new LineageHandler.
func NewLineageHandler(lineageRepo repositories.LineageRepository, logger *zap.Logger) *LineageHandler {
	return &LineageHandler{lineageRepo: lineageRepo, logger: logger}
}

// RegisterRoutes registers the lineage routes on the given mux.
func (h *LineageHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/lineage", h.ByArtifact)
}

// ByArtifact handles GET /api/lineage?artifact=<id>. Edges touching the
// artifact as source or target come back in creation order.
func (h *LineageHandler) ByArtifact(w http.ResponseWriter, r *http.Request) {
	artifact := r.URL.Query().Get("artifact")
	if artifact == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "missing artifact query parameter")
		return
	}

	edges, err := h.lineageRepo.ListByArtifact(r.Context(), artifact)
	if err != nil {
		h.logger.Error("Failed to query lineage", zap.Error(err))
		_ = WriteError(w, err)
		return
	}
	if edges == nil {
		edges = []*models.LineageEdge{}
	}
	_ = WriteJSON(w, http.StatusOK, map[string]any{
		"artifact": artifact,
		"edges":    edges,
	})
}
