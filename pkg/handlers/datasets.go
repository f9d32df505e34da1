package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tdmstack/tdm-engine/pkg/repositories"
)

// DatasetsHandler exposes dataset version metadata.
type DatasetsHandler struct {
	datasetRepo repositories.DatasetRepository
	logger      *zap.Logger
}

// NewDatasetsHandler creates a new DatasetsHandler.
func NewDatasetsHandler(datasetRepo repositories.DatasetRepository, logger *zap.Logger) *DatasetsHandler {
	return &DatasetsHandler{datasetRepo: datasetRepo, logger: logger}
}

// RegisterRoutes registers the dataset routes on the given mux.
func (h *DatasetsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/datasets/{id}", h.Get)
}

// Get handles GET /api/datasets/{id}.
func (h *DatasetsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid dataset id")
		return
	}

	version, err := h.datasetRepo.GetByID(r.Context(), id)
	if err != nil {
		_ = WriteError(w, err)
		return
	}

	rowCounts, err := h.datasetRepo.GetRowCounts(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to read dataset row counts", zap.Error(err))
		_ = WriteError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, map[string]any{
		"dataset":    version,
		"row_counts": rowCounts,
	})
}
