package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tdmstack/tdm-engine/pkg/models"
	"github.com/tdmstack/tdm-engine/pkg/repositories"
)

// SchemasHandler exposes discovered sources and schema versions.
type SchemasHandler struct {
	schemaRepo repositories.SchemaRepository
	logger     *zap.Logger
}

// NewSchemasHandler creates a new SchemasHandler.
func NewSchemasHandler(schemaRepo repositories.SchemaRepository, logger *zap.Logger) *SchemasHandler {
	return &SchemasHandler{schemaRepo: schemaRepo, logger: logger}
}

// RegisterRoutes registers the schema routes on the given mux.
func (h *SchemasHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sources", h.ListSources)
	mux.HandleFunc("GET /api/schema-versions/{id}", h.GetVersion)
}

// ListSources handles GET /api/sources.
func (h *SchemasHandler) ListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.schemaRepo.ListSources(r.Context())
	if err != nil {
		h.logger.Error("Failed to list sources", zap.Error(err))
		_ = WriteError(w, err)
		return
	}
	if sources == nil {
		sources = []*models.SourceConnection{}
	}
	_ = WriteJSON(w, http.StatusOK, map[string]any{"sources": sources})
}

type schemaTableResponse struct {
	Name      string                 `json:"name"`
	Namespace string                 `json:"namespace"`
	RowCount  *int64                 `json:"row_count,omitempty"`
	Columns   []*models.SchemaColumn `json:"columns"`
}

// GetVersion handles GET /api/schema-versions/{id}. The response inlines the
// full table/column graph for the version.
func (h *SchemasHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid schema version id")
		return
	}

	graph, err := h.schemaRepo.LoadGraph(r.Context(), id)
	if err != nil {
		_ = WriteError(w, err)
		return
	}

	tables := make([]schemaTableResponse, 0, len(graph.Tables))
	for _, t := range graph.Tables {
		tables = append(tables, schemaTableResponse{
			Name:      t.Name,
			Namespace: t.Namespace,
			RowCount:  t.RowCount,
			Columns:   graph.Columns[t.ID],
		})
	}

	_ = WriteJSON(w, http.StatusOK, map[string]any{
		"version":       graph.Version,
		"tables":        tables,
		"relationships": graph.Relationships,
	})
}
