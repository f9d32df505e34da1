package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/tdmstack/tdm-engine/pkg/logging"
	"github.com/tdmstack/tdm-engine/pkg/models"
	"github.com/tdmstack/tdm-engine/pkg/repositories"
)

// EnvironmentsHandler registers and lists provisioning targets. Connection
// strings are accepted on create but never echoed back.
type EnvironmentsHandler struct {
	envRepo repositories.EnvironmentRepository
	logger  *zap.Logger
}

// NewEnvironmentsHandler creates a new EnvironmentsHandler.
func NewEnvironmentsHandler(envRepo repositories.EnvironmentRepository, logger *zap.Logger) *EnvironmentsHandler {
	return &EnvironmentsHandler{envRepo: envRepo, logger: logger}
}

// RegisterRoutes registers the environment routes on the given mux.
func (h *EnvironmentsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/environments", h.Create)
	mux.HandleFunc("GET /api/environments", h.List)
}

type createEnvironmentRequest struct {
	Name             string `json:"name"`
	ConnectionString string `json:"connection_string"`
}

// Create handles POST /api/environments.
func (h *EnvironmentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createEnvironmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.ConnectionString) == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "name and connection_string are required")
		return
	}

	env := &models.Environment{
		Name:             req.Name,
		ConnectionString: req.ConnectionString,
	}
	if err := h.envRepo.Create(r.Context(), env); err != nil {
		h.logger.Error("Failed to create environment",
			zap.String("name", req.Name),
			zap.Error(err))
		_ = WriteError(w, err)
		return
	}

	h.logger.Info("Environment registered",
		zap.String("name", env.Name),
		zap.String("connection", logging.SanitizeConnectionString(env.ConnectionString)))

	_ = WriteJSON(w, http.StatusCreated, env)
}

// List handles GET /api/environments.
func (h *EnvironmentsHandler) List(w http.ResponseWriter, r *http.Request) {
	envs, err := h.envRepo.List(r.Context())
	if err != nil {
		h.logger.Error("Failed to list environments", zap.Error(err))
		_ = WriteError(w, err)
		return
	}
	if envs == nil {
		envs = []*models.Environment{}
	}
	_ = WriteJSON(w, http.StatusOK, map[string]any{"environments": envs})
}
