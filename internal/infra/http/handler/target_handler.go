package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/reconpoint/api/internal/app"
	"github.com/reconpoint/api/pkg/apierror"
	"github.com/reconpoint/api/pkg/domain/shared"
	"github.com/reconpoint/api/pkg/domain/target"
	"github.com/reconpoint/api/pkg/logger"
	"github.com/reconpoint/api/pkg/validator"
)

// TargetHandler handles target endpoints.
type TargetHandler struct {
	service   *app.TargetService
	validator *validator.Validator
	logger    *logger.Logger
}

// NewTargetHandler creates a new TargetHandler.
func NewTargetHandler(service *app.TargetService, v *validator.Validator, log *logger.Logger) *TargetHandler {
	return &TargetHandler{
		service:   service,
		validator: v,
		logger:    log.With("handler", "target"),
	}
}

// TargetResponse is the API representation of a target.
type TargetResponse struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Description   string     `json:"description,omitempty"`
	LastScannedAt *time.Time `json:"last_scanned_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func toTargetResponse(t *target.Target) TargetResponse {
	return TargetResponse{
		ID:            t.ID.String(),
		Name:          t.Name,
		Description:   t.Description,
		LastScannedAt: t.LastScannedAt,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

// Create handles POST /api/v1/targets.
func (h *TargetHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req app.CreateTargetInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.BadRequest("Invalid request body").WriteJSON(w)
		return
	}
	if err := h.validator.Validate(req); err != nil {
		handleValidationError(w, err)
		return
	}

	t, err := h.service.CreateTarget(r.Context(), req)
	if err != nil {
		handleServiceError(w, "Target", err)
		return
	}

	respondJSON(w, http.StatusCreated, toTargetResponse(t))
}

// Get handles GET /api/v1/targets/{id}.
func (h *TargetHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := shared.IDFromString(chi.URLParam(r, "id"))
	if err != nil {
		apierror.BadRequest("Invalid target id").WriteJSON(w)
		return
	}

	t, err := h.service.GetTarget(r.Context(), id)
	if err != nil {
		handleServiceError(w, "Target", err)
		return
	}

	respondJSON(w, http.StatusOK, toTargetResponse(t))
}

// List handles GET /api/v1/targets.
func (h *TargetHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	targets, err := h.service.ListTargets(r.Context(), limit, offset)
	if err != nil {
		handleServiceError(w, "Target", err)
		return
	}

	out := make([]TargetResponse, 0, len(targets))
	for _, t := range targets {
		out = append(out, toTargetResponse(t))
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": out})
}
