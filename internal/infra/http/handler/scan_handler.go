package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/reconpoint/api/internal/app"
	"github.com/reconpoint/api/pkg/apierror"
	"github.com/reconpoint/api/pkg/domain/scan"
	"github.com/reconpoint/api/pkg/domain/shared"
	"github.com/reconpoint/api/pkg/logger"
	"github.com/reconpoint/api/pkg/validator"
)

// ScanHandler handles scan lifecycle endpoints.
type ScanHandler struct {
	service   *app.ScanService
	validator *validator.Validator
	logger    *logger.Logger
}

// NewScanHandler creates a new ScanHandler.
func NewScanHandler(service *app.ScanService, v *validator.Validator, log *logger.Logger) *ScanHandler {
	return &ScanHandler{
		service:   service,
		validator: v,
		logger:    log.With("handler", "scan"),
	}
}

// CreateScanRequest is the request body for POST /scans.
type CreateScanRequest struct {
	TargetID      string   `json:"target_id" validate:"required,uuid"`
	EngineName    string   `json:"engine_name" validate:"required,min=1,max=100"`
	DeclaredTasks []string `json:"declared_tasks"`
	InitiatedBy   string   `json:"initiated_by" validate:"omitempty,uuid"`
}

// ScanResponse is the API representation of a scan.
type ScanResponse struct {
	ID               string     `json:"id"`
	TargetID         string     `json:"target_id"`
	EngineName       string     `json:"engine_name"`
	DeclaredTasks    []string   `json:"declared_tasks"`
	ExecutionHandles []string   `json:"execution_handles"`
	Status           string     `json:"status"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	StoppedAt        *time.Time `json:"stopped_at,omitempty"`
	Duration         string     `json:"duration"`
	InitiatedBy      *string    `json:"initiated_by,omitempty"`
	AbortedBy        *string    `json:"aborted_by,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func toScanResponse(s *scan.Scan) ScanResponse {
	resp := ScanResponse{
		ID:               s.ID.String(),
		TargetID:         s.TargetID.String(),
		EngineName:       s.EngineName,
		DeclaredTasks:    s.DeclaredTasks,
		ExecutionHandles: s.ExecutionHandles,
		Status:           string(s.Status),
		ErrorMessage:     s.ErrorMessage,
		StartedAt:        s.StartedAt,
		StoppedAt:        s.StoppedAt,
		Duration:         s.DurationFormatted(),
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
	if s.InitiatedBy != nil {
		uid := s.InitiatedBy.String()
		resp.InitiatedBy = &uid
	}
	if s.AbortedBy != nil {
		uid := s.AbortedBy.String()
		resp.AbortedBy = &uid
	}
	return resp
}

// Create handles POST /api/v1/scans.
func (h *ScanHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.BadRequest("Invalid request body").WriteJSON(w)
		return
	}

	if err := h.validator.Validate(req); err != nil {
		handleValidationError(w, err)
		return
	}

	targetID, err := shared.IDFromString(req.TargetID)
	if err != nil {
		apierror.BadRequest("Invalid target_id").WriteJSON(w)
		return
	}

	input := app.CreateScanInput{
		TargetID:      targetID,
		EngineName:    req.EngineName,
		DeclaredTasks: req.DeclaredTasks,
	}
	if req.InitiatedBy != "" {
		uid, err := shared.IDFromString(req.InitiatedBy)
		if err != nil {
			apierror.BadRequest("Invalid initiated_by").WriteJSON(w)
			return
		}
		input.InitiatedBy = &uid
	}

	sc, err := h.service.CreateScan(r.Context(), input)
	if err != nil {
		handleServiceError(w, "Target", err)
		return
	}

	respondJSON(w, http.StatusCreated, toScanResponse(sc))
}

// Get handles GET /api/v1/scans/{id}.
func (h *ScanHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := shared.IDFromString(chi.URLParam(r, "id"))
	if err != nil {
		apierror.BadRequest("Invalid scan id").WriteJSON(w)
		return
	}

	sc, err := h.service.GetScan(r.Context(), id)
	if err != nil {
		handleServiceError(w, "Scan", err)
		return
	}

	respondJSON(w, http.StatusOK, toScanResponse(sc))
}

// List handles GET /api/v1/scans.
func (h *ScanHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := scan.Filter{Limit: 50}

	if v := r.URL.Query().Get("target_id"); v != "" {
		id, err := shared.IDFromString(v)
		if err != nil {
			apierror.BadRequest("Invalid target_id").WriteJSON(w)
			return
		}
		filter.TargetID = &id
	}
	if v := r.URL.Query().Get("status"); v != "" {
		status := scan.Status(v)
		if !status.IsValid() {
			apierror.BadRequest("Invalid status").WriteJSON(w)
			return
		}
		filter.Status = &status
	}

	scans, err := h.service.ListScans(r.Context(), filter)
	if err != nil {
		handleServiceError(w, "Scan", err)
		return
	}

	out := make([]ScanResponse, 0, len(scans))
	for _, s := range scans {
		out = append(out, toScanResponse(s))
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": out})
}

// TransitionRequest is the request body for PATCH /scans/{id}/status.
type TransitionRequest struct {
	Status       string `json:"status" validate:"required,scan_status"`
	ErrorMessage string `json:"error_message"`
}

// Transition handles PATCH /api/v1/scans/{id}/status.
func (h *ScanHandler) Transition(w http.ResponseWriter, r *http.Request) {
	id, err := shared.IDFromString(chi.URLParam(r, "id"))
	if err != nil {
		apierror.BadRequest("Invalid scan id").WriteJSON(w)
		return
	}

	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.BadRequest("Invalid request body").WriteJSON(w)
		return
	}
	if err := h.validator.Validate(req); err != nil {
		handleValidationError(w, err)
		return
	}

	sc, err := h.service.Transition(r.Context(), id, scan.Status(req.Status), req.ErrorMessage)
	if err != nil {
		handleServiceError(w, "Scan", err)
		return
	}

	respondJSON(w, http.StatusOK, toScanResponse(sc))
}

// AbortRequest is the request body for POST /scans/{id}/abort.
type AbortRequest struct {
	AbortedBy string `json:"aborted_by" validate:"required,uuid"`
}

// Abort handles POST /api/v1/scans/{id}/abort.
func (h *ScanHandler) Abort(w http.ResponseWriter, r *http.Request) {
	id, err := shared.IDFromString(chi.URLParam(r, "id"))
	if err != nil {
		apierror.BadRequest("Invalid scan id").WriteJSON(w)
		return
	}

	var req AbortRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.BadRequest("Invalid request body").WriteJSON(w)
		return
	}
	if err := h.validator.Validate(req); err != nil {
		handleValidationError(w, err)
		return
	}

	actor, err := shared.IDFromString(req.AbortedBy)
	if err != nil {
		apierror.BadRequest("Invalid aborted_by").WriteJSON(w)
		return
	}

	sc, err := h.service.AbortScan(r.Context(), id, actor)
	if err != nil {
		handleServiceError(w, "Scan", err)
		return
	}

	respondJSON(w, http.StatusOK, toScanResponse(sc))
}

// Progress handles GET /api/v1/scans/{id}/progress.
func (h *ScanHandler) Progress(w http.ResponseWriter, r *http.Request) {
	id, err := shared.IDFromString(chi.URLParam(r, "id"))
	if err != nil {
		apierror.BadRequest("Invalid scan id").WriteJSON(w)
		return
	}

	progress, err := h.service.GetProgress(r.Context(), id)
	if err != nil {
		handleServiceError(w, "Scan", err)
		return
	}

	respondJSON(w, http.StatusOK, progress)
}

// ActivityResponse is the API representation of an activity entry.
type ActivityResponse struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Status       string    `json:"status"`
	Time         time.Time `json:"time"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// Activity handles GET /api/v1/scans/{id}/activity.
func (h *ScanHandler) Activity(w http.ResponseWriter, r *http.Request) {
	id, err := shared.IDFromString(chi.URLParam(r, "id"))
	if err != nil {
		apierror.BadRequest("Invalid scan id").WriteJSON(w)
		return
	}

	entries, err := h.service.GetActivity(r.Context(), id)
	if err != nil {
		handleServiceError(w, "Scan", err)
		return
	}

	out := make([]ActivityResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, ActivityResponse{
			ID:           e.ID.String(),
			Name:         e.Name,
			Status:       string(e.Status),
			Time:         e.Time,
			ErrorMessage: e.ErrorMessage,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": out})
}
