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
	"github.com/reconpoint/api/pkg/domain/webhook"
	"github.com/reconpoint/api/pkg/logger"
	"github.com/reconpoint/api/pkg/validator"
)

// WebhookHandler handles webhook subscription endpoints.
type WebhookHandler struct {
	service   *app.WebhookService
	validator *validator.Validator
	logger    *logger.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(service *app.WebhookService, v *validator.Validator, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		service:   service,
		validator: v,
		logger:    log.With("handler", "webhook"),
	}
}

// SubscriptionResponse is the API representation of a subscription.
// The secret is never returned.
type SubscriptionResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	HasSecret bool      `json:"has_secret"`
	Events    []string  `json:"events"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toSubscriptionResponse(s *webhook.Subscription) SubscriptionResponse {
	events := make([]string, 0, len(s.Events))
	for _, e := range s.Events {
		events = append(events, e.String())
	}
	return SubscriptionResponse{
		ID:        s.ID.String(),
		Name:      s.Name,
		URL:       s.URL,
		HasSecret: s.Secret != "",
		Events:    events,
		Active:    s.Active,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

// SubscribeRequest is the request body for POST /webhooks.
type SubscribeRequest struct {
	Name   string   `json:"name" validate:"required,min=1,max=100"`
	URL    string   `json:"url" validate:"required,url"`
	Secret string   `json:"secret"`
	Events []string `json:"events" validate:"required,min=1,dive,event_type"`
}

// Subscribe handles POST /api/v1/webhooks.
func (h *WebhookHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.BadRequest("Invalid request body").WriteJSON(w)
		return
	}
	if err := h.validator.Validate(req); err != nil {
		handleValidationError(w, err)
		return
	}

	events := make([]scan.Event, 0, len(req.Events))
	for _, e := range req.Events {
		events = append(events, scan.Event(e))
	}

	sub, err := h.service.Subscribe(r.Context(), app.SubscribeInput{
		Name:   req.Name,
		URL:    req.URL,
		Secret: req.Secret,
		Events: events,
	})
	if err != nil {
		handleServiceError(w, "Subscription", err)
		return
	}

	respondJSON(w, http.StatusCreated, toSubscriptionResponse(sub))
}

// Unsubscribe handles DELETE /api/v1/webhooks/{id}.
// An optional ?event= query removes a single event instead of the whole
// subscription.
func (h *WebhookHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	id, err := shared.IDFromString(chi.URLParam(r, "id"))
	if err != nil {
		apierror.BadRequest("Invalid subscription id").WriteJSON(w)
		return
	}

	event := scan.Event(r.URL.Query().Get("event"))
	if event != "" && !event.IsValid() {
		apierror.BadRequest("Unknown event").WriteJSON(w)
		return
	}

	if err := h.service.Unsubscribe(r.Context(), id, event); err != nil {
		handleServiceError(w, "Subscription", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Get handles GET /api/v1/webhooks/{id}.
func (h *WebhookHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := shared.IDFromString(chi.URLParam(r, "id"))
	if err != nil {
		apierror.BadRequest("Invalid subscription id").WriteJSON(w)
		return
	}

	sub, err := h.service.GetSubscription(r.Context(), id)
	if err != nil {
		handleServiceError(w, "Subscription", err)
		return
	}

	respondJSON(w, http.StatusOK, toSubscriptionResponse(sub))
}

// List handles GET /api/v1/webhooks.
func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	subs, err := h.service.ListSubscriptions(r.Context())
	if err != nil {
		handleServiceError(w, "Subscription", err)
		return
	}

	out := make([]SubscriptionResponse, 0, len(subs))
	for _, s := range subs {
		out = append(out, toSubscriptionResponse(s))
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": out})
}

// SetActiveRequest is the request body for PATCH /webhooks/{id}.
type SetActiveRequest struct {
	Active bool `json:"active"`
}

// SetActive handles PATCH /api/v1/webhooks/{id}.
func (h *WebhookHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	id, err := shared.IDFromString(chi.URLParam(r, "id"))
	if err != nil {
		apierror.BadRequest("Invalid subscription id").WriteJSON(w)
		return
	}

	var req SetActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.BadRequest("Invalid request body").WriteJSON(w)
		return
	}

	sub, err := h.service.SetActive(r.Context(), id, req.Active)
	if err != nil {
		handleServiceError(w, "Subscription", err)
		return
	}

	respondJSON(w, http.StatusOK, toSubscriptionResponse(sub))
}

// Test handles POST /api/v1/webhooks/{id}/test.
func (h *WebhookHandler) Test(w http.ResponseWriter, r *http.Request) {
	id, err := shared.IDFromString(chi.URLParam(r, "id"))
	if err != nil {
		apierror.BadRequest("Invalid subscription id").WriteJSON(w)
		return
	}

	if err := h.service.TestWebhook(r.Context(), id); err != nil {
		if shared.IsNotFound(err) {
			handleServiceError(w, "Subscription", err)
			return
		}
		// The endpoint rejected or timed out; report the outcome, not a
		// server error.
		respondJSON(w, http.StatusOK, map[string]any{"success": false, "error": err.Error()})
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

// Deliveries handles GET /api/v1/webhooks/{id}/deliveries?event=...
func (h *WebhookHandler) Deliveries(w http.ResponseWriter, r *http.Request) {
	id, err := shared.IDFromString(chi.URLParam(r, "id"))
	if err != nil {
		apierror.BadRequest("Invalid subscription id").WriteJSON(w)
		return
	}

	event := scan.Event(r.URL.Query().Get("event"))
	if !event.IsValid() {
		apierror.BadRequest("Unknown or missing event").WriteJSON(w)
		return
	}

	recs, err := h.service.RecentDeliveries(r.Context(), id, event)
	if err != nil {
		handleServiceError(w, "Subscription", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"data": recs})
}
