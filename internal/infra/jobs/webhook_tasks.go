package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/reconpoint/api/internal/infra/notification"
	"github.com/reconpoint/api/pkg/domain/scan"
	"github.com/reconpoint/api/pkg/domain/shared"
	"github.com/reconpoint/api/pkg/domain/webhook"
	"github.com/reconpoint/api/pkg/logger"
)

// DeliveryEnqueuer enqueues per-subscriber delivery tasks.
type DeliveryEnqueuer interface {
	EnqueueDelivery(ctx context.Context, payload WebhookDeliverPayload) error
}

// WebhookTaskHandler fans events out to subscribers and performs deliveries.
type WebhookTaskHandler struct {
	subscriptions webhook.Repository
	deliverer     *notification.Deliverer
	enqueuer      DeliveryEnqueuer
	logger        *logger.Logger
}

// NewWebhookTaskHandler creates a new WebhookTaskHandler.
func NewWebhookTaskHandler(subscriptions webhook.Repository, deliverer *notification.Deliverer, enqueuer DeliveryEnqueuer, log *logger.Logger) *WebhookTaskHandler {
	return &WebhookTaskHandler{
		subscriptions: subscriptions,
		deliverer:     deliverer,
		enqueuer:      enqueuer,
		logger:        log.With("component", "webhook_task_handler"),
	}
}

// RegisterHandlers registers webhook task handlers on the mux.
func (h *WebhookTaskHandler) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeWebhookEvent, h.HandleEvent)
	mux.HandleFunc(TypeWebhookDeliver, h.HandleDeliver)
}

// HandleEvent fans one event out into per-subscriber delivery tasks. One
// slow or failing endpoint only blocks its own task.
func (h *WebhookTaskHandler) HandleEvent(ctx context.Context, t *asynq.Task) error {
	var payload WebhookEventPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal event payload: %w", err)
	}

	event := scan.Event(payload.Event)
	if !event.IsValid() {
		h.logger.Error("dropping unknown event", "event", payload.Event)
		return nil
	}

	subs, err := h.subscriptions.ListActiveForEvent(ctx, event)
	if err != nil {
		return fmt.Errorf("failed to list subscribers: %w", err)
	}
	if len(subs) == 0 {
		return nil
	}

	for _, sub := range subs {
		err := h.enqueuer.EnqueueDelivery(ctx, WebhookDeliverPayload{
			SubscriptionID: sub.ID.String(),
			Event:          payload.Event,
			Data:           payload.Data,
		})
		if err != nil {
			h.logger.Error("failed to enqueue delivery", "subscription_id", sub.ID, "event", event, "error", err)
		}
	}

	h.logger.Info("event fanned out", "event", event, "subscribers", len(subs))
	return nil
}

// HandleDeliver delivers one event to one subscriber. Retries happen inside
// the deliverer; an exhausted delivery is final and must not requeue.
func (h *WebhookTaskHandler) HandleDeliver(ctx context.Context, t *asynq.Task) error {
	var payload WebhookDeliverPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal delivery payload: %w", err)
	}

	subID, err := shared.IDFromString(payload.SubscriptionID)
	if err != nil {
		return fmt.Errorf("invalid subscription id %q: %w", payload.SubscriptionID, err)
	}

	sub, err := h.subscriptions.GetByID(ctx, subID)
	if err != nil {
		if shared.IsNotFound(err) {
			// Subscription removed between fan-out and delivery.
			return nil
		}
		return fmt.Errorf("failed to load subscription: %w", err)
	}
	if !sub.Active {
		return nil
	}

	err = h.deliverer.Deliver(ctx, sub, scan.Event(payload.Event), payload.Data)
	if errors.Is(err, notification.ErrDeliveryExhausted) {
		h.logger.Error("webhook delivery exhausted, payload dropped",
			"url", sub.URL,
			"event", payload.Event,
			"error", err,
		)
		return nil
	}
	return err
}
