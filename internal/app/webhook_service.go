package app

import (
	"context"
	"net"
	"net/url"
	"strings"

	"github.com/reconpoint/api/internal/infra/notification"
	"github.com/reconpoint/api/pkg/domain/scan"
	"github.com/reconpoint/api/pkg/domain/shared"
	"github.com/reconpoint/api/pkg/domain/webhook"
	"github.com/reconpoint/api/pkg/logger"
)

// WebhookService manages webhook subscriptions and on-demand test deliveries.
type WebhookService struct {
	repo        webhook.Repository
	deliveryLog webhook.DeliveryLog
	deliverer   *notification.Deliverer
	logger      *logger.Logger

	// allowPrivateURLs disables the SSRF guard for development setups.
	allowPrivateURLs bool
}

// NewWebhookService creates a new WebhookService.
func NewWebhookService(repo webhook.Repository, deliveryLog webhook.DeliveryLog, deliverer *notification.Deliverer, allowPrivateURLs bool, log *logger.Logger) *WebhookService {
	return &WebhookService{
		repo:             repo,
		deliveryLog:      deliveryLog,
		deliverer:        deliverer,
		allowPrivateURLs: allowPrivateURLs,
		logger:           log.With("service", "webhook"),
	}
}

// SubscribeInput is the input for Subscribe.
type SubscribeInput struct {
	Name   string       `json:"name" validate:"required,min=1,max=100"`
	URL    string       `json:"url" validate:"required,url"`
	Secret string       `json:"secret"`
	Events []scan.Event `json:"events" validate:"required,min=1"`
}

// Subscribe registers an endpoint for events, or extends an existing
// subscription for the same URL with the new events.
func (s *WebhookService) Subscribe(ctx context.Context, input SubscribeInput) (*webhook.Subscription, error) {
	if err := s.validateURL(input.URL); err != nil {
		return nil, err
	}

	existing, err := s.repo.GetByURL(ctx, input.URL)
	if err == nil {
		for _, e := range input.Events {
			if err := existing.AddEvent(e); err != nil {
				return nil, err
			}
		}
		if input.Secret != "" {
			existing.Secret = input.Secret
		}
		existing.Activate()
		if err := s.repo.Update(ctx, existing); err != nil {
			return nil, err
		}
		s.logger.Info("subscription extended", "id", existing.ID, "url", existing.URL, "events", len(existing.Events))
		return existing, nil
	}
	if !shared.IsNotFound(err) {
		return nil, err
	}

	sub, err := webhook.NewSubscription(input.Name, input.URL, input.Secret, input.Events)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, sub); err != nil {
		return nil, err
	}

	s.logger.Info("subscription created", "id", sub.ID, "url", sub.URL, "events", len(sub.Events))
	return sub, nil
}

// Unsubscribe removes an event from a subscription, or deletes the whole
// subscription when event is empty or no events remain.
func (s *WebhookService) Unsubscribe(ctx context.Context, id shared.ID, event scan.Event) error {
	sub, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if event == "" {
		if err := s.repo.Delete(ctx, id); err != nil {
			return err
		}
		s.logger.Info("subscription deleted", "id", id, "url", sub.URL)
		return nil
	}

	sub.RemoveEvent(event)
	if !sub.HasEvents() {
		if err := s.repo.Delete(ctx, id); err != nil {
			return err
		}
		s.logger.Info("subscription deleted after last event removed", "id", id, "url", sub.URL)
		return nil
	}

	return s.repo.Update(ctx, sub)
}

// GetSubscription retrieves a subscription by ID.
func (s *WebhookService) GetSubscription(ctx context.Context, id shared.ID) (*webhook.Subscription, error) {
	return s.repo.GetByID(ctx, id)
}

// ListSubscriptions retrieves all subscriptions.
func (s *WebhookService) ListSubscriptions(ctx context.Context) ([]*webhook.Subscription, error) {
	return s.repo.List(ctx)
}

// SetActive enables or disables delivery for a subscription.
func (s *WebhookService) SetActive(ctx context.Context, id shared.ID, active bool) (*webhook.Subscription, error) {
	sub, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if active {
		sub.Activate()
	} else {
		sub.Deactivate()
	}
	if err := s.repo.Update(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// RecentDeliveries returns the recent delivery history for a subscription
// and event.
func (s *WebhookService) RecentDeliveries(ctx context.Context, id shared.ID, event scan.Event) ([]webhook.DeliveryRecord, error) {
	sub, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.deliveryLog.Recent(ctx, sub.URL, event)
}

// TestWebhook synchronously delivers a webhook.test event to the
// subscription's endpoint so operators can verify their integration.
func (s *WebhookService) TestWebhook(ctx context.Context, id shared.ID) error {
	sub, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	data := map[string]any{
		"message":         "test delivery",
		"subscription_id": sub.ID.String(),
	}
	return s.deliverer.Deliver(ctx, sub, scan.EventWebhookTest, data)
}

// validateURL rejects webhook URLs that could reach internal services.
func (s *WebhookService) validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return shared.NewDomainError("VALIDATION", "invalid webhook URL", shared.ErrValidation)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "https" && scheme != "http" {
		return shared.NewDomainError("VALIDATION", "webhook URL must use HTTPS or HTTP", shared.ErrValidation)
	}

	host := u.Hostname()
	if host == "" {
		return shared.NewDomainError("VALIDATION", "webhook URL must have a hostname", shared.ErrValidation)
	}

	if s.allowPrivateURLs {
		return nil
	}

	lower := strings.ToLower(host)
	if lower == "localhost" || lower == "127.0.0.1" || lower == "::1" || lower == "0.0.0.0" {
		return shared.NewDomainError("VALIDATION", "webhook URL cannot target localhost", shared.ErrValidation)
	}

	// Cloud metadata endpoints.
	if lower == "169.254.169.254" || lower == "metadata.google.internal" {
		return shared.NewDomainError("VALIDATION", "webhook URL cannot target cloud metadata services", shared.ErrValidation)
	}

	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
			return shared.NewDomainError("VALIDATION", "webhook URL cannot target private or reserved IP addresses", shared.ErrValidation)
		}
	}

	return nil
}
