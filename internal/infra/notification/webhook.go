// Package notification delivers signed event payloads to webhook endpoints.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/reconpoint/api/internal/metrics"
	"github.com/reconpoint/api/pkg/domain/scan"
	"github.com/reconpoint/api/pkg/domain/webhook"
	"github.com/reconpoint/api/pkg/logger"
)

// ErrDeliveryExhausted is returned when every attempt for a delivery failed.
// The payload is dropped; the failure is visible in the delivery log.
var ErrDeliveryExhausted = errors.New("webhook delivery exhausted")

// RetryPolicy controls delivery retries. Backoff is linear:
// retry_delay * attempt between attempts.
type RetryPolicy struct {
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultRetryPolicy returns the standard delivery retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		RetryDelay: 5 * time.Second,
	}
}

// Envelope is the wire format POSTed to subscribers.
type Envelope struct {
	Event     string         `json:"event"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Deliverer sends signed event envelopes to subscriber endpoints with
// bounded retries.
type Deliverer struct {
	httpClient *http.Client
	policy     RetryPolicy
	log        webhook.DeliveryLog
	logger     *logger.Logger
}

// NewDeliverer creates a new Deliverer. requestTimeout bounds each HTTP
// attempt separately from the retry schedule.
func NewDeliverer(policy RetryPolicy, requestTimeout time.Duration, log webhook.DeliveryLog, lg *logger.Logger) *Deliverer {
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	return &Deliverer{
		httpClient: &http.Client{Timeout: requestTimeout},
		policy:     policy,
		log:        log,
		logger:     lg,
	}
}

// Deliver sends one event to one subscriber. The envelope is marshaled once
// and the signature covers those exact bytes. Returns ErrDeliveryExhausted
// after the final failed attempt.
func (d *Deliverer) Deliver(ctx context.Context, sub *webhook.Subscription, event scan.Event, data map[string]any) error {
	envelope := Envelope{
		Event:     event.String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal webhook envelope: %w", err)
	}

	maxAttempts := d.policy.MaxRetries + 1
	var lastStatus int
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			backoff := d.policy.RetryDelay * time.Duration(attempt-1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				lastErr = ctx.Err()
				d.record(ctx, sub, event, lastStatus, false, attempt-1, lastErr)
				return fmt.Errorf("%w: %v", ErrDeliveryExhausted, lastErr)
			}
		}

		metrics.WebhookDeliveryAttempts.WithLabelValues(event.String()).Inc()
		start := time.Now()
		status, err := d.post(ctx, sub, event, body)
		metrics.WebhookDeliveryDuration.WithLabelValues(event.String()).Observe(time.Since(start).Seconds())

		lastStatus = status
		lastErr = err

		if err == nil && deliverySucceeded(status) {
			metrics.WebhookDeliveriesTotal.WithLabelValues(event.String(), metrics.ResultSuccess).Inc()
			d.record(ctx, sub, event, status, true, attempt, nil)
			return nil
		}

		d.logger.Warn("webhook delivery attempt failed",
			"url", sub.URL,
			"event", event,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"status", status,
			"error", err,
		)
	}

	metrics.WebhookDeliveriesTotal.WithLabelValues(event.String(), metrics.ResultExhausted).Inc()
	d.record(ctx, sub, event, lastStatus, false, maxAttempts, lastErr)

	if lastErr != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryExhausted, lastErr)
	}
	return fmt.Errorf("%w: last status %d", ErrDeliveryExhausted, lastStatus)
}

// post performs one HTTP attempt. Returns the response status code, or 0
// with an error when no response was received.
func (d *Deliverer) post(ctx context.Context, sub *webhook.Subscription, event scan.Event, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "reconPoint-Webhook/1.0")
	req.Header.Set("X-Webhook-Event", event.String())
	if sub.Secret != "" {
		req.Header.Set("X-Webhook-Signature", webhook.Sign(sub.Secret, body))
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	// Drain a bounded amount so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	return resp.StatusCode, nil
}

// record writes the delivery outcome to the advisory log. Log failures are
// logged and swallowed so they never affect delivery results.
func (d *Deliverer) record(ctx context.Context, sub *webhook.Subscription, event scan.Event, status int, success bool, attempts int, deliveryErr error) {
	if d.log == nil {
		return
	}

	rec := webhook.DeliveryRecord{
		URL:        sub.URL,
		Event:      event,
		StatusCode: status,
		Success:    success,
		Attempts:   attempts,
		Timestamp:  time.Now().UTC(),
	}
	if deliveryErr != nil {
		rec.Error = deliveryErr.Error()
	}

	if err := d.log.Record(ctx, rec); err != nil {
		d.logger.Warn("failed to record webhook delivery", "url", sub.URL, "event", event, "error", err)
	}
}

// deliverySucceeded reports whether the status code counts as delivered.
// Only 200, 201, 202 and 204 qualify; other 2xx codes do not.
func deliverySucceeded(status int) bool {
	switch status {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNoContent:
		return true
	}
	return false
}
