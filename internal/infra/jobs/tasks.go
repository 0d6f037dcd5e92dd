// Package jobs runs scan tasks and webhook fan-out on asynq.
package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/reconpoint/api/pkg/domain/scan"
)

// Task type names.
const (
	TypeScanRunTask    = "scan:run_task"
	TypeWebhookEvent   = "webhook:event"
	TypeWebhookDeliver = "webhook:deliver"
)

// Queue names. Scan tasks and webhook deliveries run on separate queues so
// notification bursts cannot starve scans.
const (
	QueueScans    = "scans"
	QueueWebhooks = "webhooks"
)

// ScanTaskPayload is the payload for one scan sub-task.
type ScanTaskPayload struct {
	ScanID     string         `json:"scan_id"`
	TaskName   string         `json:"task_name"`
	TargetName string         `json:"target_name"`
	Config     map[string]any `json:"config,omitempty"`
}

// WebhookEventPayload is the payload for an event fan-out task.
type WebhookEventPayload struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

// WebhookDeliverPayload is the payload for one subscriber delivery.
type WebhookDeliverPayload struct {
	SubscriptionID string         `json:"subscription_id"`
	Event          string         `json:"event"`
	Data           map[string]any `json:"data"`
}

// NewScanTask creates a scan sub-task.
func NewScanTask(payload ScanTaskPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal scan task payload: %w", err)
	}
	return asynq.NewTask(TypeScanRunTask, data, asynq.Queue(QueueScans)), nil
}

// NewWebhookEventTask creates an event fan-out task.
func NewWebhookEventTask(event scan.Event, data map[string]any) (*asynq.Task, error) {
	payload, err := json.Marshal(WebhookEventPayload{Event: event.String(), Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}
	return asynq.NewTask(TypeWebhookEvent, payload, asynq.Queue(QueueWebhooks)), nil
}

// NewWebhookDeliverTask creates a per-subscriber delivery task. Retries are
// handled inside the deliverer, so asynq must not retry on top of that.
func NewWebhookDeliverTask(payload WebhookDeliverPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal delivery payload: %w", err)
	}
	return asynq.NewTask(TypeWebhookDeliver, data, asynq.Queue(QueueWebhooks), asynq.MaxRetry(0)), nil
}
