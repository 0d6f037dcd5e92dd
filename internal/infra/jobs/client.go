package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/reconpoint/api/pkg/domain/scan"
	"github.com/reconpoint/api/pkg/logger"
)

// ClientConfig contains configuration for the job client.
type ClientConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Client enqueues background jobs using Asynq. It implements scan.Executor:
// the asynq task id is the execution handle, and Cancel works by handle.
type Client struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	logger    *logger.Logger
}

// NewClient creates a new job client for enqueueing tasks.
func NewClient(cfg ClientConfig, log *logger.Logger) (*Client, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	return &Client{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		logger:    log.With("component", "job_client"),
	}, nil
}

// Close closes the client connections.
func (c *Client) Close() error {
	ierr := c.inspector.Close()
	cerr := c.client.Close()
	if cerr != nil {
		return cerr
	}
	return ierr
}

// Submit enqueues one scan sub-task and returns the task id as the
// execution handle.
func (c *Client) Submit(ctx context.Context, unit scan.WorkUnit) (string, error) {
	task, err := NewScanTask(ScanTaskPayload{
		ScanID:     unit.ScanID.String(),
		TaskName:   unit.TaskName,
		TargetName: unit.TargetName,
		Config:     unit.Config,
	})
	if err != nil {
		return "", err
	}

	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue scan task: %w", err)
	}

	c.logger.Info("scan task queued",
		"task_id", info.ID,
		"scan_id", unit.ScanID,
		"task_name", unit.TaskName,
		"queue", info.Queue,
	)
	return info.ID, nil
}

// Cancel requests cancellation of a scan task by its handle. Queued tasks
// are deleted, in-flight tasks get a cancellation signal. Unknown handles
// are treated as already finished.
func (c *Client) Cancel(ctx context.Context, handleID string) error {
	err := c.inspector.DeleteTask(QueueScans, handleID)
	if err == nil {
		return nil
	}
	if errors.Is(err, asynq.ErrTaskNotFound) {
		return nil
	}

	// The task may be active; signal its handler context instead.
	if cancelErr := c.inspector.CancelProcessing(handleID); cancelErr != nil {
		return fmt.Errorf("failed to cancel task %s: %w", handleID, cancelErr)
	}
	return nil
}

// Publish enqueues an event fan-out task. It implements scan.EventPublisher.
func (c *Client) Publish(ctx context.Context, event scan.Event, data map[string]any) error {
	task, err := NewWebhookEventTask(event, data)
	if err != nil {
		return err
	}

	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("failed to enqueue webhook event: %w", err)
	}

	c.logger.Debug("webhook event queued", "task_id", info.ID, "event", event)
	return nil
}

// EnqueueDelivery enqueues one subscriber delivery task.
func (c *Client) EnqueueDelivery(ctx context.Context, payload WebhookDeliverPayload) error {
	task, err := NewWebhookDeliverTask(payload)
	if err != nil {
		return err
	}

	if _, err := c.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("failed to enqueue webhook delivery: %w", err)
	}
	return nil
}
