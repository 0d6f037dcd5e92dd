package jobs

import (
	"context"

	"github.com/hibiken/asynq"

	"github.com/reconpoint/api/pkg/logger"
)

// WorkerConfig holds the configuration for the job worker.
type WorkerConfig struct {
	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	Concurrency          int
	ScanQueuePriority    int
	WebhookQueuePriority int
}

// WorkerOption is a functional option for configuring the Worker.
type WorkerOption func(*Worker)

// Worker processes background jobs.
type Worker struct {
	server         *asynq.Server
	mux            *asynq.ServeMux
	logger         *logger.Logger
	scanHandler    *ScanTaskHandler
	webhookHandler *WebhookTaskHandler
}

// WithScanHandler registers the scan task handler on the worker.
func WithScanHandler(h *ScanTaskHandler) WorkerOption {
	return func(w *Worker) {
		w.scanHandler = h
	}
}

// WithWebhookHandler registers the webhook task handler on the worker.
func WithWebhookHandler(h *WebhookTaskHandler) WorkerOption {
	return func(w *Worker) {
		w.webhookHandler = h
	}
}

// NewWorker creates a new background job worker.
func NewWorker(cfg WorkerConfig, log *logger.Logger, opts ...WorkerOption) *Worker {
	scanPriority := cfg.ScanQueuePriority
	if scanPriority <= 0 {
		scanPriority = 6
	}
	webhookPriority := cfg.WebhookQueuePriority
	if webhookPriority <= 0 {
		webhookPriority = 3
	}

	server := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		},
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				QueueScans:    scanPriority,
				QueueWebhooks: webhookPriority,
				"default":     1,
			},
		},
	)

	w := &Worker{
		server: server,
		mux:    asynq.NewServeMux(),
		logger: log.With("component", "worker"),
	}

	for _, opt := range opts {
		opt(w)
	}

	if w.scanHandler != nil {
		w.scanHandler.RegisterHandlers(w.mux)
		w.logger.Info("scan task handlers registered")
	}
	if w.webhookHandler != nil {
		w.webhookHandler.RegisterHandlers(w.mux)
		w.logger.Info("webhook task handlers registered")
	}

	return w
}

// Start begins processing jobs. It does not block.
func (w *Worker) Start() error {
	w.logger.Info("starting job worker")
	return w.server.Start(w.mux)
}

// Shutdown gracefully stops the worker, waiting for in-flight tasks.
func (w *Worker) Shutdown(ctx context.Context) {
	w.logger.Info("shutting down job worker")
	done := make(chan struct{})
	go func() {
		w.server.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		w.server.Stop()
	}
}
