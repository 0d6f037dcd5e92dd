package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/reconpoint/api/pkg/domain/scan"
	"github.com/reconpoint/api/pkg/domain/shared"
	"github.com/reconpoint/api/pkg/logger"
)

// StepUpdater receives sub-step results from the worker. The lifecycle
// manager implements it.
type StepUpdater interface {
	HandleStepUpdate(ctx context.Context, scanID shared.ID, name string, status scan.StepStatus, errorMessage string) error
}

// ToolRunner executes one named recon task against a target.
type ToolRunner interface {
	Run(ctx context.Context, unit scan.WorkUnit) error
}

// ScanTaskHandler processes scan sub-tasks.
type ScanTaskHandler struct {
	runner  ToolRunner
	updater StepUpdater
	logger  *logger.Logger
}

// NewScanTaskHandler creates a new ScanTaskHandler.
func NewScanTaskHandler(runner ToolRunner, updater StepUpdater, log *logger.Logger) *ScanTaskHandler {
	return &ScanTaskHandler{
		runner:  runner,
		updater: updater,
		logger:  log.With("component", "scan_task_handler"),
	}
}

// RegisterHandlers registers scan task handlers on the mux.
func (h *ScanTaskHandler) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeScanRunTask, h.HandleScanTask)
}

// HandleScanTask runs one scan sub-task and reports its outcome to the
// lifecycle manager. Stale updates against finished scans are dropped by
// the manager, so a late task completing is harmless.
func (h *ScanTaskHandler) HandleScanTask(ctx context.Context, t *asynq.Task) error {
	var payload ScanTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal scan task payload: %w", err)
	}

	scanID, err := shared.IDFromString(payload.ScanID)
	if err != nil {
		return fmt.Errorf("invalid scan id %q: %w", payload.ScanID, err)
	}

	log := h.logger.With("scan_id", payload.ScanID, "task_name", payload.TaskName)
	log.Info("scan task started", "target", payload.TargetName)

	if err := h.updater.HandleStepUpdate(ctx, scanID, payload.TaskName, scan.StepStarted, ""); err != nil {
		log.Warn("failed to record task start", "error", err)
	}

	unit := scan.WorkUnit{
		ScanID:     scanID,
		TaskName:   payload.TaskName,
		TargetName: payload.TargetName,
		Config:     payload.Config,
	}

	if runErr := h.runner.Run(ctx, unit); runErr != nil {
		log.Error("scan task failed", "error", runErr)
		if err := h.updater.HandleStepUpdate(ctx, scanID, payload.TaskName, scan.StepFailed, runErr.Error()); err != nil {
			log.Warn("failed to record task failure", "error", err)
		}
		// The failure is recorded in the ledger; do not retry the tool.
		return nil
	}

	log.Info("scan task completed")
	if err := h.updater.HandleStepUpdate(ctx, scanID, payload.TaskName, scan.StepCompleted, ""); err != nil {
		log.Warn("failed to record task completion", "error", err)
	}

	return nil
}
