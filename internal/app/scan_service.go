// Package app contains the application services coordinating domain,
// persistence, and background execution.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/reconpoint/api/internal/metrics"
	"github.com/reconpoint/api/pkg/domain/scan"
	"github.com/reconpoint/api/pkg/domain/shared"
	"github.com/reconpoint/api/pkg/domain/target"
	"github.com/reconpoint/api/pkg/logger"
)

// lockStripes is the number of mutexes serializing per-scan transitions.
const lockStripes = 64

// ScanService manages the scan lifecycle: creation behind the concurrency
// guard, status transitions, abort, progress, and the stale-scan watchdog.
type ScanService struct {
	scans      scan.Repository
	activities scan.ActivityRepository
	targets    target.Repository
	guard      scan.Guard
	executor   scan.Executor
	publisher  scan.EventPublisher
	logger     *logger.Logger

	// locks serialize transitions per scan so concurrent updates cannot
	// interleave read-modify-write cycles.
	locks [lockStripes]sync.Mutex
}

// NewScanService creates a new ScanService.
func NewScanService(
	scans scan.Repository,
	activities scan.ActivityRepository,
	targets target.Repository,
	guard scan.Guard,
	executor scan.Executor,
	publisher scan.EventPublisher,
	log *logger.Logger,
) *ScanService {
	return &ScanService{
		scans:      scans,
		activities: activities,
		targets:    targets,
		guard:      guard,
		executor:   executor,
		publisher:  publisher,
		logger:     log.With("service", "scan"),
	}
}

// CreateScanInput is the input for CreateScan.
type CreateScanInput struct {
	TargetID      shared.ID
	EngineName    string
	DeclaredTasks []string
	InitiatedBy   *shared.ID
}

// CreateScan admits a new scan for a target. Admission is decided by a
// single atomic guard reservation: if another non-terminal scan holds the
// target, creation is rejected with a conflict and nothing is persisted.
func (s *ScanService) CreateScan(ctx context.Context, input CreateScanInput) (*scan.Scan, error) {
	tgt, err := s.targets.GetByID(ctx, input.TargetID)
	if err != nil {
		return nil, err
	}

	reserved, err := s.guard.TryReserve(ctx, input.TargetID)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve scan slot: %w", err)
	}
	if !reserved {
		return nil, shared.NewDomainError("CONFLICT",
			fmt.Sprintf("a scan is already active for target %s", tgt.Name), shared.ErrConflict)
	}

	sc, err := scan.NewScan(input.TargetID, input.EngineName, input.DeclaredTasks, input.InitiatedBy)
	if err != nil {
		s.releaseGuard(ctx, input.TargetID)
		return nil, err
	}

	if err := s.scans.Create(ctx, sc); err != nil {
		s.releaseGuard(ctx, input.TargetID)
		return nil, err
	}

	metrics.ScansTotal.WithLabelValues(string(scan.StatusPending)).Inc()
	metrics.ScansInProgress.Inc()

	if err := s.targets.TouchLastScanned(ctx, input.TargetID); err != nil {
		s.logger.Warn("failed to touch target last_scanned_at", "target_id", input.TargetID, "error", err)
	}

	if err := s.dispatch(ctx, sc, tgt); err != nil {
		return nil, err
	}

	s.publish(ctx, scan.EventScanStarted, scan.StartedPayload(sc, tgt.Name))

	s.logger.Info("scan created",
		"scan_id", sc.ID,
		"target", tgt.Name,
		"engine", sc.EngineName,
		"tasks", len(sc.DeclaredTasks),
	)
	return sc, nil
}

// dispatch submits the declared tasks to the executor and moves the scan to
// running. A submission failure fails the whole scan after best-effort
// cancellation of the tasks already submitted.
func (s *ScanService) dispatch(ctx context.Context, sc *scan.Scan, tgt *target.Target) error {
	handles := make([]string, 0, len(sc.DeclaredTasks))
	var submitErr error

	for _, task := range sc.DeclaredTasks {
		handle, err := s.executor.Submit(ctx, scan.WorkUnit{
			ScanID:     sc.ID,
			TaskName:   task,
			TargetName: tgt.Name,
		})
		if err != nil {
			submitErr = fmt.Errorf("failed to submit task %q: %w", task, err)
			break
		}
		handles = append(handles, handle)
	}

	if err := sc.Start(handles); err != nil {
		return err
	}
	metrics.ScansTotal.WithLabelValues(string(scan.StatusRunning)).Inc()

	if submitErr != nil {
		for _, handle := range handles {
			if err := s.executor.Cancel(ctx, handle); err != nil {
				s.logger.Warn("failed to cancel submitted task", "scan_id", sc.ID, "handle", handle, "error", err)
			}
		}
		if err := sc.Fail(submitErr.Error()); err != nil {
			s.logger.Error("failed to fail scan after submit error", "scan_id", sc.ID, "error", err)
		}
		s.finalize(ctx, sc)
		if err := s.scans.Update(ctx, sc); err != nil {
			s.logger.Error("failed to persist failed scan", "scan_id", sc.ID, "error", err)
		}
		s.publish(ctx, scan.EventScanFailed, scan.FailedPayload(sc, tgt.Name))
		return submitErr
	}

	return s.scans.Update(ctx, sc)
}

// GetScan retrieves a scan by ID.
func (s *ScanService) GetScan(ctx context.Context, id shared.ID) (*scan.Scan, error) {
	return s.scans.GetByID(ctx, id)
}

// ListScans retrieves scans matching the filter.
func (s *ScanService) ListScans(ctx context.Context, filter scan.Filter) ([]*scan.Scan, error) {
	return s.scans.List(ctx, filter)
}

// GetProgress computes the scan's progress from the activity ledger.
func (s *ScanService) GetProgress(ctx context.Context, id shared.ID) (scan.Progress, error) {
	sc, err := s.scans.GetByID(ctx, id)
	if err != nil {
		return scan.Progress{}, err
	}

	entries, err := s.activities.ListByScan(ctx, id)
	if err != nil {
		return scan.Progress{}, err
	}

	return scan.ComputeProgress(sc.DeclaredTasks, entries), nil
}

// GetActivity returns the scan's activity timeline.
func (s *ScanService) GetActivity(ctx context.Context, id shared.ID) ([]*scan.ActivityEntry, error) {
	if _, err := s.scans.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.activities.ListByScan(ctx, id)
}

// Transition moves a scan to the given status. Re-applying the current
// terminal status is a no-op. On the first entry into a terminal state the
// guard slot is released and the matching lifecycle event is published.
func (s *ScanService) Transition(ctx context.Context, id shared.ID, next scan.Status, errorMessage string) (*scan.Scan, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	sc, err := s.scans.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	changed, err := sc.ApplyTransition(next, errorMessage)
	if err != nil {
		return nil, err
	}
	if !changed {
		return sc, nil
	}

	if err := s.scans.Update(ctx, sc); err != nil {
		return nil, err
	}

	metrics.ScansTotal.WithLabelValues(string(next)).Inc()
	s.logger.Info("scan transitioned", "scan_id", sc.ID, "status", next)

	if next.IsTerminal() {
		s.finalize(ctx, sc)
		s.publishTerminal(ctx, sc)
	}

	return sc, nil
}

// AbortScan aborts a pending or running scan. Executor cancellation is
// best-effort per handle: a handle that cannot be cancelled is logged and
// skipped, and the scan still aborts.
func (s *ScanService) AbortScan(ctx context.Context, id shared.ID, actor shared.ID) (*scan.Scan, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	sc, err := s.scans.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if sc.Status.IsTerminal() {
		return nil, shared.NewDomainError("INVALID_TRANSITION",
			fmt.Sprintf("scan already finished with status %s", sc.Status), shared.ErrValidation)
	}

	for _, handle := range sc.ExecutionHandles {
		if err := s.executor.Cancel(ctx, handle); err != nil {
			s.logger.Warn("failed to cancel execution handle", "scan_id", sc.ID, "handle", handle, "error", err)
		}
	}

	if err := sc.Abort(actor); err != nil {
		return nil, err
	}
	if err := s.scans.Update(ctx, sc); err != nil {
		return nil, err
	}

	metrics.ScansTotal.WithLabelValues(string(scan.StatusAborted)).Inc()
	s.finalize(ctx, sc)
	s.publishTerminal(ctx, sc)

	s.logger.Info("scan aborted", "scan_id", sc.ID, "aborted_by", actor)
	return sc, nil
}

// HandleStepUpdate records a sub-step outcome in the activity ledger. Late
// updates arriving after the scan finished are dropped as stale. When the
// last declared task reaches a terminal step status the scan auto-completes.
func (s *ScanService) HandleStepUpdate(ctx context.Context, scanID shared.ID, name string, status scan.StepStatus, errorMessage string) error {
	sc, err := s.scans.GetByID(ctx, scanID)
	if err != nil {
		return err
	}

	if sc.Status.IsTerminal() {
		s.logger.Debug("ignoring stale step update for finished scan",
			"scan_id", scanID, "step", name, "status", status)
		return nil
	}

	entry, err := scan.NewActivityEntry(scanID, name, status, errorMessage)
	if err != nil {
		return err
	}
	if err := s.activities.Append(ctx, entry); err != nil {
		return err
	}
	metrics.ScanActivityAppends.WithLabelValues(string(status)).Inc()

	if !status.IsTerminal() {
		return nil
	}

	entries, err := s.activities.ListByScan(ctx, scanID)
	if err != nil {
		return err
	}
	if !scan.AllDeclaredTasksFinished(sc.DeclaredTasks, entries) {
		return nil
	}

	if _, err := s.Transition(ctx, scanID, scan.StatusCompleted, ""); err != nil {
		// Another path may have finished the scan first; that is fine.
		if shared.IsValidation(err) {
			s.logger.Debug("scan already finished before auto-complete", "scan_id", scanID)
			return nil
		}
		return err
	}
	return nil
}

// FailStaleScans fails running scans that have made no progress for
// staleAfter. The watchdog calls this on a schedule. Returns the number of
// scans failed.
func (s *ScanService) FailStaleScans(ctx context.Context, staleAfter time.Duration) (int, error) {
	cutoff := time.Now().Add(-staleAfter)
	stale, err := s.scans.ListStaleRunning(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	failed := 0
	for _, sc := range stale {
		msg := fmt.Sprintf("scan timed out: no progress for %s", staleAfter)
		if _, err := s.Transition(ctx, sc.ID, scan.StatusFailed, msg); err != nil {
			s.logger.Error("failed to fail stale scan", "scan_id", sc.ID, "error", err)
			continue
		}
		metrics.ScansFailedStale.Inc()
		failed++
	}

	if failed > 0 {
		s.logger.Warn("stale scans failed by watchdog", "count", failed)
	}
	return failed, nil
}

// finalize releases the guard slot and records duration metrics. It runs
// exactly once per scan because terminal entry happens exactly once.
func (s *ScanService) finalize(ctx context.Context, sc *scan.Scan) {
	s.releaseGuard(ctx, sc.TargetID)
	metrics.ScansInProgress.Dec()
	if d := sc.Duration(); d != nil {
		metrics.ScanDuration.WithLabelValues(string(sc.Status)).Observe(d.Seconds())
	}
}

// publishTerminal emits the lifecycle event matching the scan's terminal
// status.
func (s *ScanService) publishTerminal(ctx context.Context, sc *scan.Scan) {
	event, ok := scan.TerminalEvent(sc.Status)
	if !ok {
		return
	}

	targetName := ""
	if tgt, err := s.targets.GetByID(ctx, sc.TargetID); err == nil {
		targetName = tgt.Name
	}

	var payload map[string]any
	switch event {
	case scan.EventScanCompleted:
		progress := scan.Progress{TotalTasks: len(sc.DeclaredTasks), CompletedTasks: len(sc.DeclaredTasks), Percentage: 100}
		if entries, err := s.activities.ListByScan(ctx, sc.ID); err == nil {
			progress = scan.ComputeProgress(sc.DeclaredTasks, entries)
		}
		payload = scan.CompletedPayload(sc, targetName, progress)
	case scan.EventScanFailed:
		payload = scan.FailedPayload(sc, targetName)
	case scan.EventScanAborted:
		actor := shared.ID{}
		if sc.AbortedBy != nil {
			actor = *sc.AbortedBy
		}
		payload = scan.AbortedPayload(sc, targetName, actor)
	}

	s.publish(ctx, event, payload)
}

// publish enqueues a lifecycle event. Failures are logged, never returned:
// notification problems must not affect scan state.
func (s *ScanService) publish(ctx context.Context, event scan.Event, payload map[string]any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event, payload); err != nil {
		s.logger.Error("failed to publish event", "event", event, "error", err)
	}
}

func (s *ScanService) releaseGuard(ctx context.Context, targetID shared.ID) {
	if err := s.guard.Release(ctx, targetID); err != nil {
		s.logger.Error("failed to release scan slot", "target_id", targetID, "error", err)
	}
}

func (s *ScanService) lockFor(id shared.ID) *sync.Mutex {
	var sum int
	for _, b := range []byte(id.String()) {
		sum += int(b)
	}
	return &s.locks[sum%lockStripes]
}
