// Package scan contains the scan lifecycle domain: the scan record state
// machine, the activity ledger, progress computation, and lifecycle events.
package scan

import (
	"fmt"
	"strings"
	"time"

	"github.com/reconpoint/api/pkg/domain/shared"
)

// MaxErrorMessageLen bounds stored error messages to protect storage.
const MaxErrorMessageLen = 300

// Status represents the scan lifecycle status.
type Status string

const (
	StatusPending   Status = "pending"   // Scan created, no work accepted by the executor yet
	StatusRunning   Status = "running"   // Executor accepted work, tasks in flight
	StatusCompleted Status = "completed" // All declared tasks reached a terminal step status
	StatusFailed    Status = "failed"    // Unrecoverable internal error
	StatusAborted   Status = "aborted"   // Operator abort
)

// AllStatuses returns all valid statuses.
func AllStatuses() []Status {
	return []Status{StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusAborted}
}

// IsValid checks if the status is a valid status value.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusAborted:
		return true
	}
	return false
}

// IsTerminal returns true if the status is a terminal (absorbing) state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusAborted:
		return true
	}
	return false
}

// IsActive returns true for the non-terminal states counted by the
// concurrency guard.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusRunning
}

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// CanTransitionTo reports whether the state machine permits moving from s
// to next. Terminal states are absorbing.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusRunning || next == StatusAborted
	case StatusRunning:
		return next == StatusCompleted || next == StatusFailed || next == StatusAborted
	default:
		return false
	}
}

// Scan represents one attempt to scan one target. The target itself is owned
// elsewhere; the scan only references it.
type Scan struct {
	ID       shared.ID
	TargetID shared.ID

	// EngineName names the scan profile the declared tasks came from.
	EngineName string

	// DeclaredTasks is the ordered task list expected to run, fixed at creation.
	DeclaredTasks []string

	// ExecutionHandles are opaque executor ids used for cancellation.
	// Empty only while the scan is pending.
	ExecutionHandles []string

	Status       Status
	ErrorMessage string

	StartedAt *time.Time
	StoppedAt *time.Time

	InitiatedBy *shared.ID
	AbortedBy   *shared.ID

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewScan creates a new scan in pending state.
func NewScan(targetID shared.ID, engineName string, declaredTasks []string, initiatedBy *shared.ID) (*Scan, error) {
	if targetID.IsZero() {
		return nil, shared.NewDomainError("VALIDATION", "target_id is required", shared.ErrValidation)
	}
	if engineName == "" {
		return nil, shared.NewDomainError("VALIDATION", "engine_name is required", shared.ErrValidation)
	}

	now := time.Now()
	return &Scan{
		ID:               shared.NewID(),
		TargetID:         targetID,
		EngineName:       engineName,
		DeclaredTasks:    append([]string(nil), declaredTasks...),
		ExecutionHandles: []string{},
		Status:           StatusPending,
		InitiatedBy:      initiatedBy,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// Start marks the scan as running and records the executor handles that
// accepted the work.
func (s *Scan) Start(handles []string) error {
	if s.Status != StatusPending {
		return shared.NewDomainError("INVALID_TRANSITION", "can only start a pending scan", shared.ErrValidation)
	}
	now := time.Now()
	s.Status = StatusRunning
	s.StartedAt = &now
	s.ExecutionHandles = append(s.ExecutionHandles, handles...)
	s.UpdatedAt = now
	return nil
}

// AddExecutionHandle records an additional executor handle on an in-flight scan.
func (s *Scan) AddExecutionHandle(handle string) {
	if handle == "" {
		return
	}
	s.ExecutionHandles = append(s.ExecutionHandles, handle)
	s.UpdatedAt = time.Now()
}

// Complete marks the scan as completed.
func (s *Scan) Complete() error {
	return s.enterTerminal(StatusCompleted, "")
}

// Fail marks the scan as failed with the given error message.
func (s *Scan) Fail(errorMessage string) error {
	return s.enterTerminal(StatusFailed, errorMessage)
}

// Abort marks the scan as aborted by the given actor.
func (s *Scan) Abort(actor shared.ID) error {
	if err := s.enterTerminal(StatusAborted, ""); err != nil {
		return err
	}
	s.AbortedBy = &actor
	return nil
}

// ApplyTransition moves the scan to next, enforcing the state machine.
// Re-applying the current terminal status is a no-op; it returns false with
// no error. A second, different terminal status is rejected.
func (s *Scan) ApplyTransition(next Status, errorMessage string) (changed bool, err error) {
	if !next.IsValid() {
		return false, shared.NewDomainError("VALIDATION",
			fmt.Sprintf("invalid scan status %q", next), shared.ErrValidation)
	}
	if s.Status == next {
		return false, nil
	}
	if !s.Status.CanTransitionTo(next) {
		return false, shared.NewDomainError("INVALID_TRANSITION",
			fmt.Sprintf("cannot transition scan from %s to %s", s.Status, next), shared.ErrValidation)
	}

	switch next {
	case StatusRunning:
		err = s.Start(nil)
	default:
		err = s.enterTerminal(next, errorMessage)
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// enterTerminal applies a terminal status. StoppedAt is set exactly once,
// on the first entry into any terminal state.
func (s *Scan) enterTerminal(next Status, errorMessage string) error {
	if s.Status.IsTerminal() {
		if s.Status == next {
			return nil
		}
		return shared.NewDomainError("INVALID_TRANSITION",
			fmt.Sprintf("scan already finished with status %s", s.Status), shared.ErrValidation)
	}
	if next == StatusCompleted && s.Status != StatusRunning {
		return shared.NewDomainError("INVALID_TRANSITION", "can only complete a running scan", shared.ErrValidation)
	}
	if next == StatusFailed && s.Status != StatusRunning {
		return shared.NewDomainError("INVALID_TRANSITION", "can only fail a running scan", shared.ErrValidation)
	}

	now := time.Now()
	s.Status = next
	if s.StoppedAt == nil {
		s.StoppedAt = &now
	}
	if errorMessage != "" {
		s.ErrorMessage = TruncateError(errorMessage)
	}
	s.UpdatedAt = now
	return nil
}

// IsFinished returns true if the scan reached a terminal state.
func (s *Scan) IsFinished() bool {
	return s.Status.IsTerminal()
}

// Duration returns the scan duration, or nil while the scan is in flight or
// never started.
func (s *Scan) Duration() *time.Duration {
	if s.StartedAt == nil || s.StoppedAt == nil {
		return nil
	}
	d := s.StoppedAt.Sub(*s.StartedAt)
	return &d
}

// DurationFormatted returns a human-readable duration like "2h 30m 15s",
// or "in progress" while the scan has not stopped.
func (s *Scan) DurationFormatted() string {
	d := s.Duration()
	if d == nil {
		return "in progress"
	}

	total := int(d.Seconds())
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60

	var parts []string
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%ds", seconds))
	}
	return strings.Join(parts, " ")
}

// TruncateError bounds an error message to MaxErrorMessageLen characters.
func TruncateError(msg string) string {
	if len(msg) <= MaxErrorMessageLen {
		return msg
	}
	return msg[:MaxErrorMessageLen]
}
