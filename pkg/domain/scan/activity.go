package scan

import (
	"time"

	"github.com/reconpoint/api/pkg/domain/shared"
)

// StepStatus represents the status of a single scan sub-step.
type StepStatus string

const (
	StepStarted   StepStatus = "started"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// IsValid checks if the step status is a valid value.
func (s StepStatus) IsValid() bool {
	switch s {
	case StepStarted, StepCompleted, StepFailed:
		return true
	}
	return false
}

// IsTerminal returns true once a step can make no further progress.
func (s StepStatus) IsTerminal() bool {
	return s == StepCompleted || s == StepFailed
}

// ActivityEntry is an immutable fact about one sub-step of a scan.
// Entries are append-only: never mutated or deleted while the scan exists.
type ActivityEntry struct {
	ID           shared.ID
	ScanID       shared.ID
	Name         string
	Status       StepStatus
	Time         time.Time
	ErrorMessage string
}

// NewActivityEntry records a sub-step fact for a scan.
func NewActivityEntry(scanID shared.ID, name string, status StepStatus, errorMessage string) (*ActivityEntry, error) {
	if scanID.IsZero() {
		return nil, shared.NewDomainError("VALIDATION", "scan_id is required", shared.ErrValidation)
	}
	if name == "" {
		return nil, shared.NewDomainError("VALIDATION", "activity name is required", shared.ErrValidation)
	}
	if !status.IsValid() {
		return nil, shared.NewDomainError("VALIDATION", "invalid step status", shared.ErrValidation)
	}

	return &ActivityEntry{
		ID:           shared.NewID(),
		ScanID:       scanID,
		Name:         name,
		Status:       status,
		Time:         time.Now(),
		ErrorMessage: TruncateError(errorMessage),
	}, nil
}
