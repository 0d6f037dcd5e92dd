package scan

import (
	"context"
	"time"

	"github.com/reconpoint/api/pkg/domain/shared"
)

// Filter defines criteria for listing scans.
type Filter struct {
	TargetID *shared.ID
	Status   *Status
	Since    *time.Time
	Until    *time.Time
	Limit    int
	Offset   int
}

// Repository defines the persistence contract for scans.
type Repository interface {
	Create(ctx context.Context, s *Scan) error
	GetByID(ctx context.Context, id shared.ID) (*Scan, error)
	Update(ctx context.Context, s *Scan) error
	List(ctx context.Context, filter Filter) ([]*Scan, error)

	// CountNonTerminal counts scans for a target in a pending or running state.
	CountNonTerminal(ctx context.Context, targetID shared.ID) (int, error)

	// ListStaleRunning returns running scans not updated since the cutoff.
	ListStaleRunning(ctx context.Context, cutoff time.Time) ([]*Scan, error)
}

// ActivityRepository defines the append-only activity ledger contract.
type ActivityRepository interface {
	Append(ctx context.Context, entry *ActivityEntry) error

	// ListByScan returns the scan's activity timeline in chronological order.
	ListByScan(ctx context.Context, scanID shared.ID) ([]*ActivityEntry, error)
}

// Guard enforces at most one non-terminal scan per target. Implementations
// must use a single atomic primitive; a read-then-write pair races under
// concurrent creates.
type Guard interface {
	// TryReserve atomically reserves the target slot. Returns false if the
	// slot is already held.
	TryReserve(ctx context.Context, targetID shared.ID) (bool, error)

	// Release frees the target slot. Idempotent.
	Release(ctx context.Context, targetID shared.ID) error
}

// WorkUnit is an opaque descriptor handed to the task executor.
type WorkUnit struct {
	ScanID     shared.ID      `json:"scan_id"`
	TaskName   string         `json:"task_name"`
	TargetName string         `json:"target_name"`
	Config     map[string]any `json:"config,omitempty"`
}

// Executor is the task execution backend consumed by the lifecycle manager.
// Submit returns an opaque handle id; Cancel is best-effort by handle id.
type Executor interface {
	Submit(ctx context.Context, unit WorkUnit) (string, error)
	Cancel(ctx context.Context, handleID string) error
}

// EventPublisher dispatches a lifecycle event for asynchronous fan-out to
// webhook subscribers. Publishing is fire-and-forget from the lifecycle
// manager's point of view: delivery failures never surface to the caller.
type EventPublisher interface {
	Publish(ctx context.Context, event Event, payload map[string]any) error
}
