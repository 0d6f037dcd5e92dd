// Package target holds the scan target entity referenced by scans.
package target

import (
	"strings"
	"time"

	"github.com/reconpoint/api/pkg/domain/shared"
)

// Target is a domain or host registered for scanning.
type Target struct {
	ID          shared.ID
	Name        string
	Description string

	// LastScannedAt is touched every time a scan is created for the target.
	LastScannedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewTarget creates a new target.
func NewTarget(name, description string) (*Target, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return nil, shared.NewDomainError("VALIDATION", "target name is required", shared.ErrValidation)
	}

	now := time.Now()
	return &Target{
		ID:          shared.NewID(),
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// TouchLastScanned records that a scan was just initiated for this target.
func (t *Target) TouchLastScanned() {
	now := time.Now()
	t.LastScannedAt = &now
	t.UpdatedAt = now
}
