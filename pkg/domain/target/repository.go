package target

import (
	"context"

	"github.com/reconpoint/api/pkg/domain/shared"
)

// Repository defines the persistence contract for targets.
type Repository interface {
	Create(ctx context.Context, t *Target) error
	GetByID(ctx context.Context, id shared.ID) (*Target, error)
	GetByName(ctx context.Context, name string) (*Target, error)
	List(ctx context.Context, limit, offset int) ([]*Target, error)
	Exists(ctx context.Context, id shared.ID) (bool, error)

	// TouchLastScanned stamps the target's last_scanned_at to now.
	TouchLastScanned(ctx context.Context, id shared.ID) error
}
