package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/reconpoint/api/pkg/domain/scan"
	"github.com/reconpoint/api/pkg/domain/shared"
)

// ActivityRepository implements scan.ActivityRepository using PostgreSQL.
// The scan_activities table is append-only.
type ActivityRepository struct {
	db *DB
}

// NewActivityRepository creates a new ActivityRepository.
func NewActivityRepository(db *DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// Append persists a new activity entry.
func (r *ActivityRepository) Append(ctx context.Context, entry *scan.ActivityEntry) error {
	query := `
		INSERT INTO scan_activities (id, scan_id, name, status, time, error_message)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID.String(),
		entry.ScanID.String(),
		entry.Name,
		string(entry.Status),
		entry.Time,
		nullableString(entry.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("failed to append activity: %w", err)
	}

	return nil
}

// ListByScan returns the scan's activity timeline in chronological order.
func (r *ActivityRepository) ListByScan(ctx context.Context, scanID shared.ID) ([]*scan.ActivityEntry, error) {
	query := `
		SELECT id, scan_id, name, status, time, error_message
		FROM scan_activities
		WHERE scan_id = $1
		ORDER BY time ASC
	`

	rows, err := r.db.QueryContext(ctx, query, scanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	defer rows.Close()

	entries := make([]*scan.ActivityEntry, 0)
	for rows.Next() {
		var (
			e            scan.ActivityEntry
			id, sid      string
			errorMessage sql.NullString
		)
		if err := rows.Scan(&id, &sid, &e.Name, &e.Status, &e.Time, &errorMessage); err != nil {
			return nil, fmt.Errorf("failed to scan activity row: %w", err)
		}
		e.ID = shared.MustIDFromString(id)
		e.ScanID = shared.MustIDFromString(sid)
		if errorMessage.Valid {
			e.ErrorMessage = errorMessage.String
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate activity rows: %w", err)
	}

	return entries, nil
}
