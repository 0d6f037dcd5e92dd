package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/reconpoint/api/pkg/domain/scan"
	"github.com/reconpoint/api/pkg/domain/shared"
)

// ScanRepository implements scan.Repository using PostgreSQL.
type ScanRepository struct {
	db *DB
}

// NewScanRepository creates a new ScanRepository.
func NewScanRepository(db *DB) *ScanRepository {
	return &ScanRepository{db: db}
}

// Create persists a new scan.
func (r *ScanRepository) Create(ctx context.Context, s *scan.Scan) error {
	var initiatedBy, abortedBy *string
	if s.InitiatedBy != nil {
		uid := s.InitiatedBy.String()
		initiatedBy = &uid
	}
	if s.AbortedBy != nil {
		uid := s.AbortedBy.String()
		abortedBy = &uid
	}

	query := `
		INSERT INTO scans (
			id, target_id, engine_name,
			declared_tasks, execution_handles,
			status, error_message,
			started_at, stopped_at,
			initiated_by, aborted_by,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.db.ExecContext(ctx, query,
		s.ID.String(),
		s.TargetID.String(),
		s.EngineName,
		pq.Array(s.DeclaredTasks),
		pq.Array(s.ExecutionHandles),
		string(s.Status),
		nullableString(s.ErrorMessage),
		s.StartedAt,
		s.StoppedAt,
		initiatedBy,
		abortedBy,
		s.CreatedAt,
		s.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create scan: %w", err)
	}

	return nil
}

// GetByID retrieves a scan by ID.
func (r *ScanRepository) GetByID(ctx context.Context, id shared.ID) (*scan.Scan, error) {
	query := r.selectQuery() + " WHERE id = $1"
	row := r.db.QueryRowContext(ctx, query, id.String())
	return r.scanFromRow(row)
}

// Update updates a scan.
func (r *ScanRepository) Update(ctx context.Context, s *scan.Scan) error {
	var abortedBy *string
	if s.AbortedBy != nil {
		uid := s.AbortedBy.String()
		abortedBy = &uid
	}

	query := `
		UPDATE scans SET
			execution_handles = $2,
			status = $3,
			error_message = $4,
			started_at = $5,
			stopped_at = $6,
			aborted_by = $7,
			updated_at = $8
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		s.ID.String(),
		pq.Array(s.ExecutionHandles),
		string(s.Status),
		nullableString(s.ErrorMessage),
		s.StartedAt,
		s.StoppedAt,
		abortedBy,
		s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update scan: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rows == 0 {
		return shared.NewDomainError("NOT_FOUND", "scan not found", shared.ErrNotFound)
	}

	return nil
}

// List retrieves scans matching the filter, newest first.
func (r *ScanRepository) List(ctx context.Context, filter scan.Filter) ([]*scan.Scan, error) {
	query := r.selectQuery()

	var conditions []string
	var args []interface{}
	argPos := 1

	if filter.TargetID != nil {
		conditions = append(conditions, fmt.Sprintf("target_id = $%d", argPos))
		args = append(args, filter.TargetID.String())
		argPos++
	}
	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argPos))
		args = append(args, string(*filter.Status))
		argPos++
	}
	if filter.Since != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argPos))
		args = append(args, *filter.Since)
		argPos++
	}
	if filter.Until != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argPos))
		args = append(args, *filter.Until)
		argPos++
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argPos)
		args = append(args, filter.Limit)
		argPos++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argPos)
		args = append(args, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list scans: %w", err)
	}
	defer rows.Close()

	return r.scansFromRows(rows)
}

// CountNonTerminal counts scans for a target in a pending or running state.
func (r *ScanRepository) CountNonTerminal(ctx context.Context, targetID shared.ID) (int, error) {
	query := `SELECT COUNT(*) FROM scans WHERE target_id = $1 AND status IN ('pending', 'running')`

	var count int
	err := r.db.QueryRowContext(ctx, query, targetID.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count non-terminal scans: %w", err)
	}
	return count, nil
}

// ListStaleRunning returns running scans not updated since the cutoff.
func (r *ScanRepository) ListStaleRunning(ctx context.Context, cutoff time.Time) ([]*scan.Scan, error) {
	query := r.selectQuery() + " WHERE status = 'running' AND updated_at < $1 ORDER BY updated_at ASC"

	rows, err := r.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale scans: %w", err)
	}
	defer rows.Close()

	return r.scansFromRows(rows)
}

func (r *ScanRepository) selectQuery() string {
	return `
		SELECT
			id, target_id, engine_name,
			declared_tasks, execution_handles,
			status, error_message,
			started_at, stopped_at,
			initiated_by, aborted_by,
			created_at, updated_at
		FROM scans
	`
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *ScanRepository) scanFromRow(row rowScanner) (*scan.Scan, error) {
	s := &scan.Scan{}
	var (
		id, targetID           string
		declaredTasks          pq.StringArray
		executionHandles       pq.StringArray
		errorMessage           sql.NullString
		startedAt, stoppedAt   sql.NullTime
		initiatedBy, abortedBy sql.NullString
	)

	err := row.Scan(
		&id, &targetID, &s.EngineName,
		&declaredTasks, &executionHandles,
		&s.Status, &errorMessage,
		&startedAt, &stoppedAt,
		&initiatedBy, &abortedBy,
		&s.CreatedAt, &s.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.NewDomainError("NOT_FOUND", "scan not found", shared.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}

	s.ID = shared.MustIDFromString(id)
	s.TargetID = shared.MustIDFromString(targetID)
	s.DeclaredTasks = []string(declaredTasks)
	s.ExecutionHandles = []string(executionHandles)

	if errorMessage.Valid {
		s.ErrorMessage = errorMessage.String
	}
	if startedAt.Valid {
		s.StartedAt = &startedAt.Time
	}
	if stoppedAt.Valid {
		s.StoppedAt = &stoppedAt.Time
	}
	if initiatedBy.Valid {
		uid := shared.MustIDFromString(initiatedBy.String)
		s.InitiatedBy = &uid
	}
	if abortedBy.Valid {
		uid := shared.MustIDFromString(abortedBy.String)
		s.AbortedBy = &uid
	}

	return s, nil
}

func (r *ScanRepository) scansFromRows(rows *sql.Rows) ([]*scan.Scan, error) {
	scans := make([]*scan.Scan, 0)
	for rows.Next() {
		s, err := r.scanFromRow(rows)
		if err != nil {
			return nil, err
		}
		scans = append(scans, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate scan rows: %w", err)
	}
	return scans, nil
}
