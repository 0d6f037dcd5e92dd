package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/reconpoint/api/pkg/domain/shared"
	"github.com/reconpoint/api/pkg/domain/target"
)

// TargetRepository implements target.Repository using PostgreSQL.
type TargetRepository struct {
	db *DB
}

// NewTargetRepository creates a new TargetRepository.
func NewTargetRepository(db *DB) *TargetRepository {
	return &TargetRepository{db: db}
}

// Create persists a new target.
func (r *TargetRepository) Create(ctx context.Context, t *target.Target) error {
	query := `
		INSERT INTO targets (id, name, description, last_scanned_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		t.ID.String(),
		t.Name,
		nullableString(t.Description),
		t.LastScannedAt,
		t.CreatedAt,
		t.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return shared.NewDomainError("ALREADY_EXISTS", "target already exists", shared.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create target: %w", err)
	}

	return nil
}

// GetByID retrieves a target by ID.
func (r *TargetRepository) GetByID(ctx context.Context, id shared.ID) (*target.Target, error) {
	query := r.selectQuery() + " WHERE id = $1"
	row := r.db.QueryRowContext(ctx, query, id.String())
	return r.targetFromRow(row)
}

// GetByName retrieves a target by its name.
func (r *TargetRepository) GetByName(ctx context.Context, name string) (*target.Target, error) {
	query := r.selectQuery() + " WHERE name = $1"
	row := r.db.QueryRowContext(ctx, query, name)
	return r.targetFromRow(row)
}

// List retrieves targets, newest first.
func (r *TargetRepository) List(ctx context.Context, limit, offset int) ([]*target.Target, error) {
	query := r.selectQuery() + " ORDER BY created_at DESC LIMIT $1 OFFSET $2"
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}
	defer rows.Close()

	targets := make([]*target.Target, 0)
	for rows.Next() {
		t, err := r.targetFromRow(rows)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate target rows: %w", err)
	}

	return targets, nil
}

// Exists reports whether a target with the given ID exists.
func (r *TargetRepository) Exists(ctx context.Context, id shared.ID) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM targets WHERE id = $1)`
	if err := r.db.QueryRowContext(ctx, query, id.String()).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check target existence: %w", err)
	}
	return exists, nil
}

// TouchLastScanned stamps the target's last_scanned_at to now.
func (r *TargetRepository) TouchLastScanned(ctx context.Context, id shared.ID) error {
	query := `UPDATE targets SET last_scanned_at = NOW(), updated_at = NOW() WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id.String())
	if err != nil {
		return fmt.Errorf("failed to touch target: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check touch result: %w", err)
	}
	if rows == 0 {
		return shared.NewDomainError("NOT_FOUND", "target not found", shared.ErrNotFound)
	}

	return nil
}

func (r *TargetRepository) selectQuery() string {
	return `
		SELECT id, name, description, last_scanned_at, created_at, updated_at
		FROM targets
	`
}

func (r *TargetRepository) targetFromRow(row rowScanner) (*target.Target, error) {
	t := &target.Target{}
	var (
		id            string
		description   sql.NullString
		lastScannedAt sql.NullTime
	)

	err := row.Scan(&id, &t.Name, &description, &lastScannedAt, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.NewDomainError("NOT_FOUND", "target not found", shared.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan target row: %w", err)
	}

	t.ID = shared.MustIDFromString(id)
	if description.Valid {
		t.Description = description.String
	}
	if lastScannedAt.Valid {
		t.LastScannedAt = &lastScannedAt.Time
	}

	return t, nil
}
