package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/reconpoint/api/pkg/domain/scan"
	"github.com/reconpoint/api/pkg/domain/shared"
	"github.com/reconpoint/api/pkg/domain/webhook"
)

// WebhookRepository implements webhook.Repository using PostgreSQL.
type WebhookRepository struct {
	db *DB
}

// NewWebhookRepository creates a new WebhookRepository.
func NewWebhookRepository(db *DB) *WebhookRepository {
	return &WebhookRepository{db: db}
}

// Create persists a new subscription.
func (r *WebhookRepository) Create(ctx context.Context, s *webhook.Subscription) error {
	query := `
		INSERT INTO webhook_subscriptions (id, name, url, secret, events, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		s.ID.String(),
		s.Name,
		s.URL,
		nullableString(s.Secret),
		pq.Array(eventStrings(s.Events)),
		s.Active,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return shared.NewDomainError("ALREADY_EXISTS", "subscription already exists for url", shared.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create subscription: %w", err)
	}

	return nil
}

// GetByID retrieves a subscription by ID.
func (r *WebhookRepository) GetByID(ctx context.Context, id shared.ID) (*webhook.Subscription, error) {
	query := r.selectQuery() + " WHERE id = $1"
	row := r.db.QueryRowContext(ctx, query, id.String())
	return r.subscriptionFromRow(row)
}

// GetByURL retrieves a subscription by its endpoint URL.
func (r *WebhookRepository) GetByURL(ctx context.Context, url string) (*webhook.Subscription, error) {
	query := r.selectQuery() + " WHERE url = $1"
	row := r.db.QueryRowContext(ctx, query, url)
	return r.subscriptionFromRow(row)
}

// Update updates a subscription.
func (r *WebhookRepository) Update(ctx context.Context, s *webhook.Subscription) error {
	query := `
		UPDATE webhook_subscriptions SET
			name = $2,
			secret = $3,
			events = $4,
			active = $5,
			updated_at = $6
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		s.ID.String(),
		s.Name,
		nullableString(s.Secret),
		pq.Array(eventStrings(s.Events)),
		s.Active,
		s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rows == 0 {
		return shared.NewDomainError("NOT_FOUND", "subscription not found", shared.ErrNotFound)
	}

	return nil
}

// Delete removes a subscription.
func (r *WebhookRepository) Delete(ctx context.Context, id shared.ID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM webhook_subscriptions WHERE id = $1`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if rows == 0 {
		return shared.NewDomainError("NOT_FOUND", "subscription not found", shared.ErrNotFound)
	}

	return nil
}

// List retrieves all subscriptions.
func (r *WebhookRepository) List(ctx context.Context) ([]*webhook.Subscription, error) {
	query := r.selectQuery() + " ORDER BY created_at DESC"

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	return r.subscriptionsFromRows(rows)
}

// ListActiveForEvent returns active subscriptions covering the event.
func (r *WebhookRepository) ListActiveForEvent(ctx context.Context, event scan.Event) ([]*webhook.Subscription, error) {
	query := r.selectQuery() + " WHERE active = true AND $1 = ANY(events) ORDER BY created_at ASC"

	rows, err := r.db.QueryContext(ctx, query, string(event))
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions for event: %w", err)
	}
	defer rows.Close()

	return r.subscriptionsFromRows(rows)
}

func (r *WebhookRepository) selectQuery() string {
	return `
		SELECT id, name, url, secret, events, active, created_at, updated_at
		FROM webhook_subscriptions
	`
}

func (r *WebhookRepository) subscriptionFromRow(row rowScanner) (*webhook.Subscription, error) {
	s := &webhook.Subscription{}
	var (
		id     string
		secret sql.NullString
		events pq.StringArray
	)

	err := row.Scan(&id, &s.Name, &s.URL, &secret, &events, &s.Active, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.NewDomainError("NOT_FOUND", "subscription not found", shared.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan subscription row: %w", err)
	}

	s.ID = shared.MustIDFromString(id)
	if secret.Valid {
		s.Secret = secret.String
	}
	s.Events = make([]scan.Event, 0, len(events))
	for _, e := range events {
		s.Events = append(s.Events, scan.Event(e))
	}

	return s, nil
}

func (r *WebhookRepository) subscriptionsFromRows(rows *sql.Rows) ([]*webhook.Subscription, error) {
	subs := make([]*webhook.Subscription, 0)
	for rows.Next() {
		s, err := r.subscriptionFromRow(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate subscription rows: %w", err)
	}
	return subs, nil
}

func eventStrings(events []scan.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = string(e)
	}
	return out
}
