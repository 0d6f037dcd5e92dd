package webhook

import (
	"context"
	"time"

	"github.com/reconpoint/api/pkg/domain/scan"
	"github.com/reconpoint/api/pkg/domain/shared"
)

// Repository defines the persistence contract for subscriptions.
type Repository interface {
	Create(ctx context.Context, s *Subscription) error
	GetByID(ctx context.Context, id shared.ID) (*Subscription, error)
	GetByURL(ctx context.Context, url string) (*Subscription, error)
	Update(ctx context.Context, s *Subscription) error
	Delete(ctx context.Context, id shared.ID) error
	List(ctx context.Context) ([]*Subscription, error)

	// ListActiveForEvent returns active subscriptions covering the event.
	ListActiveForEvent(ctx context.Context, event scan.Event) ([]*Subscription, error)
}

// DeliveryRecord is one delivery attempt outcome kept for diagnostics.
type DeliveryRecord struct {
	URL        string     `json:"url"`
	Event      scan.Event `json:"event"`
	StatusCode int        `json:"status_code"`
	Success    bool       `json:"success"`
	Attempts   int        `json:"attempts"`
	Error      string     `json:"error,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// DeliveryLog keeps a short recent-history ring per (url, event) pair.
// The log is advisory: write failures must never affect delivery.
type DeliveryLog interface {
	Record(ctx context.Context, rec DeliveryRecord) error
	Recent(ctx context.Context, url string, event scan.Event) ([]DeliveryRecord, error)
}
