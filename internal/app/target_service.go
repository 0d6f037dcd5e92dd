package app

import (
	"context"

	"github.com/reconpoint/api/pkg/domain/scan"
	"github.com/reconpoint/api/pkg/domain/shared"
	"github.com/reconpoint/api/pkg/domain/target"
	"github.com/reconpoint/api/pkg/logger"
)

// TargetService manages scan targets.
type TargetService struct {
	repo      target.Repository
	publisher scan.EventPublisher
	logger    *logger.Logger
}

// NewTargetService creates a new TargetService.
func NewTargetService(repo target.Repository, publisher scan.EventPublisher, log *logger.Logger) *TargetService {
	return &TargetService{
		repo:      repo,
		publisher: publisher,
		logger:    log.With("service", "target"),
	}
}

// CreateTargetInput is the input for CreateTarget.
type CreateTargetInput struct {
	Name        string `json:"name" validate:"required,min=1,max=255"`
	Description string `json:"description" validate:"max=1000"`
}

// CreateTarget registers a new target and announces it to subscribers.
func (s *TargetService) CreateTarget(ctx context.Context, input CreateTargetInput) (*target.Target, error) {
	t, err := target.NewTarget(input.Name, input.Description)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, t); err != nil {
		return nil, err
	}

	if s.publisher != nil {
		payload := map[string]any{
			"target_id": t.ID.String(),
			"target":    t.Name,
		}
		if err := s.publisher.Publish(ctx, scan.EventTargetAdded, payload); err != nil {
			s.logger.Error("failed to publish target.added", "target_id", t.ID, "error", err)
		}
	}

	s.logger.Info("target created", "target_id", t.ID, "name", t.Name)
	return t, nil
}

// GetTarget retrieves a target by ID.
func (s *TargetService) GetTarget(ctx context.Context, id shared.ID) (*target.Target, error) {
	return s.repo.GetByID(ctx, id)
}

// ListTargets retrieves targets.
func (s *TargetService) ListTargets(ctx context.Context, limit, offset int) ([]*target.Target, error) {
	return s.repo.List(ctx, limit, offset)
}
