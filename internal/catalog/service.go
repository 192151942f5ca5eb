package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/imagestudio-ai/imagestudio/internal/events"
)

var (
	ErrTierExists    = errors.New("tier already exists")
	ErrTierNotFound  = errors.New("tier not found")
	ErrModelExists   = errors.New("model already exists")
	ErrModelNotFound = errors.New("model not found")
)

type Service struct {
	repo      Repository
	publisher *events.Publisher
}

// NewService creates the catalog service. publisher may be nil; audit
// publishing is then skipped.
func NewService(repo Repository, publisher *events.Publisher) *Service {
	return &Service{repo: repo, publisher: publisher}
}

func (s *Service) ListTiers(ctx context.Context) ([]*Tier, error) {
	return s.repo.ListTiers(ctx)
}

func (s *Service) CreateTier(ctx context.Context, actorID uuid.UUID, req *CreateTierRequest) (*Tier, error) {
	existing, err := s.repo.GetTier(ctx, req.Name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrTierExists
	}

	now := time.Now()
	tier := &Tier{
		Name:        req.Name,
		DisplayName: req.DisplayName,
		Description: req.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateTier(ctx, tier); err != nil {
		return nil, err
	}

	s.audit(ctx, actorID, "tier_created", "tier", tier.Name, fmt.Sprintf("tier %q created", tier.Name))
	return tier, nil
}

func (s *Service) DeleteTier(ctx context.Context, actorID uuid.UUID, name string) error {
	existing, err := s.repo.GetTier(ctx, name)
	if err != nil {
		return err
	}
	if existing == nil {
		return ErrTierNotFound
	}

	if err := s.repo.DeleteTier(ctx, name); err != nil {
		return err
	}

	s.audit(ctx, actorID, "tier_deleted", "tier", name, fmt.Sprintf("tier %q deleted", name))
	return nil
}

// ListModels returns the full catalog, inactive models included.
func (s *Service) ListModels(ctx context.Context) ([]*ImageModel, error) {
	return s.repo.ListModels(ctx)
}

// ResolveModel returns the model with the given public identifier, or nil
// when unknown.
func (s *Service) ResolveModel(ctx context.Context, modelID string) (*ImageModel, error) {
	return s.repo.GetModelByPublicID(ctx, modelID)
}

// ListModelsForTier returns active models the tier has enabled access to.
func (s *Service) ListModelsForTier(ctx context.Context, tier string) ([]*ImageModel, error) {
	return s.repo.ListActiveModelsForTier(ctx, tier)
}

func (s *Service) CreateModel(ctx context.Context, actorID uuid.UUID, req *CreateModelRequest) (*ImageModel, error) {
	existing, err := s.repo.GetModelByPublicID(ctx, req.ModelID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrModelExists
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	now := time.Now()
	model := &ImageModel{
		ID:          uuid.New(),
		ModelID:     req.ModelID,
		DisplayName: req.DisplayName,
		Provider:    req.Provider,
		Active:      active,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateModel(ctx, model); err != nil {
		return nil, err
	}

	s.audit(ctx, actorID, "model_created", "model", model.ModelID, fmt.Sprintf("model %q created", model.ModelID))
	return model, nil
}

func (s *Service) UpdateModel(ctx context.Context, actorID uuid.UUID, id uuid.UUID, req *UpdateModelRequest) (*ImageModel, error) {
	model, err := s.repo.GetModel(ctx, id)
	if err != nil {
		return nil, err
	}
	if model == nil {
		return nil, ErrModelNotFound
	}

	if req.DisplayName != nil {
		model.DisplayName = *req.DisplayName
	}
	if req.Provider != nil {
		model.Provider = *req.Provider
	}
	if req.Active != nil {
		model.Active = *req.Active
	}
	model.UpdatedAt = time.Now()

	if err := s.repo.UpdateModel(ctx, model); err != nil {
		return nil, err
	}

	s.audit(ctx, actorID, "model_updated", "model", model.ModelID, fmt.Sprintf("model %q updated", model.ModelID))
	return model, nil
}

func (s *Service) SetAccess(ctx context.Context, actorID uuid.UUID, req *SetAccessRequest) error {
	tier, model, err := s.resolvePair(ctx, req.Tier, req.ModelID)
	if err != nil {
		return err
	}

	if err := s.repo.UpsertAccess(ctx, tier.Name, model.ID, req.Enabled); err != nil {
		return err
	}

	s.audit(ctx, actorID, "access_changed", "tier_model_access",
		fmt.Sprintf("%s/%s", tier.Name, model.ModelID),
		fmt.Sprintf("access for tier %q to model %q set to %t", tier.Name, model.ModelID, req.Enabled))
	return nil
}

func (s *Service) SetLimits(ctx context.Context, actorID uuid.UUID, req *SetLimitsRequest) error {
	tier, model, err := s.resolvePair(ctx, req.Tier, req.ModelID)
	if err != nil {
		return err
	}

	if err := s.repo.UpsertLimits(ctx, tier.Name, model.ID, req.HourlyLimit, req.DailyLimit, req.MonthlyLimit); err != nil {
		return err
	}

	s.audit(ctx, actorID, "limits_changed", "quota_limits",
		fmt.Sprintf("%s/%s", tier.Name, model.ModelID),
		fmt.Sprintf("limits for tier %q on model %q set to %d/%d/%d (hourly/daily/monthly)",
			tier.Name, model.ModelID, req.HourlyLimit, req.DailyLimit, req.MonthlyLimit))
	return nil
}

func (s *Service) resolvePair(ctx context.Context, tierName, modelID string) (*Tier, *ImageModel, error) {
	tier, err := s.repo.GetTier(ctx, tierName)
	if err != nil {
		return nil, nil, err
	}
	if tier == nil {
		return nil, nil, ErrTierNotFound
	}

	model, err := s.repo.GetModelByPublicID(ctx, modelID)
	if err != nil {
		return nil, nil, err
	}
	if model == nil {
		return nil, nil, ErrModelNotFound
	}
	return tier, model, nil
}

// audit publishes an admin mutation event. Publish failure never fails the
// mutation itself.
func (s *Service) audit(ctx context.Context, actorID uuid.UUID, eventType, resourceType, resourceID, details string) {
	if s.publisher == nil {
		return
	}
	event := events.AuditEvent{
		UserID:       actorID,
		EventType:    eventType,
		Severity:     "info",
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      details,
		Timestamp:    time.Now(),
	}
	if err := s.publisher.PublishAuditEvent(ctx, event); err != nil {
		slog.Warn("publishing audit event", "error", err, "event_type", eventType)
	}
}
