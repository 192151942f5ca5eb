package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/imagestudio-ai/imagestudio/internal/catalog"
	"github.com/imagestudio-ai/imagestudio/internal/events"
	"github.com/imagestudio-ai/imagestudio/internal/metrics"
	"github.com/imagestudio-ai/imagestudio/internal/quota"
)

// ErrModelNotAllowed is returned when the caller's tier has no enabled access
// to the requested model, or when access cannot be determined.
var ErrModelNotAllowed = errors.New("model not available on this tier")

// QuotaDeniedError carries the quota denial reason to the HTTP edge.
type QuotaDeniedError struct {
	Reason string
}

func (e *QuotaDeniedError) Error() string {
	return e.Reason
}

type Service struct {
	repo      Repository
	quota     *quota.Service
	catalog   *catalog.Service
	publisher *events.Publisher
}

func NewService(repo Repository, quotaSvc *quota.Service, catalogSvc *catalog.Service, publisher *events.Publisher) *Service {
	return &Service{
		repo:      repo,
		quota:     quotaSvc,
		catalog:   catalogSvc,
		publisher: publisher,
	}
}

// Create admits a generation request: tier access and quota are checked before
// anything is persisted, and any store failure on that path denies the request
// rather than letting it through.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, req *CreateRequest) (*Request, error) {
	allowed, err := s.quota.CheckModelAccess(ctx, userID, req.ModelID)
	if err != nil {
		slog.Error("checking model access", "error", err, "user_id", userID, "model", req.ModelID)
		return nil, ErrModelNotAllowed
	}
	if !allowed {
		return nil, ErrModelNotAllowed
	}

	check, err := s.quota.CheckQuota(ctx, userID, req.ModelID)
	if err != nil {
		slog.Error("checking quota", "error", err, "user_id", userID, "model", req.ModelID)
		return nil, &QuotaDeniedError{Reason: "Quota status unavailable"}
	}
	if !check.Allowed {
		s.auditDenial(ctx, userID, req.ModelID, check.Reason)
		return nil, &QuotaDeniedError{Reason: check.Reason}
	}

	model, err := s.catalog.ResolveModel(ctx, req.ModelID)
	if err != nil {
		return nil, err
	}
	if model == nil {
		return nil, ErrModelNotAllowed
	}

	imageCount := req.ImageCount
	if imageCount < 1 {
		imageCount = 1
	}

	now := time.Now()
	request := &Request{
		ID:         uuid.New(),
		UserID:     userID,
		ModelRef:   model.ID,
		ModelID:    model.ModelID,
		Prompt:     req.Prompt,
		ImageCount: imageCount,
		Status:     StatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Create(ctx, request); err != nil {
		return nil, err
	}
	metrics.GenerationRequestsTotal.WithLabelValues(StatusQueued).Inc()

	task := events.GenerationTask{
		RequestID:  request.ID,
		UserID:     userID,
		ModelID:    model.ModelID,
		Prompt:     req.Prompt,
		ImageCount: imageCount,
		QueuedAt:   now,
	}
	if err := s.publisher.PublishTask(ctx, task); err != nil {
		slog.Error("publishing generation task", "error", err, "request_id", request.ID)
		if updateErr := s.repo.UpdateStatus(ctx, request.ID, StatusFailed); updateErr != nil {
			slog.Error("marking request failed after publish failure", "error", updateErr, "request_id", request.ID)
		}
		metrics.GenerationRequestsTotal.WithLabelValues(StatusFailed).Inc()
		return nil, fmt.Errorf("queueing generation task: %w", err)
	}

	return request, nil
}

// GetForUser returns the request only when it belongs to userID; nil otherwise.
func (s *Service) GetForUser(ctx context.Context, userID, requestID uuid.UUID) (*Request, error) {
	request, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request == nil || request.UserID != userID {
		return nil, nil
	}
	return request, nil
}

func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID, params ListParams) ([]*Request, int64, error) {
	offset := (params.Page - 1) * params.PageSize

	requests, err := s.repo.ListByUser(ctx, userID, params.PageSize, offset)
	if err != nil {
		return nil, 0, err
	}

	count, err := s.repo.CountByUser(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	return requests, count, nil
}

func (s *Service) auditDenial(ctx context.Context, userID uuid.UUID, modelID, reason string) {
	if s.publisher == nil {
		return
	}
	event := events.AuditEvent{
		UserID:       userID,
		EventType:    "quota_denied",
		Severity:     "warn",
		ResourceType: "model",
		ResourceID:   modelID,
		Details:      reason,
		Timestamp:    time.Now(),
	}
	if err := s.publisher.PublishAuditEvent(ctx, event); err != nil {
		slog.Warn("publishing quota denial audit event", "error", err, "user_id", userID)
	}
}
