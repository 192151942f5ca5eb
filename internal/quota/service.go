package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/imagestudio-ai/imagestudio/internal/metrics"
)

// Service implements the quota accounting decisions: tier resolution, model
// access, windowed limit checks and usage tracking. It holds no state beyond
// the repository handle; every check re-reads the store.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a quota Service.
func NewService(repo Repository) *Service {
	return &Service{
		repo: repo,
		now:  time.Now,
	}
}

// windows returns the bucket anchors for the current instant: today's date,
// the hour of day, and the first day of the calendar month. All in UTC so
// buckets do not shift with server timezone.
func (s *Service) windows() (day time.Time, hour int, monthStart time.Time) {
	now := s.now().UTC()
	day = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	hour = now.Hour()
	monthStart = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return day, hour, monthStart
}

// ResolveTier looks up the user's tier. A nil result with nil error means the
// user has no profile and therefore no entitlements.
func (s *Service) ResolveTier(ctx context.Context, userID uuid.UUID) (*TierInfo, error) {
	return s.repo.TierForUser(ctx, userID)
}

// CheckModelAccess reports whether the user's tier may invoke the model at
// all, independent of quota. Missing tier, unknown model or missing access
// row all resolve to false.
func (s *Service) CheckModelAccess(ctx context.Context, userID uuid.UUID, modelID string) (bool, error) {
	tier, err := s.repo.TierForUser(ctx, userID)
	if err != nil {
		return false, err
	}
	if tier == nil {
		return false, nil
	}

	modelRef, found, err := s.repo.ResolveModel(ctx, modelID)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}

	return s.repo.ModelAccess(ctx, tier.Tier, modelRef)
}

// CheckQuota decides whether the user may perform one more generation against
// the model. A non-nil error signals a store failure; callers on the
// generation path must treat it as a denial (fail closed). Limits are
// evaluated daily first, then hourly, then monthly; the first window at or
// over its limit wins and its usage/limit pair is reported in the reason.
func (s *Service) CheckQuota(ctx context.Context, userID uuid.UUID, modelID string) (*QuotaCheck, error) {
	tier, err := s.repo.TierForUser(ctx, userID)
	if err != nil {
		metrics.QuotaChecksTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if tier == nil {
		metrics.QuotaChecksTotal.WithLabelValues("denied").Inc()
		return &QuotaCheck{Allowed: false, Reason: reasonUserNotFound}, nil
	}

	modelRef, found, err := s.repo.ResolveModel(ctx, modelID)
	if err != nil {
		metrics.QuotaChecksTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if !found {
		metrics.QuotaChecksTotal.WithLabelValues("denied").Inc()
		return &QuotaCheck{Allowed: false, Reason: reasonModelNotFound}, nil
	}

	limits, err := s.repo.LimitsFor(ctx, tier.Tier, modelRef)
	if err != nil {
		metrics.QuotaChecksTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if limits == nil {
		metrics.QuotaChecksTotal.WithLabelValues("denied").Inc()
		return &QuotaCheck{
			Allowed: false,
			Reason:  fmt.Sprintf("%s for tier %q and model %q", reasonNoLimits, tier.Tier, modelID),
		}, nil
	}

	day, hour, monthStart := s.windows()
	usage, err := s.repo.UsageSums(ctx, userID, modelRef, day, hour, monthStart)
	if err != nil {
		metrics.QuotaChecksTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	check := &QuotaCheck{Usage: usage, Limits: *limits}

	// Window precedence is fixed: daily, hourly, monthly.
	switch {
	case usage.Daily >= limits.Daily:
		check.Reason = fmt.Sprintf("Daily limit reached: %d/%d images", usage.Daily, limits.Daily)
		metrics.QuotaDenialsTotal.WithLabelValues("daily").Inc()
	case usage.Hourly >= limits.Hourly:
		check.Reason = fmt.Sprintf("Hourly limit reached: %d/%d images", usage.Hourly, limits.Hourly)
		metrics.QuotaDenialsTotal.WithLabelValues("hourly").Inc()
	case usage.Monthly >= limits.Monthly:
		check.Reason = fmt.Sprintf("Monthly limit reached: %d/%d images", usage.Monthly, limits.Monthly)
		metrics.QuotaDenialsTotal.WithLabelValues("monthly").Inc()
	default:
		check.Allowed = true
	}

	if check.Allowed {
		metrics.QuotaChecksTotal.WithLabelValues("allowed").Inc()
	} else {
		metrics.QuotaChecksTotal.WithLabelValues("denied").Inc()
	}
	return check, nil
}

// TrackUsage records count generated images in the current (user, model,
// date, hour) bucket. It returns false and records nothing for an unknown
// model; write failures are logged and reported as false, never raised, so
// callers treat tracking failure as non-fatal to an already-completed
// generation.
func (s *Service) TrackUsage(ctx context.Context, userID uuid.UUID, modelID string, count int) bool {
	if count < 1 {
		count = 1
	}

	modelRef, found, err := s.repo.ResolveModel(ctx, modelID)
	if err != nil {
		slog.Warn("quota: resolving model for usage tracking", "error", err, "model", modelID)
		return false
	}
	if !found {
		slog.Warn("quota: usage for unknown model not recorded", "model", modelID, "user_id", userID)
		return false
	}

	day, hour, _ := s.windows()
	if err := s.repo.IncrementUsage(ctx, userID, modelRef, day, hour, count); err != nil {
		slog.Warn("quota: recording usage", "error", err, "model", modelID, "user_id", userID)
		return false
	}

	metrics.ImagesGeneratedTotal.WithLabelValues(modelID).Add(float64(count))
	return true
}

// UserQuotaStatus returns a CheckQuota result per model the user's tier has
// access to, keyed by public model identifier. An unresolvable tier yields an
// empty map. A store failure for an individual model is folded into a denied
// entry so the dashboard always renders fail-closed state.
func (s *Service) UserQuotaStatus(ctx context.Context, userID uuid.UUID) (map[string]*QuotaCheck, error) {
	tier, err := s.repo.TierForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if tier == nil {
		return map[string]*QuotaCheck{}, nil
	}

	models, err := s.repo.EnabledModels(ctx, tier.Tier)
	if err != nil {
		return nil, err
	}

	status := make(map[string]*QuotaCheck, len(models))
	for _, m := range models {
		check, err := s.CheckQuota(ctx, userID, m.ModelID)
		if err != nil {
			slog.Warn("quota: status check failed for model", "error", err, "model", m.ModelID)
			check = &QuotaCheck{Allowed: false, Reason: "Quota status unavailable"}
		}
		status[m.ModelID] = check
	}
	return status, nil
}
