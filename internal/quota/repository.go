package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the data access surface the quota service needs. The service
// owns all window math and policy; the repository only answers point lookups
// and sums over usage_records.
type Repository interface {
	// TierForUser returns (nil, nil) when the user has no profile row.
	TierForUser(ctx context.Context, userID uuid.UUID) (*TierInfo, error)
	// ResolveModel maps a public model identifier to its internal row ID.
	ResolveModel(ctx context.Context, modelID string) (uuid.UUID, bool, error)
	// ModelAccess returns the enabled flag for (tier, model), false when no row exists.
	ModelAccess(ctx context.Context, tier string, modelRef uuid.UUID) (bool, error)
	// LimitsFor returns (nil, nil) when no quota_limits row exists for (tier, model).
	LimitsFor(ctx context.Context, tier string, modelRef uuid.UUID) (*WindowCounts, error)
	// UsageSums aggregates images_generated for the hourly, daily and monthly
	// windows anchored at day/hour/monthStart.
	UsageSums(ctx context.Context, userID, modelRef uuid.UUID, day time.Time, hour int, monthStart time.Time) (WindowCounts, error)
	// IncrementUsage atomically adds count to the (user, model, day, hour) bucket,
	// creating the row when absent.
	IncrementUsage(ctx context.Context, userID, modelRef uuid.UUID, day time.Time, hour, count int) error
	// EnabledModels lists the active models a tier has access to.
	EnabledModels(ctx context.Context, tier string) ([]ModelRef, error)
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a Postgres-backed quota Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

func (r *postgresRepository) TierForUser(ctx context.Context, userID uuid.UUID) (*TierInfo, error) {
	info := &TierInfo{}
	err := r.pool.QueryRow(ctx,
		`SELECT tier, is_premium FROM profiles WHERE user_id = $1`, userID,
	).Scan(&info.Tier, &info.IsPremium)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying profile tier: %w", err)
	}
	return info, nil
}

func (r *postgresRepository) ResolveModel(ctx context.Context, modelID string) (uuid.UUID, bool, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx,
		`SELECT id FROM image_models WHERE model_id = $1`, modelID,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, fmt.Errorf("resolving model %q: %w", modelID, err)
	}
	return id, true, nil
}

func (r *postgresRepository) ModelAccess(ctx context.Context, tier string, modelRef uuid.UUID) (bool, error) {
	var enabled bool
	err := r.pool.QueryRow(ctx,
		`SELECT enabled FROM tier_model_access WHERE tier = $1 AND model_id = $2`,
		tier, modelRef,
	).Scan(&enabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// No row means no access grant: default deny.
			return false, nil
		}
		return false, fmt.Errorf("querying tier model access: %w", err)
	}
	return enabled, nil
}

func (r *postgresRepository) LimitsFor(ctx context.Context, tier string, modelRef uuid.UUID) (*WindowCounts, error) {
	limits := &WindowCounts{}
	err := r.pool.QueryRow(ctx,
		`SELECT hourly_limit, daily_limit, monthly_limit
		 FROM quota_limits WHERE tier = $1 AND model_id = $2`,
		tier, modelRef,
	).Scan(&limits.Hourly, &limits.Daily, &limits.Monthly)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying quota limits: %w", err)
	}
	return limits, nil
}

func (r *postgresRepository) UsageSums(ctx context.Context, userID, modelRef uuid.UUID, day time.Time, hour int, monthStart time.Time) (WindowCounts, error) {
	var usage WindowCounts

	// Normally one row per bucket, but SUM tolerates duplicates.
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(images_generated), 0) FROM usage_records
		 WHERE user_id = $1 AND model_id = $2 AND usage_date = $3 AND usage_hour = $4`,
		userID, modelRef, day, hour,
	).Scan(&usage.Hourly)
	if err != nil {
		return WindowCounts{}, fmt.Errorf("summing hourly usage: %w", err)
	}

	err = r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(images_generated), 0) FROM usage_records
		 WHERE user_id = $1 AND model_id = $2 AND usage_date = $3`,
		userID, modelRef, day,
	).Scan(&usage.Daily)
	if err != nil {
		return WindowCounts{}, fmt.Errorf("summing daily usage: %w", err)
	}

	err = r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(images_generated), 0) FROM usage_records
		 WHERE user_id = $1 AND model_id = $2 AND usage_date >= $3`,
		userID, modelRef, monthStart,
	).Scan(&usage.Monthly)
	if err != nil {
		return WindowCounts{}, fmt.Errorf("summing monthly usage: %w", err)
	}

	return usage, nil
}

func (r *postgresRepository) IncrementUsage(ctx context.Context, userID, modelRef uuid.UUID, day time.Time, hour, count int) error {
	// Single atomic upsert: concurrent calls for the same bucket serialize on
	// the row instead of clobbering each other's read-modify-write.
	_, err := r.pool.Exec(ctx,
		`INSERT INTO usage_records (user_id, model_id, usage_date, usage_hour, images_generated, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		 ON CONFLICT (user_id, model_id, usage_date, usage_hour)
		 DO UPDATE SET images_generated = usage_records.images_generated + EXCLUDED.images_generated,
		               updated_at = NOW()`,
		userID, modelRef, day, hour, count)
	if err != nil {
		return fmt.Errorf("incrementing usage bucket: %w", err)
	}
	return nil
}

func (r *postgresRepository) EnabledModels(ctx context.Context, tier string) ([]ModelRef, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT m.id, m.model_id
		 FROM tier_model_access a
		 JOIN image_models m ON m.id = a.model_id
		 WHERE a.tier = $1 AND a.enabled AND m.active
		 ORDER BY m.model_id`, tier)
	if err != nil {
		return nil, fmt.Errorf("listing enabled models: %w", err)
	}
	defer rows.Close()

	var models []ModelRef
	for rows.Next() {
		var m ModelRef
		if err := rows.Scan(&m.RefID, &m.ModelID); err != nil {
			return nil, fmt.Errorf("scanning enabled model: %w", err)
		}
		models = append(models, m)
	}
	return models, rows.Err()
}
