package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	ListTiers(ctx context.Context) ([]*Tier, error)
	GetTier(ctx context.Context, name string) (*Tier, error)
	CreateTier(ctx context.Context, tier *Tier) error
	DeleteTier(ctx context.Context, name string) error

	ListModels(ctx context.Context) ([]*ImageModel, error)
	ListActiveModelsForTier(ctx context.Context, tier string) ([]*ImageModel, error)
	GetModelByPublicID(ctx context.Context, modelID string) (*ImageModel, error)
	GetModel(ctx context.Context, id uuid.UUID) (*ImageModel, error)
	CreateModel(ctx context.Context, model *ImageModel) error
	UpdateModel(ctx context.Context, model *ImageModel) error

	UpsertAccess(ctx context.Context, tier string, modelRef uuid.UUID, enabled bool) error
	UpsertLimits(ctx context.Context, tier string, modelRef uuid.UUID, hourly, daily, monthly int) error
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

func (r *postgresRepository) ListTiers(ctx context.Context) ([]*Tier, error) {
	query := `
		SELECT name, display_name, description, created_at, updated_at
		FROM user_tiers
		ORDER BY name`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing tiers: %w", err)
	}
	defer rows.Close()

	var tiers []*Tier
	for rows.Next() {
		tier := &Tier{}
		if err := rows.Scan(&tier.Name, &tier.DisplayName, &tier.Description, &tier.CreatedAt, &tier.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning tier row: %w", err)
		}
		tiers = append(tiers, tier)
	}
	return tiers, rows.Err()
}

func (r *postgresRepository) GetTier(ctx context.Context, name string) (*Tier, error) {
	query := `
		SELECT name, display_name, description, created_at, updated_at
		FROM user_tiers
		WHERE name = $1`

	tier := &Tier{}
	err := r.pool.QueryRow(ctx, query, name).Scan(
		&tier.Name, &tier.DisplayName, &tier.Description, &tier.CreatedAt, &tier.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying tier: %w", err)
	}
	return tier, nil
}

func (r *postgresRepository) CreateTier(ctx context.Context, tier *Tier) error {
	query := `
		INSERT INTO user_tiers (name, display_name, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.pool.Exec(ctx, query,
		tier.Name, tier.DisplayName, tier.Description, tier.CreatedAt, tier.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting tier: %w", err)
	}
	return nil
}

func (r *postgresRepository) DeleteTier(ctx context.Context, name string) error {
	query := `DELETE FROM user_tiers WHERE name = $1`

	result, err := r.pool.Exec(ctx, query, name)
	if err != nil {
		return fmt.Errorf("deleting tier: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("tier not found")
	}
	return nil
}

func (r *postgresRepository) ListModels(ctx context.Context) ([]*ImageModel, error) {
	query := `
		SELECT id, model_id, display_name, provider, active, created_at, updated_at
		FROM image_models
		ORDER BY model_id`

	return r.queryModels(ctx, query)
}

func (r *postgresRepository) ListActiveModelsForTier(ctx context.Context, tier string) ([]*ImageModel, error) {
	query := `
		SELECT m.id, m.model_id, m.display_name, m.provider, m.active, m.created_at, m.updated_at
		FROM image_models m
		JOIN tier_model_access a ON a.model_id = m.id
		WHERE a.tier = $1 AND a.enabled AND m.active
		ORDER BY m.model_id`

	return r.queryModels(ctx, query, tier)
}

func (r *postgresRepository) queryModels(ctx context.Context, query string, args ...any) ([]*ImageModel, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing models: %w", err)
	}
	defer rows.Close()

	var models []*ImageModel
	for rows.Next() {
		m := &ImageModel{}
		err := rows.Scan(&m.ID, &m.ModelID, &m.DisplayName, &m.Provider, &m.Active, &m.CreatedAt, &m.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning model row: %w", err)
		}
		models = append(models, m)
	}
	return models, rows.Err()
}

func (r *postgresRepository) GetModelByPublicID(ctx context.Context, modelID string) (*ImageModel, error) {
	query := `
		SELECT id, model_id, display_name, provider, active, created_at, updated_at
		FROM image_models
		WHERE model_id = $1`

	return r.scanModel(r.pool.QueryRow(ctx, query, modelID))
}

func (r *postgresRepository) GetModel(ctx context.Context, id uuid.UUID) (*ImageModel, error) {
	query := `
		SELECT id, model_id, display_name, provider, active, created_at, updated_at
		FROM image_models
		WHERE id = $1`

	return r.scanModel(r.pool.QueryRow(ctx, query, id))
}

func (r *postgresRepository) scanModel(row pgx.Row) (*ImageModel, error) {
	m := &ImageModel{}
	err := row.Scan(&m.ID, &m.ModelID, &m.DisplayName, &m.Provider, &m.Active, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying model: %w", err)
	}
	return m, nil
}

func (r *postgresRepository) CreateModel(ctx context.Context, model *ImageModel) error {
	query := `
		INSERT INTO image_models (id, model_id, display_name, provider, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.pool.Exec(ctx, query,
		model.ID, model.ModelID, model.DisplayName, model.Provider, model.Active,
		model.CreatedAt, model.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting model: %w", err)
	}
	return nil
}

func (r *postgresRepository) UpdateModel(ctx context.Context, model *ImageModel) error {
	query := `
		UPDATE image_models
		SET display_name = $2, provider = $3, active = $4, updated_at = $5
		WHERE id = $1`

	result, err := r.pool.Exec(ctx, query,
		model.ID, model.DisplayName, model.Provider, model.Active, model.UpdatedAt)
	if err != nil {
		return fmt.Errorf("updating model: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("model not found")
	}
	return nil
}

func (r *postgresRepository) UpsertAccess(ctx context.Context, tier string, modelRef uuid.UUID, enabled bool) error {
	query := `
		INSERT INTO tier_model_access (tier, model_id, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (tier, model_id)
		DO UPDATE SET enabled = EXCLUDED.enabled, updated_at = NOW()`

	_, err := r.pool.Exec(ctx, query, tier, modelRef, enabled)
	if err != nil {
		return fmt.Errorf("upserting model access: %w", err)
	}
	return nil
}

func (r *postgresRepository) UpsertLimits(ctx context.Context, tier string, modelRef uuid.UUID, hourly, daily, monthly int) error {
	query := `
		INSERT INTO quota_limits (tier, model_id, hourly_limit, daily_limit, monthly_limit, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (tier, model_id)
		DO UPDATE SET hourly_limit = EXCLUDED.hourly_limit,
			daily_limit = EXCLUDED.daily_limit,
			monthly_limit = EXCLUDED.monthly_limit,
			updated_at = NOW()`

	_, err := r.pool.Exec(ctx, query, tier, modelRef, hourly, daily, monthly)
	if err != nil {
		return fmt.Errorf("upserting quota limits: %w", err)
	}
	return nil
}
