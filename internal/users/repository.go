package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	Create(ctx context.Context, user *User, profile *Profile) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	GetProfile(ctx context.Context, userID uuid.UUID) (*Profile, error)
	SetTier(ctx context.Context, userID uuid.UUID, tier string, isPremium bool) error
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

// Create inserts the user and their profile in one transaction so a user can
// never exist without a resolvable tier.
func (r *postgresRepository) Create(ctx context.Context, user *User, profile *Profile) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning user insert: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO users (id, email, password_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		user.ID, user.Email, user.PasswordHash, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO profiles (user_id, tier, is_premium, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		profile.UserID, profile.Tier, profile.IsPremium, profile.CreatedAt, profile.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting profile: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	query := `SELECT id, email, password_hash, created_at, updated_at FROM users WHERE id = $1`

	user := &User{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying user by id: %w", err)
	}
	return user, nil
}

func (r *postgresRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT id, email, password_hash, created_at, updated_at FROM users WHERE email = $1`

	user := &User{}
	err := r.pool.QueryRow(ctx, query, email).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying user by email: %w", err)
	}
	return user, nil
}

func (r *postgresRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)`

	var exists bool
	err := r.pool.QueryRow(ctx, query, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking email existence: %w", err)
	}
	return exists, nil
}

// GetProfile returns (nil, nil) when the user has no profile row.
func (r *postgresRepository) GetProfile(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	query := `SELECT user_id, tier, is_premium, created_at, updated_at FROM profiles WHERE user_id = $1`

	profile := &Profile{}
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&profile.UserID, &profile.Tier, &profile.IsPremium, &profile.CreatedAt, &profile.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying profile: %w", err)
	}
	return profile, nil
}

func (r *postgresRepository) SetTier(ctx context.Context, userID uuid.UUID, tier string, isPremium bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE profiles SET tier = $2, is_premium = $3, updated_at = NOW() WHERE user_id = $1`,
		userID, tier, isPremium)
	if err != nil {
		return fmt.Errorf("updating profile tier: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("profile not found")
	}
	return nil
}
