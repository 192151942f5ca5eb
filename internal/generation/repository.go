package generation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	Create(ctx context.Context, req *Request) error
	GetByID(ctx context.Context, id uuid.UUID) (*Request, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Request, error)
	CountByUser(ctx context.Context, userID uuid.UUID) (int64, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

func (r *postgresRepository) Create(ctx context.Context, req *Request) error {
	query := `
		INSERT INTO generation_requests (id, user_id, model_id, prompt, image_count, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.pool.Exec(ctx, query,
		req.ID, req.UserID, req.ModelRef, req.Prompt, req.ImageCount,
		req.Status, req.CreatedAt, req.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting generation request: %w", err)
	}
	return nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Request, error) {
	query := `
		SELECT g.id, g.user_id, g.model_id, m.model_id, g.prompt, g.image_count, g.status, g.created_at, g.updated_at
		FROM generation_requests g
		JOIN image_models m ON m.id = g.model_id
		WHERE g.id = $1`

	req := &Request{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&req.ID, &req.UserID, &req.ModelRef, &req.ModelID,
		&req.Prompt, &req.ImageCount, &req.Status, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying generation request: %w", err)
	}
	return req, nil
}

func (r *postgresRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Request, error) {
	query := `
		SELECT g.id, g.user_id, g.model_id, m.model_id, g.prompt, g.image_count, g.status, g.created_at, g.updated_at
		FROM generation_requests g
		JOIN image_models m ON m.id = g.model_id
		WHERE g.user_id = $1
		ORDER BY g.created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing generation requests: %w", err)
	}
	defer rows.Close()

	var requests []*Request
	for rows.Next() {
		req := &Request{}
		err := rows.Scan(
			&req.ID, &req.UserID, &req.ModelRef, &req.ModelID,
			&req.Prompt, &req.ImageCount, &req.Status, &req.CreatedAt, &req.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning generation request row: %w", err)
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

func (r *postgresRepository) CountByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	query := `SELECT COUNT(*) FROM generation_requests WHERE user_id = $1`

	var count int64
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting generation requests: %w", err)
	}
	return count, nil
}

func (r *postgresRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	query := `UPDATE generation_requests SET status = $2, updated_at = NOW() WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("updating generation request status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("generation request not found")
	}
	return nil
}
