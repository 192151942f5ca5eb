package generation

import (
	"time"

	"github.com/google/uuid"
)

// Request lifecycle statuses.
const (
	StatusQueued    = "queued"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Request is a persisted image generation request. ModelID is the public
// model identifier; ModelRef the internal image_models row key.
type Request struct {
	ID         uuid.UUID `json:"id"`
	UserID     uuid.UUID `json:"user_id"`
	ModelRef   uuid.UUID `json:"-"`
	ModelID    string    `json:"model_id"`
	Prompt     string    `json:"prompt"`
	ImageCount int       `json:"image_count"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type CreateRequest struct {
	ModelID    string `json:"model_id" validate:"required,min=1,max=255"`
	Prompt     string `json:"prompt" validate:"required,min=1,max=4000"`
	ImageCount int    `json:"image_count" validate:"omitempty,min=1,max=10"`
}

type ListParams struct {
	Page     int
	PageSize int
}

func DefaultListParams() ListParams {
	return ListParams{
		Page:     1,
		PageSize: 20,
	}
}
