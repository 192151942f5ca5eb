package catalog

import (
	"time"

	"github.com/google/uuid"
)

// Tier is a subscription tier admins grant to user profiles.
type Tier struct {
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ImageModel is a generation model in the catalog. ModelID is the public
// identifier clients and workers use; ID is the internal row key.
type ImageModel struct {
	ID          uuid.UUID `json:"id"`
	ModelID     string    `json:"model_id"`
	DisplayName string    `json:"display_name"`
	Provider    string    `json:"provider,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TierLimits is the admin view of a quota_limits row.
type TierLimits struct {
	Tier         string `json:"tier"`
	ModelID      string `json:"model_id"`
	HourlyLimit  int    `json:"hourly_limit"`
	DailyLimit   int    `json:"daily_limit"`
	MonthlyLimit int    `json:"monthly_limit"`
}

type CreateTierRequest struct {
	Name        string `json:"name" validate:"required,min=1,max=64,lowercase"`
	DisplayName string `json:"display_name" validate:"required,min=1,max=255"`
	Description string `json:"description" validate:"max=1000"`
}

type CreateModelRequest struct {
	ModelID     string `json:"model_id" validate:"required,min=1,max=255"`
	DisplayName string `json:"display_name" validate:"required,min=1,max=255"`
	Provider    string `json:"provider" validate:"max=255"`
	Active      *bool  `json:"active"`
}

type UpdateModelRequest struct {
	DisplayName *string `json:"display_name" validate:"omitempty,min=1,max=255"`
	Provider    *string `json:"provider" validate:"omitempty,max=255"`
	Active      *bool   `json:"active"`
}

type SetAccessRequest struct {
	Tier    string `json:"tier" validate:"required"`
	ModelID string `json:"model_id" validate:"required"`
	Enabled bool   `json:"enabled"`
}

type SetLimitsRequest struct {
	Tier         string `json:"tier" validate:"required"`
	ModelID      string `json:"model_id" validate:"required"`
	HourlyLimit  int    `json:"hourly_limit" validate:"min=0"`
	DailyLimit   int    `json:"daily_limit" validate:"min=0"`
	MonthlyLimit int    `json:"monthly_limit" validate:"min=0"`
}
