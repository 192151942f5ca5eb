package users

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Profile carries the subscription state that drives model access and quotas.
// A user without a profile row has no resolvable tier and is denied everything.
type Profile struct {
	UserID    uuid.UUID `json:"user_id"`
	Tier      string    `json:"tier"`
	IsPremium bool      `json:"is_premium"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultTier is assigned to every profile created through registration.
const DefaultTier = "free"
