package quota

import (
	"github.com/google/uuid"
)

// TierInfo is the resolved subscription state for a user.
type TierInfo struct {
	Tier      string `json:"tier"`
	IsPremium bool   `json:"is_premium"`
}

// WindowCounts holds one integer per accounting window.
type WindowCounts struct {
	Hourly  int `json:"hourly"`
	Daily   int `json:"daily"`
	Monthly int `json:"monthly"`
}

// QuotaCheck is the decision returned by CheckQuota. Allowed=false always
// carries a human-readable Reason including the usage/limit pair that tripped.
// A store failure is reported as a separate error by the service, never folded
// into QuotaCheck, so callers can distinguish "denied" from "undeterminable".
type QuotaCheck struct {
	Allowed bool         `json:"allowed"`
	Reason  string       `json:"reason,omitempty"`
	Usage   WindowCounts `json:"usage"`
	Limits  WindowCounts `json:"limits"`
}

// ModelRef pairs a model's internal row ID with its public identifier.
type ModelRef struct {
	RefID   uuid.UUID `json:"-"`
	ModelID string    `json:"model_id"`
}

// Denial reason templates. Tests and API consumers match on the leading words.
const (
	reasonUserNotFound  = "User not found"
	reasonModelNotFound = "Model not found"
	reasonNoLimits      = "No quota limits configured"
)
