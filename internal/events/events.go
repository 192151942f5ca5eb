package events

import (
	"time"

	"github.com/google/uuid"
)

// FetchTimeout is the default timeout for batch fetching messages from consumers.
const FetchTimeout = 2 * time.Second

// Stream names.
const (
	StreamTasks  = "STUDIO_TASKS"
	StreamEvents = "STUDIO_EVENTS"
)

// Subject constants.
const (
	SubjectTaskPrefix = "studio.tasks" // studio.tasks.{model_id}
	SubjectUsageEvent = "studio.events.usage"
	SubjectAuditEvent = "studio.events.audit"
)

// GenerationTask is published for provider workers (fal.ai, Gemini) to execute.
type GenerationTask struct {
	RequestID  uuid.UUID `json:"request_id"`
	UserID     uuid.UUID `json:"user_id"`
	ModelID    string    `json:"model_id"`
	Prompt     string    `json:"prompt"`
	ImageCount int       `json:"image_count"`
	QueuedAt   time.Time `json:"queued_at"`
}

// UsageEvent is published by workers when a generation finishes. "completed"
// events drive usage accounting; "failed" events only update request status.
type UsageEvent struct {
	RequestID       uuid.UUID `json:"request_id"`
	UserID          uuid.UUID `json:"user_id"`
	ModelID         string    `json:"model_id"`
	ImagesGenerated int       `json:"images_generated"`
	Status          string    `json:"status"` // completed, failed
	Detail          string    `json:"detail,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// AuditEvent is published for compliance logging: quota denials, admin mutations.
type AuditEvent struct {
	UserID       uuid.UUID `json:"user_id"`
	EventType    string    `json:"event_type"`
	Severity     string    `json:"severity"` // info, warn, error
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id"`
	Details      string    `json:"details"`
	Timestamp    time.Time `json:"timestamp"`
}
