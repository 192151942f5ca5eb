package generation

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/imagestudio-ai/imagestudio/internal/events"
	"github.com/imagestudio-ai/imagestudio/internal/metrics"
	"github.com/imagestudio-ai/imagestudio/internal/quota"
)

// UsageConsumer listens for worker completion events, records usage and
// updates request status.
type UsageConsumer struct {
	repo        Repository
	quota       *quota.Service
	consumerMgr *events.ConsumerManager
}

func NewUsageConsumer(repo Repository, quotaSvc *quota.Service, consumerMgr *events.ConsumerManager) *UsageConsumer {
	return &UsageConsumer{
		repo:        repo,
		quota:       quotaSvc,
		consumerMgr: consumerMgr,
	}
}

// Start begins the consume loop. Blocks until ctx is cancelled.
func (c *UsageConsumer) Start(ctx context.Context) error {
	consumer, err := c.consumerMgr.EnsureConsumer(ctx, events.StreamEvents, "usage-tracker", events.SubjectUsageEvent)
	if err != nil {
		return err
	}

	slog.Info("usage consumer started", "consumer", "usage-tracker")

	for {
		msgs, err := consumer.Fetch(10, jetstream.FetchMaxWait(events.FetchTimeout))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Debug("usage consumer: fetching events", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			c.handleEvent(ctx, msg)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *UsageConsumer) handleEvent(ctx context.Context, msg jetstream.Msg) {
	var event events.UsageEvent
	if err := json.Unmarshal(msg.Data(), &event); err != nil {
		slog.Error("usage consumer: unmarshaling event", "error", err)
		_ = msg.Nak()
		return
	}

	status := StatusFailed
	if event.Status == "completed" {
		status = StatusCompleted

		// Tracking failure is non-fatal: the generation already happened,
		// the request still completes.
		if ok := c.quota.TrackUsage(ctx, event.UserID, event.ModelID, event.ImagesGenerated); !ok {
			slog.Warn("usage consumer: usage not recorded",
				"request_id", event.RequestID,
				"user_id", event.UserID,
				"model", event.ModelID,
			)
		}
	}

	if err := c.repo.UpdateStatus(ctx, event.RequestID, status); err != nil {
		slog.Error("usage consumer: updating request status", "error", err, "request_id", event.RequestID)
		_ = msg.Nak()
		return
	}
	metrics.GenerationRequestsTotal.WithLabelValues(status).Inc()

	_ = msg.Ack()

	slog.Debug("usage consumer: processed event",
		"request_id", event.RequestID,
		"status", status,
		"images", event.ImagesGenerated,
	)
}
