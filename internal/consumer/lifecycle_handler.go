package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"example.com/meetingactivity/internal/domain"
	"example.com/meetingactivity/internal/ingress"
)

// LifecycleIngress accepts reconciled lifecycle events.
type LifecycleIngress interface {
	HandleLifecycle(ctx context.Context, event domain.LifecycleEvent) ingress.Result
}

// LifecycleHandler feeds lifecycle topic records into the ingress. Records identify their
// user in the payload; the topic is only writable from inside the platform.
type LifecycleHandler struct {
	events LifecycleIngress
	logger *slog.Logger
}

// NewLifecycleHandler constructs a LifecycleHandler.
func NewLifecycleHandler(events LifecycleIngress, logger *slog.Logger) *LifecycleHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LifecycleHandler{events: events, logger: logger}
}

// Handle implements Handler. Only cancellation is reported as an error so that a
// reconcile failure never blocks the partition; the ingress has already logged it.
func (h *LifecycleHandler) Handle(ctx context.Context, msg Message) error {
	var payload ingress.EventMessage
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		h.logger.WarnContext(ctx, "lifecycle record dropped", "offset", msg.Offset, "err", err)
		return nil
	}
	if payload.Kind == "" {
		payload.Kind = msg.EventType
	}

	event, err := payload.ParsedEvent("")
	if err != nil {
		h.logger.WarnContext(ctx, "lifecycle record dropped", "offset", msg.Offset, "err", err)
		return nil
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = msg.Timestamp
	}

	h.events.HandleLifecycle(ctx, event)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("lifecycle record at offset %d: %w", msg.Offset, err)
	}
	return nil
}
