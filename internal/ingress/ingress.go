// Package ingress receives lifecycle and membership signals from transports and
// sequences reconciliation, payload mapping and fan-out.
package ingress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"example.com/meetingactivity/internal/broadcast"
	"example.com/meetingactivity/internal/domain"
	"example.com/meetingactivity/internal/observability"
	"example.com/meetingactivity/internal/registry"
)

// Reconciler turns a lifecycle event into a stored activity.
type Reconciler interface {
	Reconcile(ctx context.Context, event domain.LifecycleEvent) (domain.Reconciled, error)
}

// Subscriptions manages channel membership.
type Subscriptions interface {
	Subscribe(userID string, channel registry.Channel) (string, error)
	Unsubscribe(channel registry.Channel) bool
}

// Result summarizes how one lifecycle event was handled. Transports never echo it to the sender.
type Result struct {
	Reconciled *domain.Reconciled
	Delivered  int
	Err        error
}

// Option configures optional behaviour for the Ingress.
type Option func(*Ingress)

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Ingress) {
		i.logger = logger
	}
}

// Ingress is the single entry point for events arriving over any transport.
type Ingress struct {
	reconciler    Reconciler
	publisher     broadcast.Publisher
	subscriptions Subscriptions
	logger        *slog.Logger
}

// New constructs an Ingress.
func New(reconciler Reconciler, publisher broadcast.Publisher, subscriptions Subscriptions, opts ...Option) *Ingress {
	i := &Ingress{
		reconciler:    reconciler,
		publisher:     publisher,
		subscriptions: subscriptions,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// HandleLifecycle reconciles event and publishes the resulting activity to the user's channels.
// Failures are logged and counted; the event is dropped.
func (i *Ingress) HandleLifecycle(ctx context.Context, event domain.LifecycleEvent) Result {
	kind := string(event.Kind)
	logger := i.logger.With("user_id", event.UserID, "meeting_id", event.MeetingID, "kind", kind)

	reconciled, err := i.reconciler.Reconcile(ctx, event)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrValidation):
			eventsCounter.WithLabelValues(kind, resultValidationFailed).Inc()
			logger.WarnContext(ctx, "lifecycle event dropped", "err", err)
		case errors.Is(err, domain.ErrStorage):
			eventsCounter.WithLabelValues(kind, resultStorageFailed).Inc()
			logger.ErrorContext(ctx, "lifecycle event dropped", "err", err)
		default:
			eventsCounter.WithLabelValues(kind, resultFailed).Inc()
			logger.ErrorContext(ctx, "lifecycle event dropped", "err", err)
		}
		return Result{Err: err}
	}

	eventsCounter.WithLabelValues(kind, resultOK).Inc()
	outcomeCounter.WithLabelValues(kind, string(reconciled.Outcome)).Inc()
	observability.RecordActivityReconciled(time.Now())

	update := broadcast.NewUpdate(reconciled)
	delivered := i.publisher.Publish(ctx, reconciled.Record.UserID, update)

	logger.DebugContext(ctx, "lifecycle event reconciled",
		"activity_id", reconciled.Record.ID,
		"outcome", string(reconciled.Outcome),
		"delivered", delivered)

	return Result{Reconciled: &reconciled, Delivered: delivered}
}

// Join subscribes channel to userID's activity stream.
func (i *Ingress) Join(userID string, channel registry.Channel) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required to join", domain.ErrValidation)
	}
	previous, err := i.subscriptions.Subscribe(userID, channel)
	if err != nil {
		return err
	}
	membershipCounter.WithLabelValues("join").Inc()
	if previous != "" && previous != userID {
		i.logger.Info("channel moved to another user stream", "channel_id", channel.ID(), "from_user_id", previous, "user_id", userID)
	}
	return nil
}

// Leave unsubscribes channel without closing it.
func (i *Ingress) Leave(channel registry.Channel) bool {
	removed := i.subscriptions.Unsubscribe(channel)
	if removed {
		membershipCounter.WithLabelValues("leave").Inc()
	}
	return removed
}

// Disconnect removes a closed channel. Safe to call more than once.
func (i *Ingress) Disconnect(channel registry.Channel) {
	if i.subscriptions.Unsubscribe(channel) {
		membershipCounter.WithLabelValues("disconnect").Inc()
		i.logger.Debug("channel disconnected", "channel_id", channel.ID())
	}
}
