// Package broadcast delivers activity updates to every channel subscribed to a user.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"example.com/meetingactivity/internal/domain"
	"example.com/meetingactivity/internal/registry"
)

// Publisher sends an update to a user's live channels and reports how many received it.
type Publisher interface {
	Publish(ctx context.Context, userID string, update Update) int
}

// ChannelSource resolves the channels currently subscribed to a user.
type ChannelSource interface {
	ChannelsFor(userID string) []registry.Channel
}

// Option configures optional behaviour for the Broadcaster.
type Option func(*Broadcaster)

// WithLogger overrides the logger used to report delivery failures.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broadcaster) {
		b.logger = logger
	}
}

// WithDeliveryTimeout bounds each per-channel send.
func WithDeliveryTimeout(timeout time.Duration) Option {
	return func(b *Broadcaster) {
		if timeout > 0 {
			b.timeout = timeout
		}
	}
}

// Broadcaster fans updates out to the local subscription registry.
type Broadcaster struct {
	channels ChannelSource
	timeout  time.Duration
	logger   *slog.Logger
}

// New constructs a Broadcaster over the given channel source.
func New(channels ChannelSource, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		channels: channels,
		timeout:  2 * time.Second,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish delivers update to every channel of userID. Failed channels are logged and skipped.
func (b *Broadcaster) Publish(ctx context.Context, userID string, update Update) int {
	publishCounter.WithLabelValues(update.EventKind).Inc()

	targets := b.channels.ChannelsFor(userID)
	fanoutHistogram.Observe(float64(len(targets)))
	if len(targets) == 0 {
		return 0
	}

	body, err := json.Marshal(update)
	if err != nil {
		b.logger.ErrorContext(ctx, "encode activity update", "user_id", userID, "err", err)
		return 0
	}

	var delivered atomic.Int64
	var wg sync.WaitGroup
	for _, channel := range targets {
		wg.Add(1)
		go func(channel registry.Channel) {
			defer wg.Done()
			if err := b.send(ctx, channel, body); err != nil {
				deliveryFailedCounter.Inc()
				b.logger.WarnContext(ctx, "activity update not delivered",
					"user_id", userID,
					"channel_id", channel.ID(),
					"activity_id", update.Activity.ID,
					"err", err)
				return
			}
			deliveredCounter.Inc()
			delivered.Add(1)
		}(channel)
	}
	wg.Wait()
	return int(delivered.Load())
}

func (b *Broadcaster) send(ctx context.Context, channel registry.Channel, body []byte) error {
	sendCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	if err := channel.Send(sendCtx, body); err != nil {
		return fmt.Errorf("%w: channel %s: %v", domain.ErrDelivery, channel.ID(), err)
	}
	return nil
}
