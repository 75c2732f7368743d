// Package relay shares activity updates between API replicas through a Kafka topic, so a
// user's channels receive updates no matter which replica reconciled the event.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/meetingactivity/internal/broadcast"
	"example.com/meetingactivity/internal/consumer"
)

// Envelope is the record value written to the relay topic.
type Envelope struct {
	UserID string           `json:"userId"`
	Origin string           `json:"origin"`
	Update broadcast.Update `json:"update"`
}

// Option configures optional behaviour for the Publisher and Handler.
type Option func(*options)

type options struct {
	logger       *slog.Logger
	writeTimeout time.Duration
}

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithWriteTimeout bounds each relay write.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout > 0 {
			o.writeTimeout = timeout
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default().With("component", "relay"), writeTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Publisher delivers to local channels first and then hands the update to other replicas.
type Publisher struct {
	local  broadcast.Publisher
	writer MessageWriter
	topic  string
	origin string
	opts   options
}

// NewPublisher constructs a Publisher. origin identifies this replica on the relay topic.
func NewPublisher(local broadcast.Publisher, writer MessageWriter, topic, origin string, opts ...Option) *Publisher {
	return &Publisher{
		local:  local,
		writer: writer,
		topic:  topic,
		origin: origin,
		opts:   buildOptions(opts),
	}
}

// Publish implements broadcast.Publisher. The return value counts local deliveries only.
// A failed relay write is logged; remote replicas miss that update.
func (p *Publisher) Publish(ctx context.Context, userID string, update broadcast.Update) int {
	delivered := p.local.Publish(ctx, userID, update)

	body, err := json.Marshal(Envelope{UserID: userID, Origin: p.origin, Update: update})
	if err != nil {
		relayedCounter.WithLabelValues("published", "failed").Inc()
		p.opts.logger.ErrorContext(ctx, "encode relay envelope", "user_id", userID, "err", err)
		return delivered
	}

	writeCtx, cancel := context.WithTimeout(ctx, p.opts.writeTimeout)
	defer cancel()
	err = p.writer.WriteMessages(writeCtx, p.topic, kafka.Message{
		Key:   []byte(userID),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(update.EventKind)},
		},
	})
	if err != nil {
		relayedCounter.WithLabelValues("published", "failed").Inc()
		p.opts.logger.ErrorContext(ctx, "relay write failed", "user_id", userID, "topic", p.topic, "err", err)
		return delivered
	}
	relayedCounter.WithLabelValues("published", "ok").Inc()
	return delivered
}

// Handler delivers relay records published by other replicas to local channels.
type Handler struct {
	local  broadcast.Publisher
	origin string
	opts   options
}

var _ consumer.Handler = (*Handler)(nil)

// NewHandler constructs a Handler. Records carrying origin were already delivered locally.
func NewHandler(local broadcast.Publisher, origin string, opts ...Option) *Handler {
	return &Handler{local: local, origin: origin, opts: buildOptions(opts)}
}

// Handle implements consumer.Handler.
func (h *Handler) Handle(ctx context.Context, msg consumer.Message) error {
	var envelope Envelope
	if err := json.Unmarshal(msg.Payload, &envelope); err != nil {
		relayedCounter.WithLabelValues("received", "failed").Inc()
		return fmt.Errorf("decode relay envelope at offset %d: %w", msg.Offset, err)
	}
	if envelope.UserID == "" {
		relayedCounter.WithLabelValues("received", "failed").Inc()
		return fmt.Errorf("relay envelope at offset %d has no user", msg.Offset)
	}
	if envelope.Origin == h.origin {
		relayedCounter.WithLabelValues("skipped", "ok").Inc()
		return nil
	}

	delivered := h.local.Publish(ctx, envelope.UserID, envelope.Update)
	relayedCounter.WithLabelValues("received", "ok").Inc()
	h.opts.logger.DebugContext(ctx, "relay update delivered", "user_id", envelope.UserID, "origin", envelope.Origin, "delivered", delivered)
	return nil
}
