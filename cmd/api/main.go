package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"example.com/meetingactivity/internal/api"
	"example.com/meetingactivity/internal/auth"
	"example.com/meetingactivity/internal/broadcast"
	"example.com/meetingactivity/internal/config"
	"example.com/meetingactivity/internal/consumer"
	"example.com/meetingactivity/internal/domain"
	"example.com/meetingactivity/internal/ingress"
	"example.com/meetingactivity/internal/logging"
	"example.com/meetingactivity/internal/observability"
	"example.com/meetingactivity/internal/persistence/memory"
	persistence "example.com/meetingactivity/internal/persistence/postgres"
	"example.com/meetingactivity/internal/registry"
	"example.com/meetingactivity/internal/relay"
	httptransport "example.com/meetingactivity/internal/transport/http"
	"example.com/meetingactivity/internal/transport/ws"
)

func main() {
	if err := run(); err != nil {
		slog.Error("meeting-activity exited", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		store     domain.Store
		readiness api.Pinger
	)
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		store = persistence.NewRepository(pool)
		readiness = pool
	default:
		logger.Warn("using in-memory activity store; records are lost on restart")
		store = memory.NewStore()
	}

	reconcilerOpts := []domain.ReconcilerOption{
		domain.WithNamePolicy(domain.NewNamePolicy(cfg.MeetingNamePlaceholders)),
	}
	if cfg.ReconcileSerializeKeys {
		reconcilerOpts = append(reconcilerOpts, domain.WithKeyedLocking())
	}
	reconciler := domain.NewReconciler(store, reconcilerOpts...)

	subscriptions := registry.New()
	observability.TrackSubscriptions(subscriptions)

	local := broadcast.New(subscriptions,
		broadcast.WithLogger(logger),
		broadcast.WithDeliveryTimeout(cfg.DeliveryTimeout),
	)

	var (
		publisher  broadcast.Publisher = local
		processors []*consumer.Processor
		readers    []consumer.Reader
	)
	if cfg.RelayEnabled() {
		producer := relay.NewKafkaProducer(cfg.Kafka.Brokers)
		defer producer.Close()
		publisher = relay.NewPublisher(local, producer, cfg.Kafka.RelayTopic, cfg.Kafka.InstanceID, relay.WithLogger(logger))

		// Each replica reads the whole relay topic under its own group.
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:         cfg.Kafka.Brokers,
			GroupID:         cfg.Kafka.GroupID + "-relay-" + cfg.Kafka.InstanceID,
			Topic:           cfg.Kafka.RelayTopic,
			StartOffset:     kafka.LastOffset,
			MinBytes:        1,
			MaxBytes:        10e6,
			MaxWait:         250 * time.Millisecond,
			CommitInterval:  time.Second,
			ReadLagInterval: -1,
		})
		readers = append(readers, reader)
		processors = append(processors, consumer.NewProcessor(reader,
			relay.NewHandler(local, cfg.Kafka.InstanceID, relay.WithLogger(logger)),
			consumer.WithLogger(logger.With("component", "relay-consumer"))))
	}

	events := ingress.New(reconciler, publisher, subscriptions, ingress.WithLogger(logger))

	if cfg.LifecycleConsumerEnabled() {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:         cfg.Kafka.Brokers,
			GroupID:         cfg.Kafka.GroupID,
			Topic:           cfg.Kafka.LifecycleTopic,
			MinBytes:        1e3,
			MaxBytes:        10e6,
			CommitInterval:  time.Second,
			RetentionTime:   24 * time.Hour,
			ReadLagInterval: -1,
		})
		readers = append(readers, reader)
		processors = append(processors, consumer.NewProcessor(reader,
			consumer.NewLifecycleHandler(events, logger),
			consumer.WithLogger(logger.With("component", "lifecycle-consumer"))))
	}

	mux := http.NewServeMux()
	api.NewHandler(events, api.WithLogger(logger), api.WithReadiness(readiness)).RegisterRoutes(mux)
	mux.Handle("/v1/activity-stream", ws.NewHandler(events,
		ws.WithLogger(logger),
		ws.WithAllowedOrigin(cfg.AllowedOrigin),
		ws.WithWriteTimeout(cfg.DeliveryTimeout)))
	mux.Handle("/metrics", promhttp.Handler())

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.Auth.JWTSecret, Issuer: cfg.Auth.JWTIssuer})

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:           cfg.HTTPAddress,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		Logger:            logger,
	}, httptransport.Chain(mux,
		httptransport.RequestLogger(logger),
		httptransport.CORS(cfg.AllowedOrigin),
		authMiddleware.Wrap,
	))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("meeting-activity listening", "addr", cfg.HTTPAddress, "store", cfg.StoreDriver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	for _, proc := range processors {
		g.Go(func() error {
			if err := proc.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		var errs error
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = errors.Join(errs, err)
		}
		// Hijacked WebSocket connections are not tracked by Shutdown; draining the
		// registry closes them.
		if err := subscriptions.Close(shutdownCtx); err != nil {
			errs = errors.Join(errs, err)
		}
		for _, reader := range readers {
			if err := reader.Close(); err != nil {
				errs = errors.Join(errs, err)
			}
		}
		if errs != nil {
			logger.Warn("graceful shutdown incomplete", "err", errs)
		}
		return nil
	})

	return g.Wait()
}
