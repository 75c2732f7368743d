package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"example.com/meetingactivity/internal/broadcast"
	"example.com/meetingactivity/internal/domain"
	"example.com/meetingactivity/internal/persistence/memory"
	"example.com/meetingactivity/internal/registry"
)

type captureChannel struct {
	id   string
	mu   sync.Mutex
	sent []broadcast.Update
}

func (c *captureChannel) ID() string { return c.id }

func (c *captureChannel) Send(_ context.Context, payload []byte) error {
	var update broadcast.Update
	if err := json.Unmarshal(payload, &update); err != nil {
		return err
	}
	c.mu.Lock()
	c.sent = append(c.sent, update)
	c.mu.Unlock()
	return nil
}

func (c *captureChannel) Close() error { return nil }

func (c *captureChannel) updates() []broadcast.Update {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]broadcast.Update(nil), c.sent...)
}

type fixture struct {
	ingress  *Ingress
	store    *memory.Store
	registry *registry.Registry
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewStore()
	reg := registry.New()
	ing := New(
		domain.NewReconciler(store),
		broadcast.New(reg, broadcast.WithLogger(logger)),
		reg,
		WithLogger(logger),
	)
	return fixture{ingress: ing, store: store, registry: reg}
}

func TestLifecycleScenarioStartThenComplete(t *testing.T) {
	f := newFixture(t)
	phone, laptop := &captureChannel{id: "phone"}, &captureChannel{id: "laptop"}
	require.NoError(t, f.ingress.Join("u1", phone))
	require.NoError(t, f.ingress.Join("u1", laptop))

	ctx := context.Background()
	started := f.ingress.HandleLifecycle(ctx, domain.LifecycleEvent{UserID: "u1", MeetingID: "m1", Kind: domain.EventKindStarted, MeetingName: "Sprint Planning"})
	require.NoError(t, started.Err)
	require.Equal(t, 2, started.Delivered)

	duration := 30
	completed := f.ingress.HandleLifecycle(ctx, domain.LifecycleEvent{UserID: "u1", MeetingID: "m1", Kind: domain.EventKindCompleted, DurationMin: &duration})
	require.NoError(t, completed.Err)
	require.Equal(t, started.Reconciled.Record.ID, completed.Reconciled.Record.ID)

	for _, channel := range []*captureChannel{phone, laptop} {
		updates := channel.updates()
		require.Len(t, updates, 2)
		require.Equal(t, broadcast.EventMeetingStarted, updates[0].EventKind)
		require.Equal(t, "created", updates[0].Activity.Type)
		require.Equal(t, "in-progress", updates[0].Activity.Status)
		require.Equal(t, broadcast.EventMeetingCompleted, updates[1].EventKind)
		require.Equal(t, "merged", updates[1].Outcome)
		require.Equal(t, "completed", updates[1].Activity.Status)
		require.Equal(t, "Sprint Planning", updates[1].Activity.MeetingName)
		require.Equal(t, 30, *updates[1].Activity.Duration)
	}
}

func TestValidationFailureIsDroppedSilently(t *testing.T) {
	f := newFixture(t)
	channel := &captureChannel{id: "c"}
	require.NoError(t, f.ingress.Join("u1", channel))

	before := testutil.ToFloat64(eventsCounter.WithLabelValues("started", resultValidationFailed))
	result := f.ingress.HandleLifecycle(context.Background(), domain.LifecycleEvent{UserID: "u1", Kind: domain.EventKindStarted})

	require.ErrorIs(t, result.Err, domain.ErrValidation)
	require.Nil(t, result.Reconciled)
	require.Empty(t, channel.updates())
	require.Empty(t, f.store.ListByUser("u1"))
	require.Equal(t, before+1, testutil.ToFloat64(eventsCounter.WithLabelValues("started", resultValidationFailed)))
}

func TestStorageFailureSkipsPublish(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New()
	publisher := &countingPublisher{}
	ing := New(failingReconciler{}, publisher, reg, WithLogger(logger))

	result := ing.HandleLifecycle(context.Background(), domain.LifecycleEvent{UserID: "u1", MeetingID: "m1", Kind: domain.EventKindCompleted})
	require.ErrorIs(t, result.Err, domain.ErrStorage)
	require.Zero(t, publisher.calls)
}

func TestUpdatesOnlyReachOwningUser(t *testing.T) {
	f := newFixture(t)
	mine, theirs := &captureChannel{id: "mine"}, &captureChannel{id: "theirs"}
	require.NoError(t, f.ingress.Join("u1", mine))
	require.NoError(t, f.ingress.Join("u2", theirs))

	result := f.ingress.HandleLifecycle(context.Background(), domain.LifecycleEvent{UserID: "u2", MeetingID: "m2", Kind: domain.EventKindCompleted})
	require.NoError(t, result.Err)

	require.Empty(t, mine.updates())
	require.Len(t, theirs.updates(), 1)
	require.Equal(t, domain.DefaultMeetingName, theirs.updates()[0].Activity.MeetingName)
}

func TestJoinRequiresUser(t *testing.T) {
	f := newFixture(t)
	err := f.ingress.Join("  ", &captureChannel{id: "c"})
	require.ErrorIs(t, err, domain.ErrValidation)
	require.Zero(t, f.registry.Len())
}

func TestDisconnectIsIdempotent(t *testing.T) {
	f := newFixture(t)
	channel := &captureChannel{id: "c"}
	require.NoError(t, f.ingress.Join("u1", channel))

	f.ingress.Disconnect(channel)
	f.ingress.Disconnect(channel)
	require.False(t, f.ingress.Leave(channel))
	require.Zero(t, f.registry.Len())

	result := f.ingress.HandleLifecycle(context.Background(), domain.LifecycleEvent{UserID: "u1", MeetingID: "m1", Kind: domain.EventKindStarted})
	require.NoError(t, result.Err)
	require.Zero(t, result.Delivered)
	require.Empty(t, channel.updates())
}

type failingReconciler struct{}

func (failingReconciler) Reconcile(context.Context, domain.LifecycleEvent) (domain.Reconciled, error) {
	return domain.Reconciled{}, errors.Join(domain.ErrStorage, errors.New("db down"))
}

type countingPublisher struct {
	calls int
}

func (p *countingPublisher) Publish(context.Context, string, broadcast.Update) int {
	p.calls++
	return 0
}
