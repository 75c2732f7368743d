package consumer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/meetingactivity/internal/domain"
	"example.com/meetingactivity/internal/ingress"
)

type recordingIngress struct {
	events []domain.LifecycleEvent
}

func (r *recordingIngress) HandleLifecycle(_ context.Context, event domain.LifecycleEvent) ingress.Result {
	r.events = append(r.events, event)
	return ingress.Result{}
}

func TestLifecycleHandlerForwardsEvents(t *testing.T) {
	events := &recordingIngress{}
	handler := NewLifecycleHandler(events, quietLogger())
	ts := time.Date(2026, time.March, 3, 9, 0, 0, 0, time.UTC)

	err := handler.Handle(context.Background(), Message{
		Timestamp: ts,
		Payload:   []byte(`{"kind":"meeting-completed","userId":"u1","meetingId":"m1","duration":12}`),
	})
	require.NoError(t, err)
	require.Len(t, events.events, 1)

	got := events.events[0]
	require.Equal(t, "u1", got.UserID)
	require.Equal(t, domain.EventKindCompleted, got.Kind)
	require.Equal(t, 12, *got.DurationMin)
	require.Equal(t, ts, got.OccurredAt)
}

func TestLifecycleHandlerFallsBackToHeaderKind(t *testing.T) {
	events := &recordingIngress{}
	handler := NewLifecycleHandler(events, quietLogger())

	err := handler.Handle(context.Background(), Message{
		EventType: "meeting.started",
		Payload:   []byte(`{"userId":"u1","meetingId":"m1"}`),
	})
	require.NoError(t, err)
	require.Len(t, events.events, 1)
	require.Equal(t, domain.EventKindStarted, events.events[0].Kind)
}

func TestLifecycleHandlerDropsUnusableRecords(t *testing.T) {
	events := &recordingIngress{}
	handler := NewLifecycleHandler(events, quietLogger())

	require.NoError(t, handler.Handle(context.Background(), Message{Payload: []byte(`{"kind":"paused","userId":"u1","meetingId":"m1"}`)}))
	require.NoError(t, handler.Handle(context.Background(), Message{Payload: []byte(`[1,2,3]`)}))
	require.Empty(t, events.events)
}

func TestLifecycleHandlerReportsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	handler := NewLifecycleHandler(&recordingIngress{}, quietLogger())
	err := handler.Handle(ctx, Message{Payload: []byte(`{"kind":"started","userId":"u1","meetingId":"m1"}`)})
	require.ErrorIs(t, err, context.Canceled)
}
