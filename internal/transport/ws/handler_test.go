package ws

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"example.com/meetingactivity/internal/auth"
	"example.com/meetingactivity/internal/broadcast"
	"example.com/meetingactivity/internal/domain"
	"example.com/meetingactivity/internal/ingress"
	"example.com/meetingactivity/internal/persistence/memory"
	"example.com/meetingactivity/internal/registry"
)

var authConfig = auth.Config{Secret: "ws-secret", Issuer: "i5e.identity"}

type streamFixture struct {
	server   *httptest.Server
	registry *registry.Registry
	store    *memory.Store
}

func newStreamFixture(t *testing.T) streamFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewStore()
	reg := registry.New()
	ing := ingress.New(
		domain.NewReconciler(store),
		broadcast.New(reg, broadcast.WithLogger(logger)),
		reg,
		ingress.WithLogger(logger),
	)

	mux := http.NewServeMux()
	mux.Handle("/v1/activity-stream", NewHandler(ing, WithLogger(logger)))
	srv := httptest.NewServer(auth.NewMiddleware(authConfig).Wrap(mux))
	t.Cleanup(srv.Close)

	return streamFixture{server: srv, registry: reg, store: store}
}

func token(t *testing.T, subject string, scopes ...string) string {
	t.Helper()
	if len(scopes) == 0 {
		scopes = []string{auth.ScopeActivitiesRead}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":    subject,
		"iss":    authConfig.Issuer,
		"exp":    time.Now().Add(time.Hour).Unix(),
		"scopes": scopes,
	}).SignedString([]byte(authConfig.Secret))
	require.NoError(t, err)
	return signed
}

func (f streamFixture) dial(t *testing.T, bearer string) (*websocket.Conn, error) {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/v1/activity-stream"
	cfg, err := websocket.NewConfig(wsURL, f.server.URL)
	require.NoError(t, err)
	if bearer != "" {
		cfg.Header = make(http.Header)
		cfg.Header.Set("Authorization", "Bearer "+bearer)
	}
	conn, err := websocket.DialConfig(cfg)
	if conn != nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, err
}

func (f streamFixture) mustDial(t *testing.T, bearer string) *websocket.Conn {
	t.Helper()
	conn, err := f.dial(t, bearer)
	require.NoError(t, err)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, frameType string, payload any) {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, websocket.JSON.Send(conn, wsFrame{Type: frameType, RequestID: "req-" + frameType, Payload: body}))
}

func receive(t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame wsFrame
	require.NoError(t, websocket.JSON.Receive(conn, &frame))
	return frame
}

func join(t *testing.T, conn *websocket.Conn, userID string) {
	t.Helper()
	send(t, conn, frameJoinRoom, roomPayload{UserID: userID})
	joined := receive(t, conn)
	require.Equal(t, frameRoomJoined, joined.Type)
	require.Equal(t, "req-"+frameJoinRoom, joined.RequestID)
}

func TestStreamDeliversReconciledActivityToEveryChannel(t *testing.T) {
	f := newStreamFixture(t)
	phone := f.mustDial(t, token(t, "u1"))
	laptop := f.mustDial(t, token(t, "u1"))
	join(t, phone, "u1")
	join(t, laptop, "")

	send(t, phone, frameMeetingStarted, ingress.EventMessage{MeetingID: "m1", MeetingName: "Retro"})

	for _, conn := range []*websocket.Conn{phone, laptop} {
		frame := receive(t, conn)
		require.Equal(t, frameActivityUpdate, frame.Type)

		var update broadcast.Update
		require.NoError(t, json.Unmarshal(frame.Payload, &update))
		require.Equal(t, broadcast.EventMeetingStarted, update.EventKind)
		require.Equal(t, "Retro", update.Activity.MeetingName)
		require.Equal(t, "u1", update.Activity.UserID)
	}

	duration := 45
	send(t, laptop, frameMeetingCompleted, ingress.EventMessage{MeetingID: "m1", Duration: &duration})
	frame := receive(t, phone)
	var update broadcast.Update
	require.NoError(t, json.Unmarshal(frame.Payload, &update))
	require.Equal(t, broadcast.EventMeetingCompleted, update.EventKind)
	require.Equal(t, "merged", update.Outcome)
	require.Equal(t, 45, *update.Activity.Duration)
}

func TestLifecycleFramesUseAuthenticatedUser(t *testing.T) {
	f := newStreamFixture(t)
	conn := f.mustDial(t, token(t, "u1"))
	join(t, conn, "u1")

	send(t, conn, frameMeetingStarted, ingress.EventMessage{UserID: "intruder", MeetingID: "m1"})
	receive(t, conn)

	require.Len(t, f.store.ListByUser("u1"), 1)
	require.Empty(t, f.store.ListByUser("intruder"))
}

func TestJoinAnotherUsersStreamIsForbidden(t *testing.T) {
	f := newStreamFixture(t)
	conn := f.mustDial(t, token(t, "u1"))

	send(t, conn, frameJoinRoom, roomPayload{UserID: "u2"})
	frame := receive(t, conn)
	require.Equal(t, frameError, frame.Type)

	var payload errorPayload
	require.NoError(t, json.Unmarshal(frame.Payload, &payload))
	require.Equal(t, codeForbidden, payload.Code)
	require.Zero(t, f.registry.Len())
}

func TestMalformedFramesAreRejected(t *testing.T) {
	f := newStreamFixture(t)
	conn := f.mustDial(t, token(t, "u1"))

	require.NoError(t, websocket.Message.Send(conn, "{not json"))
	frame := receive(t, conn)
	require.Equal(t, frameError, frame.Type)

	send(t, conn, "dance", map[string]string{})
	frame = receive(t, conn)
	require.Equal(t, frameError, frame.Type)
	require.Equal(t, "req-dance", frame.RequestID)

	send(t, conn, frameMeetingStarted, "not an object")
	frame = receive(t, conn)
	require.Equal(t, frameError, frame.Type)
}

func TestInvalidLifecycleEventIsNotEchoed(t *testing.T) {
	f := newStreamFixture(t)
	conn := f.mustDial(t, token(t, "u1"))
	join(t, conn, "u1")

	send(t, conn, frameMeetingCompleted, ingress.EventMessage{})
	send(t, conn, frameLeaveRoom, nil)

	frame := receive(t, conn)
	require.Equal(t, frameRoomLeft, frame.Type)
}

func TestDisconnectRemovesChannel(t *testing.T) {
	f := newStreamFixture(t)
	conn := f.mustDial(t, token(t, "u1"))
	join(t, conn, "u1")
	require.Equal(t, 1, f.registry.Len())

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return f.registry.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestStreamRequiresAuthentication(t *testing.T) {
	f := newStreamFixture(t)

	_, err := f.dial(t, "")
	require.Error(t, err)

	_, err = f.dial(t, token(t, "u1", auth.ScopeMeetingsWrite))
	require.Error(t, err)
}
