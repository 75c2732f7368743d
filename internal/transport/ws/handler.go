// Package ws serves the live activity stream over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/websocket"

	"example.com/meetingactivity/internal/auth"
	"example.com/meetingactivity/internal/domain"
	"example.com/meetingactivity/internal/ingress"
	"example.com/meetingactivity/internal/registry"
)

var errChannelClosed = errors.New("channel closed")

// Sessions is the ingress surface used by connections.
type Sessions interface {
	Join(userID string, channel registry.Channel) error
	Leave(channel registry.Channel) bool
	Disconnect(channel registry.Channel)
	HandleLifecycle(ctx context.Context, event domain.LifecycleEvent) ingress.Result
}

// Option configures optional behaviour for the Handler.
type Option func(*Handler)

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithAllowedOrigin restricts browser upgrades to one origin. Empty allows any origin.
func WithAllowedOrigin(origin string) Option {
	return func(h *Handler) {
		h.allowedOrigin = strings.TrimRight(strings.TrimSpace(origin), "/")
	}
}

// WithWriteTimeout bounds replies written outside of fan-out.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(h *Handler) {
		if timeout > 0 {
			h.writeTimeout = timeout
		}
	}
}

// Handler upgrades authenticated requests and runs the frame loop for each connection.
type Handler struct {
	sessions      Sessions
	logger        *slog.Logger
	allowedOrigin string
	writeTimeout  time.Duration
	server        websocket.Server
}

// NewHandler constructs a Handler. Requests must carry claims placed by auth.Middleware.
func NewHandler(sessions Sessions, opts ...Option) *Handler {
	h := &Handler{
		sessions:     sessions,
		logger:       slog.Default(),
		writeTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.server = websocket.Server{
		Handshake: h.handshake,
		Handler:   h.serveConn,
	}
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	if !claims.HasScope(auth.ScopeActivitiesRead) {
		http.Error(w, "scope activities:read required", http.StatusForbidden)
		return
	}
	h.server.ServeHTTP(w, r)
}

func (h *Handler) handshake(cfg *websocket.Config, r *http.Request) error {
	origin, err := websocket.Origin(cfg, r)
	if err != nil {
		return err
	}
	cfg.Origin = origin
	if h.allowedOrigin == "" || origin == nil {
		return nil
	}
	if strings.TrimRight((&url.URL{Scheme: origin.Scheme, Host: origin.Host}).String(), "/") != h.allowedOrigin {
		return errors.New("origin not allowed")
	}
	return nil
}

type session struct {
	userID  string
	channel *channel
}

func (h *Handler) serveConn(conn *websocket.Conn) {
	ch := newChannel(conn)
	claims, _ := auth.FromContext(conn.Request().Context())
	s := &session{userID: claims.Subject, channel: ch}
	logger := h.logger.With("user_id", s.userID, "channel_id", ch.ID())

	defer func() {
		h.sessions.Disconnect(ch)
		_ = ch.Close()
		logger.Debug("activity stream closed")
	}()
	logger.Debug("activity stream opened")

	conn.MaxPayloadBytes = maxFramePayloadBytes
	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var raw []byte
		if err := websocket.Message.Receive(conn, &raw); err != nil {
			if errors.Is(err, websocket.ErrFrameTooLarge) {
				h.writeError(ch, "", codeInvalidArgument, "payload too large")
				continue
			}
			return
		}

		var frame wsFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			decodeErrors++
			h.writeError(ch, "", codeInvalidArgument, "invalid frame payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			h.writeError(ch, frame.RequestID, codeResourceExhausted, "rate limit exceeded")
			return
		}

		switch frame.Type {
		case frameJoinRoom:
			h.handleJoin(s, frame)
		case frameLeaveRoom:
			h.handleLeave(s, frame)
		case frameMeetingStarted:
			h.handleLifecycle(conn.Request().Context(), s, frame, domain.EventKindStarted)
		case frameMeetingCompleted:
			h.handleLifecycle(conn.Request().Context(), s, frame, domain.EventKindCompleted)
		default:
			h.writeError(ch, frame.RequestID, codeInvalidArgument, "unsupported frame type")
		}
	}
}

func (h *Handler) handleJoin(s *session, frame wsFrame) {
	var payload roomPayload
	if len(frame.Payload) > 0 {
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			h.writeError(s.channel, frame.RequestID, codeInvalidArgument, "invalid join payload")
			return
		}
	}
	userID := strings.TrimSpace(payload.UserID)
	if userID == "" {
		userID = s.userID
	}
	if userID != s.userID {
		h.writeError(s.channel, frame.RequestID, codeForbidden, "cannot join another user's stream")
		return
	}
	if err := h.sessions.Join(userID, s.channel); err != nil {
		if errors.Is(err, registry.ErrRegistryClosed) {
			h.writeError(s.channel, frame.RequestID, codeResourceExhausted, "server shutting down")
			return
		}
		h.writeError(s.channel, frame.RequestID, codeInvalidArgument, "unable to join")
		return
	}
	h.writeFrame(s.channel, wsFrame{
		Type:      frameRoomJoined,
		RequestID: frame.RequestID,
		Payload:   mustJSON(h.logger, roomPayload{UserID: userID}),
	})
}

func (h *Handler) handleLeave(s *session, frame wsFrame) {
	h.sessions.Leave(s.channel)
	h.writeFrame(s.channel, wsFrame{
		Type:      frameRoomLeft,
		RequestID: frame.RequestID,
		Payload:   mustJSON(h.logger, roomPayload{UserID: s.userID}),
	})
}

// handleLifecycle forwards a client-reported transition. Reconcile and delivery failures
// stay on the server; the client only learns about them through the absence of an update.
func (h *Handler) handleLifecycle(ctx context.Context, s *session, frame wsFrame, kind domain.EventKind) {
	var msg ingress.EventMessage
	if err := json.Unmarshal(frame.Payload, &msg); err != nil {
		h.writeError(s.channel, frame.RequestID, codeInvalidArgument, "invalid event payload")
		return
	}
	h.sessions.HandleLifecycle(ctx, msg.ToEvent(kind, s.userID))
}

func (h *Handler) writeError(ch *channel, requestID, code, message string) {
	h.writeFrame(ch, wsFrame{
		Type:      frameError,
		RequestID: requestID,
		Payload:   mustJSON(h.logger, errorPayload{Code: code, Message: message}),
	})
}

func (h *Handler) writeFrame(ch *channel, frame wsFrame) {
	ctx, cancel := context.WithTimeout(context.Background(), h.writeTimeout)
	defer cancel()
	if err := ch.write(ctx, frame); err != nil {
		h.logger.Debug("write websocket frame", "channel_id", ch.ID(), "type", frame.Type, "err", err)
	}
}
