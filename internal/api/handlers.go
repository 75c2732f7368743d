// Package api exposes HTTP handlers for the meeting activity service.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"example.com/meetingactivity/internal/auth"
	"example.com/meetingactivity/internal/domain"
	"example.com/meetingactivity/internal/ingress"
)

const maxEventBodyBytes = 64 * 1024

// LifecycleHandler processes lifecycle events.
type LifecycleHandler interface {
	HandleLifecycle(ctx context.Context, event domain.LifecycleEvent) ingress.Result
}

// Pinger reports whether a backing dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Option configures optional behaviour for the Handler.
type Option func(*Handler)

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithReadiness makes /readyz ping the given dependency.
func WithReadiness(p Pinger) Option {
	return func(h *Handler) {
		h.ready = p
	}
}

// WithProcessTimeout bounds how long one posted event may take to reconcile and fan out.
func WithProcessTimeout(timeout time.Duration) Option {
	return func(h *Handler) {
		if timeout > 0 {
			h.timeout = timeout
		}
	}
}

// Handler coordinates HTTP requests with the event ingress.
type Handler struct {
	events  LifecycleHandler
	ready   Pinger
	logger  *slog.Logger
	timeout time.Duration
}

// NewHandler builds a Handler.
func NewHandler(events LifecycleHandler, opts ...Option) *Handler {
	h := &Handler{
		events:  events,
		logger:  slog.Default(),
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/meeting-events", h.meetingEvents)
	mux.HandleFunc("/healthz", healthz)
	mux.HandleFunc("/readyz", h.readyz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.ready.Ping(ctx); err != nil {
			h.logger.WarnContext(r.Context(), "readiness check failed", "err", err)
			writeError(w, http.StatusServiceUnavailable, "unavailable", "dependency unreachable")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (h *Handler) meetingEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeMeetingsWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope meetings:write required")
		return
	}

	var msg ingress.EventMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBodyBytes)).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	// Validation, storage and delivery failures are internal to the service; the caller
	// only learns that the event was accepted.
	event, err := msg.ParsedEvent(claims.Subject)
	if err != nil {
		h.logger.WarnContext(r.Context(), "meeting event dropped", "user_id", claims.Subject, "err", err)
		writeJSON(w, http.StatusAccepted, AcceptedResponse{Status: "accepted"})
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.timeout)
	defer cancel()
	h.events.HandleLifecycle(ctx, event)

	writeJSON(w, http.StatusAccepted, AcceptedResponse{Status: "accepted"})
}

// AcceptedResponse is returned for every parsed lifecycle event.
type AcceptedResponse struct {
	Status string `json:"status"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
