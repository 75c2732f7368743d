package ws

import (
	"encoding/json"
	"log/slog"
)

// Frame types exchanged on the activity stream.
const (
	frameJoinRoom         = "join-room"
	frameLeaveRoom        = "leave-room"
	frameMeetingStarted   = "meeting-started"
	frameMeetingCompleted = "meeting-completed"

	frameRoomJoined     = "room-joined"
	frameRoomLeft       = "room-left"
	frameActivityUpdate = "activity-update"
	frameError          = "error"
)

// Error codes carried by error frames.
const (
	codeInvalidArgument   = "INVALID_ARGUMENT"
	codeForbidden         = "FORBIDDEN"
	codeResourceExhausted = "RESOURCE_EXHAUSTED"
)

const (
	maxFramePayloadBytes   = 16 * 1024
	maxFramesPerSecond     = 40
	maxDecodeErrorsPerConn = 3
)

type wsFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type roomPayload struct {
	UserID string `json:"userId"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func mustJSON(logger *slog.Logger, v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		logger.Error("marshal websocket frame payload", "err", err)
		return nil
	}
	return b
}
