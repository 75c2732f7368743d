package ingress

import (
	"fmt"
	"strings"
	"time"

	"example.com/meetingactivity/internal/domain"
)

// EventMessage is the JSON shape of a lifecycle event shared by every transport.
type EventMessage struct {
	Kind         string               `json:"kind,omitempty"`
	UserID       string               `json:"userId,omitempty"`
	MeetingID    string               `json:"meetingId"`
	MeetingName  string               `json:"meetingName,omitempty"`
	Duration     *int                 `json:"duration,omitempty"`
	Participants []ParticipantMessage `json:"participants,omitempty"`
	StartTime    *time.Time           `json:"startTime,omitempty"`
	EndTime      *time.Time           `json:"endTime,omitempty"`
	OccurredAt   *time.Time           `json:"occurredAt,omitempty"`
}

// ParticipantMessage is one attendee in an EventMessage.
type ParticipantMessage struct {
	UserID   string     `json:"userId"`
	Name     string     `json:"name"`
	JoinedAt *time.Time `json:"joinedAt,omitempty"`
	LeftAt   *time.Time `json:"leftAt,omitempty"`
}

// ToEvent converts the message for kind. When userID is non-empty it replaces whatever the
// message carries, so authenticated transports cannot act on behalf of another user.
func (m EventMessage) ToEvent(kind domain.EventKind, userID string) domain.LifecycleEvent {
	if strings.TrimSpace(userID) == "" {
		userID = m.UserID
	}
	event := domain.LifecycleEvent{
		UserID:      strings.TrimSpace(userID),
		MeetingID:   strings.TrimSpace(m.MeetingID),
		Kind:        kind,
		MeetingName: m.MeetingName,
		DurationMin: m.Duration,
		StartTime:   m.StartTime,
		EndTime:     m.EndTime,
	}
	if m.OccurredAt != nil {
		event.OccurredAt = *m.OccurredAt
	}
	if len(m.Participants) > 0 {
		event.Participants = make([]domain.Participant, 0, len(m.Participants))
		for _, p := range m.Participants {
			event.Participants = append(event.Participants, domain.Participant{
				UserID:   p.UserID,
				Name:     p.Name,
				JoinedAt: p.JoinedAt,
				LeftAt:   p.LeftAt,
			})
		}
	}
	return event
}

// ParsedEvent resolves the message's own kind field.
func (m EventMessage) ParsedEvent(userID string) (domain.LifecycleEvent, error) {
	kind, ok := domain.ParseEventKind(m.Kind)
	if !ok {
		return domain.LifecycleEvent{}, fmt.Errorf("%w: unknown event kind %q", domain.ErrValidation, m.Kind)
	}
	return m.ToEvent(kind, userID), nil
}
