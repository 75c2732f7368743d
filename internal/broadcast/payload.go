package broadcast

import (
	"time"

	"example.com/meetingactivity/internal/domain"
)

// Wire event kinds.
const (
	EventMeetingStarted   = "meeting-started"
	EventMeetingCompleted = "meeting-completed"
)

// Update is the real-time payload pushed to a user's channels.
type Update struct {
	EventKind string       `json:"eventKind"`
	Outcome   string       `json:"outcome"`
	Activity  ActivityView `json:"activity"`
}

// ActivityView is the client-facing projection of an activity record.
type ActivityView struct {
	ID           string               `json:"id"`
	MeetingID    string               `json:"meetingId"`
	MeetingName  string               `json:"meetingName"`
	Type         string               `json:"type"`
	Status       string               `json:"status"`
	Duration     *int                 `json:"duration,omitempty"`
	Participants []ParticipantSummary `json:"participants,omitempty"`
	StartTime    *time.Time           `json:"startTime,omitempty"`
	EndTime      *time.Time           `json:"endTime,omitempty"`
	CreatedAt    time.Time            `json:"createdAt"`
	UserID       string               `json:"userId"`
}

// ParticipantSummary is the trimmed participant shape sent to clients.
type ParticipantSummary struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

// NewUpdate maps a reconciled record to its wire payload.
func NewUpdate(result domain.Reconciled) Update {
	kind := EventMeetingStarted
	if result.Kind == domain.EventKindCompleted {
		kind = EventMeetingCompleted
	}
	return Update{
		EventKind: kind,
		Outcome:   string(result.Outcome),
		Activity:  toActivityView(result.Record),
	}
}

func toActivityView(record domain.ActivityRecord) ActivityView {
	view := ActivityView{
		ID:          record.ID,
		MeetingID:   record.MeetingID,
		MeetingName: record.MeetingName,
		Type:        string(record.Type),
		Status:      string(record.Status),
		Duration:    record.DurationMin,
		StartTime:   record.StartTime,
		EndTime:     record.EndTime,
		CreatedAt:   record.CreatedAt,
		UserID:      record.UserID,
	}
	if len(record.Participants) > 0 {
		view.Participants = make([]ParticipantSummary, 0, len(record.Participants))
		for _, p := range record.Participants {
			view.Participants = append(view.Participants, ParticipantSummary{UserID: p.UserID, Name: p.Name})
		}
	}
	return view
}
