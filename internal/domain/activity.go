package domain

import (
	"strings"
	"time"
)

// DefaultMeetingName is stored when a lifecycle event carries no usable name.
const DefaultMeetingName = "Unnamed Meeting"

// ActivityType is the latest known lifecycle stage of a meeting.
type ActivityType string

const (
	ActivityTypeCreated   ActivityType = "created"
	ActivityTypeJoined    ActivityType = "joined"
	ActivityTypeLeft      ActivityType = "left"
	ActivityTypeCompleted ActivityType = "completed"
	ActivityTypeScheduled ActivityType = "scheduled"
	ActivityTypeCancelled ActivityType = "cancelled"
	ActivityTypeMissed    ActivityType = "missed"
)

// ActivityStatus is the coarse state of a meeting activity.
type ActivityStatus string

const (
	ActivityStatusScheduled  ActivityStatus = "scheduled"
	ActivityStatusInProgress ActivityStatus = "in-progress"
	ActivityStatusCompleted  ActivityStatus = "completed"
	ActivityStatusMissed     ActivityStatus = "missed"
	ActivityStatusCancelled  ActivityStatus = "cancelled"
)

// Participant is a snapshot of one attendee taken when the meeting completed.
type Participant struct {
	UserID   string     `json:"participant_user_id"`
	Name     string     `json:"name"`
	JoinedAt *time.Time `json:"joined_at,omitempty"`
	LeftAt   *time.Time `json:"left_at,omitempty"`
}

// ActivityRecord is one (user, meeting) lifecycle instance as persisted by a Store.
type ActivityRecord struct {
	ID           string
	UserID       string
	MeetingID    string
	MeetingName  string
	Type         ActivityType
	Status       ActivityStatus
	DurationMin  *int
	Participants []Participant
	StartTime    *time.Time
	EndTime      *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsOpen reports whether a completion may still be merged into the record.
func (r ActivityRecord) IsOpen() bool {
	return r.Type == ActivityTypeCreated
}

// ActivityUpdate lists the mutable fields applied by Store.Update. Nil fields are left untouched.
type ActivityUpdate struct {
	MeetingName  *string
	Type         *ActivityType
	Status       *ActivityStatus
	DurationMin  *int
	Participants []Participant
	StartTime    *time.Time
	EndTime      *time.Time
	UpdatedAt    time.Time
}

// Apply returns a copy of record with the update applied.
func (u ActivityUpdate) Apply(record ActivityRecord) ActivityRecord {
	if u.MeetingName != nil {
		record.MeetingName = *u.MeetingName
	}
	if u.Type != nil {
		record.Type = *u.Type
	}
	if u.Status != nil {
		record.Status = *u.Status
	}
	if u.DurationMin != nil {
		d := *u.DurationMin
		record.DurationMin = &d
	}
	if u.Participants != nil {
		record.Participants = append([]Participant(nil), u.Participants...)
	}
	if u.StartTime != nil {
		t := *u.StartTime
		record.StartTime = &t
	}
	if u.EndTime != nil {
		t := *u.EndTime
		record.EndTime = &t
	}
	if !u.UpdatedAt.IsZero() {
		record.UpdatedAt = u.UpdatedAt
	}
	return record
}

// EventKind identifies the lifecycle transition carried by an event.
type EventKind string

const (
	EventKindStarted   EventKind = "started"
	EventKindCompleted EventKind = "completed"
)

// ParseEventKind accepts both the short form and the "meeting-" prefixed wire form.
func ParseEventKind(raw string) (EventKind, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "started", "meeting-started", "meeting.started":
		return EventKindStarted, true
	case "completed", "meeting-completed", "meeting.completed", "ended", "meeting.ended":
		return EventKindCompleted, true
	}
	return "", false
}

// LifecycleEvent is a raw meeting transition received from a transport.
type LifecycleEvent struct {
	UserID       string
	MeetingID    string
	Kind         EventKind
	MeetingName  string
	DurationMin  *int
	Participants []Participant
	StartTime    *time.Time
	EndTime      *time.Time
	OccurredAt   time.Time
}

// Outcome records which reconcile path produced a record.
type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeMerged  Outcome = "merged"
)

// Reconciled is the result of reconciling one lifecycle event.
type Reconciled struct {
	Record  ActivityRecord
	Kind    EventKind
	Outcome Outcome
}

// NamePolicy decides whether a meeting name may replace a previously stored one.
type NamePolicy struct {
	placeholders map[string]struct{}
}

// DefaultPlaceholders are generic room labels that never clobber a real meeting name.
var DefaultPlaceholders = []string{"Meeting Room", DefaultMeetingName}

// NewNamePolicy builds a policy over the given placeholder labels, compared case-insensitively.
func NewNamePolicy(placeholders []string) NamePolicy {
	set := make(map[string]struct{}, len(placeholders))
	for _, p := range placeholders {
		p = normalizeName(p)
		if p != "" {
			set[p] = struct{}{}
		}
	}
	return NamePolicy{placeholders: set}
}

// IsPlaceholder reports whether name is empty or a known generic label.
func (p NamePolicy) IsPlaceholder(name string) bool {
	n := normalizeName(name)
	if n == "" {
		return true
	}
	_, ok := p.placeholders[n]
	return ok
}

// InitialName picks the name stored when a record is created.
func (p NamePolicy) InitialName(name string) string {
	if trimmed := strings.TrimSpace(name); trimmed != "" {
		return trimmed
	}
	return DefaultMeetingName
}

// Overwrite returns the replacement name and true only when incoming may replace the stored name.
func (p NamePolicy) Overwrite(current, incoming string) (string, bool) {
	if p.IsPlaceholder(incoming) {
		return current, false
	}
	incoming = strings.TrimSpace(incoming)
	if incoming == current {
		return current, false
	}
	return incoming, true
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
