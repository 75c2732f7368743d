// Package domain defines the meeting activity model and the reconciliation engine.
package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrValidation indicates a lifecycle event is missing required fields.
	ErrValidation = errors.New("invalid lifecycle event")
	// ErrStorage indicates the store was unavailable or rejected a write.
	ErrStorage = errors.New("activity storage failure")
	// ErrDelivery indicates a single channel could not receive an update.
	ErrDelivery = errors.New("activity delivery failure")
	// ErrActivityNotFound is returned by stores when an update targets an unknown record.
	ErrActivityNotFound = errors.New("activity not found")
)

// Store captures the persistence operations needed by the Reconciler.
//
// FindOpenSession returns (nil, nil) when no open session exists. When several open
// sessions exist for the pair, implementations return the most recently created one.
type Store interface {
	Create(ctx context.Context, record ActivityRecord) (*ActivityRecord, error)
	FindOpenSession(ctx context.Context, userID, meetingID string) (*ActivityRecord, error)
	Update(ctx context.Context, id string, update ActivityUpdate) (*ActivityRecord, error)
}

// ReconcilerOption configures optional behaviour for the Reconciler.
type ReconcilerOption func(*Reconciler)

// WithNamePolicy overrides the placeholder list used for the meeting name overwrite rule.
func WithNamePolicy(policy NamePolicy) ReconcilerOption {
	return func(r *Reconciler) {
		r.names = policy
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) {
		r.now = now
	}
}

// WithKeyedLocking serializes reconciliation per (user, meeting) pair within this process.
func WithKeyedLocking() ReconcilerOption {
	return func(r *Reconciler) {
		r.locks = newKeyedMutex()
	}
}

// Reconciler merges independently arriving start/completion events into activity records.
type Reconciler struct {
	store Store
	names NamePolicy
	now   func() time.Time
	locks *keyedMutex
}

// NewReconciler constructs a Reconciler.
func NewReconciler(store Store, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		store: store,
		names: NewNamePolicy(DefaultPlaceholders),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Validate checks the fields every lifecycle event must carry.
func Validate(event LifecycleEvent) error {
	if strings.TrimSpace(event.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if strings.TrimSpace(event.MeetingID) == "" {
		return fmt.Errorf("%w: meeting id is required", ErrValidation)
	}
	switch event.Kind {
	case EventKindStarted, EventKindCompleted:
	default:
		return fmt.Errorf("%w: unknown event kind %q", ErrValidation, event.Kind)
	}
	return nil
}

// Reconcile applies one lifecycle event and returns the resulting record.
func (r *Reconciler) Reconcile(ctx context.Context, event LifecycleEvent) (Reconciled, error) {
	if err := Validate(event); err != nil {
		return Reconciled{}, err
	}
	event.UserID = strings.TrimSpace(event.UserID)
	event.MeetingID = strings.TrimSpace(event.MeetingID)

	if r.locks != nil {
		unlock := r.locks.lock(event.UserID + "\x00" + event.MeetingID)
		defer unlock()
	}

	if event.Kind == EventKindStarted {
		return r.start(ctx, event)
	}
	return r.complete(ctx, event)
}

func (r *Reconciler) start(ctx context.Context, event LifecycleEvent) (Reconciled, error) {
	now := r.now()
	startTime := event.StartTime
	if startTime == nil {
		startTime = r.eventTime(event)
	}

	record := ActivityRecord{
		ID:          uuid.NewString(),
		UserID:      event.UserID,
		MeetingID:   event.MeetingID,
		MeetingName: r.names.InitialName(event.MeetingName),
		Type:        ActivityTypeCreated,
		Status:      ActivityStatusInProgress,
		StartTime:   startTime,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	created, err := r.store.Create(ctx, record)
	if err != nil {
		return Reconciled{}, fmt.Errorf("%w: create started activity: %v", ErrStorage, err)
	}
	return Reconciled{Record: *created, Kind: EventKindStarted, Outcome: OutcomeCreated}, nil
}

func (r *Reconciler) complete(ctx context.Context, event LifecycleEvent) (Reconciled, error) {
	open, err := r.store.FindOpenSession(ctx, event.UserID, event.MeetingID)
	if err != nil {
		return Reconciled{}, fmt.Errorf("%w: find open session: %v", ErrStorage, err)
	}

	endTime := event.EndTime
	if endTime == nil {
		endTime = r.eventTime(event)
	}

	if open == nil {
		now := r.now()
		record := ActivityRecord{
			ID:           uuid.NewString(),
			UserID:       event.UserID,
			MeetingID:    event.MeetingID,
			MeetingName:  r.names.InitialName(event.MeetingName),
			Type:         ActivityTypeCompleted,
			Status:       ActivityStatusCompleted,
			DurationMin:  event.DurationMin,
			Participants: event.Participants,
			StartTime:    event.StartTime,
			EndTime:      endTime,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		created, err := r.store.Create(ctx, record)
		if err != nil {
			return Reconciled{}, fmt.Errorf("%w: create completed activity: %v", ErrStorage, err)
		}
		return Reconciled{Record: *created, Kind: EventKindCompleted, Outcome: OutcomeCreated}, nil
	}

	completedType := ActivityTypeCompleted
	completedStatus := ActivityStatusCompleted
	update := ActivityUpdate{
		Type:         &completedType,
		Status:       &completedStatus,
		DurationMin:  event.DurationMin,
		Participants: event.Participants,
		EndTime:      endTime,
		UpdatedAt:    r.now(),
	}
	if name, ok := r.names.Overwrite(open.MeetingName, event.MeetingName); ok {
		update.MeetingName = &name
	}
	if open.StartTime == nil && event.StartTime != nil {
		update.StartTime = event.StartTime
	}

	updated, err := r.store.Update(ctx, open.ID, update)
	if err != nil {
		return Reconciled{}, fmt.Errorf("%w: update activity %s: %v", ErrStorage, open.ID, err)
	}
	return Reconciled{Record: *updated, Kind: EventKindCompleted, Outcome: OutcomeMerged}, nil
}

func (r *Reconciler) eventTime(event LifecycleEvent) *time.Time {
	t := event.OccurredAt
	if t.IsZero() {
		t = r.now()
	}
	t = t.UTC()
	return &t
}

// keyedMutex hands out one mutex per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
