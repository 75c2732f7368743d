// Package memory provides an in-process activity store for local development and tests.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"example.com/meetingactivity/internal/domain"
)

// Store keeps activity records in memory.
type Store struct {
	mu      sync.RWMutex
	records map[string]domain.ActivityRecord
	// order preserves insertion so ties on CreatedAt resolve to the later insert.
	order []string
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{records: make(map[string]domain.ActivityRecord)}
}

// Create implements domain.Store.
func (s *Store) Create(ctx context.Context, record domain.ActivityRecord) (*domain.ActivityRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(record.ID) == "" {
		record.ID = uuid.NewString()
	}
	if _, exists := s.records[record.ID]; exists {
		return nil, fmt.Errorf("activity %s already exists", record.ID)
	}

	stored := clone(record)
	s.records[record.ID] = stored
	s.order = append(s.order, record.ID)

	out := clone(stored)
	return &out, nil
}

// FindOpenSession implements domain.Store, returning the most recently created open session.
func (s *Store) FindOpenSession(ctx context.Context, userID, meetingID string) (*domain.ActivityRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *domain.ActivityRecord
	for _, id := range s.order {
		record := s.records[id]
		if record.UserID != userID || record.MeetingID != meetingID || !record.IsOpen() {
			continue
		}
		if found == nil || !record.CreatedAt.Before(found.CreatedAt) {
			candidate := clone(record)
			found = &candidate
		}
	}
	return found, nil
}

// Update implements domain.Store.
func (s *Store) Update(ctx context.Context, id string, update domain.ActivityUpdate) (*domain.ActivityRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("activity %s: %w", id, domain.ErrActivityNotFound)
	}

	record = clone(update.Apply(record))
	s.records[id] = record

	out := clone(record)
	return &out, nil
}

// Get returns a copy of the stored record.
func (s *Store) Get(id string) (domain.ActivityRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return domain.ActivityRecord{}, false
	}
	return clone(record), true
}

// ListByUser returns the user's records, newest first.
func (s *Store) ListByUser(userID string) []domain.ActivityRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ActivityRecord, 0)
	for i := len(s.order) - 1; i >= 0; i-- {
		record := s.records[s.order[i]]
		if record.UserID == userID {
			out = append(out, clone(record))
		}
	}
	return out
}

func clone(record domain.ActivityRecord) domain.ActivityRecord {
	if record.Participants != nil {
		record.Participants = append([]domain.Participant(nil), record.Participants...)
	}
	if record.DurationMin != nil {
		d := *record.DurationMin
		record.DurationMin = &d
	}
	if record.StartTime != nil {
		t := *record.StartTime
		record.StartTime = &t
	}
	if record.EndTime != nil {
		t := *record.EndTime
		record.EndTime = &t
	}
	return record
}
