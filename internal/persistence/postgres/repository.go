// Package postgres persists meeting activities with pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/meetingactivity/internal/domain"
	"example.com/meetingactivity/internal/observability"
)

const selectColumns = `activity_id, user_id, meeting_id, meeting_name, activity_type, status, duration_min, participants, start_time, end_time, created_at, updated_at`

// Repository provides Postgres-backed persistence for meeting activities.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create implements domain.Store.
func (r *Repository) Create(ctx context.Context, record domain.ActivityRecord) (*domain.ActivityRecord, error) {
	participants, err := encodeParticipants(record.Participants)
	if err != nil {
		return nil, err
	}

	query := `INSERT INTO meeting_activities (activity_id, user_id, meeting_id, meeting_name, activity_type, status, duration_min, participants, start_time, end_time, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
        RETURNING ` + selectColumns

	row := r.pool.QueryRow(ctx, query,
		record.ID,
		record.UserID,
		record.MeetingID,
		record.MeetingName,
		string(record.Type),
		string(record.Status),
		record.DurationMin,
		participants,
		record.StartTime,
		record.EndTime,
		record.CreatedAt,
		record.UpdatedAt,
	)
	created, err := scanRecord(row)
	if err != nil {
		return nil, mapError(err, record.ID)
	}
	observability.RecordActivityPersisted(created.UpdatedAt)
	return created, nil
}

// FindOpenSession implements domain.Store. The newest open session wins; ties on
// created_at fall back to activity_id so the choice is stable.
func (r *Repository) FindOpenSession(ctx context.Context, userID, meetingID string) (*domain.ActivityRecord, error) {
	query := `SELECT ` + selectColumns + `
        FROM meeting_activities
        WHERE user_id=$1 AND meeting_id=$2 AND activity_type=$3
        ORDER BY created_at DESC, activity_id DESC
        LIMIT 1`

	row := r.pool.QueryRow(ctx, query, userID, meetingID, string(domain.ActivityTypeCreated))
	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, mapError(err, meetingID)
	}
	return record, nil
}

// Update implements domain.Store. Nil fields in update keep their stored value.
func (r *Repository) Update(ctx context.Context, id string, update domain.ActivityUpdate) (*domain.ActivityRecord, error) {
	var participants []byte
	if update.Participants != nil {
		encoded, err := encodeParticipants(update.Participants)
		if err != nil {
			return nil, err
		}
		participants = encoded
	}

	query := `UPDATE meeting_activities SET
            meeting_name  = COALESCE($2, meeting_name),
            activity_type = COALESCE($3, activity_type),
            status        = COALESCE($4, status),
            duration_min  = COALESCE($5, duration_min),
            participants  = COALESCE($6::jsonb, participants),
            start_time    = COALESCE($7, start_time),
            end_time      = COALESCE($8, end_time),
            updated_at    = COALESCE($9, now())
        WHERE activity_id = $1
        RETURNING ` + selectColumns

	row := r.pool.QueryRow(ctx, query,
		id,
		update.MeetingName,
		textPtr(update.Type),
		textPtr(update.Status),
		update.DurationMin,
		participants,
		update.StartTime,
		update.EndTime,
		nullTime(update),
	)
	updated, err := scanRecord(row)
	if err != nil {
		return nil, mapError(err, id)
	}
	observability.RecordActivityPersisted(updated.UpdatedAt)
	return updated, nil
}

// ListByUser returns a user's activities, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.ActivityRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + selectColumns + `
        FROM meeting_activities
        WHERE user_id=$1
        ORDER BY created_at DESC, activity_id DESC
        LIMIT $2`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, mapError(err, userID)
	}
	defer rows.Close()

	results := make([]domain.ActivityRecord, 0, limit)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, mapError(err, userID)
		}
		results = append(results, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, userID)
	}
	return results, nil
}

func scanRecord(row pgx.Row) (*domain.ActivityRecord, error) {
	var (
		record       domain.ActivityRecord
		activityType string
		status       string
		participants []byte
	)
	if err := row.Scan(
		&record.ID,
		&record.UserID,
		&record.MeetingID,
		&record.MeetingName,
		&activityType,
		&status,
		&record.DurationMin,
		&participants,
		&record.StartTime,
		&record.EndTime,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		return nil, err
	}
	record.Type = domain.ActivityType(activityType)
	record.Status = domain.ActivityStatus(status)
	if len(participants) > 0 {
		if err := json.Unmarshal(participants, &record.Participants); err != nil {
			return nil, fmt.Errorf("decode participants: %w", err)
		}
	}
	if len(record.Participants) == 0 {
		record.Participants = nil
	}
	return &record, nil
}

func encodeParticipants(participants []domain.Participant) ([]byte, error) {
	if participants == nil {
		participants = []domain.Participant{}
	}
	body, err := json.Marshal(participants)
	if err != nil {
		return nil, fmt.Errorf("encode participants: %w", err)
	}
	return body, nil
}

func textPtr[T ~string](value *T) *string {
	if value == nil {
		return nil
	}
	s := string(*value)
	return &s
}

func nullTime(update domain.ActivityUpdate) interface{} {
	if update.UpdatedAt.IsZero() {
		return nil
	}
	return update.UpdatedAt
}

func mapError(err error, id string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("activity %s: %w", id, err)
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("activity %s: %w", id, domain.ErrActivityNotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "22P02": // invalid_text_representation, e.g. a malformed uuid
			return fmt.Errorf("activity %s: %w", id, domain.ErrActivityNotFound)
		case "23505": // unique_violation
			return fmt.Errorf("activity %s already exists: %w", id, err)
		case "23514": // check_violation
			return fmt.Errorf("activity %s: %w: %s", id, domain.ErrValidation, pgErr.Message)
		}
	}

	return fmt.Errorf("activity %s: %w", id, err)
}
