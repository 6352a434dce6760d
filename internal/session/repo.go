package session

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository persists class sessions in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const sessionCols = `id, class_id, lecturer_id, scheduled_start, scheduled_end, status,
	current_token, token_issued_at, token_expires_at, token_version,
	location_lat, location_lng, radius_meters, created_at`

func scanSession(row interface{ Scan(...any) error }) (Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.ClassID, &s.LecturerID, &s.ScheduledStart, &s.ScheduledEnd, &s.Status,
		&s.CurrentToken, &s.TokenIssuedAt, &s.TokenExpiresAt, &s.TokenVersion,
		&s.LocationLat, &s.LocationLng, &s.RadiusMeters, &s.CreatedAt)
	return s, err
}

// Get returns a single session by id.
func (r *Repository) Get(ctx context.Context, id string) (Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM class_sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	return s, err
}

// ActiveForClassOn returns the in-progress session for a class on the given date, if any.
func (r *Repository) ActiveForClassOn(ctx context.Context, classID string, day time.Time) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionCols+` FROM class_sessions
		WHERE class_id = $1 AND status = $2 AND scheduled_start::date = $3::date
		ORDER BY scheduled_start DESC
		LIMIT 1
	`, classID, StatusInProgress, day)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Insert writes a new session.
func (r *Repository) Insert(ctx context.Context, s Session) (Session, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO class_sessions
			(id, class_id, lecturer_id, scheduled_start, scheduled_end, status,
			 current_token, token_issued_at, token_expires_at, token_version,
			 location_lat, location_lng, radius_meters)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING created_at
	`, s.ID, s.ClassID, s.LecturerID, s.ScheduledStart, s.ScheduledEnd, s.Status,
		s.CurrentToken, s.TokenIssuedAt, s.TokenExpiresAt, s.TokenVersion,
		s.LocationLat, s.LocationLng, s.RadiusMeters)
	if err := row.Scan(&s.CreatedAt); err != nil {
		return Session{}, err
	}
	return s, nil
}

// SwapToken replaces the token with a compare-and-set on token_version so two
// concurrent rotations cannot both win. Returns false when the version moved.
func (r *Repository) SwapToken(ctx context.Context, id string, fromVersion int, token string, issuedAt, expiresAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE class_sessions
		SET current_token = $3, token_issued_at = $4, token_expires_at = $5,
		    token_version = token_version + 1
		WHERE id = $1 AND token_version = $2 AND status = $6
	`, id, fromVersion, token, issuedAt, expiresAt, StatusInProgress)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// Transition moves a session into a terminal state. The status guard in the
// WHERE clause keeps terminal states final under concurrent calls.
func (r *Repository) Transition(ctx context.Context, id string, to Status, endedAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE class_sessions
		SET status = $2, ended_at = $3
		WHERE id = $1 AND status IN ($4, $5)
	`, id, to, endedAt, StatusScheduled, StatusInProgress)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// CompletedCountForClass counts sessions that were actually held; scheduled
// and cancelled sessions do not count against a student.
func (r *Repository) CompletedCountForClass(ctx context.Context, classID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM class_sessions WHERE class_id = $1 AND status = $2
	`, classID, StatusCompleted).Scan(&n)
	return n, err
}

// RemainingCountForClass counts sessions still to be held this term.
func (r *Repository) RemainingCountForClass(ctx context.Context, classID string, after time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM class_sessions
		WHERE class_id = $1 AND status = $2 AND scheduled_start > $3
	`, classID, StatusScheduled, after).Scan(&n)
	return n, err
}
