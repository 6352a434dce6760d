package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"classtrack/internal/session"
)

// Repository persists attendance records and enrollment lookups in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const recordCols = `id, student_id, session_id, status, checkin_time, latitude, longitude, device_fingerprint, created_at, updated_at`

func scanRecord(row interface{ Scan(...any) error }) (Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.StudentID, &rec.SessionID, &rec.Status, &rec.CheckinTime,
		&rec.Latitude, &rec.Longitude, &rec.DeviceFingerprint, &rec.CreatedAt, &rec.UpdatedAt)
	return rec, err
}

// Get returns the record for a (student, session) pair, or nil.
func (r *Repository) Get(ctx context.Context, studentID, sessionID string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordCols+` FROM attendance_records
		WHERE student_id = $1 AND session_id = $2
	`, studentID, sessionID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Upsert writes a record, keeping the better outcome on conflict. The rank
// guard runs inside the statement, so a duplicate-scan race resolves in the
// database rather than in two processes. Returns true when the write landed.
func (r *Repository) Upsert(ctx context.Context, rec Record) (bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records
			(id, student_id, session_id, status, checkin_time, latitude, longitude, device_fingerprint)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (student_id, session_id) DO UPDATE
		SET status = EXCLUDED.status,
		    checkin_time = EXCLUDED.checkin_time,
		    latitude = EXCLUDED.latitude,
		    longitude = EXCLUDED.longitude,
		    device_fingerprint = EXCLUDED.device_fingerprint,
		    updated_at = NOW()
		WHERE (CASE attendance_records.status WHEN 'on_time' THEN 3 WHEN 'late' THEN 2 WHEN 'absent' THEN 1 ELSE 0 END)
		    < (CASE EXCLUDED.status WHEN 'on_time' THEN 3 WHEN 'late' THEN 2 WHEN 'absent' THEN 1 ELSE 0 END)
	`, rec.ID, rec.StudentID, rec.SessionID, rec.Status, rec.CheckinTime,
		rec.Latitude, rec.Longitude, rec.DeviceFingerprint)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// StudentRecord is a record joined with its session, for aggregation.
type StudentRecord struct {
	Record
	ClassID        string
	SessionStatus  session.Status
	ScheduledStart time.Time
}

// ListByStudent returns a student's records ordered by session date ascending,
// optionally filtered to one class.
func (r *Repository) ListByStudent(ctx context.Context, studentID, classID string) ([]StudentRecord, error) {
	query := `
		SELECT ar.id, ar.student_id, ar.session_id, ar.status, ar.checkin_time,
		       ar.latitude, ar.longitude, ar.device_fingerprint, ar.created_at, ar.updated_at,
		       cs.class_id, cs.status, cs.scheduled_start
		FROM attendance_records ar
		JOIN class_sessions cs ON cs.id = ar.session_id
		WHERE ar.student_id = $1`
	args := []any{studentID}
	if classID != "" {
		query += ` AND cs.class_id = $2`
		args = append(args, classID)
	}
	query += ` ORDER BY cs.scheduled_start ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []StudentRecord
	for rows.Next() {
		var sr StudentRecord
		if err := rows.Scan(&sr.ID, &sr.StudentID, &sr.SessionID, &sr.Status, &sr.CheckinTime,
			&sr.Latitude, &sr.Longitude, &sr.DeviceFingerprint, &sr.CreatedAt, &sr.UpdatedAt,
			&sr.ClassID, &sr.SessionStatus, &sr.ScheduledStart); err != nil {
			return nil, err
		}
		res = append(res, sr)
	}
	return res, rows.Err()
}

// ListBySession returns all records for one session, for the lecturer roster view.
func (r *Repository) ListBySession(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordCols+` FROM attendance_records
		WHERE session_id = $1
		ORDER BY student_id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// EnrollmentExists reports whether the student is enrolled in the class.
func (r *Repository) EnrollmentExists(ctx context.Context, studentID, classID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM enrollments WHERE student_id = $1 AND class_id = $2)
	`, studentID, classID).Scan(&exists)
	return exists, err
}

// EnrolledStudents lists student ids for a class, used by the session close-out.
func (r *Repository) EnrolledStudents(ctx context.Context, classID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT student_id FROM enrollments WHERE class_id = $1 ORDER BY student_id
	`, classID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
