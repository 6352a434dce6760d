package ledger

import "context"

// Store is the persistence surface the ledger needs. *Repository satisfies it;
// tests substitute an in-memory fake.
type Store interface {
	Get(ctx context.Context, studentID, sessionID string) (*Record, error)
	Upsert(ctx context.Context, rec Record) (bool, error)
	ListByStudent(ctx context.Context, studentID, classID string) ([]StudentRecord, error)
	ListBySession(ctx context.Context, sessionID string) ([]Record, error)
	EnrollmentExists(ctx context.Context, studentID, classID string) (bool, error)
	EnrolledStudents(ctx context.Context, classID string) ([]string, error)
}

// Ledger is the append-mostly record of verification outcomes. A write only
// lands when it is a strictly better outcome than what is already stored, so
// replays and late invalid retries are no-ops.
type Ledger struct {
	store Store
}

// New creates a ledger over a store.
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// Append upserts a record under the outcome ordering. It returns the record
// now stored for the pair and whether this write changed it.
func (l *Ledger) Append(ctx context.Context, rec Record) (Record, bool, error) {
	applied, err := l.store.Upsert(ctx, rec)
	if err != nil {
		return Record{}, false, err
	}
	stored, err := l.store.Get(ctx, rec.StudentID, rec.SessionID)
	if err != nil {
		return Record{}, false, err
	}
	if stored == nil {
		// The row vanished between writes; report what we attempted.
		return rec, applied, nil
	}
	return *stored, applied, nil
}

// RecordsForStudent returns a student's records ordered by session date.
func (l *Ledger) RecordsForStudent(ctx context.Context, studentID, classID string) ([]StudentRecord, error) {
	return l.store.ListByStudent(ctx, studentID, classID)
}

// RecordsForSession returns all records for one session.
func (l *Ledger) RecordsForSession(ctx context.Context, sessionID string) ([]Record, error) {
	return l.store.ListBySession(ctx, sessionID)
}

// Enrolled reports whether the student is enrolled in the class.
func (l *Ledger) Enrolled(ctx context.Context, studentID, classID string) (bool, error) {
	return l.store.EnrollmentExists(ctx, studentID, classID)
}

// Existing returns the stored record for a pair, or nil.
func (l *Ledger) Existing(ctx context.Context, studentID, sessionID string) (*Record, error) {
	return l.store.Get(ctx, studentID, sessionID)
}

// EnrolledStudents lists the class roster.
func (l *Ledger) EnrolledStudents(ctx context.Context, classID string) ([]string, error) {
	return l.store.EnrolledStudents(ctx, classID)
}
