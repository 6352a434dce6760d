package analytics

import (
	"context"
	"math"
	"time"

	"classtrack/internal/ledger"
	"classtrack/internal/session"
)

// Summary is the derived attendance picture for a (student, class) pair.
// It is recomputed from the ledger on every call, never maintained
// incrementally, so admin corrections are always reflected.
type Summary struct {
	StudentID     string   `json:"student_id"`
	ClassID       string   `json:"class_id"`
	TotalSessions int      `json:"total_sessions"`
	AttendedCount int      `json:"attended_count"`
	LateCount     int      `json:"late_count"`
	AbsentCount   int      `json:"absent_count"`
	RejectedCount int      `json:"rejected_count"`
	Percentage    *float64 `json:"percentage"` // nil when no sessions have been held
}

// Summarize computes a summary from a student's records and the count of
// completed sessions for the class. Pure and re-entrant: the same inputs
// always produce the same output. Only records of completed sessions count;
// a scan into a session still in progress is not attendance yet.
func Summarize(studentID, classID string, records []ledger.StudentRecord, totalSessions int) Summary {
	sum := Summary{StudentID: studentID, ClassID: classID, TotalSessions: totalSessions}
	for _, rec := range records {
		if rec.SessionStatus != session.StatusCompleted {
			continue
		}
		switch {
		case rec.Status == ledger.StatusLate:
			sum.AttendedCount++
			sum.LateCount++
		case rec.Status == ledger.StatusOnTime:
			sum.AttendedCount++
		case rec.Status == ledger.StatusAbsent:
			sum.AbsentCount++
		default:
			sum.RejectedCount++
		}
	}
	if totalSessions > 0 {
		pc := round2(float64(sum.AttendedCount) / float64(totalSessions) * 100)
		sum.Percentage = &pc
	}
	return sum
}

// round2 rounds half up to two decimal places.
func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// SessionCounter is the slice of session persistence the aggregator needs.
type SessionCounter interface {
	CompletedCountForClass(ctx context.Context, classID string) (int, error)
	RemainingCountForClass(ctx context.Context, classID string, after time.Time) (int, error)
}

// Aggregator computes summaries on demand from the ledger.
type Aggregator struct {
	led      *ledger.Ledger
	sessions SessionCounter
}

// NewAggregator creates an aggregator.
func NewAggregator(led *ledger.Ledger, sessions SessionCounter) *Aggregator {
	return &Aggregator{led: led, sessions: sessions}
}

// Summarize fetches the ledger state and computes the summary for one class.
func (a *Aggregator) Summarize(ctx context.Context, studentID, classID string) (Summary, error) {
	total, err := a.sessions.CompletedCountForClass(ctx, classID)
	if err != nil {
		return Summary{}, err
	}
	records, err := a.led.RecordsForStudent(ctx, studentID, classID)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(studentID, classID, records, total), nil
}

// Remaining counts the sessions still scheduled for a class after now.
func (a *Aggregator) Remaining(ctx context.Context, classID string, now time.Time) (int, error) {
	return a.sessions.RemainingCountForClass(ctx, classID, now)
}
