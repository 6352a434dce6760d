package analytics

import (
	"reflect"
	"testing"
	"time"

	"classtrack/internal/ledger"
	"classtrack/internal/session"
)

func sr(status ledger.Status, sessStatus session.Status, day int) ledger.StudentRecord {
	return ledger.StudentRecord{
		Record:         ledger.Record{StudentID: "stu-1", SessionID: "sess", Status: status},
		ClassID:        "cs101",
		SessionStatus:  sessStatus,
		ScheduledStart: time.Date(2026, 3, day, 10, 0, 0, 0, time.UTC),
	}
}

func TestSummarize(t *testing.T) {
	t.Run("counts and percentage", func(t *testing.T) {
		records := []ledger.StudentRecord{
			sr(ledger.StatusOnTime, session.StatusCompleted, 1),
			sr(ledger.StatusLate, session.StatusCompleted, 2),
			sr(ledger.StatusAbsent, session.StatusCompleted, 3),
			sr(ledger.StatusRejectedLocation, session.StatusCompleted, 4),
		}
		sum := Summarize("stu-1", "cs101", records, 4)
		if sum.AttendedCount != 2 || sum.LateCount != 1 || sum.AbsentCount != 1 || sum.RejectedCount != 1 {
			t.Fatalf("counts = %+v", sum)
		}
		if sum.Percentage == nil || *sum.Percentage != 50 {
			t.Fatalf("percentage = %v, want 50", sum.Percentage)
		}
	})

	t.Run("zero sessions reports no percentage, not zero", func(t *testing.T) {
		sum := Summarize("stu-1", "cs101", nil, 0)
		if sum.Percentage != nil {
			t.Errorf("percentage = %v, want nil", *sum.Percentage)
		}
	})

	t.Run("in-progress sessions do not count", func(t *testing.T) {
		records := []ledger.StudentRecord{
			sr(ledger.StatusOnTime, session.StatusCompleted, 1),
			sr(ledger.StatusOnTime, session.StatusInProgress, 2),
		}
		sum := Summarize("stu-1", "cs101", records, 1)
		if sum.AttendedCount != 1 {
			t.Errorf("attended = %d, want 1", sum.AttendedCount)
		}
		if sum.Percentage == nil || *sum.Percentage != 100 {
			t.Errorf("percentage = %v, want 100", sum.Percentage)
		}
	})

	t.Run("rounds half up to two decimals", func(t *testing.T) {
		records := []ledger.StudentRecord{
			sr(ledger.StatusOnTime, session.StatusCompleted, 1),
		}
		sum := Summarize("stu-1", "cs101", records, 3)
		if sum.Percentage == nil || *sum.Percentage != 33.33 {
			t.Errorf("percentage = %v, want 33.33", sum.Percentage)
		}
		records = append(records, sr(ledger.StatusOnTime, session.StatusCompleted, 2))
		sum = Summarize("stu-1", "cs101", records, 3)
		if sum.Percentage == nil || *sum.Percentage != 66.67 {
			t.Errorf("percentage = %v, want 66.67", sum.Percentage)
		}
	})

	t.Run("idempotent over unchanged input", func(t *testing.T) {
		records := []ledger.StudentRecord{
			sr(ledger.StatusOnTime, session.StatusCompleted, 1),
			sr(ledger.StatusAbsent, session.StatusCompleted, 2),
			sr(ledger.StatusLate, session.StatusCompleted, 3),
		}
		a := Summarize("stu-1", "cs101", records, 3)
		b := Summarize("stu-1", "cs101", records, 3)
		if !reflect.DeepEqual(a, b) {
			t.Errorf("summaries differ: %+v vs %+v", a, b)
		}
	})

	t.Run("percentage stays within bounds", func(t *testing.T) {
		for attended := 0; attended <= 10; attended++ {
			var records []ledger.StudentRecord
			for i := 0; i < attended; i++ {
				records = append(records, sr(ledger.StatusOnTime, session.StatusCompleted, i+1))
			}
			sum := Summarize("stu-1", "cs101", records, 10)
			if sum.Percentage == nil || *sum.Percentage < 0 || *sum.Percentage > 100 {
				t.Fatalf("attended=%d percentage=%v out of bounds", attended, sum.Percentage)
			}
		}
	})
}
