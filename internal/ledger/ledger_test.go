package ledger

import (
	"context"
	"testing"
	"time"
)

// memStore emulates the rank-guarded upsert the Postgres repository performs.
type memStore struct {
	records map[string]Record
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]Record)}
}

func key(studentID, sessionID string) string { return studentID + "/" + sessionID }

func (m *memStore) Get(_ context.Context, studentID, sessionID string) (*Record, error) {
	rec, ok := m.records[key(studentID, sessionID)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *memStore) Upsert(_ context.Context, rec Record) (bool, error) {
	k := key(rec.StudentID, rec.SessionID)
	existing, ok := m.records[k]
	if ok && existing.Status.Rank() >= rec.Status.Rank() {
		return false, nil
	}
	m.records[k] = rec
	return true, nil
}

func (m *memStore) ListByStudent(_ context.Context, studentID, classID string) ([]StudentRecord, error) {
	return nil, nil
}

func (m *memStore) ListBySession(_ context.Context, sessionID string) ([]Record, error) {
	var out []Record
	for _, rec := range m.records {
		if rec.SessionID == sessionID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memStore) EnrollmentExists(_ context.Context, studentID, classID string) (bool, error) {
	return true, nil
}

func (m *memStore) EnrolledStudents(_ context.Context, classID string) ([]string, error) {
	return nil, nil
}

func rec(status Status) Record {
	checkin := time.Date(2026, 3, 2, 10, 5, 0, 0, time.UTC)
	return Record{StudentID: "stu-1", SessionID: "sess-1", Status: status, CheckinTime: &checkin}
}

func TestAppendOrdering(t *testing.T) {
	ctx := context.Background()

	t.Run("first write lands", func(t *testing.T) {
		led := New(newMemStore())
		stored, applied, err := led.Append(ctx, rec(StatusOnTime))
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		if !applied || stored.Status != StatusOnTime {
			t.Errorf("applied=%v status=%s", applied, stored.Status)
		}
	})

	t.Run("a worse retry never overwrites an acceptance", func(t *testing.T) {
		led := New(newMemStore())
		led.Append(ctx, rec(StatusOnTime))

		stored, applied, err := led.Append(ctx, rec(StatusRejectedInvalidToken))
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		if applied {
			t.Error("rejected retry overwrote an accepted record")
		}
		if stored.Status != StatusOnTime {
			t.Errorf("stored = %s, want on_time preserved", stored.Status)
		}
	})

	t.Run("a better outcome upgrades the record", func(t *testing.T) {
		led := New(newMemStore())
		led.Append(ctx, rec(StatusAbsent))

		stored, applied, err := led.Append(ctx, rec(StatusLate))
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		if !applied || stored.Status != StatusLate {
			t.Errorf("applied=%v status=%s, want late applied", applied, stored.Status)
		}
	})

	t.Run("equal rank is a no-op", func(t *testing.T) {
		led := New(newMemStore())
		led.Append(ctx, rec(StatusOnTime))
		_, applied, _ := led.Append(ctx, rec(StatusOnTime))
		if applied {
			t.Error("replay applied")
		}
	})

	t.Run("at most one record per pair regardless of attempts", func(t *testing.T) {
		store := newMemStore()
		led := New(store)
		for _, s := range []Status{StatusRejectedLocation, StatusOnTime, StatusRejectedInvalidToken, StatusAbsent, StatusLate} {
			led.Append(ctx, rec(s))
		}
		records, _ := led.RecordsForSession(ctx, "sess-1")
		if len(records) != 1 {
			t.Fatalf("records = %d, want 1", len(records))
		}
		if records[0].Status != StatusOnTime {
			t.Errorf("final status = %s, want on_time", records[0].Status)
		}
	})
}

func TestRank(t *testing.T) {
	order := []Status{StatusRejectedInvalidToken, StatusRejectedLocation, StatusRejectedDuplicate, StatusAbsent, StatusLate, StatusOnTime}
	for i, lo := range order[:3] {
		if lo.Rank() != 0 {
			t.Errorf("%s rank = %d, want 0", order[i], lo.Rank())
		}
	}
	if !(StatusAbsent.Rank() < StatusLate.Rank() && StatusLate.Rank() < StatusOnTime.Rank()) {
		t.Error("rank order broken")
	}
	if StatusOnTime.Accepted() != true || StatusLate.Accepted() != true || StatusAbsent.Accepted() {
		t.Error("Accepted misclassifies statuses")
	}
}
