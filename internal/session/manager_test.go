package session

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// fakeStore is an in-memory Store for manager tests.
type fakeStore struct {
	sessions map[string]Session
	nextID   int
	// swapDenials forces the next n SwapToken calls to lose the CAS.
	swapDenials int
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[string]Session)}
}

func (f *fakeStore) Get(_ context.Context, id string) (Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (f *fakeStore) ActiveForClassOn(_ context.Context, classID string, day time.Time) (*Session, error) {
	for _, s := range f.sessions {
		if s.ClassID == classID && s.Status == StatusInProgress &&
			s.ScheduledStart.Year() == day.Year() && s.ScheduledStart.YearDay() == day.YearDay() {
			out := s
			return &out, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) Insert(_ context.Context, s Session) (Session, error) {
	if s.ID == "" {
		f.nextID++
		s.ID = fmt.Sprintf("sess-%d", f.nextID)
	}
	s.CreatedAt = time.Now()
	f.sessions[s.ID] = s
	return s, nil
}

func (f *fakeStore) SwapToken(_ context.Context, id string, fromVersion int, token string, issuedAt, expiresAt time.Time) (bool, error) {
	s, ok := f.sessions[id]
	if !ok || s.Status != StatusInProgress || s.TokenVersion != fromVersion {
		return false, nil
	}
	if f.swapDenials > 0 {
		f.swapDenials--
		// Simulate a concurrent winner bumping the version first.
		s.CurrentToken = "winner-token"
		s.TokenVersion++
		f.sessions[id] = s
		return false, nil
	}
	s.CurrentToken = token
	s.TokenIssuedAt = issuedAt
	s.TokenExpiresAt = expiresAt
	s.TokenVersion++
	f.sessions[id] = s
	return true, nil
}

func (f *fakeStore) Transition(_ context.Context, id string, to Status, _ time.Time) (bool, error) {
	s, ok := f.sessions[id]
	if !ok || s.Status.Terminal() {
		return false, nil
	}
	s.Status = to
	f.sessions[id] = s
	return true, nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func TestStart(t *testing.T) {
	ctx := context.Background()

	t.Run("issues a random token with the validity window", func(t *testing.T) {
		store := newFakeStore()
		m := NewManager(store, nil, 15*time.Minute, fixedClock(t0))

		s, err := m.Start(ctx, StartInput{ClassID: "cs101", LecturerID: "lec-1", ScheduledStart: t0})
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		if s.Status != StatusInProgress {
			t.Errorf("status = %s, want in_progress", s.Status)
		}
		if len(s.CurrentToken) != 32 { // 16 random bytes, hex encoded
			t.Errorf("token length = %d, want 32", len(s.CurrentToken))
		}
		if got := s.TokenExpiresAt.Sub(s.TokenIssuedAt); got != 15*time.Minute {
			t.Errorf("validity window = %s, want 15m", got)
		}
	})

	t.Run("second start for the class today fails", func(t *testing.T) {
		store := newFakeStore()
		m := NewManager(store, nil, 15*time.Minute, fixedClock(t0))

		if _, err := m.Start(ctx, StartInput{ClassID: "cs101", LecturerID: "lec-1", ScheduledStart: t0}); err != nil {
			t.Fatalf("first Start: %v", err)
		}
		if _, err := m.Start(ctx, StartInput{ClassID: "cs101", LecturerID: "lec-1", ScheduledStart: t0}); err != ErrAlreadyActive {
			t.Errorf("second Start err = %v, want ErrAlreadyActive", err)
		}
	})

	t.Run("tokens differ between sessions", func(t *testing.T) {
		store := newFakeStore()
		m := NewManager(store, nil, 15*time.Minute, fixedClock(t0))

		a, _ := m.Start(ctx, StartInput{ClassID: "cs101", LecturerID: "lec-1", ScheduledStart: t0})
		b, _ := m.Start(ctx, StartInput{ClassID: "cs102", LecturerID: "lec-1", ScheduledStart: t0})
		if a.CurrentToken == b.CurrentToken {
			t.Error("two sessions share a token")
		}
	})
}

func TestRotate(t *testing.T) {
	ctx := context.Background()

	t.Run("replaces token and resets window", func(t *testing.T) {
		store := newFakeStore()
		m := NewManager(store, nil, 15*time.Minute, fixedClock(t0))
		s, _ := m.Start(ctx, StartInput{ClassID: "cs101", LecturerID: "lec-1", ScheduledStart: t0})
		old := s.CurrentToken

		later := NewManager(store, nil, 15*time.Minute, fixedClock(t0.Add(5*time.Minute)))
		rotated, err := later.Rotate(ctx, s.ID)
		if err != nil {
			t.Fatalf("Rotate: %v", err)
		}
		if rotated.CurrentToken == old {
			t.Error("token unchanged after rotation")
		}
		if rotated.TokenVersion != s.TokenVersion+1 {
			t.Errorf("version = %d, want %d", rotated.TokenVersion, s.TokenVersion+1)
		}
		if want := t0.Add(20 * time.Minute); !rotated.TokenExpiresAt.Equal(want) {
			t.Errorf("expiry = %s, want %s", rotated.TokenExpiresAt, want)
		}
	})

	t.Run("losing the rotation race returns the winner's token", func(t *testing.T) {
		store := newFakeStore()
		m := NewManager(store, nil, 15*time.Minute, fixedClock(t0))
		s, _ := m.Start(ctx, StartInput{ClassID: "cs101", LecturerID: "lec-1", ScheduledStart: t0})

		store.swapDenials = 1
		rotated, err := m.Rotate(ctx, s.ID)
		if err != nil {
			t.Fatalf("Rotate: %v", err)
		}
		if rotated.CurrentToken != "winner-token" {
			t.Errorf("token = %q, want the winner's", rotated.CurrentToken)
		}
	})

	t.Run("rotating a terminal session fails", func(t *testing.T) {
		store := newFakeStore()
		m := NewManager(store, nil, 15*time.Minute, fixedClock(t0))
		s, _ := m.Start(ctx, StartInput{ClassID: "cs101", LecturerID: "lec-1", ScheduledStart: t0})
		if _, err := m.End(ctx, s.ID, StatusCompleted); err != nil {
			t.Fatalf("End: %v", err)
		}
		if _, err := m.Rotate(ctx, s.ID); err != ErrSessionNotActive {
			t.Errorf("Rotate err = %v, want ErrSessionNotActive", err)
		}
	})
}

func TestCurrentToken(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	m := NewManager(store, nil, 15*time.Minute, fixedClock(t0))
	s, _ := m.Start(ctx, StartInput{ClassID: "cs101", LecturerID: "lec-1", ScheduledStart: t0})

	t.Run("returns live token inside the window", func(t *testing.T) {
		inside := NewManager(store, nil, 15*time.Minute, fixedClock(t0.Add(14*time.Minute)))
		token, _, err := inside.CurrentToken(ctx, s.ID)
		if err != nil {
			t.Fatalf("CurrentToken: %v", err)
		}
		if token != s.CurrentToken {
			t.Errorf("token = %q, want %q", token, s.CurrentToken)
		}
	})

	t.Run("signals expiry at the window edge", func(t *testing.T) {
		edge := NewManager(store, nil, 15*time.Minute, fixedClock(t0.Add(15*time.Minute)))
		if _, _, err := edge.CurrentToken(ctx, s.ID); err != ErrTokenExpired {
			t.Errorf("err = %v, want ErrTokenExpired", err)
		}
	})
}

func TestEnd(t *testing.T) {
	ctx := context.Background()

	t.Run("no transition out of a terminal state", func(t *testing.T) {
		store := newFakeStore()
		m := NewManager(store, nil, 15*time.Minute, fixedClock(t0))
		s, _ := m.Start(ctx, StartInput{ClassID: "cs101", LecturerID: "lec-1", ScheduledStart: t0})

		if _, err := m.End(ctx, s.ID, StatusCancelled); err != nil {
			t.Fatalf("End: %v", err)
		}
		if _, err := m.End(ctx, s.ID, StatusCompleted); err != ErrSessionNotActive {
			t.Errorf("second End err = %v, want ErrSessionNotActive", err)
		}
	})

	t.Run("rejects invalid outcomes", func(t *testing.T) {
		store := newFakeStore()
		m := NewManager(store, nil, 15*time.Minute, fixedClock(t0))
		s, _ := m.Start(ctx, StartInput{ClassID: "cs101", LecturerID: "lec-1", ScheduledStart: t0})

		if _, err := m.End(ctx, s.ID, StatusScheduled); err == nil {
			t.Error("End accepted a non-terminal outcome")
		}
	})
}
