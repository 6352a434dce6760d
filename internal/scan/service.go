package scan

import (
	"context"
	"time"

	"classtrack/internal/ledger"
	"classtrack/internal/notify"
	"classtrack/internal/session"
)

// SessionGetter is the slice of session persistence the service needs.
type SessionGetter interface {
	Get(ctx context.Context, id string) (session.Session, error)
}

// Service runs one scan end to end: load state, decide, persist, fan out.
type Service struct {
	sessions SessionGetter
	led      *ledger.Ledger
	pub      notify.Publisher
	pol      Policy
	now      func() time.Time
}

// NewService creates a scan service. now is injected so tests control the clock.
func NewService(sessions SessionGetter, led *ledger.Ledger, pub notify.Publisher, pol Policy, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	if pub == nil {
		pub = notify.Nop{}
	}
	return &Service{sessions: sessions, led: led, pub: pub, pol: pol, now: now}
}

// Scan verifies one attempt and records the outcome. Rejections come back in
// the Result, not as an error; errors are infrastructure failures only.
func (s *Service) Scan(ctx context.Context, in Input) (Result, error) {
	sess, err := s.sessions.Get(ctx, in.SessionID)
	if err != nil {
		return Result{}, err
	}
	enrolled, err := s.led.Enrolled(ctx, in.StudentID, sess.ClassID)
	if err != nil {
		return Result{}, err
	}
	prior, err := s.led.Existing(ctx, in.StudentID, in.SessionID)
	if err != nil {
		return Result{}, err
	}

	res := Verify(sess, enrolled, prior, in, s.pol, s.now().UTC())

	if res.Record != nil {
		stored, applied, err := s.led.Append(ctx, *res.Record)
		if err != nil {
			return Result{}, err
		}
		res.Record = &stored
		if !applied && stored.Status.Accepted() {
			// Lost a duplicate race to an accepted scan; report the winner.
			res = Result{
				Kind:   KindDuplicateScan,
				Reason: "attendance already recorded for this session",
				Prior:  &stored,
			}
		}
		if applied {
			_ = s.pub.Publish(ctx, notify.Event{
				Type:      notify.TypeAttendanceRecorded,
				StudentID: stored.StudentID,
				SessionID: stored.SessionID,
				ClassID:   sess.ClassID,
				Status:    stored.Status,
				At:        s.now().UTC(),
			})
		}
	}

	countScan(res)
	return res, nil
}
