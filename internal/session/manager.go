package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Store is the persistence surface the manager needs. *Repository satisfies it;
// tests substitute an in-memory fake.
type Store interface {
	Get(ctx context.Context, id string) (Session, error)
	ActiveForClassOn(ctx context.Context, classID string, day time.Time) (*Session, error)
	Insert(ctx context.Context, s Session) (Session, error)
	SwapToken(ctx context.Context, id string, fromVersion int, token string, issuedAt, expiresAt time.Time) (bool, error)
	Transition(ctx context.Context, id string, to Status, endedAt time.Time) (bool, error)
}

// Manager owns the lifecycle of the rotating QR credential for class sessions.
type Manager struct {
	store    Store
	cache    *TokenCache
	validity time.Duration
	now      func() time.Time
}

// NewManager creates a manager. now is injected so tests control the clock.
func NewManager(store Store, cache *TokenCache, validity time.Duration, now func() time.Time) *Manager {
	if validity <= 0 {
		validity = 15 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &Manager{store: store, cache: cache, validity: validity, now: now}
}

// StartInput carries the schedule for a session being started.
type StartInput struct {
	ClassID        string
	LecturerID     string
	ScheduledStart time.Time
	ScheduledEnd   time.Time
	LocationLat    *float64
	LocationLng    *float64
	RadiusMeters   *float64
}

// Start opens a session and issues its first token. Fails with ErrAlreadyActive
// when the class already has an in-progress session today.
func (m *Manager) Start(ctx context.Context, in StartInput) (Session, error) {
	now := m.now().UTC()
	active, err := m.store.ActiveForClassOn(ctx, in.ClassID, now)
	if err != nil {
		return Session{}, err
	}
	if active != nil {
		return Session{}, ErrAlreadyActive
	}

	token, err := newToken()
	if err != nil {
		return Session{}, err
	}
	start := in.ScheduledStart
	if start.IsZero() {
		start = now
	}
	s := Session{
		ClassID:        in.ClassID,
		LecturerID:     in.LecturerID,
		ScheduledStart: start,
		ScheduledEnd:   in.ScheduledEnd,
		Status:         StatusInProgress,
		CurrentToken:   token,
		TokenIssuedAt:  now,
		TokenExpiresAt: now.Add(m.validity),
		TokenVersion:   1,
		LocationLat:    in.LocationLat,
		LocationLng:    in.LocationLng,
		RadiusMeters:   in.RadiusMeters,
	}
	s, err = m.store.Insert(ctx, s)
	if err != nil {
		return Session{}, err
	}
	_ = m.cache.Put(ctx, s.ID, s.CurrentToken, s.TokenExpiresAt, now)
	return s, nil
}

// Rotate replaces the session token and resets the validity window. The old
// token is invalid for future scans the moment this returns; already-accepted
// scans are untouched. Rotation is serialized with a compare-and-set on
// token_version; a losing caller gets the winner's session back, not an error.
func (m *Manager) Rotate(ctx context.Context, sessionID string) (Session, error) {
	s, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if s.Status != StatusInProgress {
		return Session{}, ErrSessionNotActive
	}

	token, err := newToken()
	if err != nil {
		return Session{}, err
	}
	now := m.now().UTC()
	expiresAt := now.Add(m.validity)

	won, err := m.store.SwapToken(ctx, sessionID, s.TokenVersion, token, now, expiresAt)
	if err != nil {
		return Session{}, err
	}
	if !won {
		// A concurrent rotation got there first; hand back its token.
		s, err = m.store.Get(ctx, sessionID)
		if err != nil {
			return Session{}, err
		}
		if s.Status != StatusInProgress {
			return Session{}, ErrSessionNotActive
		}
		return s, nil
	}

	s.CurrentToken = token
	s.TokenIssuedAt = now
	s.TokenExpiresAt = expiresAt
	s.TokenVersion++
	_ = m.cache.Put(ctx, s.ID, token, expiresAt, now)
	return s, nil
}

// CurrentToken returns the live token and its expiry. Signals ErrTokenExpired
// past the window so the caller rotates or flags the session.
func (m *Manager) CurrentToken(ctx context.Context, sessionID string) (string, time.Time, error) {
	now := m.now().UTC()
	if token, exp, err := m.cache.Get(ctx, sessionID); err == nil && token != "" && now.Before(exp) {
		return token, exp, nil
	}
	s, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return "", time.Time{}, err
	}
	if s.Status != StatusInProgress {
		return "", time.Time{}, ErrSessionNotActive
	}
	if !now.Before(s.TokenExpiresAt) {
		return "", time.Time{}, ErrTokenExpired
	}
	_ = m.cache.Put(ctx, s.ID, s.CurrentToken, s.TokenExpiresAt, now)
	return s.CurrentToken, s.TokenExpiresAt, nil
}

// End moves the session to completed or cancelled. Terminal states are final.
func (m *Manager) End(ctx context.Context, sessionID string, outcome Status) (Session, error) {
	if outcome != StatusCompleted && outcome != StatusCancelled {
		return Session{}, fmt.Errorf("invalid outcome %q", outcome)
	}
	s, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	moved, err := m.store.Transition(ctx, sessionID, outcome, m.now().UTC())
	if err != nil {
		return Session{}, err
	}
	if !moved {
		return Session{}, ErrSessionNotActive
	}
	_ = m.cache.Drop(ctx, sessionID)
	s.Status = outcome
	return s, nil
}

// newToken returns a 128-bit random token, hex encoded.
func newToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
