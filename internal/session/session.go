package session

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a class session.
type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Session is one scheduled occurrence of a class where attendance is taken.
// Sessions are never physically deleted; cancellation is a status transition.
type Session struct {
	ID             string
	ClassID        string
	LecturerID     string
	ScheduledStart time.Time
	ScheduledEnd   time.Time
	Status         Status
	CurrentToken   string
	TokenIssuedAt  time.Time
	TokenExpiresAt time.Time
	TokenVersion   int
	LocationLat    *float64
	LocationLng    *float64
	RadiusMeters   *float64
	CreatedAt      time.Time
}

// HasLocation reports whether the session carries classroom coordinates.
func (s Session) HasLocation() bool {
	return s.LocationLat != nil && s.LocationLng != nil
}

var (
	// ErrNotFound indicates the session does not exist.
	ErrNotFound = errors.New("session not found")
	// ErrAlreadyActive indicates a class already has an in-progress session today.
	ErrAlreadyActive = errors.New("session already active for class")
	// ErrSessionNotActive indicates the session is not accepting scans or transitions.
	ErrSessionNotActive = errors.New("session not active")
	// ErrTokenExpired indicates the current token's validity window has passed.
	ErrTokenExpired = errors.New("session token expired")
)
