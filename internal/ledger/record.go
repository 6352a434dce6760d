package ledger

import "time"

// Status is the verification outcome stored for one (student, session) pair.
type Status string

const (
	StatusOnTime               Status = "on_time"
	StatusLate                 Status = "late"
	StatusAbsent               Status = "absent"
	StatusRejectedInvalidToken Status = "rejected_invalid_token"
	StatusRejectedLocation     Status = "rejected_location"
	StatusRejectedDuplicate    Status = "rejected_duplicate"
)

// Accepted reports whether the status counts as attended.
func (s Status) Accepted() bool {
	return s == StatusOnTime || s == StatusLate
}

// Rank orders outcomes by how informative they are. A later, worse attempt
// must never overwrite a better stored outcome.
func (s Status) Rank() int {
	switch s {
	case StatusOnTime:
		return 3
	case StatusLate:
		return 2
	case StatusAbsent:
		return 1
	default:
		return 0
	}
}

// Record is one verification outcome. At most one record exists per
// (student, session); the store enforces that with a unique constraint.
type Record struct {
	ID                string
	StudentID         string
	SessionID         string
	Status            Status
	CheckinTime       *time.Time
	Latitude          *float64
	Longitude         *float64
	DeviceFingerprint string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
