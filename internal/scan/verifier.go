package scan

import (
	"crypto/subtle"
	"fmt"
	"time"

	"classtrack/internal/ledger"
	"classtrack/internal/session"
)

// Kind identifies why a scan was rejected. Rejections are business events,
// not failures; each carries a human-readable reason for the client.
type Kind string

const (
	KindNotEnrolled      Kind = "not_enrolled"
	KindSessionNotActive Kind = "session_not_active"
	KindInvalidToken     Kind = "invalid_token"
	KindTokenExpired     Kind = "token_expired"
	KindDuplicateScan    Kind = "duplicate_scan"
	KindLocationMismatch Kind = "location_mismatch"
)

// Input is one scan attempt as submitted by a student's device.
type Input struct {
	StudentID         string
	SessionID         string
	Token             string
	Latitude          *float64
	Longitude         *float64
	DeviceFingerprint string
}

// Policy holds the verification knobs.
type Policy struct {
	Grace          time.Duration
	DefaultRadiusM float64
}

// Result is the decision for one scan attempt.
type Result struct {
	Accepted bool
	Kind     Kind   // empty when accepted
	Reason   string // empty when accepted
	// Record is the outcome to persist; nil when nothing should be written
	// (unknown enrollment, inactive session, or an idempotent duplicate).
	Record *ledger.Record
	// Prior is the already-stored record when Kind is duplicate_scan.
	Prior *ledger.Record
}

// Verify decides accept/reject for one scan attempt. It is a pure function
// over session state, enrollment, the prior record, and the submitted data;
// persistence and fan-out belong to the caller. Checks run in order and the
// first failure wins.
func Verify(sess session.Session, enrolled bool, prior *ledger.Record, in Input, pol Policy, now time.Time) Result {
	if !enrolled {
		return Result{Kind: KindNotEnrolled, Reason: "you are not enrolled in this class"}
	}
	if sess.Status != session.StatusInProgress {
		return Result{Kind: KindSessionNotActive, Reason: "attendance is not open for this session"}
	}
	if subtle.ConstantTimeCompare([]byte(in.Token), []byte(sess.CurrentToken)) != 1 {
		return Result{
			Kind:   KindInvalidToken,
			Reason: "QR code is not valid for this session, rescan the current code",
			Record: rejection(in, ledger.StatusRejectedInvalidToken, now),
		}
	}
	if !now.Before(sess.TokenExpiresAt) {
		return Result{
			Kind:   KindTokenExpired,
			Reason: "QR code has expired, ask the lecturer to refresh it",
			Record: rejection(in, ledger.StatusRejectedInvalidToken, now),
		}
	}
	if prior != nil && prior.Status.Accepted() {
		// Idempotent: the student already checked in, hand back the prior result.
		return Result{Kind: KindDuplicateScan, Reason: "attendance already recorded for this session", Prior: prior}
	}
	if sess.HasLocation() {
		radius := pol.DefaultRadiusM
		if sess.RadiusMeters != nil {
			radius = *sess.RadiusMeters
		}
		if in.Latitude == nil || in.Longitude == nil {
			return Result{
				Kind:   KindLocationMismatch,
				Reason: "location is required for this session, enable location services",
				Record: rejection(in, ledger.StatusRejectedLocation, now),
			}
		}
		dist := haversineMeters(*sess.LocationLat, *sess.LocationLng, *in.Latitude, *in.Longitude)
		if dist > radius {
			return Result{
				Kind:   KindLocationMismatch,
				Reason: fmt.Sprintf("you are %.0fm from the room (max %.0fm), move closer", dist, radius),
				Record: rejection(in, ledger.StatusRejectedLocation, now),
			}
		}
	}

	status := ledger.StatusOnTime
	if now.Sub(sess.ScheduledStart) > pol.Grace {
		status = ledger.StatusLate
	}
	checkin := now
	return Result{
		Accepted: true,
		Record: &ledger.Record{
			StudentID:         in.StudentID,
			SessionID:         in.SessionID,
			Status:            status,
			CheckinTime:       &checkin,
			Latitude:          in.Latitude,
			Longitude:         in.Longitude,
			DeviceFingerprint: in.DeviceFingerprint,
		},
	}
}

func rejection(in Input, status ledger.Status, now time.Time) *ledger.Record {
	checkin := now
	return &ledger.Record{
		StudentID:         in.StudentID,
		SessionID:         in.SessionID,
		Status:            status,
		CheckinTime:       &checkin,
		Latitude:          in.Latitude,
		Longitude:         in.Longitude,
		DeviceFingerprint: in.DeviceFingerprint,
	}
}
