package analytics

import "math"

// Tier buckets a student's attendance health for a course.
type Tier string

const (
	TierLow      Tier = "low"
	TierMedium   Tier = "medium"
	TierHigh     Tier = "high"
	TierCritical Tier = "critical"
)

// Classifier maps percentages to risk tiers. Thresholds are configurable;
// below 50 is always critical.
type Classifier struct {
	ThresholdHigh   float64
	ThresholdMedium float64
}

// NewClassifier builds a classifier, falling back to the 75/85 defaults for
// out-of-order or unset thresholds.
func NewClassifier(high, medium float64) Classifier {
	if high <= 50 || medium <= high || medium > 100 {
		high, medium = 75, 85
	}
	return Classifier{ThresholdHigh: high, ThresholdMedium: medium}
}

// Tier maps a percentage to its risk tier. Monotone: a lower percentage never
// maps to a lower-severity tier.
func (c Classifier) Tier(percentage float64) Tier {
	switch {
	case percentage < 50:
		return TierCritical
	case percentage < c.ThresholdHigh:
		return TierHigh
	case percentage < c.ThresholdMedium:
		return TierMedium
	default:
		return TierLow
	}
}

// Projection is the catch-up estimate for a student below target.
type Projection struct {
	ClassesNeeded  int  `json:"classes_needed"`
	CanReachTarget bool `json:"can_reach_target"`
}

// ClassesNeededForTarget returns the minimum k such that attending the next k
// sessions lifts the percentage to targetPercent. When k exceeds the sessions
// remaining in the term, the result is capped at remaining and flagged
// unreachable rather than hidden.
func ClassesNeededForTarget(attended, totalSoFar int, targetPercent float64, remaining int) Projection {
	if remaining < 0 {
		remaining = 0
	}
	if targetPercent <= 0 || totalSoFar == 0 {
		return Projection{ClassesNeeded: 0, CanReachTarget: true}
	}
	if float64(attended)/float64(totalSoFar)*100 >= targetPercent {
		return Projection{ClassesNeeded: 0, CanReachTarget: true}
	}
	if targetPercent >= 100 {
		// A single miss makes 100% unreachable.
		return Projection{ClassesNeeded: remaining, CanReachTarget: false}
	}
	k := int(math.Ceil((targetPercent*float64(totalSoFar) - 100*float64(attended)) / (100 - targetPercent)))
	if k < 0 {
		k = 0
	}
	if k > remaining {
		return Projection{ClassesNeeded: remaining, CanReachTarget: false}
	}
	return Projection{ClassesNeeded: k, CanReachTarget: true}
}

// RiskFlag is the derived classification for a (student, class) pair.
type RiskFlag struct {
	StudentID  string     `json:"student_id"`
	ClassID    string     `json:"class_id"`
	Tier       Tier       `json:"tier"`
	Percentage float64    `json:"percentage"`
	Projection Projection `json:"projection"`
}

// Classify derives the risk flag from a summary. Returns nil when no sessions
// have been held yet; "no data" is not a risk level.
func (c Classifier) Classify(sum Summary, targetPercent float64, remaining int) *RiskFlag {
	if sum.Percentage == nil {
		return nil
	}
	return &RiskFlag{
		StudentID:  sum.StudentID,
		ClassID:    sum.ClassID,
		Tier:       c.Tier(*sum.Percentage),
		Percentage: *sum.Percentage,
		Projection: ClassesNeededForTarget(sum.AttendedCount, sum.TotalSessions, targetPercent, remaining),
	}
}
