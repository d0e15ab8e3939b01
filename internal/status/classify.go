package status

import (
	"strings"
	"time"
)

// Check is one raw check result. Any of the three outcome fields may be
// empty depending on which API shape produced it.
type Check struct {
	Name       string
	Conclusion string // terminal outcome of a check run
	State      string // legacy commit status state
	Status     string // progress of a check run
}

type Input struct {
	Checks           []Check
	Mergeable        string
	MergeStateStatus string
	ReviewDecision   string
	UpdatedAt        time.Time
	Now              time.Time

	InactivityEnabled       bool
	InactivityThresholdDays int

	// NoChecks is returned for an item without any checks once nothing
	// more urgent applies. Empty means Success.
	NoChecks BuildStatus
}

type signals struct {
	failure bool
	err     bool
	pending bool
	success bool
}

func scan(checks []Check) signals {
	var s signals
	for _, c := range checks {
		conclusion := strings.ToUpper(c.Conclusion)
		state := strings.ToUpper(c.State)
		progress := strings.ToUpper(c.Status)

		switch conclusion {
		case "FAILURE", "CANCELLED", "TIMED_OUT":
			s.failure = true
		case "ACTION_REQUIRED", "STALE", "STARTUP_FAILURE":
			s.err = true
		case "SUCCESS":
			s.success = true
		}

		// a single check may contribute through several fields
		switch state {
		case "FAILURE", "ERROR":
			s.failure = true
		case "PENDING", "EXPECTED":
			s.pending = true
		case "SUCCESS":
			s.success = true
		}

		switch progress {
		case "IN_PROGRESS", "QUEUED", "WAITING", "PENDING":
			s.pending = true
		}
	}
	return s
}

// Classify reduces all signals of one pull request to a BuildStatus.
// The order of the rules below is the priority order: the first match wins.
func Classify(in Input) BuildStatus {
	if strings.EqualFold(in.Mergeable, "CONFLICTING") || strings.EqualFold(in.MergeStateStatus, "DIRTY") {
		return Conflict
	}

	sig := scan(in.Checks)
	if sig.failure {
		return Failure
	}
	if sig.err {
		return Error
	}
	if strings.EqualFold(in.ReviewDecision, "CHANGES_REQUESTED") {
		return ChangesRequested
	}
	if sig.pending {
		return Pending
	}
	if in.InactivityEnabled && isInactive(in.UpdatedAt, in.Now, in.InactivityThresholdDays) {
		return Inactive
	}
	if sig.success {
		return Success
	}
	if len(in.Checks) == 0 {
		if in.NoChecks != "" {
			return in.NoChecks
		}
		return Success
	}
	return Success
}

func isInactive(updatedAt, now time.Time, thresholdDays int) bool {
	if updatedAt.IsZero() {
		return false
	}
	return now.Sub(updatedAt) >= time.Duration(thresholdDays)*24*time.Hour
}
