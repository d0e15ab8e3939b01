package status

import "fmt"

// BuildStatus is the single rolled-up health value of a pull request.
type BuildStatus string

const (
	Conflict         BuildStatus = "conflict"
	Failure          BuildStatus = "failure"
	Error            BuildStatus = "error"
	ChangesRequested BuildStatus = "changes_requested"
	Pending          BuildStatus = "pending"
	Inactive         BuildStatus = "inactive"
	Success          BuildStatus = "success"
	Unknown          BuildStatus = "unknown"
)

// All lists every status from highest to lowest priority.
var All = []BuildStatus{Conflict, Failure, Error, ChangesRequested, Pending, Inactive, Success, Unknown}

// Priority orders statuses by urgency; lower numbers are more urgent.
// Unknown sorts with Success.
func (s BuildStatus) Priority() int {
	switch s {
	case Conflict:
		return 0
	case Failure:
		return 1
	case Error:
		return 2
	case ChangesRequested:
		return 3
	case Pending:
		return 4
	case Inactive:
		return 5
	default:
		return 6
	}
}

// IsSettled reports whether s represents a concluded check run.
func (s BuildStatus) IsSettled() bool {
	return s == Success || s == Failure || s == Error
}

// NeedsAttention is the set that floats above settled items when the
// settled-last ordering is enabled.
func (s BuildStatus) NeedsAttention() bool {
	switch s {
	case Failure, Error, Conflict, Pending, Inactive:
		return true
	}
	return false
}

func (s BuildStatus) String() string {
	return string(s)
}

func (s BuildStatus) MarshalText() ([]byte, error) {
	return []byte(s), nil
}

func (s *BuildStatus) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func Parse(v string) (BuildStatus, error) {
	for _, s := range All {
		if string(s) == v {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown build status %q", v)
}
