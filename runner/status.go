package runner

// Status is a job state as reported by the remote runner.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Terminal reports whether the status ends a job's lifecycle. Terminal
// records are immutable; nothing transitions out of them.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// IsValidStatus returns true if the status string is one vigil understands
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusIdle, StatusRunning, StatusCompleted, StatusError:
		return true
	default:
		return false
	}
}
