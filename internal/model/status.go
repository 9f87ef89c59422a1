package model

// Status is the outcome of one region in a run.
type Status string

// Status values, from best to worst.
const (
	StatusOK        Status = "ok"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) rank() int {
	switch s {
	case StatusOK:
		return 0
	case StatusSkipped:
		return 1
	case StatusFailed:
		return 2
	case StatusCancelled:
		return 3
	}
	return -1
}

// Worse returns whichever of s and o is the worse outcome.
func (s Status) Worse(o Status) Status {
	if o.rank() > s.rank() {
		return o
	}
	return s
}

// Fatal reports whether the status fails the run.
func (s Status) Fatal() bool {
	return s == StatusFailed || s == StatusCancelled
}
