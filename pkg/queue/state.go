package queue

import "time"

// Status is the lifecycle state of a job.
//
// NOTE: These values are persisted in job.json and are part of the stable
// on-disk contract.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// String returns the persisted status value.
func (s Status) String() string {
	return string(s)
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected,
		StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// transitions is the complete lifecycle table. A known status with no entry
// is terminal.
var transitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved: {StatusRunning, StatusCancelled},
	StatusRunning:  {StatusCompleted, StatusFailed},
}

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	if !s.Valid() {
		return false
	}
	_, ok := transitions[s]
	return !ok
}

// CanTransition reports whether the lifecycle permits moving a job from one
// status to another. Both statuses must be known values and the edge must
// appear in the transition table; everything else is refused.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Statuses returns all known status values in lifecycle order.
func Statuses() []Status {
	return []Status{
		StatusPending, StatusApproved, StatusRejected,
		StatusRunning, StatusCompleted, StatusFailed, StatusCancelled,
	}
}

// Edge stamps. Passed as the apply argument to a store's UpdateStatus so
// every writer records the same fields on the same edge, keeping the
// set-exactly-once timestamp invariants in one place.

// ApplyDecided stamps the decision edge. A non-empty reason marks a
// rejection.
func ApplyDecided(reason string) func(*Job) {
	return func(j *Job) {
		now := time.Now().UTC()
		j.DecidedAt = &now
		if reason != "" {
			j.RejectionReason = reason
		}
	}
}

// ApplyStarted stamps the dispatch edge with the payload locations.
func ApplyStarted(outputDir, logsPath string) func(*Job) {
	return func(j *Job) {
		now := time.Now().UTC()
		j.StartedAt = &now
		j.OutputLocation = outputDir
		j.LogsLocation = logsPath
	}
}

// ApplyFinished stamps the terminal edge.
func ApplyFinished(exitCode *int, detail string) func(*Job) {
	return func(j *Job) {
		now := time.Now().UTC()
		j.FinishedAt = &now
		if exitCode != nil {
			code := *exitCode
			j.ExitCode = &code
		}
		j.ErrorDetail = detail
	}
}
