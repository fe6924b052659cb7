// Package queue defines the job record, its lifecycle state machine, and the
// payload layout shared by the client, server, and store implementations.
package queue

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Job is the persistent record for one submitted code package.
//
// Identity and metadata are immutable after submission; status and the
// edge-stamped fields are the only mutable state. The schema is designed for
// backward-compatible extension (additive fields).
type Job struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Description       string   `json:"description,omitempty"`
	Tags              []string `json:"tags,omitempty"`
	RequesterIdentity string   `json:"requester_identity"`
	TargetIdentity    string   `json:"target_identity"`
	CodeLocation      string   `json:"code_location"`

	Status          Status `json:"status"`
	RejectionReason string `json:"rejection_reason,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	DecidedAt  *time.Time `json:"decided_at,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	OutputLocation string `json:"output_location,omitempty"`
	LogsLocation   string `json:"logs_location,omitempty"`

	// ExitCode is set only on completed/failed; nil means the subordinate
	// process never produced an exit status (launch error, blocked command).
	ExitCode    *int   `json:"exit_code,omitempty"`
	ErrorDetail string `json:"error_detail,omitempty"`
}

// NewJob creates a pending job with a fresh identifier. Timestamps are UTC.
func NewJob(requester, target, codeLocation, name string) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:                uuid.NewString(),
		Name:              strings.TrimSpace(name),
		RequesterIdentity: strings.TrimSpace(requester),
		TargetIdentity:    strings.TrimSpace(target),
		CodeLocation:      codeLocation,
		Status:            StatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Touch bumps UpdatedAt. Stores call it on every mutation.
func (j *Job) Touch() {
	j.UpdatedAt = time.Now().UTC()
}

// Duration is the wall-clock execution time, zero until both the running and
// terminal edges have been stamped.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil || j.FinishedAt == nil {
		return 0
	}
	return j.FinishedAt.Sub(*j.StartedAt)
}

// TerminalAt returns when the job reached its terminal status, or nil if it
// is still live. Executed jobs report finished_at; rejected jobs report
// decided_at; cancelled jobs fall back to updated_at. Retention tooling keys
// its age checks off this value.
func (j *Job) TerminalAt() *time.Time {
	if !j.Status.Terminal() {
		return nil
	}
	if j.FinishedAt != nil {
		return j.FinishedAt
	}
	if j.DecidedAt != nil {
		return j.DecidedAt
	}
	t := j.UpdatedAt
	return &t
}

// Expired reports whether the job has been terminal for longer than maxAge.
func (j *Job) Expired(maxAge time.Duration, now time.Time) bool {
	at := j.TerminalAt()
	if at == nil {
		return false
	}
	return now.Sub(*at) > maxAge
}

// Clone returns a deep copy. Stores hand out clones so callers can never
// mutate a record behind the store's back.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	if j.Tags != nil {
		out.Tags = append([]string(nil), j.Tags...)
	}
	out.DecidedAt = cloneTime(j.DecidedAt)
	out.StartedAt = cloneTime(j.StartedAt)
	out.FinishedAt = cloneTime(j.FinishedAt)
	if j.ExitCode != nil {
		code := *j.ExitCode
		out.ExitCode = &code
	}
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
