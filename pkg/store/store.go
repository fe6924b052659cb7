// Package store defines the job store contract shared by the filesystem and
// object-store backends.
package store

import (
	"context"
	"sort"

	"github.com/runveil/codeq/pkg/queue"
)

// Store is a durable mapping from job id to job record, shared by the
// requester and owner sides of the mailbox.
//
// UpdateStatus is the only mutation path after Put. It performs an atomic
// per-id read-modify-write: the stored status must still equal from at write
// time (a racing caller observes ErrConflict), the from→to edge must be
// legal per queue.CanTransition (ErrInvalidState otherwise), and apply, when
// not nil, stamps the edge's fields on the record before it is written back.
// Implementations serialize UpdateStatus per job id; no cross-job
// transactions are required.
type Store interface {
	Put(ctx context.Context, job *queue.Job) error
	Get(ctx context.Context, id string) (*queue.Job, error)
	UpdateStatus(ctx context.Context, id string, from, to queue.Status, apply func(*queue.Job)) (*queue.Job, error)
	List(ctx context.Context, filter Filter) ([]queue.Job, error)

	// Delete removes a job record and any payload the backend owns. It
	// exists for external retention tooling; the lifecycle engine itself
	// never deletes.
	Delete(ctx context.Context, id string) error
}

// Filter narrows List results. Zero-valued fields match everything.
type Filter struct {
	Status            queue.Status
	TargetIdentity    string
	RequesterIdentity string

	// Limit truncates the result after newest-first ordering. Zero means
	// no limit.
	Limit int
}

// Matches reports whether the job passes the filter's field predicates.
func (f Filter) Matches(j *queue.Job) bool {
	if f.Status != "" && j.Status != f.Status {
		return false
	}
	if f.TargetIdentity != "" && j.TargetIdentity != f.TargetIdentity {
		return false
	}
	if f.RequesterIdentity != "" && j.RequesterIdentity != f.RequesterIdentity {
		return false
	}
	return true
}

// Apply filters, orders newest-first by created_at, and truncates to the
// filter limit. Backends share it so List semantics stay identical across
// storage media.
func (f Filter) Apply(jobs []queue.Job) []queue.Job {
	out := make([]queue.Job, 0, len(jobs))
	for i := range jobs {
		if f.Matches(&jobs[i]) {
			out = append(out, jobs[i])
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}
