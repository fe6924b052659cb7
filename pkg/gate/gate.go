// Package gate decides whether pending jobs may run.
package gate

import (
	"context"
	"fmt"
	"sync"

	"github.com/runveil/codeq/pkg/queue"
)

// Decision is the outcome of one approval evaluation.
type Decision struct {
	Approve bool

	// Reason is the rejection reason; empty on approval.
	Reason string
}

// Gate is the approval strategy injected into the server facade. Decide
// returns the decision and whether the gate decides at all: the manual gate
// never does, leaving jobs pending until an operator acts.
type Gate interface {
	Decide(ctx context.Context, job queue.Job) (Decision, bool)
}

// Manual returns the gate used in manual mode. It never decides; explicit
// approve/reject calls are the only way out of pending.
func Manual() Gate {
	return manualGate{}
}

type manualGate struct{}

func (manualGate) Decide(_ context.Context, _ queue.Job) (Decision, bool) {
	return Decision{}, false
}

// Predicate is a caller-supplied approval function. Returning true approves
// the job; false rejects it with the given reason.
type Predicate func(job queue.Job) (bool, string)

// Delegate wraps a predicate as a gate. The predicate runs at most once per
// job id within this process; a panic inside it is recovered and converted
// into a rejection so user code can never unwind into the scheduler loop.
func Delegate(fn Predicate) Gate {
	return &delegateGate{fn: fn}
}

type delegateGate struct {
	fn   Predicate
	memo sync.Map // job id -> Decision
}

func (g *delegateGate) Decide(_ context.Context, job queue.Job) (Decision, bool) {
	if d, ok := g.memo.Load(job.ID); ok {
		return d.(Decision), true
	}
	d := g.evaluate(job)
	actual, _ := g.memo.LoadOrStore(job.ID, d)
	return actual.(Decision), true
}

func (g *delegateGate) evaluate(job queue.Job) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			d = Decision{Approve: false, Reason: fmt.Sprintf("approval predicate panicked: %v", r)}
		}
	}()
	if g.fn == nil {
		return Decision{Approve: false, Reason: "no approval predicate configured"}
	}
	approve, reason := g.fn(job)
	if approve {
		return Decision{Approve: true}
	}
	if reason == "" {
		reason = "rejected by approval predicate"
	}
	return Decision{Approve: false, Reason: reason}
}
