// Package server is the owner-side facade: review what was submitted to
// this datasite, decide it, and run what was approved.
//
// A Server owns one scheduler. Construct it, Start it, and the queue is
// live; Stop drains in-flight work, Kill aborts it.
package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/runveil/codeq/pkg/gate"
	"github.com/runveil/codeq/pkg/queue"
	"github.com/runveil/codeq/pkg/runner"
	"github.com/runveil/codeq/pkg/scheduler"
	"github.com/runveil/codeq/pkg/store"
)

// ErrWrongTarget reports a decision attempted on a job addressed to a
// different datasite identity. Shared stores hold jobs for many targets;
// only the addressee decides.
var ErrWrongTarget = errors.New("job is addressed to a different identity")

// Config configures a Server.
type Config struct {
	// Store holds the job records shared with requesters.
	Store store.Store

	// Runner executes approved jobs. Nil means the default safe runner
	// built from the queue config.
	Runner runner.Runner

	// Gate decides pending jobs automatically each poll tick. Nil means
	// manual review through Approve and Reject only.
	Gate gate.Gate

	// Queue carries the tuning knobs shared with the scheduler and the
	// default runner.
	Queue queue.Config

	// Identity names the datasite this server answers for. Only jobs
	// targeted at it are decided and run.
	Identity string

	// DataRoot is the queue payload root jobs stage code, output, and
	// logs under.
	DataRoot string

	// Logger receives server and scheduler events. Nil means no logging.
	Logger *zap.Logger
}

// Server reviews and runs jobs addressed to one datasite identity.
type Server struct {
	store    store.Store
	sched    *scheduler.Scheduler
	identity string
	log      *zap.Logger
}

// New creates a server and its scheduler. The scheduler does not poll
// until Start is called.
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("server: store is required")
	}
	if strings.TrimSpace(cfg.Identity) == "" {
		return nil, errors.New("server: identity is required")
	}

	qc := cfg.Queue.WithDefaults()
	if err := qc.Validate(); err != nil {
		return nil, err
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := cfg.Runner
	if r == nil {
		safe, err := runner.NewSafe(qc)
		if err != nil {
			return nil, err
		}
		r = safe
	}

	sched, err := scheduler.New(scheduler.Config{
		Store:    cfg.Store,
		Runner:   r,
		Gate:     cfg.Gate,
		Queue:    qc,
		Identity: strings.TrimSpace(cfg.Identity),
		DataRoot: cfg.DataRoot,
		Logger:   log,
	})
	if err != nil {
		return nil, err
	}

	return &Server{
		store:    cfg.Store,
		sched:    sched,
		identity: strings.TrimSpace(cfg.Identity),
		log:      log,
	}, nil
}

// Identity returns the datasite identity this server answers for.
func (s *Server) Identity() string {
	return s.identity
}

// Start launches the scheduler's poll loop.
func (s *Server) Start() error {
	return s.sched.Start()
}

// Stop halts dispatch and waits for running jobs to finish on their own.
func (s *Server) Stop() {
	s.sched.Stop()
}

// Kill halts dispatch and aborts running jobs. Aborted jobs are recorded
// as failed.
func (s *Server) Kill() {
	s.sched.Kill()
}

// InFlight reports how many jobs are currently executing.
func (s *Server) InFlight() int {
	return s.sched.InFlight()
}

// ListPending returns the undecided jobs awaiting this datasite's review,
// newest first.
func (s *Server) ListPending(ctx context.Context) ([]queue.Job, error) {
	return s.sched.ListPending(ctx)
}

// Get loads one job by id.
func (s *Server) Get(ctx context.Context, id string) (*queue.Job, error) {
	return s.store.Get(ctx, id)
}

// List returns jobs matching the filter, newest first.
func (s *Server) List(ctx context.Context, filter store.Filter) ([]queue.Job, error) {
	return s.store.List(ctx, filter)
}

// Approve moves a pending job to approved. The scheduler picks it up on
// the next tick. Deciding a job twice returns ErrInvalidState; losing a
// race for the same edge returns ErrConflict.
func (s *Server) Approve(ctx context.Context, id string) (*queue.Job, error) {
	if err := s.checkDecidable(ctx, "approve", id); err != nil {
		return nil, err
	}
	updated, err := s.store.UpdateStatus(ctx, id, queue.StatusPending, queue.StatusApproved, queue.ApplyDecided(""))
	if err != nil {
		return nil, err
	}
	s.log.Info("job approved", zap.String("job_id", id))
	return updated, nil
}

// Reject moves a pending job to rejected and records why.
func (s *Server) Reject(ctx context.Context, id, reason string) (*queue.Job, error) {
	if err := s.checkDecidable(ctx, "reject", id); err != nil {
		return nil, err
	}
	updated, err := s.store.UpdateStatus(ctx, id, queue.StatusPending, queue.StatusRejected, queue.ApplyDecided(reason))
	if err != nil {
		return nil, err
	}
	s.log.Info("job rejected", zap.String("job_id", id), zap.String("reason", reason))
	return updated, nil
}

// checkDecidable distinguishes a stale caller from a racing one: deciding
// a job that is already past pending returns ErrInvalidState here, while
// a race between this check and the write surfaces as ErrConflict from
// the store.
func (s *Server) checkDecidable(ctx context.Context, op, id string) error {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.TargetIdentity != s.identity {
		return fmt.Errorf("server: %s job for %s as %s: %w", op, job.TargetIdentity, s.identity, ErrWrongTarget)
	}
	if job.Status != queue.StatusPending {
		return fmt.Errorf("server: %s job in status %s: %w", op, job.Status, store.ErrInvalidState)
	}
	return nil
}
