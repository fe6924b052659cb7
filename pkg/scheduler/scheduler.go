// Package scheduler drives approved jobs through execution.
//
// The scheduler owns the owner-side poll loop: each tick it asks the
// configured gate to decide pending jobs addressed to this datasite, then
// admits approved jobs oldest-first as long as execution slots are free.
// Every admitted job runs on its own goroutine; a counting semaphore caps
// how many run at once.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/runveil/codeq/pkg/gate"
	"github.com/runveil/codeq/pkg/queue"
	"github.com/runveil/codeq/pkg/runner"
	"github.com/runveil/codeq/pkg/store"
)

// finalizeTimeout bounds the terminal-status write after a job finishes.
// The write uses its own context so a stopped scheduler still records the
// outcome of jobs it waited for.
const finalizeTimeout = 30 * time.Second

// Config configures a Scheduler.
type Config struct {
	// Store holds the job records this scheduler polls.
	Store store.Store

	// Runner executes approved jobs.
	Runner runner.Runner

	// Gate decides pending jobs. Nil means gate.Manual(): nothing is
	// decided automatically and every job waits for an explicit call.
	Gate gate.Gate

	// Queue carries the tuning knobs (concurrency, poll interval, rate).
	Queue queue.Config

	// Identity is the datasite this scheduler serves. Only jobs whose
	// target matches are decided or dispatched. Empty means all jobs in
	// the store, for single-tenant deployments.
	Identity string

	// DataRoot is the payload root used to stamp output and log
	// locations when a job starts.
	DataRoot string

	// Logger receives scheduler events. Nil means no logging.
	Logger *zap.Logger
}

// Scheduler polls a store and dispatches approved jobs under a concurrency
// bound.
//
// Scheduler is safe for single use only: Start once, then Stop or Kill.
type Scheduler struct {
	store    store.Store
	runner   runner.Runner
	gate     gate.Gate
	cfg      queue.Config
	identity string
	dataRoot string
	log      *zap.Logger

	// Rate limiter for dispatch pacing (nil if unlimited).
	limiter *rate.Limiter

	// Counting semaphore; one slot per concurrent execution.
	sem chan struct{}

	mu      sync.Mutex
	started bool

	loopCancel context.CancelFunc
	loopDone   chan struct{}

	// execCtx is cancelled by Kill to abort in-flight executions.
	execCtx    context.Context
	execCancel context.CancelFunc
	execWG     sync.WaitGroup
}

// New creates a scheduler. The queue config is defaulted and validated.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Store == nil {
		return nil, errors.New("scheduler: store is required")
	}
	if cfg.Runner == nil {
		return nil, errors.New("scheduler: runner is required")
	}
	if cfg.DataRoot == "" {
		return nil, errors.New("scheduler: data root is required")
	}

	qc := cfg.Queue.WithDefaults()
	if err := qc.Validate(); err != nil {
		return nil, err
	}

	g := cfg.Gate
	if g == nil {
		g = gate.Manual()
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	s := &Scheduler{
		store:    cfg.Store,
		runner:   cfg.Runner,
		gate:     g,
		cfg:      qc,
		identity: cfg.Identity,
		dataRoot: cfg.DataRoot,
		log:      log,
		sem:      make(chan struct{}, qc.MaxConcurrentJobs),
	}
	if qc.DispatchRateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(qc.DispatchRateLimit), 1)
	}
	return s, nil
}

// Start launches the poll loop. It returns an error if the scheduler has
// already been started.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler: already started")
	}
	s.started = true

	loopCtx, loopCancel := context.WithCancel(context.Background())
	s.loopCancel = loopCancel
	s.loopDone = make(chan struct{})
	s.execCtx, s.execCancel = context.WithCancel(context.Background())

	go s.loop(loopCtx)
	return nil
}

// Stop halts dispatch and waits for in-flight executions to finish on
// their own. It never kills a running job. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.shutdown(false)
}

// Kill halts dispatch and aborts in-flight executions by cancelling their
// context. Aborted jobs are recorded as failed.
func (s *Scheduler) Kill() {
	s.shutdown(true)
}

func (s *Scheduler) shutdown(abort bool) {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return
	}

	s.loopCancel()
	<-s.loopDone
	if abort {
		s.execCancel()
	}
	s.execWG.Wait()
}

// ListPending returns the undecided jobs addressed to this scheduler's
// identity, newest first.
func (s *Scheduler) ListPending(ctx context.Context) ([]queue.Job, error) {
	return s.store.List(ctx, store.Filter{
		Status:         queue.StatusPending,
		TargetIdentity: s.identity,
	})
}

// InFlight reports how many execution slots are currently held.
func (s *Scheduler) InFlight() int {
	return len(s.sem)
}

// loop ticks immediately on start, then every poll interval.
func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.loopDone)

	s.log.Info("scheduler started",
		zap.String("queue", s.cfg.QueueName),
		zap.String("identity", s.identity),
		zap.Int("max_concurrent", cap(s.sem)),
		zap.Duration("poll_interval", s.cfg.PollInterval))

	t := time.NewTicker(s.cfg.PollInterval)
	defer t.Stop()

	for {
		s.tick(ctx)
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopping", zap.Int("in_flight", s.InFlight()))
			return
		case <-t.C:
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if err := s.decidePending(ctx); err != nil && ctx.Err() == nil {
		s.log.Warn("decide pending jobs", zap.Error(err))
	}
	if err := s.dispatchApproved(ctx); err != nil && ctx.Err() == nil {
		s.log.Warn("dispatch approved jobs", zap.Error(err))
	}
}

// decidePending offers each undecided job to the gate and records the
// decision. Jobs the gate declines to decide stay pending.
func (s *Scheduler) decidePending(ctx context.Context) error {
	jobs, err := s.ListPending(ctx)
	if err != nil {
		return err
	}

	for i := range jobs {
		if ctx.Err() != nil {
			return nil
		}
		job := jobs[i]

		decision, decided := s.gate.Decide(ctx, job)
		if !decided {
			continue
		}

		to := queue.StatusApproved
		if !decision.Approve {
			to = queue.StatusRejected
		}
		reason := ""
		if !decision.Approve {
			reason = decision.Reason
		}

		_, err := s.store.UpdateStatus(ctx, job.ID, queue.StatusPending, to, queue.ApplyDecided(reason))
		switch {
		case err == nil:
			s.log.Info("job decided",
				zap.String("job_id", job.ID),
				zap.String("status", to.String()),
				zap.String("reason", reason))
		case store.IsConflict(err) || store.IsNotFound(err):
			// Decided or removed elsewhere between list and write.
		default:
			s.log.Warn("record decision", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	return nil
}

// dispatchApproved admits approved jobs oldest-first while slots are free.
// Jobs that do not fit this tick stay approved and are reconsidered next
// tick.
func (s *Scheduler) dispatchApproved(ctx context.Context) error {
	jobs, err := s.store.List(ctx, store.Filter{
		Status:         queue.StatusApproved,
		TargetIdentity: s.identity,
	})
	if err != nil {
		return err
	}

	// List returns newest first; admission is FIFO on submission time.
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})

	for i := range jobs {
		if ctx.Err() != nil {
			return nil
		}
		job := jobs[i]

		select {
		case s.sem <- struct{}{}:
		default:
			// All slots held; nothing else can start this tick.
			return nil
		}

		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				<-s.sem
				return nil
			}
		}

		started, err := s.markRunning(ctx, job.ID)
		if err != nil {
			<-s.sem
			if store.IsConflict(err) || store.IsNotFound(err) {
				// Cancelled or claimed elsewhere between list and write.
				continue
			}
			s.log.Warn("mark job running", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}

		s.execWG.Add(1)
		go s.run(*started)
	}
	return nil
}

// markRunning claims an approved job by moving it to running and stamping
// where its output and logs will land.
func (s *Scheduler) markRunning(ctx context.Context, id string) (*queue.Job, error) {
	outputDir := queue.OutputDir(s.dataRoot, id)
	logsPath := queue.LogsPath(s.dataRoot, id)
	return s.store.UpdateStatus(ctx, id, queue.StatusApproved, queue.StatusRunning,
		queue.ApplyStarted(outputDir, logsPath))
}

// run executes one job and records its terminal status. It owns one
// semaphore slot and releases it on return.
func (s *Scheduler) run(job queue.Job) {
	defer func() {
		<-s.sem
		s.execWG.Done()
	}()

	s.log.Info("job started",
		zap.String("job_id", job.ID),
		zap.String("name", job.Name),
		zap.String("requester", job.RequesterIdentity))

	out := s.execute(job)
	s.finalize(job, out)
}

// execute isolates runner panics so a fault inside one job becomes a
// failed outcome instead of taking the process down with a slot held.
func (s *Scheduler) execute(job queue.Job) (out runner.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = runner.Outcome{
				Status: queue.StatusFailed,
				Detail: fmt.Sprintf("execution panicked: %v", r),
			}
		}
	}()
	return s.runner.Execute(s.execCtx, job)
}

// finalize writes the terminal status. It uses its own context: the poll
// loop may already be stopped when a waited-for job finishes.
func (s *Scheduler) finalize(job queue.Job, out runner.Outcome) {
	to := out.Status
	if !queue.CanTransition(queue.StatusRunning, to) {
		to = queue.StatusFailed
	}

	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	updated, err := s.store.UpdateStatus(ctx, job.ID, queue.StatusRunning, to,
		queue.ApplyFinished(out.ExitCode, out.Detail))
	if err != nil {
		s.log.Error("record terminal status",
			zap.String("job_id", job.ID),
			zap.String("status", to.String()),
			zap.Error(err))
		return
	}

	s.log.Info("job finished",
		zap.String("job_id", job.ID),
		zap.String("status", updated.Status.String()),
		zap.Duration("duration", updated.Duration()),
		zap.Bool("timed_out", out.TimedOut))
}
