// Package fs implements the job store on a directory tree.
package fs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/afero"

	"github.com/runveil/codeq/pkg/queue"
	"github.com/runveil/codeq/pkg/store"
)

const backendName = "fs"

// Store persists one record per job directory:
//
//	<root>/<job_id>/job.json
//
// Record writes go through a temp file + rename so a reader on the same
// medium never observes a torn record. A per-id mutex table serializes
// UpdateStatus within the process; across processes the two mailbox sides
// own disjoint lifecycle edges, so rename atomicity is sufficient.
//
// Root is typically the queue's data dir; payload directories (code/,
// output/, logs/) live next to job.json per the queue layout.
type Store struct {
	fs   afero.Fs
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

var _ store.Store = (*Store)(nil)

// New creates a store rooted at root on the host filesystem.
func New(root string) *Store {
	return NewWithFs(afero.NewOsFs(), root)
}

// NewWithFs creates a store on the given filesystem. Tests run on an
// in-memory afero.Fs.
func NewWithFs(fsys afero.Fs, root string) *Store {
	return &Store{
		fs:    fsys,
		root:  strings.TrimSpace(root),
		locks: make(map[string]*sync.Mutex),
	}
}

// RootDir returns the store root.
func (s *Store) RootDir() string {
	return s.root
}

// Fs exposes the underlying filesystem so collaborators (client staging,
// retention tooling) operate on the same medium.
func (s *Store) Fs() afero.Fs {
	return s.fs
}

func (s *Store) lock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *Store) ensureRoot() error {
	if s.root == "" {
		return fmt.Errorf("store root dir is empty")
	}
	return s.fs.MkdirAll(s.root, 0o755)
}

// Put creates the record for a new job.
func (s *Store) Put(ctx context.Context, job *queue.Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	id := strings.TrimSpace(job.ID)
	if id == "" {
		return fmt.Errorf("job id is required")
	}
	l := s.lock(id)
	l.Lock()
	defer l.Unlock()

	return store.Retry(ctx, func() error {
		if err := s.ensureRoot(); err != nil {
			return s.wrap("Put", id, err)
		}
		exists, err := afero.Exists(s.fs, queue.RecordPath(s.root, id))
		if err != nil {
			return s.wrap("Put", id, err)
		}
		if exists {
			return s.wrap("Put", id, store.ErrAlreadyExists)
		}
		if err := s.write(job); err != nil {
			return s.wrap("Put", id, err)
		}
		return nil
	})
}

// Get loads one record by id.
func (s *Store) Get(ctx context.Context, id string) (*queue.Job, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("job id is required")
	}
	var job *queue.Job
	err := store.Retry(ctx, func() error {
		j, err := s.read(id)
		if err != nil {
			return s.wrap("Get", id, err)
		}
		job = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// UpdateStatus performs the atomic per-id read-modify-write described by the
// store contract.
func (s *Store) UpdateStatus(ctx context.Context, id string, from, to queue.Status, apply func(*queue.Job)) (*queue.Job, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("job id is required")
	}
	l := s.lock(id)
	l.Lock()
	defer l.Unlock()

	var updated *queue.Job
	err := store.Retry(ctx, func() error {
		cur, err := s.read(id)
		if err != nil {
			return s.wrap("UpdateStatus", id, err)
		}
		if cur.Status != from {
			return s.wrap("UpdateStatus", id, store.ErrConflict)
		}
		if !queue.CanTransition(from, to) {
			return s.wrap("UpdateStatus", id, store.ErrInvalidState)
		}
		next := cur.Clone()
		next.Status = to
		if apply != nil {
			apply(next)
		}
		next.Touch()
		if err := s.write(next); err != nil {
			return s.wrap("UpdateStatus", id, err)
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// List returns records matching the filter, newest first.
func (s *Store) List(ctx context.Context, filter store.Filter) ([]queue.Job, error) {
	if err := s.ensureRoot(); err != nil {
		return nil, s.wrap("List", "", err)
	}
	entries, err := afero.ReadDir(s.fs, s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, s.wrap("List", "", err)
	}

	jobs := make([]queue.Job, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		j, err := s.read(entry.Name())
		if err != nil {
			// Half-synced or foreign directories are skipped, not fatal.
			continue
		}
		jobs = append(jobs, *j)
	}
	return filter.Apply(jobs), nil
}

// Delete removes the job directory, payloads included. Retention tooling
// only; the lifecycle engine never calls it.
func (s *Store) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("job id is required")
	}
	l := s.lock(id)
	l.Lock()
	defer l.Unlock()

	exists, err := afero.Exists(s.fs, queue.RecordPath(s.root, id))
	if err != nil {
		return s.wrap("Delete", id, err)
	}
	if !exists {
		return s.wrap("Delete", id, store.ErrNotFound)
	}
	if err := s.fs.RemoveAll(queue.JobDir(s.root, id)); err != nil {
		return s.wrap("Delete", id, err)
	}
	return nil
}

func (s *Store) read(id string) (*queue.Job, error) {
	b, err := afero.ReadFile(s.fs, queue.RecordPath(s.root, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, store.ErrNotFound
		}
		return nil, classify(err)
	}
	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return nil, fmt.Errorf("job.json is empty")
	}
	var job queue.Job
	if err := json.Unmarshal([]byte(trimmed), &job); err != nil {
		return nil, fmt.Errorf("parse job.json: %w", err)
	}
	return &job, nil
}

func (s *Store) write(job *queue.Job) error {
	jobDir := queue.JobDir(s.root, job.ID)
	if err := s.fs.MkdirAll(jobDir, 0o755); err != nil {
		return fmt.Errorf("create job dir: %w", classify(err))
	}

	b, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}
	b = append(b, '\n')

	tmp, err := afero.TempFile(s.fs, jobDir, "job.json.tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", classify(err))
	}
	tmpName := tmp.Name()
	defer func() { _ = s.fs.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp job file: %w", classify(err))
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp job file: %w", classify(err))
	}

	if err := s.fs.Rename(tmpName, queue.RecordPath(s.root, job.ID)); err != nil {
		return fmt.Errorf("rename job file: %w", classify(err))
	}
	return nil
}

func (s *Store) wrap(op, id string, err error) error {
	var se *store.StoreError
	if errors.As(err, &se) {
		return err
	}
	return &store.StoreError{Op: op, Backend: backendName, ID: id, Err: err}
}

// classify maps busy/interrupted syscall failures to the transient class so
// the retry budget applies. Synced mailbox roots are often network mounts.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, code := range []syscall.Errno{syscall.EAGAIN, syscall.EBUSY, syscall.EINTR} {
		if errors.Is(err, code) {
			return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
		}
	}
	return err
}
