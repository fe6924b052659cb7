// Package client is the requester-side facade: submit a code folder to a
// remote datasite's queue, then follow the job by id.
//
// The client never executes anything. It stages payloads, creates records,
// and reads the record, logs, and output the owner side produces.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/runveil/codeq/pkg/queue"
	"github.com/runveil/codeq/pkg/store"
)

// Config configures a Client.
type Config struct {
	// Store holds the job records shared with the owner side.
	Store store.Store

	// Fs is the filesystem payloads are staged on. Nil means the host
	// filesystem. Tests use an in-memory afero.Fs.
	Fs afero.Fs

	// DataRoot is the queue payload root; submitted code is staged under
	// <DataRoot>/<job_id>/code.
	DataRoot string

	// Identity names this requester and is stamped on every submission.
	Identity string

	// Queue carries the entry-script convention used for the submit-time
	// package check.
	Queue queue.Config

	// Logger receives client events. Nil means no logging.
	Logger *zap.Logger
}

// Client submits and follows jobs for one requester identity.
type Client struct {
	store    store.Store
	fs       afero.Fs
	dataRoot string
	identity string
	entry    string
	log      *zap.Logger
}

// New creates a client.
func New(cfg Config) (*Client, error) {
	if cfg.Store == nil {
		return nil, errors.New("client: store is required")
	}
	if strings.TrimSpace(cfg.DataRoot) == "" {
		return nil, errors.New("client: data root is required")
	}
	if strings.TrimSpace(cfg.Identity) == "" {
		return nil, errors.New("client: requester identity is required")
	}

	qc := cfg.Queue.WithDefaults()
	fsys := cfg.Fs
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Client{
		store:    cfg.Store,
		fs:       fsys,
		dataRoot: strings.TrimSpace(cfg.DataRoot),
		identity: strings.TrimSpace(cfg.Identity),
		entry:    qc.EntryScript,
		log:      log,
	}, nil
}

// Identity returns the requester identity stamped on submissions.
func (c *Client) Identity() string {
	return c.identity
}

// SubmitRequest describes one submission.
type SubmitRequest struct {
	// TargetIdentity is the owner datasite asked to run the code.
	TargetIdentity string

	// CodeLocation is the local folder to stage. It must contain the
	// queue's entry script to execute successfully; a package missing it
	// is still accepted and fails at execution time.
	CodeLocation string

	// Name labels the job. Empty defaults to the code folder's name.
	Name string

	Description string
	Tags        []string
}

// Submit stages the code folder into the queue and creates a pending job.
//
// The staged copy is private to the job, so later edits to the source
// folder do not change what runs. A missing entry script is reported in
// the log but does not fail submission; the job fails when executed.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*queue.Job, error) {
	target := strings.TrimSpace(req.TargetIdentity)
	if target == "" {
		return nil, errors.New("client: target identity is required")
	}
	src := strings.TrimSpace(req.CodeLocation)
	if src == "" {
		return nil, errors.New("client: code location is required")
	}

	info, err := c.fs.Stat(src)
	if err != nil {
		return nil, fmt.Errorf("client: read code location: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("client: code location %s is not a directory", src)
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = filepath.Base(src)
	}

	job := queue.NewJob(c.identity, target, src, name)
	job.Description = strings.TrimSpace(req.Description)
	job.Tags = append([]string(nil), req.Tags...)

	staged := queue.CodeDir(c.dataRoot, job.ID)
	if err := c.stage(src, staged); err != nil {
		_ = c.fs.RemoveAll(queue.JobDir(c.dataRoot, job.ID))
		return nil, fmt.Errorf("client: stage code: %w", err)
	}
	job.CodeLocation = staged

	if ok, _ := afero.Exists(c.fs, filepath.Join(staged, c.entry)); !ok {
		c.log.Warn("submitted package has no entry script",
			zap.String("job_id", job.ID),
			zap.String("entry", c.entry))
	}

	if err := c.store.Put(ctx, job); err != nil {
		_ = c.fs.RemoveAll(queue.JobDir(c.dataRoot, job.ID))
		return nil, err
	}

	c.log.Info("job submitted",
		zap.String("job_id", job.ID),
		zap.String("name", job.Name),
		zap.String("target", target))
	return job, nil
}

// stage copies the code folder file by file. Relative paths are resolved
// and checked so a crafted tree cannot escape the staging directory.
func (c *Client) stage(src, dst string) error {
	if err := c.fs.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	return afero.Walk(c.fs, src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return fmt.Errorf("path %s escapes code folder", path)
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return c.fs.MkdirAll(target, info.Mode().Perm()|0o700)
		}
		return c.copyFile(path, target, info.Mode().Perm())
	})
}

func (c *Client) copyFile(src, dst string, perm os.FileMode) error {
	in, err := c.fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := c.fs.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// Get loads one job by id.
func (c *Client) Get(ctx context.Context, id string) (*queue.Job, error) {
	return c.store.Get(ctx, id)
}

// List returns jobs matching the filter, newest first.
func (c *Client) List(ctx context.Context, filter store.Filter) ([]queue.Job, error) {
	return c.store.List(ctx, filter)
}

// Output returns the job's output directory, or "" while the job has not
// started and no output location exists yet.
func (c *Client) Output(ctx context.Context, id string) (string, error) {
	job, err := c.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return job.OutputLocation, nil
}

// Logs returns the combined stdout and stderr captured so far. A job that
// has not started yet has empty logs.
func (c *Client) Logs(ctx context.Context, id string) (string, error) {
	job, err := c.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if job.LogsLocation == "" {
		return "", nil
	}
	b, err := afero.ReadFile(c.fs, job.LogsLocation)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("client: read logs: %w", err)
	}
	return string(b), nil
}

// Cancel withdraws a job that has not started. Only pending and approved
// jobs are cancellable; anything later returns ErrInvalidState. A cancel
// racing the owner's dispatch loses with ErrConflict and the job runs.
func (c *Client) Cancel(ctx context.Context, id string) (*queue.Job, error) {
	job, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !queue.CanTransition(job.Status, queue.StatusCancelled) {
		return nil, fmt.Errorf("client: cancel job in status %s: %w", job.Status, store.ErrInvalidState)
	}

	updated, err := c.store.UpdateStatus(ctx, id, job.Status, queue.StatusCancelled, nil)
	if err != nil {
		return nil, err
	}
	c.log.Info("job cancelled", zap.String("job_id", id))
	return updated, nil
}
