package fs

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/runveil/codeq/pkg/queue"
	"github.com/runveil/codeq/pkg/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewWithFs(afero.NewMemMapFs(), "/data/code-queue")
}

func newTestJob() *queue.Job {
	return queue.NewJob("alice@lab.org", "owner@datasite.org", "/tmp/analysis", "analysis")
}

func TestPutGetRoundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := newTestJob()

	if err := s.Put(ctx, job); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != job.ID {
		t.Fatalf("id = %q, want %q", got.ID, job.ID)
	}
	if got.Status != queue.StatusPending {
		t.Fatalf("status = %q, want pending", got.Status)
	}
	if got.RequesterIdentity != "alice@lab.org" || got.TargetIdentity != "owner@datasite.org" {
		t.Fatalf("identities lost: %+v", got)
	}
	if got.Name != "analysis" {
		t.Fatalf("name = %q, want analysis", got.Name)
	}
}

func TestPutRejectsDuplicateID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := newTestJob()

	if err := s.Put(ctx, job); err != nil {
		t.Fatalf("first Put: %v", err)
	}
	err := s.Put(ctx, job)
	if !store.IsAlreadyExists(err) {
		t.Fatalf("second Put error = %v, want already-exists", err)
	}
}

func TestPutValidatesInput(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, nil); err == nil {
		t.Fatal("nil job accepted")
	}
	if err := s.Put(ctx, &queue.Job{}); err == nil {
		t.Fatal("empty job id accepted")
	}
}

func TestGetUnknownID(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "no-such-job")
	if !store.IsNotFound(err) {
		t.Fatalf("error = %v, want not-found", err)
	}
}

func TestUpdateStatusStampsDecision(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := newTestJob()
	if err := s.Put(ctx, job); err != nil {
		t.Fatalf("Put: %v", err)
	}

	before := job.UpdatedAt
	updated, err := s.UpdateStatus(ctx, job.ID, queue.StatusPending, queue.StatusApproved, queue.ApplyDecided(""))
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if updated.Status != queue.StatusApproved {
		t.Fatalf("status = %q, want approved", updated.Status)
	}
	if updated.DecidedAt == nil {
		t.Fatal("DecidedAt not stamped")
	}
	if !updated.UpdatedAt.After(before) {
		t.Fatalf("UpdatedAt not bumped: %v <= %v", updated.UpdatedAt, before)
	}

	// The write is durable, not just the returned copy.
	got, err := s.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get after update: %v", err)
	}
	if got.Status != queue.StatusApproved {
		t.Fatalf("stored status = %q, want approved", got.Status)
	}
}

func TestUpdateStatusConflictBeatsInvalidEdge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := newTestJob()
	if err := s.Put(ctx, job); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := s.UpdateStatus(ctx, job.ID, queue.StatusPending, queue.StatusRejected, queue.ApplyDecided("not allowed")); err != nil {
		t.Fatalf("reject: %v", err)
	}

	// Stored status is rejected now. A stale caller expecting pending gets a
	// conflict even though pending→completed would also be an illegal edge.
	_, err := s.UpdateStatus(ctx, job.ID, queue.StatusPending, queue.StatusCompleted, nil)
	if !store.IsConflict(err) {
		t.Fatalf("error = %v, want conflict", err)
	}
}

func TestUpdateStatusRejectsIllegalEdge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := newTestJob()
	if err := s.Put(ctx, job); err != nil {
		t.Fatalf("Put: %v", err)
	}

	_, err := s.UpdateStatus(ctx, job.ID, queue.StatusPending, queue.StatusCompleted, nil)
	if !store.IsInvalidState(err) {
		t.Fatalf("error = %v, want invalid-state", err)
	}

	// The record is untouched after the refusal.
	got, err := s.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != queue.StatusPending {
		t.Fatalf("status = %q, want pending", got.Status)
	}
}

func TestUpdateStatusUnknownID(t *testing.T) {
	s := newTestStore(t)

	_, err := s.UpdateStatus(context.Background(), "missing", queue.StatusPending, queue.StatusApproved, nil)
	if !store.IsNotFound(err) {
		t.Fatalf("error = %v, want not-found", err)
	}
}

func TestGetReturnsIndependentCopy(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := newTestJob()
	job.Tags = []string{"stats"}
	if err := s.Put(ctx, job); err != nil {
		t.Fatalf("Put: %v", err)
	}

	first, err := s.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	first.Status = queue.StatusFailed
	first.Tags[0] = "mutated"

	second, err := s.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if second.Status != queue.StatusPending {
		t.Fatalf("stored status mutated through returned pointer: %q", second.Status)
	}
	if second.Tags[0] != "stats" {
		t.Fatalf("stored tags mutated through returned slice: %q", second.Tags[0])
	}
}

func TestListFiltersAndOrders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mk := func(requester string, created time.Time) *queue.Job {
		j := queue.NewJob(requester, "owner@datasite.org", "/tmp/x", "x")
		j.CreatedAt = created
		return j
	}
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	oldest := mk("alice@lab.org", base)
	middle := mk("bob@lab.org", base.Add(time.Hour))
	newest := mk("alice@lab.org", base.Add(2*time.Hour))
	for _, j := range []*queue.Job{oldest, middle, newest} {
		if err := s.Put(ctx, j); err != nil {
			t.Fatalf("Put %s: %v", j.ID, err)
		}
	}

	all, err := s.List(ctx, store.Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	if all[0].ID != newest.ID || all[2].ID != oldest.ID {
		t.Fatalf("order not newest-first: %s, %s, %s", all[0].ID, all[1].ID, all[2].ID)
	}

	alice, err := s.List(ctx, store.Filter{RequesterIdentity: "alice@lab.org"})
	if err != nil {
		t.Fatalf("List filtered: %v", err)
	}
	if len(alice) != 2 {
		t.Fatalf("filtered len = %d, want 2", len(alice))
	}

	limited, err := s.List(ctx, store.Filter{Limit: 1})
	if err != nil {
		t.Fatalf("List limited: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != newest.ID {
		t.Fatalf("limit did not keep newest: %+v", limited)
	}
}

func TestListSkipsForeignEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := newTestJob()
	if err := s.Put(ctx, job); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Stray file and a directory without a record, as left by a syncing
	// client mid-transfer.
	if err := afero.WriteFile(s.Fs(), "/data/code-queue/notes.txt", []byte("hi"), 0o644); err != nil {
		t.Fatalf("write stray file: %v", err)
	}
	if err := s.Fs().MkdirAll("/data/code-queue/half-synced/code", 0o755); err != nil {
		t.Fatalf("make foreign dir: %v", err)
	}

	jobs, err := s.List(ctx, store.Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != job.ID {
		t.Fatalf("List = %+v, want only the real job", jobs)
	}
}

func TestListEmptyRoot(t *testing.T) {
	s := newTestStore(t)

	jobs, err := s.List(context.Background(), store.Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("len = %d, want 0", len(jobs))
	}
}

func TestDeleteRemovesJobDir(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := newTestJob()
	if err := s.Put(ctx, job); err != nil {
		t.Fatalf("Put: %v", err)
	}
	codeFile := queue.CodeDir("/data/code-queue", job.ID) + "/run.sh"
	if err := afero.WriteFile(s.Fs(), codeFile, []byte("echo hi\n"), 0o755); err != nil {
		t.Fatalf("stage payload: %v", err)
	}

	if err := s.Delete(ctx, job.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := s.Get(ctx, job.ID); !store.IsNotFound(err) {
		t.Fatalf("record survives delete: %v", err)
	}
	if exists, _ := afero.Exists(s.Fs(), codeFile); exists {
		t.Fatal("payload survives delete")
	}
	if exists, _ := afero.DirExists(s.Fs(), queue.JobDir("/data/code-queue", job.ID)); exists {
		t.Fatal("job dir survives delete")
	}
}

func TestDeleteUnknownID(t *testing.T) {
	s := newTestStore(t)

	err := s.Delete(context.Background(), "missing")
	if !store.IsNotFound(err) {
		t.Fatalf("error = %v, want not-found", err)
	}
}
