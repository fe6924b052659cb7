package queue

import (
	"testing"
	"time"
)

func TestNewJob(t *testing.T) {
	j := NewJob("  alice@a.org ", " bob@b.org", "/tmp/code", "  stats ")

	if j.ID == "" {
		t.Fatal("id not assigned")
	}
	if j.RequesterIdentity != "alice@a.org" {
		t.Fatalf("requester = %q", j.RequesterIdentity)
	}
	if j.TargetIdentity != "bob@b.org" {
		t.Fatalf("target = %q", j.TargetIdentity)
	}
	if j.Name != "stats" {
		t.Fatalf("name = %q", j.Name)
	}
	if j.CodeLocation != "/tmp/code" {
		t.Fatalf("code location = %q", j.CodeLocation)
	}
	if j.Status != StatusPending {
		t.Fatalf("status = %q, want pending", j.Status)
	}
	if j.CreatedAt.IsZero() || j.UpdatedAt.IsZero() {
		t.Fatal("timestamps not set")
	}
	if j.CreatedAt.Location() != time.UTC {
		t.Fatalf("created_at not UTC: %v", j.CreatedAt.Location())
	}

	other := NewJob("alice@a.org", "bob@b.org", "/tmp/code", "stats")
	if other.ID == j.ID {
		t.Fatal("ids must be unique per job")
	}
}

func TestJobTouch(t *testing.T) {
	j := NewJob("a", "b", "/c", "n")
	before := j.UpdatedAt
	time.Sleep(time.Millisecond)
	j.Touch()
	if !j.UpdatedAt.After(before) {
		t.Fatalf("Touch did not advance updated_at: %v -> %v", before, j.UpdatedAt)
	}
}

func TestJobDuration(t *testing.T) {
	j := NewJob("a", "b", "/c", "n")
	if j.Duration() != 0 {
		t.Fatalf("duration before start = %v, want 0", j.Duration())
	}

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)
	j.StartedAt = &start
	if j.Duration() != 0 {
		t.Fatalf("duration before finish = %v, want 0", j.Duration())
	}
	j.FinishedAt = &end
	if j.Duration() != 90*time.Second {
		t.Fatalf("duration = %v, want 90s", j.Duration())
	}
}

func TestJobTerminalAt(t *testing.T) {
	decided := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	finished := decided.Add(time.Minute)

	live := NewJob("a", "b", "/c", "n")
	if live.TerminalAt() != nil {
		t.Fatal("live job reported a terminal time")
	}

	completed := NewJob("a", "b", "/c", "n")
	completed.Status = StatusCompleted
	completed.DecidedAt = &decided
	completed.FinishedAt = &finished
	if got := completed.TerminalAt(); got == nil || !got.Equal(finished) {
		t.Fatalf("completed TerminalAt = %v, want %v", got, finished)
	}

	rejected := NewJob("a", "b", "/c", "n")
	rejected.Status = StatusRejected
	rejected.DecidedAt = &decided
	if got := rejected.TerminalAt(); got == nil || !got.Equal(decided) {
		t.Fatalf("rejected TerminalAt = %v, want %v", got, decided)
	}

	// Cancelled jobs stamp neither edge; updated_at is the fallback.
	cancelled := NewJob("a", "b", "/c", "n")
	cancelled.Status = StatusCancelled
	if got := cancelled.TerminalAt(); got == nil || !got.Equal(cancelled.UpdatedAt) {
		t.Fatalf("cancelled TerminalAt = %v, want updated_at %v", got, cancelled.UpdatedAt)
	}
}

func TestJobExpired(t *testing.T) {
	now := time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC)
	old := now.Add(-200 * time.Hour)

	running := NewJob("a", "b", "/c", "n")
	running.Status = StatusRunning
	running.UpdatedAt = old
	if running.Expired(168*time.Hour, now) {
		t.Fatal("live job must never expire")
	}

	done := NewJob("a", "b", "/c", "n")
	done.Status = StatusCompleted
	done.FinishedAt = &old
	if !done.Expired(168*time.Hour, now) {
		t.Fatal("job finished 200h ago should be expired at 168h")
	}
	if done.Expired(300*time.Hour, now) {
		t.Fatal("job finished 200h ago should survive 300h retention")
	}
}

func TestJobClone(t *testing.T) {
	code := 2
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	j := NewJob("a", "b", "/c", "n")
	j.Tags = []string{"x", "y"}
	j.DecidedAt = &ts
	j.StartedAt = &ts
	j.FinishedAt = &ts
	j.ExitCode = &code

	c := j.Clone()
	if c == j {
		t.Fatal("Clone returned the same pointer")
	}

	c.Tags[0] = "mutated"
	*c.DecidedAt = ts.Add(time.Hour)
	*c.ExitCode = 42

	if j.Tags[0] != "x" {
		t.Fatal("clone shares the tags slice")
	}
	if !j.DecidedAt.Equal(ts) {
		t.Fatal("clone shares the decided_at pointer")
	}
	if *j.ExitCode != 2 {
		t.Fatal("clone shares the exit code pointer")
	}

	var nilJob *Job
	if nilJob.Clone() != nil {
		t.Fatal("Clone of nil should be nil")
	}
}
