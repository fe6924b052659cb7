package queue

import (
	"testing"
	"time"
)

func TestStatusValid(t *testing.T) {
	for _, s := range Statuses() {
		if !s.Valid() {
			t.Fatalf("status %q should be valid", s)
		}
	}
	for _, s := range []Status{"", "unknown", "PENDING", "done"} {
		if s.Valid() {
			t.Fatalf("status %q should be invalid", s)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusPending, false},
		{StatusApproved, false},
		{StatusRunning, false},
		{StatusRejected, true},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusCancelled, true},
		{"unknown", false},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.terminal {
			t.Fatalf("Terminal(%q) = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

func TestCanTransition(t *testing.T) {
	allowed := []struct {
		from, to Status
	}{
		{StatusPending, StatusApproved},
		{StatusPending, StatusRejected},
		{StatusPending, StatusCancelled},
		{StatusApproved, StatusRunning},
		{StatusApproved, StatusCancelled},
		{StatusRunning, StatusCompleted},
		{StatusRunning, StatusFailed},
	}
	for _, tt := range allowed {
		if !CanTransition(tt.from, tt.to) {
			t.Fatalf("CanTransition(%q, %q) = false, want true", tt.from, tt.to)
		}
	}

	refused := []struct {
		from, to Status
	}{
		{StatusPending, StatusRunning},
		{StatusPending, StatusCompleted},
		{StatusApproved, StatusRejected},
		{StatusApproved, StatusCompleted},
		{StatusRunning, StatusCancelled},
		{StatusRunning, StatusPending},
		{StatusRejected, StatusApproved},
		{StatusCompleted, StatusRunning},
		{StatusFailed, StatusPending},
		{StatusCancelled, StatusApproved},
		{StatusPending, StatusPending},
		{"unknown", StatusApproved},
		{StatusPending, "unknown"},
	}
	for _, tt := range refused {
		if CanTransition(tt.from, tt.to) {
			t.Fatalf("CanTransition(%q, %q) = true, want false", tt.from, tt.to)
		}
	}
}

func TestTerminalStatusesAdmitNoEdges(t *testing.T) {
	for _, from := range Statuses() {
		if !from.Terminal() {
			continue
		}
		for _, to := range Statuses() {
			if CanTransition(from, to) {
				t.Fatalf("terminal status %q permits transition to %q", from, to)
			}
		}
	}
}

func TestApplyDecided(t *testing.T) {
	j := NewJob("alice@a.org", "bob@b.org", "/code", "job")

	ApplyDecided("")(j)
	if j.DecidedAt == nil {
		t.Fatal("DecidedAt not stamped")
	}
	if j.RejectionReason != "" {
		t.Fatalf("unexpected rejection reason %q on approval", j.RejectionReason)
	}

	j2 := NewJob("alice@a.org", "bob@b.org", "/code", "job")
	ApplyDecided("schema drift")(j2)
	if j2.DecidedAt == nil {
		t.Fatal("DecidedAt not stamped")
	}
	if j2.RejectionReason != "schema drift" {
		t.Fatalf("rejection reason = %q, want %q", j2.RejectionReason, "schema drift")
	}
}

func TestApplyStarted(t *testing.T) {
	j := NewJob("alice@a.org", "bob@b.org", "/code", "job")

	ApplyStarted("/data/id/output", "/data/id/logs/run.log")(j)
	if j.StartedAt == nil {
		t.Fatal("StartedAt not stamped")
	}
	if j.OutputLocation != "/data/id/output" {
		t.Fatalf("output location = %q", j.OutputLocation)
	}
	if j.LogsLocation != "/data/id/logs/run.log" {
		t.Fatalf("logs location = %q", j.LogsLocation)
	}
}

func TestApplyFinished(t *testing.T) {
	code := 3
	j := NewJob("alice@a.org", "bob@b.org", "/code", "job")

	ApplyFinished(&code, "entry script exited with code 3")(j)
	if j.FinishedAt == nil {
		t.Fatal("FinishedAt not stamped")
	}
	if j.ExitCode == nil || *j.ExitCode != 3 {
		t.Fatalf("exit code = %v, want 3", j.ExitCode)
	}
	if j.ErrorDetail != "entry script exited with code 3" {
		t.Fatalf("error detail = %q", j.ErrorDetail)
	}

	// The stamped exit code is a copy, not the caller's pointer.
	code = 99
	if *j.ExitCode != 3 {
		t.Fatalf("exit code aliases caller pointer: %d", *j.ExitCode)
	}

	j2 := NewJob("alice@a.org", "bob@b.org", "/code", "job")
	ApplyFinished(nil, "")(j2)
	if j2.FinishedAt == nil {
		t.Fatal("FinishedAt not stamped")
	}
	if j2.ExitCode != nil {
		t.Fatalf("exit code = %v, want nil", j2.ExitCode)
	}
}

func TestApplyStampsUTC(t *testing.T) {
	j := NewJob("alice@a.org", "bob@b.org", "/code", "job")
	ApplyDecided("")(j)
	ApplyStarted("/o", "/l")(j)
	ApplyFinished(nil, "")(j)

	for name, ts := range map[string]*time.Time{
		"decided_at":  j.DecidedAt,
		"started_at":  j.StartedAt,
		"finished_at": j.FinishedAt,
	} {
		if ts.Location() != time.UTC {
			t.Fatalf("%s not stamped in UTC: %v", name, ts.Location())
		}
	}
}
