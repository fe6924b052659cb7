package runner

import (
	"bytes"
	"strings"
	"testing"
)

func TestCappedWriterUnderLimit(t *testing.T) {
	var sink bytes.Buffer
	cw := newCappedWriter(&sink, 100)

	n, err := cw.Write([]byte("hello"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != 5 {
		t.Fatalf("n = %d, want 5", n)
	}
	if sink.String() != "hello" {
		t.Fatalf("sink = %q", sink.String())
	}
	if cw.Dropped() != 0 {
		t.Fatalf("Dropped = %d, want 0", cw.Dropped())
	}
}

func TestCappedWriterSplitsAtLimit(t *testing.T) {
	var sink bytes.Buffer
	cw := newCappedWriter(&sink, 5)

	n, err := cw.Write([]byte("hello world"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != 11 {
		t.Fatalf("n = %d, want 11 (caller sees a full write)", n)
	}
	if sink.String() != "hello" {
		t.Fatalf("sink = %q, want %q", sink.String(), "hello")
	}
	if cw.Dropped() != 6 {
		t.Fatalf("Dropped = %d, want 6", cw.Dropped())
	}

	// Everything after the limit is discarded but still acknowledged.
	n, err = cw.Write([]byte("more"))
	if err != nil || n != 4 {
		t.Fatalf("post-limit write = (%d, %v), want (4, nil)", n, err)
	}
	if sink.String() != "hello" {
		t.Fatalf("sink grew past limit: %q", sink.String())
	}
	if cw.Dropped() != 10 {
		t.Fatalf("Dropped = %d, want 10", cw.Dropped())
	}
}

func TestCappedWriterUnlimited(t *testing.T) {
	var sink bytes.Buffer
	cw := newCappedWriter(&sink, 0)

	payload := strings.Repeat("x", 1<<16)
	if _, err := cw.Write([]byte(payload)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if sink.Len() != len(payload) {
		t.Fatalf("sink len = %d, want %d", sink.Len(), len(payload))
	}
	if cw.Dropped() != 0 {
		t.Fatalf("Dropped = %d, want 0", cw.Dropped())
	}
}
