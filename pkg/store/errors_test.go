package store

import (
	"errors"
	"fmt"
	"testing"
)

func TestStoreErrorFormat(t *testing.T) {
	withID := &StoreError{Op: "Put", Backend: "fs", ID: "7c2e", Err: ErrAlreadyExists}
	if got, want := withID.Error(), "fs Put: 7c2e: job already exists"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}

	withoutID := &StoreError{Op: "List", Backend: "s3", Err: ErrUnavailable}
	if got, want := withoutID.Error(), "s3 List: store unavailable"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestStoreErrorUnwrap(t *testing.T) {
	err := &StoreError{Op: "Get", Backend: "fs", ID: "x", Err: ErrNotFound}
	if !errors.Is(err, ErrNotFound) {
		t.Fatal("errors.Is should see the wrapped sentinel")
	}
	if errors.Is(err, ErrConflict) {
		t.Fatal("errors.Is matched the wrong sentinel")
	}
}

func TestClassifiers(t *testing.T) {
	cases := []struct {
		name     string
		classify func(error) bool
		sentinel error
	}{
		{"IsNotFound", IsNotFound, ErrNotFound},
		{"IsAlreadyExists", IsAlreadyExists, ErrAlreadyExists},
		{"IsConflict", IsConflict, ErrConflict},
		{"IsInvalidState", IsInvalidState, ErrInvalidState},
		{"IsUnavailable", IsUnavailable, ErrUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if !tc.classify(tc.sentinel) {
				t.Fatal("bare sentinel not recognized")
			}
			wrapped := &StoreError{Op: "Op", Backend: "fs", Err: tc.sentinel}
			if !tc.classify(wrapped) {
				t.Fatal("StoreError-wrapped sentinel not recognized")
			}
			doubly := fmt.Errorf("outer: %w", wrapped)
			if !tc.classify(doubly) {
				t.Fatal("fmt-wrapped sentinel not recognized")
			}
			if tc.classify(errors.New("unrelated")) {
				t.Fatal("unrelated error misclassified")
			}
		})
	}
}
