package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeAndStatusFollowWrappedSentinels(t *testing.T) {
	cases := []struct {
		err    error
		code   string
		status int
	}{
		{fmt.Errorf("student id %q: %w", "bad", ErrValidation), "VALIDATION_ERROR", 400},
		{fmt.Errorf("record 9: %w", ErrNotFound), "NOT_FOUND", 404},
		{fmt.Errorf("student S9009: %w", ErrConflict), "CONFLICT", 409},
		{fmt.Errorf("get rate: %w", ErrUpstream), "UPSTREAM_ERROR", 502},
		{fmt.Errorf("insert: %w", ErrPersistence), "PERSISTENCE_ERROR", 500},
		{errors.New("unclassified"), "PERSISTENCE_ERROR", 500},
		{nil, "", 200},
	}
	for _, tc := range cases {
		if got := Code(tc.err); got != tc.code {
			t.Fatalf("Code(%v) = %q, want %q", tc.err, got, tc.code)
		}
		if got := HTTPStatus(tc.err); got != tc.status {
			t.Fatalf("HTTPStatus(%v) = %d, want %d", tc.err, got, tc.status)
		}
	}
}
