package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "nil", err: nil, want: ""},
		{name: "typed", err: Forbidden("nope"), want: KindForbidden},
		{name: "wrapped", err: fmt.Errorf("apply: %w", NotFound("card %s", "c1")), want: KindNotFound},
		{name: "deadline", err: fmt.Errorf("get: %w", context.DeadlineExceeded), want: KindStoreUnavailable},
		{name: "plain", err: errors.New("boom"), want: KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Fatalf("KindOf(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestAsErrorKeepsCauseHidden(t *testing.T) {
	cause := errors.New("connection reset")
	de := AsError(cause)
	if de.Kind != KindInternal {
		t.Fatalf("unexpected kind %s", de.Kind)
	}
	if de.Message != "internal error" {
		t.Fatalf("cause leaked into message: %q", de.Message)
	}
	if !errors.Is(de, cause) {
		t.Fatalf("expected cause to be unwrappable")
	}
}

func TestRetriable(t *testing.T) {
	if !StoreUnavailable(errors.New("x")).Retriable() {
		t.Fatalf("store unavailable should be retriable")
	}
	if Validation("empty").Retriable() {
		t.Fatalf("validation errors are not retriable")
	}
}
