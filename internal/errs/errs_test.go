package errs

import (
	"errors"
	"testing"
)

func TestCodeOfUnmappedErrorIsInternal(t *testing.T) {
	if got := CodeOf(errors.New("boom")); got != CodeInternalError {
		t.Fatalf("CodeOf(plain error) = %s, want %s", got, CodeInternalError)
	}
}

func TestCodeOfWrappedDomainError(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(CodeDeviceUnreachable, "dial failed", cause)

	if got := CodeOf(err); got != CodeDeviceUnreachable {
		t.Fatalf("CodeOf = %s, want %s", got, CodeDeviceUnreachable)
	}
	if !errors.Is(err, err) {
		t.Fatalf("expected errors.Is to find itself")
	}
	if err.Unwrap() != cause {
		t.Fatalf("Unwrap did not return cause")
	}
}

func TestWithDataDoesNotMutateOriginal(t *testing.T) {
	base := New(CodePlanNotFound, "no such plan")
	withData := base.WithData(map[string]string{"planId": "p1"})

	if base.Data != nil {
		t.Fatalf("New().WithData mutated the receiver")
	}
	if withData.Data == nil {
		t.Fatalf("expected WithData to set Data")
	}
}
