package gunn

import (
	"errors"
	"strings"
	"testing"
)

func TestOpErrorFormatting(t *testing.T) {
	err := NewShapeError("MaxPoolWithIndex", "operator only supports 4D tensors", 2)
	msg := err.Error()
	if !strings.Contains(msg, "Shape") || !strings.Contains(msg, "MaxPoolWithIndex") {
		t.Errorf("Unexpected error message: %s", msg)
	}

	cause := errors.New("boom")
	wrapped := NewExecutionError("Launch", "kernel failed", cause)
	if !errors.Is(wrapped, cause) {
		t.Error("Expected Unwrap to expose the cause")
	}
	if !strings.Contains(wrapped.Error(), "boom") {
		t.Errorf("Cause missing from message: %s", wrapped.Error())
	}
}

func TestErrorPredicates(t *testing.T) {
	cases := []struct {
		err   error
		check func(error) bool
	}{
		{NewMemoryError("Malloc", "out of memory", nil), IsMemoryError},
		{NewInvalidArgError("Op", "bad"), IsInvalidArgError},
		{NewShapeError("Op", "bad shape", nil), IsShapeError},
		{NewDTypeError("Op", Int32Type), IsDTypeError},
	}
	for i, c := range cases {
		if !c.check(c.err) {
			t.Errorf("Case %d: predicate rejected its own error", i)
		}
	}

	if IsShapeError(errors.New("plain")) {
		t.Error("Plain error misclassified as shape error")
	}
	if IsShapeError(NewDTypeError("Op", Int32Type)) {
		t.Error("DType error misclassified as shape error")
	}
}

func TestDimensionMismatchMessage(t *testing.T) {
	err := errDimensionMismatch("DotProduct", Shape{2, 3}, Shape{3, 2})
	if !IsShapeError(err) {
		t.Error("Expected a shape error")
	}
	if !strings.Contains(err.Error(), "dimension mismatch") {
		t.Errorf("Unexpected message: %s", err.Error())
	}
}
