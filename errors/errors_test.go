package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			if got := test.class.String(); got != test.expected {
				t.Errorf("expected %s, got %s", test.expected, got)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection timeout", ErrConnectionTimeout, true},
		{"connection lost", ErrConnectionLost, true},
		{"storage unavailable", ErrStorageUnavailable, true},
		{"queue full", ErrQueueFull, true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"context canceled", context.Canceled, true},
		{"invalid encoding", ErrInvalidEncoding, false},
		{"timeout in message", fmt.Errorf("i/o timeout"), true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("x")}, true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("x")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := IsTransient(test.err); got != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, got, test.err)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"invalid config", ErrInvalidConfig, true},
		{"missing config", ErrMissingConfig, true},
		{"unsupported transport", ErrUnsupported, true},
		{"storage unavailable", ErrStorageUnavailable, false},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("x")}, true},
		{"classified invalid", &ClassifiedError{Class: ErrorInvalid, Err: ErrInvalidConfig}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := IsFatal(test.err); got != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, got, test.err)
			}
		})
	}
}

func TestIsInvalid(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"invalid data", ErrInvalidData, true},
		{"invalid encoding", ErrInvalidEncoding, true},
		{"parsing failed", ErrParsingFailed, true},
		{"frame too large", ErrFrameTooLarge, true},
		{"connection lost", ErrConnectionLost, false},
		{"classified invalid", &ClassifiedError{Class: ErrorInvalid, Err: fmt.Errorf("x")}, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := IsInvalid(test.err); got != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, got, test.err)
			}
		})
	}
}

func TestWrapFormat(t *testing.T) {
	err := Wrap(ErrStorageUnavailable, "csvlog", "WriteRow", "open log file")
	want := "csvlog.WriteRow: open log file failed: storage unavailable"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Error("wrapped error should match its cause")
	}
	if Wrap(nil, "a", "b", "c") != nil {
		t.Error("wrapping nil should return nil")
	}
}

func TestWrapClassified(t *testing.T) {
	cause := fmt.Errorf("boom")

	tests := []struct {
		name  string
		err   error
		class ErrorClass
	}{
		{"transient", WrapTransient(cause, "c", "m", "a"), ErrorTransient},
		{"invalid", WrapInvalid(cause, "c", "m", "a"), ErrorInvalid},
		{"fatal", WrapFatal(cause, "c", "m", "a"), ErrorFatal},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var ce *ClassifiedError
			if !errors.As(test.err, &ce) {
				t.Fatalf("expected ClassifiedError, got %T", test.err)
			}
			if ce.Class != test.class {
				t.Errorf("expected class %v, got %v", test.class, ce.Class)
			}
			if ce.Component != "c" || ce.Operation != "m" {
				t.Errorf("unexpected context %q/%q", ce.Component, ce.Operation)
			}
			if Classify(test.err) != test.class {
				t.Errorf("Classify disagrees with wrapped class")
			}
			if !errors.Is(test.err, cause) {
				t.Error("classified error should unwrap to its cause")
			}
		})
	}

	if WrapFatal(nil, "c", "m", "a") != nil {
		t.Error("wrapping nil should return nil")
	}
}

func TestClassify_Unknown(t *testing.T) {
	if got := Classify(fmt.Errorf("something odd")); got != ErrorTransient {
		t.Errorf("unknown errors should default to transient, got %v", got)
	}
}
