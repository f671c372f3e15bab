package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestPipelineErrorIs(t *testing.T) {
	err := New(ErrorTypeNotFound, "get", "alarms", fmt.Errorf("document missing"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatal("not_found error does not match ErrNotFound")
	}
	if errors.Is(err, ErrUpstream) {
		t.Fatal("not_found error matches ErrUpstream")
	}

	wrapped := fmt.Errorf("outer: %w", WrapUpstream("search", "metrics", ErrTimeout))
	if !errors.Is(wrapped, ErrUpstream) {
		t.Fatal("wrapped upstream error does not match ErrUpstream")
	}
	if !errors.Is(wrapped, ErrTimeout) {
		t.Fatal("underlying cause lost through wrapping")
	}
}

func TestErrorMessageIncludesTarget(t *testing.T) {
	err := New(ErrorTypeUpstream, "bus_send", "metrics", fmt.Errorf("broker down"))
	want := "bus_send failed on metrics: broker down"
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}

	bare := New(ErrorTypeInternal, "decode", "", fmt.Errorf("bad json"))
	if bare.Error() != "decode failed: bad json" {
		t.Fatalf("got %q", bare.Error())
	}
}

func TestRetryableClassification(t *testing.T) {
	if !IsRetryable(WrapUpstream("fetch", "alarms", fmt.Errorf("refused"))) {
		t.Fatal("upstream error not retryable")
	}
	if IsRetryable(WrapValidation("ingest", "metrics", ErrInvalidInput)) {
		t.Fatal("validation error retryable")
	}
	if !IsRetryable(fmt.Errorf("op: %w", ErrTimeout)) {
		t.Fatal("plain timeout not retryable")
	}
}

func TestWithStatusCode(t *testing.T) {
	err := New(ErrorTypeTransient, "insert", "metrics", fmt.Errorf("busy")).WithStatusCode(503)
	if !err.Retryable {
		t.Fatal("503 marked non-retryable")
	}
	err = err.WithStatusCode(400)
	if err.Retryable {
		t.Fatal("400 left retryable")
	}
}
