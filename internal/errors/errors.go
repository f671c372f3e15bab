// Package errors defines the error kinds shared across the pipeline and
// the structured error type background loops and HTTP handlers classify
// against.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Base error types
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidExpression = errors.New("invalid expression")
	ErrTimeout           = errors.New("timeout")
	ErrUpstream          = errors.New("upstream unavailable")
	ErrInternal          = errors.New("internal error")
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeUpstream   ErrorType = "upstream"
	ErrorTypeTransient  ErrorType = "transient"
	ErrorTypeInternal   ErrorType = "internal"
)

// PipelineError is a structured error for pipeline operations.
type PipelineError struct {
	Type       ErrorType
	Op         string // Operation that failed (e.g., "search", "bus_send")
	Target     string // Topic, index or endpoint involved
	Err        error  // Underlying error
	StatusCode int    // HTTP status code if applicable
	Timestamp  time.Time
	Retryable  bool
}

func (e *PipelineError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("%s failed on %s: %v", e.Op, e.Target, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *PipelineError) Is(target error) bool {
	if target == nil {
		return false
	}

	switch target {
	case ErrNotFound:
		return e.Type == ErrorTypeNotFound
	case ErrInvalidInput:
		return e.Type == ErrorTypeValidation
	case ErrUpstream:
		return e.Type == ErrorTypeUpstream
	}

	return errors.Is(e.Err, target)
}

// New creates a PipelineError of the given type.
func New(errorType ErrorType, op, target string, err error) *PipelineError {
	return &PipelineError{
		Type:      errorType,
		Op:        op,
		Target:    target,
		Err:       err,
		Timestamp: time.Now(),
		Retryable: errorType == ErrorTypeTransient || errorType == ErrorTypeUpstream,
	}
}

// WithStatusCode adds an HTTP status code to the error.
func (e *PipelineError) WithStatusCode(code int) *PipelineError {
	e.StatusCode = code
	if code >= 500 || code == 429 || code == 408 {
		e.Retryable = true
	} else if code >= 400 && code < 500 {
		e.Retryable = false
	}
	return e
}

// WrapUpstream wraps a bus or store connectivity error with context.
func WrapUpstream(op, target string, err error) error {
	return New(ErrorTypeUpstream, op, target, err)
}

// WrapValidation wraps a caller-fixable error with context.
func WrapValidation(op, target string, err error) error {
	return New(ErrorTypeValidation, op, target, err)
}

// IsRetryable checks if an error should be retried.
func IsRetryable(err error) bool {
	var pipeErr *PipelineError
	if errors.As(err, &pipeErr) {
		return pipeErr.Retryable
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrUpstream)
}
