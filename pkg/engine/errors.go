package engine

import (
	"errors"
	"fmt"
)

// ErrorClass classifies an error for retry and recovery decisions.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on
	// retry, such as a network timeout.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassThrottled indicates rate limiting by the remote API. Retried
	// with a longer backoff than plain transient failures.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassPermanent indicates a non-recoverable error: invalid
	// configuration, permission denied, provider bug.
	ErrorClassPermanent ErrorClass = "permanent"
)

// Error codes used across the engine.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeDuplicateIdentity = "DUPLICATE_IDENTITY"
	ErrCodeDanglingReference = "DANGLING_REFERENCE"
	ErrCodeCycle             = "CYCLE_DETECTED"
	ErrCodeProviderNotFound  = "PROVIDER_NOT_FOUND"
	ErrCodeProviderFailed    = "PROVIDER_FAILED"
	ErrCodeDependencyFailed  = "DEPENDENCY_FAILED"
	ErrCodeOutputUnresolved  = "OUTPUT_UNRESOLVED"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// Error is a classified engine error. The class drives retry behavior; the
// code identifies the failure for programmatic handling and run reports.
type Error struct {
	Class    ErrorClass `json:"class"`
	Code     string     `json:"code,omitempty"`
	Message  string     `json:"message"`
	Resource string     `json:"resource,omitempty"`
	Err      error      `json:"-"`
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Resource != "" {
		msg = fmt.Sprintf("%s (resource=%s)", msg, e.Resource)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the underlying error to errors.Is/As.
func (e *Error) Unwrap() error { return e.Err }

// Is matches on class and code so sentinel-style comparisons work.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// WithResource attaches the identity of the resource that caused the error.
func (e *Error) WithResource(id ResourceID) *Error {
	e.Resource = id.String()
	return e
}

// NewTransientError creates a transient (retryable) error.
func NewTransientError(message string, err error) *Error {
	return &Error{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewThrottledError creates a throttled (retryable, slow backoff) error.
func NewThrottledError(message string, err error) *Error {
	return &Error{Class: ErrorClassThrottled, Message: message, Err: err}
}

// NewPermanentError creates a permanent (fatal) error.
func NewPermanentError(code, message string, err error) *Error {
	return &Error{Class: ErrorClassPermanent, Code: code, Message: message, Err: err}
}

// IsTransient reports whether err is classified transient.
func IsTransient(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Class == ErrorClassTransient
}

// IsThrottled reports whether err is classified throttled.
func IsThrottled(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Class == ErrorClassThrottled
}

// IsPermanent reports whether err is classified permanent.
func IsPermanent(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Class == ErrorClassPermanent
}

// IsRetryable reports whether the executor may retry after err. Unclassified
// errors are treated as permanent: a provider that wants retries must say so.
func IsRetryable(err error) bool {
	return IsTransient(err) || IsThrottled(err)
}

// ErrorCode extracts the engine error code from err, or "" if none.
func ErrorCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// CycleError is returned by the dependency resolver when the graph contains a
// reference cycle. Cycle holds the minimal cycle in edge order, without
// repeating the first element.
type CycleError struct {
	Cycle []ResourceID
}

func (e *CycleError) Error() string {
	ids := make([]string, len(e.Cycle))
	for i, id := range e.Cycle {
		ids[i] = id.String()
	}
	return fmt.Sprintf("dependency cycle detected: %s", joinCycle(ids))
}

func joinCycle(ids []string) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += " -> "
		}
		out += id
	}
	if len(ids) > 0 {
		out += " -> " + ids[0]
	}
	return out
}
