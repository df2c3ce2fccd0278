package providers

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorKind classifies a provider failure for retry and surfacing policy.
type ErrorKind string

const (
	KindAuthentication       ErrorKind = "authentication"
	KindUsageError           ErrorKind = "usage_error"
	KindRateLimitExceeded    ErrorKind = "rate_limit_exceeded"
	KindContextLengthExceeded ErrorKind = "context_length_exceeded"
	KindServerError          ErrorKind = "server_error"
	KindRequestFailed        ErrorKind = "request_failed"
	KindExecutionError       ErrorKind = "execution_error"
)

// Retryable reports whether the retry engine should retry an error of this
// kind. Only RateLimitExceeded and ServerError are retryable — everything
// else reflects a request the caller must change before retrying helps.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindRateLimitExceeded, KindServerError:
		return true
	default:
		return false
	}
}

// Error is the structured error every Provider method returns on failure.
type Error struct {
	Kind       ErrorKind
	Provider   string
	Message    string
	Cause      error
	RetryAfter *time.Duration // set only for KindRateLimitExceeded when the backend sent a hint
}

func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: [%s] %s", e.Provider, e.Kind, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// RetryDelay implements retry.DelayHinter: a RateLimitExceeded error with a
// known delay forces the retry engine's next wait to be at least that
// long.
func (e *Error) RetryDelay() (time.Duration, bool) {
	if e.RetryAfter == nil {
		return 0, false
	}
	return *e.RetryAfter, true
}

// IsRetryable reports whether err, or any error it wraps, is a retryable
// provider Error.
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind.Retryable()
	}
	return false
}

// New builds a provider Error, classifying cause by kind when kind is
// empty.
func New(provider string, kind ErrorKind, cause error) *Error {
	e := &Error{Provider: provider, Kind: kind, Cause: cause}
	if cause != nil {
		e.Message = cause.Error()
	}
	if e.Kind == "" {
		e.Kind = classify(cause)
	}
	return e
}

// classify infers an ErrorKind from common transport-error phrasing, the
// same string-matching approach the teacher's tool error classifier uses
// when the backend's SDK doesn't expose a typed status.
func classify(err error) ErrorKind {
	if err == nil {
		return KindExecutionError
	}
	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "unauthorized") || strings.Contains(s, "invalid api key") || strings.Contains(s, "401"):
		return KindAuthentication
	case strings.Contains(s, "rate limit") || strings.Contains(s, "429") || strings.Contains(s, "too many requests"):
		return KindRateLimitExceeded
	case strings.Contains(s, "context length") || strings.Contains(s, "context_length") || strings.Contains(s, "maximum context"):
		return KindContextLengthExceeded
	case strings.Contains(s, "500") || strings.Contains(s, "502") || strings.Contains(s, "503") || strings.Contains(s, "internal server"):
		return KindServerError
	case strings.Contains(s, "invalid request") || strings.Contains(s, "bad request") || strings.Contains(s, "400"):
		return KindUsageError
	case strings.Contains(s, "connection") || strings.Contains(s, "timeout") || strings.Contains(s, "dial"):
		return KindRequestFailed
	default:
		return KindExecutionError
	}
}
