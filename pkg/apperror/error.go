// Package apperror defines the application error taxonomy.
//
// Errors carry a stable code, an optional wrapped cause, and a retryable tag.
// The retry helper and the workers branch on the tag via IsRetryable, never on
// message text.
package apperror

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Code identifies an error kind.
type Code string

const (
	CodeRateLimitExceeded   Code = "rate_limit_exceeded"
	CodeFetchTransient      Code = "fetch_transient"
	CodeFetchHard           Code = "fetch_hard"
	CodeLLMTransient        Code = "llm_transient"
	CodeLLMMalformedJSON    Code = "llm_malformed_json"
	CodeValidationViolation Code = "validation_violation"
	CodeEmbeddingFailure    Code = "embedding_failure"
	CodeVectorUpsertFailure Code = "vector_upsert_failure"
	CodeDatabase            Code = "database_error"
	CodeConflict            Code = "conflict"
	CodeNotFound            Code = "not_found"
	CodeCancelled           Code = "cancelled"
	CodeTimeout             Code = "timeout"
	CodeInternal            Code = "internal_error"
)

// Error is an application error with a code and retryable tag.
type Error struct {
	Code      Code
	Message   string
	Retryable bool
	Internal  error
	Details   map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Internal)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the internal error.
func (e *Error) Unwrap() error {
	return e.Internal
}

// WithInternal returns a copy of the error with an internal error attached.
func (e *Error) WithInternal(err error) *Error {
	return &Error{
		Code:      e.Code,
		Message:   e.Message,
		Retryable: e.Retryable,
		Internal:  err,
		Details:   e.Details,
	}
}

// WithMessage returns a copy of the error with a custom message.
func (e *Error) WithMessage(message string) *Error {
	return &Error{
		Code:      e.Code,
		Message:   message,
		Retryable: e.Retryable,
		Internal:  e.Internal,
		Details:   e.Details,
	}
}

// WithDetails returns a copy of the error with details attached.
func (e *Error) WithDetails(details map[string]any) *Error {
	return &Error{
		Code:      e.Code,
		Message:   e.Message,
		Retryable: e.Retryable,
		Internal:  e.Internal,
		Details:   details,
	}
}

// New creates a new application error.
func New(code Code, message string, retryable bool) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Retryable: retryable,
	}
}

// Common error definitions.
var (
	ErrRateLimitExceeded = New(CodeRateLimitExceeded, "daily request quota reached for domain", false)
	ErrFetchTransient    = New(CodeFetchTransient, "transient fetch failure", true)
	ErrFetchHard         = New(CodeFetchHard, "permanent fetch failure", false)
	ErrLLMTransient      = New(CodeLLMTransient, "transient LLM failure", true)
	ErrLLMMalformedJSON  = New(CodeLLMMalformedJSON, "LLM returned malformed JSON", true)
	ErrValidation        = New(CodeValidationViolation, "validation failed", false)
	ErrEmbeddingFailure  = New(CodeEmbeddingFailure, "embedding generation failed", true)
	ErrVectorUpsert      = New(CodeVectorUpsertFailure, "vector index upsert failed", true)
	ErrDatabase          = New(CodeDatabase, "database operation failed", false)
	ErrConflict          = New(CodeConflict, "resource already exists", false)
	ErrNotFound          = New(CodeNotFound, "resource not found", false)
	ErrCancelled         = New(CodeCancelled, "operation cancelled", false)
	ErrTimeout           = New(CodeTimeout, "operation timed out", true)
)

// CodeOf returns the code of err, or CodeInternal for unknown errors.
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// IsRetryable reports whether err may succeed on retry. Tagged application
// errors answer from their Retryable flag; untagged network errors (timeouts,
// connection resets) are treated as retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	// OpError before the net.Error interface check: OpError satisfies
	// net.Error, and a connection reset reports Timeout() false there.
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

// NewNotFound creates a not found error for a resource kind.
func NewNotFound(resource string) *Error {
	return ErrNotFound.WithMessage(fmt.Sprintf("%s not found", resource))
}

// NewInternal creates an internal error. Attach a cause with WithInternal.
func NewInternal(message string) *Error {
	return &Error{
		Code:    CodeInternal,
		Message: message,
	}
}
