package errors

import (
	"errors"
	"fmt"
)

// LoreError is the structured error type for lorebase.
// It provides rich context for error handling, logging, and user presentation.
type LoreError struct {
	// Code is the unique error code (e.g., "ERR_205_CORRUPT_INDEX").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Network, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *LoreError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *LoreError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with LoreError.
func (e *LoreError) Is(target error) bool {
	if t, ok := target.(*LoreError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *LoreError) WithDetail(key, value string) *LoreError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *LoreError) WithSuggestion(suggestion string) *LoreError {
	e.Suggestion = suggestion
	return e
}

// New creates a new LoreError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *LoreError {
	return &LoreError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a LoreError from an existing error.
// The error's message becomes the LoreError message.
func Wrap(code string, err error) *LoreError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// InvalidSource creates an error for an unreadable or empty source document.
// These are skipped and reported; the build continues.
func InvalidSource(sourceID, message string) *LoreError {
	return New(ErrCodeInvalidSource, message, nil).WithDetail("source", sourceID)
}

// EmbeddingUnavailable creates a transient embedding-backend error.
// These are retried with bounded exponential backoff.
func EmbeddingUnavailable(message string, cause error) *LoreError {
	return New(ErrCodeEmbeddingUnavailable, message, cause)
}

// EmbeddingRejected creates a permanent embedding-input error.
// These are never retried and become per-source failures.
func EmbeddingRejected(message string, cause error) *LoreError {
	return New(ErrCodeEmbeddingRejected, message, cause)
}

// CorruptIndex creates a durable-state integrity error.
// The operation aborts; the operator is told to rebuild.
func CorruptIndex(message string, cause error) *LoreError {
	return New(ErrCodeCorruptIndex, message, cause).
		WithSuggestion("run 'lorebase index --force' to rebuild the index")
}

// EmptyIndex creates an error for queries against a never-built index.
// Distinct from a valid zero-result query.
func EmptyIndex() *LoreError {
	return New(ErrCodeEmptyIndex, "no published index snapshot exists", nil).
		WithSuggestion("run 'lorebase index' to build the index first")
}

// IsRetryable checks if an error is retryable.
// Returns true if the error chain contains a LoreError with Retryable set.
func IsRetryable(err error) bool {
	var le *LoreError
	if errors.As(err, &le) {
		return le.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	var le *LoreError
	if errors.As(err, &le) {
		return le.Severity == SeverityFatal
	}
	return false
}

// IsCode reports whether the error chain contains a LoreError with the code.
func IsCode(err error, code string) bool {
	var le *LoreError
	if errors.As(err, &le) {
		return le.Code == code
	}
	return false
}

// GetCode extracts the error code from an error chain.
// Returns empty string if no LoreError is present.
func GetCode(err error) string {
	var le *LoreError
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}
