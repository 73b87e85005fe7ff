// Package errors provides structured error types for the ETL pipeline.
// Errors carry a category, code, message and the underlying cause so that
// failures propagate with their stage context while errors.Is/As still reach
// the original storage or engine error. Nothing here is retried.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by pipeline concern.
type ErrorCategory string

const (
	ErrCategoryConfig   ErrorCategory = "CONFIG"
	ErrCategoryInput    ErrorCategory = "INPUT"
	ErrCategoryStorage  ErrorCategory = "STORAGE"
	ErrCategoryEngine   ErrorCategory = "ENGINE"
	ErrCategoryOutput   ErrorCategory = "OUTPUT"
	ErrCategoryInternal ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Config codes
	CodeInvalidConfig = "INVALID_CONFIG"
	CodeCredentials   = "CREDENTIALS"

	// Input codes
	CodeNoInput         = "NO_INPUT"
	CodeMissingUpstream = "MISSING_UPSTREAM"
	CodeBadEpoch        = "BAD_EPOCH"

	// Storage codes
	CodeStorageInit    = "STORAGE_INIT"
	CodeListFailed     = "LIST_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"

	// Engine codes
	CodeEngineInit  = "ENGINE_INIT"
	CodeLoadFailed  = "LOAD_FAILED"
	CodeQueryFailed = "QUERY_FAILED"

	// Output codes
	CodeWriteFailed   = "WRITE_FAILED"
	CodePublishFailed = "PUBLISH_FAILED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// PipelineError is the structured error type used throughout the pipeline.
type PipelineError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Details  map[string]interface{}
	Cause    error
}

// Error returns a formatted error string.
func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *PipelineError) Is(target error) bool {
	var t *PipelineError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new PipelineError.
func New(category ErrorCategory, code, message string) *PipelineError {
	return &PipelineError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}

// Wrap creates a new PipelineError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *PipelineError {
	return &PipelineError{
		Category: category,
		Code:     code,
		Message:  message,
		Cause:    cause,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *PipelineError) WithDetails(details map[string]interface{}) *PipelineError {
	cp := *e
	cp.Details = details
	return &cp
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a PipelineError.
func GetCategory(err error) ErrorCategory {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a PipelineError.
func GetCode(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// Convenience constructors for common errors.

func NewConfigError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategoryConfig, code, message, cause)
}

func NewInputError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategoryInput, code, message, cause)
}

func NewStorageError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewEngineError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategoryEngine, code, message, cause)
}

func NewOutputError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategoryOutput, code, message, cause)
}

func NewInternalError(message string, cause error) *PipelineError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
