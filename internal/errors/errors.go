// Package errors provides structured error types for the benchmark harness.
// All errors carry a category, a code and a message; the category decides
// whether a failure aborts a run or is recorded as data.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by the stage that produced them.
type ErrorCategory string

const (
	ErrCategoryConfig    ErrorCategory = "CONFIG"
	ErrCategoryCatalog   ErrorCategory = "CATALOG"
	ErrCategorySpawn     ErrorCategory = "SPAWN"
	ErrCategoryExecution ErrorCategory = "EXECUTION"
	ErrCategoryTimeout   ErrorCategory = "TIMEOUT"
	ErrCategoryParse     ErrorCategory = "PARSE"
	ErrCategoryStore     ErrorCategory = "STORE"
	ErrCategoryArchive   ErrorCategory = "ARCHIVE"
	ErrCategoryStorage   ErrorCategory = "STORAGE"
	ErrCategoryInternal  ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Config codes
	CodeInvalidConfig = "INVALID_CONFIG"
	CodeDirectory     = "DIRECTORY"

	// Catalog codes
	CodeDuplicateQuery = "DUPLICATE_QUERY"
	CodeInvalidCatalog = "INVALID_CATALOG"

	// Spawn codes
	CodeSpawnFailed = "SPAWN_FAILED"

	// Execution codes
	CodeNonZeroExit = "NON_ZERO_EXIT"
	CodeCanceled    = "CANCELED"

	// Timeout codes
	CodeDeadlineExceeded = "DEADLINE_EXCEEDED"

	// Parse codes
	CodeMissingField = "MISSING_FIELD"
	CodeMalformedRow = "MALFORMED_ROW"

	// Store codes
	CodeOpenFailed  = "OPEN_FAILED"
	CodeWriteFailed = "WRITE_FAILED"
	CodeReadFailed  = "READ_FAILED"

	// Archive codes
	CodeRunNotFound = "RUN_NOT_FOUND"
	CodeQueryFailed = "QUERY_FAILED"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// BenchError is the structured error type used throughout the harness.
type BenchError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Details  map[string]interface{}
	Cause    error
}

// Error returns a formatted error string.
func (e *BenchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *BenchError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *BenchError) Is(target error) bool {
	var t *BenchError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new BenchError.
func New(category ErrorCategory, code, message string) *BenchError {
	return &BenchError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}

// Wrap creates a new BenchError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *BenchError {
	return &BenchError{
		Category: category,
		Code:     code,
		Message:  message,
		Cause:    cause,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *BenchError) WithDetails(details map[string]interface{}) *BenchError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsFatal reports whether an error must abort the current run.
// Timeouts and parse failures are recorded as samples instead; anything that
// is not a BenchError is treated as fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var be *BenchError
	if errors.As(err, &be) {
		return isFatal(be.Category)
	}
	return true
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a BenchError.
func GetCategory(err error) ErrorCategory {
	var be *BenchError
	if errors.As(err, &be) {
		return be.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a BenchError.
func GetCode(err error) string {
	var be *BenchError
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}

func isFatal(category ErrorCategory) bool {
	switch category {
	case ErrCategoryTimeout, ErrCategoryParse:
		return false
	default:
		return true
	}
}

// Convenience constructors for common errors.

func NewConfigError(message string) *BenchError {
	return New(ErrCategoryConfig, CodeInvalidConfig, message)
}

func NewCatalogError(code, message string) *BenchError {
	return New(ErrCategoryCatalog, code, message)
}

func NewSpawnError(message string, cause error) *BenchError {
	return Wrap(ErrCategorySpawn, CodeSpawnFailed, message, cause)
}

func NewExecutionError(code, message string) *BenchError {
	return New(ErrCategoryExecution, code, message)
}

func NewTimeoutError(message string) *BenchError {
	return New(ErrCategoryTimeout, CodeDeadlineExceeded, message)
}

func NewParseError(code, message string) *BenchError {
	return New(ErrCategoryParse, code, message)
}

func NewStoreError(code, message string, cause error) *BenchError {
	return Wrap(ErrCategoryStore, code, message, cause)
}

func NewArchiveError(code, message string, cause error) *BenchError {
	return Wrap(ErrCategoryArchive, code, message, cause)
}

func NewStorageError(code, message string, cause error) *BenchError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewInternalError(message string, cause error) *BenchError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
