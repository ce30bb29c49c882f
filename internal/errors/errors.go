// Package errors provides structured error types for the datagen services.
// All errors carry a category, code, message and retryable flag so that
// transports can map them consistently.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategorySink       ErrorCategory = "SINK"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryCatalog    ErrorCategory = "CATALOG"
	ErrCategoryExport     ErrorCategory = "EXPORT"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeUnsupportedFileType = "UNSUPPORTED_FILE_TYPE"
	CodeInvalidFileSize     = "INVALID_FILE_SIZE"
	CodeInvalidSchema       = "INVALID_SCHEMA"
	CodeInvalidField        = "INVALID_FIELD"
	CodePrimaryKey          = "PRIMARY_KEY"
	CodeMalformedRequest    = "MALFORMED_REQUEST"

	// Sink codes
	CodeSinkClosed  = "SINK_CLOSED"
	CodeWriteFailed = "WRITE_FAILED"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Catalog codes
	CodeJobNotFound = "JOB_NOT_FOUND"
	CodeQueryFailed = "QUERY_FAILED"

	// Export codes
	CodeExportsDisabled = "EXPORTS_DISABLED"
	CodeGenerateFailed  = "GENERATE_FAILED"
	CodeJobNotReady     = "JOB_NOT_READY"
	CodeShuttingDown    = "SHUTTING_DOWN"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// DatagenError is the structured error type used throughout the system.
type DatagenError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *DatagenError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *DatagenError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *DatagenError) Is(target error) bool {
	var t *DatagenError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new DatagenError.
func New(category ErrorCategory, code, message string) *DatagenError {
	return &DatagenError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new DatagenError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *DatagenError {
	return &DatagenError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DatagenError) WithDetails(details map[string]interface{}) *DatagenError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var de *DatagenError
	if errors.As(err, &de) {
		return de.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a DatagenError.
func GetCategory(err error) ErrorCategory {
	var de *DatagenError
	if errors.As(err, &de) {
		return de.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a DatagenError.
func GetCode(err error) string {
	var de *DatagenError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	case category == ErrCategoryCatalog && code == CodeQueryFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *DatagenError {
	return New(ErrCategoryValidation, code, message)
}

func NewSinkError(code, message string, cause error) *DatagenError {
	return Wrap(ErrCategorySink, code, message, cause)
}

func NewStorageError(code, message string, cause error) *DatagenError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewCatalogError(code, message string, cause error) *DatagenError {
	return Wrap(ErrCategoryCatalog, code, message, cause)
}

func NewExportError(code, message string, cause error) *DatagenError {
	return Wrap(ErrCategoryExport, code, message, cause)
}

func NewInternalError(message string, cause error) *DatagenError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
