package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestDatagenError_Error(t *testing.T) {
	err := New(ErrCategoryValidation, CodeInvalidFileSize, "fileSize out of range")
	expected := "[VALIDATION:INVALID_FILE_SIZE] fileSize out of range"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestDatagenError_ErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("broken pipe")
	err := Wrap(ErrCategorySink, CodeWriteFailed, "write failed", cause)
	expected := "[SINK:WRITE_FAILED] write failed: broken pipe"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestDatagenError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := Wrap(ErrCategoryStorage, CodeUploadFailed, "upload", cause)
	if !errors.Is(err, cause) {
		t.Error("Unwrap should allow errors.Is to find the cause")
	}
}

func TestDatagenError_Is(t *testing.T) {
	err1 := New(ErrCategoryValidation, CodePrimaryKey, "first")
	err2 := New(ErrCategoryValidation, CodePrimaryKey, "second")
	err3 := New(ErrCategoryValidation, CodeInvalidField, "different code")

	if !errors.Is(err1, err2) {
		t.Error("errors with same category+code should match via Is")
	}
	if errors.Is(err1, err3) {
		t.Error("errors with different codes should not match via Is")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		category  ErrorCategory
		code      string
		retryable bool
	}{
		{ErrCategoryStorage, CodeUploadFailed, true},
		{ErrCategoryStorage, CodeDownloadFailed, true},
		{ErrCategoryStorage, CodeObjectNotFound, false},
		{ErrCategoryCatalog, CodeQueryFailed, true},
		{ErrCategoryCatalog, CodeJobNotFound, false},
		{ErrCategorySink, CodeWriteFailed, false},
		{ErrCategoryValidation, CodeInvalidSchema, false},
		{ErrCategoryExport, CodeGenerateFailed, false},
		{ErrCategoryInternal, CodeUnexpected, false},
	}

	for _, tt := range tests {
		err := New(tt.category, tt.code, "test")
		if IsRetryable(err) != tt.retryable {
			t.Errorf("%s:%s retryable=%v, want %v", tt.category, tt.code, IsRetryable(err), tt.retryable)
		}
	}
}

func TestGetCategoryAndCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", New(ErrCategoryCatalog, CodeJobNotFound, "missing"))
	if GetCategory(err) != ErrCategoryCatalog {
		t.Errorf("got %q, want %q", GetCategory(err), ErrCategoryCatalog)
	}
	if GetCode(err) != CodeJobNotFound {
		t.Errorf("got %q, want %q", GetCode(err), CodeJobNotFound)
	}
	if GetCategory(fmt.Errorf("plain error")) != "" {
		t.Error("non-DatagenError should return empty category")
	}
	if GetCode(fmt.Errorf("plain error")) != "" {
		t.Error("non-DatagenError should return empty code")
	}
}

func TestWithDetails(t *testing.T) {
	err := New(ErrCategoryValidation, CodeInvalidField, "bad field")
	detailed := err.WithDetails(map[string]interface{}{"field": "email"})

	if detailed.Details["field"] != "email" {
		t.Error("WithDetails should set details")
	}
	if err.Details != nil {
		t.Error("WithDetails should not modify original")
	}
}

func TestConvenienceConstructors(t *testing.T) {
	cause := fmt.Errorf("io error")

	v := NewValidationError(CodeInvalidSchema, "no fields")
	if v.Category != ErrCategoryValidation || v.Code != CodeInvalidSchema {
		t.Error("NewValidationError mismatch")
	}

	s := NewSinkError(CodeSinkClosed, "closed", cause)
	if s.Category != ErrCategorySink || !errors.Is(s, cause) {
		t.Error("NewSinkError mismatch")
	}

	st := NewStorageError(CodeUploadFailed, "s3 down", cause)
	if st.Category != ErrCategoryStorage || !st.Retryable {
		t.Error("NewStorageError mismatch")
	}

	c := NewCatalogError(CodeQueryFailed, "locked", cause)
	if c.Category != ErrCategoryCatalog {
		t.Error("NewCatalogError mismatch")
	}

	e := NewExportError(CodeGenerateFailed, "session aborted", cause)
	if e.Category != ErrCategoryExport {
		t.Error("NewExportError mismatch")
	}

	i := NewInternalError("unexpected", cause)
	if i.Category != ErrCategoryInternal || i.Code != CodeUnexpected {
		t.Error("NewInternalError mismatch")
	}
}
