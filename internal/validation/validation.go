// Package validation checks generation requests before any byte is streamed.
package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/samber/lo"

	dgerrors "github.com/datagen/datagen/internal/errors"
	"github.com/datagen/datagen/pkg/types"
)

// MaxFieldNameLength bounds field names so they stay usable as markup element names.
const MaxFieldNameLength = 64

var fieldNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.\-]*$`)

// Violation is a single problem found in a request.
type Violation struct {
	Field   string `json:"field,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (v Violation) Error() string {
	if v.Field == "" {
		return v.Message
	}
	return fmt.Sprintf("field %q: %s", v.Field, v.Message)
}

// Violations is the collection of problems found in one request.
type Violations []Violation

func (e Violations) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("  - ")
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// Validator checks generation requests against the configured limits.
type Validator struct {
	maxFileSizeMB float64
}

// NewValidator creates a validator accepting file sizes in [1, maxFileSizeMB].
func NewValidator(maxFileSizeMB float64) *Validator {
	if maxFileSizeMB < 1 {
		maxFileSizeMB = 1
	}
	return &Validator{maxFileSizeMB: maxFileSizeMB}
}

// Validate checks req and returns it with the format tag normalized.
// All violations are reported together in a VALIDATION error whose
// details carry the list under "violations".
func (v *Validator) Validate(req types.GenerateRequest) (types.GenerateRequest, error) {
	var violations Violations

	fileType, ok := types.ParseFileType(string(req.FileType))
	if !ok {
		violations = append(violations, Violation{
			Code:    dgerrors.CodeUnsupportedFileType,
			Message: fmt.Sprintf("unsupported fileType %q (must be csv, json or xml)", req.FileType),
		})
	}
	req.FileType = fileType

	if req.FileSize < 1 || req.FileSize > v.maxFileSizeMB {
		violations = append(violations, Violation{
			Code:    dgerrors.CodeInvalidFileSize,
			Message: fmt.Sprintf("fileSize must be between 1 and %g MB, got %g", v.maxFileSizeMB, req.FileSize),
		})
	}

	violations = append(violations, validateSchema(req.Properties)...)

	if len(violations) == 0 {
		return req, nil
	}
	return req, dgerrors.Wrap(dgerrors.ErrCategoryValidation, violations[0].Code,
		fmt.Sprintf("request rejected with %d violation(s)", len(violations)), violations).
		WithDetails(map[string]interface{}{"violations": violations})
}

func validateSchema(schema types.Schema) Violations {
	if len(schema) == 0 {
		return Violations{{
			Code:    dgerrors.CodeInvalidSchema,
			Message: "properties must contain at least one field",
		}}
	}

	var violations Violations
	for i, f := range schema {
		label := f.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}
		switch {
		case f.Name == "":
			violations = append(violations, Violation{Field: label, Code: dgerrors.CodeInvalidField, Message: "name is required"})
		case len(f.Name) > MaxFieldNameLength:
			violations = append(violations, Violation{Field: label, Code: dgerrors.CodeInvalidField,
				Message: fmt.Sprintf("name exceeds %d characters", MaxFieldNameLength)})
		case !fieldNamePattern.MatchString(f.Name):
			violations = append(violations, Violation{Field: label, Code: dgerrors.CodeInvalidField,
				Message: "name must start with a letter or underscore and contain only letters, digits, '_', '-' or '.'"})
		}
		if !f.Type.Valid() {
			violations = append(violations, Violation{Field: label, Code: dgerrors.CodeInvalidField,
				Message: fmt.Sprintf("unknown type %q", f.Type)})
		}
	}

	for _, dup := range lo.FindDuplicatesBy(schema, func(f types.FieldSpec) string { return f.Name }) {
		if dup.Name == "" {
			continue
		}
		violations = append(violations, Violation{Field: dup.Name, Code: dgerrors.CodeInvalidSchema, Message: "duplicate field name"})
	}

	switch keys := lo.CountBy(schema, func(f types.FieldSpec) bool { return f.PrimaryKey }); {
	case keys == 0:
		violations = append(violations, Violation{Code: dgerrors.CodePrimaryKey, Message: "exactly one field must be marked primaryKey, found none"})
	case keys > 1:
		violations = append(violations, Violation{Code: dgerrors.CodePrimaryKey,
			Message: fmt.Sprintf("exactly one field must be marked primaryKey, found %d", keys)})
	}

	return violations
}
