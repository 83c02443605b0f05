package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass groups errors by the pipeline stage that raised them.
type ErrorClass string

const (
	// ErrorClassRegistration is raised while registering or sealing types.
	ErrorClassRegistration ErrorClass = "registration"

	// ErrorClassResolution is raised while expanding references into a schema.
	ErrorClassResolution ErrorClass = "resolution"

	// ErrorClassInternal indicates a malformed schema reached the validator.
	ErrorClassInternal ErrorClass = "internal"
)

// Error codes.
const (
	ErrCodeDuplicateType        = "DUPLICATE_TYPE"
	ErrCodeUnknownType          = "UNKNOWN_TYPE"
	ErrCodeCyclicType           = "CYCLIC_TYPE"
	ErrCodeUnresolvedImport     = "UNRESOLVED_IMPORT"
	ErrCodeConstraintDefinition = "CONSTRAINT_DEFINITION"
	ErrCodeInvalidType          = "INVALID_TYPE"
	ErrCodeRegistrySealed       = "REGISTRY_SEALED"
	ErrCodeMalformedSchema      = "MALFORMED_SCHEMA"
)

// Error is a classified type-system error.
type Error struct {
	// Class is the pipeline stage that produced the error.
	Class ErrorClass `json:"class"`

	// Code identifies the error for programmatic handling.
	Code string `json:"code"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// TypeName is the type being registered or resolved, if any.
	TypeName string `json:"type_name,omitempty"`

	// Path is the cycle path for cyclic type errors.
	Path []string `json:"path,omitempty"`

	// Err is the underlying cause.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", e.Class, e.Message)
	if e.TypeName != "" {
		fmt.Fprintf(&sb, " (type=%s)", e.TypeName)
	}
	if len(e.Path) > 0 {
		fmt.Fprintf(&sb, ": %s", strings.Join(e.Path, " -> "))
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %s", e.Err.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on class and code so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// WithTypeName records the type the error concerns.
func (e *Error) WithTypeName(name string) *Error {
	e.TypeName = name
	return e
}

// WithPath records a cycle path.
func (e *Error) WithPath(path []string) *Error {
	e.Path = append([]string(nil), path...)
	return e
}

// WithCause wraps an underlying error.
func (e *Error) WithCause(err error) *Error {
	e.Err = err
	return e
}

// Sentinels for errors.Is.
var (
	ErrDuplicateType        = &Error{Class: ErrorClassRegistration, Code: ErrCodeDuplicateType}
	ErrUnknownType          = &Error{Class: ErrorClassResolution, Code: ErrCodeUnknownType}
	ErrCyclicType           = &Error{Class: ErrorClassRegistration, Code: ErrCodeCyclicType}
	ErrUnresolvedImport     = &Error{Class: ErrorClassResolution, Code: ErrCodeUnresolvedImport}
	ErrConstraintDefinition = &Error{Class: ErrorClassRegistration, Code: ErrCodeConstraintDefinition}
	ErrInvalidType          = &Error{Class: ErrorClassRegistration, Code: ErrCodeInvalidType}
	ErrRegistrySealed       = &Error{Class: ErrorClassRegistration, Code: ErrCodeRegistrySealed}
	ErrMalformedSchema      = &Error{Class: ErrorClassInternal, Code: ErrCodeMalformedSchema}
)

// NewDuplicateTypeError reports a second registration of name.
func NewDuplicateTypeError(name string) *Error {
	return &Error{
		Class:    ErrorClassRegistration,
		Code:     ErrCodeDuplicateType,
		Message:  "type already registered",
		TypeName: name,
	}
}

// NewUnknownTypeError reports a reference to a type that is not registered.
func NewUnknownTypeError(name string) *Error {
	return &Error{
		Class:    ErrorClassResolution,
		Code:     ErrCodeUnknownType,
		Message:  "unknown type",
		TypeName: name,
	}
}

// NewCyclicTypeError reports an illegal reference cycle. The path starts
// and ends with the same type.
func NewCyclicTypeError(path []string) *Error {
	e := &Error{
		Class:   ErrorClassRegistration,
		Code:    ErrCodeCyclicType,
		Message: "cyclic type definition",
	}
	if len(path) > 0 {
		e.TypeName = path[0]
	}
	return e.WithPath(path)
}

// NewUnresolvedImportError reports an import whose source or name is missing.
func NewUnresolvedImportError(source, name string) *Error {
	return &Error{
		Class:    ErrorClassResolution,
		Code:     ErrCodeUnresolvedImport,
		Message:  fmt.Sprintf("unresolved import %s from %q", name, source),
		TypeName: name,
	}
}

// NewConstraintDefinitionError reports a constraint attached to an
// incompatible type.
func NewConstraintDefinitionError(message string) *Error {
	return &Error{
		Class:   ErrorClassRegistration,
		Code:    ErrCodeConstraintDefinition,
		Message: message,
	}
}

// NewInvalidTypeError reports a structurally invalid definition.
func NewInvalidTypeError(message string) *Error {
	return &Error{
		Class:   ErrorClassRegistration,
		Code:    ErrCodeInvalidType,
		Message: message,
	}
}

// NewRegistrySealedError reports a registration after Seal.
func NewRegistrySealedError(name string) *Error {
	return &Error{
		Class:    ErrorClassRegistration,
		Code:     ErrCodeRegistrySealed,
		Message:  "registry is sealed",
		TypeName: name,
	}
}

// NewMalformedSchemaError reports a schema the validator cannot walk.
func NewMalformedSchemaError(message string) *Error {
	return &Error{
		Class:   ErrorClassInternal,
		Code:    ErrCodeMalformedSchema,
		Message: message,
	}
}

// IsRegistrationError returns true if err was raised while registering types.
func IsRegistrationError(err error) bool {
	return hasClass(err, ErrorClassRegistration)
}

// IsResolutionError returns true if err was raised while resolving a schema.
func IsResolutionError(err error) bool {
	return hasClass(err, ErrorClassResolution)
}

// IsInternalError returns true if err indicates a malformed schema.
func IsInternalError(err error) bool {
	return hasClass(err, ErrorClassInternal)
}

func hasClass(err error, class ErrorClass) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == class
	}
	return false
}
