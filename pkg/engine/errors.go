package engine

import (
	"errors"
	"fmt"
)

// ErrorClass classifies an error for reporting and exit codes.
type ErrorClass string

const (
	// ErrorClassValidation indicates malformed input: bad model files,
	// unknown names, invalid query configurations.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassModel indicates a model that loaded but cannot be built.
	ErrorClassModel ErrorClass = "model"

	// ErrorClassSaturation indicates a failure while saturating an automaton.
	ErrorClassSaturation ErrorClass = "saturation"

	// ErrorClassQuery indicates a failure while answering a query, such as a
	// broken witness chain.
	ErrorClassQuery ErrorClass = "query"

	// ErrorClassTimeout indicates a query that exceeded its deadline or was
	// cancelled.
	ErrorClassTimeout ErrorClass = "timeout"

	// ErrorClassStorage indicates a run history failure.
	ErrorClassStorage ErrorClass = "storage"

	// ErrorClassPolicy indicates a policy load or evaluation failure.
	ErrorClassPolicy ErrorClass = "policy"

	// ErrorClassInternal indicates a bug.
	ErrorClassInternal ErrorClass = "internal"
)

// Error is a classified error with query context.
// nolint:revive // named to match its package role
type Error struct {
	Class ErrorClass `json:"class" yaml:"class"`

	Message string `json:"message" yaml:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty" yaml:"code,omitempty"`

	// Query is the name of the query being answered, if any.
	Query string `json:"query,omitempty" yaml:"query,omitempty"`

	// Operation is the step in progress, such as "saturate" or "witness".
	Operation string `json:"operation,omitempty" yaml:"operation,omitempty"`

	Err error `json:"-" yaml:"-"`

	Details map[string]interface{} `json:"details,omitempty" yaml:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	switch {
	case e.Query != "" && e.Operation != "":
		msg += fmt.Sprintf(" (query=%s, operation=%s)", e.Query, e.Operation)
	case e.Query != "":
		msg += fmt.Sprintf(" (query=%s)", e.Query)
	case e.Operation != "":
		msg += fmt.Sprintf(" (operation=%s)", e.Operation)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same class and code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

func newError(class ErrorClass, message string, err error) *Error {
	return &Error{Class: class, Message: message, Err: err}
}

// NewValidationError creates a validation error.
func NewValidationError(message string, err error) *Error {
	return newError(ErrorClassValidation, message, err).WithCode(ErrCodeValidation)
}

// NewModelError creates a model error.
func NewModelError(message string, err error) *Error {
	return newError(ErrorClassModel, message, err).WithCode(ErrCodeInvalidModel)
}

// NewSaturationError creates a saturation error.
func NewSaturationError(message string, err error) *Error {
	return newError(ErrorClassSaturation, message, err)
}

// NewQueryError creates a query error.
func NewQueryError(message string, err error) *Error {
	return newError(ErrorClassQuery, message, err)
}

// NewTimeoutError creates a timeout error.
func NewTimeoutError(message string, err error) *Error {
	return newError(ErrorClassTimeout, message, err).WithCode(ErrCodeTimeout)
}

// NewStorageError creates a storage error.
func NewStorageError(message string, err error) *Error {
	return newError(ErrorClassStorage, message, err)
}

// NewPolicyError creates a policy error.
func NewPolicyError(message string, err error) *Error {
	return newError(ErrorClassPolicy, message, err)
}

// NewInternalError creates an internal error.
func NewInternalError(message string, err error) *Error {
	return newError(ErrorClassInternal, message, err).WithCode(ErrCodeInternal)
}

// WithQuery adds query context to an error.
func (e *Error) WithQuery(name string) *Error {
	e.Query = name
	return e
}

// WithOperation adds operation context to an error.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithCode sets the error code.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ClassOf returns the class of the first *Error in err's chain, or
// ErrorClassInternal when there is none.
func ClassOf(err error) ErrorClass {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ErrorClassInternal
}

func isClass(err error, class ErrorClass) bool {
	var e *Error
	return errors.As(err, &e) && e.Class == class
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return isClass(err, ErrorClassValidation) }

// IsModel reports whether err is a model error.
func IsModel(err error) bool { return isClass(err, ErrorClassModel) }

// IsTimeout reports whether err is a timeout error.
func IsTimeout(err error) bool { return isClass(err, ErrorClassTimeout) }

// IsStorage reports whether err is a storage error.
func IsStorage(err error) bool { return isClass(err, ErrorClassStorage) }

// IsPolicy reports whether err is a policy error.
func IsPolicy(err error) bool { return isClass(err, ErrorClassPolicy) }

// IsUserError reports whether err was caused by bad input rather than a
// failure while running.
func IsUserError(err error) bool {
	return IsValidation(err) || IsModel(err)
}

// Common error codes.
const (
	ErrCodeValidation   = "VALIDATION_ERROR"
	ErrCodeInvalidModel = "INVALID_MODEL"
	ErrCodeUnknownState = "UNKNOWN_STATE"
	ErrCodeUnknownLabel = "UNKNOWN_LABEL"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeTimeout      = "TIMEOUT"
	ErrCodeBrokenTrace  = "BROKEN_TRACE"
	ErrCodeStoreLocked  = "STORE_LOCKED"
	ErrCodeInternal     = "INTERNAL_ERROR"
)
