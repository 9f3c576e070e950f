package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
)

// Error types for the failure classes of a benchmark run
type ErrorType string

const (
	ErrorTypePrecondition  ErrorType = "precondition"
	ErrorTypeService       ErrorType = "service"
	ErrorTypeDecode        ErrorType = "decode"
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeUsage         ErrorType = "usage"
	ErrorTypeStorage       ErrorType = "storage"
)

// Process exit codes by error type
const (
	ExitOK            = 0
	ExitUsage         = 1
	ExitPrecondition  = 2
	ExitService       = 3
	ExitConfiguration = 4
	ExitDecode        = 5
	ExitStorage       = 6
)

// StructuredError provides rich error context
type StructuredError struct {
	Type      ErrorType
	Operation string
	Message   string
	Cause     error
	Context   map[string]interface{}
	Stack     []uintptr
}

// Error implements the error interface
func (e *StructuredError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", e.Type, e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Type, e.Operation, e.Message)
}

// Unwrap returns the underlying cause
func (e *StructuredError) Unwrap() error {
	return e.Cause
}

// New creates a new structured error
func New(errType ErrorType, operation, message string) *StructuredError {
	return &StructuredError{
		Type:      errType,
		Operation: operation,
		Message:   message,
		Context:   make(map[string]interface{}),
		Stack:     captureStack(),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, operation, message string) *StructuredError {
	if err == nil {
		return nil
	}

	return &StructuredError{
		Type:      errType,
		Operation: operation,
		Message:   message,
		Cause:     err,
		Context:   make(map[string]interface{}),
		Stack:     captureStack(),
	}
}

// WithContext adds context information to an error
func (e *StructuredError) WithContext(key string, value interface{}) *StructuredError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// TypeOf returns the type of the outermost StructuredError in err's chain,
// or the empty type when there is none.
func TypeOf(err error) ErrorType {
	var se *StructuredError
	if stderrors.As(err, &se) {
		return se.Type
	}
	return ""
}

// Is reports whether err carries a StructuredError of the given type.
func Is(err error, errType ErrorType) bool {
	var se *StructuredError
	for err != nil {
		if !stderrors.As(err, &se) {
			return false
		}
		if se.Type == errType {
			return true
		}
		err = se.Cause
	}
	return false
}

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch TypeOf(err) {
	case ErrorTypeUsage:
		return ExitUsage
	case ErrorTypePrecondition:
		return ExitPrecondition
	case ErrorTypeService:
		return ExitService
	case ErrorTypeConfiguration:
		return ExitConfiguration
	case ErrorTypeDecode:
		return ExitDecode
	case ErrorTypeStorage:
		return ExitStorage
	default:
		return 1
	}
}

// captureStack captures the current stack trace
func captureStack() []uintptr {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:]) // Skip runtime.Callers, this function and the constructor
	return pcs[:n]
}

// NewPreconditionError creates a precondition error
func NewPreconditionError(operation, message string) *StructuredError {
	return New(ErrorTypePrecondition, operation, message)
}

// NewServiceError creates a service error
func NewServiceError(operation, message string) *StructuredError {
	return New(ErrorTypeService, operation, message)
}

// NewConfigurationError creates a configuration error
func NewConfigurationError(operation, message string) *StructuredError {
	return New(ErrorTypeConfiguration, operation, message)
}

// NewUsageError creates a usage error
func NewUsageError(operation, message string) *StructuredError {
	return New(ErrorTypeUsage, operation, message)
}

// WrapPreconditionError wraps an error as a precondition error
func WrapPreconditionError(err error, operation, message string) *StructuredError {
	return Wrap(err, ErrorTypePrecondition, operation, message)
}

// WrapServiceError wraps an error as a service error
func WrapServiceError(err error, operation, message string) *StructuredError {
	return Wrap(err, ErrorTypeService, operation, message)
}

// WrapDecodeError wraps an error as a decode error
func WrapDecodeError(err error, operation, message string) *StructuredError {
	return Wrap(err, ErrorTypeDecode, operation, message)
}

// WrapConfigurationError wraps an error as a configuration error
func WrapConfigurationError(err error, operation, message string) *StructuredError {
	return Wrap(err, ErrorTypeConfiguration, operation, message)
}

// WrapUsageError wraps an error as a usage error
func WrapUsageError(err error, operation, message string) *StructuredError {
	return Wrap(err, ErrorTypeUsage, operation, message)
}

// WrapStorageError wraps an error as a storage error
func WrapStorageError(err error, operation, message string) *StructuredError {
	return Wrap(err, ErrorTypeStorage, operation, message)
}
