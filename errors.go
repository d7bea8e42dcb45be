// Package gunn structured error types for better error handling
package gunn

import (
	"fmt"
)

// ErrorType represents categories of errors
type ErrorType int

const (
	// Memory errors
	ErrTypeMemory ErrorType = iota
	// Invalid argument errors
	ErrTypeInvalidArg
	// Shape and rank precondition violations
	ErrTypeShape
	// Unsupported element type errors
	ErrTypeDType
	// Execution errors
	ErrTypeExecution
	// Device errors
	ErrTypeDevice
	// Not implemented errors
	ErrTypeNotImplemented
)

// OpError represents a structured error with context
type OpError struct {
	Type    ErrorType
	Op      string      // Operation that failed
	Message string      // Human-readable message
	Err     error       // Underlying error if any
	Context interface{} // Additional context
}

// Error implements the error interface
func (e *OpError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("GUNN %s error in %s: %s (caused by: %v)",
			e.Type.String(), e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("GUNN %s error in %s: %s",
		e.Type.String(), e.Op, e.Message)
}

// Unwrap allows error chain inspection
func (e *OpError) Unwrap() error {
	return e.Err
}

// String returns the error type as a string
func (t ErrorType) String() string {
	switch t {
	case ErrTypeMemory:
		return "Memory"
	case ErrTypeInvalidArg:
		return "InvalidArgument"
	case ErrTypeShape:
		return "Shape"
	case ErrTypeDType:
		return "DType"
	case ErrTypeExecution:
		return "Execution"
	case ErrTypeDevice:
		return "Device"
	case ErrTypeNotImplemented:
		return "NotImplemented"
	default:
		return "Unknown"
	}
}

// Common error constructors

// NewMemoryError creates a memory-related error
func NewMemoryError(op string, message string, err error) error {
	return &OpError{
		Type:    ErrTypeMemory,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// NewInvalidArgError creates an invalid argument error
func NewInvalidArgError(op string, message string) error {
	return &OpError{
		Type:    ErrTypeInvalidArg,
		Op:      op,
		Message: message,
	}
}

// NewShapeError creates a shape/rank precondition error
func NewShapeError(op string, message string, context interface{}) error {
	return &OpError{
		Type:    ErrTypeShape,
		Op:      op,
		Message: message,
		Context: context,
	}
}

// NewDTypeError creates an unsupported element type error
func NewDTypeError(op string, dtype DType) error {
	return &OpError{
		Type:    ErrTypeDType,
		Op:      op,
		Message: "unsupported input type",
		Context: dtype,
	}
}

// NewExecutionError creates an execution error
func NewExecutionError(op string, message string, err error) error {
	return &OpError{
		Type:    ErrTypeExecution,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// Common pre-defined errors

var (
	// ErrOutOfMemory indicates memory allocation failure
	ErrOutOfMemory = NewMemoryError("Malloc", "out of memory", nil)

	// ErrInvalidSize indicates invalid size parameter
	ErrInvalidSize = NewInvalidArgError("Malloc", "size must be positive")

	// ErrNullPointer indicates null pointer access
	ErrNullPointer = NewInvalidArgError("Memory", "null pointer")

	// ErrDoubleFree indicates double free attempt
	ErrDoubleFree = NewMemoryError("Free", "double free detected", nil)

	// ErrInvalidDevice indicates invalid device ID
	ErrInvalidDevice = NewInvalidArgError("SetDevice", "invalid device ID")
)

// errUnsupportedRank reports the fixed-rank precondition of the pooling
// and padding operators.
func errUnsupportedRank(op string, got int) error {
	return NewShapeError(op, "operator only supports 4D tensors", got)
}

// errDimensionMismatch reports paired inputs whose shapes disagree.
func errDimensionMismatch(op string, a, b Shape) error {
	return NewShapeError(op, fmt.Sprintf("dimension mismatch: %v / %v", a, b), nil)
}

// IsMemoryError checks if an error is a memory error
func IsMemoryError(err error) bool {
	if e, ok := err.(*OpError); ok {
		return e.Type == ErrTypeMemory
	}
	return false
}

// IsInvalidArgError checks if an error is an invalid argument error
func IsInvalidArgError(err error) bool {
	if e, ok := err.(*OpError); ok {
		return e.Type == ErrTypeInvalidArg
	}
	return false
}

// IsShapeError checks if an error is a shape precondition error
func IsShapeError(err error) bool {
	if e, ok := err.(*OpError); ok {
		return e.Type == ErrTypeShape
	}
	return false
}

// IsDTypeError checks if an error is an unsupported element type error
func IsDTypeError(err error) bool {
	if e, ok := err.(*OpError); ok {
		return e.Type == ErrTypeDType
	}
	return false
}
