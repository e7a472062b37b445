package graph

import (
	"errors"
	"fmt"
)

// Common sentinel errors
var (
	ErrNodeNotFound = errors.New("node not found")
	ErrConflict     = errors.New("version conflict")
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidEdit  = errors.New("invalid edit")
	ErrCodec        = errors.New("codec failed")
)

// StoreError provides structured error information for accessor operations.
type StoreError struct {
	Op       string // Operation that failed (e.g., "fetch", "write")
	Semantic string // Node the operation addressed, if any
	Cause    error  // Underlying error
	Context  string // Additional context
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	switch {
	case e.Semantic != "" && e.Context != "":
		return fmt.Sprintf("%s %s (%s): %v", e.Op, e.Semantic, e.Context, e.Cause)
	case e.Semantic != "":
		return fmt.Sprintf("%s %s: %v", e.Op, e.Semantic, e.Cause)
	case e.Context != "":
		return fmt.Sprintf("%s (%s): %v", e.Op, e.Context, e.Cause)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Cause)
	}
}

// Unwrap returns the underlying cause for error chain support.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// ErrorBuilder provides a fluent interface for building StoreErrors.
type ErrorBuilder struct {
	err StoreError
}

// NewError creates a new error builder with the given operation.
func NewError(op string) *ErrorBuilder {
	return &ErrorBuilder{err: StoreError{Op: op}}
}

// Semantic sets the node the error concerns.
func (b *ErrorBuilder) Semantic(semantic string) *ErrorBuilder {
	b.err.Semantic = semantic
	return b
}

// Context sets additional context information.
func (b *ErrorBuilder) Context(format string, args ...any) *ErrorBuilder {
	b.err.Context = fmt.Sprintf(format, args...)
	return b
}

// Cause sets the underlying error cause.
func (b *ErrorBuilder) Cause(err error) *ErrorBuilder {
	b.err.Cause = err
	return b
}

// Err returns the error as an error interface.
func (b *ErrorBuilder) Err() error {
	return &b.err
}

// NotFoundError creates a node not found error.
func NotFoundError(op, semantic string) error {
	return NewError(op).Semantic(semantic).Cause(ErrNodeNotFound).Err()
}

// ConflictError reports a version mismatch on write.
func ConflictError(semantic string, want, have uint64) error {
	return NewError("write").Semantic(semantic).Context("expected version %d, stored %d", want, have).Cause(ErrConflict).Err()
}
