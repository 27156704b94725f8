package errors

import (
	"fmt"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeValidation represents malformed domain input
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeConflict represents a uniqueness constraint violation
	ErrorTypeConflict ErrorType = "conflict"
	// ErrorTypeGraph represents graph database errors
	ErrorTypeGraph ErrorType = "graph"
	// ErrorTypeVector represents vector store errors
	ErrorTypeVector ErrorType = "vector"
	// ErrorTypeEmbedding represents embedding provider errors
	ErrorTypeEmbedding ErrorType = "embedding"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
)

// BaseError is the base error type with common fields
type BaseError struct {
	Type      ErrorType
	Message   string
	Timestamp time.Time
	Err       error // Wrapped error
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error for error unwrapping
func (e *BaseError) Unwrap() error {
	return e.Err
}

func (e *BaseError) base() *BaseError { return e }

// NewBaseError creates a new base error
func NewBaseError(errType ErrorType, message string, err error) *BaseError {
	return &BaseError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// Validation Errors

// ErrValidation is returned when a domain constructor rejects its input
type ErrValidation struct {
	*BaseError
	Field string
}

func NewValidation(field, reason string) *ErrValidation {
	return &ErrValidation{
		BaseError: NewBaseError(ErrorTypeValidation, fmt.Sprintf("invalid %s: %s", field, reason), nil),
		Field:     field,
	}
}

// Conflict Errors

// ErrIdentifierConflict is returned when an identifier (value, type) pair
// already exists in the tenant's graph
type ErrIdentifierConflict struct {
	*BaseError
	Value          string
	IdentifierType string
}

func NewIdentifierConflict(value, identifierType string) *ErrIdentifierConflict {
	return &ErrIdentifierConflict{
		BaseError:      NewBaseError(ErrorTypeConflict, fmt.Sprintf("identifier already exists: %s (%s)", value, identifierType), nil),
		Value:          value,
		IdentifierType: identifierType,
	}
}

// Graph Errors

// ErrGraphConnectionFailed is returned when the Neo4j connection fails
type ErrGraphConnectionFailed struct {
	*BaseError
	URI string
}

func NewGraphConnectionFailed(uri string, err error) *ErrGraphConnectionFailed {
	return &ErrGraphConnectionFailed{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("failed to connect to Neo4j: %s", uri), err),
		URI:       uri,
	}
}

// ErrGraphQueryFailed is returned when a graph operation fails
type ErrGraphQueryFailed struct {
	*BaseError
	Operation string
}

func NewGraphQueryFailed(operation string, err error) *ErrGraphQueryFailed {
	return &ErrGraphQueryFailed{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("graph operation failed: %s", operation), err),
		Operation: operation,
	}
}

// Vector Errors

// ErrVectorStoreFailed is returned when a vector store operation fails.
// When the failure happens after the corresponding graph write committed,
// the orchestration layer downgrades it to a logged degraded-index
// condition instead of failing the caller.
type ErrVectorStoreFailed struct {
	*BaseError
	Operation string
}

func NewVectorStoreFailed(operation string, err error) *ErrVectorStoreFailed {
	return &ErrVectorStoreFailed{
		BaseError: NewBaseError(ErrorTypeVector, fmt.Sprintf("vector store operation failed: %s", operation), err),
		Operation: operation,
	}
}

// Embedding Errors

// ErrEmbeddingFailed is returned when the embedding provider fails
type ErrEmbeddingFailed struct {
	*BaseError
	Model string
}

func NewEmbeddingFailed(model string, err error) *ErrEmbeddingFailed {
	return &ErrEmbeddingFailed{
		BaseError: NewBaseError(ErrorTypeEmbedding, fmt.Sprintf("embedding request failed (model %s)", model), err),
		Model:     model,
	}
}

// ErrEmbeddingDimensionMismatch is returned at startup when the provider's
// vector dimension does not match the configured collection dimension
type ErrEmbeddingDimensionMismatch struct {
	*BaseError
	Expected int
	Actual   int
}

func NewEmbeddingDimensionMismatch(expected, actual int) *ErrEmbeddingDimensionMismatch {
	return &ErrEmbeddingDimensionMismatch{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("embedding dimension mismatch: collection expects %d, provider returns %d", expected, actual), nil),
		Expected:  expected,
		Actual:    actual,
	}
}

// Config Errors

// ErrConfigMissingRequired is returned when a required config value is missing
type ErrConfigMissingRequired struct {
	*BaseError
	Field string
}

func NewConfigMissingRequired(field string) *ErrConfigMissingRequired {
	return &ErrConfigMissingRequired{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("missing required config: %s", field), nil),
		Field:     field,
	}
}

// Helper functions

// IsErrorType checks if an error is of a specific type
func IsErrorType(err error, errType ErrorType) bool {
	if err == nil {
		return false
	}
	if typed, ok := err.(interface{ base() *BaseError }); ok {
		return typed.base().Type == errType
	}
	if wrapped, ok := err.(interface{ Unwrap() error }); ok {
		return IsErrorType(wrapped.Unwrap(), errType)
	}
	return false
}

// IsValidation reports whether err is a domain validation error
func IsValidation(err error) bool {
	return IsErrorType(err, ErrorTypeValidation)
}

// IsConflict reports whether err is a uniqueness conflict
func IsConflict(err error) bool {
	return IsErrorType(err, ErrorTypeConflict)
}
