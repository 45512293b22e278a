package errors

import (
	"fmt"
)

// ErrorCode represents a specific error type for retrieval operations.
type ErrorCode string

const (
	// ErrCodeInvalidArgument indicates invalid input parameters.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// ErrCodeDimensionMismatch indicates two vectors of different lengths were compared.
	ErrCodeDimensionMismatch ErrorCode = "DIMENSION_MISMATCH"
	// ErrCodeEmbeddingRequired indicates no query vector was supplied and the
	// query-embedding cache had no entry; the caller must embed the query.
	ErrCodeEmbeddingRequired ErrorCode = "EMBEDDING_REQUIRED"
	// ErrCodeStoreUnavailable indicates the backing store failed or is unreachable.
	ErrCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	// ErrCodeNotFound indicates the requested record does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeContextCanceled indicates the operation was canceled.
	ErrCodeContextCanceled ErrorCode = "CONTEXT_CANCELED"
	// ErrCodeTimeout indicates the operation timed out.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
)

// RetrievalError represents a structured error for retrieval operations.
type RetrievalError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *RetrievalError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *RetrievalError) Unwrap() error {
	return e.Cause
}

// GetCode returns the error code.
func (e *RetrievalError) GetCode() ErrorCode {
	return e.Code
}

// Convenience constructors for common error types.

// InvalidArgument creates an invalid argument error.
func InvalidArgument(msg string) *RetrievalError {
	return &RetrievalError{Code: ErrCodeInvalidArgument, Message: msg}
}

// InvalidArgumentf creates an invalid argument error with formatting.
func InvalidArgumentf(format string, args ...any) *RetrievalError {
	return &RetrievalError{Code: ErrCodeInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// DimensionMismatch creates a dimension mismatch error.
func DimensionMismatch(msg string, cause error) *RetrievalError {
	return &RetrievalError{Code: ErrCodeDimensionMismatch, Message: msg, Cause: cause}
}

// EmbeddingRequired creates an embedding required error.
func EmbeddingRequired(queryText string) *RetrievalError {
	return &RetrievalError{
		Code:    ErrCodeEmbeddingRequired,
		Message: fmt.Sprintf("no cached embedding for query (%d chars); caller must embed", len(queryText)),
	}
}

// StoreUnavailable creates a store unavailable error.
func StoreUnavailable(msg string, cause error) *RetrievalError {
	return &RetrievalError{Code: ErrCodeStoreUnavailable, Message: msg, Cause: cause}
}

// NotFound creates a not found error.
func NotFound(msg string) *RetrievalError {
	return &RetrievalError{Code: ErrCodeNotFound, Message: msg}
}

// ContextCanceled creates a context canceled error.
func ContextCanceled(cause error) *RetrievalError {
	return &RetrievalError{Code: ErrCodeContextCanceled, Message: "operation canceled", Cause: cause}
}

// Timeout creates a timeout error.
func Timeout(msg string) *RetrievalError {
	return &RetrievalError{Code: ErrCodeTimeout, Message: msg}
}

// Wrap wraps an existing error with a code and message.
func Wrap(cause error, code ErrorCode, msg string) *RetrievalError {
	return &RetrievalError{Code: code, Message: msg, Cause: cause}
}

// IsCode checks if an error is of a specific code.
func IsCode(err error, code ErrorCode) bool {
	if rerr, ok := err.(*RetrievalError); ok {
		return rerr.Code == code
	}
	return false
}

// GetCodeFromError extracts the error code from any error.
// Returns the provided default code if the error is not a RetrievalError.
func GetCodeFromError(err error, defaultCode ErrorCode) ErrorCode {
	if rerr, ok := err.(*RetrievalError); ok {
		return rerr.Code
	}
	return defaultCode
}
