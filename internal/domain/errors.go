package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-specific error raised by the service.
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches domain errors by code and message so wrapped sentinels compare equal.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeTooLarge      = "TOO_LARGE"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

var (
	ErrKnowledgeBaseNotFound = NewDomainError(ErrCodeNotFound, "knowledge base not found")
	ErrEmptyFile             = NewDomainError(ErrCodeValidation, "file is empty")
	ErrUnsupportedFileType   = NewDomainError(ErrCodeValidation, "unsupported file type")
	ErrFileTooLarge          = NewDomainError(ErrCodeTooLarge, "file exceeds the upload limit")
	ErrEmptyQuestion         = NewDomainError(ErrCodeValidation, "question is required")
	ErrNoKnowledgeBases      = NewDomainError(ErrCodeValidation, "at least one knowledge base is required")
	ErrExtractionFailed      = NewDomainError(ErrCodeInternalError, "document parsing failed")
	ErrNoTextExtracted       = NewDomainError(ErrCodeValidation, "no text could be extracted from the document")
	ErrFileRequired          = NewDomainError(ErrCodeValidation, "file is required")
	ErrStorageOperationFail  = NewDomainError(ErrCodeInternalError, "storage operation failed")
	ErrInvalidAPIKey         = NewDomainError(ErrCodeUnauthorized, "invalid api key")
)

// TransportError is a network or timeout failure talking to the service.
// Nothing happened remotely as far as the client can tell; retrying by hand is safe.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the failure was a deadline.
func (e *TransportError) Timeout() bool {
	var t interface{ Timeout() bool }
	if errors.As(e.Err, &t) {
		return t.Timeout()
	}
	return false
}

// ValidationError is a client-side precondition failure. It never reaches the network.
type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	return e.Message
}

// RemoteError is a non-success envelope returned by the service.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// DeletionError reports a failed knowledge base delete.
type DeletionError struct {
	ID      int64
	Message string
	Err     error
}

func (e *DeletionError) Error() string {
	return e.Message
}

func (e *DeletionError) Unwrap() error {
	return e.Err
}

// UserMessage returns the text to show for err: the server message for remote and
// deletion errors, the message of validation errors, otherwise fallback.
func UserMessage(err error, fallback string) string {
	if err == nil {
		return ""
	}
	var remote *RemoteError
	if errors.As(err, &remote) && remote.Message != "" {
		return remote.Message
	}
	var validation *ValidationError
	if errors.As(err, &validation) && validation.Message != "" {
		return validation.Message
	}
	var transport *TransportError
	if errors.As(err, &transport) && transport.Timeout() {
		return "request timed out, please retry"
	}
	return fallback
}
